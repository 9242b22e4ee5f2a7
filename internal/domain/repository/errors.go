package repository

import "errors"

var (
	// ErrNotFound indica que el recurso solicitado no existe.
	ErrNotFound = errors.New("not found")

	// ErrConflict indica un conflicto (ej: duplicado, constraint violation).
	ErrConflict = errors.New("conflict")

	// ErrInvalidInput indica que los datos de entrada son inválidos.
	ErrInvalidInput = errors.New("invalid input")

	// ErrStaleUpdate indica que un update condicional perdió la carrera
	// contra un escritor más nuevo y fue descartado.
	ErrStaleUpdate = errors.New("stale update")

	// ErrUnavailable indica que el store no está disponible (outage transitorio).
	ErrUnavailable = errors.New("store unavailable")
)

// IsNotFound verifica si el error es ErrNotFound.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsConflict verifica si el error es ErrConflict.
func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}

// IsStale verifica si el error es ErrStaleUpdate.
func IsStale(err error) bool {
	return errors.Is(err, ErrStaleUpdate)
}
