// Package cache provee el Fast Cache del engine con soporte multi-backend.
//
// Soporta:
//   - Memory (in-process, para desarrollo/testing)
//   - Redis (distribuido, para producción)
//
// Además de get/set con TTL expone primitivas atómicas: GetDel para
// estado single-use (state tokens de SSO), SetNX para locks blandos e
// Incr para contadores de ventana (rate limits, fallos por IP). Varias
// instancias del servicio pueden compartir el backend: el cache nunca
// es fuente de verdad de datos de negocio, solo de estado efímero.
package cache

import (
	"context"
	"time"
)

// Client define las operaciones de cache.
type Client interface {
	// Get obtiene un valor. Retorna ErrNotFound si no existe.
	Get(ctx context.Context, key string) (string, error)

	// Set guarda un valor con TTL opcional. Si ttl es 0, no expira.
	Set(ctx context.Context, key, value string, ttl time.Duration) error

	// SetNX guarda el valor solo si la key no existe. Retorna true si escribió.
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)

	// GetDel obtiene y elimina atómicamente. Retorna ErrNotFound si no
	// existe: dos lectores concurrentes nunca reciben ambos el valor.
	GetDel(ctx context.Context, key string) (string, error)

	// Incr incrementa atómicamente un contador. En el primer hit aplica
	// el TTL de ventana. Retorna el valor resultante.
	Incr(ctx context.Context, key string, windowTTL time.Duration) (int64, error)

	// Delete elimina una key.
	Delete(ctx context.Context, key string) error

	// Exists verifica si una key existe.
	Exists(ctx context.Context, key string) (bool, error)

	// Ping verifica la conexión.
	Ping(ctx context.Context) error

	// Close cierra la conexión.
	Close() error
}

// Config configuración para crear un cliente de cache.
type Config struct {
	Driver   string // "memory" | "redis"
	Addr     string
	Password string
	DB       int
	Prefix   string // prefijo para todas las keys
}

// Errores de cache.
var ErrNotFound = errNotFound{}

type errNotFound struct{}

func (e errNotFound) Error() string { return "cache: key not found" }

// IsNotFound verifica si el error es porque la key no existe.
func IsNotFound(err error) bool {
	_, ok := err.(errNotFound)
	return ok
}

// New crea un cliente de cache según la configuración.
func New(cfg Config) (Client, error) {
	switch cfg.Driver {
	case "redis":
		return NewRedis(cfg)
	default:
		return NewMemory(cfg.Prefix), nil
	}
}
