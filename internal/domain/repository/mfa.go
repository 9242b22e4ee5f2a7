package repository

import (
	"context"
	"time"
)

// MFACredential representa la credencial TOTP de una identidad.
// SecretEnc está cifrado at-rest con secretbox. La credencial queda
// deshabilitada hasta que ConfirmedAt se setea con un código válido.
type MFACredential struct {
	IdentityID     string
	SecretEnc      string
	Enabled        bool
	ConfirmedAt    *time.Time
	FailedAttempts int
	LastFailureAt  *time.Time
	LastSuccessAt  *time.Time
	LastCounter    *int64 // último contador TOTP aceptado (anti-replay)
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// MFARepository define operaciones sobre credenciales MFA y backup codes.
type MFARepository interface {
	// UpsertSecret crea o reemplaza el secreto TOTP (deshabilitado,
	// pendiente de confirmación).
	UpsertSecret(ctx context.Context, identityID, secretEnc string) error

	// Get obtiene la credencial. Retorna ErrNotFound si no existe.
	Get(ctx context.Context, identityID string) (*MFACredential, error)

	// Confirm marca la credencial como confirmada y habilitada.
	Confirm(ctx context.Context, identityID string) error

	// Disable borra el secreto y todos los backup codes.
	Disable(ctx context.Context, identityID string) error

	// RecordSuccess resetea el contador de fallos, registra last-success
	// y persiste el contador TOTP aceptado.
	RecordSuccess(ctx context.Context, identityID string, counter *int64, at time.Time) error

	// RecordFailure incrementa atómicamente el contador de fallos y
	// registra last-failure. Retorna el contador resultante.
	RecordFailure(ctx context.Context, identityID string, at time.Time) (int, error)

	// ResetFailures resetea el contador (usado al expirar la ventana de lockout).
	ResetFailures(ctx context.Context, identityID string) error

	// SetBackupCodes reemplaza los backup codes (hashes salteados).
	SetBackupCodes(ctx context.Context, identityID string, hashes []string) error

	// ListBackupCodeHashes retorna los hashes no consumidos.
	ListBackupCodeHashes(ctx context.Context, identityID string) ([]string, error)

	// ConsumeBackupCode elimina atómicamente el hash si existe.
	// Retorna true solo para el primer consumidor: un code matcheado
	// jamás vuelve a verificar.
	ConsumeBackupCode(ctx context.Context, identityID, hash string) (bool, error)
}
