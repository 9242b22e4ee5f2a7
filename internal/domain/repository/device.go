package repository

import (
	"context"
	"time"

	"github.com/dropDatabas3/aegis/internal/domain/types"
)

// Device representa un dispositivo reconocido para una identidad.
// Un fingerprint es único por identidad; una identidad puede tener muchos.
type Device struct {
	FingerprintHash string
	IdentityID      string
	Trust           types.TrustLevel
	UserAgent       string
	FirstSeen       time.Time
	LastUsed        time.Time
	TrustExpiresAt  *time.Time
}

// DeviceRepository define operaciones sobre dispositivos.
type DeviceRepository interface {
	// Get obtiene el registro de un fingerprint para una identidad.
	// Retorna ErrNotFound si nunca se vio.
	Get(ctx context.Context, identityID, fingerprintHash string) (*Device, error)

	// Upsert crea el registro en el primer encuentro o actualiza
	// last-used en los siguientes. Retorna el registro vigente.
	Upsert(ctx context.Context, identityID, fingerprintHash, userAgent string) (*Device, error)

	// SetTrust cambia el nivel de confianza, con expiry opcional.
	SetTrust(ctx context.Context, identityID, fingerprintHash string, trust types.TrustLevel, expiresAt *time.Time) error

	// ListByIdentity lista los dispositivos de una identidad.
	ListByIdentity(ctx context.Context, identityID string) ([]Device, error)

	// ExpireTrust degrada a provisional los trusted vencidos.
	// Idempotente entre instancias. Retorna cuántos degradó.
	ExpireTrust(ctx context.Context, now time.Time) (int, error)
}
