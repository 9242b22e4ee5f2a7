// Package store expone el Credential Store como un bundle de
// repositorios de dominio. Las implementaciones concretas viven en
// internal/store/pg (producción) e internal/store/memory (dev/tests).
package store

import (
	"context"

	"github.com/dropDatabas3/aegis/internal/domain/repository"
)

// Store agrupa los repositorios del Credential Store.
type Store interface {
	Identities() repository.IdentityRepository
	Providers() repository.ProviderRepository
	Sessions() repository.SessionRepository
	Devices() repository.DeviceRepository
	MFA() repository.MFARepository
	Audit() repository.AuditRepository
	Alerts() repository.AlertRepository

	// Ping verifica la conexión al backend.
	Ping(ctx context.Context) error

	// Close libera recursos.
	Close()
}
