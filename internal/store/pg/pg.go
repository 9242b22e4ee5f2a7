// Package pg implementa el Credential Store sobre PostgreSQL con pgx.
//
// Los updates condicionales (last-activity monotónico, renewal con
// clamp, consumo único de backup codes) se resuelven en SQL: el store
// es la fuente de verdad ante múltiples instancias concurrentes.
package pg

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dropDatabas3/aegis/internal/domain/repository"
	"github.com/dropDatabas3/aegis/internal/store"
)

// Config para el pool de conexiones.
type Config struct {
	DSN             string
	MaxConns        int
	ConnMaxLifetime time.Duration
}

// Store implementa store.Store sobre pgxpool.
type Store struct {
	pool *pgxpool.Pool

	identities *identityRepo
	providers  *providerRepo
	sessions   *sessionRepo
	devices    *deviceRepo
	mfa        *mfaRepo
	audit      *auditRepo
	alerts     *alertRepo
}

var _ store.Store = (*Store)(nil)

// New abre el pool y arma los repositorios.
func New(ctx context.Context, cfg Config) (*Store, error) {
	pcfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("pg: parse dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		pcfg.MaxConns = int32(cfg.MaxConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		pcfg.MaxConnLifetime = cfg.ConnMaxLifetime
	}

	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, fmt.Errorf("pg: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pg: ping: %w", err)
	}

	return &Store{
		pool:       pool,
		identities: &identityRepo{pool: pool},
		providers:  &providerRepo{pool: pool},
		sessions:   &sessionRepo{pool: pool},
		devices:    &deviceRepo{pool: pool},
		mfa:        &mfaRepo{pool: pool},
		audit:      &auditRepo{pool: pool},
		alerts:     &alertRepo{pool: pool},
	}, nil
}

func (s *Store) Identities() repository.IdentityRepository { return s.identities }
func (s *Store) Providers() repository.ProviderRepository  { return s.providers }
func (s *Store) Sessions() repository.SessionRepository    { return s.sessions }
func (s *Store) Devices() repository.DeviceRepository      { return s.devices }
func (s *Store) MFA() repository.MFARepository             { return s.mfa }
func (s *Store) Audit() repository.AuditRepository         { return s.audit }
func (s *Store) Alerts() repository.AlertRepository        { return s.alerts }

func (s *Store) Ping(ctx context.Context) error { return s.pool.Ping(ctx) }

func (s *Store) Close() { s.pool.Close() }

// nullIfEmpty convierte "" a NULL para columnas opcionales.
func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
