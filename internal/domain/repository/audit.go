package repository

import (
	"context"
	"time"

	"github.com/dropDatabas3/aegis/internal/domain/types"
)

// AuditEvent es un evento de auditoría append-only.
type AuditEvent struct {
	ID         string // ULID, ordenable por tiempo
	IdentityID *string
	OrgID      string
	Event      string
	Provider   string
	Success    bool
	IPAddress  string
	UserAgent  string
	Risk       types.RiskLevel
	Metadata   map[string]any
	CreatedAt  time.Time
}

// ListAuditFilter define filtros para consultar el audit trail.
type ListAuditFilter struct {
	IdentityID *string
	OrgID      *string
	Event      *string
	Success    *bool
	From       *time.Time
	To         *time.Time
	Page       int
	PageSize   int
}

// AuditRepository define operaciones sobre el audit trail.
type AuditRepository interface {
	// Insert agrega un evento. El trail es append-only: no hay update.
	Insert(ctx context.Context, ev *AuditEvent) error

	// List retorna eventos con filtros y paginación; el segundo valor
	// es el total para paginación.
	List(ctx context.Context, filter ListAuditFilter) ([]AuditEvent, int, error)

	// CountFailuresByIP cuenta fallos desde una IP dentro de la ventana.
	CountFailuresByIP(ctx context.Context, ip string, since time.Time) (int, error)

	// DistinctIPsByIdentity retorna las IPs distintas con login exitoso
	// de una identidad desde el instante dado.
	DistinctIPsByIdentity(ctx context.Context, identityID string, since time.Time) ([]string, error)

	// DeleteBefore purga eventos anteriores al horizonte de retención.
	// Idempotente entre instancias. Retorna cuántos borró.
	DeleteBefore(ctx context.Context, cutoff time.Time) (int, error)
}
