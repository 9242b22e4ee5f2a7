package repository

import (
	"context"
	"time"

	"github.com/dropDatabas3/aegis/internal/domain/types"
)

// SecurityAlert es una alerta generada por el pattern analyzer.
// Se deduplica por (Type, Subject) mientras esté sin resolver.
type SecurityAlert struct {
	ID          string // ULID
	Type        types.AlertType
	Severity    types.AlertSeverity
	OrgID       string
	IdentityID  *string
	Subject     string // clave estable de dedup: identity ID o IP
	Description string
	Evidence    map[string]any
	Resolved    bool
	ResolvedBy  string
	ResolvedAt  *time.Time
	CreatedAt   time.Time
}

// ListAlertsFilter define filtros para listar alertas.
type ListAlertsFilter struct {
	OrgID    *string
	Type     *types.AlertType
	Resolved *bool
	Page     int
	PageSize int
}

// AlertRepository define operaciones sobre alertas de seguridad.
type AlertRepository interface {
	// Create registra una alerta nueva.
	Create(ctx context.Context, a *SecurityAlert) error

	// GetOpenByKey busca una alerta sin resolver por (type, subject).
	// Retorna ErrNotFound si no hay: es la base de la dedup.
	GetOpenByKey(ctx context.Context, alertType types.AlertType, subject string) (*SecurityAlert, error)

	// GetByID obtiene una alerta.
	GetByID(ctx context.Context, id string) (*SecurityAlert, error)

	// List retorna alertas con filtros y paginación.
	List(ctx context.Context, filter ListAlertsFilter) ([]SecurityAlert, int, error)

	// Resolve marca la alerta como resuelta.
	Resolve(ctx context.Context, id, resolvedBy string) error

	// DeleteResolvedBefore purga alertas resueltas viejas. Retorna cuántas borró.
	DeleteResolvedBefore(ctx context.Context, cutoff time.Time) (int, error)
}
