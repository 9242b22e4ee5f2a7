package dto

import (
	"time"

	"github.com/dropDatabas3/aegis/internal/domain/repository"
)

// AlertView es la proyección pública de una alerta de seguridad.
type AlertView struct {
	ID          string         `json:"id"`
	Type        string         `json:"type"`
	Severity    string         `json:"severity"`
	OrgID       string         `json:"org_id,omitempty"`
	IdentityID  *string        `json:"identity_id,omitempty"`
	Subject     string         `json:"subject"`
	Description string         `json:"description"`
	Evidence    map[string]any `json:"evidence,omitempty"`
	Resolved    bool           `json:"resolved"`
	ResolvedBy  string         `json:"resolved_by,omitempty"`
	ResolvedAt  *time.Time     `json:"resolved_at,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}

// AlertListResponse es una página de alertas.
type AlertListResponse struct {
	Alerts []AlertView `json:"alerts"`
	Total  int         `json:"total"`
	Page   int         `json:"page"`
}

// ResolveAlertRequest marca quién resolvió la alerta.
type ResolveAlertRequest struct {
	ResolvedBy string `json:"resolved_by"`
}

// AuditEventView es la proyección pública de un evento de auditoría.
type AuditEventView struct {
	ID         string         `json:"id"`
	IdentityID *string        `json:"identity_id,omitempty"`
	OrgID      string         `json:"org_id,omitempty"`
	Event      string         `json:"event"`
	Provider   string         `json:"provider,omitempty"`
	Success    bool           `json:"success"`
	IPAddress  string         `json:"ip_address,omitempty"`
	UserAgent  string         `json:"user_agent,omitempty"`
	Risk       string         `json:"risk"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

// AuditListResponse es una página del audit trail.
type AuditListResponse struct {
	Events []AuditEventView `json:"events"`
	Total  int              `json:"total"`
	Page   int              `json:"page"`
}

// NewAlertView mapea una alerta persistida.
func NewAlertView(a *repository.SecurityAlert) AlertView {
	return AlertView{
		ID:          a.ID,
		Type:        string(a.Type),
		Severity:    string(a.Severity),
		OrgID:       a.OrgID,
		IdentityID:  a.IdentityID,
		Subject:     a.Subject,
		Description: a.Description,
		Evidence:    a.Evidence,
		Resolved:    a.Resolved,
		ResolvedBy:  a.ResolvedBy,
		ResolvedAt:  a.ResolvedAt,
		CreatedAt:   a.CreatedAt,
	}
}

// NewAuditEventView mapea un evento del trail.
func NewAuditEventView(ev *repository.AuditEvent) AuditEventView {
	return AuditEventView{
		ID:         ev.ID,
		IdentityID: ev.IdentityID,
		OrgID:      ev.OrgID,
		Event:      ev.Event,
		Provider:   ev.Provider,
		Success:    ev.Success,
		IPAddress:  ev.IPAddress,
		UserAgent:  ev.UserAgent,
		Risk:       string(ev.Risk),
		Metadata:   ev.Metadata,
		CreatedAt:  ev.CreatedAt,
	}
}
