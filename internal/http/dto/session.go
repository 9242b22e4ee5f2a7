package dto

import (
	"time"

	"github.com/dropDatabas3/aegis/internal/domain/repository"
	"github.com/dropDatabas3/aegis/internal/session"
)

// SessionView es la proyección pública de una sesión. Nunca expone el
// session ID ni su hash completo.
type SessionView struct {
	ID           string     `json:"id"`
	IdentityID   string     `json:"identity_id"`
	OrgID        string     `json:"org_id"`
	State        string     `json:"state"`
	Risk         string     `json:"risk"`
	MFAVerified  bool       `json:"mfa_verified"`
	Provider     string     `json:"provider,omitempty"`
	IPAddress    string     `json:"ip_address,omitempty"`
	UserAgent    string     `json:"user_agent,omitempty"`
	Country      string     `json:"country,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	LastActivity time.Time  `json:"last_activity"`
	ExpiresAt    time.Time  `json:"expires_at"`
	AbsoluteExp  time.Time  `json:"absolute_expires_at"`
	RevokedAt    *time.Time `json:"revoked_at,omitempty"`
	RevokeReason string     `json:"revoke_reason,omitempty"`
}

// ValidateResponse es el resultado de validar una sesión.
type ValidateResponse struct {
	Valid          bool        `json:"valid"`
	Session        SessionView `json:"session"`
	Risk           string      `json:"risk"`
	Renewed        bool        `json:"renewed"`
	RequiresReauth bool        `json:"requires_reauth"`
}

// RotateResponse entrega el nuevo session ID; el anterior queda inválido.
type RotateResponse struct {
	SessionID string `json:"session_id"`
}

// RevokeAllResponse reporta cuántas sesiones fueron revocadas.
type RevokeAllResponse struct {
	Revoked int `json:"revoked"`
}

// SessionStatsResponse son las estadísticas de sesiones de una organización.
type SessionStatsResponse struct {
	TotalActive      int `json:"total_active"`
	TotalProvisional int `json:"total_provisional"`
	TotalToday       int `json:"total_today"`
}

// NewSessionView mapea una sesión persistida a su proyección pública.
func NewSessionView(s *repository.Session) SessionView {
	return SessionView{
		ID:           s.ID,
		IdentityID:   s.IdentityID,
		OrgID:        s.OrgID,
		State:        string(s.State),
		Risk:         string(s.Risk),
		MFAVerified:  s.MFAVerified,
		Provider:     s.Provider,
		IPAddress:    s.IPAddress,
		UserAgent:    s.UserAgent,
		Country:      s.Country,
		CreatedAt:    s.CreatedAt,
		LastActivity: s.LastActivity,
		ExpiresAt:    s.ExpiresAt,
		AbsoluteExp:  s.AbsoluteExpiresAt,
		RevokedAt:    s.RevokedAt,
		RevokeReason: s.RevokeReason,
	}
}

// NewValidateResponse mapea el resultado de validación.
func NewValidateResponse(v *session.Validation) ValidateResponse {
	return ValidateResponse{
		Valid:          true,
		Session:        NewSessionView(v.Session),
		Risk:           string(v.Risk),
		Renewed:        v.Renewed,
		RequiresReauth: v.RequiresReauth,
	}
}
