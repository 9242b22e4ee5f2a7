// Package dto define los contratos de request/response de la API.
package dto

import (
	"time"

	"github.com/dropDatabas3/aegis/internal/sso"
)

// BeginLoginRequest inicia el handshake de federación.
type BeginLoginRequest struct {
	ReturnTarget string `json:"return_target,omitempty"`
}

// BeginLoginResponse contiene la instrucción de redirección al IdP.
type BeginLoginResponse struct {
	RedirectURL string    `json:"redirect_url"`
	State       string    `json:"state"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// LoginResponse es el resultado del callback de federación.
// SessionID se entrega exactamente una vez.
type LoginResponse struct {
	SessionID     string    `json:"session_id"`
	IdentityID    string    `json:"identity_id"`
	Email         string    `json:"email"`
	Role          string    `json:"role"`
	NewIdentity   bool      `json:"new_identity"`
	RequiresMFA   bool      `json:"requires_mfa"`
	DeviceTrusted bool      `json:"device_trusted"`
	Risk          string    `json:"risk"`
	ExpiresAt     time.Time `json:"expires_at"`
	ReturnTarget  string    `json:"return_target,omitempty"`
}

// LogoutResponse incluye la URL de single logout del IdP si aplica.
type LogoutResponse struct {
	SLORedirectURL string `json:"slo_redirect_url,omitempty"`
}

// NewLoginResponse mapea el resultado del orquestador al contrato público.
func NewLoginResponse(res *sso.LoginResult) LoginResponse {
	return LoginResponse{
		SessionID:     res.SessionID,
		IdentityID:    res.Identity.ID,
		Email:         res.Identity.Email,
		Role:          res.Identity.Role,
		NewIdentity:   res.IsNewIdentity,
		RequiresMFA:   res.RequiresMFA,
		DeviceTrusted: res.DeviceTrusted,
		Risk:          string(res.Risk),
		ExpiresAt:     res.Session.ExpiresAt,
		ReturnTarget:  res.ReturnTarget,
	}
}
