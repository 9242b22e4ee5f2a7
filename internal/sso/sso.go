// Package sso implementa el orquestador de federación: begin/complete
// del handshake por protocolo, JIT provisioning y role mapping.
package sso

import (
	"context"
	"errors"
	"time"

	"github.com/dropDatabas3/aegis/internal/domain/repository"
	"github.com/dropDatabas3/aegis/internal/domain/types"
)

// Errores del orquestador. ErrSignInFailed es lo único que ve el
// usuario final: el motivo preciso queda en el audit trail.
var (
	ErrSignInFailed     = errors.New("sign-in failed")
	ErrProviderNotFound = errors.New("provider not found")
	ErrStateInvalid     = errors.New("invalid or expired state")
	ErrProtocol         = errors.New("protocol validation failed")
	ErrPolicyViolation  = errors.New("policy violation")
	ErrProviderDown     = errors.New("provider unreachable")
)

// ProviderResponse es la respuesta cruda del IdP en el callback.
// Exactamente uno de los campos aplica según protocolo.
type ProviderResponse struct {
	Code         string // OAuth / OIDC authorization code
	SAMLResponse string // base64 de la respuesta SAML
}

// Assertion es la identidad verificada que entrega un validator de
// protocolo, ya normalizada.
type Assertion struct {
	Subject    string // identificador estable en el IdP
	Email      string
	Attributes map[string]string // atributos/claims planos
	Groups     []string          // grupos/roles externos

	// Identificadores SAML para single logout; vacíos en OAuth/OIDC.
	NameID       string
	SessionIndex string
}

// Validator valida la respuesta de un protocolo concreto.
type Validator interface {
	// AuthURL construye la URL de autorización/entrada al IdP.
	AuthURL(ctx context.Context, p *repository.FederationProvider, state, nonce string) (string, error)

	// Validate verifica la respuesta del IdP y extrae la assertion.
	Validate(ctx context.Context, p *repository.FederationProvider, resp ProviderResponse, nonce string) (*Assertion, error)
}

// RedirectInstruction es el resultado de BeginLogin.
type RedirectInstruction struct {
	RedirectURL string
	State       string
	ExpiresAt   time.Time
}

// LoginResult es el resultado de CompleteLogin.
type LoginResult struct {
	SessionID     string
	Session       *repository.Session
	Identity      *repository.Identity
	IsNewIdentity bool
	RequiresMFA   bool
	DeviceTrusted bool
	Risk          types.RiskLevel
	ReturnTarget  string
}

// LogoutResult indica cómo cerrar la sesión aguas arriba.
type LogoutResult struct {
	// SLORedirectURL apunta al single logout del IdP SAML si la sesión
	// guardó NameID; vacío = logout solo local.
	SLORedirectURL string
}
