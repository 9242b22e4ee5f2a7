// Package types define los tipos compartidos del dominio.
package types

// RiskLevel clasifica el riesgo de un contexto de autenticación.
type RiskLevel string

const (
	RiskLow    RiskLevel = "LOW"
	RiskMedium RiskLevel = "MEDIUM"
	RiskHigh   RiskLevel = "HIGH"
)

// rank permite comparar niveles de riesgo.
func (r RiskLevel) rank() int {
	switch r {
	case RiskMedium:
		return 1
	case RiskHigh:
		return 2
	default:
		return 0
	}
}

// AtLeast retorna true si r es igual o mayor que other.
func (r RiskLevel) AtLeast(other RiskLevel) bool {
	return r.rank() >= other.rank()
}

// TrustLevel clasifica la confianza en un dispositivo.
type TrustLevel string

const (
	TrustUntrusted   TrustLevel = "untrusted"
	TrustProvisional TrustLevel = "provisional"
	TrustTrusted     TrustLevel = "trusted"
)

// SessionState es el estado de una sesión en su máquina de estados.
type SessionState string

const (
	// SessionProvisional: autenticación primaria completada, MFA pendiente.
	SessionProvisional SessionState = "provisional"
	// SessionActive: sesión completamente autenticada.
	SessionActive SessionState = "active"
	// SessionExpired: terminal, venció por timeout o expiry absoluto.
	SessionExpired SessionState = "expired"
	// SessionRevoked: terminal, revocada explícitamente.
	SessionRevoked SessionState = "revoked"
)

// Terminal retorna true si el estado no admite transiciones.
func (s SessionState) Terminal() bool {
	return s == SessionExpired || s == SessionRevoked
}

// ProtocolKind identifica el protocolo de federación de un provider.
type ProtocolKind string

const (
	ProtocolSAML  ProtocolKind = "saml"
	ProtocolOAuth ProtocolKind = "oauth"
	ProtocolOIDC  ProtocolKind = "oidc"
)

// Valid retorna true si el protocolo es conocido.
func (p ProtocolKind) Valid() bool {
	switch p {
	case ProtocolSAML, ProtocolOAuth, ProtocolOIDC:
		return true
	}
	return false
}

// AlertType clasifica una alerta de seguridad.
type AlertType string

const (
	AlertSuspiciousLogin     AlertType = "suspicious-login"
	AlertRepeatedFailures    AlertType = "repeated-failures"
	AlertUnusualLocation     AlertType = "unusual-location"
	AlertPrivilegeEscalation AlertType = "privilege-escalation"
	AlertDataExfiltration    AlertType = "data-exfiltration-like"
)

// AlertSeverity es la severidad de una alerta.
type AlertSeverity string

const (
	SeverityLow      AlertSeverity = "low"
	SeverityMedium   AlertSeverity = "medium"
	SeverityHigh     AlertSeverity = "high"
	SeverityCritical AlertSeverity = "critical"
)

// Roles internos, ordenados de menor a mayor privilegio.
const (
	RoleStudent    = "student"
	RoleInstructor = "instructor"
	RoleManager    = "manager"
	RoleAdmin      = "admin"
)

// DefaultRole es el rol de menor privilegio, asignado cuando ninguna
// regla de role-mapping matchea.
const DefaultRole = RoleStudent

// Nombres de eventos de auditoría.
const (
	EventLoginSuccess    = "LOGIN_SUCCESS"
	EventLoginFailure    = "LOGIN_FAILURE"
	EventLogout          = "LOGOUT"
	EventJITProvisioned  = "JIT_PROVISIONED"
	EventSessionCreated  = "SESSION_CREATED"
	EventSessionRevoked  = "SESSION_REVOKED"
	EventSessionEvicted  = "SESSION_EVICTED"
	EventSessionRotated  = "SESSION_ROTATED"
	EventMFASetup        = "MFA_SETUP"
	EventMFAEnabled      = "MFA_ENABLED"
	EventMFAVerified     = "MFA_VERIFIED"
	EventMFAFailed       = "MFA_FAILED"
	EventMFALocked       = "MFA_LOCKED"
	EventMFADisabled     = "MFA_DISABLED"
	EventDeviceTrusted   = "DEVICE_TRUSTED"
	EventRoleChanged     = "ROLE_CHANGED"
	EventPolicyViolation = "POLICY_VIOLATION"
	EventStateReplay     = "STATE_REPLAY"
	EventReauthRequired  = "REAUTH_REQUIRED"
)

// PrivilegeEvents son los eventos que cuentan para detección de
// escalamiento de privilegios.
var PrivilegeEvents = map[string]bool{
	EventRoleChanged:    true,
	EventReauthRequired: true,
	EventMFADisabled:    true,
}

// RequestContext describe el contexto de red/cliente de un request entrante.
// Country viene resuelto por el edge (header de geolocalización), puede estar vacío.
type RequestContext struct {
	IP             string
	UserAgent      string
	AcceptLanguage string
	AcceptEncoding string
	Country        string
}
