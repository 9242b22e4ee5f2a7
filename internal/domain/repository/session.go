package repository

import (
	"context"
	"time"

	"github.com/dropDatabas3/aegis/internal/domain/types"
)

// Session representa una sesión persistida. El session ID en claro nunca
// se guarda: solo su hash (SessionIDHash). AbsoluteExpiresAt se fija en
// la creación y nunca se extiende.
type Session struct {
	ID            string
	IdentityID    string
	OrgID         string
	SessionIDHash string

	Fingerprint string
	IPAddress   string
	UserAgent   string
	Country     string
	Provider    string // provider ID usado en el login, "" = local

	State       types.SessionState
	Risk        types.RiskLevel
	MFAVerified bool

	// Identificadores de protocolo para single-logout SAML.
	SAMLNameID       string
	SAMLSessionIndex string

	CreatedAt         time.Time
	LastActivity      time.Time
	ExpiresAt         time.Time
	AbsoluteExpiresAt time.Time
	RevokedAt         *time.Time
	RevokeReason      string
	RotatedFrom       string // hash de la sesión anterior si fue rotada
}

// CreateSessionInput contiene los datos para crear una sesión.
type CreateSessionInput struct {
	IdentityID        string
	OrgID             string
	SessionIDHash     string
	Fingerprint       string
	IPAddress         string
	UserAgent         string
	Country           string
	Provider          string
	State             types.SessionState
	Risk              types.RiskLevel
	MFAVerified       bool
	SAMLNameID        string
	SAMLSessionIndex  string
	ExpiresAt         time.Time
	AbsoluteExpiresAt time.Time
}

// SessionStats contiene estadísticas de sesiones de una organización.
type SessionStats struct {
	TotalActive      int
	TotalProvisional int
	TotalToday       int
}

// SessionRepository define operaciones sobre sesiones.
//
// UpdateActivity y Renew son condicionales a nivel de store: escritores
// stale no retroceden last-activity ni extienden más allá del expiry
// absoluto, sin importar cuántos validates corran en paralelo.
type SessionRepository interface {
	// Create inserta una nueva sesión.
	Create(ctx context.Context, input CreateSessionInput) (*Session, error)

	// GetByIDHash obtiene una sesión por el hash de su session ID.
	// Retorna ErrNotFound si no existe.
	GetByIDHash(ctx context.Context, sessionIDHash string) (*Session, error)

	// ListActiveByIdentity retorna las sesiones no terminales de una
	// identidad, ordenadas por last-activity descendente.
	ListActiveByIdentity(ctx context.Context, identityID string) ([]Session, error)

	// UpdateActivity avanza last-activity solo si es mayor que el valor
	// actual (last writer by timestamp wins). Retorna ErrStaleUpdate si
	// el valor persistido ya era más nuevo.
	UpdateActivity(ctx context.Context, sessionIDHash string, lastActivity time.Time) error

	// Renew extiende expires-at hasta newExpiry, clampeado al expiry
	// absoluto. Idempotente: renovaciones en carrera nunca pasan del
	// clamp ni retroceden el expiry vigente.
	Renew(ctx context.Context, sessionIDHash string, newExpiry time.Time) error

	// MarkMFAVerified marca MFA verificado y promueve provisional -> active.
	MarkMFAVerified(ctx context.Context, sessionIDHash string) error

	// UpdateRisk persiste el nivel de riesgo recomputado.
	UpdateRisk(ctx context.Context, sessionIDHash string, risk types.RiskLevel) error

	// Rotate re-emite la sesión bajo un nuevo hash, invalidando el anterior.
	Rotate(ctx context.Context, oldHash, newHash string) (*Session, error)

	// Revoke marca la sesión como revocada con un motivo.
	Revoke(ctx context.Context, sessionIDHash, reason string) error

	// RevokeAllByIdentity revoca todas las sesiones activas de una
	// identidad, opcionalmente exceptuando una. Retorna cuántas revocó.
	RevokeAllByIdentity(ctx context.Context, identityID, exceptHash, reason string) (int, error)

	// MarkExpired transiciona a expired (terminal) con un motivo.
	MarkExpired(ctx context.Context, sessionIDHash, reason string) error

	// DeleteTerminatedBefore elimina sesiones terminales viejas.
	// Idempotente entre instancias. Retorna cuántas borró.
	DeleteTerminatedBefore(ctx context.Context, cutoff time.Time) (int, error)

	// GetStats retorna estadísticas de sesiones de la organización.
	GetStats(ctx context.Context, orgID string) (*SessionStats, error)
}
