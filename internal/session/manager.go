// Package session implementa el ciclo de vida de sesiones: creación,
// validación, renovación, rotación, límite concurrente y terminación.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/dropDatabas3/aegis/internal/audit"
	"github.com/dropDatabas3/aegis/internal/cache"
	"github.com/dropDatabas3/aegis/internal/config"
	"github.com/dropDatabas3/aegis/internal/domain/repository"
	"github.com/dropDatabas3/aegis/internal/domain/types"
	"github.com/dropDatabas3/aegis/internal/metrics"
	"github.com/dropDatabas3/aegis/internal/observability/logger"
	"github.com/dropDatabas3/aegis/internal/risk"
	"github.com/dropDatabas3/aegis/internal/security/token"
)

// Errores de validación. Cada motivo de denegación tiene el suyo: el
// caller y el audit trail distinguen, el usuario final no.
var (
	ErrSessionNotFound     = errors.New("session not found")
	ErrSessionRevoked      = errors.New("session revoked")
	ErrSessionExpired      = errors.New("session expired")
	ErrAbsoluteExpiry      = errors.New("session past absolute expiry")
	ErrIdleTimeout         = errors.New("session idle timeout")
	ErrFingerprintMismatch = errors.New("device fingerprint mismatch")
	ErrIPMismatch          = errors.New("ip address mismatch")
)

const (
	sessionIDBytes = 32
	hotTTL         = 30 * time.Second
)

// CreateParams describe la sesión a crear tras autenticación primaria.
type CreateParams struct {
	Identity    *repository.Identity
	Request     types.RequestContext
	Fingerprint string
	DeviceTrust types.TrustLevel
	KnownDevice bool
	Provider    string
	RequireMFA  bool // decidido por el orquestador (policy + provider + device trust)

	// SessionTimeout sobreescribe el timeout de la policy; 0 = policy.
	SessionTimeout time.Duration

	SAMLNameID       string
	SAMLSessionIndex string
}

// Created es el resultado de crear una sesión. SessionID es el
// identificador opaco en claro: se entrega una sola vez, el store
// guarda solo el hash.
type Created struct {
	SessionID string
	Session   *repository.Session
	Evicted   int
}

// Manager es el dueño de la máquina de estados de sesión.
type Manager interface {
	Create(ctx context.Context, p CreateParams) (*Created, error)
	Validate(ctx context.Context, sessionID string, rc types.RequestContext) (*Validation, error)
	Rotate(ctx context.Context, sessionID string) (string, error)
	MarkMFAVerified(ctx context.Context, sessionID string) error
	Terminate(ctx context.Context, sessionID, reason string) error

	// TerminateAllForIdentity revoca todas las sesiones vivas de la
	// identidad; exceptSessionID (opcional) preserva la sesión actual.
	TerminateAllForIdentity(ctx context.Context, identityID, exceptSessionID, reason string) (int, error)
	ListForIdentity(ctx context.Context, identityID string) ([]repository.Session, error)
	Stats(ctx context.Context, orgID string) (*repository.SessionStats, error)
}

// Deps contiene las dependencias del manager.
type Deps struct {
	Sessions repository.SessionRepository
	Cache    cache.Client
	Risk     *risk.Scorer
	Policies config.PolicyProvider
	Audit    audit.Recorder
}

type manager struct {
	deps Deps
}

// New crea el Manager.
func New(deps Deps) Manager {
	return &manager{deps: deps}
}

// Create registra la sesión aplicando el techo de sesiones concurrentes
// de la organización. Con límite 1 se revoca todo lo existente antes;
// con límite N se desalojan las menos activas hasta hacer lugar.
func (m *manager) Create(ctx context.Context, p CreateParams) (*Created, error) {
	log := logger.From(ctx).With(
		logger.Layer("service"),
		logger.Component("session"),
		logger.Op("Create"),
		logger.IdentityID(p.Identity.ID),
	)

	policy, err := m.deps.Policies.PolicyFor(ctx, p.Identity.OrgID)
	if err != nil {
		return nil, err
	}
	if p.SessionTimeout > 0 && p.SessionTimeout < policy.SessionTimeout {
		policy.SessionTimeout = p.SessionTimeout
	}

	evicted, err := m.evict(ctx, p.Identity, policy)
	if err != nil {
		return nil, err
	}

	plain, err := token.GenerateOpaque(sessionIDBytes)
	if err != nil {
		return nil, err
	}
	hash := token.Hash(plain)

	now := time.Now().UTC()
	state := types.SessionActive
	if p.RequireMFA {
		state = types.SessionProvisional
	}

	_, level := m.deps.Risk.Score(risk.Signals{
		DeviceTrust: p.DeviceTrust,
		MFAVerified: !p.RequireMFA,
		Country:     p.Request.Country,
		KnownDevice: p.KnownDevice,
		Now:         now,
	})

	sess, err := m.deps.Sessions.Create(ctx, repository.CreateSessionInput{
		IdentityID:        p.Identity.ID,
		OrgID:             p.Identity.OrgID,
		SessionIDHash:     hash,
		Fingerprint:       p.Fingerprint,
		IPAddress:         p.Request.IP,
		UserAgent:         p.Request.UserAgent,
		Country:           p.Request.Country,
		Provider:          p.Provider,
		State:             state,
		Risk:              level,
		MFAVerified:       false,
		SAMLNameID:        p.SAMLNameID,
		SAMLSessionIndex:  p.SAMLSessionIndex,
		ExpiresAt:         now.Add(policy.SessionTimeout),
		AbsoluteExpiresAt: now.Add(policy.AbsoluteTimeout),
	})
	if err != nil {
		return nil, err
	}

	m.cachePut(ctx, sess)
	metrics.ActiveSessions.Inc()

	m.record(ctx, &repository.AuditEvent{
		IdentityID: &p.Identity.ID,
		OrgID:      p.Identity.OrgID,
		Event:      types.EventSessionCreated,
		Provider:   p.Provider,
		Success:    true,
		IPAddress:  p.Request.IP,
		UserAgent:  p.Request.UserAgent,
		Risk:       level,
		Metadata:   map[string]any{"state": string(state), "evicted": evicted},
	})

	log.Info("sesión creada",
		logger.SessionID(hash),
		logger.String("state", string(state)),
		logger.Risk(string(level)),
		logger.Count(evicted),
	)

	return &Created{SessionID: plain, Session: sess, Evicted: evicted}, nil
}

// evict aplica el límite concurrente antes de crear una sesión nueva.
func (m *manager) evict(ctx context.Context, identity *repository.Identity, policy config.Policy) (int, error) {
	if policy.ConcurrentLimit <= 0 {
		return 0, nil
	}

	if policy.ConcurrentLimit == 1 {
		// listar antes de revocar: las entradas del hot cache también
		// tienen que caer, o la sesión revocada sigue validando
		active, err := m.deps.Sessions.ListActiveByIdentity(ctx, identity.ID)
		if err != nil {
			return 0, err
		}
		n, err := m.deps.Sessions.RevokeAllByIdentity(ctx, identity.ID, "", "single-session policy")
		if err != nil {
			return 0, err
		}
		for i := range active {
			m.cacheDrop(ctx, active[i].SessionIDHash)
		}
		if n > 0 {
			m.record(ctx, &repository.AuditEvent{
				IdentityID: &identity.ID,
				OrgID:      identity.OrgID,
				Event:      types.EventSessionEvicted,
				Success:    true,
				Metadata:   map[string]any{"count": n, "reason": "single-session policy"},
			})
			metrics.ActiveSessions.Sub(float64(n))
		}
		return n, nil
	}

	active, err := m.deps.Sessions.ListActiveByIdentity(ctx, identity.ID)
	if err != nil {
		return 0, err
	}
	over := len(active) - policy.ConcurrentLimit + 1
	if over <= 0 {
		return 0, nil
	}

	// la lista viene ordenada por last-activity descendente: el desalojo
	// toma del final, las menos activas primero
	evicted := 0
	for i := len(active) - 1; i >= 0 && evicted < over; i-- {
		victim := active[i]
		if err := m.deps.Sessions.Revoke(ctx, victim.SessionIDHash, "concurrent-session eviction"); err != nil {
			if repository.IsNotFound(err) {
				continue // otra instancia la revocó primero
			}
			return evicted, err
		}
		m.cacheDrop(ctx, victim.SessionIDHash)
		evicted++
	}
	if evicted > 0 {
		m.record(ctx, &repository.AuditEvent{
			IdentityID: &identity.ID,
			OrgID:      identity.OrgID,
			Event:      types.EventSessionEvicted,
			Success:    true,
			Metadata:   map[string]any{"count": evicted, "reason": "concurrent limit"},
		})
		metrics.ActiveSessions.Sub(float64(evicted))
	}
	return evicted, nil
}

// Rotate emite un identificador nuevo para el mismo estado de sesión e
// invalida el anterior. Limita la vida útil de un identificador filtrado.
func (m *manager) Rotate(ctx context.Context, sessionID string) (string, error) {
	oldHash := token.Hash(sessionID)

	plain, err := token.GenerateOpaque(sessionIDBytes)
	if err != nil {
		return "", err
	}
	newHash := token.Hash(plain)

	sess, err := m.deps.Sessions.Rotate(ctx, oldHash, newHash)
	if err != nil {
		if repository.IsNotFound(err) {
			return "", ErrSessionNotFound
		}
		return "", err
	}

	m.cacheDrop(ctx, oldHash)
	m.cachePut(ctx, sess)

	m.record(ctx, &repository.AuditEvent{
		IdentityID: &sess.IdentityID,
		OrgID:      sess.OrgID,
		Event:      types.EventSessionRotated,
		Success:    true,
		Metadata:   map[string]any{"rotated_from": oldHash},
	})
	return plain, nil
}

// MarkMFAVerified marca la sesión como verificada; una sesión
// provisional pasa a active.
func (m *manager) MarkMFAVerified(ctx context.Context, sessionID string) error {
	hash := token.Hash(sessionID)
	if err := m.deps.Sessions.MarkMFAVerified(ctx, hash); err != nil {
		if repository.IsNotFound(err) {
			return ErrSessionNotFound
		}
		return err
	}
	m.cacheDrop(ctx, hash)
	return nil
}

// Terminate revoca la sesión y la saca del hot cache.
func (m *manager) Terminate(ctx context.Context, sessionID, reason string) error {
	hash := token.Hash(sessionID)

	sess, err := m.deps.Sessions.GetByIDHash(ctx, hash)
	if err != nil {
		if repository.IsNotFound(err) {
			return ErrSessionNotFound
		}
		return err
	}

	if err := m.deps.Sessions.Revoke(ctx, hash, reason); err != nil {
		if repository.IsNotFound(err) {
			return ErrSessionNotFound // ya terminal
		}
		return err
	}
	m.cacheDrop(ctx, hash)
	metrics.ActiveSessions.Dec()

	m.record(ctx, &repository.AuditEvent{
		IdentityID: &sess.IdentityID,
		OrgID:      sess.OrgID,
		Event:      types.EventSessionRevoked,
		Success:    true,
		IPAddress:  sess.IPAddress,
		Metadata:   map[string]any{"reason": reason},
	})
	return nil
}

// TerminateAllForIdentity revoca todas las sesiones vivas de una
// identidad, menos la exceptuada si se indica. Usado en cambio de
// credenciales, deshabilitación de MFA y alertas críticas.
func (m *manager) TerminateAllForIdentity(ctx context.Context, identityID, exceptSessionID, reason string) (int, error) {
	exceptHash := ""
	if exceptSessionID != "" {
		exceptHash = token.Hash(exceptSessionID)
	}

	active, err := m.deps.Sessions.ListActiveByIdentity(ctx, identityID)
	if err != nil {
		return 0, err
	}

	n, err := m.deps.Sessions.RevokeAllByIdentity(ctx, identityID, exceptHash, reason)
	if err != nil {
		return 0, err
	}
	for i := range active {
		if active[i].SessionIDHash == exceptHash {
			continue
		}
		m.cacheDrop(ctx, active[i].SessionIDHash)
	}
	if n > 0 {
		metrics.ActiveSessions.Sub(float64(n))
		orgID := ""
		if len(active) > 0 {
			orgID = active[0].OrgID
		}
		m.record(ctx, &repository.AuditEvent{
			IdentityID: &identityID,
			OrgID:      orgID,
			Event:      types.EventSessionRevoked,
			Success:    true,
			Metadata:   map[string]any{"reason": reason, "count": n},
		})
	}
	return n, nil
}

func (m *manager) ListForIdentity(ctx context.Context, identityID string) ([]repository.Session, error) {
	return m.deps.Sessions.ListActiveByIdentity(ctx, identityID)
}

func (m *manager) Stats(ctx context.Context, orgID string) (*repository.SessionStats, error) {
	return m.deps.Sessions.GetStats(ctx, orgID)
}

// --- hot cache ---
// El cache acelera la lectura de Validate; el store es la fuente de
// verdad. TTL corto + invalidación en cada escritura.

func hotKey(hash string) string { return "session:hot:" + hash }

func (m *manager) cachePut(ctx context.Context, sess *repository.Session) {
	b, err := json.Marshal(sess)
	if err != nil {
		return
	}
	if err := m.deps.Cache.Set(ctx, hotKey(sess.SessionIDHash), string(b), hotTTL); err != nil {
		logger.From(ctx).Debug("hot cache set falló", logger.Component("session"), logger.Err(err))
	}
}

func (m *manager) cacheDrop(ctx context.Context, hash string) {
	if err := m.deps.Cache.Delete(ctx, hotKey(hash)); err != nil && !cache.IsNotFound(err) {
		logger.From(ctx).Debug("hot cache delete falló", logger.Component("session"), logger.Err(err))
	}
}

func (m *manager) cacheGet(ctx context.Context, hash string) *repository.Session {
	v, err := m.deps.Cache.Get(ctx, hotKey(hash))
	if err != nil {
		return nil
	}
	var sess repository.Session
	if err := json.Unmarshal([]byte(v), &sess); err != nil {
		return nil
	}
	return &sess
}

func (m *manager) record(ctx context.Context, ev *repository.AuditEvent) {
	if m.deps.Audit == nil {
		return
	}
	if err := m.deps.Audit.Record(ctx, ev); err != nil {
		logger.From(ctx).Warn("audit record falló",
			logger.Component("session"), logger.Event(ev.Event), logger.Err(err))
	}
}
