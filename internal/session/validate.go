package session

import (
	"context"
	"errors"
	"time"

	"github.com/dropDatabas3/aegis/internal/domain/repository"
	"github.com/dropDatabas3/aegis/internal/domain/types"
	"github.com/dropDatabas3/aegis/internal/fingerprint"
	"github.com/dropDatabas3/aegis/internal/metrics"
	"github.com/dropDatabas3/aegis/internal/observability/logger"
	"github.com/dropDatabas3/aegis/internal/risk"
	"github.com/dropDatabas3/aegis/internal/security/token"
)

// Validation es el resultado de una validación exitosa.
type Validation struct {
	Session        *repository.Session
	Risk           types.RiskLevel
	Renewed        bool
	RequiresReauth bool // riesgo HIGH a mitad de sesión: step-up, no terminación
}

// Validate revalida la sesión contra el request actual. Falla cerrado:
// cualquier duda (sesión no encontrada, store caído, binding violado)
// deniega. Los mismatches de binding son terminales y revocan la sesión.
func (m *manager) Validate(ctx context.Context, sessionID string, rc types.RequestContext) (*Validation, error) {
	log := logger.From(ctx).With(
		logger.Layer("service"),
		logger.Component("session"),
		logger.Op("Validate"),
	)
	hash := token.Hash(sessionID)
	now := time.Now().UTC()

	sess := m.cacheGet(ctx, hash)
	if sess == nil {
		var err error
		sess, err = m.deps.Sessions.GetByIDHash(ctx, hash)
		if err != nil {
			if repository.IsNotFound(err) {
				m.deny(ctx, nil, rc, "not found")
				return nil, ErrSessionNotFound
			}
			// store caído: denegar, nunca conceder a ciegas
			log.Error("store no disponible en validación", logger.Err(err))
			m.deny(ctx, nil, rc, "store unavailable")
			return nil, ErrSessionNotFound
		}
	}
	log = log.With(logger.SessionID(hash), logger.IdentityID(sess.IdentityID))

	switch sess.State {
	case types.SessionRevoked:
		m.deny(ctx, sess, rc, "revoked")
		return nil, ErrSessionRevoked
	case types.SessionExpired:
		m.deny(ctx, sess, rc, "expired")
		return nil, ErrSessionExpired
	}

	// el expiry absoluto manda sobre todo: terminal, sin renovación
	if now.After(sess.AbsoluteExpiresAt) {
		m.expire(ctx, sess, "absolute expiry")
		m.deny(ctx, sess, rc, "absolute expiry")
		return nil, ErrAbsoluteExpiry
	}
	if now.After(sess.ExpiresAt) {
		m.expire(ctx, sess, "idle timeout")
		m.deny(ctx, sess, rc, "idle timeout")
		return nil, ErrIdleTimeout
	}

	policy, err := m.deps.Policies.PolicyFor(ctx, sess.OrgID)
	if err != nil {
		m.deny(ctx, sess, rc, "policy unavailable")
		return nil, err
	}

	if policy.BindFingerprint && sess.Fingerprint != "" {
		if fingerprint.Compute(rc) != sess.Fingerprint {
			// terminal: fuerza re-autenticación completa
			m.revokeBinding(ctx, sess, "fingerprint mismatch")
			m.deny(ctx, sess, rc, "fingerprint mismatch")
			return nil, ErrFingerprintMismatch
		}
	}
	if policy.BindIP && sess.IPAddress != "" && rc.IP != sess.IPAddress {
		if !fingerprint.SameBlock(rc.IP, sess.IPAddress) {
			m.revokeBinding(ctx, sess, "ip mismatch")
			m.deny(ctx, sess, rc, "ip mismatch")
			return nil, ErrIPMismatch
		}
	}

	// last-activity monotónico: un validate stale no retrocede el reloj
	if err := m.deps.Sessions.UpdateActivity(ctx, hash, now); err != nil && !errors.Is(err, repository.ErrStaleUpdate) {
		if repository.IsNotFound(err) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}
	sess.LastActivity = now

	renewed := false
	if sess.ExpiresAt.Sub(now) < policy.RenewalThreshold() {
		newExpiry := now.Add(policy.SessionTimeout)
		if err := m.deps.Sessions.Renew(ctx, hash, newExpiry); err == nil {
			renewed = true
			if newExpiry.After(sess.AbsoluteExpiresAt) {
				newExpiry = sess.AbsoluteExpiresAt
			}
			if newExpiry.After(sess.ExpiresAt) {
				sess.ExpiresAt = newExpiry
			}
		}
	}

	_, level := m.deps.Risk.Score(risk.Signals{
		DeviceTrust:    m.trustForValidation(sess),
		MFAVerified:    sess.MFAVerified,
		Country:        rc.Country,
		KnownDevice:    true,
		SessionIP:      sess.IPAddress,
		CurrentIP:      rc.IP,
		SessionCreated: sess.CreatedAt,
		Now:            now,
	})
	if level != sess.Risk {
		if err := m.deps.Sessions.UpdateRisk(ctx, hash, level); err != nil {
			log.Warn("no se pudo persistir riesgo", logger.Err(err))
		}
		sess.Risk = level
	}

	requiresReauth := level == types.RiskHigh
	if requiresReauth {
		m.record(ctx, &repository.AuditEvent{
			IdentityID: &sess.IdentityID,
			OrgID:      sess.OrgID,
			Event:      types.EventReauthRequired,
			Success:    true,
			IPAddress:  rc.IP,
			UserAgent:  rc.UserAgent,
			Risk:       level,
		})
	}

	m.cachePut(ctx, sess)
	metrics.SessionValidations.WithLabelValues("ok").Inc()
	log.Debug("sesión validada",
		logger.Risk(string(level)),
		logger.Bool("renewed", renewed),
		logger.Bool("reauth", requiresReauth),
	)

	return &Validation{
		Session:        sess,
		Risk:           level,
		Renewed:        renewed,
		RequiresReauth: requiresReauth,
	}, nil
}

// trustForValidation aproxima la confianza del dispositivo de una
// sesión viva: el fingerprint ya matcheó en la creación, así que una
// sesión con MFA verificado cuenta como dispositivo confiable.
func (m *manager) trustForValidation(sess *repository.Session) types.TrustLevel {
	if sess.MFAVerified {
		return types.TrustTrusted
	}
	return types.TrustProvisional
}

func (m *manager) expire(ctx context.Context, sess *repository.Session, reason string) {
	if err := m.deps.Sessions.MarkExpired(ctx, sess.SessionIDHash, reason); err != nil {
		logger.From(ctx).Warn("no se pudo marcar expirada",
			logger.Component("session"), logger.SessionID(sess.SessionIDHash), logger.Err(err))
	}
	m.cacheDrop(ctx, sess.SessionIDHash)
	metrics.ActiveSessions.Dec()
}

func (m *manager) revokeBinding(ctx context.Context, sess *repository.Session, reason string) {
	if err := m.deps.Sessions.Revoke(ctx, sess.SessionIDHash, reason); err != nil && !repository.IsNotFound(err) {
		logger.From(ctx).Warn("no se pudo revocar por binding",
			logger.Component("session"), logger.SessionID(sess.SessionIDHash), logger.Err(err))
	}
	m.cacheDrop(ctx, sess.SessionIDHash)
	metrics.ActiveSessions.Dec()
}

// deny registra la denegación en métricas y audit. El motivo preciso
// queda en el trail; el caller recibe solo el error tipificado.
func (m *manager) deny(ctx context.Context, sess *repository.Session, rc types.RequestContext, reason string) {
	metrics.SessionValidations.WithLabelValues("denied").Inc()

	ev := &repository.AuditEvent{
		Event:     types.EventPolicyViolation,
		Success:   false,
		IPAddress: rc.IP,
		UserAgent: rc.UserAgent,
		Metadata:  map[string]any{"reason": reason, "check": "session validation"},
	}
	if sess != nil {
		ev.IdentityID = &sess.IdentityID
		ev.OrgID = sess.OrgID
	}
	m.record(ctx, ev)
}
