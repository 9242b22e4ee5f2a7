package sso

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dropDatabas3/aegis/internal/audit"
	"github.com/dropDatabas3/aegis/internal/cache"
	"github.com/dropDatabas3/aegis/internal/config"
	"github.com/dropDatabas3/aegis/internal/domain/repository"
	"github.com/dropDatabas3/aegis/internal/domain/types"
	"github.com/dropDatabas3/aegis/internal/fingerprint"
	"github.com/dropDatabas3/aegis/internal/metrics"
	"github.com/dropDatabas3/aegis/internal/observability/logger"
	"github.com/dropDatabas3/aegis/internal/security/token"
	"github.com/dropDatabas3/aegis/internal/session"
)

const (
	stateBytes = 24
	nonceBytes = 16
)

// Orchestrator dirige el handshake de federación de punta a punta.
type Orchestrator interface {
	// BeginLogin genera el state de un solo uso y la URL de redirección
	// al IdP.
	BeginLogin(ctx context.Context, providerID, returnTarget string) (*RedirectInstruction, error)

	// CompleteLogin consume el state, valida la respuesta del IdP,
	// resuelve/provisiona la identidad y crea la sesión.
	CompleteLogin(ctx context.Context, state string, resp ProviderResponse, rc types.RequestContext) (*LoginResult, error)

	// Logout termina la sesión y, si fue SAML, entrega la URL de single
	// logout del IdP.
	Logout(ctx context.Context, sessionID string, rc types.RequestContext) (*LogoutResult, error)
}

// Config parametriza el orquestador.
type Config struct {
	StateTTL        time.Duration
	ProviderTimeout time.Duration
}

// Deps contiene las dependencias del orquestador.
type Deps struct {
	Providers  repository.ProviderRepository // normalmente el wrapper hotcache
	Identities repository.IdentityRepository
	Sessions   repository.SessionRepository
	Manager    session.Manager
	Devices    fingerprint.Evaluator
	Policies   config.PolicyProvider
	Cache      cache.Client
	Audit      audit.Recorder
}

type orchestrator struct {
	cfg  Config
	deps Deps

	saml  Validator
	oauth Validator
	oidc  Validator
}

// New crea el Orchestrator con un validator por protocolo.
func New(cfg Config, deps Deps) Orchestrator {
	if cfg.StateTTL <= 0 {
		cfg.StateTTL = 10 * time.Minute
	}
	if cfg.ProviderTimeout <= 0 {
		cfg.ProviderTimeout = 10 * time.Second
	}
	return &orchestrator{
		cfg:   cfg,
		deps:  deps,
		saml:  newSAMLValidator(),
		oauth: newOAuthValidator(cfg.ProviderTimeout),
		oidc:  newOIDCValidator(cfg.ProviderTimeout),
	}
}

// stateDoc es lo que el state opaco referencia en el cache.
type stateDoc struct {
	ProviderID   string    `json:"provider_id"`
	OrgID        string    `json:"org_id"`
	ReturnTarget string    `json:"return_target"`
	Nonce        string    `json:"nonce"`
	CreatedAt    time.Time `json:"created_at"`
}

func stateKey(state string) string { return "sso:state:" + token.Hash(state) }

func (o *orchestrator) validatorFor(kind types.ProtocolKind) (Validator, error) {
	switch kind {
	case types.ProtocolSAML:
		return o.saml, nil
	case types.ProtocolOAuth:
		return o.oauth, nil
	case types.ProtocolOIDC:
		return o.oidc, nil
	default:
		return nil, fmt.Errorf("%w: unknown protocol %q", ErrProtocol, kind)
	}
}

func (o *orchestrator) BeginLogin(ctx context.Context, providerID, returnTarget string) (*RedirectInstruction, error) {
	log := logger.From(ctx).With(
		logger.Layer("service"),
		logger.Component("sso"),
		logger.Op("BeginLogin"),
		logger.ProviderID(providerID),
	)

	provider, err := o.deps.Providers.GetByID(ctx, providerID)
	if err != nil {
		if repository.IsNotFound(err) {
			return nil, ErrProviderNotFound
		}
		return nil, err
	}

	validator, err := o.validatorFor(provider.Kind)
	if err != nil {
		return nil, err
	}

	state, err := token.GenerateOpaque(stateBytes)
	if err != nil {
		return nil, err
	}
	nonce, err := token.GenerateOpaque(nonceBytes)
	if err != nil {
		return nil, err
	}

	doc, _ := json.Marshal(stateDoc{
		ProviderID:   provider.ID,
		OrgID:        provider.OrgID,
		ReturnTarget: returnTarget,
		Nonce:        nonce,
		CreatedAt:    time.Now().UTC(),
	})
	if err := o.deps.Cache.Set(ctx, stateKey(state), string(doc), o.cfg.StateTTL); err != nil {
		return nil, err
	}

	redirectURL, err := validator.AuthURL(ctx, provider, state, nonce)
	if err != nil {
		return nil, err
	}

	log.Debug("login iniciado", logger.String("protocol", string(provider.Kind)))
	return &RedirectInstruction{
		RedirectURL: redirectURL,
		State:       state,
		ExpiresAt:   time.Now().UTC().Add(o.cfg.StateTTL),
	}, nil
}

// CompleteLogin consume el state atómicamente (GetDel): un callback
// repetido o tardío nunca produce dos sesiones. Cada paso que falla
// queda auditado con el motivo exacto; el caller recibe un error
// genérico para no filtrar en qué sub-paso murió el intento.
func (o *orchestrator) CompleteLogin(ctx context.Context, state string, resp ProviderResponse, rc types.RequestContext) (*LoginResult, error) {
	log := logger.From(ctx).With(
		logger.Layer("service"),
		logger.Component("sso"),
		logger.Op("CompleteLogin"),
	)

	raw, err := o.deps.Cache.GetDel(ctx, stateKey(state))
	if err != nil {
		if cache.IsNotFound(err) {
			o.auditFailure(ctx, "", "", types.EventStateReplay, "state missing or already consumed", rc)
			metrics.LoginAttempts.WithLabelValues("unknown", "state_invalid").Inc()
			return nil, ErrStateInvalid
		}
		return nil, err
	}
	var doc stateDoc
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return nil, ErrStateInvalid
	}
	log = log.With(logger.ProviderID(doc.ProviderID))

	provider, err := o.deps.Providers.GetByID(ctx, doc.ProviderID)
	if err != nil {
		if repository.IsNotFound(err) {
			o.auditFailure(ctx, doc.ProviderID, doc.OrgID, types.EventLoginFailure, "provider deleted mid-flight", rc)
			return nil, ErrSignInFailed
		}
		return nil, err
	}
	protocol := string(provider.Kind)

	validator, err := o.validatorFor(provider.Kind)
	if err != nil {
		return nil, err
	}

	assertion, err := validator.Validate(ctx, provider, resp, doc.Nonce)
	if err != nil {
		o.auditFailure(ctx, provider.ID, provider.OrgID, types.EventLoginFailure, err.Error(), rc)
		metrics.LoginAttempts.WithLabelValues(protocol, "protocol_error").Inc()
		log.Warn("validación de protocolo falló", logger.Err(err))
		return nil, ErrSignInFailed
	}

	prof := extractProfile(provider.AttributeMap, assertion)
	if prof.Email == "" {
		o.auditFailure(ctx, provider.ID, provider.OrgID, types.EventLoginFailure, "assertion without email", rc)
		metrics.LoginAttempts.WithLabelValues(protocol, "protocol_error").Inc()
		return nil, ErrSignInFailed
	}

	if !domainAllowed(provider.Settings.AllowedDomains, prof.Email) {
		o.auditFailure(ctx, provider.ID, provider.OrgID, types.EventPolicyViolation, "email domain not allowed", rc)
		metrics.LoginAttempts.WithLabelValues(protocol, "policy_violation").Inc()
		return nil, ErrSignInFailed
	}

	identity, isNew, err := o.resolveIdentity(ctx, provider, prof, assertion)
	if err != nil {
		reason := "identity resolution failed"
		if err == ErrPolicyViolation {
			reason = "jit provisioning disabled"
		}
		o.auditFailure(ctx, provider.ID, provider.OrgID, types.EventPolicyViolation, reason, rc)
		metrics.LoginAttempts.WithLabelValues(protocol, "policy_violation").Inc()
		return nil, ErrSignInFailed
	}
	if !identity.Active {
		o.auditFailure(ctx, provider.ID, provider.OrgID, types.EventLoginFailure, "identity inactive", rc)
		metrics.LoginAttempts.WithLabelValues(protocol, "inactive").Inc()
		return nil, ErrSignInFailed
	}

	eval, err := o.deps.Devices.Evaluate(ctx, identity.ID, rc)
	if err != nil {
		return nil, err
	}

	policy, err := o.deps.Policies.PolicyFor(ctx, identity.OrgID)
	if err != nil {
		return nil, err
	}

	if !policy.CountryAllowed(rc.Country) {
		o.auditFailure(ctx, provider.ID, provider.OrgID, types.EventPolicyViolation, "country not allowed", rc)
		metrics.LoginAttempts.WithLabelValues(protocol, "policy_violation").Inc()
		return nil, ErrSignInFailed
	}

	requireMFA := (policy.RequireMFA || provider.Settings.RequireMFA || identity.MFAEnabled) &&
		eval.Trust != types.TrustTrusted

	created, err := o.deps.Manager.Create(ctx, session.CreateParams{
		Identity:         identity,
		Request:          rc,
		Fingerprint:      eval.Fingerprint,
		DeviceTrust:      eval.Trust,
		KnownDevice:      eval.KnownDevice,
		Provider:         provider.ID,
		RequireMFA:       requireMFA,
		SessionTimeout:   provider.Settings.SessionTimeout,
		SAMLNameID:       assertion.NameID,
		SAMLSessionIndex: assertion.SessionIndex,
	})
	if err != nil {
		return nil, err
	}

	if isNew {
		o.record(ctx, &repository.AuditEvent{
			IdentityID: &identity.ID,
			OrgID:      identity.OrgID,
			Event:      types.EventJITProvisioned,
			Provider:   provider.ID,
			Success:    true,
			IPAddress:  rc.IP,
			UserAgent:  rc.UserAgent,
			Metadata:   map[string]any{"email": identity.Email, "role": identity.Role},
		})
	}
	o.record(ctx, &repository.AuditEvent{
		IdentityID: &identity.ID,
		OrgID:      identity.OrgID,
		Event:      types.EventLoginSuccess,
		Provider:   provider.ID,
		Success:    true,
		IPAddress:  rc.IP,
		UserAgent:  rc.UserAgent,
		Risk:       created.Session.Risk,
		Metadata:   map[string]any{"protocol": protocol, "new_identity": isNew, "requires_mfa": requireMFA},
	})
	metrics.LoginAttempts.WithLabelValues(protocol, "success").Inc()

	log.Info("login completado",
		logger.IdentityID(identity.ID),
		logger.Bool("new_identity", isNew),
		logger.Bool("requires_mfa", requireMFA),
		logger.Risk(string(created.Session.Risk)),
	)

	return &LoginResult{
		SessionID:     created.SessionID,
		Session:       created.Session,
		Identity:      identity,
		IsNewIdentity: isNew,
		RequiresMFA:   requireMFA,
		DeviceTrusted: eval.Trust == types.TrustTrusted,
		Risk:          created.Session.Risk,
		ReturnTarget:  doc.ReturnTarget,
	}, nil
}

// Logout termina localmente y resuelve el single logout SAML a partir
// de los identificadores persistidos en la sesión.
func (o *orchestrator) Logout(ctx context.Context, sessionID string, rc types.RequestContext) (*LogoutResult, error) {
	hash := token.Hash(sessionID)
	sess, err := o.deps.Sessions.GetByIDHash(ctx, hash)
	if err != nil {
		if repository.IsNotFound(err) {
			return nil, session.ErrSessionNotFound
		}
		return nil, err
	}

	if err := o.deps.Manager.Terminate(ctx, sessionID, "logout"); err != nil && err != session.ErrSessionNotFound {
		return nil, err
	}

	o.record(ctx, &repository.AuditEvent{
		IdentityID: &sess.IdentityID,
		OrgID:      sess.OrgID,
		Event:      types.EventLogout,
		Provider:   sess.Provider,
		Success:    true,
		IPAddress:  rc.IP,
		UserAgent:  rc.UserAgent,
	})

	out := &LogoutResult{}
	if sess.SAMLNameID != "" && sess.Provider != "" {
		if provider, err := o.deps.Providers.GetByID(ctx, sess.Provider); err == nil && provider.SAML != nil {
			out.SLORedirectURL = SLORedirectURL(provider.SAML, sess.SAMLNameID, sess.SAMLSessionIndex)
		}
	}
	return out, nil
}

func (o *orchestrator) auditFailure(ctx context.Context, providerID, orgID, event, reason string, rc types.RequestContext) {
	o.record(ctx, &repository.AuditEvent{
		OrgID:     orgID,
		Event:     event,
		Provider:  providerID,
		Success:   false,
		IPAddress: rc.IP,
		UserAgent: rc.UserAgent,
		Metadata:  map[string]any{"reason": reason},
	})
}

func (o *orchestrator) record(ctx context.Context, ev *repository.AuditEvent) {
	if o.deps.Audit == nil {
		return
	}
	if err := o.deps.Audit.Record(ctx, ev); err != nil {
		logger.From(ctx).Warn("audit record falló",
			logger.Component("sso"), logger.Event(ev.Event), logger.Err(err))
	}
}
