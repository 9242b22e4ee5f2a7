package session_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dropDatabas3/aegis/internal/cache"
	"github.com/dropDatabas3/aegis/internal/config"
	"github.com/dropDatabas3/aegis/internal/domain/repository"
	"github.com/dropDatabas3/aegis/internal/domain/types"
	"github.com/dropDatabas3/aegis/internal/fingerprint"
	"github.com/dropDatabas3/aegis/internal/risk"
	"github.com/dropDatabas3/aegis/internal/session"
	"github.com/dropDatabas3/aegis/internal/store/memory"
)

func defaultPolicy() config.Policy {
	return config.Policy{
		SessionTimeout:  30 * time.Minute,
		AbsoluteTimeout: 12 * time.Hour,
		ConcurrentLimit: 5,
		RenewalFraction: 0.2,
	}
}

type env struct {
	store   *memory.Store
	manager session.Manager
	policy  *config.Policy
}

// policyRef permite mutar la policy entre pasos del test.
type policyRef struct{ p *config.Policy }

func (r policyRef) PolicyFor(context.Context, string) (config.Policy, error) { return *r.p, nil }

func newEnv(t *testing.T, policy config.Policy) *env {
	t.Helper()
	st := memory.New()
	p := policy
	mgr := session.New(session.Deps{
		Sessions: st.Sessions(),
		Cache:    cache.NewMemory("test"),
		Risk: risk.NewScorer(risk.Config{
			Weights:         risk.Weights{DeviceUntrusted: 25, MFAUnverified: 20, UnknownDevice: 10, IPChanged: 25},
			MediumThreshold: 30,
			HighThreshold:   60,
		}),
		Policies: policyRef{&p},
	})
	return &env{store: st, manager: mgr, policy: &p}
}

func (e *env) identity(t *testing.T, email string) *repository.Identity {
	t.Helper()
	ident, err := e.store.Identities().Create(context.Background(), repository.CreateIdentityInput{
		OrgID: "org-1", Email: email, Role: types.RoleStudent, Active: true,
	})
	require.NoError(t, err)
	return ident
}

func baseRequest() types.RequestContext {
	return types.RequestContext{
		IP:             "203.0.113.10",
		UserAgent:      "Mozilla/5.0",
		AcceptLanguage: "es",
		AcceptEncoding: "gzip",
	}
}

func (e *env) create(t *testing.T, ident *repository.Identity, rc types.RequestContext) *session.Created {
	t.Helper()
	created, err := e.manager.Create(context.Background(), session.CreateParams{
		Identity:    ident,
		Request:     rc,
		Fingerprint: fingerprint.Compute(rc),
		DeviceTrust: types.TrustTrusted,
		KnownDevice: true,
	})
	require.NoError(t, err)
	return created
}

func TestCreateAndValidate(t *testing.T) {
	e := newEnv(t, defaultPolicy())
	ident := e.identity(t, "ana@acme.test")
	rc := baseRequest()

	created := e.create(t, ident, rc)
	require.NotEmpty(t, created.SessionID)
	require.Equal(t, types.SessionActive, created.Session.State)
	require.Zero(t, created.Evicted)

	v, err := e.manager.Validate(context.Background(), created.SessionID, rc)
	require.NoError(t, err)
	require.Equal(t, ident.ID, v.Session.IdentityID)
	require.False(t, v.RequiresReauth)
}

func TestCreate_RequireMFAIsProvisional(t *testing.T) {
	e := newEnv(t, defaultPolicy())
	ident := e.identity(t, "ana@acme.test")

	created, err := e.manager.Create(context.Background(), session.CreateParams{
		Identity:    ident,
		Request:     baseRequest(),
		DeviceTrust: types.TrustUntrusted,
		RequireMFA:  true,
	})
	require.NoError(t, err)
	require.Equal(t, types.SessionProvisional, created.Session.State)
	require.False(t, created.Session.MFAVerified)
}

func TestValidate_UnknownSession(t *testing.T) {
	e := newEnv(t, defaultPolicy())
	_, err := e.manager.Validate(context.Background(), "no-such-session", baseRequest())
	require.ErrorIs(t, err, session.ErrSessionNotFound)
}

func TestValidate_RevokedIsTerminal(t *testing.T) {
	e := newEnv(t, defaultPolicy())
	ident := e.identity(t, "ana@acme.test")
	rc := baseRequest()
	created := e.create(t, ident, rc)

	require.NoError(t, e.manager.Terminate(context.Background(), created.SessionID, "user logout"))

	_, err := e.manager.Validate(context.Background(), created.SessionID, rc)
	require.ErrorIs(t, err, session.ErrSessionRevoked)

	// terminar dos veces no resucita nada
	err = e.manager.Terminate(context.Background(), created.SessionID, "again")
	require.NoError(t, err)
}

func TestValidate_AbsoluteExpiry(t *testing.T) {
	policy := defaultPolicy()
	policy.AbsoluteTimeout = 5 * time.Millisecond
	e := newEnv(t, policy)
	ident := e.identity(t, "ana@acme.test")
	rc := baseRequest()
	created := e.create(t, ident, rc)

	time.Sleep(20 * time.Millisecond)

	_, err := e.manager.Validate(context.Background(), created.SessionID, rc)
	require.ErrorIs(t, err, session.ErrAbsoluteExpiry)

	// el expiry absoluto es terminal: la sesión quedó expirada en el store
	_, err = e.manager.Validate(context.Background(), created.SessionID, rc)
	require.ErrorIs(t, err, session.ErrSessionExpired)
}

func TestValidate_IdleTimeout(t *testing.T) {
	policy := defaultPolicy()
	policy.SessionTimeout = 5 * time.Millisecond
	policy.RenewalFraction = 0.1
	e := newEnv(t, policy)
	ident := e.identity(t, "ana@acme.test")
	rc := baseRequest()
	created := e.create(t, ident, rc)

	time.Sleep(20 * time.Millisecond)

	_, err := e.manager.Validate(context.Background(), created.SessionID, rc)
	require.ErrorIs(t, err, session.ErrIdleTimeout)
}

func TestValidate_RenewalExtendsExpiry(t *testing.T) {
	policy := defaultPolicy()
	// umbral mayor al timeout: toda validación cae en ventana de renovación
	policy.RenewalFraction = 2.0
	e := newEnv(t, policy)
	ident := e.identity(t, "ana@acme.test")
	rc := baseRequest()
	created := e.create(t, ident, rc)

	time.Sleep(5 * time.Millisecond)
	v, err := e.manager.Validate(context.Background(), created.SessionID, rc)
	require.NoError(t, err)
	require.True(t, v.Renewed)
	require.True(t, v.Session.ExpiresAt.After(created.Session.ExpiresAt))
	require.False(t, v.Session.ExpiresAt.After(v.Session.AbsoluteExpiresAt))
}

func TestValidate_FingerprintMismatchRevokes(t *testing.T) {
	policy := defaultPolicy()
	policy.BindFingerprint = true
	e := newEnv(t, policy)
	ident := e.identity(t, "ana@acme.test")
	rc := baseRequest()
	created := e.create(t, ident, rc)

	other := rc
	other.UserAgent = "curl/8.0"
	_, err := e.manager.Validate(context.Background(), created.SessionID, other)
	require.ErrorIs(t, err, session.ErrFingerprintMismatch)

	// el mismatch es terminal: ni el dispositivo original recupera la sesión
	_, err = e.manager.Validate(context.Background(), created.SessionID, rc)
	require.ErrorIs(t, err, session.ErrSessionRevoked)
}

func TestValidate_IPMismatchOutsideBlock(t *testing.T) {
	policy := defaultPolicy()
	policy.BindIP = true
	e := newEnv(t, policy)
	ident := e.identity(t, "ana@acme.test")
	rc := baseRequest()
	created := e.create(t, ident, rc)

	sameBlock := rc
	sameBlock.IP = "203.0.113.200"
	_, err := e.manager.Validate(context.Background(), created.SessionID, sameBlock)
	require.NoError(t, err, "mismo bloque de red no debe violar el binding")

	otherNet := rc
	otherNet.IP = "198.51.100.4"
	_, err = e.manager.Validate(context.Background(), created.SessionID, otherNet)
	require.ErrorIs(t, err, session.ErrIPMismatch)
}

func TestCreate_ConcurrentLimitEvictsLeastActive(t *testing.T) {
	policy := defaultPolicy()
	policy.ConcurrentLimit = 2
	e := newEnv(t, policy)
	ident := e.identity(t, "ana@acme.test")
	rc := baseRequest()

	first := e.create(t, ident, rc)
	time.Sleep(2 * time.Millisecond)
	second := e.create(t, ident, rc)
	time.Sleep(2 * time.Millisecond)

	third := e.create(t, ident, rc)
	require.Equal(t, 1, third.Evicted)

	// la menos activa (primera) fue desalojada; las otras siguen vivas
	_, err := e.manager.Validate(context.Background(), first.SessionID, rc)
	require.ErrorIs(t, err, session.ErrSessionRevoked)
	_, err = e.manager.Validate(context.Background(), second.SessionID, rc)
	require.NoError(t, err)
	_, err = e.manager.Validate(context.Background(), third.SessionID, rc)
	require.NoError(t, err)
}

func TestCreate_SingleSessionPolicy(t *testing.T) {
	policy := defaultPolicy()
	policy.ConcurrentLimit = 1
	e := newEnv(t, policy)
	ident := e.identity(t, "ana@acme.test")
	rc := baseRequest()

	first := e.create(t, ident, rc)
	// validar primero deja la sesión caliente en el cache: el desalojo
	// tiene que invalidarla ahí también, no solo en el store
	_, err := e.manager.Validate(context.Background(), first.SessionID, rc)
	require.NoError(t, err)

	second := e.create(t, ident, rc)
	require.Equal(t, 1, second.Evicted)

	_, err = e.manager.Validate(context.Background(), first.SessionID, rc)
	require.ErrorIs(t, err, session.ErrSessionRevoked)
	_, err = e.manager.Validate(context.Background(), second.SessionID, rc)
	require.NoError(t, err)
}

func TestRotate(t *testing.T) {
	e := newEnv(t, defaultPolicy())
	ident := e.identity(t, "ana@acme.test")
	rc := baseRequest()
	created := e.create(t, ident, rc)

	newID, err := e.manager.Rotate(context.Background(), created.SessionID)
	require.NoError(t, err)
	require.NotEqual(t, created.SessionID, newID)

	// el identificador viejo murió, el nuevo apunta al mismo estado
	_, err = e.manager.Validate(context.Background(), created.SessionID, rc)
	require.ErrorIs(t, err, session.ErrSessionNotFound)
	v, err := e.manager.Validate(context.Background(), newID, rc)
	require.NoError(t, err)
	require.Equal(t, ident.ID, v.Session.IdentityID)
}

func TestMarkMFAVerified_PromotesProvisional(t *testing.T) {
	e := newEnv(t, defaultPolicy())
	ident := e.identity(t, "ana@acme.test")

	created, err := e.manager.Create(context.Background(), session.CreateParams{
		Identity:    ident,
		Request:     baseRequest(),
		DeviceTrust: types.TrustUntrusted,
		RequireMFA:  true,
	})
	require.NoError(t, err)
	require.Equal(t, types.SessionProvisional, created.Session.State)

	require.NoError(t, e.manager.MarkMFAVerified(context.Background(), created.SessionID))

	v, err := e.manager.Validate(context.Background(), created.SessionID, baseRequest())
	require.NoError(t, err)
	require.Equal(t, types.SessionActive, v.Session.State)
	require.True(t, v.Session.MFAVerified)
}

func TestTerminateAllForIdentity(t *testing.T) {
	e := newEnv(t, defaultPolicy())
	ident := e.identity(t, "ana@acme.test")
	rc := baseRequest()
	a := e.create(t, ident, rc)
	b := e.create(t, ident, rc)

	n, err := e.manager.TerminateAllForIdentity(context.Background(), ident.ID, "", "mfa disabled")
	require.NoError(t, err)
	require.Equal(t, 2, n)

	for _, id := range []string{a.SessionID, b.SessionID} {
		_, err := e.manager.Validate(context.Background(), id, rc)
		require.ErrorIs(t, err, session.ErrSessionRevoked)
	}
}

func TestTerminateAllForIdentity_KeepsExceptedSession(t *testing.T) {
	e := newEnv(t, defaultPolicy())
	ident := e.identity(t, "ana@acme.test")
	rc := baseRequest()
	a := e.create(t, ident, rc)
	b := e.create(t, ident, rc)
	c := e.create(t, ident, rc)

	// logout-all desde b: las demás caen, la actual sobrevive
	n, err := e.manager.TerminateAllForIdentity(context.Background(), ident.ID, b.SessionID, "user logout-all")
	require.NoError(t, err)
	require.Equal(t, 2, n)

	for _, id := range []string{a.SessionID, c.SessionID} {
		_, err := e.manager.Validate(context.Background(), id, rc)
		require.ErrorIs(t, err, session.ErrSessionRevoked)
	}
	v, err := e.manager.Validate(context.Background(), b.SessionID, rc)
	require.NoError(t, err)
	require.Equal(t, ident.ID, v.Session.IdentityID)
}

func TestStats(t *testing.T) {
	e := newEnv(t, defaultPolicy())
	ident := e.identity(t, "ana@acme.test")
	e.create(t, ident, baseRequest())
	_, err := e.manager.Create(context.Background(), session.CreateParams{
		Identity:   ident,
		Request:    baseRequest(),
		RequireMFA: true,
	})
	require.NoError(t, err)

	stats, err := e.manager.Stats(context.Background(), "org-1")
	require.NoError(t, err)
	require.Equal(t, 1, stats.TotalActive)
	require.Equal(t, 1, stats.TotalProvisional)
	require.Equal(t, 2, stats.TotalToday)
}
