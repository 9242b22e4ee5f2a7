package sso

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dropDatabas3/aegis/internal/audit"
	"github.com/dropDatabas3/aegis/internal/cache"
	"github.com/dropDatabas3/aegis/internal/config"
	"github.com/dropDatabas3/aegis/internal/domain/repository"
	"github.com/dropDatabas3/aegis/internal/domain/types"
	"github.com/dropDatabas3/aegis/internal/fingerprint"
	"github.com/dropDatabas3/aegis/internal/risk"
	"github.com/dropDatabas3/aegis/internal/session"
	"github.com/dropDatabas3/aegis/internal/store/memory"
)

// fakeValidator reemplaza los validators de protocolo: entrega la
// assertion configurada sin hablar con ningún IdP real.
type fakeValidator struct {
	assertion *Assertion
	err       error
}

func (f *fakeValidator) AuthURL(_ context.Context, _ *repository.FederationProvider, state, _ string) (string, error) {
	return "https://idp.test/authorize?state=" + state, nil
}

func (f *fakeValidator) Validate(_ context.Context, _ *repository.FederationProvider, _ ProviderResponse, _ string) (*Assertion, error) {
	if f.err != nil {
		return nil, f.err
	}
	cp := *f.assertion
	return &cp, nil
}

type ssoEnv struct {
	store    *memory.Store
	orch     *orchestrator
	fv       *fakeValidator
	provider *repository.FederationProvider
	devices  fingerprint.Evaluator
	policy   *config.Policy
}

// orgPolicyRef permite mutar la policy de la organización entre pasos.
type orgPolicyRef struct{ p *config.Policy }

func (r orgPolicyRef) PolicyFor(context.Context, string) (config.Policy, error) { return *r.p, nil }

func newSSOEnv(t *testing.T, provider *repository.FederationProvider) *ssoEnv {
	t.Helper()

	st := memory.New()
	c := cache.NewMemory("test")
	policy := &config.Policy{
		SessionTimeout:  30 * time.Minute,
		AbsoluteTimeout: 12 * time.Hour,
		ConcurrentLimit: 5,
		RenewalFraction: 0.2,
	}
	policies := orgPolicyRef{policy}
	mgr := session.New(session.Deps{
		Sessions: st.Sessions(),
		Cache:    c,
		Risk:     risk.NewScorer(risk.Config{MediumThreshold: 30, HighThreshold: 60}),
		Policies: policies,
	})
	devices := fingerprint.NewEvaluator(fingerprint.EvaluatorDeps{Devices: st.Devices()})

	require.NoError(t, st.Providers().Create(context.Background(), provider))

	fv := &fakeValidator{assertion: &Assertion{
		Subject: "idp-sub-1",
		Email:   "Ana.Lopez@Acme.Test",
		Attributes: map[string]string{
			"given_name":  "Ana",
			"family_name": "López",
		},
		Groups: []string{"faculty"},
	}}

	o := &orchestrator{
		cfg: Config{StateTTL: time.Minute, ProviderTimeout: time.Second},
		deps: Deps{
			Providers:  st.Providers(),
			Identities: st.Identities(),
			Sessions:   st.Sessions(),
			Manager:    mgr,
			Devices:    devices,
			Policies:   policies,
			Cache:      c,
			Audit:      audit.NewRecorder(audit.RecorderDeps{Audit: st.Audit()}),
		},
		saml:  fv,
		oauth: fv,
		oidc:  fv,
	}
	return &ssoEnv{store: st, orch: o, fv: fv, provider: provider, devices: devices, policy: policy}
}

func oidcProvider(settings repository.ProviderSettings, rules []repository.RoleRule) *repository.FederationProvider {
	return &repository.FederationProvider{
		OrgID:     "org-1",
		Name:      "okta",
		Kind:      types.ProtocolOIDC,
		OIDC:      &repository.OIDCConfig{IssuerURL: "https://idp.test", ClientID: "aegis"},
		RoleRules: rules,
		Settings:  settings,
	}
}

func jitSettings() repository.ProviderSettings {
	return repository.ProviderSettings{JITProvisioning: true, AutoActivate: true}
}

func (e *ssoEnv) auditCount(t *testing.T, event string) int {
	t.Helper()
	_, total, err := e.store.Audit().List(context.Background(), repository.ListAuditFilter{Event: &event})
	require.NoError(t, err)
	return total
}

var testRC = types.RequestContext{IP: "203.0.113.5", UserAgent: "Mozilla/5.0", AcceptLanguage: "es", AcceptEncoding: "gzip"}

func TestBeginLogin_StoresStateAndBuildsRedirect(t *testing.T) {
	e := newSSOEnv(t, oidcProvider(jitSettings(), nil))
	ctx := context.Background()

	r, err := e.orch.BeginLogin(ctx, e.provider.ID, "/dashboard")
	require.NoError(t, err)
	require.NotEmpty(t, r.State)
	require.Contains(t, r.RedirectURL, "state="+r.State)

	ok, err := e.orch.deps.Cache.Exists(ctx, stateKey(r.State))
	require.NoError(t, err)
	require.True(t, ok)
}

func TestBeginLogin_UnknownProvider(t *testing.T) {
	e := newSSOEnv(t, oidcProvider(jitSettings(), nil))
	_, err := e.orch.BeginLogin(context.Background(), "no-such-provider", "")
	require.ErrorIs(t, err, ErrProviderNotFound)
}

func TestCompleteLogin_JITProvisionsAndMapsRole(t *testing.T) {
	e := newSSOEnv(t, oidcProvider(jitSettings(), []repository.RoleRule{
		{SourceValue: "faculty", InternalRole: types.RoleInstructor},
	}))
	ctx := context.Background()

	begin, err := e.orch.BeginLogin(ctx, e.provider.ID, "/dashboard")
	require.NoError(t, err)

	res, err := e.orch.CompleteLogin(ctx, begin.State, ProviderResponse{Code: "authcode"}, testRC)
	require.NoError(t, err)
	require.True(t, res.IsNewIdentity)
	require.False(t, res.RequiresMFA)
	require.Equal(t, "/dashboard", res.ReturnTarget)
	require.Equal(t, types.SessionActive, res.Session.State)

	require.Equal(t, "ana.lopez@acme.test", res.Identity.Email)
	require.Equal(t, types.RoleInstructor, res.Identity.Role)
	require.Equal(t, "Ana", res.Identity.GivenName)

	require.Equal(t, 1, e.auditCount(t, types.EventJITProvisioned))
	require.Equal(t, 1, e.auditCount(t, types.EventLoginSuccess))

	// segundo login del mismo usuario: resuelve, no re-provisiona
	begin, err = e.orch.BeginLogin(ctx, e.provider.ID, "")
	require.NoError(t, err)
	res, err = e.orch.CompleteLogin(ctx, begin.State, ProviderResponse{Code: "authcode"}, testRC)
	require.NoError(t, err)
	require.False(t, res.IsNewIdentity)
	require.Equal(t, 1, e.auditCount(t, types.EventJITProvisioned))
}

func TestCompleteLogin_StateIsSingleUse(t *testing.T) {
	e := newSSOEnv(t, oidcProvider(jitSettings(), nil))
	ctx := context.Background()

	begin, err := e.orch.BeginLogin(ctx, e.provider.ID, "")
	require.NoError(t, err)
	_, err = e.orch.CompleteLogin(ctx, begin.State, ProviderResponse{Code: "c"}, testRC)
	require.NoError(t, err)

	// el callback repetido no produce una segunda sesión
	_, err = e.orch.CompleteLogin(ctx, begin.State, ProviderResponse{Code: "c"}, testRC)
	require.ErrorIs(t, err, ErrStateInvalid)
	require.Equal(t, 1, e.auditCount(t, types.EventStateReplay))
}

func TestCompleteLogin_ForgedStateRejected(t *testing.T) {
	e := newSSOEnv(t, oidcProvider(jitSettings(), nil))
	_, err := e.orch.CompleteLogin(context.Background(), "forged", ProviderResponse{Code: "c"}, testRC)
	require.ErrorIs(t, err, ErrStateInvalid)
}

func TestCompleteLogin_ValidatorFailureIsOpaque(t *testing.T) {
	e := newSSOEnv(t, oidcProvider(jitSettings(), nil))
	ctx := context.Background()
	e.fv.err = ErrProtocol

	begin, err := e.orch.BeginLogin(ctx, e.provider.ID, "")
	require.NoError(t, err)
	_, err = e.orch.CompleteLogin(ctx, begin.State, ProviderResponse{Code: "bad"}, testRC)
	require.ErrorIs(t, err, ErrSignInFailed)
	require.Equal(t, 1, e.auditCount(t, types.EventLoginFailure))
}

func TestCompleteLogin_JITDisabled(t *testing.T) {
	e := newSSOEnv(t, oidcProvider(repository.ProviderSettings{JITProvisioning: false}, nil))
	ctx := context.Background()

	begin, err := e.orch.BeginLogin(ctx, e.provider.ID, "")
	require.NoError(t, err)
	_, err = e.orch.CompleteLogin(ctx, begin.State, ProviderResponse{Code: "c"}, testRC)
	require.ErrorIs(t, err, ErrSignInFailed)
	require.Equal(t, 1, e.auditCount(t, types.EventPolicyViolation))
}

func TestCompleteLogin_DomainNotAllowed(t *testing.T) {
	settings := jitSettings()
	settings.AllowedDomains = []string{"other.test"}
	e := newSSOEnv(t, oidcProvider(settings, nil))
	ctx := context.Background()

	begin, err := e.orch.BeginLogin(ctx, e.provider.ID, "")
	require.NoError(t, err)
	_, err = e.orch.CompleteLogin(ctx, begin.State, ProviderResponse{Code: "c"}, testRC)
	require.ErrorIs(t, err, ErrSignInFailed)
	require.Equal(t, 1, e.auditCount(t, types.EventPolicyViolation))
}

func TestCompleteLogin_CountryAllowlist(t *testing.T) {
	e := newSSOEnv(t, oidcProvider(jitSettings(), nil))
	ctx := context.Background()
	e.policy.AllowedCountries = []string{"ES", "MX"}

	// país fuera de la allowlist: denegado con error opaco
	begin, err := e.orch.BeginLogin(ctx, e.provider.ID, "")
	require.NoError(t, err)
	rc := testRC
	rc.Country = "US"
	_, err = e.orch.CompleteLogin(ctx, begin.State, ProviderResponse{Code: "c"}, rc)
	require.ErrorIs(t, err, ErrSignInFailed)
	require.Equal(t, 1, e.auditCount(t, types.EventPolicyViolation))

	// país permitido (case-insensitive) pasa
	begin, err = e.orch.BeginLogin(ctx, e.provider.ID, "")
	require.NoError(t, err)
	rc.Country = "mx"
	_, err = e.orch.CompleteLogin(ctx, begin.State, ProviderResponse{Code: "c"}, rc)
	require.NoError(t, err)

	// país desconocido no bloquea: sin geolocalización no hay denegación
	begin, err = e.orch.BeginLogin(ctx, e.provider.ID, "")
	require.NoError(t, err)
	rc.Country = ""
	_, err = e.orch.CompleteLogin(ctx, begin.State, ProviderResponse{Code: "c"}, rc)
	require.NoError(t, err)
}

func TestCompleteLogin_InactiveIdentityRejected(t *testing.T) {
	e := newSSOEnv(t, oidcProvider(jitSettings(), nil))
	ctx := context.Background()

	_, err := e.store.Identities().Create(ctx, repository.CreateIdentityInput{
		OrgID: "org-1", Email: "ana.lopez@acme.test", Role: types.RoleStudent, Active: false,
	})
	require.NoError(t, err)

	begin, err := e.orch.BeginLogin(ctx, e.provider.ID, "")
	require.NoError(t, err)
	_, err = e.orch.CompleteLogin(ctx, begin.State, ProviderResponse{Code: "c"}, testRC)
	require.ErrorIs(t, err, ErrSignInFailed)
}

func TestCompleteLogin_MFAGateByDeviceTrust(t *testing.T) {
	settings := jitSettings()
	settings.RequireMFA = true
	e := newSSOEnv(t, oidcProvider(settings, nil))
	ctx := context.Background()

	// primer login: dispositivo desconocido, sesión provisional
	begin, err := e.orch.BeginLogin(ctx, e.provider.ID, "")
	require.NoError(t, err)
	res, err := e.orch.CompleteLogin(ctx, begin.State, ProviderResponse{Code: "c"}, testRC)
	require.NoError(t, err)
	require.True(t, res.RequiresMFA)
	require.False(t, res.DeviceTrusted)
	require.Equal(t, types.SessionProvisional, res.Session.State)

	// dispositivo marcado confiable: el segundo login salta el MFA
	require.NoError(t, e.devices.Trust(ctx, res.Identity.ID, fingerprint.Compute(testRC), time.Hour))
	begin, err = e.orch.BeginLogin(ctx, e.provider.ID, "")
	require.NoError(t, err)
	res, err = e.orch.CompleteLogin(ctx, begin.State, ProviderResponse{Code: "c"}, testRC)
	require.NoError(t, err)
	require.False(t, res.RequiresMFA)
	require.True(t, res.DeviceTrusted)
	require.Equal(t, types.SessionActive, res.Session.State)
}

func TestLogout_LocalAndSAMLSLO(t *testing.T) {
	provider := &repository.FederationProvider{
		OrgID: "org-1",
		Name:  "adfs",
		Kind:  types.ProtocolSAML,
		SAML: &repository.SAMLConfig{
			EntryPointURL:  "https://idp.test/sso",
			IssuerEntityID: "https://idp.test",
			AudienceURI:    "https://aegis.test/sp",
		},
		Settings: jitSettings(),
	}
	e := newSSOEnv(t, provider)
	ctx := context.Background()
	e.fv.assertion.NameID = "name-id-7"
	e.fv.assertion.SessionIndex = "idx-3"

	begin, err := e.orch.BeginLogin(ctx, e.provider.ID, "")
	require.NoError(t, err)
	res, err := e.orch.CompleteLogin(ctx, begin.State, ProviderResponse{SAMLResponse: "b64"}, testRC)
	require.NoError(t, err)

	out, err := e.orch.Logout(ctx, res.SessionID, testRC)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(out.SLORedirectURL, "https://idp.test/sso?"))
	require.Contains(t, out.SLORedirectURL, "NameID=name-id-7")
	require.Contains(t, out.SLORedirectURL, "SessionIndex=idx-3")
	require.Equal(t, 1, e.auditCount(t, types.EventLogout))

	_, err = e.orch.deps.Manager.Validate(ctx, res.SessionID, testRC)
	require.ErrorIs(t, err, session.ErrSessionRevoked)
}

func TestLogout_UnknownSession(t *testing.T) {
	e := newSSOEnv(t, oidcProvider(jitSettings(), nil))
	_, err := e.orch.Logout(context.Background(), "nope", testRC)
	require.ErrorIs(t, err, session.ErrSessionNotFound)
}
