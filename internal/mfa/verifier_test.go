package mfa_test

import (
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dropDatabas3/aegis/internal/audit"
	"github.com/dropDatabas3/aegis/internal/cache"
	"github.com/dropDatabas3/aegis/internal/config"
	"github.com/dropDatabas3/aegis/internal/domain/repository"
	"github.com/dropDatabas3/aegis/internal/domain/types"
	"github.com/dropDatabas3/aegis/internal/fingerprint"
	"github.com/dropDatabas3/aegis/internal/mfa"
	"github.com/dropDatabas3/aegis/internal/risk"
	"github.com/dropDatabas3/aegis/internal/security/secretbox"
	"github.com/dropDatabas3/aegis/internal/security/totp"
	"github.com/dropDatabas3/aegis/internal/session"
	"github.com/dropDatabas3/aegis/internal/store/memory"
)

// código definitivamente inválido: 6 chars pero nunca numérico
const wrongCode = "ABCDEF"

type mfaEnv struct {
	store    *memory.Store
	verifier mfa.Verifier
	manager  session.Manager
	devices  fingerprint.Evaluator
	identity *repository.Identity
}

func newMFAEnv(t *testing.T) *mfaEnv {
	t.Helper()

	secretbox.UnsafeResetForTests()
	raw := make([]byte, 32)
	for i := range raw {
		raw[i] = byte(i * 3)
	}
	t.Setenv("AEGIS_MASTER_KEY", base64.StdEncoding.EncodeToString(raw))
	t.Cleanup(secretbox.UnsafeResetForTests)

	st := memory.New()
	ident, err := st.Identities().Create(context.Background(), repository.CreateIdentityInput{
		OrgID: "org-1", Email: "ana@acme.test", Role: types.RoleStudent, Active: true,
	})
	require.NoError(t, err)

	mgr := session.New(session.Deps{
		Sessions: st.Sessions(),
		Cache:    cache.NewMemory("test"),
		Risk:     risk.NewScorer(risk.Config{MediumThreshold: 30, HighThreshold: 60}),
		Policies: config.StaticPolicyProvider{Policy: config.Policy{
			SessionTimeout:  30 * time.Minute,
			AbsoluteTimeout: 12 * time.Hour,
			ConcurrentLimit: 5,
			RenewalFraction: 0.2,
		}},
	})
	devices := fingerprint.NewEvaluator(fingerprint.EvaluatorDeps{Devices: st.Devices()})

	v := mfa.New(mfa.Config{
		Issuer:           "Aegis",
		Window:           1,
		LockoutThreshold: 3,
		LockoutWindow:    60 * time.Millisecond,
		BackupCodes:      4,
		TrustTTL:         time.Hour,
	}, mfa.Deps{
		MFA:        st.MFA(),
		Identities: st.Identities(),
		Devices:    devices,
		Sessions:   mgr,
		Audit:      audit.NewRecorder(audit.RecorderDeps{Audit: st.Audit()}),
	})

	return &mfaEnv{store: st, verifier: v, manager: mgr, devices: devices, identity: ident}
}

// codeAt calcula el código TOTP para un contador dado (HMAC-SHA1,
// truncado dinámico, 6 dígitos).
func codeAt(secretB32 string, counter int64) string {
	secret, err := totp.DecodeSecret(secretB32)
	if err != nil {
		panic(err)
	}
	var msg [8]byte
	c := counter
	for i := 7; i >= 0; i-- {
		msg[i] = byte(c & 0xff)
		c >>= 8
	}
	m := hmac.New(sha1.New, secret)
	m.Write(msg[:])
	sum := m.Sum(nil)
	offset := int(sum[len(sum)-1] & 0x0f)
	bin := (int(sum[offset])&0x7f)<<24 | int(sum[offset+1])<<16 | int(sum[offset+2])<<8 | int(sum[offset+3])
	return fmt.Sprintf("%06d", bin%1000000)
}

func currentCounter() int64 { return time.Now().UTC().Unix() / totp.Period }

// enroll hace setup + confirm y retorna el secreto y los backup codes.
func (e *mfaEnv) enroll(t *testing.T) (string, []string) {
	t.Helper()
	setup, err := e.verifier.Setup(context.Background(), e.identity.ID)
	require.NoError(t, err)
	require.Len(t, setup.BackupCodes, 4)
	require.Contains(t, setup.ProvisioningURI, "otpauth://totp/")

	err = e.verifier.ConfirmAndEnable(context.Background(), e.identity.ID, codeAt(setup.Secret, currentCounter()))
	require.NoError(t, err)

	ident, err := e.store.Identities().GetByID(context.Background(), e.identity.ID)
	require.NoError(t, err)
	require.True(t, ident.MFAEnabled)
	return setup.Secret, setup.BackupCodes
}

func TestVerify_NotEnrolled(t *testing.T) {
	e := newMFAEnv(t)
	_, err := e.verifier.Verify(context.Background(), mfa.VerifyInput{IdentityID: e.identity.ID, Code: wrongCode})
	require.ErrorIs(t, err, mfa.ErrNotEnrolled)
}

func TestConfirm_RejectsWrongCode(t *testing.T) {
	e := newMFAEnv(t)
	_, err := e.verifier.Setup(context.Background(), e.identity.ID)
	require.NoError(t, err)

	err = e.verifier.ConfirmAndEnable(context.Background(), e.identity.ID, wrongCode)
	require.ErrorIs(t, err, mfa.ErrInvalidCode)

	// sin confirmar no hay verificación posible
	_, err = e.verifier.Verify(context.Background(), mfa.VerifyInput{IdentityID: e.identity.ID, Code: wrongCode})
	require.ErrorIs(t, err, mfa.ErrNotEnabled)
}

func TestSetup_AlreadyEnabled(t *testing.T) {
	e := newMFAEnv(t)
	e.enroll(t)
	_, err := e.verifier.Setup(context.Background(), e.identity.ID)
	require.ErrorIs(t, err, mfa.ErrAlreadyEnabled)
}

func TestVerify_TOTPAndAntiReplay(t *testing.T) {
	e := newMFAEnv(t)
	secret, _ := e.enroll(t)

	// el confirm consumió el contador actual; el siguiente paso es válido
	code := codeAt(secret, currentCounter()+1)
	res, err := e.verifier.Verify(context.Background(), mfa.VerifyInput{IdentityID: e.identity.ID, Code: code})
	require.NoError(t, err)
	require.False(t, res.UsedBackupCode)

	// reusar el mismo código es replay: contadores consumidos no matchean
	_, err = e.verifier.Verify(context.Background(), mfa.VerifyInput{IdentityID: e.identity.ID, Code: code})
	require.ErrorIs(t, err, mfa.ErrInvalidCode)
}

func TestVerify_LockoutAtThreshold(t *testing.T) {
	e := newMFAEnv(t)
	secret, _ := e.enroll(t)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := e.verifier.Verify(ctx, mfa.VerifyInput{IdentityID: e.identity.ID, Code: wrongCode})
		require.ErrorIs(t, err, mfa.ErrInvalidCode)
	}
	// el intento que alcanza el umbral ya reporta lockout
	_, err := e.verifier.Verify(ctx, mfa.VerifyInput{IdentityID: e.identity.ID, Code: wrongCode})
	require.ErrorIs(t, err, mfa.ErrAccountLocked)

	// dentro de la ventana ni el código correcto pasa
	good := codeAt(secret, currentCounter()+1)
	_, err = e.verifier.Verify(ctx, mfa.VerifyInput{IdentityID: e.identity.ID, Code: good})
	require.ErrorIs(t, err, mfa.ErrAccountLocked)

	// ventana vencida: el contador se resetea y el código correcto pasa
	time.Sleep(80 * time.Millisecond)
	_, err = e.verifier.Verify(ctx, mfa.VerifyInput{IdentityID: e.identity.ID, Code: good})
	require.NoError(t, err)

	cred, err := e.store.MFA().Get(ctx, e.identity.ID)
	require.NoError(t, err)
	require.Zero(t, cred.FailedAttempts)
}

func TestVerify_FailureAuditCarriesRequestContext(t *testing.T) {
	e := newMFAEnv(t)
	e.enroll(t)
	ctx := context.Background()

	// el analyzer ventanea fallos de MFA por IP: el evento tiene que
	// llevar el contexto del request
	rc := types.RequestContext{IP: "203.0.113.5", UserAgent: "Mozilla/5.0"}
	_, err := e.verifier.Verify(ctx, mfa.VerifyInput{IdentityID: e.identity.ID, Code: wrongCode, Request: rc})
	require.ErrorIs(t, err, mfa.ErrInvalidCode)

	event := types.EventMFAFailed
	evs, total, err := e.store.Audit().List(ctx, repository.ListAuditFilter{Event: &event})
	require.NoError(t, err)
	require.Equal(t, 1, total)
	require.Equal(t, rc.IP, evs[0].IPAddress)
	require.Equal(t, rc.UserAgent, evs[0].UserAgent)
}

func TestVerify_BackupCodeSingleUse(t *testing.T) {
	e := newMFAEnv(t)
	_, codes := e.enroll(t)
	ctx := context.Background()

	res, err := e.verifier.Verify(ctx, mfa.VerifyInput{IdentityID: e.identity.ID, Code: codes[0]})
	require.NoError(t, err)
	require.True(t, res.UsedBackupCode)

	_, err = e.verifier.Verify(ctx, mfa.VerifyInput{IdentityID: e.identity.ID, Code: codes[0]})
	require.ErrorIs(t, err, mfa.ErrInvalidCode)

	// los demás siguen sirviendo
	res, err = e.verifier.Verify(ctx, mfa.VerifyInput{IdentityID: e.identity.ID, Code: codes[1]})
	require.NoError(t, err)
	require.True(t, res.UsedBackupCode)
}

func TestVerify_PromotesSessionAndRemembersDevice(t *testing.T) {
	e := newMFAEnv(t)
	secret, _ := e.enroll(t)
	ctx := context.Background()

	rc := types.RequestContext{IP: "203.0.113.5", UserAgent: "Mozilla/5.0", AcceptLanguage: "es", AcceptEncoding: "gzip"}
	created, err := e.manager.Create(ctx, session.CreateParams{
		Identity:    e.identity,
		Request:     rc,
		Fingerprint: fingerprint.Compute(rc),
		DeviceTrust: types.TrustUntrusted,
		RequireMFA:  true,
	})
	require.NoError(t, err)
	require.Equal(t, types.SessionProvisional, created.Session.State)

	res, err := e.verifier.Verify(ctx, mfa.VerifyInput{
		IdentityID:     e.identity.ID,
		Code:           codeAt(secret, currentCounter()+1),
		SessionID:      created.SessionID,
		RememberDevice: true,
		Request:        rc,
	})
	require.NoError(t, err)
	require.True(t, res.DeviceTrusted)

	v, err := e.manager.Validate(ctx, created.SessionID, rc)
	require.NoError(t, err)
	require.Equal(t, types.SessionActive, v.Session.State)
	require.True(t, v.Session.MFAVerified)

	eval, err := e.devices.Evaluate(ctx, e.identity.ID, rc)
	require.NoError(t, err)
	require.Equal(t, types.TrustTrusted, eval.Trust)
}

func TestDisable_RevokesSessions(t *testing.T) {
	e := newMFAEnv(t)
	secret, _ := e.enroll(t)
	ctx := context.Background()

	rc := types.RequestContext{IP: "203.0.113.5", UserAgent: "Mozilla/5.0"}
	created, err := e.manager.Create(ctx, session.CreateParams{Identity: e.identity, Request: rc})
	require.NoError(t, err)

	err = e.verifier.Disable(ctx, e.identity.ID, codeAt(secret, currentCounter()+1))
	require.NoError(t, err)

	// la credencial desapareció y las sesiones vivas cayeron
	_, err = e.verifier.Verify(ctx, mfa.VerifyInput{IdentityID: e.identity.ID, Code: wrongCode})
	require.ErrorIs(t, err, mfa.ErrNotEnrolled)
	_, err = e.manager.Validate(ctx, created.SessionID, rc)
	require.ErrorIs(t, err, session.ErrSessionRevoked)

	ident, err := e.store.Identities().GetByID(ctx, e.identity.ID)
	require.NoError(t, err)
	require.False(t, ident.MFAEnabled)
}

func TestRegenerateBackupCodes_InvalidatesOldSet(t *testing.T) {
	e := newMFAEnv(t)
	secret, oldCodes := e.enroll(t)
	ctx := context.Background()

	newCodes, err := e.verifier.RegenerateBackupCodes(ctx, e.identity.ID, codeAt(secret, currentCounter()+1))
	require.NoError(t, err)
	require.Len(t, newCodes, 4)

	_, err = e.verifier.Verify(ctx, mfa.VerifyInput{IdentityID: e.identity.ID, Code: oldCodes[0]})
	require.ErrorIs(t, err, mfa.ErrInvalidCode)

	res, err := e.verifier.Verify(ctx, mfa.VerifyInput{IdentityID: e.identity.ID, Code: newCodes[0]})
	require.NoError(t, err)
	require.True(t, res.UsedBackupCode)
}
