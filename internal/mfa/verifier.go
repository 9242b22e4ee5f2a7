// Package mfa maneja el segundo factor: ciclo de vida del secreto TOTP,
// backup codes de un solo uso y lockout por fallos consecutivos.
package mfa

import (
	"context"
	"crypto/rand"
	"errors"
	"strings"
	"time"

	"github.com/dropDatabas3/aegis/internal/audit"
	"github.com/dropDatabas3/aegis/internal/domain/repository"
	"github.com/dropDatabas3/aegis/internal/domain/types"
	"github.com/dropDatabas3/aegis/internal/fingerprint"
	"github.com/dropDatabas3/aegis/internal/metrics"
	"github.com/dropDatabas3/aegis/internal/observability/logger"
	"github.com/dropDatabas3/aegis/internal/security/password"
	"github.com/dropDatabas3/aegis/internal/security/secretbox"
	"github.com/dropDatabas3/aegis/internal/security/totp"
)

// Errores del verifier.
var (
	ErrNotEnrolled      = errors.New("mfa not enrolled")
	ErrNotEnabled       = errors.New("mfa not enabled")
	ErrAlreadyEnabled   = errors.New("mfa already enabled")
	ErrInvalidCode      = errors.New("invalid mfa code")
	ErrAccountLocked    = errors.New("account temporarily locked")
	ErrIdentityNotFound = errors.New("identity not found")
)

const backupCodeLen = 10 // caracteres base32, ~50 bits

// Config parametriza el verifier.
type Config struct {
	Issuer           string
	Window           int // pasos TOTP de tolerancia a skew
	LockoutThreshold int
	LockoutWindow    time.Duration
	BackupCodes      int
	TrustTTL         time.Duration // remember-device
}

// SetupResult se entrega exactamente una vez: el secreto y los backup
// codes en claro no vuelven a ser recuperables.
type SetupResult struct {
	Secret          string
	ProvisioningURI string
	BackupCodes     []string
}

// VerifyInput describe un intento de verificación.
type VerifyInput struct {
	IdentityID     string
	Code           string
	SessionID      string // opcional: sesión a promover a MFA-verified
	RememberDevice bool
	Request        types.RequestContext
}

// VerifyResult describe una verificación exitosa.
type VerifyResult struct {
	UsedBackupCode bool
	DeviceTrusted  bool
}

// SessionPromoter promueve la sesión tras un segundo factor exitoso.
// Lo implementa el session manager.
type SessionPromoter interface {
	MarkMFAVerified(ctx context.Context, sessionID string) error
	TerminateAllForIdentity(ctx context.Context, identityID, exceptSessionID, reason string) (int, error)
}

// Verifier maneja el segundo factor de una identidad.
type Verifier interface {
	Setup(ctx context.Context, identityID string) (*SetupResult, error)
	ConfirmAndEnable(ctx context.Context, identityID, code string) error
	Verify(ctx context.Context, in VerifyInput) (*VerifyResult, error)
	Disable(ctx context.Context, identityID, code string) error
	RegenerateBackupCodes(ctx context.Context, identityID, code string) ([]string, error)
}

// Deps contiene las dependencias del verifier.
type Deps struct {
	MFA        repository.MFARepository
	Identities repository.IdentityRepository
	Devices    fingerprint.Evaluator
	Sessions   SessionPromoter
	Audit      audit.Recorder
}

type verifier struct {
	cfg  Config
	deps Deps
}

// New crea el Verifier.
func New(cfg Config, deps Deps) Verifier {
	if cfg.Issuer == "" {
		cfg.Issuer = "Aegis"
	}
	if cfg.Window <= 0 {
		cfg.Window = 1
	}
	if cfg.LockoutThreshold <= 0 {
		cfg.LockoutThreshold = 5
	}
	if cfg.LockoutWindow <= 0 {
		cfg.LockoutWindow = 15 * time.Minute
	}
	if cfg.BackupCodes <= 0 {
		cfg.BackupCodes = 10
	}
	return &verifier{cfg: cfg, deps: deps}
}

// Setup genera secreto y backup codes nuevos. La credencial queda
// deshabilitada hasta ConfirmAndEnable; repetir Setup antes de
// confirmar reemplaza todo.
func (v *verifier) Setup(ctx context.Context, identityID string) (*SetupResult, error) {
	log := logger.From(ctx).With(
		logger.Layer("service"),
		logger.Component("mfa"),
		logger.Op("Setup"),
		logger.IdentityID(identityID),
	)

	identity, err := v.deps.Identities.GetByID(ctx, identityID)
	if err != nil {
		if repository.IsNotFound(err) {
			return nil, ErrIdentityNotFound
		}
		return nil, err
	}

	if cred, err := v.deps.MFA.Get(ctx, identityID); err == nil && cred.Enabled {
		return nil, ErrAlreadyEnabled
	} else if err != nil && !repository.IsNotFound(err) {
		return nil, err
	}

	_, secretB32, err := totp.GenerateSecret()
	if err != nil {
		return nil, err
	}
	secretEnc, err := secretbox.Encrypt(secretB32)
	if err != nil {
		return nil, err
	}
	if err := v.deps.MFA.UpsertSecret(ctx, identityID, secretEnc); err != nil {
		return nil, err
	}

	codes, hashes, err := v.generateBackupCodes()
	if err != nil {
		return nil, err
	}
	if err := v.deps.MFA.SetBackupCodes(ctx, identityID, hashes); err != nil {
		return nil, err
	}

	v.record(ctx, identity, types.EventMFASetup, true, types.RequestContext{}, nil)
	log.Info("mfa setup iniciado")

	return &SetupResult{
		Secret:          secretB32,
		ProvisioningURI: totp.ProvisioningURL(v.cfg.Issuer, identity.Email, secretB32),
		BackupCodes:     codes,
	}, nil
}

// ConfirmAndEnable habilita la credencial si el código valida contra el
// secreto recién provisionado.
func (v *verifier) ConfirmAndEnable(ctx context.Context, identityID, code string) error {
	cred, err := v.deps.MFA.Get(ctx, identityID)
	if err != nil {
		if repository.IsNotFound(err) {
			return ErrNotEnrolled
		}
		return err
	}
	if cred.Enabled {
		return ErrAlreadyEnabled
	}

	secretRaw, err := v.decodeSecret(cred)
	if err != nil {
		return err
	}
	ok, counter := totp.Verify(secretRaw, code, time.Now().UTC(), v.cfg.Window, nil)
	if !ok {
		return ErrInvalidCode
	}

	if err := v.deps.MFA.Confirm(ctx, identityID); err != nil {
		return err
	}
	if err := v.deps.MFA.RecordSuccess(ctx, identityID, &counter, time.Now().UTC()); err != nil {
		return err
	}
	if err := v.deps.Identities.SetMFAEnabled(ctx, identityID, true); err != nil {
		return err
	}

	identity, _ := v.deps.Identities.GetByID(ctx, identityID)
	v.record(ctx, identity, types.EventMFAEnabled, true, types.RequestContext{}, nil)
	return nil
}

// Verify valida el segundo factor: primero TOTP con tolerancia de skew
// y anti-replay, después backup codes. El lockout se chequea antes que
// el código: durante la ventana, ni un código correcto pasa.
func (v *verifier) Verify(ctx context.Context, in VerifyInput) (*VerifyResult, error) {
	log := logger.From(ctx).With(
		logger.Layer("service"),
		logger.Component("mfa"),
		logger.Op("Verify"),
		logger.IdentityID(in.IdentityID),
	)
	now := time.Now().UTC()

	cred, err := v.deps.MFA.Get(ctx, in.IdentityID)
	if err != nil {
		if repository.IsNotFound(err) {
			return nil, ErrNotEnrolled
		}
		return nil, err
	}
	if !cred.Enabled {
		return nil, ErrNotEnabled
	}
	identity, err := v.deps.Identities.GetByID(ctx, in.IdentityID)
	if err != nil {
		if repository.IsNotFound(err) {
			return nil, ErrIdentityNotFound
		}
		return nil, err
	}

	if locked, err := v.checkLockout(ctx, cred, now); err != nil {
		return nil, err
	} else if locked {
		v.record(ctx, identity, types.EventMFALocked, false, in.Request, map[string]any{
			"failed_attempts": cred.FailedAttempts,
		})
		metrics.MFAVerifications.WithLabelValues("totp", "locked").Inc()
		return nil, ErrAccountLocked
	}

	secretRaw, err := v.decodeSecret(cred)
	if err != nil {
		return nil, err
	}

	if ok, counter := totp.Verify(secretRaw, in.Code, now, v.cfg.Window, cred.LastCounter); ok {
		if err := v.deps.MFA.RecordSuccess(ctx, in.IdentityID, &counter, now); err != nil {
			return nil, err
		}
		log.Debug("totp verificado")
		return v.succeed(ctx, identity, in, false)
	}

	if consumed, err := v.tryBackupCode(ctx, in.IdentityID, in.Code); err != nil {
		return nil, err
	} else if consumed {
		if err := v.deps.MFA.RecordSuccess(ctx, in.IdentityID, nil, now); err != nil {
			return nil, err
		}
		log.Debug("backup code consumido")
		return v.succeed(ctx, identity, in, true)
	}

	return nil, v.fail(ctx, identity, in.Request, now)
}

// checkLockout aplica la ventana: amenaza vigente bloquea, ventana
// vencida resetea el contador y deja pasar.
func (v *verifier) checkLockout(ctx context.Context, cred *repository.MFACredential, now time.Time) (bool, error) {
	if cred.FailedAttempts < v.cfg.LockoutThreshold {
		return false, nil
	}
	if cred.LastFailureAt != nil && now.Sub(*cred.LastFailureAt) < v.cfg.LockoutWindow {
		return true, nil
	}
	if err := v.deps.MFA.ResetFailures(ctx, cred.IdentityID); err != nil {
		return false, err
	}
	cred.FailedAttempts = 0
	return false, nil
}

func (v *verifier) succeed(ctx context.Context, identity *repository.Identity, in VerifyInput, backup bool) (*VerifyResult, error) {
	method := "totp"
	if backup {
		method = "backup"
	}
	metrics.MFAVerifications.WithLabelValues(method, "ok").Inc()

	res := &VerifyResult{UsedBackupCode: backup}

	if in.SessionID != "" && v.deps.Sessions != nil {
		if err := v.deps.Sessions.MarkMFAVerified(ctx, in.SessionID); err != nil {
			logger.From(ctx).Warn("no se pudo promover sesión tras MFA",
				logger.Component("mfa"), logger.Err(err))
		}
	}

	if in.RememberDevice && v.deps.Devices != nil && in.Request.UserAgent != "" {
		fp := fingerprint.Compute(in.Request)
		if err := v.deps.Devices.Trust(ctx, in.IdentityID, fp, v.cfg.TrustTTL); err != nil {
			logger.From(ctx).Warn("no se pudo confiar dispositivo",
				logger.Component("mfa"), logger.Err(err))
		} else {
			res.DeviceTrusted = true
			v.record(ctx, identity, types.EventDeviceTrusted, true, in.Request, map[string]any{
				"fingerprint": fp,
				"ttl":         v.cfg.TrustTTL.String(),
			})
		}
	}

	v.record(ctx, identity, types.EventMFAVerified, true, in.Request, map[string]any{"method": method})
	return res, nil
}

func (v *verifier) fail(ctx context.Context, identity *repository.Identity, rc types.RequestContext, now time.Time) error {
	n, err := v.deps.MFA.RecordFailure(ctx, identity.ID, now)
	if err != nil {
		return err
	}
	metrics.MFAVerifications.WithLabelValues("totp", "fail").Inc()

	if n >= v.cfg.LockoutThreshold {
		v.record(ctx, identity, types.EventMFALocked, false, rc, map[string]any{"failed_attempts": n})
		return ErrAccountLocked
	}
	v.record(ctx, identity, types.EventMFAFailed, false, rc, map[string]any{"failed_attempts": n})
	return ErrInvalidCode
}

// tryBackupCode compara el code contra los hashes vigentes y consume el
// que matchee. El consumo es atómico en el repo: dos intentos
// concurrentes con el mismo code, uno solo gana.
func (v *verifier) tryBackupCode(ctx context.Context, identityID, code string) (bool, error) {
	code = normalizeBackupCode(code)
	if code == "" {
		return false, nil
	}
	hashes, err := v.deps.MFA.ListBackupCodeHashes(ctx, identityID)
	if err != nil {
		return false, err
	}
	for _, h := range hashes {
		if !password.Verify(code, h) {
			continue
		}
		return v.deps.MFA.ConsumeBackupCode(ctx, identityID, h)
	}
	return false, nil
}

// Disable exige un código válido, borra secreto y codes, y revoca las
// sesiones vivas de la identidad.
func (v *verifier) Disable(ctx context.Context, identityID, code string) error {
	if _, err := v.Verify(ctx, VerifyInput{IdentityID: identityID, Code: code}); err != nil {
		return err
	}
	if err := v.deps.MFA.Disable(ctx, identityID); err != nil {
		return err
	}
	if err := v.deps.Identities.SetMFAEnabled(ctx, identityID, false); err != nil {
		return err
	}

	identity, _ := v.deps.Identities.GetByID(ctx, identityID)
	v.record(ctx, identity, types.EventMFADisabled, true, types.RequestContext{}, nil)

	if v.deps.Sessions != nil {
		if _, err := v.deps.Sessions.TerminateAllForIdentity(ctx, identityID, "", "mfa disabled"); err != nil {
			logger.From(ctx).Warn("no se pudieron revocar sesiones tras disable",
				logger.Component("mfa"), logger.Err(err))
		}
	}
	return nil
}

// RegenerateBackupCodes exige un código válido y reemplaza el set
// completo. Los codes anteriores dejan de servir.
func (v *verifier) RegenerateBackupCodes(ctx context.Context, identityID, code string) ([]string, error) {
	if _, err := v.Verify(ctx, VerifyInput{IdentityID: identityID, Code: code}); err != nil {
		return nil, err
	}
	codes, hashes, err := v.generateBackupCodes()
	if err != nil {
		return nil, err
	}
	if err := v.deps.MFA.SetBackupCodes(ctx, identityID, hashes); err != nil {
		return nil, err
	}
	return codes, nil
}

func (v *verifier) generateBackupCodes() (codes, hashes []string, err error) {
	codes = make([]string, 0, v.cfg.BackupCodes)
	hashes = make([]string, 0, v.cfg.BackupCodes)
	for i := 0; i < v.cfg.BackupCodes; i++ {
		c, err := randomBackupCode()
		if err != nil {
			return nil, nil, err
		}
		h, err := password.Hash(password.Default, c)
		if err != nil {
			return nil, nil, err
		}
		codes = append(codes, c)
		hashes = append(hashes, h)
	}
	return codes, hashes, nil
}

// randomBackupCode genera un code legible en alfabeto base32.
func randomBackupCode() (string, error) {
	const alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ234567"
	b := make([]byte, backupCodeLen)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	for i := range b {
		b[i] = alphabet[int(b[i])%len(alphabet)]
	}
	return string(b), nil
}

func (v *verifier) decodeSecret(cred *repository.MFACredential) ([]byte, error) {
	secretB32, err := secretbox.Decrypt(cred.SecretEnc)
	if err != nil {
		return nil, err
	}
	return totp.DecodeSecret(secretB32)
}

// record audita el evento con el contexto del request cuando lo hay:
// el analyzer cuenta fallos de MFA por IP, sin IP no hay ventana.
func (v *verifier) record(ctx context.Context, identity *repository.Identity, event string, success bool, rc types.RequestContext, meta map[string]any) {
	if v.deps.Audit == nil || identity == nil {
		return
	}
	ev := &repository.AuditEvent{
		IdentityID: &identity.ID,
		OrgID:      identity.OrgID,
		Event:      event,
		Success:    success,
		IPAddress:  rc.IP,
		UserAgent:  rc.UserAgent,
		Metadata:   meta,
	}
	if err := v.deps.Audit.Record(ctx, ev); err != nil {
		logger.From(ctx).Warn("audit record falló",
			logger.Component("mfa"), logger.Event(event), logger.Err(err))
	}
}

func normalizeBackupCode(code string) string {
	return strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(code), "-", ""))
}
