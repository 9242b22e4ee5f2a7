package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/dropDatabas3/aegis/internal/domain/repository"
	"github.com/dropDatabas3/aegis/internal/domain/types"
)

func newSession(t *testing.T, s *Store, hash string) *repository.Session {
	t.Helper()
	now := time.Now().UTC()
	sess, err := s.Sessions().Create(context.Background(), repository.CreateSessionInput{
		IdentityID:        "id-1",
		OrgID:             "org-1",
		SessionIDHash:     hash,
		State:             types.SessionActive,
		Risk:              types.RiskLow,
		ExpiresAt:         now.Add(10 * time.Minute),
		AbsoluteExpiresAt: now.Add(20 * time.Minute),
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	return sess
}

func TestSessions_UpdateActivityMonotonic(t *testing.T) {
	s := New()
	ctx := context.Background()
	sess := newSession(t, s, "h1")

	later := sess.LastActivity.Add(time.Second)
	if err := s.Sessions().UpdateActivity(ctx, "h1", later); err != nil {
		t.Fatalf("UpdateActivity adelante: %v", err)
	}
	// una actualización con timestamp anterior no retrocede el reloj
	err := s.Sessions().UpdateActivity(ctx, "h1", sess.LastActivity)
	if !repository.IsStale(err) {
		t.Fatalf("UpdateActivity stale: %v, quería ErrStaleUpdate", err)
	}
	got, _ := s.Sessions().GetByIDHash(ctx, "h1")
	if !got.LastActivity.Equal(later) {
		t.Fatalf("last_activity retrocedió: %v", got.LastActivity)
	}
}

func TestSessions_UpdateActivityConcurrent(t *testing.T) {
	s := New()
	ctx := context.Background()
	sess := newSession(t, s, "h1")

	// escritores en carrera con timestamps distintos: gana el más nuevo,
	// los demás terminan stale, nunca retrocede
	const writers = 32
	var wg sync.WaitGroup
	for i := 1; i <= writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ts := sess.LastActivity.Add(time.Duration(i) * time.Millisecond)
			if err := s.Sessions().UpdateActivity(ctx, "h1", ts); err != nil && !repository.IsStale(err) {
				t.Errorf("UpdateActivity(%d): %v", i, err)
			}
		}(i)
	}
	wg.Wait()

	got, err := s.Sessions().GetByIDHash(ctx, "h1")
	if err != nil {
		t.Fatalf("GetByIDHash: %v", err)
	}
	max := sess.LastActivity.Add(writers * time.Millisecond)
	if !got.LastActivity.Equal(max) {
		t.Fatalf("last_activity = %v, quería el máximo %v", got.LastActivity, max)
	}
}

func TestSessions_RenewClampsToAbsolute(t *testing.T) {
	s := New()
	ctx := context.Background()
	sess := newSession(t, s, "h1")

	// la renovación nunca cruza el expiry absoluto
	if err := s.Sessions().Renew(ctx, "h1", sess.AbsoluteExpiresAt.Add(time.Hour)); err != nil {
		t.Fatalf("Renew: %v", err)
	}
	got, _ := s.Sessions().GetByIDHash(ctx, "h1")
	if !got.ExpiresAt.Equal(sess.AbsoluteExpiresAt) {
		t.Fatalf("ExpiresAt = %v, quería clamp a %v", got.ExpiresAt, sess.AbsoluteExpiresAt)
	}

	// ni retrocede el expiry vigente
	if err := s.Sessions().Renew(ctx, "h1", sess.ExpiresAt.Add(-5*time.Minute)); err != nil {
		t.Fatalf("Renew: %v", err)
	}
	got, _ = s.Sessions().GetByIDHash(ctx, "h1")
	if !got.ExpiresAt.Equal(sess.AbsoluteExpiresAt) {
		t.Fatalf("ExpiresAt retrocedió: %v", got.ExpiresAt)
	}
}

func TestSessions_MarkMFAVerifiedPromotesProvisional(t *testing.T) {
	s := New()
	ctx := context.Background()
	now := time.Now().UTC()
	_, err := s.Sessions().Create(ctx, repository.CreateSessionInput{
		IdentityID:        "id-1",
		OrgID:             "org-1",
		SessionIDHash:     "prov",
		State:             types.SessionProvisional,
		ExpiresAt:         now.Add(10 * time.Minute),
		AbsoluteExpiresAt: now.Add(time.Hour),
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := s.Sessions().MarkMFAVerified(ctx, "prov"); err != nil {
		t.Fatalf("MarkMFAVerified: %v", err)
	}
	got, _ := s.Sessions().GetByIDHash(ctx, "prov")
	if got.State != types.SessionActive || !got.MFAVerified {
		t.Fatalf("state=%s mfa=%v, quería active/true", got.State, got.MFAVerified)
	}
}

func TestSessions_RotateRejectsTerminal(t *testing.T) {
	s := New()
	ctx := context.Background()
	newSession(t, s, "h1")

	if err := s.Sessions().Revoke(ctx, "h1", "test"); err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	if _, err := s.Sessions().Rotate(ctx, "h1", "h2"); err == nil {
		t.Fatalf("Rotate sobre sesión revocada debería fallar")
	}
}

func TestSessions_RevokeAllExceptHash(t *testing.T) {
	s := New()
	ctx := context.Background()
	newSession(t, s, "a")
	newSession(t, s, "b")
	newSession(t, s, "c")

	n, err := s.Sessions().RevokeAllByIdentity(ctx, "id-1", "b", "credential change")
	if err != nil {
		t.Fatalf("RevokeAllByIdentity: %v", err)
	}
	if n != 2 {
		t.Fatalf("revocadas = %d, quería 2", n)
	}
	kept, _ := s.Sessions().GetByIDHash(ctx, "b")
	if kept.State != types.SessionActive {
		t.Fatalf("la sesión exceptuada fue revocada")
	}
}

func TestSessions_DeleteTerminatedBefore(t *testing.T) {
	s := New()
	ctx := context.Background()
	newSession(t, s, "old")
	newSession(t, s, "live")
	_ = s.Sessions().Revoke(ctx, "old", "test")

	n, err := s.Sessions().DeleteTerminatedBefore(ctx, time.Now().UTC().Add(time.Minute))
	if err != nil {
		t.Fatalf("DeleteTerminatedBefore: %v", err)
	}
	if n != 1 {
		t.Fatalf("purgadas = %d, quería 1", n)
	}
	if _, err := s.Sessions().GetByIDHash(ctx, "live"); err != nil {
		t.Fatalf("la sesión viva fue purgada: %v", err)
	}
}

func TestIdentities_ConflictOnDuplicateEmail(t *testing.T) {
	s := New()
	ctx := context.Background()
	in := repository.CreateIdentityInput{OrgID: "org-1", Email: "Ana@Acme.Test", Role: "member", Active: true}
	created, err := s.Identities().Create(ctx, in)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if created.Email != "ana@acme.test" {
		t.Fatalf("el email no se normalizó: %q", created.Email)
	}
	if _, err := s.Identities().Create(ctx, in); !repository.IsConflict(err) {
		t.Fatalf("duplicado: %v, quería ErrConflict", err)
	}
	// mismo email en otra organización es válido
	in.OrgID = "org-2"
	if _, err := s.Identities().Create(ctx, in); err != nil {
		t.Fatalf("mismo email en otra org: %v", err)
	}
}

func TestMFA_ConsumeBackupCodeSingleUse(t *testing.T) {
	s := New()
	ctx := context.Background()
	_ = s.MFA().UpsertSecret(ctx, "id-1", "enc")
	_ = s.MFA().SetBackupCodes(ctx, "id-1", []string{"h1", "h2"})

	ok, err := s.MFA().ConsumeBackupCode(ctx, "id-1", "h1")
	if err != nil || !ok {
		t.Fatalf("primer consumo: ok=%v err=%v", ok, err)
	}
	ok, err = s.MFA().ConsumeBackupCode(ctx, "id-1", "h1")
	if err != nil || ok {
		t.Fatalf("segundo consumo debería fallar: ok=%v err=%v", ok, err)
	}
	rest, _ := s.MFA().ListBackupCodeHashes(ctx, "id-1")
	if len(rest) != 1 || rest[0] != "h2" {
		t.Fatalf("códigos restantes: %v", rest)
	}
}

func TestDevices_ExpireTrust(t *testing.T) {
	s := New()
	ctx := context.Background()
	_, _ = s.Devices().Upsert(ctx, "id-1", "fp", "UA")
	past := time.Now().UTC().Add(-time.Hour)
	_ = s.Devices().SetTrust(ctx, "id-1", "fp", types.TrustTrusted, &past)

	n, err := s.Devices().ExpireTrust(ctx, time.Now().UTC())
	if err != nil || n != 1 {
		t.Fatalf("ExpireTrust: n=%d err=%v", n, err)
	}
	d, _ := s.Devices().Get(ctx, "id-1", "fp")
	if d.Trust != types.TrustProvisional || d.TrustExpiresAt != nil {
		t.Fatalf("trust=%s expires=%v, quería provisional degradado", d.Trust, d.TrustExpiresAt)
	}
}

func TestAlerts_OpenKeyDedup(t *testing.T) {
	s := New()
	ctx := context.Background()
	a := &repository.SecurityAlert{
		ID:       "01TEST",
		Type:     types.AlertRepeatedFailures,
		Severity: types.SeverityHigh,
		Subject:  "203.0.113.9",
	}
	if err := s.Alerts().Create(ctx, a); err != nil {
		t.Fatalf("Create: %v", err)
	}
	open, err := s.Alerts().GetOpenByKey(ctx, types.AlertRepeatedFailures, "203.0.113.9")
	if err != nil {
		t.Fatalf("GetOpenByKey: %v", err)
	}
	if err := s.Alerts().Resolve(ctx, open.ID, "operador"); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	// resuelta deja de bloquear la clave
	if _, err := s.Alerts().GetOpenByKey(ctx, types.AlertRepeatedFailures, "203.0.113.9"); !repository.IsNotFound(err) {
		t.Fatalf("alerta resuelta sigue abierta: %v", err)
	}
}
