// Package memory implementa el Credential Store en memoria.
// Pensado para desarrollo y tests: respeta la misma semántica atómica
// que el adapter de PostgreSQL (updates condicionales, consumo único de
// backup codes) serializando con un mutex por repositorio.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dropDatabas3/aegis/internal/domain/repository"
	"github.com/dropDatabas3/aegis/internal/domain/types"
	"github.com/dropDatabas3/aegis/internal/store"
)

// Store implementa store.Store en memoria.
type Store struct {
	identities *identityRepo
	providers  *providerRepo
	sessions   *sessionRepo
	devices    *deviceRepo
	mfa        *mfaRepo
	audit      *auditRepo
	alerts     *alertRepo
}

// New crea un store en memoria vacío.
func New() *Store {
	return &Store{
		identities: &identityRepo{byID: map[string]*repository.Identity{}},
		providers:  &providerRepo{byID: map[string]*repository.FederationProvider{}},
		sessions:   &sessionRepo{byHash: map[string]*repository.Session{}},
		devices:    &deviceRepo{byKey: map[string]*repository.Device{}},
		mfa:        &mfaRepo{creds: map[string]*repository.MFACredential{}, codes: map[string][]string{}},
		audit:      &auditRepo{},
		alerts:     &alertRepo{byID: map[string]*repository.SecurityAlert{}},
	}
}

var _ store.Store = (*Store)(nil)

func (s *Store) Identities() repository.IdentityRepository { return s.identities }
func (s *Store) Providers() repository.ProviderRepository  { return s.providers }
func (s *Store) Sessions() repository.SessionRepository    { return s.sessions }
func (s *Store) Devices() repository.DeviceRepository      { return s.devices }
func (s *Store) MFA() repository.MFARepository             { return s.mfa }
func (s *Store) Audit() repository.AuditRepository         { return s.audit }
func (s *Store) Alerts() repository.AlertRepository        { return s.alerts }
func (s *Store) Ping(context.Context) error                { return nil }
func (s *Store) Close()                                    {}

// ─── identities ───

type identityRepo struct {
	mu   sync.RWMutex
	byID map[string]*repository.Identity
}

func (r *identityRepo) Create(_ context.Context, in repository.CreateIdentityInput) (*repository.Identity, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	email := strings.ToLower(strings.TrimSpace(in.Email))
	for _, id := range r.byID {
		if id.OrgID == in.OrgID && id.Email == email {
			return nil, repository.ErrConflict
		}
	}
	now := time.Now().UTC()
	ident := &repository.Identity{
		ID:         uuid.NewString(),
		OrgID:      in.OrgID,
		Email:      email,
		Role:       in.Role,
		GivenName:  in.GivenName,
		FamilyName: in.FamilyName,
		Department: in.Department,
		Active:     in.Active,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	r.byID[ident.ID] = ident
	cp := *ident
	return &cp, nil
}

func (r *identityRepo) GetByID(_ context.Context, id string) (*repository.Identity, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ident, ok := r.byID[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *ident
	return &cp, nil
}

func (r *identityRepo) GetByEmail(_ context.Context, orgID, email string) (*repository.Identity, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	email = strings.ToLower(strings.TrimSpace(email))
	for _, ident := range r.byID {
		if ident.OrgID == orgID && ident.Email == email {
			cp := *ident
			return &cp, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *identityRepo) UpdateAttributes(_ context.Context, id string, in repository.UpdateAttributesInput) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	ident, ok := r.byID[id]
	if !ok {
		return repository.ErrNotFound
	}
	if in.GivenName != nil {
		ident.GivenName = *in.GivenName
	}
	if in.FamilyName != nil {
		ident.FamilyName = *in.FamilyName
	}
	if in.Department != nil {
		ident.Department = *in.Department
	}
	ident.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *identityRepo) SetRole(_ context.Context, id, role string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	ident, ok := r.byID[id]
	if !ok {
		return repository.ErrNotFound
	}
	ident.Role = role
	ident.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *identityRepo) SetMFAEnabled(_ context.Context, id string, enabled bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	ident, ok := r.byID[id]
	if !ok {
		return repository.ErrNotFound
	}
	ident.MFAEnabled = enabled
	ident.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *identityRepo) Deactivate(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	ident, ok := r.byID[id]
	if !ok {
		return repository.ErrNotFound
	}
	now := time.Now().UTC()
	ident.Active = false
	ident.DeactivatedAt = &now
	ident.UpdatedAt = now
	return nil
}

// ─── providers ───

type providerRepo struct {
	mu   sync.RWMutex
	byID map[string]*repository.FederationProvider
}

func (r *providerRepo) Create(_ context.Context, p *repository.FederationProvider) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if _, ok := r.byID[p.ID]; ok {
		return repository.ErrConflict
	}
	now := time.Now().UTC()
	p.Version = 1
	p.CreatedAt = now
	p.UpdatedAt = now
	cp := *p
	r.byID[p.ID] = &cp
	return nil
}

func (r *providerRepo) GetByID(_ context.Context, id string) (*repository.FederationProvider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.byID[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (r *providerRepo) ListByOrg(_ context.Context, orgID string) ([]repository.FederationProvider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []repository.FederationProvider
	for _, p := range r.byID {
		if p.OrgID == orgID {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (r *providerRepo) Update(_ context.Context, p *repository.FederationProvider) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.byID[p.ID]
	if !ok {
		return repository.ErrNotFound
	}
	p.Version = cur.Version + 1
	p.CreatedAt = cur.CreatedAt
	p.UpdatedAt = time.Now().UTC()
	cp := *p
	r.byID[p.ID] = &cp
	return nil
}

func (r *providerRepo) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[id]; !ok {
		return repository.ErrNotFound
	}
	delete(r.byID, id)
	return nil
}

// ─── sessions ───

type sessionRepo struct {
	mu     sync.RWMutex
	byHash map[string]*repository.Session
}

func (r *sessionRepo) Create(_ context.Context, in repository.CreateSessionInput) (*repository.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byHash[in.SessionIDHash]; ok {
		return nil, repository.ErrConflict
	}
	now := time.Now().UTC()
	s := &repository.Session{
		ID:                uuid.NewString(),
		IdentityID:        in.IdentityID,
		OrgID:             in.OrgID,
		SessionIDHash:     in.SessionIDHash,
		Fingerprint:       in.Fingerprint,
		IPAddress:         in.IPAddress,
		UserAgent:         in.UserAgent,
		Country:           in.Country,
		Provider:          in.Provider,
		State:             in.State,
		Risk:              in.Risk,
		MFAVerified:       in.MFAVerified,
		SAMLNameID:        in.SAMLNameID,
		SAMLSessionIndex:  in.SAMLSessionIndex,
		CreatedAt:         now,
		LastActivity:      now,
		ExpiresAt:         in.ExpiresAt,
		AbsoluteExpiresAt: in.AbsoluteExpiresAt,
	}
	r.byHash[s.SessionIDHash] = s
	cp := *s
	return &cp, nil
}

func (r *sessionRepo) GetByIDHash(_ context.Context, hash string) (*repository.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.byHash[hash]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (r *sessionRepo) ListActiveByIdentity(_ context.Context, identityID string) ([]repository.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []repository.Session
	for _, s := range r.byHash {
		if s.IdentityID == identityID && !s.State.Terminal() {
			out = append(out, *s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastActivity.After(out[j].LastActivity) })
	return out, nil
}

func (r *sessionRepo) UpdateActivity(_ context.Context, hash string, lastActivity time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.byHash[hash]
	if !ok {
		return repository.ErrNotFound
	}
	// last writer by timestamp wins: nunca retroceder
	if !lastActivity.After(s.LastActivity) {
		return repository.ErrStaleUpdate
	}
	s.LastActivity = lastActivity
	return nil
}

func (r *sessionRepo) Renew(_ context.Context, hash string, newExpiry time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.byHash[hash]
	if !ok {
		return repository.ErrNotFound
	}
	// clamp al absolute expiry, nunca retroceder el expiry vigente
	if newExpiry.After(s.AbsoluteExpiresAt) {
		newExpiry = s.AbsoluteExpiresAt
	}
	if newExpiry.After(s.ExpiresAt) {
		s.ExpiresAt = newExpiry
	}
	return nil
}

func (r *sessionRepo) MarkMFAVerified(_ context.Context, hash string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.byHash[hash]
	if !ok {
		return repository.ErrNotFound
	}
	s.MFAVerified = true
	if s.State == types.SessionProvisional {
		s.State = types.SessionActive
	}
	return nil
}

func (r *sessionRepo) UpdateRisk(_ context.Context, hash string, risk types.RiskLevel) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.byHash[hash]
	if !ok {
		return repository.ErrNotFound
	}
	s.Risk = risk
	return nil
}

func (r *sessionRepo) Rotate(_ context.Context, oldHash, newHash string) (*repository.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.byHash[oldHash]
	if !ok {
		return nil, repository.ErrNotFound
	}
	if s.State.Terminal() {
		return nil, repository.ErrInvalidInput
	}
	delete(r.byHash, oldHash)
	s.SessionIDHash = newHash
	s.RotatedFrom = oldHash
	r.byHash[newHash] = s
	cp := *s
	return &cp, nil
}

func (r *sessionRepo) Revoke(_ context.Context, hash, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.byHash[hash]
	if !ok {
		return repository.ErrNotFound
	}
	now := time.Now().UTC()
	s.State = types.SessionRevoked
	s.RevokedAt = &now
	s.RevokeReason = reason
	return nil
}

func (r *sessionRepo) RevokeAllByIdentity(_ context.Context, identityID, exceptHash, reason string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now().UTC()
	n := 0
	for _, s := range r.byHash {
		if s.IdentityID != identityID || s.State.Terminal() || s.SessionIDHash == exceptHash {
			continue
		}
		s.State = types.SessionRevoked
		s.RevokedAt = &now
		s.RevokeReason = reason
		n++
	}
	return n, nil
}

func (r *sessionRepo) MarkExpired(_ context.Context, hash, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.byHash[hash]
	if !ok {
		return repository.ErrNotFound
	}
	if s.State.Terminal() {
		return nil
	}
	now := time.Now().UTC()
	s.State = types.SessionExpired
	s.RevokedAt = &now
	s.RevokeReason = reason
	return nil
}

func (r *sessionRepo) DeleteTerminatedBefore(_ context.Context, cutoff time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for h, s := range r.byHash {
		if s.State.Terminal() && s.RevokedAt != nil && s.RevokedAt.Before(cutoff) {
			delete(r.byHash, h)
			n++
		}
	}
	return n, nil
}

func (r *sessionRepo) GetStats(_ context.Context, orgID string) (*repository.SessionStats, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	stats := &repository.SessionStats{}
	dayStart := time.Now().UTC().Truncate(24 * time.Hour)
	for _, s := range r.byHash {
		if s.OrgID != orgID {
			continue
		}
		switch s.State {
		case types.SessionActive:
			stats.TotalActive++
		case types.SessionProvisional:
			stats.TotalProvisional++
		}
		if s.CreatedAt.After(dayStart) {
			stats.TotalToday++
		}
	}
	return stats, nil
}

// ─── devices ───

type deviceRepo struct {
	mu    sync.RWMutex
	byKey map[string]*repository.Device // identityID + "/" + fingerprint
}

func devKey(identityID, fp string) string { return identityID + "/" + fp }

func (r *deviceRepo) Get(_ context.Context, identityID, fp string) (*repository.Device, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.byKey[devKey(identityID, fp)]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *d
	return &cp, nil
}

func (r *deviceRepo) Upsert(_ context.Context, identityID, fp, userAgent string) (*repository.Device, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now().UTC()
	if d, ok := r.byKey[devKey(identityID, fp)]; ok {
		d.LastUsed = now
		d.UserAgent = userAgent
		cp := *d
		return &cp, nil
	}
	d := &repository.Device{
		FingerprintHash: fp,
		IdentityID:      identityID,
		Trust:           types.TrustUntrusted,
		UserAgent:       userAgent,
		FirstSeen:       now,
		LastUsed:        now,
	}
	r.byKey[devKey(identityID, fp)] = d
	cp := *d
	return &cp, nil
}

func (r *deviceRepo) SetTrust(_ context.Context, identityID, fp string, trust types.TrustLevel, expiresAt *time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.byKey[devKey(identityID, fp)]
	if !ok {
		return repository.ErrNotFound
	}
	d.Trust = trust
	d.TrustExpiresAt = expiresAt
	return nil
}

func (r *deviceRepo) ListByIdentity(_ context.Context, identityID string) ([]repository.Device, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []repository.Device
	for _, d := range r.byKey {
		if d.IdentityID == identityID {
			out = append(out, *d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastUsed.After(out[j].LastUsed) })
	return out, nil
}

func (r *deviceRepo) ExpireTrust(_ context.Context, now time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, d := range r.byKey {
		if d.Trust == types.TrustTrusted && d.TrustExpiresAt != nil && d.TrustExpiresAt.Before(now) {
			d.Trust = types.TrustProvisional
			d.TrustExpiresAt = nil
			n++
		}
	}
	return n, nil
}

// ─── mfa ───

type mfaRepo struct {
	mu    sync.Mutex
	creds map[string]*repository.MFACredential
	codes map[string][]string
}

func (r *mfaRepo) UpsertSecret(_ context.Context, identityID, secretEnc string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now().UTC()
	c, ok := r.creds[identityID]
	if !ok {
		c = &repository.MFACredential{IdentityID: identityID, CreatedAt: now}
		r.creds[identityID] = c
	}
	c.SecretEnc = secretEnc
	c.Enabled = false
	c.ConfirmedAt = nil
	c.FailedAttempts = 0
	c.LastCounter = nil
	c.UpdatedAt = now
	r.codes[identityID] = nil
	return nil
}

func (r *mfaRepo) Get(_ context.Context, identityID string) (*repository.MFACredential, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.creds[identityID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (r *mfaRepo) Confirm(_ context.Context, identityID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.creds[identityID]
	if !ok {
		return repository.ErrNotFound
	}
	now := time.Now().UTC()
	c.Enabled = true
	c.ConfirmedAt = &now
	c.UpdatedAt = now
	return nil
}

func (r *mfaRepo) Disable(_ context.Context, identityID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.creds[identityID]; !ok {
		return repository.ErrNotFound
	}
	delete(r.creds, identityID)
	delete(r.codes, identityID)
	return nil
}

func (r *mfaRepo) RecordSuccess(_ context.Context, identityID string, counter *int64, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.creds[identityID]
	if !ok {
		return repository.ErrNotFound
	}
	c.FailedAttempts = 0
	c.LastSuccessAt = &at
	if counter != nil {
		c.LastCounter = counter
	}
	c.UpdatedAt = at
	return nil
}

func (r *mfaRepo) RecordFailure(_ context.Context, identityID string, at time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.creds[identityID]
	if !ok {
		return 0, repository.ErrNotFound
	}
	c.FailedAttempts++
	c.LastFailureAt = &at
	c.UpdatedAt = at
	return c.FailedAttempts, nil
}

func (r *mfaRepo) ResetFailures(_ context.Context, identityID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.creds[identityID]
	if !ok {
		return repository.ErrNotFound
	}
	c.FailedAttempts = 0
	return nil
}

func (r *mfaRepo) SetBackupCodes(_ context.Context, identityID string, hashes []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.codes[identityID] = append([]string(nil), hashes...)
	return nil
}

func (r *mfaRepo) ListBackupCodeHashes(_ context.Context, identityID string) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.codes[identityID]...), nil
}

func (r *mfaRepo) ConsumeBackupCode(_ context.Context, identityID, hash string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	list := r.codes[identityID]
	for i, h := range list {
		if h == hash {
			r.codes[identityID] = append(list[:i], list[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

// ─── audit ───

type auditRepo struct {
	mu     sync.RWMutex
	events []repository.AuditEvent
}

func (r *auditRepo) Insert(_ context.Context, ev *repository.AuditEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}
	r.events = append(r.events, *ev)
	return nil
}

func (r *auditRepo) List(_ context.Context, f repository.ListAuditFilter) ([]repository.AuditEvent, int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var matched []repository.AuditEvent
	for _, ev := range r.events {
		if f.IdentityID != nil && (ev.IdentityID == nil || *ev.IdentityID != *f.IdentityID) {
			continue
		}
		if f.OrgID != nil && ev.OrgID != *f.OrgID {
			continue
		}
		if f.Event != nil && ev.Event != *f.Event {
			continue
		}
		if f.Success != nil && ev.Success != *f.Success {
			continue
		}
		if f.From != nil && ev.CreatedAt.Before(*f.From) {
			continue
		}
		if f.To != nil && ev.CreatedAt.After(*f.To) {
			continue
		}
		matched = append(matched, ev)
	}
	// más recientes primero
	sort.Slice(matched, func(i, j int) bool { return matched[i].CreatedAt.After(matched[j].CreatedAt) })
	total := len(matched)

	page, size := f.Page, f.PageSize
	if size <= 0 {
		size = 50
	}
	if page <= 0 {
		page = 1
	}
	start := (page - 1) * size
	if start >= total {
		return nil, total, nil
	}
	end := start + size
	if end > total {
		end = total
	}
	return matched[start:end], total, nil
}

func (r *auditRepo) CountFailuresByIP(_ context.Context, ip string, since time.Time) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, ev := range r.events {
		if ev.IPAddress == ip && !ev.Success && ev.CreatedAt.After(since) {
			n++
		}
	}
	return n, nil
}

func (r *auditRepo) DistinctIPsByIdentity(_ context.Context, identityID string, since time.Time) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	seen := map[string]bool{}
	var out []string
	for _, ev := range r.events {
		if ev.IdentityID == nil || *ev.IdentityID != identityID {
			continue
		}
		if !ev.Success || ev.Event != types.EventLoginSuccess || ev.CreatedAt.Before(since) {
			continue
		}
		if ev.IPAddress != "" && !seen[ev.IPAddress] {
			seen[ev.IPAddress] = true
			out = append(out, ev.IPAddress)
		}
	}
	return out, nil
}

func (r *auditRepo) DeleteBefore(_ context.Context, cutoff time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	kept := r.events[:0]
	n := 0
	for _, ev := range r.events {
		if ev.CreatedAt.Before(cutoff) {
			n++
			continue
		}
		kept = append(kept, ev)
	}
	r.events = kept
	return n, nil
}

// ─── alerts ───

type alertRepo struct {
	mu   sync.RWMutex
	byID map[string]*repository.SecurityAlert
}

func (r *alertRepo) Create(_ context.Context, a *repository.SecurityAlert) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if a.ID == "" {
		return repository.ErrInvalidInput
	}
	if _, ok := r.byID[a.ID]; ok {
		return repository.ErrConflict
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	cp := *a
	r.byID[a.ID] = &cp
	return nil
}

func (r *alertRepo) GetOpenByKey(_ context.Context, alertType types.AlertType, subject string) (*repository.SecurityAlert, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, a := range r.byID {
		if a.Type == alertType && a.Subject == subject && !a.Resolved {
			cp := *a
			return &cp, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *alertRepo) GetByID(_ context.Context, id string) (*repository.SecurityAlert, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.byID[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (r *alertRepo) List(_ context.Context, f repository.ListAlertsFilter) ([]repository.SecurityAlert, int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var matched []repository.SecurityAlert
	for _, a := range r.byID {
		if f.OrgID != nil && a.OrgID != *f.OrgID {
			continue
		}
		if f.Type != nil && a.Type != *f.Type {
			continue
		}
		if f.Resolved != nil && a.Resolved != *f.Resolved {
			continue
		}
		matched = append(matched, *a)
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].CreatedAt.After(matched[j].CreatedAt) })
	total := len(matched)

	page, size := f.Page, f.PageSize
	if size <= 0 {
		size = 50
	}
	if page <= 0 {
		page = 1
	}
	start := (page - 1) * size
	if start >= total {
		return nil, total, nil
	}
	end := start + size
	if end > total {
		end = total
	}
	return matched[start:end], total, nil
}

func (r *alertRepo) Resolve(_ context.Context, id, resolvedBy string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.byID[id]
	if !ok {
		return repository.ErrNotFound
	}
	now := time.Now().UTC()
	a.Resolved = true
	a.ResolvedBy = resolvedBy
	a.ResolvedAt = &now
	return nil
}

func (r *alertRepo) DeleteResolvedBefore(_ context.Context, cutoff time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for id, a := range r.byID {
		if a.Resolved && a.ResolvedAt != nil && a.ResolvedAt.Before(cutoff) {
			delete(r.byID, id)
			n++
		}
	}
	return n, nil
}
