package pg

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dropDatabas3/aegis/internal/domain/repository"
	"github.com/dropDatabas3/aegis/internal/domain/types"
)

// sessionRepo implementa repository.SessionRepository.
type sessionRepo struct {
	pool *pgxpool.Pool
}

const sessionCols = `id, identity_id, org_id, session_id_hash, fingerprint, ip_address,
	user_agent, country, provider, state, risk, mfa_verified,
	saml_name_id, saml_session_index,
	created_at, last_activity, expires_at, absolute_expires_at,
	revoked_at, revoke_reason, rotated_from`

func scanSession(row pgx.Row) (*repository.Session, error) {
	var s repository.Session
	var ip, ua, country, provider, nameID, sessIdx, reason, rotated *string
	err := row.Scan(&s.ID, &s.IdentityID, &s.OrgID, &s.SessionIDHash, &s.Fingerprint, &ip,
		&ua, &country, &provider, &s.State, &s.Risk, &s.MFAVerified,
		&nameID, &sessIdx,
		&s.CreatedAt, &s.LastActivity, &s.ExpiresAt, &s.AbsoluteExpiresAt,
		&s.RevokedAt, &reason, &rotated)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	s.IPAddress = deref(ip)
	s.UserAgent = deref(ua)
	s.Country = deref(country)
	s.Provider = deref(provider)
	s.SAMLNameID = deref(nameID)
	s.SAMLSessionIndex = deref(sessIdx)
	s.RevokeReason = deref(reason)
	s.RotatedFrom = deref(rotated)
	return &s, nil
}

func (r *sessionRepo) Create(ctx context.Context, in repository.CreateSessionInput) (*repository.Session, error) {
	query := `
		INSERT INTO sessions (
			identity_id, org_id, session_id_hash, fingerprint, ip_address,
			user_agent, country, provider, state, risk, mfa_verified,
			saml_name_id, saml_session_index,
			expires_at, absolute_expires_at, created_at, last_activity
		) VALUES (
			$1, $2, $3, $4, $5::inet,
			$6, $7, $8, $9, $10, $11,
			$12, $13,
			$14, $15, NOW(), NOW()
		)
		RETURNING ` + sessionCols

	s, err := scanSession(r.pool.QueryRow(ctx, query,
		in.IdentityID, in.OrgID, in.SessionIDHash, in.Fingerprint, nullIfEmpty(in.IPAddress),
		nullIfEmpty(in.UserAgent), nullIfEmpty(in.Country), nullIfEmpty(in.Provider),
		in.State, in.Risk, in.MFAVerified,
		nullIfEmpty(in.SAMLNameID), nullIfEmpty(in.SAMLSessionIndex),
		in.ExpiresAt, in.AbsoluteExpiresAt,
	))
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	return s, nil
}

func (r *sessionRepo) GetByIDHash(ctx context.Context, hash string) (*repository.Session, error) {
	query := `SELECT ` + sessionCols + ` FROM sessions WHERE session_id_hash = $1`
	s, err := scanSession(r.pool.QueryRow(ctx, query, hash))
	if err != nil && !repository.IsNotFound(err) {
		return nil, fmt.Errorf("get session: %w", err)
	}
	return s, err
}

func (r *sessionRepo) ListActiveByIdentity(ctx context.Context, identityID string) ([]repository.Session, error) {
	query := `SELECT ` + sessionCols + `
		FROM sessions
		WHERE identity_id = $1 AND state IN ('provisional', 'active')
		ORDER BY last_activity DESC`
	rows, err := r.pool.Query(ctx, query, identityID)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var out []repository.Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("list sessions scan: %w", err)
		}
		out = append(out, *s)
	}
	return out, rows.Err()
}

// UpdateActivity avanza last-activity solo hacia adelante: el WHERE
// descarta escritores stale sin round-trip adicional.
func (r *sessionRepo) UpdateActivity(ctx context.Context, hash string, lastActivity time.Time) error {
	query := `UPDATE sessions SET last_activity = $2
		WHERE session_id_hash = $1 AND last_activity < $2`
	tag, err := r.pool.Exec(ctx, query, hash, lastActivity)
	if err != nil {
		return fmt.Errorf("update session activity: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// o no existe o un escritor más nuevo ya pasó
		if _, err := r.GetByIDHash(ctx, hash); err != nil {
			return err
		}
		return repository.ErrStaleUpdate
	}
	return nil
}

// Renew extiende expires-at con clamp al absolute expiry. Idempotente:
// GREATEST evita retrocesos y LEAST evita pasar el techo, sin importar
// cuántas renovaciones corran en paralelo.
func (r *sessionRepo) Renew(ctx context.Context, hash string, newExpiry time.Time) error {
	query := `UPDATE sessions
		SET expires_at = GREATEST(expires_at, LEAST($2, absolute_expires_at))
		WHERE session_id_hash = $1 AND state IN ('provisional', 'active')`
	tag, err := r.pool.Exec(ctx, query, hash, newExpiry)
	if err != nil {
		return fmt.Errorf("renew session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (r *sessionRepo) MarkMFAVerified(ctx context.Context, hash string) error {
	query := `UPDATE sessions
		SET mfa_verified = TRUE,
		    state = CASE WHEN state = 'provisional' THEN 'active' ELSE state END
		WHERE session_id_hash = $1 AND state IN ('provisional', 'active')`
	tag, err := r.pool.Exec(ctx, query, hash)
	if err != nil {
		return fmt.Errorf("mark session mfa verified: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (r *sessionRepo) UpdateRisk(ctx context.Context, hash string, risk types.RiskLevel) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE sessions SET risk = $2 WHERE session_id_hash = $1`, hash, risk)
	if err != nil {
		return fmt.Errorf("update session risk: %w", err)
	}
	return nil
}

func (r *sessionRepo) Rotate(ctx context.Context, oldHash, newHash string) (*repository.Session, error) {
	query := `UPDATE sessions
		SET session_id_hash = $2, rotated_from = $1
		WHERE session_id_hash = $1 AND state IN ('provisional', 'active')
		RETURNING ` + sessionCols
	s, err := scanSession(r.pool.QueryRow(ctx, query, oldHash, newHash))
	if err != nil {
		if repository.IsNotFound(err) {
			return nil, err
		}
		return nil, fmt.Errorf("rotate session: %w", err)
	}
	return s, nil
}

func (r *sessionRepo) Revoke(ctx context.Context, hash, reason string) error {
	query := `UPDATE sessions
		SET state = 'revoked', revoked_at = NOW(), revoke_reason = $2
		WHERE session_id_hash = $1 AND state IN ('provisional', 'active')`
	tag, err := r.pool.Exec(ctx, query, hash, reason)
	if err != nil {
		return fmt.Errorf("revoke session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (r *sessionRepo) RevokeAllByIdentity(ctx context.Context, identityID, exceptHash, reason string) (int, error) {
	query := `UPDATE sessions
		SET state = 'revoked', revoked_at = NOW(), revoke_reason = $3
		WHERE identity_id = $1 AND state IN ('provisional', 'active')
		  AND ($2 = '' OR session_id_hash <> $2)`
	tag, err := r.pool.Exec(ctx, query, identityID, exceptHash, reason)
	if err != nil {
		return 0, fmt.Errorf("revoke all sessions: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (r *sessionRepo) MarkExpired(ctx context.Context, hash, reason string) error {
	query := `UPDATE sessions
		SET state = 'expired', revoked_at = NOW(), revoke_reason = $2
		WHERE session_id_hash = $1 AND state IN ('provisional', 'active')`
	if _, err := r.pool.Exec(ctx, query, hash, reason); err != nil {
		return fmt.Errorf("mark session expired: %w", err)
	}
	return nil
}

func (r *sessionRepo) DeleteTerminatedBefore(ctx context.Context, cutoff time.Time) (int, error) {
	query := `DELETE FROM sessions
		WHERE state IN ('expired', 'revoked') AND revoked_at < $1`
	tag, err := r.pool.Exec(ctx, query, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete terminated sessions: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (r *sessionRepo) GetStats(ctx context.Context, orgID string) (*repository.SessionStats, error) {
	query := `SELECT
		COUNT(*) FILTER (WHERE state = 'active'),
		COUNT(*) FILTER (WHERE state = 'provisional'),
		COUNT(*) FILTER (WHERE created_at >= date_trunc('day', NOW()))
		FROM sessions WHERE org_id = $1`
	var st repository.SessionStats
	err := r.pool.QueryRow(ctx, query, orgID).Scan(&st.TotalActive, &st.TotalProvisional, &st.TotalToday)
	if err != nil {
		return nil, fmt.Errorf("session stats: %w", err)
	}
	return &st, nil
}
