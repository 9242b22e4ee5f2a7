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

// deviceRepo implementa repository.DeviceRepository.
type deviceRepo struct {
	pool *pgxpool.Pool
}

const deviceCols = `fingerprint_hash, identity_id, trust, user_agent, first_seen, last_used, trust_expires_at`

func scanDevice(row pgx.Row) (*repository.Device, error) {
	var d repository.Device
	var ua *string
	err := row.Scan(&d.FingerprintHash, &d.IdentityID, &d.Trust, &ua, &d.FirstSeen, &d.LastUsed, &d.TrustExpiresAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	d.UserAgent = deref(ua)
	return &d, nil
}

func (r *deviceRepo) Get(ctx context.Context, identityID, fp string) (*repository.Device, error) {
	query := `SELECT ` + deviceCols + ` FROM devices WHERE identity_id = $1 AND fingerprint_hash = $2`
	d, err := scanDevice(r.pool.QueryRow(ctx, query, identityID, fp))
	if err != nil && !repository.IsNotFound(err) {
		return nil, fmt.Errorf("get device: %w", err)
	}
	return d, err
}

// Upsert: primer encuentro crea untrusted; los siguientes solo tocan
// last-used. ON CONFLICT garantiza unicidad (identity, fingerprint)
// ante logins concurrentes del mismo dispositivo.
func (r *deviceRepo) Upsert(ctx context.Context, identityID, fp, userAgent string) (*repository.Device, error) {
	query := `
		INSERT INTO devices (identity_id, fingerprint_hash, trust, user_agent, first_seen, last_used)
		VALUES ($1, $2, 'untrusted', $3, NOW(), NOW())
		ON CONFLICT (identity_id, fingerprint_hash)
		DO UPDATE SET last_used = NOW(), user_agent = EXCLUDED.user_agent
		RETURNING ` + deviceCols
	d, err := scanDevice(r.pool.QueryRow(ctx, query, identityID, fp, nullIfEmpty(userAgent)))
	if err != nil {
		return nil, fmt.Errorf("upsert device: %w", err)
	}
	return d, nil
}

func (r *deviceRepo) SetTrust(ctx context.Context, identityID, fp string, trust types.TrustLevel, expiresAt *time.Time) error {
	query := `UPDATE devices SET trust = $3, trust_expires_at = $4
		WHERE identity_id = $1 AND fingerprint_hash = $2`
	tag, err := r.pool.Exec(ctx, query, identityID, fp, trust, expiresAt)
	if err != nil {
		return fmt.Errorf("set device trust: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (r *deviceRepo) ListByIdentity(ctx context.Context, identityID string) ([]repository.Device, error) {
	query := `SELECT ` + deviceCols + ` FROM devices WHERE identity_id = $1 ORDER BY last_used DESC`
	rows, err := r.pool.Query(ctx, query, identityID)
	if err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}
	defer rows.Close()

	var out []repository.Device
	for rows.Next() {
		d, err := scanDevice(rows)
		if err != nil {
			return nil, fmt.Errorf("list devices scan: %w", err)
		}
		out = append(out, *d)
	}
	return out, rows.Err()
}

func (r *deviceRepo) ExpireTrust(ctx context.Context, now time.Time) (int, error) {
	query := `UPDATE devices SET trust = 'provisional', trust_expires_at = NULL
		WHERE trust = 'trusted' AND trust_expires_at IS NOT NULL AND trust_expires_at < $1`
	tag, err := r.pool.Exec(ctx, query, now)
	if err != nil {
		return 0, fmt.Errorf("expire device trust: %w", err)
	}
	return int(tag.RowsAffected()), nil
}
