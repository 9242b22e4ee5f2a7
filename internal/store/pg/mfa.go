package pg

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dropDatabas3/aegis/internal/domain/repository"
)

// mfaRepo implementa repository.MFARepository.
type mfaRepo struct {
	pool *pgxpool.Pool
}

const mfaCols = `identity_id, secret_enc, enabled, confirmed_at, failed_attempts,
	last_failure_at, last_success_at, last_counter, created_at, updated_at`

func scanMFA(row pgx.Row) (*repository.MFACredential, error) {
	var c repository.MFACredential
	err := row.Scan(&c.IdentityID, &c.SecretEnc, &c.Enabled, &c.ConfirmedAt, &c.FailedAttempts,
		&c.LastFailureAt, &c.LastSuccessAt, &c.LastCounter, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// UpsertSecret reemplaza el secreto y resetea el estado: la credencial
// queda pendiente de confirmación y sin backup codes.
func (r *mfaRepo) UpsertSecret(ctx context.Context, identityID, secretEnc string) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("upsert mfa secret: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `
		INSERT INTO mfa_credentials (identity_id, secret_enc, enabled, failed_attempts, created_at, updated_at)
		VALUES ($1, $2, FALSE, 0, NOW(), NOW())
		ON CONFLICT (identity_id) DO UPDATE SET
			secret_enc = EXCLUDED.secret_enc,
			enabled = FALSE,
			confirmed_at = NULL,
			failed_attempts = 0,
			last_counter = NULL,
			updated_at = NOW()`
	if _, err := tx.Exec(ctx, query, identityID, secretEnc); err != nil {
		return fmt.Errorf("upsert mfa secret: %w", err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM mfa_backup_codes WHERE identity_id = $1`, identityID); err != nil {
		return fmt.Errorf("upsert mfa secret: clear codes: %w", err)
	}
	return tx.Commit(ctx)
}

func (r *mfaRepo) Get(ctx context.Context, identityID string) (*repository.MFACredential, error) {
	query := `SELECT ` + mfaCols + ` FROM mfa_credentials WHERE identity_id = $1`
	c, err := scanMFA(r.pool.QueryRow(ctx, query, identityID))
	if err != nil && !repository.IsNotFound(err) {
		return nil, fmt.Errorf("get mfa credential: %w", err)
	}
	return c, err
}

func (r *mfaRepo) Confirm(ctx context.Context, identityID string) error {
	query := `UPDATE mfa_credentials
		SET enabled = TRUE, confirmed_at = NOW(), updated_at = NOW()
		WHERE identity_id = $1`
	tag, err := r.pool.Exec(ctx, query, identityID)
	if err != nil {
		return fmt.Errorf("confirm mfa: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// Disable borra secreto y backup codes en una transacción.
func (r *mfaRepo) Disable(ctx context.Context, identityID string) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("disable mfa: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `DELETE FROM mfa_credentials WHERE identity_id = $1`, identityID)
	if err != nil {
		return fmt.Errorf("disable mfa: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	if _, err := tx.Exec(ctx, `DELETE FROM mfa_backup_codes WHERE identity_id = $1`, identityID); err != nil {
		return fmt.Errorf("disable mfa: clear codes: %w", err)
	}
	return tx.Commit(ctx)
}

func (r *mfaRepo) RecordSuccess(ctx context.Context, identityID string, counter *int64, at time.Time) error {
	query := `UPDATE mfa_credentials
		SET failed_attempts = 0,
		    last_success_at = $2,
		    last_counter = COALESCE($3, last_counter),
		    updated_at = NOW()
		WHERE identity_id = $1`
	tag, err := r.pool.Exec(ctx, query, identityID, at, counter)
	if err != nil {
		return fmt.Errorf("record mfa success: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// RecordFailure incrementa el contador en el store (no en memoria):
// varios workers que fallan a la vez ven contadores consecutivos.
func (r *mfaRepo) RecordFailure(ctx context.Context, identityID string, at time.Time) (int, error) {
	query := `UPDATE mfa_credentials
		SET failed_attempts = failed_attempts + 1, last_failure_at = $2, updated_at = NOW()
		WHERE identity_id = $1
		RETURNING failed_attempts`
	var n int
	err := r.pool.QueryRow(ctx, query, identityID, at).Scan(&n)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, repository.ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("record mfa failure: %w", err)
	}
	return n, nil
}

func (r *mfaRepo) ResetFailures(ctx context.Context, identityID string) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE mfa_credentials SET failed_attempts = 0, updated_at = NOW() WHERE identity_id = $1`,
		identityID)
	if err != nil {
		return fmt.Errorf("reset mfa failures: %w", err)
	}
	return nil
}

func (r *mfaRepo) SetBackupCodes(ctx context.Context, identityID string, hashes []string) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("set backup codes: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM mfa_backup_codes WHERE identity_id = $1`, identityID); err != nil {
		return fmt.Errorf("set backup codes: clear: %w", err)
	}
	for _, h := range hashes {
		if _, err := tx.Exec(ctx,
			`INSERT INTO mfa_backup_codes (identity_id, code_hash) VALUES ($1, $2)`,
			identityID, h); err != nil {
			return fmt.Errorf("set backup codes: insert: %w", err)
		}
	}
	return tx.Commit(ctx)
}

func (r *mfaRepo) ListBackupCodeHashes(ctx context.Context, identityID string) ([]string, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT code_hash FROM mfa_backup_codes WHERE identity_id = $1`, identityID)
	if err != nil {
		return nil, fmt.Errorf("list backup codes: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var h string
		if err := rows.Scan(&h); err != nil {
			return nil, fmt.Errorf("list backup codes scan: %w", err)
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

// ConsumeBackupCode: el DELETE es el punto de consumo atómico. Dos
// verificaciones concurrentes del mismo code: exactamente una ve
// RowsAffected() == 1.
func (r *mfaRepo) ConsumeBackupCode(ctx context.Context, identityID, hash string) (bool, error) {
	tag, err := r.pool.Exec(ctx,
		`DELETE FROM mfa_backup_codes WHERE identity_id = $1 AND code_hash = $2`,
		identityID, hash)
	if err != nil {
		return false, fmt.Errorf("consume backup code: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}
