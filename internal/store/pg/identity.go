package pg

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dropDatabas3/aegis/internal/domain/repository"
)

// identityRepo implementa repository.IdentityRepository.
type identityRepo struct {
	pool *pgxpool.Pool
}

const identityCols = `id, org_id, email, role, given_name, family_name, department,
	active, mfa_enabled, created_at, updated_at, deactivated_at`

func scanIdentity(row pgx.Row) (*repository.Identity, error) {
	var i repository.Identity
	var given, family, dept *string
	err := row.Scan(&i.ID, &i.OrgID, &i.Email, &i.Role, &given, &family, &dept,
		&i.Active, &i.MFAEnabled, &i.CreatedAt, &i.UpdatedAt, &i.DeactivatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	i.GivenName = deref(given)
	i.FamilyName = deref(family)
	i.Department = deref(dept)
	return &i, nil
}

func (r *identityRepo) Create(ctx context.Context, in repository.CreateIdentityInput) (*repository.Identity, error) {
	query := `
		INSERT INTO identities (org_id, email, role, given_name, family_name, department, active)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING ` + identityCols

	row := r.pool.QueryRow(ctx, query,
		in.OrgID,
		strings.ToLower(strings.TrimSpace(in.Email)),
		in.Role,
		nullIfEmpty(in.GivenName),
		nullIfEmpty(in.FamilyName),
		nullIfEmpty(in.Department),
		in.Active,
	)
	i, err := scanIdentity(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, repository.ErrConflict
		}
		return nil, fmt.Errorf("create identity: %w", err)
	}
	return i, nil
}

func (r *identityRepo) GetByID(ctx context.Context, id string) (*repository.Identity, error) {
	query := `SELECT ` + identityCols + ` FROM identities WHERE id = $1`
	i, err := scanIdentity(r.pool.QueryRow(ctx, query, id))
	if err != nil && !repository.IsNotFound(err) {
		return nil, fmt.Errorf("get identity: %w", err)
	}
	return i, err
}

func (r *identityRepo) GetByEmail(ctx context.Context, orgID, email string) (*repository.Identity, error) {
	query := `SELECT ` + identityCols + ` FROM identities WHERE org_id = $1 AND email = $2`
	i, err := scanIdentity(r.pool.QueryRow(ctx, query, orgID, strings.ToLower(strings.TrimSpace(email))))
	if err != nil && !repository.IsNotFound(err) {
		return nil, fmt.Errorf("get identity by email: %w", err)
	}
	return i, err
}

func (r *identityRepo) UpdateAttributes(ctx context.Context, id string, in repository.UpdateAttributesInput) error {
	query := `
		UPDATE identities SET
			given_name  = COALESCE($2, given_name),
			family_name = COALESCE($3, family_name),
			department  = COALESCE($4, department),
			updated_at  = NOW()
		WHERE id = $1`
	tag, err := r.pool.Exec(ctx, query, id, in.GivenName, in.FamilyName, in.Department)
	if err != nil {
		return fmt.Errorf("update identity attributes: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (r *identityRepo) SetRole(ctx context.Context, id, role string) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE identities SET role = $2, updated_at = NOW() WHERE id = $1`, id, role)
	if err != nil {
		return fmt.Errorf("set identity role: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (r *identityRepo) SetMFAEnabled(ctx context.Context, id string, enabled bool) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE identities SET mfa_enabled = $2, updated_at = NOW() WHERE id = $1`, id, enabled)
	if err != nil {
		return fmt.Errorf("set identity mfa flag: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (r *identityRepo) Deactivate(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE identities SET active = FALSE, deactivated_at = NOW(), updated_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("deactivate identity: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}
