package pg

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dropDatabas3/aegis/internal/domain/repository"
	"github.com/dropDatabas3/aegis/internal/domain/types"
)

// alertRepo implementa repository.AlertRepository.
type alertRepo struct {
	pool *pgxpool.Pool
}

const alertCols = `id, type, severity, org_id, identity_id, subject, description,
	evidence, resolved, resolved_by, resolved_at, created_at`

func (r *alertRepo) Create(ctx context.Context, a *repository.SecurityAlert) error {
	var evidence []byte
	if len(a.Evidence) > 0 {
		b, err := json.Marshal(a.Evidence)
		if err != nil {
			return fmt.Errorf("marshal alert evidence: %w", err)
		}
		evidence = b
	}

	query := `
		INSERT INTO security_alerts (id, type, severity, org_id, identity_id, subject,
			description, evidence, resolved, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, FALSE, $9)`
	_, err := r.pool.Exec(ctx, query,
		a.ID, a.Type, a.Severity, a.OrgID, a.IdentityID, a.Subject,
		a.Description, evidence, a.CreatedAt)
	if err != nil {
		return fmt.Errorf("create alert: %w", err)
	}
	return nil
}

func scanAlert(row pgx.Row) (*repository.SecurityAlert, error) {
	var a repository.SecurityAlert
	var resolvedBy *string
	var evidence []byte
	err := row.Scan(&a.ID, &a.Type, &a.Severity, &a.OrgID, &a.IdentityID, &a.Subject,
		&a.Description, &evidence, &a.Resolved, &resolvedBy, &a.ResolvedAt, &a.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	a.ResolvedBy = deref(resolvedBy)
	if len(evidence) > 0 {
		if err := json.Unmarshal(evidence, &a.Evidence); err != nil {
			return nil, fmt.Errorf("unmarshal alert evidence: %w", err)
		}
	}
	return &a, nil
}

func (r *alertRepo) GetOpenByKey(ctx context.Context, alertType types.AlertType, subject string) (*repository.SecurityAlert, error) {
	query := `SELECT ` + alertCols + ` FROM security_alerts
		WHERE type = $1 AND subject = $2 AND resolved = FALSE
		ORDER BY created_at DESC LIMIT 1`
	a, err := scanAlert(r.pool.QueryRow(ctx, query, alertType, subject))
	if err != nil && !repository.IsNotFound(err) {
		return nil, fmt.Errorf("get open alert: %w", err)
	}
	return a, err
}

func (r *alertRepo) GetByID(ctx context.Context, id string) (*repository.SecurityAlert, error) {
	query := `SELECT ` + alertCols + ` FROM security_alerts WHERE id = $1`
	a, err := scanAlert(r.pool.QueryRow(ctx, query, id))
	if err != nil && !repository.IsNotFound(err) {
		return nil, fmt.Errorf("get alert: %w", err)
	}
	return a, err
}

func (r *alertRepo) List(ctx context.Context, filter repository.ListAlertsFilter) ([]repository.SecurityAlert, int, error) {
	var conds []string
	var args []any

	add := func(cond string, v any) {
		args = append(args, v)
		conds = append(conds, strings.Replace(cond, "?", "$"+strconv.Itoa(len(args)), 1))
	}
	if filter.OrgID != nil {
		add("org_id = ?", *filter.OrgID)
	}
	if filter.Type != nil {
		add("type = ?", *filter.Type)
	}
	if filter.Resolved != nil {
		add("resolved = ?", *filter.Resolved)
	}

	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM security_alerts`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count alerts: %w", err)
	}

	page, size := filter.Page, filter.PageSize
	if page < 1 {
		page = 1
	}
	if size < 1 || size > 500 {
		size = 50
	}
	query := `SELECT ` + alertCols + ` FROM security_alerts` + where +
		` ORDER BY created_at DESC LIMIT ` + strconv.Itoa(size) +
		` OFFSET ` + strconv.Itoa((page-1)*size)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list alerts: %w", err)
	}
	defer rows.Close()

	var out []repository.SecurityAlert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("list alerts scan: %w", err)
		}
		out = append(out, *a)
	}
	return out, total, rows.Err()
}

func (r *alertRepo) Resolve(ctx context.Context, id, resolvedBy string) error {
	query := `UPDATE security_alerts
		SET resolved = TRUE, resolved_by = $2, resolved_at = NOW()
		WHERE id = $1 AND resolved = FALSE`
	tag, err := r.pool.Exec(ctx, query, id, resolvedBy)
	if err != nil {
		return fmt.Errorf("resolve alert: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (r *alertRepo) DeleteResolvedBefore(ctx context.Context, cutoff time.Time) (int, error) {
	tag, err := r.pool.Exec(ctx,
		`DELETE FROM security_alerts WHERE resolved = TRUE AND resolved_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete resolved alerts: %w", err)
	}
	return int(tag.RowsAffected()), nil
}
