package pg

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dropDatabas3/aegis/internal/domain/repository"
	"github.com/dropDatabas3/aegis/internal/domain/types"
)

// auditRepo implementa repository.AuditRepository. Append-only.
type auditRepo struct {
	pool *pgxpool.Pool
}

const auditCols = `id, identity_id, org_id, event, provider, success,
	ip_address, user_agent, risk, metadata, created_at`

func (r *auditRepo) Insert(ctx context.Context, ev *repository.AuditEvent) error {
	var meta []byte
	if len(ev.Metadata) > 0 {
		b, err := json.Marshal(ev.Metadata)
		if err != nil {
			return fmt.Errorf("marshal audit metadata: %w", err)
		}
		meta = b
	}

	query := `
		INSERT INTO audit_events (id, identity_id, org_id, event, provider, success,
			ip_address, user_agent, risk, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7::inet, $8, $9, $10, $11)`
	_, err := r.pool.Exec(ctx, query,
		ev.ID, ev.IdentityID, ev.OrgID, ev.Event, nullIfEmpty(ev.Provider), ev.Success,
		nullIfEmpty(ev.IPAddress), nullIfEmpty(ev.UserAgent), ev.Risk, meta, ev.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}
	return nil
}

func scanAudit(row pgx.Row) (*repository.AuditEvent, error) {
	var ev repository.AuditEvent
	var provider, ip, ua *string
	var risk *types.RiskLevel
	var meta []byte
	err := row.Scan(&ev.ID, &ev.IdentityID, &ev.OrgID, &ev.Event, &provider, &ev.Success,
		&ip, &ua, &risk, &meta, &ev.CreatedAt)
	if err != nil {
		return nil, err
	}
	ev.Provider = deref(provider)
	ev.IPAddress = deref(ip)
	ev.UserAgent = deref(ua)
	if risk != nil {
		ev.Risk = *risk
	}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &ev.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal audit metadata: %w", err)
		}
	}
	return &ev, nil
}

// List arma el WHERE dinámicamente según filtros presentes y corre una
// COUNT con el mismo predicado para el total de paginación.
func (r *auditRepo) List(ctx context.Context, filter repository.ListAuditFilter) ([]repository.AuditEvent, int, error) {
	var conds []string
	var args []any

	add := func(cond string, v any) {
		args = append(args, v)
		conds = append(conds, strings.Replace(cond, "?", "$"+strconv.Itoa(len(args)), 1))
	}
	if filter.IdentityID != nil {
		add("identity_id = ?", *filter.IdentityID)
	}
	if filter.OrgID != nil {
		add("org_id = ?", *filter.OrgID)
	}
	if filter.Event != nil {
		add("event = ?", *filter.Event)
	}
	if filter.Success != nil {
		add("success = ?", *filter.Success)
	}
	if filter.From != nil {
		add("created_at >= ?", *filter.From)
	}
	if filter.To != nil {
		add("created_at < ?", *filter.To)
	}

	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM audit_events`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count audit events: %w", err)
	}

	page, size := filter.Page, filter.PageSize
	if page < 1 {
		page = 1
	}
	if size < 1 || size > 500 {
		size = 50
	}
	query := `SELECT ` + auditCols + ` FROM audit_events` + where +
		` ORDER BY created_at DESC LIMIT ` + strconv.Itoa(size) +
		` OFFSET ` + strconv.Itoa((page-1)*size)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list audit events: %w", err)
	}
	defer rows.Close()

	var out []repository.AuditEvent
	for rows.Next() {
		ev, err := scanAudit(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("list audit events scan: %w", err)
		}
		out = append(out, *ev)
	}
	return out, total, rows.Err()
}

func (r *auditRepo) CountFailuresByIP(ctx context.Context, ip string, since time.Time) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM audit_events
		 WHERE ip_address = $1::inet AND success = FALSE AND created_at >= $2`,
		ip, since).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count failures by ip: %w", err)
	}
	return n, nil
}

func (r *auditRepo) DistinctIPsByIdentity(ctx context.Context, identityID string, since time.Time) ([]string, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT DISTINCT ip_address::text FROM audit_events
		 WHERE identity_id = $1 AND event = $2 AND ip_address IS NOT NULL AND created_at >= $3`,
		identityID, types.EventLoginSuccess, since)
	if err != nil {
		return nil, fmt.Errorf("distinct ips by identity: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var ip string
		if err := rows.Scan(&ip); err != nil {
			return nil, fmt.Errorf("distinct ips scan: %w", err)
		}
		out = append(out, ip)
	}
	return out, rows.Err()
}

func (r *auditRepo) DeleteBefore(ctx context.Context, cutoff time.Time) (int, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM audit_events WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete audit events: %w", err)
	}
	return int(tag.RowsAffected()), nil
}
