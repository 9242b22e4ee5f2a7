package pg

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dropDatabas3/aegis/internal/domain/repository"
)

// providerRepo implementa repository.ProviderRepository. La config
// por protocolo (variante etiquetada) se guarda como JSONB.
type providerRepo struct {
	pool *pgxpool.Pool
}

// providerDoc es la forma JSONB de la parte variable del provider.
type providerDoc struct {
	SAML         *repository.SAMLConfig      `json:"saml,omitempty"`
	OAuth        *repository.OAuthConfig     `json:"oauth,omitempty"`
	OIDC         *repository.OIDCConfig      `json:"oidc,omitempty"`
	AttributeMap repository.AttributeMap     `json:"attribute_map,omitempty"`
	RoleRules    []repository.RoleRule       `json:"role_rules,omitempty"`
	Settings     repository.ProviderSettings `json:"settings"`
}

func (r *providerRepo) Create(ctx context.Context, p *repository.FederationProvider) error {
	doc, err := json.Marshal(providerDoc{
		SAML: p.SAML, OAuth: p.OAuth, OIDC: p.OIDC,
		AttributeMap: p.AttributeMap, RoleRules: p.RoleRules, Settings: p.Settings,
	})
	if err != nil {
		return fmt.Errorf("marshal provider config: %w", err)
	}

	query := `
		INSERT INTO federation_providers (org_id, name, kind, version, config)
		VALUES ($1, $2, $3, 1, $4)
		RETURNING id, version, created_at, updated_at`
	err = r.pool.QueryRow(ctx, query, p.OrgID, p.Name, p.Kind, doc).
		Scan(&p.ID, &p.Version, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return repository.ErrConflict
		}
		return fmt.Errorf("create provider: %w", err)
	}
	return nil
}

func scanProvider(row pgx.Row) (*repository.FederationProvider, error) {
	var p repository.FederationProvider
	var doc []byte
	err := row.Scan(&p.ID, &p.OrgID, &p.Name, &p.Kind, &p.Version, &doc, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var d providerDoc
	if err := json.Unmarshal(doc, &d); err != nil {
		return nil, fmt.Errorf("unmarshal provider config: %w", err)
	}
	p.SAML, p.OAuth, p.OIDC = d.SAML, d.OAuth, d.OIDC
	p.AttributeMap, p.RoleRules, p.Settings = d.AttributeMap, d.RoleRules, d.Settings
	return &p, nil
}

const providerCols = `id, org_id, name, kind, version, config, created_at, updated_at`

func (r *providerRepo) GetByID(ctx context.Context, id string) (*repository.FederationProvider, error) {
	query := `SELECT ` + providerCols + ` FROM federation_providers WHERE id = $1`
	p, err := scanProvider(r.pool.QueryRow(ctx, query, id))
	if err != nil && !repository.IsNotFound(err) {
		return nil, fmt.Errorf("get provider: %w", err)
	}
	return p, err
}

func (r *providerRepo) ListByOrg(ctx context.Context, orgID string) ([]repository.FederationProvider, error) {
	query := `SELECT ` + providerCols + ` FROM federation_providers WHERE org_id = $1 ORDER BY name`
	rows, err := r.pool.Query(ctx, query, orgID)
	if err != nil {
		return nil, fmt.Errorf("list providers: %w", err)
	}
	defer rows.Close()

	var out []repository.FederationProvider
	for rows.Next() {
		p, err := scanProvider(rows)
		if err != nil {
			return nil, fmt.Errorf("list providers scan: %w", err)
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

// Update reemplaza la config e incrementa version de forma atómica.
// El hot cache compara version para invalidar lecturas stale.
func (r *providerRepo) Update(ctx context.Context, p *repository.FederationProvider) error {
	doc, err := json.Marshal(providerDoc{
		SAML: p.SAML, OAuth: p.OAuth, OIDC: p.OIDC,
		AttributeMap: p.AttributeMap, RoleRules: p.RoleRules, Settings: p.Settings,
	})
	if err != nil {
		return fmt.Errorf("marshal provider config: %w", err)
	}

	query := `
		UPDATE federation_providers
		SET name = $2, kind = $3, config = $4, version = version + 1, updated_at = NOW()
		WHERE id = $1
		RETURNING version, updated_at`
	err = r.pool.QueryRow(ctx, query, p.ID, p.Name, p.Kind, doc).Scan(&p.Version, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return repository.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("update provider: %w", err)
	}
	return nil
}

func (r *providerRepo) Delete(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM federation_providers WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete provider: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}
