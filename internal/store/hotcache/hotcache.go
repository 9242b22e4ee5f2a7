// Package hotcache mantiene en memoria la configuración de providers
// de federación, que se lee en cada login pero cambia muy poco.
package hotcache

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"golang.org/x/sync/singleflight"

	"github.com/dropDatabas3/aegis/internal/domain/repository"
)

// Providers envuelve un ProviderRepository con una cache read-through.
// Las escrituras pasan directo al repo e invalidan la entrada local;
// otras instancias expiran por TTL (el version bump del repo garantiza
// que nunca se sirva una config más vieja que la que ya se vio).
type Providers struct {
	inner repository.ProviderRepository
	local *gocache.Cache
	ttl   time.Duration
	sf    singleflight.Group
}

var _ repository.ProviderRepository = (*Providers)(nil)

// NewProviders arma el wrapper. ttl acota cuánto tarda otra instancia
// en ver un update hecho por esta.
func NewProviders(inner repository.ProviderRepository, ttl time.Duration) *Providers {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Providers{
		inner: inner,
		local: gocache.New(ttl, 2*ttl),
		ttl:   ttl,
	}
}

func (p *Providers) GetByID(ctx context.Context, id string) (*repository.FederationProvider, error) {
	if v, ok := p.local.Get(id); ok {
		return v.(*repository.FederationProvider), nil
	}

	// singleflight colapsa el estampido de logins simultáneos contra
	// el mismo provider tras una expiración.
	v, err, _ := p.sf.Do(id, func() (any, error) {
		fp, err := p.inner.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}
		p.local.Set(id, fp, p.ttl)
		return fp, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*repository.FederationProvider), nil
}

func (p *Providers) Create(ctx context.Context, fp *repository.FederationProvider) error {
	return p.inner.Create(ctx, fp)
}

func (p *Providers) ListByOrg(ctx context.Context, orgID string) ([]repository.FederationProvider, error) {
	return p.inner.ListByOrg(ctx, orgID)
}

func (p *Providers) Update(ctx context.Context, fp *repository.FederationProvider) error {
	if err := p.inner.Update(ctx, fp); err != nil {
		return err
	}
	p.local.Delete(fp.ID)
	return nil
}

func (p *Providers) Delete(ctx context.Context, id string) error {
	if err := p.inner.Delete(ctx, id); err != nil {
		return err
	}
	p.local.Delete(id)
	return nil
}

// Invalidate descarta la entrada local de un provider.
func (p *Providers) Invalidate(id string) {
	p.local.Delete(id)
}
