package registry

import (
	"context"
	"fmt"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/shopspring/decimal"

	"github.com/everifyng/everify-backend/db"
	"github.com/everifyng/everify-backend/services/monitoring/logging"
)

// providerCacheTTL keeps provider chains hot without hammering the catalog
// store; Invalidate drops the entry when admin config changes.
const providerCacheTTL = 60 * time.Second

// CatalogStore is the catalog persistence surface.
type CatalogStore interface {
	GetServiceBySlug(ctx context.Context, q db.Executor, slug string) (*VerificationService, error)
	ListActiveServices(ctx context.Context, q db.Executor) ([]VerificationService, error)
	ListActiveProviders(ctx context.Context, q db.Executor, serviceID int64) ([]ServiceProvider, error)
	GetCustomerPrice(ctx context.Context, q db.Executor, userID, serviceID int64) (*CustomerServicePricing, error)
}

type Registry struct {
	store   *db.Store
	catalog CatalogStore
	cache   *gocache.Cache
	logger  *logging.Logger
}

func NewRegistry(store *db.Store, logger *logging.Logger) *Registry {
	return &Registry{
		store:   store,
		catalog: NewRepository(),
		cache:   gocache.New(providerCacheTTL, 2*providerCacheTTL),
		logger:  logger,
	}
}

// NewRegistryWithCatalog wires an explicit catalog store; used by tests.
func NewRegistryWithCatalog(store *db.Store, catalog CatalogStore, logger *logging.Logger) *Registry {
	return &Registry{
		store:   store,
		catalog: catalog,
		cache:   gocache.New(providerCacheTTL, 2*providerCacheTTL),
		logger:  logger,
	}
}

func providerCacheKey(serviceID int64) string {
	return fmt.Sprintf("service_providers:%d", serviceID)
}

// ServiceBySlug resolves a catalog entry.
func (r *Registry) ServiceBySlug(ctx context.Context, slug string) (*VerificationService, error) {
	return r.catalog.GetServiceBySlug(ctx, r.store.DB, slug)
}

// ListServices returns the active catalog in display order.
func (r *Registry) ListServices(ctx context.Context) ([]VerificationService, error) {
	return r.catalog.ListActiveServices(ctx, r.store.DB)
}

// ProvidersFor returns the active failover chain for a service, priority
// ascending, cached briefly.
func (r *Registry) ProvidersFor(ctx context.Context, serviceID int64) ([]ServiceProvider, error) {
	key := providerCacheKey(serviceID)
	if cached, found := r.cache.Get(key); found {
		return cached.([]ServiceProvider), nil
	}

	providers, err := r.catalog.ListActiveProviders(ctx, r.store.DB, serviceID)
	if err != nil {
		return nil, err
	}

	r.cache.Set(key, providers, gocache.DefaultExpiration)
	return providers, nil
}

// Invalidate drops a service's cached provider chain after a config change.
func (r *Registry) Invalidate(serviceID int64) {
	r.cache.Delete(providerCacheKey(serviceID))
}

// PriceFor resolves the charge for one lookup: the customer-specific
// override when present and active, else the service default price.
func (r *Registry) PriceFor(ctx context.Context, userID int64, service *VerificationService) (decimal.Decimal, error) {
	pricing, err := r.catalog.GetCustomerPrice(ctx, r.store.DB, userID, service.ID)
	if err != nil {
		return decimal.Zero, err
	}
	if pricing != nil {
		return pricing.Price, nil
	}
	return service.DefaultPrice, nil
}
