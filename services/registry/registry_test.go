package registry

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/everifyng/everify-backend/db"
	"github.com/everifyng/everify-backend/services/monitoring/logging"
)

type fakeCatalog struct {
	services      map[string]*VerificationService
	providers     map[int64][]ServiceProvider
	pricing       map[int64]*CustomerServicePricing
	providerReads int
}

func (f *fakeCatalog) GetServiceBySlug(ctx context.Context, q db.Executor, slug string) (*VerificationService, error) {
	s, ok := f.services[slug]
	if !ok {
		return nil, ErrServiceNotFound
	}
	return s, nil
}

func (f *fakeCatalog) ListActiveServices(ctx context.Context, q db.Executor) ([]VerificationService, error) {
	out := []VerificationService{}
	for _, s := range f.services {
		out = append(out, *s)
	}
	return out, nil
}

func (f *fakeCatalog) ListActiveProviders(ctx context.Context, q db.Executor, serviceID int64) ([]ServiceProvider, error) {
	f.providerReads++
	return f.providers[serviceID], nil
}

func (f *fakeCatalog) GetCustomerPrice(ctx context.Context, q db.Executor, userID, serviceID int64) (*CustomerServicePricing, error) {
	return f.pricing[userID], nil
}

func newTestRegistry(catalog *fakeCatalog) *Registry {
	return NewRegistryWithCatalog(db.NewStore(nil), catalog, logging.NewLogger())
}

func TestProvidersForCachesChain(t *testing.T) {
	catalog := &fakeCatalog{
		providers: map[int64][]ServiceProvider{
			1: {{ID: 10, Name: "alpha"}, {ID: 11, Name: "beta"}},
		},
	}
	r := newTestRegistry(catalog)

	first, err := r.ProvidersFor(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, first, 2)

	second, err := r.ProvidersFor(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	// The second read is served from cache.
	assert.Equal(t, 1, catalog.providerReads)
}

func TestInvalidateDropsCachedChain(t *testing.T) {
	catalog := &fakeCatalog{
		providers: map[int64][]ServiceProvider{1: {{ID: 10, Name: "alpha"}}},
	}
	r := newTestRegistry(catalog)

	_, err := r.ProvidersFor(context.Background(), 1)
	require.NoError(t, err)

	r.Invalidate(1)

	_, err = r.ProvidersFor(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, 2, catalog.providerReads)
}

func TestPriceForPrefersCustomerOverride(t *testing.T) {
	service := &VerificationService{ID: 1, Slug: "nin", DefaultPrice: decimal.NewFromInt(100)}
	catalog := &fakeCatalog{
		pricing: map[int64]*CustomerServicePricing{
			7: {UserID: 7, VerificationServiceID: 1, Price: decimal.NewFromInt(60), IsActive: true},
		},
	}
	r := newTestRegistry(catalog)

	override, err := r.PriceFor(context.Background(), 7, service)
	require.NoError(t, err)
	assert.True(t, override.Equal(decimal.NewFromInt(60)))

	standard, err := r.PriceFor(context.Background(), 8, service)
	require.NoError(t, err)
	assert.True(t, standard.Equal(decimal.NewFromInt(100)))
}

func TestServiceBySlugUnknown(t *testing.T) {
	r := newTestRegistry(&fakeCatalog{services: map[string]*VerificationService{}})

	_, err := r.ServiceBySlug(context.Background(), "passport")
	assert.ErrorIs(t, err, ErrServiceNotFound)
}

func TestFullURLJoinsSegments(t *testing.T) {
	tests := []struct {
		base     string
		endpoint string
		want     string
	}{
		{"https://api.example.com", "/v1/nin", "https://api.example.com/v1/nin"},
		{"https://api.example.com/", "v1/nin", "https://api.example.com/v1/nin"},
		{"https://api.example.com/", "/v1/nin", "https://api.example.com/v1/nin"},
	}
	for _, tt := range tests {
		p := ServiceProvider{BaseURL: tt.base, Endpoint: tt.endpoint}
		assert.Equal(t, tt.want, p.FullURL())
	}
}
