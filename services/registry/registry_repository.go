package registry

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/everifyng/everify-backend/db"
)

var ErrServiceNotFound = fmt.Errorf("verification service not found")

type Repository struct{}

func NewRepository() *Repository {
	return &Repository{}
}

const serviceColumns = `id, name, slug, description, icon, default_price, cost_price,
	is_active, sort_order, created_at, updated_at`

func (r *Repository) GetServiceBySlug(ctx context.Context, q db.Executor, slug string) (*VerificationService, error) {
	var service VerificationService
	query := `SELECT ` + serviceColumns + ` FROM verification_services WHERE slug = $1`
	err := q.GetContext(ctx, &service, query, slug)
	if err == sql.ErrNoRows {
		return nil, ErrServiceNotFound
	} else if err != nil {
		return nil, fmt.Errorf("get service by slug: %w", err)
	}
	return &service, nil
}

func (r *Repository) ListActiveServices(ctx context.Context, q db.Executor) ([]VerificationService, error) {
	var services []VerificationService
	query := `SELECT ` + serviceColumns + ` FROM verification_services
	          WHERE is_active = TRUE ORDER BY sort_order, id`
	if err := q.SelectContext(ctx, &services, query); err != nil {
		return nil, fmt.Errorf("list active services: %w", err)
	}
	return services, nil
}

const providerColumns = `id, verification_service_id, name, base_url, endpoint, http_method,
	auth_type, auth_config, request_headers, request_body_template, response_mapping,
	timeout, priority, is_active, environment, created_at, updated_at`

// ListActiveProviders returns the failover chain for a service ordered by
// priority ascending, insertion order breaking ties.
func (r *Repository) ListActiveProviders(ctx context.Context, q db.Executor, serviceID int64) ([]ServiceProvider, error) {
	var providers []ServiceProvider
	query := `SELECT ` + providerColumns + ` FROM service_providers
	          WHERE verification_service_id = $1 AND is_active = TRUE
	          ORDER BY priority, id`
	if err := q.SelectContext(ctx, &providers, query, serviceID); err != nil {
		return nil, fmt.Errorf("list active providers: %w", err)
	}
	return providers, nil
}

// GetCustomerPrice returns the active per-customer override, or nil.
func (r *Repository) GetCustomerPrice(ctx context.Context, q db.Executor, userID, serviceID int64) (*CustomerServicePricing, error) {
	var pricing CustomerServicePricing
	query := `SELECT id, user_id, verification_service_id, price, is_active, created_at, updated_at
	          FROM customer_service_pricing
	          WHERE user_id = $1 AND verification_service_id = $2 AND is_active = TRUE`
	err := q.GetContext(ctx, &pricing, query, userID, serviceID)
	if err == sql.ErrNoRows {
		return nil, nil
	} else if err != nil {
		return nil, fmt.Errorf("get customer price: %w", err)
	}
	return &pricing, nil
}
