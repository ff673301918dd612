package registry

import (
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Environment buckets for provider selection.
const (
	EnvironmentTest = "test"
	EnvironmentLive = "live"
)

// AuthType enumerates the supported upstream auth schemes.
type AuthType string

const (
	AuthNone         AuthType = "none"
	AuthBearer       AuthType = "bearer"
	AuthAPIKeyHeader AuthType = "api_key_header"
	AuthAPIKeyBody   AuthType = "api_key_body"
	AuthBasic        AuthType = "basic"
	AuthCustom       AuthType = "custom"
)

// JSONMap maps a JSONB column to a generic object.
type JSONMap map[string]interface{}

func (m JSONMap) Value() (driver.Value, error) {
	if m == nil {
		return nil, nil
	}
	return json.Marshal(m)
}

func (m *JSONMap) Scan(value interface{}) error {
	if value == nil {
		*m = nil
		return nil
	}
	b, ok := value.([]byte)
	if !ok {
		return fmt.Errorf("unsupported JSONMap scan type %T", value)
	}
	return json.Unmarshal(b, m)
}

// String reads a string field from the map, with a default.
func (m JSONMap) String(key, fallback string) string {
	if v, ok := m[key].(string); ok && v != "" {
		return v
	}
	return fallback
}

type VerificationService struct {
	ID           int64           `db:"id" json:"id"`
	Name         string          `db:"name" json:"name"`
	Slug         string          `db:"slug" json:"slug"`
	Description  sql.NullString  `db:"description" json:"description"`
	Icon         sql.NullString  `db:"icon" json:"icon"`
	DefaultPrice decimal.Decimal `db:"default_price" json:"default_price"`
	CostPrice    decimal.Decimal `db:"cost_price" json:"cost_price"`
	IsActive     bool            `db:"is_active" json:"is_active"`
	SortOrder    int             `db:"sort_order" json:"sort_order"`
	CreatedAt    time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time       `db:"updated_at" json:"updated_at"`
}

type ServiceProvider struct {
	ID                    int64     `db:"id" json:"id"`
	VerificationServiceID int64     `db:"verification_service_id" json:"verification_service_id"`
	Name                  string    `db:"name" json:"name"`
	BaseURL               string    `db:"base_url" json:"base_url"`
	Endpoint              string    `db:"endpoint" json:"endpoint"`
	HTTPMethod            string    `db:"http_method" json:"http_method"`
	AuthType              AuthType  `db:"auth_type" json:"auth_type"`
	AuthConfig            JSONMap   `db:"auth_config" json:"-"`
	RequestHeaders        JSONMap   `db:"request_headers" json:"-"`
	RequestBodyTemplate   JSONMap   `db:"request_body_template" json:"-"`
	ResponseMapping       JSONMap   `db:"response_mapping" json:"-"`
	Timeout               int       `db:"timeout" json:"timeout"`
	Priority              int       `db:"priority" json:"priority"`
	IsActive              bool      `db:"is_active" json:"is_active"`
	Environment           string    `db:"environment" json:"environment"`
	CreatedAt             time.Time `db:"created_at" json:"created_at"`
	UpdatedAt             time.Time `db:"updated_at" json:"updated_at"`
}

// FullURL joins base URL and endpoint with exactly one separator.
func (p *ServiceProvider) FullURL() string {
	return strings.TrimRight(p.BaseURL, "/") + "/" + strings.TrimLeft(p.Endpoint, "/")
}

func (p *ServiceProvider) IsTest() bool {
	return p.Environment == EnvironmentTest
}

type CustomerServicePricing struct {
	ID                    int64           `db:"id" json:"id"`
	UserID                int64           `db:"user_id" json:"user_id"`
	VerificationServiceID int64           `db:"verification_service_id" json:"verification_service_id"`
	Price                 decimal.Decimal `db:"price" json:"price"`
	IsActive              bool            `db:"is_active" json:"is_active"`
	CreatedAt             time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt             time.Time       `db:"updated_at" json:"updated_at"`
}
