package apikeys

import (
	"database/sql"
	"strings"
	"time"

	"github.com/lib/pq"
)

const (
	EnvironmentTest = "test"
	EnvironmentLive = "live"
)

const (
	livePrefix = "ev_live_"
	testPrefix = "ev_test_"
)

// APIKey is one programmatic credential. The secret is stored only as a
// digest; the plaintext exists once, in the response that created it.
type APIKey struct {
	ID          int64          `db:"id"`
	UserID      int64          `db:"user_id"`
	Name        string         `db:"name"`
	Key         string         `db:"key"`
	SecretHash  string         `db:"secret_hash"`
	Environment string         `db:"environment"`
	IsActive    bool           `db:"is_active"`
	AllowedIPs  pq.StringArray `db:"allowed_ips"`
	RateLimit   int            `db:"rate_limit"`
	LastUsedAt  sql.NullTime   `db:"last_used_at"`
	ExpiresAt   sql.NullTime   `db:"expires_at"`
	CreatedAt   time.Time      `db:"created_at"`
	UpdatedAt   time.Time      `db:"updated_at"`
}

func (k *APIKey) IsExpired(now time.Time) bool {
	return k.ExpiresAt.Valid && now.After(k.ExpiresAt.Time)
}

// IsIPAllowed reports whether ip may use this key. An empty allowlist admits
// every address.
func (k *APIKey) IsIPAllowed(ip string) bool {
	if len(k.AllowedIPs) == 0 {
		return true
	}
	for _, allowed := range k.AllowedIPs {
		if strings.TrimSpace(allowed) == ip {
			return true
		}
	}
	return false
}

func keyPrefix(environment string) string {
	if environment == EnvironmentTest {
		return testPrefix
	}
	return livePrefix
}

// EnvironmentFromKey derives the environment bucket from a key's prefix.
func EnvironmentFromKey(key string) string {
	if strings.HasPrefix(key, testPrefix) {
		return EnvironmentTest
	}
	return EnvironmentLive
}

// Credential is the freshly generated key pair returned to the caller once.
type Credential struct {
	Key    APIKey
	Secret string
}
