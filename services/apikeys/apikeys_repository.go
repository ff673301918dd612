package apikeys

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/everifyng/everify-backend/db"
)

var ErrKeyNotFound = errors.New("api key not found")

type Repository struct{}

func NewRepository() *Repository {
	return &Repository{}
}

func (r *Repository) Insert(ctx context.Context, q db.Executor, key *APIKey) error {
	row := q.QueryRowxContext(ctx, `
		INSERT INTO api_keys (user_id, name, key, secret_hash, environment, allowed_ips, rate_limit, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, is_active, created_at, updated_at`,
		key.UserID, key.Name, key.Key, key.SecretHash, key.Environment,
		key.AllowedIPs, key.RateLimit, key.ExpiresAt,
	)
	if err := row.Scan(&key.ID, &key.IsActive, &key.CreatedAt, &key.UpdatedAt); err != nil {
		return fmt.Errorf("insert api key: %w", err)
	}
	return nil
}

func (r *Repository) GetByKey(ctx context.Context, q db.Executor, publicKey string) (*APIKey, error) {
	var key APIKey
	err := q.GetContext(ctx, &key, `SELECT * FROM api_keys WHERE key = $1`, publicKey)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrKeyNotFound
		}
		return nil, fmt.Errorf("get api key: %w", err)
	}
	return &key, nil
}

func (r *Repository) GetByID(ctx context.Context, q db.Executor, userID, id int64) (*APIKey, error) {
	var key APIKey
	err := q.GetContext(ctx, &key, `SELECT * FROM api_keys WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrKeyNotFound
		}
		return nil, fmt.Errorf("get api key: %w", err)
	}
	return &key, nil
}

func (r *Repository) ListByUser(ctx context.Context, q db.Executor, userID int64) ([]APIKey, error) {
	keys := []APIKey{}
	err := q.SelectContext(ctx, &keys, `
		SELECT * FROM api_keys WHERE user_id = $1 ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("list api keys: %w", err)
	}
	return keys, nil
}

func (r *Repository) UpdateSecretHash(ctx context.Context, q db.Executor, id int64, secretHash string) error {
	_, err := q.ExecContext(ctx, `
		UPDATE api_keys SET secret_hash = $1, updated_at = now() WHERE id = $2`, secretHash, id)
	if err != nil {
		return fmt.Errorf("update api key secret: %w", err)
	}
	return nil
}

func (r *Repository) SetActive(ctx context.Context, q db.Executor, id int64, active bool) error {
	_, err := q.ExecContext(ctx, `
		UPDATE api_keys SET is_active = $1, updated_at = now() WHERE id = $2`, active, id)
	if err != nil {
		return fmt.Errorf("update api key state: %w", err)
	}
	return nil
}

// MarkUsed stamps last_used_at; best effort from the request path.
func (r *Repository) MarkUsed(ctx context.Context, q db.Executor, id int64) error {
	_, err := q.ExecContext(ctx, `UPDATE api_keys SET last_used_at = now() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("mark api key used: %w", err)
	}
	return nil
}
