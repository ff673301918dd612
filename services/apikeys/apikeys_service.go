package apikeys

import (
	"context"
	"database/sql"
	"encoding/base64"
	"errors"
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/sirupsen/logrus"

	"github.com/everifyng/everify-backend/db"
	"github.com/everifyng/everify-backend/services/monitoring/logging"
	"github.com/everifyng/everify-backend/utils"
)

const (
	keyRandomLen    = 32
	secretRandomLen = 48
)

var (
	ErrInvalidCredentials = errors.New("invalid api credentials")
	ErrKeyInactive        = errors.New("api key is inactive")
	ErrKeyExpired         = errors.New("api key has expired")
)

// KeyStore is the persistence surface the service depends on.
type KeyStore interface {
	Insert(ctx context.Context, q db.Executor, key *APIKey) error
	GetByKey(ctx context.Context, q db.Executor, publicKey string) (*APIKey, error)
	GetByID(ctx context.Context, q db.Executor, userID, id int64) (*APIKey, error)
	ListByUser(ctx context.Context, q db.Executor, userID int64) ([]APIKey, error)
	UpdateSecretHash(ctx context.Context, q db.Executor, id int64, secretHash string) error
	SetActive(ctx context.Context, q db.Executor, id int64, active bool) error
	MarkUsed(ctx context.Context, q db.Executor, id int64) error
}

type Service struct {
	db     db.Executor
	keys   KeyStore
	logger *logging.Logger
	now    func() time.Time
}

func NewService(store *db.Store, logger *logging.Logger) *Service {
	return &Service{
		db:     store.DB,
		keys:   NewRepository(),
		logger: logger,
		now:    time.Now,
	}
}

// NewServiceWithStore wires an explicit store and clock; used by tests.
func NewServiceWithStore(executor db.Executor, keys KeyStore, logger *logging.Logger, now func() time.Time) *Service {
	return &Service{db: executor, keys: keys, logger: logger, now: now}
}

type GenerateParams struct {
	UserID      int64
	Name        string
	Environment string
	AllowedIPs  []string
	RateLimit   int
	ExpiresAt   *time.Time
}

// Generate mints a key pair. The plaintext secret is returned exactly once
// and only its digest is stored.
func (s *Service) Generate(ctx context.Context, p GenerateParams) (*Credential, error) {
	if p.Environment != EnvironmentTest {
		p.Environment = EnvironmentLive
	}
	if p.Name == "" {
		p.Name = "Default"
	}
	if p.RateLimit <= 0 {
		p.RateLimit = 100
	}

	secret := utils.GenerateRandomString(secretRandomLen)
	key := &APIKey{
		UserID:      p.UserID,
		Name:        p.Name,
		Key:         keyPrefix(p.Environment) + utils.GenerateRandomString(keyRandomLen),
		SecretHash:  utils.HashSecret(secret),
		Environment: p.Environment,
		AllowedIPs:  pq.StringArray(p.AllowedIPs),
		RateLimit:   p.RateLimit,
	}
	if p.ExpiresAt != nil {
		key.ExpiresAt = sql.NullTime{Time: *p.ExpiresAt, Valid: true}
	}

	if err := s.keys.Insert(ctx, s.db, key); err != nil {
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"user_id":     p.UserID,
		"key":         key.Key,
		"environment": key.Environment,
	}).Info("api key generated")

	return &Credential{Key: *key, Secret: secret}, nil
}

// ValidateBearer authenticates a bearer token of the form
// base64("key:secret") or a bare "key:secret" pair. It returns the key row
// when the credential is valid, active and unexpired.
func (s *Service) ValidateBearer(ctx context.Context, token string) (*APIKey, error) {
	publicKey, secret := splitCredential(token)
	if publicKey == "" || secret == "" {
		return nil, ErrInvalidCredentials
	}

	key, err := s.keys.GetByKey(ctx, s.db, publicKey)
	if err != nil {
		if errors.Is(err, ErrKeyNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	if !utils.VerifySecret(secret, key.SecretHash) {
		return nil, ErrInvalidCredentials
	}
	if !key.IsActive {
		return nil, ErrKeyInactive
	}
	if key.IsExpired(s.now()) {
		return nil, ErrKeyExpired
	}

	if err := s.keys.MarkUsed(ctx, s.db, key.ID); err != nil {
		s.logger.WithError(err).WithField("key", key.Key).Warn("failed to stamp api key usage")
	}
	return key, nil
}

func splitCredential(token string) (string, string) {
	if decoded, err := base64.StdEncoding.DecodeString(token); err == nil && strings.Contains(string(decoded), ":") {
		token = string(decoded)
	}
	parts := strings.SplitN(token, ":", 2)
	if len(parts) != 2 {
		return "", ""
	}
	return strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1])
}

// RegenerateSecret rotates a key's secret. The old secret stops working as
// soon as the update commits.
func (s *Service) RegenerateSecret(ctx context.Context, userID, keyID int64) (*Credential, error) {
	key, err := s.keys.GetByID(ctx, s.db, userID, keyID)
	if err != nil {
		return nil, err
	}

	secret := utils.GenerateRandomString(secretRandomLen)
	if err := s.keys.UpdateSecretHash(ctx, s.db, key.ID, utils.HashSecret(secret)); err != nil {
		return nil, err
	}
	key.SecretHash = utils.HashSecret(secret)

	s.logger.WithFields(logrus.Fields{"user_id": userID, "key": key.Key}).Info("api key secret rotated")
	return &Credential{Key: *key, Secret: secret}, nil
}

func (s *Service) Deactivate(ctx context.Context, userID, keyID int64) error {
	key, err := s.keys.GetByID(ctx, s.db, userID, keyID)
	if err != nil {
		return err
	}
	return s.keys.SetActive(ctx, s.db, key.ID, false)
}

func (s *Service) List(ctx context.Context, userID int64) ([]APIKey, error) {
	return s.keys.ListByUser(ctx, s.db, userID)
}
