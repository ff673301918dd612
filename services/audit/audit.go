package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/sqlc-dev/pqtype"

	"github.com/everifyng/everify-backend/db"
)

// Direction of a logged exchange relative to this service.
const (
	DirectionInbound  = "inbound"
	DirectionOutbound = "outbound"
)

// APILog is one audited request/response exchange. Outbound rows cover
// provider calls, inbound rows the API front door.
type APILog struct {
	ID                    int64                 `db:"id"`
	UserID                sql.NullInt64         `db:"user_id"`
	VerificationRequestID sql.NullInt64         `db:"verification_request_id"`
	Direction             string                `db:"direction"`
	Endpoint              string                `db:"endpoint"`
	Method                string                `db:"method"`
	RequestHeaders        pqtype.NullRawMessage `db:"request_headers"`
	RequestBody           pqtype.NullRawMessage `db:"request_body"`
	ResponseStatus        sql.NullInt32         `db:"response_status"`
	ResponseBody          pqtype.NullRawMessage `db:"response_body"`
	ResponseTime          sql.NullInt32         `db:"response_time"`
	IPAddress             sql.NullString        `db:"ip_address"`
	CreatedAt             time.Time             `db:"created_at"`
}

var sensitiveHeaderKeys = map[string]bool{
	"authorization": true,
	"x-api-key":     true,
	"api-key":       true,
	"token":         true,
}

// RedactHeaders masks credential-bearing header values before they are
// persisted.
func RedactHeaders(headers map[string]string) map[string]string {
	redacted := make(map[string]string, len(headers))
	for k, v := range headers {
		if sensitiveHeaderKeys[strings.ToLower(k)] {
			redacted[k] = "***REDACTED***"
		} else {
			redacted[k] = v
		}
	}
	return redacted
}

func RawJSON(v interface{}) pqtype.NullRawMessage {
	if v == nil {
		return pqtype.NullRawMessage{}
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return pqtype.NullRawMessage{}
	}
	return pqtype.NullRawMessage{RawMessage: raw, Valid: true}
}

type Repository struct {
	store *db.Store
}

func NewRepository(store *db.Store) *Repository {
	return &Repository{store: store}
}

// Insert persists the exchange and fills the row's id.
func (r *Repository) Insert(ctx context.Context, log *APILog) error {
	query := `INSERT INTO api_logs
		(user_id, verification_request_id, direction, endpoint, method,
		 request_headers, request_body, response_status, response_body,
		 response_time, ip_address)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	RETURNING id, created_at`
	err := r.store.DB.QueryRowxContext(ctx, query,
		log.UserID, log.VerificationRequestID, log.Direction, log.Endpoint, log.Method,
		log.RequestHeaders, log.RequestBody, log.ResponseStatus, log.ResponseBody,
		log.ResponseTime, log.IPAddress,
	).Scan(&log.ID, &log.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert api log: %w", err)
	}
	return nil
}

// UpdateResponse attaches the response half of an exchange to an existing
// row.
func (r *Repository) UpdateResponse(ctx context.Context, id int64, status int, body pqtype.NullRawMessage, responseTimeMS int) error {
	query := `UPDATE api_logs
	          SET response_status = $1, response_body = $2, response_time = $3
	          WHERE id = $4`
	if _, err := r.store.DB.ExecContext(ctx, query, status, body, responseTimeMS, id); err != nil {
		return fmt.Errorf("update api log response: %w", err)
	}
	return nil
}
