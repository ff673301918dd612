package verification

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sqlc-dev/pqtype"
)

const (
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

const (
	SourceWeb = "web"
	SourceAPI = "api"
)

// Request is one billable verification attempt and its final outcome.
type Request struct {
	ID                    int64                 `db:"id"`
	UserID                int64                 `db:"user_id"`
	VerificationServiceID int64                 `db:"verification_service_id"`
	ServiceProviderID     sql.NullInt64         `db:"service_provider_id"`
	TransactionID         sql.NullInt64         `db:"transaction_id"`
	Reference             string                `db:"reference"`
	SearchParameter       string                `db:"search_parameter"`
	AmountCharged         decimal.Decimal       `db:"amount_charged"`
	Status                string                `db:"status"`
	Source                string                `db:"source"`
	IPAddress             sql.NullString        `db:"ip_address"`
	ResponseData          pqtype.NullRawMessage `db:"response_data"`
	ErrorMessage          sql.NullString        `db:"error_message"`
	CompletedAt           sql.NullTime          `db:"completed_at"`
	CreatedAt             time.Time             `db:"created_at"`
	UpdatedAt             time.Time             `db:"updated_at"`
}

// ResponseDataMap decodes the stored provider payload, nil when absent.
func (r *Request) ResponseDataMap() map[string]interface{} {
	if !r.ResponseData.Valid {
		return nil
	}
	var out map[string]interface{}
	if err := json.Unmarshal(r.ResponseData.RawMessage, &out); err != nil {
		return nil
	}
	return out
}

func (r *Request) IsCharged() bool {
	return r.TransactionID.Valid && r.AmountCharged.IsPositive()
}
