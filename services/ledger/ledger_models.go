package ledger

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sqlc-dev/pqtype"
)

type TransactionType string

const (
	TypeCredit TransactionType = "credit"
	TypeDebit  TransactionType = "debit"
)

type Category string

const (
	CategoryFunding      Category = "funding"
	CategoryVerification Category = "verification"
	CategoryRefund       Category = "refund"
	CategoryBonus        Category = "bonus"
	CategoryAdjustment   Category = "adjustment"
)

type TransactionStatus string

const (
	StatusPending   TransactionStatus = "pending"
	StatusCompleted TransactionStatus = "completed"
	StatusFailed    TransactionStatus = "failed"
	StatusReversed  TransactionStatus = "reversed"
)

type Wallet struct {
	ID           uuid.UUID       `db:"id" json:"id"`
	UserID       int64           `db:"user_id" json:"user_id"`
	Balance      decimal.Decimal `db:"balance" json:"balance"`
	BonusBalance decimal.Decimal `db:"bonus_balance" json:"bonus_balance"`
	Currency     string          `db:"currency" json:"currency"`
	IsActive     bool            `db:"is_active" json:"is_active"`
	CreatedAt    time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time       `db:"updated_at" json:"updated_at"`
}

// TotalBalance is the spendable sum of main and bonus balances.
func (w *Wallet) TotalBalance() decimal.Decimal {
	return w.Balance.Add(w.BonusBalance)
}

func (w *Wallet) HasSufficientFunds(amount decimal.Decimal) bool {
	return w.TotalBalance().GreaterThanOrEqual(amount)
}

// Transaction is a ledger entry. Rows are immutable once they reach a
// terminal status; the one in-place mutation is a pending funding entry
// being completed at settlement.
type Transaction struct {
	ID                  int64                `db:"id" json:"id"`
	UserID              int64                `db:"user_id" json:"user_id"`
	WalletID            uuid.UUID            `db:"wallet_id" json:"wallet_id"`
	Reference           string               `db:"reference" json:"reference"`
	Type                TransactionType      `db:"type" json:"type"`
	Category            Category             `db:"category" json:"category"`
	Amount              decimal.Decimal      `db:"amount" json:"amount"`
	BalanceBefore       decimal.Decimal      `db:"balance_before" json:"balance_before"`
	BonusBalanceBefore  decimal.Decimal      `db:"bonus_balance_before" json:"bonus_balance_before"`
	BalanceAfter        decimal.Decimal      `db:"balance_after" json:"balance_after"`
	BonusBalanceAfter   decimal.Decimal      `db:"bonus_balance_after" json:"bonus_balance_after"`
	Description         string               `db:"description" json:"description"`
	Metadata            pqtype.NullRawMessage `db:"metadata" json:"metadata"`
	Status              TransactionStatus    `db:"status" json:"status"`
	SourceTransactionID sql.NullInt64        `db:"source_transaction_id" json:"source_transaction_id"`
	CreatedAt           time.Time            `db:"created_at" json:"created_at"`
}

func (t *Transaction) IsDebit() bool {
	return t.Type == TypeDebit
}

func (t *Transaction) IsCredit() bool {
	return t.Type == TypeCredit
}

// MetadataMap decodes the metadata column; nil when absent or malformed.
func (t *Transaction) MetadataMap() map[string]interface{} {
	if !t.Metadata.Valid {
		return nil
	}
	var m map[string]interface{}
	if err := json.Unmarshal(t.Metadata.RawMessage, &m); err != nil {
		return nil
	}
	return m
}

func marshalMetadata(metadata map[string]interface{}) pqtype.NullRawMessage {
	if len(metadata) == 0 {
		return pqtype.NullRawMessage{}
	}
	raw, err := json.Marshal(metadata)
	if err != nil {
		return pqtype.NullRawMessage{}
	}
	return pqtype.NullRawMessage{RawMessage: raw, Valid: true}
}

// Balance is the read-model returned to callers of the balance query.
type Balance struct {
	Main     decimal.Decimal `json:"balance"`
	Bonus    decimal.Decimal `json:"bonus_balance"`
	Total    decimal.Decimal `json:"total_balance"`
	Currency string          `json:"currency"`
}
