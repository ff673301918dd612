package fiat

import "github.com/shopspring/decimal"

// Response is the Paystack envelope.
type Response[T any] struct {
	Status  bool   `json:"status"`
	Message string `json:"message"`
	Data    T      `json:"data"`
}

type InitializeRequest struct {
	Email       string `json:"email"`
	Amount      int64  `json:"amount"`
	Reference   string `json:"reference"`
	CallbackURL string `json:"callback_url,omitempty"`
	Currency    string `json:"currency"`
}

type InitializeResponse struct {
	AuthorizationURL string `json:"authorization_url"`
	AccessCode       string `json:"access_code"`
	Reference        string `json:"reference"`
}

type TransactionCustomer struct {
	Email        string `json:"email"`
	CustomerCode string `json:"customer_code"`
}

type TransactionData struct {
	Status    string              `json:"status"`
	Reference string              `json:"reference"`
	Amount    int64               `json:"amount"`
	PaidAt    string              `json:"paid_at"`
	Channel   string              `json:"channel"`
	Currency  string              `json:"currency"`
	IPAddress string              `json:"ip_address"`
	Customer  TransactionCustomer `json:"customer"`
}

// AmountNaira converts the kobo amount to naira.
func (t *TransactionData) AmountNaira() decimal.Decimal {
	return decimal.NewFromInt(t.Amount).Div(decimal.NewFromInt(100))
}

// WebhookEvent is the inbound webhook payload.
type WebhookEvent struct {
	Event string          `json:"event"`
	Data  TransactionData `json:"data"`
}

// Webhook event types handled by the funding flow.
const (
	EventChargeSuccess = "charge.success"
)
