package payment

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/everifyng/everify-backend/providers/fiat"
	"github.com/everifyng/everify-backend/services/ledger"
	"github.com/everifyng/everify-backend/services/monitoring/logging"
	"github.com/everifyng/everify-backend/utils"
)

var (
	ErrInvalidAmount     = errors.New("funding amount must be positive")
	ErrPaymentNotSettled = errors.New("payment has not been settled")
	ErrUnknownReference  = errors.New("payment reference is not recognized")
	ErrReferenceMismatch = errors.New("payment reference belongs to another customer")
)

const minFundingNaira = 100

// Checkout is the hosted payment session handed back to the client.
type Checkout struct {
	AuthorizationURL string `json:"authorization_url"`
	AccessCode       string `json:"access_code"`
	Reference        string `json:"reference"`
}

// WalletCreditor is the ledger surface funding settles into. The pending
// entry opened at checkout time is the reference-to-wallet binding; every
// settlement path resolves the wallet through it.
type WalletCreditor interface {
	WalletByUserID(ctx context.Context, userID int64) (*ledger.Wallet, error)
	PendingCredit(ctx context.Context, p ledger.EntryParams) (*ledger.Transaction, error)
	SettleCredit(ctx context.Context, reference string, amount decimal.Decimal, description string, metadata map[string]interface{}) (*ledger.Transaction, error)
	TransactionByReference(ctx context.Context, reference string) (*ledger.Transaction, error)
}

// CheckoutGateway is the card-processor surface.
type CheckoutGateway interface {
	InitializeTransaction(email string, amountInKobo int64, reference string) (*fiat.InitializeResponse, error)
	VerifyTransaction(reference string) (*fiat.TransactionData, error)
	VerifyWebhookSignature(payload []byte, signature string) bool
}

// FundingService moves card money into wallets. A reference is bound to one
// wallet when the checkout opens, and settlement only ever credits that
// wallet, idempotently, no matter who presents the reference or how many
// times the callback and webhook fire.
type FundingService struct {
	ledger  WalletCreditor
	gateway CheckoutGateway
	logger  *logging.Logger
}

func NewFundingService(walletLedger WalletCreditor, gateway CheckoutGateway, logger *logging.Logger) *FundingService {
	return &FundingService{ledger: walletLedger, gateway: gateway, logger: logger}
}

// Initialize opens a hosted checkout for amount naira and records a pending
// ledger entry binding the reference to the caller's wallet. Balances do not
// move until the charge settles. An abandoned checkout leaves the pending
// entry behind; it never completes and never moves money.
func (s *FundingService) Initialize(ctx context.Context, userID int64, email string, amount decimal.Decimal) (*Checkout, error) {
	if amount.LessThan(decimal.NewFromInt(minFundingNaira)) {
		return nil, fmt.Errorf("%w: minimum is %d", ErrInvalidAmount, minFundingNaira)
	}
	wallet, err := s.ledger.WalletByUserID(ctx, userID)
	if err != nil {
		return nil, err
	}

	reference := utils.GeneratePaymentReference()
	if _, err := s.ledger.PendingCredit(ctx, ledger.EntryParams{
		WalletID:    wallet.ID,
		Amount:      amount,
		Category:    ledger.CategoryFunding,
		Description: "Wallet funding via Paystack",
		Reference:   reference,
		Metadata: map[string]interface{}{
			"email": email,
		},
	}); err != nil {
		return nil, err
	}

	amountInKobo := amount.Mul(decimal.NewFromInt(100)).IntPart()
	session, err := s.gateway.InitializeTransaction(email, amountInKobo, reference)
	if err != nil {
		s.logger.WithError(err).WithField("user_id", userID).Error("checkout initialization failed")
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"user_id":   userID,
		"reference": reference,
		"amount":    amount,
	}).Info("checkout session opened")

	return &Checkout{
		AuthorizationURL: session.AuthorizationURL,
		AccessCode:       session.AccessCode,
		Reference:        session.Reference,
	}, nil
}

// Confirm re-verifies a checkout with the processor and settles it into the
// wallet the reference was bound to at initialize time. The caller must be
// the customer who opened the checkout. Safe to call repeatedly.
func (s *FundingService) Confirm(ctx context.Context, userID int64, reference string) (*ledger.Transaction, error) {
	bound, err := s.ledger.TransactionByReference(ctx, reference)
	if err != nil {
		if errors.Is(err, ledger.ErrTransactionNotFound) {
			return nil, ErrUnknownReference
		}
		return nil, err
	}
	if bound.UserID != userID {
		s.logger.WithFields(logrus.Fields{
			"user_id":   userID,
			"reference": reference,
		}).Warn("rejected payment confirmation for another customer's reference")
		return nil, ErrReferenceMismatch
	}

	data, err := s.gateway.VerifyTransaction(reference)
	if err != nil {
		return nil, err
	}
	if !strings.EqualFold(data.Status, "success") {
		return nil, fmt.Errorf("%w: status %q", ErrPaymentNotSettled, data.Status)
	}
	return s.settle(ctx, data)
}

// HandleWebhook settles a processor event. The caller must have verified the
// signature over the raw body first. Events for references this service
// never issued are logged and dropped so the processor stops retrying them.
func (s *FundingService) HandleWebhook(ctx context.Context, event *fiat.WebhookEvent) error {
	if event.Event != fiat.EventChargeSuccess {
		s.logger.WithField("event", event.Event).Info("ignoring unhandled webhook event")
		return nil
	}
	_, err := s.settle(ctx, &event.Data)
	if errors.Is(err, ErrUnknownReference) {
		s.logger.WithFields(logrus.Fields{
			"event":     event.Event,
			"reference": event.Data.Reference,
		}).Warn("webhook for unknown payment reference")
		return nil
	}
	return err
}

// settle completes the pending entry for a verified charge exactly once.
// The pending row fixes which wallet receives the money; the processor's
// settled amount, not the amount requested at initialize, is what credits.
func (s *FundingService) settle(ctx context.Context, data *fiat.TransactionData) (*ledger.Transaction, error) {
	entry, err := s.ledger.SettleCredit(ctx, data.Reference, data.AmountNaira(),
		"Wallet funding via "+data.Channel,
		map[string]interface{}{
			"channel":  data.Channel,
			"currency": data.Currency,
			"paid_at":  data.PaidAt,
		},
	)
	if err != nil {
		if errors.Is(err, ledger.ErrTransactionNotFound) {
			return nil, ErrUnknownReference
		}
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"user_id":   entry.UserID,
		"reference": entry.Reference,
		"amount":    entry.Amount,
	}).Info("wallet funding settled")

	return entry, nil
}

// VerifySignature exposes webhook signature validation to the transport
// layer so it can reject forgeries before decoding the payload.
func (s *FundingService) VerifySignature(payload []byte, signature string) bool {
	return s.gateway.VerifyWebhookSignature(payload, signature)
}
