package verification

import (
	"context"
	"errors"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/sqlc-dev/pqtype"

	"github.com/everifyng/everify-backend/db"
	"github.com/everifyng/everify-backend/providers"
	"github.com/everifyng/everify-backend/services/audit"
	"github.com/everifyng/everify-backend/services/ledger"
	"github.com/everifyng/everify-backend/services/monitoring/logging"
	"github.com/everifyng/everify-backend/services/registry"
	"github.com/everifyng/everify-backend/utils"
)

// Failure messages and codes whose meaning is "the record does not exist".
// A charge for a definitive lookup answer is kept, so these suppress the
// refund even when the provider reported them as generic errors.
var noRefundPatterns = []string{
	"not found",
	"no record",
	"does not exist",
	"invalid",
	"no data",
	"no result",
}

var noRefundCodes = []string{
	"404",
	"not_found",
	"no_record",
	"invalid_id",
	providers.CodeNotFound,
}

// WalletLedger is the money-movement surface the engine depends on.
type WalletLedger interface {
	WalletForUpdateTx(ctx context.Context, q db.Executor, userID int64) (*ledger.Wallet, error)
	DebitTx(ctx context.Context, q db.Executor, p ledger.EntryParams) (*ledger.Transaction, error)
	RefundTx(ctx context.Context, q db.Executor, originalID int64, reason string) (*ledger.Transaction, error)
}

// Catalog resolves services, provider chains and effective prices.
type Catalog interface {
	ProvidersFor(ctx context.Context, serviceID int64) ([]registry.ServiceProvider, error)
	PriceFor(ctx context.Context, userID int64, service *registry.VerificationService) (decimal.Decimal, error)
}

// ProviderCaller executes one outbound exchange against one provider.
type ProviderCaller interface {
	Call(ctx context.Context, p *registry.ServiceProvider, searchParameter string, cc providers.CallContext) providers.Outcome
}

// RequestStore is the verification-request persistence surface.
type RequestStore interface {
	Insert(ctx context.Context, q db.Executor, arg CreateRequestParams) (*Request, error)
	LinkTransaction(ctx context.Context, q db.Executor, requestID, transactionID int64) error
	MarkCompleted(ctx context.Context, q db.Executor, requestID, providerID int64, responseData pqtype.NullRawMessage) error
	MarkFailed(ctx context.Context, q db.Executor, requestID int64, errorMessage string) error
	GetForUpdate(ctx context.Context, q db.Executor, requestID int64) (*Request, error)
	GetByReference(ctx context.Context, q db.Executor, userID int64, reference string) (*Request, error)
	List(ctx context.Context, q db.Executor, userID int64, filter HistoryFilter) ([]Request, error)
	Count(ctx context.Context, q db.Executor, userID int64, filter HistoryFilter) (int64, error)
}

// VerifyInput is one caller-initiated lookup.
type VerifyInput struct {
	UserID          int64
	Service         *registry.VerificationService
	SearchParameter string
	Source          string
	ClientIP        string
	// Environment is the caller's credential environment. Test-environment
	// callers are routed to sandbox providers free of charge when any are
	// configured for the service.
	Environment string
}

// Engine runs the verification state machine: resolve price, charge the
// wallet, walk the provider chain, settle the request and the money.
type Engine struct {
	runTx    db.TxRunner
	readDB   db.Executor
	ledger   WalletLedger
	catalog  Catalog
	gateway  ProviderCaller
	requests RequestStore
	logger   *logging.Logger
}

func NewEngine(store *db.Store, walletLedger WalletLedger, catalog Catalog, gateway ProviderCaller, logger *logging.Logger) *Engine {
	return &Engine{
		runTx:    store.RunTx,
		readDB:   store.DB,
		ledger:   walletLedger,
		catalog:  catalog,
		gateway:  gateway,
		requests: NewRepository(),
		logger:   logger,
	}
}

// NewEngineWithDeps wires every collaborator explicitly; used by tests.
func NewEngineWithDeps(runTx db.TxRunner, readDB db.Executor, walletLedger WalletLedger, catalog Catalog, gateway ProviderCaller, requests RequestStore, logger *logging.Logger) *Engine {
	return &Engine{
		runTx:    runTx,
		readDB:   readDB,
		ledger:   walletLedger,
		catalog:  catalog,
		gateway:  gateway,
		requests: requests,
		logger:   logger,
	}
}

// Verify runs one lookup end to end. It never returns a Go error for
// provider-side failures; those surface as a failed Result so the caller
// always gets a terminal answer.
func (e *Engine) Verify(ctx context.Context, input VerifyInput) *Result {
	chain, err := e.catalog.ProvidersFor(ctx, input.Service.ID)
	if err != nil {
		e.logger.WithError(err).Error("failed to load provider chain")
		return Failure("Service temporarily unavailable", CodeInternalError)
	}
	if len(chain) == 0 {
		return Failure("Service temporarily unavailable", CodeNoProvider)
	}

	isTest := input.Environment == registry.EnvironmentTest
	chain, shouldCharge := selectChain(chain, isTest)
	if len(chain) == 0 {
		return Failure("Service temporarily unavailable", CodeNoProvider)
	}

	price := decimal.Zero
	if shouldCharge {
		price, err = e.catalog.PriceFor(ctx, input.UserID, input.Service)
		if err != nil {
			e.logger.WithError(err).Error("failed to resolve price")
			return Failure("Service temporarily unavailable", CodeInternalError)
		}
	}

	request, debit, failure := e.openRequest(ctx, input, price)
	if failure != nil {
		return failure
	}

	result, lastOutcome := e.walkChain(ctx, input, request, chain)
	if result != nil {
		result.Reference = request.Reference
		return result
	}

	return e.settleFailure(ctx, request, debit, lastOutcome)
}

// selectChain picks the providers a caller may use. Test-environment callers
// get the sandbox subset free of charge when one exists; otherwise everyone
// walks the full chain, environment-matched providers first, and pays.
func selectChain(chain []registry.ServiceProvider, isTest bool) ([]registry.ServiceProvider, bool) {
	if isTest {
		sandbox := make([]registry.ServiceProvider, 0, len(chain))
		for _, p := range chain {
			if p.IsTest() {
				sandbox = append(sandbox, p)
			}
		}
		if len(sandbox) > 0 {
			return sandbox, false
		}
	}

	ordered := make([]registry.ServiceProvider, len(chain))
	copy(ordered, chain)
	sort.SliceStable(ordered, func(i, j int) bool {
		return envRank(ordered[i], isTest) < envRank(ordered[j], isTest)
	})
	return ordered, true
}

func envRank(p registry.ServiceProvider, preferTest bool) int {
	if p.IsTest() == preferTest {
		return 0
	}
	return 1
}

// openRequest atomically locks the wallet, checks funds, creates the request
// row in processing state and takes the charge. Nothing is persisted when any
// step fails.
func (e *Engine) openRequest(ctx context.Context, input VerifyInput, price decimal.Decimal) (*Request, *ledger.Transaction, *Result) {
	var request *Request
	var debit *ledger.Transaction

	err := e.runTx(ctx, func(q db.Executor) error {
		wallet, err := e.ledger.WalletForUpdateTx(ctx, q, input.UserID)
		if err != nil {
			return err
		}
		if price.IsPositive() && !wallet.HasSufficientFunds(price) {
			return ledger.ErrInsufficientFunds
		}

		request, err = e.requests.Insert(ctx, q, CreateRequestParams{
			UserID:                input.UserID,
			VerificationServiceID: input.Service.ID,
			Reference:             utils.GenerateVerificationReference(),
			SearchParameter:       input.SearchParameter,
			AmountCharged:         price.StringFixed(2),
			Source:                input.Source,
			IPAddress:             input.ClientIP,
		})
		if err != nil {
			return err
		}

		if price.IsPositive() {
			debit, err = e.ledger.DebitTx(ctx, q, ledger.EntryParams{
				WalletID:    wallet.ID,
				Amount:      price,
				Category:    ledger.CategoryVerification,
				Description: input.Service.Name + " verification",
				Metadata: map[string]interface{}{
					"verification_request_id": request.ID,
					"service_slug":            input.Service.Slug,
				},
			})
			if err != nil {
				return err
			}
			if err := e.requests.LinkTransaction(ctx, q, request.ID, debit.ID); err != nil {
				return err
			}
		}
		return nil
	})

	switch {
	case err == nil:
		return request, debit, nil
	case errors.Is(err, ledger.ErrInsufficientFunds):
		return nil, nil, Failure("Insufficient wallet balance", CodeInsufficientFunds)
	case errors.Is(err, ledger.ErrWalletNotFound), errors.Is(err, ledger.ErrWalletInactive):
		e.logger.WithError(err).WithField("user_id", input.UserID).Warn("wallet unavailable for verification charge")
		return nil, nil, Failure("Wallet unavailable", CodePaymentError)
	default:
		e.logger.WithError(err).Error("failed to open verification request")
		return nil, nil, Failure("Payment processing failed", CodePaymentError)
	}
}

// walkChain tries providers in order. A definitive "record does not exist"
// answer stops the walk; transient provider failures move on to the next one.
func (e *Engine) walkChain(ctx context.Context, input VerifyInput, request *Request, chain []registry.ServiceProvider) (*Result, providers.Outcome) {
	var lastOutcome providers.Outcome

	for i := range chain {
		p := &chain[i]
		outcome := e.gateway.Call(ctx, p, input.SearchParameter, providers.CallContext{
			UserID:                input.UserID,
			VerificationRequestID: request.ID,
			ClientIP:              input.ClientIP,
		})
		lastOutcome = outcome

		if outcome.IsSuccess() {
			data := outcome.Data
			if data == nil {
				data = map[string]interface{}{}
			}
			data["_sandbox"] = p.IsTest()

			if err := e.complete(ctx, request.ID, p.ID, data); err != nil {
				e.logger.WithError(err).WithField("request_id", request.ID).Error("failed to persist completed verification")
				// The caller is told the request failed, so the
				// charge must come back and the row must land in a
				// terminal state like any other failure.
				return nil, providers.Outcome{
					Kind:         providers.OutcomeError,
					ErrorMessage: "Verification could not be recorded",
					ErrorCode:    CodeInternalError,
					ResponseTime: outcome.ResponseTime,
				}
			}
			return Success(data, outcome.ResponseTimeMS(), p.ID), lastOutcome
		}

		if outcome.IsNotFound() {
			// The record does not exist at the authoritative source.
			// Trying another provider cannot change that answer.
			break
		}

		e.logger.WithFields(logrus.Fields{
			"request_id": request.ID,
			"provider":   p.Name,
			"error":      outcome.ErrorMessage,
		}).Warn("provider attempt failed, trying next")
	}

	return nil, lastOutcome
}

func (e *Engine) complete(ctx context.Context, requestID, providerID int64, data map[string]interface{}) error {
	return e.runTx(ctx, func(q db.Executor) error {
		return e.requests.MarkCompleted(ctx, q, requestID, providerID, audit.RawJSON(data))
	})
}

// settleFailure records the failure and decides the refund. The request row
// is re-read under lock so two settlements of the same request cannot both
// refund.
func (e *Engine) settleFailure(ctx context.Context, request *Request, debit *ledger.Transaction, outcome providers.Outcome) *Result {
	message := outcome.ErrorMessage
	if message == "" {
		message = "Verification failed"
	}
	code := outcome.ErrorCode
	if code == "" {
		code = CodeProviderError
	}

	refundable := debit != nil && !isNotFoundFailure(outcome)

	err := e.runTx(ctx, func(q db.Executor) error {
		current, err := e.requests.GetForUpdate(ctx, q, request.ID)
		if err != nil {
			return err
		}
		if current.Status != StatusProcessing {
			return nil
		}

		if refundable {
			if _, err := e.ledger.RefundTx(ctx, q, debit.ID, "verification failed: "+message); err != nil {
				if !errors.Is(err, ledger.ErrAlreadyRefunded) {
					return err
				}
			}
		}
		return e.requests.MarkFailed(ctx, q, request.ID, message)
	})
	if err != nil {
		e.logger.WithError(err).WithField("request_id", request.ID).Error("failed to settle verification failure")
	}

	return FailureWithTime(message, code, outcome.ResponseTimeMS())
}

// isNotFoundFailure reports whether a failed outcome is a definitive lookup
// answer rather than a provider fault. Definitive answers keep the charge.
func isNotFoundFailure(outcome providers.Outcome) bool {
	if outcome.IsNotFound() {
		return true
	}
	message := strings.ToLower(outcome.ErrorMessage)
	for _, pattern := range noRefundPatterns {
		if strings.Contains(message, pattern) {
			return true
		}
	}
	code := strings.ToLower(outcome.ErrorCode)
	for _, known := range noRefundCodes {
		if code == strings.ToLower(known) {
			return true
		}
	}
	return false
}

// RequestByReference returns one of the user's verification requests.
func (e *Engine) RequestByReference(ctx context.Context, userID int64, reference string) (*Request, error) {
	return e.requests.GetByReference(ctx, e.readDB, userID, reference)
}

// History returns a page of the user's verification requests plus the total
// row count for the filter.
func (e *Engine) History(ctx context.Context, userID int64, filter HistoryFilter) ([]Request, int64, error) {
	if filter.Limit <= 0 || filter.Limit > 100 {
		filter.Limit = 20
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}
	items, err := e.requests.List(ctx, e.readDB, userID, filter)
	if err != nil {
		return nil, 0, err
	}
	count, err := e.requests.Count(ctx, e.readDB, userID, filter)
	if err != nil {
		return nil, 0, err
	}
	return items, count, nil
}
