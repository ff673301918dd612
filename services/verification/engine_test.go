package verification

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/everifyng/everify-backend/db"
	"github.com/everifyng/everify-backend/providers"
	"github.com/everifyng/everify-backend/services/ledger"
	"github.com/everifyng/everify-backend/services/monitoring/logging"
	"github.com/everifyng/everify-backend/services/registry"
	"github.com/sqlc-dev/pqtype"
)

func passthroughTx(ctx context.Context, fn func(q db.Executor) error) error {
	return fn(nil)
}

type fakeLedger struct {
	wallet  *ledger.Wallet
	debits  []ledger.EntryParams
	refunds []int64
	nextID  int64
}

func newFakeLedger(balance string) *fakeLedger {
	return &fakeLedger{
		wallet: &ledger.Wallet{
			ID:       uuid.New(),
			UserID:   1,
			Balance:  decimal.RequireFromString(balance),
			Currency: "NGN",
			IsActive: true,
		},
		nextID: 100,
	}
}

func (f *fakeLedger) WalletForUpdateTx(ctx context.Context, q db.Executor, userID int64) (*ledger.Wallet, error) {
	copied := *f.wallet
	return &copied, nil
}

func (f *fakeLedger) DebitTx(ctx context.Context, q db.Executor, p ledger.EntryParams) (*ledger.Transaction, error) {
	if !f.wallet.HasSufficientFunds(p.Amount) {
		return nil, ledger.ErrInsufficientFunds
	}
	f.wallet.Balance = f.wallet.Balance.Sub(p.Amount)
	f.debits = append(f.debits, p)
	f.nextID++
	return &ledger.Transaction{
		ID:       f.nextID,
		UserID:   f.wallet.UserID,
		WalletID: f.wallet.ID,
		Type:     ledger.TypeDebit,
		Amount:   p.Amount,
	}, nil
}

func (f *fakeLedger) RefundTx(ctx context.Context, q db.Executor, originalID int64, reason string) (*ledger.Transaction, error) {
	for _, id := range f.refunds {
		if id == originalID {
			return nil, ledger.ErrAlreadyRefunded
		}
	}
	f.refunds = append(f.refunds, originalID)
	return &ledger.Transaction{ID: originalID + 1000, Type: ledger.TypeCredit}, nil
}

type fakeCatalog struct {
	providers []registry.ServiceProvider
	price     decimal.Decimal
}

func (f *fakeCatalog) ProvidersFor(ctx context.Context, serviceID int64) ([]registry.ServiceProvider, error) {
	return f.providers, nil
}

func (f *fakeCatalog) PriceFor(ctx context.Context, userID int64, service *registry.VerificationService) (decimal.Decimal, error) {
	return f.price, nil
}

type fakeGateway struct {
	outcomes map[string]providers.Outcome
	called   []string
}

func (f *fakeGateway) Call(ctx context.Context, p *registry.ServiceProvider, searchParameter string, cc providers.CallContext) providers.Outcome {
	f.called = append(f.called, p.Name)
	return f.outcomes[p.Name]
}

type fakeRequests struct {
	requests         map[int64]*Request
	nextID           int64
	markCompletedErr error
}

func newFakeRequests() *fakeRequests {
	return &fakeRequests{requests: map[int64]*Request{}, nextID: 1}
}

func (f *fakeRequests) Insert(ctx context.Context, q db.Executor, arg CreateRequestParams) (*Request, error) {
	req := &Request{
		ID:                    f.nextID,
		UserID:                arg.UserID,
		VerificationServiceID: arg.VerificationServiceID,
		Reference:             arg.Reference,
		SearchParameter:       arg.SearchParameter,
		AmountCharged:         decimal.RequireFromString(arg.AmountCharged),
		Status:                StatusProcessing,
		Source:                arg.Source,
	}
	f.nextID++
	f.requests[req.ID] = req
	return req, nil
}

func (f *fakeRequests) LinkTransaction(ctx context.Context, q db.Executor, requestID, transactionID int64) error {
	return nil
}

func (f *fakeRequests) MarkCompleted(ctx context.Context, q db.Executor, requestID, providerID int64, responseData pqtype.NullRawMessage) error {
	if f.markCompletedErr != nil {
		return f.markCompletedErr
	}
	req := f.requests[requestID]
	req.Status = StatusCompleted
	req.ResponseData = responseData
	return nil
}

func (f *fakeRequests) MarkFailed(ctx context.Context, q db.Executor, requestID int64, errorMessage string) error {
	req := f.requests[requestID]
	req.Status = StatusFailed
	return nil
}

func (f *fakeRequests) GetForUpdate(ctx context.Context, q db.Executor, requestID int64) (*Request, error) {
	req, ok := f.requests[requestID]
	if !ok {
		return nil, ErrRequestNotFound
	}
	return req, nil
}

func (f *fakeRequests) GetByReference(ctx context.Context, q db.Executor, userID int64, reference string) (*Request, error) {
	for _, req := range f.requests {
		if req.UserID == userID && req.Reference == reference {
			return req, nil
		}
	}
	return nil, ErrRequestNotFound
}

func (f *fakeRequests) List(ctx context.Context, q db.Executor, userID int64, filter HistoryFilter) ([]Request, error) {
	return nil, nil
}

func (f *fakeRequests) Count(ctx context.Context, q db.Executor, userID int64, filter HistoryFilter) (int64, error) {
	return 0, nil
}

func liveProvider(id int64, name string) registry.ServiceProvider {
	return registry.ServiceProvider{ID: id, Name: name, Environment: registry.EnvironmentLive, Priority: int(id)}
}

func testProvider(id int64, name string) registry.ServiceProvider {
	return registry.ServiceProvider{ID: id, Name: name, Environment: registry.EnvironmentTest, Priority: int(id)}
}

func ninService() *registry.VerificationService {
	return &registry.VerificationService{ID: 1, Name: "NIN", Slug: "nin"}
}

type engineFixture struct {
	engine   *Engine
	ledger   *fakeLedger
	gateway  *fakeGateway
	requests *fakeRequests
}

func newEngineFixture(balance string, price string, chain []registry.ServiceProvider, outcomes map[string]providers.Outcome) *engineFixture {
	ledgerFake := newFakeLedger(balance)
	gateway := &fakeGateway{outcomes: outcomes}
	requests := newFakeRequests()
	catalog := &fakeCatalog{providers: chain, price: decimal.RequireFromString(price)}
	engine := NewEngineWithDeps(passthroughTx, nil, ledgerFake, catalog, gateway, requests, logging.NewLogger())
	return &engineFixture{engine: engine, ledger: ledgerFake, gateway: gateway, requests: requests}
}

func liveInput() VerifyInput {
	return VerifyInput{
		UserID:          1,
		Service:         ninService(),
		SearchParameter: "12345678901",
		Source:          SourceAPI,
		ClientIP:        "10.0.0.1",
		Environment:     registry.EnvironmentLive,
	}
}

func successOutcome(data map[string]interface{}) providers.Outcome {
	return providers.Outcome{Kind: providers.OutcomeSuccess, Data: data, StatusCode: 200, ResponseTime: 120 * time.Millisecond}
}

func errorOutcome(message string) providers.Outcome {
	return providers.Outcome{Kind: providers.OutcomeError, ErrorMessage: message, ErrorCode: providers.CodeProviderError, StatusCode: 500}
}

func notFoundOutcome() providers.Outcome {
	return providers.Outcome{Kind: providers.OutcomeNotFound, ErrorMessage: "Record not found", ErrorCode: providers.CodeNotFound, StatusCode: 404}
}

func TestVerifySuccessChargesAndCompletes(t *testing.T) {
	fx := newEngineFixture("1000", "50", []registry.ServiceProvider{liveProvider(1, "alpha")}, map[string]providers.Outcome{
		"alpha": successOutcome(map[string]interface{}{"name": "ADA OBI"}),
	})

	result := fx.engine.Verify(context.Background(), liveInput())

	require.True(t, result.Success)
	assert.Equal(t, "ADA OBI", result.Data["name"])
	assert.Equal(t, false, result.Data["_sandbox"])
	assert.Equal(t, int64(1), result.ProviderUsed)
	assert.NotEmpty(t, result.Reference)

	require.Len(t, fx.ledger.debits, 1)
	assert.True(t, fx.ledger.debits[0].Amount.Equal(decimal.NewFromInt(50)))
	assert.Empty(t, fx.ledger.refunds)
	assert.Equal(t, StatusCompleted, fx.requests.requests[1].Status)
}

func TestVerifyCompletionWriteFailureRefundsCharge(t *testing.T) {
	fx := newEngineFixture("1000", "50", []registry.ServiceProvider{liveProvider(1, "alpha")}, map[string]providers.Outcome{
		"alpha": successOutcome(map[string]interface{}{"name": "ADA OBI"}),
	})
	fx.requests.markCompletedErr = errors.New("write timeout")

	result := fx.engine.Verify(context.Background(), liveInput())

	require.False(t, result.Success)
	assert.Equal(t, CodeInternalError, result.ErrorCode)

	// The caller was told failure, so the charge comes back and the row
	// reaches a terminal state instead of sticking in processing.
	require.Len(t, fx.ledger.refunds, 1)
	assert.Equal(t, StatusFailed, fx.requests.requests[1].Status)
}

func TestVerifyInsufficientFunds(t *testing.T) {
	fx := newEngineFixture("10", "50", []registry.ServiceProvider{liveProvider(1, "alpha")}, nil)

	result := fx.engine.Verify(context.Background(), liveInput())

	require.False(t, result.Success)
	assert.Equal(t, CodeInsufficientFunds, result.ErrorCode)
	assert.Empty(t, fx.gateway.called)
	assert.Empty(t, fx.ledger.debits)
}

func TestVerifyNoProviders(t *testing.T) {
	fx := newEngineFixture("1000", "50", nil, nil)

	result := fx.engine.Verify(context.Background(), liveInput())

	require.False(t, result.Success)
	assert.Equal(t, CodeNoProvider, result.ErrorCode)
}

func TestVerifyFailsOverToNextProvider(t *testing.T) {
	fx := newEngineFixture("1000", "50",
		[]registry.ServiceProvider{liveProvider(1, "alpha"), liveProvider(2, "beta")},
		map[string]providers.Outcome{
			"alpha": errorOutcome("connection reset"),
			"beta":  successOutcome(map[string]interface{}{"name": "ADA OBI"}),
		})

	result := fx.engine.Verify(context.Background(), liveInput())

	require.True(t, result.Success)
	assert.Equal(t, []string{"alpha", "beta"}, fx.gateway.called)
	assert.Equal(t, int64(2), result.ProviderUsed)
	assert.Empty(t, fx.ledger.refunds)
}

func TestVerifyNotFoundStopsChainAndKeepsCharge(t *testing.T) {
	fx := newEngineFixture("1000", "50",
		[]registry.ServiceProvider{liveProvider(1, "alpha"), liveProvider(2, "beta")},
		map[string]providers.Outcome{
			"alpha": notFoundOutcome(),
			"beta":  successOutcome(map[string]interface{}{"name": "should not be reached"}),
		})

	result := fx.engine.Verify(context.Background(), liveInput())

	require.False(t, result.Success)
	assert.Equal(t, providers.CodeNotFound, result.ErrorCode)
	// A definitive no-record answer is billable and ends the walk.
	assert.Equal(t, []string{"alpha"}, fx.gateway.called)
	assert.Empty(t, fx.ledger.refunds)
	assert.Equal(t, StatusFailed, fx.requests.requests[1].Status)
}

func TestVerifyAllProvidersFailRefunds(t *testing.T) {
	fx := newEngineFixture("1000", "50",
		[]registry.ServiceProvider{liveProvider(1, "alpha"), liveProvider(2, "beta")},
		map[string]providers.Outcome{
			"alpha": errorOutcome("timeout"),
			"beta":  errorOutcome("upstream maintenance"),
		})

	result := fx.engine.Verify(context.Background(), liveInput())

	require.False(t, result.Success)
	assert.Equal(t, providers.CodeProviderError, result.ErrorCode)
	assert.Len(t, fx.gateway.called, 2)
	require.Len(t, fx.ledger.refunds, 1)
	assert.Equal(t, StatusFailed, fx.requests.requests[1].Status)
}

func TestVerifyNotFoundWordingSuppressesRefund(t *testing.T) {
	// Some providers report missing records as generic errors; the wording
	// still marks them billable.
	fx := newEngineFixture("1000", "50",
		[]registry.ServiceProvider{liveProvider(1, "alpha")},
		map[string]providers.Outcome{
			"alpha": errorOutcome("No record exists for this identity number"),
		})

	result := fx.engine.Verify(context.Background(), liveInput())

	require.False(t, result.Success)
	assert.Empty(t, fx.ledger.refunds)
	require.Len(t, fx.ledger.debits, 1)
}

func TestVerifyTestEnvironmentUsesSandboxFree(t *testing.T) {
	fx := newEngineFixture("1000", "50",
		[]registry.ServiceProvider{liveProvider(1, "alpha"), testProvider(2, "sandbox")},
		map[string]providers.Outcome{
			"sandbox": successOutcome(map[string]interface{}{"name": "TEST USER"}),
		})

	input := liveInput()
	input.Environment = registry.EnvironmentTest
	result := fx.engine.Verify(context.Background(), input)

	require.True(t, result.Success)
	assert.Equal(t, true, result.Data["_sandbox"])
	assert.Equal(t, []string{"sandbox"}, fx.gateway.called)
	assert.Empty(t, fx.ledger.debits)
}

func TestVerifyTestEnvironmentWithoutSandboxCharges(t *testing.T) {
	fx := newEngineFixture("1000", "50",
		[]registry.ServiceProvider{liveProvider(1, "alpha")},
		map[string]providers.Outcome{
			"alpha": successOutcome(map[string]interface{}{"name": "ADA OBI"}),
		})

	input := liveInput()
	input.Environment = registry.EnvironmentTest
	result := fx.engine.Verify(context.Background(), input)

	require.True(t, result.Success)
	require.Len(t, fx.ledger.debits, 1)
}

func TestSelectChainOrdersEnvironmentFirst(t *testing.T) {
	chain := []registry.ServiceProvider{
		testProvider(1, "sandbox"),
		liveProvider(2, "alpha"),
		liveProvider(3, "beta"),
	}

	ordered, charge := selectChain(chain, false)
	require.True(t, charge)
	require.Len(t, ordered, 3)
	assert.Equal(t, "alpha", ordered[0].Name)
	assert.Equal(t, "beta", ordered[1].Name)
	assert.Equal(t, "sandbox", ordered[2].Name)
}

func TestIsNotFoundFailure(t *testing.T) {
	tests := []struct {
		name    string
		outcome providers.Outcome
		want    bool
	}{
		{"classified not found", notFoundOutcome(), true},
		{"message pattern", errorOutcome("identity does not exist"), true},
		{"invalid id wording", errorOutcome("Invalid NIN supplied"), true},
		{"code match", providers.Outcome{Kind: providers.OutcomeError, ErrorCode: "no_record"}, true},
		{"transient error", errorOutcome("gateway timeout"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, isNotFoundFailure(tt.outcome))
		})
	}
}
