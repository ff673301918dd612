package ledger

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/everifyng/everify-backend/db"
	"github.com/everifyng/everify-backend/services/monitoring/logging"
)

type fakeStores struct {
	wallets      map[uuid.UUID]*Wallet
	transactions []*Transaction
	nextID       int64
	references   map[string]bool
}

func newFakeStores() *fakeStores {
	return &fakeStores{
		wallets:    map[uuid.UUID]*Wallet{},
		nextID:     1,
		references: map[string]bool{},
	}
}

func (f *fakeStores) addWallet(userID int64, main, bonus string) *Wallet {
	w := &Wallet{
		ID:           uuid.New(),
		UserID:       userID,
		Balance:      decimal.RequireFromString(main),
		BonusBalance: decimal.RequireFromString(bonus),
		Currency:     "NGN",
		IsActive:     true,
	}
	f.wallets[w.ID] = w
	return w
}

func (f *fakeStores) CreateWallet(ctx context.Context, q db.Executor, userID int64, currency string) (*Wallet, error) {
	w := f.addWallet(userID, "0", "0")
	w.Currency = currency
	return w, nil
}

func (f *fakeStores) GetWallet(ctx context.Context, q db.Executor, walletID uuid.UUID) (*Wallet, error) {
	w, ok := f.wallets[walletID]
	if !ok {
		return nil, ErrWalletNotFound
	}
	copied := *w
	return &copied, nil
}

func (f *fakeStores) GetWalletByUserID(ctx context.Context, q db.Executor, userID int64) (*Wallet, error) {
	for _, w := range f.wallets {
		if w.UserID == userID {
			copied := *w
			return &copied, nil
		}
	}
	return nil, ErrWalletNotFound
}

func (f *fakeStores) GetWalletForUpdate(ctx context.Context, q db.Executor, walletID uuid.UUID) (*Wallet, error) {
	return f.GetWallet(ctx, q, walletID)
}

func (f *fakeStores) GetWalletByUserIDForUpdate(ctx context.Context, q db.Executor, userID int64) (*Wallet, error) {
	return f.GetWalletByUserID(ctx, q, userID)
}

func (f *fakeStores) UpdateWalletBalances(ctx context.Context, q db.Executor, wallet *Wallet) error {
	stored, ok := f.wallets[wallet.ID]
	if !ok {
		return ErrWalletNotFound
	}
	stored.Balance = wallet.Balance
	stored.BonusBalance = wallet.BonusBalance
	return nil
}

func (f *fakeStores) InsertTransaction(ctx context.Context, q db.Executor, tx *Transaction) error {
	if f.references[tx.Reference] {
		return ErrDuplicateReference
	}
	f.references[tx.Reference] = true
	tx.ID = f.nextID
	f.nextID++
	copied := *tx
	f.transactions = append(f.transactions, &copied)
	return nil
}

func (f *fakeStores) GetTransaction(ctx context.Context, q db.Executor, id int64) (*Transaction, error) {
	for _, tx := range f.transactions {
		if tx.ID == id {
			copied := *tx
			return &copied, nil
		}
	}
	return nil, ErrTransactionNotFound
}

func (f *fakeStores) GetTransactionByReference(ctx context.Context, q db.Executor, reference string) (*Transaction, error) {
	for _, tx := range f.transactions {
		if tx.Reference == reference {
			copied := *tx
			return &copied, nil
		}
	}
	return nil, ErrTransactionNotFound
}

func (f *fakeStores) GetTransactionByReferenceForUpdate(ctx context.Context, q db.Executor, reference string) (*Transaction, error) {
	return f.GetTransactionByReference(ctx, q, reference)
}

func (f *fakeStores) SettleTransaction(ctx context.Context, q db.Executor, tx *Transaction) error {
	for _, stored := range f.transactions {
		if stored.ID == tx.ID {
			if stored.Status != StatusPending {
				return ErrNotPending
			}
			*stored = *tx
			return nil
		}
	}
	return ErrTransactionNotFound
}

func (f *fakeStores) HasRefundForSource(ctx context.Context, q db.Executor, sourceID int64) (bool, error) {
	for _, tx := range f.transactions {
		if tx.SourceTransactionID.Valid && tx.SourceTransactionID.Int64 == sourceID {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeStores) ListTransactionsByUser(ctx context.Context, q db.Executor, userID int64, limit, offset int) ([]Transaction, error) {
	out := []Transaction{}
	for _, tx := range f.transactions {
		if tx.UserID == userID {
			out = append(out, *tx)
		}
	}
	return out, nil
}

func (f *fakeStores) CountTransactionsByUser(ctx context.Context, q db.Executor, userID int64) (int64, error) {
	list, _ := f.ListTransactionsByUser(ctx, q, userID, 0, 0)
	return int64(len(list)), nil
}

func newTestService(f *fakeStores) *Service {
	return NewServiceWithStores(nil, f, f, logging.NewLogger())
}

func TestDebitConsumesBonusFirst(t *testing.T) {
	tests := []struct {
		name          string
		main          string
		bonus         string
		amount        string
		wantMainAfter string
		wantBonus     string
		wantBonusUsed string
	}{
		{
			name:          "bonus covers everything",
			main:          "500",
			bonus:         "100",
			amount:        "60",
			wantMainAfter: "500",
			wantBonus:     "40",
			wantBonusUsed: "60",
		},
		{
			name:          "split across both balances",
			main:          "500",
			bonus:         "100",
			amount:        "150",
			wantMainAfter: "450",
			wantBonus:     "0",
			wantBonusUsed: "100",
		},
		{
			name:          "no bonus available",
			main:          "500",
			bonus:         "0",
			amount:        "150",
			wantMainAfter: "350",
			wantBonus:     "0",
			wantBonusUsed: "0",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFakeStores()
			w := f.addWallet(1, tt.main, tt.bonus)
			s := newTestService(f)

			entry, err := s.DebitTx(context.Background(), nil, EntryParams{
				WalletID: w.ID,
				Amount:   decimal.RequireFromString(tt.amount),
				Category: CategoryVerification,
			})
			require.NoError(t, err)

			assert.True(t, entry.Amount.Equal(decimal.RequireFromString(tt.amount)))
			assert.True(t, f.wallets[w.ID].Balance.Equal(decimal.RequireFromString(tt.wantMainAfter)))
			assert.True(t, f.wallets[w.ID].BonusBalance.Equal(decimal.RequireFromString(tt.wantBonus)))

			meta := entry.MetadataMap()
			require.NotNil(t, meta)
			assert.Equal(t, tt.wantBonusUsed, meta["bonus_deducted"])
			assert.Equal(t, tt.amount, meta["original_amount"])
		})
	}
}

func TestDebitInsufficientFunds(t *testing.T) {
	f := newFakeStores()
	w := f.addWallet(1, "50", "20")
	s := newTestService(f)

	_, err := s.DebitTx(context.Background(), nil, EntryParams{
		WalletID: w.ID,
		Amount:   decimal.NewFromInt(100),
		Category: CategoryVerification,
	})
	require.ErrorIs(t, err, ErrInsufficientFunds)

	// The wallet and ledger are untouched.
	assert.True(t, f.wallets[w.ID].Balance.Equal(decimal.NewFromInt(50)))
	assert.Empty(t, f.transactions)
}

func TestDebitRejectsNonPositiveAmount(t *testing.T) {
	f := newFakeStores()
	w := f.addWallet(1, "100", "0")
	s := newTestService(f)

	for _, amount := range []string{"0", "-10"} {
		_, err := s.DebitTx(context.Background(), nil, EntryParams{
			WalletID: w.ID,
			Amount:   decimal.RequireFromString(amount),
			Category: CategoryVerification,
		})
		assert.ErrorIs(t, err, ErrInvalidAmount)
	}
}

func TestCreditIncreasesMainBalanceOnly(t *testing.T) {
	f := newFakeStores()
	w := f.addWallet(1, "100", "25")
	s := newTestService(f)

	entry, err := s.CreditTx(context.Background(), nil, EntryParams{
		WalletID:  w.ID,
		Amount:    decimal.NewFromInt(400),
		Category:  CategoryFunding,
		Reference: "PAY_abc123",
	})
	require.NoError(t, err)

	assert.Equal(t, "PAY_abc123", entry.Reference)
	assert.True(t, f.wallets[w.ID].Balance.Equal(decimal.NewFromInt(500)))
	assert.True(t, f.wallets[w.ID].BonusBalance.Equal(decimal.NewFromInt(25)))
}

func TestCreditDuplicateReference(t *testing.T) {
	f := newFakeStores()
	w := f.addWallet(1, "0", "0")
	s := newTestService(f)

	params := EntryParams{
		WalletID:  w.ID,
		Amount:    decimal.NewFromInt(100),
		Category:  CategoryFunding,
		Reference: "PAY_same",
	}
	_, err := s.CreditTx(context.Background(), nil, params)
	require.NoError(t, err)

	_, err = s.CreditTx(context.Background(), nil, params)
	require.ErrorIs(t, err, ErrDuplicateReference)

	// Only the first settlement moved money.
	assert.True(t, f.wallets[w.ID].Balance.Equal(decimal.NewFromInt(100)))
}

func TestPendingCreditDoesNotMoveMoney(t *testing.T) {
	f := newFakeStores()
	w := f.addWallet(1, "100", "0")
	s := newTestService(f)

	entry, err := s.PendingCreditTx(context.Background(), nil, EntryParams{
		WalletID:  w.ID,
		Amount:    decimal.NewFromInt(5000),
		Category:  CategoryFunding,
		Reference: "PAY_pending1",
	})
	require.NoError(t, err)

	assert.Equal(t, StatusPending, entry.Status)
	assert.Equal(t, int64(1), entry.UserID)
	assert.True(t, f.wallets[w.ID].Balance.Equal(decimal.NewFromInt(100)))
}

func TestSettleCreditAppliesProcessorAmount(t *testing.T) {
	f := newFakeStores()
	w := f.addWallet(1, "100", "0")
	s := newTestService(f)

	_, err := s.PendingCreditTx(context.Background(), nil, EntryParams{
		WalletID:  w.ID,
		Amount:    decimal.NewFromInt(5000),
		Category:  CategoryFunding,
		Reference: "PAY_pending2",
	})
	require.NoError(t, err)

	// The processor's settled amount wins over the amount requested at
	// checkout time.
	entry, err := s.SettleCreditTx(context.Background(), nil, "PAY_pending2",
		decimal.NewFromInt(2500), "Wallet funding via card",
		map[string]interface{}{"channel": "card"})
	require.NoError(t, err)

	assert.Equal(t, StatusCompleted, entry.Status)
	assert.True(t, entry.Amount.Equal(decimal.NewFromInt(2500)))
	assert.True(t, f.wallets[w.ID].Balance.Equal(decimal.NewFromInt(2600)))
	assert.Equal(t, "card", entry.MetadataMap()["channel"])
}

func TestSettleCreditIsIdempotent(t *testing.T) {
	f := newFakeStores()
	w := f.addWallet(1, "0", "0")
	s := newTestService(f)

	_, err := s.PendingCreditTx(context.Background(), nil, EntryParams{
		WalletID:  w.ID,
		Amount:    decimal.NewFromInt(1000),
		Category:  CategoryFunding,
		Reference: "PAY_pending3",
	})
	require.NoError(t, err)

	first, err := s.SettleCreditTx(context.Background(), nil, "PAY_pending3", decimal.NewFromInt(1000), "", nil)
	require.NoError(t, err)

	second, err := s.SettleCreditTx(context.Background(), nil, "PAY_pending3", decimal.NewFromInt(1000), "", nil)
	require.NoError(t, err)

	// The second settlement resolves to the completed entry; money moved
	// exactly once.
	assert.Equal(t, first.ID, second.ID)
	assert.True(t, f.wallets[w.ID].Balance.Equal(decimal.NewFromInt(1000)))
}

func TestSettleCreditUnknownReference(t *testing.T) {
	f := newFakeStores()
	f.addWallet(1, "0", "0")
	s := newTestService(f)

	_, err := s.SettleCreditTx(context.Background(), nil, "PAY_nope", decimal.NewFromInt(1000), "", nil)
	require.ErrorIs(t, err, ErrTransactionNotFound)
}

func TestInactiveWalletRejectsMutations(t *testing.T) {
	f := newFakeStores()
	w := f.addWallet(1, "500", "0")
	f.wallets[w.ID].IsActive = false
	s := newTestService(f)

	_, err := s.DebitTx(context.Background(), nil, EntryParams{
		WalletID: w.ID,
		Amount:   decimal.NewFromInt(50),
		Category: CategoryVerification,
	})
	require.ErrorIs(t, err, ErrWalletInactive)

	_, err = s.CreditTx(context.Background(), nil, EntryParams{
		WalletID: w.ID,
		Amount:   decimal.NewFromInt(50),
		Category: CategoryFunding,
	})
	require.ErrorIs(t, err, ErrWalletInactive)

	_, err = s.PendingCreditTx(context.Background(), nil, EntryParams{
		WalletID: w.ID,
		Amount:   decimal.NewFromInt(50),
		Category: CategoryFunding,
	})
	require.ErrorIs(t, err, ErrWalletInactive)

	assert.Empty(t, f.transactions)
	assert.True(t, f.wallets[w.ID].Balance.Equal(decimal.NewFromInt(500)))
}

func TestRefundRestoresOriginalSplit(t *testing.T) {
	f := newFakeStores()
	w := f.addWallet(1, "500", "100")
	s := newTestService(f)

	debit, err := s.DebitTx(context.Background(), nil, EntryParams{
		WalletID: w.ID,
		Amount:   decimal.NewFromInt(150),
		Category: CategoryVerification,
	})
	require.NoError(t, err)

	refund, err := s.RefundTx(context.Background(), nil, debit.ID, "provider timeout")
	require.NoError(t, err)

	assert.True(t, refund.Amount.Equal(decimal.NewFromInt(150)))
	assert.Equal(t, TypeCredit, refund.Type)
	assert.Equal(t, CategoryRefund, refund.Category)
	assert.Equal(t, debit.ID, refund.SourceTransactionID.Int64)

	// A debit-then-refund round trip reproduces the starting balances.
	assert.True(t, f.wallets[w.ID].Balance.Equal(decimal.NewFromInt(500)))
	assert.True(t, f.wallets[w.ID].BonusBalance.Equal(decimal.NewFromInt(100)))
}

func TestRefundIsIdempotent(t *testing.T) {
	f := newFakeStores()
	w := f.addWallet(1, "500", "0")
	s := newTestService(f)

	debit, err := s.DebitTx(context.Background(), nil, EntryParams{
		WalletID: w.ID,
		Amount:   decimal.NewFromInt(100),
		Category: CategoryVerification,
	})
	require.NoError(t, err)

	_, err = s.RefundTx(context.Background(), nil, debit.ID, "first")
	require.NoError(t, err)

	_, err = s.RefundTx(context.Background(), nil, debit.ID, "second")
	require.ErrorIs(t, err, ErrAlreadyRefunded)

	assert.True(t, f.wallets[w.ID].Balance.Equal(decimal.NewFromInt(500)))
}

func TestRefundAllowedOnInactiveWallet(t *testing.T) {
	f := newFakeStores()
	w := f.addWallet(1, "500", "0")
	s := newTestService(f)

	debit, err := s.DebitTx(context.Background(), nil, EntryParams{
		WalletID: w.ID,
		Amount:   decimal.NewFromInt(100),
		Category: CategoryVerification,
	})
	require.NoError(t, err)

	// Money owed back still lands even after the wallet is deactivated.
	f.wallets[w.ID].IsActive = false

	_, err = s.RefundTx(context.Background(), nil, debit.ID, "provider down")
	require.NoError(t, err)
	assert.True(t, f.wallets[w.ID].Balance.Equal(decimal.NewFromInt(500)))
}

func TestRefundRejectsCredits(t *testing.T) {
	f := newFakeStores()
	w := f.addWallet(1, "0", "0")
	s := newTestService(f)

	credit, err := s.CreditTx(context.Background(), nil, EntryParams{
		WalletID: w.ID,
		Amount:   decimal.NewFromInt(100),
		Category: CategoryFunding,
	})
	require.NoError(t, err)

	_, err = s.RefundTx(context.Background(), nil, credit.ID, "nope")
	require.ErrorIs(t, err, ErrNotADebit)
}
