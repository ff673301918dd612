package ledger

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/everifyng/everify-backend/db"
	"github.com/everifyng/everify-backend/services/monitoring/logging"
	"github.com/everifyng/everify-backend/utils"
)

// WalletStore is the wallet persistence surface the ledger depends on.
type WalletStore interface {
	CreateWallet(ctx context.Context, q db.Executor, userID int64, currency string) (*Wallet, error)
	GetWallet(ctx context.Context, q db.Executor, walletID uuid.UUID) (*Wallet, error)
	GetWalletByUserID(ctx context.Context, q db.Executor, userID int64) (*Wallet, error)
	GetWalletForUpdate(ctx context.Context, q db.Executor, walletID uuid.UUID) (*Wallet, error)
	GetWalletByUserIDForUpdate(ctx context.Context, q db.Executor, userID int64) (*Wallet, error)
	UpdateWalletBalances(ctx context.Context, q db.Executor, wallet *Wallet) error
}

// TransactionStore is the transaction-log persistence surface.
type TransactionStore interface {
	InsertTransaction(ctx context.Context, q db.Executor, tx *Transaction) error
	GetTransaction(ctx context.Context, q db.Executor, id int64) (*Transaction, error)
	GetTransactionByReference(ctx context.Context, q db.Executor, reference string) (*Transaction, error)
	GetTransactionByReferenceForUpdate(ctx context.Context, q db.Executor, reference string) (*Transaction, error)
	SettleTransaction(ctx context.Context, q db.Executor, tx *Transaction) error
	HasRefundForSource(ctx context.Context, q db.Executor, sourceID int64) (bool, error)
	ListTransactionsByUser(ctx context.Context, q db.Executor, userID int64, limit, offset int) ([]Transaction, error)
	CountTransactionsByUser(ctx context.Context, q db.Executor, userID int64) (int64, error)
}

// EntryParams describes one money movement.
type EntryParams struct {
	WalletID    uuid.UUID
	Amount      decimal.Decimal
	Category    Category
	Description string
	Metadata    map[string]interface{}
	// Reference is generated when empty. Callers that need idempotence
	// against retries (payment webhooks) pass the gateway reference here
	// and rely on the unique constraint.
	Reference string
}

type Service struct {
	store        *db.Store
	wallets      WalletStore
	transactions TransactionStore
	logger       *logging.Logger
}

func NewService(store *db.Store, logger *logging.Logger) *Service {
	repo := NewRepository()
	return &Service{
		store:        store,
		wallets:      repo,
		transactions: repo,
		logger:       logger,
	}
}

// NewServiceWithStores wires explicit stores; used by tests.
func NewServiceWithStores(store *db.Store, wallets WalletStore, transactions TransactionStore, logger *logging.Logger) *Service {
	return &Service{
		store:        store,
		wallets:      wallets,
		transactions: transactions,
		logger:       logger,
	}
}

// CreateWallet provisions a zero-balance wallet at customer onboarding.
func (s *Service) CreateWallet(ctx context.Context, userID int64, currency string) (*Wallet, error) {
	return s.wallets.CreateWallet(ctx, s.store.DB, userID, currency)
}

// Credit increases the main balance and writes the ledger entry atomically.
func (s *Service) Credit(ctx context.Context, p EntryParams) (*Transaction, error) {
	var tx *Transaction
	err := s.store.ExecTx(ctx, func(dbTx *sqlx.Tx) error {
		var err error
		tx, err = s.CreditTx(ctx, dbTx, p)
		return err
	})
	if err != nil {
		return nil, err
	}
	return tx, nil
}

// CreditTx performs a credit inside the caller's transaction scope.
func (s *Service) CreditTx(ctx context.Context, q db.Executor, p EntryParams) (*Transaction, error) {
	if !p.Amount.IsPositive() {
		return nil, ErrInvalidAmount
	}

	wallet, err := s.wallets.GetWalletForUpdate(ctx, q, p.WalletID)
	if err != nil {
		return nil, err
	}
	if !wallet.IsActive {
		return nil, ErrWalletInactive
	}

	balanceBefore := wallet.Balance
	bonusBefore := wallet.BonusBalance

	wallet.Balance = wallet.Balance.Add(p.Amount)
	if err := s.wallets.UpdateWalletBalances(ctx, q, wallet); err != nil {
		return nil, err
	}

	entry := &Transaction{
		UserID:             wallet.UserID,
		WalletID:           wallet.ID,
		Reference:          p.Reference,
		Type:               TypeCredit,
		Category:           p.Category,
		Amount:             p.Amount,
		BalanceBefore:      balanceBefore,
		BonusBalanceBefore: bonusBefore,
		BalanceAfter:       wallet.Balance,
		BonusBalanceAfter:  wallet.BonusBalance,
		Description:        p.Description,
		Metadata:           marshalMetadata(p.Metadata),
		Status:             StatusCompleted,
	}
	if entry.Reference == "" {
		entry.Reference = utils.GenerateTransactionReference()
	}

	if err := s.transactions.InsertTransaction(ctx, q, entry); err != nil {
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"wallet_id": wallet.ID,
		"reference": entry.Reference,
		"category":  entry.Category,
		"amount":    p.Amount,
	}).Info("wallet credited")

	return entry, nil
}

// PendingCredit writes a zero-movement entry binding a payment reference to
// a wallet before the charge leaves for the processor. Balances do not move
// until SettleCredit completes the entry.
func (s *Service) PendingCredit(ctx context.Context, p EntryParams) (*Transaction, error) {
	var tx *Transaction
	err := s.store.ExecTx(ctx, func(dbTx *sqlx.Tx) error {
		var err error
		tx, err = s.PendingCreditTx(ctx, dbTx, p)
		return err
	})
	if err != nil {
		return nil, err
	}
	return tx, nil
}

// PendingCreditTx opens a pending credit inside the caller's transaction
// scope.
func (s *Service) PendingCreditTx(ctx context.Context, q db.Executor, p EntryParams) (*Transaction, error) {
	if !p.Amount.IsPositive() {
		return nil, ErrInvalidAmount
	}

	wallet, err := s.wallets.GetWalletForUpdate(ctx, q, p.WalletID)
	if err != nil {
		return nil, err
	}
	if !wallet.IsActive {
		return nil, ErrWalletInactive
	}

	entry := &Transaction{
		UserID:             wallet.UserID,
		WalletID:           wallet.ID,
		Reference:          p.Reference,
		Type:               TypeCredit,
		Category:           p.Category,
		Amount:             p.Amount,
		BalanceBefore:      wallet.Balance,
		BonusBalanceBefore: wallet.BonusBalance,
		BalanceAfter:       wallet.Balance,
		BonusBalanceAfter:  wallet.BonusBalance,
		Description:        p.Description,
		Metadata:           marshalMetadata(p.Metadata),
		Status:             StatusPending,
	}
	if entry.Reference == "" {
		entry.Reference = utils.GenerateTransactionReference()
	}

	if err := s.transactions.InsertTransaction(ctx, q, entry); err != nil {
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"wallet_id": entry.WalletID,
		"reference": entry.Reference,
		"amount":    entry.Amount,
	}).Info("pending credit opened")

	return entry, nil
}

// SettleCredit completes a pending credit: the amount the processor actually
// settled is applied to the wallet the reference was bound to at open time.
// A second settlement of the same reference returns the completed entry
// without moving money again.
func (s *Service) SettleCredit(ctx context.Context, reference string, amount decimal.Decimal, description string, metadata map[string]interface{}) (*Transaction, error) {
	var tx *Transaction
	err := s.store.ExecTx(ctx, func(dbTx *sqlx.Tx) error {
		var err error
		tx, err = s.SettleCreditTx(ctx, dbTx, reference, amount, description, metadata)
		return err
	})
	if err != nil {
		return nil, err
	}
	return tx, nil
}

// SettleCreditTx settles a pending credit inside the caller's transaction
// scope. The pending row is locked before the wallet so two settlements of
// the same reference serialize.
func (s *Service) SettleCreditTx(ctx context.Context, q db.Executor, reference string, amount decimal.Decimal, description string, metadata map[string]interface{}) (*Transaction, error) {
	if !amount.IsPositive() {
		return nil, ErrInvalidAmount
	}

	entry, err := s.transactions.GetTransactionByReferenceForUpdate(ctx, q, reference)
	if err != nil {
		return nil, err
	}
	if entry.Status == StatusCompleted {
		return entry, nil
	}
	if entry.Status != StatusPending || !entry.IsCredit() {
		return nil, ErrNotPending
	}

	// A charge the processor already settled is credited even if the
	// wallet was deactivated after the checkout opened.
	wallet, err := s.wallets.GetWalletForUpdate(ctx, q, entry.WalletID)
	if err != nil {
		return nil, err
	}

	entry.Amount = amount
	entry.BalanceBefore = wallet.Balance
	entry.BonusBalanceBefore = wallet.BonusBalance

	wallet.Balance = wallet.Balance.Add(amount)
	if err := s.wallets.UpdateWalletBalances(ctx, q, wallet); err != nil {
		return nil, err
	}

	entry.BalanceAfter = wallet.Balance
	entry.BonusBalanceAfter = wallet.BonusBalance
	entry.Status = StatusCompleted
	if description != "" {
		entry.Description = description
	}

	merged := entry.MetadataMap()
	if merged == nil {
		merged = map[string]interface{}{}
	}
	for k, v := range metadata {
		merged[k] = v
	}
	entry.Metadata = marshalMetadata(merged)

	if err := s.transactions.SettleTransaction(ctx, q, entry); err != nil {
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"wallet_id": wallet.ID,
		"reference": entry.Reference,
		"amount":    amount,
	}).Info("pending credit settled")

	return entry, nil
}

// Debit consumes bonus balance first, then main balance, and records the
// actual split in metadata. The entry amount is always the requested amount.
func (s *Service) Debit(ctx context.Context, p EntryParams) (*Transaction, error) {
	var tx *Transaction
	err := s.store.ExecTx(ctx, func(dbTx *sqlx.Tx) error {
		var err error
		tx, err = s.DebitTx(ctx, dbTx, p)
		return err
	})
	if err != nil {
		return nil, err
	}
	return tx, nil
}

// DebitTx performs a debit inside the caller's transaction scope. The wallet
// row lock is held until the enclosing transaction commits or rolls back.
func (s *Service) DebitTx(ctx context.Context, q db.Executor, p EntryParams) (*Transaction, error) {
	if !p.Amount.IsPositive() {
		return nil, ErrInvalidAmount
	}

	wallet, err := s.wallets.GetWalletForUpdate(ctx, q, p.WalletID)
	if err != nil {
		return nil, err
	}
	if !wallet.IsActive {
		return nil, ErrWalletInactive
	}

	if !wallet.HasSufficientFunds(p.Amount) {
		return nil, ErrInsufficientFunds
	}

	balanceBefore := wallet.Balance
	bonusBefore := wallet.BonusBalance

	bonusDeducted := decimal.Min(wallet.BonusBalance, p.Amount)
	mainDeducted := p.Amount.Sub(bonusDeducted)

	wallet.BonusBalance = wallet.BonusBalance.Sub(bonusDeducted)
	wallet.Balance = wallet.Balance.Sub(mainDeducted)
	if err := s.wallets.UpdateWalletBalances(ctx, q, wallet); err != nil {
		return nil, err
	}

	metadata := map[string]interface{}{}
	for k, v := range p.Metadata {
		metadata[k] = v
	}
	metadata["bonus_deducted"] = bonusDeducted.String()
	metadata["main_deducted"] = mainDeducted.String()
	metadata["original_amount"] = p.Amount.String()

	entry := &Transaction{
		UserID:             wallet.UserID,
		WalletID:           wallet.ID,
		Reference:          p.Reference,
		Type:               TypeDebit,
		Category:           p.Category,
		Amount:             p.Amount,
		BalanceBefore:      balanceBefore,
		BonusBalanceBefore: bonusBefore,
		BalanceAfter:       wallet.Balance,
		BonusBalanceAfter:  wallet.BonusBalance,
		Description:        p.Description,
		Metadata:           marshalMetadata(metadata),
		Status:             StatusCompleted,
	}
	if entry.Reference == "" {
		entry.Reference = utils.GenerateTransactionReference()
	}

	if err := s.transactions.InsertTransaction(ctx, q, entry); err != nil {
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"wallet_id":      wallet.ID,
		"reference":      entry.Reference,
		"category":       entry.Category,
		"amount":         p.Amount,
		"bonus_deducted": bonusDeducted,
		"main_deducted":  mainDeducted,
	}).Info("wallet debited")

	return entry, nil
}

// Refund credits back the exact amount of a debit. A second refund for the
// same source transaction fails with ErrAlreadyRefunded; the partial unique
// index on source_transaction_id closes the race between concurrent failure
// paths.
func (s *Service) Refund(ctx context.Context, originalID int64, reason string) (*Transaction, error) {
	var tx *Transaction
	err := s.store.ExecTx(ctx, func(dbTx *sqlx.Tx) error {
		var err error
		tx, err = s.RefundTx(ctx, dbTx, originalID, reason)
		return err
	})
	if err != nil {
		return nil, err
	}
	return tx, nil
}

// RefundTx performs a refund inside the caller's transaction scope.
func (s *Service) RefundTx(ctx context.Context, q db.Executor, originalID int64, reason string) (*Transaction, error) {
	original, err := s.transactions.GetTransaction(ctx, q, originalID)
	if err != nil {
		return nil, err
	}
	if !original.IsDebit() {
		return nil, ErrNotADebit
	}

	// Refunds restore money the customer is owed, so a wallet deactivated
	// after the debit still receives them.
	wallet, err := s.wallets.GetWalletForUpdate(ctx, q, original.WalletID)
	if err != nil {
		return nil, err
	}

	// Re-check under the wallet lock before inserting.
	refunded, err := s.transactions.HasRefundForSource(ctx, q, original.ID)
	if err != nil {
		return nil, err
	}
	if refunded {
		return nil, ErrAlreadyRefunded
	}

	balanceBefore := wallet.Balance
	bonusBefore := wallet.BonusBalance

	// Restore the exact main/bonus split recorded at debit time so a
	// debit-then-refund round trip reproduces the original balances.
	bonusDeducted := decimal.Zero
	mainDeducted := original.Amount
	if meta := original.MetadataMap(); meta != nil {
		if v, ok := meta["bonus_deducted"].(string); ok {
			if d, err := decimal.NewFromString(v); err == nil {
				bonusDeducted = d
				mainDeducted = original.Amount.Sub(d)
			}
		}
	}

	wallet.Balance = wallet.Balance.Add(mainDeducted)
	wallet.BonusBalance = wallet.BonusBalance.Add(bonusDeducted)
	if err := s.wallets.UpdateWalletBalances(ctx, q, wallet); err != nil {
		return nil, err
	}

	entry := &Transaction{
		UserID:             wallet.UserID,
		WalletID:           wallet.ID,
		Reference:          utils.GenerateTransactionReference(),
		Type:               TypeCredit,
		Category:           CategoryRefund,
		Amount:             original.Amount,
		BalanceBefore:      balanceBefore,
		BonusBalanceBefore: bonusBefore,
		BalanceAfter:       wallet.Balance,
		BonusBalanceAfter:  wallet.BonusBalance,
		Description:        fmt.Sprintf("Refund for %s", original.Reference),
		Metadata: marshalMetadata(map[string]interface{}{
			"source_reference": original.Reference,
			"reason":           reason,
		}),
		Status:              StatusCompleted,
		SourceTransactionID: sql.NullInt64{Int64: original.ID, Valid: true},
	}

	if err := s.transactions.InsertTransaction(ctx, q, entry); err != nil {
		if err == ErrDuplicateReference {
			return nil, ErrAlreadyRefunded
		}
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"wallet_id":        wallet.ID,
		"source_reference": original.Reference,
		"amount":           original.Amount,
	}).Info("debit refunded")

	return entry, nil
}

// Balance returns the wallet read-model for a user.
func (s *Service) Balance(ctx context.Context, userID int64) (*Balance, error) {
	wallet, err := s.wallets.GetWalletByUserID(ctx, s.store.DB, userID)
	if err != nil {
		return nil, err
	}
	return &Balance{
		Main:     wallet.Balance,
		Bonus:    wallet.BonusBalance,
		Total:    wallet.TotalBalance(),
		Currency: wallet.Currency,
	}, nil
}

// WalletByUserID returns a user's wallet without locking.
func (s *Service) WalletByUserID(ctx context.Context, userID int64) (*Wallet, error) {
	return s.wallets.GetWalletByUserID(ctx, s.store.DB, userID)
}

// WalletForUpdateTx row-locks a user's wallet inside the caller's transaction
// scope. Callers use it to hold the lock across a funds check and a debit.
func (s *Service) WalletForUpdateTx(ctx context.Context, q db.Executor, userID int64) (*Wallet, error) {
	return s.wallets.GetWalletByUserIDForUpdate(ctx, q, userID)
}

// Transaction returns a single ledger entry.
func (s *Service) Transaction(ctx context.Context, id int64) (*Transaction, error) {
	return s.transactions.GetTransaction(ctx, s.store.DB, id)
}

// TransactionByReference returns a single ledger entry by reference.
func (s *Service) TransactionByReference(ctx context.Context, reference string) (*Transaction, error) {
	return s.transactions.GetTransactionByReference(ctx, s.store.DB, reference)
}

// ListTransactions returns a page of a user's ledger history plus the total
// row count.
func (s *Service) ListTransactions(ctx context.Context, userID int64, limit, offset int) ([]Transaction, int64, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	txs, err := s.transactions.ListTransactionsByUser(ctx, s.store.DB, userID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	count, err := s.transactions.CountTransactionsByUser(ctx, s.store.DB, userID)
	if err != nil {
		return nil, 0, err
	}
	return txs, count, nil
}
