package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/everifyng/everify-backend/db"
)

// Repository holds the ledger SQL. Every method receives an explicit
// executor so callers decide the transaction scope.
type Repository struct{}

func NewRepository() *Repository {
	return &Repository{}
}

const walletColumns = `id, user_id, balance, bonus_balance, currency, is_active, created_at, updated_at`

func (r *Repository) CreateWallet(ctx context.Context, q db.Executor, userID int64, currency string) (*Wallet, error) {
	var wallet Wallet
	query := `INSERT INTO wallets (id, user_id, currency)
              VALUES ($1, $2, $3)
              RETURNING ` + walletColumns
	err := q.QueryRowxContext(ctx, query, uuid.New(), userID, currency).StructScan(&wallet)
	if err != nil {
		return nil, fmt.Errorf("create wallet: %w", err)
	}
	return &wallet, nil
}

func (r *Repository) GetWallet(ctx context.Context, q db.Executor, walletID uuid.UUID) (*Wallet, error) {
	var wallet Wallet
	query := `SELECT ` + walletColumns + ` FROM wallets WHERE id = $1`
	err := q.GetContext(ctx, &wallet, query, walletID)
	if err == sql.ErrNoRows {
		return nil, ErrWalletNotFound
	} else if err != nil {
		return nil, fmt.Errorf("get wallet: %w", err)
	}
	return &wallet, nil
}

func (r *Repository) GetWalletByUserID(ctx context.Context, q db.Executor, userID int64) (*Wallet, error) {
	var wallet Wallet
	query := `SELECT ` + walletColumns + ` FROM wallets WHERE user_id = $1`
	err := q.GetContext(ctx, &wallet, query, userID)
	if err == sql.ErrNoRows {
		return nil, ErrWalletNotFound
	} else if err != nil {
		return nil, fmt.Errorf("get wallet by user: %w", err)
	}
	return &wallet, nil
}

// GetWalletForUpdate acquires the exclusive row lock for the balance
// read-modify-write. Must run inside a transaction.
func (r *Repository) GetWalletForUpdate(ctx context.Context, q db.Executor, walletID uuid.UUID) (*Wallet, error) {
	var wallet Wallet
	query := `SELECT ` + walletColumns + ` FROM wallets WHERE id = $1 FOR UPDATE`
	err := q.GetContext(ctx, &wallet, query, walletID)
	if err == sql.ErrNoRows {
		return nil, ErrWalletNotFound
	} else if err != nil {
		return nil, fmt.Errorf("lock wallet: %w", err)
	}
	return &wallet, nil
}

func (r *Repository) GetWalletByUserIDForUpdate(ctx context.Context, q db.Executor, userID int64) (*Wallet, error) {
	var wallet Wallet
	query := `SELECT ` + walletColumns + ` FROM wallets WHERE user_id = $1 FOR UPDATE`
	err := q.GetContext(ctx, &wallet, query, userID)
	if err == sql.ErrNoRows {
		return nil, ErrWalletNotFound
	} else if err != nil {
		return nil, fmt.Errorf("lock wallet by user: %w", err)
	}
	return &wallet, nil
}

// UpdateWalletBalances writes both balances of a locked wallet row.
func (r *Repository) UpdateWalletBalances(ctx context.Context, q db.Executor, wallet *Wallet) error {
	query := `UPDATE wallets SET balance = $1, bonus_balance = $2, updated_at = $3 WHERE id = $4`
	result, err := q.ExecContext(ctx, query, wallet.Balance, wallet.BonusBalance, time.Now().UTC(), wallet.ID)
	if err != nil {
		return fmt.Errorf("update wallet balances: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update wallet balances rows affected: %w", err)
	}
	if rows == 0 {
		return ErrWalletNotFound
	}
	return nil
}

const transactionColumns = `id, user_id, wallet_id, reference, type, category, amount,
	balance_before, bonus_balance_before, balance_after, bonus_balance_after,
	description, metadata, status, source_transaction_id, created_at`

func (r *Repository) InsertTransaction(ctx context.Context, q db.Executor, tx *Transaction) error {
	query := `INSERT INTO transactions
		(user_id, wallet_id, reference, type, category, amount,
		 balance_before, bonus_balance_before, balance_after, bonus_balance_after,
		 description, metadata, status, source_transaction_id)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	RETURNING id, created_at`
	err := q.QueryRowxContext(ctx, query,
		tx.UserID, tx.WalletID, tx.Reference, tx.Type, tx.Category, tx.Amount,
		tx.BalanceBefore, tx.BonusBalanceBefore, tx.BalanceAfter, tx.BonusBalanceAfter,
		tx.Description, tx.Metadata, tx.Status, tx.SourceTransactionID,
	).Scan(&tx.ID, &tx.CreatedAt)
	if err != nil {
		if db.IsDuplicateEntry(err) {
			return ErrDuplicateReference
		}
		return fmt.Errorf("insert transaction: %w", err)
	}
	return nil
}

func (r *Repository) GetTransaction(ctx context.Context, q db.Executor, id int64) (*Transaction, error) {
	var tx Transaction
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE id = $1`
	err := q.GetContext(ctx, &tx, query, id)
	if err == sql.ErrNoRows {
		return nil, ErrTransactionNotFound
	} else if err != nil {
		return nil, fmt.Errorf("get transaction: %w", err)
	}
	return &tx, nil
}

func (r *Repository) GetTransactionByReference(ctx context.Context, q db.Executor, reference string) (*Transaction, error) {
	var tx Transaction
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE reference = $1`
	err := q.GetContext(ctx, &tx, query, reference)
	if err == sql.ErrNoRows {
		return nil, ErrTransactionNotFound
	} else if err != nil {
		return nil, fmt.Errorf("get transaction by reference: %w", err)
	}
	return &tx, nil
}

// GetTransactionByReferenceForUpdate row-locks a ledger entry by reference.
// Settlement reads the pending funding row through this so two concurrent
// settlements of the same reference serialize.
func (r *Repository) GetTransactionByReferenceForUpdate(ctx context.Context, q db.Executor, reference string) (*Transaction, error) {
	var tx Transaction
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE reference = $1 FOR UPDATE`
	err := q.GetContext(ctx, &tx, query, reference)
	if err == sql.ErrNoRows {
		return nil, ErrTransactionNotFound
	} else if err != nil {
		return nil, fmt.Errorf("lock transaction by reference: %w", err)
	}
	return &tx, nil
}

// SettleTransaction completes a pending entry in place with the amount and
// balance snapshots of the settlement. The status predicate keeps a lost
// race from rewriting an already completed row.
func (r *Repository) SettleTransaction(ctx context.Context, q db.Executor, tx *Transaction) error {
	query := `UPDATE transactions
	          SET amount = $1, balance_before = $2, bonus_balance_before = $3,
	              balance_after = $4, bonus_balance_after = $5,
	              description = $6, metadata = $7, status = $8
	          WHERE id = $9 AND status = $10`
	result, err := q.ExecContext(ctx, query,
		tx.Amount, tx.BalanceBefore, tx.BonusBalanceBefore,
		tx.BalanceAfter, tx.BonusBalanceAfter,
		tx.Description, tx.Metadata, StatusCompleted,
		tx.ID, StatusPending,
	)
	if err != nil {
		return fmt.Errorf("settle transaction: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("settle transaction rows affected: %w", err)
	}
	if rows == 0 {
		return ErrNotPending
	}
	return nil
}

// HasRefundForSource reports whether a refund row already references the
// given debit. Callers must hold the wallet lock; the partial unique index
// on source_transaction_id remains the authoritative guard.
func (r *Repository) HasRefundForSource(ctx context.Context, q db.Executor, sourceID int64) (bool, error) {
	var exists bool
	query := `SELECT EXISTS (SELECT 1 FROM transactions WHERE source_transaction_id = $1)`
	if err := q.GetContext(ctx, &exists, query, sourceID); err != nil {
		return false, fmt.Errorf("check refund existence: %w", err)
	}
	return exists, nil
}

func (r *Repository) ListTransactionsByUser(ctx context.Context, q db.Executor, userID int64, limit, offset int) ([]Transaction, error) {
	var txs []Transaction
	query := `SELECT ` + transactionColumns + ` FROM transactions
	          WHERE user_id = $1 ORDER BY created_at DESC, id DESC LIMIT $2 OFFSET $3`
	if err := q.SelectContext(ctx, &txs, query, userID, limit, offset); err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	return txs, nil
}

func (r *Repository) CountTransactionsByUser(ctx context.Context, q db.Executor, userID int64) (int64, error) {
	var count int64
	query := `SELECT COUNT(*) FROM transactions WHERE user_id = $1`
	if err := q.GetContext(ctx, &count, query, userID); err != nil {
		return 0, fmt.Errorf("count transactions: %w", err)
	}
	return count, nil
}
