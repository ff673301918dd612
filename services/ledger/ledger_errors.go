package ledger

import "fmt"

var (
	ErrWalletNotFound      = fmt.Errorf("wallet not found")
	ErrWalletInactive      = fmt.Errorf("wallet is inactive")
	ErrInvalidAmount       = fmt.Errorf("amount must be greater than zero")
	ErrInsufficientFunds   = fmt.Errorf("insufficient funds")
	ErrTransactionNotFound = fmt.Errorf("transaction not found")
	ErrNotPending          = fmt.Errorf("transaction is not pending")
	ErrNotADebit           = fmt.Errorf("only debit transactions can be refunded")
	ErrAlreadyRefunded     = fmt.Errorf("transaction has already been refunded")
	ErrDuplicateReference  = fmt.Errorf("transaction reference already exists")
)
