package ledger

import (
	"context"
	"errors"
)

var (
	// ErrInsufficientFunds occurs when the source account lacks available balance
	// to cover a requested posting.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrDuplicateTransaction indicates the provided client transaction identifier
	// already exists and therefore the operation should be treated as idempotent.
	ErrDuplicateTransaction = errors.New("duplicate transaction")

	// ErrAccountExists is returned by Tx.CreateAccount when data is already stored
	// under the requested code. Existing data is never overwritten.
	ErrAccountExists = errors.New("account already exists")

	// ErrAccountNotFound is returned when an account or its data is missing.
	ErrAccountNotFound = errors.New("account not found")

	// ErrInvalidAmount rejects zero or negative postings.
	ErrInvalidAmount = errors.New("amount must be positive")
)

const (
	// MintAccountCode is the issuing account credited amounts are drawn from.
	// Its balance goes negative so the sum over all accounts stays zero.
	MintAccountCode = "system:mint"
	// RentAccountCode holds storage reservations for data accounts until they are closed.
	RentAccountCode = "system:rent"

	// KindMint tags idempotent mint postings.
	KindMint = "mint"
	// KindUpdate tags postings made inside Update.
	KindUpdate = "update"

	statusCompleted = "completed"
)

func isSystemAccount(code string) bool {
	return code == MintAccountCode || code == RentAccountCode
}

// MintResult captures the outcome of a mint posting.
type MintResult struct {
	TransactionID string `json:"transaction_id"`
	Balance       int64  `json:"balance"`
}

// Rent prices the storage reservation charged when a data account is created.
// The reservation is refunded in full when the account is closed.
type Rent struct {
	PerByte       int64
	OverheadBytes int64
}

// Reserve returns the reservation for size bytes of account data.
func (r Rent) Reserve(size int) int64 {
	if r.PerByte <= 0 {
		return 0
	}
	return (r.OverheadBytes + int64(size)) * r.PerByte
}

// Reader is the consistent read-only snapshot passed to Ledger.View.
type Reader interface {
	// Balance returns the current balance of an account.
	Balance(code string) (int64, error)
	// AccountData returns a copy of the data stored under code.
	AccountData(code string) ([]byte, error)
}

// Tx is a unit of work applied atomically by Ledger.Update. Any error returned
// from the Update callback discards every change made through the Tx.
type Tx interface {
	Reader
	// Transfer debits from and credits to by amount.
	Transfer(from, to string, amount int64) error
	// CreateAccount stores data under code, charging the rent reserve to payer.
	// It fails with ErrAccountExists when data already exists for code.
	CreateAccount(code, payer string, data []byte) error
	// CloseAccount deletes the data under code and moves its remaining balance
	// plus the rent reserve to beneficiary. It returns the amount moved.
	CloseAccount(code, beneficiary string) (int64, error)
}

// Ledger defines the contract implemented by ledger backends (in-memory, bbolt, Postgres).
type Ledger interface {
	EnsureAccount(ctx context.Context, code string) error
	Balance(ctx context.Context, code string) (int64, error)
	Mint(ctx context.Context, code, clientTxID string, amount int64) (MintResult, error)
	AccountData(ctx context.Context, code string) ([]byte, error)
	Update(ctx context.Context, fn func(tx Tx) error) error
	// View runs fn against one snapshot without taking write locks.
	View(ctx context.Context, fn func(r Reader) error) error
}
