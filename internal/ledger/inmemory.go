package ledger

import (
	"context"
	"fmt"
	"sync"
)

type inMemoryLedger struct {
	mu       sync.RWMutex
	rent     Rent
	balances map[string]int64
	data     map[string]dataAccount
	mints    map[string]MintResult
}

// NewInMemory creates a concurrency-safe in-memory ledger useful for unit tests.
func NewInMemory(rent Rent) Ledger {
	return &inMemoryLedger{
		rent:     rent,
		balances: map[string]int64{MintAccountCode: 0, RentAccountCode: 0},
		data:     make(map[string]dataAccount),
		mints:    make(map[string]MintResult),
	}
}

func (l *inMemoryLedger) EnsureAccount(_ context.Context, code string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, exists := l.balances[code]; !exists {
		l.balances[code] = 0
	}
	return nil
}

func (l *inMemoryLedger) Balance(_ context.Context, code string) (int64, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	balance, exists := l.balances[code]
	if !exists {
		return 0, fmt.Errorf("%w: %s", ErrAccountNotFound, code)
	}
	return balance, nil
}

func (l *inMemoryLedger) Mint(_ context.Context, code, clientTxID string, amount int64) (MintResult, error) {
	if amount <= 0 {
		return MintResult{}, ErrInvalidAmount
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	key := KindMint + ":" + clientTxID
	if res, exists := l.mints[key]; exists {
		return res, ErrDuplicateTransaction
	}

	balance, ok := l.balances[code]
	if !ok {
		return MintResult{}, fmt.Errorf("%w: %s", ErrAccountNotFound, code)
	}

	balance += amount
	l.balances[code] = balance
	l.balances[MintAccountCode] -= amount

	res := MintResult{TransactionID: key, Balance: balance}
	l.mints[key] = res
	return res, nil
}

func (l *inMemoryLedger) AccountData(_ context.Context, code string) ([]byte, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	account, ok := l.data[code]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrAccountNotFound, code)
	}
	return append([]byte(nil), account.Data...), nil
}

// Update runs fn against a staging overlay and merges it only when fn succeeds.
// The write lock is held for the whole call, so updates are serialized.
func (l *inMemoryLedger) Update(_ context.Context, fn func(tx Tx) error) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	staged := &memOverlay{
		base:     l,
		balances: make(map[string]int64),
		data:     make(map[string]dataAccount),
		deadBal:  make(map[string]bool),
		deadData: make(map[string]bool),
	}
	if err := fn(&kvTx{store: staged, rent: l.rent}); err != nil {
		return err
	}

	for code := range staged.deadBal {
		delete(l.balances, code)
	}
	for code := range staged.deadData {
		delete(l.data, code)
	}
	for code, balance := range staged.balances {
		l.balances[code] = balance
	}
	for code, account := range staged.data {
		l.data[code] = account
	}
	return nil
}

// View holds the read lock only, so views run alongside each other.
func (l *inMemoryLedger) View(_ context.Context, fn func(r Reader) error) error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return fn(&kvTx{store: &memOverlay{base: l}, rent: l.rent})
}

// memOverlay records writes made during Update without touching the base maps.
type memOverlay struct {
	base     *inMemoryLedger
	balances map[string]int64
	data     map[string]dataAccount
	deadBal  map[string]bool
	deadData map[string]bool
}

func (o *memOverlay) getBalance(code string) (int64, bool, error) {
	if balance, ok := o.balances[code]; ok {
		return balance, true, nil
	}
	if o.deadBal[code] {
		return 0, false, nil
	}
	balance, ok := o.base.balances[code]
	return balance, ok, nil
}

func (o *memOverlay) putBalance(code string, balance int64) error {
	delete(o.deadBal, code)
	o.balances[code] = balance
	return nil
}

func (o *memOverlay) deleteBalance(code string) error {
	delete(o.balances, code)
	o.deadBal[code] = true
	return nil
}

func (o *memOverlay) getData(code string) (dataAccount, bool, error) {
	if account, ok := o.data[code]; ok {
		return account, true, nil
	}
	if o.deadData[code] {
		return dataAccount{}, false, nil
	}
	account, ok := o.base.data[code]
	return account, ok, nil
}

func (o *memOverlay) putData(code string, account dataAccount) error {
	delete(o.deadData, code)
	o.data[code] = account
	return nil
}

func (o *memOverlay) deleteData(code string) error {
	delete(o.data, code)
	o.deadData[code] = true
	return nil
}
