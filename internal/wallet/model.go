package wallet

import "time"

// Wallet is an owner's spendable balance account in the ledger.
type Wallet struct {
	OwnerID     string
	AccountCode string
	OpenedAt    time.Time
}

// Balance encapsulates available funds for a wallet.
type Balance struct {
	OwnerID string
	Amount  int64
	AsOf    time.Time
}

// AirdropResult describes a faucet credit.
type AirdropResult struct {
	TransactionID string
	Balance       int64
	Duplicate     bool
}
