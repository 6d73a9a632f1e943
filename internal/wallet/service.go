package wallet

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/congo-pay/timevault/internal/ledger"
)

var (
	// ErrFaucetDisabled is returned by Airdrop when the faucet is switched off.
	ErrFaucetDisabled = errors.New("faucet disabled")
	// ErrFaucetLimit is returned when a single airdrop exceeds the configured maximum.
	ErrFaucetLimit = errors.New("airdrop exceeds faucet limit")
)

const accountPrefix = "wallet:"

// AccountCode returns the ledger account code of an owner's wallet.
func AccountCode(ownerID string) string {
	return accountPrefix + ownerID
}

// Service exposes wallet operations backed by the ledger.
type Service struct {
	ledger    ledger.Ledger
	faucetMax int64
}

// NewService builds a wallet service. A faucetMax of zero disables Airdrop.
func NewService(ledger ledger.Ledger, faucetMax int64) *Service {
	return &Service{ledger: ledger, faucetMax: faucetMax}
}

// Open provisions the owner's ledger account. Opening twice is harmless.
func (s *Service) Open(ctx context.Context, ownerID string) (Wallet, error) {
	if ownerID == "" {
		return Wallet{}, fmt.Errorf("owner id is required")
	}
	code := AccountCode(ownerID)
	if err := s.ledger.EnsureAccount(ctx, code); err != nil {
		return Wallet{}, err
	}
	return Wallet{OwnerID: ownerID, AccountCode: code, OpenedAt: time.Now().UTC()}, nil
}

// Balance returns the ledger balance for the owner's wallet.
func (s *Service) Balance(ctx context.Context, ownerID string) (Balance, error) {
	amount, err := s.ledger.Balance(ctx, AccountCode(ownerID))
	if err != nil {
		return Balance{}, err
	}
	return Balance{OwnerID: ownerID, Amount: amount, AsOf: time.Now().UTC()}, nil
}

// AirdropInput captures a faucet request.
type AirdropInput struct {
	OwnerID    string
	Amount     int64
	ClientTxID string
}

// Airdrop credits the owner's wallet from the mint account. Replaying a
// ClientTxID returns the original result with Duplicate set.
func (s *Service) Airdrop(ctx context.Context, input AirdropInput) (AirdropResult, error) {
	if s.faucetMax <= 0 {
		return AirdropResult{}, ErrFaucetDisabled
	}
	if input.Amount <= 0 {
		return AirdropResult{}, ledger.ErrInvalidAmount
	}
	if input.Amount > s.faucetMax {
		return AirdropResult{}, fmt.Errorf("%w: max %d", ErrFaucetLimit, s.faucetMax)
	}
	if input.ClientTxID == "" {
		input.ClientTxID = uuid.NewString()
	}

	res, err := s.ledger.Mint(ctx, AccountCode(input.OwnerID), input.ClientTxID, input.Amount)
	if err != nil {
		if errors.Is(err, ledger.ErrDuplicateTransaction) {
			return AirdropResult{TransactionID: res.TransactionID, Balance: res.Balance, Duplicate: true}, nil
		}
		return AirdropResult{}, err
	}
	return AirdropResult{TransactionID: res.TransactionID, Balance: res.Balance}, nil
}
