package vault

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"

	"github.com/congo-pay/timevault/internal/ledger"
	"github.com/congo-pay/timevault/internal/notification"
	"github.com/congo-pay/timevault/internal/wallet"
)

// Vault is an active lock as seen by readers.
type Vault struct {
	Address Address
	Record  Record
	Balance int64
}

// Release describes a successful unlock.
type Release struct {
	Record     Record
	Address    Address
	UnlockedAt int64
	// Refund is the storage reserve returned to the owner on top of Amount.
	Refund int64
}

// Controller runs the vault state machine: NoVault -> Locked -> NoVault.
// All value movement for a vault goes through Initialize and Unlock.
type Controller struct {
	ledger   ledger.Ledger
	deriver  *Deriver
	clock    Clock
	notifier notification.Notifier
	logger   *slog.Logger
}

// NewController wires a controller. A nil clock falls back to SystemClock.
func NewController(l ledger.Ledger, d *Deriver, clock Clock, notifier notification.Notifier, logger *slog.Logger) *Controller {
	if clock == nil {
		clock = SystemClock
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{ledger: l, deriver: d, clock: clock, notifier: notifier, logger: logger}
}

// Now returns the controller's clock reading.
func (c *Controller) Now() int64 {
	return c.clock.Now()
}

// Address returns the owner's derived vault address and tag.
func (c *Controller) Address(owner string) (Address, uint8, error) {
	return c.deriver.Derive(owner)
}

// Initialize locks amount value units from the owner's wallet for duration
// seconds. The record is created before funds move, and both happen in one
// ledger transaction.
func (c *Controller) Initialize(ctx context.Context, owner string, duration int64, amount uint64) (Record, error) {
	if owner == "" {
		return Record{}, ErrInvalidOwner
	}
	if amount == 0 || amount > math.MaxInt64 {
		return Record{}, ErrInvalidAmount
	}
	now := c.clock.Now()
	if duration < 0 || now > math.MaxInt64-duration {
		return Record{}, ErrInvalidDuration
	}

	addr, tag, err := c.deriver.Derive(owner)
	if err != nil {
		return Record{}, err
	}
	rec := NewRecord(owner, now, duration, amount, tag)
	payload, err := rec.MarshalBinary()
	if err != nil {
		return Record{}, err
	}

	ownerCode := wallet.AccountCode(owner)
	vaultCode := addr.AccountCode()
	err = c.ledger.Update(ctx, func(tx ledger.Tx) error {
		if err := tx.CreateAccount(vaultCode, ownerCode, payload); err != nil {
			return err
		}
		return tx.Transfer(ownerCode, vaultCode, int64(amount))
	})
	if err != nil {
		return Record{}, initializeError(err)
	}

	c.logger.Info("vault.initialized",
		"owner", owner,
		"address", addr.String(),
		"amount", amount,
		"created_at", rec.CreatedAt,
		"unlock_at", rec.UnlockAt(),
	)
	c.notify(ctx, notification.Event{
		Kind:     notification.KindVaultLocked,
		Owner:    owner,
		Address:  addr.String(),
		Amount:   amount,
		UnlockAt: rec.UnlockAt(),
		At:       rec.CreatedAt,
	})
	return rec, nil
}

func initializeError(err error) error {
	switch {
	case errors.Is(err, ledger.ErrAccountExists):
		return ErrAlreadyExists
	case errors.Is(err, ledger.ErrInsufficientFunds), errors.Is(err, ledger.ErrAccountNotFound), errors.Is(err, ledger.ErrInvalidAmount):
		return fmt.Errorf("%w: %w", ErrTransferFailure, err)
	default:
		return err
	}
}

// Unlock releases the owner's vault once now >= created_at + duration. The
// amount is read from the record before it is destroyed, and the storage
// reserve is refunded to the owner.
func (c *Controller) Unlock(ctx context.Context, owner string) (Release, error) {
	if owner == "" {
		return Release{}, ErrInvalidOwner
	}
	addr, _, err := c.deriver.Derive(owner)
	if err != nil {
		return Release{}, err
	}

	ownerCode := wallet.AccountCode(owner)
	vaultCode := addr.AccountCode()
	var release Release
	err = c.ledger.Update(ctx, func(tx ledger.Tx) error {
		data, err := tx.AccountData(vaultCode)
		if err != nil {
			if errors.Is(err, ledger.ErrAccountNotFound) {
				return ErrNotFound
			}
			return err
		}
		rec, err := decodeRecord(owner, data)
		if err != nil {
			return err
		}
		if !c.deriver.Verify(owner, rec.DerivationTag, addr) {
			return ErrAddressMismatch
		}

		now := c.clock.Now()
		if !rec.Unlocked(now) {
			c.logger.Debug("vault.not_reached",
				"owner", owner,
				"address", addr.String(),
				"now", now,
				"unlock_at", rec.UnlockAt(),
			)
			return fmt.Errorf("%w: %d seconds remaining", ErrNotReached, rec.UnlockAt()-now)
		}

		if err := tx.Transfer(vaultCode, ownerCode, int64(rec.Amount)); err != nil {
			return fmt.Errorf("%w: %w", ErrTransferFailure, err)
		}
		refund, err := tx.CloseAccount(vaultCode, ownerCode)
		if err != nil {
			return err
		}
		release = Release{Record: rec, Address: addr, UnlockedAt: now, Refund: refund}
		return nil
	})
	if err != nil {
		return Release{}, err
	}

	c.logger.Info("vault.unlocked",
		"owner", owner,
		"address", addr.String(),
		"amount", release.Record.Amount,
		"refund", release.Refund,
	)
	c.notify(ctx, notification.Event{
		Kind:     notification.KindVaultUnlocked,
		Owner:    owner,
		Address:  addr.String(),
		Amount:   release.Record.Amount,
		UnlockAt: release.Record.UnlockAt(),
		At:       release.UnlockedAt,
	})
	return release, nil
}

// Get returns the owner's active vault, or ErrNotFound. It reads one
// snapshot through View and takes no write locks.
func (c *Controller) Get(ctx context.Context, owner string) (Vault, error) {
	if owner == "" {
		return Vault{}, ErrInvalidOwner
	}
	addr, _, err := c.deriver.Derive(owner)
	if err != nil {
		return Vault{}, err
	}

	var v Vault
	err = c.ledger.View(ctx, func(r ledger.Reader) error {
		data, err := r.AccountData(addr.AccountCode())
		if err != nil {
			if errors.Is(err, ledger.ErrAccountNotFound) {
				return ErrNotFound
			}
			return err
		}
		rec, err := decodeRecord(owner, data)
		if err != nil {
			return err
		}
		balance, err := r.Balance(addr.AccountCode())
		if err != nil {
			return err
		}
		v = Vault{Address: addr, Record: rec, Balance: balance}
		return nil
	})
	if err != nil {
		return Vault{}, err
	}
	return v, nil
}

func (c *Controller) notify(ctx context.Context, e notification.Event) {
	if c.notifier == nil {
		return
	}
	if err := c.notifier.Notify(ctx, e); err != nil {
		c.logger.Warn("vault.notify_failed", "kind", e.Kind, "owner", e.Owner, "error", err)
	}
}
