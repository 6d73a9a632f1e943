package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

// runLedgerSuite exercises the behaviour every backend must share.
func runLedgerSuite(t *testing.T, newLedger func(t *testing.T, rent Rent) Ledger) {
	t.Run("MintIsIdempotent", func(t *testing.T) {
		l := newLedger(t, Rent{})
		ctx := context.Background()
		require.NoError(t, l.EnsureAccount(ctx, "wallet:a"))

		res, err := l.Mint(ctx, "wallet:a", "drop-1", 2_000)
		require.NoError(t, err)
		require.Equal(t, int64(2_000), res.Balance)

		again, err := l.Mint(ctx, "wallet:a", "drop-1", 2_000)
		require.ErrorIs(t, err, ErrDuplicateTransaction)
		require.Equal(t, res.TransactionID, again.TransactionID)

		balance, err := l.Balance(ctx, "wallet:a")
		require.NoError(t, err)
		require.Equal(t, int64(2_000), balance)
	})

	t.Run("ViewReadsCommittedState", func(t *testing.T) {
		l := newLedger(t, Rent{})
		ctx := context.Background()
		seed(t, l, "wallet:a", 900)
		require.NoError(t, l.Update(ctx, func(tx Tx) error {
			if err := tx.CreateAccount("vault:v", "wallet:a", []byte("rec")); err != nil {
				return err
			}
			return tx.Transfer("wallet:a", "vault:v", 400)
		}))

		err := l.View(ctx, func(r Reader) error {
			data, err := r.AccountData("vault:v")
			require.NoError(t, err)
			require.Equal(t, []byte("rec"), data)

			balance, err := r.Balance("vault:v")
			require.NoError(t, err)
			require.Equal(t, int64(400), balance)

			_, err = r.AccountData("vault:missing")
			require.ErrorIs(t, err, ErrAccountNotFound)
			return nil
		})
		require.NoError(t, err)

		sentinel := errors.New("stop")
		require.ErrorIs(t, l.View(ctx, func(Reader) error { return sentinel }), sentinel)
	})

	t.Run("MintUnknownAccount", func(t *testing.T) {
		l := newLedger(t, Rent{})
		_, err := l.Mint(context.Background(), "wallet:ghost", "drop-1", 10)
		require.ErrorIs(t, err, ErrAccountNotFound)
	})

	t.Run("TransferMaintainsBalance", func(t *testing.T) {
		l := newLedger(t, Rent{})
		ctx := context.Background()
		seed(t, l, "wallet:a", 10_000)
		require.NoError(t, l.EnsureAccount(ctx, "wallet:b"))

		err := l.Update(ctx, func(tx Tx) error {
			return tx.Transfer("wallet:a", "wallet:b", 1_500)
		})
		require.NoError(t, err)

		requireBalance(t, l, "wallet:a", 8_500)
		requireBalance(t, l, "wallet:b", 1_500)
		requireBalance(t, l, MintAccountCode, -10_000)
	})

	t.Run("FailedUpdateRollsBack", func(t *testing.T) {
		l := newLedger(t, Rent{})
		ctx := context.Background()
		seed(t, l, "wallet:a", 1_000)
		require.NoError(t, l.EnsureAccount(ctx, "wallet:b"))

		boom := errors.New("boom")
		err := l.Update(ctx, func(tx Tx) error {
			if err := tx.CreateAccount("vault:x", "wallet:a", []byte{1, 2, 3}); err != nil {
				return err
			}
			if err := tx.Transfer("wallet:a", "vault:x", 400); err != nil {
				return err
			}
			return boom
		})
		require.ErrorIs(t, err, boom)

		requireBalance(t, l, "wallet:a", 1_000)
		_, err = l.AccountData(ctx, "vault:x")
		require.ErrorIs(t, err, ErrAccountNotFound)
	})

	t.Run("InsufficientFunds", func(t *testing.T) {
		l := newLedger(t, Rent{})
		ctx := context.Background()
		seed(t, l, "wallet:a", 100)
		require.NoError(t, l.EnsureAccount(ctx, "wallet:b"))

		err := l.Update(ctx, func(tx Tx) error {
			return tx.Transfer("wallet:a", "wallet:b", 101)
		})
		require.ErrorIs(t, err, ErrInsufficientFunds)
		requireBalance(t, l, "wallet:a", 100)
	})

	t.Run("CreateAccountNeverOverwrites", func(t *testing.T) {
		l := newLedger(t, Rent{})
		ctx := context.Background()
		seed(t, l, "wallet:a", 100)

		require.NoError(t, l.Update(ctx, func(tx Tx) error {
			return tx.CreateAccount("vault:x", "wallet:a", []byte("first"))
		}))
		err := l.Update(ctx, func(tx Tx) error {
			return tx.CreateAccount("vault:x", "wallet:a", []byte("second"))
		})
		require.ErrorIs(t, err, ErrAccountExists)

		data, err := l.AccountData(ctx, "vault:x")
		require.NoError(t, err)
		require.Equal(t, []byte("first"), data)
	})

	t.Run("RentIsReservedAndRefunded", func(t *testing.T) {
		rent := Rent{PerByte: 10, OverheadBytes: 5}
		l := newLedger(t, rent)
		ctx := context.Background()
		seed(t, l, "wallet:a", 1_000)
		payload := []byte("0123456789")
		reserve := rent.Reserve(len(payload))
		require.Equal(t, int64(150), reserve)

		require.NoError(t, l.Update(ctx, func(tx Tx) error {
			if err := tx.CreateAccount("vault:x", "wallet:a", payload); err != nil {
				return err
			}
			return tx.Transfer("wallet:a", "vault:x", 300)
		}))
		requireBalance(t, l, "wallet:a", 1_000-reserve-300)
		requireBalance(t, l, "vault:x", 300)
		requireBalance(t, l, RentAccountCode, reserve)

		var refunded int64
		require.NoError(t, l.Update(ctx, func(tx Tx) error {
			var err error
			refunded, err = tx.CloseAccount("vault:x", "wallet:a")
			return err
		}))
		require.Equal(t, 300+reserve, refunded)
		requireBalance(t, l, "wallet:a", 1_000)
		requireBalance(t, l, RentAccountCode, 0)

		_, err := l.AccountData(ctx, "vault:x")
		require.ErrorIs(t, err, ErrAccountNotFound)
	})

	t.Run("RentShortfallFailsCreate", func(t *testing.T) {
		l := newLedger(t, Rent{PerByte: 100, OverheadBytes: 0})
		ctx := context.Background()
		seed(t, l, "wallet:a", 50)

		err := l.Update(ctx, func(tx Tx) error {
			return tx.CreateAccount("vault:x", "wallet:a", []byte{1})
		})
		require.ErrorIs(t, err, ErrInsufficientFunds)
		_, err = l.AccountData(ctx, "vault:x")
		require.ErrorIs(t, err, ErrAccountNotFound)
		requireBalance(t, l, "wallet:a", 50)
	})

	t.Run("CloseMissingAccount", func(t *testing.T) {
		l := newLedger(t, Rent{})
		ctx := context.Background()
		seed(t, l, "wallet:a", 1)
		err := l.Update(ctx, func(tx Tx) error {
			_, err := tx.CloseAccount("vault:none", "wallet:a")
			return err
		})
		require.ErrorIs(t, err, ErrAccountNotFound)
	})

	t.Run("ConcurrentTransfers", func(t *testing.T) {
		l := newLedger(t, Rent{})
		ctx := context.Background()
		seed(t, l, "wallet:a", 100_000)
		require.NoError(t, l.EnsureAccount(ctx, "wallet:b"))

		const workers = 10
		var wg sync.WaitGroup
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				if err := l.Update(ctx, func(tx Tx) error {
					return tx.Transfer("wallet:a", "wallet:b", 500)
				}); err != nil {
					t.Errorf("transfer %d failed: %v", i, err)
				}
			}(i)
		}
		wg.Wait()

		requireBalance(t, l, "wallet:a", 100_000-workers*500)
		requireBalance(t, l, "wallet:b", workers*500)
	})
}

func seed(t *testing.T, l Ledger, code string, amount int64) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, l.EnsureAccount(ctx, code))
	_, err := l.Mint(ctx, code, fmt.Sprintf("seed-%s-%d", code, amount), amount)
	require.NoError(t, err)
}

func requireBalance(t *testing.T, l Ledger, code string, want int64) {
	t.Helper()
	got, err := l.Balance(context.Background(), code)
	require.NoError(t, err)
	require.Equal(t, want, got, "balance of %s", code)
}
