package vault

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
	bolt "go.etcd.io/bbolt"

	"github.com/congo-pay/timevault/internal/infra"
	"github.com/congo-pay/timevault/internal/ledger"
	"github.com/congo-pay/timevault/internal/logging"
	"github.com/congo-pay/timevault/internal/notification"
	"github.com/congo-pay/timevault/internal/wallet"
)

type manualClock struct {
	now atomic.Int64
}

func newManualClock(now int64) *manualClock {
	c := &manualClock{}
	c.now.Store(now)
	return c
}

func (c *manualClock) Now() int64 { return c.now.Load() }

func (c *manualClock) Set(now int64) { c.now.Store(now) }

type recordingNotifier struct {
	mu     sync.Mutex
	events []notification.Event
}

func (n *recordingNotifier) Notify(_ context.Context, e notification.Event) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, e)
	return nil
}

func (n *recordingNotifier) kinds() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, 0, len(n.events))
	for _, e := range n.events {
		out = append(out, e.Kind)
	}
	return out
}

type fixture struct {
	ledger     ledger.Ledger
	clock      *manualClock
	notifier   *recordingNotifier
	controller *Controller
}

func newFixture(t *testing.T, led ledger.Ledger, now int64) *fixture {
	t.Helper()
	deriver, err := NewDeriver(DefaultProgramID(), 16)
	require.NoError(t, err)
	clock := newManualClock(now)
	notifier := &recordingNotifier{}
	return &fixture{
		ledger:     led,
		clock:      clock,
		notifier:   notifier,
		controller: NewController(led, deriver, clock, notifier, logging.Discard()),
	}
}

func (f *fixture) fund(t *testing.T, owner string, amount int64) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, f.ledger.EnsureAccount(ctx, wallet.AccountCode(owner)))
	if amount > 0 {
		_, err := f.ledger.Mint(ctx, wallet.AccountCode(owner), "fund-"+owner, amount)
		require.NoError(t, err)
	}
}

func (f *fixture) balance(t *testing.T, code string) int64 {
	t.Helper()
	balance, err := f.ledger.Balance(context.Background(), code)
	require.NoError(t, err)
	return balance
}

func (f *fixture) vaultCode(t *testing.T, owner string) string {
	t.Helper()
	addr, _, err := f.controller.Address(owner)
	require.NoError(t, err)
	return addr.AccountCode()
}

func (f *fixture) requireNoRecord(t *testing.T, owner string) {
	t.Helper()
	_, err := f.ledger.AccountData(context.Background(), f.vaultCode(t, owner))
	require.ErrorIs(t, err, ledger.ErrAccountNotFound)
}

func backends(t *testing.T) map[string]func(t *testing.T, rent ledger.Rent) ledger.Ledger {
	all := map[string]func(t *testing.T, rent ledger.Rent) ledger.Ledger{
		"memory": func(t *testing.T, rent ledger.Rent) ledger.Ledger {
			return ledger.NewInMemory(rent)
		},
		"bolt": func(t *testing.T, rent ledger.Rent) ledger.Ledger {
			db, err := bolt.Open(filepath.Join(t.TempDir(), "vault.db"), 0o600, nil)
			require.NoError(t, err)
			t.Cleanup(func() { _ = db.Close() })
			l, err := ledger.NewBoltLedger(db, rent)
			require.NoError(t, err)
			return l
		},
	}
	if url := os.Getenv("TEST_DATABASE_URL"); url != "" {
		all["postgres"] = func(t *testing.T, rent ledger.Rent) ledger.Ledger {
			ctx := context.Background()
			pool, err := infra.NewPostgresPool(ctx, url)
			require.NoError(t, err)
			t.Cleanup(pool.Close)
			require.NoError(t, infra.Migrate(ctx, pool))
			_, err = pool.Exec(ctx, `TRUNCATE account_data, entries, transactions, accounts CASCADE`)
			require.NoError(t, err)
			return ledger.NewPostgresLedger(pool, rent)
		}
	}
	return all
}

func TestLockAndReleaseScenario(t *testing.T) {
	for name, newLedger := range backends(t) {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t, newLedger(t, ledger.Rent{}), 1000)
			ctx := context.Background()
			f.fund(t, "alice", 10_000)

			rec, err := f.controller.Initialize(ctx, "alice", 3600, 5000)
			require.NoError(t, err)
			require.Equal(t, int64(1000), rec.CreatedAt)
			require.Equal(t, int64(3600), rec.Duration)
			require.Equal(t, uint64(5000), rec.Amount)

			vaultCode := f.vaultCode(t, "alice")
			require.Equal(t, int64(5_000), f.balance(t, wallet.AccountCode("alice")))
			require.Equal(t, int64(5_000), f.balance(t, vaultCode))

			stored, err := f.ledger.AccountData(ctx, vaultCode)
			require.NoError(t, err)
			want, err := rec.MarshalBinary()
			require.NoError(t, err)
			require.Equal(t, want, stored)

			f.clock.Set(4000)
			_, err = f.controller.Unlock(ctx, "alice")
			require.ErrorIs(t, err, ErrNotReached)
			require.Equal(t, int64(5_000), f.balance(t, vaultCode))

			f.clock.Set(4600)
			release, err := f.controller.Unlock(ctx, "alice")
			require.NoError(t, err)
			require.Equal(t, uint64(5000), release.Record.Amount)
			require.Equal(t, int64(4600), release.UnlockedAt)
			require.Zero(t, release.Refund)
			require.Equal(t, int64(10_000), f.balance(t, wallet.AccountCode("alice")))
			f.requireNoRecord(t, "alice")

			_, err = f.controller.Unlock(ctx, "alice")
			require.ErrorIs(t, err, ErrNotFound)
			require.Equal(t, int64(10_000), f.balance(t, wallet.AccountCode("alice")))

			require.Equal(t, []string{notification.KindVaultLocked, notification.KindVaultUnlocked}, f.notifier.kinds())
			unlocked := f.notifier.events[1]
			require.Equal(t, "alice", unlocked.Owner)
			require.Equal(t, uint64(5000), unlocked.Amount)
			require.Equal(t, int64(4600), unlocked.At)
		})
	}
}

func TestGuardBoundary(t *testing.T) {
	f := newFixture(t, ledger.NewInMemory(ledger.Rent{}), 50)
	ctx := context.Background()
	f.fund(t, "alice", 100)

	_, err := f.controller.Initialize(ctx, "alice", 10, 100)
	require.NoError(t, err)

	for _, now := range []int64{50, 55, 59} {
		f.clock.Set(now)
		_, err := f.controller.Unlock(ctx, "alice")
		require.ErrorIs(t, err, ErrNotReached, "now=%d", now)
	}

	// a clock that moves backwards still cannot release early
	f.clock.Set(-1)
	_, err = f.controller.Unlock(ctx, "alice")
	require.ErrorIs(t, err, ErrNotReached)

	f.clock.Set(60)
	_, err = f.controller.Unlock(ctx, "alice")
	require.NoError(t, err)
}

func TestZeroDurationUnlocksImmediately(t *testing.T) {
	f := newFixture(t, ledger.NewInMemory(ledger.Rent{}), 1000)
	ctx := context.Background()
	f.fund(t, "alice", 100)

	_, err := f.controller.Initialize(ctx, "alice", 0, 100)
	require.NoError(t, err)
	_, err = f.controller.Unlock(ctx, "alice")
	require.NoError(t, err)
}

func TestSecondInitializeIsRejected(t *testing.T) {
	f := newFixture(t, ledger.NewInMemory(ledger.Rent{}), 1000)
	ctx := context.Background()
	f.fund(t, "alice", 10_000)

	first, err := f.controller.Initialize(ctx, "alice", 60, 1000)
	require.NoError(t, err)

	f.clock.Set(1030)
	_, err = f.controller.Initialize(ctx, "alice", 1, 2000)
	require.ErrorIs(t, err, ErrAlreadyExists)

	v, err := f.controller.Get(ctx, "alice")
	require.NoError(t, err)
	require.Equal(t, first, v.Record)
	require.Equal(t, int64(1000), v.Balance)
	require.Equal(t, int64(9_000), f.balance(t, wallet.AccountCode("alice")))

	f.clock.Set(1060)
	_, err = f.controller.Unlock(ctx, "alice")
	require.NoError(t, err)

	_, err = f.controller.Initialize(ctx, "alice", 5, 2000)
	require.NoError(t, err, "a released owner may lock again")
}

func TestInitializeRollsBackOnTransferFailure(t *testing.T) {
	for name, newLedger := range backends(t) {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t, newLedger(t, ledger.Rent{}), 1000)
			ctx := context.Background()
			f.fund(t, "alice", 100)

			_, err := f.controller.Initialize(ctx, "alice", 60, 5000)
			require.ErrorIs(t, err, ErrTransferFailure)
			require.ErrorIs(t, err, ledger.ErrInsufficientFunds)

			f.requireNoRecord(t, "alice")
			require.Equal(t, int64(100), f.balance(t, wallet.AccountCode("alice")))

			_, err = f.controller.Unlock(ctx, "alice")
			require.ErrorIs(t, err, ErrNotFound)
			require.Empty(t, f.notifier.kinds())
		})
	}
}

func TestInitializeWithoutWallet(t *testing.T) {
	f := newFixture(t, ledger.NewInMemory(ledger.Rent{}), 1000)
	_, err := f.controller.Initialize(context.Background(), "ghost", 60, 1)
	require.ErrorIs(t, err, ErrTransferFailure)
	require.ErrorIs(t, err, ledger.ErrAccountNotFound)
	f.requireNoRecord(t, "ghost")
}

func TestInitializeValidation(t *testing.T) {
	f := newFixture(t, ledger.NewInMemory(ledger.Rent{}), 1000)
	ctx := context.Background()
	f.fund(t, "alice", 100)

	cases := []struct {
		name     string
		owner    string
		duration int64
		amount   uint64
		err      error
	}{
		{name: "zero amount", owner: "alice", duration: 1, amount: 0, err: ErrInvalidAmount},
		{name: "amount beyond ledger", owner: "alice", duration: 1, amount: math.MaxInt64 + 1, err: ErrInvalidAmount},
		{name: "negative duration", owner: "alice", duration: -1, amount: 1, err: ErrInvalidDuration},
		{name: "overflowing duration", owner: "alice", duration: math.MaxInt64, amount: 1, err: ErrInvalidDuration},
		{name: "empty owner", owner: "", duration: 1, amount: 1, err: ErrInvalidOwner},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.controller.Initialize(ctx, tc.owner, tc.duration, tc.amount)
			require.ErrorIs(t, err, tc.err)
		})
	}
	f.requireNoRecord(t, "alice")
	require.Equal(t, int64(100), f.balance(t, wallet.AccountCode("alice")))
}

func TestRentIsChargedAndRefunded(t *testing.T) {
	for name, newLedger := range backends(t) {
		t.Run(name, func(t *testing.T) {
			rent := ledger.Rent{PerByte: 2, OverheadBytes: 128}
			reserve := rent.Reserve(RecordSize)
			f := newFixture(t, newLedger(t, rent), 1000)
			ctx := context.Background()
			f.fund(t, "alice", 10_000)

			_, err := f.controller.Initialize(ctx, "alice", 10, 5000)
			require.NoError(t, err)
			require.Equal(t, 10_000-5_000-reserve, f.balance(t, wallet.AccountCode("alice")))
			require.Equal(t, int64(5_000), f.balance(t, f.vaultCode(t, "alice")))
			require.Equal(t, reserve, f.balance(t, ledger.RentAccountCode))

			f.clock.Set(1010)
			release, err := f.controller.Unlock(ctx, "alice")
			require.NoError(t, err)
			require.Equal(t, reserve, release.Refund)
			require.Equal(t, int64(10_000), f.balance(t, wallet.AccountCode("alice")))
			require.Zero(t, f.balance(t, ledger.RentAccountCode))
		})
	}
}

func TestRentShortfallFailsWholeInitialize(t *testing.T) {
	rent := ledger.Rent{PerByte: 1, OverheadBytes: 128}
	f := newFixture(t, ledger.NewInMemory(rent), 1000)
	ctx := context.Background()
	f.fund(t, "alice", 5_000)

	_, err := f.controller.Initialize(ctx, "alice", 10, 5000)
	require.ErrorIs(t, err, ErrTransferFailure)
	f.requireNoRecord(t, "alice")
	require.Equal(t, int64(5_000), f.balance(t, wallet.AccountCode("alice")))
	require.Zero(t, f.balance(t, ledger.RentAccountCode))
}

func TestUnlockRejectsTamperedRecords(t *testing.T) {
	f := newFixture(t, ledger.NewInMemory(ledger.Rent{}), 1000)
	ctx := context.Background()
	f.fund(t, "alice", 100)
	f.fund(t, "bob", 100)

	addr, tag, err := f.controller.Address("alice")
	require.NoError(t, err)
	wrongTag, err := NewRecord("alice", 0, 0, 1, tag-1).MarshalBinary()
	require.NoError(t, err)
	require.NoError(t, f.ledger.Update(ctx, func(tx ledger.Tx) error {
		return tx.CreateAccount(addr.AccountCode(), wallet.AccountCode("alice"), wrongTag)
	}))
	_, err = f.controller.Unlock(ctx, "alice")
	require.ErrorIs(t, err, ErrAddressMismatch)

	bobCode := f.vaultCode(t, "bob")
	require.NoError(t, f.ledger.Update(ctx, func(tx ledger.Tx) error {
		return tx.CreateAccount(bobCode, wallet.AccountCode("bob"), []byte{1, 2, 3})
	}))
	_, err = f.controller.Unlock(ctx, "bob")
	require.ErrorIs(t, err, ErrCorruptRecord)
	_, err = f.ledger.AccountData(ctx, bobCode)
	require.NoError(t, err, "a failed unlock leaves storage intact")
}

func TestConcurrentInitializeHasOneWinner(t *testing.T) {
	for name, newLedger := range backends(t) {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t, newLedger(t, ledger.Rent{}), 1000)
			ctx := context.Background()
			f.fund(t, "alice", 1_000_000)

			const workers = 16
			var (
				wg       sync.WaitGroup
				won      atomic.Int32
				rejected atomic.Int32
			)
			for i := 0; i < workers; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					_, err := f.controller.Initialize(ctx, "alice", 60, 1000)
					switch {
					case err == nil:
						won.Add(1)
					case errors.Is(err, ErrAlreadyExists):
						rejected.Add(1)
					}
				}()
			}
			wg.Wait()

			require.Equal(t, int32(1), won.Load())
			require.Equal(t, int32(workers-1), rejected.Load())
			require.Equal(t, int64(999_000), f.balance(t, wallet.AccountCode("alice")))
		})
	}
}

func TestConcurrentUnlockPaysOnce(t *testing.T) {
	for name, newLedger := range backends(t) {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t, newLedger(t, ledger.Rent{}), 1000)
			ctx := context.Background()
			f.fund(t, "alice", 1000)
			_, err := f.controller.Initialize(ctx, "alice", 0, 1000)
			require.NoError(t, err)

			const workers = 16
			var (
				wg       sync.WaitGroup
				released atomic.Int32
				missing  atomic.Int32
			)
			for i := 0; i < workers; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					_, err := f.controller.Unlock(ctx, "alice")
					switch {
					case err == nil:
						released.Add(1)
					case errors.Is(err, ErrNotFound):
						missing.Add(1)
					}
				}()
			}
			wg.Wait()

			require.Equal(t, int32(1), released.Load())
			require.Equal(t, int32(workers-1), missing.Load())
			require.Equal(t, int64(1000), f.balance(t, wallet.AccountCode("alice")))
		})
	}
}

func TestOwnersAreIsolated(t *testing.T) {
	f := newFixture(t, ledger.NewInMemory(ledger.Rent{}), 1000)
	ctx := context.Background()
	f.fund(t, "alice", 500)
	f.fund(t, "bob", 500)

	_, err := f.controller.Initialize(ctx, "alice", 100, 500)
	require.NoError(t, err)
	_, err = f.controller.Initialize(ctx, "bob", 0, 200)
	require.NoError(t, err)

	_, err = f.controller.Unlock(ctx, "bob")
	require.NoError(t, err)
	_, err = f.controller.Unlock(ctx, "alice")
	require.ErrorIs(t, err, ErrNotReached)

	_, err = f.controller.Get(ctx, "bob")
	require.ErrorIs(t, err, ErrNotFound)
	v, err := f.controller.Get(ctx, "alice")
	require.NoError(t, err)
	require.Equal(t, int64(500), v.Balance)
}

func TestConcurrentInitializeAndUnlockSettleCleanly(t *testing.T) {
	rent := ledger.Rent{PerByte: 1, OverheadBytes: 128}
	reserve := rent.Reserve(RecordSize)
	for name, newLedger := range backends(t) {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t, newLedger(t, rent), 1000)
			ctx := context.Background()
			f.fund(t, "alice", 10_000)
			_, err := f.controller.Initialize(ctx, "alice", 0, 1000)
			require.NoError(t, err)

			const rounds = 8
			var (
				wg         sync.WaitGroup
				mu         sync.Mutex
				unexpected []error
			)
			for i := 0; i < rounds; i++ {
				wg.Add(2)
				go func() {
					defer wg.Done()
					if _, err := f.controller.Unlock(ctx, "alice"); err != nil && !errors.Is(err, ErrNotFound) {
						mu.Lock()
						unexpected = append(unexpected, err)
						mu.Unlock()
					}
				}()
				go func() {
					defer wg.Done()
					if _, err := f.controller.Initialize(ctx, "alice", 0, 1000); err != nil && !errors.Is(err, ErrAlreadyExists) {
						mu.Lock()
						unexpected = append(unexpected, err)
						mu.Unlock()
					}
				}()
			}
			wg.Wait()
			require.Empty(t, unexpected)

			vaultCode := f.vaultCode(t, "alice")
			locked, wantRent := int64(0), int64(0)
			if _, err := f.ledger.AccountData(ctx, vaultCode); err == nil {
				locked, wantRent = 1000, reserve
			} else {
				require.ErrorIs(t, err, ledger.ErrAccountNotFound)
			}
			require.Equal(t, locked, f.balance(t, vaultCode))
			require.Equal(t, wantRent, f.balance(t, ledger.RentAccountCode))
			require.Equal(t, 10_000-locked-wantRent, f.balance(t, wallet.AccountCode("alice")))
		})
	}
}
