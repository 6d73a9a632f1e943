package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/urfave/cli/v2"
	bolt "go.etcd.io/bbolt"

	"github.com/congo-pay/timevault/internal/infra"
	"github.com/congo-pay/timevault/internal/ledger"
	"github.com/congo-pay/timevault/internal/logging"
	"github.com/congo-pay/timevault/internal/notification"
	"github.com/congo-pay/timevault/internal/units"
	"github.com/congo-pay/timevault/internal/vault"
	"github.com/congo-pay/timevault/internal/wallet"
)

func commandAddress() *cli.Command {
	return &cli.Command{
		Name:  "address",
		Usage: "print the owner's derived vault address",
		Flags: []cli.Flag{ownerFlag()},
		Action: func(c *cli.Context) error {
			return withEnv(c, func(e *env) error {
				addr, tag, err := e.controller.Address(c.String(flagOwner))
				if err != nil {
					return err
				}
				return e.print(fmt.Sprintf("%s (tag %d)", addr, tag), map[string]any{
					"address":        addr.String(),
					"derivation_tag": tag,
				})
			})
		},
	}
}

func commandAirdrop() *cli.Command {
	return &cli.Command{
		Name:  "airdrop",
		Usage: "open the owner's wallet if needed and credit it from the mint",
		Flags: append(append([]cli.Flag{ownerFlag()}, amountFlags()...), txIDFlag()),
		Action: func(c *cli.Context) error {
			return withEnv(c, func(e *env) error {
				owner := c.String(flagOwner)
				amount, err := e.amount(c)
				if err != nil {
					return err
				}
				if amount > math.MaxInt64 {
					return ledger.ErrInvalidAmount
				}
				if _, err := e.wallets.Open(c.Context, owner); err != nil {
					return err
				}
				res, err := e.wallets.Airdrop(c.Context, wallet.AirdropInput{OwnerID: owner, Amount: int64(amount), ClientTxID: c.String(flagTxID)})
				if err != nil {
					return err
				}
				return e.print(fmt.Sprintf("balance %s", e.format(res.Balance)), map[string]any{
					"transaction_id": res.TransactionID,
					"balance_units":  res.Balance,
					"duplicate":      res.Duplicate,
				})
			})
		},
	}
}

func commandBalance() *cli.Command {
	return &cli.Command{
		Name:  "balance",
		Usage: "print the owner's wallet balance",
		Flags: []cli.Flag{ownerFlag()},
		Action: func(c *cli.Context) error {
			return withEnv(c, func(e *env) error {
				balance, err := e.wallets.Balance(c.Context, c.String(flagOwner))
				if err != nil {
					return err
				}
				return e.print(e.format(balance.Amount), map[string]any{"balance_units": balance.Amount})
			})
		},
	}
}

func commandInit() *cli.Command {
	return &cli.Command{
		Name:  "init",
		Usage: "lock an amount from the owner's wallet",
		Flags: append(append([]cli.Flag{ownerFlag()}, lockFlags()...), amountFlags()...),
		Action: func(c *cli.Context) error {
			return withEnv(c, func(e *env) error {
				owner := c.String(flagOwner)
				var duration int64
				switch {
				case c.IsSet(flagDuration) && c.IsSet(flagUnlockAt):
					return errors.New("use --duration or --unlock-at, not both")
				case c.IsSet(flagDuration):
					duration = c.Int64(flagDuration)
				case c.IsSet(flagUnlockAt):
					duration = c.Timestamp(flagUnlockAt).Unix() - e.controller.Now()
					if duration <= 0 {
						return errors.New("--unlock-at must be in the future")
					}
				default:
					return errors.New("--duration or --unlock-at is required")
				}
				amount, err := e.amount(c)
				if err != nil {
					return err
				}

				rec, err := e.controller.Initialize(c.Context, owner, duration, amount)
				if err != nil {
					return err
				}
				return e.print(
					fmt.Sprintf("locked %s until %s", units.Format(rec.Amount, e.decimals), time.Unix(rec.UnlockAt(), 0).UTC().Format(time.RFC3339)),
					recordJSON(rec),
				)
			})
		},
	}
}

func commandShow() *cli.Command {
	return &cli.Command{
		Name:  "show",
		Usage: "print the owner's active vault",
		Flags: []cli.Flag{ownerFlag()},
		Action: func(c *cli.Context) error {
			return withEnv(c, func(e *env) error {
				v, err := e.controller.Get(c.Context, c.String(flagOwner))
				if err != nil {
					return err
				}
				out := recordJSON(v.Record)
				out["address"] = v.Address.String()
				out["balance_units"] = v.Balance
				state := "locked"
				if v.Record.Unlocked(e.controller.Now()) {
					state = "unlockable"
				}
				return e.print(fmt.Sprintf("%s %s %s until %s", v.Address, state, units.Format(v.Record.Amount, e.decimals),
					time.Unix(v.Record.UnlockAt(), 0).UTC().Format(time.RFC3339)), out)
			})
		},
	}
}

func commandUnlock() *cli.Command {
	return &cli.Command{
		Name:  "unlock",
		Usage: "release the owner's vault once its lock has passed",
		Flags: []cli.Flag{ownerFlag()},
		Action: func(c *cli.Context) error {
			return withEnv(c, func(e *env) error {
				release, err := e.controller.Unlock(c.Context, c.String(flagOwner))
				if err != nil {
					return err
				}
				return e.print(fmt.Sprintf("released %s (refund %s)", units.Format(release.Record.Amount, e.decimals), e.format(release.Refund)), map[string]any{
					"address":      release.Address.String(),
					"amount_units": release.Record.Amount,
					"refund_units": release.Refund,
					"unlocked_at":  release.UnlockedAt,
				})
			})
		},
	}
}

type env struct {
	c          *cli.Context
	controller *vault.Controller
	wallets    *wallet.Service
	decimals   int32
}

func withEnv(c *cli.Context, fn func(e *env) error) error {
	db, err := infra.OpenBolt(c.String(flagDB))
	if err != nil {
		return err
	}
	defer db.Close()

	e, err := newEnv(c, db)
	if err != nil {
		return err
	}
	return fn(e)
}

func newEnv(c *cli.Context, db *bolt.DB) (*env, error) {
	decimals := c.Int(flagDecimals)
	if decimals < 0 || decimals > 18 {
		return nil, fmt.Errorf("--decimals must be between 0 and 18, got %d", decimals)
	}
	rent := ledger.Rent{PerByte: c.Int64(flagRentPerByte), OverheadBytes: c.Int64(flagRentOverhead)}
	led, err := ledger.NewBoltLedger(db, rent)
	if err != nil {
		return nil, err
	}

	programID := vault.DefaultProgramID()
	if s := c.String(flagProgramID); s != "" {
		if programID, err = vault.ParseAddress(s); err != nil {
			return nil, err
		}
	}
	deriver, err := vault.NewDeriver(programID, 64)
	if err != nil {
		return nil, err
	}

	logger := logging.Discard()
	if c.Bool(flagVerbose) {
		logger = logging.NewTo(c.App.ErrWriter, "debug", logging.FormatText)
	}
	return &env{
		c:          c,
		controller: vault.NewController(led, deriver, vault.SystemClock, notification.NewLoggerNotifier(logger), logger),
		wallets:    wallet.NewService(led, math.MaxInt64),
		decimals:   int32(decimals),
	}, nil
}

func (e *env) amount(c *cli.Context) (uint64, error) {
	switch {
	case c.IsSet(flagUnits):
		return c.Uint64(flagUnits), nil
	case c.IsSet(flagAmount):
		return units.Parse(c.String(flagAmount), e.decimals)
	default:
		return 0, errors.New("--amount or --units is required")
	}
}

func (e *env) format(v int64) string {
	if v < 0 {
		return "-" + units.Format(uint64(-v), e.decimals)
	}
	return units.Format(uint64(v), e.decimals)
}

func (e *env) print(human string, machine map[string]any) error {
	out := e.c.App.Writer
	if e.c.Bool(flagJSON) {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(machine)
	}
	_, err := fmt.Fprintln(out, human)
	return err
}

func recordJSON(rec vault.Record) map[string]any {
	return map[string]any{
		"created_at":       rec.CreatedAt,
		"duration_seconds": rec.Duration,
		"unlock_at":        rec.UnlockAt(),
		"amount_units":     rec.Amount,
		"derivation_tag":   rec.DerivationTag,
	}
}
