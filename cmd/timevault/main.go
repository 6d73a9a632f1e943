// Command timevault operates vaults directly against a bbolt ledger file,
// without the HTTP API.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/urfave/cli/v2"
)

// Flag names. The flags themselves are built per app in newApp and the
// command constructors, since urfave/cli writes parsed values back into them.
const (
	flagDB           = "db"
	flagProgramID    = "program-id"
	flagRentPerByte  = "rent-per-byte"
	flagRentOverhead = "rent-overhead-bytes"
	flagDecimals     = "decimals"
	flagJSON         = "json"
	flagVerbose      = "verbose"
	flagOwner        = "owner"
	flagAmount       = "amount"
	flagUnits        = "units"
	flagDuration     = "duration"
	flagUnlockAt     = "unlock-at"
	flagTxID         = "tx-id"
)

func globalFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    flagDB,
			Usage:   "bbolt ledger file",
			Value:   "timevault.db",
			EnvVars: []string{"BOLT_PATH"},
		},
		&cli.StringFlag{
			Name:    flagProgramID,
			Usage:   "base58 address-derivation domain (default: built-in)",
			EnvVars: []string{"PROGRAM_ID"},
		},
		&cli.Int64Flag{
			Name:    flagRentPerByte,
			Usage:   "storage reserve charged per record byte",
			EnvVars: []string{"RENT_PER_BYTE"},
		},
		&cli.Int64Flag{
			Name:    flagRentOverhead,
			Usage:   "bytes added to each record when pricing the reserve",
			Value:   128,
			EnvVars: []string{"RENT_OVERHEAD_BYTES"},
		},
		&cli.IntFlag{
			Name:    flagDecimals,
			Usage:   "decimals between the major unit and the value unit",
			Value:   9,
			EnvVars: []string{"UNIT_DECIMALS"},
		},
		&cli.BoolFlag{
			Name:  flagJSON,
			Usage: "output JSON instead of human-readable format",
		},
		&cli.BoolFlag{
			Name:    flagVerbose,
			Aliases: []string{"v"},
			Usage:   "log vault events to stderr",
		},
	}
}

func ownerFlag() cli.Flag {
	return &cli.StringFlag{
		Name:     flagOwner,
		Usage:    "owner identity the vault address is derived from",
		Required: true,
	}
}

func amountFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:  flagAmount,
			Usage: "amount in major units, e.g. 1.5",
		},
		&cli.Uint64Flag{
			Name:  flagUnits,
			Usage: "amount in value units",
		},
	}
}

func txIDFlag() cli.Flag {
	return &cli.StringFlag{
		Name:  flagTxID,
		Usage: "client transaction id; replays are ignored",
	}
}

func lockFlags() []cli.Flag {
	return []cli.Flag{
		&cli.Int64Flag{
			Name:  flagDuration,
			Usage: "lock duration in seconds",
		},
		&cli.TimestampFlag{
			Name:   flagUnlockAt,
			Usage:  "lock until this time (RFC 3339)",
			Layout: time.RFC3339,
		},
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "timevault",
		Usage: "lock funds until a deadline and release them afterwards",
		Flags: globalFlags(),
		Commands: []*cli.Command{
			commandAddress(),
			commandAirdrop(),
			commandBalance(),
			commandInit(),
			commandShow(),
			commandUnlock(),
		},
	}
}

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
