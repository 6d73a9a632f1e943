package notification

import (
	"context"
	"log/slog"
)

const (
	// KindVaultLocked indicates funds were moved into a vault.
	KindVaultLocked = "vault_locked"
	// KindVaultUnlocked indicates a vault was released back to its owner.
	KindVaultUnlocked = "vault_unlocked"
)

// Event is a vault state change addressed to its owner. Amounts are in
// value units; times are unix seconds.
type Event struct {
	Kind     string
	Owner    string
	Address  string
	Amount   uint64
	UnlockAt int64
	At       int64
}

// Notifier delivers vault events to downstream systems.
type Notifier interface {
	Notify(ctx context.Context, event Event) error
}

// LoggerNotifier writes events to a structured logger. It is the default
// until a push channel exists.
type LoggerNotifier struct {
	logger *slog.Logger
}

func NewLoggerNotifier(logger *slog.Logger) *LoggerNotifier {
	return &LoggerNotifier{logger: logger}
}

func (n *LoggerNotifier) Notify(ctx context.Context, e Event) error {
	if n == nil || n.logger == nil {
		return nil
	}
	n.logger.LogAttrs(ctx, slog.LevelInfo, "notification",
		slog.String("kind", e.Kind),
		slog.Group("vault",
			slog.String("owner", e.Owner),
			slog.String("address", e.Address),
			slog.Uint64("amount", e.Amount),
			slog.Int64("unlock_at", e.UnlockAt),
		),
		slog.Int64("at", e.At),
	)
	return nil
}
