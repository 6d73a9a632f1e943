package routes

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	bolt "go.etcd.io/bbolt"

	"github.com/congo-pay/timevault/internal/auth"
	"github.com/congo-pay/timevault/internal/config"
	"github.com/congo-pay/timevault/internal/identity"
	"github.com/congo-pay/timevault/internal/ledger"
	"github.com/congo-pay/timevault/internal/middleware"
	"github.com/congo-pay/timevault/internal/notification"
	"github.com/congo-pay/timevault/internal/vault"
	"github.com/congo-pay/timevault/internal/wallet"
)

const addressCacheSize = 4096

// Deps aggregates shared dependencies required to wire routes. Exactly one of
// DB and Bolt is set unless the memory backend is selected.
type Deps struct {
	Cfg    config.Config
	DB     *pgxpool.Pool
	Bolt   *bolt.DB
	Cache  *redis.Client
	Logger *slog.Logger
	// Clock overrides the system clock; tests use it to move time.
	Clock vault.Clock
}

// Setup configures middlewares and all application routes.
func Setup(app *fiber.App, d Deps) error {
	if !d.Cfg.IsDev() && d.Cache == nil {
		return fmt.Errorf("redis is required when APP_ENV=%s", d.Cfg.AppEnv)
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}

	app.Use(recover.New())
	app.Use(middleware.RequestID())
	app.Use(logger.New(logger.Config{
		Format:     "[${time}] ${status} -  ${latency} ${method} ${path}\n",
		TimeFormat: "15:04:05",
		TimeZone:   "Local",
	}))
	app.Use(middleware.Audit(d.Logger))

	RegisterHealthRoutes(app, d)

	ledgerBackend, err := newLedger(d)
	if err != nil {
		return err
	}

	programID := vault.DefaultProgramID()
	if d.Cfg.ProgramID != "" {
		if programID, err = vault.ParseAddress(d.Cfg.ProgramID); err != nil {
			return fmt.Errorf("PROGRAM_ID: %w", err)
		}
	}
	deriver, err := vault.NewDeriver(programID, addressCacheSize)
	if err != nil {
		return err
	}

	identityRepo, err := newIdentityRepository(d)
	if err != nil {
		return err
	}
	identitySvc := identity.NewService(identityRepo)
	walletSvc := wallet.NewService(ledgerBackend, d.Cfg.FaucetLimit())
	authSvc := auth.NewService(d.Cfg, identityRepo)
	notifier := notification.NewLoggerNotifier(d.Logger)
	controller := vault.NewController(ledgerBackend, deriver, d.Clock, notifier, d.Logger)

	openWallet := func(ctx context.Context, ownerID string) error {
		_, err := walletSvc.Open(ctx, ownerID)
		return err
	}
	identityHandler := identity.NewHandler(identitySvc, openWallet, d.Logger)
	authHandler := auth.NewHandler(identitySvc, authSvc)
	walletHandler := wallet.NewHandler(walletSvc, d.Cfg.UnitDecimals)
	vaultHandler := vault.NewHandler(controller, d.Cfg.UnitDecimals)

	api := app.Group("/api/v1")
	api.Get("/ping", func(c *fiber.Ctx) error {
		return c.Status(http.StatusOK).JSON(fiber.Map{
			"status":     "ok",
			"request_id": middleware.RequestIDFrom(c),
			"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
		})
	})

	// Public routes
	RegisterIdentityRoutes(api, identityHandler)
	RegisterAuthRoutes(api, authHandler, middleware.LoginRateLimit(d.Cache, 5))

	// Protected routes
	protected := api.Group("", middleware.JWTAuth(authSvc))
	if d.Cache != nil {
		protected.Use(middleware.Idempotency(d.Cache, d.Cfg.IdempotencyTTL, d.Logger))
	}
	RegisterWalletRoutes(protected, identityHandler, walletHandler)
	RegisterVaultRoutes(protected, vaultHandler, middleware.UnlockRateLimit(d.Cache, d.Cfg.UnlockRatePerMin))

	return nil
}

func newLedger(d Deps) (ledger.Ledger, error) {
	rent := d.Cfg.Rent()
	switch {
	case d.DB != nil:
		return ledger.NewPostgresLedger(d.DB, rent), nil
	case d.Bolt != nil:
		return ledger.NewBoltLedger(d.Bolt, rent)
	case d.Cfg.IsDev():
		return ledger.NewInMemory(rent), nil
	default:
		return nil, fmt.Errorf("a storage backend is required when APP_ENV=%s", d.Cfg.AppEnv)
	}
}

func newIdentityRepository(d Deps) (identity.Repository, error) {
	switch {
	case d.DB != nil:
		return identity.NewPostgresRepository(d.DB), nil
	case d.Bolt != nil:
		return identity.NewBoltRepository(d.Bolt)
	default:
		return identity.NewMemoryRepository(), nil
	}
}
