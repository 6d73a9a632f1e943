package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/congo-pay/timevault/internal/ledger"
)

const (
	defaultAppName          = "TimeVault"
	defaultAppEnv           = "development"
	defaultPort             = "8080"
	defaultLogLevel         = "info"
	defaultLogFormat        = "json"
	defaultBoltPath         = "timevault.db"
	defaultShutdownDelay    = 10 * time.Second
	defaultIdempotencyTTL   = 24 * time.Hour
	defaultAccessTokenTTL   = 15 * time.Minute
	defaultRefreshTokenTTL  = 720 * time.Hour
	defaultRentOverhead     = 128
	defaultUnitDecimals     = 9
	maxUnitDecimals         = 18
	defaultFaucetMaxUnits   = 10_000_000_000
	defaultUnlockRatePerMin = 30
	devAccessSecret         = "dev-access-secret"
	devRefreshSecret        = "dev-refresh-secret"
	idemTTLSecondsEnvVar    = "IDEMPOTENCY_TTL_SECONDS"
	idemTTLDurEnvVar        = "IDEMPOTENCY_TTL"
	shutdownSecondsEnvVar   = "SHUTDOWN_TIMEOUT_SECONDS"
	shutdownDurationEnvVar  = "SHUTDOWN_TIMEOUT"
)

// Storage backends for the ledger.
const (
	BackendPostgres = "postgres"
	BackendBolt     = "bolt"
	BackendMemory   = "memory"
)

var errUnitDecimals = fmt.Errorf("UNIT_DECIMALS must be between 0 and %d", maxUnitDecimals)

// Config captures application runtime configuration loaded from environment variables.
type Config struct {
	AppName        string
	AppEnv         string
	Port           string
	LogLevel       string
	LogFormat      string
	StorageBackend string
	DatabaseURL    string
	BoltPath       string
	RedisURL       string
	ShutdownPeriod time.Duration
	IdempotencyTTL time.Duration

	JWTSecret       string
	RefreshSecret   string
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration

	// ProgramID is the base58 address-derivation domain; empty means the default.
	ProgramID         string
	RentPerByte       int64
	RentOverheadBytes int64
	UnitDecimals      int32
	FaucetEnabled     bool
	FaucetMaxUnits    int64
	UnlockRatePerMin  int
}

// Load reads configuration values from the environment and populates a Config instance.
func Load() (Config, error) {
	cfg := Config{
		AppName:         getEnv("APP_NAME", defaultAppName),
		AppEnv:          getEnv("APP_ENV", defaultAppEnv),
		Port:            getEnv("PORT", defaultPort),
		LogLevel:        strings.ToLower(getEnv("LOG_LEVEL", defaultLogLevel)),
		LogFormat:       strings.ToLower(getEnv("LOG_FORMAT", defaultLogFormat)),
		StorageBackend:  strings.ToLower(getEnv("STORAGE_BACKEND", BackendPostgres)),
		DatabaseURL:     os.Getenv("DATABASE_URL"),
		BoltPath:        getEnv("BOLT_PATH", defaultBoltPath),
		RedisURL:        os.Getenv("REDIS_URL"),
		ShutdownPeriod:  defaultShutdownDelay,
		IdempotencyTTL:  defaultIdempotencyTTL,
		JWTSecret:       os.Getenv("JWT_SECRET"),
		RefreshSecret:   os.Getenv("REFRESH_SECRET"),
		AccessTokenTTL:  defaultAccessTokenTTL,
		RefreshTokenTTL: defaultRefreshTokenTTL,
		ProgramID:       os.Getenv("PROGRAM_ID"),
	}
	dev := cfg.IsDev()

	var err error
	if cfg.ShutdownPeriod, err = secondsOrDuration(shutdownSecondsEnvVar, shutdownDurationEnvVar, defaultShutdownDelay); err != nil {
		return Config{}, err
	}
	if cfg.IdempotencyTTL, err = secondsOrDuration(idemTTLSecondsEnvVar, idemTTLDurEnvVar, defaultIdempotencyTTL); err != nil {
		return Config{}, err
	}
	if cfg.AccessTokenTTL, err = duration("ACCESS_TOKEN_TTL", defaultAccessTokenTTL); err != nil {
		return Config{}, err
	}
	if cfg.RefreshTokenTTL, err = duration("REFRESH_TOKEN_TTL", defaultRefreshTokenTTL); err != nil {
		return Config{}, err
	}
	if cfg.RentPerByte, err = integer("RENT_PER_BYTE", 0); err != nil {
		return Config{}, err
	}
	if cfg.RentOverheadBytes, err = integer("RENT_OVERHEAD_BYTES", defaultRentOverhead); err != nil {
		return Config{}, err
	}
	decimals, err := integer("UNIT_DECIMALS", defaultUnitDecimals)
	if err != nil {
		return Config{}, err
	}
	// Checked here as well as in validate: int32 would wrap larger values.
	if decimals < 0 || decimals > maxUnitDecimals {
		return Config{}, errUnitDecimals
	}
	cfg.UnitDecimals = int32(decimals)
	if cfg.FaucetMaxUnits, err = integer("FAUCET_MAX_UNITS", defaultFaucetMaxUnits); err != nil {
		return Config{}, err
	}
	rate, err := integer("UNLOCK_RATE_PER_MIN", defaultUnlockRatePerMin)
	if err != nil {
		return Config{}, err
	}
	cfg.UnlockRatePerMin = int(rate)

	cfg.FaucetEnabled = dev
	if v := os.Getenv("FAUCET_ENABLED"); v != "" {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid FAUCET_ENABLED: %w", err)
		}
		cfg.FaucetEnabled = enabled
	}

	if dev {
		if cfg.JWTSecret == "" {
			cfg.JWTSecret = devAccessSecret
		}
		if cfg.RefreshSecret == "" {
			cfg.RefreshSecret = devRefreshSecret
		}
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	switch c.StorageBackend {
	case BackendPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL must be set")
		}
	case BackendBolt:
		if c.BoltPath == "" {
			return fmt.Errorf("BOLT_PATH must be set")
		}
	case BackendMemory:
		if !c.IsDev() {
			return fmt.Errorf("STORAGE_BACKEND=memory is only allowed in development")
		}
	default:
		return fmt.Errorf("unknown STORAGE_BACKEND %q", c.StorageBackend)
	}

	if !c.IsDev() {
		if c.RedisURL == "" {
			return fmt.Errorf("REDIS_URL must be set")
		}
		if c.JWTSecret == "" || c.RefreshSecret == "" {
			return fmt.Errorf("JWT_SECRET and REFRESH_SECRET must be set")
		}
	}
	if c.RentPerByte < 0 || c.RentOverheadBytes < 0 {
		return fmt.Errorf("rent settings must not be negative")
	}
	if c.UnitDecimals < 0 || c.UnitDecimals > maxUnitDecimals {
		return errUnitDecimals
	}
	if c.AccessTokenTTL <= 0 || c.RefreshTokenTTL <= 0 {
		return fmt.Errorf("token lifetimes must be positive")
	}
	return nil
}

// Address returns the listen address in the format Fiber expects.
func (c Config) Address() string {
	if strings.HasPrefix(c.Port, ":") {
		return c.Port
	}
	return fmt.Sprintf(":%s", c.Port)
}

// IsDev reports whether the environment relaxes infrastructure requirements.
func (c Config) IsDev() bool {
	switch strings.ToLower(c.AppEnv) {
	case "dev", "development", "local", "test":
		return true
	default:
		return false
	}
}

// Rent returns the storage reservation pricing for vault records.
func (c Config) Rent() ledger.Rent {
	return ledger.Rent{PerByte: c.RentPerByte, OverheadBytes: c.RentOverheadBytes}
}

// FaucetLimit is the largest single airdrop, or zero when the faucet is off.
func (c Config) FaucetLimit() int64 {
	if !c.FaucetEnabled {
		return 0
	}
	return c.FaucetMaxUnits
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func secondsOrDuration(secondsKey, durationKey string, fallback time.Duration) (time.Duration, error) {
	if v := os.Getenv(secondsKey); v != "" {
		seconds, err := strconv.Atoi(v)
		if err != nil {
			return 0, fmt.Errorf("invalid %s: %w", secondsKey, err)
		}
		return time.Duration(seconds) * time.Second, nil
	}
	return duration(durationKey, fallback)
}

func duration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}

func integer(key string, fallback int64) (int64, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}
