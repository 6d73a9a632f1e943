package routes

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/congo-pay/timevault/internal/config"
	"github.com/congo-pay/timevault/internal/logging"
	"github.com/congo-pay/timevault/internal/vault"
)

type testClock struct{ now atomic.Int64 }

func (c *testClock) Now() int64 { return c.now.Load() }

type client struct {
	t     *testing.T
	app   *fiber.App
	token string
}

func (cl *client) do(method, path string, body any) (int, map[string]any) {
	cl.t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(cl.t, err)
		reader = strings.NewReader(string(raw))
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	req.Header.Set("Idempotency-Key", uuid.NewString())
	if cl.token != "" {
		req.Header.Set(fiber.HeaderAuthorization, "Bearer "+cl.token)
	}
	resp, err := cl.app.Test(req, int((5 * time.Second).Milliseconds()))
	require.NoError(cl.t, err)
	defer resp.Body.Close()

	out := map[string]any{}
	raw, err := io.ReadAll(resp.Body)
	require.NoError(cl.t, err)
	if strings.HasPrefix(resp.Header.Get(fiber.HeaderContentType), fiber.MIMEApplicationJSON) {
		require.NoError(cl.t, json.Unmarshal(raw, &out))
	}
	return resp.StatusCode, out
}

func newTestApp(t *testing.T, clock vault.Clock) *fiber.App {
	t.Helper()
	mr := miniredis.RunT(t)
	cache := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = cache.Close() })

	cfg := config.Config{
		AppEnv:            "test",
		StorageBackend:    config.BackendMemory,
		JWTSecret:         "access",
		RefreshSecret:     "refresh",
		AccessTokenTTL:    time.Minute,
		RefreshTokenTTL:   time.Hour,
		IdempotencyTTL:    time.Minute,
		RentPerByte:       1,
		RentOverheadBytes: 128,
		UnitDecimals:      9,
		FaucetEnabled:     true,
		FaucetMaxUnits:    10_000_000_000,
		UnlockRatePerMin:  30,
	}
	app := fiber.New()
	require.NoError(t, Setup(app, Deps{Cfg: cfg, Cache: cache, Logger: logging.Discard(), Clock: clock}))
	return app
}

func TestVaultLifecycleOverHTTP(t *testing.T) {
	clock := &testClock{}
	clock.now.Store(1_000)
	app := newTestApp(t, clock)
	cl := &client{t: t, app: app}

	status, _ := cl.do(http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, status)

	status, body := cl.do(http.MethodPost, "/api/v1/identity/register", map[string]string{"phone": "+237600000000", "pin": "4321", "device_id": "phone-1"})
	require.Equal(t, http.StatusCreated, status)
	userID := body["user_id"].(string)

	status, body = cl.do(http.MethodPost, "/api/v1/auth/login", map[string]string{"phone": "+237600000000", "pin": "4321", "device_id": "phone-1"})
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, userID, body["user_id"])
	cl.token = body["access_token"].(string)

	status, body = cl.do(http.MethodPost, "/api/v1/wallet/airdrop", map[string]string{"amount": "2"})
	require.Equal(t, http.StatusCreated, status)
	require.Equal(t, float64(2_000_000_000), body["balance"])

	status, _ = cl.do(http.MethodPost, "/api/v1/vault/unlock", nil)
	require.Equal(t, http.StatusNotFound, status)

	status, body = cl.do(http.MethodPost, "/api/v1/vault", map[string]any{"duration_seconds": 3600, "amount": "1.5"})
	require.Equal(t, http.StatusCreated, status)
	require.Equal(t, float64(4_600), body["unlock_at"])

	reserve := float64(128 + vault.RecordSize)
	status, body = cl.do(http.MethodGet, "/api/v1/wallet", nil)
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, float64(500_000_000)-reserve, body["balance"])

	status, _ = cl.do(http.MethodPost, "/api/v1/vault", map[string]any{"duration_seconds": 1, "amount_units": 1})
	require.Equal(t, http.StatusConflict, status)

	clock.now.Store(4_599)
	status, _ = cl.do(http.MethodPost, "/api/v1/vault/unlock", nil)
	require.Equal(t, http.StatusTooEarly, status)

	clock.now.Store(4_600)
	status, body = cl.do(http.MethodPost, "/api/v1/vault/unlock", nil)
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, reserve, body["refund_units"])

	status, body = cl.do(http.MethodGet, "/api/v1/wallet", nil)
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, float64(2_000_000_000), body["balance"])

	status, _ = cl.do(http.MethodGet, "/api/v1/vault", nil)
	require.Equal(t, http.StatusNotFound, status)
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	app := newTestApp(t, nil)
	cl := &client{t: t, app: app}

	for _, path := range []string{"/api/v1/vault", "/api/v1/vault/address", "/api/v1/wallet", "/api/v1/me"} {
		status, _ := cl.do(http.MethodGet, path, nil)
		require.Equal(t, http.StatusUnauthorized, status, path)
	}
}
