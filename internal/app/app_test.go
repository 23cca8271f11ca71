package app

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cardauth/internal/auth"
	"cardauth/internal/config"
	"cardauth/internal/entitlement"
	"cardauth/internal/fingerprint"
	"cardauth/internal/infrastructure"
	"cardauth/internal/verify"
	ws "cardauth/internal/websocket"
)

// newTestApplication wires an Application without touching the network
// or global logging state.
func newTestApplication(t *testing.T) *Application {
	t.Helper()

	cfg := config.Default()
	cfg.Cache.Path = filepath.Join(t.TempDir(), "auth_info.json")
	cfg.RateLimit.Enabled = false

	logger := slog.Default()

	provider := fingerprint.NewProvider(nil, logger)
	machineCode := provider.MachineCode(context.Background())

	signingKey, err := entitlement.DeriveCacheKey(machineCode)
	require.NoError(t, err)

	store, err := entitlement.NewFileStore(cfg.Cache.Path)
	require.NoError(t, err)
	cache := entitlement.NewCache(store, cfg.Cache.StorageKey, signingKey, logger)

	hub := ws.NewHub(logger)
	hub.Start()
	t.Cleanup(hub.Stop)

	controller := auth.NewController(
		verify.NewClient(cfg.Verifier, logger),
		provider,
		cache,
		auth.NopNotifier{},
		logger,
	)

	app := &Application{
		Config:        &cfg,
		Logger:        logger,
		Controller:    controller,
		Fingerprint:   provider,
		Hub:           hub,
		OTelProviders: &infrastructure.OTelProviders{},
	}
	app.setupRouter()
	app.createServer()
	return app
}

func TestRouterHealthEndpoint(t *testing.T) {
	app := newTestApplication(t)

	rec := httptest.NewRecorder()
	app.Router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, false, body["loggedIn"])
}

func TestRouterVersionEndpoint(t *testing.T) {
	app := newTestApplication(t)

	rec := httptest.NewRecorder()
	app.Router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/version", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.NotEmpty(t, body["machineCode"])
}

func TestRouterAuthStatusMounted(t *testing.T) {
	app := newTestApplication(t)

	rec := httptest.NewRecorder()
	app.Router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/auth/status", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRouterUnknownRoute(t *testing.T) {
	app := newTestApplication(t)

	rec := httptest.NewRecorder()
	app.Router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/nope", nil))

	assert.Equal(t, http.StatusNotFound, rec.Code)

	// Unknown routes answer in the shared API error shape
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "NOT_FOUND", body["error_code"])
}

func TestServerBindsLoopbackOnly(t *testing.T) {
	app := newTestApplication(t)

	assert.Equal(t, "127.0.0.1:8745", app.Server.Addr)
}
