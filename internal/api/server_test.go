package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"market-signal-engine/config"
	"market-signal-engine/internal/ai/llm"
	"market-signal-engine/internal/ai/providers"
	"market-signal-engine/internal/ai/rotation"
	"market-signal-engine/internal/auth"
	"market-signal-engine/internal/database"
	"market-signal-engine/internal/events"
	"market-signal-engine/internal/exchange"
	"market-signal-engine/internal/logging"
	"market-signal-engine/internal/metrics"
	"market-signal-engine/internal/scanner"

	"github.com/benbjohnson/clock"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

const (
	liveKey       = "live_key_0123456789abcdefghijkl"
	adminPassword = "operator-password"
	bullish       = `{"sentiment":"BULLISH","confidence":78,"insight":"Breakout above range","profit_timeframe_minutes":3,"recommended_side":"long","expected_move_percent":0.8}`
)

func init() {
	gin.SetMode(gin.TestMode)
	logging.SetDefault(logging.Nop())
}

type fakeExchange struct {
	name   string
	pairs  []string
	prices map[string]float64
}

func (f *fakeExchange) Name() string { return f.name }

func (f *fakeExchange) TopPairs(_ context.Context, n int) ([]string, error) {
	if n < len(f.pairs) {
		return f.pairs[:n], nil
	}
	return f.pairs, nil
}

func (f *fakeExchange) Price(_ context.Context, symbol string) (*exchange.Ticker, error) {
	p, ok := f.prices[symbol]
	if !ok {
		p = 100
	}
	return &exchange.Ticker{Symbol: symbol, Price: p, Change24h: 0.7}, nil
}

// scriptedInvoker replies with text unless a provider has a scripted error
type scriptedInvoker struct {
	mu    sync.Mutex
	text  string
	errs  map[string]error
	calls int
}

func (s *scriptedInvoker) Call(_ context.Context, target llm.Target, _, _ string, _ int) (*llm.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if err := s.errs[target.Provider]; err != nil {
		return nil, err
	}
	return &llm.Result{Text: s.text, Latency: 50 * time.Millisecond}, nil
}

type brokenStore struct {
	*database.MemoryStore
}

func (brokenStore) GetSettings(context.Context) (*database.AISettings, error) {
	return nil, errors.New("connection refused")
}

type harness struct {
	server   *Server
	store    *database.MemoryStore
	registry *providers.Registry
	invoker  *scriptedInvoker
	bus      *events.EventBus
}

type harnessOption func(*config.ServerConfig, *Deps)

func withAuth(t *testing.T) harnessOption {
	hash, err := auth.HashPassword(adminPassword, bcrypt.MinCost)
	require.NoError(t, err)
	return func(_ *config.ServerConfig, d *Deps) {
		d.Auth = auth.NewService(config.AuthConfig{
			Enabled:             true,
			JWTSecret:           "0123456789abcdef0123456789abcdef",
			AccessTokenDuration: time.Hour,
			AdminPasswordHash:   hash,
		})
	}
}

func newHarness(t *testing.T, creds providers.StaticResolver, opts ...harnessOption) *harness {
	t.Helper()
	mock := clock.NewMock()
	mock.Set(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))

	store := database.NewMemoryStore("binance")
	registry := providers.NewRegistry(store, []providers.Spec{
		{Name: "alpha", Protocol: providers.ProtocolChat, Model: "a-big", FastModel: "a-small", CredentialKey: "ALPHA_KEY", Priority: 1, RPMLimit: 100, RPDLimit: 100, Enabled: true},
		{Name: "beta", Protocol: providers.ProtocolChat, Model: "b-big", CredentialKey: "BETA_KEY", Priority: 2, RPMLimit: 100, RPDLimit: 500, Enabled: true},
	}, creds, providers.WithClock(mock), providers.WithLogger(logging.Nop()))
	require.NoError(t, registry.Seed(context.Background()))

	invoker := &scriptedInvoker{text: bullish, errs: map[string]error{}}
	controller := rotation.NewController(registry, invoker, rotation.Config{})
	bus := events.NewEventBus()

	cfg := scanner.DefaultConfig()
	cfg.Pacing = 0
	binance := &fakeExchange{
		name:   "binance",
		pairs:  []string{"BTCUSDT", "ETHUSDT", "SOLUSDT"},
		prices: map[string]float64{"BTCUSDT": 65000, "ETHUSDT": 3200, "SOLUSDT": 150},
	}
	sc := scanner.NewScanner(store, registry, controller, exchange.NewRegistry(binance), cfg,
		scanner.WithClock(mock), scanner.WithEventBus(bus), scanner.WithLogger(logging.Nop()))

	serverCfg := config.ServerConfig{Host: "127.0.0.1", Port: 0}
	deps := Deps{
		Store:    store,
		Scanner:  sc,
		Registry: registry,
		Invoker:  invoker,
		EventBus: bus,
		Metrics:  metrics.New(),
	}
	for _, opt := range opts {
		opt(&serverCfg, &deps)
	}

	return &harness{
		server:   NewServer(serverCfg, deps),
		store:    store,
		registry: registry,
		invoker:  invoker,
		bus:      bus,
	}
}

func bothKeys() providers.StaticResolver {
	return providers.StaticResolver{"ALPHA_KEY": liveKey, "BETA_KEY": liveKey}
}

func (h *harness) dispatch(t *testing.T, body, token string) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/ai-analysis", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return h.serve(t, req)
}

func (h *harness) serve(t *testing.T, req *http.Request) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	w := httptest.NewRecorder()
	h.server.Router().ServeHTTP(w, req)

	var resp map[string]interface{}
	if strings.HasPrefix(w.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), w.Body.String())
	}
	return w, resp
}

func data(t *testing.T, resp map[string]interface{}) map[string]interface{} {
	t.Helper()
	d, ok := resp["data"].(map[string]interface{})
	require.True(t, ok, "response has no data object: %v", resp)
	return d
}

func TestDispatch_UnknownAction(t *testing.T) {
	h := newHarness(t, bothKeys())

	w, resp := h.dispatch(t, `{"action":"launch-rockets"}`, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "UNKNOWN_ACTION", resp["error"])
	assert.Len(t, resp["actions"], 11)

	w, _ = h.dispatch(t, `not json`, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDispatch_Analyze(t *testing.T) {
	h := newHarness(t, bothKeys())

	w, resp := h.dispatch(t, `{"action":"analyze","symbol":"eth-usdt","notes":"watch funding"}`, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	d := data(t, resp)
	sig := d["signal"].(map[string]interface{})
	assert.Equal(t, "ETHUSDT", sig["symbol"])
	assert.Equal(t, "BULLISH", sig["sentiment"])
	assert.Equal(t, "beta", d["provider"])

	signals, err := h.store.ListSignals(context.Background(), database.SignalFilter{})
	require.NoError(t, err)
	assert.Len(t, signals, 1)
}

func TestDispatch_AnalyzeValidation(t *testing.T) {
	h := newHarness(t, bothKeys())

	w, resp := h.dispatch(t, `{"action":"analyze"}`, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "VALIDATION_ERROR", resp["error"])

	w, resp = h.dispatch(t, `{"action":"analyze","symbol":"BTCUSDT","exchange":"ftx"}`, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "UNKNOWN_EXCHANGE", resp["error"])
}

func TestDispatch_AnalyzeWithoutCapacity(t *testing.T) {
	h := newHarness(t, providers.StaticResolver{})

	w, resp := h.dispatch(t, `{"action":"analyze","symbol":"BTCUSDT"}`, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, resp["unavailable"])
	assert.Contains(t, resp, "next_available_at")
	assert.Zero(t, h.invoker.calls)
}

func TestDispatch_AnalyzeNoSignal(t *testing.T) {
	h := newHarness(t, bothKeys())
	h.invoker.text = "   "

	w, resp := h.dispatch(t, `{"action":"analyze","symbol":"BTCUSDT"}`, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "NO_SIGNAL", resp["error"])
	assert.NotEmpty(t, resp["attempts"])
}

func TestDispatch_MarketScan(t *testing.T) {
	h := newHarness(t, bothKeys())

	w, resp := h.dispatch(t, `{"action":"market-scan"}`, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, float64(3), data(t, resp)["analyzed"])

	w, resp = h.serve(t, httptest.NewRequest(http.MethodGet, "/api/scan/last", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(3), data(t, resp)["analyzed"])
}

func TestDispatch_MarketScanUnavailable(t *testing.T) {
	h := newHarness(t, providers.StaticResolver{})

	w, resp := h.dispatch(t, `{"action":"market-scan"}`, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, resp["unavailable"])
	assert.Contains(t, resp, "summary")
}

func TestDispatch_ProviderAdministration(t *testing.T) {
	h := newHarness(t, bothKeys())
	ctx := context.Background()

	w, resp := h.dispatch(t, `{"action":"get-providers"}`, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, data(t, resp)["providers"], 2)

	w, _ = h.dispatch(t, `{"action":"toggle-provider","provider":"alpha"}`, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, resp = h.dispatch(t, `{"action":"toggle-provider","provider":"gamma","enabled":false}`, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "UNKNOWN_PROVIDER", resp["error"])

	w, _ = h.dispatch(t, `{"action":"toggle-provider","provider":"alpha","enabled":false}`, "")
	require.Equal(t, http.StatusOK, w.Code)

	records, err := h.store.ListProviders(ctx)
	require.NoError(t, err)
	for _, r := range records {
		assert.Equal(t, r.Name != "alpha", r.Enabled, r.Name)
	}

	w, resp = h.dispatch(t, `{"action":"reset-daily-limits"}`, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(2), data(t, resp)["reset"])
}

func TestDispatch_TestProvider(t *testing.T) {
	h := newHarness(t, bothKeys())
	h.invoker.errs["beta"] = errors.New("upstream 503")

	w, resp := h.dispatch(t, `{"action":"test-provider","provider":"alpha"}`, "")
	require.Equal(t, http.StatusOK, w.Code)
	d := data(t, resp)
	assert.Equal(t, true, d["ok"])
	assert.Equal(t, "a-small", d["model"])

	w, resp = h.dispatch(t, `{"action":"test-provider","provider":"beta"}`, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, false, data(t, resp)["ok"])

	records, err := h.store.ListProviders(context.Background())
	require.NoError(t, err)
	for _, r := range records {
		switch r.Name {
		case "alpha":
			assert.Equal(t, int64(1), r.SuccessCount)
			assert.Equal(t, 1, r.RPDUsed)
		case "beta":
			assert.Equal(t, int64(1), r.ErrorCount)
			assert.Contains(t, r.LastError, "upstream 503")
		}
	}
}

func TestDispatch_ValidateKey(t *testing.T) {
	h := newHarness(t, providers.StaticResolver{"ALPHA_KEY": liveKey, "BETA_KEY": "your_api_key_here_please_x"})

	w, resp := h.dispatch(t, `{"action":"validate-key","provider":"alpha"}`, "")
	require.Equal(t, http.StatusOK, w.Code)
	d := data(t, resp)
	assert.Equal(t, true, d["valid"])
	assert.Equal(t, true, d["reachable"])

	w, resp = h.dispatch(t, `{"action":"validate-key","provider":"beta"}`, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, false, data(t, resp)["valid"])
	assert.Equal(t, 1, h.invoker.calls)
}

func TestDispatch_Config(t *testing.T) {
	h := newHarness(t, bothKeys())

	w, resp := h.dispatch(t, `{"action":"set-config","active_provider":"Beta","scan_enabled":true}`, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "beta", data(t, resp)["active_provider"])

	w, resp = h.dispatch(t, `{"action":"get-config"}`, "")
	require.Equal(t, http.StatusOK, w.Code)
	settings := data(t, resp)["settings"].(map[string]interface{})
	assert.Equal(t, "beta", settings["active_provider"])
	assert.Equal(t, true, settings["scan_enabled"])

	w, resp = h.dispatch(t, `{"action":"set-config","active_provider":"gamma"}`, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "UNKNOWN_PROVIDER", resp["error"])
}

func TestDispatch_SetExchange(t *testing.T) {
	h := newHarness(t, bothKeys())
	ctx := context.Background()

	w, resp := h.dispatch(t, `{"action":"set-exchange","exchange":"bybit","connected":true}`, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "UNKNOWN_EXCHANGE", resp["error"])

	w, resp = h.dispatch(t, `{"action":"set-exchange","exchange":"binance"}`, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "VALIDATION_ERROR", resp["error"])

	w, resp = h.dispatch(t, `{"action":"set-exchange","exchange":"binance","connected":false}`, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, []interface{}{"binance"}, data(t, resp)["exchanges"], "configured exchanges when none are connected")
	names, err := h.store.ListConnectedExchanges(ctx)
	require.NoError(t, err)
	assert.Empty(t, names)

	w, _ = h.dispatch(t, `{"action":"set-exchange","exchange":"Binance","connected":true}`, "")
	require.Equal(t, http.StatusOK, w.Code)
	names, err = h.store.ListConnectedExchanges(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"binance"}, names)
}

func TestDispatch_GetSignals(t *testing.T) {
	h := newHarness(t, bothKeys())
	_, _ = h.dispatch(t, `{"action":"market-scan"}`, "")

	w, resp := h.dispatch(t, `{"action":"get-signals","sentiment":"BULLISH","limit":2}`, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(2), data(t, resp)["count"])

	w, _ = h.dispatch(t, `{"action":"get-signals","sentiment":"SIDEWAYS"}`, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, resp = h.serve(t, httptest.NewRequest(http.MethodGet, "/api/signals?exchange=binance", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(3), data(t, resp)["count"])

	w, _ = h.serve(t, httptest.NewRequest(http.MethodGet, "/api/signals?limit=5000", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDispatch_StoreFailureIs500(t *testing.T) {
	h := newHarness(t, bothKeys(), func(_ *config.ServerConfig, d *Deps) {
		d.Store = brokenStore{MemoryStore: database.NewMemoryStore()}
	})

	w, resp := h.dispatch(t, `{"action":"get-config"}`, "")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "INTERNAL_ERROR", resp["error"])
	require.NotEmpty(t, w.Header().Get(logging.TraceHeader))
	assert.Equal(t, w.Header().Get(logging.TraceHeader), resp["trace_id"])
}

func TestDispatch_AdminActionsRequireToken(t *testing.T) {
	h := newHarness(t, bothKeys(), withAuth(t))

	w, _ := h.dispatch(t, `{"action":"market-scan"}`, "")
	assert.Equal(t, http.StatusForbidden, w.Code)

	w, _ = h.dispatch(t, `{"action":"get-providers"}`, "")
	assert.Equal(t, http.StatusOK, w.Code)

	req := httptest.NewRequest(http.MethodPost, "/api/auth/login", strings.NewReader(`{"password":"`+adminPassword+`"}`))
	req.Header.Set("Content-Type", "application/json")
	w, resp := h.serve(t, req)
	require.Equal(t, http.StatusOK, w.Code)
	token := resp["access_token"].(string)

	w, _ = h.dispatch(t, `{"action":"reset-daily-limits"}`, token)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestHealth(t *testing.T) {
	h := newHarness(t, bothKeys())

	w, resp := h.serve(t, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "healthy", resp["database"])
	assert.Equal(t, "disabled", resp["cache"])
	assert.Equal(t, "disabled", resp["vault"])
}

type vaultHealth func(context.Context) error

func (f vaultHealth) Health(ctx context.Context) error { return f(ctx) }

func TestHealth_ReportsVault(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{name: "reachable", want: "healthy"},
		{name: "sealed", err: errors.New("vault is sealed"), want: "unhealthy"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, bothKeys(), func(_ *config.ServerConfig, d *Deps) {
				d.Vault = vaultHealth(func(context.Context) error { return tt.err })
			})

			w, resp := h.serve(t, httptest.NewRequest(http.MethodGet, "/api/health", nil))
			require.Equal(t, http.StatusOK, w.Code, "vault state does not fail the database check")
			assert.Equal(t, tt.want, resp["vault"])
			assert.Equal(t, "healthy", resp["status"])
		})
	}
}

func TestRateLimit(t *testing.T) {
	h := newHarness(t, bothKeys(), func(cfg *config.ServerConfig, _ *Deps) {
		cfg.RequestsPerSecond = 1
		cfg.RequestBurst = 1
	})

	w, _ := h.dispatch(t, `{"action":"get-config"}`, "")
	assert.Equal(t, http.StatusOK, w.Code)
	w, resp := h.dispatch(t, `{"action":"get-config"}`, "")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "RATE_LIMITED", resp["error"])
}

func TestMetricsEndpoint(t *testing.T) {
	h := newHarness(t, bothKeys())
	_, _ = h.dispatch(t, `{"action":"get-config"}`, "")

	w := httptest.NewRecorder()
	h.server.Router().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `route="/api/ai-analysis"`)
}
