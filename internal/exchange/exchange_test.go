package exchange

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastRetry() RetryConfig {
	return RetryConfig{
		InitialDelay:  time.Millisecond,
		MaxDelay:      5 * time.Millisecond,
		MaxRetries:    2,
		BackoffFactor: 2.0,
		Jitter:        false,
	}
}

func serve(t *testing.T, routes map[string]string) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, ok := routes[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(body))
	}))
	t.Cleanup(server.Close)
	return server
}

func TestSymbolHelpers(t *testing.T) {
	assert.Equal(t, "BTCUSDT", NormalizeSymbol("btc-usdt"))
	assert.Equal(t, "ETHUSDT", NormalizeSymbol(" ETH/USDT "))
	assert.Equal(t, "BTC-USDT", DashedSymbol("BTCUSDT"))
	assert.Equal(t, "BTC-USDT", DashedSymbol("BTC-USDT"))
	assert.Equal(t, "BTCEUR", DashedSymbol("BTCEUR"))
}

func TestBinance_TopPairsAndPrice(t *testing.T) {
	server := serve(t, map[string]string{
		"/api/v3/ticker/24hr": `[
			{"symbol":"BTCUSDT","lastPrice":"65000.5","priceChangePercent":"1.2","quoteVolume":"900000000"},
			{"symbol":"ETHUSDT","lastPrice":"3200","priceChangePercent":"-0.5","quoteVolume":"500000000"},
			{"symbol":"ETHBTC","lastPrice":"0.05","priceChangePercent":"0.1","quoteVolume":"99999999999"},
			{"symbol":"BTCUPUSDT","lastPrice":"10","priceChangePercent":"3","quoteVolume":"800000000"},
			{"symbol":"SOLUSDT","lastPrice":"150","priceChangePercent":"4.4","quoteVolume":"600000000"}
		]`,
	})
	b := NewBinance(WithBaseURL(server.URL), WithRetryConfig(fastRetry()))

	pairs, err := b.TopPairs(context.Background(), 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"BTCUSDT", "SOLUSDT"}, pairs)
}

func TestBinance_Price(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "ETHUSDT", r.URL.Query().Get("symbol"))
		w.Write([]byte(`{"symbol":"ETHUSDT","lastPrice":"3200.10","priceChangePercent":"-0.50","highPrice":"3300","lowPrice":"3100","quoteVolume":"1000"}`))
	}))
	defer server.Close()

	tk, err := NewBinance(WithBaseURL(server.URL), WithRetryConfig(fastRetry())).Price(context.Background(), "eth-usdt")
	require.NoError(t, err)
	assert.Equal(t, "ETHUSDT", tk.Symbol)
	assert.Equal(t, 3200.10, tk.Price)
	assert.Equal(t, -0.5, tk.Change24h)
}

func TestBybit_ConvertsFractionChange(t *testing.T) {
	server := serve(t, map[string]string{
		"/v5/market/tickers": `{"retCode":0,"retMsg":"OK","result":{"list":[
			{"symbol":"BTCUSDT","lastPrice":"65000","price24hPcnt":"0.0125","turnover24h":"100"},
			{"symbol":"XRPUSDT","lastPrice":"0.6","price24hPcnt":"-0.02","turnover24h":"300"}
		]}}`,
	})
	b := NewBybit(WithBaseURL(server.URL), WithRetryConfig(fastRetry()))

	pairs, err := b.TopPairs(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"XRPUSDT", "BTCUSDT"}, pairs)

	tk, err := b.Price(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	assert.InDelta(t, 1.25, tk.Change24h, 1e-9)
}

func TestOKX_DashedInstruments(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v5/market/tickers":
			w.Write([]byte(`{"code":"0","data":[
				{"instId":"BTC-USDT","last":"110","open24h":"100","volCcy24h":"5000"},
				{"instId":"ETH-USDC","last":"1","open24h":"1","volCcy24h":"9000"}
			]}`))
		case "/api/v5/market/ticker":
			assert.Equal(t, "BTC-USDT", r.URL.Query().Get("instId"))
			w.Write([]byte(`{"code":"0","data":[{"instId":"BTC-USDT","last":"110","open24h":"100"}]}`))
		}
	}))
	defer server.Close()
	o := NewOKX(WithBaseURL(server.URL), WithRetryConfig(fastRetry()))

	pairs, err := o.TopPairs(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"BTCUSDT"}, pairs)

	tk, err := o.Price(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, "BTCUSDT", tk.Symbol)
	assert.InDelta(t, 10.0, tk.Change24h, 1e-9)
}

func TestKuCoin_ErrorCode(t *testing.T) {
	server := serve(t, map[string]string{
		"/api/v1/market/allTickers": `{"code":"400100","msg":"bad request"}`,
		"/api/v1/market/stats":      `{"code":"200000","data":{"symbol":"SOL-USDT","last":"150","changeRate":"0.031"}}`,
	})
	k := NewKuCoin(WithBaseURL(server.URL), WithRetryConfig(fastRetry()))

	_, err := k.TopPairs(context.Background(), 10)
	assert.ErrorContains(t, err, "400100")

	tk, err := k.Price(context.Background(), "SOLUSDT")
	require.NoError(t, err)
	assert.InDelta(t, 3.1, tk.Change24h, 1e-9)
}

func TestRetry_ServerErrorsAreRetried(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte(`[{"symbol":"BTCUSDT","lastPrice":"1","quoteVolume":"1"}]`))
	}))
	defer server.Close()

	pairs, err := NewBinance(WithBaseURL(server.URL), WithRetryConfig(fastRetry())).TopPairs(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"BTCUSDT"}, pairs)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestRetry_ClientErrorsAreNot(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	_, err := NewBinance(WithBaseURL(server.URL), WithRetryConfig(fastRetry())).TopPairs(context.Background(), 10)
	require.Error(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestRegistry(t *testing.T) {
	reg := DefaultRegistry()
	assert.Equal(t, []string{"binance", "bybit", "kucoin", "okx"}, reg.Names())

	ex, err := reg.Get("Binance")
	require.NoError(t, err)
	assert.Equal(t, "binance", ex.Name())

	_, err = reg.Get("ftx")
	assert.ErrorIs(t, err, ErrUnknownExchange)
}
