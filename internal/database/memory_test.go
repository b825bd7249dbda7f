package database

import (
	"context"
	"testing"
	"time"

	"market-signal-engine/internal/ai/signal"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func testSignal(symbol, exchange, sentiment string, at time.Time) *signal.MarketSignal {
	return &signal.MarketSignal{
		Symbol:          symbol,
		Exchange:        exchange,
		Sentiment:       sentiment,
		Confidence:      70,
		RecommendedSide: signal.SideLong,
		ParseTier:       signal.TierStrict,
		CreatedAt:       at,
	}
}

func TestMemoryStore_UpsertIsIdempotentPerSymbolAndExchange(t *testing.T) {
	m := NewMemoryStore("binance")
	ctx := context.Background()

	require.NoError(t, m.UpsertSignal(ctx, testSignal("BTCUSDT", "binance", signal.SentimentBullish, base)))
	require.NoError(t, m.UpsertSignal(ctx, testSignal("BTCUSDT", "binance", signal.SentimentBearish, base.Add(time.Minute))))
	require.NoError(t, m.UpsertSignal(ctx, testSignal("BTCUSDT", "bybit", signal.SentimentNeutral, base)))

	all, err := m.ListSignals(ctx, SignalFilter{})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, signal.SentimentBearish, all[0].Sentiment)

	onlyBybit, err := m.ListSignals(ctx, SignalFilter{Exchange: "bybit"})
	require.NoError(t, err)
	require.Len(t, onlyBybit, 1)
	assert.Equal(t, "bybit", onlyBybit[0].Exchange)
}

func TestMemoryStore_DeleteSignalsOlderThan(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, m.UpsertSignal(ctx, testSignal("OLDUSDT", "binance", signal.SentimentNeutral, base.Add(-31*time.Minute))))
	require.NoError(t, m.UpsertSignal(ctx, testSignal("NEWUSDT", "binance", signal.SentimentNeutral, base.Add(-29*time.Minute))))

	n, err := m.DeleteSignalsOlderThan(ctx, base.Add(-30*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	left, _ := m.ListSignals(ctx, SignalFilter{})
	require.Len(t, left, 1)
	assert.Equal(t, "NEWUSDT", left[0].Symbol)
}

func TestMemoryStore_Settings(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()

	s, err := m.GetSettings(ctx)
	require.NoError(t, err)
	assert.Equal(t, ActiveProviderAuto, s.ActiveProvider)
	assert.False(t, s.ScanEnabled)

	s.ActiveProvider = "groq"
	s.ScanEnabled = true
	require.NoError(t, m.SaveSettings(ctx, s))

	got, _ := m.GetSettings(ctx)
	assert.Equal(t, "groq", got.ActiveProvider)
	assert.True(t, got.ScanEnabled)
	assert.False(t, got.UpdatedAt.IsZero())
}

func TestMemoryStore_DecisionsAndExchanges(t *testing.T) {
	m := NewMemoryStore("OKX", "binance")
	ctx := context.Background()

	names, err := m.ListConnectedExchanges(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"binance", "okx"}, names)

	require.NoError(t, m.SetExchangeConnected(ctx, "Bybit", true))
	require.NoError(t, m.SetExchangeConnected(ctx, "okx", false))
	require.NoError(t, m.SetExchangeConnected(ctx, "binance", true))
	names, err = m.ListConnectedExchanges(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"binance", "bybit"}, names)

	s := testSignal("ETHUSDT", "okx", signal.SentimentBullish, base)
	s.ProviderUsed = "groq"
	d := NewAIDecision("scan-1", s)
	require.NoError(t, m.InsertAIDecision(ctx, d))

	got := m.Decisions()
	require.Len(t, got, 1)
	assert.Equal(t, "groq", got[0].Provider)
	assert.Equal(t, "scan-1", got[0].ScanID)
	assert.NotEqual(t, "00000000-0000-0000-0000-000000000000", got[0].ID.String())
}

func TestSignalFilter_Limit(t *testing.T) {
	assert.Equal(t, DefaultSignalLimit, SignalFilter{}.limit())
	assert.Equal(t, 5, SignalFilter{Limit: 5}.limit())
	assert.Equal(t, DefaultSignalLimit, SignalFilter{Limit: 5000}.limit())
}
