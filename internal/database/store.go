package database

import (
	"context"
	"time"

	"market-signal-engine/internal/ai/providers"
	"market-signal-engine/internal/ai/signal"
)

// Store is the persistence surface used by the scanner and the API
type Store interface {
	providers.Store

	UpsertSignal(ctx context.Context, s *signal.MarketSignal) error
	DeleteSignalsOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
	ListSignals(ctx context.Context, filter SignalFilter) ([]signal.MarketSignal, error)
	InsertAIDecision(ctx context.Context, d *AIDecision) error
	GetSettings(ctx context.Context) (*AISettings, error)
	SaveSettings(ctx context.Context, s *AISettings) error
	ListConnectedExchanges(ctx context.Context) ([]string, error)
	SetExchangeConnected(ctx context.Context, exchange string, connected bool) error
	HealthCheck(ctx context.Context) error
}

var (
	_ Store = (*Repository)(nil)
	_ Store = (*MemoryStore)(nil)
)
