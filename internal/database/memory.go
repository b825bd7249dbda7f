package database

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"market-signal-engine/internal/ai/providers"
	"market-signal-engine/internal/ai/signal"
)

// MemoryStore is an in-process Store used when no database is configured
type MemoryStore struct {
	*providers.MemoryStore

	mu        sync.RWMutex
	signals   map[string]signal.MarketSignal
	decisions []AIDecision
	settings  *AISettings
	exchanges []string
}

// NewMemoryStore creates a MemoryStore reporting the given exchanges as
// connected
func NewMemoryStore(exchanges ...string) *MemoryStore {
	names := make([]string, 0, len(exchanges))
	for _, e := range exchanges {
		names = append(names, strings.ToLower(e))
	}
	sort.Strings(names)
	return &MemoryStore{
		MemoryStore: providers.NewMemoryStore(),
		signals:     make(map[string]signal.MarketSignal),
		settings:    DefaultSettings(),
		exchanges:   names,
	}
}

func signalKey(symbol, exchange string) string {
	return exchange + "|" + symbol
}

// HealthCheck always succeeds
func (m *MemoryStore) HealthCheck(_ context.Context) error { return nil }

// UpsertSignal stores s keyed by symbol and exchange
func (m *MemoryStore) UpsertSignal(_ context.Context, s *signal.MarketSignal) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.signals[signalKey(s.Symbol, s.Exchange)] = *s
	return nil
}

// DeleteSignalsOlderThan purges signals created before cutoff
func (m *MemoryStore) DeleteSignalsOlderThan(_ context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var n int64
	for k, s := range m.signals {
		if s.CreatedAt.Before(cutoff) {
			delete(m.signals, k)
			n++
		}
	}
	return n, nil
}

// ListSignals returns the newest signals matching filter
func (m *MemoryStore) ListSignals(_ context.Context, filter SignalFilter) ([]signal.MarketSignal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]signal.MarketSignal, 0, len(m.signals))
	for _, s := range m.signals {
		if filter.Exchange != "" && s.Exchange != filter.Exchange {
			continue
		}
		if filter.Sentiment != "" && s.Sentiment != filter.Sentiment {
			continue
		}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return signalKey(out[i].Symbol, out[i].Exchange) < signalKey(out[j].Symbol, out[j].Exchange)
	})
	if limit := filter.limit(); len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// InsertAIDecision appends an audit row
func (m *MemoryStore) InsertAIDecision(_ context.Context, d *AIDecision) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.decisions = append(m.decisions, *d)
	return nil
}

// Decisions returns a copy of the audit rows
func (m *MemoryStore) Decisions() []AIDecision {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return append([]AIDecision(nil), m.decisions...)
}

// GetSettings returns a copy of the current settings
func (m *MemoryStore) GetSettings(_ context.Context) (*AISettings, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s := *m.settings
	return &s, nil
}

// SaveSettings replaces the settings
func (m *MemoryStore) SaveSettings(_ context.Context, s *AISettings) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c := *s
	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = time.Now().UTC()
	}
	m.settings = &c
	return nil
}

// ListConnectedExchanges returns the configured exchanges
func (m *MemoryStore) ListConnectedExchanges(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return append([]string(nil), m.exchanges...), nil
}

// SetExchangeConnected adds or removes exchange from the connected list
func (m *MemoryStore) SetExchangeConnected(_ context.Context, exchange string, connected bool) error {
	name := strings.ToLower(strings.TrimSpace(exchange))

	m.mu.Lock()
	defer m.mu.Unlock()

	names := make([]string, 0, len(m.exchanges)+1)
	for _, e := range m.exchanges {
		if e != name {
			names = append(names, e)
		}
	}
	if connected {
		names = append(names, name)
		sort.Strings(names)
	}
	m.exchanges = names
	return nil
}
