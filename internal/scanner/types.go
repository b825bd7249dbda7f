package scanner

import (
	"context"
	"errors"
	"time"

	"market-signal-engine/config"
	"market-signal-engine/internal/ai/providers"
	"market-signal-engine/internal/ai/rotation"
	"market-signal-engine/internal/exchange"
)

var (
	// ErrScanInProgress rejects a scan while another one runs
	ErrScanInProgress = errors.New("market scan already in progress")
	// ErrInvalidSymbol rejects an empty or malformed symbol
	ErrInvalidSymbol = errors.New("invalid symbol")
	// ErrNoPrice means the exchange returned no usable ticker
	ErrNoPrice = errors.New("price unavailable")
	// ErrNoSignal means the rotation ended without content
	ErrNoSignal = errors.New("no signal produced")
	// ErrUnparseable means the provider returned empty text
	ErrUnparseable = errors.New("response not interpretable as a signal")
)

// skippable reports whether err only affects the current pair
func skippable(err error) bool {
	return errors.Is(err, ErrNoPrice) || errors.Is(err, ErrNoSignal) || errors.Is(err, ErrUnparseable)
}

// Analyzer runs one rotation
type Analyzer interface {
	Analyze(ctx context.Context, req rotation.Request) (*rotation.Outcome, error)
}

// ProviderPool is the registry view the scanner needs
type ProviderPool interface {
	Refresh(ctx context.Context) ([]providers.Record, error)
	Capacity(ctx context.Context) (*providers.Capacity, error)
}

// Exchanges resolves exchange adapters by name
type Exchanges interface {
	Get(name string) (exchange.Exchange, error)
}

// Metrics receives scan telemetry
type Metrics interface {
	ObserveSignal(exchange, sentiment string)
	ObserveScanError(exchange string)
	ObserveScan(result string, d time.Duration)
}

type nopMetrics struct{}

func (nopMetrics) ObserveSignal(string, string)      {}
func (nopMetrics) ObserveScanError(string)           {}
func (nopMetrics) ObserveScan(string, time.Duration) {}

// Config holds scanner settings
type Config struct {
	Enabled      bool          // run the scheduled loop
	Interval     time.Duration // between scheduled scans
	Pacing       time.Duration // between pairs; zero disables pacing
	Retention    time.Duration // signals older than this are purged
	TopPairs     int
	DefaultPairs []string
	Exchanges    []string // used when no exchange is connected
}

// DefaultConfig returns the standard scanner settings
func DefaultConfig() Config {
	return Config{
		Interval:     5 * time.Minute,
		Pacing:       200 * time.Millisecond,
		Retention:    30 * time.Minute,
		TopPairs:     10,
		DefaultPairs: config.DefaultPairs(),
		Exchanges:    []string{"binance"},
	}
}

// ConfigFromSettings converts the scanner configuration section
func ConfigFromSettings(c config.ScannerConfig) Config {
	cfg := DefaultConfig()
	cfg.Enabled = c.Enabled
	if c.Interval > 0 {
		cfg.Interval = time.Duration(c.Interval) * time.Second
	}
	switch {
	case c.PacingMillis > 0:
		cfg.Pacing = time.Duration(c.PacingMillis) * time.Millisecond
	case c.PacingMillis < 0:
		cfg.Pacing = 0
	}
	if c.RetentionMinutes > 0 {
		cfg.Retention = time.Duration(c.RetentionMinutes) * time.Minute
	}
	if c.TopPairs > 0 {
		cfg.TopPairs = c.TopPairs
	}
	if len(c.DefaultPairs) > 0 {
		cfg.DefaultPairs = c.DefaultPairs
	}
	if len(c.Exchanges) > 0 {
		cfg.Exchanges = c.Exchanges
	}
	return cfg
}

// Summary aggregates one scan
type Summary struct {
	ScanID          string         `json:"scan_id"`
	StartedAt       time.Time      `json:"started_at"`
	Duration        time.Duration  `json:"duration"`
	Analyzed        int            `json:"analyzed"`
	Errors          int            `json:"errors"`
	Purged          int64          `json:"purged"`
	PerExchange     map[string]int `json:"per_exchange"`
	ProvidersUsed   []string       `json:"providers_used"`
	Unavailable     bool           `json:"unavailable,omitempty"`
	NextAvailableAt *time.Time     `json:"next_available_at,omitempty"`
	Reason          string         `json:"reason,omitempty"`
}
