package scanner

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"market-signal-engine/internal/ai/rotation"
	"market-signal-engine/internal/ai/signal"
	"market-signal-engine/internal/cache"
	"market-signal-engine/internal/database"
	"market-signal-engine/internal/events"
	"market-signal-engine/internal/exchange"
	"market-signal-engine/internal/logging"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// Scanner drives market scans: exchanges × top pairs, one rotation per pair
type Scanner struct {
	store     database.Store
	pool      ProviderPool
	analyzer  Analyzer
	exchanges Exchanges
	prices    *cache.PriceCache
	bus       *events.EventBus
	metrics   Metrics
	clock     clock.Clock
	config    Config
	logger    *logging.Logger

	running sync.Mutex // held for the duration of a scan

	stopChan    chan struct{}
	wg          sync.WaitGroup
	mu          sync.RWMutex
	lastSummary *Summary
}

// Option configures a Scanner
type Option func(*Scanner)

// WithClock injects the time source
func WithClock(c clock.Clock) Option {
	return func(s *Scanner) { s.clock = c }
}

// WithEventBus publishes signal and scan events
func WithEventBus(bus *events.EventBus) Option {
	return func(s *Scanner) { s.bus = bus }
}

// WithMetrics attaches a metrics recorder
func WithMetrics(m Metrics) Option {
	return func(s *Scanner) {
		if m != nil {
			s.metrics = m
		}
	}
}

// WithPriceCache replaces the default in-process price cache
func WithPriceCache(pc *cache.PriceCache) Option {
	return func(s *Scanner) { s.prices = pc }
}

// WithLogger overrides the component logger
func WithLogger(l *logging.Logger) Option {
	return func(s *Scanner) { s.logger = l }
}

// NewScanner creates a scanner
func NewScanner(store database.Store, pool ProviderPool, analyzer Analyzer, exchanges Exchanges, cfg Config, opts ...Option) *Scanner {
	s := &Scanner{
		store:     store,
		pool:      pool,
		analyzer:  analyzer,
		exchanges: exchanges,
		metrics:   nopMetrics{},
		clock:     clock.New(),
		config:    cfg,
		logger:    logging.WithComponent("scanner"),
		stopChan:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.prices == nil {
		s.prices = cache.NewPriceCache(nil, cache.DefaultPriceTTL, s.clock)
	}
	return s
}

// Run performs one full scan. A scan already in progress yields
// ErrScanInProgress. Capacity exhaustion is reported in the summary, not as
// an error. Only store failures and cancellation are returned as errors;
// signals persisted before the failure remain.
func (s *Scanner) Run(ctx context.Context) (*Summary, error) {
	if !s.running.TryLock() {
		return nil, ErrScanInProgress
	}
	defer s.running.Unlock()

	start := s.clock.Now()
	summary := &Summary{
		ScanID:        uuid.New().String(),
		StartedAt:     start.UTC(),
		PerExchange:   make(map[string]int),
		ProvidersUsed: []string{},
	}
	log := logging.ScanContext(summary.ScanID)
	ctx = logging.NewContext(ctx, log)

	result, err := s.run(ctx, summary)
	summary.Duration = s.clock.Since(start)
	s.metrics.ObserveScan(result, summary.Duration)

	s.mu.Lock()
	s.lastSummary = summary
	s.mu.Unlock()

	if err != nil {
		log.WithError(err).Error("Market scan failed", "analyzed", summary.Analyzed, "errors", summary.Errors)
		s.bus.PublishError("scanner", err.Error())
		return summary, err
	}
	if !summary.Unavailable {
		log.Info("Market scan completed",
			"analyzed", summary.Analyzed,
			"errors", summary.Errors,
			"providers", summary.ProvidersUsed,
			"duration_ms", summary.Duration.Milliseconds())
		s.bus.PublishScanCompleted(summary.ScanID, summary)
	}
	return summary, nil
}

func (s *Scanner) run(ctx context.Context, summary *Summary) (string, error) {
	log := logging.FromContext(ctx)

	if _, err := s.pool.Refresh(ctx); err != nil {
		return "failed", fmt.Errorf("failed to refresh providers: %w", err)
	}

	capacity, err := s.pool.Capacity(ctx)
	if err != nil {
		return "failed", fmt.Errorf("failed to check provider capacity: %w", err)
	}
	if !capacity.Available() {
		summary.Unavailable = true
		summary.NextAvailableAt = capacity.NextAvailableAt
		summary.Reason = "all providers are rate limited or unavailable"
		if capacity.NextAvailableAt != nil {
			s.bus.PublishScanUnavailable(*capacity.NextAvailableAt)
		}
		log.Warn("Market scan skipped: no provider capacity", "next_available_at", capacity.NextAvailableAt)
		return "unavailable", nil
	}

	exchanges, err := s.connectedExchanges(ctx)
	if err != nil {
		return "failed", err
	}
	s.bus.PublishScanStarted(summary.ScanID, exchanges)

	purged, err := s.store.DeleteSignalsOlderThan(ctx, s.clock.Now().Add(-s.config.Retention))
	if err != nil {
		return "failed", err
	}
	summary.Purged = purged
	if n := s.prices.Purge(); n > 0 {
		log.Debug("Dropped expired prices", "count", n)
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if s.config.Pacing > 0 {
		limiter = rate.NewLimiter(rate.Every(s.config.Pacing), 1)
	}

	used := make(map[string]bool)
	for _, name := range exchanges {
		adapter, err := s.exchanges.Get(name)
		if err != nil {
			log.Warn("Skipping unsupported exchange", "exchange", name)
			continue
		}

		for _, symbol := range s.topPairs(ctx, adapter) {
			if err := limiter.Wait(ctx); err != nil {
				return "failed", err
			}

			sig, err := s.analyzePair(ctx, summary.ScanID, adapter, symbol)
			if err != nil {
				if !skippable(err) {
					return "failed", err
				}
				summary.Errors++
				s.metrics.ObserveScanError(adapter.Name())
				log.Debug("Pair skipped", "exchange", adapter.Name(), "symbol", symbol, "reason", err)
				continue
			}

			summary.Analyzed++
			summary.PerExchange[adapter.Name()]++
			used[sig.ProviderUsed] = true
		}
	}

	for name := range used {
		summary.ProvidersUsed = append(summary.ProvidersUsed, name)
	}
	sort.Strings(summary.ProvidersUsed)
	return "completed", nil
}

// connectedExchanges falls back to the configured list when none are connected
func (s *Scanner) connectedExchanges(ctx context.Context) ([]string, error) {
	names, err := s.store.ListConnectedExchanges(ctx)
	if err != nil {
		return nil, err
	}
	if len(names) == 0 {
		names = s.config.Exchanges
	}
	return names, nil
}

// topPairs substitutes the default list when the exchange query fails
func (s *Scanner) topPairs(ctx context.Context, adapter exchange.Exchange) []string {
	pairs, err := adapter.TopPairs(ctx, s.config.TopPairs)
	if err != nil || len(pairs) == 0 {
		logging.FromContext(ctx).Warn("Using default pairs", "exchange", adapter.Name(), "error", err)
		pairs = s.config.DefaultPairs
	}
	if len(pairs) > s.config.TopPairs && s.config.TopPairs > 0 {
		pairs = pairs[:s.config.TopPairs]
	}
	return pairs
}

func (s *Scanner) marketContext(ctx context.Context, adapter exchange.Exchange, symbol string) (signal.MarketContext, error) {
	ticker, err := s.prices.Price(ctx, adapter, adapter.Name(), symbol)
	if err != nil {
		if ctx.Err() != nil {
			return signal.MarketContext{}, ctx.Err()
		}
		return signal.MarketContext{}, fmt.Errorf("%w: %s %s: %v", ErrNoPrice, adapter.Name(), symbol, err)
	}
	if ticker.Price <= 0 {
		return signal.MarketContext{}, fmt.Errorf("%w: %s %s", ErrNoPrice, adapter.Name(), symbol)
	}
	return signal.MarketContext{
		Symbol:    exchange.NormalizeSymbol(symbol),
		Exchange:  adapter.Name(),
		Price:     ticker.Price,
		Change24h: ticker.Change24h,
		High24h:   ticker.High24h,
		Low24h:    ticker.Low24h,
		Volume24h: ticker.QuoteVolume,
	}, nil
}

// analyzePair runs one compact analysis and persists the signal
func (s *Scanner) analyzePair(ctx context.Context, scanID string, adapter exchange.Exchange, symbol string) (*signal.MarketSignal, error) {
	m, err := s.marketContext(ctx, adapter, symbol)
	if err != nil {
		return nil, err
	}

	outcome, err := s.analyzer.Analyze(ctx, rotation.Request{
		Prompt:       signal.BuildScanPrompt(m),
		SystemPrompt: signal.SystemPromptScan,
		Fast:         true,
	})
	if err != nil {
		return nil, err
	}
	return s.persist(ctx, scanID, m, outcome)
}

func (s *Scanner) persist(ctx context.Context, scanID string, m signal.MarketContext, outcome *rotation.Outcome) (*signal.MarketSignal, error) {
	if !outcome.Succeeded() {
		return nil, fmt.Errorf("%w: %s %s (%s)", ErrNoSignal, m.Exchange, m.Symbol, outcome.State)
	}

	fields, ok := signal.Extract(outcome.Content)
	if !ok {
		return nil, fmt.Errorf("%w: %s %s", ErrUnparseable, m.Exchange, m.Symbol)
	}

	sig := signal.Build(fields, m, outcome.Provider, s.clock.Now().UTC())
	if err := s.store.UpsertSignal(ctx, &sig); err != nil {
		return nil, err
	}
	if err := s.store.InsertAIDecision(ctx, database.NewAIDecision(scanID, &sig)); err != nil {
		return nil, err
	}

	if sig.Defaulted {
		logging.FromContext(ctx).Warn("Signal built from defaults", "exchange", sig.Exchange, "symbol", sig.Symbol, "provider", sig.ProviderUsed)
	}
	s.metrics.ObserveSignal(sig.Exchange, sig.Sentiment)
	s.bus.PublishSignalUpdate(&sig)
	return &sig, nil
}

// SetExchangeConnected adds or removes a supported exchange from the scan set
// and returns the exchanges scans will now cover
func (s *Scanner) SetExchangeConnected(ctx context.Context, name string, connected bool) ([]string, error) {
	adapter, err := s.exchanges.Get(name)
	if err != nil {
		return nil, err
	}
	if err := s.store.SetExchangeConnected(ctx, adapter.Name(), connected); err != nil {
		return nil, err
	}
	s.logger.Info("Exchange connection updated", "exchange", adapter.Name(), "connected", connected)
	return s.connectedExchanges(ctx)
}

// AnalyzeSymbol runs a full analysis of one symbol, honouring the saved
// provider preference. The outcome is returned even when no signal was
// produced so callers can report the attempts.
func (s *Scanner) AnalyzeSymbol(ctx context.Context, symbol, exchangeName, notes string) (*signal.MarketSignal, *rotation.Outcome, error) {
	symbol = exchange.NormalizeSymbol(symbol)
	if len(symbol) < 5 {
		return nil, nil, fmt.Errorf("%w: %q", ErrInvalidSymbol, symbol)
	}
	if exchangeName == "" && len(s.config.Exchanges) > 0 {
		exchangeName = s.config.Exchanges[0]
	}

	adapter, err := s.exchanges.Get(exchangeName)
	if err != nil {
		return nil, nil, err
	}

	ctx = logging.NewContext(ctx, logging.SignalContext(symbol, adapter.Name()))

	if _, err := s.pool.Refresh(ctx); err != nil {
		return nil, nil, fmt.Errorf("failed to refresh providers: %w", err)
	}

	m, err := s.marketContext(ctx, adapter, symbol)
	if err != nil {
		return nil, nil, err
	}

	settings, err := s.store.GetSettings(ctx)
	if err != nil {
		return nil, nil, err
	}

	outcome, err := s.analyzer.Analyze(ctx, rotation.Request{
		Prompt:       signal.BuildAnalysisPrompt(m, notes),
		SystemPrompt: signal.SystemPromptAnalysis,
		Preferred:    settings.ActiveProvider,
	})
	if err != nil {
		return nil, nil, err
	}

	sig, err := s.persist(ctx, "", m, outcome)
	return sig, outcome, err
}

// LastSummary returns the most recent scan summary, if any
func (s *Scanner) LastSummary() *Summary {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastSummary
}

// Start begins the scheduled scan loop
func (s *Scanner) Start() {
	if !s.config.Enabled {
		s.logger.Info("Scheduled market scans are disabled")
		return
	}

	ticker := s.clock.Ticker(s.config.Interval)
	s.wg.Add(1)
	go s.runScanLoop(ticker)
	s.logger.Info("Scheduled market scans started", "interval", s.config.Interval.String())
}

// runScanLoop runs a scan every interval while scans are enabled in settings
func (s *Scanner) runScanLoop(ticker *clock.Ticker) {
	defer s.wg.Done()
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.scheduledScan()
		case <-s.stopChan:
			return
		}
	}
}

func (s *Scanner) scheduledScan() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Stop aborts an in-flight scheduled scan between pairs
	go func() {
		select {
		case <-s.stopChan:
			cancel()
		case <-ctx.Done():
		}
	}()

	settings, err := s.store.GetSettings(ctx)
	if err != nil {
		s.logger.WithError(err).Warn("Failed to read settings for scheduled scan")
		return
	}
	if !settings.ScanEnabled {
		return
	}

	if _, err := s.Run(ctx); err != nil && !errors.Is(err, ErrScanInProgress) && !errors.Is(err, context.Canceled) {
		s.logger.WithError(err).Error("Scheduled market scan failed")
	}
}

// Stop ends the scheduled loop and waits for it to exit
func (s *Scanner) Stop() {
	select {
	case <-s.stopChan:
		return
	default:
	}
	close(s.stopChan)
	s.wg.Wait()
	s.logger.Info("Scheduled market scans stopped")
}
