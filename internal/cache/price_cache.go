package cache

import (
	"context"
	"errors"
	"strings"
	"time"

	"market-signal-engine/internal/exchange"
	"market-signal-engine/internal/logging"

	"github.com/benbjohnson/clock"
)

// DefaultPriceTTL is how long a fetched ticker is reused
const DefaultPriceTTL = 5 * time.Second

// PriceCache caches exchange tickers, in Redis when available and always in
// process so a Redis outage never blocks a scan.
type PriceCache struct {
	redis  *CacheService
	local  *TTLCache[exchange.Ticker]
	ttl    time.Duration
	logger *logging.Logger
}

// NewPriceCache creates a price cache. redis may be nil.
func NewPriceCache(redis *CacheService, ttl time.Duration, clk clock.Clock) *PriceCache {
	if ttl <= 0 {
		ttl = DefaultPriceTTL
	}
	return &PriceCache{
		redis:  redis,
		local:  NewTTLCache[exchange.Ticker](ttl, clk),
		ttl:    ttl,
		logger: logging.WithComponent("price-cache"),
	}
}

func tickerKey(exchangeName, symbol string) string {
	return TickerKey(strings.ToLower(exchangeName), exchange.NormalizeSymbol(symbol))
}

// Get returns a cached ticker
func (pc *PriceCache) Get(ctx context.Context, exchangeName, symbol string) (*exchange.Ticker, bool) {
	key := tickerKey(exchangeName, symbol)

	if t, ok := pc.local.Get(key); ok {
		return &t, true
	}

	if pc.redis.IsHealthy() {
		var t exchange.Ticker
		err := pc.redis.GetJSON(ctx, key, &t)
		if err == nil {
			pc.local.Set(key, t)
			return &t, true
		}
		if !errors.Is(err, ErrMiss) {
			pc.logger.Debug("Redis ticker lookup failed", "key", key, "error", err)
		}
	}
	return nil, false
}

// Set stores a ticker
func (pc *PriceCache) Set(ctx context.Context, exchangeName, symbol string, t *exchange.Ticker) {
	if t == nil {
		return
	}
	key := tickerKey(exchangeName, symbol)
	pc.local.Set(key, *t)

	if pc.redis.IsHealthy() {
		if err := pc.redis.SetJSON(ctx, key, t, pc.ttl); err != nil {
			pc.logger.Debug("Redis ticker store failed", "key", key, "error", err)
		}
	}
}

// Price returns the ticker for symbol, fetching from the exchange on a miss
func (pc *PriceCache) Price(ctx context.Context, ex exchange.PriceFetcher, exchangeName, symbol string) (*exchange.Ticker, error) {
	if t, ok := pc.Get(ctx, exchangeName, symbol); ok {
		return t, nil
	}

	t, err := ex.Price(ctx, symbol)
	if err != nil {
		return nil, err
	}
	pc.Set(ctx, exchangeName, symbol, t)
	return t, nil
}

// Purge drops expired local entries
func (pc *PriceCache) Purge() int {
	return pc.local.CleanupExpired()
}
