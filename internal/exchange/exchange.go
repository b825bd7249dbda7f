package exchange

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"strings"
	"time"
)

// ErrUnknownExchange is returned for an exchange with no adapter
var ErrUnknownExchange = errors.New("unknown exchange")

// QuoteAsset is the quote currency every scanned pair is normalized to
const QuoteAsset = "USDT"

// Ticker is the 24h market snapshot of one pair
type Ticker struct {
	Symbol      string  `json:"symbol"` // normalized, e.g. BTCUSDT
	Price       float64 `json:"price"`
	Change24h   float64 `json:"change_24h"` // percent
	High24h     float64 `json:"high_24h"`
	Low24h      float64 `json:"low_24h"`
	QuoteVolume float64 `json:"quote_volume"`
}

// TopPairsFetcher lists the most traded pairs of an exchange
type TopPairsFetcher interface {
	TopPairs(ctx context.Context, n int) ([]string, error)
}

// PriceFetcher returns the current ticker of one pair
type PriceFetcher interface {
	Price(ctx context.Context, symbol string) (*Ticker, error)
}

// Exchange is a read-only market data adapter
type Exchange interface {
	Name() string
	TopPairsFetcher
	PriceFetcher
}

// RetryConfig holds retry configuration parameters for REST fetches
type RetryConfig struct {
	InitialDelay  time.Duration // e.g., 200ms
	MaxDelay      time.Duration // e.g., 2 seconds
	MaxRetries    int           // attempts after the first
	BackoffFactor float64       // e.g., 2.0 (exponential)
	Jitter        bool          // Add randomization to prevent thundering herd
}

// DefaultRetryConfig returns the retry policy used for ticker fetches
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		InitialDelay:  200 * time.Millisecond,
		MaxDelay:      2 * time.Second,
		MaxRetries:    2,
		BackoffFactor: 2.0,
		Jitter:        true,
	}
}

// Option configures an adapter
type Option func(*options)

type options struct {
	baseURL    string
	httpClient *http.Client
	retry      RetryConfig
}

// WithBaseURL overrides the REST base URL
func WithBaseURL(u string) Option {
	return func(o *options) { o.baseURL = strings.TrimRight(u, "/") }
}

// WithHTTPClient sets the HTTP client
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) {
		if c != nil {
			o.httpClient = c
		}
	}
}

// WithRetryConfig sets the retry policy
func WithRetryConfig(r RetryConfig) Option {
	return func(o *options) { o.retry = r }
}

func buildOptions(defaultBase string, opts []Option) options {
	o := options{
		baseURL:    defaultBase,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		retry:      DefaultRetryConfig(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// NormalizeSymbol turns BTC-USDT, btc/usdt or BTC_USDT into BTCUSDT
func NormalizeSymbol(s string) string {
	r := strings.NewReplacer("-", "", "/", "", "_", "")
	return strings.ToUpper(r.Replace(strings.TrimSpace(s)))
}

// DashedSymbol turns BTCUSDT into BTC-USDT for exchanges that want a separator
func DashedSymbol(s string) string {
	s = NormalizeSymbol(s)
	if strings.HasSuffix(s, QuoteAsset) && len(s) > len(QuoteAsset) {
		return s[:len(s)-len(QuoteAsset)] + "-" + QuoteAsset
	}
	return s
}

// leveraged token suffixes that never make sense to scan
var leveragedSuffixes = []string{"UPUSDT", "DOWNUSDT", "BULLUSDT", "BEARUSDT", "3LUSDT", "3SUSDT"}

func tradeable(symbol string) bool {
	if !strings.HasSuffix(symbol, QuoteAsset) || symbol == QuoteAsset {
		return false
	}
	for _, suffix := range leveragedSuffixes {
		if strings.HasSuffix(symbol, suffix) {
			return false
		}
	}
	return true
}

// topByVolume keeps tradeable USDT pairs and returns the n with the highest
// quote volume
func topByVolume(tickers []Ticker, n int) []string {
	filtered := make([]Ticker, 0, len(tickers))
	for _, t := range tickers {
		if tradeable(t.Symbol) && t.Price > 0 {
			filtered = append(filtered, t)
		}
	}
	sort.SliceStable(filtered, func(i, j int) bool {
		return filtered[i].QuoteVolume > filtered[j].QuoteVolume
	})
	if n > 0 && len(filtered) > n {
		filtered = filtered[:n]
	}
	out := make([]string, len(filtered))
	for i, t := range filtered {
		out[i] = t.Symbol
	}
	return out
}
