package exchange

import (
	"context"
	"fmt"
	"net/url"
)

const bybitBaseURL = "https://api.bybit.com"

// Bybit reads spot tickers from the Bybit v5 market API
type Bybit struct {
	rest restClient
}

// NewBybit creates a Bybit adapter
func NewBybit(opts ...Option) *Bybit {
	return &Bybit{rest: newRESTClient("bybit", buildOptions(bybitBaseURL, opts))}
}

type bybitTickersResponse struct {
	RetCode int    `json:"retCode"`
	RetMsg  string `json:"retMsg"`
	Result  struct {
		List []bybitTicker `json:"list"`
	} `json:"result"`
}

type bybitTicker struct {
	Symbol       string `json:"symbol"`
	LastPrice    string `json:"lastPrice"`
	Price24hPcnt string `json:"price24hPcnt"` // fraction, 0.0123 = 1.23%
	HighPrice24h string `json:"highPrice24h"`
	LowPrice24h  string `json:"lowPrice24h"`
	Turnover24h  string `json:"turnover24h"`
}

func (t bybitTicker) ticker() Ticker {
	return Ticker{
		Symbol:      NormalizeSymbol(t.Symbol),
		Price:       parseFloat(t.LastPrice),
		Change24h:   parseFloat(t.Price24hPcnt) * 100,
		High24h:     parseFloat(t.HighPrice24h),
		Low24h:      parseFloat(t.LowPrice24h),
		QuoteVolume: parseFloat(t.Turnover24h),
	}
}

func (b *Bybit) Name() string { return "bybit" }

func (b *Bybit) fetch(ctx context.Context, symbol string) ([]bybitTicker, error) {
	params := url.Values{}
	params.Set("category", "spot")
	if symbol != "" {
		params.Set("symbol", NormalizeSymbol(symbol))
	}

	var resp bybitTickersResponse
	if err := b.rest.getJSON(ctx, "/v5/market/tickers?"+params.Encode(), &resp); err != nil {
		return nil, err
	}
	if resp.RetCode != 0 {
		return nil, fmt.Errorf("bybit API error: %d %s", resp.RetCode, resp.RetMsg)
	}
	return resp.Result.List, nil
}

// TopPairs returns the n USDT pairs with the highest 24h turnover
func (b *Bybit) TopPairs(ctx context.Context, n int) ([]string, error) {
	list, err := b.fetch(ctx, "")
	if err != nil {
		return nil, err
	}
	tickers := make([]Ticker, len(list))
	for i, t := range list {
		tickers[i] = t.ticker()
	}
	return topByVolume(tickers, n), nil
}

// Price returns the 24h ticker of symbol
func (b *Bybit) Price(ctx context.Context, symbol string) (*Ticker, error) {
	list, err := b.fetch(ctx, symbol)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, fmt.Errorf("bybit returned no ticker for %s", symbol)
	}
	t := list[0].ticker()
	return &t, nil
}
