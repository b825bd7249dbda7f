package exchange

import (
	"context"
	"fmt"
	"net/url"
)

const binanceBaseURL = "https://api.binance.com"

// Binance reads spot tickers from the Binance REST API
type Binance struct {
	rest restClient
}

// NewBinance creates a Binance adapter
func NewBinance(opts ...Option) *Binance {
	return &Binance{rest: newRESTClient("binance", buildOptions(binanceBaseURL, opts))}
}

// binanceTicker is one /api/v3/ticker/24hr entry
type binanceTicker struct {
	Symbol             string `json:"symbol"`
	LastPrice          string `json:"lastPrice"`
	PriceChangePercent string `json:"priceChangePercent"`
	HighPrice          string `json:"highPrice"`
	LowPrice           string `json:"lowPrice"`
	QuoteVolume        string `json:"quoteVolume"`
}

func (t binanceTicker) ticker() Ticker {
	return Ticker{
		Symbol:      NormalizeSymbol(t.Symbol),
		Price:       parseFloat(t.LastPrice),
		Change24h:   parseFloat(t.PriceChangePercent),
		High24h:     parseFloat(t.HighPrice),
		Low24h:      parseFloat(t.LowPrice),
		QuoteVolume: parseFloat(t.QuoteVolume),
	}
}

func (b *Binance) Name() string { return "binance" }

// TopPairs returns the n USDT pairs with the highest 24h quote volume
func (b *Binance) TopPairs(ctx context.Context, n int) ([]string, error) {
	var raw []binanceTicker
	if err := b.rest.getJSON(ctx, "/api/v3/ticker/24hr", &raw); err != nil {
		return nil, err
	}

	tickers := make([]Ticker, len(raw))
	for i, t := range raw {
		tickers[i] = t.ticker()
	}
	return topByVolume(tickers, n), nil
}

// Price returns the 24h ticker of symbol
func (b *Binance) Price(ctx context.Context, symbol string) (*Ticker, error) {
	params := url.Values{}
	params.Set("symbol", NormalizeSymbol(symbol))

	var raw binanceTicker
	if err := b.rest.getJSON(ctx, "/api/v3/ticker/24hr?"+params.Encode(), &raw); err != nil {
		return nil, err
	}
	t := raw.ticker()
	if t.Price <= 0 {
		return nil, fmt.Errorf("binance returned no price for %s", symbol)
	}
	return &t, nil
}
