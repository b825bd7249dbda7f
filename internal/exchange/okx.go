package exchange

import (
	"context"
	"fmt"
	"net/url"
)

const okxBaseURL = "https://www.okx.com"

// OKX reads spot tickers from the OKX v5 market API. Instruments are dashed
// (BTC-USDT).
type OKX struct {
	rest restClient
}

// NewOKX creates an OKX adapter
func NewOKX(opts ...Option) *OKX {
	return &OKX{rest: newRESTClient("okx", buildOptions(okxBaseURL, opts))}
}

type okxResponse struct {
	Code string      `json:"code"`
	Msg  string      `json:"msg"`
	Data []okxTicker `json:"data"`
}

type okxTicker struct {
	InstID   string `json:"instId"`
	Last     string `json:"last"`
	Open24h  string `json:"open24h"`
	High24h  string `json:"high24h"`
	Low24h   string `json:"low24h"`
	VolCcy24 string `json:"volCcy24h"` // quote currency volume for spot
}

func (t okxTicker) ticker() Ticker {
	last := parseFloat(t.Last)
	open := parseFloat(t.Open24h)
	change := 0.0
	if open > 0 {
		change = (last - open) / open * 100
	}
	return Ticker{
		Symbol:      NormalizeSymbol(t.InstID),
		Price:       last,
		Change24h:   change,
		High24h:     parseFloat(t.High24h),
		Low24h:      parseFloat(t.Low24h),
		QuoteVolume: parseFloat(t.VolCcy24),
	}
}

func (o *OKX) Name() string { return "okx" }

func (o *OKX) fetch(ctx context.Context, path string) ([]okxTicker, error) {
	var resp okxResponse
	if err := o.rest.getJSON(ctx, path, &resp); err != nil {
		return nil, err
	}
	if resp.Code != "0" {
		return nil, fmt.Errorf("okx API error: %s %s", resp.Code, resp.Msg)
	}
	return resp.Data, nil
}

// TopPairs returns the n USDT pairs with the highest 24h quote volume
func (o *OKX) TopPairs(ctx context.Context, n int) ([]string, error) {
	data, err := o.fetch(ctx, "/api/v5/market/tickers?instType=SPOT")
	if err != nil {
		return nil, err
	}
	tickers := make([]Ticker, len(data))
	for i, t := range data {
		tickers[i] = t.ticker()
	}
	return topByVolume(tickers, n), nil
}

// Price returns the 24h ticker of symbol
func (o *OKX) Price(ctx context.Context, symbol string) (*Ticker, error) {
	params := url.Values{}
	params.Set("instId", DashedSymbol(symbol))

	data, err := o.fetch(ctx, "/api/v5/market/ticker?"+params.Encode())
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("okx returned no ticker for %s", symbol)
	}
	t := data[0].ticker()
	return &t, nil
}
