package exchange

import (
	"context"
	"fmt"
	"net/url"
)

const kucoinBaseURL = "https://api.kucoin.com"

// KuCoin reads spot tickers from the KuCoin market API. Symbols are dashed
// (BTC-USDT).
type KuCoin struct {
	rest restClient
}

// NewKuCoin creates a KuCoin adapter
func NewKuCoin(opts ...Option) *KuCoin {
	return &KuCoin{rest: newRESTClient("kucoin", buildOptions(kucoinBaseURL, opts))}
}

type kucoinTicker struct {
	Symbol     string `json:"symbol"`
	Last       string `json:"last"`
	ChangeRate string `json:"changeRate"` // fraction
	High       string `json:"high"`
	Low        string `json:"low"`
	VolValue   string `json:"volValue"` // quote currency volume
}

func (t kucoinTicker) ticker() Ticker {
	return Ticker{
		Symbol:      NormalizeSymbol(t.Symbol),
		Price:       parseFloat(t.Last),
		Change24h:   parseFloat(t.ChangeRate) * 100,
		High24h:     parseFloat(t.High),
		Low24h:      parseFloat(t.Low),
		QuoteVolume: parseFloat(t.VolValue),
	}
}

type kucoinAllTickersResponse struct {
	Code string `json:"code"`
	Msg  string `json:"msg"`
	Data struct {
		Ticker []kucoinTicker `json:"ticker"`
	} `json:"data"`
}

type kucoinStatsResponse struct {
	Code string       `json:"code"`
	Msg  string       `json:"msg"`
	Data kucoinTicker `json:"data"`
}

// kucoinOK is the success code KuCoin puts in every envelope
const kucoinOK = "200000"

func (k *KuCoin) Name() string { return "kucoin" }

// TopPairs returns the n USDT pairs with the highest 24h quote volume
func (k *KuCoin) TopPairs(ctx context.Context, n int) ([]string, error) {
	var resp kucoinAllTickersResponse
	if err := k.rest.getJSON(ctx, "/api/v1/market/allTickers", &resp); err != nil {
		return nil, err
	}
	if resp.Code != kucoinOK {
		return nil, fmt.Errorf("kucoin API error: %s %s", resp.Code, resp.Msg)
	}

	tickers := make([]Ticker, len(resp.Data.Ticker))
	for i, t := range resp.Data.Ticker {
		tickers[i] = t.ticker()
	}
	return topByVolume(tickers, n), nil
}

// Price returns the 24h stats of symbol
func (k *KuCoin) Price(ctx context.Context, symbol string) (*Ticker, error) {
	params := url.Values{}
	params.Set("symbol", DashedSymbol(symbol))

	var resp kucoinStatsResponse
	if err := k.rest.getJSON(ctx, "/api/v1/market/stats?"+params.Encode(), &resp); err != nil {
		return nil, err
	}
	if resp.Code != kucoinOK {
		return nil, fmt.Errorf("kucoin API error: %s %s", resp.Code, resp.Msg)
	}
	t := resp.Data.ticker()
	if t.Price <= 0 {
		return nil, fmt.Errorf("kucoin returned no price for %s", symbol)
	}
	return &t, nil
}
