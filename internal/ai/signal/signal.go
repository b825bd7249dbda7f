package signal

import (
	"math"
	"strings"
	"time"
	"unicode/utf8"
)

const (
	SentimentBullish = "BULLISH"
	SentimentBearish = "BEARISH"
	SentimentNeutral = "NEUTRAL"

	SideLong  = "long"
	SideShort = "short"
)

// Value domains of a normalized signal
const (
	MinConfidence      = 50
	MaxConfidence      = 95
	MinExpectedMovePct = 0.1
	MaxExpectedMovePct = 2.0
	MaxInsightLength   = 500

	// Support and resistance fall back to these multiples of the price
	DefaultSupportRatio    = 0.98
	DefaultResistanceRatio = 1.02
)

var validTimeframes = map[int]bool{1: true, 3: true, 5: true}

// Normalize coerces every field into its valid domain
func (f *Fields) Normalize() {
	switch s := strings.ToUpper(strings.TrimSpace(f.Sentiment)); s {
	case SentimentBullish, SentimentBearish, SentimentNeutral:
		f.Sentiment = s
	default:
		f.Sentiment = SentimentNeutral
	}

	if f.Confidence < MinConfidence {
		f.Confidence = MinConfidence
	} else if f.Confidence > MaxConfidence {
		f.Confidence = MaxConfidence
	}

	if !validTimeframes[f.ProfitTimeframeMinutes] {
		f.ProfitTimeframeMinutes = DefaultTimeframe
	}

	switch side := strings.ToLower(strings.TrimSpace(f.RecommendedSide)); side {
	case SideLong, SideShort:
		f.RecommendedSide = side
	default:
		if f.Sentiment == SentimentBearish {
			f.RecommendedSide = SideShort
		} else {
			f.RecommendedSide = SideLong
		}
	}

	// Direction lives in RecommendedSide; the move is a magnitude
	move := math.Abs(f.ExpectedMovePercent)
	if math.IsNaN(move) || move < MinExpectedMovePct {
		move = MinExpectedMovePct
	} else if move > MaxExpectedMovePct {
		move = MaxExpectedMovePct
	}
	f.ExpectedMovePercent = move

	if f.SupportLevel < 0 || math.IsNaN(f.SupportLevel) {
		f.SupportLevel = 0
	}
	if f.ResistanceLevel < 0 || math.IsNaN(f.ResistanceLevel) {
		f.ResistanceLevel = 0
	}

	f.Insight = truncate(strings.TrimSpace(f.Insight), MaxInsightLength)
}

// truncate cuts s to at most n bytes without splitting a UTF-8 sequence
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

// MarketSignal is the live signal for one (symbol, exchange) pair
type MarketSignal struct {
	Symbol                 string    `json:"symbol"`
	Exchange               string    `json:"exchange"`
	Sentiment              string    `json:"sentiment"`
	Confidence             int       `json:"confidence"`
	Insight                string    `json:"insight"`
	Price                  float64   `json:"price"`
	Change24h              float64   `json:"change_24h"`
	SupportLevel           float64   `json:"support_level"`
	ResistanceLevel        float64   `json:"resistance_level"`
	ProfitTimeframeMinutes int       `json:"profit_timeframe_minutes"`
	RecommendedSide        string    `json:"recommended_side"`
	ExpectedMovePercent    float64   `json:"expected_move_percent"`
	ProviderUsed           string    `json:"provider_used"`
	ParseTier              Tier      `json:"parse_tier"`
	Defaulted              bool      `json:"defaulted"`
	CreatedAt              time.Time `json:"created_at"`
}

// Build normalizes f and combines it with the market context into a signal.
// Missing support and resistance default to 2% either side of the price.
func Build(f *Fields, m MarketContext, provider string, now time.Time) MarketSignal {
	f.Normalize()

	support := f.SupportLevel
	if support == 0 && m.Price > 0 {
		support = m.Price * DefaultSupportRatio
	}
	resistance := f.ResistanceLevel
	if resistance == 0 && m.Price > 0 {
		resistance = m.Price * DefaultResistanceRatio
	}

	return MarketSignal{
		Symbol:                 m.Symbol,
		Exchange:               m.Exchange,
		Sentiment:              f.Sentiment,
		Confidence:             f.Confidence,
		Insight:                f.Insight,
		Price:                  m.Price,
		Change24h:              m.Change24h,
		SupportLevel:           support,
		ResistanceLevel:        resistance,
		ProfitTimeframeMinutes: f.ProfitTimeframeMinutes,
		RecommendedSide:        f.RecommendedSide,
		ExpectedMovePercent:    f.ExpectedMovePercent,
		ProviderUsed:           provider,
		ParseTier:              f.Tier,
		Defaulted:              f.Defaulted,
		CreatedAt:              now,
	}
}
