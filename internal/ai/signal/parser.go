package signal

import (
	"encoding/json"
	"math"
	"regexp"
	"strconv"
	"strings"
)

// Tier identifies which extraction strategy produced the fields
type Tier string

const (
	TierStrict  Tier = "strict"
	TierCleanup Tier = "cleanup"
	TierRegex   Tier = "regex"
)

// Defaults used when the model omits a field
const (
	DefaultSentiment       = SentimentNeutral
	DefaultConfidence      = 70
	DefaultTimeframe       = 5
	DefaultSide            = SideLong
	DefaultExpectedMovePct = 0.25
)

// Fields are the signal values extracted from model output
type Fields struct {
	Sentiment              string  `json:"sentiment"`
	Confidence             int     `json:"confidence"`
	Insight                string  `json:"insight"`
	SupportLevel           float64 `json:"support_level"`
	ResistanceLevel        float64 `json:"resistance_level"`
	ProfitTimeframeMinutes int     `json:"profit_timeframe_minutes"`
	RecommendedSide        string  `json:"recommended_side"`
	ExpectedMovePercent    float64 `json:"expected_move_percent"`

	Tier      Tier `json:"parse_tier"`
	Defaulted bool `json:"defaulted"` // no expected field was found
}

func defaultFields() Fields {
	return Fields{
		Sentiment:              DefaultSentiment,
		Confidence:             DefaultConfidence,
		ProfitTimeframeMinutes: DefaultTimeframe,
		RecommendedSide:        DefaultSide,
		ExpectedMovePercent:    DefaultExpectedMovePct,
	}
}

var (
	objectSpan     = regexp.MustCompile(`(?s)\{.*\}`)
	bareKey        = regexp.MustCompile(`([{,]\s*)([A-Za-z_][A-Za-z0-9_]*)\s*:`)
	trailingCommas = regexp.MustCompile(`,\s*([}\]])`)
)

// field aliases accepted in JSON output, first is canonical
var fieldKeys = map[string][]string{
	"sentiment":                {"sentiment", "signal", "direction"},
	"confidence":               {"confidence", "confidence_score"},
	"insight":                  {"insight", "reasoning", "analysis"},
	"support_level":            {"support_level", "supportLevel", "support"},
	"resistance_level":         {"resistance_level", "resistanceLevel", "resistance"},
	"profit_timeframe_minutes": {"profit_timeframe_minutes", "profitTimeframeMinutes", "profit_timeframe", "timeframe_minutes"},
	"recommended_side":         {"recommended_side", "recommendedSide", "side"},
	"expected_move_percent":    {"expected_move_percent", "expectedMovePercent", "expected_move"},
}

var fieldPatterns = map[string]*regexp.Regexp{
	"sentiment":                regexp.MustCompile(`(?i)["']?sentiment["']?\s*[:=]\s*["']?(bullish|bearish|neutral)`),
	"confidence":               regexp.MustCompile(`(?i)["']?confidence["']?\s*[:=]\s*["']?(-?\d+(?:\.\d+)?)`),
	"insight":                  regexp.MustCompile(`(?i)["']?insight["']?\s*[:=]\s*["']([^"'\n]*)`),
	"support_level":            regexp.MustCompile(`(?i)["']?support(?:_level|level)?["']?\s*[:=]\s*["']?(-?\d+(?:\.\d+)?)`),
	"resistance_level":         regexp.MustCompile(`(?i)["']?resistance(?:_level|level)?["']?\s*[:=]\s*["']?(-?\d+(?:\.\d+)?)`),
	"profit_timeframe_minutes": regexp.MustCompile(`(?i)["']?profit_?timeframe(?:_?minutes)?["']?\s*[:=]\s*["']?(\d+)`),
	"recommended_side":         regexp.MustCompile(`(?i)["']?recommended_?side["']?\s*[:=]\s*["']?(long|short)`),
	"expected_move_percent":    regexp.MustCompile(`(?i)["']?expected_?move(?:_?percent)?["']?\s*[:=]\s*["']?(-?\d+(?:\.\d+)?)`),
}

// Extract pulls signal fields out of free-form model output. It tries a strict
// parse of the outermost {...} span, then the same span after quote, key and
// comma cleanup, then per-field regular expressions with defaults. It returns
// false only when raw holds no text at all. The result is not yet normalized.
func Extract(raw string) (*Fields, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, false
	}

	if span := objectSpan.FindString(raw); span != "" {
		if f, ok := parseObject(span); ok {
			f.Tier = TierStrict
			return f, true
		}
		if f, ok := parseObject(cleanup(span)); ok {
			f.Tier = TierCleanup
			return f, true
		}
	}

	f := extractByPattern(raw)
	f.Tier = TierRegex
	return f, true
}

// cleanup repairs the usual JSON mistakes of chat models
func cleanup(span string) string {
	s := strings.ReplaceAll(span, "'", `"`)
	s = bareKey.ReplaceAllString(s, `$1"$2":`)
	s = trailingCommas.ReplaceAllString(s, "$1")
	return s
}

func parseObject(span string) (*Fields, bool) {
	var m map[string]interface{}
	if err := json.Unmarshal([]byte(span), &m); err != nil {
		return nil, false
	}

	f := defaultFields()
	found := 0
	get := func(field string) (interface{}, bool) {
		v, ok := lookup(m, field)
		if ok {
			found++
		}
		return v, ok
	}

	if v, ok := get("sentiment"); ok {
		if s, ok := v.(string); ok && s != "" {
			f.Sentiment = s
		}
	}
	if v, ok := get("confidence"); ok {
		if n, ok := toFloat(v); ok {
			f.Confidence = confidenceValue(n)
		}
	}
	if v, ok := get("insight"); ok {
		if s, ok := v.(string); ok {
			f.Insight = s
		}
	}
	if v, ok := get("support_level"); ok {
		if n, ok := toFloat(v); ok {
			f.SupportLevel = n
		}
	}
	if v, ok := get("resistance_level"); ok {
		if n, ok := toFloat(v); ok {
			f.ResistanceLevel = n
		}
	}
	if v, ok := get("profit_timeframe_minutes"); ok {
		if n, ok := toFloat(v); ok {
			f.ProfitTimeframeMinutes = int(n)
		}
	}
	if v, ok := get("recommended_side"); ok {
		if s, ok := v.(string); ok && s != "" {
			f.RecommendedSide = s
		}
	}
	if v, ok := get("expected_move_percent"); ok {
		if n, ok := toFloat(v); ok {
			f.ExpectedMovePercent = n
		}
	}

	f.Defaulted = found == 0
	return &f, true
}

// confidenceValue accepts both 0-100 and strictly fractional 0-1 scales and
// clamps to the signal range before converting
func confidenceValue(n float64) int {
	if n > 0 && n < 1 {
		n *= 100
	}
	switch {
	case math.IsNaN(n) || n < MinConfidence:
		return MinConfidence
	case n > MaxConfidence:
		return MaxConfidence
	}
	return int(math.Round(n))
}

func lookup(m map[string]interface{}, field string) (interface{}, bool) {
	for _, key := range fieldKeys[field] {
		if v, ok := m[key]; ok && v != nil {
			return v, true
		}
	}
	return nil, false
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSuffix(strings.TrimSpace(n), "%"), 64)
		return f, err == nil
	}
	return 0, false
}

func extractByPattern(raw string) *Fields {
	f := defaultFields()
	matched := 0

	match := func(field string) (string, bool) {
		m := fieldPatterns[field].FindStringSubmatch(raw)
		if len(m) < 2 {
			return "", false
		}
		matched++
		return m[1], true
	}
	number := func(field string) (float64, bool) {
		s, ok := match(field)
		if !ok {
			return 0, false
		}
		n, err := strconv.ParseFloat(s, 64)
		return n, err == nil
	}

	if s, ok := match("sentiment"); ok {
		f.Sentiment = s
	}
	if n, ok := number("confidence"); ok {
		f.Confidence = confidenceValue(n)
	}
	if s, ok := match("insight"); ok {
		f.Insight = s
	}
	if n, ok := number("support_level"); ok {
		f.SupportLevel = n
	}
	if n, ok := number("resistance_level"); ok {
		f.ResistanceLevel = n
	}
	if n, ok := number("profit_timeframe_minutes"); ok {
		f.ProfitTimeframeMinutes = int(n)
	}
	if s, ok := match("recommended_side"); ok {
		f.RecommendedSide = s
	}
	if n, ok := number("expected_move_percent"); ok {
		f.ExpectedMovePercent = n
	}

	f.Defaulted = matched == 0
	return &f
}
