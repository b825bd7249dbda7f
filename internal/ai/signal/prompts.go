package signal

import (
	"fmt"
	"strings"
)

// System prompts for signal generation
const (
	// SystemPromptScan is used for the compact per-pair scan calls
	SystemPromptScan = `You are a crypto futures scalping analyst. Reply with ONE JSON object and nothing else:
{"sentiment":"BULLISH|BEARISH|NEUTRAL","confidence":50-95,"insight":"max 20 words","support_level":number,"resistance_level":number,"profit_timeframe_minutes":1|3|5,"recommended_side":"long|short","expected_move_percent":0.1-2.0}`

	// SystemPromptAnalysis is used for on-demand single symbol analysis
	SystemPromptAnalysis = `You are an expert cryptocurrency trading analyst. Analyze the provided market data and give a short-horizon trading signal.

Your response must be in valid JSON format with the following structure:
{
  "sentiment": "BULLISH" | "BEARISH" | "NEUTRAL",
  "confidence": 50-95,
  "insight": "one or two sentence rationale",
  "support_level": number,
  "resistance_level": number,
  "profit_timeframe_minutes": 1 | 3 | 5,
  "recommended_side": "long" | "short",
  "expected_move_percent": 0.1-2.0
}

Be conservative with confidence scores. Only go above 80 when momentum, volume and structure agree.
Expected move is the realistic move within the profit timeframe, not a best case.`
)

// MarketContext is the market data embedded in a prompt
type MarketContext struct {
	Symbol    string
	Exchange  string
	Price     float64
	Change24h float64
	High24h   float64
	Low24h    float64
	Volume24h float64
}

// BuildScanPrompt builds the compact per-pair prompt
func BuildScanPrompt(m MarketContext) string {
	return fmt.Sprintf("%s on %s: price %s, 24h change %+.2f%%. Give the scalp signal.",
		m.Symbol, m.Exchange, formatPrice(m.Price), m.Change24h)
}

// BuildAnalysisPrompt builds the full single-symbol prompt
func BuildAnalysisPrompt(m MarketContext, notes string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "## Market Data for %s (%s)\n\n", m.Symbol, m.Exchange)
	fmt.Fprintf(&b, "Current Price: %s\n", formatPrice(m.Price))
	fmt.Fprintf(&b, "24h Change: %+.2f%%\n", m.Change24h)
	if m.High24h > 0 && m.Low24h > 0 {
		fmt.Fprintf(&b, "24h Range: %s - %s\n", formatPrice(m.Low24h), formatPrice(m.High24h))
	}
	if m.Volume24h > 0 {
		fmt.Fprintf(&b, "24h Quote Volume: %.0f\n", m.Volume24h)
	}
	if notes = strings.TrimSpace(notes); notes != "" {
		fmt.Fprintf(&b, "\n## Additional Context\n%s\n", notes)
	}
	b.WriteString("\nProvide the signal JSON.")
	return b.String()
}

// formatPrice keeps enough precision for sub-cent assets
func formatPrice(p float64) string {
	switch {
	case p >= 100:
		return fmt.Sprintf("%.2f", p)
	case p >= 1:
		return fmt.Sprintf("%.4f", p)
	default:
		return fmt.Sprintf("%.8f", p)
	}
}
