package database

import (
	"time"

	"market-signal-engine/internal/ai/signal"

	"github.com/google/uuid"
)

// ActiveProviderAuto lets the selector choose the provider
const ActiveProviderAuto = "auto"

// AIDecision is the audit row written for every persisted signal
type AIDecision struct {
	ID              uuid.UUID   `json:"id"`
	ScanID          string      `json:"scan_id,omitempty"`
	Symbol          string      `json:"symbol"`
	Exchange        string      `json:"exchange"`
	Sentiment       string      `json:"sentiment"`
	Confidence      int         `json:"confidence"`
	RecommendedSide string      `json:"recommended_side"`
	Provider        string      `json:"provider"`
	ParseTier       signal.Tier `json:"parse_tier"`
	Price           float64     `json:"price"`
	CreatedAt       time.Time   `json:"created_at"`
}

// NewAIDecision builds the audit row for s
func NewAIDecision(scanID string, s *signal.MarketSignal) *AIDecision {
	return &AIDecision{
		ID:              uuid.New(),
		ScanID:          scanID,
		Symbol:          s.Symbol,
		Exchange:        s.Exchange,
		Sentiment:       s.Sentiment,
		Confidence:      s.Confidence,
		RecommendedSide: s.RecommendedSide,
		Provider:        s.ProviderUsed,
		ParseTier:       s.ParseTier,
		Price:           s.Price,
		CreatedAt:       s.CreatedAt,
	}
}

// AISettings holds operator preferences
type AISettings struct {
	ActiveProvider string    `json:"active_provider"`
	ScanEnabled    bool      `json:"scan_enabled"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// DefaultSettings returns the settings used before any are saved
func DefaultSettings() *AISettings {
	return &AISettings{ActiveProvider: ActiveProviderAuto}
}

// SignalFilter narrows ListSignals
type SignalFilter struct {
	Exchange  string
	Sentiment string
	Limit     int
}

// DefaultSignalLimit caps ListSignals when no limit is given
const DefaultSignalLimit = 100

func (f SignalFilter) limit() int {
	if f.Limit <= 0 || f.Limit > 1000 {
		return DefaultSignalLimit
	}
	return f.Limit
}
