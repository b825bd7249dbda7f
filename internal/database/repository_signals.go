package database

import (
	"context"
	"fmt"
	"time"

	"market-signal-engine/internal/ai/signal"
)

// UpsertSignal stores s, replacing any signal for the same symbol and exchange
func (r *Repository) UpsertSignal(ctx context.Context, s *signal.MarketSignal) error {
	query := `
		INSERT INTO market_signals (
			symbol, exchange, sentiment, confidence, insight, price, change_24h,
			support_level, resistance_level, profit_timeframe_minutes, recommended_side,
			expected_move_percent, provider_used, parse_tier, defaulted, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		ON CONFLICT (symbol, exchange) DO UPDATE SET
			sentiment = EXCLUDED.sentiment,
			confidence = EXCLUDED.confidence,
			insight = EXCLUDED.insight,
			price = EXCLUDED.price,
			change_24h = EXCLUDED.change_24h,
			support_level = EXCLUDED.support_level,
			resistance_level = EXCLUDED.resistance_level,
			profit_timeframe_minutes = EXCLUDED.profit_timeframe_minutes,
			recommended_side = EXCLUDED.recommended_side,
			expected_move_percent = EXCLUDED.expected_move_percent,
			provider_used = EXCLUDED.provider_used,
			parse_tier = EXCLUDED.parse_tier,
			defaulted = EXCLUDED.defaulted,
			created_at = EXCLUDED.created_at
	`
	_, err := r.db.Pool.Exec(ctx, query,
		s.Symbol, s.Exchange, s.Sentiment, s.Confidence, s.Insight, s.Price, s.Change24h,
		s.SupportLevel, s.ResistanceLevel, s.ProfitTimeframeMinutes, s.RecommendedSide,
		s.ExpectedMovePercent, s.ProviderUsed, string(s.ParseTier), s.Defaulted, s.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert signal %s/%s: %w", s.Exchange, s.Symbol, err)
	}
	return nil
}

// DeleteSignalsOlderThan purges signals created before cutoff
func (r *Repository) DeleteSignalsOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.db.Pool.Exec(ctx, `DELETE FROM market_signals WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to purge signals: %w", err)
	}
	return tag.RowsAffected(), nil
}

// ListSignals returns the newest signals matching filter
func (r *Repository) ListSignals(ctx context.Context, filter SignalFilter) ([]signal.MarketSignal, error) {
	query := `
		SELECT symbol, exchange, sentiment, confidence, insight, price, change_24h,
			support_level, resistance_level, profit_timeframe_minutes, recommended_side,
			expected_move_percent, provider_used, parse_tier, defaulted, created_at
		FROM market_signals
		WHERE ($1 = '' OR exchange = $1)
		AND ($2 = '' OR sentiment = $2)
		ORDER BY created_at DESC
		LIMIT $3
	`
	rows, err := r.db.Pool.Query(ctx, query, filter.Exchange, filter.Sentiment, filter.limit())
	if err != nil {
		return nil, fmt.Errorf("failed to list signals: %w", err)
	}
	defer rows.Close()

	var out []signal.MarketSignal
	for rows.Next() {
		var s signal.MarketSignal
		var tier string
		err := rows.Scan(
			&s.Symbol, &s.Exchange, &s.Sentiment, &s.Confidence, &s.Insight, &s.Price, &s.Change24h,
			&s.SupportLevel, &s.ResistanceLevel, &s.ProfitTimeframeMinutes, &s.RecommendedSide,
			&s.ExpectedMovePercent, &s.ProviderUsed, &tier, &s.Defaulted, &s.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan signal: %w", err)
		}
		s.ParseTier = signal.Tier(tier)
		out = append(out, s)
	}
	return out, rows.Err()
}

// InsertAIDecision appends an audit row
func (r *Repository) InsertAIDecision(ctx context.Context, d *AIDecision) error {
	query := `
		INSERT INTO ai_decisions (
			id, scan_id, symbol, exchange, sentiment, confidence, recommended_side,
			provider, parse_tier, price, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	_, err := r.db.Pool.Exec(ctx, query,
		d.ID.String(), d.ScanID, d.Symbol, d.Exchange, d.Sentiment, d.Confidence, d.RecommendedSide,
		d.Provider, string(d.ParseTier), d.Price, d.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert decision: %w", err)
	}
	return nil
}
