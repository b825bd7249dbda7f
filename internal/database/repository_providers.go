package database

import (
	"context"
	"fmt"

	"market-signal-engine/internal/ai/providers"
)

const providerColumns = `name, enabled, priority, rpm_limit, rpm_used, rpm_window_start,
	rpd_limit, rpd_used, rpd_reset_at, cooldown_until, success_count, error_count,
	consecutive_errors, total_latency_ms, last_error, last_used_at`

// ListProviders returns every provider record ordered by priority
func (r *Repository) ListProviders(ctx context.Context) ([]providers.Record, error) {
	query := `SELECT ` + providerColumns + ` FROM ai_providers ORDER BY priority, name`

	rows, err := r.db.Pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list providers: %w", err)
	}
	defer rows.Close()

	var records []providers.Record
	for rows.Next() {
		var p providers.Record
		err := rows.Scan(
			&p.Name, &p.Enabled, &p.Priority, &p.RPMLimit, &p.RPMUsed, &p.RPMWindowStart,
			&p.RPDLimit, &p.RPDUsed, &p.RPDResetAt, &p.CooldownUntil, &p.SuccessCount, &p.ErrorCount,
			&p.ConsecutiveErrors, &p.TotalLatencyMs, &p.LastError, &p.LastUsedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan provider: %w", err)
		}
		records = append(records, p)
	}
	return records, rows.Err()
}

// SaveProvider inserts or replaces a provider record
func (r *Repository) SaveProvider(ctx context.Context, p *providers.Record) error {
	query := `
		INSERT INTO ai_providers (` + providerColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		ON CONFLICT (name) DO UPDATE SET
			enabled = EXCLUDED.enabled,
			priority = EXCLUDED.priority,
			rpm_limit = EXCLUDED.rpm_limit,
			rpm_used = EXCLUDED.rpm_used,
			rpm_window_start = EXCLUDED.rpm_window_start,
			rpd_limit = EXCLUDED.rpd_limit,
			rpd_used = EXCLUDED.rpd_used,
			rpd_reset_at = EXCLUDED.rpd_reset_at,
			cooldown_until = EXCLUDED.cooldown_until,
			success_count = EXCLUDED.success_count,
			error_count = EXCLUDED.error_count,
			consecutive_errors = EXCLUDED.consecutive_errors,
			total_latency_ms = EXCLUDED.total_latency_ms,
			last_error = EXCLUDED.last_error,
			last_used_at = EXCLUDED.last_used_at
	`
	_, err := r.db.Pool.Exec(ctx, query,
		p.Name, p.Enabled, p.Priority, p.RPMLimit, p.RPMUsed, p.RPMWindowStart,
		p.RPDLimit, p.RPDUsed, p.RPDResetAt, p.CooldownUntil, p.SuccessCount, p.ErrorCount,
		p.ConsecutiveErrors, p.TotalLatencyMs, p.LastError, p.LastUsedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save provider %s: %w", p.Name, err)
	}
	return nil
}
