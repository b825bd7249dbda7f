package database

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
)

// Repository provides data access methods
type Repository struct {
	db *DB
}

// NewRepository creates a new repository
func NewRepository(db *DB) *Repository {
	return &Repository{db: db}
}

// HealthCheck performs a database health check
func (r *Repository) HealthCheck(ctx context.Context) error {
	return r.db.HealthCheck(ctx)
}

// ============================================================================
// SETTINGS
// ============================================================================

// GetSettings returns the saved settings or the defaults when none exist
func (r *Repository) GetSettings(ctx context.Context) (*AISettings, error) {
	query := `SELECT active_provider, scan_enabled, updated_at FROM ai_settings WHERE id = 1`

	s := &AISettings{}
	err := r.db.Pool.QueryRow(ctx, query).Scan(&s.ActiveProvider, &s.ScanEnabled, &s.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return DefaultSettings(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get settings: %w", err)
	}
	return s, nil
}

// SaveSettings upserts the settings row
func (r *Repository) SaveSettings(ctx context.Context, s *AISettings) error {
	if s.UpdatedAt.IsZero() {
		s.UpdatedAt = time.Now().UTC()
	}
	query := `
		INSERT INTO ai_settings (id, active_provider, scan_enabled, updated_at)
		VALUES (1, $1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET
			active_provider = EXCLUDED.active_provider,
			scan_enabled = EXCLUDED.scan_enabled,
			updated_at = EXCLUDED.updated_at
	`
	if _, err := r.db.Pool.Exec(ctx, query, s.ActiveProvider, s.ScanEnabled, s.UpdatedAt); err != nil {
		return fmt.Errorf("failed to save settings: %w", err)
	}
	return nil
}

// ============================================================================
// EXCHANGES
// ============================================================================

// ListConnectedExchanges returns the names of connected exchanges
func (r *Repository) ListConnectedExchanges(ctx context.Context) ([]string, error) {
	rows, err := r.db.Pool.Query(ctx, `SELECT exchange FROM exchange_connections WHERE connected ORDER BY exchange`)
	if err != nil {
		return nil, fmt.Errorf("failed to list exchanges: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, strings.ToLower(name))
	}
	return names, rows.Err()
}

// SetExchangeConnected marks an exchange as connected or not
func (r *Repository) SetExchangeConnected(ctx context.Context, exchange string, connected bool) error {
	query := `
		INSERT INTO exchange_connections (exchange, connected, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (exchange) DO UPDATE SET connected = EXCLUDED.connected, updated_at = NOW()
	`
	if _, err := r.db.Pool.Exec(ctx, query, strings.ToLower(strings.TrimSpace(exchange)), connected); err != nil {
		return fmt.Errorf("failed to update exchange %s: %w", exchange, err)
	}
	return nil
}
