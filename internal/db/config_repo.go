package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"dropship-autopilot/internal/types"
)

// ErrNotFound is returned when a row does not exist.
var ErrNotFound = errors.New("not found")

// ConfigRepo persists the per-user CycleConfig row. The only write is a
// whole-row replace; there are no partial-patch semantics.
type ConfigRepo struct{}

// Get returns the stored config for a user, or ErrNotFound.
func (r *ConfigRepo) Get(ctx context.Context, db *sql.DB, userID string) (types.CycleConfig, error) {
	const q = `SELECT enabled, cycle_interval_minutes, publication_mode, target_marketplace,
max_opportunities_per_cycle, working_capital, min_profit_usd, min_roi_pct, search_queries_json
FROM cycle_config WHERE user_id = ?`

	var (
		cfg     types.CycleConfig
		enabled int
		mode    string
		capital, minProfit, minROI, queriesJSON string
	)
	err := db.QueryRowContext(ctx, q, userID).Scan(
		&enabled, &cfg.CycleIntervalMinutes, &mode, &cfg.TargetMarketplace,
		&cfg.MaxOpportunitiesPerCycle, &capital, &minProfit, &minROI, &queriesJSON,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return types.CycleConfig{}, ErrNotFound
	}
	if err != nil {
		return types.CycleConfig{}, fmt.Errorf("get config: %w", err)
	}

	cfg.Enabled = enabled != 0
	cfg.PublicationMode = types.PublicationMode(mode)
	if cfg.WorkingCapital, err = decimal.NewFromString(capital); err != nil {
		return types.CycleConfig{}, fmt.Errorf("parse working_capital: %w", err)
	}
	if cfg.MinProfit, err = decimal.NewFromString(minProfit); err != nil {
		return types.CycleConfig{}, fmt.Errorf("parse min_profit_usd: %w", err)
	}
	if cfg.MinROIPct, err = decimal.NewFromString(minROI); err != nil {
		return types.CycleConfig{}, fmt.Errorf("parse min_roi_pct: %w", err)
	}
	if err := json.Unmarshal([]byte(queriesJSON), &cfg.SearchQueries); err != nil {
		return types.CycleConfig{}, fmt.Errorf("parse search_queries: %w", err)
	}
	return cfg, nil
}

// Replace stores the full config for a user, creating the row if needed.
func (r *ConfigRepo) Replace(ctx context.Context, db *sql.DB, userID string, cfg types.CycleConfig) error {
	queries, err := json.Marshal(cfg.SearchQueries)
	if err != nil {
		return fmt.Errorf("marshal search_queries: %w", err)
	}

	const q = `INSERT INTO cycle_config
(user_id, enabled, cycle_interval_minutes, publication_mode, target_marketplace,
 max_opportunities_per_cycle, working_capital, min_profit_usd, min_roi_pct,
 search_queries_json, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(user_id) DO UPDATE SET
 enabled=excluded.enabled,
 cycle_interval_minutes=excluded.cycle_interval_minutes,
 publication_mode=excluded.publication_mode,
 target_marketplace=excluded.target_marketplace,
 max_opportunities_per_cycle=excluded.max_opportunities_per_cycle,
 working_capital=excluded.working_capital,
 min_profit_usd=excluded.min_profit_usd,
 min_roi_pct=excluded.min_roi_pct,
 search_queries_json=excluded.search_queries_json,
 updated_at=excluded.updated_at`

	enabled := 0
	if cfg.Enabled {
		enabled = 1
	}
	_, err = db.ExecContext(ctx, q,
		userID, enabled, cfg.CycleIntervalMinutes, string(cfg.PublicationMode),
		cfg.TargetMarketplace, cfg.MaxOpportunitiesPerCycle,
		cfg.WorkingCapital.String(), cfg.MinProfit.String(), cfg.MinROIPct.String(),
		string(queries), time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("replace config: %w", err)
	}
	return nil
}
