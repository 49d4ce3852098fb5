package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"dropship-autopilot/internal/types"
)

// CycleResultRepo handles the append-only cycle history.
type CycleResultRepo struct{}

// Append inserts one cycle result.
func (r *CycleResultRepo) Append(ctx context.Context, db *sql.DB, userID string, res types.CycleResult) error {
	errsJSON, err := json.Marshal(res.Errors)
	if err != nil {
		return fmt.Errorf("marshal errors: %w", err)
	}
	warnsJSON, err := json.Marshal(res.Warnings)
	if err != nil {
		return fmt.Errorf("marshal warnings: %w", err)
	}

	const q = `INSERT INTO cycle_results
(user_id, success, category, query, opportunities_found, opportunities_processed,
 products_published, products_queued, capital_used, errors_json, warnings_json,
 message, started_at, finished_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	success := 0
	if res.Success {
		success = 1
	}
	_, err = db.ExecContext(ctx, q,
		userID, success, res.Category, res.Query,
		res.OpportunitiesFound, res.OpportunitiesProcessed,
		res.ProductsPublished, res.ProductsQueued,
		res.CapitalUsed.String(), string(errsJSON), string(warnsJSON),
		res.Message, res.StartedAt.Unix(), res.FinishedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("append cycle result: %w", err)
	}
	return nil
}

// ListRecent returns up to limit results for a user, newest first.
func (r *CycleResultRepo) ListRecent(ctx context.Context, db *sql.DB, userID string, limit int) ([]types.CycleResult, error) {
	const q = `SELECT success, category, query, opportunities_found, opportunities_processed,
products_published, products_queued, capital_used, errors_json, warnings_json,
message, started_at, finished_at
FROM cycle_results WHERE user_id = ? ORDER BY id DESC LIMIT ?`

	rows, err := db.QueryContext(ctx, q, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list cycle results: %w", err)
	}
	defer rows.Close()

	var results []types.CycleResult
	for rows.Next() {
		var (
			res                          types.CycleResult
			success                      int
			capital, errsJSON, warnsJSON string
			startedAt, finishedAt        int64
		)
		if err := rows.Scan(&success, &res.Category, &res.Query,
			&res.OpportunitiesFound, &res.OpportunitiesProcessed,
			&res.ProductsPublished, &res.ProductsQueued,
			&capital, &errsJSON, &warnsJSON,
			&res.Message, &startedAt, &finishedAt); err != nil {
			return nil, fmt.Errorf("scan cycle result: %w", err)
		}
		res.Success = success != 0
		if res.CapitalUsed, err = decimal.NewFromString(capital); err != nil {
			return nil, fmt.Errorf("parse capital_used: %w", err)
		}
		if err := json.Unmarshal([]byte(errsJSON), &res.Errors); err != nil {
			return nil, fmt.Errorf("parse errors: %w", err)
		}
		if err := json.Unmarshal([]byte(warnsJSON), &res.Warnings); err != nil {
			return nil, fmt.Errorf("parse warnings: %w", err)
		}
		res.StartedAt = time.Unix(startedAt, 0)
		res.FinishedAt = time.Unix(finishedAt, 0)
		results = append(results, res)
	}
	return results, rows.Err()
}

// Aggregate computes the performance report over the full history.
func (r *CycleResultRepo) Aggregate(ctx context.Context, db *sql.DB, userID string) (types.PerformanceReport, error) {
	const q = `SELECT success, opportunities_found, opportunities_processed,
products_published, products_queued, capital_used, finished_at
FROM cycle_results WHERE user_id = ?`

	rows, err := db.QueryContext(ctx, q, userID)
	if err != nil {
		return types.PerformanceReport{}, fmt.Errorf("aggregate cycle results: %w", err)
	}
	defer rows.Close()

	report := types.PerformanceReport{CapitalUsed: decimal.Zero}
	var lastFinished int64
	for rows.Next() {
		var (
			success, found, processed, published, queued int
			capital                                      string
			finishedAt                                   int64
		)
		if err := rows.Scan(&success, &found, &processed, &published, &queued, &capital, &finishedAt); err != nil {
			return types.PerformanceReport{}, fmt.Errorf("scan aggregate row: %w", err)
		}
		report.TotalCycles++
		if success != 0 {
			report.SuccessfulCycles++
		}
		report.OpportunitiesFound += found
		report.OpportunitiesProcessed += processed
		report.ProductsPublished += published
		report.ProductsQueued += queued
		// Summed in Go so decimal text never loses precision to REAL math.
		d, err := decimal.NewFromString(capital)
		if err != nil {
			return types.PerformanceReport{}, fmt.Errorf("parse capital_used: %w", err)
		}
		report.CapitalUsed = report.CapitalUsed.Add(d)
		if finishedAt > lastFinished {
			lastFinished = finishedAt
		}
	}
	if err := rows.Err(); err != nil {
		return types.PerformanceReport{}, err
	}
	if lastFinished > 0 {
		t := time.Unix(lastFinished, 0)
		report.LastCycleAt = &t
	}
	return report, nil
}
