package database

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"setup-tracker/internal/alerts"
	"setup-tracker/internal/setups"
	"setup-tracker/internal/signalbot"
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
	return r.db.Pool.Ping(ctx)
}

// ============================================================================
// SETUPS
// ============================================================================

const setupColumns = `id, user_id, symbol, strategy, side, entry_price, stop_loss, take_profit,
	       confidence, position_size, risk_reward, status, entry_hit, entry_hit_at,
	       sl_hit_at, tp_hit_at, closed_at, outcome, pnl_percent, last_price,
	       last_checked_at, archived, version, created_at, updated_at`

// CreateSetup inserts a new setup with version 1.
func (r *Repository) CreateSetup(ctx context.Context, s *setups.Setup) error {
	if s.ID == "" {
		s.ID = uuid.New().String()
	}
	s.Version = 1

	query := `
		INSERT INTO setups (id, user_id, symbol, strategy, side, entry_price, stop_loss,
		                    take_profit, confidence, position_size, risk_reward, status, version)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING created_at, updated_at
	`
	return r.db.Pool.QueryRow(
		ctx, query,
		s.ID, s.UserID, s.Symbol, s.Strategy, s.Side, s.EntryPrice, s.StopLoss,
		s.TakeProfit, s.Confidence, s.PositionSize, s.RiskReward, s.Status, s.Version,
	).Scan(&s.CreatedAt, &s.UpdatedAt)
}

// GetSetupByID retrieves a setup by ID
func (r *Repository) GetSetupByID(ctx context.Context, id string) (*setups.Setup, error) {
	query := `
		SELECT ` + setupColumns + `
		FROM setups
		WHERE id = $1
	`
	s := &setups.Setup{}
	err := r.db.Pool.QueryRow(ctx, query, id).Scan(
		&s.ID, &s.UserID, &s.Symbol, &s.Strategy, &s.Side, &s.EntryPrice, &s.StopLoss,
		&s.TakeProfit, &s.Confidence, &s.PositionSize, &s.RiskReward, &s.Status,
		&s.EntryHit, &s.EntryHitAt, &s.SLHitAt, &s.TPHitAt, &s.ClosedAt, &s.Outcome,
		&s.PnLPercent, &s.LastPrice, &s.LastCheckedAt, &s.Archived, &s.Version,
		&s.CreatedAt, &s.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, setups.ErrSetupNotFound
	}
	if err != nil {
		return nil, err
	}
	return s, nil
}

// GetOpenSetupsBySymbol retrieves non-terminal, non-archived setups for a symbol
func (r *Repository) GetOpenSetupsBySymbol(ctx context.Context, symbol string) ([]*setups.Setup, error) {
	query := `
		SELECT ` + setupColumns + `
		FROM setups
		WHERE symbol = $1 AND status IN ('pending', 'entry_hit') AND NOT archived
		ORDER BY created_at
	`
	return r.querySetups(ctx, query, symbol)
}

// GetSetupsByStatus retrieves setups with a given status
func (r *Repository) GetSetupsByStatus(ctx context.Context, status setups.Status) ([]*setups.Setup, error) {
	query := `
		SELECT ` + setupColumns + `
		FROM setups
		WHERE status = $1 AND NOT archived
		ORDER BY created_at DESC
	`
	return r.querySetups(ctx, query, status)
}

// ListSetups retrieves setups with pagination, newest first
func (r *Repository) ListSetups(ctx context.Context, includeArchived bool, limit, offset int) ([]*setups.Setup, error) {
	query := `
		SELECT ` + setupColumns + `
		FROM setups
		WHERE ($1 OR NOT archived)
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`
	return r.querySetups(ctx, query, includeArchived, limit, offset)
}

// GetActiveSymbols returns the distinct symbols with at least one open setup
func (r *Repository) GetActiveSymbols(ctx context.Context) ([]string, error) {
	query := `
		SELECT DISTINCT symbol
		FROM setups
		WHERE status IN ('pending', 'entry_hit') AND NOT archived
		ORDER BY symbol
	`
	rows, err := r.db.Pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var symbols []string
	for rows.Next() {
		var symbol string
		if err := rows.Scan(&symbol); err != nil {
			return nil, err
		}
		symbols = append(symbols, symbol)
	}
	return symbols, rows.Err()
}

// UpdateSetupVersioned persists a setup only if its stored version matches
// s.Version, incrementing the version on success. A lost race returns
// setups.ErrConcurrentModification so the caller can re-read and re-apply.
func (r *Repository) UpdateSetupVersioned(ctx context.Context, s *setups.Setup) error {
	query := `
		UPDATE setups
		SET status = $3, entry_hit = $4, entry_hit_at = $5, sl_hit_at = $6, tp_hit_at = $7,
		    closed_at = $8, outcome = $9, pnl_percent = $10, last_price = $11,
		    last_checked_at = $12, position_size = $13, risk_reward = $14,
		    version = version + 1, updated_at = NOW()
		WHERE id = $1 AND version = $2
	`
	tag, err := r.db.Pool.Exec(
		ctx, query,
		s.ID, s.Version, s.Status, s.EntryHit, s.EntryHitAt, s.SLHitAt, s.TPHitAt,
		s.ClosedAt, s.Outcome, s.PnLPercent, s.LastPrice, s.LastCheckedAt,
		s.PositionSize, s.RiskReward,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		// Distinguish a version conflict from a missing row.
		var exists bool
		if err := r.db.Pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM setups WHERE id = $1)`, s.ID).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return setups.ErrSetupNotFound
		}
		return setups.ErrConcurrentModification
	}

	s.Version++
	return nil
}

// ArchiveSetup flags a setup as archived. Setups are never deleted.
func (r *Repository) ArchiveSetup(ctx context.Context, id string) error {
	tag, err := r.db.Pool.Exec(ctx, `UPDATE setups SET archived = TRUE WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return setups.ErrSetupNotFound
	}
	return nil
}

func (r *Repository) querySetups(ctx context.Context, query string, args ...interface{}) ([]*setups.Setup, error) {
	rows, err := r.db.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*setups.Setup
	for rows.Next() {
		s := &setups.Setup{}
		err := rows.Scan(
			&s.ID, &s.UserID, &s.Symbol, &s.Strategy, &s.Side, &s.EntryPrice, &s.StopLoss,
			&s.TakeProfit, &s.Confidence, &s.PositionSize, &s.RiskReward, &s.Status,
			&s.EntryHit, &s.EntryHitAt, &s.SLHitAt, &s.TPHitAt, &s.ClosedAt, &s.Outcome,
			&s.PnLPercent, &s.LastPrice, &s.LastCheckedAt, &s.Archived, &s.Version,
			&s.CreatedAt, &s.UpdatedAt,
		)
		if err != nil {
			return nil, err
		}
		result = append(result, s)
	}
	return result, rows.Err()
}

// ============================================================================
// SETUP STATS
// ============================================================================

// SetupStats aggregates outcome counts and performance
type SetupStats struct {
	Total       int      `json:"total"`
	Open        int      `json:"open"`
	Wins        int      `json:"wins"`
	Losses      int      `json:"losses"`
	Invalidated int      `json:"invalidated"`
	Missed      int      `json:"missed"`
	WinRate     *float64 `json:"win_rate,omitempty"`
	AvgPnL      *float64 `json:"avg_pnl_percent,omitempty"`
}

// GetSetupStats aggregates lifecycle outcomes across all setups
func (r *Repository) GetSetupStats(ctx context.Context) (*SetupStats, error) {
	query := `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE status IN ('pending', 'entry_hit')),
			COUNT(*) FILTER (WHERE outcome = 'win'),
			COUNT(*) FILTER (WHERE outcome = 'loss'),
			COUNT(*) FILTER (WHERE outcome = 'invalidated'),
			COUNT(*) FILTER (WHERE outcome = 'missed'),
			AVG(pnl_percent) FILTER (WHERE entry_hit AND pnl_percent IS NOT NULL)
		FROM setups
	`
	stats := &SetupStats{}
	err := r.db.Pool.QueryRow(ctx, query).Scan(
		&stats.Total, &stats.Open, &stats.Wins, &stats.Losses,
		&stats.Invalidated, &stats.Missed, &stats.AvgPnL,
	)
	if err != nil {
		return nil, err
	}

	// Win rate over decided trades only (entered and resolved).
	decided := stats.Wins + stats.Losses
	if decided > 0 {
		rate := float64(stats.Wins) / float64(decided) * 100
		stats.WinRate = &rate
	}
	return stats, nil
}

// ============================================================================
// ALERTS
// ============================================================================

// InsertAlert inserts an alert. Alerts are immutable once written.
func (r *Repository) InsertAlert(ctx context.Context, a *alerts.Alert) error {
	query := `
		INSERT INTO alerts (id, symbol, level_type, target_price, price, direction, triggered_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at
	`
	return r.db.Pool.QueryRow(
		ctx, query,
		a.ID, a.Symbol, a.LevelType, a.TargetPrice, a.Price, a.Direction, a.TriggeredAt,
	).Scan(&a.CreatedAt)
}

// GetRecentAlerts retrieves the most recent alerts
func (r *Repository) GetRecentAlerts(ctx context.Context, limit int) ([]*alerts.Alert, error) {
	query := `
		SELECT id, symbol, level_type, target_price, price, direction, triggered_at, created_at
		FROM alerts
		ORDER BY triggered_at DESC
		LIMIT $1
	`
	rows, err := r.db.Pool.Query(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*alerts.Alert
	for rows.Next() {
		a := &alerts.Alert{}
		err := rows.Scan(
			&a.ID, &a.Symbol, &a.LevelType, &a.TargetPrice, &a.Price,
			&a.Direction, &a.TriggeredAt, &a.CreatedAt,
		)
		if err != nil {
			return nil, err
		}
		result = append(result, a)
	}
	return result, rows.Err()
}

// ============================================================================
// SIGNALS
// ============================================================================

// InsertSignal inserts a signal
func (r *Repository) InsertSignal(ctx context.Context, s *signalbot.Signal) error {
	query := `
		INSERT INTO signals (id, setup_id, symbol, signal_type, price, confidence, executed)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at
	`
	return r.db.Pool.QueryRow(
		ctx, query,
		s.ID, s.SetupID, s.Symbol, s.SignalType, s.Price, s.Confidence, s.Executed,
	).Scan(&s.CreatedAt)
}

// MarkSignalExecuted marks a signal as consumed by a downstream executor
func (r *Repository) MarkSignalExecuted(ctx context.Context, id string) error {
	now := time.Now().UTC()
	tag, err := r.db.Pool.Exec(
		ctx,
		`UPDATE signals SET executed = TRUE, executed_at = $2 WHERE id = $1 AND NOT executed`,
		id, now,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// GetPendingSignals retrieves unexecuted signals, oldest first
func (r *Repository) GetPendingSignals(ctx context.Context, limit int) ([]*signalbot.Signal, error) {
	query := `
		SELECT id, setup_id, symbol, signal_type, price, confidence, executed, executed_at, created_at
		FROM signals
		WHERE NOT executed
		ORDER BY created_at
		LIMIT $1
	`
	rows, err := r.db.Pool.Query(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*signalbot.Signal
	for rows.Next() {
		s := &signalbot.Signal{}
		err := rows.Scan(
			&s.ID, &s.SetupID, &s.Symbol, &s.SignalType, &s.Price,
			&s.Confidence, &s.Executed, &s.ExecutedAt, &s.CreatedAt,
		)
		if err != nil {
			return nil, err
		}
		result = append(result, s)
	}
	return result, rows.Err()
}
