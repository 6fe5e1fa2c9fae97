package marketdata

import (
	"context"
	"errors"
	"time"
)

// ErrInsufficientData is returned when a provider cannot supply enough bars
// for the requested lookback. Callers skip analysis for that symbol; gaps or
// stale data are never substituted with zero values.
var ErrInsufficientData = errors.New("insufficient market data")

// Bar represents a single OHLCV price bar.
type Bar struct {
	OpenTime  time.Time `json:"open_time"`
	CloseTime time.Time `json:"close_time"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume"`
}

// SessionBar holds the high/low/close of one completed trading session,
// keyed by the session date. It is the input to the level calculator.
type SessionBar struct {
	Date  time.Time `json:"date"`
	High  float64   `json:"high"`
	Low   float64   `json:"low"`
	Close float64   `json:"close"`
}

// BarProvider supplies ordered bar series (oldest to newest) and the most
// recently completed session for a symbol.
type BarProvider interface {
	// GetBars returns at least limit bars for the symbol, oldest first.
	// Returns ErrInsufficientData if fewer bars are available.
	GetBars(ctx context.Context, symbol string, limit int) ([]Bar, error)

	// GetPriorSession returns the most recently completed session's bar.
	GetPriorSession(ctx context.Context, symbol string) (SessionBar, error)
}

// SessionDate truncates a timestamp to its UTC session date.
func SessionDate(t time.Time) time.Time {
	return t.UTC().Truncate(24 * time.Hour)
}
