// Package setups owns the trade-setup model and its lifecycle: the status
// state machine, price-driven transitions, and outcome/P&L resolution.
package setups

import (
	"errors"
	"math"
	"time"
)

// Side is the direction of a setup.
type Side string

const (
	SideLong  Side = "long"
	SideShort Side = "short"
)

// Status is the lifecycle state of a setup. Transitions are monotonic along
// pending -> entry_hit -> {sl_hit, tp_hit}, with invalidated and expired
// reachable from pending via external cancellation/expiry. Terminal statuses
// never regress.
type Status string

const (
	StatusPending     Status = "pending"
	StatusEntryHit    Status = "entry_hit"
	StatusSLHit       Status = "sl_hit"
	StatusTPHit       Status = "tp_hit"
	StatusInvalidated Status = "invalidated"
	StatusExpired     Status = "expired"
)

// IsTerminal reports whether no further price-driven transition is possible.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusSLHit, StatusTPHit, StatusInvalidated, StatusExpired:
		return true
	}
	return false
}

// Outcome is the resolved result of a closed setup.
type Outcome string

const (
	OutcomeWin         Outcome = "win"
	OutcomeLoss        Outcome = "loss"
	OutcomeInvalidated Outcome = "invalidated"
	OutcomeMissed      Outcome = "missed"
)

// OutcomeFor derives the outcome from (status, entryHit). The outcome is a
// function of those two fields and nothing else:
//
//	sl_hit  + entered     -> loss
//	tp_hit  + entered     -> win
//	sl_hit  + not entered -> invalidated (the idea failed before triggering)
//	tp_hit  + not entered -> missed      (price ran away without ever filling)
//	invalidated / expired -> invalidated
//
// ok is false for statuses that carry no outcome (pending, entry_hit).
func OutcomeFor(status Status, entryHit bool) (Outcome, bool) {
	switch status {
	case StatusSLHit:
		if entryHit {
			return OutcomeLoss, true
		}
		return OutcomeInvalidated, true
	case StatusTPHit:
		if entryHit {
			return OutcomeWin, true
		}
		return OutcomeMissed, true
	case StatusInvalidated, StatusExpired:
		return OutcomeInvalidated, true
	}
	return "", false
}

// Sentinel errors for lifecycle operations.
var (
	ErrSetupNotFound          = errors.New("setup not found")
	ErrInvalidSetupState      = errors.New("setup has malformed side or price levels")
	ErrConcurrentModification = errors.New("setup was modified concurrently")
	ErrMalformedObservation   = errors.New("observation price is not a finite positive number")
)

// Setup is a proposed trade idea with entry/stop/target prices and a
// lifecycle. Mutated exclusively by the lifecycle engine once created.
type Setup struct {
	ID       string `json:"id"`
	UserID   string `json:"user_id"`
	Symbol   string `json:"symbol"`
	Strategy string `json:"strategy"`
	Side     Side   `json:"side"`

	EntryPrice   float64  `json:"entry_price"`
	StopLoss     float64  `json:"stop_loss"`
	TakeProfit   float64  `json:"take_profit"`
	Confidence   float64  `json:"confidence"`
	PositionSize *float64 `json:"position_size,omitempty"`
	RiskReward   *float64 `json:"risk_reward,omitempty"`

	Status     Status     `json:"status"`
	EntryHit   bool       `json:"entry_hit"`
	EntryHitAt *time.Time `json:"entry_hit_at,omitempty"`
	SLHitAt    *time.Time `json:"sl_hit_at,omitempty"`
	TPHitAt    *time.Time `json:"tp_hit_at,omitempty"`
	ClosedAt   *time.Time `json:"closed_at,omitempty"`

	Outcome    *Outcome `json:"outcome,omitempty"`
	PnLPercent *float64 `json:"pnl_percent,omitempty"`

	LastPrice     *float64   `json:"last_price,omitempty"`
	LastCheckedAt *time.Time `json:"last_checked_at,omitempty"`

	Archived  bool      `json:"archived"`
	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Observation is one price update for a symbol at a point in time. May arrive
// via polling or an external webhook; neither ordering nor deduplication is
// guaranteed at the source.
type Observation struct {
	Symbol     string    `json:"symbol"`
	Price      float64   `json:"price"`
	ObservedAt time.Time `json:"observed_at"`
}

// Validate rejects non-finite or non-positive prices.
func (o Observation) Validate() error {
	if o.Price <= 0 || math.IsNaN(o.Price) || math.IsInf(o.Price, 0) {
		return ErrMalformedObservation
	}
	return nil
}

// CheckLevels verifies the side/price invariant: stop < entry < target for a
// long, target < entry < stop for a short.
func (s *Setup) CheckLevels() error {
	switch s.Side {
	case SideLong:
		if s.StopLoss < s.EntryPrice && s.EntryPrice < s.TakeProfit {
			return nil
		}
	case SideShort:
		if s.TakeProfit < s.EntryPrice && s.EntryPrice < s.StopLoss {
			return nil
		}
	default:
		return ErrInvalidSetupState
	}
	return ErrInvalidSetupState
}

// PnLPercent computes the realized percentage P&L for an entry at entryPrice
// exited at exitPrice, rounded to two decimal places.
func PnLPercent(side Side, entryPrice, exitPrice float64) float64 {
	var pct float64
	if side == SideLong {
		pct = (exitPrice - entryPrice) / entryPrice * 100
	} else {
		pct = (entryPrice - exitPrice) / entryPrice * 100
	}
	return math.Round(pct*100) / 100
}
