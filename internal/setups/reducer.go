package setups

import (
	"math"
	"time"
)

// EntryTolerance is the default tolerance band for entry-touch detection,
// expressed as a fraction of the entry price (0.01%).
const EntryTolerance = 0.0001

// Event names the transition an observation produced.
type Event string

const (
	EventNone        Event = "no_change"
	EventEntry       Event = "entry_hit"
	EventStopLoss    Event = "stop_loss_hit"
	EventTakeProfit  Event = "take_profit_hit"
	EventInvalidated Event = "invalidated_before_entry"
	EventMissed      Event = "missed_before_entry"
)

// Transition describes what Apply changed.
type Transition struct {
	Event      Event
	From       Status
	To         Status
	EntryFired bool
	Outcome    *Outcome
	PnLPercent *float64
}

// Changed reports whether the observation produced any status transition.
func (t Transition) Changed() bool {
	return t.From != t.To || t.EntryFired
}

// Apply is the lifecycle state machine: a pure reducer over
// (current setup, observation) -> (next setup, transition). It never reads a
// clock; every timestamp comes from the observation. Replayed or out-of-order
// observations are safe because an already-resolved condition produces no new
// transition.
//
// Evaluation order within a single observation is fixed:
//  1. terminal status: no-op.
//  2. pending: entry touch within the tolerance band; an entry and an exit on
//     the same tick both evaluate, entry first.
//  3. entered (carried over or just set): stop-loss before take-profit. A
//     single tick cannot resolve which level was touched first intratick, so
//     the conservative loss-first tie-break is mandatory.
//  4. still pending with a stop/target touch: the setup closes as
//     invalidated/missed, never counted as a realized loss/win.
//  5. last_price/last_checked_at always advance.
func Apply(s Setup, obs Observation) (Setup, Transition) {
	tr := Transition{Event: EventNone, From: s.Status, To: s.Status}

	price := obs.Price
	at := obs.ObservedAt

	s.LastPrice = &price
	s.LastCheckedAt = &at

	if s.Status.IsTerminal() {
		return s, tr
	}

	// Step 2: entry touch. The band comparison carries a relative epsilon so a
	// price landing exactly on the tolerance boundary is not lost to float64
	// representation error.
	if s.Status == StatusPending {
		tolerance := s.EntryPrice * EntryTolerance
		if math.Abs(price-s.EntryPrice) <= tolerance*(1+1e-9) {
			s.EntryHit = true
			s.EntryHitAt = &at
			s.Status = StatusEntryHit
			tr.Event = EventEntry
			tr.EntryFired = true
		}
	}

	stopTouched, targetTouched := exitTouches(s.Side, price, s.StopLoss, s.TakeProfit)

	// Step 3: exit conditions against the freshly updated state.
	if s.Status == StatusEntryHit {
		switch {
		case stopTouched:
			s = closeSetup(s, StatusSLHit, at)
			pnl := PnLPercent(s.Side, s.EntryPrice, price)
			s.PnLPercent = &pnl
			tr.Event = EventStopLoss
			tr.PnLPercent = &pnl
		case targetTouched:
			s = closeSetup(s, StatusTPHit, at)
			pnl := PnLPercent(s.Side, s.EntryPrice, price)
			s.PnLPercent = &pnl
			tr.Event = EventTakeProfit
			tr.PnLPercent = &pnl
		}
	} else if s.Status == StatusPending {
		// Step 4: a stop/target touch before entry resolves the idea without
		// a position. No P&L; stop-first ordering applies here too.
		switch {
		case stopTouched:
			s = closeSetup(s, StatusSLHit, at)
			tr.Event = EventInvalidated
		case targetTouched:
			s = closeSetup(s, StatusTPHit, at)
			tr.Event = EventMissed
		}
	}

	tr.To = s.Status
	tr.Outcome = s.Outcome
	return s, tr
}

// exitTouches evaluates the stop and target conditions for a side.
func exitTouches(side Side, price, stopLoss, takeProfit float64) (stop, target bool) {
	if side == SideLong {
		return price <= stopLoss, price >= takeProfit
	}
	return price >= stopLoss, price <= takeProfit
}

// closeSetup moves a setup into a terminal hit status, stamping the hit and
// close times and deriving the outcome from (status, entry_hit).
func closeSetup(s Setup, status Status, at time.Time) Setup {
	s.Status = status
	if status == StatusSLHit {
		s.SLHitAt = &at
	} else {
		s.TPHitAt = &at
	}
	s.ClosedAt = &at
	if outcome, ok := OutcomeFor(status, s.EntryHit); ok {
		s.Outcome = &outcome
	}
	return s
}
