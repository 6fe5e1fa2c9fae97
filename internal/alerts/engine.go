package alerts

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"setup-tracker/internal/events"
	"setup-tracker/internal/levels"
	"setup-tracker/internal/marketdata"
)

// LevelType identifies which price level an alert fired on.
type LevelType string

const (
	LevelPriorDayHigh LevelType = "prior_day_high"
	LevelPriorDayLow  LevelType = "prior_day_low"
	LevelPivot        LevelType = "pivot"
	LevelRangeBreak   LevelType = "range_break"
	LevelRetest       LevelType = "retest"
)

// Alert is an immutable level-touch event. Inserted once, never updated.
type Alert struct {
	ID          string    `json:"id"`
	Symbol      string    `json:"symbol"`
	LevelType   LevelType `json:"level_type"`
	TargetPrice float64   `json:"target_price"`
	Price       float64   `json:"price"`
	Direction   string    `json:"direction"` // "above" or "below"
	TriggeredAt time.Time `json:"triggered_at"`
	CreatedAt   time.Time `json:"created_at"`
}

// Repository is the insert-only persistence surface for alerts.
type Repository interface {
	InsertAlert(ctx context.Context, a *Alert) error
}

// Range is a detected consolidation range used for range-break alerts.
type Range struct {
	High float64
	Low  float64
}

// symbolState carries the per-symbol context the stateless checks need:
// the active consolidation range and levels already broken this session
// (for retest detection).
type symbolState struct {
	consolidation *Range
	broken        map[float64]string // broken level price -> break direction
	sessionDate   time.Time
}

// Engine scans price observations for discrete level-touch events. Each
// check is stateless over its inputs; at-most-once firing per
// (symbol, level type, session) is enforced through the dedup store.
type Engine struct {
	repo              Repository
	dedup             DedupStore
	bus               *events.EventBus
	logger            zerolog.Logger
	touchTolerancePct float64

	mu    sync.Mutex
	state map[string]*symbolState
}

// NewEngine creates an alert engine.
func NewEngine(repo Repository, dedup DedupStore, bus *events.EventBus, logger zerolog.Logger) *Engine {
	return &Engine{
		repo:              repo,
		dedup:             dedup,
		bus:               bus,
		logger:            logger.With().Str("component", "alerts").Logger(),
		touchTolerancePct: 0.1,
		state:             make(map[string]*symbolState),
	}
}

// SetTouchTolerance overrides the default pivot-touch tolerance percentage.
func (e *Engine) SetTouchTolerance(pct float64) {
	if pct > 0 {
		e.touchTolerancePct = pct
	}
}

// SetRange records the active consolidation range for a symbol's session.
// The signal bot refreshes this each sweep from its range detection; at must
// fall in the same session as the observations checked against the range.
func (e *Engine) SetRange(symbol string, high, low float64, at time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stateFor(symbol, marketdata.SessionDate(at)).consolidation = &Range{High: high, Low: low}
}

// Check compares one price against the session levels and fires at most one
// alert. Conditions run in a fixed order and the first qualifying one wins
// the cycle; a condition already claimed this session yields to the next.
func (e *Engine) Check(ctx context.Context, symbol string, price float64, at time.Time, lv *levels.Levels) (*Alert, error) {
	if lv == nil {
		return nil, nil
	}
	session := marketdata.SessionDate(at)

	type condition struct {
		levelType LevelType
		target    float64
		direction string
		matched   bool
	}

	conds := []condition{
		{LevelPriorDayHigh, lv.PriorHigh, "above", price >= lv.PriorHigh},
		{LevelPriorDayLow, lv.PriorLow, "below", price <= lv.PriorLow},
		{LevelPivot, lv.Pivot, e.sideOf(price, lv.Pivot), e.withinTolerance(price, lv.Pivot)},
	}
	if rb, ok := e.rangeBreak(symbol, price, session); ok {
		conds = append(conds, condition{LevelRangeBreak, rb.target, rb.direction, true})
	}
	if rt, ok := e.retest(symbol, price, session); ok {
		conds = append(conds, condition{LevelRetest, rt.target, rt.direction, true})
	}

	for _, c := range conds {
		if !c.matched {
			continue
		}

		key := dedupKey(symbol, c.levelType, session)
		claimed, err := e.dedup.Claim(ctx, key, DedupTTL)
		if err != nil {
			return nil, fmt.Errorf("claiming alert key %s: %w", key, err)
		}
		if !claimed {
			continue // already fired this session; try the next condition
		}

		alert := &Alert{
			ID:          uuid.New().String(),
			Symbol:      symbol,
			LevelType:   c.levelType,
			TargetPrice: c.target,
			Price:       price,
			Direction:   c.direction,
			TriggeredAt: at,
			CreatedAt:   time.Now().UTC(),
		}
		if err := e.repo.InsertAlert(ctx, alert); err != nil {
			return nil, fmt.Errorf("inserting alert: %w", err)
		}

		e.recordBreak(symbol, c.levelType, c.target, c.direction, session)

		e.logger.Info().
			Str("symbol", symbol).
			Str("level_type", string(c.levelType)).
			Float64("target", c.target).
			Float64("price", price).
			Msg("alert fired")

		if e.bus != nil {
			e.bus.PublishAlertFired(symbol, string(c.levelType), c.direction, c.target, price)
		}
		return alert, nil
	}

	return nil, nil
}

// withinTolerance reports whether price touches a level within the
// configured band.
func (e *Engine) withinTolerance(price, level float64) bool {
	if level <= 0 {
		return false
	}
	return math.Abs(price-level)/level*100 <= e.touchTolerancePct
}

func (e *Engine) sideOf(price, level float64) string {
	if price >= level {
		return "above"
	}
	return "below"
}

type levelMatch struct {
	target    float64
	direction string
}

// rangeBreak reports whether price has escaped the tracked consolidation.
func (e *Engine) rangeBreak(symbol string, price float64, session time.Time) (levelMatch, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	st := e.stateFor(symbol, session)
	if st.consolidation == nil {
		return levelMatch{}, false
	}
	if price > st.consolidation.High {
		return levelMatch{target: st.consolidation.High, direction: "above"}, true
	}
	if price < st.consolidation.Low {
		return levelMatch{target: st.consolidation.Low, direction: "below"}, true
	}
	return levelMatch{}, false
}

// retest reports whether price has come back to a level it broke earlier
// this session.
func (e *Engine) retest(symbol string, price float64, session time.Time) (levelMatch, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	st := e.stateFor(symbol, session)
	for level, direction := range st.broken {
		if !e.withinTolerance(price, level) {
			continue
		}
		// A retest approaches the level from the break side.
		if direction == "above" && price >= level {
			return levelMatch{target: level, direction: direction}, true
		}
		if direction == "below" && price <= level {
			return levelMatch{target: level, direction: direction}, true
		}
	}
	return levelMatch{}, false
}

// recordBreak remembers a broken level so a later return can fire a retest.
func (e *Engine) recordBreak(symbol string, levelType LevelType, target float64, direction string, session time.Time) {
	if levelType != LevelRangeBreak && levelType != LevelPriorDayHigh && levelType != LevelPriorDayLow {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stateFor(symbol, session).broken[target] = direction
}

// stateFor returns the symbol's session state, resetting it when the
// session has rolled over. Caller holds the lock.
func (e *Engine) stateFor(symbol string, session time.Time) *symbolState {
	st, exists := e.state[symbol]
	if !exists || !st.sessionDate.Equal(session) {
		st = &symbolState{
			broken:      make(map[float64]string),
			sessionDate: session,
		}
		e.state[symbol] = st
	}
	return st
}

func dedupKey(symbol string, levelType LevelType, session time.Time) string {
	return fmt.Sprintf("alert:%s:%s:%s", symbol, levelType, session.Format("2006-01-02"))
}
