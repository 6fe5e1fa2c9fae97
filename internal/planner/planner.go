package planner

import (
	"math"
	"time"

	"setup-tracker/internal/indicators"
	"setup-tracker/internal/levels"
	"setup-tracker/internal/marketdata"
	"setup-tracker/internal/setups"
)

// Candidate is a proposed setup before validation and risk sizing.
type Candidate struct {
	Symbol     string       `json:"symbol"`
	Side       setups.Side  `json:"side"`
	Strategy   string       `json:"strategy"`
	EntryPrice float64      `json:"entry_price"`
	StopLoss   float64      `json:"stop_loss"`
	TakeProfit float64      `json:"take_profit"`
	Reason     string       `json:"reason"`
	PlannedAt  time.Time    `json:"planned_at"`
}

// Planner proposes candidate setups from market structure. Planners are pure:
// all inputs arrive as arguments and no planner touches storage or the clock
// beyond the bar timestamps it is given.
type Planner interface {
	Name() string
	Plan(symbol string, bars []marketdata.Bar, snap *indicators.Snapshot, lv *levels.Levels) []Candidate
}

// ===== RANGE BREAKOUT =====

// RangeBreakout proposes entries just beyond a consolidation range. The range
// is the high/low of the lookback window; a breakout entry goes a small
// buffer past the boundary with the stop inside the range.
type RangeBreakout struct {
	lookback      int     // bars defining the range
	maxRangePct   float64 // widest range (as % of close) still called consolidation
	bufferPct     float64 // entry distance beyond the boundary
	targetRatio   float64 // target = range height * ratio beyond the boundary
}

// NewRangeBreakout creates a range breakout planner with default parameters.
func NewRangeBreakout() *RangeBreakout {
	return &RangeBreakout{
		lookback:    20,
		maxRangePct: 3.0,
		bufferPct:   0.1,
		targetRatio: 1.0,
	}
}

func (p *RangeBreakout) Name() string { return "range_breakout" }

// Window returns the high/low of the trailing lookback window when it
// qualifies as a consolidation range.
func (p *RangeBreakout) Window(bars []marketdata.Bar) (high, low float64, ok bool) {
	if len(bars) < p.lookback {
		return 0, 0, false
	}

	window := bars[len(bars)-p.lookback:]
	high, low = window[0].High, window[0].Low
	for _, b := range window[1:] {
		if b.High > high {
			high = b.High
		}
		if b.Low < low {
			low = b.Low
		}
	}

	last := window[len(window)-1]
	height := high - low
	if height <= 0 || last.Close <= 0 {
		return 0, 0, false
	}
	if height/last.Close*100 > p.maxRangePct {
		return 0, 0, false // not consolidating
	}
	return high, low, true
}

// Plan checks the trailing window for a tight range and, when found, proposes
// a breakout candidate on each side.
func (p *RangeBreakout) Plan(symbol string, bars []marketdata.Bar, snap *indicators.Snapshot, lv *levels.Levels) []Candidate {
	if snap == nil {
		return nil
	}
	high, low, ok := p.Window(bars)
	if !ok {
		return nil
	}

	last := bars[len(bars)-1]
	height := high - low
	buffer := last.Close * (p.bufferPct / 100)
	plannedAt := last.CloseTime

	long := Candidate{
		Symbol:     symbol,
		Side:       setups.SideLong,
		Strategy:   p.Name(),
		EntryPrice: high + buffer,
		StopLoss:   low,
		TakeProfit: high + buffer + height*p.targetRatio,
		Reason:     "breakout above " + p.Name() + " range",
		PlannedAt:  plannedAt,
	}
	short := Candidate{
		Symbol:     symbol,
		Side:       setups.SideShort,
		Strategy:   p.Name(),
		EntryPrice: low - buffer,
		StopLoss:   high,
		TakeProfit: low - buffer - height*p.targetRatio,
		Reason:     "breakdown below " + p.Name() + " range",
		PlannedAt:  plannedAt,
	}

	// Prefer the trend side when the MAs lean one way.
	if snap.ShortMA > snap.MediumMA {
		return []Candidate{long}
	}
	if snap.ShortMA < snap.MediumMA {
		return []Candidate{short}
	}
	return []Candidate{long, short}
}

// ===== SUPPORT BOUNCE =====

// SupportBounce proposes entries when price approaches a pivot support (or
// resistance, for shorts) in an established trend. The stop goes one ATR
// beyond the level, the target at the next pivot rung.
type SupportBounce struct {
	proximityPct float64 // how close price must be to the level, % of price
	stopATRs     float64 // stop distance beyond the level in ATRs
}

// NewSupportBounce creates a support bounce planner with default parameters.
func NewSupportBounce() *SupportBounce {
	return &SupportBounce{
		proximityPct: 0.5,
		stopATRs:     1.0,
	}
}

func (p *SupportBounce) Name() string { return "support_bounce" }

// Plan proposes a long off S1/pivot in an uptrend or a short off R1/pivot in
// a downtrend when price is within the proximity band of the level.
func (p *SupportBounce) Plan(symbol string, bars []marketdata.Bar, snap *indicators.Snapshot, lv *levels.Levels) []Candidate {
	if len(bars) == 0 || snap == nil || lv == nil {
		return nil
	}

	last := bars[len(bars)-1]
	price := last.Close
	if price <= 0 || snap.ATR <= 0 {
		return nil
	}

	uptrend := snap.ShortMA > snap.MediumMA && price > snap.LongMA
	downtrend := snap.ShortMA < snap.MediumMA && price < snap.LongMA

	var out []Candidate
	if uptrend {
		for _, level := range []struct {
			price  float64
			target float64
			name   string
		}{
			{lv.S1, lv.Pivot, "S1"},
			{lv.Pivot, lv.R1, "pivot"},
		} {
			if !p.near(price, level.price) || price < level.price {
				continue
			}
			out = append(out, Candidate{
				Symbol:     symbol,
				Side:       setups.SideLong,
				Strategy:   p.Name(),
				EntryPrice: level.price,
				StopLoss:   level.price - snap.ATR*p.stopATRs,
				TakeProfit: level.target,
				Reason:     "uptrend pullback into " + level.name,
				PlannedAt:  last.CloseTime,
			})
			break // nearest level only
		}
	}
	if downtrend {
		for _, level := range []struct {
			price  float64
			target float64
			name   string
		}{
			{lv.R1, lv.Pivot, "R1"},
			{lv.Pivot, lv.S1, "pivot"},
		} {
			if !p.near(price, level.price) || price > level.price {
				continue
			}
			out = append(out, Candidate{
				Symbol:     symbol,
				Side:       setups.SideShort,
				Strategy:   p.Name(),
				EntryPrice: level.price,
				StopLoss:   level.price + snap.ATR*p.stopATRs,
				TakeProfit: level.target,
				Reason:     "downtrend rally into " + level.name,
				PlannedAt:  last.CloseTime,
			})
			break
		}
	}
	return out
}

// near reports whether price is within the proximity band of a level.
func (p *SupportBounce) near(price, level float64) bool {
	if level <= 0 {
		return false
	}
	return math.Abs(price-level)/price*100 <= p.proximityPct
}
