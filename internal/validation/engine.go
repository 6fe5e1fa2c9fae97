package validation

import (
	"fmt"
	"math"

	"setup-tracker/internal/indicators"
	"setup-tracker/internal/levels"
	"setup-tracker/internal/setups"
)

// Input carries everything a factor may inspect. All fields are computed
// before scoring starts; factors never fetch data themselves.
type Input struct {
	Side       setups.Side
	EntryPrice float64
	StopLoss   float64
	TakeProfit float64
	Price      float64
	Indicators *indicators.Snapshot
	Levels     *levels.Levels
}

// FactorScore is one factor's contribution to the composite confidence.
type FactorScore struct {
	Name     string  `json:"name"`
	Weight   float64 `json:"weight"`
	Score    float64 `json:"score"`
	Weighted float64 `json:"weighted"`
	Reason   string  `json:"reason"`
}

// Report is the full scoring breakdown for a candidate setup.
type Report struct {
	Confidence float64       `json:"confidence"`
	Passed     bool          `json:"passed"`
	Grade      string        `json:"grade"`
	Factors    []FactorScore `json:"factors"`
}

// Factor checks one confirmation on a candidate and explains itself. A factor
// awards its full weight (score 1.0) when satisfied and nothing (0.0)
// otherwise; 0.5 is reserved for factors whose inputs are missing entirely.
type Factor struct {
	Name   string
	Weight float64
	Score  func(in Input) (float64, string)
}

// Engine scores setup candidates against a fixed factor list. The list is
// data: adding a factor means appending an entry, not touching the loop.
type Engine struct {
	factors       []Factor
	minConfidence float64
}

// NewEngine creates a validation engine with the default factors and weights.
func NewEngine(minConfidence float64) *Engine {
	return &Engine{
		factors:       defaultFactors(),
		minConfidence: minConfidence,
	}
}

// defaultFactors returns the standard factor list. Weights sum to 1.0.
func defaultFactors() []Factor {
	return []Factor{
		{Name: "trend", Weight: 0.25, Score: scoreTrend},
		{Name: "momentum", Weight: 0.20, Score: scoreMomentum},
		{Name: "volatility", Weight: 0.15, Score: scoreVolatility},
		{Name: "volume", Weight: 0.15, Score: scoreVolume},
		{Name: "trend_strength", Weight: 0.15, Score: scoreTrendStrength},
		{Name: "price_position", Weight: 0.10, Score: scorePricePosition},
	}
}

// Validate scores a candidate and reports whether it clears the minimum
// confidence. Pure: the same input always produces the same report.
func (e *Engine) Validate(in Input) *Report {
	report := &Report{
		Factors: make([]FactorScore, 0, len(e.factors)),
	}

	for _, f := range e.factors {
		score, reason := f.Score(in)
		score = clamp01(score)
		weighted := score * f.Weight
		report.Confidence += weighted
		report.Factors = append(report.Factors, FactorScore{
			Name:     f.Name,
			Weight:   f.Weight,
			Score:    score,
			Weighted: weighted,
			Reason:   reason,
		})
	}

	report.Confidence = math.Round(report.Confidence*10000) / 10000
	report.Passed = report.Confidence >= e.minConfidence
	report.Grade = scoreToGrade(report.Confidence)
	return report
}

// MinConfidence returns the pass threshold.
func (e *Engine) MinConfidence() float64 {
	return e.minConfidence
}

// SetFactors replaces the factor list. Weights must sum to 1.0.
func (e *Engine) SetFactors(factors []Factor) error {
	total := 0.0
	for _, f := range factors {
		total += f.Weight
	}
	if total < 0.99 || total > 1.01 {
		return fmt.Errorf("factor weights must sum to 1.0, got %.2f", total)
	}
	e.factors = factors
	return nil
}

// ===== FACTOR IMPLEMENTATIONS =====

// scoreTrend awards the trend weight only when the moving averages are fully
// stacked in the trade direction. A partial ordering earns nothing.
func scoreTrend(in Input) (float64, string) {
	ind := in.Indicators
	if in.Side == setups.SideLong {
		if ind.ShortMA > ind.MediumMA && ind.MediumMA > ind.LongMA {
			return 1.0, "MAs stacked bullish (short > medium > long)"
		}
		return 0.0, "MAs not fully stacked for long"
	}
	if ind.ShortMA < ind.MediumMA && ind.MediumMA < ind.LongMA {
		return 1.0, "MAs stacked bearish (short < medium < long)"
	}
	return 0.0, "MAs not fully stacked for short"
}

// scoreMomentum requires the oscillator in a healthy band for the side and the
// MACD histogram pointing the same way. Overextended RSI fails even when the
// histogram agrees.
func scoreMomentum(in Input) (float64, string) {
	ind := in.Indicators
	rsi := ind.RSI
	hist := ind.MACD.Histogram

	if in.Side == setups.SideLong {
		if rsi >= 80 {
			return 0.0, fmt.Sprintf("RSI overbought (%.1f)", rsi)
		}
		if rsi >= 50 && hist > 0 {
			return 1.0, fmt.Sprintf("RSI bullish (%.1f) with positive MACD histogram", rsi)
		}
		return 0.0, fmt.Sprintf("momentum unconfirmed (RSI %.1f, histogram %.2f)", rsi, hist)
	}
	if rsi <= 20 {
		return 0.0, fmt.Sprintf("RSI oversold (%.1f)", rsi)
	}
	if rsi <= 50 && hist < 0 {
		return 1.0, fmt.Sprintf("RSI bearish (%.1f) with negative MACD histogram", rsi)
	}
	return 0.0, fmt.Sprintf("momentum unconfirmed (RSI %.1f, histogram %.2f)", rsi, hist)
}

// scoreVolatility requires the planned stop a sane distance from entry in ATR
// terms. A stop tighter than half an ATR gets shaken out by noise; wider than
// 3 ATR wastes risk budget.
func scoreVolatility(in Input) (float64, string) {
	atr := in.Indicators.ATR
	if atr <= 0 {
		return 0.5, "no ATR available"
	}
	stopDistance := math.Abs(in.EntryPrice - in.StopLoss)
	ratio := stopDistance / atr

	if ratio >= 0.5 && ratio <= 3.0 {
		return 1.0, fmt.Sprintf("stop distance %.1fx ATR", ratio)
	}
	if ratio < 0.5 {
		return 0.0, fmt.Sprintf("stop inside noise range (%.1fx ATR)", ratio)
	}
	return 0.0, fmt.Sprintf("stop too wide at %.1fx ATR", ratio)
}

// scoreVolume requires current volume at or above the recent average.
func scoreVolume(in Input) (float64, string) {
	ind := in.Indicators
	if ind.AvgVolume <= 0 {
		return 0.5, "no volume history"
	}
	ratio := ind.Volume / ind.AvgVolume

	if ratio >= 1.0 {
		return 1.0, fmt.Sprintf("volume %.1fx average", ratio)
	}
	return 0.0, fmt.Sprintf("volume thin (%.1fx average)", ratio)
}

// scoreTrendStrength requires ADX above the chop threshold with the DI pair
// pointing the setup's way.
func scoreTrendStrength(in Input) (float64, string) {
	ts := in.Indicators.TrendStrength
	aligned := (in.Side == setups.SideLong && ts.PlusDI > ts.MinusDI) ||
		(in.Side == setups.SideShort && ts.MinusDI > ts.PlusDI)

	if ts.ADX >= 25 && aligned {
		return 1.0, fmt.Sprintf("strong trend (ADX %.1f) with aligned DI", ts.ADX)
	}
	if !aligned {
		return 0.0, fmt.Sprintf("DI against setup (ADX %.1f)", ts.ADX)
	}
	return 0.0, fmt.Sprintf("trend too weak (ADX %.1f)", ts.ADX)
}

// scorePricePosition requires the entry on the favorable side of the prior
// session's pivot: above for longs, below for shorts.
func scorePricePosition(in Input) (float64, string) {
	lv := in.Levels
	if lv == nil {
		return 0.5, "no session levels available"
	}

	if in.Side == setups.SideLong {
		if in.EntryPrice > lv.Pivot {
			return 1.0, "entry above pivot"
		}
		return 0.0, "entry below pivot for long"
	}
	if in.EntryPrice < lv.Pivot {
		return 1.0, "entry below pivot"
	}
	return 0.0, "entry above pivot for short"
}

// ===== HELPERS =====

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// scoreToGrade converts numerical confidence to letter grade
func scoreToGrade(score float64) string {
	if score >= 0.90 {
		return "A+"
	} else if score >= 0.85 {
		return "A"
	} else if score >= 0.75 {
		return "B+"
	} else if score >= 0.70 {
		return "B"
	} else if score >= 0.60 {
		return "C"
	} else if score >= 0.50 {
		return "D"
	}
	return "F"
}
