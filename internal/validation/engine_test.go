package validation

import (
	"math"
	"testing"
	"time"

	"setup-tracker/internal/indicators"
	"setup-tracker/internal/levels"
	"setup-tracker/internal/marketdata"
	"setup-tracker/internal/setups"
)

// bullishInput builds a long candidate where every factor scores its maximum.
func bullishInput() Input {
	lv := levels.Calculate(marketdata.SessionBar{
		High:  108,
		Low:   96,
		Close: 102,
	}, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC))
	// pivot = 102.0, R1 = 108, S1 = 96

	return Input{
		Side:       setups.SideLong,
		EntryPrice: 104, // between pivot and R1
		StopLoss:   101, // 1.5x ATR away
		TakeProfit: 112,
		Price:      104,
		Indicators: &indicators.Snapshot{
			Close:     104,
			Volume:    2500,
			ShortMA:   103,
			MediumMA:  101,
			LongMA:    98,
			RSI:       62,
			MACD:      indicators.MACD{Line: 1.2, Signal: 0.8, Histogram: 0.4},
			ATR:       2.0,
			AvgVolume: 1000,
			TrendStrength: indicators.TrendStrength{
				ADX: 32, PlusDI: 28, MinusDI: 14,
			},
		},
		Levels: lv,
	}
}

func TestValidateAcceptsAlignedLong(t *testing.T) {
	engine := NewEngine(0.70)
	report := engine.Validate(bullishInput())

	if !report.Passed {
		t.Fatalf("fully aligned long rejected, confidence %.4f", report.Confidence)
	}
	if report.Confidence != 1.0 {
		t.Errorf("expected confidence 1.0, got %.4f", report.Confidence)
	}
	if report.Grade != "A+" {
		t.Errorf("expected grade A+, got %s", report.Grade)
	}
	if len(report.Factors) != 6 {
		t.Fatalf("expected 6 factor scores, got %d", len(report.Factors))
	}

	var weightSum float64
	for _, f := range report.Factors {
		weightSum += f.Weight
		if f.Reason == "" {
			t.Errorf("factor %s has no reason", f.Name)
		}
	}
	if math.Abs(weightSum-1.0) > 1e-9 {
		t.Errorf("weights sum to %.4f, want 1.0", weightSum)
	}
}

func TestValidateRejectsMisalignedTrend(t *testing.T) {
	in := bullishInput()
	// Flip the trend: MAs stacked bearish, price under the long MA, momentum
	// rolled over. The composite must fall below the default threshold.
	in.Indicators.ShortMA = 96
	in.Indicators.MediumMA = 99
	in.Indicators.LongMA = 105
	in.Indicators.Close = 95
	in.Indicators.RSI = 35
	in.Indicators.MACD.Histogram = -0.5
	in.Indicators.TrendStrength = indicators.TrendStrength{ADX: 30, PlusDI: 12, MinusDI: 26}

	engine := NewEngine(0.70)
	report := engine.Validate(in)

	if report.Passed {
		t.Fatalf("misaligned long accepted with confidence %.4f", report.Confidence)
	}
	for _, f := range report.Factors {
		if f.Name == "trend" && f.Score != 0 {
			t.Errorf("trend score = %.2f against stacked bearish MAs, want 0", f.Score)
		}
	}
}

func TestValidatePartiallyStackedTrendEarnsNothing(t *testing.T) {
	in := bullishInput()
	// Short MA above medium, but medium below long: not fully stacked. The
	// trend factor must award zero, not a reduced fraction of its weight.
	in.Indicators.LongMA = 105

	report := NewEngine(0.70).Validate(in)

	for _, f := range report.Factors {
		if f.Name == "trend" {
			if f.Score != 0 || f.Weighted != 0 {
				t.Errorf("partially stacked trend: score %.2f weighted %.4f, want 0", f.Score, f.Weighted)
			}
		}
		if f.Score != 0 && f.Score != 0.5 && f.Score != 1.0 {
			t.Errorf("factor %s score = %.2f, want all-or-nothing", f.Name, f.Score)
		}
	}
	// Every other factor is satisfied, so confidence is the sum of the
	// remaining weights.
	if report.Confidence != 0.75 {
		t.Errorf("confidence = %.4f, want 0.75 without the trend weight", report.Confidence)
	}
}

func TestValidateShortMirror(t *testing.T) {
	in := bullishInput()
	in.Side = setups.SideShort
	in.EntryPrice = 100 // between S1 and pivot for a short
	in.StopLoss = 103
	in.TakeProfit = 94
	in.Indicators.ShortMA = 96
	in.Indicators.MediumMA = 99
	in.Indicators.LongMA = 105
	in.Indicators.Close = 97
	in.Indicators.RSI = 38
	in.Indicators.MACD.Histogram = -0.4
	in.Indicators.TrendStrength = indicators.TrendStrength{ADX: 32, PlusDI: 12, MinusDI: 28}

	report := NewEngine(0.70).Validate(in)
	if !report.Passed {
		t.Fatalf("aligned short rejected, confidence %.4f", report.Confidence)
	}
}

func TestValidateIsDeterministic(t *testing.T) {
	engine := NewEngine(0.70)
	in := bullishInput()

	first := engine.Validate(in)
	for i := 0; i < 5; i++ {
		again := engine.Validate(in)
		if again.Confidence != first.Confidence || again.Passed != first.Passed {
			t.Fatalf("run %d: confidence %.4f != %.4f", i, again.Confidence, first.Confidence)
		}
	}
}

func TestValidateMissingLevelsIsNeutral(t *testing.T) {
	in := bullishInput()
	in.Levels = nil

	report := NewEngine(0.70).Validate(in)
	for _, f := range report.Factors {
		if f.Name == "price_position" && f.Score != 0.5 {
			t.Errorf("price_position without levels = %.2f, want 0.5", f.Score)
		}
	}
}

func TestSetFactorsRejectsBadWeights(t *testing.T) {
	engine := NewEngine(0.70)

	err := engine.SetFactors([]Factor{
		{Name: "a", Weight: 0.5, Score: func(Input) (float64, string) { return 1, "" }},
		{Name: "b", Weight: 0.3, Score: func(Input) (float64, string) { return 1, "" }},
	})
	if err == nil {
		t.Fatal("weights summing to 0.8 must be rejected")
	}

	err = engine.SetFactors([]Factor{
		{Name: "only", Weight: 1.0, Score: func(Input) (float64, string) { return 0.9, "fixed" }},
	})
	if err != nil {
		t.Fatalf("valid factor list rejected: %v", err)
	}
	report := engine.Validate(bullishInput())
	if report.Confidence != 0.9 {
		t.Errorf("single factor confidence = %.4f, want 0.9", report.Confidence)
	}
}

func TestScoreToGrade(t *testing.T) {
	tests := []struct {
		score float64
		want  string
	}{
		{0.95, "A+"},
		{0.87, "A"},
		{0.78, "B+"},
		{0.71, "B"},
		{0.65, "C"},
		{0.55, "D"},
		{0.30, "F"},
	}
	for _, tt := range tests {
		if got := scoreToGrade(tt.score); got != tt.want {
			t.Errorf("scoreToGrade(%.2f) = %s, want %s", tt.score, got, tt.want)
		}
	}
}
