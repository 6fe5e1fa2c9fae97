package indicators

import (
	"errors"
	"math"
	"testing"
	"time"

	"setup-tracker/internal/marketdata"
)

// barsFromCloses builds a flat-range bar series from close prices.
func barsFromCloses(closes ...float64) []marketdata.Bar {
	bars := make([]marketdata.Bar, len(closes))
	start := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	for i, c := range closes {
		bars[i] = marketdata.Bar{
			OpenTime:  start.Add(time.Duration(i) * time.Hour),
			CloseTime: start.Add(time.Duration(i+1) * time.Hour),
			Open:      c,
			High:      c + 1,
			Low:       c - 1,
			Close:     c,
			Volume:    1000,
		}
	}
	return bars
}

// trendingBars builds a steadily rising series long enough for a full
// snapshot.
func trendingBars(n int) []marketdata.Bar {
	closes := make([]float64, n)
	for i := range closes {
		closes[i] = 100 + float64(i)*0.5
	}
	return barsFromCloses(closes...)
}

func TestCalculateRequiresMinBars(t *testing.T) {
	_, err := Calculate(trendingBars(MinBars - 1))
	if !errors.Is(err, ErrInsufficientData) {
		t.Fatalf("expected ErrInsufficientData, got %v", err)
	}

	snap, err := Calculate(trendingBars(MinBars))
	if err != nil {
		t.Fatalf("Calculate with %d bars: %v", MinBars, err)
	}
	if snap.Close == 0 || snap.LongMA == 0 {
		t.Error("snapshot fields not populated")
	}
}

func TestSMA(t *testing.T) {
	bars := barsFromCloses(1, 2, 3, 4, 5)

	if got := SMA(bars, 5); got != 3 {
		t.Errorf("SMA(5) = %v, want 3", got)
	}
	if got := SMA(bars, 3); got != 4 {
		t.Errorf("SMA(3) over last three = %v, want 4", got)
	}
	if got := SMA(bars, 6); got != 0 {
		t.Errorf("SMA with short series = %v, want 0", got)
	}
}

func TestEMAConvergesToConstant(t *testing.T) {
	closes := make([]float64, 50)
	for i := range closes {
		closes[i] = 42
	}
	if got := EMA(barsFromCloses(closes...), 10); math.Abs(got-42) > 1e-9 {
		t.Errorf("EMA of constant series = %v, want 42", got)
	}
}

func TestRSIBounds(t *testing.T) {
	// Monotonic rise: no losses, RSI pegs at 100.
	up := barsFromCloses(1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16)
	if got := RSI(up, 14); got != 100 {
		t.Errorf("RSI of pure uptrend = %v, want 100", got)
	}

	// Monotonic fall: no gains.
	down := barsFromCloses(16, 15, 14, 13, 12, 11, 10, 9, 8, 7, 6, 5, 4, 3, 2, 1)
	if got := RSI(down, 14); got != 0 {
		t.Errorf("RSI of pure downtrend = %v, want 0", got)
	}

	// Short series returns the neutral default.
	if got := RSI(barsFromCloses(1, 2, 3), 14); got != 50 {
		t.Errorf("RSI of short series = %v, want 50", got)
	}
}

func TestRSIIsBounded(t *testing.T) {
	bars := trendingBars(60)
	// Mix in pullbacks.
	for i := 10; i < 60; i += 7 {
		bars[i].Close -= 3
	}
	got := RSI(bars, 14)
	if got < 0 || got > 100 {
		t.Errorf("RSI = %v, out of [0, 100]", got)
	}
}

func TestMACDUptrendHistogram(t *testing.T) {
	// Accelerating rise keeps the fast EMA above the slow one.
	closes := make([]float64, 60)
	for i := range closes {
		closes[i] = 100 + float64(i)*float64(i)*0.01
	}
	macd := CalculateMACD(barsFromCloses(closes...), 12, 26, 9)
	if macd.Line <= 0 {
		t.Errorf("MACD line in accelerating uptrend = %v, want > 0", macd.Line)
	}
	if macd.Line-macd.Signal != macd.Histogram {
		t.Errorf("histogram %v != line - signal %v", macd.Histogram, macd.Line-macd.Signal)
	}
}

func TestBollingerBandsConstantSeries(t *testing.T) {
	closes := make([]float64, 25)
	for i := range closes {
		closes[i] = 50
	}
	bands := BollingerBands(barsFromCloses(closes...), 20, 2.0)
	if bands.Middle != 50 || bands.Upper != 50 || bands.Lower != 50 {
		t.Errorf("zero-variance bands = %+v, want all 50", bands)
	}
}

func TestATRFlatRange(t *testing.T) {
	// Every bar spans high = close+1, low = close-1 around a constant close,
	// so the true range is exactly 2.
	closes := make([]float64, 20)
	for i := range closes {
		closes[i] = 100
	}
	if got := ATR(barsFromCloses(closes...), 14); got != 2 {
		t.Errorf("ATR of constant 2-wide bars = %v, want 2", got)
	}
}

func TestADXDirectionalAlignment(t *testing.T) {
	ts := ADX(trendingBars(60), 14)
	if ts.PlusDI <= ts.MinusDI {
		t.Errorf("uptrend: +DI (%v) should exceed -DI (%v)", ts.PlusDI, ts.MinusDI)
	}
	if ts.ADX < 0 || ts.ADX > 100 {
		t.Errorf("ADX = %v, out of [0, 100]", ts.ADX)
	}
}

func TestAverageVolume(t *testing.T) {
	bars := barsFromCloses(1, 2, 3, 4)
	for i := range bars {
		bars[i].Volume = float64((i + 1) * 100)
	}
	if got := AverageVolume(bars, 2); got != 350 {
		t.Errorf("AverageVolume over last 2 = %v, want 350", got)
	}
	// Period longer than the series averages what exists.
	if got := AverageVolume(bars, 10); got != 250 {
		t.Errorf("AverageVolume with short series = %v, want 250", got)
	}
}
