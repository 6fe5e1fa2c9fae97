package indicators

import (
	"errors"
	"math"

	"setup-tracker/internal/marketdata"
)

// ErrInsufficientData is returned when fewer bars than the longest required
// lookback are supplied. Callers skip analysis for that symbol rather than
// compute with partial windows.
var ErrInsufficientData = errors.New("insufficient bars for indicator lookback")

// Default lookback periods.
const (
	ShortMAPeriod  = 20
	MediumMAPeriod = 50
	LongMAPeriod   = 200
	RSIPeriod      = 14
	ATRPeriod      = 14
	ADXPeriod      = 14
	BandsPeriod    = 20
	VolumePeriod   = 20

	MACDFastPeriod   = 12
	MACDSlowPeriod   = 26
	MACDSignalPeriod = 9
)

// MinBars is the minimum series length required for a full snapshot.
const MinBars = LongMAPeriod

// MACD holds the momentum divergence triple.
type MACD struct {
	Line      float64 `json:"line"`
	Signal    float64 `json:"signal"`
	Histogram float64 `json:"histogram"`
}

// Bands holds volatility bands around a moving average.
type Bands struct {
	Upper  float64 `json:"upper"`
	Middle float64 `json:"middle"`
	Lower  float64 `json:"lower"`
}

// TrendStrength holds the ADX value with its directional components.
type TrendStrength struct {
	ADX     float64 `json:"adx"`
	PlusDI  float64 `json:"plus_di"`
	MinusDI float64 `json:"minus_di"`
}

// Snapshot holds current-bar indicator values for a symbol.
type Snapshot struct {
	Close         float64       `json:"close"`
	Volume        float64       `json:"volume"`
	ShortMA       float64       `json:"short_ma"`
	MediumMA      float64       `json:"medium_ma"`
	LongMA        float64       `json:"long_ma"`
	RSI           float64       `json:"rsi"`
	MACD          MACD          `json:"macd"`
	Bands         Bands         `json:"bands"`
	ATR           float64       `json:"atr"`
	TrendStrength TrendStrength `json:"trend_strength"`
	AvgVolume     float64       `json:"avg_volume"`
}

// Calculate computes a full indicator snapshot from an ordered bar series
// (oldest to newest). Pure and deterministic.
func Calculate(bars []marketdata.Bar) (*Snapshot, error) {
	if len(bars) < MinBars {
		return nil, ErrInsufficientData
	}

	last := bars[len(bars)-1]

	return &Snapshot{
		Close:         last.Close,
		Volume:        last.Volume,
		ShortMA:       SMA(bars, ShortMAPeriod),
		MediumMA:      SMA(bars, MediumMAPeriod),
		LongMA:        SMA(bars, LongMAPeriod),
		RSI:           RSI(bars, RSIPeriod),
		MACD:          CalculateMACD(bars, MACDFastPeriod, MACDSlowPeriod, MACDSignalPeriod),
		Bands:         BollingerBands(bars, BandsPeriod, 2.0),
		ATR:           ATR(bars, ATRPeriod),
		TrendStrength: ADX(bars, ADXPeriod),
		AvgVolume:     AverageVolume(bars[:len(bars)-1], VolumePeriod),
	}, nil
}

// ============================================================================
// MOVING AVERAGES
// ============================================================================

// SMA calculates the simple moving average of closes over period.
func SMA(bars []marketdata.Bar, period int) float64 {
	if len(bars) < period {
		return 0
	}

	sum := 0.0
	for i := len(bars) - period; i < len(bars); i++ {
		sum += bars[i].Close
	}
	return sum / float64(period)
}

// EMA calculates the exponential moving average of closes over period.
func EMA(bars []marketdata.Bar, period int) float64 {
	if len(bars) < period {
		return 0
	}

	ema := SMA(bars[:period], period)
	multiplier := 2.0 / float64(period+1)

	for i := period; i < len(bars); i++ {
		ema = (bars[i].Close * multiplier) + (ema * (1 - multiplier))
	}
	return ema
}

// ============================================================================
// RSI
// ============================================================================

// RSI calculates the relative strength index, bounded to [0, 100].
func RSI(bars []marketdata.Bar, period int) float64 {
	if len(bars) < period+1 {
		return 50.0
	}

	gains := 0.0
	losses := 0.0
	for i := len(bars) - period; i < len(bars); i++ {
		change := bars[i].Close - bars[i-1].Close
		if change > 0 {
			gains += change
		} else {
			losses += -change
		}
	}

	avgGain := gains / float64(period)
	avgLoss := losses / float64(period)

	if avgLoss == 0 {
		return 100.0
	}

	rs := avgGain / avgLoss
	return 100 - (100 / (1 + rs))
}

// ============================================================================
// MACD
// ============================================================================

// CalculateMACD calculates the MACD line, its signal line, and the histogram.
// The signal line is the EMA of the MACD series over signalPeriod.
func CalculateMACD(bars []marketdata.Bar, fastPeriod, slowPeriod, signalPeriod int) MACD {
	if len(bars) < slowPeriod+signalPeriod {
		return MACD{}
	}

	// Build the MACD series over the last signalPeriod bars so the signal
	// line is a true EMA of MACD values rather than an approximation.
	series := make([]float64, 0, signalPeriod)
	for i := signalPeriod; i > 0; i-- {
		window := bars[:len(bars)-i+1]
		series = append(series, EMA(window, fastPeriod)-EMA(window, slowPeriod))
	}

	line := series[len(series)-1]

	signal := series[0]
	multiplier := 2.0 / float64(signalPeriod+1)
	for i := 1; i < len(series); i++ {
		signal = (series[i] * multiplier) + (signal * (1 - multiplier))
	}

	return MACD{
		Line:      line,
		Signal:    signal,
		Histogram: line - signal,
	}
}

// ============================================================================
// BOLLINGER BANDS
// ============================================================================

// BollingerBands calculates volatility bands around the period SMA.
func BollingerBands(bars []marketdata.Bar, period int, stdDevMultiplier float64) Bands {
	if len(bars) < period {
		return Bands{}
	}

	middle := SMA(bars, period)

	variance := 0.0
	for i := len(bars) - period; i < len(bars); i++ {
		diff := bars[i].Close - middle
		variance += diff * diff
	}
	stdDev := math.Sqrt(variance / float64(period))

	return Bands{
		Upper:  middle + (stdDev * stdDevMultiplier),
		Middle: middle,
		Lower:  middle - (stdDev * stdDevMultiplier),
	}
}

// ============================================================================
// ATR
// ============================================================================

// ATR calculates the average true range over period.
func ATR(bars []marketdata.Bar, period int) float64 {
	if len(bars) < period+1 {
		return 0
	}

	trSum := 0.0
	for i := len(bars) - period; i < len(bars); i++ {
		high := bars[i].High
		low := bars[i].Low
		prevClose := bars[i-1].Close

		tr := math.Max(
			high-low,
			math.Max(
				math.Abs(high-prevClose),
				math.Abs(low-prevClose),
			),
		)
		trSum += tr
	}
	return trSum / float64(period)
}

// ============================================================================
// ADX
// ============================================================================

// ADX calculates the average directional index with its +DI and -DI
// components using Wilder smoothing over the last period bars.
func ADX(bars []marketdata.Bar, period int) TrendStrength {
	if len(bars) < 2*period+1 {
		return TrendStrength{}
	}

	var trSum, plusDMSum, minusDMSum float64
	dxValues := make([]float64, 0, period)

	// One DX value per bar over the most recent period, each computed from
	// the preceding period of directional movement.
	for end := len(bars) - period; end <= len(bars); end++ {
		trSum, plusDMSum, minusDMSum = 0, 0, 0
		for i := end - period; i < end; i++ {
			high := bars[i].High
			low := bars[i].Low
			prevHigh := bars[i-1].High
			prevLow := bars[i-1].Low
			prevClose := bars[i-1].Close

			tr := math.Max(high-low, math.Max(math.Abs(high-prevClose), math.Abs(low-prevClose)))
			trSum += tr

			upMove := high - prevHigh
			downMove := prevLow - low
			if upMove > downMove && upMove > 0 {
				plusDMSum += upMove
			}
			if downMove > upMove && downMove > 0 {
				minusDMSum += downMove
			}
		}

		if trSum == 0 {
			dxValues = append(dxValues, 0)
			continue
		}
		plusDI := 100 * plusDMSum / trSum
		minusDI := 100 * minusDMSum / trSum
		if plusDI+minusDI == 0 {
			dxValues = append(dxValues, 0)
			continue
		}
		dxValues = append(dxValues, 100*math.Abs(plusDI-minusDI)/(plusDI+minusDI))
	}

	adx := 0.0
	for _, dx := range dxValues {
		adx += dx
	}
	adx /= float64(len(dxValues))

	// Final DI values come from the most recent window.
	plusDI := 0.0
	minusDI := 0.0
	if trSum > 0 {
		plusDI = 100 * plusDMSum / trSum
		minusDI = 100 * minusDMSum / trSum
	}

	return TrendStrength{
		ADX:     adx,
		PlusDI:  plusDI,
		MinusDI: minusDI,
	}
}

// ============================================================================
// VOLUME
// ============================================================================

// AverageVolume calculates the mean volume over the last period bars.
func AverageVolume(bars []marketdata.Bar, period int) float64 {
	if len(bars) == 0 {
		return 0
	}
	if len(bars) < period {
		period = len(bars)
	}

	sum := 0.0
	for i := len(bars) - period; i < len(bars); i++ {
		sum += bars[i].Volume
	}
	return sum / float64(period)
}
