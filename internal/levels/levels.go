package levels

import (
	"errors"
	"time"

	"setup-tracker/internal/marketdata"
)

// ErrStaleLevels is returned when levels computed for a previous session are
// requested for a different session date.
var ErrStaleLevels = errors.New("levels are stale for the requested session")

// Levels holds the prior-session reference prices and the floor-trader pivot
// ladder derived from them. Recomputed once per session.
type Levels struct {
	SessionDate time.Time `json:"session_date"`

	PriorHigh  float64 `json:"prior_high"`
	PriorLow   float64 `json:"prior_low"`
	PriorClose float64 `json:"prior_close"`

	Pivot float64 `json:"pivot"`
	R1    float64 `json:"r1"`
	R2    float64 `json:"r2"`
	S1    float64 `json:"s1"`
	S2    float64 `json:"s2"`
}

// Calculate derives daily reference levels from the most recently completed
// session using the standard floor-trader formula. sessionDate is the date
// the levels are valid for (the session after the input bar).
func Calculate(prior marketdata.SessionBar, sessionDate time.Time) *Levels {
	pivot := (prior.High + prior.Low + prior.Close) / 3

	return &Levels{
		SessionDate: marketdata.SessionDate(sessionDate),
		PriorHigh:   prior.High,
		PriorLow:    prior.Low,
		PriorClose:  prior.Close,
		Pivot:       pivot,
		R1:          2*pivot - prior.Low,
		S1:          2*pivot - prior.High,
		R2:          pivot + (prior.High - prior.Low),
		S2:          pivot - (prior.High - prior.Low),
	}
}

// ForSession returns the levels if they are valid for the given timestamp's
// session, or ErrStaleLevels otherwise. Downstream components must call this
// rather than reading a cached Levels directly.
func (l *Levels) ForSession(at time.Time) (*Levels, error) {
	if !marketdata.SessionDate(at).Equal(l.SessionDate) {
		return nil, ErrStaleLevels
	}
	return l, nil
}
