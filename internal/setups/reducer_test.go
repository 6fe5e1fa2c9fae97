package setups

import (
	"testing"
	"time"
)

func longSetup() Setup {
	return Setup{
		ID:         "s1",
		Symbol:     "BTCUSDT",
		Side:       SideLong,
		EntryPrice: 100,
		StopLoss:   95,
		TakeProfit: 110,
		Status:     StatusPending,
	}
}

func shortSetup() Setup {
	return Setup{
		ID:         "s2",
		Symbol:     "BTCUSDT",
		Side:       SideShort,
		EntryPrice: 100,
		StopLoss:   105,
		TakeProfit: 90,
		Status:     StatusPending,
	}
}

func obsAt(price float64, sec int) Observation {
	return Observation{
		Symbol:     "BTCUSDT",
		Price:      price,
		ObservedAt: time.Date(2024, 3, 1, 12, 0, sec, 0, time.UTC),
	}
}

func TestApplyEntryTouch(t *testing.T) {
	s, tr := Apply(longSetup(), obsAt(100, 0))

	if tr.Event != EventEntry {
		t.Fatalf("expected entry event, got %s", tr.Event)
	}
	if s.Status != StatusEntryHit {
		t.Errorf("expected status entry_hit, got %s", s.Status)
	}
	if !s.EntryHit || s.EntryHitAt == nil {
		t.Error("expected entry_hit flag and timestamp to be set")
	}
}

func TestApplyEntryToleranceBand(t *testing.T) {
	tests := []struct {
		name      string
		price     float64
		wantEntry bool
	}{
		{"exact touch", 100.0, true},
		{"inside band above", 100.005, true},
		{"inside band below", 99.995, true},
		{"band boundary", 100.01, true},
		{"outside band", 100.1, false},
		{"well outside", 101.0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, tr := Apply(longSetup(), obsAt(tt.price, 0))
			got := tr.Event == EventEntry
			if got != tt.wantEntry {
				t.Errorf("price %v: entry fired = %v, want %v", tt.price, got, tt.wantEntry)
			}
		})
	}
}

func TestApplyStopLossAfterEntry(t *testing.T) {
	s, _ := Apply(longSetup(), obsAt(100, 0))
	s, tr := Apply(s, obsAt(94.5, 1))

	if tr.Event != EventStopLoss {
		t.Fatalf("expected stop_loss_hit, got %s", tr.Event)
	}
	if s.Status != StatusSLHit {
		t.Errorf("expected status sl_hit, got %s", s.Status)
	}
	if s.Outcome == nil || *s.Outcome != OutcomeLoss {
		t.Errorf("expected outcome loss, got %v", s.Outcome)
	}
	if s.PnLPercent == nil || *s.PnLPercent != -5.5 {
		t.Errorf("expected pnl -5.50, got %v", s.PnLPercent)
	}
	if s.ClosedAt == nil || s.SLHitAt == nil {
		t.Error("expected closed_at and sl_hit_at to be stamped")
	}
}

func TestApplyTakeProfitAfterEntry(t *testing.T) {
	s, _ := Apply(longSetup(), obsAt(100, 0))
	s, tr := Apply(s, obsAt(110, 1))

	if tr.Event != EventTakeProfit {
		t.Fatalf("expected take_profit_hit, got %s", tr.Event)
	}
	if s.Outcome == nil || *s.Outcome != OutcomeWin {
		t.Errorf("expected outcome win, got %v", s.Outcome)
	}
	if s.PnLPercent == nil || *s.PnLPercent != 10.0 {
		t.Errorf("expected pnl +10.00, got %v", s.PnLPercent)
	}
}

func TestApplyShortPnL(t *testing.T) {
	s, _ := Apply(shortSetup(), obsAt(100, 0))
	s, tr := Apply(s, obsAt(90, 1))

	if tr.Event != EventTakeProfit {
		t.Fatalf("expected take_profit_hit, got %s", tr.Event)
	}
	if s.PnLPercent == nil || *s.PnLPercent != 10.0 {
		t.Errorf("short 100 -> 90 should be +10.00, got %v", s.PnLPercent)
	}
}

// A single tick satisfying both exit conditions resolves as a loss; intratick
// ordering is unknowable so the conservative side wins.
func TestApplyLossFirstTieBreak(t *testing.T) {
	s := shortSetup()
	s.Status = StatusEntryHit
	s.EntryHit = true
	s.StopLoss = 100
	s.TakeProfit = 100

	_, tr := Apply(s, obsAt(100, 1))
	if tr.Event != EventStopLoss {
		t.Errorf("both levels touched: expected stop_loss_hit, got %s", tr.Event)
	}
}

func TestApplyEntryAndExitSameTick(t *testing.T) {
	// Observation inside the entry band that also touches the target.
	s := longSetup()
	s.TakeProfit = 100.005

	s, tr := Apply(s, obsAt(100.005, 0))
	if !tr.EntryFired {
		t.Fatal("expected entry to fire on the same tick")
	}
	if tr.Event != EventTakeProfit {
		t.Fatalf("expected take_profit_hit after entry, got %s", tr.Event)
	}
	if s.Outcome == nil || *s.Outcome != OutcomeWin {
		t.Errorf("entered on the same tick: expected win, got %v", s.Outcome)
	}
}

func TestApplyPreEntryStopIsInvalidated(t *testing.T) {
	s, tr := Apply(longSetup(), obsAt(94, 0))

	if tr.Event != EventInvalidated {
		t.Fatalf("expected invalidated_before_entry, got %s", tr.Event)
	}
	if s.Status != StatusSLHit {
		t.Errorf("expected status sl_hit, got %s", s.Status)
	}
	if s.Outcome == nil || *s.Outcome != OutcomeInvalidated {
		t.Errorf("expected outcome invalidated, got %v", s.Outcome)
	}
	if s.PnLPercent != nil {
		t.Errorf("no position was opened, pnl must be nil, got %v", *s.PnLPercent)
	}
}

func TestApplyPreEntryTargetIsMissed(t *testing.T) {
	s, tr := Apply(longSetup(), obsAt(111, 0))

	if tr.Event != EventMissed {
		t.Fatalf("expected missed_before_entry, got %s", tr.Event)
	}
	if s.Outcome == nil || *s.Outcome != OutcomeMissed {
		t.Errorf("expected outcome missed, got %v", s.Outcome)
	}
	if s.PnLPercent != nil {
		t.Error("missed setup must carry no pnl")
	}
}

func TestApplyTerminalIsIdempotent(t *testing.T) {
	s, _ := Apply(longSetup(), obsAt(100, 0))
	s, _ = Apply(s, obsAt(110, 1))

	closedAt := *s.ClosedAt
	pnl := *s.PnLPercent

	// Replay the winning observation and pile on more ticks.
	for i, price := range []float64{110, 95, 120, 50} {
		var tr Transition
		s, tr = Apply(s, obsAt(price, 2+i))
		if tr.Changed() {
			t.Errorf("terminal setup transitioned on price %v: %s", price, tr.Event)
		}
	}

	if !s.ClosedAt.Equal(closedAt) {
		t.Error("closed_at moved on replay")
	}
	if *s.PnLPercent != pnl {
		t.Errorf("pnl changed on replay: %v -> %v", pnl, *s.PnLPercent)
	}
	if s.LastPrice == nil || *s.LastPrice != 50 {
		t.Error("last_price should still advance on terminal setups")
	}
}

func TestApplyFullWinningLong(t *testing.T) {
	s := Setup{
		Side:       SideLong,
		EntryPrice: 100.0,
		StopLoss:   97.0,
		TakeProfit: 110.5,
		Status:     StatusPending,
	}

	s, tr := Apply(s, obsAt(101, 0))
	if tr.Changed() {
		t.Fatalf("price above band should not transition, got %s", tr.Event)
	}

	s, tr = Apply(s, obsAt(100.005, 1))
	if tr.Event != EventEntry {
		t.Fatalf("expected entry at 100.005, got %s", tr.Event)
	}

	s, tr = Apply(s, obsAt(110.5, 2))
	if tr.Event != EventTakeProfit {
		t.Fatalf("expected take profit at 110.5, got %s", tr.Event)
	}
	if s.PnLPercent == nil || *s.PnLPercent != 10.5 {
		t.Errorf("expected pnl +10.50, got %v", s.PnLPercent)
	}
}

func TestPnLPercentRounding(t *testing.T) {
	tests := []struct {
		side  Side
		entry float64
		exit  float64
		want  float64
	}{
		{SideLong, 100, 110, 10.0},
		{SideLong, 100, 95, -5.0},
		{SideShort, 100, 90, 10.0},
		{SideShort, 100, 105, -5.0},
		{SideLong, 3, 1, -66.67},
	}
	for _, tt := range tests {
		got := PnLPercent(tt.side, tt.entry, tt.exit)
		if got != tt.want {
			t.Errorf("PnLPercent(%s, %v, %v) = %v, want %v", tt.side, tt.entry, tt.exit, got, tt.want)
		}
	}
}

func TestCheckLevels(t *testing.T) {
	tests := []struct {
		name    string
		setup   Setup
		wantErr bool
	}{
		{"valid long", Setup{Side: SideLong, EntryPrice: 100, StopLoss: 95, TakeProfit: 110}, false},
		{"valid short", Setup{Side: SideShort, EntryPrice: 100, StopLoss: 105, TakeProfit: 90}, false},
		{"long stop above entry", Setup{Side: SideLong, EntryPrice: 100, StopLoss: 101, TakeProfit: 110}, true},
		{"long target below entry", Setup{Side: SideLong, EntryPrice: 100, StopLoss: 95, TakeProfit: 99}, true},
		{"short inverted", Setup{Side: SideShort, EntryPrice: 100, StopLoss: 95, TakeProfit: 110}, true},
		{"unknown side", Setup{Side: "sideways", EntryPrice: 100, StopLoss: 95, TakeProfit: 110}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.setup.CheckLevels()
			if (err != nil) != tt.wantErr {
				t.Errorf("CheckLevels() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestObservationValidate(t *testing.T) {
	good := Observation{Symbol: "BTCUSDT", Price: 50000}
	if err := good.Validate(); err != nil {
		t.Errorf("valid observation rejected: %v", err)
	}

	for _, price := range []float64{0, -1} {
		bad := Observation{Symbol: "BTCUSDT", Price: price}
		if err := bad.Validate(); err == nil {
			t.Errorf("price %v should be rejected", price)
		}
	}
}
