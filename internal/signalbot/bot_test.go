package signalbot

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"setup-tracker/internal/marketdata"
	"setup-tracker/internal/risk"
	"setup-tracker/internal/setups"
	"setup-tracker/internal/validation"
)

// fakeStore implements both the bot's Repository and the lifecycle engine's,
// so a sweep runs end to end against one in-memory state.
type fakeStore struct {
	mu      sync.Mutex
	setups  map[string]setups.Setup
	signals []*Signal
}

func newFakeStore() *fakeStore {
	return &fakeStore{setups: make(map[string]setups.Setup)}
}

func (f *fakeStore) put(s setups.Setup) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s.Version == 0 {
		s.Version = 1
	}
	f.setups[s.ID] = s
}

func (f *fakeStore) CreateSetup(_ context.Context, s *setups.Setup) error {
	if s.ID == "" {
		s.ID = "planned"
	}
	s.Version = 1
	f.put(*s)
	return nil
}

func (f *fakeStore) GetSetupByID(_ context.Context, id string) (*setups.Setup, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.setups[id]
	if !ok {
		return nil, setups.ErrSetupNotFound
	}
	dup := s
	return &dup, nil
}

func (f *fakeStore) GetOpenSetupsBySymbol(_ context.Context, symbol string) ([]*setups.Setup, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*setups.Setup
	for _, s := range f.setups {
		if s.Symbol == symbol && !s.Status.IsTerminal() {
			dup := s
			out = append(out, &dup)
		}
	}
	return out, nil
}

func (f *fakeStore) UpdateSetupVersioned(_ context.Context, s *setups.Setup) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	stored, ok := f.setups[s.ID]
	if !ok {
		return setups.ErrSetupNotFound
	}
	if stored.Version != s.Version {
		return setups.ErrConcurrentModification
	}
	s.Version++
	f.setups[s.ID] = *s
	return nil
}

func (f *fakeStore) ArchiveSetup(_ context.Context, id string) error { return nil }

func (f *fakeStore) InsertSignal(_ context.Context, s *Signal) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.signals = append(f.signals, s)
	return nil
}

func (f *fakeStore) GetActiveSymbols(_ context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	seen := make(map[string]bool)
	var out []string
	for _, s := range f.setups {
		if !s.Status.IsTerminal() && !seen[s.Symbol] {
			seen[s.Symbol] = true
			out = append(out, s.Symbol)
		}
	}
	return out, nil
}

func (f *fakeStore) signalTypes() []SignalType {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]SignalType, len(f.signals))
	for i, s := range f.signals {
		out[i] = s.SignalType
	}
	return out
}

// fakeProvider serves a fixed rising series.
type fakeProvider struct {
	lastClose float64
}

func (p *fakeProvider) GetBars(_ context.Context, _ string, limit int) ([]marketdata.Bar, error) {
	bars := make([]marketdata.Bar, limit)
	start := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	step := (p.lastClose - 100) / float64(limit-1)
	for i := range bars {
		c := 100 + step*float64(i)
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
	return bars, nil
}

func (p *fakeProvider) GetPriorSession(_ context.Context, _ string) (marketdata.SessionBar, error) {
	return marketdata.SessionBar{High: p.lastClose + 5, Low: 95, Close: p.lastClose - 2}, nil
}

func newTestBot(store *fakeStore, lastClose float64) *Bot {
	engine := setups.NewEngine(store, nil, zerolog.Nop())
	validator := validation.NewEngine(0) // accept everything for sweep wiring tests
	riskMgr := risk.NewManager(risk.DefaultConfig())
	riskMgr.UpdateEquity(10000)
	return NewBot(store, engine, validator, riskMgr, nil, &fakeProvider{lastClose: lastClose}, nil, Config{
		Enabled:       true,
		SweepInterval: time.Minute,
		WorkerCount:   1,
		MinConfidence: 0,
	}, zerolog.Nop())
}

func TestTryLockNoOverlap(t *testing.T) {
	bot := newTestBot(newFakeStore(), 110)

	if !bot.tryLock("BTCUSDT") {
		t.Fatal("first lock refused")
	}
	if bot.tryLock("BTCUSDT") {
		t.Fatal("second lock on in-flight symbol succeeded")
	}
	if !bot.tryLock("ETHUSDT") {
		t.Fatal("different symbol blocked")
	}
	bot.unlock("BTCUSDT")
	if !bot.tryLock("BTCUSDT") {
		t.Fatal("lock refused after unlock")
	}
}

func TestSweepSymbolSkipsWhenInFlight(t *testing.T) {
	store := newFakeStore()
	store.put(setups.Setup{
		ID: "s1", Symbol: "BTCUSDT", Side: setups.SideLong,
		EntryPrice: 105, StopLoss: 100, TakeProfit: 115,
		Status: setups.StatusPending,
	})
	bot := newTestBot(store, 110)

	bot.tryLock("BTCUSDT")
	bot.sweepSymbol(context.Background(), "BTCUSDT")

	if len(store.signals) != 0 {
		t.Fatalf("in-flight symbol produced %d signals", len(store.signals))
	}
}

func TestSweepSymbolEntryAdvice(t *testing.T) {
	store := newFakeStore()
	// Pending setup whose levels are not touched by the sweep price.
	store.put(setups.Setup{
		ID: "s1", Symbol: "BTCUSDT", Side: setups.SideLong,
		EntryPrice: 105, StopLoss: 100, TakeProfit: 115,
		Status: setups.StatusPending,
	})
	bot := newTestBot(store, 110)

	bot.sweepSymbol(context.Background(), "BTCUSDT")

	var entries int
	for _, sig := range store.signals {
		if sig.SignalType == SignalEntry && sig.SetupID == "s1" {
			entries++
		}
	}
	if entries != 1 {
		t.Fatalf("expected 1 entry signal, got %d (all: %v)", entries, store.signalTypes())
	}

	// A second sweep must not re-advise the same setup.
	bot.sweepSymbol(context.Background(), "BTCUSDT")
	entries = 0
	for _, sig := range store.signals {
		if sig.SignalType == SignalEntry {
			entries++
		}
	}
	if entries != 1 {
		t.Fatalf("entry advice repeated: %d signals", entries)
	}
}

func TestSweepSymbolTakeProfitSignal(t *testing.T) {
	store := newFakeStore()
	// Entered setup whose target sits below the sweep price.
	store.put(setups.Setup{
		ID: "s2", Symbol: "BTCUSDT", Side: setups.SideLong,
		EntryPrice: 100, StopLoss: 95, TakeProfit: 109,
		Status: setups.StatusEntryHit, EntryHit: true,
	})
	bot := newTestBot(store, 110)

	bot.sweepSymbol(context.Background(), "BTCUSDT")

	types := store.signalTypes()
	if len(types) != 1 || types[0] != SignalTakeProfit {
		t.Fatalf("expected a single take_profit signal, got %v", types)
	}

	stored, _ := store.GetSetupByID(context.Background(), "s2")
	if stored.Status != setups.StatusTPHit {
		t.Errorf("setup status = %s, want tp_hit", stored.Status)
	}
}

func TestSweepSymbolBreakEvenAdvice(t *testing.T) {
	store := newFakeStore()
	// Entered long halfway to its target at the sweep price of 110:
	// entry 104, target 116 -> break-even trigger at 110.
	store.put(setups.Setup{
		ID: "s3", Symbol: "BTCUSDT", Side: setups.SideLong,
		EntryPrice: 104, StopLoss: 98, TakeProfit: 116,
		Status: setups.StatusEntryHit, EntryHit: true,
	})
	bot := newTestBot(store, 110)

	bot.sweepSymbol(context.Background(), "BTCUSDT")

	var breakEvens int
	for _, sig := range store.signals {
		if sig.SignalType == SignalBreakEven && sig.SetupID == "s3" {
			breakEvens++
		}
	}
	if breakEvens != 1 {
		t.Fatalf("expected 1 break_even signal, got %d (all: %v)", breakEvens, store.signalTypes())
	}
}

func TestStartDisabledBotDoesNothing(t *testing.T) {
	store := newFakeStore()
	bot := newTestBot(store, 110)
	bot.config.Enabled = false

	bot.Start()
	bot.Stop()

	if len(store.signals) != 0 {
		t.Errorf("disabled bot emitted signals")
	}
}
