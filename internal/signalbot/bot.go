package signalbot

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"setup-tracker/internal/alerts"
	"setup-tracker/internal/events"
	"setup-tracker/internal/indicators"
	"setup-tracker/internal/levels"
	"setup-tracker/internal/marketdata"
	"setup-tracker/internal/planner"
	"setup-tracker/internal/risk"
	"setup-tracker/internal/setups"
	"setup-tracker/internal/validation"
)

// SignalType classifies what a signal advises.
type SignalType string

const (
	SignalEntry      SignalType = "entry"
	SignalTakeProfit SignalType = "take_profit"
	SignalStopLoss   SignalType = "stop_loss"
	SignalBreakEven  SignalType = "break_even"
)

// Signal is an ephemeral decision record. A downstream executor consumes it
// once and marks it executed.
type Signal struct {
	ID         string     `json:"id"`
	SetupID    string     `json:"setup_id"`
	Symbol     string     `json:"symbol"`
	SignalType SignalType `json:"signal_type"`
	Price      float64    `json:"price"`
	Confidence float64    `json:"confidence"`
	Executed   bool       `json:"executed"`
	CreatedAt  time.Time  `json:"created_at"`
	ExecutedAt *time.Time `json:"executed_at,omitempty"`
}

// Repository is the signal persistence surface plus the setup reads the
// sweep needs.
type Repository interface {
	InsertSignal(ctx context.Context, s *Signal) error
	GetActiveSymbols(ctx context.Context) ([]string, error)
	GetOpenSetupsBySymbol(ctx context.Context, symbol string) ([]*setups.Setup, error)
}

// Config holds signal bot configuration
type Config struct {
	Enabled       bool
	SweepInterval time.Duration
	WorkerCount   int
	MinConfidence float64
}

// Bot is the periodic orchestrator: on each sweep it recomputes indicators
// and levels per active symbol, drives the lifecycle engine with the latest
// price, runs validation on pending setups, and emits advisory signals.
type Bot struct {
	repo       Repository
	engine     *setups.Engine
	validator  *validation.Engine
	riskMgr    *risk.Manager
	alertEng   *alerts.Engine
	provider   marketdata.BarProvider
	levelCache *levels.Cache
	bus        *events.EventBus
	planners   []planner.Planner
	config     Config
	logger     zerolog.Logger

	stopChan chan struct{}
	wg       sync.WaitGroup

	mu       sync.Mutex
	inFlight map[string]bool // symbols with a sweep currently running
	advised  map[string]bool // setup ids already given an entry/break-even signal
}

// NewBot creates a signal bot.
func NewBot(
	repo Repository,
	engine *setups.Engine,
	validator *validation.Engine,
	riskMgr *risk.Manager,
	alertEng *alerts.Engine,
	provider marketdata.BarProvider,
	bus *events.EventBus,
	config Config,
	logger zerolog.Logger,
) *Bot {
	if config.WorkerCount <= 0 {
		config.WorkerCount = 4
	}
	if config.SweepInterval <= 0 {
		config.SweepInterval = 60 * time.Second
	}
	return &Bot{
		repo:       repo,
		engine:     engine,
		validator:  validator,
		riskMgr:    riskMgr,
		alertEng:   alertEng,
		provider:   provider,
		levelCache: levels.NewCache(provider),
		bus:        bus,
		config:     config,
		logger:     logger.With().Str("component", "signalbot").Logger(),
		stopChan:   make(chan struct{}),
		inFlight:   make(map[string]bool),
		advised:    make(map[string]bool),
	}
}

// rangeDetector is implemented by planners that track a consolidation range.
type rangeDetector interface {
	Window(bars []marketdata.Bar) (high, low float64, ok bool)
}

// SetPlanners registers the planners the sweep runs for candidate discovery.
// Must be called before Start.
func (b *Bot) SetPlanners(planners ...planner.Planner) {
	b.planners = planners
}

// Start begins the background sweep loop.
func (b *Bot) Start() {
	if !b.config.Enabled {
		b.logger.Info().Msg("signal bot is disabled")
		return
	}

	b.wg.Add(1)
	go b.runSweepLoop()
	b.logger.Info().Dur("interval", b.config.SweepInterval).Msg("signal bot started")
}

// Stop gracefully shuts down the bot.
func (b *Bot) Stop() {
	close(b.stopChan)
	b.wg.Wait()
}

func (b *Bot) runSweepLoop() {
	defer b.wg.Done()

	ticker := time.NewTicker(b.config.SweepInterval)
	defer ticker.Stop()

	// Run immediately
	b.Sweep()

	for {
		select {
		case <-ticker.C:
			b.Sweep()
		case <-b.stopChan:
			b.logger.Info().Msg("signal bot stopped")
			return
		}
	}
}

// Sweep runs one full cycle over all active symbols. A symbol whose previous
// sweep is still running is skipped rather than overlapped; different
// symbols sweep concurrently through the worker pool.
func (b *Bot) Sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	symbols, err := b.repo.GetActiveSymbols(ctx)
	if err != nil {
		b.logger.Error().Err(err).Msg("listing active symbols")
		return
	}
	if len(symbols) == 0 {
		return
	}

	start := time.Now()
	symbolChan := make(chan string, len(symbols))
	var wg sync.WaitGroup

	for i := 0; i < b.config.WorkerCount; i++ {
		wg.Add(1)
		go b.worker(ctx, symbolChan, &wg)
	}

	for _, symbol := range symbols {
		symbolChan <- symbol
	}
	close(symbolChan)
	wg.Wait()

	b.logger.Debug().
		Int("symbols", len(symbols)).
		Dur("duration", time.Since(start)).
		Msg("sweep completed")
}

func (b *Bot) worker(ctx context.Context, symbolChan <-chan string, wg *sync.WaitGroup) {
	defer wg.Done()

	for symbol := range symbolChan {
		select {
		case <-ctx.Done():
			return
		default:
			b.sweepSymbol(ctx, symbol)
		}
	}
}

// sweepSymbol runs the per-symbol cycle: market data, lifecycle, alerts,
// then advisory signals.
func (b *Bot) sweepSymbol(ctx context.Context, symbol string) {
	if !b.tryLock(symbol) {
		b.logger.Debug().Str("symbol", symbol).Msg("previous sweep still running, skipping")
		return
	}
	defer b.unlock(symbol)

	bars, err := b.provider.GetBars(ctx, symbol, indicators.MinBars)
	if err != nil {
		b.logger.Warn().Err(err).Str("symbol", symbol).Msg("no bars for sweep")
		return
	}
	snap, err := indicators.Calculate(bars)
	if err != nil {
		b.logger.Warn().Err(err).Str("symbol", symbol).Msg("indicator calculation failed")
		return
	}

	last := bars[len(bars)-1]
	obs := setups.Observation{Symbol: symbol, Price: last.Close, ObservedAt: last.CloseTime}

	// Session-checked so a rollover mid-sweep never reuses yesterday's pivots.
	lv, lvErr := b.levelCache.ForSymbol(ctx, symbol, obs.ObservedAt)
	if lvErr != nil {
		lv = nil
	}

	// Lifecycle first: the sweep price is an observation like any other.
	results, err := b.engine.ProcessObservation(ctx, obs)
	if err != nil {
		b.logger.Error().Err(err).Str("symbol", symbol).Msg("lifecycle processing failed")
		return
	}
	for _, r := range results {
		switch r.Event {
		case setups.EventStopLoss:
			b.emit(ctx, r.SetupID, symbol, SignalStopLoss, obs.Price, 1.0)
		case setups.EventTakeProfit:
			b.emit(ctx, r.SetupID, symbol, SignalTakeProfit, obs.Price, 1.0)
		}
	}

	if b.alertEng != nil {
		// Refresh the consolidation range before checking so range-break and
		// retest conditions see current structure.
		for _, p := range b.planners {
			if rd, ok := p.(rangeDetector); ok {
				if high, low, found := rd.Window(bars); found {
					b.alertEng.SetRange(symbol, high, low, obs.ObservedAt)
				}
			}
		}
		if lv != nil {
			if _, err := b.alertEng.Check(ctx, symbol, obs.Price, obs.ObservedAt, lv); err != nil {
				b.logger.Warn().Err(err).Str("symbol", symbol).Msg("alert check failed")
			}
		}
	}

	open, err := b.repo.GetOpenSetupsBySymbol(ctx, symbol)
	if err != nil {
		b.logger.Error().Err(err).Str("symbol", symbol).Msg("loading open setups")
		return
	}

	for _, s := range open {
		switch s.Status {
		case setups.StatusPending:
			b.adviseEntry(ctx, s, snap, lv, obs.Price)
		case setups.StatusEntryHit:
			b.adviseBreakEven(ctx, s, obs.Price)
		}
	}

	if len(b.planners) > 0 {
		b.proposeCandidates(ctx, symbol, bars, snap, lv, open)
	}
}

// proposeCandidates runs the planners and creates setups for candidates that
// clear validation and risk gates. At most one open setup per
// (symbol, strategy) at a time.
func (b *Bot) proposeCandidates(ctx context.Context, symbol string, bars []marketdata.Bar, snap *indicators.Snapshot, lv *levels.Levels, open []*setups.Setup) {
	openStrategies := make(map[string]bool, len(open))
	for _, s := range open {
		openStrategies[s.Strategy] = true
	}

	for _, p := range b.planners {
		if openStrategies[p.Name()] {
			continue
		}
		for _, cand := range p.Plan(symbol, bars, snap, lv) {
			if ok, reason := b.riskMgr.CanOpenSetup(len(open)); !ok {
				b.logger.Debug().Str("symbol", symbol).Str("reason", reason).Msg("skipping candidate")
				return
			}

			report := b.validator.Validate(validation.Input{
				Side:       cand.Side,
				EntryPrice: cand.EntryPrice,
				StopLoss:   cand.StopLoss,
				TakeProfit: cand.TakeProfit,
				Price:      snap.Close,
				Indicators: snap,
				Levels:     lv,
			})
			if !report.Passed || report.Confidence < b.config.MinConfidence {
				continue
			}

			plan, err := b.riskMgr.BuildPlan(cand.Side, cand.EntryPrice, cand.StopLoss, cand.TakeProfit)
			if err != nil {
				continue
			}

			s := &setups.Setup{
				Symbol:       cand.Symbol,
				Strategy:     cand.Strategy,
				Side:         cand.Side,
				EntryPrice:   cand.EntryPrice,
				StopLoss:     cand.StopLoss,
				TakeProfit:   cand.TakeProfit,
				Confidence:   report.Confidence,
				PositionSize: &plan.PositionSize,
				RiskReward:   &plan.RiskReward,
			}
			if err := b.engine.Create(ctx, s); err != nil {
				b.logger.Error().Err(err).Str("symbol", symbol).Msg("creating planned setup")
				continue
			}

			open = append(open, s)
			openStrategies[cand.Strategy] = true
			b.logger.Info().
				Str("symbol", symbol).
				Str("strategy", cand.Strategy).
				Str("side", string(cand.Side)).
				Float64("confidence", report.Confidence).
				Msg("planned setup created")
			break // one candidate per planner per sweep
		}
	}
}

// adviseEntry re-validates a pending setup against current conditions and
// emits a one-time entry signal when it clears the threshold. Advisory only:
// the lifecycle engine's entry-touch check is the authoritative trigger.
func (b *Bot) adviseEntry(ctx context.Context, s *setups.Setup, snap *indicators.Snapshot, lv *levels.Levels, price float64) {
	if b.alreadyAdvised(adviceKey(s.ID, SignalEntry)) {
		return
	}

	report := b.validator.Validate(validation.Input{
		Side:       s.Side,
		EntryPrice: s.EntryPrice,
		StopLoss:   s.StopLoss,
		TakeProfit: s.TakeProfit,
		Price:      price,
		Indicators: snap,
		Levels:     lv,
	})
	if !report.Passed || report.Confidence < b.config.MinConfidence {
		return
	}

	b.markAdvised(adviceKey(s.ID, SignalEntry))
	b.emit(ctx, s.ID, s.Symbol, SignalEntry, price, report.Confidence)
}

// adviseBreakEven emits a one-time break-even signal once price has covered
// enough of the planned move.
func (b *Bot) adviseBreakEven(ctx context.Context, s *setups.Setup, price float64) {
	if b.riskMgr == nil || b.alreadyAdvised(adviceKey(s.ID, SignalBreakEven)) {
		return
	}
	if !b.riskMgr.BreakEvenReached(s.Side, s.EntryPrice, s.TakeProfit, price) {
		return
	}

	b.markAdvised(adviceKey(s.ID, SignalBreakEven))
	b.emit(ctx, s.ID, s.Symbol, SignalBreakEven, price, s.Confidence)
}

// emit persists a signal and publishes it.
func (b *Bot) emit(ctx context.Context, setupID, symbol string, signalType SignalType, price, confidence float64) {
	signal := &Signal{
		ID:         uuid.New().String(),
		SetupID:    setupID,
		Symbol:     symbol,
		SignalType: signalType,
		Price:      price,
		Confidence: confidence,
		CreatedAt:  time.Now().UTC(),
	}
	if err := b.repo.InsertSignal(ctx, signal); err != nil {
		b.logger.Error().Err(err).Str("setup_id", setupID).Msg("inserting signal")
		return
	}

	b.logger.Info().
		Str("setup_id", setupID).
		Str("symbol", symbol).
		Str("signal_type", string(signalType)).
		Float64("price", price).
		Msg("signal emitted")

	if b.bus != nil {
		b.bus.PublishSignalEmitted(signal.ID, setupID, symbol, string(signalType), price, confidence)
	}
}

func (b *Bot) tryLock(symbol string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.inFlight[symbol] {
		return false
	}
	b.inFlight[symbol] = true
	return true
}

func (b *Bot) unlock(symbol string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.inFlight, symbol)
}

func (b *Bot) alreadyAdvised(key string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.advised[key]
}

func (b *Bot) markAdvised(key string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.advised[key] = true
}

func adviceKey(setupID string, t SignalType) string {
	return setupID + ":" + string(t)
}
