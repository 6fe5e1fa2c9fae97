package setups

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"setup-tracker/internal/events"
)

// Repository defines the persistence interface the engine needs. The
// conditional update is the per-setup exclusivity guarantee: the write only
// lands if the row's version is unchanged since the read.
type Repository interface {
	CreateSetup(ctx context.Context, s *Setup) error
	GetSetupByID(ctx context.Context, id string) (*Setup, error)
	GetOpenSetupsBySymbol(ctx context.Context, symbol string) ([]*Setup, error)
	// UpdateSetupVersioned persists s where the stored version equals
	// s.Version, incrementing it. Returns ErrConcurrentModification when the
	// row changed underneath, ErrSetupNotFound when the id is unknown.
	UpdateSetupVersioned(ctx context.Context, s *Setup) error
	ArchiveSetup(ctx context.Context, id string) error
}

// Result is the outcome of applying one observation to one setup, suitable
// for returning to a webhook caller.
type Result struct {
	SetupID    string   `json:"setup_id"`
	Symbol     string   `json:"symbol"`
	From       Status   `json:"from"`
	To         Status   `json:"to"`
	Event      Event    `json:"event"`
	Outcome    *Outcome `json:"outcome,omitempty"`
	PnLPercent *float64 `json:"pnl_percent,omitempty"`
	Message    string   `json:"message"`
}

// Engine applies price observations to persisted setups. All mutation of a
// setup after creation goes through here; both the webhook path and the
// signal bot sweep call the same transition function.
type Engine struct {
	repo   Repository
	bus    *events.EventBus
	logger zerolog.Logger
}

// NewEngine creates a lifecycle engine.
func NewEngine(repo Repository, bus *events.EventBus, logger zerolog.Logger) *Engine {
	return &Engine{
		repo:   repo,
		bus:    bus,
		logger: logger.With().Str("component", "lifecycle").Logger(),
	}
}

// Create validates the setup's level invariant and persists it as pending.
func (e *Engine) Create(ctx context.Context, s *Setup) error {
	if err := s.CheckLevels(); err != nil {
		return err
	}
	s.Status = StatusPending

	if err := e.repo.CreateSetup(ctx, s); err != nil {
		return fmt.Errorf("persisting setup: %w", err)
	}

	e.logger.Info().
		Str("setup_id", s.ID).
		Str("symbol", s.Symbol).
		Str("side", string(s.Side)).
		Float64("entry", s.EntryPrice).
		Float64("confidence", s.Confidence).
		Msg("setup created")

	if e.bus != nil {
		e.bus.PublishSetupCreated(s.ID, s.Symbol, string(s.Side), s.Strategy, s.EntryPrice, s.Confidence)
	}
	return nil
}

// ProcessObservation applies a price observation to every open setup on its
// symbol and returns one result per setup. A terminal setup yields a no-op
// result; re-delivered or out-of-order observations never re-trigger side
// effects.
func (e *Engine) ProcessObservation(ctx context.Context, obs Observation) ([]Result, error) {
	if err := obs.Validate(); err != nil {
		return nil, err
	}

	open, err := e.repo.GetOpenSetupsBySymbol(ctx, obs.Symbol)
	if err != nil {
		return nil, fmt.Errorf("loading open setups for %s: %w", obs.Symbol, err)
	}

	results := make([]Result, 0, len(open))
	for _, s := range open {
		result, err := e.applyAndPersist(ctx, s, obs)
		if err != nil {
			e.logger.Error().Err(err).Str("setup_id", s.ID).Msg("observation not applied")
			return results, err
		}
		results = append(results, result)
	}
	return results, nil
}

// ProcessSetup applies an observation to a single setup by id.
func (e *Engine) ProcessSetup(ctx context.Context, setupID string, obs Observation) (Result, error) {
	if err := obs.Validate(); err != nil {
		return Result{}, err
	}

	s, err := e.repo.GetSetupByID(ctx, setupID)
	if err != nil {
		return Result{}, err
	}
	return e.applyAndPersist(ctx, s, obs)
}

// applyAndPersist runs the reducer and writes the next state under the
// version guard. On a conflict it re-reads and re-applies exactly once; the
// reducer's idempotence makes the replay safe. A failed write leaves the
// setup in its pre-observation state.
func (e *Engine) applyAndPersist(ctx context.Context, s *Setup, obs Observation) (Result, error) {
	next, tr := Apply(*s, obs)

	err := e.repo.UpdateSetupVersioned(ctx, &next)
	if errors.Is(err, ErrConcurrentModification) {
		fresh, getErr := e.repo.GetSetupByID(ctx, s.ID)
		if getErr != nil {
			return Result{}, getErr
		}
		next, tr = Apply(*fresh, obs)
		err = e.repo.UpdateSetupVersioned(ctx, &next)
	}
	if err != nil {
		return Result{}, err
	}

	result := Result{
		SetupID:    next.ID,
		Symbol:     next.Symbol,
		From:       tr.From,
		To:         tr.To,
		Event:      tr.Event,
		Outcome:    tr.Outcome,
		PnLPercent: tr.PnLPercent,
		Message:    transitionMessage(next, tr, obs),
	}

	e.emit(next, tr, obs)
	return result, nil
}

// Expire closes a pending setup that never triggered. Refused for any setup
// past pending; the price-driven paths own those.
func (e *Engine) Expire(ctx context.Context, setupID string, at time.Time) (*Setup, error) {
	return e.cancel(ctx, setupID, StatusExpired, at)
}

// Invalidate cancels a pending setup externally (user action or a planner
// retracting the idea).
func (e *Engine) Invalidate(ctx context.Context, setupID string, at time.Time) (*Setup, error) {
	return e.cancel(ctx, setupID, StatusInvalidated, at)
}

func (e *Engine) cancel(ctx context.Context, setupID string, status Status, at time.Time) (*Setup, error) {
	s, err := e.repo.GetSetupByID(ctx, setupID)
	if err != nil {
		return nil, err
	}
	if s.Status != StatusPending {
		return nil, fmt.Errorf("%w: cannot move %s setup to %s", ErrInvalidSetupState, s.Status, status)
	}

	s.Status = status
	s.ClosedAt = &at
	if outcome, ok := OutcomeFor(status, s.EntryHit); ok {
		s.Outcome = &outcome
	}

	if err := e.repo.UpdateSetupVersioned(ctx, s); err != nil {
		return nil, err
	}

	e.logger.Info().Str("setup_id", s.ID).Str("status", string(status)).Msg("setup cancelled")
	if e.bus != nil {
		eventType := events.EventSetupExpired
		if status == StatusInvalidated {
			eventType = events.EventSetupInvalidated
		}
		e.bus.Publish(events.Event{
			Type:      eventType,
			Timestamp: at,
			Data: map[string]interface{}{
				"setup_id": s.ID,
				"symbol":   s.Symbol,
			},
		})
	}
	return s, nil
}

// Archive flags a terminal setup as archived. Setups are never deleted.
func (e *Engine) Archive(ctx context.Context, setupID string) error {
	s, err := e.repo.GetSetupByID(ctx, setupID)
	if err != nil {
		return err
	}
	if !s.Status.IsTerminal() {
		return fmt.Errorf("%w: only terminal setups can be archived", ErrInvalidSetupState)
	}
	return e.repo.ArchiveSetup(ctx, setupID)
}

// emit publishes transition events and logs them.
func (e *Engine) emit(s Setup, tr Transition, obs Observation) {
	if !tr.Changed() {
		return
	}

	log := e.logger.Info().
		Str("setup_id", s.ID).
		Str("symbol", s.Symbol).
		Str("event", string(tr.Event)).
		Float64("price", obs.Price)
	if tr.PnLPercent != nil {
		log = log.Float64("pnl_percent", *tr.PnLPercent)
	}
	log.Msg("setup transition")

	if e.bus == nil {
		return
	}

	if tr.EntryFired {
		e.bus.PublishSetupEntered(s.ID, s.Symbol, s.EntryPrice, obs.Price, obs.ObservedAt)
	}

	switch tr.Event {
	case EventStopLoss, EventTakeProfit, EventInvalidated, EventMissed:
		outcome := ""
		if s.Outcome != nil {
			outcome = string(*s.Outcome)
		}
		e.bus.PublishSetupClosed(s.ID, s.Symbol, string(s.Status), outcome, obs.Price, tr.PnLPercent, obs.ObservedAt)
	}
}

// transitionMessage renders a human-readable status line for API callers.
func transitionMessage(s Setup, tr Transition, obs Observation) string {
	switch tr.Event {
	case EventEntry:
		return fmt.Sprintf("%s entry triggered at %.4f", s.Symbol, obs.Price)
	case EventStopLoss:
		return fmt.Sprintf("%s stop loss hit at %.4f (%.2f%%)", s.Symbol, obs.Price, *tr.PnLPercent)
	case EventTakeProfit:
		return fmt.Sprintf("%s take profit hit at %.4f (%.2f%%)", s.Symbol, obs.Price, *tr.PnLPercent)
	case EventInvalidated:
		return fmt.Sprintf("%s stop touched before entry; setup invalidated", s.Symbol)
	case EventMissed:
		return fmt.Sprintf("%s target touched before entry; setup missed", s.Symbol)
	default:
		if s.Status.IsTerminal() {
			return fmt.Sprintf("%s setup already closed; no change", s.Symbol)
		}
		return fmt.Sprintf("%s no level touched; no change", s.Symbol)
	}
}
