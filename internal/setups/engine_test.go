package setups

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

// memRepo is an in-memory Repository with the same version semantics as the
// database implementation.
type memRepo struct {
	mu     sync.Mutex
	setups map[string]Setup

	// conflictsLeft makes the next N versioned updates fail as if another
	// writer won the race.
	conflictsLeft int
	updateCalls   int
}

func newMemRepo() *memRepo {
	return &memRepo{setups: make(map[string]Setup)}
}

func (r *memRepo) CreateSetup(_ context.Context, s *Setup) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s.ID == "" {
		s.ID = "generated"
	}
	s.Version = 1
	r.setups[s.ID] = *s
	return nil
}

func (r *memRepo) GetSetupByID(_ context.Context, id string) (*Setup, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.setups[id]
	if !ok {
		return nil, ErrSetupNotFound
	}
	dup := s
	return &dup, nil
}

func (r *memRepo) GetOpenSetupsBySymbol(_ context.Context, symbol string) ([]*Setup, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*Setup
	for _, s := range r.setups {
		if s.Symbol == symbol && !s.Archived && (s.Status == StatusPending || s.Status == StatusEntryHit) {
			dup := s
			out = append(out, &dup)
		}
	}
	return out, nil
}

func (r *memRepo) UpdateSetupVersioned(_ context.Context, s *Setup) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updateCalls++

	stored, ok := r.setups[s.ID]
	if !ok {
		return ErrSetupNotFound
	}
	if r.conflictsLeft > 0 {
		r.conflictsLeft--
		stored.Version++
		r.setups[s.ID] = stored
		return ErrConcurrentModification
	}
	if stored.Version != s.Version {
		return ErrConcurrentModification
	}
	s.Version++
	r.setups[s.ID] = *s
	return nil
}

func (r *memRepo) ArchiveSetup(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.setups[id]
	if !ok {
		return ErrSetupNotFound
	}
	s.Archived = true
	r.setups[id] = s
	return nil
}

func newTestEngine(repo Repository) *Engine {
	return NewEngine(repo, nil, zerolog.Nop())
}

func seedSetup(t *testing.T, repo *memRepo) *Setup {
	t.Helper()
	s := &Setup{
		ID:         "s1",
		Symbol:     "BTCUSDT",
		Side:       SideLong,
		EntryPrice: 100,
		StopLoss:   95,
		TakeProfit: 110,
	}
	if err := newTestEngine(repo).Create(context.Background(), s); err != nil {
		t.Fatalf("seeding setup: %v", err)
	}
	return s
}

func TestEngineCreateRejectsBadLevels(t *testing.T) {
	engine := newTestEngine(newMemRepo())
	err := engine.Create(context.Background(), &Setup{
		Side:       SideLong,
		EntryPrice: 100,
		StopLoss:   105, // stop above entry on a long
		TakeProfit: 110,
	})
	if !errors.Is(err, ErrInvalidSetupState) {
		t.Fatalf("expected ErrInvalidSetupState, got %v", err)
	}
}

func TestEngineProcessObservation(t *testing.T) {
	repo := newMemRepo()
	seedSetup(t, repo)
	engine := newTestEngine(repo)
	ctx := context.Background()

	results, err := engine.ProcessObservation(ctx, Observation{
		Symbol: "BTCUSDT", Price: 100, ObservedAt: time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("ProcessObservation: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	if results[0].Event != EventEntry {
		t.Errorf("expected entry_hit, got %s", results[0].Event)
	}

	stored, _ := repo.GetSetupByID(ctx, "s1")
	if stored.Status != StatusEntryHit {
		t.Errorf("persisted status = %s, want entry_hit", stored.Status)
	}
	if stored.Version != 2 {
		t.Errorf("version = %d, want 2", stored.Version)
	}
}

func TestEngineRejectsMalformedObservation(t *testing.T) {
	engine := newTestEngine(newMemRepo())
	_, err := engine.ProcessObservation(context.Background(), Observation{Symbol: "BTCUSDT", Price: -1})
	if !errors.Is(err, ErrMalformedObservation) {
		t.Fatalf("expected ErrMalformedObservation, got %v", err)
	}
}

func TestEngineRetriesOnceOnConflict(t *testing.T) {
	repo := newMemRepo()
	seedSetup(t, repo)
	repo.conflictsLeft = 1
	engine := newTestEngine(repo)

	callsBefore := repo.updateCalls
	results, err := engine.ProcessObservation(context.Background(), Observation{
		Symbol: "BTCUSDT", Price: 110, ObservedAt: time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("expected transparent retry to succeed, got %v", err)
	}
	if got := repo.updateCalls - callsBefore; got != 2 {
		t.Errorf("expected exactly 2 update attempts, got %d", got)
	}
	if len(results) != 1 || results[0].Event != EventMissed {
		t.Errorf("expected missed_before_entry after replay, got %+v", results)
	}
}

func TestEngineSurfacesConflictAfterRetry(t *testing.T) {
	repo := newMemRepo()
	seedSetup(t, repo)
	repo.conflictsLeft = 2
	engine := newTestEngine(repo)

	_, err := engine.ProcessObservation(context.Background(), Observation{
		Symbol: "BTCUSDT", Price: 110, ObservedAt: time.Now().UTC(),
	})
	if !errors.Is(err, ErrConcurrentModification) {
		t.Fatalf("expected ErrConcurrentModification after one retry, got %v", err)
	}
}

func TestEngineExpire(t *testing.T) {
	repo := newMemRepo()
	seedSetup(t, repo)
	engine := newTestEngine(repo)
	at := time.Now().UTC()

	s, err := engine.Expire(context.Background(), "s1", at)
	if err != nil {
		t.Fatalf("Expire: %v", err)
	}
	if s.Status != StatusExpired {
		t.Errorf("status = %s, want expired", s.Status)
	}
	if s.Outcome == nil || *s.Outcome != OutcomeInvalidated {
		t.Errorf("outcome = %v, want invalidated", s.Outcome)
	}
	if s.ClosedAt == nil || !s.ClosedAt.Equal(at) {
		t.Errorf("closed_at = %v, want %v", s.ClosedAt, at)
	}

	// A second expire must refuse: the setup is no longer pending.
	if _, err := engine.Expire(context.Background(), "s1", at); !errors.Is(err, ErrInvalidSetupState) {
		t.Errorf("expected ErrInvalidSetupState on double expire, got %v", err)
	}
}

func TestEngineInvalidateRefusedAfterEntry(t *testing.T) {
	repo := newMemRepo()
	seedSetup(t, repo)
	engine := newTestEngine(repo)
	ctx := context.Background()

	if _, err := engine.ProcessObservation(ctx, Observation{Symbol: "BTCUSDT", Price: 100, ObservedAt: time.Now().UTC()}); err != nil {
		t.Fatalf("entering setup: %v", err)
	}

	_, err := engine.Invalidate(ctx, "s1", time.Now().UTC())
	if !errors.Is(err, ErrInvalidSetupState) {
		t.Fatalf("expected ErrInvalidSetupState for entered setup, got %v", err)
	}
}

func TestEngineArchiveRequiresTerminal(t *testing.T) {
	repo := newMemRepo()
	seedSetup(t, repo)
	engine := newTestEngine(repo)
	ctx := context.Background()

	if err := engine.Archive(ctx, "s1"); !errors.Is(err, ErrInvalidSetupState) {
		t.Fatalf("expected ErrInvalidSetupState for open setup, got %v", err)
	}

	if _, err := engine.Expire(ctx, "s1", time.Now().UTC()); err != nil {
		t.Fatalf("expiring: %v", err)
	}
	if err := engine.Archive(ctx, "s1"); err != nil {
		t.Fatalf("archiving terminal setup: %v", err)
	}

	open, _ := repo.GetOpenSetupsBySymbol(ctx, "BTCUSDT")
	if len(open) != 0 {
		t.Errorf("archived setup still listed as open")
	}
}
