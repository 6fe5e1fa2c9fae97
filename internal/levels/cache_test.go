package levels

import (
	"context"
	"errors"
	"testing"
	"time"

	"setup-tracker/internal/marketdata"
)

type countingSource struct {
	calls int
	bar   marketdata.SessionBar
	err   error
}

func (s *countingSource) GetPriorSession(ctx context.Context, symbol string) (marketdata.SessionBar, error) {
	s.calls++
	return s.bar, s.err
}

func TestCacheComputesOncePerSession(t *testing.T) {
	src := &countingSource{bar: marketdata.SessionBar{High: 110, Low: 90, Close: 100}}
	cache := NewCache(src)
	ctx := context.Background()

	day := time.Date(2024, 3, 5, 9, 0, 0, 0, time.UTC)
	first, err := cache.ForSymbol(ctx, "BTCUSDT", day)
	if err != nil {
		t.Fatalf("ForSymbol: %v", err)
	}
	if first.Pivot != 100 {
		t.Errorf("pivot = %v, want 100", first.Pivot)
	}

	// Later the same session: no recompute.
	again, err := cache.ForSymbol(ctx, "BTCUSDT", day.Add(6*time.Hour))
	if err != nil {
		t.Fatalf("ForSymbol same session: %v", err)
	}
	if again != first {
		t.Error("same-session request returned a fresh computation")
	}
	if src.calls != 1 {
		t.Errorf("source called %d times within one session, want 1", src.calls)
	}
}

func TestCacheRecomputesOnRollover(t *testing.T) {
	src := &countingSource{bar: marketdata.SessionBar{High: 110, Low: 90, Close: 100}}
	cache := NewCache(src)
	ctx := context.Background()

	day := time.Date(2024, 3, 5, 9, 0, 0, 0, time.UTC)
	if _, err := cache.ForSymbol(ctx, "BTCUSDT", day); err != nil {
		t.Fatal(err)
	}

	src.bar = marketdata.SessionBar{High: 120, Low: 100, Close: 115}
	next, err := cache.ForSymbol(ctx, "BTCUSDT", day.Add(24*time.Hour))
	if err != nil {
		t.Fatalf("ForSymbol next session: %v", err)
	}
	if src.calls != 2 {
		t.Errorf("source called %d times across a rollover, want 2", src.calls)
	}
	if next.PriorHigh != 120 {
		t.Errorf("rollover kept stale levels: prior high %v, want 120", next.PriorHigh)
	}
	if !next.SessionDate.Equal(marketdata.SessionDate(day.Add(24 * time.Hour))) {
		t.Errorf("session date = %v not advanced", next.SessionDate)
	}
}

func TestCachePropagatesSourceError(t *testing.T) {
	src := &countingSource{err: errors.New("feed down")}
	cache := NewCache(src)

	if _, err := cache.ForSymbol(context.Background(), "BTCUSDT", time.Now()); err == nil {
		t.Fatal("source failure must surface, not return empty levels")
	}
}

func TestCacheKeysBySymbol(t *testing.T) {
	src := &countingSource{bar: marketdata.SessionBar{High: 110, Low: 90, Close: 100}}
	cache := NewCache(src)
	ctx := context.Background()
	day := time.Date(2024, 3, 5, 9, 0, 0, 0, time.UTC)

	cache.ForSymbol(ctx, "BTCUSDT", day)
	cache.ForSymbol(ctx, "ETHUSDT", day)

	if src.calls != 2 {
		t.Errorf("distinct symbols should compute independently, got %d calls", src.calls)
	}
}
