package marketdata

import (
	"context"
	"sync"
	"time"
)

// CachedProvider wraps a BarProvider with a short-lived in-memory cache so
// that the signal bot and the alert engine scanning the same symbol within a
// sweep do not refetch identical series.
type CachedProvider struct {
	provider BarProvider
	ttl      time.Duration

	mu       sync.RWMutex
	bars     map[string]cachedBars
	sessions map[string]cachedSession
}

type cachedBars struct {
	bars      []Bar
	fetchedAt time.Time
}

type cachedSession struct {
	session   SessionBar
	fetchedAt time.Time
}

// NewCachedProvider creates a caching wrapper around provider.
func NewCachedProvider(provider BarProvider, ttl time.Duration) *CachedProvider {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &CachedProvider{
		provider: provider,
		ttl:      ttl,
		bars:     make(map[string]cachedBars),
		sessions: make(map[string]cachedSession),
	}
}

// GetBars returns cached bars when fresh, fetching from the underlying
// provider otherwise. A cached series shorter than limit is refetched.
func (cp *CachedProvider) GetBars(ctx context.Context, symbol string, limit int) ([]Bar, error) {
	cp.mu.RLock()
	entry, ok := cp.bars[symbol]
	cp.mu.RUnlock()

	if ok && len(entry.bars) >= limit && time.Since(entry.fetchedAt) < cp.ttl {
		return entry.bars, nil
	}

	bars, err := cp.provider.GetBars(ctx, symbol, limit)
	if err != nil {
		return nil, err
	}

	cp.mu.Lock()
	cp.bars[symbol] = cachedBars{bars: bars, fetchedAt: time.Now()}
	cp.mu.Unlock()

	return bars, nil
}

// GetPriorSession returns the cached prior session when fresh.
func (cp *CachedProvider) GetPriorSession(ctx context.Context, symbol string) (SessionBar, error) {
	cp.mu.RLock()
	entry, ok := cp.sessions[symbol]
	cp.mu.RUnlock()

	if ok && time.Since(entry.fetchedAt) < cp.ttl {
		return entry.session, nil
	}

	session, err := cp.provider.GetPriorSession(ctx, symbol)
	if err != nil {
		return SessionBar{}, err
	}

	cp.mu.Lock()
	cp.sessions[symbol] = cachedSession{session: session, fetchedAt: time.Now()}
	cp.mu.Unlock()

	return session, nil
}

// Invalidate drops cached data for a symbol, forcing the next call through.
func (cp *CachedProvider) Invalidate(symbol string) {
	cp.mu.Lock()
	delete(cp.bars, symbol)
	delete(cp.sessions, symbol)
	cp.mu.Unlock()
}
