package levels

import (
	"context"
	"sync"
	"time"

	"setup-tracker/internal/marketdata"
)

// SessionSource supplies the most recently completed session bar for a symbol.
type SessionSource interface {
	GetPriorSession(ctx context.Context, symbol string) (marketdata.SessionBar, error)
}

// Cache hands out per-symbol levels guaranteed valid for the requested
// session. Levels are computed once per session and recomputed only when the
// session-date check fails, so a rollover never leaks the previous day's
// pivots into the new session. Safe for concurrent use.
type Cache struct {
	source SessionSource

	mu      sync.RWMutex
	entries map[string]*Levels
}

// NewCache creates a session-checked levels cache over source.
func NewCache(source SessionSource) *Cache {
	return &Cache{
		source:  source,
		entries: make(map[string]*Levels),
	}
}

// ForSymbol returns levels valid for at's session, computing them from the
// prior session on first use or after a session rollover.
func (c *Cache) ForSymbol(ctx context.Context, symbol string, at time.Time) (*Levels, error) {
	c.mu.RLock()
	cached := c.entries[symbol]
	c.mu.RUnlock()

	if cached != nil {
		if lv, err := cached.ForSession(at); err == nil {
			return lv, nil
		}
	}

	prior, err := c.source.GetPriorSession(ctx, symbol)
	if err != nil {
		return nil, err
	}
	lv := Calculate(prior, at)

	c.mu.Lock()
	c.entries[symbol] = lv
	c.mu.Unlock()

	return lv, nil
}
