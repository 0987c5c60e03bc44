package idempotency

import (
	"context"
	"fmt"
	"sync"
)

// Store is the durable uniqueness constraint. Insert returns false when the key
// already exists. This is the actual correctness guarantee: the in-process cache
// below is lost on restart and not shared across instances.
type Store interface {
	Insert(ctx context.Context, provider, eventID string) (bool, error)
}

// Guard deduplicates inbound events and outbound effects. Admit returning false
// means "already processed": callers must treat it as success with no side
// effects, never as an error.
type Guard struct {
	store Store

	mu    sync.Mutex
	seen  map[string]struct{}
	order []string
	max   int
}

func NewGuard(store Store, cacheSize int) *Guard {
	if cacheSize < 1 {
		cacheSize = 1
	}
	return &Guard{
		store: store,
		seen:  make(map[string]struct{}, cacheSize),
		max:   cacheSize,
	}
}

func (g *Guard) Admit(ctx context.Context, provider, eventID string) (bool, error) {
	key := provider + ":" + eventID

	g.mu.Lock()
	_, dup := g.seen[key]
	g.mu.Unlock()
	if dup {
		return false, nil
	}

	admitted, err := g.store.Insert(ctx, provider, eventID)
	if err != nil {
		return false, fmt.Errorf("Admit: %w", err)
	}

	// Remember the key either way so a replay storm short-circuits in process.
	g.remember(key)
	return admitted, nil
}

func (g *Guard) remember(key string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.seen[key]; ok {
		return
	}
	if len(g.order) >= g.max {
		oldest := g.order[0]
		g.order = g.order[1:]
		delete(g.seen, oldest)
	}
	g.seen[key] = struct{}{}
	g.order = append(g.order, key)
}
