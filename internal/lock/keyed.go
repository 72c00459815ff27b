package lock

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/ovasilenko/coin-auctions/internal/domain"
)

// Keyed hands out one mutual-exclusion slot per auction id. Bids and sweep
// transitions for the same auction serialize on it; different auctions never
// contend. Acquire is bounded by the caller's context so a contended bid
// fails fast with ErrBusy instead of queueing indefinitely.
type Keyed struct {
	mu    sync.Mutex
	slots map[uuid.UUID]*semaphore.Weighted
}

func NewKeyed() *Keyed {
	return &Keyed{slots: make(map[uuid.UUID]*semaphore.Weighted)}
}

func (k *Keyed) slot(id uuid.UUID) *semaphore.Weighted {
	k.mu.Lock()
	defer k.mu.Unlock()
	s, ok := k.slots[id]
	if !ok {
		s = semaphore.NewWeighted(1)
		k.slots[id] = s
	}
	return s
}

// Acquire takes the auction's slot, waiting at most until ctx expires.
// Returns domain.ErrBusy when the wait is exhausted. The caller must call
// the returned release exactly once.
func (k *Keyed) Acquire(ctx context.Context, id uuid.UUID) (release func(), err error) {
	s := k.slot(id)
	if err := s.Acquire(ctx, 1); err != nil {
		return nil, domain.ErrBusy
	}
	return func() { s.Release(1) }, nil
}

// TryAcquire takes the slot only if it is free. Used by the sweep so a
// due transition skips an auction mid-bid and retries next tick.
func (k *Keyed) TryAcquire(id uuid.UUID) (release func(), ok bool) {
	s := k.slot(id)
	if !s.TryAcquire(1) {
		return nil, false
	}
	return func() { s.Release(1) }, true
}

// Forget drops the slot for an auction that reached its terminal state.
// Safe to call while unheld only; callers drop after the final transition.
func (k *Keyed) Forget(id uuid.UUID) {
	k.mu.Lock()
	defer k.mu.Unlock()
	delete(k.slots, id)
}
