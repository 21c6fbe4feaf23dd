package app

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"
)

// postLocks serializes mutations of a single post's attachment. Each key owns
// a one-slot semaphore so waiting honours context cancellation; entries are
// dropped once no caller holds or waits on them.
type postLocks struct {
	mu    sync.Mutex
	slots map[string]*postSlot
}

type postSlot struct {
	sem  *semaphore.Weighted
	refs int
}

func newPostLocks() *postLocks {
	return &postLocks{slots: make(map[string]*postSlot)}
}

// lock blocks until the slot for key is free or ctx ends. The returned func
// releases the slot and must be called exactly once.
func (l *postLocks) lock(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	s := l.slots[key]
	if s == nil {
		s = &postSlot{sem: semaphore.NewWeighted(1)}
		l.slots[key] = s
	}
	s.refs++
	l.mu.Unlock()

	if err := s.sem.Acquire(ctx, 1); err != nil {
		l.drop(key, s)
		return nil, err
	}
	return func() {
		s.sem.Release(1)
		l.drop(key, s)
	}, nil
}

func (l *postLocks) drop(key string, s *postSlot) {
	l.mu.Lock()
	s.refs--
	if s.refs == 0 {
		delete(l.slots, key)
	}
	l.mu.Unlock()
}

func (l *postLocks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.slots)
}
