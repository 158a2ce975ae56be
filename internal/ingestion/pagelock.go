package ingestion

import (
	"context"
	"sync"
)

// pageLocks is a set of per-page mutexes whose acquisition honours context
// cancellation. Entries are removed once no goroutine holds or waits on them.
type pageLocks struct {
	mu    sync.Mutex
	locks map[string]*pageLock
}

type pageLock struct {
	sem  chan struct{}
	refs int
}

func newPageLocks() *pageLocks {
	return &pageLocks{locks: make(map[string]*pageLock)}
}

// lock blocks until the page is free or ctx is done. The returned func
// releases the lock and must be called exactly once.
func (l *pageLocks) lock(ctx context.Context, pageID string) (func(), error) {
	l.mu.Lock()
	pl, ok := l.locks[pageID]
	if !ok {
		pl = &pageLock{sem: make(chan struct{}, 1)}
		l.locks[pageID] = pl
	}
	pl.refs++
	l.mu.Unlock()

	select {
	case pl.sem <- struct{}{}:
		return func() {
			<-pl.sem
			l.release(pageID, pl)
		}, nil
	case <-ctx.Done():
		l.release(pageID, pl)
		return nil, ctx.Err()
	}
}

func (l *pageLocks) release(pageID string, pl *pageLock) {
	l.mu.Lock()
	defer l.mu.Unlock()
	pl.refs--
	if pl.refs == 0 {
		delete(l.locks, pageID)
	}
}

// size reports the number of tracked pages.
func (l *pageLocks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
