package ledger

import (
	"context"
	"sync"

	"github.com/iliyamo/bus-seat-reservation/internal/model"
)

// keyLocks hands out one lock per seat map.  Entries are reference
// counted and dropped when the last holder or waiter leaves, so the
// table only holds maps that are being mutated right now.
type keyLocks struct {
	mu    sync.Mutex
	locks map[model.SeatMapKey]*keyLock
}

type keyLock struct {
	sem  chan struct{}
	refs int
}

func newKeyLocks() *keyLocks {
	return &keyLocks{locks: make(map[model.SeatMapKey]*keyLock)}
}

// lock blocks until key is free or ctx is done.  The returned func must
// be called exactly once.
func (l *keyLocks) lock(ctx context.Context, key model.SeatMapKey) (func(), error) {
	l.mu.Lock()
	kl, ok := l.locks[key]
	if !ok {
		kl = &keyLock{sem: make(chan struct{}, 1)}
		l.locks[key] = kl
	}
	kl.refs++
	l.mu.Unlock()

	select {
	case kl.sem <- struct{}{}:
	case <-ctx.Done():
		l.release(key, kl)
		return nil, ctx.Err()
	}
	return func() {
		<-kl.sem
		l.release(key, kl)
	}, nil
}

func (l *keyLocks) release(key model.SeatMapKey, kl *keyLock) {
	l.mu.Lock()
	kl.refs--
	if kl.refs == 0 {
		delete(l.locks, key)
	}
	l.mu.Unlock()
}

// size is the number of live entries.
func (l *keyLocks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
