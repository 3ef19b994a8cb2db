package billing

import (
	"context"
	"sync"
)

// tokenLocks serializes work per purchase token.
type tokenLocks struct {
	mu    sync.Mutex
	locks map[string]*tokenLock
}

type tokenLock struct {
	sem  chan struct{}
	refs int
}

func newTokenLocks() *tokenLocks {
	return &tokenLocks{locks: make(map[string]*tokenLock)}
}

// acquire blocks until the token is free or ctx is done.
func (l *tokenLocks) acquire(ctx context.Context, token string) (func(), error) {
	l.mu.Lock()
	lock, ok := l.locks[token]
	if !ok {
		lock = &tokenLock{sem: make(chan struct{}, 1)}
		l.locks[token] = lock
	}
	lock.refs++
	l.mu.Unlock()

	select {
	case lock.sem <- struct{}{}:
	case <-ctx.Done():
		l.unref(token, lock)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-lock.sem
			l.unref(token, lock)
		})
	}, nil
}

func (l *tokenLocks) unref(token string, lock *tokenLock) {
	l.mu.Lock()
	defer l.mu.Unlock()
	lock.refs--
	if lock.refs == 0 {
		delete(l.locks, token)
	}
}

func (l *tokenLocks) inFlight() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
