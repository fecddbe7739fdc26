package common

import (
	"errors"
	"sync"
)

var ErrOperationInProgress = errors.New("operation already in progress for resource")

// OpLock marks resources with an operation-in-progress flag. Engines acquire
// the flag for the resources an operation touches (a loan, a user, a reserve)
// and release it on every exit path; a nested or re-entrant call against the
// same resource fails fast instead of observing half-updated state.
type OpLock struct {
	mu   sync.Mutex
	held map[string]struct{}
}

func NewOpLock() *OpLock {
	return &OpLock{held: make(map[string]struct{})}
}

// Acquire sets the in-progress flag for every key, or fails without side
// effects if any key is already flagged. Duplicate keys are collapsed. The
// returned release func is idempotent and must be deferred by the caller.
func (l *OpLock) Acquire(keys ...string) (func(), error) {
	if l == nil || len(keys) == 0 {
		return func() {}, nil
	}
	unique := make([]string, 0, len(keys))
	seen := make(map[string]struct{}, len(keys))
	for _, key := range keys {
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		unique = append(unique, key)
	}
	keys = unique

	l.mu.Lock()
	for i, key := range keys {
		if _, busy := l.held[key]; busy {
			for _, taken := range keys[:i] {
				delete(l.held, taken)
			}
			l.mu.Unlock()
			return nil, ErrOperationInProgress
		}
		l.held[key] = struct{}{}
	}
	l.mu.Unlock()

	var once sync.Once
	release := func() {
		once.Do(func() {
			l.mu.Lock()
			for _, key := range keys {
				delete(l.held, key)
			}
			l.mu.Unlock()
		})
	}
	return release, nil
}
