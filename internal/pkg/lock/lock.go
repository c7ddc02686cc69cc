// Package lock provides per-hunter locking so that profile writes from
// concurrent settlements in the same process are serialized. Cross-process
// races are covered separately by version-checked updates at the store.
package lock

import (
	"sync"
)

// hunterMutex wraps a mutex with reference counting for cleanup.
type hunterMutex struct {
	mu       sync.Mutex
	refCount int
}

// HunterLock provides per-hunter locking for profile-mutating operations.
type HunterLock struct {
	locks sync.Map // map[string]*hunterMutex
	pool  sync.Pool
}

// NewHunterLock creates a new HunterLock instance.
func NewHunterLock() *HunterLock {
	return &HunterLock{
		pool: sync.Pool{
			New: func() any {
				return &hunterMutex{}
			},
		},
	}
}

// getLock retrieves or creates a mutex for the given hunter ID.
func (hl *HunterLock) getLock(hunterID string) *hunterMutex {
	if v, ok := hl.locks.Load(hunterID); ok {
		return v.(*hunterMutex)
	}

	newLock := hl.pool.Get().(*hunterMutex)
	newLock.refCount = 0

	actual, loaded := hl.locks.LoadOrStore(hunterID, newLock)
	if loaded {
		// Another goroutine created the lock first, return ours to pool
		hl.pool.Put(newLock)
	}
	return actual.(*hunterMutex)
}

// Lock acquires the lock for a hunter.
func (hl *HunterLock) Lock(hunterID string) {
	lock := hl.getLock(hunterID)
	lock.mu.Lock()
	lock.refCount++
}

// Unlock releases the lock for a hunter.
func (hl *HunterLock) Unlock(hunterID string) {
	if v, ok := hl.locks.Load(hunterID); ok {
		lock := v.(*hunterMutex)
		lock.refCount--
		lock.mu.Unlock()
	}
}

// TryLock attempts to acquire the lock without blocking.
// Returns true if the lock was acquired, false otherwise.
func (hl *HunterLock) TryLock(hunterID string) bool {
	lock := hl.getLock(hunterID)
	if lock.mu.TryLock() {
		lock.refCount++
		return true
	}
	return false
}

// WithLock executes a function while holding the hunter's lock.
func (hl *HunterLock) WithLock(hunterID string, fn func() error) error {
	hl.Lock(hunterID)
	defer hl.Unlock(hunterID)
	return fn()
}
