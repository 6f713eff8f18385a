package indexer

import "sync/atomic"

// IndexLock serializes store mutation inside one process. A revalidation
// run holds it for its whole duration; lazy eviction only takes it when it
// is free and otherwise leaves stale entries for the next run.
type IndexLock struct {
	state atomic.Int32 // 0 = unlocked, 1 = locked
}

// TryAcquire attempts to acquire the lock without blocking.
// Returns true if the lock was successfully acquired, false otherwise.
func (l *IndexLock) TryAcquire() bool {
	return l.state.CompareAndSwap(0, 1)
}

// Release releases the lock.
// Must only be called by the holder.
func (l *IndexLock) Release() {
	l.state.Store(0)
}

// Held reports whether a writer currently holds the lock
func (l *IndexLock) Held() bool {
	return l.state.Load() == 1
}
