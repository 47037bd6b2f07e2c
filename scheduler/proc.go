package scheduler

import (
	"sync"
	"sync/atomic"
)

// World arbitrates VM access between mutator threads and threads that
// need the world stopped (collections, heap resizing).
//
// Mutators hold shared access while they run managed code and
// periodically pass through Safepoint. A thread requesting exclusive
// access waits until every mutator has reached a safepoint and dropped
// its shared access; no new shared access is granted in the meantime.
//
// This is the only blocking point of the allocator.
type World struct {
	access sync.RWMutex

	// exclusiveCount is bumped every time exclusive access is granted.
	// Allocation failure paths sample it before and after going
	// exclusive to detect that a collection completed in between.
	exclusiveCount atomic.Uint64
}

// AcquireVMAccess gives t shared VM access. t must not already hold it.
func (w *World) AcquireVMAccess(t *Thread) {
	if t.vmAccess {
		panic("scheduler: recursive VM access")
	}
	w.access.RLock()
	t.vmAccess = true
}

// ReleaseVMAccess drops t's shared VM access.
func (w *World) ReleaseVMAccess(t *Thread) {
	if !t.vmAccess {
		panic("scheduler: releasing VM access not held")
	}
	t.vmAccess = false
	w.access.RUnlock()
}

// Safepoint lets a pending exclusive request through if t holds
// shared access. It returns once t holds shared access again.
func (w *World) Safepoint(t *Thread) {
	if !t.vmAccess || t.exclusive > 0 {
		return
	}
	// RWMutex blocks new readers once a writer is queued, so
	// dropping and retaking the read lock parks us behind it.
	w.access.RUnlock()
	w.access.RLock()
}

// AcquireExclusiveVMAccess stops the world on behalf of t.
//
// If t holds shared access it is released first and given back by the
// matching ReleaseExclusiveVMAccess. Exclusive access is recursive for
// the thread that holds it.
func (w *World) AcquireExclusiveVMAccess(t *Thread) {
	if t.exclusive > 0 {
		t.exclusive++
		return
	}
	if t.vmAccess {
		t.vmAccess = false
		t.reacquire = true
		w.access.RUnlock()
	}
	w.access.Lock()
	t.exclusive = 1
	w.exclusiveCount.Add(1)
}

// ReleaseExclusiveVMAccess restarts the world.
func (w *World) ReleaseExclusiveVMAccess(t *Thread) {
	if t.exclusive == 0 {
		panic("scheduler: releasing exclusive VM access not held")
	}
	t.exclusive--
	if t.exclusive > 0 {
		return
	}
	w.access.Unlock()
	if t.reacquire {
		t.reacquire = false
		w.access.RLock()
		t.vmAccess = true
	}
}

// ExclusiveCount returns how many times exclusive access was granted.
func (w *World) ExclusiveCount() uint64 {
	return w.exclusiveCount.Load()
}
