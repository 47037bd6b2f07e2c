package heap

import (
	"runtime"
	"sync/atomic"
)

// lockRank orders the allocator's locks. A thread may only acquire a
// lock whose rank is strictly greater than the rank of every lock it
// already holds.
type lockRank int

const (
	lockRankUnknown lockRank = iota

	// contextLock of a worker (non-common) allocation context. Two
	// worker context locks are never held together.
	lockRankContext
	// contextLock of the common allocation context. A worker context
	// may take it while holding its own lock, which is how a leaf is
	// linked into a spine region that migrated to the common context.
	lockRankCommonContext
	// freeListLock of any context. Leaf lock: taken by the theft path
	// while the thief holds its own context lock.
	lockRankFreeList
)

var lockNames = []string{
	lockRankUnknown:       "UNKNOWN",
	lockRankContext:       "context",
	lockRankCommonContext: "commonContext",
	lockRankFreeList:      "freeList",
}

func (r lockRank) String() string {
	if r < 0 || int(r) >= len(lockNames) {
		return "BAD RANK"
	}
	return lockNames[r]
}

// lockRankSet records the ranks held by one thread. It lives in the
// thread's Env and is only touched by that thread. A nil set disables
// rank checking; statistics readers run that way.
type lockRankSet struct {
	held [4]lockRank
	n    int
}

// canAcquire reports whether taking a lock of rank r now would keep
// the rank order.
func (s *lockRankSet) canAcquire(r lockRank) bool {
	if s == nil || s.n == 0 {
		return true
	}
	return s.held[s.n-1] < r
}

func (s *lockRankSet) acquire(r lockRank) {
	if s == nil {
		return
	}
	if !s.canAcquire(r) {
		throw("lock ordering problem: %s held while acquiring %s", s.held[s.n-1], r)
	}
	if s.n == len(s.held) {
		throw("too many locks held")
	}
	s.held[s.n] = r
	s.n++
}

func (s *lockRankSet) release(r lockRank) {
	if s == nil {
		return
	}
	for i := s.n - 1; i >= 0; i-- {
		if s.held[i] == r {
			copy(s.held[i:], s.held[i+1:s.n])
			s.n--
			return
		}
	}
	throw("releasing %s lock that is not held", r)
}

func (s *lockRankSet) empty() bool {
	return s == nil || s.n == 0
}

const (
	mutex_unlocked = 0
	mutex_locked   = 1

	active_spin     = 4
	active_spin_cnt = 30
)

// lightweightLock is a short-held, non-reentrant spin lock. It does
// not track its owner. Holders are expected to release it within
// microseconds, so contenders spin briefly and then yield the
// processor instead of parking.
type lightweightLock struct {
	key  atomic.Uint32
	rank lockRank
}

func (l *lightweightLock) init(rank lockRank) {
	l.rank = rank
}

// lock acquires l, recording the acquisition in held.
func (l *lightweightLock) lock(held *lockRankSet) {
	held.acquire(l.rank)
	l.lock2()
}

// unlock releases l. Unlocking an unlocked lock throws.
func (l *lightweightLock) unlock(held *lockRankSet) {
	if l.key.Swap(mutex_unlocked) == mutex_unlocked {
		throw("unlock of unlocked %s lock", l.rank)
	}
	held.release(l.rank)
}

func (l *lightweightLock) lock2() {
	// Speculative grab for lock.
	if l.key.CompareAndSwap(mutex_unlocked, mutex_locked) {
		return
	}
	for i := 0; ; i++ {
		if i < active_spin {
			procyield(active_spin_cnt)
		} else {
			runtime.Gosched()
		}
		if l.key.Load() == mutex_unlocked && l.key.CompareAndSwap(mutex_unlocked, mutex_locked) {
			return
		}
	}
}

//go:noinline
func procyield(cycles int) {
	for i := 0; i < cycles; i++ {
	}
}
