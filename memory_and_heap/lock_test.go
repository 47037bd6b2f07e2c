package heap

import (
	"sync"
	"testing"
)

func TestLockRankOrder(t *testing.T) {
	tests := []struct {
		held    []lockRank
		acquire lockRank
		ok      bool
	}{
		{nil, lockRankContext, true},
		{[]lockRank{lockRankContext}, lockRankCommonContext, true},
		{[]lockRank{lockRankContext}, lockRankFreeList, true},
		{[]lockRank{lockRankContext, lockRankCommonContext}, lockRankFreeList, true},
		{[]lockRank{lockRankContext}, lockRankContext, false},
		{[]lockRank{lockRankCommonContext}, lockRankContext, false},
		{[]lockRank{lockRankFreeList}, lockRankCommonContext, false},
		{[]lockRank{lockRankFreeList}, lockRankFreeList, false},
	}
	for _, tt := range tests {
		var s lockRankSet
		for _, r := range tt.held {
			s.acquire(r)
		}
		if got := s.canAcquire(tt.acquire); got != tt.ok {
			t.Errorf("holding %v: canAcquire(%s) = %v, want %v", tt.held, tt.acquire, got, tt.ok)
		}
	}
}

func TestLockRankViolationThrows(t *testing.T) {
	var held lockRankSet
	var common, worker lightweightLock
	common.init(lockRankCommonContext)
	worker.init(lockRankContext)

	common.lock(&held)
	mustPanic(t, "taking a worker context lock under the common one", func() { worker.lock(&held) })
	if worker.key.Load() != mutex_unlocked {
		t.Error("lock taken despite the rank violation")
	}
	common.unlock(&held)
	if !held.empty() {
		t.Error("ranks left after unlocking")
	}
}

func TestLockRankReleaseOutOfOrder(t *testing.T) {
	var held lockRankSet
	var a, b lightweightLock
	a.init(lockRankContext)
	b.init(lockRankFreeList)

	a.lock(&held)
	b.lock(&held)
	a.unlock(&held)
	if held.canAcquire(lockRankCommonContext) {
		t.Error("common context lock allowed under the free list lock")
	}
	b.unlock(&held)
	if !held.empty() {
		t.Error("ranks left after unlocking")
	}
}

func TestUnlockUnlockedThrows(t *testing.T) {
	var l lightweightLock
	l.init(lockRankFreeList)
	mustPanic(t, "unlocking an unlocked lock", func() { l.unlock(nil) })
}

func TestLightweightLockMutualExclusion(t *testing.T) {
	var l lightweightLock
	l.init(lockRankContext)

	const (
		goroutines = 8
		iterations = 10000
	)
	var n int
	var wg sync.WaitGroup
	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			var held lockRankSet
			for i := 0; i < iterations; i++ {
				l.lock(&held)
				n++
				l.unlock(&held)
			}
		}()
	}
	wg.Wait()
	if n != goroutines*iterations {
		t.Errorf("counter = %d, want %d", n, goroutines*iterations)
	}
}
