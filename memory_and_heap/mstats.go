package heap

import "sync/atomic"

// sysMemStat represents a global system statistic that is managed atomically.
type sysMemStat uint64

// load atomically reads the value of the stat.
func (s *sysMemStat) load() uint64 {
	return atomic.LoadUint64((*uint64)(s))
}

func (s *sysMemStat) add(n int64) {
	val := atomic.AddUint64((*uint64)(s), uint64(n))
	if (n > 0 && int64(val) < n) || (n < 0 && int64(val)+n < n) {
		throw("sysMemStat overflow: val=%d n=%d", val, n)
	}
}

// HeapStats is a snapshot of fleet-wide allocator statistics. It is
// filled by MergeHeapStats, which adds each context's figures in turn.
type HeapStats struct {
	HeapSize         uint64 // committed bytes
	FreeMemory       uint64 // free bytes in allocatable regions plus FREE and IDLE regions
	LargestFreeEntry uint64
	FreeRegions      uint64
	IdleRegions      uint64

	ObjectsAllocated uint64
	BytesAllocated   uint64 // objects plus TLHs
	TLHsAllocated    uint64
	LeavesAllocated  uint64

	Replenishes     uint64 // regions installed as a fast-path region
	Thefts          uint64 // regions stolen from another node
	TaxationDenials uint64

	LeafLinksNested   uint64 // leaves linked while holding two context locks
	LeafLinksDeferred uint64 // leaves linked after dropping the allocating context's lock
}

// allocationStats are the per-context counters behind HeapStats.
// Protected by the context's contextLock.
type allocationStats struct {
	objects         uint64
	objectBytes     uint64
	tlhs            uint64
	tlhBytes        uint64
	leaves          uint64
	replenishes     uint64
	thefts          uint64
	taxationDenials uint64

	// How arraylet leaves were linked into their spine regions. The
	// deferred path runs without contextLock, hence atomic.
	leafLinksNested   atomic.Uint64
	leafLinksDeferred atomic.Uint64
}

func (a *allocationStats) reset() {
	a.objects, a.objectBytes = 0, 0
	a.tlhs, a.tlhBytes = 0, 0
	a.leaves = 0
	a.replenishes, a.thefts, a.taxationDenials = 0, 0, 0
	a.leafLinksNested.Store(0)
	a.leafLinksDeferred.Store(0)
}

func (a *allocationStats) mergeInto(s *HeapStats) {
	s.ObjectsAllocated += a.objects
	s.BytesAllocated += a.objectBytes + a.tlhBytes
	s.TLHsAllocated += a.tlhs
	s.LeavesAllocated += a.leaves
	s.Replenishes += a.replenishes
	s.Thefts += a.thefts
	s.TaxationDenials += a.taxationDenials
	s.LeafLinksNested += a.leafLinksNested.Load()
	s.LeafLinksDeferred += a.leafLinksDeferred.Load()
}

// RegionCounts is the diagnostic breakdown of the regions one
// allocation context owns.
type RegionCounts struct {
	ByType  [numRegionTypes]int
	Local   int // regions on the context's own NUMA node
	Foreign int // regions on any other node
}

// Total returns the number of regions counted.
func (c RegionCounts) Total() int {
	n := 0
	for _, v := range c.ByType {
		n += v
	}
	return n
}

func (c *RegionCounts) add(r *Region, node int) {
	c.ByType[r.typ]++
	if r.numaNode == node {
		c.Local++
	} else {
		c.Foreign++
	}
}
