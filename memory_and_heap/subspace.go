package heap

import (
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// MemorySubSpace is the heap policy layer above the allocation
// contexts. It gates allocation volume through taxation, runs the
// escalation ladder when a context cannot satisfy a request, and
// decides when the heap grows or shrinks.
type MemorySubSpace struct {
	heap *Heap
	log  *zap.Logger

	// bytesRemainingBeforeTaxation only decreases between resets. It is
	// updated with compare-and-swap so concurrent payers never spend
	// the same bytes twice.
	bytesRemainingBeforeTaxation atomic.Uint64

	// resizeLock guards everything below, and serializes commits and
	// decommits of the region table.
	resizeLock sync.Mutex

	expansionSize   uintptr
	contractionSize uintptr
	state           ResizeState
	lastCycle       CycleStats

	cyclesSinceExpansion   int
	cyclesSinceContraction int
	cycles                 uint64
}

// CycleStats is what the collector reports about a finished cycle.
type CycleStats struct {
	// PartialGCTime is the time spent in partial collections and
	// GlobalMarkTime the time spent in global mark increments since the
	// previous report; Interval is the wall time that elapsed.
	PartialGCTime  time.Duration
	GlobalMarkTime time.Duration
	Interval       time.Duration

	// SelfReportedGCPercent is the collector's own estimate of the
	// share of time spent collecting. It is used when the timings above
	// are stale, right after a global collection.
	SelfReportedGCPercent float64

	Global               bool // the cycle was a global collection
	GlobalMarkInProgress bool // a global mark cycle spans this report
}

func newMemorySubSpace(h *Heap) *MemorySubSpace {
	s := &MemorySubSpace{heap: h, log: h.log}
	s.bytesRemainingBeforeTaxation.Store(uint64(h.cfg.TaxationThreshold))
	// Nothing to stabilize before the first resize.
	s.cyclesSinceExpansion = h.cfg.ContractionStabilizationCycles
	s.cyclesSinceContraction = h.cfg.ExpansionStabilizationCycles
	return s
}

// ConsumeFromTaxationThreshold pays n bytes of allocation out of the
// budget left before the next taxation collection. If less than n
// remains the budget is zeroed and the payment refused.
func (s *MemorySubSpace) ConsumeFromTaxationThreshold(n uint64) bool {
	for {
		remaining := s.bytesRemainingBeforeTaxation.Load()
		if remaining < n {
			if s.bytesRemainingBeforeTaxation.CompareAndSwap(remaining, 0) {
				return false
			}
			continue
		}
		if s.bytesRemainingBeforeTaxation.CompareAndSwap(remaining, remaining-n) {
			return true
		}
	}
}

// ResetTaxationThreshold refills the taxation budget. The collector
// calls it at the end of every cycle.
func (s *MemorySubSpace) ResetTaxationThreshold() {
	s.bytesRemainingBeforeTaxation.Store(uint64(s.heap.cfg.TaxationThreshold))
}

// BytesRemainingBeforeTaxation returns the taxation budget left.
func (s *MemorySubSpace) BytesRemainingBeforeTaxation() uint64 {
	return s.bytesRemainingBeforeTaxation.Load()
}

// AllocateObject allocates from env's context, escalating on failure.
func (s *MemorySubSpace) AllocateObject(env *Env, desc *AllocateDescription) uintptr {
	return env.context.AllocateObject(env, desc, true)
}

// AllocateTLH claims a TLH chunk from env's context, escalating on
// failure.
func (s *MemorySubSpace) AllocateTLH(env *Env, desc *AllocateDescription) (base, top uintptr) {
	return env.context.AllocateTLH(env, desc, true)
}

// AllocateArrayletLeaf allocates an arraylet leaf from env's context,
// escalating on failure.
func (s *MemorySubSpace) AllocateArrayletLeaf(env *Env, desc *AllocateDescription) uintptr {
	return env.context.AllocateArrayletLeaf(env, desc, true)
}

// AllocateWithoutCollect retries desc against env's context without
// escalating. The collector uses it to allocate on behalf of the thread
// that triggered a cycle.
func (s *MemorySubSpace) AllocateWithoutCollect(env *Env, desc *AllocateDescription) uintptr {
	c := env.context
	switch desc.kind {
	case allocTLH:
		base, _ := c.AllocateTLH(env, desc, false)
		return base
	case allocLeaf:
		return c.AllocateArrayletLeaf(env, desc, false)
	default:
		return c.AllocateObject(env, desc, false)
	}
}

// ReplenishAllocationContextFailed climbs the escalation ladder for a
// request ctx could not satisfy. Every rung retries the allocation
// before the next one is tried:
//
//  1. retry under the context lock, another thread may have made room;
//  2. retry with exclusive VM access, a collection may have finished
//     in the meantime;
//  3. run a taxation collection, if taxation was what refused us;
//  4. retry with taxation waived, expanding the heap first if no
//     free region can satisfy the request;
//  5. run a regular collection;
//  6. run an aggressive collection.
//
// It returns 0 only once every rung failed; the request is then out
// of memory.
func (s *MemorySubSpace) ReplenishAllocationContextFailed(env *Env, ctx AllocationContext, desc *AllocateDescription) uintptr {
	h := s.heap

	desc.Rung = RungLockedRetry
	if p := ctx.allocate(env, desc); p != 0 {
		return p
	}

	h.world.AcquireExclusiveVMAccess(env.Thread)
	defer h.world.ReleaseExclusiveVMAccess(env.Thread)

	desc.Rung = RungExclusiveRetry
	if p := ctx.allocate(env, desc); p != 0 {
		return p
	}

	if desc.TaxationDenied && s.BytesRemainingBeforeTaxation() == 0 {
		desc.Rung = RungTaxationCollect
		s.logRung(ctx, desc)
		if p := s.garbageCollect(env, desc, GCCodeTaxation); p != 0 {
			return p
		}
	}
	// Past this point the thread is on its way to a collection anyway;
	// taxation would only stand in the way of the retries.
	desc.waiveTax = true

	desc.Rung = RungUntaxedRetry
	if s.expandToSatisfy(env, desc) {
		desc.Rung = RungExpand
	}
	s.logRung(ctx, desc)
	if p := ctx.allocate(env, desc); p != 0 {
		return p
	}

	desc.Rung = RungImplicitCollect
	s.logRung(ctx, desc)
	if p := s.garbageCollect(env, desc, GCCodeImplicit); p != 0 {
		return p
	}

	desc.Rung = RungAggressiveCollect
	s.logRung(ctx, desc)
	if p := s.garbageCollect(env, desc, GCCodeAggressive); p != 0 {
		return p
	}

	desc.Rung = RungOutOfMemory
	s.log.Warn("allocation failure, out of memory",
		zap.Int("context", ctx.Index()),
		zap.Stringer("kind", desc.kind),
		zap.Uint64("size", uint64(desc.Size)),
		zap.Bool("taxation-denied", desc.TaxationDenied),
		zap.Uint64("heap-size", uint64(h.table.committedSize())),
		zap.Uint64("max-heap-size", uint64(h.cfg.MaxHeapSize)))
	return 0
}

func (s *MemorySubSpace) logRung(ctx AllocationContext, desc *AllocateDescription) {
	s.log.Debug("allocation escalated",
		zap.Int("context", ctx.Index()),
		zap.Stringer("kind", desc.kind),
		zap.Uint64("size", uint64(desc.Size)),
		zap.Stringer("rung", desc.Rung))
}

// garbageCollect runs a collection on behalf of env. The collector
// allocates desc once the cycle is over and returns the result.
func (s *MemorySubSpace) garbageCollect(env *Env, desc *AllocateDescription, code GCCode) uintptr {
	if s.heap.collector == nil {
		return 0
	}
	return s.heap.collector.GarbageCollect(env, s, desc, code)
}

// expandToSatisfy grows the heap by the regions desc needs, if the
// fleet has no region to give. It ignores the soft maximum: the only
// alternative is a collection that may end in out of memory.
func (s *MemorySubSpace) expandToSatisfy(env *Env, desc *AllocateDescription) bool {
	s.resizeLock.Lock()
	defer s.resizeLock.Unlock()

	if !s.needsExpansionToSatisfy(desc) {
		return false
	}
	if s.expand(env, s.heap.table.regionSize, false) == 0 {
		return false
	}
	s.cyclesSinceExpansion = 0
	return true
}

// needsExpansionToSatisfy reports whether desc cannot be served by any
// memory the fleet already has.
func (s *MemorySubSpace) needsExpansionToSatisfy(desc *AllocateDescription) bool {
	m := s.heap.manager
	if m.FreeRegionCount() != 0 {
		return false
	}
	// Allocation leaves the cached figures too large.
	m.ResetLargestFreeEntry()
	switch desc.kind {
	case allocLeaf:
		return true
	case allocTLH:
		return m.LargestFreeEntry() < s.heap.cfg.TLHMinimumSize
	default:
		return m.LargestFreeEntry() < desc.Size
	}
}

// expand commits up to bytes worth of regions and hands them to the
// fleet. With respectSoftMax the heap does not grow past the soft
// maximum. s.resizeLock must be held.
func (s *MemorySubSpace) expand(env *Env, bytes uintptr, respectSoftMax bool) uintptr {
	h := s.heap
	limit := h.cfg.MaxHeapSize
	if respectSoftMax && h.cfg.SoftMaxHeapSize != 0 && h.cfg.SoftMaxHeapSize < limit {
		limit = h.cfg.SoftMaxHeapSize
	}
	size := h.table.committedSize()
	if size >= limit {
		return 0
	}
	if bytes > limit-size {
		bytes = limit - size
	}
	n := int(bytes / h.table.regionSize)
	if n == 0 {
		return 0
	}

	regions := h.table.commit(n, h.manager.nodeForRegion)
	for _, r := range regions {
		h.manager.Expand(env, r)
	}
	expanded := uintptr(len(regions)) * h.table.regionSize
	if expanded != 0 {
		s.log.Info("heap expanded",
			zap.Uint64("bytes", uint64(expanded)),
			zap.Int("regions", len(regions)),
			zap.Uint64("heap-size", uint64(h.table.committedSize())))
	}
	return expanded
}

// contract decommits up to bytes worth of FREE regions, never going
// below the minimum heap size. s.resizeLock must be held.
func (s *MemorySubSpace) contract(env *Env, bytes uintptr) uintptr {
	h := s.heap
	size := h.table.committedSize()
	if size <= h.cfg.MinHeapSize {
		return 0
	}
	if bytes > size-h.cfg.MinHeapSize {
		bytes = size - h.cfg.MinHeapSize
	}

	var contracted uintptr
	for contracted+h.table.regionSize <= bytes {
		r := h.manager.SelectRegionForContraction(env)
		if r == nil {
			break
		}
		h.table.decommit(r)
		contracted += h.table.regionSize
	}
	if contracted != 0 {
		s.log.Info("heap contracted",
			zap.Uint64("bytes", uint64(contracted)),
			zap.Uint64("heap-size", uint64(h.table.committedSize())))
	}
	return contracted
}

// CollectorExpand grows the heap by one region on the collector's
// behalf, for example when compaction runs out of target regions. It
// returns the bytes added.
func (s *MemorySubSpace) CollectorExpand(env *Env) uintptr {
	s.resizeLock.Lock()
	defer s.resizeLock.Unlock()

	n := s.expand(env, s.heap.table.regionSize, false)
	if n != 0 {
		s.cyclesSinceExpansion = 0
	}
	return n
}

// ReportCycle records the statistics of a finished collection cycle.
func (s *MemorySubSpace) ReportCycle(stats CycleStats) {
	s.resizeLock.Lock()
	defer s.resizeLock.Unlock()

	s.lastCycle = stats
	s.cycles++
	s.cyclesSinceExpansion++
	s.cyclesSinceContraction++
}

// Cycles returns the number of collection cycles reported.
func (s *MemorySubSpace) Cycles() uint64 {
	s.resizeLock.Lock()
	defer s.resizeLock.Unlock()
	return s.cycles
}
