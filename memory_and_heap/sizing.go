package heap

import (
	"go.uber.org/zap"
)

// ResizeState is the phase of the once-per-collection resize decision.
type ResizeState uint8

const (
	ResizeIdle ResizeState = iota
	ResizeMeasuring
	ResizeDeciding
	ResizeExpanding
	ResizeContracting
	ResizeNoOp
)

var resizeStateNames = []string{
	ResizeIdle:        "idle",
	ResizeMeasuring:   "measuring",
	ResizeDeciding:    "deciding",
	ResizeExpanding:   "expanding",
	ResizeContracting: "contracting",
	ResizeNoOp:        "no-op",
}

func (s ResizeState) String() string {
	if int(s) >= len(resizeStateNames) {
		return "BAD RESIZE STATE"
	}
	return resizeStateNames[s]
}

const (
	// gcOverheadWeight is the share of the GC time percentage in the
	// hybrid heap overhead; the free memory term gets the rest.
	gcOverheadWeight = 0.6

	// resizeMargin keeps a resized heap this far below the expansion
	// threshold, so measurement noise does not trigger another one.
	resizeMargin = 0.1

	// maxResizeFraction caps one resize at a quarter of the heap.
	maxResizeFraction = 0.25

	// When no size in the search range lands in the target band, the
	// heap is resized by resizeStep of its size for every percentage
	// point the score is out of band, twice as eagerly when expanding.
	resizeStep              = 0.05
	expansionResizeWeight   = 2
	contractionResizeWeight = 1
)

// sizingInputs is a snapshot of the figures the sizing model works on.
type sizingInputs struct {
	heapSize   float64
	free       float64
	regionSize float64
	gcPercent  float64
}

func (s *MemorySubSpace) measure() sizingInputs {
	h := s.heap
	return sizingInputs{
		heapSize:   float64(h.table.committedSize()),
		free:       float64(h.manager.ActualFreeMemorySize()),
		regionSize: float64(h.table.regionSize),
		gcPercent:  s.measuredGCPercent(),
	}
}

// measuredGCPercent returns the share of time spent collecting since
// the last report. Right after a global collection the timings cover
// only part of a global cycle, so the collector's own figure is used.
func (s *MemorySubSpace) measuredGCPercent() float64 {
	c := &s.lastCycle
	if c.Global || c.Interval <= 0 {
		return clampPercent(c.SelfReportedGCPercent)
	}
	return clampPercent(100 * float64(c.PartialGCTime+c.GlobalMarkTime) / float64(c.Interval))
}

// calculateGcPctForHeapChange predicts the GC time percentage if the
// heap changed by change bytes. Collections happen once the free
// memory is used up, so their frequency scales inversely with it.
func (s *MemorySubSpace) calculateGcPctForHeapChange(in sizingInputs, change float64) float64 {
	// An exhausted heap would predict no collections at all after any
	// expansion; count it as holding one free region.
	free := in.free
	if free < in.regionSize {
		free = in.regionSize
	}
	if free+change <= 0 {
		return 100
	}
	return clampPercent(in.gcPercent * free / (free + change))
}

// mapMemoryPercentageToGcOverhead maps the free memory ratio of the
// heap after a change of change bytes onto the GC percentage scale.
// The free ratio band [HeapFreeMinimumRatio, HeapFreeMaximumRatio]
// maps linearly onto [ExpansionGCRatioThreshold,
// ContractionGCRatioThreshold]. Below the band the score climbs
// steeply as free memory approaches zero.
func (s *MemorySubSpace) mapMemoryPercentageToGcOverhead(in sizingInputs, change float64) float64 {
	cfg := &s.heap.cfg
	heap := in.heapSize + change
	if heap <= 0 {
		return 100
	}
	ratio := (in.free + change) / heap
	if ratio <= 0 {
		return 100
	}
	lo, hi := cfg.HeapFreeMinimumRatio, cfg.HeapFreeMaximumRatio
	expT, conT := cfg.ExpansionGCRatioThreshold, cfg.ContractionGCRatioThreshold

	pct := expT + (ratio-lo)/(hi-lo)*(conT-expT)
	if ratio < lo {
		pct += expT * (lo/ratio - 1)
	}
	return clampPercent(pct)
}

// calculateHybridHeapOverhead blends the predicted GC time percentage
// and the mapped free memory figure for a heap change of change bytes.
func (s *MemorySubSpace) calculateHybridHeapOverhead(in sizingInputs, change float64) float64 {
	return gcOverheadWeight*s.calculateGcPctForHeapChange(in, change) +
		(1-gcOverheadWeight)*s.mapMemoryPercentageToGcOverhead(in, change)
}

// inBand reports whether score is where a resize should leave the heap.
func (s *MemorySubSpace) inBand(score float64) bool {
	cfg := &s.heap.cfg
	return score >= cfg.ContractionGCRatioThreshold && score <= cfg.ExpansionGCRatioThreshold-resizeMargin
}

// calculateExpansionSize returns the smallest whole-region expansion
// that brings the hybrid score back into band, or a proportional
// fallback. It does not apply the heap limits.
func (s *MemorySubSpace) calculateExpansionSize(in sizingInputs, score float64) uintptr {
	limit := maxResizeFraction * in.heapSize
	for d := in.regionSize; d <= limit; d += in.regionSize {
		if s.inBand(s.calculateHybridHeapOverhead(in, d)) {
			return uintptr(d)
		}
	}
	excess := score - s.heap.cfg.ExpansionGCRatioThreshold
	return s.fallbackResize(in, expansionResizeWeight*resizeStep*excess)
}

// calculateContractionSize is calculateExpansionSize for shrinking. It
// never returns more than the heap's free regions.
func (s *MemorySubSpace) calculateContractionSize(in sizingInputs, score float64) uintptr {
	limit := maxResizeFraction * in.heapSize
	freeRegions := float64(s.heap.manager.FreeRegionCount()) * in.regionSize
	if limit > freeRegions {
		limit = freeRegions
	}
	for d := in.regionSize; d <= limit; d += in.regionSize {
		if s.inBand(s.calculateHybridHeapOverhead(in, -d)) {
			return uintptr(d)
		}
	}
	deficit := s.heap.cfg.ContractionGCRatioThreshold - score
	size := s.fallbackResize(in, contractionResizeWeight*resizeStep*deficit)
	if float64(size) > freeRegions {
		size = uintptr(freeRegions)
	}
	return size
}

// fallbackResize turns a fraction of the heap into whole regions,
// at least one and at most maxResizeFraction of the heap.
func (s *MemorySubSpace) fallbackResize(in sizingInputs, frac float64) uintptr {
	switch {
	case frac < 0:
		frac = 0
	case frac > maxResizeFraction:
		frac = maxResizeFraction
	}
	rs := uintptr(in.regionSize)
	size := alignUp(uintptr(frac*in.heapSize), rs)
	if size < rs {
		size = rs
	}
	return size
}

// CheckResize decides, once per collection, whether the heap should
// grow or shrink and by how much. The decision is only recorded; it is
// applied by PerformResize. A non-nil desc that no free region can
// satisfy forces an expansion.
func (s *MemorySubSpace) CheckResize(env *Env, desc *AllocateDescription) {
	s.resizeLock.Lock()
	defer s.resizeLock.Unlock()

	cfg := &s.heap.cfg
	s.expansionSize, s.contractionSize = 0, 0

	s.state = ResizeMeasuring
	in := s.measure()
	score := s.calculateHybridHeapOverhead(in, 0)

	s.state = ResizeDeciding
	satisfy := desc != nil && s.needsExpansionToSatisfy(desc)
	switch {
	case satisfy && score <= cfg.ExpansionGCRatioThreshold:
		// The heap is healthy; only the request is short of room.
		s.expansionSize = s.clampExpansion(s.heap.table.regionSize, false)
	case satisfy || score > cfg.ExpansionGCRatioThreshold && s.cyclesSinceContraction >= cfg.ExpansionStabilizationCycles:
		size := s.calculateExpansionSize(in, score)
		if satisfy && size < s.heap.table.regionSize {
			size = s.heap.table.regionSize
		}
		s.expansionSize = s.clampExpansion(size, !satisfy)
	case score < cfg.ContractionGCRatioThreshold && !s.lastCycle.GlobalMarkInProgress &&
		s.cyclesSinceExpansion >= cfg.ContractionStabilizationCycles:
		s.contractionSize = s.clampContraction(s.calculateContractionSize(in, score))
	}
	if s.expansionSize == 0 && s.contractionSize == 0 && cfg.SoftMaxHeapSize != 0 {
		if size := s.heap.table.committedSize(); size > cfg.SoftMaxHeapSize {
			s.contractionSize = s.clampContraction(size - cfg.SoftMaxHeapSize)
		}
	}

	switch {
	case s.expansionSize != 0:
		s.state = ResizeExpanding
	case s.contractionSize != 0:
		s.state = ResizeContracting
	default:
		s.state = ResizeNoOp
	}
	s.log.Debug("resize decided",
		zap.Stringer("state", s.state),
		zap.Float64("hybrid-overhead", score),
		zap.Float64("gc-percent", in.gcPercent),
		zap.Uint64("free", uint64(in.free)),
		zap.Uint64("heap-size", uint64(in.heapSize)),
		zap.Bool("expand-to-satisfy", satisfy),
		zap.Uint64("expansion-size", uint64(s.expansionSize)),
		zap.Uint64("contraction-size", uint64(s.contractionSize)))
}

// clampExpansion fits size under the maximum heap size and, if
// respectSoftMax, under the soft maximum. s.resizeLock must be held.
func (s *MemorySubSpace) clampExpansion(size uintptr, respectSoftMax bool) uintptr {
	cfg := &s.heap.cfg
	limit := cfg.MaxHeapSize
	if respectSoftMax && cfg.SoftMaxHeapSize != 0 && cfg.SoftMaxHeapSize < limit {
		limit = cfg.SoftMaxHeapSize
	}
	heap := s.heap.table.committedSize()
	if heap >= limit {
		return 0
	}
	if size > limit-heap {
		size = limit - heap
	}
	return alignDown(size, s.heap.table.regionSize)
}

// clampContraction keeps the heap at or above its minimum size.
// s.resizeLock must be held.
func (s *MemorySubSpace) clampContraction(size uintptr) uintptr {
	heap := s.heap.table.committedSize()
	minHeap := s.heap.cfg.MinHeapSize
	if heap <= minHeap {
		return 0
	}
	if size > heap-minHeap {
		size = heap - minHeap
	}
	return alignUp(size, s.heap.table.regionSize)
}

// PerformResize applies the decision of the last CheckResize and
// returns the resize state machine to idle. It reports the bytes the
// heap grew (positive) or shrank (negative) by.
func (s *MemorySubSpace) PerformResize(env *Env) int64 {
	s.resizeLock.Lock()
	defer s.resizeLock.Unlock()

	var delta int64
	switch {
	case s.expansionSize != 0:
		if n := s.expand(env, s.expansionSize, false); n != 0 {
			delta = int64(n)
			s.cyclesSinceExpansion = 0
		}
	case s.contractionSize != 0:
		if n := s.contract(env, s.contractionSize); n != 0 {
			delta = -int64(n)
			s.cyclesSinceContraction = 0
		}
	}
	s.expansionSize, s.contractionSize = 0, 0
	s.state = ResizeIdle
	return delta
}

// ResizeState returns the phase of the resize decision.
func (s *MemorySubSpace) ResizeState() ResizeState {
	s.resizeLock.Lock()
	defer s.resizeLock.Unlock()
	return s.state
}

// PendingResize returns the expansion and contraction recorded by the
// last CheckResize and not yet applied.
func (s *MemorySubSpace) PendingResize() (expansion, contraction uintptr) {
	s.resizeLock.Lock()
	defer s.resizeLock.Unlock()
	return s.expansionSize, s.contractionSize
}

func clampPercent(p float64) float64 {
	switch {
	case p < 0:
		return 0
	case p > 100:
		return 100
	}
	return p
}
