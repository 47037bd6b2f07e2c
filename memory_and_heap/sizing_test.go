package heap

import (
	"math"
	"testing"
	"time"
)

func TestResizeStateString(t *testing.T) {
	if got := ResizeContracting.String(); got != "contracting" {
		t.Errorf("ResizeContracting.String() = %q", got)
	}
	if got := ResizeState(42).String(); got != "BAD RESIZE STATE" {
		t.Errorf("ResizeState(42).String() = %q", got)
	}
}

func TestHybridHeapOverhead(t *testing.T) {
	h := newTestHeap(t, testConfig(4), nil)
	s := h.SubSpace()

	const rs = testRegionSize
	tests := []struct {
		name   string
		in     sizingInputs
		change float64
		want   float64
	}{
		// Free ratio at the bottom of the band maps to the expansion
		// threshold, at the top to the contraction threshold.
		{"band bottom", sizingInputs{heapSize: 100 * rs, free: 30 * rs, regionSize: rs}, 0, 0.4 * 5},
		{"band top", sizingInputs{heapSize: 100 * rs, free: 60 * rs, regionSize: rs}, 0, 0.4 * 2},
		{"gc only", sizingInputs{heapSize: 100 * rs, free: 45 * rs, regionSize: rs, gcPercent: 10}, 0, 0.6*10 + 0.4*3.5},
		{"expanded", sizingInputs{heapSize: 100 * rs, free: 20 * rs, regionSize: rs, gcPercent: 10}, 20 * rs, 0.6*5 + 0.4*((5+(40.0/120-0.3)/0.3*-3))},
		{"exhausted", sizingInputs{heapSize: 4 * rs, regionSize: rs, gcPercent: 50}, 0, 0.6*50 + 0.4*100},
	}
	for _, tt := range tests {
		got := s.calculateHybridHeapOverhead(tt.in, tt.change)
		if math.Abs(got-tt.want) > 1e-9 {
			t.Errorf("%s: overhead = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestMemoryPercentageBelowBand(t *testing.T) {
	h := newTestHeap(t, testConfig(4), nil)
	s := h.SubSpace()

	in := sizingInputs{heapSize: 100, free: 15, regionSize: 1}
	// Half the minimum free ratio: linear part 6.5 plus 5 * (2 - 1).
	if got := s.mapMemoryPercentageToGcOverhead(in, 0); math.Abs(got-11.5) > 1e-9 {
		t.Errorf("mapMemoryPercentageToGcOverhead() = %v, want 11.5", got)
	}
	in.free = 0
	if got := s.mapMemoryPercentageToGcOverhead(in, 0); got != 100 {
		t.Errorf("no free memory maps to %v, want 100", got)
	}
}

func TestMeasuredGCPercent(t *testing.T) {
	h := newTestHeap(t, testConfig(4), nil)
	s := h.SubSpace()

	tests := []struct {
		stats CycleStats
		want  float64
	}{
		{CycleStats{PartialGCTime: 10 * time.Millisecond, GlobalMarkTime: 10 * time.Millisecond, Interval: 100 * time.Millisecond}, 20},
		{CycleStats{PartialGCTime: 10 * time.Millisecond, Interval: 100 * time.Millisecond, Global: true, SelfReportedGCPercent: 7}, 7},
		{CycleStats{SelfReportedGCPercent: 3}, 3},
		{CycleStats{PartialGCTime: 2 * time.Second, Interval: time.Second}, 100},
	}
	for i, tt := range tests {
		s.ReportCycle(tt.stats)
		if got := s.measuredGCPercent(); math.Abs(got-tt.want) > 1e-9 {
			t.Errorf("case %d: measuredGCPercent() = %v, want %v", i, got, tt.want)
		}
	}
}

func growableConfig() Config {
	cfg := testConfig(4)
	cfg.MaxHeapSize = 16 * testRegionSize
	return cfg
}

func TestCheckResizeExpandsUnderPressure(t *testing.T) {
	h := newTestHeap(t, growableConfig(), nil)
	env := attach(h, "main", "app/Main", 0)
	fillHeap(t, h, env)
	s := h.SubSpace()

	s.ReportCycle(CycleStats{PartialGCTime: 50 * time.Millisecond, Interval: 100 * time.Millisecond})
	s.CheckResize(env, nil)

	expansion, contraction := s.PendingResize()
	if expansion == 0 || expansion%testRegionSize != 0 || contraction != 0 {
		t.Fatalf("PendingResize() = %d, %d; want a whole-region expansion", expansion, contraction)
	}
	if st := s.ResizeState(); st != ResizeExpanding {
		t.Errorf("ResizeState() = %s, want expanding", st)
	}

	before := h.Size()
	if delta := s.PerformResize(env); delta != int64(expansion) {
		t.Errorf("PerformResize() = %d, want %d", delta, expansion)
	}
	if h.Size() != before+expansion {
		t.Errorf("Size() = %d, want %d", h.Size(), before+expansion)
	}
	if st := s.ResizeState(); st != ResizeIdle {
		t.Errorf("ResizeState() after PerformResize = %s, want idle", st)
	}
	if n := h.Manager().FreeRegionCount(); n != int(expansion/testRegionSize) {
		t.Errorf("FreeRegionCount() = %d after expanding by %d", n, expansion)
	}
	mustVerify(t, h)
}

func TestCheckResizeRespectsSoftMax(t *testing.T) {
	cfg := growableConfig()
	cfg.SoftMaxHeapSize = 4 * testRegionSize
	h := newTestHeap(t, cfg, nil)
	env := attach(h, "main", "app/Main", 0)
	fillHeap(t, h, env)
	s := h.SubSpace()

	s.ReportCycle(CycleStats{PartialGCTime: 50 * time.Millisecond, Interval: 100 * time.Millisecond})
	s.CheckResize(env, nil)
	if expansion, _ := s.PendingResize(); expansion != 0 {
		t.Errorf("expanding by %d past the soft maximum", expansion)
	}
	if st := s.ResizeState(); st != ResizeNoOp {
		t.Errorf("ResizeState() = %s, want no-op", st)
	}
	if delta := s.PerformResize(env); delta != 0 {
		t.Errorf("PerformResize() = %d, want 0", delta)
	}

	// An allocation nothing can satisfy still gets its region.
	desc := AllocateDescription{Size: 4096}
	s.CheckResize(env, &desc)
	if expansion, _ := s.PendingResize(); expansion != testRegionSize {
		t.Errorf("expansion to satisfy = %d, want one region", expansion)
	}
	s.PerformResize(env)
	if got := h.Size(); got != 5*testRegionSize {
		t.Errorf("Size() = %d, want 5 regions", got)
	}
}

func TestExpandToSatisfyFragmentedHeap(t *testing.T) {
	cfg := testConfig(8)
	cfg.MaxHeapSize = 64 * testRegionSize
	h := newTestHeap(t, cfg, nil)
	env := attach(h, "main", "app/Main", 0)
	s := h.SubSpace()

	// One object just over half a region per region: the heap is half
	// free, yet no free entry fits another such object.
	const size = testRegionSize/2 + 8
	c := env.AllocationContext()
	for c.FreeRegionCount() != 0 {
		desc := AllocateDescription{Size: size}
		if c.AllocateObject(env, &desc, false) == 0 {
			t.Fatal("fragmenting the heap failed")
		}
	}

	s.CheckResize(env, &AllocateDescription{Size: size})
	expansion, contraction := s.PendingResize()
	if expansion != testRegionSize || contraction != 0 {
		t.Fatalf("PendingResize() = %d, %d; want one region for the request", expansion, contraction)
	}
	if delta := s.PerformResize(env); delta != testRegionSize {
		t.Errorf("PerformResize() = %d, want %d", delta, testRegionSize)
	}
	if got := h.Size(); got != 9*testRegionSize {
		t.Errorf("Size() = %d, want 9 regions", got)
	}
	mustVerify(t, h)
}

func TestFallbackResizeBounds(t *testing.T) {
	h := newTestHeap(t, testConfig(4), nil)
	s := h.SubSpace()
	in := sizingInputs{heapSize: 64 * testRegionSize, regionSize: testRegionSize}

	tests := []struct {
		frac float64
		want uintptr
	}{
		{-0.4, testRegionSize},
		{0, testRegionSize},
		{0.05, 4 * testRegionSize}, // 3.2 regions, rounded up
		{0.25, 16 * testRegionSize},
		{3, 16 * testRegionSize},
	}
	for _, tt := range tests {
		if got := s.fallbackResize(in, tt.frac); got != tt.want {
			t.Errorf("fallbackResize(%v) = %d, want %d", tt.frac, got, tt.want)
		}
	}
}

func TestCheckResizeContractsAboveSoftMax(t *testing.T) {
	cfg := growableConfig()
	cfg.InitialHeapSize = 8 * testRegionSize
	cfg.MinHeapSize = 2 * testRegionSize
	cfg.SoftMaxHeapSize = 6 * testRegionSize
	h := newTestHeap(t, cfg, nil)
	env := attach(h, "main", "app/Main", 0)
	s := h.SubSpace()

	// Busy enough to stay out of the contraction band.
	s.ReportCycle(CycleStats{SelfReportedGCPercent: 5})
	s.CheckResize(env, nil)
	if _, contraction := s.PendingResize(); contraction != 2*testRegionSize {
		t.Fatalf("contraction = %d, want two regions", contraction)
	}
	if delta := s.PerformResize(env); delta != -2*testRegionSize {
		t.Errorf("PerformResize() = %d, want %d", delta, -2*testRegionSize)
	}
	if got := h.Size(); got != 6*testRegionSize {
		t.Errorf("Size() = %d, want 6 regions", got)
	}
	mustVerify(t, h)
}

func TestCheckResizeContractsIdleHeap(t *testing.T) {
	cfg := growableConfig()
	cfg.InitialHeapSize = 16 * testRegionSize
	cfg.MinHeapSize = 4 * testRegionSize
	h := newTestHeap(t, cfg, nil)
	env := attach(h, "main", "app/Main", 0)
	s := h.SubSpace()

	s.ReportCycle(CycleStats{})
	s.CheckResize(env, nil)
	_, contraction := s.PendingResize()
	if contraction == 0 || contraction%testRegionSize != 0 || contraction > 4*testRegionSize {
		t.Fatalf("contraction = %d, want up to a quarter of the heap in whole regions", contraction)
	}
	s.PerformResize(env)
	if got := h.Size(); got != 16*testRegionSize-contraction {
		t.Errorf("Size() = %d, want %d", got, 16*testRegionSize-contraction)
	}

	// A global mark in progress holds contraction back.
	s.ReportCycle(CycleStats{SelfReportedGCPercent: 0, GlobalMarkInProgress: true})
	s.CheckResize(env, nil)
	if _, c := s.PendingResize(); c != 0 {
		t.Errorf("contracting by %d during a global mark", c)
	}
	s.PerformResize(env)
	mustVerify(t, h)
}

func TestStabilizationHoldsBackContraction(t *testing.T) {
	cfg := growableConfig()
	cfg.InitialHeapSize = 8 * testRegionSize
	cfg.MinHeapSize = 4 * testRegionSize
	h := newTestHeap(t, cfg, nil)
	env := attach(h, "main", "app/Main", 0)
	s := h.SubSpace()

	if s.CollectorExpand(env) != testRegionSize {
		t.Fatal("CollectorExpand did not add a region")
	}
	for i := 0; i < cfg.ContractionStabilizationCycles; i++ {
		s.ReportCycle(CycleStats{})
		s.CheckResize(env, nil)
		_, contraction := s.PendingResize()
		switch {
		case i < cfg.ContractionStabilizationCycles-1 && contraction != 0:
			t.Errorf("cycle %d: contracting right after an expansion", i)
		case i == cfg.ContractionStabilizationCycles-1 && contraction == 0:
			t.Errorf("cycle %d: stabilization passed but no contraction", i)
		}
		s.PerformResize(env)
	}
}
