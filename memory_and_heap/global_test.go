package heap

import (
	"testing"

	"go.uber.org/zap/zaptest"

	"github.com/pianoyeg94/balanced-heap/scheduler"
)

func TestIdealContextCount(t *testing.T) {
	tests := []struct {
		leaders, regions int
		want             int
	}{
		{0, 1024, 1},
		{4, 1024, 5},
		{4, 32, 4},
		{4, 8, 1},
		{4, 4, 1},
		{2, 24, 3},
	}
	for _, tt := range tests {
		if got := idealContextCount(tt.leaders, tt.regions); got != tt.want {
			t.Errorf("idealContextCount(%d, %d) = %d, want %d", tt.leaders, tt.regions, got, tt.want)
		}
	}
}

func TestWildcardMatch(t *testing.T) {
	tests := []struct {
		pattern, name string
		want          bool
	}{
		{"", "", true},
		{"*", "", true},
		{"*", "anything", true},
		{"java/lang/ref/*", "java/lang/ref/Finalizer", true},
		{"java/lang/ref/*", "java/lang/Thread", false},
		{"*Finalizer*", "java/lang/ref/Finalizer$Thread", true},
		{"a*b*c", "abbbc", true},
		{"a*b*c", "abcb", false},
		{"a*b", "ab", true},
		{"exact", "exact", true},
		{"exact", "exactly", false},
		{"exact*", "exactly", true},
		{"**", "x", true},
	}
	for _, tt := range tests {
		if got := wildcardMatch(tt.pattern, tt.name); got != tt.want {
			t.Errorf("wildcardMatch(%q, %q) = %v, want %v", tt.pattern, tt.name, got, tt.want)
		}
	}
}

func TestContextFleetWiring(t *testing.T) {
	cfg := testConfig(32)
	cfg.NumaForceNodeCount = 3
	h := newTestHeap(t, cfg, nil)
	m := h.Manager()

	if n := m.ContextCount(); n != 4 {
		t.Fatalf("ContextCount() = %d, want 4", n)
	}
	for i, c := range m.contexts {
		if c.Index() != i || c.NumaNode() != i {
			t.Errorf("context %d: index %d, node %d", i, c.Index(), c.NumaNode())
		}
		if c.nextSibling != c {
			t.Errorf("context %d has a sibling on a node of its own", i)
		}
		// Cousins run down the indices and wrap around.
		want := m.contexts[(i+len(m.contexts)-1)%len(m.contexts)]
		if c.stealingCousin != want {
			t.Errorf("context %d steals from %d, want %d", i, c.stealingCousin.index, want.index)
		}
		if n := c.FreeRegionCount(); n != 8 {
			t.Errorf("context %d has %d FREE regions, want 8", i, n)
		}
	}
	mustVerify(t, h)
}

func TestAcquireAllocationContextRoundRobin(t *testing.T) {
	cfg := testConfig(32)
	cfg.NumaForceNodeCount = 3
	h := newTestHeap(t, cfg, nil)
	m := h.Manager()

	var envs []*Env
	for i := 0; i < 6; i++ {
		env := attach(h, "worker", "app/Worker", 0)
		envs = append(envs, env)
		want := 1 + i%3
		if got := env.AllocationContext().Index(); got != want {
			t.Errorf("thread %d got context %d, want %d", i, got, want)
		}
		if node, ok := env.Thread.Affinity(); !ok || node != want {
			t.Errorf("thread %d bound to node %d (%v), want %d", i, node, ok, want)
		}
	}
	for i := 1; i < 4; i++ {
		if n := m.contexts[i].ThreadCount(); n != 2 {
			t.Errorf("context %d serves %d threads, want 2", i, n)
		}
	}
	if n := m.contexts[0].ThreadCount(); n != 0 {
		t.Errorf("common context serves %d threads, want 0", n)
	}

	for _, env := range envs {
		env.Detach()
	}
	for i := 1; i < 4; i++ {
		if n := m.contexts[i].ThreadCount(); n != 0 {
			t.Errorf("context %d serves %d threads after detach", i, n)
		}
	}
}

func TestCommonThreads(t *testing.T) {
	cfg := testConfig(32)
	cfg.NumaForceNodeCount = 3
	cfg.CommonThreadPatterns = []string{"java/lang/ref/*", "*JIT*"}
	h := newTestHeap(t, cfg, nil)

	tests := []struct {
		class  string
		flags  scheduler.ThreadFlags
		common bool
	}{
		{"app/Worker", 0, false},
		{"java/lang/ref/Finalizer", 0, true},
		{"vm/JITCompiler", 0, true},
		{"app/Worker", scheduler.ThreadSystem, true},
		{"app/Worker", scheduler.ThreadAttached, true},
	}
	for _, tt := range tests {
		env := attach(h, "t", tt.class, tt.flags)
		if got := env.AllocationContext().Index() == 0; got != tt.common {
			t.Errorf("%s (flags %b): common = %v, want %v", tt.class, tt.flags, got, tt.common)
		}
		if tt.common {
			// Bound to every free node, so bound to none in particular.
			if _, ok := env.Thread.Affinity(); ok {
				t.Errorf("%s: common thread bound to a single node", tt.class)
			}
		}
	}
}

func TestSingleContextTakesEveryThread(t *testing.T) {
	h := newTestHeap(t, testConfig(8), nil)
	for i := 0; i < 3; i++ {
		env := attach(h, "worker", "app/Worker", 0)
		if env.AllocationContext() != h.Manager().CommonContext() {
			t.Fatalf("thread %d not on the common context", i)
		}
		if _, ok := env.Thread.Affinity(); ok {
			t.Errorf("thread %d bound without NUMA", i)
		}
	}
	if n := h.Manager().CommonContext().ThreadCount(); n != 3 {
		t.Errorf("ThreadCount() = %d, want 3", n)
	}
}

// twoPerNodeTopology puts two worker contexts on each of its nodes.
type twoPerNodeTopology struct {
	nodes int
}

func (p twoPerNodeTopology) AffinityLeaders() []int {
	var out []int
	for n := 1; n <= p.nodes; n++ {
		out = append(out, n, n)
	}
	return out
}

func (p twoPerNodeTopology) FreeProcessorNodes() []int { return nil }

func (p twoPerNodeTopology) SetThreadAffinity(t *scheduler.Thread, nodes []int) bool {
	if len(nodes) == 1 {
		t.SetAffinity(nodes[0])
		return true
	}
	return false
}

func TestExpandRoundRobinWithinNode(t *testing.T) {
	h, err := NewHeap(Options{
		Config:   testConfig(24),
		Topology: twoPerNodeTopology{nodes: 1},
		Logger:   zaptest.NewLogger(t),
	})
	if err != nil {
		t.Fatal(err)
	}
	m := h.Manager()
	if n := m.ContextCount(); n != 3 {
		t.Fatalf("ContextCount() = %d, want 3", n)
	}
	a, b := m.contexts[1], m.contexts[2]
	if a.nextSibling != b || b.nextSibling != a {
		t.Fatal("contexts of node 1 are not siblings")
	}
	for i, want := range []int{12, 6, 6} {
		if n := m.contexts[i].FreeRegionCount(); n != want {
			t.Errorf("context %d has %d FREE regions, want %d", i, n, want)
		}
	}
	mustVerify(t, h)
}

func TestReplenishFromSiblingBeforeTheft(t *testing.T) {
	h, err := NewHeap(Options{
		Config:   testConfig(24),
		Topology: twoPerNodeTopology{nodes: 1},
		Logger:   zaptest.NewLogger(t),
	})
	if err != nil {
		t.Fatal(err)
	}
	m := h.Manager()
	env := attach(h, "worker", "app/Worker", 0)
	c := env.AllocationContext().(*contextBalanced)
	if c.index != 1 {
		t.Fatalf("worker on context %d", c.index)
	}

	// Six regions of its own, then six of its sibling's.
	for i := 0; i < 12; i++ {
		desc := AllocateDescription{Size: testRegionSize}
		p := c.AllocateObject(env, &desc, false)
		if p == 0 {
			t.Fatalf("allocation %d failed", i)
		}
		r := h.RegionFor(p)
		if r.OriginalOwningContext() != nil {
			t.Fatalf("allocation %d stole region %d", i, r.Index())
		}
		if r.NumaNode() != 1 {
			t.Fatalf("allocation %d got a region on node %d", i, r.NumaNode())
		}
	}
	if c.cachedReplenishPoint != m.contexts[2] {
		t.Error("replenish point did not move to the sibling")
	}
	if s := h.Stats(); s.Thefts != 0 {
		t.Errorf("Thefts = %d, want 0", s.Thefts)
	}
	mustVerify(t, h)
}

func TestTheftAndRecycleHome(t *testing.T) {
	cfg := testConfig(16)
	cfg.NumaForceNodeCount = 1
	collector := &ScriptedCollector{}
	h := newTestHeap(t, cfg, collector)
	m := h.Manager()
	common, worker := m.contexts[0], m.contexts[1]

	env := attach(h, "worker", "app/Worker", 0)
	if env.AllocationContext() != worker {
		t.Fatal("worker thread not on the worker context")
	}

	for i := 0; i < 8; i++ {
		desc := AllocateDescription{Size: testRegionSize}
		if worker.AllocateObject(env, &desc, false) == 0 {
			t.Fatalf("allocation %d failed", i)
		}
	}
	if n := worker.FreeRegionCount(); n != 0 {
		t.Fatalf("worker has %d FREE regions left", n)
	}

	desc := AllocateDescription{Size: testRegionSize}
	p := worker.AllocateObject(env, &desc, false)
	if p == 0 {
		t.Fatal("theft failed")
	}
	stolen := h.RegionFor(p)
	if stolen.OwningContext() != worker || stolen.OriginalOwningContext() != common {
		t.Fatalf("stolen region owned by %v, stolen from %v", stolen.OwningContext(), stolen.OriginalOwningContext())
	}
	if stolen.NumaNode() != 0 {
		t.Errorf("stolen region on node %d, want 0", stolen.NumaNode())
	}
	if s := h.Stats(); s.Thefts != 1 {
		t.Errorf("Thefts = %d, want 1", s.Thefts)
	}
	if worker.nextToSteal != common {
		t.Errorf("next theft from context %d, want 0", worker.nextToSteal.index)
	}
	mustVerify(t, h)

	// Everything is dead: the stolen region goes back to the common
	// context, the rest stays with the worker.
	h.Collect(env)
	if stolen.Type() != RegionIdle || stolen.OwningContext() != common || stolen.OriginalOwningContext() != nil {
		t.Fatalf("recycled stolen region is %s owned by %v", stolen.Type(), stolen.OwningContext())
	}
	if n := common.FreeRegionCount(); n != 8 {
		t.Errorf("common context has %d free regions, want 8", n)
	}
	if n := worker.IdleRegionCount(); n != 8 {
		t.Errorf("worker context has %d idle regions, want 8", n)
	}
	if n := collector.Cycles(GCCodeExplicit); n != 1 {
		t.Errorf("%d explicit cycles, want 1", n)
	}
	mustVerify(t, h)
}

func TestAggressiveCollectionSendsStolenRegionsHome(t *testing.T) {
	cfg := testConfig(16)
	cfg.NumaForceNodeCount = 1
	collector := &ScriptedCollector{Sweep: func(*Region) bool { return true }}
	h := newTestHeap(t, cfg, collector)
	m := h.Manager()
	common, worker := m.contexts[0], m.contexts[1]

	env := attach(h, "worker", "app/Worker", 0)
	for i := 0; i < 9; i++ {
		desc := AllocateDescription{Size: testRegionSize}
		if worker.AllocateObject(env, &desc, false) == 0 {
			t.Fatalf("allocation %d failed", i)
		}
	}
	var stolen *Region
	h.table.forEachCommitted(func(r *Region) {
		if r.originalOwner != nil {
			stolen = r
		}
	})
	if stolen == nil {
		t.Fatal("nothing was stolen")
	}

	collector.GarbageCollect(env, h.SubSpace(), nil, GCCodeAggressive)
	if stolen.OwningContext() != common || stolen.OriginalOwningContext() != nil {
		t.Errorf("live stolen region owned by %v, stolen from %v", stolen.OwningContext(), stolen.OriginalOwningContext())
	}
	if !stolen.Type().active() {
		t.Errorf("live region is %s", stolen.Type())
	}
	mustVerify(t, h)
}
