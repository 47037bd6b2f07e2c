package heap

import (
	"go.uber.org/zap"

	"github.com/pianoyeg94/balanced-heap/scheduler"
)

// Options configure NewHeap. Only Config is required.
type Options struct {
	Config Config

	// Topology describes the machine's NUMA layout. Nil means no NUMA.
	// Config.NumaForceNodeCount overrides it.
	Topology NumaTopology
	// Collector runs the collections the escalation ladder asks for.
	// Without one, allocation fails once the heap cannot expand.
	Collector Collector
	// World arbitrates VM access. Nil creates a private one.
	World *scheduler.World
	// Logger receives the heap's operational logs. Nil discards them.
	Logger *zap.Logger
}

// Heap is a region-based heap served by a fleet of NUMA-aware
// allocation contexts.
type Heap struct {
	cfg Config
	log *zap.Logger

	table    regionTable
	manager  *GlobalAllocationManager
	subspace *MemorySubSpace

	world     *scheduler.World
	collector Collector
	topology  NumaTopology
}

// NewHeap reserves a region table for the maximum heap size, builds
// the allocation context fleet and commits the initial heap.
func NewHeap(opts Options) (*Heap, error) {
	cfg := opts.Config
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	h := &Heap{
		cfg:       cfg,
		log:       opts.Logger,
		world:     opts.World,
		collector: opts.Collector,
		topology:  opts.Topology,
	}
	if h.log == nil {
		h.log = zap.NewNop()
	}
	if h.world == nil {
		h.world = new(scheduler.World)
	}
	switch n := cfg.NumaForceNodeCount; {
	case n > 0:
		h.topology = NewStaticTopology(n)
	case n < 0 || h.topology == nil:
		h.topology = NoNuma()
	}

	h.table.init(cfg.RegionSize, cfg.MaxHeapSize)
	h.subspace = newMemorySubSpace(h)
	h.manager = newGlobalAllocationManager(h.subspace, &h.table, &h.cfg, h.topology, h.log)

	h.subspace.resizeLock.Lock()
	h.subspace.expand(nil, cfg.InitialHeapSize, false)
	h.subspace.resizeLock.Unlock()

	h.log.Info("heap initialized",
		zap.Uint64("region-size", uint64(cfg.RegionSize)),
		zap.Uint64("heap-size", uint64(h.table.committedSize())),
		zap.Uint64("max-heap-size", uint64(cfg.MaxHeapSize)),
		zap.Int("contexts", h.manager.ContextCount()),
		zap.Ints("numa-nodes", h.manager.nodes()),
		zap.Uint64("taxation-threshold", uint64(cfg.TaxationThreshold)))
	return h, nil
}

// AttachThread binds t to an allocation context and returns its
// environment. The thread does not hold VM access until it asks for it.
func (h *Heap) AttachThread(t *scheduler.Thread) *Env {
	return &Env{
		Thread:  t,
		heap:    h,
		context: h.manager.AcquireAllocationContext(t),
	}
}

// Collect runs an explicit collection on behalf of env.
func (h *Heap) Collect(env *Env) {
	if h.collector != nil {
		h.collector.GarbageCollect(env, h.subspace, nil, GCCodeExplicit)
	}
}

// Shutdown flushes every context for good. No allocation may follow.
func (h *Heap) Shutdown(env *Env) {
	h.world.AcquireExclusiveVMAccess(env.Thread)
	defer h.world.ReleaseExclusiveVMAccess(env.Thread)

	h.manager.FlushForShutdown(env)
	h.log.Info("heap shut down",
		zap.Uint64("heap-size", uint64(h.table.committedSize())))
}

// Config returns the validated configuration the heap runs with.
func (h *Heap) Config() Config { return h.cfg }

// Manager returns the allocation context fleet.
func (h *Heap) Manager() *GlobalAllocationManager { return h.manager }

// SubSpace returns the heap's policy layer.
func (h *Heap) SubSpace() *MemorySubSpace { return h.subspace }

// World returns the VM access arbiter.
func (h *Heap) World() *scheduler.World { return h.world }

// Size returns the committed heap size in bytes.
func (h *Heap) Size() uintptr { return h.table.committedSize() }

// RegionFor returns the committed region containing addr, or nil.
func (h *Heap) RegionFor(addr uintptr) *Region {
	r := h.table.regionFor(addr)
	if r == nil || r.typ == regionUncommitted {
		return nil
	}
	return r
}

// Stats returns fleet-wide allocation statistics.
func (h *Heap) Stats() HeapStats {
	var s HeapStats
	h.manager.MergeHeapStats(&s)
	s.HeapSize = h.table.committedBytes.load()
	return s
}
