package heap

import (
	"sync/atomic"

	"go.uber.org/zap"
)

// GCCode says why a collection was requested.
type GCCode uint8

const (
	// GCCodeTaxation is the collection increment a thread owes once the
	// taxation budget ran out.
	GCCodeTaxation GCCode = iota
	// GCCodeImplicit is a regular collection after an allocation failure.
	GCCodeImplicit
	// GCCodeAggressive is the last resort before out of memory: it also
	// sends stolen regions home.
	GCCodeAggressive
	// GCCodeExplicit is a collection the program asked for.
	GCCodeExplicit

	numGCCodes
)

var gcCodeNames = []string{
	GCCodeTaxation:   "taxation",
	GCCodeImplicit:   "implicit",
	GCCodeAggressive: "aggressive",
	GCCodeExplicit:   "explicit",
}

func (c GCCode) String() string {
	if int(c) >= len(gcCodeNames) {
		return "BAD GC CODE"
	}
	return gcCodeNames[c]
}

// Collector is the tracing collector as the allocator sees it.
//
// GarbageCollect runs a cycle with exclusive VM access on behalf of
// env. Every region it finds empty must be handed back through the
// global allocation manager's RecycleRegion, after which it calls
// ResetFlushed, resets taxation and reports the cycle. Finally it
// allocates desc, if not nil, through AllocateWithoutCollect and
// returns the result.
type Collector interface {
	GarbageCollect(env *Env, subspace *MemorySubSpace, desc *AllocateDescription, code GCCode) uintptr
	GCCount() uint64
}

// SweepFunc decides whether region r still holds live objects. It may
// return dead space of a live active region to its pool with
// r.MemoryPool().Free.
type SweepFunc func(r *Region) (live bool)

// ScriptedCollector is a Collector that follows the post-cycle
// contract faithfully but leaves liveness to a SweepFunc. A nil Sweep
// finds everything dead.
type ScriptedCollector struct {
	Sweep SweepFunc
	// Stats produces the figures reported for each cycle. A nil Stats
	// reports an idle collector.
	Stats func(code GCCode) CycleStats

	counts [numGCCodes]atomic.Uint64
}

func (c *ScriptedCollector) GarbageCollect(env *Env, s *MemorySubSpace, desc *AllocateDescription, code GCCode) uintptr {
	h := s.heap
	h.world.AcquireExclusiveVMAccess(env.Thread)
	defer h.world.ReleaseExclusiveVMAccess(env.Thread)

	m := h.manager
	m.Flush(env)

	// Snapshot every context first so a migrated region is not swept
	// a second time by its new owner.
	flushed := make([][]*Region, len(m.contexts))
	for i, ctx := range m.contexts {
		flushed[i] = ctx.flushedSnapshot(env)
	}

	var recycled, migrated int
	for i, ctx := range m.contexts {
		for _, r := range flushed[i] {
			if !r.typ.active() {
				continue
			}
			if c.Sweep == nil || !c.Sweep(r) {
				// Leaves die with their spine, and must be gone before
				// the spine region is recycled.
				r.leaves.forEach(func(leaf *Region) {
					m.RecycleRegion(env, leaf)
					recycled++
				})
				r.CleanCards()
				m.RecycleRegion(env, r)
				recycled++
				continue
			}
			if code == GCCodeAggressive && r.originalOwner != nil {
				ctx.MigrateRegionToAllocationContext(env, r, r.originalOwner)
				migrated++
			}
		}
	}
	m.ResetFlushed(env)
	s.ResetTaxationThreshold()

	var stats CycleStats
	if c.Stats != nil {
		stats = c.Stats(code)
	}
	s.ReportCycle(stats)
	c.counts[code].Add(1)

	h.log.Debug("collection finished",
		zap.Stringer("code", code),
		zap.Int("recycled", recycled),
		zap.Int("migrated", migrated),
		zap.Uint64("free", uint64(m.ActualFreeMemorySize())))

	if h.cfg.Debug {
		if err := h.Verify(); err != nil {
			throw("heap corrupt after %s collection: %v", code, err)
		}
	}

	s.CheckResize(env, desc)
	s.PerformResize(env)

	if desc == nil {
		return 0
	}
	return s.AllocateWithoutCollect(env, desc)
}

// GCCount returns the number of cycles run.
func (c *ScriptedCollector) GCCount() uint64 {
	var n uint64
	for i := range c.counts {
		n += c.counts[i].Load()
	}
	return n
}

// Cycles returns the number of cycles run for code.
func (c *ScriptedCollector) Cycles(code GCCode) uint64 {
	return c.counts[code].Load()
}

// flushedSnapshot returns the regions on c's flushed list.
func (c *contextBalanced) flushedSnapshot(env *Env) []*Region {
	c.contextLock.lock(env.held())
	defer c.contextLock.unlock(env.held())

	out := make([]*Region, 0, c.flushedRegions.Len())
	c.flushedRegions.forEach(func(r *Region) { out = append(out, r) })
	return out
}
