package heap

import (
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/pianoyeg94/balanced-heap/scheduler"
)

// nodeContextSet is the ring of contexts on one NUMA node, and the one
// that receives the next region committed on that node.
type nodeContextSet struct {
	node          int
	first         *contextBalanced
	nextRecipient *contextBalanced
	count         int
}

// GlobalAllocationManager owns the fleet of allocation contexts. Index
// 0 is the common context on node 0; every other context is bound to
// one NUMA affinity leader.
type GlobalAllocationManager struct {
	contexts []*contextBalanced
	perNode  []nodeContextSet // sorted by node, node 0 first

	topology NumaTopology
	patterns []string
	log      *zap.Logger

	// nextToAssign drives the round robin over worker contexts.
	nextToAssign atomic.Uint64

	// expandLock serializes Expand's per-node cursors.
	expandLock sync.Mutex

	// flushes counts fleet flushes. A TLH claimed before the latest
	// flush may not be used any more.
	flushes atomic.Uint64
}

// idealContextCount returns how many contexts to build: the common
// context plus one per affinity leader, but never so many that a
// context would be starved of more than an eighth of the regions.
func idealContextCount(leaders, regionCount int) int {
	n := 1 + leaders
	if limit := regionCount / 8; n > limit {
		n = limit
	}
	if n < 1 {
		n = 1
	}
	return n
}

func newGlobalAllocationManager(s *MemorySubSpace, table *regionTable, cfg *Config, topology NumaTopology, log *zap.Logger) *GlobalAllocationManager {
	m := &GlobalAllocationManager{
		topology: topology,
		patterns: cfg.CommonThreadPatterns,
		log:      log,
	}
	m.initializeAllocationContexts(s, table, cfg)
	return m
}

// initializeAllocationContexts builds the fleet, threads each node's
// contexts into a sibling ring and all contexts into the cousin ring
// used for theft.
func (m *GlobalAllocationManager) initializeAllocationContexts(s *MemorySubSpace, table *regionTable, cfg *Config) {
	leaders := m.topology.AffinityLeaders()
	n := idealContextCount(len(leaders), table.maxRegions())

	m.contexts = make([]*contextBalanced, n)
	for i := range m.contexts {
		node := 0
		if i > 0 {
			node = leaders[i-1]
		}
		c := newContextBalanced(i, node, s, table, cfg, m.log)
		if i > 0 {
			c.stealingCousin = m.contexts[i-1]
			c.nextToSteal = c.stealingCousin
		}
		m.contexts[i] = c
		m.addToNode(c)
	}
	// Close the cousin ring.
	if n > 1 {
		common := m.contexts[0]
		common.stealingCousin = m.contexts[n-1]
		common.nextToSteal = common.stealingCousin
	}
}

func (m *GlobalAllocationManager) addToNode(c *contextBalanced) {
	for i := range m.perNode {
		set := &m.perNode[i]
		if set.node != c.numaNode {
			continue
		}
		// Splice c in after the ring's head.
		c.nextSibling = set.first.nextSibling
		set.first.nextSibling = c
		set.count++
		return
	}
	m.perNode = append(m.perNode, nodeContextSet{node: c.numaNode, first: c, nextRecipient: c, count: 1})
}

// nodes returns the NUMA nodes that have at least one context.
func (m *GlobalAllocationManager) nodes() []int {
	out := make([]int, len(m.perNode))
	for i, set := range m.perNode {
		out[i] = set.node
	}
	return out
}

// nodeForRegion stripes regions over the nodes that have a context.
func (m *GlobalAllocationManager) nodeForRegion(idx RegionIdx) int {
	return m.perNode[int(idx)%len(m.perNode)].node
}

// CommonContext returns the context at index 0.
func (m *GlobalAllocationManager) CommonContext() AllocationContext { return m.contexts[0] }

// Contexts returns the fleet in index order.
func (m *GlobalAllocationManager) Contexts() []AllocationContext {
	out := make([]AllocationContext, len(m.contexts))
	for i, c := range m.contexts {
		out[i] = c
	}
	return out
}

// ContextCount returns the size of the fleet.
func (m *GlobalAllocationManager) ContextCount() int { return len(m.contexts) }

// AcquireAllocationContext picks the context a new thread allocates
// from and binds the thread's affinity to it.
//
// Threads go to the common context when it is the only one, when they
// are system or attached threads, or when their class name matches one
// of the configured common thread patterns. Everything else is dealt
// round robin over the worker contexts.
func (m *GlobalAllocationManager) AcquireAllocationContext(t *scheduler.Thread) AllocationContext {
	var c *contextBalanced
	if len(m.contexts) == 1 || m.isCommonThread(t) {
		c = m.contexts[0]
		if len(m.contexts) > 1 {
			m.topology.SetThreadAffinity(t, m.topology.FreeProcessorNodes())
		}
	} else {
		workers := uint64(len(m.contexts) - 1)
		c = m.contexts[1+(m.nextToAssign.Add(1)-1)%workers]
		m.topology.SetThreadAffinity(t, []int{c.numaNode})
	}
	c.threadCount.Add(1)
	return c
}

func (m *GlobalAllocationManager) isCommonThread(t *scheduler.Thread) bool {
	if t.System() {
		return true
	}
	for _, p := range m.patterns {
		if wildcardMatch(p, t.ClassName) {
			return true
		}
	}
	return false
}

// ReleaseAllocationContext drops the exiting thread's claim on its
// context.
func (m *GlobalAllocationManager) ReleaseAllocationContext(env *Env) {
	c, ok := env.context.(*contextBalanced)
	if !ok || c == nil {
		return
	}
	if c.threadCount.Add(-1) < 0 {
		throw("context %d thread count went negative", c.index)
	}
	env.context = nil
}

// Expand hands a freshly committed FREE region to the next context of
// its node and moves that node's cursor on.
func (m *GlobalAllocationManager) Expand(env *Env, r *Region) {
	m.expandLock.Lock()
	var recipient *contextBalanced
	for i := range m.perNode {
		if set := &m.perNode[i]; set.node == r.numaNode {
			recipient = set.nextRecipient
			set.nextRecipient = recipient.nextSibling
			break
		}
	}
	m.expandLock.Unlock()

	if recipient == nil {
		// No context lives on the region's node.
		recipient = m.contexts[0]
	}
	recipient.addExpandedRegion(env, r)
}

func (m *GlobalAllocationManager) ActualFreeMemorySize() uintptr {
	var n uintptr
	for _, c := range m.contexts {
		n += c.ActualFreeMemorySize()
	}
	return n
}

func (m *GlobalAllocationManager) FreeRegionCount() int {
	n := 0
	for _, c := range m.contexts {
		n += c.FreeRegionCount()
	}
	return n
}

func (m *GlobalAllocationManager) IdleRegionCount() int {
	n := 0
	for _, c := range m.contexts {
		n += c.IdleRegionCount()
	}
	return n
}

func (m *GlobalAllocationManager) LargestFreeEntry() uintptr {
	var largest uintptr
	for _, c := range m.contexts {
		if n := c.LargestFreeEntry(); n > largest {
			largest = n
		}
	}
	return largest
}

func (m *GlobalAllocationManager) ResetLargestFreeEntry() {
	for _, c := range m.contexts {
		c.ResetLargestFreeEntry()
	}
}

func (m *GlobalAllocationManager) MergeHeapStats(s *HeapStats) {
	for _, c := range m.contexts {
		c.MergeHeapStats(s)
	}
}

func (m *GlobalAllocationManager) ResetHeapStatistics() {
	for _, c := range m.contexts {
		c.ResetHeapStatistics()
	}
}

// Flush flushes every context. It runs with the world stopped.
func (m *GlobalAllocationManager) Flush(env *Env) {
	m.flushes.Add(1)
	for _, c := range m.contexts {
		c.Flush(env)
	}
}

// FlushForShutdown flushes every context for VM shutdown.
func (m *GlobalAllocationManager) FlushForShutdown(env *Env) {
	m.flushes.Add(1)
	for _, c := range m.contexts {
		c.FlushForShutdown(env)
	}
}

// ResetFlushed returns every context's surviving flushed regions to
// allocation.
func (m *GlobalAllocationManager) ResetFlushed(env *Env) {
	for _, c := range m.contexts {
		c.ResetFlushed(env)
	}
}

func (m *GlobalAllocationManager) flushCount() uint64 { return m.flushes.Load() }

// RecycleRegion returns r to the context it was stolen from, or to its
// owner if it was sourced locally.
func (m *GlobalAllocationManager) RecycleRegion(env *Env, r *Region) {
	home := r.originalOwner
	if home == nil {
		home = r.owner.Load()
	}
	if home == nil {
		throw("recycling region %d with no owner", r.idx)
	}
	home.RecycleRegion(env, r)
}

// SelectRegionForContraction takes a FREE region from the first
// context that has one, trying the worker contexts before the common
// one.
func (m *GlobalAllocationManager) SelectRegionForContraction(env *Env) *Region {
	for i := len(m.contexts) - 1; i >= 0; i-- {
		if r := m.contexts[i].SelectRegionForContraction(env); r != nil {
			return r
		}
	}
	return nil
}

// wildcardMatch reports whether name matches pattern, where '*' in
// pattern matches any run of characters.
func wildcardMatch(pattern, name string) bool {
	px, nx := 0, 0
	// Position to resume from after the last '*'.
	starPx, starNx := -1, 0
	for px < len(pattern) || nx < len(name) {
		if px < len(pattern) {
			switch c := pattern[px]; c {
			case '*':
				starPx, starNx = px, nx+1
				px++
				continue
			default:
				if nx < len(name) && name[nx] == c {
					px++
					nx++
					continue
				}
			}
		}
		if starPx >= 0 && starNx <= len(name) {
			px, nx = starPx+1, starNx
			starNx++
			continue
		}
		return false
	}
	return true
}
