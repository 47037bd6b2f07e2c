package heap

import (
	"sync/atomic"

	"go.uber.org/zap"
)

// acquireKind selects what a donor context hands out.
type acquireKind uint8

const (
	acquireMP   acquireKind = iota // a region with a memory pool, ready for objects
	acquireFree                    // a FREE region, for an arraylet leaf
)

// contextBalanced is the allocation context of the balanced policy.
//
// Regions owned by the context live in exactly one of: the fast-path
// slot (allocationRegion), nonFullRegions, discardRegionList,
// flushedRegions, freeRegions or idleRegions. The first four are
// guarded by contextLock, the free and idle lists by freeListLock so
// that theft from other contexts never contends with allocation.
//
// freeMemorySize is the exact number of free bytes in the pools of the
// fast-path, non-full and discarded regions. Every change to those
// lists adjusts it inside the same critical section.
type contextBalanced struct {
	index    int
	numaNode int

	subspace *MemorySubSpace
	table    *regionTable
	cfg      *Config
	log      *zap.Logger

	contextLock  lightweightLock
	freeListLock lightweightLock

	// Guarded by contextLock.
	allocationRegion  *Region
	nonFullRegions    RegionList
	discardRegionList RegionList
	flushedRegions    RegionList
	freeMemorySize    uintptr
	stats             allocationStats

	// Guarded by freeListLock.
	freeRegions RegionList
	idleRegions RegionList

	// Replenishment topology, fixed once the manager wired the fleet
	// apart from the two cursors, which are guarded by contextLock.
	nextSibling          *contextBalanced
	cachedReplenishPoint *contextBalanced
	stealingCousin       *contextBalanced
	nextToSteal          *contextBalanced

	threadCount atomic.Int32
}

func newContextBalanced(index, node int, s *MemorySubSpace, table *regionTable, cfg *Config, log *zap.Logger) *contextBalanced {
	c := &contextBalanced{
		index:    index,
		numaNode: node,
		subspace: s,
		table:    table,
		cfg:      cfg,
		log:      log,
	}
	if index == 0 {
		c.contextLock.init(lockRankCommonContext)
	} else {
		c.contextLock.init(lockRankContext)
	}
	c.freeListLock.init(lockRankFreeList)
	c.nonFullRegions.init(table, "nonFullRegions", listRegions)
	c.discardRegionList.init(table, "discardRegionList", listRegions)
	c.flushedRegions.init(table, "flushedRegions", listRegions)
	c.freeRegions.init(table, "freeRegions", listRegions)
	c.idleRegions.init(table, "idleRegions", listRegions)
	c.nextSibling = c
	c.cachedReplenishPoint = c
	c.stealingCousin = c
	c.nextToSteal = c
	return c
}

func (c *contextBalanced) Index() int    { return c.index }
func (c *contextBalanced) NumaNode() int { return c.numaNode }

func (c *contextBalanced) regionSize() uintptr { return c.table.regionSize }

func (c *contextBalanced) AllocateObject(env *Env, desc *AllocateDescription, shouldCollectOnFailure bool) uintptr {
	desc.kind = allocObject
	p := c.allocate(env, desc)
	// Objects larger than a region are arraylets; no amount of
	// collecting makes one fit.
	if p == 0 && shouldCollectOnFailure && desc.Size <= c.regionSize() {
		p = c.subspace.ReplenishAllocationContextFailed(env, c, desc)
	}
	return p
}

func (c *contextBalanced) AllocateTLH(env *Env, desc *AllocateDescription, shouldCollectOnFailure bool) (uintptr, uintptr) {
	desc.kind = allocTLH
	p := c.allocate(env, desc)
	if p == 0 && shouldCollectOnFailure {
		p = c.subspace.ReplenishAllocationContextFailed(env, c, desc)
	}
	if p == 0 {
		return 0, 0
	}
	return p, desc.TLHTop
}

func (c *contextBalanced) AllocateArrayletLeaf(env *Env, desc *AllocateDescription, shouldCollectOnFailure bool) uintptr {
	desc.kind = allocLeaf
	p := c.allocate(env, desc)
	if p == 0 && shouldCollectOnFailure {
		p = c.subspace.ReplenishAllocationContextFailed(env, c, desc)
	}
	return p
}

// allocate runs one allocation attempt of desc.kind under contextLock.
// A leaf that could not be linked while the lock was held is linked
// once it is released.
func (c *contextBalanced) allocate(env *Env, desc *AllocateDescription) uintptr {
	c.contextLock.lock(env.held())
	p := c.lockedAllocate(env, desc)
	c.contextLock.unlock(env.held())

	if leaf := desc.pendingLeaf; leaf != nil {
		desc.pendingLeaf = nil
		c.linkLeafDeferred(env, leaf)
	}
	return p
}

// lockedAllocate tries the fast-path region, then the non-full list,
// then a fresh region. contextLock must be held.
func (c *contextBalanced) lockedAllocate(env *Env, desc *AllocateDescription) uintptr {
	if desc.kind == allocLeaf {
		// Leaves take whole regions; there is nothing to cache.
		return c.lockedReplenishAndAllocate(env, desc)
	}

	var demoted *Region
	if r := c.allocationRegion; r != nil {
		if p := c.allocateFromRegion(r, desc); p != 0 {
			return p
		}
		c.uncache(r)
		if desc.kind == allocTLH {
			// A TLH takes whatever entry comes first, so a failed
			// TLH request means the region has nothing usable left.
			if free, minEntry := r.pool.ActualFreeMemorySize(), r.pool.MinimumFreeEntrySize(); free >= minEntry {
				throw("TLH allocation failed in region %d with %d free bytes (minimum entry %d)", r.idx, free, minEntry)
			}
			c.discardRegionList.insertTail(r)
		} else {
			// Smaller objects may still fit.
			c.nonFullRegions.insertTail(r)
			demoted = r
		}
	}

	for r := c.nonFullRegions.peekFirst(); r != nil && r != demoted; r = c.nonFullRegions.peekFirst() {
		c.nonFullRegions.remove(r)
		if p := c.allocateFromRegion(r, desc); p != 0 {
			c.cache(r)
			return p
		}
		c.discardRegionList.insertTail(r)
	}

	return c.lockedReplenishAndAllocate(env, desc)
}

// allocateFromRegion runs the pool operation for desc against r and
// debits the bytes it consumed. contextLock must be held.
func (c *contextBalanced) allocateFromRegion(r *Region, desc *AllocateDescription) uintptr {
	pool := r.pool
	before := pool.ActualFreeMemorySize()

	var p uintptr
	switch desc.kind {
	case allocObject:
		p = pool.AllocateObject(desc.Size)
	case allocTLH:
		p, desc.TLHTop = pool.AllocateTLH(desc.TLHMaximum)
	default:
		throw("%s allocated from a region's pool", desc.kind)
	}

	after := pool.ActualFreeMemorySize()
	if p == 0 {
		if before != after {
			throw("failed allocation consumed %d bytes of region %d", before-after, r.idx)
		}
		return 0
	}
	c.debitFreeMemory(before - after)

	switch desc.kind {
	case allocObject:
		c.stats.objects++
		c.stats.objectBytes += uint64(before - after)
	case allocTLH:
		c.stats.tlhs++
		c.stats.tlhBytes += uint64(before - after)
	}
	return p
}

// lockedReplenishAndAllocate installs a fresh region and retries the
// allocation against it. contextLock must be held.
func (c *contextBalanced) lockedReplenishAndAllocate(env *Env, desc *AllocateDescription) uintptr {
	if desc.kind == allocLeaf {
		return c.lockedAllocateArrayletLeaf(env, desc)
	}
	if desc.kind == allocObject && alignUp(desc.Size, objectAlignment) > c.regionSize() {
		return 0
	}
	if !c.internalReplenishActiveRegion(env, desc, !desc.waiveTax) {
		return 0
	}
	return c.allocateFromRegion(c.allocationRegion, desc)
}

// internalReplenishActiveRegion makes a fresh region the fast-path
// region, paying a region's worth of taxation first if payTax is set.
// A refused payment is recorded on desc: it is the signal that the
// collector has to run, not that memory ran out.
// contextLock must be held.
func (c *contextBalanced) internalReplenishActiveRegion(env *Env, desc *AllocateDescription, payTax bool) bool {
	if c.allocationRegion != nil {
		throw("replenishing context %d while region %d is still cached", c.index, c.allocationRegion.idx)
	}
	if !c.payTaxation(desc, payTax) {
		return false
	}
	r := c.acquireRegionFromHeap(env, acquireMP)
	if r == nil {
		return false
	}
	c.cache(r)
	c.creditFreeMemory(r.pool.ActualFreeMemorySize())
	c.stats.replenishes++
	return true
}

func (c *contextBalanced) payTaxation(desc *AllocateDescription, payTax bool) bool {
	if !payTax || c.subspace.ConsumeFromTaxationThreshold(uint64(c.regionSize())) {
		return true
	}
	desc.TaxationDenied = true
	c.stats.taxationDenials++
	return false
}

// lockedAllocateArrayletLeaf binds a FREE region to the spine at
// desc.Spine. contextLock must be held.
//
// The leaf is linked into the spine region's leaf list under the lock
// of the spine region's owner. When that owner is another context
// whose lock ranks above ours (a worker allocating a leaf for a spine
// that migrated to the common context) the lock is taken nested.
// Otherwise the leaf is handed back through desc.pendingLeaf and
// linked by allocate once our own lock is released.
func (c *contextBalanced) lockedAllocateArrayletLeaf(env *Env, desc *AllocateDescription) uintptr {
	spine := c.table.regionFor(desc.Spine)
	if spine == nil || !spine.typ.active() {
		throw("arraylet spine %#x is not in an active region", desc.Spine)
	}
	if !c.payTaxation(desc, !desc.waiveTax) {
		return 0
	}
	leaf := c.acquireRegionFromHeap(env, acquireFree)
	if leaf == nil {
		return 0
	}
	leaf.typ = RegionArrayletLeaf
	leaf.spine = spine
	leaf.spineObject = desc.Spine
	c.stats.leaves++

	owner := spine.owner.Load()
	switch {
	case owner == c:
		spine.leaves.insertTail(leaf)
	case owner != nil && env.held().canAcquire(owner.contextLock.rank):
		owner.contextLock.lock(env.held())
		if spine.owner.Load() == owner {
			spine.leaves.insertTail(leaf)
			owner.contextLock.unlock(env.held())
			c.stats.leafLinksNested.Add(1)
			break
		}
		// The spine region moved while we waited for its owner.
		owner.contextLock.unlock(env.held())
		desc.pendingLeaf = leaf
	default:
		desc.pendingLeaf = leaf
	}
	return leaf.base
}

// linkLeafDeferred links leaf into its spine region's leaf list. The
// caller holds no context lock.
func (c *contextBalanced) linkLeafDeferred(env *Env, leaf *Region) {
	spine := leaf.spine
	for {
		owner := spine.owner.Load()
		if owner == nil {
			throw("arraylet spine region %d has no owner", spine.idx)
		}
		owner.contextLock.lock(env.held())
		if spine.owner.Load() == owner {
			spine.leaves.insertTail(leaf)
			owner.contextLock.unlock(env.held())
			c.stats.leafLinksDeferred.Add(1)
			return
		}
		owner.contextLock.unlock(env.held())
	}
}

// acquireRegionFromHeap finds a region for c: first on its own NUMA
// node, starting at the sibling that last served it, then by theft
// from a context on another node. contextLock must be held.
func (c *contextBalanced) acquireRegionFromHeap(env *Env, kind acquireKind) *Region {
	take := func(donor *contextBalanced) *Region {
		if kind == acquireMP {
			return donor.acquireMPRegionFromContext(env, c)
		}
		return donor.acquireFreeRegionFromContext(env, c)
	}

	start := c.cachedReplenishPoint
	for donor := start; ; {
		if r := take(donor); r != nil {
			c.cachedReplenishPoint = donor
			return r
		}
		donor = donor.nextSibling
		if donor == start {
			break
		}
	}

	// A context that has no cousin to steal from keeps nextToSteal
	// pointing at itself.
	if c.nextToSteal == c {
		return nil
	}
	first := c.nextToSteal
	for donor := first; ; {
		next := donor.stealingCousin
		if next == c {
			next = c.stealingCousin
		}
		c.nextToSteal = next
		if donor != c && donor.numaNode != c.numaNode {
			if r := take(donor); r != nil {
				r.originalOwner = donor
				c.stats.thefts++
				c.log.Debug("region stolen",
					zap.Int("context", c.index),
					zap.Int("donor", donor.index),
					zap.Uint32("region", uint32(r.idx)),
					zap.Int("region-node", r.numaNode))
				return r
			}
		}
		donor = next
		if donor == first {
			return nil
		}
	}
}

// acquireMPRegionFromContext hands requester a region with a memory
// pool: an IDLE region with its free list rebuilt, or a FREE region
// with a fresh pool.
func (c *contextBalanced) acquireMPRegionFromContext(env *Env, requester *contextBalanced) *Region {
	c.freeListLock.lock(env.held())
	defer c.freeListLock.unlock(env.held())

	if r := c.idleRegions.popFirst(); r != nil {
		r.pool.RebuildFreeListInRegion(r)
		if n, free := r.pool.FreeEntryCount(), r.pool.ActualFreeMemorySize(); n != 1 || free != r.size() {
			throw("rebuilt idle region %d has %d free entries holding %d bytes, want one entry of %d", r.idx, n, free, r.size())
		}
		r.typ = RegionAddressOrdered
		r.owner.Store(requester)
		return r
	}
	if r := c.freeRegions.popFirst(); r != nil {
		r.pool = newAddressOrderedPool(r, c.cfg.MinimumFreeEntrySize)
		r.typ = RegionAddressOrdered
		r.owner.Store(requester)
		return r
	}
	return nil
}

// acquireFreeRegionFromContext hands requester a FREE region, detaching
// the pool of an IDLE one if no FREE region is left.
func (c *contextBalanced) acquireFreeRegionFromContext(env *Env, requester *contextBalanced) *Region {
	c.freeListLock.lock(env.held())
	defer c.freeListLock.unlock(env.held())

	r := c.freeRegions.popFirst()
	if r == nil {
		if r = c.idleRegions.popFirst(); r == nil {
			return nil
		}
		r.pool = nil
		r.typ = RegionFree
	}
	r.owner.Store(requester)
	return r
}

// addExpandedRegion takes a freshly committed FREE region.
func (c *contextBalanced) addExpandedRegion(env *Env, r *Region) {
	if r.typ != RegionFree || r.pool != nil {
		throw("expanded region %d has type %s", r.idx, r.typ)
	}
	c.freeListLock.lock(env.held())
	r.owner.Store(c)
	r.originalOwner = nil
	c.freeRegions.insertTail(r)
	c.freeListLock.unlock(env.held())
}

// RecycleRegion takes back r, which the collector found empty. Leaves
// go back to the free list, active regions to the idle list. Either
// way r comes home: c must be its owner or the context it was stolen
// from.
func (c *contextBalanced) RecycleRegion(env *Env, r *Region) {
	switch {
	case r.typ == RegionFree || r.typ == regionUncommitted:
		throw("recycling region %d of type %s", r.idx, r.typ)
	case r.owner.Load() != c && r.originalOwner != c:
		throw("context %d recycling region %d it neither owns nor lent", c.index, r.idx)
	}

	if r.typ == RegionArrayletLeaf {
		spine := r.spine
		owner := spine.owner.Load()
		owner.contextLock.lock(env.held())
		spine.leaves.remove(r)
		owner.contextLock.unlock(env.held())

		r.spine = nil
		r.spineObject = 0
		if c.cfg.Debug {
			r.poisoned = true
		}
		r.typ = RegionFree
		r.owner.Store(c)
		r.originalOwner = nil

		c.freeListLock.lock(env.held())
		c.freeRegions.insertTail(r)
		c.freeListLock.unlock(env.held())
		return
	}

	owner := r.owner.Load()
	owner.contextLock.lock(env.held())
	if !owner.flushedRegions.contains(r) {
		owner.contextLock.unlock(env.held())
		throw("recycling region %d that was not flushed", r.idx)
	}
	owner.flushedRegions.remove(r)
	owner.contextLock.unlock(env.held())

	if n := r.leaves.count; n != 0 {
		throw("recycling region %d that still holds %d arraylet leaves", r.idx, n)
	}
	if c.cfg.Debug {
		if !r.cards.clean() {
			throw("recycling region %d with %d dirty cards", r.idx, r.DirtyCardCount())
		}
	}
	r.typ = RegionIdle
	r.owner.Store(c)
	r.originalOwner = nil

	c.freeListLock.lock(env.held())
	c.idleRegions.insertTail(r)
	c.freeListLock.unlock(env.held())
}

// Flush moves the fast-path region and the non-full and discarded
// regions to the flushed list. Afterwards the context accounts for no
// free bytes.
func (c *contextBalanced) Flush(env *Env) {
	c.contextLock.lock(env.held())
	defer c.contextLock.unlock(env.held())

	if r := c.allocationRegion; r != nil {
		c.uncache(r)
		c.debitFreeMemory(r.pool.ActualFreeMemorySize())
		c.flushedRegions.insertTail(r)
	}
	c.nonFullRegions.forEach(func(r *Region) {
		c.nonFullRegions.remove(r)
		c.debitFreeMemory(r.pool.ActualFreeMemorySize())
		c.flushedRegions.insertTail(r)
	})
	c.discardRegionList.forEach(func(r *Region) {
		c.discardRegionList.remove(r)
		// Discarded regions were never looked at again; their cached
		// figures are stale.
		r.pool.RecalculateMemoryPoolStatistics()
		c.debitFreeMemory(r.pool.ActualFreeMemorySize())
		c.flushedRegions.insertTail(r)
	})
	if c.freeMemorySize != 0 {
		throw("context %d still accounts for %d free bytes after flush", c.index, c.freeMemorySize)
	}
}

// FlushForShutdown flushes and moves the free and idle regions to the
// flushed list too, leaving the context with nothing to allocate from.
func (c *contextBalanced) FlushForShutdown(env *Env) {
	c.Flush(env)

	c.contextLock.lock(env.held())
	c.freeListLock.lock(env.held())
	for _, l := range []*RegionList{&c.freeRegions, &c.idleRegions} {
		l.forEach(func(r *Region) {
			l.remove(r)
			c.flushedRegions.insertTail(r)
		})
	}
	c.freeListLock.unlock(env.held())
	c.contextLock.unlock(env.held())
}

// ResetFlushed puts the regions left on the flushed list after a
// collection back into circulation: regions with a usable free entry go
// to the non-full list, the rest to the discard list.
func (c *contextBalanced) ResetFlushed(env *Env) {
	c.contextLock.lock(env.held())
	defer c.contextLock.unlock(env.held())

	c.flushedRegions.forEach(func(r *Region) {
		c.flushedRegions.remove(r)
		switch {
		case r.typ == RegionFree || r.typ == RegionIdle:
			c.freeListLock.lock(env.held())
			if r.typ == RegionFree {
				c.freeRegions.insertTail(r)
			} else {
				c.idleRegions.insertTail(r)
			}
			c.freeListLock.unlock(env.held())
		case r.typ.active():
			r.pool.ResetLargestFreeEntry()
			free := r.pool.ActualFreeMemorySize()
			c.creditFreeMemory(free)
			if r.pool.LargestFreeEntry() >= r.pool.MinimumFreeEntrySize() {
				c.nonFullRegions.insertTail(r)
			} else {
				c.discardRegionList.insertTail(r)
			}
		default:
			throw("flushed region %d has type %s", r.idx, r.typ)
		}
	})
}

// MigrateRegionToAllocationContext moves the flushed region r to the
// flushed list of newOwner. A region moved back to the context it was
// stolen from, or onto its node, is home again.
func (c *contextBalanced) MigrateRegionToAllocationContext(env *Env, r *Region, newOwner AllocationContext) {
	n := newOwner.(*contextBalanced)
	if r.owner.Load() != c {
		throw("context %d migrating region %d it does not own", c.index, r.idx)
	}
	c.contextLock.lock(env.held())
	if !c.flushedRegions.contains(r) {
		c.contextLock.unlock(env.held())
		throw("migrating region %d that was not flushed", r.idx)
	}
	c.flushedRegions.remove(r)
	c.contextLock.unlock(env.held())

	r.owner.Store(n)
	if o := r.originalOwner; o != nil && o.numaNode == n.numaNode {
		r.originalOwner = nil
	}

	n.contextLock.lock(env.held())
	n.flushedRegions.insertTail(r)
	n.contextLock.unlock(env.held())
}

// CollectorAcquireRegion acquires a region with a memory pool for the
// collector and parks it on the flushed list.
func (c *contextBalanced) CollectorAcquireRegion(env *Env) *Region {
	c.contextLock.lock(env.held())
	defer c.contextLock.unlock(env.held())

	r := c.acquireRegionFromHeap(env, acquireMP)
	if r != nil {
		c.flushedRegions.insertTail(r)
	}
	return r
}

// SelectRegionForContraction unlinks a FREE region that the heap can
// decommit, detaching the pool of an IDLE one if needed.
func (c *contextBalanced) SelectRegionForContraction(env *Env) *Region {
	c.freeListLock.lock(env.held())
	defer c.freeListLock.unlock(env.held())

	r := c.freeRegions.popFirst()
	if r == nil {
		if r = c.idleRegions.popFirst(); r == nil {
			return nil
		}
		r.pool = nil
		r.typ = RegionFree
	}
	return r
}

// cache installs r as the fast-path region.
func (c *contextBalanced) cache(r *Region) {
	c.checkInsertable(r)
	r.cached = true
	c.allocationRegion = r
}

func (c *contextBalanced) uncache(r *Region) {
	r.cached = false
	c.allocationRegion = nil
}

func (c *contextBalanced) checkInsertable(r *Region) {
	if r.listed() {
		throw("region %d cached by context %d while listed", r.idx, c.index)
	}
}

func (c *contextBalanced) creditFreeMemory(n uintptr) {
	c.freeMemorySize += n
}

func (c *contextBalanced) debitFreeMemory(n uintptr) {
	if n > c.freeMemorySize {
		throw("context %d free memory underflow: debiting %d of %d", c.index, n, c.freeMemorySize)
	}
	c.freeMemorySize -= n
}

// Statistics readers run without a lock rank set: they never nest.

func (c *contextBalanced) FreeMemorySize() uintptr {
	c.contextLock.lock(nil)
	defer c.contextLock.unlock(nil)
	return c.freeMemorySize
}

func (c *contextBalanced) ActualFreeMemorySize() uintptr {
	c.contextLock.lock(nil)
	free := c.freeMemorySize
	c.contextLock.unlock(nil)
	return free + uintptr(c.FreeRegionCount())*c.regionSize()
}

// FreeRegionCount counts both FREE and IDLE regions: either can be
// handed out whole.
func (c *contextBalanced) FreeRegionCount() int {
	free, idle := c.freeAndIdleCounts()
	return free + idle
}

func (c *contextBalanced) IdleRegionCount() int {
	_, idle := c.freeAndIdleCounts()
	return idle
}

func (c *contextBalanced) freeAndIdleCounts() (free, idle int) {
	c.freeListLock.lock(nil)
	defer c.freeListLock.unlock(nil)
	return c.freeRegions.Len(), c.idleRegions.Len()
}

func (c *contextBalanced) LargestFreeEntry() uintptr {
	if c.FreeRegionCount() != 0 {
		return c.regionSize()
	}
	c.contextLock.lock(nil)
	defer c.contextLock.unlock(nil)

	var largest uintptr
	if r := c.allocationRegion; r != nil {
		largest = r.pool.LargestFreeEntry()
	}
	c.nonFullRegions.forEach(func(r *Region) {
		if n := r.pool.LargestFreeEntry(); n > largest {
			largest = n
		}
	})
	return largest
}

func (c *contextBalanced) ResetLargestFreeEntry() {
	c.contextLock.lock(nil)
	defer c.contextLock.unlock(nil)

	if r := c.allocationRegion; r != nil {
		r.pool.ResetLargestFreeEntry()
	}
	for _, l := range []*RegionList{&c.nonFullRegions, &c.discardRegionList} {
		l.forEach(func(r *Region) { r.pool.ResetLargestFreeEntry() })
	}
}

func (c *contextBalanced) MergeHeapStats(s *HeapStats) {
	free, idle := c.freeAndIdleCounts()
	largest := c.LargestFreeEntry()

	c.contextLock.lock(nil)
	c.stats.mergeInto(s)
	s.FreeMemory += uint64(c.freeMemorySize) + uint64(free+idle)*uint64(c.regionSize())
	c.contextLock.unlock(nil)

	s.FreeRegions += uint64(free)
	s.IdleRegions += uint64(idle)
	if uint64(largest) > s.LargestFreeEntry {
		s.LargestFreeEntry = uint64(largest)
	}
}

func (c *contextBalanced) ResetHeapStatistics() {
	c.contextLock.lock(nil)
	c.stats.reset()
	c.contextLock.unlock(nil)
}

// RegionCounts walks the region table for the regions c owns. Region
// types change under other contexts' locks, so the figures are only
// exact while the world is stopped.
func (c *contextBalanced) RegionCounts() RegionCounts {
	var counts RegionCounts
	c.table.forEachCommitted(func(r *Region) {
		if r.owner.Load() == c {
			counts.add(r, c.numaNode)
		}
	})
	return counts
}

func (c *contextBalanced) ThreadCount() int { return int(c.threadCount.Load()) }
