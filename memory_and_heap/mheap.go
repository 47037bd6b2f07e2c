package heap

import (
	"sync"
	"sync/atomic"
)

// heapBase is where the region table's address range starts. The heap
// never hands out address 0, so 0 doubles as the null result of every
// allocation path.
const heapBase uintptr = 0x00c000000000

// RegionType tags what a region is currently used for.
//
// Transitions are constrained as follows:
//
//   - An uncommitted region becomes FREE when the heap expands, and a
//     FREE region becomes uncommitted again when the heap contracts.
//
//   - A FREE region becomes ADDRESS_ORDERED when an allocation context
//     attaches a fresh memory pool to it, or ARRAYLET_LEAF when it is
//     bound to an arraylet spine.
//
//   - An active region found empty by the collector becomes IDLE: it
//     keeps its memory pool and its NUMA affinity. An IDLE region
//     becomes ADDRESS_ORDERED again when its free list is rebuilt, or
//     FREE when its pool is detached.
//
//   - An ARRAYLET_LEAF region found dead becomes FREE.
type RegionType uint8

const (
	regionUncommitted RegionType = iota
	RegionFree
	RegionIdle
	RegionAddressOrdered
	RegionAddressOrderedMarked
	RegionArrayletLeaf

	numRegionTypes = int(RegionArrayletLeaf) + 1
)

// regionTypeNames are the names of the region types, indexed by
// RegionType.
var regionTypeNames = [numRegionTypes]string{
	regionUncommitted:          "UNCOMMITTED",
	RegionFree:                 "FREE",
	RegionIdle:                 "IDLE",
	RegionAddressOrdered:       "ADDRESS_ORDERED",
	RegionAddressOrderedMarked: "ADDRESS_ORDERED_MARKED",
	RegionArrayletLeaf:         "ARRAYLET_LEAF",
}

func (t RegionType) String() string {
	if int(t) >= len(regionTypeNames) {
		return "BAD REGION TYPE"
	}
	return regionTypeNames[t]
}

// active reports whether objects are allocated in regions of type t.
func (t RegionType) active() bool {
	return t == RegionAddressOrdered || t == RegionAddressOrderedMarked
}

// hasPool reports whether regions of type t carry a memory pool.
func (t RegionType) hasPool() bool {
	return t.active() || t == RegionIdle
}

// RegionIdx is the index of a region in the region table.
type RegionIdx uint32

// noRegion terminates region lists.
const noRegion = ^RegionIdx(0)

// A Region is one fixed-size, power-of-two slice of the heap.
//
// Region descriptors live in the region table for the whole life of
// the heap; lists link them by index. Every committed region is, at
// any time, in exactly one place: one RegionList, or the fast-path slot
// of its owning allocation context.
//
// Apart from owner, fields are protected by the lock of whichever
// list the region is in: the owning context's contextLock for the
// allocation lists, its freeListLock for the free and idle lists.
type Region struct {
	idx RegionIdx
	addrRange
	typ      RegionType
	numaNode int

	// owner is the allocation context the region belongs to. It is read
	// without locks by the leaf linking path, hence atomic.
	owner atomic.Pointer[contextBalanced]

	// originalOwner is the context the region was stolen from, or nil
	// if the region was sourced from its owner's own node. The region
	// is recycled back to it.
	originalOwner *contextBalanced

	pool *addressOrderedPool // nil unless typ.hasPool()

	links  [numListKinds]regionLinks
	cached bool // fast-path region of its owner

	// Arraylet bookkeeping. For a leaf, spine is the region holding the
	// spine object at spineObject. For any active region, leaves lists
	// the leaf regions bound to spines it holds.
	spine       *Region
	spineObject uintptr
	leaves      RegionList

	cards    cardBits
	poisoned bool // debug: memory overwritten on recycle
}

// Index returns the region's index in the region table.
func (r *Region) Index() RegionIdx { return r.idx }

// Base returns the region's lowest address.
func (r *Region) Base() uintptr { return r.base }

// Limit returns the address just past the region.
func (r *Region) Limit() uintptr { return r.limit }

// Size returns the region size in bytes.
func (r *Region) Size() uintptr { return r.size() }

// Type returns the region's current type.
func (r *Region) Type() RegionType { return r.typ }

// NumaNode returns the NUMA node the region's memory is bound to.
func (r *Region) NumaNode() int { return r.numaNode }

// MemoryPool returns the region's pool, nil for regions that carry none.
func (r *Region) MemoryPool() MemoryPool {
	if r.pool == nil {
		return nil
	}
	return r.pool
}

// OwningContext returns the allocation context the region belongs to.
func (r *Region) OwningContext() AllocationContext {
	if c := r.owner.Load(); c != nil {
		return c
	}
	return nil
}

// OriginalOwningContext returns the context the region was stolen
// from, or nil.
func (r *Region) OriginalOwningContext() AllocationContext {
	if r.originalOwner == nil {
		return nil
	}
	return r.originalOwner
}

// Spine returns the region holding the arraylet spine a leaf belongs to.
func (r *Region) Spine() *Region { return r.spine }

// LeafCount returns the number of arraylet leaves bound to spines in r.
func (r *Region) LeafCount() int { return r.leaves.count }

// DirtyCard records a reference store into the card covering addr.
func (r *Region) DirtyCard(addr uintptr) {
	if !r.contains(addr) {
		throw("card for %#x dirtied through region %d", addr, r.idx)
	}
	r.cards.set(uint((addr - r.base) >> cardShift))
}

// DirtyCards records a bulk reference store, such as an array copy,
// into every card overlapping [addr, addr+n).
func (r *Region) DirtyCards(addr, n uintptr) {
	if n == 0 {
		return
	}
	if !r.contains(addr) || !r.contains(addr+n-1) {
		throw("cards for {%#x, %#x} dirtied through region %d", addr, addr+n, r.idx)
	}
	first := (addr - r.base) >> cardShift
	last := (addr + n - 1 - r.base) >> cardShift
	r.cards.setRange(uint(first), uint(last-first+1))
}

// CardDirty reports whether the card covering addr is dirty.
func (r *Region) CardDirty(addr uintptr) bool {
	if !r.contains(addr) {
		return false
	}
	return r.cards.get(uint((addr-r.base)>>cardShift)) != 0
}

// DirtyCardCount returns how many of r's cards are dirty.
func (r *Region) DirtyCardCount() int { return int(r.cards.popcnt()) }

// CleanCards cleans every card covering r.
func (r *Region) CleanCards() { r.cards.clearAll() }

// listed reports whether r is in a list or a fast-path slot.
func (r *Region) listed() bool {
	if r.cached {
		return true
	}
	for i := range r.links {
		if r.links[i].list != nil {
			return true
		}
	}
	return false
}

// regionTable owns every region descriptor the heap may ever use. It
// is sized for the maximum heap up front; expansion commits uncommitted
// slots, contraction decommits FREE ones.
type regionTable struct {
	lock sync.Mutex // serializes commit and decommit

	regions     []Region
	inUse       []bool // committed slots, guarded by lock
	regionSize  uintptr
	regionShift uint
	base, limit uintptr

	committed      atomic.Int64 // committed region count
	committedBytes sysMemStat
}

func (h *regionTable) init(regionSize, maxHeap uintptr) {
	h.regionSize = regionSize
	for uintptr(1)<<h.regionShift < regionSize {
		h.regionShift++
	}
	n := maxHeap >> h.regionShift
	h.regions = make([]Region, n)
	h.inUse = make([]bool, n)
	h.base = heapBase
	h.limit = heapBase + n<<h.regionShift
	for i := range h.regions {
		r := &h.regions[i]
		r.idx = RegionIdx(i)
		r.addrRange = makeAddrRange(h.base+uintptr(i)<<h.regionShift, h.base+uintptr(i+1)<<h.regionShift)
		r.typ = regionUncommitted
		for k := range r.links {
			r.links[k].next, r.links[k].prev = noRegion, noRegion
		}
		r.leaves.init(h, "leaves", listLeaves)
		r.cards = newCardBits(regionSize)
	}
}

// at returns the region at index i.
func (h *regionTable) at(i RegionIdx) *Region {
	return &h.regions[i]
}

// regionFor returns the region containing addr, or nil if addr is
// outside the table.
func (h *regionTable) regionFor(addr uintptr) *Region {
	if addr < h.base || addr >= h.limit {
		return nil
	}
	return &h.regions[(addr-h.base)>>h.regionShift]
}

// commit turns up to n uncommitted regions into FREE regions, lowest
// address first, assigning each the NUMA node picked by nodeFor.
func (h *regionTable) commit(n int, nodeFor func(RegionIdx) int) []*Region {
	h.lock.Lock()
	defer h.lock.Unlock()

	var out []*Region
	for i := range h.regions {
		if len(out) == n {
			break
		}
		if h.inUse[i] {
			continue
		}
		h.inUse[i] = true
		r := &h.regions[i]
		r.typ = RegionFree
		r.numaNode = nodeFor(r.idx)
		r.poisoned = false
		r.cards.clearAll()
		out = append(out, r)
	}
	h.committed.Add(int64(len(out)))
	h.committedBytes.add(int64(uintptr(len(out)) * h.regionSize))
	return out
}

// decommit returns a FREE, unlisted region to the uncommitted pool.
func (h *regionTable) decommit(r *Region) {
	h.lock.Lock()
	defer h.lock.Unlock()

	if r.typ != RegionFree || r.listed() || r.pool != nil {
		throw("decommitting region %d of type %s", r.idx, r.typ)
	}
	h.inUse[r.idx] = false
	r.typ = regionUncommitted
	r.owner.Store(nil)
	r.originalOwner = nil
	h.committed.Add(-1)
	h.committedBytes.add(-int64(h.regionSize))
}

// forEachCommitted calls fn for every committed region in address order.
func (h *regionTable) forEachCommitted(fn func(r *Region)) {
	h.lock.Lock()
	defer h.lock.Unlock()
	for i := range h.regions {
		if h.inUse[i] {
			fn(&h.regions[i])
		}
	}
}

// committedSize returns the current heap size in bytes.
func (h *regionTable) committedSize() uintptr {
	return uintptr(h.committed.Load()) << h.regionShift
}

// maxRegions returns the number of slots in the table.
func (h *regionTable) maxRegions() int {
	return len(h.regions)
}
