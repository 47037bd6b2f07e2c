package heap

import "sync/atomic"

// MemoryPool is the free-space manager of one active region.
//
// A pool is protected by the lock of the allocation context owning its
// region, or by exclusive VM access while the collector runs.
type MemoryPool interface {
	// AllocateObject carves size bytes, returning 0 if no free entry
	// is large enough.
	AllocateObject(size uintptr) uintptr
	// AllocateTLH claims up to maxSize bytes from the first free entry.
	AllocateTLH(maxSize uintptr) (base, top uintptr)

	ActualFreeMemorySize() uintptr
	LargestFreeEntry() uintptr
	MinimumFreeEntrySize() uintptr
	FreeEntryCount() int
	DarkMatter() uintptr

	// ResetLargestFreeEntry recomputes the cached largest free entry.
	ResetLargestFreeEntry()
	// RecalculateMemoryPoolStatistics recomputes every cached figure
	// from the free list.
	RecalculateMemoryPoolStatistics()
	// RebuildFreeListInRegion makes the whole region one free entry.
	RebuildFreeListInRegion(r *Region)
	// AbandonHeapChunk turns [base, top), which is not on the free
	// list, into unusable dark matter.
	AbandonHeapChunk(base, top uintptr)
	// Free returns [base, top) to the free list. The collector's sweep
	// calls it for dead objects.
	Free(base, top uintptr)
}

// objectAlignment is the granule of every allocation.
const objectAlignment = 8

// addressOrderedPool keeps its free entries in address order and
// allocates first-fit. Entries smaller than minFree are never kept:
// they are abandoned as dark matter as soon as they appear, so every
// entry on the free list can satisfy a TLH request.
type addressOrderedPool struct {
	free    addrRanges
	minFree uintptr
	extent  addrRange

	// largestFree caches the largest entry. Allocation may leave it
	// stale (too large) until the next ResetLargestFreeEntry or
	// RecalculateMemoryPoolStatistics; frees keep it exact.
	largestFree uintptr

	darkMatter atomic.Uintptr
}

func newAddressOrderedPool(r *Region, minFree uintptr) *addressOrderedPool {
	p := &addressOrderedPool{minFree: minFree}
	p.RebuildFreeListInRegion(r)
	return p
}

func alignUp(n, a uintptr) uintptr {
	return (n + a - 1) &^ (a - 1)
}

func alignDown(n, a uintptr) uintptr {
	return n &^ (a - 1)
}

func (p *addressOrderedPool) AllocateObject(size uintptr) uintptr {
	size = alignUp(size, objectAlignment)
	if size == 0 {
		size = objectAlignment
	}
	i := p.free.firstFit(size)
	if i < 0 {
		return 0
	}
	base := p.free.ranges[i].base
	p.free.takeFront(i, size)
	p.trimEntry(i, base+size)
	return base
}

func (p *addressOrderedPool) AllocateTLH(maxSize uintptr) (uintptr, uintptr) {
	if p.free.count() == 0 {
		return 0, 0
	}
	maxSize = alignUp(maxSize, objectAlignment)
	entry := p.free.ranges[0]
	n := entry.size()
	if n > maxSize && n-maxSize >= p.minFree {
		n = maxSize
	}
	p.free.takeFront(0, n)
	return entry.base, entry.base + n
}

// trimEntry abandons the remainder of entry i if carving left it below
// the minimum entry size. next is the address just past the carved bytes.
func (p *addressOrderedPool) trimEntry(i int, next uintptr) {
	if i >= p.free.count() || p.free.ranges[i].base != next {
		return // entry was consumed entirely
	}
	if rest := p.free.ranges[i].size(); rest < p.minFree {
		p.free.remove(i)
		p.darkMatter.Add(rest)
	}
}

func (p *addressOrderedPool) ActualFreeMemorySize() uintptr { return p.free.totalBytes }

func (p *addressOrderedPool) LargestFreeEntry() uintptr { return p.largestFree }

func (p *addressOrderedPool) MinimumFreeEntrySize() uintptr { return p.minFree }

func (p *addressOrderedPool) FreeEntryCount() int { return p.free.count() }

func (p *addressOrderedPool) DarkMatter() uintptr { return p.darkMatter.Load() }

func (p *addressOrderedPool) ResetLargestFreeEntry() {
	p.largestFree = p.free.largest()
}

func (p *addressOrderedPool) RecalculateMemoryPoolStatistics() {
	var total uintptr
	for _, r := range p.free.ranges {
		total += r.size()
	}
	if total != p.free.totalBytes {
		throw("memory pool free bytes drifted: counted %d, recorded %d", total, p.free.totalBytes)
	}
	p.ResetLargestFreeEntry()
}

func (p *addressOrderedPool) RebuildFreeListInRegion(r *Region) {
	p.extent = r.addrRange
	p.free.reset()
	p.free.add(r.addrRange)
	p.largestFree = r.size()
	p.darkMatter.Store(0)
}

func (p *addressOrderedPool) AbandonHeapChunk(base, top uintptr) {
	if top < base || !p.extent.contains(base) && base != top {
		throw("abandoning chunk {%#x, %#x} outside the pool", base, top)
	}
	p.darkMatter.Add(top - base)
}

func (p *addressOrderedPool) Free(base, top uintptr) {
	r := makeAddrRange(base, top)
	if r.size() == 0 {
		return
	}
	if r.base < p.extent.base || r.limit > p.extent.limit {
		throw("freeing chunk {%#x, %#x} outside the pool", base, top)
	}
	p.free.add(r)
	// The freed bytes may have coalesced with a neighbour.
	i := p.free.findSucc(r.base) - 1
	if s := p.free.ranges[i].size(); s < p.minFree {
		p.free.remove(i)
		p.darkMatter.Add(s)
	} else if s > p.largestFree {
		p.largestFree = s
	}
}
