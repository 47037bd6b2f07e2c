package heap

// addrRange represents a region of address space.
//
// base and limit together represent the region of address space
// [base, limit). That is, base is inclusive, limit is exclusive.
type addrRange struct {
	base, limit uintptr
}

func makeAddrRange(base, limit uintptr) addrRange {
	if limit < base {
		throw("addr range limit %#x below base %#x", limit, base)
	}
	return addrRange{base, limit}
}

// size returns the size of the range represented in bytes.
func (a addrRange) size() uintptr {
	if a.limit <= a.base {
		return 0
	}
	return a.limit - a.base
}

// contains returns whether or not the range contains a given address.
func (a addrRange) contains(addr uintptr) bool {
	return a.base <= addr && addr < a.limit
}

// overlaps reports whether a and b share at least one address.
func (a addrRange) overlaps(b addrRange) bool {
	return a.base < b.limit && b.base < a.limit
}

// addrRanges is an address-ordered collection of disjoint ranges of
// address space. Adjacent ranges are coalesced eagerly.
//
// It is the free list of a region's memory pool: every range is a free
// entry.
//
// addrRanges is not thread-safe.
type addrRanges struct {
	// ranges is a slice of ranges sorted by base.
	ranges []addrRange

	// totalBytes is the total amount of address space in bytes counted by
	// this addrRanges.
	totalBytes uintptr
}

// findSucc returns the first index in a such that addr is
// less than the base of the addrRange at that index.
func (a *addrRanges) findSucc(addr uintptr) int {
	// Narrow down the search space via binary search
	// for large addrRanges until we have at most iterMax
	// candidates left.
	const iterMax = 8
	bot, top := 0, len(a.ranges)
	for top-bot > iterMax {
		i := ((top - bot) / 2) + bot
		if a.ranges[i].contains(addr) {
			// a.ranges[i] contains addr, so
			// its successor is the next index.
			return i + 1
		}
		if addr < a.ranges[i].base {
			// In this case i might actually be the
			// successor, but we can't be sure until we
			// check the ones before it.
			top = i
		} else {
			// In this case we know addr is at least
			// a.ranges[i].limit, so i is definitely not
			// the successor.
			bot = i + 1
		}
	}
	// There are top-bot candidates left, so
	// iterate over them and find the first that
	// addr is strictly less than.
	for i := bot; i < top; i++ {
		if addr < a.ranges[i].base {
			return i
		}
	}
	return top
}

// add inserts a new address range to a.
//
// r must not overlap with any address range in a and r.size() must be > 0.
func (a *addrRanges) add(r addrRange) {
	// An empty range has no effect on the set of addresses represented
	// by a, but passing a zero-sized range is almost always a bug.
	if r.size() == 0 {
		throw("attempted to add zero-sized address range {%#x, %#x}", r.base, r.limit)
	}

	// Because we assume r is not currently represented in a,
	// findSucc gives us our insertion index.
	i := a.findSucc(r.base)
	if i > 0 && a.ranges[i-1].overlaps(r) || i < len(a.ranges) && a.ranges[i].overlaps(r) {
		throw("free range {%#x, %#x} overlaps an existing free range", r.base, r.limit)
	}
	coalesceDown := i > 0 && a.ranges[i-1].limit == r.base
	coalesceUp := i < len(a.ranges) && r.limit == a.ranges[i].base
	if coalesceUp && coalesceDown {
		// We have neighbors and they both border us.
		// Merge a.ranges[i-1], r, and a.ranges[i] together into a.ranges[i-1].
		a.ranges[i-1].limit = a.ranges[i].limit

		// Delete a.ranges[i].
		copy(a.ranges[i:], a.ranges[i+1:])
		a.ranges = a.ranges[:len(a.ranges)-1]
	} else if coalesceDown {
		// We have a neighbor at a lower address only and it borders us.
		a.ranges[i-1].limit = r.limit
	} else if coalesceUp {
		// We have a neighbor at a higher address only and it borders us.
		a.ranges[i].base = r.base
	} else {
		// We may or may not have neighbors which don't border us.
		// Add the new range.
		a.ranges = append(a.ranges, addrRange{})
		copy(a.ranges[i+1:], a.ranges[i:])
		a.ranges[i] = r
	}
	a.totalBytes += r.size()
}

// firstFit returns the index of the lowest-addressed range holding at
// least size bytes, or -1 if there is none.
func (a *addrRanges) firstFit(size uintptr) int {
	for i := range a.ranges {
		if a.ranges[i].size() >= size {
			return i
		}
	}
	return -1
}

// takeFront removes size bytes from the front of range i.
// The range is deleted once it is empty.
func (a *addrRanges) takeFront(i int, size uintptr) {
	r := &a.ranges[i]
	if r.size() < size {
		throw("taking %d bytes from free range of %d bytes", size, r.size())
	}
	r.base += size
	a.totalBytes -= size
	if r.size() == 0 {
		a.removeAt(i)
	}
}

// removeAt deletes range i without touching totalBytes.
func (a *addrRanges) removeAt(i int) {
	copy(a.ranges[i:], a.ranges[i+1:])
	a.ranges = a.ranges[:len(a.ranges)-1]
}

// remove deletes range i and its bytes.
func (a *addrRanges) remove(i int) addrRange {
	r := a.ranges[i]
	a.removeAt(i)
	a.totalBytes -= r.size()
	return r
}

// largest returns the size of the largest range in a.
func (a *addrRanges) largest() uintptr {
	var max uintptr
	for _, r := range a.ranges {
		if s := r.size(); s > max {
			max = s
		}
	}
	return max
}

// reset empties a, keeping the backing store.
func (a *addrRanges) reset() {
	a.ranges = a.ranges[:0]
	a.totalBytes = 0
}

// count returns the number of disjoint ranges in a.
func (a *addrRanges) count() int {
	return len(a.ranges)
}
