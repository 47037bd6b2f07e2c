package heap

// listKind selects which pair of links a list threads its regions
// through. A region may only be in one list of any kind at a time, but
// the two kinds keep the leaf lists of spine regions from clobbering
// the allocation lists' links.
type listKind uint8

const (
	listRegions listKind = iota // allocation, flushed, free and idle lists
	listLeaves                  // arraylet leaves of a spine region

	numListKinds
)

type regionLinks struct {
	next, prev RegionIdx
	list       *RegionList // list the region is in, nil if none
}

// RegionList heads a doubly linked list of regions. Links are region
// table indices, never pointers.
//
// Insert, remove and peek are O(1). RegionList is not thread safe;
// the owner of the list serializes access.
type RegionList struct {
	table       *regionTable
	name        string
	kind        listKind
	first, last RegionIdx
	count       int
}

func (l *RegionList) init(table *regionTable, name string, kind listKind) {
	l.table = table
	l.name = name
	l.kind = kind
	l.first, l.last = noRegion, noRegion
	l.count = 0
}

// Len returns the number of regions in l.
func (l *RegionList) Len() int { return l.count }

func (l *RegionList) isEmpty() bool { return l.first == noRegion }

func (l *RegionList) links(r *Region) *regionLinks {
	return &r.links[l.kind]
}

// checkInsertable throws unless r is in no list and no fast-path slot.
func (l *RegionList) checkInsertable(r *Region) {
	if r.listed() {
		where := "fast-path slot"
		for i := range r.links {
			if r.links[i].list != nil {
				where = r.links[i].list.name
			}
		}
		throw("region %d inserted into %s while in %s", r.idx, l.name, where)
	}
}

// insertHead adds r at the front of l.
func (l *RegionList) insertHead(r *Region) {
	l.checkInsertable(r)
	lk := l.links(r)
	lk.prev = noRegion
	lk.next = l.first
	if l.first != noRegion {
		l.links(l.table.at(l.first)).prev = r.idx
	} else {
		l.last = r.idx
	}
	l.first = r.idx
	lk.list = l
	l.count++
}

// insertTail adds r at the back of l.
func (l *RegionList) insertTail(r *Region) {
	l.checkInsertable(r)
	lk := l.links(r)
	lk.next = noRegion
	lk.prev = l.last
	if l.last != noRegion {
		l.links(l.table.at(l.last)).next = r.idx
	} else {
		l.first = r.idx
	}
	l.last = r.idx
	lk.list = l
	l.count++
}

// remove unlinks r, which must be in l.
func (l *RegionList) remove(r *Region) {
	lk := l.links(r)
	if lk.list != l {
		throw("region %d removed from %s but it is not there", r.idx, l.name)
	}
	if lk.prev != noRegion {
		l.links(l.table.at(lk.prev)).next = lk.next
	} else {
		l.first = lk.next
	}
	if lk.next != noRegion {
		l.links(l.table.at(lk.next)).prev = lk.prev
	} else {
		l.last = lk.prev
	}
	lk.next, lk.prev = noRegion, noRegion
	lk.list = nil
	l.count--
	if l.count < 0 {
		throw("region list %s count went negative", l.name)
	}
}

// peekFirst returns the first region in l, or nil.
func (l *RegionList) peekFirst() *Region {
	if l.first == noRegion {
		return nil
	}
	return l.table.at(l.first)
}

// popFirst removes and returns the first region in l, or nil.
func (l *RegionList) popFirst() *Region {
	r := l.peekFirst()
	if r != nil {
		l.remove(r)
	}
	return r
}

// next returns the region after r in l, or nil.
func (l *RegionList) next(r *Region) *Region {
	n := l.links(r).next
	if n == noRegion {
		return nil
	}
	return l.table.at(n)
}

// contains reports whether r is in l.
func (l *RegionList) contains(r *Region) bool {
	return l.links(r).list == l
}

// forEach calls fn for every region in l, front to back. fn may remove
// the region it is given but no other.
func (l *RegionList) forEach(fn func(r *Region)) {
	for r := l.peekFirst(); r != nil; {
		next := l.next(r)
		fn(r)
		r = next
	}
}
