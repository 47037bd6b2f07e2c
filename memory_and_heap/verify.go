package heap

import (
	"github.com/cockroachdb/errors"
)

// Verify checks the fleet's invariants and returns the first one found
// broken:
//
//   - every committed region is in exactly one list or fast-path slot,
//     and owned by the context whose list holds it;
//   - FREE regions carry no memory pool, active and IDLE regions do;
//   - each context's free memory counter matches its regions' pools;
//   - a stolen region was stolen from a context on another node;
//   - uncommitted regions are in no list and owned by nobody.
//
// Verify takes no locks. The world must be stopped, or no thread may
// be allocating.
func (h *Heap) Verify() error {
	seen := make([]int, h.table.maxRegions())
	place := func(r *Region, c *contextBalanced, where string) error {
		seen[r.idx]++
		if seen[r.idx] > 1 {
			return errors.Newf("region %d found again in %s of context %d", r.idx, where, c.index)
		}
		if r.owner.Load() != c {
			return errors.Newf("region %d is in %s of context %d but owned by %v", r.idx, where, c.index, ownerIndex(r))
		}
		return nil
	}

	for _, c := range h.manager.contexts {
		var free uintptr
		if r := c.allocationRegion; r != nil {
			if !r.cached {
				return errors.Newf("fast-path region %d of context %d is not marked cached", r.idx, c.index)
			}
			if err := place(r, c, "the fast-path slot"); err != nil {
				return err
			}
			free += r.pool.ActualFreeMemorySize()
		}
		lists := []struct {
			l       *RegionList
			counted bool
		}{
			{&c.nonFullRegions, true},
			{&c.discardRegionList, true},
			{&c.flushedRegions, false},
			{&c.freeRegions, false},
			{&c.idleRegions, false},
		}
		for _, e := range lists {
			n := 0
			for r := e.l.peekFirst(); r != nil; r = e.l.next(r) {
				n++
				if err := place(r, c, e.l.name); err != nil {
					return err
				}
				if e.counted {
					free += r.pool.ActualFreeMemorySize()
				}
			}
			if n != e.l.Len() {
				return errors.Newf("%s of context %d holds %d regions but counts %d", e.l.name, c.index, n, e.l.Len())
			}
		}
		if free != c.freeMemorySize {
			return errors.Newf("context %d accounts for %d free bytes, its regions hold %d", c.index, c.freeMemorySize, free)
		}
	}

	var err error
	h.table.forEachCommitted(func(r *Region) {
		if err != nil {
			return
		}
		for leaf := r.leaves.peekFirst(); leaf != nil; leaf = r.leaves.next(leaf) {
			if leaf.typ != RegionArrayletLeaf || leaf.spine != r {
				err = errors.Newf("region %d of type %s is on the leaf list of region %d", leaf.idx, leaf.typ, r.idx)
				return
			}
			seen[leaf.idx]++
		}
	})
	if err != nil {
		return err
	}

	h.table.forEachCommitted(func(r *Region) {
		if err != nil {
			return
		}
		switch {
		case seen[r.idx] != 1:
			err = errors.Newf("region %d of type %s is in %d places", r.idx, r.typ, seen[r.idx])
		case r.typ == RegionFree && r.pool != nil:
			err = errors.Newf("FREE region %d carries a memory pool", r.idx)
		case r.typ.hasPool() && r.pool == nil:
			err = errors.Newf("%s region %d has no memory pool", r.typ, r.idx)
		case r.originalOwner != nil && r.owner.Load() != nil && r.originalOwner.numaNode == r.owner.Load().numaNode:
			err = errors.Newf("region %d was stolen by context %d from context %d on the same node %d",
				r.idx, r.owner.Load().index, r.originalOwner.index, r.originalOwner.numaNode)
		}
	})
	if err != nil {
		return err
	}

	for i := range h.table.regions {
		r := &h.table.regions[i]
		if r.typ != regionUncommitted {
			continue
		}
		if r.listed() || r.owner.Load() != nil || r.pool != nil {
			return errors.Newf("uncommitted region %d is still in use", r.idx)
		}
	}
	return nil
}

func ownerIndex(r *Region) interface{} {
	if c := r.owner.Load(); c != nil {
		return c.index
	}
	return "nobody"
}
