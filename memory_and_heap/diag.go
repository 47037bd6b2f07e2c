package heap

import (
	"io"

	"github.com/cockroachdb/errors"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"golang.org/x/exp/slog"
)

// WriteReport writes a JSON description of the heap and of every
// allocation context to w. Region counts are only exact while the world
// is stopped.
func (h *Heap) WriteReport(w io.Writer) error {
	stats := h.Stats()

	jw := jwriter.NewWriter()
	obj := jw.Object()
	obj.Name("heapSize").Int(int(h.Size()))
	obj.Name("maxHeapSize").Int(int(h.cfg.MaxHeapSize))
	obj.Name("regionSize").Int(int(h.cfg.RegionSize))
	obj.Name("resizeState").String(h.subspace.ResizeState().String())
	obj.Name("bytesRemainingBeforeTaxation").Int(int(h.subspace.BytesRemainingBeforeTaxation()))
	obj.Name("cycles").Int(int(h.subspace.Cycles()))
	h.printStats(obj.Name("stats").Object(), &stats)

	contexts := obj.Name("contexts").Array()
	for _, c := range h.manager.contexts {
		c.printDetailedMap(contexts.Object())
	}
	contexts.End()
	obj.End()

	if err := jw.Error(); err != nil {
		return errors.Wrap(err, "encoding heap report")
	}
	_, err := w.Write(jw.Bytes())
	return errors.Wrap(err, "writing heap report")
}

func (h *Heap) printStats(json jwriter.ObjectState, s *HeapStats) {
	json.Name("freeMemory").Int(int(s.FreeMemory))
	json.Name("largestFreeEntry").Int(int(s.LargestFreeEntry))
	json.Name("freeRegions").Int(int(s.FreeRegions))
	json.Name("idleRegions").Int(int(s.IdleRegions))
	json.Name("objectsAllocated").Int(int(s.ObjectsAllocated))
	json.Name("bytesAllocated").Int(int(s.BytesAllocated))
	json.Name("tlhsAllocated").Int(int(s.TLHsAllocated))
	json.Name("leavesAllocated").Int(int(s.LeavesAllocated))
	json.Name("replenishes").Int(int(s.Replenishes))
	json.Name("thefts").Int(int(s.Thefts))
	json.Name("taxationDenials").Int(int(s.TaxationDenials))
	json.Name("leafLinksNested").Int(int(s.LeafLinksNested))
	json.Name("leafLinksDeferred").Int(int(s.LeafLinksDeferred))
	json.End()
}

func (c *contextBalanced) printDetailedMap(json jwriter.ObjectState) {
	counts := c.RegionCounts()

	json.Name("index").Int(c.index)
	json.Name("numaNode").Int(c.numaNode)
	json.Name("common").Bool(c.index == 0)
	json.Name("threads").Int(c.ThreadCount())
	json.Name("freeMemory").Int(int(c.FreeMemorySize()))
	json.Name("actualFreeMemory").Int(int(c.ActualFreeMemorySize()))
	json.Name("localRegions").Int(counts.Local)
	json.Name("foreignRegions").Int(counts.Foreign)

	types := json.Name("regions").Object()
	for t := RegionFree; int(t) < numRegionTypes; t++ {
		types.Name(t.String()).Int(counts.ByType[t])
	}
	types.End()
	json.End()
}

// DebugLogRegions logs one record for every committed region: its
// type, NUMA node, owner and free space.
func (h *Heap) DebugLogRegions(log *slog.Logger) {
	h.table.forEachCommitted(func(r *Region) {
		attrs := []any{
			slog.Int("region", int(r.idx)),
			slog.String("type", r.typ.String()),
			slog.Int("numa_node", r.numaNode),
		}
		if c := r.owner.Load(); c != nil {
			attrs = append(attrs, slog.Int("owner", c.index))
		}
		if r.originalOwner != nil {
			attrs = append(attrs, slog.Int("original_owner", r.originalOwner.index))
		}
		if r.pool != nil {
			attrs = append(attrs,
				slog.Int("free_bytes", int(r.pool.ActualFreeMemorySize())),
				slog.Int("free_entries", r.pool.FreeEntryCount()),
				slog.Int("dark_matter", int(r.pool.DarkMatter())))
		}
		if n := r.leaves.count; n != 0 {
			attrs = append(attrs, slog.Int("leaves", n))
		}
		if n := r.DirtyCardCount(); n != 0 {
			attrs = append(attrs, slog.Int("dirty_cards", n))
		}
		log.Debug("region", attrs...)
	})
}
