package heap

// allocationKind selects the pool operation an allocation runs.
type allocationKind uint8

const (
	allocObject allocationKind = iota
	allocTLH
	allocLeaf
)

var allocationKindNames = []string{
	allocObject: "object",
	allocTLH:    "tlh",
	allocLeaf:   "arraylet-leaf",
}

func (k allocationKind) String() string {
	if int(k) >= len(allocationKindNames) {
		return "BAD ALLOCATION KIND"
	}
	return allocationKindNames[k]
}

// LadderRung identifies a step of the allocation failure escalation
// ladder run by MemorySubSpace.ReplenishAllocationContextFailed.
type LadderRung uint8

const (
	RungNone              LadderRung = iota // satisfied without escalating
	RungLockedRetry                         // retried under the context lock
	RungExclusiveRetry                      // retried with exclusive VM access
	RungTaxationCollect                     // taxation collection
	RungUntaxedRetry                        // retried with taxation waived
	RungExpand                              // heap expanded to satisfy
	RungImplicitCollect                     // regular collection
	RungAggressiveCollect                   // aggressive collection
	RungOutOfMemory                         // every rung failed
)

var ladderRungNames = []string{
	RungNone:              "none",
	RungLockedRetry:       "locked-retry",
	RungExclusiveRetry:    "exclusive-retry",
	RungTaxationCollect:   "taxation-collect",
	RungUntaxedRetry:      "untaxed-retry",
	RungExpand:            "expand",
	RungImplicitCollect:   "implicit-collect",
	RungAggressiveCollect: "aggressive-collect",
	RungOutOfMemory:       "out-of-memory",
}

func (r LadderRung) String() string {
	if int(r) >= len(ladderRungNames) {
		return "BAD RUNG"
	}
	return ladderRungNames[r]
}

// AllocateDescription describes one allocation request and collects
// what happened to it on the way.
type AllocateDescription struct {
	// Size is the object size in bytes. For a TLH it is the smallest
	// chunk worth having.
	Size uintptr
	// TLHMaximum caps the chunk handed out for a TLH request.
	TLHMaximum uintptr
	// Spine is the address of the arraylet spine a leaf is bound to.
	Spine uintptr

	// TLHTop is set to the end of the chunk a TLH request got.
	TLHTop uintptr
	// TaxationDenied is set once any attempt to pay taxation for this
	// request was refused. It is never cleared.
	TaxationDenied bool
	// Rung is the escalation ladder rung that satisfied the request,
	// or RungOutOfMemory.
	Rung LadderRung

	kind allocationKind

	// waiveTax stops replenishment from paying taxation. The ladder
	// sets it once a taxation collection had its chance.
	waiveTax bool

	// pendingLeaf is a leaf that could not be linked into its spine
	// region while the allocating context's lock was held.
	pendingLeaf *Region
}

// AllocationContext is the allocation front end shared by a group of
// threads. It owns a working set of regions and serves object, TLH and
// arraylet leaf requests from them.
//
// The balanced policy is the only implementation; the unexported
// methods keep it that way.
type AllocationContext interface {
	Index() int
	NumaNode() int

	// AllocateObject returns the address of Size bytes, or 0. With
	// shouldCollectOnFailure a miss escalates through the subspace.
	AllocateObject(env *Env, desc *AllocateDescription, shouldCollectOnFailure bool) uintptr
	// AllocateTLH returns a chunk [base, top) for a thread-local heap.
	AllocateTLH(env *Env, desc *AllocateDescription, shouldCollectOnFailure bool) (base, top uintptr)
	// AllocateArrayletLeaf binds a whole FREE region as a leaf of the
	// spine at desc.Spine and returns its base address.
	AllocateArrayletLeaf(env *Env, desc *AllocateDescription, shouldCollectOnFailure bool) uintptr

	// Flush moves every allocatable region to the flushed list.
	Flush(env *Env)
	// FlushForShutdown flushes and also drains the free and idle lists.
	FlushForShutdown(env *Env)
	// ResetFlushed returns the flushed regions that survived a
	// collection to allocation.
	ResetFlushed(env *Env)

	// RecycleRegion takes back a region the collector found empty.
	RecycleRegion(env *Env, r *Region)
	// MigrateRegionToAllocationContext hands a flushed region over to
	// newOwner.
	MigrateRegionToAllocationContext(env *Env, r *Region, newOwner AllocationContext)
	// CollectorAcquireRegion pulls an active region out of circulation
	// for the collector, without paying taxation.
	CollectorAcquireRegion(env *Env) *Region
	// SelectRegionForContraction detaches a FREE region, or nil.
	SelectRegionForContraction(env *Env) *Region

	FreeMemorySize() uintptr
	ActualFreeMemorySize() uintptr
	FreeRegionCount() int
	IdleRegionCount() int
	LargestFreeEntry() uintptr
	ResetLargestFreeEntry()
	MergeHeapStats(s *HeapStats)
	ResetHeapStatistics()
	RegionCounts() RegionCounts
	ThreadCount() int

	allocate(env *Env, desc *AllocateDescription) uintptr
	addExpandedRegion(env *Env, r *Region)
}
