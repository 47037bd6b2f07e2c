package heap

import (
	"github.com/cockroachdb/errors"

	"github.com/pianoyeg94/balanced-heap/scheduler"
)

// Env is the allocator's per-thread environment. An Env belongs to one
// goroutine; it must not be shared.
type Env struct {
	Thread *scheduler.Thread

	heap    *Heap
	context AllocationContext

	// locks records the ranks of the allocator locks this thread holds.
	locks lockRankSet

	tlh threadLocalHeap
}

// held returns the lock rank set of e. A nil Env, used while the heap
// bootstraps, checks no ranks.
func (e *Env) held() *lockRankSet {
	if e == nil {
		return nil
	}
	return &e.locks
}

// AllocationContext returns the context e allocates from.
func (e *Env) AllocationContext() AllocationContext { return e.context }

// Heap returns the heap e is attached to.
func (e *Env) Heap() *Heap { return e.heap }

// AcquireVMAccess gives the thread shared VM access. While it holds
// access a collection cannot start until the thread reaches a
// safepoint; every allocation slow path is one.
func (e *Env) AcquireVMAccess() { e.heap.world.AcquireVMAccess(e.Thread) }

// ReleaseVMAccess drops the thread's shared VM access.
func (e *Env) ReleaseVMAccess() { e.heap.world.ReleaseVMAccess(e.Thread) }

// AllocateObject returns the address of size bytes, or 0 once the
// whole escalation ladder failed.
//
// Objects smaller than TLHMinimumSize are bump allocated out of the
// thread's TLH. Larger ones go to the allocation context directly.
func (e *Env) AllocateObject(size uintptr) uintptr {
	size = alignUp(size, objectAlignment)
	if size == 0 {
		size = objectAlignment
	}
	cfg := &e.heap.cfg
	if size >= cfg.TLHMinimumSize {
		e.heap.world.Safepoint(e.Thread)
		desc := AllocateDescription{Size: size}
		return e.heap.subspace.AllocateObject(e, &desc)
	}

	if e.tlh.epoch != e.heap.manager.flushCount() {
		// A collection flushed the region the TLH was carved from;
		// whatever was left of it is the collector's now.
		e.tlh = threadLocalHeap{}
	}
	if p := e.tlh.allocate(size); p != 0 {
		return p
	}
	if !e.refreshTLH() {
		return 0
	}
	return e.tlh.allocate(size)
}

// refreshTLH retires the current TLH and claims a new chunk.
func (e *Env) refreshTLH() bool {
	e.heap.world.Safepoint(e.Thread)

	m := e.heap.manager
	e.tlh.retire(m.flushCount())

	cfg := &e.heap.cfg
	desc := AllocateDescription{Size: cfg.TLHMinimumSize, TLHMaximum: cfg.TLHMaximumSize}
	base, top := e.heap.subspace.AllocateTLH(e, &desc)
	if base == 0 {
		return false
	}
	// Sample the epoch after the allocation: the ladder may have run
	// a collection on our behalf.
	e.tlh.install(base, top, e.heap.table.regionFor(base), m.flushCount())
	return true
}

// AllocateArrayletLeaf binds a leaf region to the arraylet spine at
// spine and returns the leaf's base address, or 0.
func (e *Env) AllocateArrayletLeaf(spine uintptr) uintptr {
	e.heap.world.Safepoint(e.Thread)
	desc := AllocateDescription{Size: e.heap.cfg.ArrayletLeafSize, Spine: spine}
	return e.heap.subspace.AllocateArrayletLeaf(e, &desc)
}

// MustAllocateObject is AllocateObject for callers that want an error.
func (e *Env) MustAllocateObject(size uintptr) (uintptr, error) {
	if p := e.AllocateObject(size); p != 0 {
		return p, nil
	}
	return 0, errors.Wrapf(ErrOutOfMemory, "allocating %d byte object on thread %q", size, e.Thread.Name)
}

// MustAllocateArrayletLeaf is AllocateArrayletLeaf for callers that
// want an error.
func (e *Env) MustAllocateArrayletLeaf(spine uintptr) (uintptr, error) {
	if p := e.AllocateArrayletLeaf(spine); p != 0 {
		return p, nil
	}
	return 0, errors.Wrapf(ErrOutOfMemory, "allocating arraylet leaf for spine %#x on thread %q", spine, e.Thread.Name)
}

// Detach retires the thread's TLH and gives up its allocation context
// and VM access.
func (e *Env) Detach() {
	e.tlh.retire(e.heap.manager.flushCount())
	e.heap.manager.ReleaseAllocationContext(e)
	if e.Thread.HasVMAccess() {
		e.ReleaseVMAccess()
	}
	if !e.locks.empty() {
		throw("thread %q detached holding allocator locks", e.Thread.Name)
	}
}
