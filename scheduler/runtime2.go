package scheduler

import "sync/atomic"

// ThreadFlags classify a thread for allocation context assignment.
type ThreadFlags uint8

const (
	// ThreadSystem marks a VM-internal thread (GC worker, finalizer,
	// JIT compiler, ...). System threads always allocate from the
	// common allocation context.
	ThreadSystem ThreadFlags = 1 << iota

	// ThreadAttached marks a thread that was attached to the VM from
	// native code rather than created by it. Attached threads carry no
	// placement hint, so they are treated like system threads.
	ThreadAttached
)

// noAffinity is the affinity value of a thread that may run on any node.
const noAffinity = -1

var threadIDs atomic.Uint64

// A Thread is the scheduler's view of a mutator or GC thread.
//
// Name and ClassName are immutable after NewThread. The VM access
// fields are only ever touched by the goroutine that plays the thread,
// so they are not synchronized.
type Thread struct {
	id        uint64
	Name      string
	ClassName string // class the thread object was instantiated from
	Flags     ThreadFlags

	// affinity is the NUMA node this thread is bound to,
	// or noAffinity. Written by the allocator when the thread
	// is assigned an allocation context, read by diagnostics.
	affinity atomic.Int32

	vmAccess  bool // holds shared VM access
	exclusive int  // depth of exclusive VM access held
	reacquire bool // shared access was dropped to go exclusive
}

// NewThread creates a thread descriptor with a fresh id.
func NewThread(name, className string, flags ThreadFlags) *Thread {
	t := &Thread{
		id:        threadIDs.Add(1),
		Name:      name,
		ClassName: className,
		Flags:     flags,
	}
	t.affinity.Store(noAffinity)
	return t
}

// ID returns the thread's unique id.
func (t *Thread) ID() uint64 { return t.id }

// System reports whether the thread must be served by the common
// allocation context regardless of any configured pattern.
func (t *Thread) System() bool {
	return t.Flags&(ThreadSystem|ThreadAttached) != 0
}

// SetAffinity records the node the thread is now bound to.
// A negative node clears the binding.
func (t *Thread) SetAffinity(node int) {
	if node < 0 {
		node = noAffinity
	}
	t.affinity.Store(int32(node))
}

// Affinity returns the node the thread is bound to and whether it is
// bound at all.
func (t *Thread) Affinity() (int, bool) {
	n := t.affinity.Load()
	return int(n), n != noAffinity
}

// HasVMAccess reports whether the thread currently holds shared VM access.
func (t *Thread) HasVMAccess() bool { return t.vmAccess }

// HasExclusiveVMAccess reports whether the thread has stopped the world.
func (t *Thread) HasExclusiveVMAccess() bool { return t.exclusive > 0 }
