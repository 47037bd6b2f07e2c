package heap

import "github.com/pianoyeg94/balanced-heap/scheduler"

// NumaTopology is the allocator's view of the machine's NUMA layout.
//
// Node 0 stands for interleaved memory that belongs to no node in
// particular; physical nodes are numbered from 1.
type NumaTopology interface {
	// AffinityLeaders returns the nodes that each get a worker
	// allocation context, in order.
	AffinityLeaders() []int
	// FreeProcessorNodes returns the nodes whose processors are not
	// reserved for worker threads. Common threads run on them.
	FreeProcessorNodes() []int
	// SetThreadAffinity restricts t to the processors of nodes and
	// reports whether the binding took.
	SetThreadAffinity(t *scheduler.Thread, nodes []int) bool
}

// StaticTopology is a NumaTopology with a fixed number of nodes, each a
// leader. It binds threads by recording the node on the thread.
type StaticTopology struct {
	nodes int
}

// NewStaticTopology returns a topology of n physical nodes. n <= 0
// means NUMA is off.
func NewStaticTopology(n int) *StaticTopology {
	if n < 0 {
		n = 0
	}
	return &StaticTopology{nodes: n}
}

// NoNuma returns the topology of a machine without NUMA.
func NoNuma() NumaTopology { return NewStaticTopology(0) }

func (s *StaticTopology) AffinityLeaders() []int {
	leaders := make([]int, s.nodes)
	for i := range leaders {
		leaders[i] = i + 1
	}
	return leaders
}

func (s *StaticTopology) FreeProcessorNodes() []int {
	return s.AffinityLeaders()
}

func (s *StaticTopology) SetThreadAffinity(t *scheduler.Thread, nodes []int) bool {
	for _, n := range nodes {
		if n < 1 || n > s.nodes {
			return false
		}
	}
	if len(nodes) == 1 {
		t.SetAffinity(nodes[0])
	} else {
		// Bound to several nodes is as good as unbound.
		t.SetAffinity(-1)
	}
	return len(nodes) != 0
}
