package heap

// threadLocalHeap is a chunk of a region claimed by one thread. The
// thread bump-allocates objects out of it without taking any lock.
type threadLocalHeap struct {
	base   uintptr // base address of the chunk
	alloc  uintptr // next free byte
	top    uintptr // end of the chunk
	region *Region // region the chunk was carved from
	epoch  uint64  // collection count when the chunk was claimed
}

// remaining returns the bytes left in the TLH.
func (c *threadLocalHeap) remaining() uintptr {
	return c.top - c.alloc
}

// allocate bumps size bytes out of the TLH, returning 0 if they don't fit.
func (c *threadLocalHeap) allocate(size uintptr) uintptr {
	if c.top-c.alloc < size {
		return 0
	}
	p := c.alloc
	c.alloc += size
	return p
}

// retire gives up the current chunk. Whatever is left becomes dark
// matter in the region's pool, unless the region was flushed and
// recycled by a collection in the meantime.
func (c *threadLocalHeap) retire(epoch uint64) uintptr {
	left := c.remaining()
	if left != 0 && c.region != nil && c.epoch == epoch && c.region.pool != nil {
		c.region.pool.AbandonHeapChunk(c.alloc, c.top)
	}
	*c = threadLocalHeap{}
	return left
}

// install makes [base, top) the current chunk.
func (c *threadLocalHeap) install(base, top uintptr, r *Region, epoch uint64) {
	c.base, c.alloc, c.top, c.region, c.epoch = base, base, top, r, epoch
}
