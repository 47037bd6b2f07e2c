package heap

import "math/bits"

// cardShift is log2 of the number of heap bytes one card covers.
const (
	cardShift = 9
	cardSize  = 1 << cardShift // 512 bytes
)

// cardBits is the slice of the card table covering one region, one bit
// per card. A set bit is a dirty card: the mutator stored a reference
// into the card since the collector last cleaned it.
//
// Bits are numbered from the right-most bit of each word
// (little-endian bit order).
type cardBits []uint64

func newCardBits(regionSize uintptr) cardBits {
	ncards := regionSize >> cardShift
	return make(cardBits, (ncards+63)/64)
}

// get returns bit i.
func (b cardBits) get(i uint) uint {
	return uint((b[i/64] >> (i % 64)) & 1)
}

// set sets bit i.
func (b cardBits) set(i uint) {
	b[i/64] |= 1 << (i % 64)
}

// setRange sets bits in the range [i, i+n).
func (b cardBits) setRange(i, n uint) {
	if n == 0 {
		return
	}
	if n == 1 {
		b.set(i)
		return
	}
	// Set bits [i, j].
	j := i + n - 1
	if i/64 == j/64 {
		b[i/64] |= ((uint64(1) << n) - 1) << (i % 64)
		return
	}
	// Set leading bits.
	b[i/64] |= ^uint64(0) << (i % 64)
	for k := i/64 + 1; k < j/64; k++ {
		b[k] = ^uint64(0)
	}
	// Set trailing bits.
	b[j/64] |= (uint64(1) << (j%64 + 1)) - 1
}

// clearAll cleans every card.
func (b cardBits) clearAll() {
	for i := range b {
		b[i] = 0
	}
}

// popcnt counts dirty cards.
func (b cardBits) popcnt() (s uint) {
	for _, w := range b {
		s += uint(bits.OnesCount64(w))
	}
	return s
}

// clean reports whether no card is dirty.
func (b cardBits) clean() bool {
	for _, w := range b {
		if w != 0 {
			return false
		}
	}
	return true
}
