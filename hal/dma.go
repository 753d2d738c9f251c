package hal

import "loranode-go/x/mathx"

// DescriptorChunk is the largest block one DMA descriptor can move.
const DescriptorChunk = 4092

type Priority uint8

const (
	Priority0 Priority = iota
	Priority1
	Priority2
	Priority3
	Priority4
	Priority5
)

// DMAChannel is a claimed DMA channel. It must be configured for async
// operation before a bus will accept it.
type DMAChannel struct {
	n     int
	owner string
	async bool
	burst bool
	prio  Priority
}

func (c *DMAChannel) Number() int        { return c.n }
func (c *DMAChannel) Async() bool        { return c.async }
func (c *DMAChannel) Burst() bool        { return c.burst }
func (c *DMAChannel) Priority() Priority { return c.prio }

// ConfigureForAsync switches the channel to async completion with the
// given burst mode and arbitration priority.
func (c *DMAChannel) ConfigureForAsync(burst bool, prio Priority) *DMAChannel {
	c.async = true
	c.burst = burst
	c.prio = prio
	return c
}

// DescriptorRing is a fixed set of DMA descriptors sized once at boot.
type DescriptorRing struct {
	sizes    []int
	capacity int
}

// NewDescriptors sizes matching TX and RX rings for transfers of up to
// capacity bytes.
func NewDescriptors(capacity int) (tx, rx *DescriptorRing) {
	return newRing(capacity), newRing(capacity)
}

func newRing(capacity int) *DescriptorRing {
	if capacity < 0 {
		capacity = 0
	}
	n := mathx.CeilDiv(capacity, DescriptorChunk)
	r := &DescriptorRing{sizes: make([]int, n), capacity: capacity}
	left := capacity
	for i := range r.sizes {
		r.sizes[i] = mathx.Min(left, DescriptorChunk)
		left -= r.sizes[i]
	}
	return r
}

func (r *DescriptorRing) Len() int       { return len(r.sizes) }
func (r *DescriptorRing) Capacity() int  { return r.capacity }
func (r *DescriptorRing) ChunkSize() int { return DescriptorChunk }

// Chunks returns the number of descriptors an n byte transfer occupies.
func (r *DescriptorRing) Chunks(n int) int { return mathx.CeilDiv(n, DescriptorChunk) }
