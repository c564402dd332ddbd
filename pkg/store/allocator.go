package store

import (
	"bytes"
	"context"
	"io"
)

// defragmentThreshold is the fraction of a block's capacity given over to
// reusable (dead or tail-waste) bytes before it is worth reclaiming.
const defragmentThreshold = 0.2

// Allocator owns the sequence of Blocks a Shard carves Small values out of,
// plus the bookkeeping needed to decide when defragmentation is worthwhile.
// An Allocator is not safe for concurrent use; each Shard owns exactly one.
type Allocator struct {
	blocks       []*Block
	currentIndex int
	reusable     int
	metrics      Metrics
}

// NewAllocator constructs an Allocator with a single empty Block. metrics
// may be nil, in which case allocation events are not recorded.
func NewAllocator(metrics Metrics) *Allocator {
	if metrics == nil {
		metrics = NewNoopMetrics()
	}
	a := &Allocator{metrics: metrics}
	a.blocks = append(a.blocks, newBlock())
	return a
}

// Allocate reads exactly size bytes from r and returns a Value referencing
// them. Payloads larger than BlockSize are allocated as Large, standalone
// buffers; everything else is carved out of the current Block, advancing
// past any Block that no longer has room for this request.
func (a *Allocator) Allocate(r io.Reader, size int) (Value, error) {
	if size > BlockSize {
		buf := make([]byte, size)
		if _, err := io.ReadFull(r, buf); err != nil {
			return Value{}, err
		}
		a.metrics.RecordLargeAllocated(context.Background(), int64(size))
		return LargeValue(buf), nil
	}

	for {
		if a.currentIndex >= len(a.blocks) {
			a.blocks = append(a.blocks, newBlock())
			a.metrics.RecordBlockCreated(context.Background(), len(a.blocks))
		}

		block := a.blocks[a.currentIndex]
		if block.fragmented() {
			a.currentIndex++
			continue
		}

		remaining := block.remaining()
		if remaining >= size {
			return block.allocate(r, size)
		}
		if remaining > 0 {
			// Too little room left for this request. The tail only
			// becomes usable again via defragmentation, so the block is
			// retired from further allocation now rather than rescanned
			// on every future request that doesn't fit here either.
			block.reusable += remaining
			block.used = BlockSize
			a.reusable += remaining
			a.metrics.RecordReusableBytes(context.Background(), int64(a.reusable))
		}
		a.currentIndex++
	}
}

// Release marks a Small value's bytes as reusable within its owning Block.
// Large values need no bookkeeping; their memory is reclaimed once the Map
// drops its last reference to them.
func (a *Allocator) Release(v Value) {
	if !v.IsSmall() {
		return
	}
	if v.block.fragmented() {
		return
	}
	size := v.Size()
	v.block.reusable += size
	a.reusable += size
	a.metrics.RecordReusableBytes(context.Background(), int64(a.reusable))
}

// ShouldDefragment reports whether absolute reusable bytes have crossed
// BlockSize * defragmentThreshold. This is compared against the fixed
// block size, not total heap size, so the trigger stays constant as the
// number of blocks grows — amortized linear defragmentation cost rather
// than one that gets rarer as the heap gets bigger.
func (a *Allocator) ShouldDefragment() bool {
	return float64(a.reusable)/float64(BlockSize) > defragmentThreshold
}

// Defragment reclaims every block whose reusable fraction crosses the
// threshold: live Small values still referencing it are copied into
// non-fragmented blocks (allocating new ones as needed via Allocate), then
// the reclaimed blocks are reset to empty and rejoin the allocation
// rotation. m must be the same Map the values returned by this Allocator
// were stored into.
func (a *Allocator) Defragment(m *Map) {
	for _, b := range a.blocks {
		if b.fragmented() {
			continue
		}
		if float64(b.reusable)/float64(BlockSize) > defragmentThreshold {
			b.markFragmented()
		}
	}

	a.currentIndex = 0
	var bytesMoved int64

	m.ForEachValue(func(v Value) Value {
		if !v.IsSmall() || !v.block.fragmented() {
			return v
		}
		moved, err := a.Allocate(bytes.NewReader(v.Bytes()), v.Size())
		if err != nil {
			// Copying bytes already held in memory into an allocator that
			// always has room for at least one more block cannot fail.
			panic(err)
		}
		bytesMoved += int64(v.Size())
		return moved
	})

	reclaimed := 0
	for _, b := range a.blocks {
		if b.fragmented() {
			b.reset()
			reclaimed++
		} else {
			b.reusable = 0
		}
	}
	a.reusable = 0

	a.metrics.RecordDefragment(context.Background(), reclaimed, bytesMoved)
}
