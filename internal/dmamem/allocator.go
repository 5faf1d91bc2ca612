// Package dmamem implements the DMA-coherent block allocator the driver
// hands out submission/completion queue memory and PRP list pages from.
//
// Blocks are identified by slab index, never by raw pointer: the free
// list is an array of descriptors threaded by index, and a caller-facing
// Block value is just (allocator, index). This avoids the raw
// pointer-chasing an intrusive linked list embedded in the DMA region
// itself would need, and keeps bookkeeping entirely on the Go side where
// it's trivial to bounds-check and safe to inspect with a debugger.
package dmamem

import (
	"fmt"

	"github.com/basalt-io/nvmehost/internal/logging"
)

const (
	// StandardBlockSize is the only block size the free list recycles.
	StandardBlockSize = 4096
	// StandardBlockAlign is the alignment every standard-shape block
	// must land on.
	StandardBlockAlign = 4096
	// BoundaryWindow is the size of the window a standard-shape block
	// must not straddle, matching the NVMe PRP "page boundary" rule.
	BoundaryWindow = 1 << 20
)

type descriptor struct {
	offset uint32
	size   uint32
	free   bool
	next   int32 // index into Allocator.blocks, -1 sentinel
}

// Allocator hands out blocks from a single caller-supplied byte region.
// It is not safe for concurrent use: per the driver's single-threaded
// cooperative model, callers never touch it from more than one goroutine
// at a time.
type Allocator struct {
	region   []byte
	bump     uint32
	freeHead int32
	blocks   []descriptor
	logger   *logging.Logger
}

// New wraps region (expected to be physically contiguous, DMA-coherent
// memory in production; any byte slice in tests) as an allocation arena.
func New(region []byte, logger *logging.Logger) *Allocator {
	if logger == nil {
		logger = logging.Default()
	}
	return &Allocator{region: region, freeHead: -1, logger: logger}
}

// Block is a handle to an allocated region. It is a plain value, not a
// pointer into the DMA region — callers pass it around and Release it
// exactly once.
type Block struct {
	a        *Allocator
	idx      int32
	released bool
}

// Virt returns the virtual address (offset into the backing region,
// reinterpreted as an address by the caller) of the block's payload.
func (b Block) Virt() uintptr {
	d := &b.a.blocks[b.idx]
	return uintptr(d.offset)
}

// Bytes returns the block's payload as a slice over the backing region.
func (b Block) Bytes() []byte {
	d := &b.a.blocks[b.idx]
	return b.a.region[d.offset : d.offset+d.size]
}

// Size returns the block's size in bytes.
func (b Block) Size() uint32 {
	return b.a.blocks[b.idx].size
}

// Release returns the block to its allocator. Releasing the same Block
// twice is a diagnosable caller bug, not a crash: the second call is
// logged and otherwise ignored.
func (b *Block) Release() {
	if b.released {
		b.a.logger.Warn("double release of dma block", "idx", b.idx)
		return
	}
	b.released = true
	b.a.free(b.idx)
}

// AllocStandard returns a StandardBlockSize block taken from the free
// list if one is available, falling back to a fresh bump allocation that
// respects both alignment and the boundary window.
func (a *Allocator) AllocStandard() (Block, error) {
	if a.freeHead >= 0 {
		idx := a.freeHead
		d := &a.blocks[idx]
		a.freeHead = d.next
		d.free = false
		d.next = -1
		return Block{a: a, idx: idx}, nil
	}
	return a.bumpAlloc(StandardBlockSize, StandardBlockAlign, true)
}

// Alloc allocates a block of an arbitrary size and alignment, without the
// boundary-window check AllocStandard applies. On release such a block
// enters the free list only if it happens to have standard shape
// (StandardBlockSize bytes at a StandardBlockAlign offset); any other
// block's space is simply abandoned until the allocator itself is
// discarded, matching the contract that only standard-shape blocks are
// recycled.
func (a *Allocator) Alloc(size, align uint32) (Block, error) {
	return a.bumpAlloc(size, align, false)
}

func (a *Allocator) bumpAlloc(size, align uint32, enforceBoundary bool) (Block, error) {
	if size == 0 {
		return Block{}, fmt.Errorf("dmamem: zero-size allocation")
	}

	offset := alignUp(a.bump, align)
	if enforceBoundary {
		// A standard-shape block must not straddle a BoundaryWindow
		// boundary; if it would, skip forward to the next window.
		windowStart := offset / BoundaryWindow
		windowEnd := (offset + size - 1) / BoundaryWindow
		if windowStart != windowEnd {
			offset = alignUp((windowStart+1)*BoundaryWindow, align)
		}
	}

	if uint64(offset)+uint64(size) > uint64(len(a.region)) {
		return Block{}, fmt.Errorf("dmamem: arena exhausted (need %d bytes at offset %d, have %d)", size, offset, len(a.region))
	}

	a.bump = offset + size
	idx := int32(len(a.blocks))
	a.blocks = append(a.blocks, descriptor{offset: offset, size: size, next: -1})
	return Block{a: a, idx: idx}, nil
}

// free returns a block to the free list if and only if it has standard
// shape; anything else is logged and dropped as a diagnosable leak rather
// than recycled, since a non-standard block's size doesn't match what
// AllocStandard callers expect to receive back.
func (a *Allocator) free(idx int32) {
	d := &a.blocks[idx]
	if d.free {
		a.logger.Warn("free of already-free dma block", "idx", idx)
		return
	}
	if d.size != StandardBlockSize || d.offset%StandardBlockAlign != 0 {
		a.logger.Warn("free of non-standard-shape dma block, not recycled", "idx", idx, "size", d.size, "offset", d.offset)
		return
	}
	d.free = true
	d.next = a.freeHead
	a.freeHead = idx
}

func alignUp(v, align uint32) uint32 {
	if align == 0 {
		return v
	}
	return (v + align - 1) &^ (align - 1)
}

// Stats reports arena utilization for diagnostics and the CLI tool.
type Stats struct {
	TotalBytes    int
	UsedBytes     uint32
	FreeListCount int
}

func (a *Allocator) Stats() Stats {
	count := 0
	for i := a.freeHead; i >= 0; {
		count++
		i = a.blocks[i].next
	}
	return Stats{TotalBytes: len(a.region), UsedBytes: a.bump, FreeListCount: count}
}
