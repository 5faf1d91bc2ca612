// Package prp builds NVMe Physical Region Page descriptors: the PRP1/PRP2
// pair (and, for transfers spanning more than two host pages, the PRP list
// page they point into) that every NVMe command uses to tell the
// controller where to DMA data.
//
// Building a descriptor assumes the buffer is backed by physically
// contiguous memory per page — true for memory obtained from
// internal/dmamem, which never crosses a page within a single allocation
// at the granularities this driver issues I/O at. A host running with a
// real IOMMU and non-identity virtual-to-physical mapping must supply a
// PhysTranslator that actually walks that mapping; nothing here assumes
// virt == phys beyond calling the translator once per page.
package prp

import (
	"fmt"

	"github.com/basalt-io/nvmehost/internal/dmamem"
)

const pageSize = 4096

// entriesPerListPage is how many 8-byte physical addresses fit in one
// standard 4 KiB list page.
const entriesPerListPage = pageSize / 8

// ToPhys translates a virtual (host-visible) address into the physical or
// IOVA address the controller must be given.
type ToPhys func(virt uintptr) uint64

// Builder constructs Descriptors, allocating PRP list pages from alloc
// when a transfer needs one.
type Builder struct {
	alloc   *dmamem.Allocator
	toPhys  ToPhys
}

// New creates a Builder. toPhys is called once per page touched by a
// transfer.
func New(alloc *dmamem.Allocator, toPhys ToPhys) *Builder {
	return &Builder{alloc: alloc, toPhys: toPhys}
}

// Descriptor is the PRP1/PRP2 pair for one command, plus the PRP list
// pages backing PRP2 when the transfer needed one or more. It owns those
// pages exclusively and the caller must Release it exactly once, generally
// via defer right after a successful Build.
type Descriptor struct {
	PRP1 uint64
	PRP2 uint64

	listBlocks []dmamem.Block
	released   bool
}

// Release returns any PRP list pages allocated for this descriptor to the
// builder's allocator. It is always safe to call, even if Build never
// needed a list page.
func (d *Descriptor) Release() {
	if d == nil || d.released {
		return
	}
	d.released = true
	for i := range d.listBlocks {
		d.listBlocks[i].Release()
	}
}

// Build constructs the PRP1/PRP2 pair for a transfer of length bytes
// starting at the virtual address virt. length must be a positive
// multiple of the logical block size the caller is transferring in; a
// zero length is a caller bug, not a zero-length no-op command.
func (b *Builder) Build(virt uintptr, length uint32) (*Descriptor, error) {
	if length == 0 {
		return nil, fmt.Errorf("prp: zero-length transfer")
	}

	pageOffset := uint32(virt) % pageSize
	firstChunk := pageSize - pageOffset
	if firstChunk > length {
		firstChunk = length
	}

	d := &Descriptor{PRP1: b.toPhys(virt)}

	remaining := length - firstChunk
	if remaining == 0 {
		return d, nil
	}

	secondVirt := virt + uintptr(firstChunk)
	if remaining <= pageSize {
		// A single additional page: PRP2 points directly at it, no
		// list page needed.
		d.PRP2 = b.toPhys(secondVirt)
		return d, nil
	}

	// More than two pages: PRP2 points at a list page of 8-byte physical
	// addresses, one per remaining page. Each list page is a standard,
	// recyclable 4 KiB allocation; when more entries remain than fit in
	// one list page, the last entry of the page instead points at the
	// next list page (PRP list chaining), so a transfer of any size
	// spends only standard-shape allocations that flow back through the
	// free list on Release.
	numPages := (remaining + pageSize - 1) / pageSize

	head, err := b.alloc.AllocStandard()
	if err != nil {
		return nil, fmt.Errorf("prp: allocating list page: %w", err)
	}
	d.listBlocks = append(d.listBlocks, head)

	cur := head
	pageVirt := secondVirt
	remainingPages := numPages
	for {
		list := cur.Bytes()
		if remainingPages > entriesPerListPage {
			for i := 0; i < entriesPerListPage-1; i++ {
				putLE64(list[i*8:i*8+8], b.toPhys(pageVirt))
				pageVirt += pageSize
			}
			next, err := b.alloc.AllocStandard()
			if err != nil {
				d.Release()
				return nil, fmt.Errorf("prp: allocating chained list page: %w", err)
			}
			putLE64(list[(entriesPerListPage-1)*8:entriesPerListPage*8], b.toPhys(next.Virt()))
			d.listBlocks = append(d.listBlocks, next)
			cur = next
			remainingPages -= entriesPerListPage - 1
			continue
		}
		for i := uint32(0); i < remainingPages; i++ {
			putLE64(list[i*8:i*8+8], b.toPhys(pageVirt))
			pageVirt += pageSize
		}
		break
	}

	d.PRP2 = b.toPhys(head.Virt())
	return d, nil
}

func putLE64(b []byte, v uint64) {
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * i))
	}
}
