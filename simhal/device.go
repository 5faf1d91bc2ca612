// Package simhal is a pure-Go simulated NVMe controller: a register file
// and a tiny command processor that reacts to doorbell writes the same
// way real hardware would, backed by an in-memory namespace. It exists so
// internal/ctrl, the root BlockDevice facade, and cmd/nvme-bench can all
// be exercised without real hardware, the same way go-ublk's backend.Memory
// stands in for a real block device.
//
// simhal implements every interface in internal/hal against a single
// shared byte arena: host and "device" see the same memory, and physical
// addresses are simply offsets into that arena, so PhysTranslator is the
// identity function.
package simhal

import (
	"encoding/binary"
	"sync"

	"github.com/basalt-io/nvmehost/internal/regs"
	"github.com/basalt-io/nvmehost/internal/wire"
)

const (
	doorbellStride = 4 // DSTRD=0
	sectorSize     = 512
)

// Device simulates a single NVMe controller with one namespace. Mem is the
// shared DMA arena: callers construct a dmamem.Allocator over the same
// slice so that host writes to queue/PRP memory are immediately visible
// here, and vice versa.
type Device struct {
	mu sync.Mutex

	mem []byte // shared arena; "physical" addresses are offsets into this

	cc   regs.CCConfig
	csts regs.CSTS

	adminSQBase, adminCQBase uint64
	adminEntries             uint16
	ioSQBase, ioCQBase       uint64
	ioEntries                uint16
	ioReady                  bool

	sqTail [2]uint16 // index 0 = admin, 1 = io; last doorbell value seen
	cqTail [2]uint16
	phase  [2]bool

	namespace []byte // the simulated backing store

	serial, model, firmware string

	// Fault injection for error-path tests.
	FailNextLBA        bool // next I/O-queue command, whatever its LBA, completes with an LBA range error
	FailAllCommand     bool // every command completes with a generic controller error
	BadNamespaceFormat bool // advertise a namespace format this driver must reject

	// Call counters for tests asserting cache maintenance actually happens.
	InvalidateCalls int
	CleanCalls      int
}

// New constructs a Device sharing mem as its DMA arena and nsSectors
// sectorSize-byte logical blocks as its namespace.
func New(mem []byte, nsSectors uint64) *Device {
	return &Device{
		mem:       mem,
		namespace: make([]byte, nsSectors*sectorSize),
		phase:     [2]bool{true, true},
		serial:    "SIMHAL0000000000001",
		model:     "nvmehost simulated controller",
		firmware:  "1.0000",
	}
}

// Mmio -----------------------------------------------------------------

func (d *Device) Read32(offset uint32) uint32 {
	d.mu.Lock()
	defer d.mu.Unlock()
	switch offset {
	case regs.OffsetCC:
		return uint32(d.cc)
	case regs.OffsetCSTS:
		return uint32(d.csts)
	case regs.OffsetVER:
		return 0x00010400 // NVMe 1.4.0
	default:
		return 0
	}
}

func (d *Device) Write32(offset uint32, value uint32) {
	d.mu.Lock()
	defer d.mu.Unlock()

	switch {
	case offset == regs.OffsetCC:
		prevEnabled := d.cc.Enabled()
		d.cc = regs.CCConfig(value)
		if d.cc.Enabled() && !prevEnabled {
			d.csts |= 1 // RDY
		} else if !d.cc.Enabled() {
			d.csts &^= 1
			d.ioReady = false
		}
	case offset == regs.OffsetAQA:
		d.adminEntries = uint16((value>>16)&0xfff) + 1
	case isSQDoorbell(offset, 0):
		d.handleDoorbell(0, uint16(value))
	case isSQDoorbell(offset, 1):
		d.handleDoorbell(1, uint16(value))
	}
}

func (d *Device) Read64(offset uint32) uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	switch offset {
	case regs.OffsetCAP:
		// MQES=1023, TO=10 (5s), DSTRD=0, CSS bit0 set (NVM command set), MPSMIN=MPSMAX=0
		return uint64(1023) | uint64(10)<<24 | uint64(1)<<37
	default:
		return 0
	}
}

func (d *Device) Write64(offset uint32, value uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	switch offset {
	case regs.OffsetASQ:
		d.adminSQBase = value
	case regs.OffsetACQ:
		d.adminCQBase = value
	}
}

func isSQDoorbell(offset uint32, qid uint16) bool {
	return offset == regs.SQDoorbellOffset(qid, doorbellStride)
}

// CacheOps only count their calls and Barriers are no-ops: everything runs
// in one address space with no real cache hierarchy to maintain.
func (d *Device) InvalidateRange(addr uintptr, length int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.InvalidateCalls++
}

func (d *Device) CleanRange(addr uintptr, length int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.CleanCalls++
}
func (d *Device) DataMemoryBarrier()                       {}
func (d *Device) DataSyncBarrier()                         {}

// ToPhys is the identity function: mem offsets serve directly as physical
// addresses in this simulation.
func (d *Device) ToPhys(virt uintptr) uint64 { return uint64(virt) }

// handleDoorbell processes exactly one newly-submitted command: the driver
// this simulator supports never has more than one command outstanding per
// queue, so the just-written slot is always (newTail-1) mod entries.
func (d *Device) handleDoorbell(qid int, newTail uint16) {
	entries := d.adminEntries
	sqBase := d.adminSQBase
	if qid == 1 {
		entries = d.ioEntries
		sqBase = d.ioSQBase
	}
	if entries == 0 {
		return
	}
	d.sqTail[qid] = newTail
	slot := (newTail + entries - 1) % entries
	sqe := wire.UnmarshalSQE(d.mem[sqBase+uint64(slot)*64 : sqBase+uint64(slot)*64+64])

	var cqe wire.CQE
	if d.FailAllCommand {
		cqe = d.statusCQE(sqe.CID, 1, 0x06) // generic internal error
	} else if qid == 0 {
		cqe = d.execAdmin(sqe)
	} else {
		cqe = d.execIO(sqe)
	}
	d.postCompletion(qid, cqe)
}

func (d *Device) statusCQE(cid uint16, sct, sc uint8) wire.CQE {
	return wire.CQE{CID: cid, Status: (uint16(sct)&0x7)<<9 | (uint16(sc)&0xff)<<1}
}

func (d *Device) postCompletion(qid int, cqe wire.CQE) {
	cqBase := d.adminCQBase
	if qid == 1 {
		cqBase = d.ioCQBase
	}
	slot := d.cqTail[qid]
	cqe.SQID = uint16(qid)
	if d.phase[qid] {
		cqe.Status |= 1
	}
	copy(d.mem[cqBase+uint64(slot)*16:cqBase+uint64(slot)*16+16], wire.MarshalCQE(&cqe))

	entries := d.adminEntries
	if qid == 1 {
		entries = d.ioEntries
	}
	d.cqTail[qid]++
	if d.cqTail[qid] == entries {
		d.cqTail[qid] = 0
		d.phase[qid] = !d.phase[qid]
	}
}

func (d *Device) execAdmin(sqe wire.SQE) wire.CQE {
	switch sqe.Opcode {
	case wire.OpIdentify:
		d.identify(sqe)
	case wire.OpCreateIOCQ:
		d.ioCQBase = sqe.PRP1
		d.ioEntries = uint16(sqe.CDW10>>16) + 1
	case wire.OpCreateIOSQ:
		d.ioSQBase = sqe.PRP1
		d.ioReady = true
	case wire.OpGetLogPage:
		d.getLogPage(sqe)
	}
	return d.statusCQE(sqe.CID, 0, 0)
}

func (d *Device) identify(sqe wire.SQE) {
	buf := d.mem[sqe.PRP1 : sqe.PRP1+4096]
	for i := range buf {
		buf[i] = 0
	}
	switch sqe.CDW10 & 0xff {
	case wire.CNSController:
		copy(buf[4:24], d.serial)
		padSpaces(buf[4:24])
		copy(buf[24:64], d.model)
		padSpaces(buf[24:64])
		copy(buf[64:72], d.firmware)
		padSpaces(buf[64:72])
	case wire.CNSNamespace:
		binary.LittleEndian.PutUint64(buf[0:8], uint64(len(d.namespace))/sectorSize)
		buf[26] = 0 // FLBAS: use LBA format descriptor 0
		// LBA format descriptor 0 at byte 128: MS (bits 0..15) = 0, LBADS
		// (bits 16..23) = 9, i.e. 2^9 = 512-byte sectors.
		buf[128] = 0
		buf[129] = 0
		buf[130] = 9
		buf[131] = 0
		if d.BadNamespaceFormat {
			buf[130] = 12 // 2^12 = 4096-byte sectors, unsupported by this driver
		}
	}
}

func padSpaces(b []byte) {
	for i := range b {
		if b[i] == 0 {
			b[i] = ' '
		}
	}
}

func (d *Device) getLogPage(sqe wire.SQE) {
	if sqe.CDW10&0xff != 0x02 {
		return
	}
	buf := d.mem[sqe.PRP1 : sqe.PRP1+512]
	for i := range buf {
		buf[i] = 0
	}
	buf[3] = 100 // available spare, percent
}

func (d *Device) execIO(sqe wire.SQE) wire.CQE {
	if d.FailNextLBA {
		d.FailNextLBA = false
		return d.statusCQE(sqe.CID, 0, 0x80) // LBA out of range
	}

	switch sqe.Opcode {
	case wire.OpFlush:
		return d.statusCQE(sqe.CID, 0, 0)
	case wire.OpRead, wire.OpWrite:
		return d.rw(sqe)
	}
	return d.statusCQE(sqe.CID, 1, 0x01) // invalid command opcode
}

const (
	rwPageSize         = 4096
	entriesPerListPage = rwPageSize / 8
)

// prpPages resolves the sequence of (physical address, length) chunks a
// command's PRP1/PRP2 describe beyond the first page: either PRP2 itself
// (a transfer of two pages or fewer), or the page addresses enumerated by
// the PRP list PRP2 points at, following chained list pages exactly the
// way internal/prp's builder produces them.
func (d *Device) prpPages(prp2 uint64, remaining uint32) []struct {
	phys uint64
	len  uint32
} {
	type page = struct {
		phys uint64
		len  uint32
	}
	if remaining == 0 {
		return nil
	}
	if remaining <= rwPageSize {
		return []page{{prp2, remaining}}
	}

	var pages []page
	numPages := (remaining + rwPageSize - 1) / rwPageSize
	listPage := prp2
	left := remaining
	for {
		entries := entriesPerListPage
		chaining := numPages > uint32(entries)
		if chaining {
			entries--
		}
		if uint32(entries) > numPages {
			entries = int(numPages)
		}
		for i := 0; i < entries; i++ {
			entryOff := listPage + uint64(i*8)
			phys := binary.LittleEndian.Uint64(d.mem[entryOff : entryOff+8])
			n := uint32(rwPageSize)
			if n > left {
				n = left
			}
			pages = append(pages, page{phys, n})
			left -= n
		}
		numPages -= uint32(entries)
		if !chaining {
			break
		}
		nextOff := listPage + uint64((entriesPerListPage-1)*8)
		listPage = binary.LittleEndian.Uint64(d.mem[nextOff : nextOff+8])
	}
	return pages
}

func (d *Device) rw(sqe wire.SQE) wire.CQE {
	slba := uint64(sqe.CDW10) | uint64(sqe.CDW11)<<32
	nlb := (sqe.CDW12 & 0xffff) + 1
	length := nlb * sectorSize

	nsOff := slba * sectorSize
	if nsOff+uint64(length) > uint64(len(d.namespace)) {
		return d.statusCQE(sqe.CID, 0, 0x80)
	}

	firstChunk := uint32(rwPageSize)
	if firstChunk > length {
		firstChunk = length
	}
	remaining := length - firstChunk
	pages := d.prpPages(sqe.PRP2, remaining)

	if sqe.Opcode == wire.OpRead {
		copy(d.mem[sqe.PRP1:uint64(sqe.PRP1)+uint64(firstChunk)], d.namespace[nsOff:nsOff+uint64(firstChunk)])
	} else {
		copy(d.namespace[nsOff:nsOff+uint64(firstChunk)], d.mem[sqe.PRP1:uint64(sqe.PRP1)+uint64(firstChunk)])
	}

	off := nsOff + uint64(firstChunk)
	for _, p := range pages {
		if sqe.Opcode == wire.OpRead {
			copy(d.mem[p.phys:p.phys+uint64(p.len)], d.namespace[off:off+uint64(p.len)])
		} else {
			copy(d.namespace[off:off+uint64(p.len)], d.mem[p.phys:p.phys+uint64(p.len)])
		}
		off += uint64(p.len)
	}
	return d.statusCQE(sqe.CID, 0, 0)
}
