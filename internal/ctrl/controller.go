// Package ctrl implements the NVMe controller lifecycle: reset, admin
// queue bring-up, IDENTIFY, I/O queue creation, and the submit/poll loop
// every admin and I/O command goes through.
package ctrl

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/basalt-io/nvmehost/internal/constants"
	"github.com/basalt-io/nvmehost/internal/dmamem"
	"github.com/basalt-io/nvmehost/internal/hal"
	"github.com/basalt-io/nvmehost/internal/logging"
	"github.com/basalt-io/nvmehost/internal/nvmeq"
	"github.com/basalt-io/nvmehost/internal/prp"
	"github.com/basalt-io/nvmehost/internal/regs"
	"github.com/basalt-io/nvmehost/internal/wire"
)

const (
	ioQID = 1
	nsid  = 1 // this driver only ever talks to namespace 1
)

// Controller drives a single NVMe controller through reset, admin
// bring-up, and I/O. It is not safe for concurrent use: exactly one
// command is ever outstanding at a time, matching the cooperative
// single-threaded model the rest of this driver assumes.
type Controller struct {
	hal    hal.HAL
	alloc  *dmamem.Allocator
	prp    *prp.Builder
	logger *logging.Logger
	params Params
	waiter CompletionWaiter

	state   State
	lastErr error
	stride  uint32
	mpsLog  uint32 // CC.MPS value (page size = 2^(12+MPS))

	admin   *nvmeq.QueuePair
	adminSQ []byte
	adminCQ []byte

	io   *nvmeq.QueuePair
	ioSQ []byte
	ioCQ []byte

	nextAdminCID uint16
	nextIOCID    uint16

	info Info
}

// New constructs a Controller over h, allocating queue and command-buffer
// memory from alloc. It performs no I/O; call Init to bring the hardware
// up.
func New(h hal.HAL, alloc *dmamem.Allocator, params Params, logger *logging.Logger) *Controller {
	if logger == nil {
		logger = logging.Default()
	}
	c := &Controller{
		hal: h, alloc: alloc, params: params, logger: logger,
		state: StateUninitialised,
	}
	c.prp = prp.New(alloc, h.Phys.ToPhys)

	switch params.CompletionMode {
	case ModeInterrupt:
		c.waiter = &InterruptWaiter{Clock: h.Clock, IRQ: h.IRQ}
	default:
		c.waiter = &PollWaiter{Clock: h.Clock}
	}
	return c
}

func (c *Controller) State() State    { return c.state }
func (c *Controller) LastError() error { return c.lastErr }
func (c *Controller) Info() Info       { return c.info }

func (c *Controller) fail(op string, err error) error {
	c.state = StateFailed
	c.lastErr = err
	c.logger.Error("controller init step failed", "op", op, "error", err)
	return fmt.Errorf("nvmehost/ctrl: %s: %w", op, err)
}

// Init performs the ten-step controller bring-up: version check, reset,
// capability discovery, admin queue setup, enable, readiness wait, I/O queue
// creation, and IDENTIFY.
func (c *Controller) Init() error {
	ver := c.hal.Mmio.Read32(regs.OffsetVER)
	if major, minor := ver>>16, (ver>>8)&0xff; major != 1 || (minor != 3 && minor != 4) {
		return c.fail("VERSION_CHECK", fmt.Errorf("unsupported NVMe version %d.%d (only 1.3 and 1.4 are supported)", major, minor))
	}
	if err := c.resetController(); err != nil {
		return c.fail("RESET", err)
	}
	cap := regs.CAP(c.hal.Mmio.Read64(regs.OffsetCAP))
	c.stride = cap.Stride()

	if cap.MPSMIN() > 0 {
		return c.fail("CAPABILITY_CHECK", fmt.Errorf("controller requires minimum page size larger than 4KiB"))
	}
	c.mpsLog = 0 // 4KiB pages throughout; this driver supports no other host page size.

	adminEntries := c.params.AdminQueueEntries
	if mqes := uint16(cap.MQES()); adminEntries > mqes {
		adminEntries = mqes
	}
	if mqes := uint16(cap.MQES()); c.params.IOQueueEntries > mqes {
		c.params.IOQueueEntries = mqes
	}
	if err := c.setupAdminQueue(adminEntries); err != nil {
		return c.fail("ADMIN_QUEUE_SETUP", err)
	}
	c.state = StateReset

	if err := c.enableController(cap); err != nil {
		return c.fail("ENABLE", err)
	}
	c.state = StateEnabled

	if err := c.createIOQueues(); err != nil {
		return c.fail("CREATE_IO_QUEUES", err)
	}

	if err := c.identify(); err != nil {
		return c.fail("IDENTIFY", err)
	}
	c.state = StateIdentified
	c.state = StateReady
	return nil
}

// resetController clears CC.EN and waits for CSTS.RDY to drop, per the
// NVMe spec's controller reset sequence.
func (c *Controller) resetController() error {
	cc := regs.CCConfig(c.hal.Mmio.Read32(regs.OffsetCC))
	cc = cc.WithEnable(false)
	c.hal.Mmio.Write32(regs.OffsetCC, uint32(cc))
	c.hal.Bar.DataMemoryBarrier()

	deadline := c.deadline(constants.DefaultResetTimeout)
	for {
		csts := regs.CSTS(c.hal.Mmio.Read32(regs.OffsetCSTS))
		if !csts.Ready() {
			return nil
		}
		if c.hal.Clock.NowNanos() >= deadline {
			return errTimeout
		}
		c.hal.Clock.SleepMicros(1000)
	}
}

func (c *Controller) setupAdminQueue(entries uint16) error {
	sqBlock, err := c.alloc.Alloc(uint32(entries)*64, 4096)
	if err != nil {
		return err
	}
	cqBlock, err := c.alloc.Alloc(uint32(entries)*16, 4096)
	if err != nil {
		return err
	}

	c.adminSQ = sqBlock.Bytes()
	c.adminCQ = cqBlock.Bytes()
	for i := range c.adminSQ {
		c.adminSQ[i] = 0
	}
	for i := range c.adminCQ {
		c.adminCQ[i] = 0
	}

	sqPhys := c.hal.Phys.ToPhys(sqBlock.Virt())
	cqPhys := c.hal.Phys.ToPhys(cqBlock.Virt())
	c.admin = nvmeq.New(0, entries, sqBlock.Virt(), sqPhys, cqBlock.Virt(), cqPhys)

	c.hal.Mmio.Write32(regs.OffsetAQA, regs.AQAValue(uint32(entries), uint32(entries)))
	c.hal.Mmio.Write64(regs.OffsetASQ, sqPhys)
	c.hal.Mmio.Write64(regs.OffsetACQ, cqPhys)
	c.hal.Bar.DataMemoryBarrier()
	return nil
}

func (c *Controller) enableController(cap regs.CAP) error {
	cc := regs.CCConfig(c.hal.Mmio.Read32(regs.OffsetCC))
	cc = cc.WithCSS(0).WithMPS(c.mpsLog).WithIOQueueEntrySizes(6, 4).WithEnable(true)
	c.hal.Mmio.Write32(regs.OffsetCC, uint32(cc))
	c.hal.Bar.DataMemoryBarrier()

	timeout := c.params.ReadyTimeout
	if timeout == 0 {
		timeout = time.Duration(cap.TO()) * 500 * time.Millisecond
		if timeout == 0 {
			timeout = 5 * time.Second
		}
	}

	deadline := c.deadline(timeout)
	for {
		csts := regs.CSTS(c.hal.Mmio.Read32(regs.OffsetCSTS))
		if csts.FatalStatus() {
			return fmt.Errorf("controller reported fatal status during enable")
		}
		if csts.Ready() {
			return nil
		}
		if c.hal.Clock.NowNanos() >= deadline {
			return errTimeout
		}
		c.hal.Clock.SleepMicros(1000)
	}
}

func (c *Controller) deadline(d time.Duration) int64 {
	return c.hal.Clock.NowNanos() + d.Nanoseconds()
}

// submitAdmin places e onto the admin submission queue, rings the
// doorbell, waits for its matching completion, consumes it, and returns
// the completion status (nil on success).
func (c *Controller) submitAdmin(op string, e *wire.SQE) (wire.CQE, error) {
	return c.submit(op, c.admin, c.adminSQ, c.adminCQ, &c.nextAdminCID, e)
}

func (c *Controller) submitIO(op string, e *wire.SQE) (wire.CQE, error) {
	return c.submit(op, c.io, c.ioSQ, c.ioCQ, &c.nextIOCID, e)
}

func (c *Controller) submit(op string, q *nvmeq.QueuePair, sqMem, cqMem []byte, cidCounter *uint16, e *wire.SQE) (wire.CQE, error) {
	cid := *cidCounter
	*cidCounter = (*cidCounter + 1) % q.Entries
	e.CID = cid

	slot := q.NextSQSlot()
	copy(sqMem[uint32(slot)*64:], wire.MarshalSQE(e))
	c.hal.Bar.DataMemoryBarrier()

	newTail := q.AdvanceTail()
	c.hal.Mmio.Write32(regs.SQDoorbellOffset(q.QID, c.stride), uint32(newTail))
	c.hal.Bar.DataMemoryBarrier()

	deadline := c.deadline(c.params.CommandTimeout)
	cqe, err := c.waiter.WaitForCompletion(func() (wire.CQE, bool) {
		off := uint32(q.Head()) * 16
		cqe := wire.UnmarshalCQE(cqMem[off : off+16])
		if !q.CQEMatches(cqe, cid) {
			return wire.CQE{}, false
		}
		return cqe, true
	}, deadline)
	if err != nil {
		return wire.CQE{}, err
	}

	newHead, _ := q.AdvanceHead()
	c.hal.Mmio.Write32(regs.CQDoorbellOffset(q.QID, c.stride), uint32(newHead))

	if sct, sc := cqe.SCT(), cqe.SC(); sct != 0 || sc != 0 {
		return cqe, &StatusError{Op: op, SCT: sct, SC: sc}
	}
	return cqe, nil
}

// StatusError carries a raw NVMe completion status up to the root package,
// which maps it onto the driver's public error categories. ctrl itself
// stays decoupled from that taxonomy so it has no import back onto the
// facade that uses it.
type StatusError struct {
	Op  string
	SCT uint8
	SC  uint8
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: status sct=%#x sc=%#x", e.Op, e.SCT, e.SC)
}

func (c *Controller) createIOQueues() error {
	entries := c.params.IOQueueEntries
	sqBlock, err := c.alloc.Alloc(uint32(entries)*64, 4096)
	if err != nil {
		return err
	}
	cqBlock, err := c.alloc.Alloc(uint32(entries)*16, 4096)
	if err != nil {
		return err
	}
	c.ioSQ = sqBlock.Bytes()
	c.ioCQ = cqBlock.Bytes()
	for i := range c.ioSQ {
		c.ioSQ[i] = 0
	}
	for i := range c.ioCQ {
		c.ioCQ[i] = 0
	}

	sqPhys := c.hal.Phys.ToPhys(sqBlock.Virt())
	cqPhys := c.hal.Phys.ToPhys(cqBlock.Virt())
	c.io = nvmeq.New(ioQID, entries, sqBlock.Virt(), sqPhys, cqBlock.Virt(), cqPhys)

	createCQ := &wire.SQE{
		Opcode: wire.OpCreateIOCQ,
		PRP1:   cqPhys,
		CDW10:  uint32(ioQID) | uint32(entries-1)<<16,
		CDW11:  1, // PC=1 (physically contiguous), interrupt vector 0
	}
	if _, err := c.submitAdmin("CREATE_IO_CQ", createCQ); err != nil {
		return err
	}

	createSQ := &wire.SQE{
		Opcode: wire.OpCreateIOSQ,
		PRP1:   sqPhys,
		CDW10:  uint32(ioQID) | uint32(entries-1)<<16,
		CDW11:  1 | uint32(ioQID)<<16, // PC=1, associated CQID
	}
	if _, err := c.submitAdmin("CREATE_IO_SQ", createSQ); err != nil {
		return err
	}
	return nil
}

func (c *Controller) identify() error {
	block, err := c.alloc.AllocStandard()
	if err != nil {
		return err
	}
	defer block.Release()

	buf := block.Bytes()
	for i := range buf {
		buf[i] = 0
	}
	phys := c.hal.Phys.ToPhys(block.Virt())

	ctrlCmd := &wire.SQE{Opcode: wire.OpIdentify, PRP1: phys, CDW10: wire.CNSController}
	if _, err := c.submitAdmin("IDENTIFY_CONTROLLER", ctrlCmd); err != nil {
		return err
	}
	c.info.ModelNumber = trimIdentifyString(buf[24:64])
	c.info.SerialNumber = trimIdentifyString(buf[4:24])
	c.info.FirmwareRevision = trimIdentifyString(buf[64:72])

	for i := range buf {
		buf[i] = 0
	}
	nsCmd := &wire.SQE{Opcode: wire.OpIdentify, NSID: nsid, PRP1: phys, CDW10: wire.CNSNamespace}
	if _, err := c.submitAdmin("IDENTIFY_NAMESPACE", nsCmd); err != nil {
		return err
	}

	flbas := buf[26] & 0xf // low 4 bits select one of the 16 LBA format descriptors
	descOff := 128 + int(flbas)*4
	descriptor := buf[descOff : descOff+4]
	ms := uint16(descriptor[0]) | uint16(descriptor[1])<<8
	lbads := descriptor[2]
	lbaSize := uint32(1) << lbads
	if lbaSize != 512 || ms != 0 {
		return fmt.Errorf("unsupported namespace format: lba size %d, metadata size %d (only 512B/0 supported)", lbaSize, ms)
	}

	c.info.NamespaceSectors = leUint64(buf[0:8])
	c.info.LBASizeBytes = lbaSize

	return nil
}

func trimIdentifyString(b []byte) string {
	return string(bytes.TrimRight(b, " \x00"))
}

func leUint64(b []byte) uint64 {
	return binary.LittleEndian.Uint64(b)
}

// SmartHealth issues GET LOG PAGE for the SMART/Health Information log
// (log identifier 0x02) and parses the fields this driver surfaces.
func (c *Controller) SmartHealth() (*SmartHealthLog, error) {
	block, err := c.alloc.AllocStandard()
	if err != nil {
		return nil, err
	}
	defer block.Release()

	buf := block.Bytes()
	phys := c.hal.Phys.ToPhys(block.Virt())

	const logSize = 512
	numDwordsLower := uint32(logSize/4) - 1
	cmd := &wire.SQE{
		Opcode: wire.OpGetLogPage,
		PRP1:   phys,
		CDW10:  0x02 | numDwordsLower<<16,
	}
	if _, err := c.submitAdmin("GET_LOG_PAGE_SMART", cmd); err != nil {
		return nil, err
	}

	log := &SmartHealthLog{
		TemperatureKelvin: uint16(buf[1]) | uint16(buf[2])<<8,
		AvailableSpare:    buf[3],
		PercentageUsed:    buf[5],
		DataUnitsRead:     leUint64(buf[32:40]),
		DataUnitsWritten:  leUint64(buf[48:56]),
		PowerCycles:       leUint64(buf[112:120]),
		PowerOnHours:      leUint64(buf[128:136]),
	}
	return log, nil
}

// Read issues an NVM READ command for nlb logical blocks starting at slba,
// DMAing into the memory at virt.
func (c *Controller) Read(slba uint64, nlb uint16, virt uintptr, byteLen uint32) error {
	return c.rw(wire.OpRead, "READ", slba, nlb, virt, byteLen)
}

// Write issues an NVM WRITE command.
func (c *Controller) Write(slba uint64, nlb uint16, virt uintptr, byteLen uint32) error {
	return c.rw(wire.OpWrite, "WRITE", slba, nlb, virt, byteLen)
}

func (c *Controller) rw(opcode uint8, op string, slba uint64, nlb uint16, virt uintptr, byteLen uint32) error {
	desc, err := c.prp.Build(virt, byteLen)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer desc.Release()

	cmd := &wire.SQE{
		Opcode: opcode,
		NSID:   nsid,
		PRP1:   desc.PRP1,
		PRP2:   desc.PRP2,
		CDW10:  uint32(slba),
		CDW11:  uint32(slba >> 32),
		CDW12:  uint32(nlb - 1), // zero's-based number of logical blocks
	}
	_, err = c.submitIO(op, cmd)
	return err
}

// Flush issues an NVM FLUSH command against the driver's single namespace.
func (c *Controller) Flush() error {
	cmd := &wire.SQE{Opcode: wire.OpFlush, NSID: nsid}
	_, err := c.submitIO("FLUSH", cmd)
	return err
}
