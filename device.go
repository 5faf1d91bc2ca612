// Package nvmehost is a minimal, MMIO-driven NVMe host controller driver:
// bring-up, IDENTIFY, and block I/O over PRP-described DMA transfers, with
// no dependency on any particular PCIe enumeration or kernel driver stack.
package nvmehost

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/basalt-io/nvmehost/internal/ctrl"
	"github.com/basalt-io/nvmehost/internal/dmamem"
	"github.com/basalt-io/nvmehost/internal/hal"
	"github.com/basalt-io/nvmehost/internal/logging"
)

// Option configures a BlockDevice at construction time.
type Option func(*deviceOptions)

type deviceOptions struct {
	logger   *logging.Logger
	observer Observer
	metrics  *Metrics
}

// WithLogger overrides the logger the device and its controller use.
func WithLogger(l *logging.Logger) Option {
	return func(o *deviceOptions) { o.logger = l }
}

// WithObserver installs a metrics observer that is told about every read,
// write and flush in addition to the device's own Metrics; by default no
// observer is installed.
func WithObserver(obs Observer) Option {
	return func(o *deviceOptions) { o.observer = obs }
}

// BlockDevice is the driver's public surface: a single NVMe namespace
// exposed as a sector-addressable block device, sitting on top of the
// controller lifecycle and command machinery in internal/ctrl.
type BlockDevice struct {
	mu       sync.Mutex
	ctrl     *ctrl.Controller
	alloc    *dmamem.Allocator
	cache    hal.CacheOps
	logger   *logging.Logger
	metrics  *Metrics
	observer Observer

	lbaSize uint32
	sectors uint64

	seekOffset int64
}

// New brings a controller up over h, using arena as its DMA-coherent
// memory, and returns a ready BlockDevice. arena must be large enough for
// the admin/I/O queues, PRP list pages, and IDENTIFY/log-page scratch
// buffers Init needs; a few hundred KiB is generous for the default queue
// depths.
func New(h hal.HAL, arena []byte, params ctrl.Params, opts ...Option) (*BlockDevice, error) {
	o := deviceOptions{}
	for _, fn := range opts {
		fn(&o)
	}
	if o.logger == nil {
		o.logger = logging.Default()
	}

	alloc := dmamem.New(arena, o.logger)
	c := ctrl.New(h, alloc, params, o.logger)
	if err := c.Init(); err != nil {
		return nil, WrapError("INIT", err)
	}

	metrics := o.metrics
	if metrics == nil {
		metrics = NewMetrics()
	}
	observer := o.observer
	if observer == nil {
		observer = NoOpObserver{}
	}

	info := c.Info()
	d := &BlockDevice{
		ctrl:     c,
		alloc:    alloc,
		cache:    h.Cache,
		logger:   o.logger,
		metrics:  metrics,
		observer: observer,
		lbaSize:  info.LBASizeBytes,
		sectors:  info.NamespaceSectors,
	}
	return d, nil
}

// Size returns the namespace capacity in bytes.
func (d *BlockDevice) Size() int64 { return int64(d.sectors) * int64(d.lbaSize) }

// LBASize returns the namespace's logical block size in bytes.
func (d *BlockDevice) LBASize() uint32 { return d.lbaSize }

// State returns the controller's current lifecycle state.
func (d *BlockDevice) State() ctrl.State { return d.ctrl.State() }

// Info returns the IDENTIFY-derived controller/namespace information
// gathered during bring-up.
func (d *BlockDevice) Info() ctrl.Info { return d.ctrl.Info() }

// Metrics returns the device's running metrics counters.
func (d *BlockDevice) Metrics() *Metrics { return d.metrics }

// Seek sets the device's current byte offset for the next Read or Write.
// It never fails and never touches the controller: offset is recorded
// as-is, and out-of-range or misaligned offsets are only ever rejected by
// the Read/Write call that tries to use them.
func (d *BlockDevice) Seek(offset int64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.seekOffset = offset
	return nil
}

func (d *BlockDevice) checkBounds(off int64, length int) error {
	if off < 0 || length < 0 {
		return NewError("BOUNDS_CHECK", BadParam, "negative offset or length")
	}
	if length == 0 {
		return NewError("BOUNDS_CHECK", BadParam, "zero-length transfer")
	}
	if off%int64(d.lbaSize) != 0 || length%int(d.lbaSize) != 0 {
		return NewError("BOUNDS_CHECK", BadParam, "offset and length must be sector-aligned")
	}
	if uint64(off)+uint64(length) > uint64(d.Size()) {
		return NewError("BOUNDS_CHECK", LBARange, "transfer extends past namespace capacity")
	}
	return nil
}

// ReadAt reads len(p) bytes starting at byte offset off, which along with
// len(p) must be a non-zero multiple of the namespace's logical block
// size.
//
// p need not come from DMA-coherent memory or be page-aligned: ReadAt
// bounces the transfer, one standard 4 KiB page at a time, through
// recyclable arena blocks, copying into the caller's slice afterward.
func (d *BlockDevice) ReadAt(p []byte, off int64) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	start := time.Now()
	n, err := d.readLocked(p, off)
	latency := uint64(time.Since(start).Nanoseconds())

	d.metrics.RecordRead(uint64(n), latency, err == nil)
	d.observer.ObserveRead(uint64(n), latency, err == nil)
	return n, err
}

// Read reads count bytes from the device's current seek offset into p
// (which must be at least count bytes long), then advances the seek
// offset by count on success. count and the current offset are both
// subject to the same alignment rules as ReadAt.
func (d *BlockDevice) Read(p []byte, count int) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if count < 0 || count > len(p) {
		return 0, NewError("READ", BadParam, "count exceeds buffer length")
	}
	off := d.seekOffset

	start := time.Now()
	n, err := d.readLocked(p[:count], off)
	latency := uint64(time.Since(start).Nanoseconds())

	d.metrics.RecordRead(uint64(n), latency, err == nil)
	d.observer.ObserveRead(uint64(n), latency, err == nil)
	if err == nil {
		d.seekOffset += int64(n)
	}
	return n, err
}

func (d *BlockDevice) readLocked(p []byte, off int64) (int, error) {
	if err := d.checkBounds(off, len(p)); err != nil {
		return 0, err
	}

	total := 0
	for total < len(p) {
		chunk := len(p) - total
		if chunk > dmamem.StandardBlockSize {
			chunk = dmamem.StandardBlockSize
		}

		block, err := d.alloc.AllocStandard()
		if err != nil {
			return total, WrapError("READ", err)
		}

		// Before read: invalidate so the CPU doesn't see stale cached
		// data ahead of the DMA write.
		d.cache.InvalidateRange(block.Virt(), chunk)

		slba := uint64(off+int64(total)) / uint64(d.lbaSize)
		nlb := uint16(chunk / int(d.lbaSize))
		if err := d.ctrl.Read(slba, nlb, block.Virt(), uint32(chunk)); err != nil {
			block.Release()
			return total, translateCtrlErr("READ", err)
		}

		// After read: invalidate again to discard any speculative
		// fills the CPU issued while the DMA was in flight.
		d.cache.InvalidateRange(block.Virt(), chunk)

		copy(p[total:total+chunk], block.Bytes()[:chunk])
		block.Release()
		total += chunk
	}
	return total, nil
}

// WriteAt writes len(p) bytes to byte offset off, subject to the same
// alignment rules as ReadAt.
func (d *BlockDevice) WriteAt(p []byte, off int64) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	start := time.Now()
	n, err := d.writeLocked(p, off)
	latency := uint64(time.Since(start).Nanoseconds())

	d.metrics.RecordWrite(uint64(n), latency, err == nil)
	d.observer.ObserveWrite(uint64(n), latency, err == nil)
	return n, err
}

// Write writes count bytes from p (which must be at least count bytes
// long) to the device's current seek offset, then advances the seek
// offset by count on success.
func (d *BlockDevice) Write(p []byte, count int) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if count < 0 || count > len(p) {
		return 0, NewError("WRITE", BadParam, "count exceeds buffer length")
	}
	off := d.seekOffset

	start := time.Now()
	n, err := d.writeLocked(p[:count], off)
	latency := uint64(time.Since(start).Nanoseconds())

	d.metrics.RecordWrite(uint64(n), latency, err == nil)
	d.observer.ObserveWrite(uint64(n), latency, err == nil)
	if err == nil {
		d.seekOffset += int64(n)
	}
	return n, err
}

func (d *BlockDevice) writeLocked(p []byte, off int64) (int, error) {
	if err := d.checkBounds(off, len(p)); err != nil {
		return 0, err
	}

	total := 0
	for total < len(p) {
		chunk := len(p) - total
		if chunk > dmamem.StandardBlockSize {
			chunk = dmamem.StandardBlockSize
		}

		block, err := d.alloc.AllocStandard()
		if err != nil {
			return total, WrapError("WRITE", err)
		}

		copy(block.Bytes()[:chunk], p[total:total+chunk])
		// Before write: clean so the device reads what the CPU just
		// wrote rather than stale memory.
		d.cache.CleanRange(block.Virt(), chunk)

		slba := uint64(off+int64(total)) / uint64(d.lbaSize)
		nlb := uint16(chunk / int(d.lbaSize))
		err = d.ctrl.Write(slba, nlb, block.Virt(), uint32(chunk))
		block.Release()
		if err != nil {
			return total, translateCtrlErr("WRITE", err)
		}
		total += chunk
	}
	return total, nil
}

// Sync issues an NVM FLUSH, forcing any volatile write cache on the
// controller out to the namespace's backing media.
func (d *BlockDevice) Sync() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	start := time.Now()
	err := d.ctrl.Flush()
	latency := uint64(time.Since(start).Nanoseconds())

	d.metrics.RecordFlush(latency, err == nil)
	d.observer.ObserveFlush(latency, err == nil)
	if err != nil {
		return translateCtrlErr("FLUSH", err)
	}
	return nil
}

// IOCtl issues a device control command. SYNC is the only command this
// driver supports; it issues the same FLUSH as Sync.
func (d *BlockDevice) IOCtl(cmd string) error {
	if cmd != "SYNC" {
		return NewError("IOCTL", BadParam, fmt.Sprintf("unknown ioctl command %q", cmd))
	}
	return d.Sync()
}

// SmartHealth reports the controller's SMART/Health Information log.
func (d *BlockDevice) SmartHealth() (*ctrl.SmartHealthLog, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	log, err := d.ctrl.SmartHealth()
	if err != nil {
		return nil, translateCtrlErr("SMART_HEALTH", err)
	}
	return log, nil
}

// translateCtrlErr maps an internal/ctrl error — a *ctrl.StatusError
// carrying a raw completion status, a timeout, or anything else — onto the
// driver's public *Error taxonomy.
func translateCtrlErr(op string, err error) error {
	if err == nil {
		return nil
	}
	var statusErr *ctrl.StatusError
	if errors.As(err, &statusErr) {
		return NewStatusError(op, -1, statusErr.SCT, statusErr.SC)
	}
	return WrapError(op, err)
}
