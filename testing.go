package nvmehost

import (
	"sync"

	"github.com/basalt-io/nvmehost/internal/hal"
)

// MockMmio is a mock of hal.Mmio backed by a plain register map, tracking
// call counts for verification. It is useful for unit testing code that
// depends on hal.Mmio without driving a full simhal.Device.
type MockMmio struct {
	mu   sync.Mutex
	regs map[uint32]uint64

	ReadCalls  int
	WriteCalls int
}

func NewMockMmio() *MockMmio {
	return &MockMmio{regs: make(map[uint32]uint64)}
}

func (m *MockMmio) Read32(offset uint32) uint32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ReadCalls++
	return uint32(m.regs[offset])
}

func (m *MockMmio) Write32(offset uint32, value uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.WriteCalls++
	m.regs[offset] = uint64(value)
}

func (m *MockMmio) Read64(offset uint32) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ReadCalls++
	return m.regs[offset]
}

func (m *MockMmio) Write64(offset uint32, value uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.WriteCalls++
	m.regs[offset] = value
}

// MockCacheOps is a no-op mock of hal.CacheOps that records call counts.
type MockCacheOps struct {
	mu              sync.Mutex
	InvalidateCalls int
	CleanCalls      int
}

func (m *MockCacheOps) InvalidateRange(addr uintptr, length int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.InvalidateCalls++
}

func (m *MockCacheOps) CleanRange(addr uintptr, length int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CleanCalls++
}

// MockBarriers is a no-op mock of hal.Barriers that records call counts.
type MockBarriers struct {
	mu                 sync.Mutex
	MemoryBarrierCalls int
	SyncBarrierCalls   int
}

func (m *MockBarriers) DataMemoryBarrier() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.MemoryBarrierCalls++
}

func (m *MockBarriers) DataSyncBarrier() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.SyncBarrierCalls++
}

// MockClock is a deterministic hal.Clock a test advances explicitly,
// rather than one tied to wall-clock time.
type MockClock struct {
	mu  sync.Mutex
	now int64
}

func NewMockClock() *MockClock { return &MockClock{} }

func (c *MockClock) NowNanos() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *MockClock) SleepMicros(us int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now += us * 1000
}

// Advance moves the clock forward by d without sleeping, for tests driving
// timeout paths deterministically.
func (c *MockClock) Advance(d int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now += d
}

// MockPhysTranslator is an identity hal.PhysTranslator, suitable for tests
// that share a single backing arena between host and simulated device the
// way simhal does.
type MockPhysTranslator struct{}

func (MockPhysTranslator) ToPhys(virt uintptr) uint64 { return uint64(virt) }

// NewMockHAL assembles mocks for every hal capability except IRQ (polling
// mode needs none) into a ready-to-use hal.HAL.
func NewMockHAL() hal.HAL {
	return hal.HAL{
		Mmio:  NewMockMmio(),
		Cache: &MockCacheOps{},
		Bar:   &MockBarriers{},
		Clock: NewMockClock(),
		Phys:  MockPhysTranslator{},
	}
}

var (
	_ hal.Mmio           = (*MockMmio)(nil)
	_ hal.CacheOps       = (*MockCacheOps)(nil)
	_ hal.Barriers       = (*MockBarriers)(nil)
	_ hal.Clock          = (*MockClock)(nil)
	_ hal.PhysTranslator = MockPhysTranslator{}
)
