package ctrl

import (
	"testing"

	"github.com/basalt-io/nvmehost/internal/dmamem"
	"github.com/basalt-io/nvmehost/internal/logging"
	"github.com/basalt-io/nvmehost/simhal"
	"github.com/stretchr/testify/require"
)

func newTestController(nsSectors uint64) (*Controller, *simhal.Device) {
	mem := make([]byte, 4<<20)
	h, dev := simhal.NewHAL(mem, nsSectors)
	alloc := dmamem.New(mem, logging.Default())
	params := DefaultParams()
	params.AdminQueueEntries = 16
	params.IOQueueEntries = 16
	params.ReadyTimeout = 0
	c := New(h, alloc, params, logging.Default())
	return c, dev
}

func TestInitBringsControllerToReady(t *testing.T) {
	c, _ := newTestController(1024)
	require.NoError(t, c.Init())
	require.Equal(t, StateReady, c.State())
	require.NoError(t, c.LastError())
}

func TestInitPopulatesIdentifyInfo(t *testing.T) {
	c, _ := newTestController(2048)
	require.NoError(t, c.Init())

	info := c.Info()
	require.Equal(t, "nvmehost simulated controller", info.ModelNumber)
	require.Equal(t, "SIMHAL0000000000001", info.SerialNumber)
	require.Equal(t, "1.0000", info.FirmwareRevision)
	require.EqualValues(t, 2048, info.NamespaceSectors)
	require.EqualValues(t, 512, info.LBASizeBytes)
}

func TestReadWriteRoundTrip(t *testing.T) {
	c, _ := newTestController(64)
	require.NoError(t, c.Init())

	writeBlock, err := c.alloc.AllocStandard()
	require.NoError(t, err)
	defer writeBlock.Release()

	pattern := writeBlock.Bytes()
	for i := range pattern {
		pattern[i] = byte(i % 251)
	}
	require.NoError(t, c.Write(0, 8, writeBlock.Virt(), 8*512))

	readBlock, err := c.alloc.AllocStandard()
	require.NoError(t, err)
	defer readBlock.Release()

	require.NoError(t, c.Read(0, 8, readBlock.Virt(), 8*512))
	require.Equal(t, pattern, readBlock.Bytes()[:4096])
}

func TestFlushSucceeds(t *testing.T) {
	c, _ := newTestController(16)
	require.NoError(t, c.Init())
	require.NoError(t, c.Flush())
}

func TestReadPastNamespaceEndReturnsLBARangeStatus(t *testing.T) {
	c, _ := newTestController(4)
	require.NoError(t, c.Init())

	block, err := c.alloc.AllocStandard()
	require.NoError(t, err)
	defer block.Release()

	// LBA 4 is the first sector past the end of a 4-sector namespace.
	err = c.Read(4, 1, block.Virt(), 512)
	require.Error(t, err)
	statusErr, ok := err.(*StatusError)
	require.True(t, ok)
	require.EqualValues(t, 0x80, statusErr.SC)
}

func TestSmartHealth(t *testing.T) {
	c, _ := newTestController(16)
	require.NoError(t, c.Init())

	log, err := c.SmartHealth()
	require.NoError(t, err)
	require.EqualValues(t, 100, log.AvailableSpare)
}

func TestInitFailsClosedOnControllerFault(t *testing.T) {
	c, dev := newTestController(16)
	dev.FailAllCommand = true

	err := c.Init()
	require.Error(t, err)
	require.Equal(t, StateFailed, c.State())
	require.Error(t, c.LastError())
}

func TestInitFailsOnUnsupportedNamespaceFormat(t *testing.T) {
	c, dev := newTestController(16)
	dev.BadNamespaceFormat = true

	err := c.Init()
	require.Error(t, err)
	require.Equal(t, StateFailed, c.State())
}

func TestReadWriteAcrossManyPagesUsesChainedListPages(t *testing.T) {
	// 514 pages: 1 page via PRP1, 513 pages via the list — one more than
	// the 512 entries a single unchained list page holds, forcing the PRP
	// builder to chain to a second list page.
	const nlb = 514 * 8 // 514 pages of 512-byte sectors
	mem := make([]byte, 16<<20)
	h, _ := simhal.NewHAL(mem, uint64(nlb)+8)
	alloc := dmamem.New(mem, logging.Default())
	params := DefaultParams()
	params.AdminQueueEntries = 16
	params.IOQueueEntries = 16
	params.ReadyTimeout = 0
	c := New(h, alloc, params, logging.Default())
	require.NoError(t, c.Init())

	length := uint32(nlb) * 512

	writeBlock, err := c.alloc.Alloc(length, 4096)
	require.NoError(t, err)
	pattern := writeBlock.Bytes()
	for i := range pattern {
		pattern[i] = byte(i % 251)
	}
	require.NoError(t, c.Write(0, nlb, writeBlock.Virt(), length))

	readBlock, err := c.alloc.Alloc(length, 4096)
	require.NoError(t, err)
	require.NoError(t, c.Read(0, nlb, readBlock.Virt(), length))
	require.Equal(t, pattern, readBlock.Bytes())
}
