package dmamem

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestAllocator(t *testing.T, size int) *Allocator {
	t.Helper()
	return New(make([]byte, size), nil)
}

func TestAllocStandardBumpsForward(t *testing.T) {
	a := newTestAllocator(t, 3*StandardBlockSize)

	b1, err := a.AllocStandard()
	require.NoError(t, err)
	b2, err := a.AllocStandard()
	require.NoError(t, err)

	require.NotEqual(t, b1.Virt(), b2.Virt())
	require.EqualValues(t, StandardBlockSize, b1.Size())
}

func TestFreeListIsLIFO(t *testing.T) {
	a := newTestAllocator(t, 3*StandardBlockSize)

	b1, _ := a.AllocStandard()
	b2, _ := a.AllocStandard()

	addr1, addr2 := b1.Virt(), b2.Virt()
	b2.Release()
	b1.Release()

	// Most-recently-freed block (b1) is handed back first.
	b3, err := a.AllocStandard()
	require.NoError(t, err)
	require.Equal(t, addr1, b3.Virt())

	b4, err := a.AllocStandard()
	require.NoError(t, err)
	require.Equal(t, addr2, b4.Virt())
}

func TestDoubleReleaseIsNoOp(t *testing.T) {
	a := newTestAllocator(t, StandardBlockSize)
	b, err := a.AllocStandard()
	require.NoError(t, err)

	b.Release()
	require.NotPanics(t, func() { b.Release() })
}

func TestArenaExhaustion(t *testing.T) {
	a := newTestAllocator(t, StandardBlockSize)
	_, err := a.AllocStandard()
	require.NoError(t, err)

	_, err = a.AllocStandard()
	require.Error(t, err)
}

func TestAllocRespectsBoundaryWindow(t *testing.T) {
	// Arena extends past the first 1MiB window; the standard block
	// allocated right below the boundary must lie entirely inside one
	// window.
	size := BoundaryWindow + StandardBlockSize*4
	a := newTestAllocator(t, size)

	// Burn bytes up to one block before the boundary.
	for a.bump < BoundaryWindow-StandardBlockSize {
		_, err := a.Alloc(StandardBlockSize, 1)
		require.NoError(t, err)
	}

	b, err := a.AllocStandard()
	require.NoError(t, err)
	start := uint32(b.Virt())
	end := start + b.Size() - 1
	require.Equal(t, start/BoundaryWindow, end/BoundaryWindow)
}

func TestNonStandardAllocNotRecycled(t *testing.T) {
	a := newTestAllocator(t, 8192)
	b, err := a.Alloc(100, 8)
	require.NoError(t, err)
	b.Release()

	stats := a.Stats()
	require.Equal(t, 0, stats.FreeListCount)
}

func TestZeroSizeAllocErrors(t *testing.T) {
	a := newTestAllocator(t, 4096)
	_, err := a.Alloc(0, 8)
	require.Error(t, err)
}
