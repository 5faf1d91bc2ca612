package nvmeq

import (
	"testing"

	"github.com/basalt-io/nvmehost/internal/wire"
	"github.com/stretchr/testify/require"
)

func TestAdvanceTailWraps(t *testing.T) {
	q := New(1, 4, 0, 0, 0, 0)

	require.EqualValues(t, 0, q.Tail())
	require.EqualValues(t, 1, q.AdvanceTail())
	require.EqualValues(t, 2, q.AdvanceTail())
	require.EqualValues(t, 3, q.AdvanceTail())
	require.EqualValues(t, 0, q.AdvanceTail())
}

func TestAdvanceHeadFlipsPhaseOncePerWrap(t *testing.T) {
	q := New(1, 4, 0, 0, 0, 0)
	require.True(t, q.Phase())

	for i := 0; i < 3; i++ {
		_, wrapped := q.AdvanceHead()
		require.False(t, wrapped)
		require.True(t, q.Phase())
	}

	_, wrapped := q.AdvanceHead()
	require.True(t, wrapped)
	require.False(t, q.Phase())

	for i := 0; i < 3; i++ {
		_, wrapped := q.AdvanceHead()
		require.False(t, wrapped)
	}
	_, wrapped = q.AdvanceHead()
	require.True(t, wrapped)
	require.True(t, q.Phase())
}

func TestCQEMatchesPhase(t *testing.T) {
	q := New(1, 4, 0, 0, 0, 0)

	stale := wire.CQE{Status: 0} // phase bit 0, doesn't match expected phase=true
	fresh := wire.CQE{Status: 1} // phase bit 1, matches

	require.False(t, q.CQEMatchesPhase(stale))
	require.True(t, q.CQEMatchesPhase(fresh))
}

func TestFullDetection(t *testing.T) {
	q := New(1, 4, 0, 0, 0, 0)

	// head=0, tail starts at 0; advancing tail to 3 leaves one free slot
	// before it would equal head again.
	q.AdvanceTail()
	q.AdvanceTail()
	q.AdvanceTail()
	require.True(t, q.Full(0))

	require.False(t, New(1, 4, 0, 0, 0, 0).Full(0))
}
