package nvmehost

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStructuredError(t *testing.T) {
	err := NewQueueError("SUBMIT", 0, BadParam, "invalid queue depth")

	require.Equal(t, "SUBMIT", err.Op)
	require.Equal(t, BadParam, err.Code)
	require.Equal(t, "nvmehost: invalid queue depth (op=SUBMIT queue=0)", err.Error())
}

func TestNewStatusError(t *testing.T) {
	err := NewStatusError("READ", 1, 0x00, 0x80)

	require.Equal(t, LBARange, err.Code)
	require.Equal(t, uint8(0x80), err.SC)
	require.Contains(t, err.Error(), "queue=1")
	require.Contains(t, err.Error(), "sct=0x0")
}

func TestWrapError(t *testing.T) {
	inner := NewError("RESET", Timeout, "CSTS.RDY never set")
	wrapped := WrapError("NEW_OP", inner)

	require.Equal(t, Timeout, wrapped.Code)
	require.True(t, errors.Is(wrapped, inner))
}

func TestWrapErrorNil(t *testing.T) {
	require.Nil(t, WrapError("OP", nil))
}

func TestWrapErrorGeneric(t *testing.T) {
	wrapped := WrapError("OP", errors.New("boom"))
	require.Equal(t, Controller, wrapped.Code)
}

func TestIsCode(t *testing.T) {
	err := NewError("TEST", Timeout, "operation timed out")

	require.True(t, IsCode(err, Timeout))
	require.False(t, IsCode(err, Controller))
	require.False(t, IsCode(nil, Timeout))
}

func TestStatusMapping(t *testing.T) {
	cases := []struct {
		sct, sc uint8
		want    Code
	}{
		{0x00, 0x00, OK},
		{0x00, 0x01, BadParam},
		{0x00, 0x02, BadParam},
		{0x00, 0x80, LBARange},
		{0x00, 0x81, NoResource},
		{0x00, 0x86, ReadOnly},
		{0x01, 0x00, Controller}, // non-generic SCT always collapses to Controller
	}

	for _, tc := range cases {
		got := mapStatusToCode(tc.sct, tc.sc)
		require.Equalf(t, tc.want, got, "mapStatusToCode(%#x, %#x)", tc.sct, tc.sc)
	}
}
