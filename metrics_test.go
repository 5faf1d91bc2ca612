package nvmehost

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMetricsBasic(t *testing.T) {
	m := NewMetrics()

	snap := m.Snapshot()
	require.Zero(t, snap.TotalOps)

	m.RecordRead(1024, 1_000_000, true)
	m.RecordWrite(2048, 2_000_000, true)
	m.RecordRead(512, 500_000, false)
	m.RecordFlush(100_000, true)

	snap = m.Snapshot()
	require.EqualValues(t, 2, snap.ReadOps)
	require.EqualValues(t, 1, snap.WriteOps)
	require.EqualValues(t, 1, snap.FlushOps)
	require.EqualValues(t, 1024, snap.ReadBytes)
	require.EqualValues(t, 2048, snap.WriteBytes)
	require.EqualValues(t, 1, snap.ReadErrors)
	require.EqualValues(t, 4, snap.TotalOps)
}

func TestMetricsQueueDepth(t *testing.T) {
	m := NewMetrics()

	m.RecordQueueDepth(4)
	m.RecordQueueDepth(16)
	m.RecordQueueDepth(8)

	snap := m.Snapshot()
	require.EqualValues(t, 16, snap.MaxQueueDepth)
	require.InDelta(t, (4.0+16.0+8.0)/3.0, snap.AvgQueueDepth, 0.001)
}

func TestMetricsPercentiles(t *testing.T) {
	m := NewMetrics()
	for i := 0; i < 100; i++ {
		m.RecordRead(4096, 50_000, true) // all in the 100us bucket
	}

	snap := m.Snapshot()
	require.LessOrEqual(t, snap.LatencyP50Ns, uint64(100_000))
	require.LessOrEqual(t, snap.LatencyP99Ns, uint64(100_000))
}

func TestMetricsReset(t *testing.T) {
	m := NewMetrics()
	m.RecordRead(1024, 1000, true)
	m.Reset()

	snap := m.Snapshot()
	require.Zero(t, snap.TotalOps)
	require.Zero(t, snap.ReadBytes)
}

func TestMetricsUptime(t *testing.T) {
	m := NewMetrics()
	time.Sleep(time.Millisecond)
	m.Stop()

	snap := m.Snapshot()
	require.Greater(t, snap.UptimeNs, uint64(0))
}

func TestMetricsObserver(t *testing.T) {
	m := NewMetrics()
	obs := NewMetricsObserver(m)

	obs.ObserveRead(4096, 1000, true)
	obs.ObserveWrite(4096, 1000, true)
	obs.ObserveFlush(1000, true)
	obs.ObserveQueueDepth(1)

	snap := m.Snapshot()
	require.EqualValues(t, 1, snap.ReadOps)
	require.EqualValues(t, 1, snap.WriteOps)
	require.EqualValues(t, 1, snap.FlushOps)
}

func TestNoOpObserver(t *testing.T) {
	var obs Observer = NoOpObserver{}
	obs.ObserveRead(1, 1, true)
	obs.ObserveWrite(1, 1, true)
	obs.ObserveFlush(1, true)
	obs.ObserveQueueDepth(1)
}
