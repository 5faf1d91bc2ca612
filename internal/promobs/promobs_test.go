package promobs

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

func TestPrometheusObserverRecordsMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	obs := NewPrometheusObserver("nvmehost_test", reg)

	obs.ObserveRead(4096, 100_000, true)
	obs.ObserveWrite(4096, 200_000, false)
	obs.ObserveFlush(50_000, true)
	obs.ObserveQueueDepth(7)

	families, err := reg.Gather()
	require.NoError(t, err)
	require.NotEmpty(t, families)

	var sawQueueDepth bool
	for _, fam := range families {
		if fam.GetName() == "nvmehost_test_queue_depth" {
			sawQueueDepth = true
			require.Equal(t, float64(7), fam.Metric[0].GetGauge().GetValue())
		}
	}
	require.True(t, sawQueueDepth)
}
