package pipeline

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"
)

func TestMetrics_TracksStartedSucceededFailed(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(`test-stage`, reg)

	finish := m.observeStart()
	finish(false)

	finish = m.observeStart()
	finish(true)

	assert := require.New(t)
	assert.EqualValues(2, counterValue(t, m.tasksStarted))
	assert.EqualValues(1, counterValue(t, m.tasksSucceeded))
	assert.EqualValues(1, counterValue(t, m.tasksFailed))
}

func TestMetrics_QueueDepthGauge(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(`test-stage`, reg)

	m.setQueueDepth(5)

	var out dto.Metric
	require.NoError(t, m.queueDepth.Write(&out))
	require.EqualValues(t, 5, out.GetGauge().GetValue())
}

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var out dto.Metric
	require.NoError(t, c.Write(&out))
	return out.GetCounter().GetValue()
}
