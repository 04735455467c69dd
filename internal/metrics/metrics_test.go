package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrometheusSink(t *testing.T) {
	reg := prometheus.NewRegistry()
	sink, err := NewPrometheus(reg)
	require.NoError(t, err)

	sink.OverdueDetected(3)
	sink.OverdueDetected(0)
	sink.OverdueDetected(2)
	sink.JobProcessed("task-status-update", StatusSuccess)
	sink.JobProcessed("task-status-update", StatusSuccess)
	sink.JobProcessed("task-status-update", StatusRejected)

	assert.Equal(t, 5.0, testutil.ToFloat64(sink.overdueDetected))
	assert.Equal(t, 2.0, testutil.ToFloat64(sink.jobsProcessed.WithLabelValues("task-status-update", StatusSuccess)))
	assert.Equal(t, 1.0, testutil.ToFloat64(sink.jobsProcessed.WithLabelValues("task-status-update", StatusRejected)))
	assert.Equal(t, 2, testutil.CollectAndCount(sink.jobsProcessed))
}

func TestPrometheusSink_DoubleRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := NewPrometheus(reg)
	require.NoError(t, err)

	_, err = NewPrometheus(reg)
	assert.Error(t, err)
}

func TestNoop(t *testing.T) {
	var sink Sink = Noop{}
	assert.NotPanics(t, func() {
		sink.OverdueDetected(10)
		sink.JobProcessed("x", StatusError)
	})
}
