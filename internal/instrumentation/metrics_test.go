package instrumentation

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecorders(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.RecordTickIngested()
	m.RecordTickIngested()
	m.RecordTickRejected("non_positive_price")
	m.RecordFlushed(7)
	m.RecordError("store", "insert_failed")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.TicksIngested))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.TicksRejected.WithLabelValues("non_positive_price")))
	assert.Equal(t, 7.0, testutil.ToFloat64(m.TicksFlushed))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ErrorsTotal.WithLabelValues("store", "insert_failed")))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordTickIngested()
		m.RecordRefresh(1, 2)
		m.RecordError("a", "b")
	})
}
