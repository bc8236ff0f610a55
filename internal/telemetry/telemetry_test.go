package telemetry

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrometheusSink_RecordsAllKinds(t *testing.T) {
	reg := prometheus.NewRegistry()
	s := NewPrometheusSink(reg, nil)

	s.RecordCounter("orders_total", 3, map[string]string{"venue": "1"})
	s.RecordCounter("orders_total", 2, map[string]string{"venue": "1"})
	s.RecordGauge("queue_depth", 17, nil)
	s.RecordHistogram("order_latency_ns", 25_000, nil)
	s.Log(LevelInfo, "oms", "started")

	families, err := reg.Gather()
	require.NoError(t, err)

	byName := map[string]bool{}
	for _, f := range families {
		byName[f.GetName()] = true
	}
	assert.True(t, byName["orders_total"])
	assert.True(t, byName["queue_depth"])
	assert.True(t, byName["order_latency_ns"])
	assert.Zero(t, s.Drops())
}

func TestPrometheusSink_DropsOnLabelMismatch(t *testing.T) {
	s := NewPrometheusSink(prometheus.NewRegistry(), nil)

	s.RecordCounter("c", 1, map[string]string{"a": "x"})
	// Same name with a different label set cannot resolve: dropped, not
	// blocked.
	s.RecordCounter("c", 1, map[string]string{"b": "y"})
	assert.Equal(t, uint64(1), s.Drops())
}

func TestNopSink(t *testing.T) {
	var s Sink = Nop{}
	s.RecordCounter("x", 1, nil)
	s.RecordGauge("x", 1, nil)
	s.RecordHistogram("x", 1, nil)
	s.Log(LevelError, "c", "m")
	assert.Zero(t, s.Drops())
}
