package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserveFlush(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.ObserveFlush(3, 10*time.Millisecond)
	m.ObserveFlush(2, 5*time.Millisecond)

	assert.Equal(t, float64(2), testutil.ToFloat64(m.BatchesFlushed))
	assert.Equal(t, float64(5), testutil.ToFloat64(m.RecordsUpserted))
}

func TestObserveSkipAndRun(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.ObserveSkip(0)
	m.ObserveSkip(4)
	m.ObserveRun("COMPLETED")
	m.ObserveRun("FAILED")
	m.ObserveRun("FAILED")

	assert.Equal(t, float64(4), testutil.ToFloat64(m.RecordsSkipped))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.RunsFinished.WithLabelValues("COMPLETED")))
	assert.Equal(t, float64(2), testutil.ToFloat64(m.RunsFinished.WithLabelValues("FAILED")))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveFlush(1, time.Second)
		m.ObserveSkip(1)
		m.ObservePhase("LOAD", time.Second)
		m.ObserveRun("COMPLETED")
	})
}

func TestNewRegistersCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	m.ObservePhase("DOWNLOAD", time.Millisecond)

	families, err := reg.Gather()
	require.NoError(t, err)

	names := map[string]bool{}
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["etl_phase_duration_seconds"])
	assert.True(t, names["etl_flush_duration_seconds"])

	// Registering twice on the same registry must panic.
	assert.Panics(t, func() { New(reg) })
}
