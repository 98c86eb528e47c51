package gem

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsCounting(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics, err := NewMetrics(reg)
	require.NoError(t, err)

	source := NewMemorySource(Record{"id": 1, "name": "ada"})
	m := NewMapper(Schema{Name: "users"}, source, WithMetrics(metrics))

	e, err := m.Find(1)
	require.NoError(t, err)
	_, err = m.Find(1)
	require.NoError(t, err)
	_, err = e.Get("name")
	require.NoError(t, err)

	missing, err := m.Find(2)
	require.NoError(t, err)
	_, err = missing.Get("name")
	require.Error(t, err)

	require.NoError(t, e.Set("name", "grace"))
	require.NoError(t, m.Save(context.Background(), e))

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.hits.WithLabelValues("users")))
	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.misses.WithLabelValues("users")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.loads.WithLabelValues("users")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.deadLoads.WithLabelValues("users")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.saves.WithLabelValues("users")))

	count, err := testutil.GatherAndCount(reg, "gem_identity_map_hits_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestMetricsDoubleRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := NewMetrics(reg)
	require.NoError(t, err)

	_, err = NewMetrics(reg)
	assert.True(t, IsErrorType(err, ErrorTypeInternal))
}

func TestNilMetricsRecordNothing(t *testing.T) {
	var metrics *Metrics
	assert.NotPanics(t, func() {
		metrics.hit("users")
		metrics.miss("users")
		metrics.loaded("users")
		metrics.dead("users")
		metrics.saved("users")
	})
}
