package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTimerDuration(t *testing.T) {
	timer := NewTimer()
	require.NotNil(t, timer)
	assert.False(t, timer.start.IsZero())

	time.Sleep(20 * time.Millisecond)
	first := timer.Duration()
	assert.GreaterOrEqual(t, first, 20*time.Millisecond)

	time.Sleep(5 * time.Millisecond)
	assert.Greater(t, timer.Duration(), first, "duration should keep growing")
}

func TestTimerObserveDuration(t *testing.T) {
	histogram := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name: "test_validation_seconds",
		Help: "test",
	})

	NewTimer().ObserveDuration(histogram)

	assert.Equal(t, uint64(1), sampleCount(t, histogram))
}

func TestTimerObserveDurationVec(t *testing.T) {
	vec := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name: "test_handler_seconds",
		Help: "test",
	}, []string{"handler"})

	timer := NewTimer()
	timer.ObserveDurationVec(vec, "relay")
	timer.ObserveDurationVec(vec, "save-event")

	assert.Equal(t, uint64(1), sampleCount(t, vec.WithLabelValues("relay").(prometheus.Histogram)))
	assert.Equal(t, uint64(1), sampleCount(t, vec.WithLabelValues("save-event").(prometheus.Histogram)))
}
