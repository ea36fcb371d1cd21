package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestCollector_RecordsAllSeries(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c := NewCollector("storyboard", reg, zap.NewNop())

	c.RecordGeneration("gemini", "ok", 3*time.Second)
	c.RecordGeneration("gemini", "ok", time.Second)
	c.RecordRetry("gemini")
	c.RecordPoll("async_task")
	c.RecordError("RATE_LIMITED")

	assert.Equal(t, float64(2), testutil.ToFloat64(c.generationsTotal.WithLabelValues("gemini", "ok")))
	assert.Equal(t, float64(1), testutil.ToFloat64(c.retryAttemptsTotal.WithLabelValues("gemini")))
	assert.Equal(t, float64(1), testutil.ToFloat64(c.pollAttemptsTotal.WithLabelValues("async_task")))
	assert.Equal(t, float64(1), testutil.ToFloat64(c.errorsTotal.WithLabelValues("RATE_LIMITED")))

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}

func TestCollector_NilReceiverIsSafe(t *testing.T) {
	t.Parallel()

	var c *Collector
	c.RecordGeneration("gemini", "ok", time.Second)
	c.RecordRetry("gemini")
	c.RecordPoll("gemini")
	c.RecordError("TIMEOUT")
}
