package tracing

import (
	"context"
	"fmt"
	"testing"

	"github.com/bsv-blockchain/blobstore/ulogger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

type lineLogger struct {
	ulogger.TestLogger
	lastLog string
}

func (l *lineLogger) Infof(format string, args ...interface{}) {
	l.lastLog = fmt.Sprintf(format, args...)
}

func TestTracing(t *testing.T) {
	logger := &lineLogger{}

	_, _, deferFn := StartTracing(
		context.Background(),
		"TestTracing",
		WithLogMessage(logger, "%s %s", "hello", "world"),
	)

	assert.Equal(t, "hello world", logger.lastLog)

	deferFn()

	assert.Contains(t, logger.lastLog, "hello world DONE in")
}

func TestTracingMetrics(t *testing.T) {
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "test_tracing_counter"})
	histogram := prometheus.NewHistogram(prometheus.HistogramOpts{Name: "test_tracing_histogram"})

	_, stat, deferFn := StartTracing(context.Background(), "TestTracingMetrics",
		WithCounter(counter),
		WithHistogram(histogram),
		WithTag("namespace", "ns1"),
	)
	assert.NotNil(t, stat)

	deferFn()

	assert.InDelta(t, 1, testutil.ToFloat64(counter), 0)
	assert.Equal(t, 1, testutil.CollectAndCount(histogram))
}

func TestTracingParentStat(t *testing.T) {
	ctx, parent, parentDone := StartTracing(context.Background(), "TestTracingParentStat")
	defer parentDone()

	_, child, childDone := StartTracing(ctx, "child", WithParentStat(parent))
	childDone()

	assert.Same(t, parent.NewStat("child"), child)
}

func TestShutdownWithoutInit(t *testing.T) {
	assert.NoError(t, ShutdownTracer(context.Background()))
}
