package monitoring

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectorCounterAccumulates(t *testing.T) {
	reg := NewMetricsRegistry()
	c := reg.Collector("detector")
	c.Inc("candidates_found")
	c.Add("candidates_found", 2)

	text, err := reg.ExportText()
	require.NoError(t, err)
	assert.Contains(t, text, "qenus_detector_candidates_found 3")
}

func TestCollectorGaugeOverwrites(t *testing.T) {
	reg := NewMetricsRegistry()
	c := reg.Collector("simulator")
	c.Gauge("last_spread_bps", 12.5)
	c.Gauge("last_spread_bps", 40)

	text, err := reg.ExportText()
	require.NoError(t, err)
	assert.Contains(t, text, "qenus_simulator_last_spread_bps 40")
	assert.False(t, strings.Contains(text, "qenus_simulator_last_spread_bps 12.5"))
}

func TestCollectorHistogramSummary(t *testing.T) {
	reg := NewMetricsRegistry()
	c := reg.Collector("extractor")
	c.Observe("latency_ms", 10)
	c.Observe("latency_ms", 20)
	c.Observe("latency_ms", 30)

	summary := c.Summary("latency_ms")
	assert.Equal(t, uint64(3), summary.Count)
	assert.Equal(t, 60.0, summary.Sum)
	assert.Equal(t, 10.0, summary.Min)
	assert.Equal(t, 30.0, summary.Max)
	assert.Equal(t, 20.0, summary.Avg)
}

func TestCollectorSummaryOfUnknownMetricIsZero(t *testing.T) {
	reg := NewMetricsRegistry()
	c := reg.Collector("extractor")
	assert.Equal(t, Summary{}, c.Summary("nope"))
}

func TestRegistryCollectorIsScopedPerName(t *testing.T) {
	reg := NewMetricsRegistry()
	a := reg.Collector("sink")
	b := reg.Collector("sink")
	assert.Same(t, a, b)

	other := reg.Collector("decision")
	assert.NotSame(t, a, other)
}

func TestExportTextIncludesHelpAndTypeLines(t *testing.T) {
	reg := NewMetricsRegistry()
	c := reg.Collector("feed")
	c.Inc("events_total")

	text, err := reg.ExportText()
	require.NoError(t, err)
	assert.Contains(t, text, "# HELP qenus_feed_events_total")
	assert.Contains(t, text, "# TYPE qenus_feed_events_total counter")
}
