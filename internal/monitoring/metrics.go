package monitoring

import (
	"bytes"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
)

// Summary is a flushed snapshot of one histogram's accumulated
// observations, per spec §4.I.
type Summary struct {
	Count uint64
	Sum   float64
	Min   float64
	Max   float64
	Avg   float64
}

type histogramBuffer struct {
	mu    sync.Mutex
	count uint64
	sum   float64
	min   float64
	max   float64
}

func (h *histogramBuffer) observe(v float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.count == 0 {
		h.min, h.max = v, v
	} else {
		if v < h.min {
			h.min = v
		}
		if v > h.max {
			h.max = v
		}
	}
	h.count++
	h.sum += v
}

func (h *histogramBuffer) summary() Summary {
	h.mu.Lock()
	defer h.mu.Unlock()
	avg := 0.0
	if h.count > 0 {
		avg = h.sum / float64(h.count)
	}
	return Summary{Count: h.count, Sum: h.sum, Min: h.min, Max: h.max, Avg: avg}
}

// Collector scopes a set of named counters, gauges, and histograms under
// one producer name, backing each with a real Prometheus metric so the
// global registry's text export stays standards-compliant.
type Collector struct {
	name     string
	registry *prometheus.Registry

	mu         sync.Mutex
	counters   map[string]prometheus.Counter
	gauges     map[string]prometheus.Gauge
	histograms map[string]prometheus.Histogram
	buffers    map[string]*histogramBuffer
}

func newCollector(name string, registry *prometheus.Registry) *Collector {
	return &Collector{
		name:       name,
		registry:   registry,
		counters:   make(map[string]prometheus.Counter),
		gauges:     make(map[string]prometheus.Gauge),
		histograms: make(map[string]prometheus.Histogram),
		buffers:    make(map[string]*histogramBuffer),
	}
}

func (c *Collector) metricName(metric string) string {
	return fmt.Sprintf("qenus_%s_%s", c.name, metric)
}

// Inc increments a monotone counter by 1.
func (c *Collector) Inc(metric string) { c.Add(metric, 1) }

// Add increments a monotone counter by delta.
func (c *Collector) Add(metric string, delta float64) {
	c.mu.Lock()
	counter, ok := c.counters[metric]
	if !ok {
		counter = prometheus.NewCounter(prometheus.CounterOpts{Name: c.metricName(metric), Help: metric + " counter"})
		c.counters[metric] = counter
		c.registry.MustRegister(counter)
	}
	c.mu.Unlock()
	counter.Add(delta)
}

// Gauge overwrites a gauge's current value.
func (c *Collector) Gauge(metric string, value float64) {
	c.mu.Lock()
	gauge, ok := c.gauges[metric]
	if !ok {
		gauge = prometheus.NewGauge(prometheus.GaugeOpts{Name: c.metricName(metric), Help: metric + " gauge"})
		c.gauges[metric] = gauge
		c.registry.MustRegister(gauge)
	}
	c.mu.Unlock()
	gauge.Set(value)
}

// Observe records one histogram sample.
func (c *Collector) Observe(metric string, value float64) {
	c.mu.Lock()
	histogram, ok := c.histograms[metric]
	buffer := c.buffers[metric]
	if !ok {
		histogram = prometheus.NewHistogram(prometheus.HistogramOpts{Name: c.metricName(metric), Help: metric + " histogram"})
		c.histograms[metric] = histogram
		buffer = &histogramBuffer{}
		c.buffers[metric] = buffer
		c.registry.MustRegister(histogram)
	}
	c.mu.Unlock()
	histogram.Observe(value)
	buffer.observe(value)
}

// Summary reduces the accumulated buffer for metric into a point-in-time
// {count, sum, min, max, avg} record. The buffer is not reset.
func (c *Collector) Summary(metric string) Summary {
	c.mu.Lock()
	buffer, ok := c.buffers[metric]
	c.mu.Unlock()
	if !ok {
		return Summary{}
	}
	return buffer.summary()
}

// MetricsRegistry is the global metrics registry every producer's Collector
// is scoped under.
type MetricsRegistry struct {
	prom *prometheus.Registry

	mu         sync.Mutex
	collectors map[string]*Collector
}

// NewMetricsRegistry creates an empty global metrics registry.
func NewMetricsRegistry() *MetricsRegistry {
	return &MetricsRegistry{prom: prometheus.NewRegistry(), collectors: make(map[string]*Collector)}
}

// Collector returns (creating if absent) the named producer's Collector.
func (r *MetricsRegistry) Collector(name string) *Collector {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.collectors[name]
	if !ok {
		c = newCollector(name, r.prom)
		r.collectors[name] = c
	}
	return c
}

// Summaries reduces every collector's accumulated histogram buffers into a
// {collector name -> metric name -> Summary} snapshot, for the dashboard
// view, without resetting them.
func (r *MetricsRegistry) Summaries() map[string]map[string]Summary {
	r.mu.Lock()
	collectors := make(map[string]*Collector, len(r.collectors))
	for name, c := range r.collectors {
		collectors[name] = c
	}
	r.mu.Unlock()

	out := make(map[string]map[string]Summary, len(collectors))
	for name, c := range collectors {
		c.mu.Lock()
		metrics := make(map[string]Summary, len(c.buffers))
		for metric, buffer := range c.buffers {
			metrics[metric] = buffer.summary()
		}
		c.mu.Unlock()
		out[name] = metrics
	}
	return out
}

// ExportText renders every registered metric in the standard Prometheus
// text exposition format, with HELP/TYPE lines per family.
func (r *MetricsRegistry) ExportText() (string, error) {
	families, err := r.prom.Gather()
	if err != nil {
		return "", fmt.Errorf("monitoring: gather metrics: %w", err)
	}

	var buf bytes.Buffer
	encoder := expfmt.NewEncoder(&buf, expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, family := range families {
		if err := encoder.Encode(family); err != nil {
			return "", fmt.Errorf("monitoring: encode metric family: %w", err)
		}
	}
	return buf.String(), nil
}
