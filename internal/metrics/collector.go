// Package metrics is a small Prometheus-compatible collector. It renders the
// text exposition format directly instead of pulling in client_golang.
package metrics

import (
	"fmt"
	"io"
	"math"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Collector is the process-wide registry.
var Collector = NewMetricsCollector()

// MetricsCollector aggregates counters, gauges, and histograms.
type MetricsCollector struct {
	mu         sync.RWMutex
	counters   map[string]*Counter
	gauges     map[string]*Gauge
	histograms map[string]*Histogram
	startTime  time.Time
}

func NewMetricsCollector() *MetricsCollector {
	return &MetricsCollector{
		counters:   make(map[string]*Counter),
		gauges:     make(map[string]*Gauge),
		histograms: make(map[string]*Histogram),
		startTime:  time.Now(),
	}
}

// Uptime returns how long the collector has been running.
func (c *MetricsCollector) Uptime() time.Duration {
	return time.Since(c.startTime)
}

type series struct {
	name   string
	help   string
	labels string
}

// Counter is a monotonically increasing counter.
type Counter struct {
	series
	value atomic.Int64
}

func (c *Counter) Inc()         { c.value.Add(1) }
func (c *Counter) Add(n int64)  { c.value.Add(n) }
func (c *Counter) Value() int64 { return c.value.Load() }

// Gauge is a value that can go up and down.
type Gauge struct {
	series
	value atomic.Int64
}

func (g *Gauge) Set(v int64)  { g.value.Store(v) }
func (g *Gauge) Inc()         { g.value.Add(1) }
func (g *Gauge) Dec()         { g.value.Add(-1) }
func (g *Gauge) Value() int64 { return g.value.Load() }

// Histogram tracks the distribution of observed values.
type Histogram struct {
	series
	mu      sync.Mutex
	count   int64
	sum     float64
	bounds  []float64
	buckets []int64
}

func (h *Histogram) Observe(v float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.count++
	h.sum += v
	for i, le := range h.bounds {
		if v <= le {
			h.buckets[i]++
		}
	}
}

// ObserveSince records the seconds elapsed since start.
func (h *Histogram) ObserveSince(start time.Time) {
	h.Observe(time.Since(start).Seconds())
}

func key(name, labels string) string { return name + "{" + labels + "}" }

// Counter returns or creates the counter for name and labels.
func (c *MetricsCollector) Counter(name, help, labels string) *Counter {
	k := key(name, labels)
	c.mu.RLock()
	ctr, ok := c.counters[k]
	c.mu.RUnlock()
	if ok {
		return ctr
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if ctr, ok := c.counters[k]; ok {
		return ctr
	}
	ctr = &Counter{series: series{name, help, labels}}
	c.counters[k] = ctr
	return ctr
}

// Gauge returns or creates the gauge for name and labels.
func (c *MetricsCollector) Gauge(name, help, labels string) *Gauge {
	k := key(name, labels)
	c.mu.RLock()
	g, ok := c.gauges[k]
	c.mu.RUnlock()
	if ok {
		return g
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if g, ok := c.gauges[k]; ok {
		return g
	}
	g = &Gauge{series: series{name, help, labels}}
	c.gauges[k] = g
	return g
}

// Histogram returns or creates the histogram for name and labels. Buckets
// are only used on creation.
func (c *MetricsCollector) Histogram(name, help, labels string, buckets []float64) *Histogram {
	k := key(name, labels)
	c.mu.RLock()
	h, ok := c.histograms[k]
	c.mu.RUnlock()
	if ok {
		return h
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if h, ok := c.histograms[k]; ok {
		return h
	}
	bounds := append([]float64(nil), buckets...)
	sort.Float64s(bounds)
	h = &Histogram{series: series{name, help, labels}, bounds: bounds, buckets: make([]int64, len(bounds))}
	c.histograms[k] = h
	return h
}

// WriteTo renders every metric in Prometheus text format, sorted by series.
func (c *MetricsCollector) WriteTo(w io.Writer) (int64, error) {
	var sb strings.Builder

	fmt.Fprintf(&sb, "# HELP seccopilot_uptime_seconds Time since start in seconds\n")
	fmt.Fprintf(&sb, "# TYPE seccopilot_uptime_seconds gauge\n")
	fmt.Fprintf(&sb, "seccopilot_uptime_seconds %d\n", int64(c.Uptime().Seconds()))

	c.mu.RLock()
	counters := sortedValues(c.counters)
	gauges := sortedValues(c.gauges)
	histograms := sortedValues(c.histograms)
	c.mu.RUnlock()

	helped := map[string]bool{}
	header := func(s series, typ string) {
		if helped[s.name] {
			return
		}
		helped[s.name] = true
		fmt.Fprintf(&sb, "# HELP %s %s\n# TYPE %s %s\n", s.name, s.help, s.name, typ)
	}

	for _, ctr := range counters {
		header(ctr.series, "counter")
		fmt.Fprintf(&sb, "%s %d\n", ctr.withSuffix("", ""), ctr.Value())
	}
	for _, g := range gauges {
		header(g.series, "gauge")
		fmt.Fprintf(&sb, "%s %d\n", g.withSuffix("", ""), g.Value())
	}
	for _, h := range histograms {
		header(h.series, "histogram")
		h.mu.Lock()
		for i, le := range h.bounds {
			bound := fmt.Sprintf("%g", le)
			if math.IsInf(le, 1) {
				bound = "+Inf"
			}
			fmt.Fprintf(&sb, "%s %d\n", h.withSuffix("_bucket", `le="`+bound+`"`), h.buckets[i])
		}
		fmt.Fprintf(&sb, "%s %d\n", h.withSuffix("_bucket", `le="+Inf"`), h.count)
		fmt.Fprintf(&sb, "%s %d\n", h.withSuffix("_count", ""), h.count)
		fmt.Fprintf(&sb, "%s %f\n", h.withSuffix("_sum", ""), h.sum)
		h.mu.Unlock()
	}

	n, err := io.WriteString(w, sb.String())
	return int64(n), err
}

// Handler serves the metrics page.
func (c *MetricsCollector) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		_, _ = c.WriteTo(w)
	}
}

func (s series) withSuffix(suffix, extra string) string {
	labels := s.labels
	if extra != "" {
		if labels != "" {
			labels += ","
		}
		labels += extra
	}
	if labels == "" {
		return s.name + suffix
	}
	return s.name + suffix + "{" + labels + "}"
}

func sortedValues[T any](m map[string]*T) []*T {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]*T, len(keys))
	for i, k := range keys {
		out[i] = m[k]
	}
	return out
}

// Labeled helpers for series with a single dynamic label.

// ToolCalls counts tool invocations by tool name.
func ToolCalls(tool string) *Counter {
	return Collector.Counter("seccopilot_tool_calls_total", "Tool invocations by tool", `tool="`+tool+`"`)
}

// UpstreamFaults counts swallowed upstream failures by source.
func UpstreamFaults(source string) *Counter {
	return Collector.Counter("seccopilot_upstream_faults_total", "Upstream API faults rendered as text", `source="`+source+`"`)
}

var (
	QueriesTotal     = Collector.Counter("seccopilot_queries_total", "Total user queries processed", "")
	QueryErrors      = Collector.Counter("seccopilot_query_errors_total", "Queries aborted by a stream fault", "")
	LLMRequestsTotal = Collector.Counter("seccopilot_llm_requests_total", "Total LLM API requests", "")
	ActiveStreams    = Collector.Gauge("seccopilot_active_streams", "Answers currently streaming", "")

	LLMLatency = Collector.Histogram("seccopilot_llm_latency_seconds", "LLM request latency in seconds", "",
		[]float64{0.5, 1, 2, 5, 10, 30, 60, 120})
	ToolLatency = Collector.Histogram("seccopilot_tool_latency_seconds", "Tool execution latency in seconds", "",
		[]float64{0.1, 0.5, 1, 5, 10, 30})
)
