// Package telemetry collects in-process metrics for the RIPS server and
// exposes them in the Prometheus text exposition format. HTTP request
// durations are recorded by middleware; batch outcomes (records validated,
// files generated, records migrated) are recorded by the service layer.
package telemetry

import (
	"fmt"
	"math"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/labstack/echo/v4"
)

var (
	defaultDurationBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}
	defaultRecordBuckets   = []float64{1, 10, 100, 1000, 10000, 100000}
)

// histogram is a thread-safe histogram with fixed bucket boundaries. Bucket
// counts are stored non-cumulative and summed at export time.
type histogram struct {
	boundaries   []float64
	bucketCounts []int64
	count        int64
	sum          uint64 // math.Float64bits
	mu           sync.Mutex
}

func newHistogram(boundaries []float64) *histogram {
	return &histogram{
		boundaries:   boundaries,
		bucketCounts: make([]int64, len(boundaries)),
	}
}

// Observe records a single value.
func (h *histogram) Observe(v float64) {
	atomic.AddInt64(&h.count, 1)
	atomicAddFloat64(&h.sum, v)

	h.mu.Lock()
	defer h.mu.Unlock()
	for i, b := range h.boundaries {
		if v <= b {
			h.bucketCounts[i]++
			return
		}
	}
}

func (h *histogram) Count() int64 { return atomic.LoadInt64(&h.count) }

func (h *histogram) Sum() float64 { return math.Float64frombits(atomic.LoadUint64(&h.sum)) }

func (h *histogram) cumulativeBuckets() []int64 {
	h.mu.Lock()
	raw := make([]int64, len(h.bucketCounts))
	copy(raw, h.bucketCounts)
	h.mu.Unlock()

	var running int64
	for i, c := range raw {
		running += c
		raw[i] = running
	}
	return raw
}

func atomicAddFloat64(addr *uint64, delta float64) {
	for {
		old := atomic.LoadUint64(addr)
		next := math.Float64frombits(old) + delta
		if atomic.CompareAndSwapUint64(addr, old, math.Float64bits(next)) {
			return
		}
	}
}

// Label is one name/value pair of a series.
type Label struct {
	Name, Value string
}

// seriesKey renders labels in Prometheus syntax; it doubles as the map key.
func seriesKey(labels []Label) string {
	if len(labels) == 0 {
		return ""
	}
	parts := make([]string, len(labels))
	for i, l := range labels {
		parts[i] = fmt.Sprintf("%s=%q", l.Name, l.Value)
	}
	return strings.Join(parts, ",")
}

type family struct {
	name, help, typ string
	boundaries      []float64

	mu         sync.RWMutex
	counters   map[string]*int64
	histograms map[string]*histogram
}

func (f *family) counter(key string) *int64 {
	f.mu.RLock()
	p, ok := f.counters[key]
	f.mu.RUnlock()
	if ok {
		return p
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if p, ok = f.counters[key]; !ok {
		p = new(int64)
		f.counters[key] = p
	}
	return p
}

func (f *family) histogram(key string) *histogram {
	f.mu.RLock()
	h, ok := f.histograms[key]
	f.mu.RUnlock()
	if ok {
		return h
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if h, ok = f.histograms[key]; !ok {
		h = newHistogram(f.boundaries)
		f.histograms[key] = h
	}
	return h
}

func (f *family) keys() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	var out []string
	for k := range f.counters {
		out = append(out, k)
	}
	for k := range f.histograms {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Provider owns every metric family of the process.
type Provider struct {
	service string
	version string

	mu       sync.RWMutex
	families map[string]*family
	order    []string

	active int64
}

// NewProvider registers the HTTP and RIPS metric families.
func NewProvider(service, version string) *Provider {
	p := &Provider{service: service, version: version, families: make(map[string]*family)}
	p.register("http_server_request_duration_seconds", "Duration of HTTP requests in seconds.", "histogram", defaultDurationBuckets)
	p.register("rips_records_validated_total", "Records validated by outcome.", "counter", nil)
	p.register("rips_files_generated_total", "RIPS files produced by output kind.", "counter", nil)
	p.register("rips_generation_duration_seconds", "Duration of batch generation in seconds.", "histogram", defaultDurationBuckets)
	p.register("rips_batch_records", "Records per generated batch.", "histogram", defaultRecordBuckets)
	p.register("rips_records_migrated_total", "Records transported between format versions.", "counter", nil)
	p.register("rips_migration_warnings_total", "Fields that required manual completion after migration.", "counter", nil)
	return p
}

func (p *Provider) register(name, help, typ string, boundaries []float64) {
	p.families[name] = &family{
		name: name, help: help, typ: typ, boundaries: boundaries,
		counters:   make(map[string]*int64),
		histograms: make(map[string]*histogram),
	}
	p.order = append(p.order, name)
}

func (p *Provider) family(name string) *family {
	p.mu.RLock()
	defer p.mu.RUnlock()
	f, ok := p.families[name]
	if !ok {
		panic("telemetry: unregistered metric " + name)
	}
	return f
}

// Add increments a counter series by n.
func (p *Provider) Add(name string, n int, labels ...Label) {
	if n <= 0 {
		return
	}
	atomic.AddInt64(p.family(name).counter(seriesKey(labels)), int64(n))
}

// Observe records a value in a histogram series.
func (p *Provider) Observe(name string, v float64, labels ...Label) {
	p.family(name).histogram(seriesKey(labels)).Observe(v)
}

// RecordValidation counts the outcome of validating records of one file type.
func (p *Provider) RecordValidation(version, fileType string, valid, rejected int) {
	base := []Label{{"version", version}, {"file_type", fileType}}
	p.Add("rips_records_validated_total", valid, append(base, Label{"outcome", "valid"})...)
	p.Add("rips_records_validated_total", rejected, append(base, Label{"outcome", "rejected"})...)
}

// RecordGeneration counts produced files and observes batch size and duration.
func (p *Provider) RecordGeneration(version, kind string, files, records int, d time.Duration) {
	labels := []Label{{"version", version}, {"kind", kind}}
	p.Add("rips_files_generated_total", files, labels...)
	p.Observe("rips_generation_duration_seconds", d.Seconds(), labels...)
	p.Observe("rips_batch_records", float64(records), labels...)
}

// RecordMigration counts migrated records and pending fields.
func (p *Provider) RecordMigration(from, to string, records, warnings int) {
	labels := []Label{{"from", from}, {"to", to}}
	p.Add("rips_records_migrated_total", records, labels...)
	p.Add("rips_migration_warnings_total", warnings, labels...)
}

// ActiveRequests is the number of requests currently in flight.
func (p *Provider) ActiveRequests() int64 { return atomic.LoadInt64(&p.active) }

// Middleware records request durations keyed by method, route and status.
func (p *Provider) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			atomic.AddInt64(&p.active, 1)
			defer atomic.AddInt64(&p.active, -1)

			start := time.Now()
			err := next(c)

			status := c.Response().Status
			if he, ok := err.(*echo.HTTPError); ok {
				status = he.Code
			} else if err != nil {
				status = http.StatusInternalServerError
			}
			route := c.Path()
			if route == "" {
				route = c.Request().URL.Path
			}
			p.Observe("http_server_request_duration_seconds", time.Since(start).Seconds(),
				Label{"method", c.Request().Method},
				Label{"route", route},
				Label{"status_code", strconv.Itoa(status)})
			return err
		}
	}
}

// Handler serves every family in the Prometheus text format.
func (p *Provider) Handler() echo.HandlerFunc {
	return func(c echo.Context) error {
		return c.String(http.StatusOK, p.Exposition())
	}
}

// Exposition renders the current state of all metrics.
func (p *Provider) Exposition() string {
	var b strings.Builder

	b.WriteString("# HELP rips_build_info Build information.\n")
	b.WriteString("# TYPE rips_build_info gauge\n")
	fmt.Fprintf(&b, "rips_build_info{service=%q,version=%q} 1\n\n", p.service, p.version)

	b.WriteString("# HELP http_server_active_requests Number of active HTTP requests.\n")
	b.WriteString("# TYPE http_server_active_requests gauge\n")
	fmt.Fprintf(&b, "http_server_active_requests %d\n\n", p.ActiveRequests())

	for _, name := range p.order {
		f := p.family(name)
		fmt.Fprintf(&b, "# HELP %s %s\n", f.name, f.help)
		fmt.Fprintf(&b, "# TYPE %s %s\n", f.name, f.typ)
		for _, key := range f.keys() {
			if f.typ == "counter" {
				writeSample(&b, f.name, key, strconv.FormatInt(atomic.LoadInt64(f.counter(key)), 10))
				continue
			}
			writeHistogram(&b, f.name, key, f.histogram(key))
		}
		b.WriteByte('\n')
	}
	return b.String()
}

func writeSample(b *strings.Builder, name, labels, value string) {
	if labels == "" {
		fmt.Fprintf(b, "%s %s\n", name, value)
		return
	}
	fmt.Fprintf(b, "%s{%s} %s\n", name, labels, value)
}

func writeHistogram(b *strings.Builder, name, labels string, h *histogram) {
	prefix := ""
	if labels != "" {
		prefix = labels + ","
	}
	cum := h.cumulativeBuckets()
	for i, boundary := range h.boundaries {
		fmt.Fprintf(b, "%s_bucket{%sle=\"%g\"} %d\n", name, prefix, boundary, cum[i])
	}
	fmt.Fprintf(b, "%s_bucket{%sle=\"+Inf\"} %d\n", name, prefix, h.Count())
	writeSample(b, name+"_sum", labels, strconv.FormatFloat(h.Sum(), 'g', -1, 64))
	writeSample(b, name+"_count", labels, strconv.FormatInt(h.Count(), 10))
}
