// Package telemetry keeps in-process HTTP and appointment metrics and
// serves them in the Prometheus text exposition format.
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
	"github.com/samber/lo"
)

var durationBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}

// histogram stores non-cumulative bucket counts; export accumulates them.
type histogram struct {
	mu      sync.Mutex
	buckets []int64
	count   int64
	sum     uint64 // math.Float64bits
}

func newHistogram() *histogram {
	return &histogram{buckets: make([]int64, len(durationBuckets))}
}

func (h *histogram) observe(v float64) {
	atomic.AddInt64(&h.count, 1)
	for {
		old := atomic.LoadUint64(&h.sum)
		if atomic.CompareAndSwapUint64(&h.sum, old, math.Float64bits(math.Float64frombits(old)+v)) {
			break
		}
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for i, b := range durationBuckets {
		if v <= b {
			h.buckets[i]++
			return
		}
	}
}

func (h *histogram) cumulative() []int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]int64, len(h.buckets))
	var running int64
	for i, c := range h.buckets {
		running += c
		out[i] = running
	}
	return out
}

// Metrics is safe for concurrent use.
type Metrics struct {
	mu        sync.RWMutex
	requests  map[string]*histogram // method|route|status
	counters  map[string]*int64     // name|label=value,...
	active    int64
	startedAt time.Time
}

func NewMetrics() *Metrics {
	return &Metrics{
		requests:  make(map[string]*histogram),
		counters:  make(map[string]*int64),
		startedAt: time.Now(),
	}
}

// Inc bumps the counter name with the given label pairs, e.g.
// Inc("appointment_events_total", "type", "appointment.booked").
func (m *Metrics) Inc(name string, labelPairs ...string) {
	key := name + "|" + formatLabels(labelPairs)
	m.mu.RLock()
	c, ok := m.counters[key]
	m.mu.RUnlock()
	if !ok {
		m.mu.Lock()
		if c, ok = m.counters[key]; !ok {
			c = new(int64)
			m.counters[key] = c
		}
		m.mu.Unlock()
	}
	atomic.AddInt64(c, 1)
}

// Counter returns the current value of a counter.
func (m *Metrics) Counter(name string, labelPairs ...string) int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if c, ok := m.counters[name+"|"+formatLabels(labelPairs)]; ok {
		return atomic.LoadInt64(c)
	}
	return 0
}

func formatLabels(pairs []string) string {
	parts := make([]string, 0, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		parts = append(parts, fmt.Sprintf("%s=%q", pairs[i], pairs[i+1]))
	}
	return strings.Join(parts, ",")
}

func (m *Metrics) observeRequest(method, route string, status int, d time.Duration) {
	key := method + "|" + route + "|" + strconv.Itoa(status)
	m.mu.RLock()
	h, ok := m.requests[key]
	m.mu.RUnlock()
	if !ok {
		m.mu.Lock()
		if h, ok = m.requests[key]; !ok {
			h = newHistogram()
			m.requests[key] = h
		}
		m.mu.Unlock()
	}
	h.observe(d.Seconds())
}

// Middleware records request duration by route pattern and status.
func (m *Metrics) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			atomic.AddInt64(&m.active, 1)
			start := time.Now()
			err := next(c)
			atomic.AddInt64(&m.active, -1)

			status := c.Response().Status
			if he, ok := err.(*echo.HTTPError); ok && !c.Response().Committed {
				status = he.Code
			} else if err != nil && !c.Response().Committed {
				status = http.StatusInternalServerError
			}
			route := c.Path()
			if route == "" {
				route = "unmatched"
			}
			m.observeRequest(c.Request().Method, route, status, time.Since(start))
			return err
		}
	}
}

// Handler serves every metric as Prometheus text.
func (m *Metrics) Handler() echo.HandlerFunc {
	return func(c echo.Context) error {
		return c.String(http.StatusOK, m.Render())
	}
}

// Render writes the exposition text. Series are sorted so output is stable.
func (m *Metrics) Render() string {
	var b strings.Builder

	m.mu.RLock()
	requestKeys := lo.Keys(m.requests)
	counterKeys := lo.Keys(m.counters)
	m.mu.RUnlock()
	sort.Strings(requestKeys)
	sort.Strings(counterKeys)

	b.WriteString("# HELP http_server_request_duration_seconds Duration of HTTP requests in seconds.\n")
	b.WriteString("# TYPE http_server_request_duration_seconds histogram\n")
	for _, key := range requestKeys {
		parts := strings.SplitN(key, "|", 3)
		labels := fmt.Sprintf("method=%q,route=%q,status_code=%q", parts[0], parts[1], parts[2])
		m.mu.RLock()
		h := m.requests[key]
		m.mu.RUnlock()
		writeHistogram(&b, "http_server_request_duration_seconds", labels, h)
	}
	b.WriteByte('\n')

	b.WriteString("# HELP http_server_active_requests Number of in-flight HTTP requests.\n")
	b.WriteString("# TYPE http_server_active_requests gauge\n")
	fmt.Fprintf(&b, "http_server_active_requests %d\n\n", atomic.LoadInt64(&m.active))

	b.WriteString("# HELP process_uptime_seconds Seconds since the server started.\n")
	b.WriteString("# TYPE process_uptime_seconds gauge\n")
	fmt.Fprintf(&b, "process_uptime_seconds %.0f\n\n", time.Since(m.startedAt).Seconds())

	typed := map[string]bool{}
	for _, key := range counterKeys {
		name, labels, _ := strings.Cut(key, "|")
		if !typed[name] {
			fmt.Fprintf(&b, "# TYPE %s counter\n", name)
			typed[name] = true
		}
		m.mu.RLock()
		v := atomic.LoadInt64(m.counters[key])
		m.mu.RUnlock()
		if labels == "" {
			fmt.Fprintf(&b, "%s %d\n", name, v)
		} else {
			fmt.Fprintf(&b, "%s{%s} %d\n", name, labels, v)
		}
	}
	return b.String()
}

func writeHistogram(b *strings.Builder, name, labels string, h *histogram) {
	cum := h.cumulative()
	for i, bound := range durationBuckets {
		fmt.Fprintf(b, "%s_bucket{%s,le=\"%g\"} %d\n", name, labels, bound, cum[i])
	}
	total := atomic.LoadInt64(&h.count)
	fmt.Fprintf(b, "%s_bucket{%s,le=\"+Inf\"} %d\n", name, labels, total)
	fmt.Fprintf(b, "%s_sum{%s} %g\n", name, labels, math.Float64frombits(atomic.LoadUint64(&h.sum)))
	fmt.Fprintf(b, "%s_count{%s} %d\n", name, labels, total)
}
