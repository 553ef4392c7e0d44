package stress

import (
	"errors"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"

	hithttp "github.com/abdul-hamid-achik/hitclient/packages/http"
)

// latencies are recorded in microseconds between 1us and 60s
const (
	minLatencyUs = 1
	maxLatencyUs = 60_000_000
)

func newHistogram() *hdrhistogram.Histogram {
	return hdrhistogram.New(minLatencyUs, maxLatencyUs, 3)
}

func clampMicros(d time.Duration) int64 {
	us := d.Microseconds()
	if us < minLatencyUs {
		return minLatencyUs
	}
	if us > maxLatencyUs {
		return maxLatencyUs
	}
	return us
}

func quantile(h *hdrhistogram.Histogram, q float64) time.Duration {
	return time.Duration(h.ValueAtQuantile(q)) * time.Microsecond
}

// Metrics collects latency and outcome counts for a run. Failures are
// bucketed by the session's error kind.
type Metrics struct {
	mu        sync.Mutex
	histogram *hdrhistogram.Histogram
	targets   map[string]*targetMetrics
	failures  map[string]int64

	total     atomic.Int64
	success   atomic.Int64
	errors    atomic.Int64
	bytesRead atomic.Int64
	inFlight  atomic.Int32

	startTime time.Time
	endTime   time.Time
}

type targetMetrics struct {
	total     int64
	errors    int64
	histogram *hdrhistogram.Histogram
}

// NewMetrics creates a new Metrics collector
func NewMetrics() *Metrics {
	return &Metrics{
		histogram: newHistogram(),
		targets:   make(map[string]*targetMetrics),
		failures:  make(map[string]int64),
	}
}

// Start marks the beginning of the run
func (m *Metrics) Start() {
	m.mu.Lock()
	m.startTime = time.Now()
	m.mu.Unlock()
}

// Stop marks the end of the run
func (m *Metrics) Stop() {
	m.mu.Lock()
	m.endTime = time.Now()
	m.mu.Unlock()
}

// Record records one request outcome. Failed requests still contribute
// their latency.
func (m *Metrics) Record(target string, duration time.Duration, bytes int64, err error) {
	m.total.Add(1)
	m.bytesRead.Add(bytes)
	if err != nil {
		m.errors.Add(1)
	} else {
		m.success.Add(1)
	}

	us := clampMicros(duration)

	m.mu.Lock()
	defer m.mu.Unlock()

	_ = m.histogram.RecordValue(us)
	tm, ok := m.targets[target]
	if !ok {
		tm = &targetMetrics{histogram: newHistogram()}
		m.targets[target] = tm
	}
	tm.total++
	_ = tm.histogram.RecordValue(us)
	if err != nil {
		tm.errors++
		m.failures[failureKind(err)]++
	}
}

func failureKind(err error) string {
	var reqErr *hithttp.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.Kind.String()
	}
	return "other"
}

func (m *Metrics) enter() { m.inFlight.Add(1) }
func (m *Metrics) leave() { m.inFlight.Add(-1) }

// Summary is the aggregated result of a run
type Summary struct {
	Duration      time.Duration
	TotalRequests int64
	SuccessCount  int64
	ErrorCount    int64
	BytesRead     int64

	RPS         float64
	SuccessRate float64
	ErrorRate   float64

	P50    time.Duration
	P95    time.Duration
	P99    time.Duration
	Min    time.Duration
	Max    time.Duration
	Mean   time.Duration
	StdDev time.Duration

	// Failures counts failed requests per error kind ("io", "protocol", ...)
	Failures map[string]int64
	Targets  map[string]*TargetSummary
}

// TargetSummary holds the summary of a single target
type TargetSummary struct {
	Total  int64
	Errors int64
	P50    time.Duration
	P95    time.Duration
	P99    time.Duration
	Mean   time.Duration
}

// GetSummary returns the metrics summary. While a run is in progress the
// duration is measured up to now.
func (m *Metrics) GetSummary() *Summary {
	m.mu.Lock()
	defer m.mu.Unlock()

	duration := m.endTime.Sub(m.startTime)
	if m.endTime.IsZero() {
		duration = time.Since(m.startTime)
	}

	total := m.total.Load()
	s := &Summary{
		Duration:      duration,
		TotalRequests: total,
		SuccessCount:  m.success.Load(),
		ErrorCount:    m.errors.Load(),
		BytesRead:     m.bytesRead.Load(),
		Failures:      make(map[string]int64, len(m.failures)),
		Targets:       make(map[string]*TargetSummary, len(m.targets)),
	}
	if duration > 0 {
		s.RPS = float64(total) / duration.Seconds()
	}
	if total > 0 {
		s.SuccessRate = float64(s.SuccessCount) / float64(total)
		s.ErrorRate = float64(s.ErrorCount) / float64(total)
		s.P50 = quantile(m.histogram, 50)
		s.P95 = quantile(m.histogram, 95)
		s.P99 = quantile(m.histogram, 99)
		s.Min = time.Duration(m.histogram.Min()) * time.Microsecond
		s.Max = time.Duration(m.histogram.Max()) * time.Microsecond
		s.Mean = time.Duration(m.histogram.Mean()) * time.Microsecond
		s.StdDev = time.Duration(m.histogram.StdDev()) * time.Microsecond
	}

	for kind, n := range m.failures {
		s.Failures[kind] = n
	}
	for name, tm := range m.targets {
		s.Targets[name] = &TargetSummary{
			Total:  tm.total,
			Errors: tm.errors,
			P50:    quantile(tm.histogram, 50),
			P95:    quantile(tm.histogram, 95),
			P99:    quantile(tm.histogram, 99),
			Mean:   time.Duration(tm.histogram.Mean()) * time.Microsecond,
		}
	}
	return s
}

// CurrentStats is a lightweight view for progress display
type CurrentStats struct {
	Elapsed  time.Duration
	Total    int64
	Errors   int64
	InFlight int32
	RPS      float64
	P95      time.Duration
}

// GetCurrentStats returns current statistics
func (m *Metrics) GetCurrentStats() CurrentStats {
	m.mu.Lock()
	elapsed := time.Since(m.startTime)
	p95 := quantile(m.histogram, 95)
	m.mu.Unlock()

	total := m.total.Load()
	stats := CurrentStats{
		Elapsed:  elapsed,
		Total:    total,
		Errors:   m.errors.Load(),
		InFlight: m.inFlight.Load(),
		P95:      p95,
	}
	if elapsed > 0 {
		stats.RPS = float64(total) / elapsed.Seconds()
	}
	return stats
}

// EvaluateThresholds checks summary against t
func EvaluateThresholds(summary *Summary, t Thresholds) []ThresholdResult {
	var results []ThresholdResult

	latency := func(name string, limit, actual time.Duration) {
		if limit > 0 {
			results = append(results, ThresholdResult{
				Name:     name,
				Passed:   actual <= limit,
				Expected: "< " + limit.String(),
				Actual:   actual.String(),
			})
		}
	}
	latency("p50", t.P50, summary.P50)
	latency("p95", t.P95, summary.P95)
	latency("p99", t.P99, summary.P99)
	latency("max latency", t.MaxLatency, summary.Max)

	if t.ErrorRate > 0 {
		results = append(results, ThresholdResult{
			Name:     "error rate",
			Passed:   summary.ErrorRate <= t.ErrorRate,
			Expected: "< " + formatPercent(t.ErrorRate),
			Actual:   formatPercent(summary.ErrorRate),
		})
	}
	if t.MinRPS > 0 {
		results = append(results, ThresholdResult{
			Name:     "min RPS",
			Passed:   summary.RPS >= t.MinRPS,
			Expected: "> " + formatFloat(t.MinRPS),
			Actual:   formatFloat(summary.RPS),
		})
	}
	return results
}

func formatPercent(f float64) string {
	return formatFloat(f*100) + "%"
}

func formatFloat(f float64) string {
	if f == float64(int(f)) {
		return strconv.Itoa(int(f))
	}
	return strconv.FormatFloat(f, 'f', 2, 64)
}
