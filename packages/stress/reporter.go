package stress

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/fatih/color"
)

// Reporter prints run progress and summaries
type Reporter struct {
	writer     io.Writer
	noColor    bool
	noProgress bool
	verbose    bool

	green  *color.Color
	red    *color.Color
	yellow *color.Color
	cyan   *color.Color
	bold   *color.Color
}

// ReporterOption configures the reporter
type ReporterOption func(*Reporter)

// WithWriter sets the output writer
func WithWriter(w io.Writer) ReporterOption {
	return func(r *Reporter) {
		r.writer = w
	}
}

// WithNoColor disables colored output
func WithNoColor(noColor bool) ReporterOption {
	return func(r *Reporter) {
		r.noColor = noColor
	}
}

// WithNoProgress disables the progress line
func WithNoProgress(noProgress bool) ReporterOption {
	return func(r *Reporter) {
		r.noProgress = noProgress
	}
}

// WithVerbose adds the per-target breakdown to summaries
func WithVerbose(verbose bool) ReporterOption {
	return func(r *Reporter) {
		r.verbose = verbose
	}
}

func NewReporter(opts ...ReporterOption) *Reporter {
	r := &Reporter{writer: os.Stdout}
	for _, opt := range opts {
		opt(r)
	}

	newColor := func(attrs ...color.Attribute) *color.Color {
		c := color.New(attrs...)
		if r.noColor {
			c.DisableColor()
		}
		return c
	}
	r.green = newColor(color.FgGreen)
	r.red = newColor(color.FgRed)
	r.yellow = newColor(color.FgYellow)
	r.cyan = newColor(color.FgCyan)
	r.bold = newColor(color.Bold)
	return r
}

// Header prints what is about to run
func (r *Reporter) Header(targets []Target, config *Config) {
	fmt.Fprintln(r.writer)
	r.bold.Fprintln(r.writer, "hitclient bench")
	for _, t := range targets {
		r.cyan.Fprintf(r.writer, "  %s\n", t.label())
	}

	details := []string{"Mode: " + config.Mode.String()}
	if config.Mode == RateMode {
		details = append(details, fmt.Sprintf("Target: %.0f req/s", config.Rate))
	} else {
		details = append(details, fmt.Sprintf("Workers: %d", config.Workers))
	}
	details = append(details,
		fmt.Sprintf("Duration: %s", config.Duration),
		fmt.Sprintf("Max in flight: %d", config.MaxInFlight),
	)
	fmt.Fprintln(r.writer, strings.Join(details, " | "))
	fmt.Fprintln(r.writer)
}

// Progress rewrites the progress line
func (r *Reporter) Progress(stats CurrentStats, duration time.Duration) {
	if r.noProgress {
		return
	}
	fmt.Fprintf(r.writer, "\r\033[K%s / %s  %d req  %d err  %.1f req/s  p95 %s  in flight %d",
		formatDuration(stats.Elapsed), formatDuration(duration),
		stats.Total, stats.Errors, stats.RPS, formatLatency(stats.P95), stats.InFlight)
}

// ClearProgress erases the progress line
func (r *Reporter) ClearProgress() {
	if r.noProgress {
		return
	}
	fmt.Fprint(r.writer, "\r\033[K")
}

// Summary prints the final summary
func (r *Reporter) Summary(summary *Summary, thresholds []ThresholdResult) {
	fmt.Fprintln(r.writer)
	r.bold.Fprintln(r.writer, "SUMMARY")
	fmt.Fprintln(r.writer, strings.Repeat("─", 40))

	fmt.Fprintf(r.writer, "Duration:   %s\n", formatDuration(summary.Duration))
	fmt.Fprintf(r.writer, "Total:      %d requests (%.1f req/s), %d bytes read\n",
		summary.TotalRequests, summary.RPS, summary.BytesRead)
	fmt.Fprint(r.writer, "Success:    ")
	r.green.Fprintf(r.writer, "%d", summary.SuccessCount)
	fmt.Fprintf(r.writer, " (%.1f%%)\n", summary.SuccessRate*100)
	fmt.Fprint(r.writer, "Failed:     ")
	if summary.ErrorCount > 0 {
		r.red.Fprintf(r.writer, "%d", summary.ErrorCount)
	} else {
		fmt.Fprint(r.writer, "0")
	}
	fmt.Fprintf(r.writer, " (%.1f%%)\n", summary.ErrorRate*100)

	for _, kind := range sortedKeys(summary.Failures) {
		r.yellow.Fprintf(r.writer, "  %-14s %d\n", kind+":", summary.Failures[kind])
	}

	fmt.Fprintln(r.writer)
	r.bold.Fprintln(r.writer, "LATENCY")
	fmt.Fprintf(r.writer, "  p50: %s | p95: %s | p99: %s | max: %s\n",
		formatLatency(summary.P50), formatLatency(summary.P95),
		formatLatency(summary.P99), formatLatency(summary.Max))
	fmt.Fprintf(r.writer, "  min: %s | mean: %s | stddev: %s\n",
		formatLatency(summary.Min), formatLatency(summary.Mean), formatLatency(summary.StdDev))

	if r.verbose && len(summary.Targets) > 0 {
		fmt.Fprintln(r.writer)
		r.bold.Fprintln(r.writer, "TARGETS")
		for _, name := range sortedKeys(summary.Targets) {
			ts := summary.Targets[name]
			fmt.Fprintf(r.writer, "  %s: %d req, %d err, p50 %s, p95 %s, p99 %s\n",
				name, ts.Total, ts.Errors, formatLatency(ts.P50), formatLatency(ts.P95), formatLatency(ts.P99))
		}
	}

	if len(thresholds) > 0 {
		fmt.Fprintln(r.writer)
		r.bold.Fprintln(r.writer, "THRESHOLDS")
		for _, tr := range thresholds {
			if tr.Passed {
				r.green.Fprint(r.writer, "  ✓ ")
			} else {
				r.red.Fprint(r.writer, "  ✗ ")
			}
			fmt.Fprintf(r.writer, "%s %s    (actual: %s)\n", tr.Name, tr.Expected, tr.Actual)
		}
	}
	fmt.Fprintln(r.writer)
}

// JSONSummary writes the summary as JSON
func (r *Reporter) JSONSummary(summary *Summary, thresholds []ThresholdResult) error {
	type latency struct {
		P50    int64 `json:"p50"`
		P95    int64 `json:"p95"`
		P99    int64 `json:"p99"`
		Min    int64 `json:"min"`
		Max    int64 `json:"max"`
		Mean   int64 `json:"mean"`
		StdDev int64 `json:"stddev"`
	}
	output := struct {
		Duration   string            `json:"duration"`
		Total      int64             `json:"total"`
		Success    int64             `json:"success"`
		Failed     int64             `json:"failed"`
		BytesRead  int64             `json:"bytesRead"`
		RPS        float64           `json:"rps"`
		ErrorRate  float64           `json:"errorRate"`
		LatencyMs  latency           `json:"latencyMs"`
		Failures   map[string]int64  `json:"failures,omitempty"`
		Thresholds []ThresholdResult `json:"thresholds,omitempty"`
	}{
		Duration:  summary.Duration.String(),
		Total:     summary.TotalRequests,
		Success:   summary.SuccessCount,
		Failed:    summary.ErrorCount,
		BytesRead: summary.BytesRead,
		RPS:       summary.RPS,
		ErrorRate: summary.ErrorRate,
		LatencyMs: latency{
			P50:    summary.P50.Milliseconds(),
			P95:    summary.P95.Milliseconds(),
			P99:    summary.P99.Milliseconds(),
			Min:    summary.Min.Milliseconds(),
			Max:    summary.Max.Milliseconds(),
			Mean:   summary.Mean.Milliseconds(),
			StdDev: summary.StdDev.Milliseconds(),
		},
		Failures:   summary.Failures,
		Thresholds: thresholds,
	}

	encoder := json.NewEncoder(r.writer)
	encoder.SetIndent("", "  ")
	return encoder.Encode(output)
}

// Error prints an error message
func (r *Reporter) Error(format string, args ...any) {
	r.red.Fprintf(r.writer, "Error: "+format+"\n", args...)
}

// Info prints an info message
func (r *Reporter) Info(format string, args ...any) {
	fmt.Fprintf(r.writer, format+"\n", args...)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	return fmt.Sprintf("%dm %02ds", int(d.Minutes()), int(d.Seconds())%60)
}

func formatLatency(d time.Duration) string {
	switch {
	case d < time.Millisecond:
		return fmt.Sprintf("%dμs", d.Microseconds())
	case d < time.Second:
		return fmt.Sprintf("%dms", d.Milliseconds())
	default:
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
}
