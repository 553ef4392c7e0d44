// Package stress drives load through a single shared hitclient session.
// Requests are issued either at a fixed rate or by a fixed pool of workers,
// and latencies are aggregated into HDR histograms.
package stress

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	hithttp "github.com/abdul-hamid-achik/hitclient/packages/http"
)

// ExecutionMode defines how the runner schedules requests
type ExecutionMode int

const (
	// RateMode starts requests at a constant rate (requests per second)
	RateMode ExecutionMode = iota
	// WorkerMode keeps a fixed number of workers busy back to back
	WorkerMode
)

func (m ExecutionMode) String() string {
	if m == WorkerMode {
		return "workers"
	}
	return "rate"
}

// Config holds all configuration for a load run
type Config struct {
	Mode        ExecutionMode
	Duration    time.Duration
	Rate        float64 // requests per second (RateMode)
	Workers     int     // concurrent workers (WorkerMode)
	MaxInFlight int     // cap on concurrent requests
	RampUp      time.Duration
	Thresholds  Thresholds
}

// Target is one request the runner may issue. Weight biases selection when
// several targets are configured.
type Target struct {
	Name    string
	Method  hithttp.MethodType
	URL     string
	Params  map[string]string
	Charset string
	Weight  int
}

func (t Target) label() string {
	if t.Name != "" {
		return t.Name
	}
	return t.Method.String() + " " + t.URL
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Mode:        RateMode,
		Duration:    30 * time.Second,
		Rate:        10,
		Workers:     4,
		MaxInFlight: 100,
	}
}

// Validate checks if the config is valid
func (c *Config) Validate() error {
	switch {
	case c.Duration <= 0:
		return fmt.Errorf("duration must be positive")
	case c.Mode == RateMode && c.Rate <= 0:
		return fmt.Errorf("rate must be positive in rate mode")
	case c.Mode == WorkerMode && c.Workers <= 0:
		return fmt.Errorf("workers must be positive in worker mode")
	case c.MaxInFlight < 1:
		return fmt.Errorf("maxInFlight must be at least 1")
	case c.RampUp < 0:
		return fmt.Errorf("rampUp cannot be negative")
	case c.RampUp > c.Duration:
		return fmt.Errorf("rampUp cannot exceed duration")
	}
	return nil
}

// Thresholds defines pass/fail criteria for a run. Zero values are unchecked.
type Thresholds struct {
	P50        time.Duration
	P95        time.Duration
	P99        time.Duration
	MaxLatency time.Duration
	ErrorRate  float64 // 0.0 - 1.0
	MinRPS     float64
}

// HasThresholds returns true if any thresholds are configured
func (t *Thresholds) HasThresholds() bool {
	return t.P50 > 0 || t.P95 > 0 || t.P99 > 0 || t.MaxLatency > 0 || t.ErrorRate > 0 || t.MinRPS > 0
}

// ThresholdResult holds the result of evaluating a threshold
type ThresholdResult struct {
	Name     string
	Passed   bool
	Expected string
	Actual   string
}

var thresholdPattern = regexp.MustCompile(`^(\w+)\s*([<>]=?)\s*(.+)$`)

// ParseThresholds parses a threshold string like "p95<200ms,errors<0.1%,rps>50"
func ParseThresholds(s string) (Thresholds, error) {
	var t Thresholds

	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if err := parseThresholdPart(part, &t); err != nil {
			return t, err
		}
	}
	return t, nil
}

func parseThresholdPart(part string, t *Thresholds) error {
	m := thresholdPattern.FindStringSubmatch(part)
	if len(m) != 4 {
		return fmt.Errorf("invalid threshold format: %s", part)
	}
	metric, op, value := strings.ToLower(m[1]), m[2], strings.TrimSpace(m[3])
	upper := op == "<" || op == "<="

	latency := func(dst *time.Duration) error {
		if !upper {
			return fmt.Errorf("%s threshold must use < or <=", metric)
		}
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid duration for %s: %s", metric, value)
		}
		*dst = d
		return nil
	}

	switch metric {
	case "p50":
		return latency(&t.P50)
	case "p95":
		return latency(&t.P95)
	case "p99":
		return latency(&t.P99)
	case "max", "maxlatency":
		return latency(&t.MaxLatency)
	case "errors", "error", "errorrate":
		if !upper {
			return fmt.Errorf("error rate threshold must use < or <=")
		}
		f, err := strconv.ParseFloat(strings.TrimSuffix(value, "%"), 64)
		if err != nil {
			return fmt.Errorf("invalid error rate: %s", value)
		}
		if strings.HasSuffix(value, "%") {
			f /= 100
		}
		t.ErrorRate = f
	case "rps", "rate":
		if upper {
			return fmt.Errorf("RPS threshold must use > or >=")
		}
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("invalid RPS: %s", value)
		}
		t.MinRPS = f
	default:
		return fmt.Errorf("unknown threshold metric: %s", metric)
	}
	return nil
}
