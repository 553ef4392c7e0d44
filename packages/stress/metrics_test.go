package stress

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	hithttp "github.com/abdul-hamid-achik/hitclient/packages/http"
)

func TestMetricsRecord(t *testing.T) {
	m := NewMetrics()
	m.Start()

	m.Record("GET /a", 100*time.Millisecond, 10, nil)
	m.Record("GET /a", 150*time.Millisecond, 10, nil)
	m.Record("POST /b", 200*time.Millisecond, 5, nil)
	m.Record("GET /a", 50*time.Millisecond, 0, &hithttp.RequestError{Kind: hithttp.KindIO, Err: errors.New("reset")})
	m.Record("GET /a", 10*time.Millisecond, 0, errors.New("plain"))

	m.Stop()

	summary := m.GetSummary()
	assert.Equal(t, int64(5), summary.TotalRequests)
	assert.Equal(t, int64(3), summary.SuccessCount)
	assert.Equal(t, int64(2), summary.ErrorCount)
	assert.Equal(t, int64(25), summary.BytesRead)
	assert.InDelta(t, 0.4, summary.ErrorRate, 1e-9)
	assert.Equal(t, map[string]int64{"io": 1, "other": 1}, summary.Failures)

	require.Contains(t, summary.Targets, "GET /a")
	assert.Equal(t, int64(4), summary.Targets["GET /a"].Total)
	assert.Equal(t, int64(2), summary.Targets["GET /a"].Errors)
	assert.Equal(t, int64(1), summary.Targets["POST /b"].Total)

	assert.InDelta(t, float64(200*time.Millisecond), float64(summary.Max), float64(time.Millisecond))
	assert.InDelta(t, float64(10*time.Millisecond), float64(summary.Min), float64(time.Millisecond))
}

func TestMetricsEmpty(t *testing.T) {
	m := NewMetrics()
	m.Start()
	m.Stop()

	summary := m.GetSummary()
	assert.Zero(t, summary.TotalRequests)
	assert.Zero(t, summary.ErrorRate)
	assert.Zero(t, summary.P99)
}

func TestMetricsInFlight(t *testing.T) {
	m := NewMetrics()
	m.Start()

	m.enter()
	m.enter()
	assert.Equal(t, int32(2), m.GetCurrentStats().InFlight)
	m.leave()
	assert.Equal(t, int32(1), m.GetCurrentStats().InFlight)
}

func TestEvaluateThresholds(t *testing.T) {
	summary := &Summary{
		P50:       20 * time.Millisecond,
		P95:       300 * time.Millisecond,
		ErrorRate: 0.02,
		RPS:       50,
	}

	results := EvaluateThresholds(summary, Thresholds{
		P50:       50 * time.Millisecond,
		P95:       200 * time.Millisecond,
		ErrorRate: 0.05,
		MinRPS:    100,
	})
	require.Len(t, results, 4)

	byName := map[string]ThresholdResult{}
	for _, r := range results {
		byName[r.Name] = r
	}
	assert.True(t, byName["p50"].Passed)
	assert.False(t, byName["p95"].Passed)
	assert.True(t, byName["error rate"].Passed)
	assert.Equal(t, "2%", byName["error rate"].Actual)
	assert.False(t, byName["min RPS"].Passed)

	assert.Empty(t, EvaluateThresholds(summary, Thresholds{}))
}
