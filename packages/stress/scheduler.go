package stress

import (
	"context"
	"math/rand"
	"sort"
	"time"

	"golang.org/x/time/rate"
)

// Scheduler paces request starts and bounds how many are in flight.
type Scheduler struct {
	config  *Config
	limiter *rate.Limiter
	sem     chan struct{}

	targets    []Target
	cumulative []int
}

// NewScheduler creates a scheduler over targets. Targets with a non-positive
// weight count as weight 1.
func NewScheduler(config *Config, targets []Target) *Scheduler {
	s := &Scheduler{
		config:  config,
		targets: targets,
	}

	if config.Mode == RateMode && config.Rate > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(s.CurrentRate(0)), 1)
	}

	maxInFlight := config.MaxInFlight
	if maxInFlight < 1 {
		maxInFlight = 100
	}
	s.sem = make(chan struct{}, maxInFlight)

	total := 0
	for _, t := range targets {
		w := t.Weight
		if w < 1 {
			w = 1
		}
		total += w
		s.cumulative = append(s.cumulative, total)
	}
	return s
}

// Select picks a target at random, proportionally to its weight.
func (s *Scheduler) Select() (Target, bool) {
	switch len(s.targets) {
	case 0:
		return Target{}, false
	case 1:
		return s.targets[0], true
	}
	n := rand.Intn(s.cumulative[len(s.cumulative)-1])
	i := sort.SearchInts(s.cumulative, n+1)
	return s.targets[i], true
}

// Wait blocks until the rate limiter allows another start. It returns
// immediately in worker mode.
func (s *Scheduler) Wait(ctx context.Context) error {
	if s.limiter != nil {
		return s.limiter.Wait(ctx)
	}
	return ctx.Err()
}

// Acquire takes an in-flight slot.
func (s *Scheduler) Acquire(ctx context.Context) error {
	select {
	case s.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Release returns an in-flight slot.
func (s *Scheduler) Release() {
	<-s.sem
}

// CurrentRate returns the target rate after elapsed, ramping linearly.
// During ramp-up the rate never drops below one request per second.
func (s *Scheduler) CurrentRate(elapsed time.Duration) float64 {
	if s.config.RampUp <= 0 || elapsed >= s.config.RampUp {
		return s.config.Rate
	}
	r := s.config.Rate * float64(elapsed) / float64(s.config.RampUp)
	if r < 1 {
		r = 1
	}
	return r
}

// CurrentWorkers returns the target worker count after elapsed, ramping
// linearly from one.
func (s *Scheduler) CurrentWorkers(elapsed time.Duration) int {
	if s.config.RampUp <= 0 || elapsed >= s.config.RampUp {
		return s.config.Workers
	}
	n := int(float64(s.config.Workers) * float64(elapsed) / float64(s.config.RampUp))
	if n < 1 {
		n = 1
	}
	return n
}

// UpdateRate changes the limiter's rate.
func (s *Scheduler) UpdateRate(r float64) {
	if s.limiter != nil && r > 0 {
		s.limiter.SetLimit(rate.Limit(r))
	}
}
