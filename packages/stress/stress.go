package stress

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	hithttp "github.com/abdul-hamid-achik/hitclient/packages/http"
)

// Runner issues targets through one shared session for the configured
// duration. Cookies set by any response are replayed by every later request.
type Runner struct {
	config    *Config
	session   *hithttp.Session
	targets   []Target
	scheduler *Scheduler
	metrics   *Metrics
	reporter  *Reporter
	observers []Observer
}

// RunnerOption configures the runner
type RunnerOption func(*Runner)

// WithReporter sets the reporter
func WithReporter(reporter *Reporter) RunnerOption {
	return func(r *Runner) {
		r.reporter = reporter
	}
}

// WithObserver adds an observer that sees every request outcome
func WithObserver(o Observer) RunnerOption {
	return func(r *Runner) {
		r.observers = append(r.observers, o)
	}
}

// NewRunner creates a runner for targets over session.
func NewRunner(config *Config, session *hithttp.Session, targets []Target, opts ...RunnerOption) *Runner {
	r := &Runner{
		config:    config,
		session:   session,
		targets:   targets,
		metrics:   NewMetrics(),
		scheduler: NewScheduler(config, targets),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.reporter == nil {
		r.reporter = NewReporter()
	}
	return r
}

// Result holds the final result of a run
type Result struct {
	Summary    *Summary
	Thresholds []ThresholdResult
	Passed     bool
}

// Run executes the load run. It returns early, with the partial summary,
// when ctx is cancelled.
func (r *Runner) Run(ctx context.Context) (*Result, error) {
	if err := r.config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if r.session == nil {
		return nil, fmt.Errorf("no session")
	}
	if len(r.targets) == 0 {
		return nil, fmt.Errorf("no targets")
	}

	r.reporter.Header(r.targets, r.config)
	r.metrics.Start()

	ctx, cancel := context.WithTimeout(ctx, r.config.Duration)
	defer cancel()

	progressDone := make(chan struct{})
	var progressWG sync.WaitGroup
	progressWG.Add(1)
	go func() {
		defer progressWG.Done()
		r.progressLoop(progressDone)
	}()

	if r.config.Mode == WorkerMode {
		r.runWorkers(ctx)
	} else {
		r.runRate(ctx)
	}

	r.metrics.Stop()
	close(progressDone)
	progressWG.Wait()
	r.reporter.ClearProgress()

	summary := r.metrics.GetSummary()
	thresholds := EvaluateThresholds(summary, r.config.Thresholds)
	passed := true
	for _, tr := range thresholds {
		if !tr.Passed {
			passed = false
		}
	}
	r.reporter.Summary(summary, thresholds)

	return &Result{Summary: summary, Thresholds: thresholds, Passed: passed}, nil
}

// runRate starts requests at the limiter's pace until ctx ends.
func (r *Runner) runRate(ctx context.Context) {
	var wg sync.WaitGroup
	defer wg.Wait()

	start := time.Now()
	for {
		if r.config.RampUp > 0 {
			r.scheduler.UpdateRate(r.scheduler.CurrentRate(time.Since(start)))
		}
		if err := r.scheduler.Wait(ctx); err != nil {
			return
		}
		if err := r.scheduler.Acquire(ctx); err != nil {
			return
		}
		target, _ := r.scheduler.Select()

		wg.Add(1)
		go func() {
			defer wg.Done()
			defer r.scheduler.Release()
			r.execute(target)
		}()
	}
}

// runWorkers keeps the target number of workers issuing requests back to
// back. Workers above the current target during ramp-up wait their turn.
func (r *Runner) runWorkers(ctx context.Context) {
	var wg sync.WaitGroup
	start := time.Now()

	for id := 0; id < r.config.Workers; id++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for ctx.Err() == nil {
				if id >= r.scheduler.CurrentWorkers(time.Since(start)) {
					select {
					case <-ctx.Done():
						return
					case <-time.After(50 * time.Millisecond):
					}
					continue
				}
				if err := r.scheduler.Acquire(ctx); err != nil {
					return
				}
				target, _ := r.scheduler.Select()
				r.execute(target)
				r.scheduler.Release()
			}
		}(id)
	}
	wg.Wait()
}

// execute streams the response body of one target into the byte counter.
// In-flight requests are not interrupted when the run ends; the session's
// read timeout bounds them.
func (r *Runner) execute(target Target) {
	r.metrics.enter()
	defer r.metrics.leave()

	var n int64
	start := time.Now()
	err := r.session.DoRequestStream(func(body io.Reader) error {
		var err error
		n, err = io.Copy(io.Discard, body)
		return err
	}, target.Method, target.URL, target.Params, target.Charset)
	elapsed := time.Since(start)
	r.metrics.Record(target.label(), elapsed, n, err)
	for _, o := range r.observers {
		o.Observe(target.label(), elapsed, n, err)
	}
}

func (r *Runner) progressLoop(done <-chan struct{}) {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			r.reporter.Progress(r.metrics.GetCurrentStats(), r.config.Duration)
		}
	}
}
