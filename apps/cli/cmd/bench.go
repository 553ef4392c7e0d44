package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	hithttp "github.com/abdul-hamid-achik/hitclient/packages/http"
	"github.com/abdul-hamid-achik/hitclient/packages/stress"
)

var benchCmd = &cobra.Command{
	Use:   "bench <method> <url>",
	Short: "Drive load through one shared session",
	Long: `Send the same request repeatedly through a single session, either
at a fixed rate or from a fixed number of workers, and report latency
percentiles. Cookies set by any response are replayed by all later requests.

Examples:
  hitclient bench GET https://example.com/health --duration 30s --rate 50
  hitclient bench POST https://example.com/search -p q=go --workers 8 -d 1m
  hitclient bench GET https://example.com/ --rate 200 --ramp-up 10s --threshold "p95<200ms,errors<1%"`,
	Args:              cobra.ExactArgs(2),
	ValidArgsFunction: completeMethod,
	RunE:              benchCommand,
}

var (
	benchDurationFlag    time.Duration
	benchRateFlag        float64
	benchWorkersFlag     int
	benchMaxInFlightFlag int
	benchRampUpFlag      time.Duration
	benchThresholdFlag   string
	benchParamFlags      []string
	benchNoProgressFlag  bool
	benchJSONFlag        bool
	benchMetricsFileFlag string
)

func init() {
	benchCmd.Flags().DurationVarP(&benchDurationFlag, "duration", "d", 30*time.Second, "Run duration (e.g., 30s, 5m)")
	benchCmd.Flags().Float64VarP(&benchRateFlag, "rate", "r", 10, "Target requests per second")
	benchCmd.Flags().IntVar(&benchWorkersFlag, "workers", 0, "Number of back-to-back workers (alternative to rate)")
	benchCmd.Flags().IntVar(&benchMaxInFlightFlag, "max-in-flight", getEnvInt("HITCLIENT_MAX_IN_FLIGHT", 100), "Maximum concurrent requests")
	benchCmd.Flags().DurationVar(&benchRampUpFlag, "ramp-up", 0, "Ramp-up time to reach the target rate or workers")
	benchCmd.Flags().StringVar(&benchThresholdFlag, "threshold", "", "Pass/fail thresholds (e.g., \"p95<200ms,errors<0.1%\")")
	benchCmd.Flags().StringArrayVarP(&benchParamFlags, "param", "p", nil, "Request parameter as name=value (repeatable)")
	benchCmd.Flags().BoolVar(&benchNoProgressFlag, "no-progress", false, "Disable the progress line")
	benchCmd.Flags().BoolVar(&benchJSONFlag, "json", false, "Print the summary as JSON")
	benchCmd.Flags().StringVar(&benchMetricsFileFlag, "metrics-file", "", "Write Prometheus text-format metrics to this file")
}

func benchCommand(cmd *cobra.Command, args []string) error {
	method, err := hithttp.ParseMethod(args[0])
	if err != nil {
		return &exitError{code: ExitUsageError, err: err}
	}
	params, err := parsePairs(benchParamFlags, "=")
	if err != nil {
		return &exitError{code: ExitUsageError, err: fmt.Errorf("--param: %w", err)}
	}
	thresholds, err := stress.ParseThresholds(benchThresholdFlag)
	if err != nil {
		return &exitError{code: ExitUsageError, err: err}
	}

	benchCfg := &stress.Config{
		Mode:        stress.RateMode,
		Duration:    benchDurationFlag,
		Rate:        benchRateFlag,
		MaxInFlight: benchMaxInFlightFlag,
		RampUp:      benchRampUpFlag,
		Thresholds:  thresholds,
	}
	if benchWorkersFlag > 0 {
		benchCfg.Mode = stress.WorkerMode
		benchCfg.Workers = benchWorkersFlag
	}
	if err := benchCfg.Validate(); err != nil {
		return &exitError{code: ExitUsageError, err: err}
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	cs, err := openSession(cfg)
	if err != nil {
		return err
	}
	defer cs.Close()

	out := cmd.OutOrStdout()
	if benchJSONFlag {
		out = cmd.ErrOrStderr()
	}
	reporter := stress.NewReporter(
		stress.WithWriter(out),
		stress.WithNoColor(noColorFlag),
		stress.WithNoProgress(benchNoProgressFlag || benchJSONFlag),
		stress.WithVerbose(verboseFlag > 0),
	)

	target := stress.Target{Method: method, URL: args[1], Params: params, Charset: cs.charset()}
	runnerOpts := []stress.RunnerOption{stress.WithReporter(reporter)}
	var exporter *stress.PrometheusExporter
	if benchMetricsFileFlag != "" {
		exporter = stress.NewPrometheusExporter("hitclient_bench")
		runnerOpts = append(runnerOpts, stress.WithObserver(exporter))
	}
	runner := stress.NewRunner(benchCfg, cs.Session, []stress.Target{target}, runnerOpts...)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	result, err := runner.Run(ctx)
	if err != nil {
		return err
	}
	if perr := cs.persist(); perr != nil {
		cs.logger.Warn("persisting cookies failed", "error", perr)
	}
	if exporter != nil {
		if err := exporter.WriteTextfile(benchMetricsFileFlag); err != nil {
			return fmt.Errorf("writing metrics: %w", err)
		}
	}

	if benchJSONFlag {
		jsonReporter := stress.NewReporter(stress.WithWriter(cmd.OutOrStdout()), stress.WithNoColor(true))
		if err := jsonReporter.JSONSummary(result.Summary, result.Thresholds); err != nil {
			return err
		}
	}
	if !result.Passed {
		return &exitError{code: ExitFailure, err: fmt.Errorf("thresholds failed")}
	}
	return nil
}
