package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/openeo-contrib/raster-regression/internal/regression"
	"github.com/openeo-contrib/raster-regression/pkg/openeo"
	"github.com/openeo-contrib/raster-regression/pkg/redact"
)

func main() {
	ctx := context.Background()

	if len(os.Args) < 2 {
		usage(os.Stderr)
		os.Exit(2)
	}

	switch os.Args[1] {
	case "help", "-h", "--help":
		usage(os.Stdout)
		return
	case "run":
		os.Exit(runScenario(ctx, os.Args[2:]))
	case "suite":
		os.Exit(runSuite(ctx, os.Args[2:]))
	default:
		_, _ = fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", os.Args[1])
		usage(os.Stderr)
		os.Exit(2)
	}
}

func runScenario(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	var scenario string
	var graphPath string
	var outputPath string
	var referenceFile string
	var tolerance float64

	fs.StringVar(&scenario, "scenario", "", "Scenario name (job title + reference lookup key)")
	fs.StringVar(&graphPath, "process-graph", "", "Path to the JSON process graph to execute")
	fs.StringVar(&outputPath, "output", "", "Path to save the downloaded result dataset")
	fs.StringVar(&referenceFile, "reference", "", "Ground-truth reference file (default groundtruth_regression_test.json)")
	fs.Float64Var(&tolerance, "tolerance", regression.DefaultTolerance, "Relative tolerance for statistic comparison")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if scenario == "" || graphPath == "" || outputPath == "" {
		_, _ = fmt.Fprintln(os.Stderr, "run requires --scenario, --process-graph and --output")
		return 2
	}

	harness, err := newHarness(referenceFile)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "config error: %s\n", redact.Secrets(err.Error()))
		return 2
	}

	graph, err := os.ReadFile(graphPath)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "read process graph: %v\n", err)
		return 2
	}

	spec := openeo.JobSpec{ProcessGraph: json.RawMessage(graph)}
	if err := harness.ExecuteAndAssert(ctx, spec, outputPath, scenario, tolerance); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "scenario %q failed: %s\n", scenario, redact.Secrets(err.Error()))
		return 1
	}
	_, _ = fmt.Fprintf(os.Stdout, "scenario %q passed\n", scenario)
	return 0
}

func runSuite(ctx context.Context, args []string) int {
	workersDefault, err := envInt("WORKERS", 2)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		return 2
	}
	rpsDefault, err := envFloat("RATE_LIMIT_RPS", 0)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		return 2
	}
	timeoutDefault, err := envDuration("SCENARIO_TIMEOUT", 0)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		return 2
	}

	fs := flag.NewFlagSet("suite", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	configPath := fs.String("config", "suite.yaml", "YAML suite configuration file")
	workers := fs.Int("workers", workersDefault, "Concurrent scenarios (env: WORKERS)")
	rateLimitRPS := fs.Float64("rate-limit-rps", rpsDefault, "Global request rate limit (RPS), 0 disables (env: RATE_LIMIT_RPS)")
	failFast := fs.Bool("fail-fast", false, "Abort the suite on the first failing scenario")
	scenarioTimeout := fs.Duration("scenario-timeout", timeoutDefault, "Per-scenario timeout, 0 disables (env: SCENARIO_TIMEOUT)")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	cfg, err := regression.LoadSuiteConfig(*configPath)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		return 2
	}

	harness, err := newHarness(cfg.ReferenceFile)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "config error: %s\n", redact.Secrets(err.Error()))
		return 2
	}

	results, err := harness.RunSuite(ctx, cfg, regression.SuiteOptions{
		Workers:         *workers,
		RateLimitRPS:    *rateLimitRPS,
		FailFast:        *failFast,
		ScenarioTimeout: *scenarioTimeout,
	})
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "suite run failed: %s\n", redact.Secrets(err.Error()))
		return 1
	}

	failed := 0
	for _, res := range results {
		if res.Err != nil {
			failed++
			var mm *regression.MismatchError
			kind := "error"
			if errors.As(res.Err, &mm) {
				kind = "regression"
			}
			_, _ = fmt.Fprintf(os.Stdout, "FAIL %-30s %8s  %s: %s\n",
				res.Scenario.Name, res.Duration.Round(time.Millisecond), kind, redact.Secrets(res.Err.Error()))
			continue
		}
		_, _ = fmt.Fprintf(os.Stdout, "PASS %-30s %8s\n", res.Scenario.Name, res.Duration.Round(time.Millisecond))
	}
	_, _ = fmt.Fprintf(os.Stdout, "%d scenarios, %d failed\n", len(results), failed)
	if failed > 0 {
		return 1
	}
	return 0
}

func newHarness(referenceFile string) (*regression.Harness, error) {
	env, err := openeo.LoadEnv()
	if err != nil {
		return nil, err
	}
	client, err := openeo.NewClient(env.BaseURL, env.Token, env.DefaultCAPath)
	if err != nil {
		return nil, err
	}
	return &regression.Harness{
		Client:        client,
		ReferenceFile: referenceFile,
		Logger:        log.New(os.Stderr, "", log.LstdFlags),
	}, nil
}

func usage(w *os.File) {
	_, _ = fmt.Fprintf(w, `regress: regression-test harness for an openEO batch backend

Usage:
  regress <command> [flags]

Commands:
  run    Execute one scenario and assert its band statistics
  suite  Execute every scenario of a YAML suite

Examples:
  regress run --scenario max_ndvi --process-graph graphs/max_ndvi.json --output out/max_ndvi.nc
  regress suite --config suite.yaml --workers 4

Environment:
  OPENEO_URL           Backend API root (e.g. https://<backend>/openeo/1.2)
  OPENEO_BACKENDS      File path of a YAML backend map (alternative to OPENEO_URL)
  OPENEO_BACKEND_NAME  Backend name to select from OPENEO_BACKENDS
  OPENEO_TOKEN         File path containing a bearer token
  DEFAULT_CA_PATH      Optional PEM bundle to trust for TLS

`)
}

func envInt(varName string, fallback int) (int, error) {
	v := strings.TrimSpace(os.Getenv(varName))
	if v == "" {
		return fallback, nil
	}
	out, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s=%q: %w", varName, v, err)
	}
	return out, nil
}

func envFloat(varName string, fallback float64) (float64, error) {
	v := strings.TrimSpace(os.Getenv(varName))
	if v == "" {
		return fallback, nil
	}
	out, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s=%q: %w", varName, v, err)
	}
	return out, nil
}

func envDuration(varName string, fallback time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(varName))
	if v == "" {
		return fallback, nil
	}
	out, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s=%q: %w", varName, v, err)
	}
	return out, nil
}
