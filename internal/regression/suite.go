package regression

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/openeo-contrib/raster-regression/internal/geometry"
	"github.com/openeo-contrib/raster-regression/pkg/openeo"
	"github.com/openeo-contrib/raster-regression/pkg/worker"
)

// Scenario is one regression scenario of a suite.
type Scenario struct {
	// Name identifies the scenario in the reference file and tags the job title.
	Name string `yaml:"name"`
	// ProcessGraph is the path to the JSON process graph to execute.
	ProcessGraph string `yaml:"process_graph"`
	// Geometry is the geometry file name under the suite geometry directory.
	Geometry string `yaml:"geometry"`
	// Output is the result file name; empty derives "<name>.nc".
	Output string `yaml:"output"`
	// Tolerance overrides the suite tolerance when > 0.
	Tolerance float64 `yaml:"tolerance"`
}

// SuiteConfig is the YAML suite description.
type SuiteConfig struct {
	// GeometryDir holds the GeoJSON geometry files; empty selects ./geofiles.
	GeometryDir string `yaml:"geometry_dir"`
	// ReferenceFile is the shared ground-truth file.
	ReferenceFile string `yaml:"reference_file"`
	// OutputDir receives downloaded result datasets.
	OutputDir string `yaml:"output_dir"`
	// Tolerance is the default relative tolerance for all scenarios.
	Tolerance float64 `yaml:"tolerance"`

	Scenarios []Scenario `yaml:"scenarios"`
}

// LoadSuiteConfig parses a YAML suite file.
func LoadSuiteConfig(path string) (SuiteConfig, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return SuiteConfig{}, fmt.Errorf("read suite config %s: %w", path, err)
	}
	var cfg SuiteConfig
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return SuiteConfig{}, fmt.Errorf("parse suite config %s: %w", path, err)
	}
	if len(cfg.Scenarios) == 0 {
		return SuiteConfig{}, fmt.Errorf("suite config %s lists no scenarios", path)
	}
	seen := make(map[string]bool, len(cfg.Scenarios))
	for i, sc := range cfg.Scenarios {
		name := strings.TrimSpace(sc.Name)
		if name == "" {
			return SuiteConfig{}, fmt.Errorf("suite config %s: scenario %d has no name", path, i)
		}
		if seen[name] {
			return SuiteConfig{}, fmt.Errorf("suite config %s: duplicate scenario %q", path, name)
		}
		seen[name] = true
		if strings.TrimSpace(sc.ProcessGraph) == "" {
			return SuiteConfig{}, fmt.Errorf("suite config %s: scenario %q has no process graph", path, name)
		}
	}
	return cfg, nil
}

// SuiteOptions controls suite execution.
type SuiteOptions struct {
	Workers      int
	RateLimitRPS float64
	FailFast     bool
	// ScenarioTimeout bounds one scenario end to end. Zero disables.
	ScenarioTimeout time.Duration
}

// ScenarioResult is the outcome of one suite scenario.
type ScenarioResult struct {
	Scenario Scenario
	Output   string
	Duration time.Duration
	Err      error
}

// RunSuite executes every scenario of the suite through the harness, with
// bounded concurrency and an optional global request rate limit. It returns
// per-scenario results in config order and a non-nil error only when the run
// itself aborted (fail-fast or context cancellation).
func (h *Harness) RunSuite(ctx context.Context, cfg SuiteConfig, opts SuiteOptions) ([]ScenarioResult, error) {
	logger := h.logger()

	// Resolve per-suite defaults on a copy so they never leak into the
	// shared harness.
	run := *h
	if run.ReferenceFile == "" {
		run.ReferenceFile = cfg.ReferenceFile
	}
	geomLoader := geometry.NewLoader(cfg.GeometryDir, logger)

	policy := worker.FailurePolicyPartialOutput
	if opts.FailFast {
		policy = worker.FailurePolicyFailFast
	}

	runOne := func(ctx context.Context, sc Scenario) (ScenarioResult, error) {
		start := time.Now()
		res := ScenarioResult{Scenario: sc}

		spec, outputPath, err := run.prepareScenario(cfg, sc, geomLoader)
		if err == nil {
			res.Output = outputPath
			tolerance := sc.Tolerance
			if tolerance <= 0 {
				tolerance = cfg.Tolerance
			}
			err = run.ExecuteAndAssert(ctx, spec, outputPath, sc.Name, tolerance)
		}
		res.Duration = time.Since(start)
		res.Err = err
		return res, err
	}

	results, err := worker.ProcessAll(ctx, cfg.Scenarios, runOne, worker.Options{
		Workers:        opts.Workers,
		RateLimitRPS:   opts.RateLimitRPS,
		RequestTimeout: opts.ScenarioTimeout,
		FailurePolicy:  policy,
	})
	if err != nil {
		return nil, err
	}

	out := make([]ScenarioResult, len(results))
	for i, r := range results {
		out[i] = r.Output
		out[i].Scenario = r.Input
		if out[i].Err == nil {
			out[i].Err = r.Err
		}
	}
	return out, nil
}

func (h *Harness) prepareScenario(cfg SuiteConfig, sc Scenario, geomLoader *geometry.Loader) (openeo.JobSpec, string, error) {
	graph, err := os.ReadFile(sc.ProcessGraph)
	if err != nil {
		return openeo.JobSpec{}, "", fmt.Errorf("read process graph for scenario %q: %w", sc.Name, err)
	}
	if !json.Valid(graph) {
		return openeo.JobSpec{}, "", fmt.Errorf("process graph for scenario %q is not valid JSON", sc.Name)
	}

	spec := openeo.JobSpec{ProcessGraph: graph}
	if strings.TrimSpace(sc.Geometry) != "" {
		geom, err := geomLoader.Load(sc.Geometry)
		if err != nil {
			return openeo.JobSpec{}, "", err
		}
		spec.Geometry = geom
	}

	output := strings.TrimSpace(sc.Output)
	if output == "" {
		output = sc.Name + ".nc"
	}
	return spec, filepath.Join(cfg.OutputDir, output), nil
}
