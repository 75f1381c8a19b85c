package regression

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/openeo-contrib/raster-regression/internal/raster"
	"github.com/openeo-contrib/raster-regression/internal/reference"
	"github.com/openeo-contrib/raster-regression/pkg/openeo"
)

// jobDescription tags every batch job submitted by the harness.
const jobDescription = "regression benchmarking"

// Harness executes regression scenarios against a backend.
type Harness struct {
	Client *openeo.Client
	// ReferenceFile is the shared ground-truth file; empty selects
	// reference.DefaultFile.
	ReferenceFile string
	// Tolerance is the relative tolerance for statistic comparison; zero
	// selects DefaultTolerance.
	Tolerance float64
	Logger    *log.Logger

	// PollInitial and PollMax bound the job status poll interval; zero values
	// select the client defaults.
	PollInitial time.Duration
	PollMax     time.Duration
}

func (h *Harness) logger() *log.Logger {
	if h.Logger != nil {
		return h.Logger
	}
	return log.New(os.Stderr, "", log.LstdFlags)
}

// ExecuteAndAssert executes the batch job, saves the result to outputPath, and
// asserts its band statistics against the reference data for scenarioName.
// A tolerance of zero selects the harness default.
//
// The five steps run synchronously: execute batch job, open the resulting
// dataset, calculate statistics, load reference statistics, compare. Any
// failure is logged with scenario context and returned unchanged.
func (h *Harness) ExecuteAndAssert(ctx context.Context, spec openeo.JobSpec, outputPath, scenarioName string, tolerance float64) error {
	logger := h.logger()

	if tolerance <= 0 {
		tolerance = h.Tolerance
	}
	if tolerance <= 0 {
		tolerance = DefaultTolerance
	}

	spec.Title = scenarioName
	spec.Description = jobDescription
	// Copy the options so the default never leaks into the caller's map.
	opts := make(map[string]any, len(spec.JobOptions)+1)
	for k, v := range spec.JobOptions {
		opts[k] = v
	}
	if _, ok := opts["driver-memory"]; !ok {
		opts["driver-memory"] = "1g"
	}
	spec.JobOptions = opts

	err := h.run(ctx, spec, outputPath, scenarioName, tolerance, logger)
	if err != nil {
		logger.Printf("error during execution and assertion for scenario %q: %v", scenarioName, err)
	}
	return err
}

func (h *Harness) run(ctx context.Context, spec openeo.JobSpec, outputPath, scenarioName string, tolerance float64, logger *log.Logger) error {
	job := openeo.NewBatchJob(h.Client, spec, logger)
	job.PollInitial = h.PollInitial
	job.PollMax = h.PollMax
	if err := job.ExecuteBatch(ctx, outputPath); err != nil {
		return err
	}

	ds, err := raster.Open(outputPath, logger)
	if err != nil {
		return err
	}
	defer ds.Close()

	outputStats, err := raster.CalculateBandStatistics(ds, logger)
	if err != nil {
		return err
	}

	groundtruth, err := reference.Load(h.ReferenceFile, scenarioName, logger)
	if err != nil {
		return err
	}

	return CompareBandStatistics(outputStats, groundtruth, tolerance, logger)
}
