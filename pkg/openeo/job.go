package openeo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"os"
	"strings"
	"syscall"
	"time"
)

// JobSpec describes a configured but unexecuted batch job.
type JobSpec struct {
	// ProcessGraph is the openEO process graph to execute, as raw JSON.
	ProcessGraph json.RawMessage
	// Geometry optionally carries the GeoJSON the process graph aggregates over;
	// it is informational for the harness and not sent to the backend.
	Geometry any

	Title       string
	Description string
	JobOptions  map[string]any
}

// BatchJob binds a JobSpec to a client so it can be executed.
type BatchJob struct {
	client *Client
	spec   JobSpec
	logger *log.Logger

	// PollInitial and PollMax bound the status poll interval. Zero values
	// select defaults (1s initial, 30s cap).
	PollInitial time.Duration
	PollMax     time.Duration
}

// NewBatchJob wraps a job spec for execution on the given client.
// A nil logger falls back to stderr.
func NewBatchJob(client *Client, spec JobSpec, logger *log.Logger) *BatchJob {
	if logger == nil {
		logger = log.New(os.Stderr, "", log.LstdFlags)
	}
	return &BatchJob{client: client, spec: spec, logger: logger}
}

// Spec returns the underlying job spec.
func (j *BatchJob) Spec() JobSpec {
	return j.spec
}

// ExecuteBatch creates, starts and waits for the batch job, then downloads the
// NetCDF result asset to outputPath. It blocks until the job reaches a
// terminal status or ctx is done.
func (j *BatchJob) ExecuteBatch(ctx context.Context, outputPath string) error {
	var jobID string
	err := retryTransient(ctx, 5, 200*time.Millisecond, func() error {
		var err error
		jobID, err = j.client.CreateJob(ctx, j.spec)
		return err
	})
	if err != nil {
		return err
	}
	j.logger.Printf("created batch job id=%s title=%q", jobID, j.spec.Title)

	if err := retryTransient(ctx, 5, 200*time.Millisecond, func() error {
		return j.client.StartJob(ctx, jobID)
	}); err != nil {
		return err
	}
	j.logger.Printf("started batch job id=%s", jobID)

	info, err := j.waitForTerminal(ctx, jobID)
	if err != nil {
		return err
	}
	if info.Status != StatusFinished {
		return fmt.Errorf("batch job %s ended with status %q", jobID, info.Status)
	}

	var assets []Asset
	if err := retryTransient(ctx, 5, 200*time.Millisecond, func() error {
		var err error
		assets, err = j.client.ListResultAssets(ctx, jobID)
		return err
	}); err != nil {
		return err
	}
	asset := pickResultAsset(assets)
	if len(assets) > 1 {
		j.logger.Printf("job %s produced %d assets; downloading %q", jobID, len(assets), asset.Name)
	}

	if err := retryTransient(ctx, 5, 200*time.Millisecond, func() error {
		return j.client.DownloadAsset(ctx, asset, outputPath)
	}); err != nil {
		return err
	}
	j.logger.Printf("downloaded job %s results to %s", jobID, outputPath)
	return nil
}

// pickResultAsset chooses the asset to download. Jobs can publish sidecar
// files (metadata JSON, previews) next to the actual result; prefer the
// NetCDF asset and fall back to the first by name.
func pickResultAsset(assets []Asset) Asset {
	for _, a := range assets {
		if a.Type == "application/x-netcdf" || strings.HasSuffix(strings.ToLower(a.Name), ".nc") {
			return a
		}
	}
	return assets[0]
}

// waitForTerminal polls job status until finished/error/canceled. The poll
// interval backs off exponentially to PollMax and resets after transient poll
// failures recover.
func (j *BatchJob) waitForTerminal(ctx context.Context, jobID string) (JobInfo, error) {
	initial := j.PollInitial
	if initial <= 0 {
		initial = time.Second
	}
	max := j.PollMax
	if max <= 0 {
		max = 30 * time.Second
	}

	sleep := initial
	consecutiveFailures := 0
	lastStatus := ""
	for {
		if err := ctx.Err(); err != nil {
			return JobInfo{}, err
		}

		info, err := j.client.DescribeJob(ctx, jobID)
		if err != nil {
			if !isTransient(err) {
				return JobInfo{}, err
			}
			consecutiveFailures++
			if consecutiveFailures > 8 {
				return JobInfo{}, fmt.Errorf("poll job %s: %w", jobID, err)
			}
		} else {
			consecutiveFailures = 0
			if info.Status != lastStatus {
				j.logger.Printf("job %s status=%s", jobID, info.Status)
				lastStatus = info.Status
			}
			switch info.Status {
			case StatusFinished, StatusError, StatusCanceled:
				return info, nil
			}
		}

		t := time.NewTimer(sleep)
		select {
		case <-ctx.Done():
			t.Stop()
			return JobInfo{}, ctx.Err()
		case <-t.C:
		}
		if sleep < max {
			sleep *= 2
			if sleep > max {
				sleep = max
			}
		}
	}
}

func isTransient(err error) bool {
	if err == nil {
		return false
	}
	var ae *APIError
	if errors.As(err, &ae) {
		return ae.StatusCode == 429 || ae.StatusCode/100 == 5
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return ne.Timeout()
	}
	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED) {
		return true
	}
	// url.Error wraps its message; fall back to a substring check for EOF-ish
	// connection drops that do not expose a typed cause.
	return strings.Contains(err.Error(), "connection reset")
}

func retryTransient(ctx context.Context, attempts int, initialSleep time.Duration, f func() error) error {
	sleep := initialSleep
	var lastErr error
	for i := 0; i < attempts; i++ {
		if err := f(); err == nil {
			return nil
		} else {
			lastErr = err
			if !isTransient(err) || i == attempts-1 {
				return err
			}
		}

		t := time.NewTimer(sleep)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
		sleep *= 2
		if sleep > 2*time.Second {
			sleep = 2 * time.Second
		}
	}
	return lastErr
}
