package openeo_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/openeo-contrib/raster-regression/internal/mockopeneo"
	"github.com/openeo-contrib/raster-regression/pkg/openeo"
)

const testGraph = `{"load": {"process_id": "load_collection", "arguments": {}, "result": true}}`

func newTestClient(t *testing.T, srv *mockopeneo.Server, token string) *openeo.Client {
	t.Helper()
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	client, err := openeo.NewClient(ts.URL+mockopeneo.BasePath, token, "")
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return client
}

func discard() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func TestCreateStartDescribe(t *testing.T) {
	t.Parallel()

	srv := mockopeneo.New("")
	client := newTestClient(t, srv, "secret")
	ctx := context.Background()

	jobID, err := client.CreateJob(ctx, openeo.JobSpec{
		ProcessGraph: json.RawMessage(testGraph),
		Title:        "max_ndvi",
		JobOptions:   map[string]any{"driver-memory": "1g"},
	})
	if err != nil {
		t.Fatalf("create job: %v", err)
	}
	if jobID == "" {
		t.Fatal("expected a job id")
	}

	info, err := client.DescribeJob(ctx, jobID)
	if err != nil {
		t.Fatalf("describe job: %v", err)
	}
	if info.Status != openeo.StatusCreated {
		t.Fatalf("status = %q, want created", info.Status)
	}

	if err := client.StartJob(ctx, jobID); err != nil {
		t.Fatalf("start job: %v", err)
	}
	info, err = client.DescribeJob(ctx, jobID)
	if err != nil {
		t.Fatalf("describe started job: %v", err)
	}
	if info.Status == openeo.StatusCreated {
		t.Fatalf("started job still reports status created")
	}
}

func TestCreateJob_RequiresProcessGraph(t *testing.T) {
	t.Parallel()

	srv := mockopeneo.New("")
	client := newTestClient(t, srv, "")

	_, err := client.CreateJob(context.Background(), openeo.JobSpec{})
	if err == nil {
		t.Fatal("expected error for missing process graph")
	}
}

func TestAuthEnforcement(t *testing.T) {
	t.Parallel()

	srv := mockopeneo.New("")
	srv.RequireBearerToken("right-token")
	client := newTestClient(t, srv, "wrong-token")

	_, err := client.CreateJob(context.Background(), openeo.JobSpec{
		ProcessGraph: json.RawMessage(testGraph),
	})
	var ae *openeo.APIError
	if !errors.As(err, &ae) {
		t.Fatalf("expected *APIError, got %v", err)
	}
	if ae.StatusCode != 401 {
		t.Fatalf("status = %d, want 401", ae.StatusCode)
	}
}

func TestExecuteBatch_DownloadsResult(t *testing.T) {
	t.Parallel()

	payload := []byte("netcdf-bytes")
	srv := mockopeneo.New("")
	srv.SetResult("scenario-a", payload)
	client := newTestClient(t, srv, "")

	job := openeo.NewBatchJob(client, openeo.JobSpec{
		ProcessGraph: json.RawMessage(testGraph),
		Title:        "scenario-a",
	}, discard())
	job.PollInitial = time.Millisecond
	job.PollMax = 5 * time.Millisecond

	outputPath := filepath.Join(t.TempDir(), "out.nc")
	if err := job.ExecuteBatch(context.Background(), outputPath); err != nil {
		t.Fatalf("execute batch: %v", err)
	}

	got, err := os.ReadFile(outputPath)
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	if string(got) != string(payload) {
		t.Fatalf("output = %q, want %q", got, payload)
	}
}

func TestListResultAssets_SortedByName(t *testing.T) {
	t.Parallel()

	srv := mockopeneo.New("")
	srv.SetResult("scenario-e", []byte("netcdf-bytes"))
	srv.SetSidecarAsset("scenario-e", "a-metadata.json", "application/json", []byte("{}"))
	srv.SetSidecarAsset("scenario-e", "z-thumb.png", "image/png", []byte("png-bytes"))
	client := newTestClient(t, srv, "")
	ctx := context.Background()

	jobID, err := client.CreateJob(ctx, openeo.JobSpec{
		ProcessGraph: json.RawMessage(testGraph),
		Title:        "scenario-e",
	})
	if err != nil {
		t.Fatalf("create job: %v", err)
	}
	if err := client.StartJob(ctx, jobID); err != nil {
		t.Fatalf("start job: %v", err)
	}
	for i := 0; i < 10; i++ {
		info, err := client.DescribeJob(ctx, jobID)
		if err != nil {
			t.Fatalf("describe job: %v", err)
		}
		if info.Status == openeo.StatusFinished {
			break
		}
	}

	want := []string{"a-metadata.json", "openEO.nc", "z-thumb.png"}
	for i := 0; i < 20; i++ {
		assets, err := client.ListResultAssets(ctx, jobID)
		if err != nil {
			t.Fatalf("list result assets: %v", err)
		}
		if len(assets) != len(want) {
			t.Fatalf("got %d assets, want %d", len(assets), len(want))
		}
		for j, a := range assets {
			if a.Name != want[j] {
				t.Fatalf("asset %d = %q, want %q", j, a.Name, want[j])
			}
		}
	}
}

func TestExecuteBatch_PicksNetCDFAmongSidecarAssets(t *testing.T) {
	t.Parallel()

	payload := []byte("netcdf-bytes")
	srv := mockopeneo.New("")
	srv.SetResult("scenario-f", payload)
	srv.SetSidecarAsset("scenario-f", "a-metadata.json", "application/json", []byte(`{"bands": ["B02"]}`))
	srv.SetSidecarAsset("scenario-f", "z-thumb.png", "image/png", []byte("png-bytes"))
	client := newTestClient(t, srv, "")

	// Repeat so a selection that depended on JSON object iteration order
	// would surface here.
	for i := 0; i < 20; i++ {
		job := openeo.NewBatchJob(client, openeo.JobSpec{
			ProcessGraph: json.RawMessage(testGraph),
			Title:        "scenario-f",
		}, discard())
		job.PollInitial = time.Millisecond
		job.PollMax = 5 * time.Millisecond

		outputPath := filepath.Join(t.TempDir(), "out.nc")
		if err := job.ExecuteBatch(context.Background(), outputPath); err != nil {
			t.Fatalf("execute batch: %v", err)
		}
		got, err := os.ReadFile(outputPath)
		if err != nil {
			t.Fatalf("read output: %v", err)
		}
		if string(got) != string(payload) {
			t.Fatalf("output = %q, want the NetCDF asset %q", got, payload)
		}
	}
}

func TestExecuteBatch_JobError(t *testing.T) {
	t.Parallel()

	srv := mockopeneo.New("")
	srv.FailJobsTitled("scenario-b")
	client := newTestClient(t, srv, "")

	job := openeo.NewBatchJob(client, openeo.JobSpec{
		ProcessGraph: json.RawMessage(testGraph),
		Title:        "scenario-b",
	}, discard())
	job.PollInitial = time.Millisecond
	job.PollMax = 5 * time.Millisecond

	err := job.ExecuteBatch(context.Background(), filepath.Join(t.TempDir(), "out.nc"))
	if err == nil {
		t.Fatal("expected error for failed job")
	}
}

func TestExecuteBatch_ContextCancel(t *testing.T) {
	t.Parallel()

	srv := mockopeneo.New("")
	srv.SetFinishAfterPolls(1000)
	srv.SetResult("scenario-c", []byte("unused"))
	client := newTestClient(t, srv, "")

	job := openeo.NewBatchJob(client, openeo.JobSpec{
		ProcessGraph: json.RawMessage(testGraph),
		Title:        "scenario-c",
	}, discard())
	job.PollInitial = time.Millisecond
	job.PollMax = 2 * time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := job.ExecuteBatch(ctx, filepath.Join(t.TempDir(), "out.nc"))
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected context deadline error, got %v", err)
	}
}
