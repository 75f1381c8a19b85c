package openeo

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"sort"
	"strings"
	"time"
)

// Client is a minimal HTTP client for the batch-job endpoints used by this harness.
//
// Note: This is intentionally minimal to support regression runs + the local mock backend.
type Client struct {
	baseURL *url.URL
	token   string
	http    *http.Client
}

// NewClient constructs a client for an openEO backend base URL.
//
// baseURL should look like "https://<backend>/openeo/1.2".
// defaultCAPath is optional and, when provided, is used as the trust store for TLS.
func NewClient(baseURL, token, defaultCAPath string) (*Client, error) {
	base, err := parseBaseURL(baseURL)
	if err != nil {
		return nil, err
	}
	hc, err := newHTTPClient(defaultCAPath)
	if err != nil {
		return nil, err
	}
	return &Client{
		baseURL: base,
		token:   strings.TrimSpace(token),
		http:    hc,
	}, nil
}

func parseBaseURL(raw string) (*url.URL, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("backend base URL is required")
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse backend base URL: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("backend base URL must include a host (got %q)", raw)
	}
	// Ensure the base path ends with a slash so ResolveReference treats it as a directory.
	u.Path = strings.TrimRight(u.Path, "/") + "/"
	u.RawQuery = ""
	u.Fragment = ""
	return u, nil
}

func newHTTPClient(defaultCAPath string) (*http.Client, error) {
	tr := http.DefaultTransport.(*http.Transport).Clone()
	if strings.TrimSpace(defaultCAPath) != "" {
		b, err := os.ReadFile(strings.TrimSpace(defaultCAPath))
		if err != nil {
			return nil, fmt.Errorf("read DEFAULT_CA_PATH file: %w", err)
		}
		pool := x509.NewCertPool()
		if ok := pool.AppendCertsFromPEM(b); !ok {
			return nil, fmt.Errorf("parse DEFAULT_CA_PATH PEM: no certs found")
		}
		tr.TLSClientConfig = &tls.Config{RootCAs: pool, MinVersion: tls.VersionTLS12}
	}
	return &http.Client{
		Transport: tr,
		Timeout:   60 * time.Second,
	}, nil
}

// JobStatus values defined by the openEO batch-job lifecycle.
const (
	StatusCreated  = "created"
	StatusQueued   = "queued"
	StatusRunning  = "running"
	StatusFinished = "finished"
	StatusError    = "error"
	StatusCanceled = "canceled"
)

// JobInfo is the subset of job metadata the harness needs.
type JobInfo struct {
	ID       string  `json:"id"`
	Title    string  `json:"title"`
	Status   string  `json:"status"`
	Progress float64 `json:"progress"`
}

type createJobRequest struct {
	Process     processWrapper `json:"process"`
	Title       string         `json:"title,omitempty"`
	Description string         `json:"description,omitempty"`
	JobOptions  map[string]any `json:"job_options,omitempty"`
}

type processWrapper struct {
	ProcessGraph json.RawMessage `json:"process_graph"`
}

type createJobResponse struct {
	ID string `json:"id"`
}

// CreateJob registers a batch job on the backend and returns its job id.
// The job is not started; see StartJob.
func (c *Client) CreateJob(ctx context.Context, spec JobSpec) (string, error) {
	if len(spec.ProcessGraph) == 0 {
		return "", fmt.Errorf("process graph is required")
	}

	body := createJobRequest{
		Process:     processWrapper{ProcessGraph: spec.ProcessGraph},
		Title:       strings.TrimSpace(spec.Title),
		Description: strings.TrimSpace(spec.Description),
		JobOptions:  spec.JobOptions,
	}
	b, err := json.Marshal(body)
	if err != nil {
		return "", err
	}

	u := c.resolve("jobs")
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(b))
	if err != nil {
		return "", err
	}
	c.setHeaders(req)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	rb, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode/100 != 2 {
		return "", newAPIError("createJob", resp, rb)
	}

	// Backends return the id in the OpenEO-Identifier header on 201; some mocks
	// also (or only) include it in a JSON body.
	if id := strings.TrimSpace(resp.Header.Get("OpenEO-Identifier")); id != "" {
		return id, nil
	}
	var out createJobResponse
	if len(rb) > 0 {
		if err := json.Unmarshal(rb, &out); err != nil {
			return "", fmt.Errorf("parse create job response: %w", err)
		}
	}
	if strings.TrimSpace(out.ID) == "" {
		return "", fmt.Errorf("create job response missing job id")
	}
	return strings.TrimSpace(out.ID), nil
}

// StartJob queues a created batch job for processing.
func (c *Client) StartJob(ctx context.Context, jobID string) error {
	jobID = strings.TrimSpace(jobID)
	if jobID == "" {
		return fmt.Errorf("job id is required")
	}

	u := c.resolve(fmt.Sprintf("jobs/%s/results", url.PathEscape(jobID)))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), nil)
	if err != nil {
		return err
	}
	c.setHeaders(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	rb, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode/100 != 2 {
		return newAPIError("startJob", resp, rb)
	}
	return nil
}

// DescribeJob fetches current job metadata, including its lifecycle status.
func (c *Client) DescribeJob(ctx context.Context, jobID string) (JobInfo, error) {
	jobID = strings.TrimSpace(jobID)
	if jobID == "" {
		return JobInfo{}, fmt.Errorf("job id is required")
	}

	u := c.resolve(fmt.Sprintf("jobs/%s", url.PathEscape(jobID)))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return JobInfo{}, err
	}
	c.setHeaders(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return JobInfo{}, err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	rb, err := io.ReadAll(resp.Body)
	if err != nil {
		return JobInfo{}, err
	}
	if resp.StatusCode/100 != 2 {
		return JobInfo{}, newAPIError("describeJob", resp, rb)
	}

	var out JobInfo
	if err := json.Unmarshal(rb, &out); err != nil {
		return JobInfo{}, fmt.Errorf("parse describe job response: %w", err)
	}
	out.Status = strings.ToLower(strings.TrimSpace(out.Status))
	return out, nil
}

// Asset is one downloadable result file of a finished batch job.
type Asset struct {
	Name string
	Href string
	Type string
}

type resultsResponse struct {
	Assets map[string]struct {
		Href string `json:"href"`
		Type string `json:"type"`
	} `json:"assets"`
}

// ListResultAssets lists the result assets of a finished job.
func (c *Client) ListResultAssets(ctx context.Context, jobID string) ([]Asset, error) {
	jobID = strings.TrimSpace(jobID)
	if jobID == "" {
		return nil, fmt.Errorf("job id is required")
	}

	u := c.resolve(fmt.Sprintf("jobs/%s/results", url.PathEscape(jobID)))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	c.setHeaders(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	rb, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode/100 != 2 {
		return nil, newAPIError("listResultAssets", resp, rb)
	}

	var out resultsResponse
	if err := json.Unmarshal(rb, &out); err != nil {
		return nil, fmt.Errorf("parse job results response: %w", err)
	}
	assets := make([]Asset, 0, len(out.Assets))
	for name, a := range out.Assets {
		href := strings.TrimSpace(a.Href)
		if href == "" {
			continue
		}
		assets = append(assets, Asset{Name: name, Href: href, Type: strings.TrimSpace(a.Type)})
	}
	if len(assets) == 0 {
		return nil, fmt.Errorf("job %s has no downloadable result assets", jobID)
	}
	// The assets arrive as a JSON object; sort by name so callers see a
	// deterministic order.
	sort.Slice(assets, func(i, j int) bool { return assets[i].Name < assets[j].Name })
	return assets, nil
}

// DownloadAsset streams one result asset to destPath.
func (c *Client) DownloadAsset(ctx context.Context, asset Asset, destPath string) error {
	href := strings.TrimSpace(asset.Href)
	if href == "" {
		return fmt.Errorf("asset href is required")
	}
	u, err := url.Parse(href)
	if err != nil {
		return fmt.Errorf("parse asset href: %w", err)
	}
	if !u.IsAbs() {
		u = c.baseURL.ResolveReference(u)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return err
	}
	c.setHeaders(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode/100 != 2 {
		rb, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return newAPIError("downloadAsset", resp, rb)
	}

	f, err := os.Create(destPath)
	if err != nil {
		return fmt.Errorf("create output file %s: %w", destPath, err)
	}
	if _, err := io.Copy(f, resp.Body); err != nil {
		_ = f.Close()
		return fmt.Errorf("write output file %s: %w", destPath, err)
	}
	return f.Close()
}

func (c *Client) setHeaders(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	req.Header.Set("Accept", "application/json")
}

func (c *Client) resolve(relPath string) *url.URL {
	relPath = strings.TrimPrefix(relPath, "/")
	rel := &url.URL{Path: relPath}
	return c.baseURL.ResolveReference(rel)
}
