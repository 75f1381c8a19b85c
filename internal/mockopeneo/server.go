// Package mockopeneo implements a minimal openEO-like batch-job API surface
// for tests and local development.
package mockopeneo

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
)

// BasePath is the API root the mock serves under.
const BasePath = "/openeo/1.2"

const assetName = "openEO.nc"

// Call records a request made to the mock backend.
type Call struct {
	Method string
	Path   string
}

type jobState struct {
	id          string
	title       string
	description string
	options     map[string]any
	status      string
	polls       int
}

// Server implements the job lifecycle: create, start, poll, download results.
type Server struct {
	resultsDir string

	mu      sync.Mutex
	calls   []Call
	nextJob int
	jobs    map[string]*jobState

	expectedAuthorization string

	// finishAfterPolls is how many describe calls a started job spends in
	// "running" before turning "finished".
	finishAfterPolls int

	// results maps job title to canned result bytes, overriding resultsDir.
	results map[string][]byte

	// sidecars maps job title to extra named assets served next to the
	// NetCDF result.
	sidecars map[string]map[string]sidecarAsset

	// failTitles marks job titles whose execution ends in status "error".
	failTitles map[string]bool
}

type sidecarAsset struct {
	contentType string
	bytes       []byte
}

// New constructs a mock backend. resultsDir optionally holds canned result
// files named "<job title>.nc".
func New(resultsDir string) *Server {
	return &Server{
		resultsDir:       resultsDir,
		nextJob:          1,
		jobs:             make(map[string]*jobState),
		finishAfterPolls: 1,
		results:          make(map[string][]byte),
		sidecars:         make(map[string]map[string]sidecarAsset),
		failTitles:       make(map[string]bool),
	}
}

// RequireBearerToken enforces that requests carry a matching Authorization
// header. An empty token disables enforcement.
func (s *Server) RequireBearerToken(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	token = strings.TrimSpace(token)
	if token == "" {
		s.expectedAuthorization = ""
		return
	}
	s.expectedAuthorization = "Bearer " + token
}

// SetFinishAfterPolls configures how many status polls a job stays running.
func (s *Server) SetFinishAfterPolls(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n < 0 {
		n = 0
	}
	s.finishAfterPolls = n
}

// SetResult registers canned result bytes for jobs with the given title.
func (s *Server) SetResult(title string, b []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results[title] = b
}

// SetSidecarAsset registers an extra named result asset (metadata, preview)
// listed alongside the NetCDF result for jobs with the given title.
func (s *Server) SetSidecarAsset(title, name, contentType string, b []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sidecars[title] == nil {
		s.sidecars[title] = make(map[string]sidecarAsset)
	}
	s.sidecars[title][name] = sidecarAsset{contentType: contentType, bytes: b}
}

// FailJobsTitled makes jobs with the given title end in status "error".
func (s *Server) FailJobsTitled(title string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failTitles[title] = true
}

// Calls returns a snapshot of requests made to the server.
func (s *Server) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Call, len(s.calls))
	copy(out, s.calls)
	return out
}

// Handler returns an http.Handler serving the mock API under BasePath.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(BasePath+"/jobs", s.handleJobs)
	mux.HandleFunc(BasePath+"/jobs/", s.handleJob)
	return mux
}

func (s *Server) recordCall(r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, Call{Method: r.Method, Path: r.URL.Path})
}

func (s *Server) authorize(w http.ResponseWriter, r *http.Request) bool {
	s.mu.Lock()
	expected := s.expectedAuthorization
	s.mu.Unlock()

	if expected == "" {
		return true
	}
	if r.Header.Get("Authorization") != expected {
		writeError(w, http.StatusUnauthorized, "AuthenticationRequired", "unauthorized")
		return false
	}
	return true
}

type createJobRequest struct {
	Process struct {
		ProcessGraph json.RawMessage `json:"process_graph"`
	} `json:"process"`
	Title       string         `json:"title"`
	Description string         `json:"description"`
	JobOptions  map[string]any `json:"job_options"`
}

func (s *Server) handleJobs(w http.ResponseWriter, r *http.Request) {
	s.recordCall(r)
	if !s.authorize(w, r) {
		return
	}
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "MethodNotAllowed", "method not allowed")
		return
	}

	var req createJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "ContentInvalid", "invalid job request body")
		return
	}
	if len(req.Process.ProcessGraph) == 0 {
		writeError(w, http.StatusBadRequest, "ProcessGraphMissing", "process graph is required")
		return
	}

	s.mu.Lock()
	id := fmt.Sprintf("job-%06d", s.nextJob)
	s.nextJob++
	s.jobs[id] = &jobState{
		id:          id,
		title:       req.Title,
		description: req.Description,
		options:     req.JobOptions,
		status:      "created",
	}
	s.mu.Unlock()

	w.Header().Set("OpenEO-Identifier", id)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(map[string]string{"id": id})
}

func (s *Server) handleJob(w http.ResponseWriter, r *http.Request) {
	s.recordCall(r)
	if !s.authorize(w, r) {
		return
	}

	rest := strings.TrimPrefix(r.URL.Path, BasePath+"/jobs/")
	parts := strings.Split(rest, "/")
	id := parts[0]
	if !isSafeToken(id) {
		writeError(w, http.StatusBadRequest, "JobIdInvalid", "invalid job id")
		return
	}

	switch {
	case len(parts) == 1 && r.Method == http.MethodGet:
		s.handleDescribe(w, id)
	case len(parts) == 2 && parts[1] == "results" && r.Method == http.MethodPost:
		s.handleStart(w, id)
	case len(parts) == 2 && parts[1] == "results" && r.Method == http.MethodGet:
		s.handleResults(w, id)
	case len(parts) == 4 && parts[1] == "results" && parts[2] == "assets" && r.Method == http.MethodGet:
		s.handleAsset(w, id, parts[3])
	default:
		http.NotFound(w, r)
	}
}

func (s *Server) handleStart(w http.ResponseWriter, id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		writeError(w, http.StatusNotFound, "JobNotFound", "unknown job")
		return
	}
	if job.status != "created" {
		writeError(w, http.StatusBadRequest, "JobLocked", "job already started")
		return
	}
	job.status = "queued"
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleDescribe(w http.ResponseWriter, id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		writeError(w, http.StatusNotFound, "JobNotFound", "unknown job")
		return
	}

	// Advance the lifecycle one step per poll: queued -> running -> finished.
	switch job.status {
	case "queued":
		job.status = "running"
	case "running":
		job.polls++
		if job.polls >= s.finishAfterPolls {
			if s.failTitles[job.title] {
				job.status = "error"
			} else {
				job.status = "finished"
			}
		}
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"id":     job.id,
		"title":  job.title,
		"status": job.status,
	})
}

func (s *Server) handleResults(w http.ResponseWriter, id string) {
	s.mu.Lock()
	job, ok := s.jobs[id]
	var status, title string
	if ok {
		status = job.status
		title = job.title
	}
	extras := make(map[string]sidecarAsset, len(s.sidecars[title]))
	for name, a := range s.sidecars[title] {
		extras[name] = a
	}
	s.mu.Unlock()
	if !ok {
		writeError(w, http.StatusNotFound, "JobNotFound", "unknown job")
		return
	}
	if status != "finished" {
		writeError(w, http.StatusBadRequest, "JobNotFinished", "job results are not ready")
		return
	}

	assets := map[string]any{
		assetName: map[string]string{
			"href": assetHref(id, assetName),
			"type": "application/x-netcdf",
		},
	}
	for name, a := range extras {
		assets[name] = map[string]string{
			"href": assetHref(id, name),
			"type": a.contentType,
		}
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"assets": assets})
}

func assetHref(id, name string) string {
	return fmt.Sprintf("%s/jobs/%s/results/assets/%s", BasePath, id, name)
}

func (s *Server) handleAsset(w http.ResponseWriter, id, name string) {
	s.mu.Lock()
	job, ok := s.jobs[id]
	var title string
	if ok {
		title = job.title
	}
	canned, hasCanned := s.results[title]
	sidecar, hasSidecar := s.sidecars[title][name]
	resultsDir := s.resultsDir
	s.mu.Unlock()
	if !ok {
		writeError(w, http.StatusNotFound, "JobNotFound", "unknown job")
		return
	}

	if name != assetName {
		if !hasSidecar {
			writeError(w, http.StatusNotFound, "AssetNotFound", "unknown asset")
			return
		}
		w.Header().Set("Content-Type", sidecar.contentType)
		_, _ = w.Write(sidecar.bytes)
		return
	}

	if hasCanned {
		w.Header().Set("Content-Type", "application/x-netcdf")
		_, _ = w.Write(canned)
		return
	}

	p := filepath.Join(resultsDir, title+".nc")
	b, err := os.ReadFile(p)
	if err != nil {
		writeError(w, http.StatusNotFound, "ResultMissing", fmt.Sprintf("no canned result for title %q", title))
		return
	}
	w.Header().Set("Content-Type", "application/x-netcdf")
	_, _ = w.Write(b)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"code":    code,
		"message": message,
	})
}

var safeTokenRe = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)

func isSafeToken(s string) bool {
	return s != "" && safeTokenRe.MatchString(s)
}
