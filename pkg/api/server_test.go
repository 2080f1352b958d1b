package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blogcast/blogcast/pkg/admission"
	"github.com/blogcast/blogcast/pkg/clock"
	"github.com/blogcast/blogcast/pkg/config"
	"github.com/blogcast/blogcast/pkg/models"
	"github.com/blogcast/blogcast/pkg/probe"
	"github.com/blogcast/blogcast/pkg/queue"
	"github.com/blogcast/blogcast/pkg/store"
)

// fakeAPIStore backs both the handlers and the admission controller.
type fakeAPIStore struct {
	jobs map[string]*models.Job

	recentByIP   int
	pendingCount int

	patches map[string]store.Patch
	deleted []string
}

func newFakeAPIStore(jobs ...*models.Job) *fakeAPIStore {
	f := &fakeAPIStore{jobs: make(map[string]*models.Job), patches: make(map[string]store.Patch)}
	for _, j := range jobs {
		f.jobs[j.ID] = j
	}
	return f
}

func (f *fakeAPIStore) GetJob(_ context.Context, id string) (*models.Job, error) {
	job, ok := f.jobs[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return job, nil
}

func (f *fakeAPIStore) UpdateJob(_ context.Context, id string, patch store.Patch) (*models.Job, error) {
	job, ok := f.jobs[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	f.patches[id] = patch
	if status, ok := patch["status"].(models.Status); ok {
		job.Status = status
	}
	return job, nil
}

func (f *fakeAPIStore) DeleteJob(_ context.Context, id string) error {
	if _, ok := f.jobs[id]; !ok {
		return store.ErrNotFound
	}
	delete(f.jobs, id)
	f.deleted = append(f.deleted, id)
	return nil
}

func (f *fakeAPIStore) CountRecentByIP(context.Context, string, time.Time) (int, error) {
	return f.recentByIP, nil
}

func (f *fakeAPIStore) CountByStatus(context.Context, models.Status) (int, error) {
	return f.pendingCount, nil
}

func (f *fakeAPIStore) CreateJob(_ context.Context, jobURL, clientIP string, _ time.Time) (*models.Job, error) {
	job := &models.Job{ID: "new1", URL: jobURL, Status: models.StatusPending, ClientIP: clientIP}
	f.jobs[job.ID] = job
	return job, nil
}

type fakeAPIProber struct {
	result probe.Result
	err    error
}

func (f *fakeAPIProber) Probe(context.Context, string) (probe.Result, error) {
	return f.result, f.err
}

type fakePool struct {
	healthy   bool
	cancelled []string
	owns      bool
}

func (f *fakePool) Health(context.Context) *queue.PoolHealth {
	return &queue.PoolHealth{IsHealthy: f.healthy, StoreReachable: f.healthy, WorkerID: "worker-1", MaxConcurrent: 2}
}

func (f *fakePool) CancelJob(jobID string) bool {
	f.cancelled = append(f.cancelled, jobID)
	return f.owns
}

type serverOptions struct {
	prober   *fakeAPIProber
	pool     WorkerPool
	dataRoot string
}

func newTestServer(t *testing.T, st *fakeAPIStore, opts serverOptions) *Server {
	if opts.prober == nil {
		opts.prober = &fakeAPIProber{result: probe.Result{Accepted: true}}
	}
	if opts.dataRoot == "" {
		opts.dataRoot = t.TempDir()
	}
	clk := clock.NewFake(time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC))
	ctrl := admission.NewController(st, opts.prober, &config.AdmissionConfig{
		MaxQueueSize:    10,
		RateLimitPerDay: 5,
		ExpiryWindow:    24 * time.Hour,
	}, clk)
	return NewServer(st, ctrl, opts.pool, clk, opts.dataRoot)
}

func doJSON(t *testing.T, s *Server, method, path, body string) *httptest.ResponseRecorder {
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func TestSubmitCreatesJob(t *testing.T) {
	st := newFakeAPIStore()
	s := newTestServer(t, st, serverOptions{})

	w := doJSON(t, s, http.MethodPost, "/api/jobs", `{"url":"https://example.com/post"}`)
	require.Equal(t, http.StatusCreated, w.Code)

	body := decodeBody(t, w)
	assert.Equal(t, "new1", body["id"])
	assert.Equal(t, "pending", body["status"])
}

func TestSubmitMissingURL(t *testing.T) {
	s := newTestServer(t, newFakeAPIStore(), serverOptions{})

	w := doJSON(t, s, http.MethodPost, "/api/jobs", `{}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSubmitRefusalStatusCodes(t *testing.T) {
	cases := []struct {
		name     string
		store    *fakeAPIStore
		prober   *fakeAPIProber
		url      string
		wantCode int
		wantCat  string
	}{
		{
			name:     "rate limited",
			store:    &fakeAPIStore{jobs: map[string]*models.Job{}, patches: map[string]store.Patch{}, recentByIP: 5},
			url:      "https://example.com/post",
			wantCode: http.StatusTooManyRequests,
			wantCat:  "rate_limited",
		},
		{
			name:     "queue full",
			store:    &fakeAPIStore{jobs: map[string]*models.Job{}, patches: map[string]store.Patch{}, pendingCount: 10},
			url:      "https://example.com/post",
			wantCode: http.StatusServiceUnavailable,
			wantCat:  "queue_full",
		},
		{
			name:     "quality too low",
			store:    newFakeAPIStore(),
			prober:   &fakeAPIProber{result: probe.Result{Reason: "summary too short: 10 chars, need at least 200"}},
			url:      "https://example.com/post",
			wantCode: http.StatusBadRequest,
			wantCat:  "quality_too_low",
		},
		{
			name:     "probe unavailable",
			store:    newFakeAPIStore(),
			prober:   &fakeAPIProber{result: probe.Result{Reason: "summary service unreachable"}, err: fmt.Errorf("down")},
			url:      "https://example.com/post",
			wantCode: http.StatusBadGateway,
			wantCat:  "probe_unavailable",
		},
		{
			name:     "invalid url",
			store:    newFakeAPIStore(),
			url:      "ftp://example.com/file",
			wantCode: http.StatusBadRequest,
			wantCat:  "invalid_url",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := newTestServer(t, tc.store, serverOptions{prober: tc.prober})
			w := doJSON(t, s, http.MethodPost, "/api/jobs", `{"url":"`+tc.url+`"}`)
			assert.Equal(t, tc.wantCode, w.Code)
			body := decodeBody(t, w)
			assert.Equal(t, tc.wantCat, body["category"])
			assert.NotEmpty(t, body["error"])
		})
	}
}

func TestGetJob(t *testing.T) {
	st := newFakeAPIStore(&models.Job{ID: "job1", URL: "https://example.com/post", Status: models.StatusProcessing, Progress: 42})
	s := newTestServer(t, st, serverOptions{})

	w := doJSON(t, s, http.MethodGet, "/api/jobs/job1", "")
	require.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, "processing", body["status"])
	assert.Equal(t, float64(42), body["progress"])
}

func TestGetJobNotFound(t *testing.T) {
	s := newTestServer(t, newFakeAPIStore(), serverOptions{})

	w := doJSON(t, s, http.MethodGet, "/api/jobs/missing", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCancelPendingJob(t *testing.T) {
	st := newFakeAPIStore(&models.Job{ID: "job1", Status: models.StatusPending})
	s := newTestServer(t, st, serverOptions{})

	w := doJSON(t, s, http.MethodPost, "/api/jobs/job1/cancel", "")
	require.Equal(t, http.StatusOK, w.Code)

	patch := st.patches["job1"]
	require.NotNil(t, patch)
	assert.Equal(t, models.StatusCancelled, patch["status"])
	assert.NotEmpty(t, patch["completed_at"])

	body := decodeBody(t, w)
	assert.Equal(t, "cancelled", body["status"])
	assert.Nil(t, body["interrupted"])
}

func TestCancelLocallyRunningJobInterrupts(t *testing.T) {
	st := newFakeAPIStore(&models.Job{ID: "job1", Status: models.StatusProcessing})
	pool := &fakePool{healthy: true, owns: true}
	s := newTestServer(t, st, serverOptions{pool: pool})

	w := doJSON(t, s, http.MethodPost, "/api/jobs/job1/cancel", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"job1"}, pool.cancelled)

	body := decodeBody(t, w)
	assert.Equal(t, true, body["interrupted"])
}

func TestCancelTerminalJobRejected(t *testing.T) {
	for _, status := range []models.Status{models.StatusCompleted, models.StatusFailed, models.StatusCancelled} {
		st := newFakeAPIStore(&models.Job{ID: "job1", Status: status})
		s := newTestServer(t, st, serverOptions{})

		w := doJSON(t, s, http.MethodPost, "/api/jobs/job1/cancel", "")
		assert.Equal(t, http.StatusBadRequest, w.Code, "status %s", status)
		assert.Empty(t, st.patches, "no write for terminal status %s", status)
	}
}

func TestDeleteJobRemovesRecordAndArtifacts(t *testing.T) {
	dataRoot := t.TempDir()
	jobDir := filepath.Join(dataRoot, "jobs", "job1")
	require.NoError(t, os.MkdirAll(jobDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(jobDir, "output_ja.mp4"), []byte("video"), 0o644))

	st := newFakeAPIStore(&models.Job{ID: "job1", Status: models.StatusCompleted})
	s := newTestServer(t, st, serverOptions{dataRoot: dataRoot})

	w := doJSON(t, s, http.MethodDelete, "/api/jobs/job1", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"job1"}, st.deleted)
	assert.NoDirExists(t, jobDir)
}

// seedVideo creates a completed job whose artifact holds content.
func seedVideo(t *testing.T, dataRoot, id, content string) *models.Job {
	jobDir := filepath.Join(dataRoot, "jobs", id)
	require.NoError(t, os.MkdirAll(jobDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(jobDir, "output_ja.mp4"), []byte(content), 0o644))
	return &models.Job{
		ID:        id,
		Status:    models.StatusCompleted,
		VideoPath: "jobs/" + id + "/output_ja.mp4",
		VideoSize: int64(len(content)),
	}
}

func downloadWithRange(t *testing.T, s *Server, id, rangeHeader string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/api/jobs/"+id+"/download", nil)
	if rangeHeader != "" {
		req.Header.Set("Range", rangeHeader)
	}
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

func TestDownloadFullFile(t *testing.T) {
	dataRoot := t.TempDir()
	job := seedVideo(t, dataRoot, "job1", "0123456789")
	s := newTestServer(t, newFakeAPIStore(job), serverOptions{dataRoot: dataRoot})

	w := downloadWithRange(t, s, "job1", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "0123456789", w.Body.String())
	assert.Equal(t, "bytes", w.Header().Get("Accept-Ranges"))
	assert.Equal(t, "10", w.Header().Get("Content-Length"))
	assert.Equal(t, "video/mp4", w.Header().Get("Content-Type"))
}

func TestDownloadByteRanges(t *testing.T) {
	dataRoot := t.TempDir()
	job := seedVideo(t, dataRoot, "job1", "0123456789")
	s := newTestServer(t, newFakeAPIStore(job), serverOptions{dataRoot: dataRoot})

	cases := []struct {
		header    string
		wantBody  string
		wantRange string
	}{
		{"bytes=0-0", "0", "bytes 0-0/10"},
		{"bytes=2-5", "2345", "bytes 2-5/10"},
		{"bytes=5-", "56789", "bytes 5-9/10"},
		{"bytes=5-100", "56789", "bytes 5-9/10"},
		{"bytes=-3", "789", "bytes 7-9/10"},
	}
	for _, tc := range cases {
		t.Run(tc.header, func(t *testing.T) {
			w := downloadWithRange(t, s, "job1", tc.header)
			require.Equal(t, http.StatusPartialContent, w.Code)
			assert.Equal(t, tc.wantBody, w.Body.String())
			assert.Equal(t, tc.wantRange, w.Header().Get("Content-Range"))
			assert.Equal(t, fmt.Sprint(len(tc.wantBody)), w.Header().Get("Content-Length"))
		})
	}
}

func TestDownloadRangeBeyondEOF(t *testing.T) {
	dataRoot := t.TempDir()
	job := seedVideo(t, dataRoot, "job1", "0123456789")
	s := newTestServer(t, newFakeAPIStore(job), serverOptions{dataRoot: dataRoot})

	w := downloadWithRange(t, s, "job1", "bytes=10-20")
	require.Equal(t, http.StatusRequestedRangeNotSatisfiable, w.Code)
	assert.Equal(t, "bytes */10", w.Header().Get("Content-Range"))
}

func TestDownloadUnparseableRangeServesFullFile(t *testing.T) {
	dataRoot := t.TempDir()
	job := seedVideo(t, dataRoot, "job1", "0123456789")
	s := newTestServer(t, newFakeAPIStore(job), serverOptions{dataRoot: dataRoot})

	for _, header := range []string{"bytes=abc-def", "chunks=0-5", "bytes=5-2", "bytes=0-3,5-7"} {
		w := downloadWithRange(t, s, "job1", header)
		assert.Equal(t, http.StatusOK, w.Code, "header %q", header)
		assert.Equal(t, "0123456789", w.Body.String(), "header %q", header)
	}
}

func TestDownloadRejectsIncompleteJob(t *testing.T) {
	st := newFakeAPIStore(&models.Job{ID: "job1", Status: models.StatusProcessing})
	s := newTestServer(t, st, serverOptions{})

	w := downloadWithRange(t, s, "job1", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDownloadMissingFile(t *testing.T) {
	st := newFakeAPIStore(&models.Job{
		ID:        "job1",
		Status:    models.StatusCompleted,
		VideoPath: "jobs/job1/output_ja.mp4",
	})
	s := newTestServer(t, st, serverOptions{})

	w := downloadWithRange(t, s, "job1", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestParseRangeEscapingPathRejected(t *testing.T) {
	dataRoot := t.TempDir()
	s := newTestServer(t, newFakeAPIStore(&models.Job{
		ID:        "job1",
		Status:    models.StatusCompleted,
		VideoPath: "../../etc/passwd",
	}), serverOptions{dataRoot: dataRoot})

	w := downloadWithRange(t, s, "job1", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHealthWithoutWorkerRole(t *testing.T) {
	s := newTestServer(t, newFakeAPIStore(), serverOptions{})

	w := doJSON(t, s, http.MethodGet, "/api/health", "")
	require.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "server", body["role"])
}

func TestHealthUnhealthyPool(t *testing.T) {
	s := newTestServer(t, newFakeAPIStore(), serverOptions{pool: &fakePool{healthy: false}})

	w := doJSON(t, s, http.MethodGet, "/api/health", "")
	require.Equal(t, http.StatusServiceUnavailable, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, "unhealthy", body["status"])
}

func TestStatusPageNotFound(t *testing.T) {
	s := newTestServer(t, newFakeAPIStore(), serverOptions{})

	w := doJSON(t, s, http.MethodGet, "/jobs/missing", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), "Job not found")
}

func TestSubmitPageRenders(t *testing.T) {
	s := newTestServer(t, newFakeAPIStore(), serverOptions{})

	w := doJSON(t, s, http.MethodGet, "/jobs", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "Blogcast")
}
