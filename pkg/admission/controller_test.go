package admission

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blogcast/blogcast/pkg/clock"
	"github.com/blogcast/blogcast/pkg/config"
	"github.com/blogcast/blogcast/pkg/models"
	"github.com/blogcast/blogcast/pkg/probe"
)

type fakeAdmissionStore struct {
	recentByIP   int
	pendingCount int
	countErr     error

	created     *models.Job
	createErr   error
	lastIP      string
	lastExpires time.Time
	lastSince   time.Time
}

func (f *fakeAdmissionStore) CountRecentByIP(_ context.Context, ip string, since time.Time) (int, error) {
	f.lastIP = ip
	f.lastSince = since
	return f.recentByIP, f.countErr
}

func (f *fakeAdmissionStore) CountByStatus(_ context.Context, _ models.Status) (int, error) {
	return f.pendingCount, f.countErr
}

func (f *fakeAdmissionStore) CreateJob(_ context.Context, jobURL, clientIP string, expiresAt time.Time) (*models.Job, error) {
	if f.createErr != nil {
		return nil, f.createErr
	}
	f.lastExpires = expiresAt
	f.created = &models.Job{ID: "new1", URL: jobURL, Status: models.StatusPending, ClientIP: clientIP}
	return f.created, nil
}

type fakeProber struct {
	result probe.Result
	err    error
}

func (f *fakeProber) Probe(context.Context, string) (probe.Result, error) {
	return f.result, f.err
}

func testConfig() *config.AdmissionConfig {
	return &config.AdmissionConfig{
		MaxQueueSize:    10,
		RateLimitPerDay: 5,
		ExpiryWindow:    24 * time.Hour,
	}
}

var testNow = time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)

func newTestController(st *fakeAdmissionStore, p *fakeProber) *Controller {
	return NewController(st, p, testConfig(), clock.NewFake(testNow))
}

func TestAdmitCreatesPendingJob(t *testing.T) {
	st := &fakeAdmissionStore{recentByIP: 0, pendingCount: 0}
	ctrl := newTestController(st, &fakeProber{result: probe.Result{Accepted: true}})

	job, err := ctrl.Admit(context.Background(), "https://example.com/post", "10.0.0.1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, job.Status)
	assert.Equal(t, "10.0.0.1", job.ClientIP)

	// Rate window looks back 24h; expiry looks forward the configured window.
	assert.Equal(t, testNow.Add(-24*time.Hour), st.lastSince)
	assert.Equal(t, testNow.Add(24*time.Hour), st.lastExpires)
}

func TestAdmitRateLimitBoundary(t *testing.T) {
	// 4 prior submissions: admitted. 5: refused.
	st := &fakeAdmissionStore{recentByIP: 4}
	ctrl := newTestController(st, &fakeProber{result: probe.Result{Accepted: true}})
	_, err := ctrl.Admit(context.Background(), "https://example.com/post", "10.0.0.1")
	require.NoError(t, err)

	st.recentByIP = 5
	_, err = ctrl.Admit(context.Background(), "https://example.com/post", "10.0.0.1")
	refusal, ok := AsRefusal(err)
	require.True(t, ok)
	assert.Equal(t, CategoryRateLimited, refusal.Category)
}

func TestAdmitQueueFullBoundary(t *testing.T) {
	st := &fakeAdmissionStore{pendingCount: 9}
	ctrl := newTestController(st, &fakeProber{result: probe.Result{Accepted: true}})
	_, err := ctrl.Admit(context.Background(), "https://example.com/post", "10.0.0.1")
	require.NoError(t, err)

	full := &fakeAdmissionStore{pendingCount: 10}
	ctrl = newTestController(full, &fakeProber{result: probe.Result{Accepted: true}})
	_, err = ctrl.Admit(context.Background(), "https://example.com/post", "10.0.0.1")
	refusal, ok := AsRefusal(err)
	require.True(t, ok)
	assert.Equal(t, CategoryQueueFull, refusal.Category)
	assert.Nil(t, full.created)
}

func TestAdmitRateLimitCheckedBeforeQueue(t *testing.T) {
	st := &fakeAdmissionStore{recentByIP: 5, pendingCount: 10}
	ctrl := newTestController(st, &fakeProber{result: probe.Result{Accepted: true}})

	_, err := ctrl.Admit(context.Background(), "https://example.com/post", "10.0.0.1")
	refusal, ok := AsRefusal(err)
	require.True(t, ok)
	assert.Equal(t, CategoryRateLimited, refusal.Category)
}

func TestAdmitQualityRefusal(t *testing.T) {
	st := &fakeAdmissionStore{}
	ctrl := newTestController(st, &fakeProber{result: probe.Result{
		Accepted: false,
		Reason:   "summary too short: 120 chars, need at least 200",
	}})

	_, err := ctrl.Admit(context.Background(), "https://example.com/post", "10.0.0.1")
	refusal, ok := AsRefusal(err)
	require.True(t, ok)
	assert.Equal(t, CategoryQualityTooLow, refusal.Category)
	assert.Contains(t, refusal.Reason, "summary too short")
	assert.Nil(t, st.created)
}

func TestAdmitProbeUnavailable(t *testing.T) {
	st := &fakeAdmissionStore{}
	ctrl := newTestController(st, &fakeProber{
		result: probe.Result{Reason: "summary service unreachable"},
		err:    fmt.Errorf("fetch summary: connection refused"),
	})

	_, err := ctrl.Admit(context.Background(), "https://example.com/post", "10.0.0.1")
	refusal, ok := AsRefusal(err)
	require.True(t, ok)
	assert.Equal(t, CategoryProbeUnavailable, refusal.Category)
	assert.Nil(t, st.created)
}

func TestAdmitInvalidURLs(t *testing.T) {
	ctrl := newTestController(&fakeAdmissionStore{}, &fakeProber{result: probe.Result{Accepted: true}})

	cases := []string{
		"",
		"   ",
		"not a url",
		"ftp://example.com/file",
		"/relative/path",
		"https://" + strings.Repeat("a", models.MaxURLLength) + ".com",
	}
	for _, raw := range cases {
		_, err := ctrl.Admit(context.Background(), raw, "10.0.0.1")
		refusal, ok := AsRefusal(err)
		require.True(t, ok, "url %q should be refused", raw)
		assert.Equal(t, CategoryInvalidURL, refusal.Category, "url %q", raw)
	}
}

func TestAdmitStoreErrorIsNotRefusal(t *testing.T) {
	st := &fakeAdmissionStore{countErr: fmt.Errorf("store down")}
	ctrl := newTestController(st, &fakeProber{result: probe.Result{Accepted: true}})

	_, err := ctrl.Admit(context.Background(), "https://example.com/post", "10.0.0.1")
	require.Error(t, err)
	_, ok := AsRefusal(err)
	assert.False(t, ok)
}
