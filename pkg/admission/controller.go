// Package admission decides whether a submission becomes a job record.
// Checks run in a fixed order and short-circuit on the first refusal:
// per-address daily quota, global pending-queue depth, content-quality
// probe, then record creation.
package admission

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/blogcast/blogcast/pkg/clock"
	"github.com/blogcast/blogcast/pkg/config"
	"github.com/blogcast/blogcast/pkg/models"
	"github.com/blogcast/blogcast/pkg/probe"
)

// Category classifies a refusal for HTTP status mapping.
type Category string

// Refusal categories.
const (
	CategoryRateLimited      Category = "rate_limited"
	CategoryQueueFull        Category = "queue_full"
	CategoryQualityTooLow    Category = "quality_too_low"
	CategoryProbeUnavailable Category = "probe_unavailable"
	CategoryInvalidURL       Category = "invalid_url"
)

// Refusal is the domain error for a rejected submission. No record is
// created when a Refusal is returned.
type Refusal struct {
	Category Category
	Reason   string
}

func (r *Refusal) Error() string {
	return fmt.Sprintf("submission refused (%s): %s", r.Category, r.Reason)
}

// AsRefusal unwraps err into a Refusal, if it is one.
func AsRefusal(err error) (*Refusal, bool) {
	var r *Refusal
	ok := errors.As(err, &r)
	return r, ok
}

// Store is the record-store surface admission needs.
type Store interface {
	CountRecentByIP(ctx context.Context, ip string, since time.Time) (int, error)
	CountByStatus(ctx context.Context, status models.Status) (int, error)
	CreateJob(ctx context.Context, jobURL, clientIP string, expiresAt time.Time) (*models.Job, error)
}

// Prober is the content-quality probe surface admission needs.
type Prober interface {
	Probe(ctx context.Context, candidateURL string) (probe.Result, error)
}

// Controller enforces the admission rules.
type Controller struct {
	store  Store
	prober Prober
	cfg    *config.AdmissionConfig
	clock  clock.Clock
}

// NewController creates an admission controller.
func NewController(store Store, prober Prober, cfg *config.AdmissionConfig, clk clock.Clock) *Controller {
	if store == nil {
		panic("NewController: store must not be nil")
	}
	if prober == nil {
		panic("NewController: prober must not be nil")
	}
	return &Controller{store: store, prober: prober, cfg: cfg, clock: clk}
}

// Admit runs the refusal chain and creates the pending record on success.
func (c *Controller) Admit(ctx context.Context, jobURL, clientIP string) (*models.Job, error) {
	if err := validateURL(jobURL); err != nil {
		return nil, &Refusal{Category: CategoryInvalidURL, Reason: err.Error()}
	}

	now := c.clock.Now()

	// 1. Per-address daily quota. Counts every submission in the window,
	// including failed and cancelled jobs.
	recent, err := c.store.CountRecentByIP(ctx, clientIP, now.Add(-24*time.Hour))
	if err != nil {
		return nil, fmt.Errorf("count recent submissions: %w", err)
	}
	if recent >= c.cfg.RateLimitPerDay {
		return nil, &Refusal{
			Category: CategoryRateLimited,
			Reason:   fmt.Sprintf("daily limit exceeded: %d submissions in the last 24h", recent),
		}
	}

	// 2. Global queue depth.
	pending, err := c.store.CountByStatus(ctx, models.StatusPending)
	if err != nil {
		return nil, fmt.Errorf("count pending jobs: %w", err)
	}
	if pending >= c.cfg.MaxQueueSize {
		return nil, &Refusal{
			Category: CategoryQueueFull,
			Reason:   fmt.Sprintf("queue full: %d jobs pending", pending),
		}
	}

	// 3. Content-quality probe. A probe transport failure and a too-short
	// summary are distinct refusal categories; both are final.
	result, probeErr := c.prober.Probe(ctx, jobURL)
	if probeErr != nil {
		return nil, &Refusal{Category: CategoryProbeUnavailable, Reason: result.Reason}
	}
	if !result.Accepted {
		return nil, &Refusal{Category: CategoryQualityTooLow, Reason: result.Reason}
	}

	// 4. Create the record.
	job, err := c.store.CreateJob(ctx, jobURL, clientIP, now.Add(c.cfg.ExpiryWindow))
	if err != nil {
		return nil, fmt.Errorf("create job record: %w", err)
	}
	return job, nil
}

func validateURL(raw string) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fmt.Errorf("url is required")
	}
	if len(raw) > models.MaxURLLength {
		return fmt.Errorf("url exceeds %d characters", models.MaxURLLength)
	}
	parsed, err := url.Parse(raw)
	if err != nil || parsed.Host == "" || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return fmt.Errorf("url must be absolute http(s)")
	}
	return nil
}
