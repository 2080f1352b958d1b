// Package queue provides the worker pool that claims pending jobs from the
// record store and drives their pipelines.
package queue

import (
	"context"

	"github.com/blogcast/blogcast/pkg/models"
	"github.com/blogcast/blogcast/pkg/pipeline"
	"github.com/blogcast/blogcast/pkg/store"
)

// Store is the record-store surface the worker pool needs. The shared
// store is the only coordination channel between replicas: claims are
// status updates re-verified by reading the record back.
type Store interface {
	GetJob(ctx context.Context, id string) (*models.Job, error)
	UpdateJob(ctx context.Context, id string, patch store.Patch) (*models.Job, error)
	ListByStatus(ctx context.Context, status models.Status, limit int) ([]*models.Job, error)
	CountByStatus(ctx context.Context, status models.Status) (int, error)
}

// PipelineRunner executes one job's pipeline. The runner persists the
// terminal state itself; pipeline.ErrCancelled signals that the cancelled
// status written by the endpoint must be left untouched.
type PipelineRunner interface {
	Run(ctx context.Context, job *models.Job, rep pipeline.Reporter) error
}

// PoolHealth is the worker pool's health snapshot for the API.
type PoolHealth struct {
	IsHealthy      bool   `json:"is_healthy"`
	StoreReachable bool   `json:"store_reachable"`
	StoreError     string `json:"store_error,omitempty"`
	WorkerID       string `json:"worker_id"`
	InFlight       int    `json:"in_flight"`
	MaxConcurrent  int    `json:"max_concurrent"`
	QueueDepth     int    `json:"queue_depth"`
	JobsProcessed  int    `json:"jobs_processed"`
}
