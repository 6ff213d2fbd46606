// Package storage defines the persistence interface and its implementations.
package storage

import (
	"context"
	"errors"
	"time"

	"newscast/internal/model"
)

// ErrRunConflict is returned by CreateRun when the job already has a run in
// a non-terminal status.
var ErrRunConflict = errors.New("job already has a run in progress")

// Storage is the interface for all persistence operations.
type Storage interface {
	CreateJob(ctx context.Context, job *model.Job) error
	GetJob(ctx context.Context, id int64) (*model.Job, error)
	ListJobs(ctx context.Context, ownerID int64) ([]model.Job, error)
	ListDueJobs(ctx context.Context, now time.Time) ([]model.Job, error)
	UpdateJob(ctx context.Context, job *model.Job) error
	// UpdateJobClock persists the run bookkeeping fields only.
	UpdateJobClock(ctx context.Context, jobID int64, lastRunAt time.Time, nextRunAt *time.Time) error
	// PauseOwnerJobs sets every active job of the owner to paused and
	// returns how many were changed.
	PauseOwnerJobs(ctx context.Context, ownerID int64) (int, error)
	DeleteJob(ctx context.Context, id int64) error

	CreateRun(ctx context.Context, run *model.Run) error
	UpdateRun(ctx context.Context, run *model.Run) error
	GetRun(ctx context.Context, id string) (*model.Run, error)
	HasNonTerminalRun(ctx context.Context, jobID int64) (bool, error)
	ListRecentRuns(ctx context.Context, jobID int64, limit int) ([]model.Run, error)

	// RecordedURLs returns which of the given URLs are already in the
	// article ledger for the job.
	RecordedURLs(ctx context.Context, jobID int64, urls []string) (map[string]bool, error)
	// RecordURLs appends URLs to the job's ledger. Duplicates are ignored.
	RecordURLs(ctx context.Context, jobID int64, urls []string) error

	Close() error
}
