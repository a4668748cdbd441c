package storage

import (
	"context"
	"errors"

	"testhive/pkg/models"
)

var (
	// ErrNotFound is returned when a job id has no record.
	ErrNotFound = errors.New("job not found")

	// ErrUnavailable wraps transient backing-store I/O failures. The
	// scheduler treats these as retriable on the next tick; the queue
	// surfaces them to the caller.
	ErrUnavailable = errors.New("store unavailable")
)

// JobStore is a persistent job_id -> job map. Put is atomic at the
// single-key level with read-your-writes semantics. Scan is not snapshot
// consistent: callers must re-Get a record before acting on it. All
// higher-level atomicity (dedup, status transitions) is built as
// read-modify-write on top of this contract.
type JobStore interface {
	// Put writes the record unconditionally.
	Put(ctx context.Context, job *models.Job) error

	// Get retrieves a job by id, or ErrNotFound.
	Get(ctx context.Context, jobID string) (*models.Job, error)

	// Scan returns every stored job. No cross-key consistency is implied.
	Scan(ctx context.Context) ([]*models.Job, error)

	// Delete removes a record. Deleting a missing id is not an error.
	Delete(ctx context.Context, jobID string) error

	Close() error
}
