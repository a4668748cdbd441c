package queue

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"testhive/pkg/logger"
	"testhive/pkg/metrics"
	"testhive/pkg/models"
	"testhive/pkg/storage"
)

// ErrInvalidState is returned for illegal transitions: cancelling a
// terminal job, or retrying a job that is not retriable.
var ErrInvalidState = errors.New("invalid state transition")

// ValidationError describes a rejected submission field.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e *ValidationError) Error() string {
	return e.Field + ": " + e.Message
}

// Options carries the defaults applied to new submissions.
type Options struct {
	MaxRetries      int
	DefaultPriority models.Priority
	DefaultTarget   models.Target
}

// DefaultOptions returns the documented defaults.
func DefaultOptions() Options {
	return Options{
		MaxRetries:      3,
		DefaultPriority: models.PriorityMedium,
		DefaultTarget:   models.TargetEmulator,
	}
}

// Queue is the submission gateway and read API over the JobStore.
type Queue struct {
	store storage.JobStore
	opts  Options
}

func New(store storage.JobStore, opts Options) *Queue {
	if opts.MaxRetries < 1 {
		opts.MaxRetries = DefaultOptions().MaxRetries
	}
	if opts.DefaultPriority == "" {
		opts.DefaultPriority = DefaultOptions().DefaultPriority
	}
	if opts.DefaultTarget == "" {
		opts.DefaultTarget = DefaultOptions().DefaultTarget
	}
	return &Queue{store: store, opts: opts}
}

// SubmitRequest is the submission payload. The execution fields are passed
// through verbatim to support state import.
type SubmitRequest struct {
	OrgID        string          `json:"org_id"`
	AppVersionID string          `json:"app_version_id"`
	TestPath     string          `json:"test_path"`
	Target       models.Target   `json:"target"`
	Priority     models.Priority `json:"priority"`
	Timestamp    *time.Time      `json:"timestamp"`
	JobID        string          `json:"job_id"`

	// State-import fields.
	Status      models.Status `json:"status"`
	Progress    *int          `json:"progress"`
	RetryCount  *int          `json:"retry_count"`
	MaxRetries  *int          `json:"max_retries"`
	StartedAt   *time.Time    `json:"started_at"`
	CompletedAt *time.Time    `json:"completed_at"`
	DeviceID    *string       `json:"device_id"`
	AgentID     *string       `json:"agent_id"`
}

// SubmitResult is what a submitter gets back: either the created job or,
// on dedup, the job already in flight for the same intent.
type SubmitResult struct {
	JobID   string        `json:"job_id"`
	Status  models.Status `json:"status"`
	Message string        `json:"message"`
}

// Submit validates the payload, folds duplicates into the in-flight job
// with the same (org, app version, test path, target) tuple, and otherwise
// persists a new queued record.
func (q *Queue) Submit(ctx context.Context, req *SubmitRequest) (*SubmitResult, error) {
	job, err := q.buildJob(req)
	if err != nil {
		metrics.SubmissionsTotal.WithLabelValues("rejected").Inc()
		return nil, err
	}

	existing, err := q.findActiveDuplicate(ctx, job)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		metrics.SubmissionsTotal.WithLabelValues("duplicate").Inc()
		return &SubmitResult{
			JobID:   existing.JobID,
			Status:  existing.Status,
			Message: "duplicate",
		}, nil
	}

	if err := q.store.Put(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to persist job: %w", err)
	}

	metrics.SubmissionsTotal.WithLabelValues("created").Inc()
	logger.Info("job submitted",
		zap.String("job_id", job.JobID),
		zap.String("group_id", job.GroupID),
		zap.String("priority", string(job.Priority)))

	return &SubmitResult{JobID: job.JobID, Status: job.Status, Message: "created"}, nil
}

func (q *Queue) buildJob(req *SubmitRequest) (*models.Job, error) {
	if l := len(req.OrgID); l < 1 || l > 100 {
		return nil, &ValidationError{Field: "org_id", Message: "must be 1-100 characters"}
	}
	if l := len(req.AppVersionID); l < 1 || l > 100 {
		return nil, &ValidationError{Field: "app_version_id", Message: "must be 1-100 characters"}
	}
	if req.TestPath == "" {
		return nil, &ValidationError{Field: "test_path", Message: "is required"}
	}

	target := req.Target
	if target == "" {
		target = q.opts.DefaultTarget
	}
	if !models.ValidTarget(target) {
		return nil, &ValidationError{Field: "target", Message: "must be one of emulator, device, browserstack"}
	}

	priority := req.Priority
	if priority == "" {
		priority = q.opts.DefaultPriority
	}
	if !models.ValidPriority(priority) {
		return nil, &ValidationError{Field: "priority", Message: "must be one of low, medium, high"}
	}

	status := req.Status
	if status == "" {
		status = models.StatusQueued
	}
	if !models.ValidStatus(status) {
		return nil, &ValidationError{Field: "status", Message: "unknown status"}
	}

	jobID := req.JobID
	if jobID == "" {
		jobID = models.NewJobID()
	}

	timestamp := time.Now().UTC()
	if req.Timestamp != nil {
		timestamp = req.Timestamp.UTC()
	}

	job := &models.Job{
		JobID:        jobID,
		OrgID:        req.OrgID,
		AppVersionID: req.AppVersionID,
		TestPath:     req.TestPath,
		Target:       target,
		Priority:     priority,
		Status:       status,
		MaxRetries:   q.opts.MaxRetries,
		Timestamp:    timestamp,
		StartedAt:    req.StartedAt,
		CompletedAt:  req.CompletedAt,
		DeviceID:     req.DeviceID,
		AgentID:      req.AgentID,
	}
	if req.Progress != nil {
		job.Progress = *req.Progress
	}
	if req.RetryCount != nil {
		job.RetryCount = *req.RetryCount
	}
	if req.MaxRetries != nil {
		job.MaxRetries = *req.MaxRetries
	}
	job.DeriveGroupID()
	return job, nil
}

func (q *Queue) findActiveDuplicate(ctx context.Context, candidate *models.Job) (*models.Job, error) {
	jobs, err := q.store.Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("dedup scan failed: %w", err)
	}
	for _, j := range jobs {
		if j.Status.IsActive() && j.SameIntent(candidate) {
			return j, nil
		}
	}
	return nil, nil
}

// Get returns the full record for a job id.
func (q *Queue) Get(ctx context.Context, jobID string) (*models.Job, error) {
	return q.store.Get(ctx, jobID)
}

// List returns jobs for an org, optionally filtered by status, newest first.
func (q *Queue) List(ctx context.Context, orgID string, status models.Status) ([]*models.Job, error) {
	jobs, err := q.store.Scan(ctx)
	if err != nil {
		return nil, err
	}

	var out []*models.Job
	for _, j := range jobs {
		if j.OrgID != orgID {
			continue
		}
		if status != "" && j.Status != status {
			continue
		}
		out = append(out, j)
	}
	sort.Slice(out, func(i, k int) bool {
		return out[i].Timestamp.After(out[k].Timestamp)
	})
	return out, nil
}

// Cancel marks a job cancelled. Terminal jobs are rejected with
// ErrInvalidState. Cancel is last-writer-wins against the scheduler: if the
// scheduler locked the job between our read and write, the cancel still
// lands, and the scheduler honors the terminal status on its next re-read.
func (q *Queue) Cancel(ctx context.Context, jobID string) (*models.Job, error) {
	job, err := q.store.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.Status.IsTerminal() {
		return nil, fmt.Errorf("%w: cannot cancel %s job", ErrInvalidState, job.Status)
	}

	job.Status = models.StatusCancelled
	job.CompletedAt = models.TimePtr(time.Now().UTC())
	if err := q.store.Put(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to persist cancel: %w", err)
	}

	logger.Info("job cancelled", zap.String("job_id", job.JobID))
	return job, nil
}

// Retry requeues a failed (or imported retrying) job. Crossing the retry
// bound persists the canonical failure and rejects the call.
func (q *Queue) Retry(ctx context.Context, jobID string) (*models.Job, error) {
	job, err := q.store.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.Status != models.StatusFailed && job.Status != models.StatusRetrying {
		return nil, fmt.Errorf("%w: cannot retry %s job", ErrInvalidState, job.Status)
	}

	if job.RetryCount >= job.MaxRetries {
		job.Status = models.StatusFailed
		job.Error = models.StringPtr(models.ErrMaxRetries)
		if err := q.store.Put(ctx, job); err != nil {
			return nil, fmt.Errorf("failed to persist retry exhaustion: %w", err)
		}
		return nil, fmt.Errorf("%w: %s", ErrInvalidState, models.ErrMaxRetries)
	}

	job.RetryCount++
	job.Status = models.StatusQueued
	job.Error = nil
	job.StartedAt = nil
	job.CompletedAt = nil
	job.DeviceID = nil
	job.AgentID = nil
	if err := q.store.Put(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to persist retry: %w", err)
	}

	metrics.RetriesTotal.Inc()
	logger.Info("job requeued for retry",
		zap.String("job_id", job.JobID),
		zap.Int("retry_count", job.RetryCount),
		zap.Int("max_retries", job.MaxRetries))
	return job, nil
}

// Stats is a point-in-time summary of the queue.
type Stats struct {
	Waiting   int `json:"waiting"`
	Active    int `json:"active"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Total     int `json:"total"`
	Groups    int `json:"groups"`
}

// Stats computes queue counters with a full scan.
func (q *Queue) Stats(ctx context.Context) (*Stats, error) {
	jobs, err := q.store.Scan(ctx)
	if err != nil {
		return nil, err
	}

	stats := &Stats{Total: len(jobs)}
	groups := make(map[string]struct{})
	for _, j := range jobs {
		switch j.Status {
		case models.StatusQueued, models.StatusScheduled:
			stats.Waiting++
		case models.StatusRunning:
			stats.Active++
		case models.StatusCompleted:
			stats.Completed++
		case models.StatusFailed:
			stats.Failed++
		}
		if !j.Status.IsTerminal() {
			groups[j.GroupID] = struct{}{}
		}
	}
	stats.Groups = len(groups)

	metrics.QueueDepth.Set(float64(stats.Waiting))
	return stats, nil
}

// GroupSummary is the derived view of one work-unit of compatible jobs.
type GroupSummary struct {
	GroupID      string        `json:"group_id"`
	OrgID        string        `json:"org_id"`
	AppVersionID string        `json:"app_version_id"`
	Target       models.Target `json:"target"`
	JobCount     int           `json:"job_count"`
	Status       models.Status `json:"status"`
	OldestJob    time.Time     `json:"oldest_job"`
	NewestJob    time.Time     `json:"newest_job"`
}

// Groups buckets non-terminal jobs by group id. A group is running if any
// member is running, otherwise queued. Groups are never persisted; this is
// always derived from a scan.
func (q *Queue) Groups(ctx context.Context) ([]GroupSummary, error) {
	jobs, err := q.store.Scan(ctx)
	if err != nil {
		return nil, err
	}

	buckets := make(map[string][]*models.Job)
	for _, j := range jobs {
		if j.Status.IsTerminal() {
			continue
		}
		buckets[j.GroupID] = append(buckets[j.GroupID], j)
	}

	summaries := make([]GroupSummary, 0, len(buckets))
	for groupID, members := range buckets {
		SortForDispatch(members)

		summary := GroupSummary{
			GroupID:      groupID,
			OrgID:        members[0].OrgID,
			AppVersionID: members[0].AppVersionID,
			Target:       members[0].Target,
			JobCount:     len(members),
			Status:       models.StatusQueued,
			OldestJob:    members[0].Timestamp,
			NewestJob:    members[0].Timestamp,
		}
		for _, m := range members {
			if m.Status == models.StatusRunning {
				summary.Status = models.StatusRunning
			}
			if m.Timestamp.Before(summary.OldestJob) {
				summary.OldestJob = m.Timestamp
			}
			if m.Timestamp.After(summary.NewestJob) {
				summary.NewestJob = m.Timestamp
			}
		}
		summaries = append(summaries, summary)
	}

	sort.Slice(summaries, func(i, k int) bool {
		return summaries[i].GroupID < summaries[k].GroupID
	})
	return summaries, nil
}

// GroupJobs returns the non-terminal members of a group in dispatch order.
func (q *Queue) GroupJobs(ctx context.Context, groupID string) ([]*models.Job, error) {
	jobs, err := q.store.Scan(ctx)
	if err != nil {
		return nil, err
	}

	var members []*models.Job
	for _, j := range jobs {
		if j.GroupID == groupID && !j.Status.IsTerminal() {
			members = append(members, j)
		}
	}
	SortForDispatch(members)
	return members, nil
}

// SortForDispatch orders jobs priority descending, then submission time
// ascending, then job id for a stable tiebreak.
func SortForDispatch(jobs []*models.Job) {
	sort.SliceStable(jobs, func(i, k int) bool {
		if jobs[i].Priority.Rank() != jobs[k].Priority.Rank() {
			return jobs[i].Priority.Rank() > jobs[k].Priority.Rank()
		}
		if !jobs[i].Timestamp.Equal(jobs[k].Timestamp) {
			return jobs[i].Timestamp.Before(jobs[k].Timestamp)
		}
		return jobs[i].JobID < jobs[k].JobID
	})
}
