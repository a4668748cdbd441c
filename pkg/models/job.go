package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Target identifies the execution environment a test run requires.
type Target string

const (
	TargetEmulator     Target = "emulator"
	TargetDevice       Target = "device"
	TargetBrowserstack Target = "browserstack"
)

// ValidTarget reports whether t is one of the known targets.
func ValidTarget(t Target) bool {
	switch t {
	case TargetEmulator, TargetDevice, TargetBrowserstack:
		return true
	}
	return false
}

// Priority controls ordering inside a group.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// Rank returns the numeric weight used for sorting (higher runs first).
func (p Priority) Rank() int {
	switch p {
	case PriorityHigh:
		return 3
	case PriorityMedium:
		return 2
	case PriorityLow:
		return 1
	}
	return 0
}

// ValidPriority reports whether p is one of the known priorities.
func ValidPriority(p Priority) bool {
	return p.Rank() > 0
}

// Status represents the lifecycle state of a job.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusScheduled Status = "scheduled"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
	StatusRetrying  Status = "retrying"
)

// IsTerminal reports whether s is a final state. Terminal jobs are only
// revived through an explicit retry.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// IsActive reports whether s counts toward deduplication: a duplicate
// submission is only folded into a job that is still in flight.
func (s Status) IsActive() bool {
	switch s {
	case StatusQueued, StatusScheduled, StatusRunning:
		return true
	}
	return false
}

// ValidStatus reports whether s is one of the known statuses.
func ValidStatus(s Status) bool {
	switch s {
	case StatusQueued, StatusScheduled, StatusRunning,
		StatusCompleted, StatusFailed, StatusCancelled, StatusRetrying:
		return true
	}
	return false
}

// ErrMaxRetries is the canonical error payload written when a retry would
// push retry_count past max_retries.
const ErrMaxRetries = "Max retries exceeded"

// ErrServerRestart is the canonical error payload written by startup
// recovery when an in-flight job is demoted back to queued.
const ErrServerRestart = "Job reset due to server restart"

// Job is a single test-execution request with lifecycle state.
// The JobStore owns the durable copy; everything else works on transient
// copies that are re-read before every write.
type Job struct {
	JobID        string     `json:"job_id"`
	OrgID        string     `json:"org_id"`
	AppVersionID string     `json:"app_version_id"`
	TestPath     string     `json:"test_path"`
	Target       Target     `json:"target"`
	Priority     Priority   `json:"priority"`
	Status       Status     `json:"status"`
	Progress     int        `json:"progress"`
	Result       *string    `json:"result"`
	Error        *string    `json:"error"`
	RetryCount   int        `json:"retry_count"`
	MaxRetries   int        `json:"max_retries"`
	Timestamp    time.Time  `json:"timestamp"`
	StartedAt    *time.Time `json:"started_at"`
	CompletedAt  *time.Time `json:"completed_at"`
	DeviceID     *string    `json:"device_id"`
	AgentID      *string    `json:"agent_id"`
	GroupID      string     `json:"group_id"`
}

// NewJobID generates an identifier of the form job_{ms-since-epoch}_{8-hex}.
func NewJobID() string {
	suffix := strings.ReplaceAll(uuid.New().String(), "-", "")[:8]
	return fmt.Sprintf("job_%d_%s", time.Now().UnixMilli(), suffix)
}

// GroupKey derives the grouping key for an identity tuple. Jobs sharing a
// key can amortize one app installation on a single device.
func GroupKey(orgID, appVersionID string, target Target) string {
	return fmt.Sprintf("%s_%s_%s", orgID, appVersionID, target)
}

// DeriveGroupID recomputes and stores the job's group key.
func (j *Job) DeriveGroupID() {
	j.GroupID = GroupKey(j.OrgID, j.AppVersionID, j.Target)
}

// SameIntent reports whether two jobs carry the same identity tuple.
// Used by submission dedup.
func (j *Job) SameIntent(other *Job) bool {
	return j.OrgID == other.OrgID &&
		j.AppVersionID == other.AppVersionID &&
		j.TestPath == other.TestPath &&
		j.Target == other.Target
}

// Clone returns a deep copy. Store implementations hand out clones so
// callers can never mutate the durable record in place.
func (j *Job) Clone() *Job {
	c := *j
	c.Result = cloneString(j.Result)
	c.Error = cloneString(j.Error)
	c.StartedAt = cloneTime(j.StartedAt)
	c.CompletedAt = cloneTime(j.CompletedAt)
	c.DeviceID = cloneString(j.DeviceID)
	c.AgentID = cloneString(j.AgentID)
	return &c
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// StringPtr is a convenience for the nullable payload fields.
func StringPtr(s string) *string { return &s }

// TimePtr is a convenience for the nullable timestamp fields.
func TimePtr(t time.Time) *time.Time { return &t }
