package scheduler

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"testhive/pkg/executor"
	"testhive/pkg/logger"
	"testhive/pkg/metrics"
	"testhive/pkg/models"
	"testhive/pkg/pool"
	"testhive/pkg/queue"
	"testhive/pkg/resilience"
	"testhive/pkg/storage"
)

// Config holds scheduler configuration.
type Config struct {
	// TickInterval is the period of the scheduling loop.
	TickInterval time.Duration
	// Artifacts, when set, receives executor payloads of completed jobs;
	// the job result then carries the artifact reference.
	Artifacts storage.ArtifactStore
}

// Core drives jobs from queued to a terminal status. A single Core runs
// per deployment; ticks are sequential, and each group runs to completion
// on its device before the next group is processed.
type Core struct {
	store     storage.JobStore
	queue     *queue.Queue
	pool      *pool.Pool
	exec      executor.TestExecutor
	artifacts storage.ArtifactStore
	breaker   *resilience.CircuitBreaker
	interval  time.Duration
}

func NewCore(cfg Config, store storage.JobStore, q *queue.Queue, p *pool.Pool, exec executor.TestExecutor) *Core {
	interval := cfg.TickInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Core{
		store:     store,
		queue:     q,
		pool:      p,
		exec:      exec,
		artifacts: cfg.Artifacts,
		breaker:   resilience.NewCircuitBreaker("job-store", resilience.DefaultSettings()),
		interval:  interval,
	}
}

// Run performs startup recovery and then blocks in the tick loop until the
// context is cancelled. Ticks are not reentrant: a long execution simply
// delays the next tick.
func (c *Core) Run(ctx context.Context) {
	if n, err := c.Recover(ctx); err != nil {
		logger.Error("startup recovery failed", zap.Error(err))
	} else if n > 0 {
		logger.Info("startup recovery complete", zap.Int("jobs_reset", n))
	}

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("scheduler shutting down")
			return
		case <-ticker.C:
			err := c.breaker.Do(func() error { return c.Tick(ctx) })
			if errors.Is(err, resilience.ErrCircuitOpen) {
				logger.Debug("tick skipped, store circuit open")
			} else if err != nil {
				logger.Error("tick failed", zap.Error(err))
			}
		}
	}
}

// Recover demotes every scheduled or running job back to queued. Agents and
// devices are process-local, so any in-flight work found at startup is
// orphaned and must become re-eligible. retry_count is untouched: a restart
// is not a test failure. Errors on individual records do not abort the pass.
func (c *Core) Recover(ctx context.Context) (int, error) {
	jobs, err := c.store.Scan(ctx)
	if err != nil {
		return 0, err
	}

	reset := 0
	for _, job := range jobs {
		if job.Status != models.StatusScheduled && job.Status != models.StatusRunning {
			continue
		}
		prior := job.Status
		job.Status = models.StatusQueued
		job.AgentID = nil
		job.DeviceID = nil
		job.StartedAt = nil
		job.Error = models.StringPtr(models.ErrServerRestart)

		if err := c.store.Put(ctx, job); err != nil {
			logger.Error("failed to reset orphaned job",
				zap.String("job_id", job.JobID), zap.Error(err))
			continue
		}
		logger.Info("job reset due to server restart",
			zap.String("job_id", job.JobID),
			zap.String("prior_status", string(prior)))
		metrics.RecoveredJobs.Inc()
		reset++
	}
	return reset, nil
}

// Tick runs one scheduling pass: skip when nothing waits, otherwise walk
// the derived groups and process each eligible one to completion.
func (c *Core) Tick(ctx context.Context) error {
	metrics.SchedulerTicks.Inc()

	stats, err := c.queue.Stats(ctx)
	if err != nil {
		return err
	}
	if stats.Waiting == 0 {
		return nil
	}

	groups, err := c.queue.Groups(ctx)
	if err != nil {
		return err
	}

	for _, g := range groups {
		if g.Status != models.StatusQueued && g.Status != models.StatusRunning {
			continue
		}
		if err := c.processGroup(ctx, g); err != nil {
			// Store outages abandon the tick; the next one retries.
			if errors.Is(err, storage.ErrUnavailable) {
				return err
			}
			logger.Error("group processing failed",
				zap.String("group_id", g.GroupID), zap.Error(err))
		}
	}
	return nil
}

// processGroup picks a device, locks the group's eligible jobs onto it, and
// executes them sequentially. Jobs already scheduled (mid-flight at a prior
// crash of the tick) are resumed on their bound device when it is free.
func (c *Core) processGroup(ctx context.Context, g queue.GroupSummary) error {
	metrics.GroupsProcessed.Inc()

	members, err := c.queue.GroupJobs(ctx, g.GroupID)
	if err != nil {
		return err
	}

	var candidates []*models.Job
	var agent *models.Agent
	var device *models.Device

	scheduled := filterStatus(members, models.StatusScheduled)
	if len(scheduled) > 0 {
		bound := scheduled[0]
		if bound.AgentID == nil || bound.DeviceID == nil {
			return nil // malformed lock; recovery will requeue on next restart
		}
		a, d, ok := c.pool.FindDevice(*bound.AgentID, *bound.DeviceID)
		if !ok || d.Status != models.DeviceAvailable {
			return nil
		}
		agent, device, candidates = a, d, scheduled
	} else {
		queued := filterStatus(members, models.StatusQueued)
		if len(queued) == 0 {
			return nil
		}
		a, d, ok := c.pool.FindAvailable(g.Target)
		if !ok {
			metrics.NoCapacitySkips.Inc()
			logger.Debug("no capacity for group",
				zap.String("group_id", g.GroupID),
				zap.String("target", string(g.Target)))
			return nil
		}
		agent, device, candidates = a, d, queued
	}

	locked, err := c.lockJobs(ctx, candidates, agent, device)
	if err != nil {
		return err
	}
	if len(locked) == 0 {
		return nil
	}

	c.pool.Acquire(device, jobIDs(locked))
	metrics.DevicesBusy.Set(float64(c.pool.BusyDevices()))
	defer func() {
		c.pool.Release(device)
		metrics.DevicesBusy.Set(float64(c.pool.BusyDevices()))
	}()

	logger.Info("group assigned",
		zap.String("group_id", g.GroupID),
		zap.String("agent_id", agent.ID),
		zap.String("device_id", device.ID),
		zap.Int("jobs", len(locked)))

	for i, job := range locked {
		c.executeJob(ctx, job.JobID, i, len(locked))
	}
	return nil
}

// lockJobs transitions each candidate queued->scheduled bound to the chosen
// device. The store has no compare-and-swap, so every job is re-read and its
// pre-state validated before the write: a job cancelled between the group
// scan and here is simply skipped.
func (c *Core) lockJobs(ctx context.Context, candidates []*models.Job, agent *models.Agent, device *models.Device) ([]*models.Job, error) {
	var locked []*models.Job
	for _, cand := range candidates {
		cur, err := c.store.Get(ctx, cand.JobID)
		if errors.Is(err, storage.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}

		switch {
		case cur.Status == models.StatusQueued:
			cur.Status = models.StatusScheduled
			cur.AgentID = models.StringPtr(agent.ID)
			cur.DeviceID = models.StringPtr(device.ID)
			if err := c.store.Put(ctx, cur); err != nil {
				return nil, err
			}
			metrics.JobsLocked.Inc()
			locked = append(locked, cur)
		case cur.Status == models.StatusScheduled &&
			cur.AgentID != nil && *cur.AgentID == agent.ID:
			// Already bound to this agent from an interrupted pass.
			locked = append(locked, cur)
		default:
			// Terminal, running elsewhere, or bound to another agent.
		}
	}
	return locked, nil
}

// executeJob drives one job through running to a terminal status. Every
// write is preceded by a re-read: the in-memory copy may be stale if cancel
// or recovery touched the record, and a terminal status must never be
// overwritten.
func (c *Core) executeJob(ctx context.Context, jobID string, index, total int) {
	job, err := c.store.Get(ctx, jobID)
	if err != nil {
		logger.Error("failed to load job before execution",
			zap.String("job_id", jobID), zap.Error(err))
		return
	}
	if job.Status.IsTerminal() {
		logger.Info("skipping terminal job",
			zap.String("job_id", jobID), zap.String("status", string(job.Status)))
		return
	}

	job.Status = models.StatusRunning
	if job.StartedAt == nil {
		job.StartedAt = models.TimePtr(time.Now().UTC())
	}
	if err := c.store.Put(ctx, job); err != nil {
		// The job stays scheduled on disk; the next tick resumes it.
		logger.Error("failed to mark job running",
			zap.String("job_id", jobID), zap.Error(err))
		return
	}

	res := c.exec.Run(ctx, job)

	cur, err := c.store.Get(ctx, jobID)
	if err != nil {
		logger.Error("failed to reload job after execution",
			zap.String("job_id", jobID), zap.Error(err))
		return
	}
	if cur.Status.IsTerminal() {
		// Cancelled mid-run: the test finished on the device but its
		// outcome is discarded.
		logger.Info("job reached terminal state during execution, outcome discarded",
			zap.String("job_id", jobID), zap.String("status", string(cur.Status)))
		return
	}

	wasRunning := cur.Status == models.StatusRunning
	cur.CompletedAt = models.TimePtr(time.Now().UTC())

	if res.Outcome == executor.OutcomePass {
		cur.Status = models.StatusCompleted
		cur.Result = models.StringPtr(c.storeArtifact(ctx, jobID, res.Payload))
		if wasRunning {
			cur.Progress = 100
		}
	} else {
		cur.Status = models.StatusFailed
		cur.Error = models.StringPtr(res.Payload)
	}

	if err := c.store.Put(ctx, cur); err != nil {
		logger.Error("failed to persist execution result",
			zap.String("job_id", jobID), zap.Error(err))
		return
	}

	metrics.RecordExecution(string(res.Outcome), string(cur.Target), res.Duration.Seconds())
	logger.Info("execution finished",
		zap.String("job_id", jobID),
		zap.String("outcome", string(res.Outcome)),
		zap.Duration("duration", res.Duration),
		zap.Int("position", index+1),
		zap.Int("group_size", total))
}

// storeArtifact uploads the payload when an artifact store is configured
// and returns the reference; otherwise (or on upload failure) the raw
// payload stands in as the result.
func (c *Core) storeArtifact(ctx context.Context, jobID, payload string) string {
	if c.artifacts == nil {
		return payload
	}
	ref, err := c.artifacts.Store(ctx, jobID, []byte(payload))
	if err != nil {
		logger.Warn("artifact upload failed, keeping inline result",
			zap.String("job_id", jobID), zap.Error(err))
		return payload
	}
	return ref
}

func filterStatus(jobs []*models.Job, status models.Status) []*models.Job {
	var out []*models.Job
	for _, j := range jobs {
		if j.Status == status {
			out = append(out, j)
		}
	}
	return out
}

func jobIDs(jobs []*models.Job) []string {
	ids := make([]string, len(jobs))
	for i, j := range jobs {
		ids[i] = j.JobID
	}
	return ids
}
