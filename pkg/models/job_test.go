package models_test

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"testhive/pkg/models"
)

func TestGroupKey(t *testing.T) {
	key := models.GroupKey("acme", "v1.2", models.TargetEmulator)
	assert.Equal(t, "acme_v1.2_emulator", key)
}

func TestDeriveGroupID(t *testing.T) {
	job := &models.Job{
		OrgID:        "acme",
		AppVersionID: "v1",
		Target:       models.TargetBrowserstack,
	}
	job.DeriveGroupID()
	assert.Equal(t, "acme_v1_browserstack", job.GroupID)
}

func TestNewJobIDFormat(t *testing.T) {
	id := models.NewJobID()
	parts := strings.SplitN(id, "_", 3)
	require.Len(t, parts, 3)
	assert.Equal(t, "job", parts[0])
	assert.Len(t, parts[2], 8)

	// IDs must be unique across rapid generation.
	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		next := models.NewJobID()
		assert.False(t, seen[next], "duplicate id %s", next)
		seen[next] = true
	}
}

func TestPriorityRank(t *testing.T) {
	assert.Greater(t, models.PriorityHigh.Rank(), models.PriorityMedium.Rank())
	assert.Greater(t, models.PriorityMedium.Rank(), models.PriorityLow.Rank())
	assert.Equal(t, 0, models.Priority("urgent").Rank())
}

func TestStatusPredicates(t *testing.T) {
	tests := []struct {
		status   models.Status
		terminal bool
		active   bool
	}{
		{models.StatusQueued, false, true},
		{models.StatusScheduled, false, true},
		{models.StatusRunning, false, true},
		{models.StatusCompleted, true, false},
		{models.StatusFailed, true, false},
		{models.StatusCancelled, true, false},
		{models.StatusRetrying, false, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.terminal, tt.status.IsTerminal(), "terminal(%s)", tt.status)
		assert.Equal(t, tt.active, tt.status.IsActive(), "active(%s)", tt.status)
	}
}

func TestSameIntent(t *testing.T) {
	a := &models.Job{OrgID: "acme", AppVersionID: "v1", TestPath: "a.spec", Target: models.TargetDevice}
	b := &models.Job{OrgID: "acme", AppVersionID: "v1", TestPath: "a.spec", Target: models.TargetDevice}
	assert.True(t, a.SameIntent(b))

	b.TestPath = "b.spec"
	assert.False(t, a.SameIntent(b))
}

func TestJobJSONRoundTrip(t *testing.T) {
	now := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)
	job := &models.Job{
		JobID:        "job_1_deadbeef",
		OrgID:        "acme",
		AppVersionID: "v1",
		TestPath:     "login.spec",
		Target:       models.TargetEmulator,
		Priority:     models.PriorityHigh,
		Status:       models.StatusCompleted,
		Progress:     100,
		Result:       models.StringPtr("passed"),
		RetryCount:   1,
		MaxRetries:   3,
		Timestamp:    now,
		StartedAt:    models.TimePtr(now.Add(time.Second)),
		CompletedAt:  models.TimePtr(now.Add(3 * time.Second)),
		DeviceID:     models.StringPtr("emulator-1"),
		AgentID:      models.StringPtr("agent-1"),
		GroupID:      "acme_v1_emulator",
	}

	first, err := json.Marshal(job)
	require.NoError(t, err)

	var decoded models.Job
	require.NoError(t, json.Unmarshal(first, &decoded))

	second, err := json.Marshal(&decoded)
	require.NoError(t, err)
	assert.Equal(t, first, second, "serialization must be stable across a reload")
	assert.Equal(t, job, &decoded)
}

func TestCloneIsDeep(t *testing.T) {
	job := &models.Job{
		JobID:    "job_1_cafebabe",
		Status:   models.StatusRunning,
		Error:    models.StringPtr("boom"),
		DeviceID: models.StringPtr("device-1"),
	}
	clone := job.Clone()
	*clone.Error = "changed"
	clone.Status = models.StatusFailed

	assert.Equal(t, "boom", *job.Error)
	assert.Equal(t, models.StatusRunning, job.Status)
}

func TestAgentRecomputeStatus(t *testing.T) {
	agent := &models.Agent{
		ID:     "agent-1",
		Status: models.AgentOnline,
		Devices: []*models.Device{
			{ID: "emulator-1", Status: models.DeviceBusy},
			{ID: "device-1", Status: models.DeviceAvailable},
		},
	}

	agent.RecomputeStatus()
	assert.Equal(t, models.AgentOnline, agent.Status)

	agent.Devices[1].Status = models.DeviceBusy
	agent.RecomputeStatus()
	assert.Equal(t, models.AgentBusy, agent.Status)

	// Offline is externally signaled and sticks.
	agent.Status = models.AgentOffline
	agent.Devices[0].Status = models.DeviceAvailable
	agent.RecomputeStatus()
	assert.Equal(t, models.AgentOffline, agent.Status)
}
