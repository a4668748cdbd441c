package executor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"testhive/pkg/models"
)

func fastSimulated(passRate float64) *Simulated {
	s := NewSimulated()
	s.MinLatency = 0
	s.MaxLatency = time.Millisecond
	s.PassRate = passRate
	return s
}

func sampleJob() *models.Job {
	return &models.Job{
		JobID:    "job_1_aaaaaaaa",
		TestPath: "login.spec",
		Target:   models.TargetEmulator,
	}
}

func TestSimulatedPassRateBounds(t *testing.T) {
	ctx := context.Background()

	always := fastSimulated(1.0)
	for i := 0; i < 20; i++ {
		res := always.Run(ctx, sampleJob())
		assert.Equal(t, OutcomePass, res.Outcome)
		assert.Contains(t, res.Payload, "login.spec")
	}

	never := fastSimulated(0.0)
	for i := 0; i < 20; i++ {
		res := never.Run(ctx, sampleJob())
		assert.Equal(t, OutcomeFail, res.Outcome)
		assert.Contains(t, res.Payload, "assertion error")
	}
}

func TestSimulatedHonorsCancellation(t *testing.T) {
	s := NewSimulated()
	s.MinLatency = 10 * time.Second
	s.MaxLatency = 10 * time.Second

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	res := s.Run(ctx, sampleJob())
	assert.Less(t, time.Since(start), time.Second, "cancelled run must not sleep out its latency")
	assert.Equal(t, OutcomeFail, res.Outcome)
	assert.Contains(t, res.Payload, "aborted")
}
