package executor

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"testhive/pkg/models"
)

// Outcome is the verdict of one test run.
type Outcome string

const (
	OutcomePass Outcome = "pass"
	OutcomeFail Outcome = "fail"
)

// Result captures the outcome of executing one job on a device.
type Result struct {
	Outcome  Outcome
	Payload  string
	Duration time.Duration
}

// TestExecutor runs a single test job on the currently held device. It may
// block for a bounded time and must never touch the JobStore; the scheduler
// owns all state transitions.
type TestExecutor interface {
	Run(ctx context.Context, job *models.Job) Result
}

// Simulated is the reference executor used in tests and standalone mode:
// it sleeps uniformly in [MinLatency, MaxLatency] and passes with
// probability PassRate.
type Simulated struct {
	MinLatency time.Duration
	MaxLatency time.Duration
	PassRate   float64

	mu  sync.Mutex
	rng *rand.Rand
}

// NewSimulated returns a simulator with the documented defaults
// (1-5 s latency, 90 % pass rate).
func NewSimulated() *Simulated {
	return &Simulated{
		MinLatency: 1 * time.Second,
		MaxLatency: 5 * time.Second,
		PassRate:   0.9,
		rng:        rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (s *Simulated) Run(ctx context.Context, job *models.Job) Result {
	s.mu.Lock()
	latency := s.MinLatency
	if s.MaxLatency > s.MinLatency {
		latency += time.Duration(s.rng.Int63n(int64(s.MaxLatency - s.MinLatency)))
	}
	passed := s.rng.Float64() < s.PassRate
	s.mu.Unlock()

	start := time.Now()
	timer := time.NewTimer(latency)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return Result{
			Outcome:  OutcomeFail,
			Payload:  fmt.Sprintf("Execution aborted: %v", ctx.Err()),
			Duration: time.Since(start),
		}
	case <-timer.C:
	}

	elapsed := time.Since(start)
	if passed {
		return Result{
			Outcome:  OutcomePass,
			Payload:  fmt.Sprintf("Test %s passed on %s in %s", job.TestPath, job.Target, elapsed.Round(time.Millisecond)),
			Duration: elapsed,
		}
	}
	return Result{
		Outcome:  OutcomeFail,
		Payload:  fmt.Sprintf("Test %s failed on %s: assertion error", job.TestPath, job.Target),
		Duration: elapsed,
	}
}
