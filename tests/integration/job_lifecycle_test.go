package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"testhive/pkg/api"
	"testhive/pkg/executor"
	"testhive/pkg/models"
	"testhive/pkg/pool"
	"testhive/pkg/queue"
	"testhive/pkg/scheduler"
	redisstore "testhive/pkg/storage/redis"
)

// OrchestratorSuite exercises the full stack against a real Redis: HTTP
// submission, scheduling ticks, and crash recovery. It skips itself when
// Redis is not reachable.
type OrchestratorSuite struct {
	suite.Suite
	store  *redisstore.JobStore
	queue  *queue.Queue
	pool   *pool.Pool
	core   *scheduler.Core
	server *api.Server

	org     string
	created []string
}

func (s *OrchestratorSuite) SetupSuite() {
	if os.Getenv("SKIP_INTEGRATION_TESTS") == "true" {
		s.T().Skip("skipping integration tests (SKIP_INTEGRATION_TESTS=true)")
	}
	gin.SetMode(gin.TestMode)

	url := getEnv("TEST_STORE_URL", "redis://localhost:6379/1")
	store, err := redisstore.NewJobStore(url)
	if err != nil {
		s.T().Skipf("skipping integration tests, redis unreachable: %v", err)
	}
	s.store = store
	s.queue = queue.New(store, queue.DefaultOptions())

	specs, err := pool.ParseSpec(pool.DefaultSpec)
	s.Require().NoError(err)
	s.pool, err = pool.New(specs)
	s.Require().NoError(err)

	exec := &instantExecutor{}
	s.core = scheduler.NewCore(scheduler.Config{TickInterval: time.Hour},
		store, s.queue, s.pool, exec)

	s.server = api.NewServer(api.Config{
		Port:  "0",
		Queue: s.queue,
		Pool:  s.pool,
		Store: store,
	})
}

func (s *OrchestratorSuite) TearDownSuite() {
	if s.store != nil {
		s.store.Close()
	}
}

func (s *OrchestratorSuite) SetupTest() {
	// Isolate each test in its own org; groups and dedup never cross orgs.
	s.org = "it-" + uuid.New().String()[:8]
	s.created = nil
}

func (s *OrchestratorSuite) TearDownTest() {
	ctx := context.Background()
	for _, id := range s.created {
		_ = s.store.Delete(ctx, id)
	}
}

// instantExecutor always passes without sleeping.
type instantExecutor struct{}

func (e *instantExecutor) Run(ctx context.Context, job *models.Job) executor.Result {
	return executor.Result{
		Outcome:  executor.OutcomePass,
		Payload:  "Test " + job.TestPath + " passed",
		Duration: time.Millisecond,
	}
}

func (s *OrchestratorSuite) request(method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		s.Require().NoError(json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.server.Handler().ServeHTTP(rec, req)
	return rec
}

func (s *OrchestratorSuite) submit(path string) string {
	rec := s.request(http.MethodPost, "/api/v1/jobs", map[string]any{
		"org_id":         s.org,
		"app_version_id": "v1",
		"test_path":      path,
		"target":         "emulator",
	})
	s.Require().Equal(http.StatusCreated, rec.Code, rec.Body.String())

	var out struct {
		JobID string `json:"job_id"`
	}
	s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &out))
	s.created = append(s.created, out.JobID)
	return out.JobID
}

func (s *OrchestratorSuite) getJob(id string) *models.Job {
	job, err := s.store.Get(context.Background(), id)
	s.Require().NoError(err)
	return job
}

func (s *OrchestratorSuite) TestJobLifecycle() {
	ctx := context.Background()

	id := s.submit("login.spec")
	s.Equal(models.StatusQueued, s.getJob(id).Status)

	s.Require().NoError(s.core.Tick(ctx))

	job := s.getJob(id)
	s.Equal(models.StatusCompleted, job.Status)
	s.Equal(100, job.Progress)
	s.NotNil(job.Result)
	s.NotNil(job.StartedAt)
	s.NotNil(job.CompletedAt)

	// The API serves the terminal record.
	rec := s.request(http.MethodGet, "/api/v1/jobs/"+id, nil)
	s.Require().Equal(http.StatusOK, rec.Code)
	var served models.Job
	s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &served))
	s.Equal(models.StatusCompleted, served.Status)
}

func (s *OrchestratorSuite) TestDuplicateSubmissionOverRedis() {
	first := s.submit("dup.spec")

	rec := s.request(http.MethodPost, "/api/v1/jobs", map[string]any{
		"org_id":         s.org,
		"app_version_id": "v1",
		"test_path":      "dup.spec",
		"target":         "emulator",
	})
	s.Require().Equal(http.StatusOK, rec.Code)

	var out struct {
		JobID   string `json:"job_id"`
		Message string `json:"message"`
	}
	s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &out))
	s.Equal("duplicate", out.Message)
	s.Equal(first, out.JobID)
}

func (s *OrchestratorSuite) TestGroupRunsSequentially() {
	ctx := context.Background()

	var ids []string
	for i := 0; i < 3; i++ {
		ids = append(ids, s.submit(fmt.Sprintf("suite-%d.spec", i)))
	}

	s.Require().NoError(s.core.Tick(ctx))

	device := ""
	for _, id := range ids {
		job := s.getJob(id)
		s.Equal(models.StatusCompleted, job.Status)
		s.Require().NotNil(job.DeviceID)
		if device == "" {
			device = *job.DeviceID
		}
		s.Equal(device, *job.DeviceID, "group members share one device")
	}
}

func (s *OrchestratorSuite) TestRecoveryAfterRestart() {
	ctx := context.Background()

	id := s.submit("orphan.spec")
	job := s.getJob(id)
	job.Status = models.StatusRunning
	job.AgentID = models.StringPtr("agent-1")
	job.DeviceID = models.StringPtr("emulator-1")
	job.StartedAt = models.TimePtr(time.Now().UTC())
	s.Require().NoError(s.store.Put(ctx, job))

	// A fresh core models the restarted process.
	restarted := scheduler.NewCore(scheduler.Config{TickInterval: time.Hour},
		s.store, s.queue, s.pool, &instantExecutor{})
	n, err := restarted.Recover(ctx)
	s.Require().NoError(err)
	s.GreaterOrEqual(n, 1)

	job = s.getJob(id)
	s.Equal(models.StatusQueued, job.Status)
	s.Nil(job.AgentID)
	s.Nil(job.DeviceID)
	s.Nil(job.StartedAt)
	s.Require().NotNil(job.Error)
	s.Equal(models.ErrServerRestart, *job.Error)

	// The reset job is schedulable again.
	s.Require().NoError(restarted.Tick(ctx))
	s.Equal(models.StatusCompleted, s.getJob(id).Status)
}

func (s *OrchestratorSuite) TestCancelThenTick() {
	ctx := context.Background()

	id := s.submit("cancel.spec")
	rec := s.request(http.MethodPost, "/api/v1/jobs/"+id+"/cancel", nil)
	s.Require().Equal(http.StatusOK, rec.Code)

	s.Require().NoError(s.core.Tick(ctx))
	s.Equal(models.StatusCancelled, s.getJob(id).Status)
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func TestOrchestratorSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration tests in short mode")
	}
	suite.Run(t, new(OrchestratorSuite))
}
