package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"testhive/pkg/models"
	"testhive/pkg/storage"
)

const (
	// keyPrefix namespaces job records; the full key is job:{job_id}.
	keyPrefix = "job:"

	// scanBatch is the COUNT hint passed to SCAN.
	scanBatch = 200
)

// JobStore persists job records as JSON values under job:{job_id}.
type JobStore struct {
	client *redis.Client
}

// Config holds Redis connection configuration.
type Config struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	PoolTimeout  time.Duration
}

// DefaultConfig returns production defaults for the given store URL.
func DefaultConfig(url string) Config {
	return Config{
		URL:          url,
		PoolSize:     100,
		MinIdleConns: 10,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolTimeout:  4 * time.Second,
	}
}

// NewJobStore connects with default config.
func NewJobStore(url string) (*JobStore, error) {
	return NewJobStoreWithConfig(DefaultConfig(url))
}

// NewJobStoreWithConfig connects and verifies the connection with a ping.
func NewJobStoreWithConfig(cfg Config) (*JobStore, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid store url: %w", err)
	}
	opts.PoolSize = cfg.PoolSize
	opts.MinIdleConns = cfg.MinIdleConns
	opts.DialTimeout = cfg.DialTimeout
	opts.ReadTimeout = cfg.ReadTimeout
	opts.WriteTimeout = cfg.WriteTimeout
	opts.PoolTimeout = cfg.PoolTimeout

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.DialTimeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &JobStore{client: client}, nil
}

func (s *JobStore) Close() error {
	return s.client.Close()
}

// Put serializes the record and writes it unconditionally.
func (s *JobStore) Put(ctx context.Context, job *models.Job) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}

	if err := s.client.Set(ctx, keyPrefix+job.JobID, payload, 0).Err(); err != nil {
		return fmt.Errorf("%w: %v", storage.ErrUnavailable, err)
	}
	return nil
}

// Get retrieves a single record by id.
func (s *JobStore) Get(ctx context.Context, jobID string) (*models.Job, error) {
	val, err := s.client.Get(ctx, keyPrefix+jobID).Result()
	if err == redis.Nil {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", storage.ErrUnavailable, err)
	}

	var job models.Job
	if err := json.Unmarshal([]byte(val), &job); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job %s: %w", jobID, err)
	}
	return &job, nil
}

// Scan walks the job: keyspace with cursor-based SCAN and fetches values in
// batches via MGET. Keys deleted between the SCAN and the MGET are skipped.
func (s *JobStore) Scan(ctx context.Context) ([]*models.Job, error) {
	var jobs []*models.Job
	var cursor uint64

	for {
		keys, next, err := s.client.Scan(ctx, cursor, keyPrefix+"*", scanBatch).Result()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", storage.ErrUnavailable, err)
		}

		if len(keys) > 0 {
			vals, err := s.client.MGet(ctx, keys...).Result()
			if err != nil {
				return nil, fmt.Errorf("%w: %v", storage.ErrUnavailable, err)
			}
			for i, v := range vals {
				raw, ok := v.(string)
				if !ok {
					continue // deleted mid-scan
				}
				var job models.Job
				if err := json.Unmarshal([]byte(raw), &job); err != nil {
					return nil, fmt.Errorf("failed to unmarshal job at %s: %w", keys[i], err)
				}
				jobs = append(jobs, &job)
			}
		}

		cursor = next
		if cursor == 0 {
			break
		}
	}
	return jobs, nil
}

// Delete removes a record. Missing keys are ignored.
func (s *JobStore) Delete(ctx context.Context, jobID string) error {
	if err := s.client.Del(ctx, keyPrefix+jobID).Err(); err != nil {
		return fmt.Errorf("%w: %v", storage.ErrUnavailable, err)
	}
	return nil
}
