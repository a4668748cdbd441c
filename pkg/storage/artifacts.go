package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// ArtifactStore persists executor output for terminal jobs.
type ArtifactStore interface {
	// Store saves an artifact and returns a reference URI.
	Store(ctx context.Context, jobID string, payload []byte) (string, error)
	// Retrieve fetches an artifact by the reference Store returned.
	Retrieve(ctx context.Context, reference string) ([]byte, error)
}

// S3ArtifactStore stores artifacts in S3-compatible storage with an
// optional local read cache.
type S3ArtifactStore struct {
	client     *s3.Client
	bucket     string
	prefix     string
	localCache string
}

// S3ArtifactStoreConfig holds S3 configuration. Endpoint enables
// MinIO/local setups via path-style addressing.
type S3ArtifactStoreConfig struct {
	Bucket          string
	Prefix          string // e.g. "artifacts/jobs/"
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	LocalCacheDir   string
}

// NewS3ArtifactStore creates a new S3-backed artifact store.
func NewS3ArtifactStore(cfg S3ArtifactStoreConfig) (*S3ArtifactStore, error) {
	optFns := []func(*config.LoadOptions) error{
		config.WithRegion(cfg.Region),
	}

	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		optFns = append(optFns, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(context.Background(), optFns...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	clientOpts := []func(*s3.Options){}
	if cfg.Endpoint != "" {
		clientOpts = append(clientOpts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true // required for MinIO
		})
	}

	client := s3.NewFromConfig(awsCfg, clientOpts...)

	if cfg.LocalCacheDir != "" {
		if err := os.MkdirAll(cfg.LocalCacheDir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create cache directory: %w", err)
		}
	}

	return &S3ArtifactStore{
		client:     client,
		bucket:     cfg.Bucket,
		prefix:     cfg.Prefix,
		localCache: cfg.LocalCacheDir,
	}, nil
}

// Store uploads the payload and returns an s3:// reference.
func (s *S3ArtifactStore) Store(ctx context.Context, jobID string, payload []byte) (string, error) {
	key := fmt.Sprintf("%s%s/%d.log", s.prefix, jobID, time.Now().UnixMilli())

	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(payload),
		ContentType: aws.String("text/plain"),
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload artifact for %s: %w", jobID, err)
	}

	reference := fmt.Sprintf("s3://%s/%s", s.bucket, key)

	if s.localCache != "" {
		cachePath := filepath.Join(s.localCache, jobID+".log")
		_ = os.WriteFile(cachePath, payload, 0644)
	}

	return reference, nil
}

// Retrieve fetches an artifact, consulting the local cache first.
func (s *S3ArtifactStore) Retrieve(ctx context.Context, reference string) ([]byte, error) {
	key, err := s.keyFromReference(reference)
	if err != nil {
		return nil, err
	}

	if s.localCache != "" {
		cachePath := filepath.Join(s.localCache, filepath.Base(filepath.Dir(key))+".log")
		if data, err := os.ReadFile(cachePath); err == nil {
			return data, nil
		}
	}

	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch artifact %s: %w", reference, err)
	}
	defer out.Body.Close()

	return io.ReadAll(out.Body)
}

func (s *S3ArtifactStore) keyFromReference(reference string) (string, error) {
	want := "s3://" + s.bucket + "/"
	if len(reference) <= len(want) || reference[:len(want)] != want {
		return "", fmt.Errorf("malformed artifact reference: %s", reference)
	}
	return reference[len(want):], nil
}
