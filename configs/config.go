package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config carries every runtime option, loaded from the environment.
type Config struct {
	// StoreURL is the backing job store endpoint.
	StoreURL string
	// APIPort is the HTTP listen port.
	APIPort string
	// TickInterval is the scheduler period.
	TickInterval time.Duration
	// MaxRetries is the default max_retries on new jobs.
	MaxRetries int
	// DefaultPriority applies when a submission omits priority.
	DefaultPriority string
	// DefaultTarget applies when a submission omits target.
	DefaultTarget string
	// PoolSpec seeds the agent/device composition; empty selects the
	// built-in five-agent default.
	PoolSpec string

	// EtcdEndpoints enables scheduler leader election when non-empty.
	EtcdEndpoints []string
	// LeaderElectionTTL is the etcd session TTL in seconds.
	LeaderElectionTTL int

	// Artifact store (optional; disabled when bucket is empty).
	ArtifactBucket   string
	ArtifactPrefix   string
	ArtifactRegion   string
	ArtifactEndpoint string
	ArtifactCacheDir string

	// Tracing (optional).
	TracingEnabled bool
	OTLPEndpoint   string

	LogLevel string
}

func LoadConfig() *Config {
	cfg := &Config{
		StoreURL:          getEnv("STORE_URL", "redis://localhost:6379"),
		APIPort:           getEnv("API_PORT", "8080"),
		TickInterval:      getEnvAsDuration("TICK_INTERVAL", 5*time.Second),
		MaxRetries:        getEnvAsInt("MAX_RETRIES", 3),
		DefaultPriority:   getEnv("DEFAULT_PRIORITY", "medium"),
		DefaultTarget:     getEnv("DEFAULT_TARGET", "emulator"),
		PoolSpec:          getEnv("POOL_SPEC", ""),
		LeaderElectionTTL: getEnvAsInt("LEADER_ELECTION_TTL", 15),
		ArtifactBucket:    getEnv("ARTIFACT_BUCKET", ""),
		ArtifactPrefix:    getEnv("ARTIFACT_PREFIX", "artifacts/jobs/"),
		ArtifactRegion:    getEnv("ARTIFACT_REGION", "us-east-1"),
		ArtifactEndpoint:  getEnv("ARTIFACT_ENDPOINT", ""),
		ArtifactCacheDir:  getEnv("ARTIFACT_CACHE_DIR", ""),
		TracingEnabled:    getEnvAsBool("TRACING_ENABLED", false),
		OTLPEndpoint:      getEnv("OTLP_ENDPOINT", "localhost:4318"),
		LogLevel:          getEnv("LOG_LEVEL", "info"),
	}
	if endpoints := getEnv("ETCD_ENDPOINTS", ""); endpoints != "" {
		cfg.EtcdEndpoints = strings.Split(endpoints, ",")
	}
	return cfg
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return fallback
}

func getEnvAsBool(key string, fallback bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return fallback
}

func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if value, err := time.ParseDuration(valueStr); err == nil && value > 0 {
		return value
	}
	return fallback
}
