package main

import (
	"context"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/shirou/gopsutil/v3/mem"
	"go.uber.org/zap"

	config "testhive/configs"
	"testhive/pkg/api"
	"testhive/pkg/coordination/etcd"
	"testhive/pkg/executor"
	"testhive/pkg/logger"
	"testhive/pkg/models"
	"testhive/pkg/observability"
	"testhive/pkg/pool"
	"testhive/pkg/queue"
	"testhive/pkg/scheduler"
	"testhive/pkg/storage"
	redisstore "testhive/pkg/storage/redis"
)

func main() {
	cfg := config.LoadConfig()

	logCfg := logger.DefaultConfig("testhive")
	logCfg.Level = cfg.LogLevel
	if _, err := logger.Init(logCfg); err != nil {
		panic(err)
	}
	defer logger.Sync()

	logger.Info("orchestrator starting",
		zap.Int("cpus", runtime.NumCPU()),
		zap.Uint64("host_mem_mb", detectTotalMemory()))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// Tracing (optional).
	if cfg.TracingEnabled {
		traceCfg := observability.DefaultConfig("testhive")
		traceCfg.Endpoint = cfg.OTLPEndpoint
		provider, err := observability.Init(ctx, traceCfg)
		if err != nil {
			logger.Fatal("failed to initialize tracing", zap.Error(err))
		}
		defer func() {
			shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
			defer done()
			_ = provider.Shutdown(shutdownCtx)
		}()
	}

	// Job store.
	store, err := redisstore.NewJobStore(cfg.StoreURL)
	if err != nil {
		logger.Fatal("failed to connect to job store", zap.Error(err))
	}
	defer store.Close()
	logger.Info("job store connected", zap.String("url", cfg.StoreURL))

	// Resource pool.
	spec := cfg.PoolSpec
	if spec == "" {
		spec = pool.DefaultSpec
	}
	agentSpecs, err := pool.ParseSpec(spec)
	if err != nil {
		logger.Fatal("invalid pool spec", zap.Error(err))
	}
	devicePool, err := pool.New(agentSpecs)
	if err != nil {
		logger.Fatal("failed to seed pool", zap.Error(err))
	}
	logger.Info("device pool seeded",
		zap.Int("agents", devicePool.AgentCount()),
		zap.Int("devices", devicePool.DeviceCount()))

	// Queue.
	q := queue.New(store, queue.Options{
		MaxRetries:      cfg.MaxRetries,
		DefaultPriority: models.Priority(cfg.DefaultPriority),
		DefaultTarget:   models.Target(cfg.DefaultTarget),
	})

	// Artifact store (optional).
	var artifacts storage.ArtifactStore
	if cfg.ArtifactBucket != "" {
		s3Store, err := storage.NewS3ArtifactStore(storage.S3ArtifactStoreConfig{
			Bucket:        cfg.ArtifactBucket,
			Prefix:        cfg.ArtifactPrefix,
			Region:        cfg.ArtifactRegion,
			Endpoint:      cfg.ArtifactEndpoint,
			LocalCacheDir: cfg.ArtifactCacheDir,
		})
		if err != nil {
			logger.Fatal("failed to initialize artifact store", zap.Error(err))
		}
		artifacts = s3Store
		logger.Info("artifact store enabled", zap.String("bucket", cfg.ArtifactBucket))
	}

	// Scheduler.
	core := scheduler.NewCore(scheduler.Config{
		TickInterval: cfg.TickInterval,
		Artifacts:    artifacts,
	}, store, q, devicePool, executor.NewSimulated())

	go runScheduler(ctx, cfg, core)

	// API server.
	apiCfg := api.Config{
		Port:  cfg.APIPort,
		Queue: q,
		Pool:  devicePool,
		Store: store,
	}
	if cfg.TracingEnabled {
		apiCfg.TracingName = "testhive"
	}
	server := api.NewServer(apiCfg)
	go func() {
		if err := server.Start(); err != nil {
			logger.Error("api server error", zap.Error(err))
		}
	}()

	<-sigChan
	logger.Info("shutdown signal received")
	cancel()

	shutdownCtx, done := context.WithTimeout(context.Background(), 10*time.Second)
	defer done()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("api shutdown error", zap.Error(err))
	}
}

// runScheduler starts the tick loop, campaigning for leadership first when
// etcd endpoints are configured. A deployment without etcd runs exactly one
// orchestrator process.
func runScheduler(ctx context.Context, cfg *config.Config, core *scheduler.Core) {
	if len(cfg.EtcdEndpoints) > 0 {
		coord, err := etcd.NewCoordinator(cfg.EtcdEndpoints, cfg.LeaderElectionTTL)
		if err != nil {
			logger.Fatal("failed to connect to etcd", zap.Error(err))
		}
		defer coord.Close()

		hostname, err := os.Hostname()
		if err != nil {
			hostname = "orchestrator-" + uuid.New().String()[:8]
		}
		election := coord.NewElection("testhive-scheduler")
		logger.Info("campaigning for scheduler leadership", zap.String("candidate", hostname))
		if err := election.Campaign(ctx, hostname); err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Fatal("leader election failed", zap.Error(err))
		}
		logger.Info("scheduler leadership acquired")
		defer func() {
			resignCtx, done := context.WithTimeout(context.Background(), 3*time.Second)
			defer done()
			_ = election.Resign(resignCtx)
		}()
	}

	core.Run(ctx)
}

func detectTotalMemory() uint64 {
	v, err := mem.VirtualMemory()
	if err != nil {
		logger.Warn("failed to detect host memory", zap.Error(err))
		return 0
	}
	return v.Total / 1024 / 1024
}
