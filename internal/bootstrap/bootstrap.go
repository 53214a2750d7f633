// Package bootstrap assembles the components shared by the server, worker
// and CLI binaries from configuration.
package bootstrap

import (
	"context"
	"errors"
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/dharsanguruparan/PhotoDrop/internal/config"
	"github.com/dharsanguruparan/PhotoDrop/internal/database"
	"github.com/dharsanguruparan/PhotoDrop/internal/imageproc"
	"github.com/dharsanguruparan/PhotoDrop/internal/lock"
	"github.com/dharsanguruparan/PhotoDrop/internal/logging"
	"github.com/dharsanguruparan/PhotoDrop/internal/processing"
	"github.com/dharsanguruparan/PhotoDrop/internal/repository"
	"github.com/dharsanguruparan/PhotoDrop/internal/s3storage"
	"github.com/dharsanguruparan/PhotoDrop/internal/storage"
)

// Check probes one dependency.
type Check = func(ctx context.Context) error

// Components are the long-lived collaborators built from configuration.
type Components struct {
	Config *config.Config
	Logger *zap.Logger
	Store  storage.ObjectStore
	Repo   repository.PhotoStore
	Locker lock.Locker
	Engine imageproc.Engine
	Checks map[string]Check

	pool  *pgxpool.Pool
	redis *redis.Client
}

// Setup loads configuration and builds the service logger.
func Setup(service string) (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	logger, err := logging.New(cfg.Log, service)
	if err != nil {
		return nil, nil, fmt.Errorf("init logger: %w", err)
	}
	return cfg, logger, nil
}

// Build connects every backend cfg selects. Close releases them.
func Build(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Components, error) {
	c := &Components{Config: cfg, Logger: logger, Checks: make(map[string]Check)}
	if err := c.openStore(ctx); err != nil {
		c.Close()
		return nil, err
	}
	if err := c.openRepository(ctx); err != nil {
		c.Close()
		return nil, err
	}
	c.openLocker()

	converter := imageproc.NewMagickConverter(cfg.Derivatives.HEICConverter, logger)
	c.Engine = imageproc.NewBuiltin(cfg.Derivatives.JPEGQuality, converter, logger)
	return c, nil
}

func (c *Components) openStore(ctx context.Context) error {
	cfg := c.Config.Storage
	switch cfg.Backend {
	case "memory":
		c.Store = storage.NewMemoryStore()
		if c.Config.Signing.ServeMode == "redirect" {
			c.Logger.Warn("memory storage cannot presign, serving media by stream")
			c.Config.Signing.ServeMode = "stream"
		}
	case "s3":
		s, err := s3storage.NewAWS(ctx, cfg)
		if err != nil {
			return err
		}
		if err := s.EnsureBucket(ctx); err != nil {
			return err
		}
		c.Store = s
		c.Checks["storage"] = func(ctx context.Context) error {
			_, err := s.Exists(ctx, "healthz")
			return err
		}
	default:
		s, err := s3storage.NewMinio(cfg)
		if err != nil {
			return err
		}
		if err := s.EnsureBucket(ctx); err != nil {
			return err
		}
		c.Store = s
		c.Checks["storage"] = s.Ping
	}
	return nil
}

func (c *Components) openRepository(ctx context.Context) error {
	if c.Config.DatabaseURL == "" {
		c.Logger.Warn("DATABASE_URL not set, photo records are kept in memory")
		c.Repo = repository.NewMemoryRepository()
		return nil
	}
	pool, err := database.Connect(ctx, c.Config.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	c.pool = pool
	if err := database.EnsureSchema(ctx, pool); err != nil {
		return err
	}
	c.Repo = repository.NewPhotoRepository(pool)
	c.Checks["database"] = pool.Ping
	return nil
}

// openLocker uses Redis whenever jobs go through asynq, since workers then
// run in several processes.
func (c *Components) openLocker() {
	if c.Config.Queue.Backend != "asynq" {
		c.Locker = lock.NewKeyedMutex()
		return
	}
	c.redis = redis.NewClient(&redis.Options{Addr: c.Config.RedisAddr, Password: c.Config.RedisPassword})
	c.Locker = lock.NewRedisLocker(c.redis, "photodrop:lock:")
	c.Checks["redis"] = func(ctx context.Context) error { return c.redis.Ping(ctx).Err() }
}

// RedisOpt returns the asynq connection settings.
func (c *Components) RedisOpt() asynq.RedisClientOpt {
	return asynq.RedisClientOpt{Addr: c.Config.RedisAddr, Password: c.Config.RedisPassword}
}

// Processor builds the derivative processor. captions may be nil.
func (c *Components) Processor(captions processing.CaptionEnqueuer) *processing.Processor {
	d := c.Config.Derivatives
	return processing.New(c.Repo, c.Store, c.Engine, c.Locker, captions, processing.Options{
		ThumbDetailPx: d.ThumbDetailPx,
		ThumbListPx:   d.ThumbListPx,
		DisplayMaxPx:  d.DisplayMaxPx,
		LockTTL:       c.Config.Queue.LockTTL,
	}, c.Logger)
}

// Close releases connections.
func (c *Components) Close() error {
	var errs []error
	if c.redis != nil {
		errs = append(errs, c.redis.Close())
	}
	if c.pool != nil {
		c.pool.Close()
	}
	return errors.Join(errs...)
}
