// Command server runs the PhotoDrop HTTP API. With QUEUE_BACKEND=inline it
// also processes derivatives in-process.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"github.com/dharsanguruparan/PhotoDrop/internal/api"
	"github.com/dharsanguruparan/PhotoDrop/internal/auth"
	"github.com/dharsanguruparan/PhotoDrop/internal/bootstrap"
	"github.com/dharsanguruparan/PhotoDrop/internal/ingest"
	"github.com/dharsanguruparan/PhotoDrop/internal/processing"
	"github.com/dharsanguruparan/PhotoDrop/internal/queue"
	"github.com/dharsanguruparan/PhotoDrop/internal/signing"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, logger, err := bootstrap.Setup("api")
	if err != nil {
		fmt.Fprintf(os.Stderr, "photodrop: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync() //nolint:errcheck

	comps, err := bootstrap.Build(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("init components", zap.Error(err))
	}
	defer comps.Close()

	var enqueuer queue.Enqueuer
	var pool *processing.Pool
	switch cfg.Queue.Backend {
	case "inline":
		pool = processing.NewPool(comps.Processor(nil), cfg.Queue.Concurrency, logger)
		pool.Start(ctx)
		enqueuer = pool
	default:
		client := asynq.NewClient(comps.RedisOpt())
		defer client.Close()
		inspector := asynq.NewInspector(comps.RedisOpt())
		defer inspector.Close()
		enqueuer = queue.NewAsynqEnqueuer(client, inspector, cfg.Queue.MaxRetry)
	}

	secret, generated := cfg.SigningSecret()
	if generated {
		logger.Warn("SIGNING_SECRET not set, using a random secret; signed URLs will not survive a restart")
	}
	if cfg.Auth.JWTSecret == "" {
		logger.Warn("JWT_SECRET not set, every authenticated route will answer 401")
	}

	ingestCtl := ingest.NewController(comps.Store, cfg.Ingest, logger)
	srv := api.New(api.Deps{
		Config: cfg,
		Ingest: ingestCtl,
		Repo:   comps.Repo,
		Store:  comps.Store,
		Queue:  enqueuer,
		Signer: signing.NewSigner(secret, cfg.Signing.Window),
		Auth:   auth.NewAuthenticator([]byte(cfg.Auth.JWTSecret), cfg.Auth.CookieName),
		Logger: logger,
		Checks: comps.Checks,
	})

	if err := srv.Run(ctx); err != nil {
		logger.Error("server stopped", zap.Error(err))
		os.Exit(1)
	}
	ingestCtl.Wait()
	if pool != nil {
		pool.Wait()
	}
}
