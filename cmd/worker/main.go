// Command worker consumes derivative jobs from asynq.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"github.com/dharsanguruparan/PhotoDrop/internal/bootstrap"
	"github.com/dharsanguruparan/PhotoDrop/internal/processing"
	"github.com/dharsanguruparan/PhotoDrop/internal/queue"
	"github.com/dharsanguruparan/PhotoDrop/internal/worker"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, logger, err := bootstrap.Setup("worker")
	if err != nil {
		fmt.Fprintf(os.Stderr, "photodrop-worker: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync() //nolint:errcheck

	if cfg.Queue.Backend != "asynq" {
		logger.Fatal("the worker only runs with QUEUE_BACKEND=asynq", zap.String("backend", cfg.Queue.Backend))
	}

	comps, err := bootstrap.Build(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("init components", zap.Error(err))
	}
	defer comps.Close()

	client := asynq.NewClient(comps.RedisOpt())
	defer client.Close()
	captions := queue.NewAsynqEnqueuer(client, nil, cfg.Queue.MaxRetry)

	server := asynq.NewServer(comps.RedisOpt(), asynq.Config{
		Concurrency: cfg.Queue.Concurrency,
		Queues:      map[string]int{queue.DerivativesQueue: 1},
		Logger:      logger.Sugar(),
		// A locked photo is retried without counting toward MaxRetry.
		IsFailure: func(err error) bool {
			return !errors.Is(err, processing.ErrJobInProgress)
		},
		ErrorHandler: asynq.ErrorHandlerFunc(func(_ context.Context, task *asynq.Task, err error) {
			logger.Warn("task failed", zap.String("type", task.Type()), zap.Error(err))
		}),
	})
	handler := worker.NewHandler(comps.Processor(captions), logger)

	go func() {
		<-ctx.Done()
		server.Shutdown()
	}()

	if err := server.Run(handler.Mux()); err != nil {
		logger.Error("worker stopped", zap.Error(err))
		os.Exit(1)
	}
}
