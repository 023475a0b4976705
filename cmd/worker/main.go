package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/noah-isme/backend-5elm/internal/app"
	"github.com/noah-isme/backend-5elm/internal/config"
	"github.com/noah-isme/backend-5elm/internal/jobs"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	deps, err := app.New(ctx, cfg, "5elm-worker")
	if err != nil {
		panic(err)
	}
	logger := deps.Logger.With().Str("component", "worker").Logger()
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		deps.Close(closeCtx)
	}()

	svcs, err := deps.Services()
	if err != nil {
		logger.Fatal().Err(err).Msg("initialise services")
	}
	redisOpt, err := deps.RedisConnOpt()
	if err != nil {
		logger.Fatal().Err(err).Msg("parse redis uri")
	}

	client := asynq.NewClient(redisOpt)
	defer func() {
		if err := client.Close(); err != nil {
			logger.Error().Err(err).Msg("close task client")
		}
	}()

	handler := &jobs.Handler{
		Carts:    svcs.Carts,
		Queue:    client,
		StaleAge: cfg.Cart.StaleAge,
		Batch:    cfg.Worker.SweepBatch,
		Logger:   logger,
		Metrics:  deps.Metrics,
	}
	mux := asynq.NewServeMux()
	handler.Register(mux)

	server := asynq.NewServer(redisOpt, asynq.Config{
		Concurrency:     cfg.Worker.Concurrency,
		Queues:          map[string]int{jobs.QueueMaintenance: 1},
		RetryDelayFunc:  jobs.RetryDelay,
		ShutdownTimeout: cfg.ShutdownTimeout,
		Logger:          jobs.Logger{Log: logger},
		ErrorHandler: asynq.ErrorHandlerFunc(func(_ context.Context, task *asynq.Task, err error) {
			logger.Error().Err(err).Str("task", task.Type()).Msg("task_failed")
		}),
	})

	scheduler := asynq.NewScheduler(redisOpt, &asynq.SchedulerOpts{
		Location: time.UTC,
		Logger:   jobs.Logger{Log: logger.With().Str("component", "scheduler").Logger()},
	})
	entryID, err := jobs.RegisterSchedule(scheduler, cfg.Worker.SweepSchedule)
	if err != nil {
		logger.Fatal().Err(err).Msg("register sweep schedule")
	}

	if err := server.Start(mux); err != nil {
		logger.Fatal().Err(err).Msg("start task server")
	}
	if err := scheduler.Start(); err != nil {
		logger.Fatal().Err(err).Msg("start scheduler")
	}
	logger.Info().Str("sweep_entry", entryID).Str("schedule", cfg.Worker.SweepSchedule).Msg("worker starting")

	<-ctx.Done()

	scheduler.Shutdown()
	server.Shutdown()
	logger.Info().Msg("worker shutdown complete")
}
