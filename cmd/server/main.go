package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/gogf/gf/v2/frame/g"

	"github.com/mailtrace/core/internal/config"
	"github.com/mailtrace/core/internal/database"
	"github.com/mailtrace/core/internal/matcher"
	"github.com/mailtrace/core/internal/router"
	"github.com/mailtrace/core/internal/runstate"
	"github.com/mailtrace/core/internal/worker"
)

// @title MailTrace API
// @version 1.0
// @description Direct-mail campaign attribution engine: uploads mail and CRM ledgers, matches jobs to mailers, and reports KPIs.

// @host localhost:8080
// @BasePath /api/v1

// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
// @description Bearer token authentication. Format: "Bearer {token}"

// @tag.name Runs
// @tag.description Upload, map, start, and poll attribution runs

// @tag.name Health
// @tag.description Service health

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	slog.Info("starting MailTrace API server", "env", cfg.Env)

	db, err := database.Connect(cfg)
	if err != nil {
		slog.Error("failed to connect to postgresql", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	slog.Info("connected to postgresql")

	if err := database.InitSchema(db); err != nil {
		slog.Error("failed to initialize database schema", "error", err)
		os.Exit(1)
	}
	slog.Info("database schema initialized")

	redisClient, err := database.ConnectRedis(cfg)
	if err != nil {
		slog.Error("failed to connect to redis", "error", err)
		os.Exit(1)
	}
	defer redisClient.Close()
	slog.Info("connected to redis")

	matchCfg := matcher.NewConfig()
	matchCfg.MatchMinScore = cfg.MatchMinScore
	matchCfg.FastFilters = cfg.FastFilters
	matchCfg.TopK = cfg.TopKRecheck

	engine := runstate.NewEngine(db, nil, matchCfg)

	queueClient, err := worker.NewQueueClient(cfg)
	if err != nil {
		slog.Error("failed to create queue client", "error", err)
		os.Exit(1)
	}
	defer queueClient.Close()
	engine.SetQueue(queueClient)

	var w *worker.Worker
	var sched *worker.Scheduler
	if cfg.WorkerEnabled {
		w = worker.NewWorker(engine, db, cfg)
		go func() {
			if err := w.Start(); err != nil {
				slog.Error("worker failed", "error", err)
			}
		}()
		slog.Info("worker started", "queue", "asynq")

		sched, err = worker.NewScheduler(db, cfg)
		if err != nil {
			slog.Warn("failed to create scheduler", "error", err)
		} else if err := sched.RegisterScheduledTasks(); err != nil {
			slog.Warn("failed to register scheduled tasks", "error", err)
		} else {
			go func() {
				if err := sched.Start(); err != nil {
					slog.Error("scheduler failed", "error", err)
				}
			}()
			slog.Info("scheduler started", "job", "stale-run-reaper")
		}
	}

	s := g.Server()
	s.SetPort(cfg.Port)
	s.SetDumpRouterMap(false)

	router.Setup(s, engine)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		<-ctx.Done()
		slog.Info("shutting down server")
		if sched != nil {
			sched.Shutdown()
		}
		if w != nil {
			w.Shutdown()
		}
		s.Shutdown()
	}()

	fmt.Printf("\n==================================================\n")
	fmt.Printf("  MailTrace API Server\n")
	fmt.Printf("==================================================\n")
	fmt.Printf("  Server: http://localhost:%d\n", cfg.Port)
	fmt.Printf("  Runs:   /api/v1/runs\n")
	fmt.Printf("  Health: /api/v1/health\n")
	fmt.Printf("==================================================\n")

	s.Run()
}
