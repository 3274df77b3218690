// Package worker runs the matching pipeline asynchronously off asynq/Redis
// (C12, §4.12, §5). A run is enqueued once, and not re-enqueued while one
// of its tasks is already in flight.
package worker

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/mailtrace/core/internal/config"
	"github.com/mailtrace/core/internal/runstate"
)

// parseRedisURL parses a Redis URL and returns asynq.RedisClientOpt.
// Supports formats: redis://host:port, redis://:pass@host:port, host:port.
func parseRedisURL(redisURL string, fallbackPassword string) asynq.RedisClientOpt {
	addr := "localhost:6379"
	password := fallbackPassword

	if u, err := url.Parse(redisURL); err == nil && u.Host != "" {
		addr = u.Host
		if u.User != nil {
			if p, ok := u.User.Password(); ok {
				password = p
			}
		}
	} else {
		addr = redisURL
	}

	return asynq.RedisClientOpt{Addr: addr, Password: password, DB: 0}
}

// Worker runs the asynq server and its matching-task handler.
type Worker struct {
	server *asynq.Server
	mux    *asynq.ServeMux
	engine *runstate.Engine
	db     *sql.DB
	cfg    *config.Config
}

// QueueClient enqueues run:match tasks from the HTTP binding.
type QueueClient struct {
	client   *asynq.Client
	redisOpt asynq.RedisClientOpt
}

func NewWorker(engine *runstate.Engine, db *sql.DB, cfg *config.Config) *Worker {
	redisOpt := parseRedisURL(cfg.RedisURL, cfg.RedisPassword)

	server := asynq.NewServer(
		redisOpt,
		asynq.Config{
			Concurrency: 10,
			Queues: map[string]int{
				"default": 1,
			},
			RetryDelayFunc: func(n int, e error, t *asynq.Task) time.Duration {
				return 10 * time.Second
			},
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				slog.Error("task failed", "type", task.Type(), "error", err)
			}),
		},
	)

	return &Worker{
		server: server,
		mux:    asynq.NewServeMux(),
		engine: engine,
		db:     db,
		cfg:    cfg,
	}
}

func (w *Worker) RegisterHandlers() {
	matchHandler := NewMatchHandler(w.engine)
	w.mux.HandleFunc(TypeRunMatch, matchHandler.HandleRunMatch)

	reapHandler := NewScheduledTaskHandler(w.db)
	w.mux.HandleFunc(TypeStaleRunReap, reapHandler.HandleStaleRunReap)

	slog.Info("registered task handlers", "types", []string{TypeRunMatch, TypeStaleRunReap})
}

func (w *Worker) Start() error {
	slog.Info("starting worker server")
	w.RegisterHandlers()
	return w.server.Start(w.mux)
}

func (w *Worker) Shutdown() {
	slog.Info("shutting down worker")
	w.server.Shutdown()
}

func NewQueueClient(cfg *config.Config) (*QueueClient, error) {
	redisOpt := parseRedisURL(cfg.RedisURL, cfg.RedisPassword)
	return &QueueClient{client: asynq.NewClient(redisOpt), redisOpt: redisOpt}, nil
}

func (c *QueueClient) Close() error {
	return c.client.Close()
}

// Enqueue submits the run:match task; MaxRetry(0) because a failed run is
// surfaced as StatusFailed, not silently retried (§4.8).
func (c *QueueClient) Enqueue(payload *RunMatchPayload) (*asynq.TaskInfo, error) {
	data, err := payload.Marshal()
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}

	task := asynq.NewTask(TypeRunMatch, data)
	return c.client.Enqueue(task,
		asynq.Queue("default"),
		asynq.MaxRetry(0),
		asynq.Timeout(30*time.Minute),
		asynq.TaskID(fmt.Sprintf("run-match-%d-%s", payload.RunID, uuid.New().String())),
	)
}

// EnqueueRunMatch satisfies runstate.Enqueuer, the interface runstate uses
// to start the async pipeline without importing this asynq-specific package.
func (c *QueueClient) EnqueueRunMatch(runID int64, userID string) error {
	_, err := c.Enqueue(&RunMatchPayload{RunID: runID, UserID: userID})
	return err
}
