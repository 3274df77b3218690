package worker

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/mailtrace/core/internal/config"
)

const TypeStaleRunReap = "scheduled:stale-run-reap"

// staleRunTimeout is how long a run may sit in a non-terminal status before
// the reaper considers its worker dead and fails it out (§4.8's "a run is
// terminal once failed" invariant requires someone to actually call Fail).
const staleRunTimeout = 2 * time.Hour

// Scheduler runs periodic bookkeeping via asynq's cron-backed scheduler
// (itself built on robfig/cron), generalizing the teacher's Scheduler to
// MailTrace's one periodic job: reaping runs whose worker died mid-pipeline.
type Scheduler struct {
	scheduler *asynq.Scheduler
	db        *sql.DB
	cfg       *config.Config
}

func NewScheduler(db *sql.DB, cfg *config.Config) (*Scheduler, error) {
	redisOpt := parseRedisURL(cfg.RedisURL, cfg.RedisPassword)
	return &Scheduler{
		scheduler: asynq.NewScheduler(redisOpt, nil),
		db:        db,
		cfg:       cfg,
	}, nil
}

// RegisterScheduledTasks registers the stale-run reaper to run every 15
// minutes.
func (s *Scheduler) RegisterScheduledTasks() error {
	_, err := s.scheduler.Register("*/15 * * * *", asynq.NewTask(TypeStaleRunReap, nil))
	if err != nil {
		return fmt.Errorf("register stale-run reaper: %w", err)
	}
	slog.Info("registered scheduled task", "task", TypeStaleRunReap, "cron", "*/15 * * * *")
	return nil
}

func (s *Scheduler) Start() error {
	return s.scheduler.Start()
}

func (s *Scheduler) Shutdown() {
	s.scheduler.Shutdown()
}

// ScheduledTaskHandler handles the reaper task.
type ScheduledTaskHandler struct {
	db *sql.DB
}

func NewScheduledTaskHandler(db *sql.DB) *ScheduledTaskHandler {
	return &ScheduledTaskHandler{db: db}
}

// HandleStaleRunReap fails any run that has sat in a non-terminal status
// past staleRunTimeout, on the assumption its worker crashed without ever
// reaching a terminal transition.
func (h *ScheduledTaskHandler) HandleStaleRunReap(ctx context.Context, task *asynq.Task) error {
	cutoff := fmt.Sprintf("%d seconds", int64(staleRunTimeout.Seconds()))
	res, err := h.db.ExecContext(ctx, `
		UPDATE runs
		SET status = 'failed', step = 'failed', pct = 100,
			message = 'reaped: no progress for too long', finished_at = NOW()
		WHERE status NOT IN ('done', 'failed')
		AND started_at < NOW() - $1::interval
	`, cutoff)
	if err != nil {
		return fmt.Errorf("reap stale runs: %w", err)
	}

	if n, rowsErr := res.RowsAffected(); rowsErr == nil && n > 0 {
		slog.Warn("reaped stale runs", "count", n)
	}
	return nil
}
