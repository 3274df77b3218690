// Package runstate implements C8: the run state machine and the ten
// boundary operations of §6, tying together mapping, staging, matcher,
// matchstore and aggregate behind one engine.
package runstate

import (
	"context"
	"database/sql"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/mailtrace/core/internal/aggregate"
	"github.com/mailtrace/core/internal/apperr"
	"github.com/mailtrace/core/internal/dedupe"
	"github.com/mailtrace/core/internal/mapping"
	"github.com/mailtrace/core/internal/matcher"
	"github.com/mailtrace/core/internal/matchstore"
	"github.com/mailtrace/core/internal/model"
	"github.com/mailtrace/core/internal/staging"
)

// Enqueuer decouples runstate from the asynq-specific worker package (it
// would otherwise import each other: worker calls into runstate to run the
// pipeline, runstate calls into worker to enqueue it).
type Enqueuer interface {
	EnqueueRunMatch(runID int64, userID string) error
}

type Engine struct {
	db       *sql.DB
	mapping  *mapping.Engine
	staging  *staging.Store
	matches  *matchstore.Store
	agg      *aggregate.Aggregator
	dedupe   *dedupe.Gate
	queue    Enqueuer
	matchCfg matcher.Config
}

func NewEngine(db *sql.DB, queue Enqueuer, matchCfg matcher.Config) *Engine {
	return &Engine{
		db:       db,
		mapping:  mapping.NewEngine(db),
		staging:  staging.NewStore(db),
		matches:  matchstore.NewStore(db),
		agg:      aggregate.NewAggregator(db),
		dedupe:   dedupe.NewGate(db),
		queue:    queue,
		matchCfg: matchCfg,
	}
}

// SetQueue wires the enqueuer after construction, for call sites that build
// the engine before the queue client exists (cmd/server/main.go).
func (e *Engine) SetQueue(q Enqueuer) { e.queue = q }

// CreateRun reuses a user's active (non-terminal) run if one exists,
// otherwise starts a new one (§4.8 "create-or-reuse-active-run").
func (e *Engine) CreateRun(ctx context.Context, userID string) (*model.Run, error) {
	existing, err := e.activeRun(ctx, userID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	var run model.Run
	err = e.db.QueryRowContext(ctx, `
		INSERT INTO runs (user_id, status, step, pct, message, started_at)
		VALUES ($1, $2, $2, $3, $4, NOW())
		RETURNING id, user_id, status, step, pct, message, started_at, finished_at, mail_count, crm_count, mail_ready, crm_ready
	`, userID, model.StatusQueued, model.StatusSteps[0].Pct, model.StatusSteps[0].Message).Scan(
		&run.ID, &run.UserID, &run.Status, &run.Step, &run.Pct, &run.Message,
		&run.StartedAt, &run.FinishedAt, &run.MailCount, &run.CRMCount, &run.MailReady, &run.CRMReady,
	)
	if err != nil {
		return nil, apperr.Internal("create run", err)
	}
	return &run, nil
}

func (e *Engine) activeRun(ctx context.Context, userID string) (*model.Run, error) {
	var run model.Run
	err := e.db.QueryRowContext(ctx, `
		SELECT id, user_id, status, step, pct, message, started_at, finished_at, mail_count, crm_count, mail_ready, crm_ready
		FROM runs
		WHERE user_id = $1 AND status NOT IN ($2, $3)
		ORDER BY started_at DESC LIMIT 1
	`, userID, model.StatusDone, model.StatusFailed).Scan(
		&run.ID, &run.UserID, &run.Status, &run.Step, &run.Pct, &run.Message,
		&run.StartedAt, &run.FinishedAt, &run.MailCount, &run.CRMCount, &run.MailReady, &run.CRMReady,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.Internal("lookup active run", err)
	}
	return &run, nil
}

func (e *Engine) LoadRun(ctx context.Context, runID int64, userID string) (*model.Run, error) {
	var run model.Run
	err := e.db.QueryRowContext(ctx, `
		SELECT id, user_id, status, step, pct, message, started_at, finished_at, mail_count, crm_count, mail_ready, crm_ready
		FROM runs WHERE id = $1 AND user_id = $2
	`, runID, userID).Scan(
		&run.ID, &run.UserID, &run.Status, &run.Step, &run.Pct, &run.Message,
		&run.StartedAt, &run.FinishedAt, &run.MailCount, &run.CRMCount, &run.MailReady, &run.CRMReady,
	)
	if err == sql.ErrNoRows {
		return nil, apperr.NotFound("run not found")
	}
	if err != nil {
		return nil, apperr.Internal("load run", err)
	}
	return &run, nil
}

// UploadRaw lands a CSV's rows verbatim for (run, source) and returns a
// sample for the mapping UI (§4.2, §6 upload_raw).
func (e *Engine) UploadRaw(ctx context.Context, runID int64, userID string, source model.Source, rows []map[string]string) (*model.UploadRawResponse, error) {
	run, err := e.LoadRun(ctx, runID, userID)
	if err != nil {
		return nil, err
	}
	if run.Status == model.StatusMatching || run.Status == model.StatusAggregating {
		return nil, apperr.New(apperr.KindConflict, "run is matching/aggregating, retry after it completes")
	}

	count, err := e.mapping.IngestRaw(ctx, runID, userID, source, rows)
	if err != nil {
		return nil, err
	}

	headers, sample, err := e.mapping.HeadersSample(ctx, runID, source, 5)
	if err != nil {
		return nil, err
	}
	return &model.UploadRawResponse{
		State:         "raw_only",
		RawCount:      count,
		SampleHeaders: headers,
		SampleRows:    sample,
	}, nil
}

// GetHeaders returns the raw headers and a sample for a run's source, for
// the mapping UI (§6 get_headers).
func (e *Engine) GetHeaders(ctx context.Context, runID int64, userID string, source model.Source) (*model.GetHeadersResponse, error) {
	if _, err := e.LoadRun(ctx, runID, userID); err != nil {
		return nil, err
	}
	headers, sample, err := e.mapping.HeadersSample(ctx, runID, source, 5)
	if err != nil {
		return nil, err
	}
	return &model.GetHeadersResponse{Headers: headers, SampleRows: sample}, nil
}

// SaveMapping persists the user's canonical-field -> header assignment
// (§4.3, §6 save_mapping).
func (e *Engine) SaveMapping(ctx context.Context, runID int64, userID string, source model.Source, fields map[string]string) error {
	if _, err := e.LoadRun(ctx, runID, userID); err != nil {
		return err
	}
	return e.mapping.SaveMapping(ctx, runID, source, fields)
}

func (e *Engine) GetMapping(ctx context.Context, runID int64, userID string, source model.Source) (*model.Mapping, error) {
	if _, err := e.LoadRun(ctx, runID, userID); err != nil {
		return nil, err
	}
	fields, err := e.mapping.GetMapping(ctx, runID, source)
	if err != nil {
		return nil, err
	}
	return &model.Mapping{RunID: runID, Source: source, Fields: fields}, nil
}

// StartPipeline checks both sources' mappings cover their required fields
// (synchronously), then transitions the run to "starting" and enqueues the
// async matching pipeline (§4.8, §6 start_pipeline).
func (e *Engine) StartPipeline(ctx context.Context, runID int64, userID string) (*model.StartPipelineResponse, error) {
	run, err := e.LoadRun(ctx, runID, userID)
	if err != nil {
		return nil, err
	}
	if run.Status != model.StatusQueued {
		return nil, apperr.Conflict("run has already been started")
	}

	missing, err := e.mapping.CheckMapping(ctx, runID)
	if err != nil {
		return nil, err
	}
	if len(missing) > 0 {
		return &model.StartPipelineResponse{OK: false, Missing: missing}, nil
	}

	if err := e.transition(ctx, runID, model.StatusStarting); err != nil {
		return nil, err
	}
	if e.queue != nil {
		if err := e.queue.EnqueueRunMatch(runID, userID); err != nil {
			return nil, apperr.Internal("enqueue pipeline", err)
		}
	}
	return &model.StartPipelineResponse{OK: true}, nil
}

// Status reports the run's current phase for polling (§6 status).
func (e *Engine) Status(ctx context.Context, runID int64, userID string) (*model.StatusResponse, error) {
	run, err := e.LoadRun(ctx, runID, userID)
	if err != nil {
		return nil, err
	}
	return &model.StatusResponse{RunID: run.ID, Status: run.Status, Pct: run.Pct, Step: run.Step, Message: run.Message}, nil
}

// Result returns the cached artifact when present and fresh is not
// requested, otherwise recomputes and re-caches (§6 result, §10 supplement).
func (e *Engine) Result(ctx context.Context, runID int64, userID string, refresh bool) (*model.ResultResponse, error) {
	run, err := e.LoadRun(ctx, runID, userID)
	if err != nil {
		return nil, err
	}
	if run.Status != model.StatusDone {
		return nil, apperr.Conflict("run has not completed")
	}

	if !refresh {
		var raw []byte
		err := e.db.QueryRowContext(ctx, `SELECT artifacts FROM runs WHERE id = $1`, runID).Scan(&raw)
		if err == nil && len(raw) > 0 {
			var cached model.ResultResponse
			if jsonErr := json.Unmarshal(raw, &cached); jsonErr == nil {
				return &cached, nil
			}
		}
	}

	return e.agg.ComputeAndCache(ctx, runID)
}

// LatestRun returns the user's most recently started run, if any (§6
// latest_run).
func (e *Engine) LatestRun(ctx context.Context, userID string) (*model.Run, error) {
	var run model.Run
	err := e.db.QueryRowContext(ctx, `
		SELECT id, user_id, status, step, pct, message, started_at, finished_at, mail_count, crm_count, mail_ready, crm_ready
		FROM runs WHERE user_id = $1 ORDER BY started_at DESC LIMIT 1
	`, userID).Scan(
		&run.ID, &run.UserID, &run.Status, &run.Step, &run.Pct, &run.Message,
		&run.StartedAt, &run.FinishedAt, &run.MailCount, &run.CRMCount, &run.MailReady, &run.CRMReady,
	)
	if err == sql.ErrNoRows {
		return nil, apperr.NotFound("no runs for user")
	}
	if err != nil {
		return nil, apperr.Internal("load latest run", err)
	}
	return &run, nil
}

// ListRuns paginates a user's run history with an opaque, base64-encoded
// cursor over started_at (§10 supplemented feature).
func (e *Engine) ListRuns(ctx context.Context, userID string, cursor string, limit int) (*model.ListRunsResponse, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}

	var before time.Time
	if cursor != "" {
		decoded, err := base64.StdEncoding.DecodeString(cursor)
		if err != nil {
			return nil, apperr.BadRequest("invalid cursor")
		}
		if before, err = time.Parse(time.RFC3339Nano, string(decoded)); err != nil {
			return nil, apperr.BadRequest("invalid cursor")
		}
	} else {
		before = time.Now().Add(24 * time.Hour)
	}

	rows, err := e.db.QueryContext(ctx, `
		SELECT id, started_at, status, mail_count, crm_count
		FROM runs WHERE user_id = $1 AND started_at < $2
		ORDER BY started_at DESC LIMIT $3
	`, userID, before, limit+1)
	if err != nil {
		return nil, apperr.Internal("list runs", err)
	}
	defer rows.Close()

	var items []model.RunSummary
	for rows.Next() {
		var s model.RunSummary
		var mailCount, crmCount int
		if err := rows.Scan(&s.ID, &s.StartedAt, &s.Status, &mailCount, &crmCount); err != nil {
			return nil, apperr.Internal("scan run summary", err)
		}
		s.Summary = fmt.Sprintf("%d mail, %d crm rows", mailCount, crmCount)
		items = append(items, s)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Internal("list runs", err)
	}

	resp := &model.ListRunsResponse{Items: items}
	if len(items) > limit {
		resp.Items = items[:limit]
		resp.NextCursor = base64.StdEncoding.EncodeToString([]byte(items[limit-1].StartedAt.Format(time.RFC3339Nano)))
	}
	return resp, nil
}

// transition moves a run to status, filling in pct/message from
// model.StatusSteps and timestamping completion for terminal statuses.
func (e *Engine) transition(ctx context.Context, runID int64, status string) error {
	pct, message := 0, status
	for _, step := range model.StatusSteps {
		if step.Status == status {
			pct, message = step.Pct, step.Message
			break
		}
	}
	var err error
	if status == model.StatusDone || status == model.StatusFailed {
		_, err = e.db.ExecContext(ctx, `
			UPDATE runs SET status = $1, step = $1, pct = $2, message = $3, finished_at = NOW() WHERE id = $4
		`, status, pct, message, runID)
	} else {
		_, err = e.db.ExecContext(ctx, `
			UPDATE runs SET status = $1, step = $1, pct = $2, message = $3 WHERE id = $4
		`, status, pct, message, runID)
	}
	if err != nil {
		return apperr.Internal("transition run status", err)
	}
	return nil
}

// Fail marks a run as failed with a diagnostic message; a failed run is
// terminal and never resumed (§4.8).
func (e *Engine) Fail(ctx context.Context, runID int64, reason string) error {
	_, err := e.db.ExecContext(ctx, `
		UPDATE runs SET status = $1, step = $1, pct = 100, message = $2, finished_at = NOW() WHERE id = $3
	`, model.StatusFailed, reason, runID)
	if err != nil {
		return apperr.Internal("mark run failed", err)
	}
	return nil
}

// Heartbeat re-asserts the run's current message, a liveness signal the
// worker ticks every 5s while RunPipeline is in flight (§4.8, SPEC_FULL
// §4.12). It never touches status/step/pct, and is a no-op once the run has
// reached a terminal status, so a heartbeat racing the final transition
// can't resurrect a done/failed run's message.
func (e *Engine) Heartbeat(ctx context.Context, runID int64) error {
	_, err := e.db.ExecContext(ctx, `
		UPDATE runs SET message = message WHERE id = $1 AND status NOT IN ($2, $3)
	`, runID, model.StatusDone, model.StatusFailed)
	if err != nil {
		return apperr.Internal("write heartbeat", err)
	}
	return nil
}

// RunPipeline drives a run through every phase of §4.8's state machine:
// normalize+stage mail, normalize+stage CRM, match, persist matches,
// aggregate, finalize. It is invoked by the worker's run:match handler,
// which also owns the 5s heartbeat and cancellation via ctx.
func (e *Engine) RunPipeline(ctx context.Context, runID int64, userID string) error {
	if err := e.transition(ctx, runID, model.StatusNormalizingMail); err != nil {
		return err
	}
	mailRows, err := e.mapping.ApplyMappingForSource(ctx, runID, model.SourceMail)
	if err != nil {
		return e.failWith(ctx, runID, "normalize mail", err)
	}

	if err := e.transition(ctx, runID, model.StatusMailInserting); err != nil {
		return err
	}
	mailCount, err := e.staging.UpsertMail(ctx, runID, userID, mailRows)
	if err != nil {
		return e.failWith(ctx, runID, "stage mail", err)
	}
	if mailCount == 0 {
		return e.failWith(ctx, runID, "normalize mail", fmt.Errorf("zero mail rows staged, check the mail mapping covers %v", mapping.RequiredMailFields))
	}
	if _, err := e.db.ExecContext(ctx, `UPDATE runs SET mail_count = $1, mail_ready = true WHERE id = $2`, mailCount, runID); err != nil {
		return e.failWith(ctx, runID, "mark mail ready", err)
	}
	if err := e.transition(ctx, runID, model.StatusMailReady); err != nil {
		return err
	}

	if cancelled := e.checkCancelled(ctx, runID); cancelled != nil {
		return cancelled
	}

	if err := e.transition(ctx, runID, model.StatusNormalizingCRM); err != nil {
		return err
	}
	crmRows, err := e.mapping.ApplyMappingForSource(ctx, runID, model.SourceCRM)
	if err != nil {
		return e.failWith(ctx, runID, "normalize crm", err)
	}

	if cancelled := e.checkCancelled(ctx, runID); cancelled != nil {
		return cancelled
	}

	if err := e.transition(ctx, runID, model.StatusCRMInserting); err != nil {
		return err
	}
	crmCount, err := e.staging.UpsertCRM(ctx, runID, userID, crmRows)
	if err != nil {
		return e.failWith(ctx, runID, "stage crm", err)
	}
	if crmCount == 0 {
		return e.failWith(ctx, runID, "normalize crm", fmt.Errorf("zero crm rows staged, check the crm mapping covers %v", mapping.RequiredCRMFields))
	}
	if _, err := e.db.ExecContext(ctx, `UPDATE runs SET crm_count = $1, crm_ready = true WHERE id = $2`, crmCount, runID); err != nil {
		return e.failWith(ctx, runID, "mark crm ready", err)
	}
	if err := e.transition(ctx, runID, model.StatusCRMReady); err != nil {
		return err
	}

	if cancelled := e.checkCancelled(ctx, runID); cancelled != nil {
		return cancelled
	}

	ready, err := e.dedupe.PairReady(ctx, runID)
	if err != nil {
		return e.failWith(ctx, runID, "check staging readiness", err)
	}
	if !ready {
		return e.failWith(ctx, runID, "match", fmt.Errorf("staging not ready: both mail and crm rows are required"))
	}

	if err := e.transition(ctx, runID, model.StatusMatching); err != nil {
		return err
	}
	mail, err := e.staging.FetchMailForRun(ctx, runID)
	if err != nil {
		return e.failWith(ctx, runID, "fetch mail staging", err)
	}
	crm, err := e.staging.FetchCRMForRun(ctx, runID)
	if err != nil {
		return e.failWith(ctx, runID, "fetch crm staging", err)
	}

	if cancelled := e.checkCancelled(ctx, runID); cancelled != nil {
		return cancelled
	}

	results := matcher.Run(mail, crm, e.matchCfg)

	var winners []model.Match
	for _, r := range results {
		if !r.Excluded {
			winners = append(winners, *r.Match)
		}
	}
	if err := e.matches.UpsertBatch(ctx, winners); err != nil {
		return e.failWith(ctx, runID, "persist matches", err)
	}

	if err := e.transition(ctx, runID, model.StatusAggregating); err != nil {
		return err
	}
	if _, err := e.agg.ComputeAndCache(ctx, runID); err != nil {
		return e.failWith(ctx, runID, "aggregate results", err)
	}

	return e.transition(ctx, runID, model.StatusDone)
}

func (e *Engine) failWith(ctx context.Context, runID int64, phase string, cause error) error {
	slog.Error("run pipeline phase failed", "runId", runID, "phase", phase, "error", cause)
	_ = e.Fail(ctx, runID, fmt.Sprintf("%s: %v", phase, cause))
	return cause
}

// checkCancelled reports a non-nil error, and marks the run failed with the
// bare message "cancelled", once the caller's context has been stopped
// (worker shutdown or an explicit stop request). Checked between phases and
// between mail and CRM staging so no further CRM rows are processed once a
// cancellation is observed (§5).
func (e *Engine) checkCancelled(ctx context.Context, runID int64) error {
	if ctx.Err() == nil {
		return nil
	}
	slog.Info("run pipeline cancelled", "runId", runID)
	_ = e.Fail(context.Background(), runID, "cancelled")
	return ctx.Err()
}
