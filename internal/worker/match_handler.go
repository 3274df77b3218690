package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/mailtrace/core/internal/runstate"
)

// MatchHandler drives one run through internal/runstate.RunPipeline.
type MatchHandler struct {
	engine *runstate.Engine
}

func NewMatchHandler(engine *runstate.Engine) *MatchHandler {
	return &MatchHandler{engine: engine}
}

// HandleRunMatch is the asynq handler for TypeRunMatch. asynq.Task's
// context already carries the task's own deadline; RunPipeline checks it
// between phases and, once it is done, marks the run failed with
// "cancelled" and stops advancing.
func (h *MatchHandler) HandleRunMatch(ctx context.Context, t *asynq.Task) error {
	payload, err := UnmarshalRunMatchPayload(t.Payload())
	if err != nil {
		return fmt.Errorf("unmarshal run:match payload: %w", err)
	}

	stopHeartbeat := h.startHeartbeat(ctx, payload.RunID)
	defer stopHeartbeat()

	slog.Info("run pipeline starting", "runId", payload.RunID, "userId", payload.UserID)
	if err := h.engine.RunPipeline(ctx, payload.RunID, payload.UserID); err != nil {
		slog.Error("run pipeline failed", "runId", payload.RunID, "error", err)
		return fmt.Errorf("run %d pipeline failed: %w", payload.RunID, err)
	}
	slog.Info("run pipeline finished", "runId", payload.RunID)
	return nil
}

// startHeartbeat ticks runstate.Engine.Heartbeat every 5s while a run is in
// flight, so a stalled or crashed worker is distinguishable from one still
// making progress (§4.8, SPEC_FULL §4.12). The returned func stops the
// ticker and must be called in a finally-path (the caller's defer) so
// cancellation always stops the heartbeat along with the pipeline.
func (h *MatchHandler) startHeartbeat(ctx context.Context, runID int64) func() {
	ticker := time.NewTicker(5 * time.Second)
	done := make(chan struct{})

	go func() {
		for {
			select {
			case <-ticker.C:
				if err := h.engine.Heartbeat(ctx, runID); err != nil {
					slog.Warn("heartbeat write failed", "runId", runID, "error", err)
				}
			case <-done:
				return
			}
		}
	}()

	return func() {
		ticker.Stop()
		close(done)
	}
}
