package controller

import (
	"github.com/gogf/gf/v2/net/ghttp"

	"github.com/mailtrace/core/internal/csvio"
	"github.com/mailtrace/core/internal/middleware"
	"github.com/mailtrace/core/internal/model"
	"github.com/mailtrace/core/internal/runstate"
	"github.com/mailtrace/core/pkg/response"
)

// RunController exposes the ten boundary operations of §6, one handler per
// operation, delegating everything to internal/runstate.
type RunController struct {
	engine *runstate.Engine
}

func NewRunController(engine *runstate.Engine) *RunController {
	return &RunController{engine: engine}
}

func parseSource(r *ghttp.Request) (model.Source, bool) {
	switch r.Get("source").String() {
	case string(model.SourceMail):
		return model.SourceMail, true
	case string(model.SourceCRM):
		return model.SourceCRM, true
	default:
		return "", false
	}
}

// Create starts or reuses a run.
// POST /api/v1/runs
func (c *RunController) Create(r *ghttp.Request) {
	claims := middleware.GetClaims(r)
	if claims == nil {
		response.Unauthorized(r, "Not authenticated")
		return
	}

	run, err := c.engine.CreateRun(r.Context(), claims.UserID)
	if err != nil {
		response.FromError(r, err)
		return
	}
	response.Created(r, model.CreateRunResponse{RunID: run.ID})
}

// UploadRaw accepts a CSV upload for one source and lands it verbatim.
// POST /api/v1/runs/:id/upload/:source
func (c *RunController) UploadRaw(r *ghttp.Request) {
	claims := middleware.GetClaims(r)
	if claims == nil {
		response.Unauthorized(r, "Not authenticated")
		return
	}

	runID := r.Get("id").Int64()
	source, ok := parseSource(r)
	if !ok {
		response.BadRequest(r, "source must be mail or crm")
		return
	}

	file := r.GetUploadFile("file")
	if file == nil {
		response.BadRequest(r, "file is required")
		return
	}
	f, err := file.Open()
	if err != nil {
		response.BadRequest(r, "could not open uploaded file")
		return
	}
	defer f.Close()

	_, rows, err := csvio.Decode(f)
	if err != nil {
		response.BadRequest(r, err.Error())
		return
	}

	result, err := c.engine.UploadRaw(r.Context(), runID, claims.UserID, source, rows)
	if err != nil {
		response.FromError(r, err)
		return
	}
	response.Success(r, result)
}

// GetHeaders returns a run source's raw headers and a sample of rows.
// GET /api/v1/runs/:id/headers/:source
func (c *RunController) GetHeaders(r *ghttp.Request) {
	claims := middleware.GetClaims(r)
	if claims == nil {
		response.Unauthorized(r, "Not authenticated")
		return
	}

	runID := r.Get("id").Int64()
	source, ok := parseSource(r)
	if !ok {
		response.BadRequest(r, "source must be mail or crm")
		return
	}

	result, err := c.engine.GetHeaders(r.Context(), runID, claims.UserID, source)
	if err != nil {
		response.FromError(r, err)
		return
	}
	response.Success(r, result)
}

// SaveMapping persists the canonical-field -> raw-header assignment for a
// run's source.
// PUT /api/v1/runs/:id/mapping/:source
func (c *RunController) SaveMapping(r *ghttp.Request) {
	claims := middleware.GetClaims(r)
	if claims == nil {
		response.Unauthorized(r, "Not authenticated")
		return
	}

	runID := r.Get("id").Int64()
	source, ok := parseSource(r)
	if !ok {
		response.BadRequest(r, "source must be mail or crm")
		return
	}

	var req model.SaveMappingRequest
	if err := r.Parse(&req); err != nil {
		response.BadRequest(r, err.Error())
		return
	}

	if err := c.engine.SaveMapping(r.Context(), runID, claims.UserID, source, req.Fields); err != nil {
		response.FromError(r, err)
		return
	}
	response.SuccessWithMessage(r, "mapping saved", map[string]bool{"ok": true})
}

// GetMapping returns a run source's saved mapping.
// GET /api/v1/runs/:id/mapping/:source
func (c *RunController) GetMapping(r *ghttp.Request) {
	claims := middleware.GetClaims(r)
	if claims == nil {
		response.Unauthorized(r, "Not authenticated")
		return
	}

	runID := r.Get("id").Int64()
	source, ok := parseSource(r)
	if !ok {
		response.BadRequest(r, "source must be mail or crm")
		return
	}

	mapping, err := c.engine.GetMapping(r.Context(), runID, claims.UserID, source)
	if err != nil {
		response.FromError(r, err)
		return
	}
	response.Success(r, mapping)
}

// StartPipeline validates both mappings are complete and enqueues the
// matching pipeline.
// POST /api/v1/runs/:id/start
func (c *RunController) StartPipeline(r *ghttp.Request) {
	claims := middleware.GetClaims(r)
	if claims == nil {
		response.Unauthorized(r, "Not authenticated")
		return
	}

	runID := r.Get("id").Int64()
	result, err := c.engine.StartPipeline(r.Context(), runID, claims.UserID)
	if err != nil {
		response.FromError(r, err)
		return
	}
	if !result.OK {
		response.ConflictWithData(r, "mapping incomplete", result)
		return
	}
	response.Success(r, result)
}

// Status reports a run's current phase for polling.
// GET /api/v1/runs/:id/status
func (c *RunController) Status(r *ghttp.Request) {
	claims := middleware.GetClaims(r)
	if claims == nil {
		response.Unauthorized(r, "Not authenticated")
		return
	}

	runID := r.Get("id").Int64()
	result, err := c.engine.Status(r.Context(), runID, claims.UserID)
	if err != nil {
		response.FromError(r, err)
		return
	}
	response.Success(r, result)
}

// Result returns the full KPI/graph/top-city/top-zip payload for a
// completed run, optionally forcing a recompute.
// GET /api/v1/runs/:id/result
func (c *RunController) Result(r *ghttp.Request) {
	claims := middleware.GetClaims(r)
	if claims == nil {
		response.Unauthorized(r, "Not authenticated")
		return
	}

	runID := r.Get("id").Int64()
	refresh := r.GetQuery("refresh", false).Bool()

	result, err := c.engine.Result(r.Context(), runID, claims.UserID, refresh)
	if err != nil {
		response.FromError(r, err)
		return
	}
	response.Success(r, result)
}

// Latest returns the caller's most recently started run.
// GET /api/v1/runs/latest
func (c *RunController) Latest(r *ghttp.Request) {
	claims := middleware.GetClaims(r)
	if claims == nil {
		response.Unauthorized(r, "Not authenticated")
		return
	}

	run, err := c.engine.LatestRun(r.Context(), claims.UserID)
	if err != nil {
		response.FromError(r, err)
		return
	}
	response.Success(r, run)
}

// List paginates the caller's run history.
// GET /api/v1/runs
func (c *RunController) List(r *ghttp.Request) {
	claims := middleware.GetClaims(r)
	if claims == nil {
		response.Unauthorized(r, "Not authenticated")
		return
	}

	cursor := r.GetQuery("cursor", "").String()
	limit := r.GetQuery("limit", 20).Int()

	result, err := c.engine.ListRuns(r.Context(), claims.UserID, cursor, limit)
	if err != nil {
		response.FromError(r, err)
		return
	}
	response.Success(r, result)
}
