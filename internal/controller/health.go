package controller

import (
	"context"
	"time"

	"github.com/gogf/gf/v2/net/ghttp"

	"github.com/mailtrace/core/internal/database"
	"github.com/mailtrace/core/pkg/response"
)

type HealthController struct{}

func NewHealthController() *HealthController {
	return &HealthController{}
}

// Health reports Postgres and Redis reachability.
// GET /api/v1/health
func (c *HealthController) Health(r *ghttp.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "healthy"
	checks := make(map[string]string)

	if err := database.DB.PingContext(ctx); err != nil {
		status = "unhealthy"
		checks["postgresql"] = "error: " + err.Error()
	} else {
		checks["postgresql"] = "ok"
	}

	if err := database.Redis.Ping(ctx).Err(); err != nil {
		status = "unhealthy"
		checks["redis"] = "error: " + err.Error()
	} else {
		checks["redis"] = "ok"
	}

	result := map[string]interface{}{
		"status":    status,
		"checks":    checks,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}

	if status == "unhealthy" {
		r.Response.Status = 503
	}
	response.Success(r, result)
}

// Ready is a liveness probe with no dependency checks.
// GET /api/v1/ready
func (c *HealthController) Ready(r *ghttp.Request) {
	response.Success(r, map[string]interface{}{
		"ready":     true,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}
