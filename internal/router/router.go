package router

import (
	"github.com/gogf/gf/v2/net/ghttp"

	"github.com/mailtrace/core/internal/controller"
	"github.com/mailtrace/core/internal/middleware"
	"github.com/mailtrace/core/internal/runstate"
)

// Setup wires the HTTP binding (C10): one controller over runstate.Engine,
// exposing the ten boundary operations of §6 behind bearer-JWT auth.
func Setup(s *ghttp.Server, engine *runstate.Engine) {
	healthCtrl := controller.NewHealthController()
	runCtrl := controller.NewRunController(engine)

	s.Use(ghttp.MiddlewareCORS)

	s.Group("/api/v1", func(group *ghttp.RouterGroup) {
		group.GET("/health", healthCtrl.Health)
		group.GET("/ready", healthCtrl.Ready)

		group.Group("/runs", func(runs *ghttp.RouterGroup) {
			runs.Middleware(middleware.Auth)

			runs.POST("/", runCtrl.Create)
			runs.GET("/", runCtrl.List)
			runs.GET("/latest", runCtrl.Latest)
			runs.POST("/:id/upload/:source", runCtrl.UploadRaw)
			runs.GET("/:id/headers/:source", runCtrl.GetHeaders)
			runs.PUT("/:id/mapping/:source", runCtrl.SaveMapping)
			runs.GET("/:id/mapping/:source", runCtrl.GetMapping)
			runs.POST("/:id/start", runCtrl.StartPipeline)
			runs.GET("/:id/status", runCtrl.Status)
			runs.GET("/:id/result", runCtrl.Result)
		})
	})
}
