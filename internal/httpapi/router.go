package httpapi

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

// NewRouter wires the HTTP API (§6) the same way the teacher's
// internal/server/router.go wires its own: gin.Default(), otelgin tracing,
// a CORS middleware, then flat route registrations (no
// auth middleware here -- this API is meant to sit behind the operator's
// own network boundary, unlike the teacher's user-facing REST API).
func NewRouter(s *Server) *gin.Engine {
	router := gin.Default()
	router.Use(otelgin.Middleware("noetl-core"))
	router.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "DELETE"},
		AllowHeaders:     []string{"Content-Type", "Authorization"},
		AllowCredentials: false,
	}))

	router.GET("/healthz", func(c *gin.Context) { respondOK(c, okResponse{OK: true}) })

	router.POST("/event/emit", s.EmitEvent)
	router.POST("/executions/run", s.RunExecution)
	router.GET("/execution/:id", s.GetExecution)

	router.POST("/worker/pool/register", s.RegisterWorker)
	router.POST("/worker/pool/heartbeat", s.HeartbeatWorker)
	router.DELETE("/worker/pool/deregister", s.DeregisterWorker)

	router.POST("/runtime/register", s.RegisterRuntime)
	router.DELETE("/runtime/deregister", s.DeregisterRuntime)

	router.POST("/queue/lease", s.LeaseQueue)
	router.POST("/queue/:id/ack", s.AckQueue)
	router.POST("/queue/:id/fail", s.FailQueue)
	router.POST("/queue/:id/renew", s.RenewQueue)

	router.POST("/metrics/report", s.ReportMetrics)

	return router
}
