package api

import (
	"github.com/gin-gonic/gin"
	"github.com/rcoelho/apura/internal/api/handler"
	"github.com/rcoelho/apura/internal/api/middleware"
	"github.com/rcoelho/apura/internal/config"
	"github.com/rcoelho/apura/internal/logger"
)

// Deps bundles everything the router needs.
type Deps struct {
	Imports     *handler.ImportHandler
	Validations *handler.ValidationHandler
	Health      *handler.HealthHandler
	Logger      *logger.Logger
	Server      config.ServerConfig
}

// SetupRouter configures the Gin router with all routes
func SetupRouter(deps Deps) *gin.Engine {
	switch deps.Server.Mode {
	case "release":
		gin.SetMode(gin.ReleaseMode)
	case "test":
		gin.SetMode(gin.TestMode)
	default:
		gin.SetMode(gin.DebugMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.LoggerMiddleware(deps.Logger))
	r.Use(middleware.CORS(deps.Server.CORS))

	r.GET("/health", deps.Health.Health)

	v1 := r.Group("/api/v1")
	{
		// Import jobs
		v1.POST("/imports", deps.Imports.Create)
		v1.GET("/imports", deps.Imports.List)
		v1.GET("/imports/:id", deps.Imports.Get)
		v1.DELETE("/imports/:id", deps.Imports.Delete)
		v1.GET("/imports/:id/batches", deps.Imports.ListBatches)
		v1.GET("/imports/:id/events", deps.Imports.Events)
		v1.POST("/imports/:id/cancel", deps.Imports.Cancel)
		v1.POST("/imports/:id/restart", deps.Imports.Restart)
		v1.POST("/imports/:id/select-file", deps.Imports.SelectFile)
		v1.POST("/imports/:id/reprocess-failed", deps.Imports.ReprocessFailed)

		// Batches
		v1.POST("/batches/:id/reprocess", deps.Imports.ReprocessBatch)

		// Queue
		v1.GET("/queue", deps.Imports.Queue)

		// Validation
		v1.POST("/imports/:id/validate", deps.Validations.Run)
		v1.GET("/imports/:id/validations", deps.Validations.ListRuns)
		v1.GET("/validations/:id", deps.Validations.GetRun)
		v1.GET("/validations/:id/issues", deps.Validations.ListIssues)
		v1.POST("/issues/:id/resolve", deps.Validations.Resolve)
		v1.POST("/issues/:id/ignore", deps.Validations.Ignore)
	}

	return r
}
