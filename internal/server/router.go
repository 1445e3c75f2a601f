package server

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/yungbote/presgrade-backend/internal/handlers"
)

type RouterConfig struct {
	BatchHandler      *handlers.BatchHandler
	SubmissionHandler *handlers.SubmissionHandler
	BundleHandler     *handlers.BundleHandler
	AllowOrigins      []string
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	router := gin.Default()

	origins := cfg.AllowOrigins
	if len(origins) == 0 {
		origins = []string{
			"http://localhost:80",
			"http://localhost:3000",
			"http://localhost:5174",
		}
	}
	router.Use(cors.New(cors.Config{
		AllowOrigins:     origins,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "PATCH", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type", "X-Requested-With"},
		AllowCredentials: true,
	}))

	router.GET("/healthcheck", handlers.HealthCheck)

	api := router.Group("/api")
	{
		// Batches
		api.POST("/batches", cfg.BatchHandler.CreateBatch)
		api.GET("/batches", cfg.BatchHandler.ListBatches)
		api.GET("/batches/:id", cfg.BatchHandler.GetBatch)
		api.POST("/batches/:id/refresh", cfg.BatchHandler.RefreshBatch)
		api.POST("/batches/:id/archive", cfg.BatchHandler.ArchiveBatch)
		api.DELETE("/batches/:id", cfg.BatchHandler.DeleteBatch)
		api.POST("/batches/:id/process", cfg.BatchHandler.ProcessBatch)

		// Submissions
		api.POST("/batches/:id/upload-url", cfg.SubmissionHandler.CreateUploadURL)
		api.POST("/batches/:id/submissions", cfg.SubmissionHandler.CompleteUpload)
		api.GET("/submissions/:id", cfg.SubmissionHandler.GetSubmission)
		api.GET("/submissions/:id/media-url", cfg.SubmissionHandler.GetMediaURL)
		api.DELETE("/submissions/:id", cfg.SubmissionHandler.DeleteSubmission)

		// Context bundles
		api.POST("/bundles", cfg.BundleHandler.CreateBundle)
		api.GET("/bundles/:id", cfg.BundleHandler.GetBundle)
		api.POST("/bundles/:id/reindex", cfg.BundleHandler.ReindexBundle)
	}

	return router
}
