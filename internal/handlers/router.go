package handlers

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/justsurfingit/jobtracker/internal/dtos"
	"go.uber.org/zap"
)

const (
	maxJSONBody   = 2 << 20
	maxUploadBody = 20 << 20
)

type RouterConfig struct {
	UploadDir    string
	AllowOrigins []string
	Production   bool
}

var registerOnce sync.Once

func registerBindingValidations(logger *zap.Logger) {
	registerOnce.Do(func() {
		v, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			return
		}
		if err := dtos.RegisterValidations(v); err != nil {
			logger.Error("failed to register validations", zap.Error(err))
		}
	})
}

// NewRouter wires middleware and routes.
func NewRouter(cfg RouterConfig, h *JobHandler, logger *zap.Logger) *gin.Engine {
	if cfg.Production {
		gin.SetMode(gin.ReleaseMode)
	}
	registerBindingValidations(logger)

	r := gin.New()
	r.MaxMultipartMemory = maxUploadBody
	r.Use(RequestID(), AccessLog(logger), Recovery(logger))

	corsConfig := cors.DefaultConfig()
	if len(cfg.AllowOrigins) == 0 {
		corsConfig.AllowAllOrigins = true
	} else {
		corsConfig.AllowOrigins = cfg.AllowOrigins
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Length", "Content-Type", "Authorization", RequestIDHeader}
	corsConfig.ExposeHeaders = []string{"Content-Disposition", RequestIDHeader}
	corsConfig.MaxAge = 12 * time.Hour
	r.Use(cors.New(corsConfig))

	if cfg.UploadDir != "" {
		r.Static("/uploads", cfg.UploadDir)
	}

	api := r.Group("/api")
	{
		api.GET("/health", HealthCheck)

		api.GET("/jobs", h.ListJobs)
		api.GET("/jobs/export", h.ExportJobs)
		api.POST("/jobs/parse", limitBody(maxUploadBody), h.ParseJob)
		api.POST("/jobs", limitBody(maxJSONBody), h.CreateJob)
		api.PUT("/jobs/:id", limitBody(maxJSONBody), h.UpdateJob)
		api.DELETE("/jobs/:id", h.DeleteJob)
		api.GET("/jobs/:id/events", h.JobEvents)

		api.POST("/upload", limitBody(maxUploadBody), h.UploadFile)
	}

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, dtos.ErrorResponse{Error: "Not found"})
	})
	return r
}

func limitBody(n int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, n)
		c.Next()
	}
}
