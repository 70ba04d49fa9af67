package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/memtensor/manageusers/pkg/types"
)

// loggingMiddleware writes one entry per request once the handler chain has run.
// Client errors log at warn; server errors are already logged by abortWithError.
func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		c.Next()

		status := c.Writer.Status()
		fields := map[string]interface{}{
			"method":     c.Request.Method,
			"path":       path,
			"status":     status,
			"latency_ms": time.Since(start).Milliseconds(),
			"client_ip":  c.ClientIP(),
			"request_id": c.GetString("request_id"),
		}
		if operator := c.GetString("operator"); operator != "" {
			fields["operator"] = operator
		}

		switch {
		case status >= http.StatusInternalServerError:
			s.logger.Debug("request", fields)
		case status >= http.StatusBadRequest:
			s.logger.Warn("request rejected", fields)
		default:
			s.logger.Info("request", fields)
		}
	}
}

// requestIDMiddleware adds a unique request ID to each request
func (s *Server) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = uuid.New().String()
		}
		c.Set("request_id", requestID)
		c.Header("X-Request-ID", requestID)
		c.Next()
	}
}

// requestContext carries the request ID and operator into the service layer
func requestContext(c *gin.Context) context.Context {
	return types.WithRequestContext(c.Request.Context(), &types.RequestContext{
		RequestID: c.GetString("request_id"),
		Operator:  c.GetString("operator"),
	})
}

// corsMiddleware allows the configured origins only
func (s *Server) corsMiddleware() gin.HandlerFunc {
	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = s.config.AllowedOrigins
	corsConfig.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", "X-Request-ID"}
	corsConfig.ExposeHeaders = []string{"X-Request-ID"}
	return cors.New(corsConfig)
}

// metricsMiddleware collects request metrics
func (s *Server) metricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		labels := map[string]string{
			"method": c.Request.Method,
			"route":  c.FullPath(),
			"status": strconv.Itoa(c.Writer.Status()),
		}
		s.metrics.Counter("http_requests_total", 1, labels)
		s.metrics.Timer("http_request_duration_seconds", time.Since(start).Seconds(), labels)
	}
}
