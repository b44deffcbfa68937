package api

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/recoverymap/aggregator/app/cfg"
)

// NewServer creates the HTTP server with all routes configured
func NewServer(handler *Handler, apiAccessKey string) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()

	r.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		Formatter: func(param gin.LogFormatterParams) string {
			return fmt.Sprintf("%s - [%s] \"%s %s %s %d %s \"%s\" %s\"\n",
				param.ClientIP,
				param.TimeStamp.Format(time.RFC3339),
				param.Method,
				param.Path,
				param.Request.Proto,
				param.StatusCode,
				param.Latency,
				param.Request.UserAgent(),
				param.ErrorMessage,
			)
		},
	}))

	r.Use(gin.Recovery())

	// CORS middleware for API endpoints
	r.Use(func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, X-API-Key")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	})

	setupRoutes(r, handler, apiAccessKey)

	return r
}

// setupRoutes configures all the application routes
func setupRoutes(r *gin.Engine, handler *Handler, apiAccessKey string) {
	// Public read surface
	r.GET("/meetings", handler.GetMeetings)
	r.GET("/stats", handler.GetStats)
	r.GET("/coverage", handler.GetCoverage)
	r.GET("/health", handler.GetHealth)

	// Scraper control endpoints (conditionally enabled with authentication)
	if apiAccessKey != "" {
		api := r.Group("/api")
		api.Use(authMiddleware(apiAccessKey))
		{
			api.POST("/scraper/start", handler.APIStartScraper)
			api.POST("/scraper/step", handler.APIStepScraper)
			api.POST("/scraper/stop", handler.APIStopScraper)
			api.POST("/scraper/reset", handler.APIResetScraper)
			api.GET("/scraper/status", handler.APIScraperStatus)
		}
		slog.Info("Scraper control endpoints enabled with authentication")
	} else {
		slog.Info("Scraper control endpoints disabled (API_ACCESS_KEY not set)")
	}

	// Root endpoint with basic information
	r.GET("/", func(c *gin.Context) {
		endpoints := map[string]string{
			"meetings": "/meetings?state=<ST>&fellowship=<name>&day=<0-6>",
			"stats":    "/stats",
			"coverage": "/coverage",
			"health":   "/health",
		}

		if apiAccessKey != "" {
			endpoints["scraper_start"] = "/api/scraper/start (POST, requires X-API-Key header)"
			endpoints["scraper_step"] = "/api/scraper/step (POST, requires X-API-Key header)"
			endpoints["scraper_stop"] = "/api/scraper/stop (POST, requires X-API-Key header)"
			endpoints["scraper_reset"] = "/api/scraper/reset (POST, requires X-API-Key header)"
			endpoints["scraper_status"] = "/api/scraper/status (requires X-API-Key header)"
		}

		c.JSON(200, gin.H{
			"service":     "RecoveryMap Aggregator",
			"version":     cfg.GetVersion(),
			"description": "Support group meeting aggregator with feed normalization, deduplication, and geocoding",
			"endpoints":   endpoints,
			"api_status": map[string]interface{}{
				"enabled":       apiAccessKey != "",
				"auth_required": apiAccessKey != "",
				"header":        "X-API-Key",
			},
		})
	})

	// Favicon handler (return 204 to avoid 404s)
	r.GET("/favicon.ico", func(c *gin.Context) {
		c.Status(204)
	})
}

// authMiddleware creates authentication middleware for scraper control endpoints
func authMiddleware(apiAccessKey string) gin.HandlerFunc {
	return func(c *gin.Context) {
		providedKey := c.GetHeader("X-API-Key")

		// Also check Authorization header with Bearer prefix
		if providedKey == "" {
			authHeader := c.GetHeader("Authorization")
			if strings.HasPrefix(authHeader, "Bearer ") {
				providedKey = strings.TrimPrefix(authHeader, "Bearer ")
			}
		}

		if providedKey == "" {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error":   "API key required",
				"message": "Provide API key in X-API-Key header or Authorization: Bearer <key>",
			})
			c.Abort()
			return
		}

		if providedKey != apiAccessKey {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error":   "Invalid API key",
				"message": "The provided API key is not valid",
			})
			c.Abort()
			return
		}

		c.Next()
	}
}
