package http

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	appconfig "github.com/pogojam/HomeAssistantVoiceAssistant/internal/config"
	"github.com/pogojam/HomeAssistantVoiceAssistant/internal/ws"
)

// NewRouter wires the health check, the satellite websocket endpoint
// and the conversation service endpoints.
func NewRouter(cfg appconfig.Config, wsHandler *ws.Handler, logger *zap.Logger) *gin.Engine {
	router := gin.New()
	router.RedirectTrailingSlash = false
	router.RedirectFixedPath = false
	router.Use(gin.Recovery())
	router.Use(requestLogger(logger))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":             "ok",
			"sessions":           wsHandler.SessionCount(),
			"upstream_connected": wsHandler.UpstreamCount(),
		})
	})

	router.GET("/satellite-ws", func(c *gin.Context) {
		wsHandler.Handle(c.Writer, c.Request)
	})

	services := router.Group("/api/services")
	services.POST("/start_conversation", func(c *gin.Context) {
		count := wsHandler.StartConversation(c.Request.Context())
		c.JSON(http.StatusOK, gin.H{"sessions": count})
	})
	services.POST("/stop_conversation", func(c *gin.Context) {
		count := wsHandler.StopConversation(c.Request.Context())
		c.JSON(http.StatusOK, gin.H{"sessions": count})
	})
	services.POST("/clear_context", func(c *gin.Context) {
		count := wsHandler.ClearContext(c.Request.Context())
		c.JSON(http.StatusOK, gin.H{"sessions": count})
	})
	services.POST("/set_system_prompt", func(c *gin.Context) {
		var body struct {
			Prompt string `json:"prompt"`
		}
		if err := c.ShouldBindJSON(&body); err != nil || body.Prompt == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "prompt is required"})
			return
		}
		count := wsHandler.SetSystemPrompt(c.Request.Context(), body.Prompt)
		c.JSON(http.StatusOK, gin.H{"sessions": count})
	})

	return router
}

func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		latency := time.Since(start)
		if logger == nil {
			return
		}
		logger.Info("http request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.String("query", c.Request.URL.RawQuery),
			zap.String("client_ip", c.ClientIP()),
			zap.Int("status", c.Writer.Status()),
			zap.Int("bytes", c.Writer.Size()),
			zap.Duration("latency", latency),
			zap.String("user_agent", c.Request.UserAgent()),
		)
	}
}
