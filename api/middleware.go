package api

import (
	"net/http"
	"os"
	"strings"

	"github.com/gin-gonic/gin"
)

func (s *Server) registerMiddleware() {
	if s == nil || s.router == nil {
		return
	}
	s.router.Use(gin.Logger(), gin.Recovery(), corsMiddleware())
}

// corsMiddleware answers browser preflights for the read-only surface.
// RUNVET_CORS_ORIGINS is a comma-separated allow list ("*" allows any
// origin); when unset, cross-origin requests are not acknowledged at all.
func corsMiddleware() gin.HandlerFunc {
	allowed := make(map[string]bool)
	for _, part := range strings.Split(os.Getenv("RUNVET_CORS_ORIGINS"), ",") {
		if origin := strings.TrimSpace(part); origin != "" {
			allowed[origin] = true
		}
	}
	if len(allowed) == 0 {
		return func(c *gin.Context) { c.Next() }
	}

	return func(c *gin.Context) {
		origin := strings.TrimSpace(c.GetHeader("Origin"))
		if origin != "" && (allowed["*"] || allowed[origin]) {
			if allowed["*"] {
				c.Header("Access-Control-Allow-Origin", "*")
			} else {
				c.Header("Access-Control-Allow-Origin", origin)
				c.Header("Vary", "Origin")
			}
			c.Header("Access-Control-Allow-Methods", "GET, HEAD, OPTIONS")
			c.Header("Access-Control-Allow-Headers", "X-API-Key")
			c.Header("Access-Control-Max-Age", "3600")
		}
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

func apiKeyAuthMiddleware(expected string) gin.HandlerFunc {
	expected = strings.TrimSpace(expected)

	return func(c *gin.Context) {
		// Preflight requests carry no custom headers.
		if c.Request.Method == http.MethodOptions {
			c.Next()
			return
		}
		if expected == "" || strings.TrimSpace(c.GetHeader("X-API-Key")) != expected {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Next()
	}
}
