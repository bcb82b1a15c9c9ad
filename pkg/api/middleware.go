package api

import (
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/time/rate"
)

// loggingMiddleware emits one structured log line per request, grounded on
// pkg/api/middleware.go's loggingMiddleware.
func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		if s.log != nil {
			s.log.Component("api").Info("http request",
				slog.String("method", c.Request.Method),
				slog.String("path", c.Request.URL.Path),
				slog.Int("status", c.Writer.Status()),
				slog.String("latency", time.Since(start).String()),
				slog.String("ip", c.ClientIP()),
			)
		}
	}
}

// corsMiddleware applies the configured origin allow-list; "*" is expanded
// to AllowAllOrigins since gin-contrib/cors rejects a literal wildcard
// alongside AllowCredentials.
func (s *Server) corsMiddleware() gin.HandlerFunc {
	cfg := cors.Config{
		AllowMethods: []string{"GET", "POST", "OPTIONS"},
		AllowHeaders: []string{"Origin", "Content-Type", "Authorization"},
		MaxAge:       12 * time.Hour,
	}
	if len(s.corsOrigins) == 1 && s.corsOrigins[0] == "*" {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = s.corsOrigins
	}
	return cors.New(cfg)
}

// securityMiddleware attaches the same baseline security headers as
// pkg/api/middleware.go's securityMiddleware.
func (s *Server) securityMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Frame-Options", "DENY")
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")
		c.Next()
	}
}

// submissionRateLimitMiddleware throttles POST /v1/tasks per client IP using
// x/time/rate - distinct from the domain RateLimit resource (spec.md
// Glossary: "RateLimit"), which governs task execution, not HTTP ingress.
func (s *Server) submissionRateLimitMiddleware() gin.HandlerFunc {
	var mu sync.Mutex
	limiters := make(map[string]*rate.Limiter)

	return func(c *gin.Context) {
		ip := c.ClientIP()

		mu.Lock()
		limiter, ok := limiters[ip]
		if !ok {
			limiter = rate.NewLimiter(rate.Every(s.submissionRate), s.submissionBurst)
			limiters[ip] = limiter
		}
		mu.Unlock()

		if !limiter.Allow() {
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error":   "rate_limit_exceeded",
				"message": "too many task submissions, slow down",
			})
			c.Abort()
			return
		}
		c.Next()
	}
}

// jwtAuthMiddleware requires a valid bearer token on mutating endpoints
// (spec.md §6 admin API supplement), grounded on pkg/api/auth.go's
// JWTAuthMiddleware shape.
func (s *Server) jwtAuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "missing_bearer_token"})
			c.Abort()
			return
		}
		raw := strings.TrimPrefix(header, "Bearer ")

		token, err := jwt.Parse(raw, func(t *jwt.Token) (any, error) {
			return []byte(s.jwtSecret), nil
		}, jwt.WithValidMethods([]string{"HS256"}))
		if err != nil || !token.Valid {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid_token"})
			c.Abort()
			return
		}
		c.Next()
	}
}
