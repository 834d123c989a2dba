package api

import (
	"context"
	"errors"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/proxy-scraper-checker/internal/config"
	"github.com/proxy-scraper-checker/internal/metrics"
	"github.com/proxy-scraper-checker/internal/pipeline"
	"github.com/proxy-scraper-checker/internal/snapshot"
	"github.com/proxy-scraper-checker/internal/types"
	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// Runner triggers a full check cycle. Satisfied by *pipeline.Pipeline.
type Runner interface {
	Run(ctx context.Context) (*types.Snapshot, error)
	Running() bool
}

type Server struct {
	config      *config.Config
	snapshot    *snapshot.Manager
	metrics     *metrics.Collector
	runner      Runner
	router      *gin.Engine
	httpServer  *http.Server
	rateLimiter *RateLimiter
}

type RateLimiter struct {
	limiters map[string]*rate.Limiter
	mu       sync.RWMutex
	rate     rate.Limit
	burst    int
}

func NewRateLimiter(requestsPerMinute int) *RateLimiter {
	rps := float64(requestsPerMinute) / 60.0
	// Allow bursts, but never a zero burst: rate.Limiter rejects every
	// request when the burst is 0.
	burst := requestsPerMinute / 10
	if burst < 1 {
		burst = 1
	}
	return &RateLimiter{
		limiters: make(map[string]*rate.Limiter),
		rate:     rate.Limit(rps),
		burst:    burst,
	}
}

func (rl *RateLimiter) GetLimiter(key string) *rate.Limiter {
	rl.mu.RLock()
	limiter, exists := rl.limiters[key]
	rl.mu.RUnlock()

	if exists {
		return limiter
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	// Double-check after acquiring write lock
	if limiter, exists := rl.limiters[key]; exists {
		return limiter
	}

	limiter = rate.NewLimiter(rl.rate, rl.burst)
	rl.limiters[key] = limiter

	return limiter
}

func NewServer(cfg *config.Config, snap *snapshot.Manager, metricsCollector *metrics.Collector, runner Runner) *Server {
	if cfg.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())

	s := &Server{
		config:      cfg,
		snapshot:    snap,
		metrics:     metricsCollector,
		runner:      runner,
		router:      router,
		rateLimiter: NewRateLimiter(cfg.API.RateLimitPerMinute),
	}

	s.setupRoutes()

	return s
}

func (s *Server) setupRoutes() {
	// Middleware
	s.router.Use(s.loggingMiddleware())
	s.router.Use(s.metricsMiddleware())

	// Public endpoints
	s.router.GET("/health", s.handleHealth)

	// Metrics endpoint (usually scraped by Prometheus)
	if s.config.Metrics.Enabled {
		s.router.GET(s.config.Metrics.Endpoint, gin.WrapH(promhttp.Handler()))
	}

	// Protected endpoints
	protected := s.router.Group("/")
	if s.config.API.EnableAPIKeyAuth {
		protected.Use(s.authMiddleware())
	}
	if s.config.API.EnableIPRateLimit {
		protected.Use(s.rateLimitMiddleware())
	}

	protected.GET("/get-proxy", s.handleGetProxy)
	protected.GET("/stat", s.handleStat)
	protected.POST("/reload", s.handleReload)
}

func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:         s.config.API.Addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	log.Infof("Starting API server on %s", s.config.API.Addr)
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	log.Info("Shutting down API server...")
	return s.httpServer.Shutdown(ctx)
}

// Middleware

func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		duration := time.Since(start)
		statusCode := c.Writer.Status()

		log.WithFields(log.Fields{
			"method":   c.Request.Method,
			"path":     path,
			"status":   statusCode,
			"duration": duration.Milliseconds(),
			"ip":       c.ClientIP(),
		}).Info("API request")
	}
}

func (s *Server) metricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		method := c.Request.Method

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())

		s.metrics.RecordAPIRequest(method, path, status)
		s.metrics.RecordAPIDuration(method, path, duration)
	}
}

func (s *Server) authMiddleware() gin.HandlerFunc {
	expectedKey := os.Getenv(s.config.API.APIKeyEnv)
	if expectedKey == "" {
		log.Warn("API key not set in environment, authentication disabled")
	}

	return func(c *gin.Context) {
		if expectedKey == "" {
			c.Next()
			return
		}

		// Check header first
		apiKey := c.GetHeader("X-Api-Key")
		if apiKey == "" {
			// Check query parameter
			apiKey = c.Query("key")
		}

		if apiKey != expectedKey {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error": "Invalid or missing API key",
			})
			c.Abort()
			return
		}

		c.Next()
	}
}

func (s *Server) rateLimitMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ip := c.ClientIP()
		limiter := s.rateLimiter.GetLimiter(ip)

		if !limiter.Allow() {
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error": "Rate limit exceeded",
			})
			c.Abort()
			return
		}

		c.Next()
	}
}

// Handlers

func (s *Server) handleHealth(c *gin.Context) {
	c.String(http.StatusOK, "ok")
}

func (s *Server) handleGetProxy(c *gin.Context) {
	snap := s.snapshot.Get()
	if len(snap.Proxies) == 0 {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error": "No working proxies available",
		})
		return
	}

	protocol := c.Query("protocol")
	if protocol != "" && !types.Protocol(protocol).Valid() {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid protocol parameter",
		})
		return
	}

	anonymity := c.Query("anonymity")
	switch types.AnonymityLevel(anonymity) {
	case "", types.AnonymityTransparent, types.AnonymityAnonymous, types.AnonymityElite:
	default:
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid anonymity parameter",
		})
		return
	}

	// Default is a single proxy; limit=N picks N, all=1 returns every match.
	n := 1
	if limitStr := c.Query("limit"); limitStr != "" {
		limit, err := strconv.Atoi(limitStr)
		if err != nil || limit < 1 {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "Invalid limit parameter",
			})
			return
		}
		n = limit
	}
	if c.Query("all") == "1" {
		n = 0
	}

	proxies := s.snapshot.Select(protocol, anonymity, n)
	if len(proxies) == 0 {
		c.JSON(http.StatusNotFound, gin.H{
			"error": "No proxies match the requested filters",
		})
		return
	}

	format := c.Query("format")
	wantsJSON := format == "json" || strings.Contains(c.GetHeader("Accept"), "application/json")

	if wantsJSON {
		c.JSON(http.StatusOK, gin.H{
			"count":   len(proxies),
			"total":   len(snap.Proxies),
			"proxies": proxies,
		})
		return
	}

	// Plain text, one proxy per line. Without a protocol filter the lines
	// carry a scheme prefix so mixed results stay unambiguous.
	var result strings.Builder
	for _, p := range proxies {
		if protocol == "" {
			result.WriteString(p.Protocol)
			result.WriteString("://")
		}
		result.WriteString(p.Address)
		result.WriteString("\n")
	}
	c.String(http.StatusOK, result.String())
}

func (s *Server) handleStat(c *gin.Context) {
	snap := s.snapshot.Get()

	c.JSON(http.StatusOK, gin.H{
		"stats":   snap.Stats,
		"entries": len(snap.Proxies),
		"running": s.runner.Running(),
		"updated": snap.Updated.Format(time.RFC3339),
	})
}

func (s *Server) handleReload(c *gin.Context) {
	if s.runner.Running() {
		c.JSON(http.StatusConflict, gin.H{
			"error": "Check cycle already running",
		})
		return
	}

	log.Info("Manual check cycle triggered via API")

	go func() {
		snap, err := s.runner.Run(context.Background())
		if err != nil {
			if errors.Is(err, pipeline.ErrWrite) {
				log.Fatalf("Output write failed: %v", err)
			}
			if !errors.Is(err, pipeline.ErrBusy) {
				log.Errorf("Triggered check cycle failed: %v", err)
			}
			return
		}
		s.snapshot.Update(snap)
	}()

	c.JSON(http.StatusAccepted, gin.H{
		"message": "Check cycle triggered",
	})
}
