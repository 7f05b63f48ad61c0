package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/KrishnaKumarTiwari/omni-sql/internal/tenant"
	"github.com/KrishnaKumarTiwari/omni-sql/pkg/models"
	"github.com/KrishnaKumarTiwari/omni-sql/pkg/observability"
	"github.com/KrishnaKumarTiwari/omni-sql/pkg/qerrors"
)

const retryAfterSeconds = 5

// QueryEngine is the federated pipeline behind POST /v1/query.
type QueryEngine interface {
	Execute(ctx context.Context, sql string, sc *models.SecurityContext, maxStalenessMS int64) (*models.QueryResult, error)
}

// Pinger reports backing-store reachability for the health endpoint.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server is the HTTP gateway.
type Server struct {
	registry  *tenant.Registry
	validator TokenValidator
	engine    QueryEngine
	redis     Pinger
	logger    observability.Logger

	// demoFallback synthesizes a tenant when the registry has no entry
	// for the requested ID, so the demo console works with zero config.
	demoFallback bool
}

// NewServer wires the gateway surface. redis may be nil when the
// backing store is disabled.
func NewServer(registry *tenant.Registry, validator TokenValidator, engine QueryEngine, redis Pinger, logger observability.Logger) *Server {
	if logger == nil {
		logger = observability.NewLogger("api")
	}
	return &Server{
		registry:     registry,
		validator:    validator,
		engine:       engine,
		redis:        redis,
		logger:       logger,
		demoFallback: true,
	}
}

// Router builds the gin engine with all routes registered.
func (s *Server) Router() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), s.requestLogger())

	router.POST("/v1/query", s.handleQuery)
	router.GET("/health", s.handleHealth)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	return router
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Info("request", map[string]interface{}{
			"method":      c.Request.Method,
			"path":        c.Request.URL.Path,
			"status":      c.Writer.Status(),
			"duration_ms": time.Since(start).Milliseconds(),
			"tenant_id":   c.GetHeader("X-Tenant-ID"),
		})
	}
}

func (s *Server) handleQuery(c *gin.Context) {
	tenantID := c.GetHeader("X-Tenant-ID")
	if tenantID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing X-Tenant-ID header"})
		return
	}

	var req models.QueryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}

	traceID := uuid.NewString()
	var maxStalenessMS int64
	if req.Metadata != nil {
		if req.Metadata.TraceID != "" {
			traceID = req.Metadata.TraceID
		}
		maxStalenessMS = req.Metadata.MaxStalenessMS
	}

	cfg, ok := s.registry.Get(tenantID)
	if !ok {
		if !s.demoFallback {
			observability.RecordQuery("404", tenantID)
			c.JSON(http.StatusNotFound, gin.H{"error": "unknown tenant", "trace_id": traceID})
			return
		}
		cfg = tenant.DemoConfig(tenantID)
	}

	sc, err := s.validator.Validate(bearerToken(c.GetHeader("Authorization")), cfg)
	if err != nil {
		observability.RecordQuery("401", tenantID)
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token", "trace_id": traceID})
		return
	}

	start := time.Now()
	result, err := s.engine.Execute(c.Request.Context(), req.SQL, sc, maxStalenessMS)
	if err != nil {
		s.writeQueryError(c, tenantID, traceID, err)
		return
	}

	observability.ObserveQueryLatency(tenantID, time.Since(start).Seconds())
	observability.RecordQuery("200", tenantID)
	result.TraceID = traceID
	c.JSON(http.StatusOK, result)
}

// writeQueryError maps a pipeline failure to its wire shape. Rate-limit
// exhaustion additionally tells the caller when to retry and how to get
// cached data instead.
func (s *Server) writeQueryError(c *gin.Context, tenantID, traceID string, err error) {
	status := qerrors.HTTPStatus(err)
	observability.RecordQuery(strconv.Itoa(status), tenantID)

	kind := qerrors.KindOf(err)
	switch status {
	case http.StatusTooManyRequests:
		c.Header("Retry-After", strconv.Itoa(retryAfterSeconds))
		c.JSON(status, gin.H{
			"error": string(kind),
			"details": "Downstream connector budget exhausted. Retry after the indicated " +
				"interval or use a higher max_staleness_ms to serve from cache.",
			"retry_after_seconds": retryAfterSeconds,
			"trace_id":            traceID,
		})
	case http.StatusGatewayTimeout:
		c.JSON(status, gin.H{
			"error":    string(kind),
			"details":  "Upstream connector did not respond within the deadline.",
			"trace_id": traceID,
		})
	default:
		c.JSON(status, gin.H{
			"error":    string(kind),
			"details":  err.Error(),
			"trace_id": traceID,
		})
	}

	s.logger.Warn("query failed", map[string]interface{}{
		"tenant_id": tenantID,
		"trace_id":  traceID,
		"kind":      string(kind),
		"status":    status,
		"error":     err.Error(),
	})
}

func (s *Server) handleHealth(c *gin.Context) {
	checks := gin.H{}
	healthy := true

	if s.redis == nil {
		checks["redis"] = "disabled"
	} else if err := s.redis.Ping(c.Request.Context()); err != nil {
		checks["redis"] = "error: " + err.Error()
		healthy = false
	} else {
		checks["redis"] = "ok"
	}
	checks["tenants"] = strconv.Itoa(s.registry.Count())

	status := http.StatusOK
	body := gin.H{"status": "ok", "checks": checks}
	if !healthy {
		status = http.StatusServiceUnavailable
		body["status"] = "degraded"
	}
	c.JSON(status, body)
}
