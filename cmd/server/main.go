// Command server runs the federated SQL gateway.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/spf13/viper"

	"github.com/KrishnaKumarTiwari/omni-sql/internal/api"
	"github.com/KrishnaKumarTiwari/omni-sql/internal/cache"
	"github.com/KrishnaKumarTiwari/omni-sql/internal/connector"
	"github.com/KrishnaKumarTiwari/omni-sql/internal/engine"
	"github.com/KrishnaKumarTiwari/omni-sql/internal/governance"
	"github.com/KrishnaKumarTiwari/omni-sql/internal/tenant"
	"github.com/KrishnaKumarTiwari/omni-sql/pkg/observability"
)

func main() {
	logger := observability.NewLogger("server")

	v := viper.New()
	v.AutomaticEnv()
	v.SetDefault("LISTEN_ADDR", ":8002")
	v.SetDefault("TENANT_CONFIG_DIR", "configs/tenants")
	v.SetDefault("REDIS_URL", "redis://localhost:6379/0")
	v.SetDefault("JWT_AUDIENCE", "omnisql-dev")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Tracing first: everything downstream reads the global provider.
	shutdownTracing, err := observability.InitTracing(ctx, "omnisql-gateway", v.GetString("OTEL_EXPORTER_OTLP_ENDPOINT"))
	if err != nil {
		logger.Warn("tracing init failed", map[string]interface{}{"error": err.Error()})
	}

	registry := tenant.NewRegistry(v.GetString("TENANT_CONFIG_DIR"), logger.WithPrefix("tenant"))
	if err := registry.LoadAll(); err != nil {
		logger.Warn("no tenant configs loaded, demo fallback active", map[string]interface{}{
			"dir":   v.GetString("TENANT_CONFIG_DIR"),
			"error": err.Error(),
		})
	}
	go func() {
		if err := registry.Watch(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Warn("tenant config watcher stopped", map[string]interface{}{"error": err.Error()})
		}
	}()

	// Redis, with graceful fallback so local dev works without it.
	var (
		limiter   connector.RateLimiter
		rowCache  connector.RowCache
		statter   engine.CacheStatter
		pinger    api.Pinger
		redisConn *redis.Client
	)
	opts, err := redis.ParseURL(v.GetString("REDIS_URL"))
	if err == nil {
		redisConn = redis.NewClient(opts)
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		err = redisConn.Ping(pingCtx).Err()
		cancel()
	}
	if err != nil {
		logger.Warn("redis unavailable, cache and rate limiting disabled", map[string]interface{}{
			"url":   v.GetString("REDIS_URL"),
			"error": err.Error(),
		})
		limiter = governance.NewAllowAll()
		disabled := cache.NewDisabled()
		rowCache, statter = disabled, disabled
	} else {
		logger.Info("redis connected", map[string]interface{}{"url": v.GetString("REDIS_URL")})
		limiter = governance.NewRateLimiter(redisConn, logger.WithPrefix("ratelimit"))
		rc := cache.NewRowCache(redisConn, logger.WithPrefix("cache"))
		rowCache, statter, pinger = rc, rc, rc
	}

	var validator api.TokenValidator
	if secret := v.GetString("JWT_SECRET"); secret != "" {
		validator = api.NewJWTValidator(secret, v.GetString("JWT_AUDIENCE"))
	} else {
		validator = api.NewDevValidator(logger.WithPrefix("auth"))
	}

	factory := connector.NewFactory(logger.WithPrefix("connector"))
	orchestrator := connector.NewOrchestrator(limiter, rowCache, logger.WithPrefix("orchestrator"))
	eng := engine.New(factory, orchestrator, statter, logger.WithPrefix("engine"))

	server := api.NewServer(registry, validator, eng, pinger, logger.WithPrefix("api"))
	httpServer := &http.Server{
		Addr:    v.GetString("LISTEN_ADDR"),
		Handler: server.Router(),
	}

	go func() {
		logger.Info("gateway listening", map[string]interface{}{
			"addr":    httpServer.Addr,
			"tenants": registry.TenantIDs(),
		})
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server failed", map[string]interface{}{"error": err.Error()})
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down", nil)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("server shutdown", map[string]interface{}{"error": err.Error()})
	}
	if redisConn != nil {
		_ = redisConn.Close()
	}
	if shutdownTracing != nil {
		_ = shutdownTracing(shutdownCtx)
	}
	logger.Info("gateway stopped", nil)
	os.Exit(0)
}
