package engine

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/KrishnaKumarTiwari/omni-sql/internal/connector"
	"github.com/KrishnaKumarTiwari/omni-sql/internal/planner"
	"github.com/KrishnaKumarTiwari/omni-sql/internal/security"
	"github.com/KrishnaKumarTiwari/omni-sql/pkg/models"
	"github.com/KrishnaKumarTiwari/omni-sql/pkg/observability"
	"github.com/KrishnaKumarTiwari/omni-sql/pkg/qerrors"
)

// CacheStatter reports the per-tenant cache footprint for response
// metadata.
type CacheStatter interface {
	Stats(ctx context.Context, tenantID string) (models.CacheStats, error)
}

// Engine runs the full federated pipeline: plan, parallel fetch,
// policy enforcement, join, response assembly.
type Engine struct {
	factory      *connector.Factory
	orchestrator *connector.Orchestrator
	cache        CacheStatter
	logger       observability.Logger
	newJoin      func() (JoinEngine, error)
	now          func() time.Time
}

// New wires the engine over a connector factory and fetch orchestrator.
func New(factory *connector.Factory, orch *connector.Orchestrator, cache CacheStatter, logger observability.Logger) *Engine {
	if logger == nil {
		logger = observability.NewLogger("engine")
	}
	return &Engine{
		factory:      factory,
		orchestrator: orch,
		cache:        cache,
		logger:       logger,
		newJoin:      NewJoin,
		now:          time.Now,
	}
}

// nodeResult is one fetch node's outcome, keyed by view name.
type nodeResult struct {
	data        []models.Row
	connectorID string
	freshnessMS int64
	fromCache   bool
	stale       bool
	rateLimit   models.RateLimitStatus
}

// Execute runs one query end to end for an authenticated caller.
func (e *Engine) Execute(ctx context.Context, sql string, sc *models.SecurityContext, maxStalenessMS int64) (*models.QueryResult, error) {
	tenantCfg := sc.TenantCfg
	ctx, rootSpan := observability.Tracer().Start(ctx, "engine.execute_query",
		trace.WithAttributes(
			attribute.String("tenant_id", tenantCfg.TenantID),
			attribute.String("user_id", sc.UserID),
			attribute.Int64("max_staleness_ms", maxStalenessMS),
		))
	defer rootSpan.End()

	// 1. Plan.
	planStart := e.now()
	dag, err := planner.New(tenantCfg).Plan(sql)
	if err != nil {
		return nil, err
	}
	planningMS := e.now().Sub(planStart).Milliseconds()

	// 2. Fetch every node, wave by wave.
	fetchStart := e.now()
	timings := make(map[string]models.ConnectorTiming)
	results, err := e.executeDAG(ctx, dag, tenantCfg, maxStalenessMS, timings)
	if err != nil {
		return nil, err
	}
	fetchMS := e.now().Sub(fetchStart).Milliseconds()

	// 3. Enforce RLS then CLS per source before the join engine sees
	// any data. Node order drives iteration so warnings and the
	// reported rate-limit status are deterministic.
	securityStart := e.now()
	secured := make(map[string][]models.Row, len(results))
	raw := make(map[string][]models.Row, len(results))
	var warnings []string
	var freshnessMS int64
	var rateLimit models.RateLimitStatus
	allFromCache := len(dag.Nodes) > 0

	_, secSpan := observability.Tracer().Start(ctx, "engine.security")
	for _, node := range dag.Nodes {
		res, ok := results[node.ViewName]
		if !ok {
			continue
		}
		if res.freshnessMS > freshnessMS {
			freshnessMS = res.freshnessMS
		}
		rateLimit = res.rateLimit
		if !res.fromCache {
			allFromCache = false
		}
		if res.stale {
			warnings = appendWarning(warnings, models.WarningStaleData)
		}

		raw[node.ViewName] = res.data
		rows := security.ApplyRLS(res.connectorID, res.data, sc)
		rows = security.ApplyCLS(res.connectorID, rows, sc)
		secured[node.ViewName] = rows

		if len(res.data) > 0 && len(rows) == 0 {
			warnings = appendWarning(warnings, models.WarningEntitlementDenied)
		}
	}
	secSpan.End()
	securityMS := e.now().Sub(securityStart).Milliseconds()

	// 4. Join.
	joinStart := e.now()
	join, err := e.newJoin()
	if err != nil {
		return nil, err
	}
	defer join.Close()

	_, joinSpan := observability.Tracer().Start(ctx, "engine.join")
	for _, node := range dag.Nodes {
		if err := join.RegisterView(ctx, node.ViewName, secured[node.ViewName], raw[node.ViewName]); err != nil {
			joinSpan.End()
			return nil, err
		}
	}
	rows, columns, err := join.Execute(ctx, dag.RewrittenSQL)
	joinSpan.End()
	if err != nil {
		return nil, err
	}
	joinMS := e.now().Sub(joinStart).Milliseconds()

	// 5. Assemble the response.
	stats, err := e.cache.Stats(ctx, tenantCfg.TenantID)
	if err != nil {
		e.logger.Warn("cache stats unavailable", map[string]interface{}{
			"tenant_id": tenantCfg.TenantID,
			"error":     err.Error(),
		})
		stats = models.CacheStats{TenantID: tenantCfg.TenantID}
	}

	totalMS := planningMS + fetchMS + securityMS + joinMS
	rootSpan.SetAttributes(
		attribute.Int64("engine.total_ms", totalMS),
		attribute.Int("engine.rows_returned", len(rows)),
	)

	return &models.QueryResult{
		Rows:             rows,
		Columns:          columns,
		FreshnessMS:      freshnessMS,
		RateLimitStatus:  rateLimit,
		CacheStats:       stats,
		FromCache:        allFromCache,
		ConnectorTimings: timings,
		Warnings:         warnings,
		Timing: models.QueryTiming{
			TotalMS:    totalMS,
			PlanningMS: planningMS,
			FetchMS:    fetchMS,
			SecurityMS: securityMS,
			JoinMS:     joinMS,
		},
	}, nil
}

// executeDAG runs the DAG wave by wave. Nodes within a wave fan out
// concurrently; the wave boundary is a hard barrier, and the first
// node error cancels its siblings and aborts the query.
func (e *Engine) executeDAG(ctx context.Context, dag *planner.ExecutionDAG, tenantCfg *models.TenantConfig, maxStalenessMS int64, timings map[string]models.ConnectorTiming) (map[string]nodeResult, error) {
	levels, err := dag.Levels()
	if err != nil {
		return nil, err
	}

	ctx, span := observability.Tracer().Start(ctx, "engine.execute_dag",
		trace.WithAttributes(
			attribute.Int("dag.nodes", len(dag.Nodes)),
			attribute.Int("dag.waves", len(levels)),
		))
	defer span.End()

	e.logger.Info("executing dag", map[string]interface{}{
		"tenant_id": tenantCfg.TenantID,
		"nodes":     len(dag.Nodes),
		"waves":     len(levels),
	})

	results := make(map[string]nodeResult, len(dag.Nodes))
	var mu sync.Mutex
	for _, wave := range levels {
		g, waveCtx := errgroup.WithContext(ctx)
		for _, node := range wave {
			node := node
			g.Go(func() error {
				res, timing, err := e.executeNode(waveCtx, node, tenantCfg, maxStalenessMS)
				if err != nil {
					return err
				}
				mu.Lock()
				results[node.ViewName] = res
				timings[node.ConnectorID] = timing
				mu.Unlock()
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
	}
	return results, nil
}

func (e *Engine) executeNode(ctx context.Context, node *planner.FetchNode, tenantCfg *models.TenantConfig, maxStalenessMS int64) (nodeResult, models.ConnectorTiming, error) {
	cfg, ok := tenantCfg.ConnectorConfigs[node.ConnectorID]
	if !ok {
		return nodeResult{}, models.ConnectorTiming{}, qerrors.Newf(qerrors.KindConfigInvalid,
			"no connector registered for %q in tenant %q", node.ConnectorID, tenantCfg.TenantID)
	}
	conn := e.factory.Get(tenantCfg.TenantID, cfg)

	ctx, span := observability.Tracer().Start(ctx, "engine.fetch."+node.ConnectorID,
		trace.WithAttributes(
			attribute.String("connector.id", node.ConnectorID),
			attribute.String("connector.table", node.TableName),
		))
	defer span.End()

	start := e.now()
	fr, err := e.orchestrator.GetData(ctx, conn, tenantCfg.TenantID, connector.QueryContext{
		FetchKey: node.FetchKey,
		Filters:  node.PushdownFilters,
	}, maxStalenessMS)
	if err != nil {
		return nodeResult{}, models.ConnectorTiming{}, err
	}
	nodeMS := e.now().Sub(start).Milliseconds()
	span.SetAttributes(
		attribute.Bool("connector.from_cache", fr.FromCache),
		attribute.Int("connector.rows", len(fr.Data)),
	)

	return nodeResult{
			data:        fr.Data,
			connectorID: node.ConnectorID,
			freshnessMS: fr.FreshnessMS,
			fromCache:   fr.FromCache,
			stale:       fr.Stale,
			rateLimit:   fr.RateLimit,
		}, models.ConnectorTiming{
			FetchMS:   nodeMS,
			FromCache: fr.FromCache,
			Rows:      len(fr.Data),
			Stale:     fr.Stale,
		}, nil
}

// appendWarning adds a warning label once, preserving first-seen order.
func appendWarning(warnings []string, label string) []string {
	for _, w := range warnings {
		if w == label {
			return warnings
		}
	}
	return append(warnings, label)
}
