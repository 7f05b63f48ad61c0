package models

// Row is one record fetched from a source: an attribute map of scalars,
// nulls, or nested values. Rows flow from connectors through security
// enforcement into the join engine untyped.
type Row map[string]interface{}

// Clone returns a shallow copy of the row.
func (r Row) Clone() Row {
	out := make(Row, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// SecurityContext is the immutable, request-scoped identity used by the
// policy enforcer. It is created once at authentication and threaded as
// an explicit parameter through the pipeline.
type SecurityContext struct {
	UserID    string `json:"user_id"`
	Email     string `json:"email"`
	Role      string `json:"role"`
	TeamID    string `json:"team_id"`
	PIIAccess bool   `json:"pii_access"`
	TenantID  string `json:"tenant_id"`

	TenantCfg *TenantConfig `json:"-"`
}

// UserAttrs flattens the user identity for rule evaluation.
func (s *SecurityContext) UserAttrs() map[string]interface{} {
	return map[string]interface{}{
		"user_id":    s.UserID,
		"email":      s.Email,
		"role":       s.Role,
		"team_id":    s.TeamID,
		"pii_access": s.PIIAccess,
	}
}

// RateLimitStatus is a non-consuming snapshot of a token bucket,
// returned in response metadata.
type RateLimitStatus struct {
	ConnectorID string `json:"connector_id"`
	Remaining   int    `json:"remaining"`
	Capacity    int    `json:"capacity"`
}

// CacheStats is the approximate per-tenant cache footprint.
type CacheStats struct {
	TenantID      string `json:"tenant_id"`
	CachedEntries int    `json:"cached_entries"`
}

// FetchResult is the outcome of one connector fetch. FreshnessMS is the
// observed age on a cache hit, or the fetch latency on a miss; the two
// are not comparable but both bound what the caller observed.
type FetchResult struct {
	Data        []Row
	FreshnessMS int64
	FromCache   bool
	Stale       bool
	RateLimit   RateLimitStatus
}

// ConnectorTiming is the per-connector wall-clock record for a request.
type ConnectorTiming struct {
	FetchMS   int64 `json:"fetch_ms"`
	FromCache bool  `json:"from_cache"`
	Rows      int   `json:"rows"`
	Stale     bool  `json:"stale"`
}

// QueryMetadata carries optional caller hints for one query.
type QueryMetadata struct {
	TraceID string `json:"trace_id,omitempty"`

	// MaxStalenessMS is the soft freshness bound: the oldest cached
	// data the caller will accept. Zero means live-only.
	MaxStalenessMS int64 `json:"max_staleness_ms,omitempty"`
}

// QueryRequest is the body of POST /v1/query.
type QueryRequest struct {
	SQL      string         `json:"sql" binding:"required"`
	Metadata *QueryMetadata `json:"metadata,omitempty"`
}

// QueryTiming breaks a request down by pipeline phase.
type QueryTiming struct {
	TotalMS    int64 `json:"total_ms"`
	PlanningMS int64 `json:"planning_ms"`
	FetchMS    int64 `json:"fetch_ms"`
	SecurityMS int64 `json:"security_ms"`
	JoinMS     int64 `json:"join_ms"`
}

// QueryResult is the successful response of POST /v1/query.
type QueryResult struct {
	Rows    []Row    `json:"rows"`
	Columns []string `json:"columns"`

	// FreshnessMS is the worst case across all sources.
	FreshnessMS int64 `json:"freshness_ms"`

	RateLimitStatus  RateLimitStatus            `json:"rate_limit_status"`
	CacheStats       CacheStats                 `json:"cache_stats"`
	FromCache        bool                       `json:"from_cache"`
	ConnectorTimings map[string]ConnectorTiming `json:"connector_timings"`
	Warnings         []string                   `json:"warnings,omitempty"`
	Timing           QueryTiming                `json:"timing"`
	TraceID          string                     `json:"trace_id,omitempty"`
}

// Warning labels surfaced in query responses.
const (
	WarningStaleData         = "STALE_DATA"
	WarningEntitlementDenied = "ENTITLEMENT_DENIED"
)
