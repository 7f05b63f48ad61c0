// Package models holds the shared value types for the gateway: tenant
// configuration, security context, and the request/response shapes.
// It deliberately contains no behaviour beyond small accessors so that
// every other package can depend on it without import cycles.
package models

import "sort"

// ConnectorConfig is the per-connector configuration scoped to a single
// tenant. Loaded from the tenant YAML document and treated as immutable
// once the tenant snapshot is published.
type ConnectorConfig struct {
	ConnectorID string `yaml:"connector_id" json:"connector_id"`
	BaseURL     string `yaml:"base_url" json:"base_url" validate:"required"`

	// AuthType is "bearer" or "basic".
	AuthType      string `yaml:"auth_type" json:"auth_type" validate:"omitempty,oneof=bearer basic"`
	CredentialRef string `yaml:"credential_ref" json:"credential_ref"`

	// Transport is "rest" or "graphql".
	Transport   string `yaml:"transport" json:"transport" validate:"omitempty,oneof=rest graphql"`
	GraphQLPath string `yaml:"graphql_path" json:"graphql_path"`

	RateLimitCapacity   int     `yaml:"rate_limit_capacity" json:"rate_limit_capacity" validate:"omitempty,gt=0"`
	RateLimitRefillRate float64 `yaml:"rate_limit_refill_rate" json:"rate_limit_refill_rate" validate:"omitempty,gt=0"`
	FreshnessTTLMS      int64   `yaml:"freshness_ttl_ms" json:"freshness_ttl_ms" validate:"omitempty,gt=0"`

	// PushableFilters lists the fields this connector can filter
	// server-side. Equality predicates on other fields stay in the
	// join engine.
	PushableFilters []string `yaml:"pushable_filters" json:"pushable_filters"`

	PageSize int `yaml:"page_size" json:"page_size"`

	// ExtraParams carries connector-specific settings such as the
	// GitHub owner/repo pair.
	ExtraParams map[string]string `yaml:"extra_params" json:"extra_params,omitempty"`

	// Manifest drives the declarative generic connector. Ignored by
	// the built-in connectors.
	Manifest *GenericManifest `yaml:"manifest" json:"manifest,omitempty"`

	// CircuitBreaker enables a per-connector breaker around upstream
	// HTTP calls.
	CircuitBreaker bool `yaml:"circuit_breaker" json:"circuit_breaker"`
}

// Pushable reports whether field may be pushed down to this connector.
func (c *ConnectorConfig) Pushable(field string) bool {
	for _, f := range c.PushableFilters {
		if f == field {
			return true
		}
	}
	return false
}

// GenericManifest describes a zero-code connector: endpoint tables with
// column projections plus optional mock data for dev mode.
type GenericManifest struct {
	Tables   []ManifestTable  `yaml:"tables" json:"tables"`
	MockData map[string][]Row `yaml:"mock_data" json:"mock_data"`
}

// ManifestTable maps response fields to canonical column names.
type ManifestTable struct {
	Name    string            `yaml:"name" json:"name"`
	Columns map[string]string `yaml:"columns" json:"columns"`
}

// RLSRule filters rows for a connector. RuleExpr uses the restricted
// comparison grammar, e.g. "team_id == user.team_id" or
// "project.lower() == user.team_id".
type RLSRule struct {
	ConnectorID string `yaml:"connector_id" json:"connector_id" validate:"required"`
	RuleExpr    string `yaml:"rule_expr" json:"rule_expr" validate:"required"`
}

// CLSRule masks or blocks a column for a connector. A nil Condition
// means the rule always applies.
type CLSRule struct {
	ConnectorID string  `yaml:"connector_id" json:"connector_id" validate:"required"`
	Column      string  `yaml:"column" json:"column" validate:"required"`
	Action      string  `yaml:"action" json:"action" validate:"required,oneof=hash_hmac block redact"`
	Condition   *string `yaml:"condition" json:"condition,omitempty"`
}

// TableTarget resolves a dotted virtual table name to a connector and
// its canonical fetch key.
type TableTarget struct {
	Connector string `yaml:"connector" json:"connector" validate:"required"`
	FetchKey  string `yaml:"fetch_key" json:"fetch_key"`
}

// TenantConfig is the complete, validated configuration for one tenant.
// Every subsystem scopes its keys by TenantID so no cross-tenant state
// is shared. The struct is an immutable snapshot: the registry replaces
// the whole map on reload instead of mutating entries in place.
type TenantConfig struct {
	TenantID    string `yaml:"tenant_id" json:"tenant_id" validate:"required"`
	DisplayName string `yaml:"display_name" json:"display_name" validate:"required"`

	// APIBudget is a global calls/minute budget across connectors.
	APIBudget int `yaml:"api_budget" json:"api_budget"`

	// OPAPolicyNamespace is reserved for the OPA policy path. Unused
	// in Phase 1; inline rule evaluation applies when empty.
	OPAPolicyNamespace string `yaml:"opa_policy_namespace" json:"opa_policy_namespace"`

	ConnectorConfigs map[string]*ConnectorConfig `yaml:"connector_configs" json:"connector_configs" validate:"required,min=1,dive,required"`
	RLSRules         []RLSRule                   `yaml:"rls_rules" json:"rls_rules" validate:"dive"`
	CLSRules         []CLSRule                   `yaml:"cls_rules" json:"cls_rules" validate:"dive"`

	// TableRegistry maps dotted virtual table names, e.g.
	// "github.pull_requests", to their connector and fetch key.
	TableRegistry map[string]TableTarget `yaml:"table_registry" json:"table_registry" validate:"dive"`
}

// TableNames returns the registered virtual table names, sorted.
func (t *TenantConfig) TableNames() []string {
	names := make([]string, 0, len(t.TableRegistry))
	for name := range t.TableRegistry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
