package tenant

import (
	"fmt"

	"github.com/KrishnaKumarTiwari/omni-sql/pkg/models"
)

func strptr(s string) *string { return &s }

// DemoConfig synthesizes a tenant backed by mock connectors. It is used
// when no YAML configs are loaded so the gateway works out of the box,
// and by tests that need a realistic tenant without fixture files.
func DemoConfig(tenantID string) *models.TenantConfig {
	cfg := &models.TenantConfig{
		TenantID:    tenantID,
		DisplayName: fmt.Sprintf("Demo Tenant (%s)", tenantID),
		APIBudget:   1000,
		ConnectorConfigs: map[string]*models.ConnectorConfig{
			"github": {
				ConnectorID:         "github",
				BaseURL:             "mock",
				AuthType:            "bearer",
				RateLimitCapacity:   50,
				RateLimitRefillRate: 10.0,
				FreshnessTTLMS:      30_000,
				PushableFilters:     []string{"status", "team_id", "author"},
			},
			"jira": {
				ConnectorID:         "jira",
				BaseURL:             "mock",
				AuthType:            "basic",
				RateLimitCapacity:   50,
				RateLimitRefillRate: 10.0,
				FreshnessTTLMS:      60_000,
				PushableFilters:     []string{"status", "project", "priority"},
			},
			"linear": {
				ConnectorID:         "linear",
				BaseURL:             "mock",
				AuthType:            "bearer",
				Transport:           "graphql",
				RateLimitCapacity:   50,
				RateLimitRefillRate: 0.5,
				FreshnessTTLMS:      60_000,
				PushableFilters:     []string{"status"},
			},
		},
		RLSRules: []models.RLSRule{
			{ConnectorID: "github", RuleExpr: "team_id == user.team_id"},
			{ConnectorID: "jira", RuleExpr: "project.lower() == user.team_id"},
		},
		CLSRules: []models.CLSRule{
			{ConnectorID: "github", Column: "author_email", Action: "hash_hmac",
				Condition: strptr("user.pii_access == false")},
			{ConnectorID: "github", Column: "author", Action: "block",
				Condition: strptr(`user.role == "qa"`)},
		},
		TableRegistry: map[string]models.TableTarget{
			"github.pull_requests": {Connector: "github", FetchKey: "all_prs"},
			"jira.issues":          {Connector: "jira", FetchKey: "all_issues"},
			"linear.issues":        {Connector: "linear", FetchKey: "all_issues"},
		},
	}
	ApplyDefaults(cfg)
	return cfg
}
