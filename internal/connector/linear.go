package connector

import (
	"context"
	"net/http"

	"github.com/KrishnaKumarTiwari/omni-sql/pkg/models"
	"github.com/KrishnaKumarTiwari/omni-sql/pkg/observability"
)

const linearIssuesQuery = `
query($filter: IssueFilter, $first: Int!, $after: String) {
  issues(filter: $filter, first: $first, after: $after) {
    nodes {
      id
      title
      state { name }
      assignee { name }
      team { name }
      priority
      createdAt
    }
    pageInfo { endCursor hasNextPage }
  }
}
`

var mockLinearIssues = []models.Row{
	{"id": "LIN-1", "title": "Implement YAML Parser", "status": "Todo", "assignee": nil, "team": "platform"},
	{"id": "LIN-2", "title": "Fix OIDC Loop", "status": "In Progress", "assignee": "alice", "team": "infra"},
	{"id": "LIN-3", "title": "Add GraphQL connector", "status": "Done", "assignee": "bob", "team": "core"},
}

// Linear fetches issues from the GraphQL-only Linear API, or serves a
// small canned dataset when base_url is "mock".
type Linear struct {
	*Base
}

// NewLinear builds a Linear connector for one tenant's config.
func NewLinear(cfg *models.ConnectorConfig, client *http.Client, logger observability.Logger) *Linear {
	return &Linear{Base: NewBase(cfg, client, logger)}
}

func (l *Linear) ID() string { return l.cfg.ConnectorID }

func (l *Linear) FetchData(ctx context.Context, qc QueryContext) ([]models.Row, error) {
	if l.Mock() {
		out := make([]models.Row, 0, len(mockLinearIssues))
		status, _ := qc.Filters["status"].(string)
		for _, row := range mockLinearIssues {
			if status != "" && row["status"] != status {
				continue
			}
			out = append(out, row)
		}
		return out, nil
	}

	filter := map[string]interface{}{}
	if status, ok := qc.Filters["status"].(string); ok {
		filter["state"] = map[string]interface{}{
			"name": map[string]interface{}{"eq": status},
		}
	}

	nodes, err := l.paginateGraphQL(ctx, linearIssuesQuery, map[string]interface{}{
		"filter": filter,
	}, "issues")
	if err != nil {
		return nil, err
	}

	rows := make([]models.Row, 0, len(nodes))
	for _, n := range nodes {
		raw, ok := n.(map[string]interface{})
		if !ok {
			continue
		}
		rows = append(rows, models.Row{
			"id":       stringOr(raw["id"], ""),
			"title":    stringOr(raw["title"], ""),
			"status":   nestedName(raw["state"]),
			"assignee": nestedField(raw["assignee"], "name"),
			"team":     nestedName(raw["team"]),
			"priority": raw["priority"],
		})
	}
	return rows, nil
}
