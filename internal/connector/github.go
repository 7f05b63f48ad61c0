package connector

import (
	"context"
	"fmt"
	"math/rand"
	"net/http"
	"strings"
	"sync"

	"github.com/KrishnaKumarTiwari/omni-sql/pkg/models"
	"github.com/KrishnaKumarTiwari/omni-sql/pkg/observability"
)

// GraphQL v4 query with cursor pagination and state pushdown.
const githubPRsQuery = `
query($owner: String!, $repo: String!, $states: [PullRequestState!], $first: Int!, $after: String) {
  repository(owner: $owner, name: $repo) {
    pullRequests(states: $states, first: $first, after: $after) {
      nodes {
        number
        title
        author { login }
        headRefName
        state
        createdAt
        mergedAt
        additions
        deletions
        reviewDecision
        assignees(first: 1) { nodes { login } }
        labels(first: 3) { nodes { name } }
      }
      pageInfo { endCursor hasNextPage }
    }
  }
}
`

var (
	githubTeams    = []string{"mobile", "web", "api", "infra", "data"}
	githubStatuses = []string{"open", "merged", "closed"}

	mockPRsOnce sync.Once
	mockPRs     []models.Row
)

// mockPullRequests builds the canned demo dataset: 120 pull requests
// spread across five teams with a fixed seed so tests see stable data.
func mockPullRequests() []models.Row {
	mockPRsOnce.Do(func() {
		rng := rand.New(rand.NewSource(42))
		reviews := []string{"approved", "changes_requested", "pending"}
		for i := 1; i <= 120; i++ {
			team := githubTeams[i%len(githubTeams)]
			status := githubStatuses[i%len(githubStatuses)]
			row := models.Row{
				"pr_id":         fmt.Sprintf("PR-%03d", i),
				"author":        fmt.Sprintf("dev_%s_%d", team, i%5),
				"author_email":  fmt.Sprintf("dev_%s_%d@company.com", team, i%5),
				"branch":        fmt.Sprintf("feature/%s/task-%d", team, i),
				"status":        status,
				"review_status": reviews[rng.Intn(len(reviews))],
				"team_id":       team,
				"created_at":    fmt.Sprintf("2024-0%d-01T00:00:00Z", (i%9)+1),
				"assignee":      "lead_" + team,
				"additions":     10 + rng.Intn(491),
				"deletions":     5 + rng.Intn(196),
				"merged_at":     nil,
			}
			if status == "merged" {
				row["merged_at"] = fmt.Sprintf("2024-0%d-15T00:00:00Z", (i%9)+1)
			}
			mockPRs = append(mockPRs, row)
		}
	})
	return mockPRs
}

// GitHub fetches pull requests via the GraphQL v4 API, or serves the
// canned dataset when base_url is "mock".
type GitHub struct {
	*Base
}

// NewGitHub builds a GitHub connector for one tenant's config.
func NewGitHub(cfg *models.ConnectorConfig, client *http.Client, logger observability.Logger) *GitHub {
	return &GitHub{Base: NewBase(cfg, client, logger)}
}

func (g *GitHub) ID() string { return g.cfg.ConnectorID }

func (g *GitHub) FetchData(ctx context.Context, qc QueryContext) ([]models.Row, error) {
	if g.Mock() {
		return g.mockFetch(qc.Filters), nil
	}

	owner := g.cfg.ExtraParams["owner"]
	if owner == "" {
		owner = "octocat"
	}
	repo := g.cfg.ExtraParams["repo"]
	if repo == "" {
		repo = "hello-world"
	}

	states := []string{"OPEN", "MERGED", "CLOSED"}
	if s, ok := qc.Filters["status"].(string); ok {
		upper := strings.ToUpper(s)
		switch upper {
		case "OPEN", "MERGED", "CLOSED":
			states = []string{upper}
		}
	}

	nodes, err := g.paginateGraphQL(ctx, githubPRsQuery, map[string]interface{}{
		"owner":  owner,
		"repo":   repo,
		"states": states,
	}, "repository.pullRequests")
	if err != nil {
		return nil, err
	}

	rows := make([]models.Row, 0, len(nodes))
	for _, n := range nodes {
		raw, ok := n.(map[string]interface{})
		if !ok {
			continue
		}
		rows = append(rows, normalizePR(raw))
	}
	return rows, nil
}

func (g *GitHub) mockFetch(filters map[string]interface{}) []models.Row {
	data := mockPullRequests()
	out := make([]models.Row, 0, len(data))
	status, _ := filters["status"].(string)
	teamID, _ := filters["team_id"].(string)
	for _, row := range data {
		if status != "" && row["status"] != status {
			continue
		}
		if teamID != "" && row["team_id"] != teamID {
			continue
		}
		out = append(out, row)
	}
	return out
}

// normalizePR maps the GraphQL response shape to the canonical pull
// request schema shared with the mock dataset.
func normalizePR(raw map[string]interface{}) models.Row {
	number, _ := raw["number"].(float64)

	author := "unknown"
	if a, ok := raw["author"].(map[string]interface{}); ok {
		if login, ok := a["login"].(string); ok {
			author = login
		}
	}

	review := "pending"
	if rd, ok := raw["reviewDecision"].(string); ok && rd != "" {
		review = strings.ToLower(rd)
	}

	assignee := ""
	if as, ok := raw["assignees"].(map[string]interface{}); ok {
		if nodes, ok := as["nodes"].([]interface{}); ok && len(nodes) > 0 {
			if first, ok := nodes[0].(map[string]interface{}); ok {
				assignee, _ = first["login"].(string)
			}
		}
	}

	state, _ := raw["state"].(string)
	return models.Row{
		"pr_id":         fmt.Sprintf("PR-%03d", int(number)),
		"author":        author,
		"author_email":  "", // not exposed by the API
		"branch":        stringOr(raw["headRefName"], ""),
		"status":        strings.ToLower(state),
		"review_status": review,
		"team_id":       "", // filled by team label lookup when configured
		"created_at":    stringOr(raw["createdAt"], ""),
		"assignee":      assignee,
		"additions":     raw["additions"],
		"deletions":     raw["deletions"],
		"merged_at":     raw["mergedAt"],
	}
}

func stringOr(v interface{}, def string) string {
	if s, ok := v.(string); ok {
		return s
	}
	return def
}
