package connector

import (
	"context"
	"fmt"
	"math/rand"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"

	"github.com/KrishnaKumarTiwari/omni-sql/pkg/models"
	"github.com/KrishnaKumarTiwari/omni-sql/pkg/observability"
)

var (
	jiraProjects   = []string{"MOBILE", "WEB", "API", "INFRA", "DATA"}
	jiraStatuses   = []string{"To Do", "In Progress", "Done", "Blocked"}
	jiraPriorities = []string{"High", "Medium", "Low", "Critical"}

	mockIssuesOnce sync.Once
	mockIssues     []models.Row
)

func mockJiraIssues() []models.Row {
	mockIssuesOnce.Do(func() {
		rng := rand.New(rand.NewSource(99))
		points := []int{1, 2, 3, 5, 8, 13}
		for i := 1; i <= 120; i++ {
			proj := jiraProjects[i%len(jiraProjects)]
			mockIssues = append(mockIssues, models.Row{
				"issue_key":    fmt.Sprintf("PRJ-%03d", i),
				"summary":      fmt.Sprintf("Task %d for %s", i, proj),
				"status":       jiraStatuses[i%len(jiraStatuses)],
				"priority":     jiraPriorities[i%len(jiraPriorities)],
				"assignee":     "lead_" + strings.ToLower(proj),
				"story_points": points[rng.Intn(len(points))],
				"branch_name":  fmt.Sprintf("feature/%s/task-%d", strings.ToLower(proj), i),
				"project":      proj,
			})
		}
	})
	return mockIssues
}

// Jira fetches issues via the REST v3 search endpoint with JQL
// pushdown, or serves the canned dataset when base_url is "mock".
type Jira struct {
	*Base
}

// NewJira builds a Jira connector for one tenant's config.
func NewJira(cfg *models.ConnectorConfig, client *http.Client, logger observability.Logger) *Jira {
	return &Jira{Base: NewBase(cfg, client, logger)}
}

func (j *Jira) ID() string { return j.cfg.ConnectorID }

func (j *Jira) FetchData(ctx context.Context, qc QueryContext) ([]models.Row, error) {
	if j.Mock() {
		return j.mockFetch(qc.Filters), nil
	}

	var jqlParts []string
	if v, ok := qc.Filters["status"].(string); ok {
		jqlParts = append(jqlParts, fmt.Sprintf("status = %q", v))
	}
	if v, ok := qc.Filters["project"].(string); ok {
		jqlParts = append(jqlParts, fmt.Sprintf("project = %q", strings.ToUpper(v)))
	}
	if v, ok := qc.Filters["priority"].(string); ok {
		jqlParts = append(jqlParts, fmt.Sprintf("priority = %q", v))
	}
	jql := "order by created DESC"
	if len(jqlParts) > 0 {
		jql = strings.Join(jqlParts, " AND ")
	}

	params := url.Values{}
	params.Set("jql", jql)
	params.Set("maxResults", strconv.Itoa(j.cfg.PageSize))
	params.Set("startAt", "0")

	items, err := j.paginateREST(ctx, strings.TrimRight(j.cfg.BaseURL, "/")+"/rest/api/3/search", params, "issues")
	if err != nil {
		return nil, err
	}

	rows := make([]models.Row, 0, len(items))
	for _, item := range items {
		raw, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		rows = append(rows, normalizeIssue(raw))
	}
	return rows, nil
}

func (j *Jira) mockFetch(filters map[string]interface{}) []models.Row {
	data := mockJiraIssues()
	out := make([]models.Row, 0, len(data))
	status, _ := filters["status"].(string)
	project, _ := filters["project"].(string)
	for _, row := range data {
		if status != "" && row["status"] != status {
			continue
		}
		if project != "" && !strings.EqualFold(row["project"].(string), project) {
			continue
		}
		out = append(out, row)
	}
	return out
}

// normalizeIssue maps the REST v3 response shape to the canonical
// issue schema shared with the mock dataset.
func normalizeIssue(raw map[string]interface{}) models.Row {
	fields, ok := raw["fields"].(map[string]interface{})
	if !ok {
		fields = raw
	}

	points := fields["story_points"]
	if points == nil {
		points = fields["customfield_10016"]
	}
	if points == nil {
		points = 0
	}

	return models.Row{
		"issue_key":    stringOr(raw["key"], ""),
		"summary":      stringOr(fields["summary"], ""),
		"status":       nestedName(fields["status"]),
		"priority":     nestedName(fields["priority"]),
		"assignee":     nestedField(fields["assignee"], "displayName"),
		"story_points": points,
		"branch_name":  stringOr(fields["customfield_10000"], ""),
		"project":      nestedField(fields["project"], "key"),
	}
}

func nestedName(v interface{}) string { return nestedField(v, "name") }

func nestedField(v interface{}, key string) string {
	if m, ok := v.(map[string]interface{}); ok {
		return stringOr(m[key], "")
	}
	return ""
}
