package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KrishnaKumarTiwari/omni-sql/pkg/models"
	"github.com/KrishnaKumarTiwari/omni-sql/pkg/qerrors"
)

func newTestJoin(t *testing.T) JoinEngine {
	t.Helper()
	j, err := NewJoin()
	require.NoError(t, err)
	t.Cleanup(func() { _ = j.Close() })
	return j
}

func TestJoinSelectAndFilter(t *testing.T) {
	j := newTestJoin(t)
	ctx := context.Background()

	rows := []models.Row{
		{"pr_id": "PR-001", "status": "open", "additions": 42},
		{"pr_id": "PR-002", "status": "merged", "additions": 7},
	}
	require.NoError(t, j.RegisterView(ctx, "github_pull_requests", rows, rows))

	out, cols, err := j.Execute(ctx, "SELECT pr_id FROM github_pull_requests WHERE status = 'open'")
	require.NoError(t, err)
	assert.Equal(t, []string{"pr_id"}, cols)
	require.Len(t, out, 1)
	assert.Equal(t, "PR-001", out[0]["pr_id"])
}

func TestJoinAcrossViews(t *testing.T) {
	j := newTestJoin(t)
	ctx := context.Background()

	prs := []models.Row{
		{"pr_id": "PR-001", "branch": "feature/mobile/task-1"},
		{"pr_id": "PR-002", "branch": "feature/web/task-9"},
	}
	issues := []models.Row{
		{"issue_key": "MOB-1", "branch_name": "feature/mobile/task-1"},
	}
	require.NoError(t, j.RegisterView(ctx, "github_pull_requests", prs, prs))
	require.NoError(t, j.RegisterView(ctx, "jira_issues", issues, issues))

	out, _, err := j.Execute(ctx, `
		SELECT gh.pr_id, ji.issue_key
		FROM github_pull_requests gh
		JOIN jira_issues ji ON gh.branch = ji.branch_name`)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "PR-001", out[0]["pr_id"])
	assert.Equal(t, "MOB-1", out[0]["issue_key"])
}

func TestJoinAggregates(t *testing.T) {
	j := newTestJoin(t)
	ctx := context.Background()

	rows := []models.Row{
		{"team_id": "mobile", "additions": 10},
		{"team_id": "mobile", "additions": 30},
		{"team_id": "web", "additions": 5},
	}
	require.NoError(t, j.RegisterView(ctx, "prs", rows, rows))

	out, _, err := j.Execute(ctx, "SELECT team_id, SUM(additions) AS total FROM prs GROUP BY team_id ORDER BY team_id")
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, "mobile", out[0]["team_id"])
	assert.EqualValues(t, 40, out[0]["total"])
}

func TestEmptyViewKeepsExemplarSchema(t *testing.T) {
	j := newTestJoin(t)
	ctx := context.Background()

	exemplar := []models.Row{{"pr_id": "PR-001", "team_id": "web"}}
	require.NoError(t, j.RegisterView(ctx, "github_pull_requests", nil, exemplar))

	// Column references still resolve even though the view has no rows.
	out, cols, err := j.Execute(ctx, "SELECT pr_id, team_id FROM github_pull_requests")
	require.NoError(t, err)
	assert.Empty(t, out)
	assert.Equal(t, []string{"pr_id", "team_id"}, cols)
}

func TestEmptyViewWithoutExemplar(t *testing.T) {
	j := newTestJoin(t)
	ctx := context.Background()

	require.NoError(t, j.RegisterView(ctx, "github_pull_requests", nil, nil))
	out, _, err := j.Execute(ctx, "SELECT * FROM github_pull_requests")
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestBooleanValuesBindAsIntegers(t *testing.T) {
	j := newTestJoin(t)
	ctx := context.Background()

	rows := []models.Row{
		{"id": "a", "resolved": true},
		{"id": "b", "resolved": false},
	}
	require.NoError(t, j.RegisterView(ctx, "incidents", rows, rows))

	out, _, err := j.Execute(ctx, "SELECT id FROM incidents WHERE resolved = 1")
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "a", out[0]["id"])
}

func TestExecuteErrorIsJoinEngineKind(t *testing.T) {
	j := newTestJoin(t)
	_, _, err := j.Execute(context.Background(), "SELECT FROM nothing WHERE")
	require.Error(t, err)
	assert.Equal(t, qerrors.KindJoinEngine, qerrors.KindOf(err))
}
