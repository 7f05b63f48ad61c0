package connector

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KrishnaKumarTiwari/omni-sql/pkg/models"
	"github.com/KrishnaKumarTiwari/omni-sql/pkg/observability"
)

func TestNextLink(t *testing.T) {
	header := `<https://api.example.com/search?startAt=50>; rel="next", <https://api.example.com/search?startAt=0>; rel="first"`
	assert.Equal(t, "https://api.example.com/search?startAt=50", nextLink(header))
	assert.Equal(t, "", nextLink(`<https://api.example.com/x>; rel="prev"`))
	assert.Equal(t, "", nextLink(""))
}

func TestDigPath(t *testing.T) {
	data := map[string]interface{}{
		"repository": map[string]interface{}{
			"pullRequests": map[string]interface{}{"nodes": []interface{}{}},
		},
	}
	conn, ok := digPath(data, "repository.pullRequests").(map[string]interface{})
	require.True(t, ok)
	assert.Contains(t, conn, "nodes")
	assert.Nil(t, digPath(data, "repository.issues.nodes"))
}

func TestAuthHeaderFromEnv(t *testing.T) {
	t.Setenv("TEST_GITHUB_TOKEN", "secret-token")

	b := NewBase(&models.ConnectorConfig{
		ConnectorID:   "github",
		BaseURL:       "https://api.github.com",
		AuthType:      "bearer",
		CredentialRef: "env://TEST_GITHUB_TOKEN",
	}, nil, observability.NewNoopLogger())

	header, err := b.authHeader()
	require.NoError(t, err)
	assert.Equal(t, "Bearer secret-token", header)
}

func TestAuthHeaderMissingEnv(t *testing.T) {
	b := NewBase(&models.ConnectorConfig{
		ConnectorID:   "github",
		BaseURL:       "https://api.github.com",
		CredentialRef: "env://TEST_UNSET_CREDENTIAL",
	}, nil, observability.NewNoopLogger())

	_, err := b.authHeader()
	assert.Error(t, err)
}

func TestAuthHeaderBasic(t *testing.T) {
	b := NewBase(&models.ConnectorConfig{
		ConnectorID:   "jira",
		BaseURL:       "https://example.atlassian.net",
		AuthType:      "basic",
		CredentialRef: "user:pass",
	}, nil, observability.NewNoopLogger())

	header, err := b.authHeader()
	require.NoError(t, err)
	assert.Equal(t, "Basic dXNlcjpwYXNz", header)
}

func TestRoundTripNonSuccessBecomesHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusForbidden)
	}))
	defer srv.Close()

	b := NewBase(&models.ConnectorConfig{ConnectorID: "x", BaseURL: srv.URL}, srv.Client(), observability.NewNoopLogger())
	var out map[string]interface{}
	_, err := b.getJSON(context.Background(), srv.URL, nil, &out)
	require.Error(t, err)

	var httpErr *HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, http.StatusForbidden, httpErr.StatusCode)
	assert.Contains(t, httpErr.Body, "nope")
}

func TestGraphQLBodyErrorsAreElevated(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"data":   nil,
			"errors": []map[string]string{{"message": "field does not exist"}},
		})
	}))
	defer srv.Close()

	b := NewBase(&models.ConnectorConfig{
		ConnectorID: "linear",
		BaseURL:     srv.URL,
		GraphQLPath: "/graphql",
	}, srv.Client(), observability.NewNoopLogger())

	_, err := b.graphql(context.Background(), "query {}", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "field does not exist")
}

func TestPaginateGraphQLFollowsCursor(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		var req struct {
			Variables map[string]interface{} `json:"variables"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)

		page := map[string]interface{}{
			"nodes":    []interface{}{map[string]interface{}{"id": fmt.Sprintf("n%d", calls)}},
			"pageInfo": map[string]interface{}{"hasNextPage": calls < 3, "endCursor": fmt.Sprintf("c%d", calls)},
		}
		if calls > 1 {
			// Cursor from the previous page must round-trip.
			if after, _ := req.Variables["after"].(string); after != fmt.Sprintf("c%d", calls-1) {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"data": map[string]interface{}{"issues": page},
		})
	}))
	defer srv.Close()

	b := NewBase(&models.ConnectorConfig{
		ConnectorID: "linear",
		BaseURL:     srv.URL,
		GraphQLPath: "/graphql",
		PageSize:    1,
	}, srv.Client(), observability.NewNoopLogger())

	nodes, err := b.paginateGraphQL(context.Background(), "query", nil, "issues")
	require.NoError(t, err)
	assert.Len(t, nodes, 3)
	assert.Equal(t, 3, calls)
}

func TestPaginateRESTFollowsLinkHeader(t *testing.T) {
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("page") {
		case "", "1":
			w.Header().Set("Link", fmt.Sprintf(`<%s/search?page=2>; rel="next"`, srv.URL))
			_ = json.NewEncoder(w).Encode(map[string]interface{}{
				"issues": []interface{}{map[string]interface{}{"key": "PRJ-1"}},
			})
		case "2":
			_ = json.NewEncoder(w).Encode(map[string]interface{}{
				"issues": []interface{}{map[string]interface{}{"key": "PRJ-2"}},
			})
		}
	}))
	defer srv.Close()

	b := NewBase(&models.ConnectorConfig{ConnectorID: "jira", BaseURL: srv.URL}, srv.Client(), observability.NewNoopLogger())
	items, err := b.paginateREST(context.Background(), srv.URL+"/search", nil, "issues")
	require.NoError(t, err)
	require.Len(t, items, 2)
}

func TestCircuitBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	b := NewBase(&models.ConnectorConfig{
		ConnectorID:    "flaky",
		BaseURL:        srv.URL,
		CircuitBreaker: true,
	}, srv.Client(), observability.NewNoopLogger())

	// 5xx responses complete the round trip, so they do not trip the
	// breaker; transport failures do.
	srv.Close()
	var lastErr error
	for i := 0; i < 6; i++ {
		_, lastErr = b.getJSON(context.Background(), srv.URL, nil, nil)
		require.Error(t, lastErr)
	}
	assert.ErrorIs(t, lastErr, gobreaker.ErrOpenState)
}
