package connector

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	"github.com/KrishnaKumarTiwari/omni-sql/pkg/models"
	"github.com/KrishnaKumarTiwari/omni-sql/pkg/observability"
)

const maxErrorBodyBytes = 2048

// Base carries the HTTP plumbing shared by every concrete connector:
// auth header construction, JSON GET/POST, cursor and Link-header
// pagination, and an optional circuit breaker around the upstream.
type Base struct {
	cfg     *models.ConnectorConfig
	client  *http.Client
	logger  observability.Logger
	breaker *gobreaker.CircuitBreaker
}

// NewBase builds the shared plumbing for one connector instance. The
// HTTP client is shared across connectors; the breaker, when enabled,
// is per-instance so one flapping upstream cannot trip another.
func NewBase(cfg *models.ConnectorConfig, client *http.Client, logger observability.Logger) *Base {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	if logger == nil {
		logger = observability.NewLogger("connector." + cfg.ConnectorID)
	}
	b := &Base{cfg: cfg, client: client, logger: logger}
	if cfg.CircuitBreaker {
		b.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        cfg.ConnectorID,
			MaxRequests: 1,
			Interval:    60 * time.Second,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
		})
	}
	return b
}

// Config returns the connector's configuration.
func (b *Base) Config() *models.ConnectorConfig { return b.cfg }

// Mock reports whether the connector runs against canned data instead
// of a live upstream.
func (b *Base) Mock() bool { return b.cfg.BaseURL == "mock" }

// authHeader resolves the connector credential and renders the
// Authorization header value. "env://NAME" references read the secret
// from the environment at call time so rotation needs no restart.
func (b *Base) authHeader() (string, error) {
	ref := b.cfg.CredentialRef
	if ref == "" {
		return "", nil
	}

	secret := ref
	if name, ok := strings.CutPrefix(ref, "env://"); ok {
		secret = os.Getenv(name)
		if secret == "" {
			return "", fmt.Errorf("credential %s not set in environment", name)
		}
	}

	switch b.cfg.AuthType {
	case "basic":
		return "Basic " + base64.StdEncoding.EncodeToString([]byte(secret)), nil
	default:
		return "Bearer " + secret, nil
	}
}

func (b *Base) do(req *http.Request) (*http.Response, error) {
	if b.breaker == nil {
		return b.client.Do(req)
	}
	resp, err := b.breaker.Execute(func() (interface{}, error) {
		return b.client.Do(req)
	})
	if err != nil {
		return nil, err
	}
	return resp.(*http.Response), nil
}

// getJSON performs one authenticated GET and decodes the body into out.
// Non-2xx responses become *HTTPError. The response is returned so
// callers can read pagination headers; its body is already closed.
func (b *Base) getJSON(ctx context.Context, rawURL string, params url.Values, out interface{}) (http.Header, error) {
	u := rawURL
	if len(params) > 0 {
		sep := "?"
		if strings.Contains(rawURL, "?") {
			sep = "&"
		}
		u = rawURL + sep + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	return b.roundTrip(req, out)
}

// postJSON performs one authenticated POST with a JSON body and decodes
// the response into out.
func (b *Base) postJSON(ctx context.Context, rawURL string, body, out interface{}) (http.Header, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, rawURL, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return b.roundTrip(req, out)
}

func (b *Base) roundTrip(req *http.Request, out interface{}) (http.Header, error) {
	auth, err := b.authHeader()
	if err != nil {
		return nil, err
	}
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := b.do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		return nil, &HTTPError{
			StatusCode: resp.StatusCode,
			URL:        req.URL.String(),
			Body:       string(snippet),
		}
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return nil, fmt.Errorf("decode %s: %w", req.URL.String(), err)
		}
	}
	return resp.Header, nil
}

// graphql posts one GraphQL query. Transport-level success with
// body-level "errors" is elevated to a real error: GraphQL endpoints
// return 200 for almost everything.
func (b *Base) graphql(ctx context.Context, query string, variables map[string]interface{}) (map[string]interface{}, error) {
	endpoint := strings.TrimRight(b.cfg.BaseURL, "/") + b.cfg.GraphQLPath

	var envelope struct {
		Data   map[string]interface{} `json:"data"`
		Errors []struct {
			Message string `json:"message"`
		} `json:"errors"`
	}
	body := map[string]interface{}{"query": query}
	if len(variables) > 0 {
		body["variables"] = variables
	}
	if _, err := b.postJSON(ctx, endpoint, body, &envelope); err != nil {
		return nil, err
	}
	if len(envelope.Errors) > 0 {
		msgs := make([]string, 0, len(envelope.Errors))
		for _, e := range envelope.Errors {
			msgs = append(msgs, e.Message)
		}
		return nil, fmt.Errorf("graphql errors: %s", strings.Join(msgs, "; "))
	}
	return envelope.Data, nil
}

// paginateGraphQL walks a Relay-style connection: the node list and
// pageInfo live under dataPath (dot-separated) in each response, and
// the endCursor feeds the next request's "after" variable.
func (b *Base) paginateGraphQL(ctx context.Context, query string, variables map[string]interface{}, dataPath string) ([]interface{}, error) {
	vars := make(map[string]interface{}, len(variables)+2)
	for k, v := range variables {
		vars[k] = v
	}
	vars["first"] = b.cfg.PageSize

	var all []interface{}
	for {
		data, err := b.graphql(ctx, query, vars)
		if err != nil {
			return nil, err
		}

		node := digPath(data, dataPath)
		conn, ok := node.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("graphql response missing %q", dataPath)
		}
		if nodes, ok := conn["nodes"].([]interface{}); ok {
			all = append(all, nodes...)
		}

		info, _ := conn["pageInfo"].(map[string]interface{})
		hasNext, _ := info["hasNextPage"].(bool)
		cursor, _ := info["endCursor"].(string)
		if !hasNext || cursor == "" {
			return all, nil
		}
		vars["after"] = cursor
	}
}

// paginateREST walks a paged REST listing. Page items live under
// itemsKey in each response body; the next page comes from the
// RFC 5988 Link header's rel="next" entry.
func (b *Base) paginateREST(ctx context.Context, rawURL string, params url.Values, itemsKey string) ([]interface{}, error) {
	var all []interface{}
	next := rawURL
	for next != "" {
		var body map[string]interface{}
		hdr, err := b.getJSON(ctx, next, params, &body)
		if err != nil {
			return nil, err
		}
		params = nil // the next-page link already carries its query

		if items, ok := body[itemsKey].([]interface{}); ok {
			all = append(all, items...)
		}
		next = nextLink(hdr.Get("Link"))
	}
	return all, nil
}

// nextLink extracts the rel="next" target from a Link header, or "".
func nextLink(header string) string {
	for _, part := range strings.Split(header, ",") {
		section := strings.Split(part, ";")
		if len(section) < 2 {
			continue
		}
		target := strings.Trim(strings.TrimSpace(section[0]), "<>")
		for _, attr := range section[1:] {
			if strings.TrimSpace(attr) == `rel="next"` {
				return target
			}
		}
	}
	return ""
}

// digPath resolves a dot-separated path through nested JSON maps.
func digPath(data map[string]interface{}, path string) interface{} {
	var cur interface{} = data
	for _, seg := range strings.Split(path, ".") {
		m, ok := cur.(map[string]interface{})
		if !ok {
			return nil
		}
		cur = m[seg]
	}
	return cur
}

// toRows normalizes a decoded JSON list into Rows, skipping non-object
// entries.
func toRows(items []interface{}) []models.Row {
	rows := make([]models.Row, 0, len(items))
	for _, item := range items {
		if m, ok := item.(map[string]interface{}); ok {
			rows = append(rows, models.Row(m))
		}
	}
	return rows
}
