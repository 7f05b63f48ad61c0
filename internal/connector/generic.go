package connector

import (
	"context"
	"net/http"
	"strings"

	"github.com/KrishnaKumarTiwari/omni-sql/pkg/models"
	"github.com/KrishnaKumarTiwari/omni-sql/pkg/observability"
)

// Generic is the zero-code connector: a YAML manifest in the tenant
// config declares tables, column projections, and optional mock data,
// and no connector-specific Go is needed.
type Generic struct {
	*Base
	manifest *models.GenericManifest
}

// NewGeneric builds a manifest-driven connector. A nil manifest yields
// a connector that returns no rows.
func NewGeneric(cfg *models.ConnectorConfig, client *http.Client, logger observability.Logger) *Generic {
	return &Generic{Base: NewBase(cfg, client, logger), manifest: cfg.Manifest}
}

func (g *Generic) ID() string { return g.cfg.ConnectorID }

func (g *Generic) FetchData(ctx context.Context, qc QueryContext) ([]models.Row, error) {
	if g.manifest == nil {
		return nil, nil
	}

	var data []models.Row
	if mock, ok := g.manifest.MockData[qc.FetchKey]; ok {
		data = mock
	}

	// Column projection from the manifest tables. Paths are trivial
	// "$.field" JSONPath references into the raw row.
	columns := map[string]string{}
	for _, tbl := range g.manifest.Tables {
		for col, path := range tbl.Columns {
			columns[col] = path
		}
	}
	if len(columns) > 0 {
		projected := make([]models.Row, 0, len(data))
		for _, row := range data {
			out := make(models.Row, len(columns))
			for col, path := range columns {
				key := strings.TrimPrefix(path, "$.")
				v, ok := row[key]
				if !ok {
					v = row[col]
				}
				out[col] = v
			}
			projected = append(projected, out)
		}
		data = projected
	}

	out := make([]models.Row, 0, len(data))
	for _, row := range data {
		keep := true
		for field, want := range qc.Filters {
			if !valueEqual(row[field], want) {
				keep = false
				break
			}
		}
		if keep {
			out = append(out, row)
		}
	}
	return out, nil
}

func valueEqual(a, b interface{}) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a == b
}
