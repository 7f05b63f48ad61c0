// Package engine executes planned queries: parallel DAG fetch, policy
// enforcement, and the final relational join.
package engine

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/KrishnaKumarTiwari/omni-sql/pkg/models"
	"github.com/KrishnaKumarTiwari/omni-sql/pkg/qerrors"
)

// JoinEngine evaluates the rewritten SQL over registered views. One
// instance serves exactly one request and must be closed when done.
type JoinEngine interface {
	RegisterView(ctx context.Context, viewName string, rows, exemplar []models.Row) error
	Execute(ctx context.Context, sql string) ([]models.Row, []string, error)
	Close() error
}

// sqliteJoin backs each request with a private in-memory SQLite
// database. Row-sets become typeless tables, so heterogenous connector
// values keep their text form and comparisons behave like the untyped
// row maps upstream.
type sqliteJoin struct {
	db *sql.DB
}

// NewJoin opens a fresh in-memory database for one request. The pool is
// pinned to a single connection: each pooled connection would otherwise
// see its own empty :memory: database.
func NewJoin() (JoinEngine, error) {
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		return nil, qerrors.Wrap(qerrors.KindJoinEngine, err, "open join database")
	}
	db.SetMaxOpenConns(1)
	return &sqliteJoin{db: db}, nil
}

// RegisterView materializes one row-set as a table. An empty row-set
// still gets a schema: columns come from the exemplar (the pre-policy
// rows) so joins against a fully-filtered source do not fail with
// unknown-table errors. With no exemplar either, a single placeholder
// column keeps the table creatable.
func (j *sqliteJoin) RegisterView(ctx context.Context, viewName string, rows, exemplar []models.Row) error {
	cols := columnOrder(rows)
	if len(cols) == 0 {
		cols = columnOrder(exemplar)
	}
	if len(cols) == 0 {
		cols = []string{"_empty"}
	}

	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = quoteIdent(c)
	}
	ddl := fmt.Sprintf("CREATE TABLE %s (%s)", quoteIdent(viewName), strings.Join(quoted, ", "))
	if _, err := j.db.ExecContext(ctx, ddl); err != nil {
		return qerrors.Wrap(qerrors.KindJoinEngine, err, "create view "+viewName)
	}
	if len(rows) == 0 {
		return nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", ")
	stmt, err := j.db.PrepareContext(ctx, fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES (%s)",
		quoteIdent(viewName), strings.Join(quoted, ", "), placeholders,
	))
	if err != nil {
		return qerrors.Wrap(qerrors.KindJoinEngine, err, "prepare insert for "+viewName)
	}
	defer stmt.Close()

	args := make([]interface{}, len(cols))
	for _, row := range rows {
		for i, c := range cols {
			args[i] = bindValue(row[c])
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return qerrors.Wrap(qerrors.KindJoinEngine, err, "insert into "+viewName)
		}
	}
	return nil
}

// Execute runs the rewritten SQL and returns rows plus the result
// column order.
func (j *sqliteJoin) Execute(ctx context.Context, query string) ([]models.Row, []string, error) {
	rs, err := j.db.QueryContext(ctx, query)
	if err != nil {
		return nil, nil, qerrors.Wrap(qerrors.KindJoinEngine, err, "SQL execution error")
	}
	defer rs.Close()

	cols, err := rs.Columns()
	if err != nil {
		return nil, nil, qerrors.Wrap(qerrors.KindJoinEngine, err, "read result columns")
	}

	rows := []models.Row{}
	values := make([]interface{}, len(cols))
	ptrs := make([]interface{}, len(cols))
	for i := range values {
		ptrs[i] = &values[i]
	}
	for rs.Next() {
		if err := rs.Scan(ptrs...); err != nil {
			return nil, nil, qerrors.Wrap(qerrors.KindJoinEngine, err, "scan result row")
		}
		row := make(models.Row, len(cols))
		for i, c := range cols {
			row[c] = resultValue(values[i])
		}
		rows = append(rows, row)
	}
	if err := rs.Err(); err != nil {
		return nil, nil, qerrors.Wrap(qerrors.KindJoinEngine, err, "iterate result rows")
	}
	return rows, cols, nil
}

func (j *sqliteJoin) Close() error { return j.db.Close() }

// columnOrder collects the union of column names across rows, sorted.
// Row maps iterate in random order, so sorting is what makes the table
// schema stable for a given row-set.
func columnOrder(rows []models.Row) []string {
	var cols []string
	seen := map[string]bool{}
	for _, row := range rows {
		for k := range row {
			if !seen[k] {
				seen[k] = true
				cols = append(cols, k)
			}
		}
	}
	sort.Strings(cols)
	return cols
}

// bindValue maps an untyped row value to a driver-bindable scalar.
// Booleans become 0/1, composites become their JSON text.
func bindValue(v interface{}) interface{} {
	switch t := v.(type) {
	case nil, string, int, int32, int64, float32, float64, []byte:
		return v
	case bool:
		if t {
			return 1
		}
		return 0
	default:
		raw, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprintf("%v", t)
		}
		return string(raw)
	}
}

func resultValue(v interface{}) interface{} {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return v
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
