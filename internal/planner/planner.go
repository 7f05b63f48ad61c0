package planner

import (
	"sort"
	"strconv"
	"strings"

	"github.com/xwb1989/sqlparser"

	"github.com/KrishnaKumarTiwari/omni-sql/pkg/models"
	"github.com/KrishnaKumarTiwari/omni-sql/pkg/qerrors"
)

// Planner plans queries against one tenant's table registry. It is
// cheap to construct and carries no state beyond the config snapshot.
type Planner struct {
	cfg *models.TenantConfig
}

// New creates a planner over a tenant config snapshot.
func New(cfg *models.TenantConfig) *Planner {
	return &Planner{cfg: cfg}
}

// Plan parses SQL and produces the execution DAG. Each registered table
// reference becomes one fetch node; equality predicates on pushable
// fields move into the node's pushdown filters, everything else stays
// in the rewritten SQL for the join engine.
func (p *Planner) Plan(sql string) (*ExecutionDAG, error) {
	stmt, err := sqlparser.Parse(sql)
	if err != nil {
		return nil, qerrors.Wrap(qerrors.KindInvalidSQL, err, "SQL parse error")
	}

	refs, aliasMap, err := p.extractTableRefs(stmt)
	if err != nil {
		return nil, err
	}
	if len(refs) == 0 {
		return nil, qerrors.Newf(qerrors.KindNoRecognizedTables,
			"no recognized tables in query; available: %s", strings.Join(p.cfg.TableNames(), ", "))
	}

	dag := &ExecutionDAG{RewrittenSQL: rewriteSQL(sql, refs)}
	for i, tableName := range refs {
		target := p.cfg.TableRegistry[tableName]
		fetchKey := target.FetchKey
		if fetchKey == "" {
			fetchKey = "all"
		}

		var pushable []string
		if cc, ok := p.cfg.ConnectorConfigs[target.Connector]; ok {
			pushable = cc.PushableFilters
		}
		pushdown, local := classifyPredicates(stmt, pushable, aliasMap[tableName])

		dag.AddNode(&FetchNode{
			ID:              "node_" + target.Connector + "_" + strconv.Itoa(i),
			ConnectorID:     target.Connector,
			FetchKey:        fetchKey,
			TableName:       tableName,
			ViewName:        strings.ReplaceAll(tableName, ".", "_"),
			PushdownFilters: pushdown,
			LocalFilters:    local,
		})
	}
	return dag, nil
}

// extractTableRefs walks the AST collecting registered table references
// in first-seen order, plus the set of identifiers each table may be
// referenced by in predicates: its explicit alias, its unqualified
// name, and its underscored view name.
//
// A dotted reference missing from the registry is a hard error: the
// caller named a federated table that does not exist for this tenant.
// Bare unregistered names are ignored so subquery aliases do not break
// planning.
func (p *Planner) extractTableRefs(stmt sqlparser.Statement) ([]string, map[string]map[string]bool, error) {
	var refs []string
	aliasMap := make(map[string]map[string]bool)
	var walkErr error

	_ = sqlparser.Walk(func(node sqlparser.SQLNode) (bool, error) {
		ate, ok := node.(*sqlparser.AliasedTableExpr)
		if !ok {
			return true, nil
		}
		tbl, ok := ate.Expr.(sqlparser.TableName)
		if !ok {
			return true, nil
		}

		name := tbl.Name.String()
		if name == "" {
			return true, nil
		}
		fullName := name
		dotted := false
		if q := tbl.Qualifier.String(); q != "" {
			fullName = q + "." + name
			dotted = true
		}

		if _, registered := p.cfg.TableRegistry[fullName]; !registered {
			if dotted && walkErr == nil {
				walkErr = qerrors.Newf(qerrors.KindUnknownTable,
					"unknown table %q; available: %s", fullName, strings.Join(p.cfg.TableNames(), ", "))
			}
			return true, nil
		}

		aliases := aliasMap[fullName]
		if aliases == nil {
			refs = append(refs, fullName)
			aliases = make(map[string]bool)
			aliasMap[fullName] = aliases
		}
		if as := ate.As.String(); as != "" {
			aliases[strings.ToLower(as)] = true
		}
		aliases[strings.ToLower(name)] = true
		aliases[strings.ToLower(strings.ReplaceAll(fullName, ".", "_"))] = true
		return true, nil
	}, stmt)

	if walkErr != nil {
		return nil, nil, walkErr
	}
	return refs, aliasMap, nil
}

// classifyPredicates splits WHERE equality predicates for one table.
// Simple `col = literal` comparisons on pushable fields become pushdown
// filters; other equality predicates are recorded as local filters. A
// predicate qualified with another table's alias belongs to that table
// and is skipped here. Unqualified predicates apply to every table, as
// the join engine would also see them.
func classifyPredicates(stmt sqlparser.Statement, pushable []string, aliases map[string]bool) (map[string]interface{}, map[string]interface{}) {
	pushdown := map[string]interface{}{}
	local := map[string]interface{}{}

	sel, ok := stmt.(*sqlparser.Select)
	if !ok || sel.Where == nil {
		return pushdown, local
	}

	pushableSet := make(map[string]bool, len(pushable))
	for _, f := range pushable {
		pushableSet[strings.ToLower(f)] = true
	}

	_ = sqlparser.Walk(func(node sqlparser.SQLNode) (bool, error) {
		cmp, ok := node.(*sqlparser.ComparisonExpr)
		if !ok || cmp.Operator != sqlparser.EqualStr {
			return true, nil
		}
		col, ok := cmp.Left.(*sqlparser.ColName)
		if !ok {
			return true, nil
		}

		value, ok := literalValue(cmp.Right)
		if !ok {
			return true, nil
		}

		if q := col.Qualifier.Name.String(); q != "" && !aliases[strings.ToLower(q)] {
			return true, nil
		}

		name := col.Name.Lowered()
		if pushableSet[name] {
			pushdown[name] = value
		} else {
			local[name] = value
		}
		return true, nil
	}, sel.Where)

	return pushdown, local
}

// literalValue extracts a scalar from a literal expression. Non-literal
// right-hand sides (columns, subqueries, functions) are not filters the
// connector can evaluate.
func literalValue(expr sqlparser.Expr) (interface{}, bool) {
	switch v := expr.(type) {
	case *sqlparser.SQLVal:
		switch v.Type {
		case sqlparser.StrVal:
			return string(v.Val), true
		case sqlparser.IntVal:
			if n, err := strconv.ParseInt(string(v.Val), 10, 64); err == nil {
				return n, true
			}
			return string(v.Val), true
		case sqlparser.FloatVal:
			if f, err := strconv.ParseFloat(string(v.Val), 64); err == nil {
				return f, true
			}
			return string(v.Val), true
		default:
			return nil, false
		}
	case sqlparser.BoolVal:
		return bool(v), true
	default:
		return nil, false
	}
}

// rewriteSQL replaces dotted table names with their underscored view
// names. Plain string replacement is safe: every name was validated
// against the registry. Longer names replace first so one registered
// name cannot clobber a substring of another.
func rewriteSQL(sql string, tableNames []string) string {
	sorted := make([]string, len(tableNames))
	copy(sorted, tableNames)
	sort.Slice(sorted, func(i, j int) bool { return len(sorted[i]) > len(sorted[j]) })

	out := sql
	for _, name := range sorted {
		out = strings.ReplaceAll(out, name, strings.ReplaceAll(name, ".", "_"))
	}
	return out
}
