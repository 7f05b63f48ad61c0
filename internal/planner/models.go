// Package planner translates SQL text into an execution DAG of
// per-connector fetch nodes.
package planner

import (
	"fmt"
	"sort"

	"github.com/KrishnaKumarTiwari/omni-sql/pkg/qerrors"
)

// FetchNode is one unit of work: a single connector fetch for one table
// reference in the query.
type FetchNode struct {
	ID          string `json:"id"`
	ConnectorID string `json:"connector_id"`
	FetchKey    string `json:"fetch_key"`
	TableName   string `json:"table_name"`
	ViewName    string `json:"view_name"`

	// PushdownFilters are equality predicates the connector evaluates
	// server-side. LocalFilters stay in the rewritten SQL and are
	// applied by the join engine after fetch.
	PushdownFilters map[string]interface{} `json:"pushdown_filters"`
	LocalFilters    map[string]interface{} `json:"local_filters"`

	// DependsOn lists node IDs that must complete first. Empty for
	// plain multi-table queries, which run as one parallel wave.
	DependsOn []string `json:"depends_on"`
}

// ExecutionDAG is the planned query: fetch nodes plus the SQL rewritten
// to reference their view names.
type ExecutionDAG struct {
	Nodes        []*FetchNode
	RewrittenSQL string
}

// AddNode appends a node to the DAG.
func (d *ExecutionDAG) AddNode(n *FetchNode) {
	d.Nodes = append(d.Nodes, n)
}

// AddDependency records that dependentID cannot start until dependsOnID
// completes.
func (d *ExecutionDAG) AddDependency(dependentID, dependsOnID string) error {
	for _, n := range d.Nodes {
		if n.ID != dependentID {
			continue
		}
		for _, existing := range n.DependsOn {
			if existing == dependsOnID {
				return nil
			}
		}
		n.DependsOn = append(n.DependsOn, dependsOnID)
		return nil
	}
	return fmt.Errorf("node not found: %s", dependentID)
}

// Levels topologically sorts the DAG into execution waves with Kahn's
// algorithm. Every node in a wave has all dependencies satisfied by
// earlier waves, so waves run with full internal parallelism. Waves are
// sorted by node ID so execution order is deterministic.
func (d *ExecutionDAG) Levels() ([][]*FetchNode, error) {
	if len(d.Nodes) == 0 {
		return nil, nil
	}

	nodeMap := make(map[string]*FetchNode, len(d.Nodes))
	inDegree := make(map[string]int, len(d.Nodes))
	for _, n := range d.Nodes {
		nodeMap[n.ID] = n
		inDegree[n.ID] = len(n.DependsOn)
	}

	remaining := make(map[string]bool, len(d.Nodes))
	for _, n := range d.Nodes {
		remaining[n.ID] = true
	}

	var levels [][]*FetchNode
	for len(remaining) > 0 {
		var wave []*FetchNode
		for id := range remaining {
			if inDegree[id] == 0 {
				wave = append(wave, nodeMap[id])
			}
		}
		if len(wave) == 0 {
			stuck := make([]string, 0, len(remaining))
			for id := range remaining {
				stuck = append(stuck, id)
			}
			sort.Strings(stuck)
			return nil, qerrors.Newf(qerrors.KindDAGCycle, "execution graph has a cycle among nodes: %v", stuck)
		}
		sort.Slice(wave, func(i, j int) bool { return wave[i].ID < wave[j].ID })
		levels = append(levels, wave)

		for _, done := range wave {
			delete(remaining, done.ID)
			for id := range remaining {
				for _, dep := range nodeMap[id].DependsOn {
					if dep == done.ID {
						inDegree[id]--
					}
				}
			}
		}
	}
	return levels, nil
}
