package security

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/KrishnaKumarTiwari/omni-sql/pkg/models"
	"github.com/KrishnaKumarTiwari/omni-sql/pkg/observability"
)

// Column-level actions.
const (
	ActionHashHMAC = "hash_hmac"
	ActionBlock    = "block"
	ActionRedact   = "redact"

	blockedValue  = "[HIDDEN]"
	redactedValue = "REDACTED"
)

var logger = observability.NewLogger("security.enforcer")

// ApplyRLS filters rows through every RLS rule whose connector matches.
// A row survives only if all matching rules pass. When no rules match
// the connector, the input is returned unchanged. A rule that fails to
// parse denies every row: unknown forms must never widen access.
func ApplyRLS(connectorID string, rows []models.Row, sc *models.SecurityContext) []models.Row {
	var compiled []*Compare
	matched := false
	for _, rule := range sc.TenantCfg.RLSRules {
		if rule.ConnectorID != connectorID {
			continue
		}
		matched = true
		expr, err := ParseExpr(rule.RuleExpr)
		if err != nil {
			logger.Warn("unsupported rls rule, denying all rows", map[string]interface{}{
				"connector_id": connectorID,
				"rule_expr":    rule.RuleExpr,
				"error":        err.Error(),
			})
			return []models.Row{}
		}
		compiled = append(compiled, expr)
	}
	if !matched {
		return rows
	}

	user := sc.UserAttrs()
	kept := make([]models.Row, 0, len(rows))
	for _, row := range rows {
		pass := true
		for _, expr := range compiled {
			if !expr.Eval(row, user) {
				pass = false
				break
			}
		}
		if pass {
			kept = append(kept, row)
		}
	}
	return kept
}

// ApplyCLS masks or blocks columns per the tenant's CLS rules. Input
// rows are never mutated: each output row is a fresh shallow copy. A
// nil rule condition always applies; a condition that fails to parse
// or evaluate false leaves the column alone.
func ApplyCLS(connectorID string, rows []models.Row, sc *models.SecurityContext) []models.Row {
	type activeRule struct {
		column string
		action string
	}

	user := sc.UserAttrs()
	var active []activeRule
	for _, rule := range sc.TenantCfg.CLSRules {
		if rule.ConnectorID != connectorID {
			continue
		}
		if rule.Condition != nil {
			expr, err := ParseExpr(*rule.Condition)
			if err != nil {
				logger.Warn("unsupported cls condition, skipping rule", map[string]interface{}{
					"connector_id": connectorID,
					"column":       rule.Column,
					"error":        err.Error(),
				})
				continue
			}
			if !expr.Eval(models.Row{}, user) {
				continue
			}
		}
		active = append(active, activeRule{column: rule.Column, action: rule.Action})
	}
	if len(active) == 0 {
		return rows
	}

	out := make([]models.Row, 0, len(rows))
	for _, row := range rows {
		clone := row.Clone()
		for _, rule := range active {
			original, present := clone[rule.column]
			if !present {
				continue
			}
			switch rule.action {
			case ActionHashHMAC:
				clone[rule.column] = MaskPII(original)
			case ActionBlock:
				clone[rule.column] = blockedValue
			case ActionRedact:
				clone[rule.column] = redactedValue
			}
		}
		out = append(out, clone)
	}
	return out
}

// MaskPII produces the deterministic mask for a value: the first 8 hex
// chars of its SHA-256 digest with a fixed suffix. Identical inputs
// always produce identical masks, so masked columns remain joinable.
// Non-string values are stringified unmasked.
func MaskPII(v interface{}) string {
	s, ok := v.(string)
	if !ok {
		return fmt.Sprintf("%v", v)
	}
	digest := sha256.Sum256([]byte(s))
	return hex.EncodeToString(digest[:])[:8] + "****@ema.co"
}
