package graph

import (
	"context"
	"fmt"
	"strings"

	"github.com/hsn0918/memex/pkg/falkor"
)

// Node lookup limits. Filters arrive straight from query parameters,
// so property names and values are bounded and backticks stripped
// before they reach Cypher text.
const (
	maxBrowseResults = 50
	maxFilterProp    = 64
	maxFilterValue   = 1000
)

// BrowseLabels is the set of node labels exposed to lookups.
var BrowseLabels = []string{"Chunk", "Concept", "Document", "Person"}

// ErrUnknownLabel rejects lookups outside the label allowlist.
var ErrUnknownLabel = fmt.Errorf("unknown label, allowed: %s", strings.Join(BrowseLabels, ", "))

// BrowseNodes returns the properties of up to 50 nodes carrying the
// given label, optionally filtered by exact property equality.
func (a *Applier) BrowseNodes(ctx context.Context, label string, filters map[string]string) ([]map[string]interface{}, error) {
	if !allowedLabel(label) {
		return nil, ErrUnknownLabel
	}

	params := map[string]interface{}{}
	var conditions []string
	for prop, value := range filters {
		prop = sanitizeProp(prop)
		if prop == "" || len(prop) > maxFilterProp || len(value) > maxFilterValue {
			continue
		}
		param := "p_" + prop
		conditions = append(conditions, fmt.Sprintf("n.`%s` = $%s", prop, param))
		params[param] = value
	}

	where := ""
	if len(conditions) > 0 {
		where = " WHERE " + strings.Join(conditions, " AND ")
	}
	cypher := fmt.Sprintf("MATCH (n:%s)%s RETURN n LIMIT %d", label, where, maxBrowseResults)

	result, err := a.graph.ReadQuery(ctx, cypher, params)
	if err != nil {
		return nil, fmt.Errorf("browse %s nodes: %w", label, err)
	}

	nodes := make([]map[string]interface{}, 0, len(result.Rows))
	for _, row := range result.Rows {
		if len(row) == 0 {
			continue
		}
		if node, ok := row[0].(falkor.Node); ok {
			nodes = append(nodes, node.Properties)
		}
	}
	return nodes, nil
}

func allowedLabel(label string) bool {
	for _, l := range BrowseLabels {
		if l == label {
			return true
		}
	}
	return false
}
