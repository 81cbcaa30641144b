package falkor

import (
	"github.com/redis/rueidis"
)

// Node is a graph node decoded from a query reply.
type Node struct {
	ID         int64
	Labels     []string
	Properties map[string]interface{}
}

// Result holds the decoded reply of a graph query. Mutation-only
// queries carry just Stats; reading queries also carry Columns and Rows.
type Result struct {
	Columns []string
	Rows    [][]interface{}
	Stats   []string
}

// Empty reports whether the query returned no rows.
func (r *Result) Empty() bool { return len(r.Rows) == 0 }

// parseResult decodes the verbose (non-compact) GRAPH.QUERY reply
// shape: [header, rows, stats] for reads, [stats] for pure mutations.
func parseResult(resp rueidis.RedisResult) (*Result, error) {
	arr, err := resp.ToArray()
	if err != nil {
		return nil, err
	}

	result := &Result{}
	switch {
	case len(arr) == 0:
		return result, nil
	case len(arr) == 1:
		result.Stats = toStringSlice(arr[0])
		return result, nil
	}

	if header, err := arr[0].ToArray(); err == nil {
		for _, col := range header {
			result.Columns = append(result.Columns, columnName(col))
		}
	}

	if rows, err := arr[1].ToArray(); err == nil {
		for _, row := range rows {
			cells, err := row.ToArray()
			if err != nil {
				continue
			}
			decoded := make([]interface{}, len(cells))
			for i, cell := range cells {
				decoded[i] = parseValue(cell)
			}
			result.Rows = append(result.Rows, decoded)
		}
	}

	if len(arr) > 2 {
		result.Stats = toStringSlice(arr[2])
	}
	return result, nil
}

// columnName tolerates both plain-string headers and the [type, name]
// pairs older server versions emit.
func columnName(msg rueidis.RedisMessage) string {
	if s, err := msg.ToString(); err == nil {
		return s
	}
	if parts, err := msg.ToArray(); err == nil && len(parts) > 0 {
		if s, err := parts[len(parts)-1].ToString(); err == nil {
			return s
		}
	}
	return ""
}

func parseValue(msg rueidis.RedisMessage) interface{} {
	switch {
	case msg.IsNil():
		return nil
	case msg.IsInt64():
		v, _ := msg.ToInt64()
		return v
	case msg.IsFloat64():
		v, _ := msg.ToFloat64()
		return v
	case msg.IsString():
		s, _ := msg.ToString()
		return s
	case msg.IsArray():
		items, err := msg.ToArray()
		if err != nil {
			return nil
		}
		if node, ok := parseNode(items); ok {
			return node
		}
		decoded := make([]interface{}, len(items))
		for i, item := range items {
			decoded[i] = parseValue(item)
		}
		return decoded
	default:
		return nil
	}
}

// parseNode recognizes the verbose node encoding: an array of [key,
// value] pairs whose keys include "id" and "properties".
func parseNode(items []rueidis.RedisMessage) (Node, bool) {
	node := Node{Properties: map[string]interface{}{}}
	seen := false

	for _, item := range items {
		pair, err := item.ToArray()
		if err != nil || len(pair) != 2 {
			return Node{}, false
		}
		key, err := pair[0].ToString()
		if err != nil {
			return Node{}, false
		}
		switch key {
		case "id":
			node.ID, _ = pair[1].ToInt64()
			seen = true
		case "labels":
			node.Labels = toStringSlice(pair[1])
		case "properties":
			props, err := pair[1].ToArray()
			if err != nil {
				continue
			}
			for _, prop := range props {
				kv, err := prop.ToArray()
				if err != nil || len(kv) != 2 {
					continue
				}
				name, err := kv[0].ToString()
				if err != nil {
					continue
				}
				node.Properties[name] = parseValue(kv[1])
			}
		case "type", "src_node", "dest_node":
			// Edge encoding shares the pair shape; not a node.
			return Node{}, false
		}
	}

	if !seen {
		return Node{}, false
	}
	return node, true
}

func toStringSlice(msg rueidis.RedisMessage) []string {
	items, err := msg.ToArray()
	if err != nil {
		if s, serr := msg.ToString(); serr == nil {
			return []string{s}
		}
		return nil
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s, err := item.ToString(); err == nil {
			out = append(out, s)
		}
	}
	return out
}
