package falkor

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// renderQuery prepends a CYPHER parameter prefix to the query text.
// FalkorDB has no separate parameter transport; the official clients
// serialize parameters into the query the same way.
func renderQuery(cypher string, params map[string]interface{}) (string, error) {
	if len(params) == 0 {
		return cypher, nil
	}

	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString("CYPHER ")
	for _, k := range keys {
		rendered, err := renderValue(params[k])
		if err != nil {
			return "", fmt.Errorf("parameter %q: %w", k, err)
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(rendered)
		b.WriteByte(' ')
	}
	b.WriteString(cypher)
	return b.String(), nil
}

func renderValue(v interface{}) (string, error) {
	switch val := v.(type) {
	case nil:
		return "null", nil
	case bool:
		return strconv.FormatBool(val), nil
	case int:
		return strconv.Itoa(val), nil
	case int32:
		return strconv.FormatInt(int64(val), 10), nil
	case int64:
		return strconv.FormatInt(val, 10), nil
	case float64:
		return strconv.FormatFloat(val, 'g', -1, 64), nil
	case string:
		return quoteString(val), nil
	case []string:
		parts := make([]string, len(val))
		for i, s := range val {
			parts[i] = quoteString(s)
		}
		return "[" + strings.Join(parts, ", ") + "]", nil
	case []interface{}:
		parts := make([]string, len(val))
		for i, item := range val {
			rendered, err := renderValue(item)
			if err != nil {
				return "", err
			}
			parts[i] = rendered
		}
		return "[" + strings.Join(parts, ", ") + "]", nil
	default:
		return "", fmt.Errorf("unsupported parameter type %T", v)
	}
}

func quoteString(s string) string {
	var b strings.Builder
	b.Grow(len(s) + 2)
	b.WriteByte('"')
	for _, r := range s {
		switch r {
		case '"':
			b.WriteString(`\"`)
		case '\\':
			b.WriteString(`\\`)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		default:
			b.WriteRune(r)
		}
	}
	b.WriteByte('"')
	return b.String()
}
