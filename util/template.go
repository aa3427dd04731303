package util

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/oliveagle/jsonpath"
)

var tokenPattern = regexp.MustCompile(`{{\s*([^{}]+?)\s*}}`)

// Lookup resolves a dotted path ("lead.score", "input.items") against a
// flat context snapshot. Returns false when any segment is absent; it
// never returns an error to the caller.
func Lookup(data map[string]any, path string) (any, bool) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, false
	}
	if !strings.HasPrefix(path, "$") {
		path = "$." + path
	}
	value, err := jsonpath.JsonPathLookup(data, path)
	if err != nil || value == nil {
		return nil, false
	}
	return value, true
}

// ResolveString substitutes every {{path.to.value}} token in template by
// dotted-path lookup against data. Unresolved tokens are left verbatim.
func ResolveString(template string, data map[string]any) string {
	return tokenPattern.ReplaceAllStringFunc(template, func(token string) string {
		path := tokenPattern.FindStringSubmatch(token)[1]
		value, ok := Lookup(data, path)
		if !ok {
			return token
		}
		return fmt.Sprintf("%v", value)
	})
}

// ResolveParams walks a node's configuration map substituting tokens in
// every string, recursing into nested maps and lists. A string that is
// exactly one token resolves to the raw looked-up value so non-string
// parameters keep their type.
func ResolveParams(params map[string]any, data map[string]any) map[string]any {
	output := make(map[string]any, len(params))
	for k, v := range params {
		output[k] = resolveValue(v, data)
	}
	return output
}

func resolveValue(v any, data map[string]any) any {
	switch val := v.(type) {
	case map[string]any:
		return ResolveParams(val, data)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = resolveValue(item, data)
		}
		return out
	case string:
		if m := tokenPattern.FindStringSubmatch(val); m != nil && m[0] == strings.TrimSpace(val) {
			if value, ok := Lookup(data, m[1]); ok {
				return value
			}
			return val
		}
		return ResolveString(val, data)
	default:
		return v
	}
}
