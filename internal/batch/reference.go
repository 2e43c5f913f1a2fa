// Package batch implements the Reference Resolver, Dependency Resolver,
// and Batch Orchestrator (spec.md §4.6-§4.8).
package batch

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/forbearing/querygate/internal/operation"
	"github.com/forbearing/querygate/types/gatewayerr"
)

// refPrefix starts a `$ref:op_id.path.to.value` reference. Segments are
// identifiers or non-negative integers (array indices).
const refPrefix = "$ref:"

// ResolveReferences walks every string in op's QueryParams/StoreParams/
// MetadataParams/CustomBindings, replacing `$ref:...` tokens with values
// drawn from completed, which maps operation id to its already-materialized
// result data. A string that is *exactly* one reference preserves the
// referenced value's type; a string containing a reference embedded in
// other text interpolates str(value) in place (spec.md §4.6). Returns a
// copy; op itself is never mutated (operation.Operation's own doc comment).
func ResolveReferences(op *operation.Operation, completed map[string][]map[string]any) (*operation.Operation, error) {
	out := op.Clone()
	var err error
	out.QueryParams, err = resolveStringMap(op.QueryParams, completed)
	if err != nil {
		return nil, err
	}
	out.MetadataParams, err = resolveStringMap(op.MetadataParams, completed)
	if err != nil {
		return nil, err
	}
	if op.StoreParams != nil {
		resolved, err := resolveAny(op.StoreParams, completed)
		if err != nil {
			return nil, err
		}
		out.StoreParams, _ = resolved.(map[string]any)
	}
	if op.CustomBindings != nil {
		resolved, err := resolveAny(op.CustomBindings, completed)
		if err != nil {
			return nil, err
		}
		out.CustomBindings, _ = resolved.(map[string]any)
	}
	return out, nil
}

func resolveStringMap(m map[string]string, completed map[string][]map[string]any) (map[string]string, error) {
	if m == nil {
		return nil, nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		resolved, err := resolveAny(v, completed)
		if err != nil {
			return nil, err
		}
		s, ok := resolved.(string)
		if !ok {
			s = fmt.Sprintf("%v", resolved)
		}
		out[k] = s
	}
	return out, nil
}

// resolveAny walks a parameter-tree value (string, map[string]any,
// []any, or scalar) replacing every `$ref:` token it finds.
func resolveAny(v any, completed map[string][]map[string]any) (any, error) {
	switch t := v.(type) {
	case string:
		return resolveString(t, completed)
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			resolved, err := resolveAny(val, completed)
			if err != nil {
				return nil, err
			}
			out[k] = resolved
		}
		return out, nil
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			resolved, err := resolveAny(val, completed)
			if err != nil {
				return nil, err
			}
			out[i] = resolved
		}
		return out, nil
	default:
		return v, nil
	}
}

func resolveString(s string, completed map[string][]map[string]any) (any, error) {
	if !strings.Contains(s, refPrefix) {
		return s, nil
	}

	if tok, ok := isWholeReference(s); ok {
		return lookupReference(tok, completed)
	}

	// Embedded reference(s): interpolate str(value) at every occurrence.
	var b strings.Builder
	rest := s
	for {
		idx := strings.Index(rest, refPrefix)
		if idx < 0 {
			b.WriteString(rest)
			break
		}
		b.WriteString(rest[:idx])
		tok, remainder := extractToken(rest[idx:])
		val, err := lookupReference(tok, completed)
		if err != nil {
			return nil, err
		}
		b.WriteString(fmt.Sprintf("%v", val))
		rest = remainder
	}
	return b.String(), nil
}

// isWholeReference reports whether s is exactly one `$ref:...` token with
// nothing else around it.
func isWholeReference(s string) (string, bool) {
	if !strings.HasPrefix(s, refPrefix) {
		return "", false
	}
	tok, remainder := extractToken(s)
	return tok, remainder == ""
}

// extractToken splits s (which starts with "$ref:") into the reference
// token and whatever text follows it. A reference token is the prefix plus
// a run of identifier/digit/dot characters.
func extractToken(s string) (token string, remainder string) {
	i := len(refPrefix)
	for i < len(s) {
		c := s[i]
		if c == '.' || c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') {
			i++
			continue
		}
		break
	}
	return s[:i], s[i:]
}

func lookupReference(token string, completed map[string][]map[string]any) (any, error) {
	body := strings.TrimPrefix(token, refPrefix)
	segments := strings.Split(body, ".")
	if len(segments) < 2 {
		return nil, gatewayerr.Newf(gatewayerr.BadRequest, "malformed reference %q", token)
	}
	opID := segments[0]
	path := segments[1:]

	rows, ok := completed[opID]
	if !ok {
		return nil, gatewayerr.Newf(gatewayerr.BadRequest, "unknown or failed reference %q", opID)
	}

	var cur any = rowsToAny(rows)
	for i, seg := range path {
		next, err := descend(cur, seg)
		if err != nil {
			return nil, gatewayerr.Wrapf(gatewayerr.BadRequest, err, "reference %q: resolving %q", token, strings.Join(path[:i+1], "."))
		}
		cur = next
	}
	return cur, nil
}

func rowsToAny(rows []map[string]any) any {
	if len(rows) == 1 {
		return rowAsAny(rows[0])
	}
	out := make([]any, len(rows))
	for i, r := range rows {
		out[i] = rowAsAny(r)
	}
	return out
}

func rowAsAny(row map[string]any) any {
	out := make(map[string]any, len(row))
	for k, v := range row {
		out[k] = v
	}
	return out
}

func descend(cur any, segment string) (any, error) {
	if idx, err := strconv.Atoi(segment); err == nil {
		arr, ok := cur.([]any)
		if !ok || idx < 0 || idx >= len(arr) {
			return nil, fmt.Errorf("index %d out of range", idx)
		}
		return arr[idx], nil
	}
	m, ok := cur.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("cannot index into non-object with key %q", segment)
	}
	v, ok := m[segment]
	if !ok {
		keys := make([]string, 0, len(m))
		for k := range m {
			keys = append(keys, k)
		}
		return nil, fmt.Errorf("key %q not found, available keys: %s", segment, strings.Join(keys, ", "))
	}
	return v, nil
}
