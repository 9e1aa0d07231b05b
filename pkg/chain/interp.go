package chain

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/frontier-framework/fmf/pkg/errdefs"
)

// Interpolation grammar is deliberately closed: dotted paths, a `*`
// fold over lists, and join(expr, "sep"). Anything else is rejected.

// ResolveExpr resolves one input expression. A string that is exactly
// "${...}" yields the underlying value; otherwise every embedded
// "${...}" is substituted as text.
func ResolveExpr(expr string, ctx map[string]any) (any, error) {
	trimmed := strings.TrimSpace(expr)
	if strings.HasPrefix(trimmed, "${") && strings.HasSuffix(trimmed, "}") && strings.Count(trimmed, "${") == 1 {
		return evalExpr(trimmed[2:len(trimmed)-1], ctx)
	}

	var out strings.Builder
	rest := expr
	for {
		start := strings.Index(rest, "${")
		if start < 0 {
			out.WriteString(rest)
			return out.String(), nil
		}
		end := strings.Index(rest[start:], "}")
		if end < 0 {
			out.WriteString(rest)
			return out.String(), nil
		}
		out.WriteString(rest[:start])
		value, err := evalExpr(rest[start+2:start+end], ctx)
		if err != nil {
			return nil, err
		}
		out.WriteString(Stringify(value))
		rest = rest[start+end+1:]
	}
}

func evalExpr(expr string, ctx map[string]any) (any, error) {
	expr = strings.TrimSpace(expr)
	if strings.HasPrefix(expr, "join(") && strings.HasSuffix(expr, ")") {
		return evalJoin(expr[len("join("):len(expr)-1], ctx)
	}
	return evalPath(expr, ctx)
}

// evalJoin splits off the separator argument: a quoted trailing
// argument is matched by its quotes, otherwise the LAST comma splits,
// so the inner expression may itself contain commas.
func evalJoin(args string, ctx map[string]any) (any, error) {
	args = strings.TrimSpace(args)

	var inner, sep string
	if strings.HasSuffix(args, `"`) || strings.HasSuffix(args, "'") {
		quote := args[len(args)-1]
		open := strings.LastIndexByte(args[:len(args)-1], quote)
		if open < 0 {
			return nil, errdefs.Config("unbalanced quotes in join separator")
		}
		sep = args[open+1 : len(args)-1]
		before := strings.TrimSpace(args[:open])
		if !strings.HasSuffix(before, ",") {
			return nil, errdefs.Config("join requires two arguments: join(expr, \"sep\")")
		}
		inner = strings.TrimSpace(strings.TrimSuffix(before, ","))
	} else {
		cut := strings.LastIndex(args, ",")
		if cut < 0 {
			return nil, errdefs.Config("join requires two arguments: join(expr, \"sep\")")
		}
		inner = strings.TrimSpace(args[:cut])
		sep = strings.Trim(strings.TrimSpace(args[cut+1:]), `"'`)
	}

	value, err := evalExpr(inner, ctx)
	if err != nil {
		return nil, err
	}

	var items []string
	switch v := value.(type) {
	case []string:
		items = v
	case []any:
		for _, item := range v {
			items = append(items, Stringify(item))
		}
	case string:
		items = strings.Split(v, "\n")
	case nil:
	default:
		return nil, errdefs.Config("join argument must be a list or string, got %T", value)
	}
	return joinWithCaps(items, sep), nil
}

func evalPath(path string, ctx map[string]any) (any, error) {
	segments := strings.Split(path, ".")
	var current any = ctx
	for i, seg := range segments {
		seg = strings.TrimSpace(seg)
		if seg == "" {
			return nil, errdefs.Config("empty segment in expression %q", path)
		}
		if seg == "*" {
			list, ok := asList(current)
			if !ok {
				return nil, errdefs.Config("cannot fold %q: value at %s is not a list", path, strings.Join(segments[:i], "."))
			}
			rest := strings.Join(segments[i+1:], ".")
			if rest == "" {
				return list, nil
			}
			folded := make([]any, 0, len(list))
			for _, item := range list {
				sub, err := evalPath(rest, toMap(item))
				if err != nil {
					return nil, err
				}
				folded = append(folded, sub)
			}
			return folded, nil
		}

		switch node := current.(type) {
		case map[string]any:
			value, ok := node[seg]
			if !ok {
				return nil, errdefs.Config("unknown reference %q (no %q)", path, seg)
			}
			current = value
		case []any:
			idx, err := strconv.Atoi(seg)
			if err != nil || idx < 0 || idx >= len(node) {
				return nil, errdefs.Config("cannot index list with %q in %q", seg, path)
			}
			current = node[idx]
		default:
			return nil, errdefs.Config("cannot descend into %T at %q in %q", current, seg, path)
		}
	}
	return current, nil
}

func asList(value any) ([]any, bool) {
	switch v := value.(type) {
	case []any:
		return v, true
	case []string:
		out := make([]any, len(v))
		for i, s := range v {
			out[i] = s
		}
		return out, true
	default:
		return nil, false
	}
}

func toMap(value any) map[string]any {
	if m, ok := value.(map[string]any); ok {
		return m
	}
	return map[string]any{}
}

// Stringify renders a resolved value for text substitution. Lists
// auto-join with newlines, subject to the aggregation caps.
func Stringify(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case []string:
		return joinWithCaps(v, "\n")
	case []any:
		items := make([]string, len(v))
		for i, item := range v {
			items[i] = Stringify(item)
		}
		return joinWithCaps(items, "\n")
	case map[string]any:
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(data)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int:
		return strconv.Itoa(v)
	case bool:
		return strconv.FormatBool(v)
	default:
		return fmt.Sprintf("%v", v)
	}
}

// joinWithCaps applies FMF_JOIN_MAX_ITEMS and FMF_JOIN_MAX_CHARS so a
// runaway aggregation cannot blow up a prompt.
func joinWithCaps(items []string, sep string) string {
	if max := envInt("FMF_JOIN_MAX_ITEMS"); max > 0 && len(items) > max {
		dropped := len(items) - max
		items = append(append([]string{}, items[:max]...), fmt.Sprintf("… [+%d more]", dropped))
	}
	joined := strings.Join(items, sep)
	if max := envInt("FMF_JOIN_MAX_CHARS"); max > 0 && len(joined) > max {
		joined = joined[:max] + "\n… [truncated]"
	}
	return joined
}

func envInt(name string) int {
	raw := os.Getenv(name)
	if raw == "" {
		return 0
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0
	}
	return n
}
