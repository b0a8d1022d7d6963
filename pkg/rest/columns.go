package rest

import (
	"context"
	"strings"

	"github.com/edgeflare/restless/pkg/backend"
)

// serialize renders inst with every direct relation expanded, then applies
// the API's include and exclude lists.
func (a *API) serialize(ctx context.Context, inst *backend.Instance) (map[string]any, error) {
	obj, err := a.backend.ToDict(ctx, inst, backend.DefaultDeep(a.backend, a.model), nil)
	if err != nil {
		return nil, err
	}
	return a.filterColumns(obj), nil
}

func (a *API) filterColumns(obj map[string]any) map[string]any {
	if obj == nil {
		return nil
	}
	if a.include != nil {
		obj = includeColumns(obj, a.include)
	}
	if len(a.exclude) > 0 {
		obj = excludeColumns(obj, a.exclude)
	}
	return obj
}

// splitColumns separates top-level names from dotted ones, which are grouped
// by the relation before the first dot.
func splitColumns(columns []string) (map[string]bool, map[string][]string) {
	top := make(map[string]bool, len(columns))
	nested := map[string][]string{}
	for _, c := range columns {
		if rel, sub, ok := strings.Cut(c, "."); ok {
			nested[rel] = append(nested[rel], sub)
			continue
		}
		top[c] = true
	}
	return top, nested
}

func includeColumns(obj map[string]any, columns []string) map[string]any {
	top, nested := splitColumns(columns)
	out := make(map[string]any, len(top))
	for k, v := range obj {
		if !top[k] {
			continue
		}
		if sub, ok := nested[k]; ok {
			v = eachObject(v, func(o map[string]any) map[string]any { return includeColumns(o, sub) })
		}
		out[k] = v
	}
	return out
}

func excludeColumns(obj map[string]any, columns []string) map[string]any {
	top, nested := splitColumns(columns)
	out := make(map[string]any, len(obj))
	for k, v := range obj {
		if top[k] {
			continue
		}
		if sub, ok := nested[k]; ok {
			v = eachObject(v, func(o map[string]any) map[string]any { return excludeColumns(o, sub) })
		}
		out[k] = v
	}
	return out
}

// eachObject applies fn to a related object or to every object of a related list.
func eachObject(v any, fn func(map[string]any) map[string]any) any {
	switch t := v.(type) {
	case map[string]any:
		return fn(t)
	case []map[string]any:
		out := make([]map[string]any, len(t))
		for i, o := range t {
			out[i] = fn(o)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, o := range t {
			if m, ok := o.(map[string]any); ok {
				out[i] = fn(m)
			} else {
				out[i] = o
			}
		}
		return out
	}
	return v
}
