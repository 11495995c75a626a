package model_selection

import (
	"sort"

	"github.com/YuminosukeSato/boxoffice/core/model"
)

// ParamGrid maps a parameter name to the values to try.
type ParamGrid map[string][]interface{}

// Names returns the parameter names in enumeration order.
func (g ParamGrid) Names() []string {
	names := make([]string, 0, len(g))
	for name := range g {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of candidates in the cross product.
func (g ParamGrid) Len() int {
	if len(g) == 0 {
		return 0
	}
	n := 1
	for _, values := range g {
		n *= len(values)
	}
	return n
}

// Candidates enumerates the cross product. Names are taken in sorted order
// and the last name varies fastest, so candidate indices are stable.
func (g ParamGrid) Candidates() []model.Params {
	total := g.Len()
	if total == 0 {
		return nil
	}
	names := g.Names()
	out := make([]model.Params, total)
	for c := 0; c < total; c++ {
		p := make(model.Params, len(names))
		rem := c
		for k := len(names) - 1; k >= 0; k-- {
			values := g[names[k]]
			p[names[k]] = values[rem%len(values)]
			rem /= len(values)
		}
		out[c] = p
	}
	return out
}
