package param

import (
	"fmt"
	"maps"
	"slices"
	"strings"
)

// Params maps a parameter name to its value.
type Params map[string]Value

// Delta is one parameter that differs between two mappings.
// A side that lacks the parameter has its Has flag cleared.
type Delta struct {
	Name     string
	Left     Value
	Right    Value
	HasLeft  bool
	HasRight bool
}

func (d Delta) String() string {
	side := func(v Value, ok bool) string {
		if !ok {
			return "<absent>"
		}
		return v.String()
	}
	return fmt.Sprintf("%s: %s != %s", d.Name, side(d.Left, d.HasLeft), side(d.Right, d.HasRight))
}

// Names returns the parameter names in sorted order.
func (p Params) Names() []string {
	return slices.Sorted(maps.Keys(p))
}

// Clone copies the mapping. List payloads are copied as well.
func (p Params) Clone() Params {
	if p == nil {
		return nil
	}
	out := make(Params, len(p))
	for k, v := range p {
		v.List = slices.Clone(v.List)
		out[k] = v
	}
	return out
}

// Equal reports whether both mappings hold the same names with equal values.
func (p Params) Equal(o Params) bool {
	if len(p) != len(o) {
		return false
	}
	for k, v := range p {
		ov, ok := o[k]
		if !ok || !v.Equal(ov) {
			return false
		}
	}
	return true
}

// Diff lists every parameter that is absent on one side or unequal, sorted by name.
func (p Params) Diff(o Params) []Delta {
	var out []Delta
	for k, v := range p {
		ov, ok := o[k]
		if ok && v.Equal(ov) {
			continue
		}
		out = append(out, Delta{Name: k, Left: v, Right: ov, HasLeft: true, HasRight: ok})
	}
	for k, ov := range o {
		if _, ok := p[k]; !ok {
			out = append(out, Delta{Name: k, Right: ov, HasRight: true})
		}
	}
	slices.SortFunc(out, func(a, b Delta) int { return strings.Compare(a.Name, b.Name) })
	return out
}

// SubsetOf reports whether every entry of p appears with an equal value in o.
func (p Params) SubsetOf(o Params) bool {
	for k, v := range p {
		ov, ok := o[k]
		if !ok || !v.Equal(ov) {
			return false
		}
	}
	return true
}

// Intersect keeps the entries present with equal values in both mappings.
func (p Params) Intersect(o Params) Params {
	out := make(Params)
	for k, v := range p {
		if ov, ok := o[k]; ok && v.Equal(ov) {
			out[k] = v
		}
	}
	return out
}

// Filter keeps only the names in allow. An empty allow-list keeps everything.
// Names in allow that p lacks are not invented.
func (p Params) Filter(allow []string) Params {
	if len(allow) == 0 {
		return p.Clone()
	}
	out := make(Params, len(allow))
	for _, name := range allow {
		if v, ok := p[name]; ok {
			v.List = slices.Clone(v.List)
			out[name] = v
		}
	}
	return out
}
