package explang

import "sort"

// Scope is one link of the argument chain. Inner scopes shadow outer ones.
// A Scope is never modified after creation, so a parent stays intact when a
// child is dropped.
type Scope struct {
	parent *Scope
	vars   map[string]any
}

// NewScope creates the root scope for one render call.
func NewScope(vars map[string]any) *Scope {
	if vars == nil {
		vars = map[string]any{}
	}

	return &Scope{vars: vars}
}

// Push returns a child scope binding a single name.
func (s *Scope) Push(name string, value any) *Scope {
	return &Scope{parent: s, vars: map[string]any{name: value}}
}

// PushAll returns a child scope binding every entry of vars.
func (s *Scope) PushAll(vars map[string]any) *Scope {
	return &Scope{parent: s, vars: vars}
}

// Parent returns the enclosing scope, or nil for the root.
func (s *Scope) Parent() *Scope {
	return s.parent
}

// Lookup walks outward until name is found.
func (s *Scope) Lookup(name string) (any, bool) {
	for cur := s; cur != nil; cur = cur.parent {
		if value, ok := cur.vars[name]; ok {
			return value, true
		}
	}

	return nil, false
}

// Has reports whether name is visible from this scope.
func (s *Scope) Has(name string) bool {
	_, ok := s.Lookup(name)
	return ok
}

// Flatten returns every visible binding with shadowing applied.
func (s *Scope) Flatten() map[string]any {
	result := make(map[string]any)

	for cur := s; cur != nil; cur = cur.parent {
		for name, value := range cur.vars {
			if _, shadowed := result[name]; !shadowed {
				result[name] = value
			}
		}
	}

	return result
}

// Names returns the visible names in sorted order.
func (s *Scope) Names() []string {
	flat := s.Flatten()

	names := make([]string, 0, len(flat))
	for name := range flat {
		names = append(names, name)
	}

	sort.Strings(names)

	return names
}
