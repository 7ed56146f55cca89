package tags

import (
	"sort"
)

// Registry is the read-only catalog of a plant's tags, keyed by name.
// It is built once at startup and is safe for concurrent reads.
type Registry struct {
	byName map[string]Tag
	sorted []Tag
}

// NewRegistry builds a registry from tags. It rejects duplicate names,
// overlapping register spans and role-by-prefix violations, in that order.
func NewRegistry(list []Tag) (*Registry, error) {
	r := &Registry{
		byName: make(map[string]Tag, len(list)),
		sorted: make([]Tag, 0, len(list)),
	}

	cells := make(map[Table]map[int]string)
	for _, t := range list {
		if _, ok := r.byName[t.Name]; ok {
			return nil, &DuplicateTagError{Name: t.Name}
		}
		if t.Width < 1 {
			t.Width = 1
		}
		used := cells[t.Table]
		if used == nil {
			used = make(map[int]string)
			cells[t.Table] = used
		}
		for a := t.Address; a < t.End(); a++ {
			if owner, ok := used[a]; ok {
				return nil, &DuplicateAddressError{Table: t.Table, Address: a, Tag: t.Name, Existing: owner}
			}
		}
		for a := t.Address; a < t.End(); a++ {
			used[a] = t.Name
		}
		r.byName[t.Name] = t
		r.sorted = append(r.sorted, t)
	}

	if err := CheckRoles(r.sorted); err != nil {
		return nil, err
	}

	sort.SliceStable(r.sorted, func(i, j int) bool {
		a, b := r.sorted[i], r.sorted[j]
		if a.Table != b.Table {
			return a.Table.Index() < b.Table.Index()
		}
		return a.Address < b.Address
	})
	return r, nil
}

// CheckRoles verifies that every tag with a SENSOR_, ACT_ or CMD_ prefix
// declares the matching role. Tags without a known prefix are unconstrained.
func CheckRoles(list []Tag) error {
	for _, t := range list {
		want, ok := RoleForName(t.Name)
		if ok && t.Role != want {
			return &RolePolicyViolation{Tag: t.Name, Expected: want, Got: t.Role}
		}
	}
	return nil
}

// Get returns the tag with the given name.
func (r *Registry) Get(name string) (Tag, bool) {
	t, ok := r.byName[name]
	return t, ok
}

// Has reports whether name is registered.
func (r *Registry) Has(name string) bool {
	_, ok := r.byName[name]
	return ok
}

// Len returns the number of registered tags.
func (r *Registry) Len() int {
	return len(r.sorted)
}

// Tags returns all tags ordered by table and address.
func (r *Registry) Tags() []Tag {
	out := make([]Tag, len(r.sorted))
	copy(out, r.sorted)
	return out
}

// Names returns all tag names in lexical order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.byName))
	for n := range r.byName {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// ByRole returns the tags with the given role, ordered by table and address.
func (r *Registry) ByRole(role Role) []Tag {
	var out []Tag
	for _, t := range r.sorted {
		if t.Role == role {
			out = append(out, t)
		}
	}
	return out
}

// Extent returns one past the highest cell used in table, or 0 when the
// table has no tags.
func (r *Registry) Extent(table Table) int {
	ext := 0
	for _, t := range r.sorted {
		if t.Table == table && t.End() > ext {
			ext = t.End()
		}
	}
	return ext
}
