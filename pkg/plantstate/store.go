package plantstate

import (
	"sync"

	"github.com/virtuaplant/virtuaplant/pkg/tags"
)

// MinTableSize is the minimum number of cells allocated per table.
const MinTableSize = 100

// table is one register space. Cells hold raw values: 0/1 for bits and
// 16-bit words for multi-register spans.
type table struct {
	mu    sync.RWMutex
	cells []int64
}

// Store is the live register space of a plant.
type Store struct {
	reg    *tags.Registry
	tables map[tags.Table]*table
}

// Option configures a Store.
type Option func(*storeOptions)

type storeOptions struct {
	minSize int
}

// WithMinTableSize overrides MinTableSize.
func WithMinTableSize(n int) Option {
	return func(o *storeOptions) { o.minSize = n }
}

// New creates a zeroed store addressed by reg. Every table is large enough to
// hold the highest address the registry uses.
func New(reg *tags.Registry, opts ...Option) *Store {
	o := storeOptions{minSize: MinTableSize}
	for _, opt := range opts {
		opt(&o)
	}

	s := &Store{
		reg:    reg,
		tables: make(map[tags.Table]*table, len(tags.AllTables)),
	}
	for _, t := range tags.AllTables {
		size := o.minSize
		if ext := reg.Extent(t); ext > size {
			size = ext
		}
		s.tables[t] = &table{cells: make([]int64, size)}
	}
	return s
}

// Registry returns the registry the store is addressed by.
func (s *Store) Registry() *tags.Registry {
	return s.reg
}

// Size returns the number of cells in a table.
func (s *Store) Size(t tags.Table) int {
	tbl, ok := s.tables[t]
	if !ok {
		return 0
	}
	return len(tbl.cells)
}

// Read returns the current value of a tag.
func (s *Store) Read(name string) (tags.Value, error) {
	tag, ok := s.reg.Get(name)
	if !ok {
		return nil, &UnknownTagError{Name: name}
	}
	tbl := s.tables[tag.Table]

	tbl.mu.RLock()
	v := s.load(tbl, tag)
	tbl.mu.RUnlock()
	return v, nil
}

// Write stores v in a tag on behalf of an external actor. Only Coil and
// HoldingRegister tags that are not Sensors may be written this way.
func (s *Store) Write(name string, v tags.Value) error {
	tag, ok := s.reg.Get(name)
	if !ok {
		return &UnknownTagError{Name: name}
	}
	if !tag.Table.Writable() || tag.Role == tags.RoleSensor {
		return &ReadOnlyTableError{Name: name, Table: tag.Table, Role: tag.Role}
	}
	return s.put(tag, v)
}

// UpdateSensors writes a batch of values without the writability checks of
// Write. It is the path physics engines and attack workers use to drive
// plant-owned cells. Names are resolved before anything is written, so a
// batch holding an unknown name or a mistyped value changes nothing.
func (s *Store) UpdateSensors(values map[string]tags.Value) error {
	resolved := make([]tags.Tag, 0, len(values))
	for name, v := range values {
		tag, ok := s.reg.Get(name)
		if !ok {
			return &UnknownTagError{Name: name}
		}
		if _, err := tags.Encode(tag.Type, v); err != nil {
			return &TypeMismatchError{Name: name, Type: tag.Type, Value: v}
		}
		resolved = append(resolved, tag)
	}
	for _, tag := range resolved {
		if err := s.put(tag, values[tag.Name]); err != nil {
			return err
		}
	}
	return nil
}

// ReadActuators returns the value of every Actuator tag.
func (s *Store) ReadActuators() map[string]tags.Value {
	return s.ReadRole(tags.RoleActuator)
}

// ReadRole returns the value of every tag with the given role.
func (s *Store) ReadRole(role tags.Role) map[string]tags.Value {
	return s.collect(s.reg.ByRole(role))
}

// Snapshot returns the value of every registered tag.
func (s *Store) Snapshot() map[string]tags.Value {
	return s.collect(s.reg.Tags())
}

func (s *Store) collect(list []tags.Tag) map[string]tags.Value {
	out := make(map[string]tags.Value, len(list))
	for _, tag := range list {
		tbl := s.tables[tag.Table]
		tbl.mu.RLock()
		out[tag.Name] = s.load(tbl, tag)
		tbl.mu.RUnlock()
	}
	return out
}

func (s *Store) put(tag tags.Tag, v tags.Value) error {
	raw, err := tags.Encode(tag.Type, v)
	if err != nil {
		return &TypeMismatchError{Name: tag.Name, Type: tag.Type, Value: v}
	}
	tbl := s.tables[tag.Table]

	tbl.mu.Lock()
	defer tbl.mu.Unlock()
	if tag.Type == tags.TypeBool || tag.Width == 1 {
		tbl.cells[tag.Address] = raw
		return nil
	}
	copy(tbl.cells[tag.Address:tag.End()], splitWords(raw, tag.Width))
	return nil
}

// load must be called with tbl's lock held.
func (s *Store) load(tbl *table, tag tags.Tag) tags.Value {
	if tag.Type == tags.TypeBool || tag.Width == 1 {
		return tags.Decode(tag.Type, tbl.cells[tag.Address])
	}
	return tags.Decode(tag.Type, joinWords(tbl.cells[tag.Address:tag.End()]))
}

// splitWords encodes v big-endian into n 16-bit words.
func splitWords(v int64, n int) []int64 {
	out := make([]int64, n)
	for i := 0; i < n; i++ {
		shift := uint(16 * (n - 1 - i))
		if shift >= 64 {
			if v < 0 {
				out[i] = 0xFFFF
			}
			continue
		}
		out[i] = (v >> shift) & 0xFFFF
	}
	return out
}

// joinWords decodes big-endian 16-bit words into a sign-extended integer.
func joinWords(words []int64) int64 {
	var u uint64
	for _, w := range words {
		u = u<<16 | uint64(w&0xFFFF)
	}
	bits := 16 * len(words)
	if bits >= 64 {
		return int64(u)
	}
	shift := uint(64 - bits)
	return int64(u<<shift) >> shift
}
