package plantstate

import (
	"github.com/virtuaplant/virtuaplant/pkg/tags"
)

// ReadCells returns count raw cells of a table starting at addr. It serves
// protocol servers that address the register space directly.
func (s *Store) ReadCells(t tags.Table, addr, count int) ([]int64, error) {
	tbl, err := s.span(t, addr, count)
	if err != nil {
		return nil, err
	}
	out := make([]int64, count)

	tbl.mu.RLock()
	copy(out, tbl.cells[addr:addr+count])
	tbl.mu.RUnlock()
	return out, nil
}

// WriteCells overwrites raw cells of a writable table starting at addr. Bits
// are normalised to 0/1 for the coil table.
func (s *Store) WriteCells(t tags.Table, addr int, values []int64) error {
	if !t.Writable() {
		return &ReadOnlyTableError{Name: "raw", Table: t}
	}
	tbl, err := s.span(t, addr, len(values))
	if err != nil {
		return err
	}

	tbl.mu.Lock()
	defer tbl.mu.Unlock()
	for i, v := range values {
		if t == tags.TableCoil && v != 0 {
			v = 1
		}
		tbl.cells[addr+i] = v
	}
	return nil
}

func (s *Store) span(t tags.Table, addr, count int) (*table, error) {
	tbl, ok := s.tables[t]
	if !ok {
		return nil, ErrUnknownTable
	}
	if addr < 0 || count < 0 || addr+count > len(tbl.cells) {
		return nil, &OutOfRangeError{Table: t, Address: addr, Count: count, Size: len(tbl.cells)}
	}
	return tbl, nil
}
