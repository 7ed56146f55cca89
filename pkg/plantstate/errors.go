package plantstate

import (
	"errors"
	"fmt"

	"github.com/virtuaplant/virtuaplant/pkg/tags"
)

// Sentinel errors matched by the typed errors through errors.Is.
var (
	ErrUnknownTag   = errors.New("unknown tag")
	ErrReadOnly     = errors.New("read-only tag")
	ErrTypeMismatch = errors.New("value type mismatch")
	ErrOutOfRange   = errors.New("address out of range")
	ErrUnknownTable = errors.New("unknown table")
)

// UnknownTagError is returned for a tag name the registry does not know.
type UnknownTagError struct {
	Name string
}

func (e *UnknownTagError) Error() string {
	return fmt.Sprintf("unknown tag: %s", e.Name)
}

// Is matches ErrUnknownTag.
func (e *UnknownTagError) Is(target error) bool { return target == ErrUnknownTag }

// ReadOnlyTableError is returned by Write for tags owned by the plant:
// anything in a discrete-input or input-register table, and any Sensor.
type ReadOnlyTableError struct {
	Name  string
	Table tags.Table
	Role  tags.Role
}

func (e *ReadOnlyTableError) Error() string {
	if e.Table.Writable() {
		return fmt.Sprintf("cannot write %s: %s tags are plant-owned", e.Name, e.Role)
	}
	return fmt.Sprintf("cannot write %s: table %s is read-only", e.Name, e.Table)
}

// Is matches ErrReadOnly.
func (e *ReadOnlyTableError) Is(target error) bool { return target == ErrReadOnly }

// TypeMismatchError is returned when a value cannot be stored in a tag.
type TypeMismatchError struct {
	Name  string
	Type  tags.Type
	Value tags.Value
}

func (e *TypeMismatchError) Error() string {
	return fmt.Sprintf("cannot store %T(%v) in %s tag %s", e.Value, e.Value, e.Type, e.Name)
}

// Is matches ErrTypeMismatch.
func (e *TypeMismatchError) Is(target error) bool { return target == ErrTypeMismatch }

// OutOfRangeError is returned by the raw cell accessors.
type OutOfRangeError struct {
	Table   tags.Table
	Address int
	Count   int
	Size    int
}

func (e *OutOfRangeError) Error() string {
	return fmt.Sprintf("%s[%d:%d] out of range (size %d)", e.Table, e.Address, e.Address+e.Count, e.Size)
}

// Is matches ErrOutOfRange.
func (e *OutOfRangeError) Is(target error) bool { return target == ErrOutOfRange }
