package tags

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for errors.Is checks. The typed errors below match them.
var (
	ErrMissingFile      = errors.New("tag map not found")
	ErrMalformedRow     = errors.New("malformed tag row")
	ErrDuplicateAddress = errors.New("duplicate tag address")
	ErrDuplicateTag     = errors.New("duplicate tag name")
	ErrRolePolicy       = errors.New("role policy violation")
	ErrPolicy           = errors.New("tag policy violation")
)

// MissingFileError reports a tag map source that does not exist.
type MissingFileError struct {
	Path string
}

func (e *MissingFileError) Error() string {
	return fmt.Sprintf("tag map not found: %s", e.Path)
}

// Is matches ErrMissingFile.
func (e *MissingFileError) Is(target error) bool { return target == ErrMissingFile }

// MalformedRowError reports a row that is missing a required field or holds
// a value that cannot be parsed.
type MalformedRowError struct {
	Line   int
	Field  string
	Reason string
}

func (e *MalformedRowError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("line %d: %s", e.Line, e.Reason)
	}
	return fmt.Sprintf("line %d: field %q: %s", e.Line, e.Field, e.Reason)
}

// Is matches ErrMalformedRow.
func (e *MalformedRowError) Is(target error) bool { return target == ErrMalformedRow }

// DuplicateAddressError reports two tags whose register spans collide in the
// same table.
type DuplicateAddressError struct {
	Table    Table
	Address  int
	Tag      string
	Existing string
}

func (e *DuplicateAddressError) Error() string {
	return fmt.Sprintf("tag %s collides with %s at %s address %d", e.Tag, e.Existing, e.Table, e.Address)
}

// Is matches ErrDuplicateAddress.
func (e *DuplicateAddressError) Is(target error) bool { return target == ErrDuplicateAddress }

// DuplicateTagError reports a tag name defined twice.
type DuplicateTagError struct {
	Name string
	Line int
}

func (e *DuplicateTagError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("line %d: tag %s defined more than once", e.Line, e.Name)
	}
	return fmt.Sprintf("tag %s defined more than once", e.Name)
}

// Is matches ErrDuplicateTag.
func (e *DuplicateTagError) Is(target error) bool { return target == ErrDuplicateTag }

// RolePolicyViolation reports a tag whose declared role disagrees with the
// role required by its name prefix. It is always fatal.
type RolePolicyViolation struct {
	Tag      string
	Expected Role
	Got      Role
}

func (e *RolePolicyViolation) Error() string {
	return fmt.Sprintf("tag %s should have role %s but has %s", e.Tag, e.Expected, e.Got)
}

// Is matches ErrRolePolicy.
func (e *RolePolicyViolation) Is(target error) bool { return target == ErrRolePolicy }

// PolicyError collects error-severity policy findings when strict policy
// checking is enabled.
type PolicyError struct {
	Findings []Finding
}

func (e *PolicyError) Error() string {
	msgs := make([]string, 0, len(e.Findings))
	for _, f := range e.Findings {
		msgs = append(msgs, f.String())
	}
	return fmt.Sprintf("%d tag policy violation(s): %s", len(e.Findings), strings.Join(msgs, "; "))
}

// Is matches ErrPolicy.
func (e *PolicyError) Is(target error) bool { return target == ErrPolicy }
