package tags

import (
	"fmt"
	"strings"
)

// Type is the data type of a tag.
type Type string

const (
	// TypeBool is a single bit, stored as 0 or 1.
	TypeBool Type = "BOOL"

	// TypeInt is a signed integer register value.
	TypeInt Type = "INT"
)

// ParseType parses a CSV type literal. Matching is case-insensitive.
func ParseType(s string) (Type, error) {
	t := Type(strings.ToUpper(strings.TrimSpace(s)))
	if err := t.Validate(); err != nil {
		return "", err
	}
	return t, nil
}

// Validate checks if the type is valid.
func (t Type) Validate() error {
	switch t {
	case TypeBool, TypeInt:
		return nil
	default:
		return fmt.Errorf("invalid tag type: %q", string(t))
	}
}

// Table is one of the four addressable register spaces.
type Table string

const (
	// TableDiscreteInput holds read-only bits owned by the plant.
	TableDiscreteInput Table = "DI"

	// TableCoil holds bits writable by external actors.
	TableCoil Table = "COIL"

	// TableHoldingRegister holds registers writable by external actors.
	TableHoldingRegister Table = "HR"

	// TableInputRegister holds read-only registers owned by the plant.
	TableInputRegister Table = "IR"
)

// AllTables lists the tables in their canonical order.
var AllTables = []Table{TableDiscreteInput, TableCoil, TableHoldingRegister, TableInputRegister}

// ParseTable parses a CSV table literal. Matching is case-insensitive.
func ParseTable(s string) (Table, error) {
	t := Table(strings.ToUpper(strings.TrimSpace(s)))
	if err := t.Validate(); err != nil {
		return "", err
	}
	return t, nil
}

// Validate checks if the table is valid.
func (t Table) Validate() error {
	switch t {
	case TableDiscreteInput, TableCoil, TableHoldingRegister, TableInputRegister:
		return nil
	default:
		return fmt.Errorf("invalid tag table: %q", string(t))
	}
}

// Writable reports whether external actors may write cells of this table.
func (t Table) Writable() bool {
	return t == TableCoil || t == TableHoldingRegister
}

// Index returns the position of the table in AllTables, or -1.
func (t Table) Index() int {
	for i, at := range AllTables {
		if at == t {
			return i
		}
	}
	return -1
}

// Role is the functional class of a tag.
type Role string

const (
	// RoleSensor marks a plant-observed value.
	RoleSensor Role = "Sensor"

	// RoleActuator marks a value that drives plant equipment.
	RoleActuator Role = "Actuator"

	// RoleCommand marks an operator command.
	RoleCommand Role = "Command"
)

// ParseRole parses a CSV role literal. Matching is case-insensitive.
func ParseRole(s string) (Role, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "sensor":
		return RoleSensor, nil
	case "actuator":
		return RoleActuator, nil
	case "command":
		return RoleCommand, nil
	default:
		return "", fmt.Errorf("invalid tag role: %q", s)
	}
}

// Validate checks if the role is valid.
func (r Role) Validate() error {
	switch r {
	case RoleSensor, RoleActuator, RoleCommand:
		return nil
	default:
		return fmt.Errorf("invalid tag role: %q", string(r))
	}
}

// Naming prefixes that fix a tag's role.
const (
	PrefixSensor   = "SENSOR_"
	PrefixActuator = "ACT_"
	PrefixCommand  = "CMD_"
)

// RoleForName returns the role required by the tag name's prefix. The second
// result is false when the name carries none of the known prefixes.
func RoleForName(name string) (Role, bool) {
	switch {
	case strings.HasPrefix(name, PrefixSensor):
		return RoleSensor, true
	case strings.HasPrefix(name, PrefixActuator):
		return RoleActuator, true
	case strings.HasPrefix(name, PrefixCommand):
		return RoleCommand, true
	default:
		return "", false
	}
}

// Tag is one named, typed, addressable point of the plant. Tags are
// immutable once loaded.
type Tag struct {
	Name        string `json:"name" validate:"required,printascii"`
	Type        Type   `json:"type" validate:"required,oneof=BOOL INT"`
	Table       Table  `json:"table" validate:"required,oneof=DI COIL HR IR"`
	Address     int    `json:"address" validate:"min=0,max=65535"`
	Width       int    `json:"width" validate:"min=1,max=125"`
	Units       string `json:"units,omitempty"`
	Description string `json:"description,omitempty"`
	Role        Role   `json:"role" validate:"required,oneof=Sensor Actuator Command"`
}

// End returns the first address past the tag's register span.
func (t Tag) End() int {
	return t.Address + t.Width
}

// Overlaps reports whether two tags occupy a common cell of the same table.
func (t Tag) Overlaps(o Tag) bool {
	return t.Table == o.Table && t.Address < o.End() && o.Address < t.End()
}

// String returns a compact description used in logs and error messages.
func (t Tag) String() string {
	return fmt.Sprintf("%s(%s %s@%d)", t.Name, t.Type, t.Table, t.Address)
}
