package policy

import (
	"time"

	"github.com/virtuaplant/virtuaplant/pkg/tags"
)

// Severity represents the severity level of a policy finding.
type Severity string

const (
	// SeverityInfo is for informational messages.
	SeverityInfo Severity = "info"

	// SeverityWarning is for findings that should be reviewed.
	SeverityWarning Severity = "warning"

	// SeverityError is for findings that fail a strict load.
	SeverityError Severity = "error"
)

// Policy represents a policy rule with its Rego code.
type Policy struct {
	// Name is the unique name of the policy.
	Name string `json:"name"`

	// Description provides a human-readable description.
	Description string `json:"description"`

	// Rego contains the Rego policy code. The module must define a
	// deny set.
	Rego string `json:"rego"`

	// Severity is the default severity for findings that do not set one.
	Severity Severity `json:"severity"`

	// Enabled indicates if the policy is active.
	Enabled bool `json:"enabled"`

	// Tags are labels for organizing policies.
	Tags []string `json:"tags,omitempty"`

	// Metadata contains additional policy metadata.
	Metadata map[string]interface{} `json:"metadata,omitempty"`

	// CreatedAt is when the policy was created.
	CreatedAt time.Time `json:"created_at"`

	// UpdatedAt is when the policy was last updated.
	UpdatedAt time.Time `json:"updated_at"`
}

// PolicyResult represents the result of evaluating every enabled policy
// against one tag map.
type PolicyResult struct {
	// Allowed is false when any finding has error severity.
	Allowed bool `json:"allowed"`

	// Findings lists every finding, sorted by tag then policy.
	Findings []tags.Finding `json:"findings,omitempty"`

	// Warnings lists policies that could not be evaluated.
	Warnings []string `json:"warnings,omitempty"`

	// EvaluatedAt is when the policy was evaluated.
	EvaluatedAt time.Time `json:"evaluated_at"`

	// EvaluatedPolicies lists the names of policies that were evaluated.
	EvaluatedPolicies []string `json:"evaluated_policies"`

	// Duration is how long the evaluation took.
	Duration time.Duration `json:"duration"`
}

// PolicyInput represents the input document for policy evaluation.
type PolicyInput struct {
	// Tags is the tag map under evaluation.
	Tags []tags.Tag `json:"tags"`

	// Context provides additional evaluation context.
	Context *PolicyContext `json:"context"`
}

// PolicyContext provides context information for policy evaluation.
type PolicyContext struct {
	// Plant is the plant the map belongs to, when known.
	Plant string `json:"plant,omitempty"`

	// Timestamp is when the evaluation is occurring.
	Timestamp time.Time `json:"timestamp"`

	// Operation is the operation being performed (load, validate).
	Operation string `json:"operation,omitempty"`
}

// RoleRule constrains the tags of one role.
type RoleRule struct {
	Prefixes []string `yaml:"prefixes" json:"prefixes"`
	Tables   []string `yaml:"tables" json:"tables" validate:"dive,oneof=DI COIL HR IR"`
}

// Rules is the site policy data, exposed to Rego as data.tagpolicy.
type Rules struct {
	// NamePattern is the regular expression every tag name must match.
	NamePattern string `yaml:"name_pattern" json:"name_pattern" validate:"required"`

	// MaxNameLength caps tag name length.
	MaxNameLength int `yaml:"max_name_length" json:"max_name_length" validate:"min=1"`

	// MaxAddress is the highest register address a tag may occupy.
	MaxAddress int `yaml:"max_address" json:"max_address" validate:"min=0,max=65535"`

	// BoolTables lists the tables that may hold BOOL tags.
	BoolTables []string `yaml:"bool_tables" json:"bool_tables" validate:"dive,oneof=DI COIL HR IR"`

	// IntTables lists the tables that may hold INT tags.
	IntTables []string `yaml:"int_tables" json:"int_tables" validate:"dive,oneof=DI COIL HR IR"`

	// Roles maps a role name to its constraints.
	Roles map[string]RoleRule `yaml:"roles" json:"roles" validate:"dive"`
}

// DefaultRules returns the rules used when no policy file is given. They
// match the shipped policy/tags.yaml.
func DefaultRules() Rules {
	return Rules{
		NamePattern:   "^[A-Z][A-Z0-9_]*$",
		MaxNameLength: 32,
		MaxAddress:    65535,
		BoolTables:    []string{"DI", "COIL"},
		IntTables:     []string{"IR", "HR"},
		Roles: map[string]RoleRule{
			"Sensor":   {Prefixes: []string{"SENSOR_"}, Tables: []string{"DI", "IR"}},
			"Actuator": {Prefixes: []string{"ACT_"}, Tables: []string{"COIL", "HR"}},
			"Command":  {Prefixes: []string{"CMD_"}, Tables: []string{"COIL", "HR"}},
		},
	}
}
