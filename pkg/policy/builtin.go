package policy

import (
	"time"
)

// GetBuiltinPolicies returns all built-in policies.
func GetBuiltinPolicies() []Policy {
	return []Policy{
		tagNamingPolicy(),
		tagTypesPolicy(),
		tagTablesPolicy(),
	}
}

// tagNamingPolicy enforces the site naming convention and role prefixes.
func tagNamingPolicy() Policy {
	return Policy{
		Name:        "tag-naming",
		Description: "Enforces tag naming conventions (pattern, length, role prefix)",
		Severity:    SeverityError,
		Enabled:     true,
		Tags:        []string{"naming", "conventions"},
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		Rego: `package plantsim.policies.naming

import rego.v1

# Tag names must match the site pattern
deny contains violation if {
	some tag in input.tags
	not regex.match(data.tagpolicy.name_pattern, tag.name)
	violation := {
		"tag": tag.name,
		"message": sprintf("tag name '%s' must match %s", [tag.name, data.tagpolicy.name_pattern]),
		"severity": "error",
	}
}

deny contains violation if {
	some tag in input.tags
	count(tag.name) > data.tagpolicy.max_name_length
	violation := {
		"tag": tag.name,
		"message": sprintf("tag name '%s' is longer than %d characters", [tag.name, data.tagpolicy.max_name_length]),
		"severity": "warning",
	}
}

deny contains violation if {
	some tag in input.tags
	rule := data.tagpolicy.roles[tag.role]
	count(rule.prefixes) > 0
	not has_prefix(tag.name, rule.prefixes)
	violation := {
		"tag": tag.name,
		"message": sprintf("%s tag '%s' must start with one of %v", [tag.role, tag.name, rule.prefixes]),
		"severity": "error",
	}
}

has_prefix(name, prefixes) if {
	some prefix in prefixes
	startswith(name, prefix)
}
`,
	}
}

// tagTypesPolicy restricts which tables each data type may live in.
func tagTypesPolicy() Policy {
	return Policy{
		Name:        "tag-types",
		Description: "Restricts BOOL tags to bit tables and INT tags to register tables",
		Severity:    SeverityError,
		Enabled:     true,
		Tags:        []string{"types"},
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		Rego: `package plantsim.policies.types

import rego.v1

deny contains violation if {
	some tag in input.tags
	tag.type == "BOOL"
	not tag.table in data.tagpolicy.bool_tables
	violation := {
		"tag": tag.name,
		"message": sprintf("BOOL tag '%s' cannot live in table %s", [tag.name, tag.table]),
		"severity": "error",
	}
}

deny contains violation if {
	some tag in input.tags
	tag.type == "INT"
	not tag.table in data.tagpolicy.int_tables
	violation := {
		"tag": tag.name,
		"message": sprintf("INT tag '%s' cannot live in table %s", [tag.name, tag.table]),
		"severity": "error",
	}
}

# Multi-register spans only make sense for integers
deny contains violation if {
	some tag in input.tags
	tag.type == "BOOL"
	tag.width > 1
	violation := {
		"tag": tag.name,
		"message": sprintf("BOOL tag '%s' has width %d", [tag.name, tag.width]),
		"severity": "warning",
	}
}
`,
	}
}

// tagTablesPolicy checks each role's allowed tables and the address range.
func tagTablesPolicy() Policy {
	return Policy{
		Name:        "tag-tables",
		Description: "Checks role to table placement and the register address range",
		Severity:    SeverityError,
		Enabled:     true,
		Tags:        []string{"tables", "addressing"},
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		Rego: `package plantsim.policies.tables

import rego.v1

deny contains violation if {
	some tag in input.tags
	rule := data.tagpolicy.roles[tag.role]
	count(rule.tables) > 0
	not tag.table in rule.tables
	violation := {
		"tag": tag.name,
		"message": sprintf("%s tag '%s' must live in one of %v, not %s", [tag.role, tag.name, rule.tables, tag.table]),
		"severity": "error",
	}
}

deny contains violation if {
	some tag in input.tags
	last := (tag.address + tag.width) - 1
	last > data.tagpolicy.max_address
	violation := {
		"tag": tag.name,
		"message": sprintf("tag '%s' ends at address %d, past %d", [tag.name, last, data.tagpolicy.max_address]),
		"severity": "error",
	}
}

deny contains violation if {
	some tag in input.tags
	not data.tagpolicy.roles[tag.role]
	violation := {
		"tag": tag.name,
		"message": sprintf("role %s of tag '%s' has no site rule", [tag.role, tag.name]),
		"severity": "info",
	}
}
`,
	}
}
