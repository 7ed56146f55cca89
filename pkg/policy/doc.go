// Package policy provides Open Policy Agent (OPA) integration for tag maps.
//
// A tag map that loads cleanly can still break site conventions: a sensor
// placed in a holding register, a BOOL spanning several registers, a name
// that does not match the naming pattern. This package evaluates Rego
// policies over the whole map and reports each problem as a tags.Finding.
//
// # Architecture
//
//  1. Engine - Compiles and evaluates Rego policies, implements tags.PolicyChecker
//  2. Loader - Loads extra policies from .rego/.json files and rules from YAML
//  3. Rules - Site data exposed to every policy as data.tagpolicy
//  4. Built-in Policies - tag-naming, tag-types and tag-tables
//
// # Usage
//
//	eng, err := policy.NewEngine(logger)
//	if err != nil {
//	    return err
//	}
//	if err := eng.LoadRulesFile(ctx, "policy/tags.yaml"); err != nil {
//	    return err
//	}
//	reg, report, err := tags.Load(ctx, "maps/bottle/modbus_map.csv",
//	    tags.WithPolicy(eng), tags.WithStrictPolicy())
//
// # Writing policies
//
// Each module must define a deny set. Entries are either strings or objects
// with message, severity and tag keys:
//
//	package site.sensors
//
//	import rego.v1
//
//	deny contains v if {
//	    some tag in input.tags
//	    tag.role == "Sensor"
//	    tag.units == ""
//	    v := {"tag": tag.name, "message": "sensor has no units", "severity": "info"}
//	}
//
// The input document is {"tags": [...], "context": {...}} where each tag
// carries name, type, table, address, width, units and role.
package policy
