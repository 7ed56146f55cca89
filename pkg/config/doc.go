// Package config loads plantsim configuration: CUE simulation files and
// Starlark scenario scripts.
//
// # Simulation files
//
// A simulation file is CUE. Its settings live under a top-level simulation
// field, or at the top level when that field is absent, and are unified with
// the built-in #Simulation schema, which supplies defaults:
//
//	simulation: {
//	    plant: "bottle"
//	    map:   "../maps/bottle/modbus_map.csv"
//	    loop: speedup: 4
//	    bottle: fill_rate: 0.2
//	    store: path: "plantsim.db"
//	}
//
// Relative paths are resolved against the directory of the file. Schema
// violations come back as a *ConfigError carrying one ValidationError per
// CUE error, with file positions where CUE has them. Every ConfigError
// matches ErrInvalidConfig.
//
// # Scenario scripts
//
// Scenario scripts are Starlark files (*.star) that declare attack
// scenarios with the attack() and scenario() builtins. ScriptLoader
// evaluates them, checks each declaration against the #Scenario schema and
// converts it to an attack.Scenario. ScenarioWatcher reloads a directory of
// scripts on change and keeps the last good catalog when a script breaks.
//
// StarlarkEvaluator runs scripts with a wall-clock timeout and a step
// limit. Scripts have no filesystem or network access, and print() goes to
// the debug log.
package config
