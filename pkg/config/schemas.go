package config

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
)

// SchemaRegistry manages CUE schemas for validation. Each registered
// schema source declares one definition, which is what gets stored.
type SchemaRegistry struct {
	ctx     *cue.Context
	schemas map[string]cue.Value
	mu      sync.RWMutex
}

// NewSchemaRegistry creates a new schema registry with built-in schemas.
func NewSchemaRegistry() *SchemaRegistry {
	sr := &SchemaRegistry{
		ctx:     cuecontext.New(),
		schemas: make(map[string]cue.Value),
	}

	sr.registerBuiltInSchemas()

	return sr
}

// registerBuiltInSchemas registers all built-in schemas.
func (sr *SchemaRegistry) registerBuiltInSchemas() {
	for name, src := range map[string]string{
		"simulation": builtinSimulationSchema,
		"scenario":   builtinScenarioSchema,
	} {
		if err := sr.RegisterSchema(name, src); err != nil {
			panic(fmt.Sprintf("built-in schema %s: %v", name, err))
		}
	}
}

// Context returns the CUE context schemas are compiled in. Values unified
// with a schema must come from the same context.
func (sr *SchemaRegistry) Context() *cue.Context {
	return sr.ctx
}

// RegisterSchema compiles schema and registers its single definition
// under name.
func (sr *SchemaRegistry) RegisterSchema(name, schema string) error {
	sr.mu.Lock()
	defer sr.mu.Unlock()

	val := sr.ctx.CompileString(schema, cue.Filename(name+".cue"))
	if err := val.Err(); err != nil {
		return fmt.Errorf("failed to compile schema %s: %w", name, err)
	}

	iter, err := val.Fields(cue.Definitions(true))
	if err != nil {
		return fmt.Errorf("failed to read schema %s: %w", name, err)
	}
	var defs []cue.Value
	for iter.Next() {
		if iter.Selector().IsDefinition() {
			defs = append(defs, iter.Value())
		}
	}
	if len(defs) != 1 {
		return fmt.Errorf("schema %s must declare exactly one definition, found %d", name, len(defs))
	}

	sr.schemas[name] = defs[0]
	return nil
}

// GetSchema retrieves a schema by name.
func (sr *SchemaRegistry) GetSchema(name string) (cue.Value, bool) {
	sr.mu.RLock()
	defer sr.mu.RUnlock()

	val, ok := sr.schemas[name]
	return val, ok
}

// ValidateAgainstSchema validates data against a named schema.
func (sr *SchemaRegistry) ValidateAgainstSchema(ctx context.Context, schemaName string, data interface{}) error {
	schema, ok := sr.GetSchema(schemaName)
	if !ok {
		return fmt.Errorf("schema %s not found", schemaName)
	}

	dataVal := sr.ctx.Encode(data)
	if err := dataVal.Err(); err != nil {
		return fmt.Errorf("failed to encode data: %w", err)
	}

	// Unify with schema (validates)
	unified := schema.Unify(dataVal)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	return nil
}

// ListSchemas returns all registered schema names in sorted order.
func (sr *SchemaRegistry) ListSchemas() []string {
	sr.mu.RLock()
	defer sr.mu.RUnlock()

	names := make([]string, 0, len(sr.schemas))
	for name := range sr.schemas {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Built-in schema definitions

const builtinSimulationSchema = `
// Simulation schema for plantsim configuration files
#Simulation: {
	// Plant selects the physics engine
	plant: "bottle" | "refinery"

	// Map is the tag map CSV
	map: string & !=""

	// Reference is the optional cross-PLC reference model
	reference?: string

	loop: {
		dt:                *0.02 | number & >0
		speedup:           *1.0 | number & >0
		status_interval:   *5 | number & >=0
		snapshot_interval: *0 | number & >=0
	}

	bottle?: {
		motor_speed:      *0.25 | number & >0
		fill_rate:        *0.1 | number & >0
		drain_rate:       *0.05 | number & >=0
		leak_rate:        *0.001 | number & >=0
		nozzle_start:     *130 | number
		nozzle_end:       *200 | number
		fill_threshold:   *0.8 | number & >0 & <=1
		reset_position:   *600 | number
		initial_position: *0 | number
	}

	refinery?: {
		feed_rate:       *0.2 | number & >0
		relief_rate:     *0.15 | number & >0
		process_rate:    *0.1 | number & >0
		capacity:        *100 | number & >0
		initial_level:   *20 | number & >=0
		fill_threshold:  *0.8 | number & >0 & <=1
		empty_threshold: *0.2 | number & >=0 & <=1
		upper_threshold: *0.9 | number & >0 & <=1
	}

	attack: {
		tick_interval_ms: *100 | int & >0
		seed:             *0 | int & >=0
	}

	policy: {
		rules:  *"" | string
		strict: *false | bool
		paths:  *[] | [...string]
	}

	store: {
		path:          *"" | string
		snapshot_keep: *1000 | int & >=0
	}

	scenarios: {
		dir:   *"" | string
		watch: *false | bool
	}

	logging: {
		level:  *"info" | "trace" | "debug" | "warn" | "error"
		format: *"console" | "json"
	}

	metrics: {
		enabled: *false | bool
		listen:  *":9100" | string
	}

	tracing: {
		exporter:      *"none" | "stdout" | "otlp"
		endpoint:      *"" | string
		sampling_rate: *1.0 | number & >=0 & <=1
	}
}
`

const builtinScenarioSchema = `
// Scenario schema for scripted attack scenarios
#Scenario: {
	#Attack: {
		kind:       string & !=""
		plant?:     "bottle" | "refinery" | ""
		duration?:  number & >=0
		intensity?: number & >=0 & <=1
		targets?: [...string]
		values?: {[string]: bool | int | float}
	}

	name:         string & =~"^[a-z0-9_]+$"
	description?: string
	attacks: [#Attack, ...#Attack]
}
`
