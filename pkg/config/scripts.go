package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"

	"github.com/virtuaplant/virtuaplant/pkg/attack"
	"github.com/virtuaplant/virtuaplant/pkg/physics"
)

// ScenarioExt is the extension of scenario scripts.
const ScenarioExt = ".star"

// ScriptLoader turns Starlark scenario scripts into attack scenarios.
//
// A script declares scenarios by calling the predeclared builtins:
//
//	scenario(
//	    name = "slow_drift",
//	    description = "spoof the level sensor for a minute",
//	    attacks = [attack("sensor_spoofing", plant = "bottle", intensity = 0.3)],
//	)
//
// KINDS and PLANTS hold the accepted attack kinds and plants.
type ScriptLoader struct {
	evaluator *StarlarkEvaluator
	schemas   *SchemaRegistry
	logger    zerolog.Logger
}

// NewScriptLoader creates a loader. A nil registry gets the built-in schemas.
func NewScriptLoader(schemas *SchemaRegistry, timeout time.Duration, logger zerolog.Logger) *ScriptLoader {
	if schemas == nil {
		schemas = NewSchemaRegistry()
	}
	return &ScriptLoader{
		evaluator: NewStarlarkEvaluator(timeout, logger),
		schemas:   schemas,
		logger:    logger,
	}
}

// LoadScript evaluates one script and returns the scenarios it declares in
// call order.
func (sl *ScriptLoader) LoadScript(ctx context.Context, filename, script string) ([]attack.Scenario, error) {
	var declared []map[string]interface{}

	scenarioFn := func(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		var (
			name        string
			attacks     *starlark.List
			description string
		)
		if err := starlark.UnpackArgs(b.Name(), args, kwargs,
			"name", &name, "attacks", &attacks, "description?", &description); err != nil {
			return nil, err
		}
		list, err := fromStarlarkValue(attacks)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", b.Name(), err)
		}
		declared = append(declared, map[string]interface{}{
			"name":        name,
			"description": description,
			"attacks":     list,
		})
		return starlark.None, nil
	}

	builtins := starlark.StringDict{
		"attack":   starlark.NewBuiltin("attack", builtinAttack),
		"scenario": starlark.NewBuiltin("scenario", scenarioFn),
		"KINDS":    kindList(),
		"PLANTS":   plantList(),
	}

	if _, err := sl.evaluator.EvaluateWith(ctx, filename, script, nil, builtins); err != nil {
		return nil, err
	}

	scenarios := make([]attack.Scenario, 0, len(declared))
	for _, raw := range declared {
		if err := sl.schemas.ValidateAgainstSchema(ctx, "scenario", raw); err != nil {
			return nil, fmt.Errorf("%s: scenario %v: %w", filename, raw["name"], err)
		}
		sc, err := toScenario(raw)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", filename, err)
		}
		scenarios = append(scenarios, sc)
	}

	sl.logger.Debug().
		Str("script", filename).
		Int("scenarios", len(scenarios)).
		Msg("Scenario script loaded")

	return scenarios, nil
}

// LoadFile reads and evaluates a script file.
func (sl *ScriptLoader) LoadFile(ctx context.Context, path string) ([]attack.Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read script: %w", err)
	}
	return sl.LoadScript(ctx, path, string(data))
}

// LoadDir evaluates every script in dir in name order. Two scenarios with
// the same name are an error, even across files.
func (sl *ScriptLoader) LoadDir(ctx context.Context, dir string) ([]attack.Scenario, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario directory: %w", err)
	}

	var files []string
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ScenarioExt {
			continue
		}
		files = append(files, filepath.Join(dir, entry.Name()))
	}
	sort.Strings(files)

	var all []attack.Scenario
	origin := make(map[string]string)
	for _, path := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		list, err := sl.LoadFile(ctx, path)
		if err != nil {
			return nil, err
		}
		for _, sc := range list {
			if prev, ok := origin[sc.Name]; ok {
				return nil, fmt.Errorf("scenario %s declared in both %s and %s", sc.Name, prev, path)
			}
			origin[sc.Name] = path
			all = append(all, sc)
		}
	}
	return all, nil
}

// builtinAttack implements attack(kind, plant, duration, intensity, targets, values).
func builtinAttack(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var (
		kind      string
		plant     string
		duration  starlark.Value = starlark.Float(attack.DefaultDuration)
		intensity starlark.Value = starlark.Float(attack.DefaultIntensity)
		targets   *starlark.List
		values    *starlark.Dict
	)
	if err := starlark.UnpackArgs(b.Name(), args, kwargs,
		"kind", &kind,
		"plant?", &plant,
		"duration?", &duration,
		"intensity?", &intensity,
		"targets?", &targets,
		"values?", &values,
	); err != nil {
		return nil, err
	}

	if _, ok := starlark.AsFloat(duration); !ok {
		return nil, fmt.Errorf("%s: duration must be a number, got %s", b.Name(), duration.Type())
	}
	if _, ok := starlark.AsFloat(intensity); !ok {
		return nil, fmt.Errorf("%s: intensity must be a number, got %s", b.Name(), intensity.Type())
	}
	if targets == nil {
		targets = starlark.NewList(nil)
	}
	if values == nil {
		values = starlark.NewDict(0)
	}

	return starlarkstruct.FromStringDict(starlarkstruct.Default, starlark.StringDict{
		"kind":      starlark.String(kind),
		"plant":     starlark.String(plant),
		"duration":  duration,
		"intensity": intensity,
		"targets":   targets,
		"values":    values,
	}), nil
}

func kindList() *starlark.List {
	elems := make([]starlark.Value, 0, len(attack.Kinds))
	for _, k := range attack.Kinds {
		elems = append(elems, starlark.String(k))
	}
	list := starlark.NewList(elems)
	list.Freeze()
	return list
}

func plantList() *starlark.List {
	elems := make([]starlark.Value, 0, len(physics.Plants))
	for _, p := range physics.Plants {
		elems = append(elems, starlark.String(p))
	}
	list := starlark.NewList(elems)
	list.Freeze()
	return list
}

// toScenario converts a schema-checked scenario declaration.
func toScenario(raw map[string]interface{}) (attack.Scenario, error) {
	sc := attack.Scenario{
		Name:        raw["name"].(string),
		Description: raw["description"].(string),
	}

	items, _ := raw["attacks"].([]interface{})
	for n, item := range items {
		fields, ok := item.(map[string]interface{})
		if !ok {
			return sc, fmt.Errorf("scenario %s attack %d: expected attack(), got %T", sc.Name, n, item)
		}
		cfg, err := toAttackConfig(fields)
		if err != nil {
			return sc, fmt.Errorf("scenario %s attack %d: %w", sc.Name, n, err)
		}
		sc.Attacks = append(sc.Attacks, cfg)
	}

	if err := sc.Validate(); err != nil {
		return sc, err
	}
	return sc, nil
}

func toAttackConfig(fields map[string]interface{}) (attack.Config, error) {
	kindName, _ := fields["kind"].(string)
	kind, err := attack.ParseKind(kindName)
	if err != nil {
		return attack.Config{}, err
	}

	plantName, _ := fields["plant"].(string)
	var plant physics.Plant
	if plantName == "" {
		plant, err = defaultPlant(kind)
	} else {
		plant, err = physics.ParsePlant(plantName)
	}
	if err != nil {
		return attack.Config{}, err
	}

	cfg := attack.NewConfig(kind, plant)
	if d, ok := number(fields["duration"]); ok {
		cfg.Duration = d
	}
	if i, ok := number(fields["intensity"]); ok {
		cfg.Intensity = i
	}
	if list, ok := fields["targets"].([]interface{}); ok {
		for _, t := range list {
			name, ok := t.(string)
			if !ok {
				return attack.Config{}, fmt.Errorf("target must be a string, got %T", t)
			}
			cfg.TargetTags = append(cfg.TargetTags, name)
		}
	}
	if m, ok := fields["values"].(map[string]interface{}); ok && len(m) > 0 {
		values, err := attack.ValuesFromAny(m)
		if err != nil {
			return attack.Config{}, err
		}
		cfg.Values = values
	}
	return cfg, nil
}

// defaultPlant picks the plant for an attack declared without one. Kinds
// that only make sense on one plant resolve to it.
func defaultPlant(kind attack.Kind) (physics.Plant, error) {
	if plant, ok := kind.Plant(); ok {
		return plant, nil
	}
	return "", fmt.Errorf("attack %s needs a plant (one of %s)", kind, strings.Join(plantNames(), ", "))
}

func plantNames() []string {
	out := make([]string, 0, len(physics.Plants))
	for _, p := range physics.Plants {
		out = append(out, string(p))
	}
	return out
}

func number(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case int64:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}
