package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/virtuaplant/virtuaplant/pkg/attack"
	"github.com/virtuaplant/virtuaplant/pkg/physics"
	"github.com/virtuaplant/virtuaplant/pkg/plantstate"
	"github.com/virtuaplant/virtuaplant/pkg/tags"
)

// DefaultRoundTripThreshold is the pass ratio a round-trip run must reach.
const DefaultRoundTripThreshold = 0.7

// CheckResult is the outcome of one round-trip check.
type CheckResult struct {
	Name   string `json:"name"`
	Passed bool   `json:"passed"`
	Detail string `json:"detail,omitempty"`
}

// RoundTripResult is the outcome of a round-trip run against one tag map.
type RoundTripResult struct {
	Plant  physics.Plant `json:"plant"`
	Checks []CheckResult `json:"checks"`
}

// Passed returns the number of passing checks.
func (r *RoundTripResult) Passed() int {
	n := 0
	for _, c := range r.Checks {
		if c.Passed {
			n++
		}
	}
	return n
}

// Ratio returns the fraction of passing checks.
func (r *RoundTripResult) Ratio() float64 {
	if len(r.Checks) == 0 {
		return 0
	}
	return float64(r.Passed()) / float64(len(r.Checks))
}

// OK reports whether the pass ratio reaches threshold.
func (r *RoundTripResult) OK(threshold float64) bool {
	return r.Ratio() >= threshold
}

type roundTripCheck struct {
	name string
	run  func(ctx context.Context, reg *tags.Registry, plant physics.Plant) error
}

var roundTripChecks = []roundTripCheck{
	{"tag_access", checkTagAccess},
	{"sensor_update", checkSensorUpdate},
	{"actuator_control", checkActuatorControl},
	{"basic_physics", checkBasicPhysics},
	{"alarm_condition", checkAlarmCondition},
	{"attack_injection", checkAttackInjection},
}

// RoundTrip exercises a tag map end to end: every tag through the store
// accessors, a few physics steps through the loop, and one attack. Each
// check runs on a fresh store.
func RoundTrip(ctx context.Context, reg *tags.Registry, plant physics.Plant) *RoundTripResult {
	result := &RoundTripResult{Plant: plant}
	for _, check := range roundTripChecks {
		cr := CheckResult{Name: check.name, Passed: true}
		if err := check.run(ctx, reg, plant); err != nil {
			cr.Passed = false
			cr.Detail = err.Error()
		}
		result.Checks = append(result.Checks, cr)
	}
	return result
}

func checkTagAccess(_ context.Context, reg *tags.Registry, _ physics.Plant) error {
	store := plantstate.New(reg)
	for _, tag := range reg.Tags() {
		v, err := store.Read(tag.Name)
		if err != nil {
			return err
		}
		if tag.Role == tags.RoleSensor || !tag.Table.Writable() {
			err = store.UpdateSensors(map[string]tags.Value{tag.Name: v})
		} else {
			err = store.Write(tag.Name, v)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func sampleValue(t tags.Type) tags.Value {
	if t == tags.TypeBool {
		return tags.Bool(true)
	}
	return tags.Int(50)
}

func checkSensorUpdate(_ context.Context, reg *tags.Registry, _ physics.Plant) error {
	store := plantstate.New(reg)
	sensors := reg.ByRole(tags.RoleSensor)
	if len(sensors) == 0 {
		return fmt.Errorf("no sensor tags")
	}
	for _, tag := range sensors {
		want := sampleValue(tag.Type)
		if err := store.UpdateSensors(map[string]tags.Value{tag.Name: want}); err != nil {
			return err
		}
		got, err := store.Read(tag.Name)
		if err != nil {
			return err
		}
		if tags.AsInt(got) != tags.AsInt(want) {
			return fmt.Errorf("%s: wrote %s, read %s", tag.Name, want, got)
		}
	}
	return nil
}

func checkActuatorControl(_ context.Context, reg *tags.Registry, _ physics.Plant) error {
	store := plantstate.New(reg)
	actuators := reg.ByRole(tags.RoleActuator)
	if len(actuators) == 0 {
		return fmt.Errorf("no actuator tags")
	}
	for _, tag := range actuators {
		want := sampleValue(tag.Type)
		if err := store.Write(tag.Name, want); err != nil {
			return err
		}
		got, err := store.Read(tag.Name)
		if err != nil {
			return err
		}
		if tags.AsInt(got) != tags.AsInt(want) {
			return fmt.Errorf("%s: wrote %s, read %s", tag.Name, want, got)
		}
	}
	return nil
}

// runSteps drives engine for n ticks and returns the last process values.
func runSteps(ctx context.Context, store *plantstate.Store, engine physics.Engine, n int) (map[string]float64, error) {
	loop, err := NewLoop(store, engine, DefaultLoopConfig())
	if err != nil {
		return nil, err
	}
	for i := 0; i < n; i++ {
		if err := loop.Step(ctx); err != nil {
			return nil, err
		}
	}
	return loop.Report().Process, nil
}

func checkBasicPhysics(ctx context.Context, reg *tags.Registry, plant physics.Plant) error {
	store := plantstate.New(reg)
	engine, err := physics.New(plant)
	if err != nil {
		return err
	}

	switch plant {
	case physics.PlantBottle:
		err = store.UpdateSensors(map[string]tags.Value{
			physics.BottleRun:   tags.Bool(true),
			physics.BottleMotor: tags.Bool(true),
		})
	case physics.PlantRefinery:
		err = store.UpdateSensors(map[string]tags.Value{physics.RefineryFeedPump: tags.Bool(true)})
	}
	if err != nil {
		return err
	}

	process, err := runSteps(ctx, store, engine, 10)
	if err != nil {
		return err
	}

	switch plant {
	case physics.PlantBottle:
		if pos := process[physics.BottlePositionOutput]; pos <= physics.DefaultBottleParams().InitialPosition {
			return fmt.Errorf("bottle did not move: position %.3f", pos)
		}
	case physics.PlantRefinery:
		if level := process[physics.RefineryLevelOutput]; level <= physics.DefaultRefineryParams().InitialLevel {
			return fmt.Errorf("tank did not fill: level %.3f", level)
		}
	}
	return nil
}

func checkAlarmCondition(ctx context.Context, reg *tags.Registry, plant physics.Plant) error {
	store := plantstate.New(reg)

	switch plant {
	case physics.PlantBottle:
		params := physics.DefaultBottleParams()
		params.InitialPosition = params.NozzleStart
		if err := store.UpdateSensors(map[string]tags.Value{physics.BottleNozzle: tags.Bool(true)}); err != nil {
			return err
		}
		process, err := runSteps(ctx, store, physics.NewBottle(params), 5)
		if err != nil {
			return err
		}
		if process[physics.BottleLevelOutput] <= 0 {
			return fmt.Errorf("bottle under open nozzle did not fill")
		}
	case physics.PlantRefinery:
		params := physics.DefaultRefineryParams()
		params.InitialLevel = params.Capacity
		if err := store.UpdateSensors(map[string]tags.Value{physics.RefineryFeedPump: tags.Bool(true)}); err != nil {
			return err
		}
		process, err := runSteps(ctx, store, physics.NewRefinery(params), 10)
		if err != nil {
			return err
		}
		if process[physics.RefinerySpilledOutput] <= 0 {
			return fmt.Errorf("full tank with feed on did not spill")
		}
	}
	return nil
}

func checkAttackInjection(ctx context.Context, reg *tags.Registry, plant physics.Plant) error {
	inj := attack.NewInjector(plantstate.New(reg), plant)
	defer inj.Close()

	cfg := attack.NewConfig(attack.KindSensorSpoofing, plant)
	cfg.Duration = 2
	cfg.Intensity = 0.5
	id, err := inj.StartAttack(ctx, cfg)
	if err != nil {
		return err
	}

	time.Sleep(2 * attack.DefaultTickInterval)
	if _, ok := inj.ListAttacks()[id]; !ok {
		return fmt.Errorf("attack %s not active", id)
	}
	return inj.StopAttack(id)
}
