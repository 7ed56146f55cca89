package attack

import (
	"context"
	"math/rand/v2"
	"time"

	"github.com/virtuaplant/virtuaplant/pkg/physics"
	"github.com/virtuaplant/virtuaplant/pkg/plantstate"
	"github.com/virtuaplant/virtuaplant/pkg/tags"
)

// Writes is the set of tag values one pattern tick asks to store.
type Writes map[string]tags.Value

// patternEnv is what a pattern sees on each tick.
type patternEnv struct {
	ctx context.Context
	cfg Config
	rng *rand.Rand
	reg *tags.Registry
}

// Default targets of the probabilistic patterns.
var (
	spoofTargets = map[physics.Plant][]string{
		physics.PlantBottle:   {physics.BottleLimitSwitch, physics.BottleLevelSensor},
		physics.PlantRefinery: {physics.RefineryTankLevel},
	}
	overrideTargets = map[physics.Plant][]string{
		physics.PlantBottle:   {physics.BottleMotor, physics.BottleNozzle},
		physics.PlantRefinery: {physics.RefineryFeedPump, physics.RefineryOutlet},
	}
)

const (
	noiseScale    = 0.1
	randomIntMax  = 100
	minTimingHold = 100 * time.Millisecond
	maxTimingHold = 500 * time.Millisecond
)

// apply runs the pattern of env.cfg.Kind once. env.cfg must have passed
// Validate, so plant-specific kinds only arrive for their own plant.
func apply(env *patternEnv) (Writes, error) {
	bottle := env.cfg.Plant == physics.PlantBottle

	switch env.cfg.Kind {
	case KindNeverStop:
		if bottle {
			return Writes{
				physics.BottleRun:         tags.Bool(true),
				physics.BottleLimitSwitch: tags.Bool(false),
				physics.BottleLevelSensor: tags.Bool(false),
				physics.BottleMotor:       tags.Bool(true),
				physics.BottleNozzle:      tags.Bool(false),
			}, nil
		}
		return Writes{
			physics.RefineryFeedPump:   tags.Bool(true),
			physics.RefineryTankLevel:  tags.Int(0),
			physics.RefineryUpper:      tags.Bool(false),
			physics.RefineryOutlet:     tags.Bool(false),
			physics.RefineryWasteValve: tags.Bool(false),
		}, nil

	case KindStopAll:
		if bottle {
			return Writes{
				physics.BottleRun:    tags.Bool(false),
				physics.BottleMotor:  tags.Bool(false),
				physics.BottleNozzle: tags.Bool(false),
			}, nil
		}
		return Writes{
			physics.RefineryFeedPump:   tags.Bool(false),
			physics.RefineryOutlet:     tags.Bool(false),
			physics.RefinerySeparator:  tags.Bool(false),
			physics.RefineryWasteValve: tags.Bool(false),
		}, nil

	case KindConstantRunning:
		if bottle {
			return Writes{
				physics.BottleRun:   tags.Bool(true),
				physics.BottleMotor: tags.Bool(true),
			}, nil
		}
		return Writes{
			physics.RefineryFeedPump:   tags.Bool(true),
			physics.RefineryTankLevel:  tags.Int(0),
			physics.RefineryOutlet:     tags.Bool(false),
			physics.RefineryWasteValve: tags.Bool(false),
		}, nil

	case KindNothingRuns:
		if bottle {
			return Writes{physics.BottleRun: tags.Bool(false)}, nil
		}
		return Writes{physics.RefineryFeedPump: tags.Bool(false)}, nil

	case KindMoveAndFill:
		return Writes{
			physics.BottleRun:    tags.Bool(true),
			physics.BottleMotor:  tags.Bool(true),
			physics.BottleNozzle: tags.Bool(true),
		}, nil

	case KindStopAndFill:
		return Writes{
			physics.BottleRun:    tags.Bool(true),
			physics.BottleMotor:  tags.Bool(false),
			physics.BottleNozzle: tags.Bool(true),
		}, nil

	case KindRunNoSpill:
		return Writes{
			physics.RefineryFeedPump: tags.Bool(true),
			physics.RefineryOilSpill: tags.Int(0),
		}, nil

	case KindSensorSpoofing:
		return env.targeted(spoofTargets[env.cfg.Plant])

	case KindActuatorOverride:
		return env.targeted(overrideTargets[env.cfg.Plant])

	case KindRandomNoise:
		return env.noise()

	case KindTimingAttack:
		return nil, env.stall()
	}

	return nil, env.cfg.Kind.Validate()
}

// targeted writes every target with probability intensity, all or none.
// Configured TargetTags replace the defaults and configured Values replace
// random ones.
func (env *patternEnv) targeted(defaults []string) (Writes, error) {
	if env.rng.Float64() >= env.cfg.Intensity {
		return nil, nil
	}

	targets := defaults
	if len(env.cfg.TargetTags) > 0 {
		targets = env.cfg.TargetTags
	}

	out := make(Writes, len(targets))
	for _, name := range targets {
		if v, ok := env.cfg.Values[name]; ok {
			out[name] = v
			continue
		}
		tag, ok := env.reg.Get(name)
		if !ok {
			return nil, &plantstate.UnknownTagError{Name: name}
		}
		out[name] = env.random(tag.Type)
	}
	return out, nil
}

// noise perturbs each configured target independently, or every
// registered tag when there are no targets.
func (env *patternEnv) noise() (Writes, error) {
	candidates := env.reg.Tags()
	if len(env.cfg.TargetTags) > 0 {
		candidates = make([]tags.Tag, 0, len(env.cfg.TargetTags))
		for _, name := range env.cfg.TargetTags {
			tag, ok := env.reg.Get(name)
			if !ok {
				return nil, &plantstate.UnknownTagError{Name: name}
			}
			candidates = append(candidates, tag)
		}
	}

	p := env.cfg.Intensity * noiseScale
	out := make(Writes)
	for _, tag := range candidates {
		if env.rng.Float64() < p {
			out[tag.Name] = env.random(tag.Type)
		}
	}
	return out, nil
}

// stall blocks the worker for a random hold unless ctx ends first.
func (env *patternEnv) stall() error {
	if env.rng.Float64() >= env.cfg.Intensity {
		return nil
	}
	hold := minTimingHold + time.Duration(env.rng.Int64N(int64(maxTimingHold-minTimingHold)+1))

	timer := time.NewTimer(hold)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-env.ctx.Done():
	}
	return nil
}

func (env *patternEnv) random(t tags.Type) tags.Value {
	if t == tags.TypeBool {
		return tags.Bool(env.rng.IntN(2) == 1)
	}
	return tags.Int(env.rng.IntN(randomIntMax + 1))
}
