package attack

import (
	"fmt"

	"github.com/virtuaplant/virtuaplant/pkg/physics"
)

// Scenario is a named set of attacks launched together.
type Scenario struct {
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Attacks     []Config `json:"attacks"`
}

// Validate checks the scenario and each of its configs.
func (s Scenario) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("scenario name is required")
	}
	if len(s.Attacks) == 0 {
		return fmt.Errorf("scenario %s has no attacks", s.Name)
	}
	for n, cfg := range s.Attacks {
		if err := cfg.WithDefaults().Validate(); err != nil {
			return fmt.Errorf("scenario %s attack %d: %w", s.Name, n, err)
		}
	}
	return nil
}

// Plants returns the distinct plants the scenario targets, in order of
// first appearance.
func (s Scenario) Plants() []physics.Plant {
	var out []physics.Plant
	seen := make(map[physics.Plant]bool)
	for _, cfg := range s.Attacks {
		if !seen[cfg.Plant] {
			seen[cfg.Plant] = true
			out = append(out, cfg.Plant)
		}
	}
	return out
}

func scenarioAttack(kind Kind, plant physics.Plant, duration, intensity float64) Config {
	return Config{Kind: kind, Plant: plant, Duration: duration, Intensity: intensity}
}

// DefaultScenarios returns the built-in scenario catalog.
func DefaultScenarios() []Scenario {
	bottle, refinery := physics.PlantBottle, physics.PlantRefinery
	return []Scenario{
		{
			Name:        "bottle_chaos",
			Description: "Run the line non-stop while spoofing its sensors",
			Attacks: []Config{
				scenarioAttack(KindNeverStop, bottle, 30, 1),
				scenarioAttack(KindSensorSpoofing, bottle, 30, 0.5),
			},
		},
		{
			Name:        "refinery_overflow",
			Description: "Keep the feed pump on and hide the spill",
			Attacks: []Config{
				scenarioAttack(KindConstantRunning, refinery, 45, 1),
				scenarioAttack(KindRunNoSpill, refinery, 45, 1),
			},
		},
		{
			Name:        "sensor_manipulation",
			Description: "Spoof sensor readings on either plant",
			Attacks: []Config{
				scenarioAttack(KindSensorSpoofing, bottle, 60, 0.8),
				scenarioAttack(KindSensorSpoofing, refinery, 60, 0.8),
			},
		},
		{
			Name:        "actuator_chaos",
			Description: "Flip actuators at random on either plant",
			Attacks: []Config{
				scenarioAttack(KindActuatorOverride, bottle, 40, 0.6),
				scenarioAttack(KindActuatorOverride, refinery, 40, 0.6),
			},
		},
		{
			Name:        "random_chaos",
			Description: "Low-rate noise on every tag",
			Attacks: []Config{
				scenarioAttack(KindRandomNoise, bottle, 30, 0.3),
				scenarioAttack(KindRandomNoise, refinery, 30, 0.3),
			},
		},
	}
}
