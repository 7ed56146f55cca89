package physics

import (
	"fmt"
	"strings"

	"github.com/virtuaplant/virtuaplant/pkg/tags"
)

// Plant identifies a simulated plant.
type Plant string

const (
	// PlantBottle is the bottle-filling line.
	PlantBottle Plant = "bottle"

	// PlantRefinery is the oil refinery.
	PlantRefinery Plant = "refinery"
)

// Plants lists every supported plant.
var Plants = []Plant{PlantBottle, PlantRefinery}

// ParsePlant parses a plant name.
func ParsePlant(s string) (Plant, error) {
	p := Plant(strings.ToLower(strings.TrimSpace(s)))
	if err := p.Validate(); err != nil {
		return "", err
	}
	return p, nil
}

// Validate checks if the plant is supported.
func (p Plant) Validate() error {
	switch p {
	case PlantBottle, PlantRefinery:
		return nil
	default:
		return fmt.Errorf("unknown plant type: %q", string(p))
	}
}

// Engine advances a plant model by one time step.
type Engine interface {
	// Plant returns the plant the engine models.
	Plant() Plant

	// Update advances the model by dt seconds and returns the new outputs.
	// Missing inputs read as false.
	Update(dt float64, inputs map[string]tags.Value) map[string]tags.Value

	// Reset restores the initial state.
	Reset()
}

// New creates the engine for a plant with default parameters.
func New(p Plant) (Engine, error) {
	switch p {
	case PlantBottle:
		return NewBottle(DefaultBottleParams()), nil
	case PlantRefinery:
		return NewRefinery(DefaultRefineryParams()), nil
	default:
		return nil, fmt.Errorf("unknown plant type: %q", string(p))
	}
}

func input(inputs map[string]tags.Value, name string) bool {
	v, ok := inputs[name]
	return ok && tags.AsBool(v)
}
