package attack

import (
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/virtuaplant/virtuaplant/pkg/physics"
	"github.com/virtuaplant/virtuaplant/pkg/tags"
)

// Defaults used by NewConfig and for fields left out of decoded configs.
const (
	DefaultDuration  = 60.0
	DefaultIntensity = 1.0
)

var validate = validator.New()

// Config describes one attack. Duration is in seconds of wall time.
// Intensity scales the probability that a probabilistic pattern fires on a
// given tick; zero means it never fires.
type Config struct {
	Kind       Kind                  `json:"kind" validate:"required"`
	Plant      physics.Plant         `json:"plant" validate:"required,oneof=bottle refinery"`
	Duration   float64               `json:"duration" validate:"gt=0"`
	Intensity  float64               `json:"intensity" validate:"gte=0,lte=1"`
	TargetTags []string              `json:"target_tags,omitempty" validate:"omitempty,dive,required"`
	Values     map[string]tags.Value `json:"values,omitempty"`
}

// NewConfig returns a config with the default duration and intensity.
func NewConfig(kind Kind, plant physics.Plant) Config {
	return Config{
		Kind:      kind,
		Plant:     plant,
		Duration:  DefaultDuration,
		Intensity: DefaultIntensity,
	}
}

// WithDefaults returns a copy with a zero Duration replaced by
// DefaultDuration. Intensity is left alone.
func (c Config) WithDefaults() Config {
	if c.Duration == 0 {
		c.Duration = DefaultDuration
	}
	return c
}

// Validate checks the config's fields and that the kind can act on the
// plant, target tags and values it was given.
func (c Config) Validate() error {
	if err := c.Kind.Validate(); err != nil {
		return err
	}
	if err := c.Plant.Validate(); err != nil {
		return err
	}
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid %s config: %w", c.Kind, err)
	}
	if plant, ok := c.Kind.Plant(); ok && plant != c.Plant {
		return fmt.Errorf("invalid %s config: only applies to the %s plant, got %s", c.Kind, plant, c.Plant)
	}
	if len(c.TargetTags) > 0 && !c.Kind.UsesTargets() {
		return fmt.Errorf("invalid %s config: kind does not take target tags", c.Kind)
	}
	if len(c.Values) > 0 && !c.Kind.UsesValues() {
		return fmt.Errorf("invalid %s config: kind does not take values", c.Kind)
	}
	return nil
}

// Timeout returns Duration as a time.Duration.
func (c Config) Timeout() time.Duration {
	return time.Duration(c.Duration * float64(time.Second))
}

// Clone returns a deep copy.
func (c Config) Clone() Config {
	c.TargetTags = slices.Clone(c.TargetTags)
	c.Values = maps.Clone(c.Values)
	return c
}

// UnmarshalJSON decodes literal values into tags.Value. A missing
// intensity decodes as DefaultIntensity; an explicit 0 is kept.
func (c *Config) UnmarshalJSON(data []byte) error {
	var raw struct {
		Kind       Kind           `json:"kind"`
		Plant      physics.Plant  `json:"plant"`
		Duration   float64        `json:"duration"`
		Intensity  *float64       `json:"intensity"`
		TargetTags []string       `json:"target_tags"`
		Values     map[string]any `json:"values"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	values, err := ValuesFromAny(raw.Values)
	if err != nil {
		return err
	}
	intensity := DefaultIntensity
	if raw.Intensity != nil {
		intensity = *raw.Intensity
	}
	*c = Config{
		Kind:       raw.Kind,
		Plant:      raw.Plant,
		Duration:   raw.Duration,
		Intensity:  intensity,
		TargetTags: raw.TargetTags,
		Values:     values,
	}
	return nil
}

// ValuesFromAny converts decoded scalars into tag values. A nil map yields
// nil.
func ValuesFromAny(in map[string]any) (map[string]tags.Value, error) {
	if in == nil {
		return nil, nil
	}
	out := make(map[string]tags.Value, len(in))
	for name, x := range in {
		v, err := tags.FromAny(x)
		if err != nil {
			return nil, fmt.Errorf("value for %s: %w", name, err)
		}
		out[name] = v
	}
	return out, nil
}
