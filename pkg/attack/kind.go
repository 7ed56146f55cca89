package attack

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/virtuaplant/virtuaplant/pkg/physics"
)

// Kind is the pattern an attack applies to the plant.
type Kind string

const (
	// KindNeverStop holds the line in its running state and blinds the
	// sensors that would stop it.
	KindNeverStop Kind = "never_stop"

	// KindStopAll forces every actuator off.
	KindStopAll Kind = "stop_all"

	// KindConstantRunning keeps the pumps or motor running.
	KindConstantRunning Kind = "constant_running"

	// KindNothingRuns withholds the run command or feed.
	KindNothingRuns Kind = "nothing_runs"

	// KindMoveAndFill drives the conveyor with the nozzle open.
	KindMoveAndFill Kind = "move_and_fill"

	// KindStopAndFill stops the conveyor with the nozzle open.
	KindStopAndFill Kind = "stop_and_fill"

	// KindRunNoSpill keeps the feed on while hiding the spill sensor.
	KindRunNoSpill Kind = "run_no_spill"

	// KindSensorSpoofing writes random or literal sensor readings.
	KindSensorSpoofing Kind = "sensor_spoofing"

	// KindActuatorOverride writes random or literal actuator states.
	KindActuatorOverride Kind = "actuator_override"

	// KindRandomNoise perturbs arbitrary tags with a low probability.
	KindRandomNoise Kind = "random_noise"

	// KindTimingAttack stalls the attack worker itself.
	KindTimingAttack Kind = "timing_attack"
)

// Kinds lists every attack kind in declaration order.
var Kinds = []Kind{
	KindNeverStop,
	KindStopAll,
	KindConstantRunning,
	KindNothingRuns,
	KindMoveAndFill,
	KindStopAndFill,
	KindRunNoSpill,
	KindSensorSpoofing,
	KindActuatorOverride,
	KindRandomNoise,
	KindTimingAttack,
}

// ParseKind parses an attack kind. Hyphens and case are tolerated so that
// "Never-Stop" on a command line resolves to KindNeverStop.
func ParseKind(s string) (Kind, error) {
	k := Kind(strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "-", "_"))
	if err := k.Validate(); err != nil {
		return "", err
	}
	return k, nil
}

// Validate checks if the kind is valid.
func (k Kind) Validate() error {
	switch k {
	case KindNeverStop, KindStopAll, KindConstantRunning, KindNothingRuns,
		KindMoveAndFill, KindStopAndFill, KindRunNoSpill, KindSensorSpoofing,
		KindActuatorOverride, KindRandomNoise, KindTimingAttack:
		return nil
	default:
		return fmt.Errorf("invalid attack kind: %q", string(k))
	}
}

// Plant returns the plant a plant-specific kind is bound to. ok is false
// for kinds that apply to either plant.
func (k Kind) Plant() (plant physics.Plant, ok bool) {
	switch k {
	case KindMoveAndFill, KindStopAndFill:
		return physics.PlantBottle, true
	case KindRunNoSpill:
		return physics.PlantRefinery, true
	}
	return "", false
}

// UsesTargets reports whether the kind reads Config.TargetTags.
func (k Kind) UsesTargets() bool {
	switch k {
	case KindSensorSpoofing, KindActuatorOverride, KindRandomNoise:
		return true
	}
	return false
}

// UsesValues reports whether the kind reads Config.Values.
func (k Kind) UsesValues() bool {
	return k == KindSensorSpoofing || k == KindActuatorOverride
}

// String returns the wire name of the kind.
func (k Kind) String() string {
	return string(k)
}

// UnmarshalJSON implements custom JSON unmarshaling with validation.
func (k *Kind) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	parsed, err := ParseKind(str)
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}
