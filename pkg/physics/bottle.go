package physics

import (
	"math"

	"github.com/virtuaplant/virtuaplant/pkg/tags"
)

// Tag and output names of the bottle-filling line.
const (
	BottleLimitSwitch = "SENSOR_LIMIT_SWITCH"
	BottleLevelSensor = "SENSOR_LEVEL_SENSOR"
	BottleMotor       = "ACT_MOTOR"
	BottleNozzle      = "ACT_NOZZLE"
	BottleRun         = "CMD_RUN"

	BottleLevelOutput    = "bottle_level"
	BottlePositionOutput = "bottle_position"
	BottleFlowOutput     = "water_flow"
)

// BottleParams are the physical constants of the bottle-filling line.
// Positions are in world units, level is a fraction of the bottle volume.
type BottleParams struct {
	MotorSpeed      float64 `json:"motor_speed" validate:"gt=0"`
	FillRate        float64 `json:"fill_rate" validate:"gt=0"`
	DrainRate       float64 `json:"drain_rate" validate:"gte=0"`
	LeakRate        float64 `json:"leak_rate" validate:"gte=0"`
	NozzleStart     float64 `json:"nozzle_start"`
	NozzleEnd       float64 `json:"nozzle_end" validate:"gtefield=NozzleStart"`
	FillThreshold   float64 `json:"fill_threshold" validate:"gt=0,lte=1"`
	ResetPosition   float64 `json:"reset_position" validate:"gtfield=NozzleEnd"`
	InitialPosition float64 `json:"initial_position"`
}

// DefaultBottleParams returns the constants of the reference line.
func DefaultBottleParams() BottleParams {
	return BottleParams{
		MotorSpeed:      0.25,
		FillRate:        0.1,
		DrainRate:       0.05,
		LeakRate:        0.001,
		NozzleStart:     130,
		NozzleEnd:       200,
		FillThreshold:   0.8,
		ResetPosition:   600,
		InitialPosition: 0,
	}
}

// BottleState is the continuous state of the line.
type BottleState struct {
	Level      float64 `json:"level"`
	Position   float64 `json:"position"`
	Flow       float64 `json:"flow"`
	InPosition bool    `json:"in_position"`
	Filled     bool    `json:"filled"`
}

// Bottle models a conveyor moving bottles under a fill nozzle.
type Bottle struct {
	params BottleParams
	state  BottleState
}

// NewBottle creates a bottle-filling engine.
func NewBottle(params BottleParams) *Bottle {
	b := &Bottle{params: params}
	b.Reset()
	return b
}

// Plant implements Engine.
func (b *Bottle) Plant() Plant { return PlantBottle }

// Reset implements Engine.
func (b *Bottle) Reset() {
	b.SetState(BottleState{Position: b.params.InitialPosition})
}

// State returns a copy of the current state.
func (b *Bottle) State() BottleState { return b.state }

// SetState replaces the continuous state. The derived flags are recomputed
// from level and position.
func (b *Bottle) SetState(s BottleState) {
	b.state = s
	b.state.InPosition = b.inPosition(s.Position)
	b.state.Filled = s.Level >= b.params.FillThreshold
}

// Update implements Engine. The nozzle only fills a bottle that was in
// position at the end of the previous step.
func (b *Bottle) Update(dt float64, inputs map[string]tags.Value) map[string]tags.Value {
	p := b.params
	s := &b.state

	if input(inputs, BottleMotor) {
		s.Position += p.MotorSpeed * dt
	}

	if input(inputs, BottleNozzle) && s.InPosition {
		s.Level = math.Min(1, s.Level+p.FillRate*dt)
		s.Flow = p.FillRate
	} else {
		if s.Level > 0 {
			s.Level = math.Max(0, s.Level-(p.DrainRate+p.LeakRate)*dt)
		}
		s.Flow = 0
	}

	s.InPosition = b.inPosition(s.Position)
	s.Filled = s.Level >= p.FillThreshold

	if s.Position > p.ResetPosition {
		s.Position = p.NozzleStart
		s.Level = 0
	}

	return map[string]tags.Value{
		BottleLimitSwitch:    tags.Bool(s.InPosition),
		BottleLevelSensor:    tags.Bool(s.Filled),
		BottleLevelOutput:    tags.Float(s.Level),
		BottlePositionOutput: tags.Float(s.Position),
		BottleFlowOutput:     tags.Float(s.Flow),
	}
}

func (b *Bottle) inPosition(pos float64) bool {
	return pos >= b.params.NozzleStart && pos <= b.params.NozzleEnd
}
