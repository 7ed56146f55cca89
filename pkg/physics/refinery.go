package physics

import (
	"fmt"
	"math"

	"github.com/virtuaplant/virtuaplant/pkg/tags"
)

// Tag and output names of the oil refinery.
const (
	RefineryTankLevel  = "SENSOR_TANK_LEVEL"
	RefineryOilSpill   = "SENSOR_OIL_SPILL"
	RefineryProcessed  = "SENSOR_OIL_PROCESSED"
	RefineryUpper      = "SENSOR_OIL_UPPER"
	RefineryFeedPump   = "ACT_FEED_PUMP"
	RefineryOutlet     = "ACT_OUTLET_VALVE"
	RefinerySeparator  = "ACT_SEP_VALVE"
	RefineryWasteValve = "ACT_WASTE_VALVE"

	RefineryLevelOutput     = "tank_level"
	RefinerySpilledOutput   = "oil_spilled"
	RefineryProcessedOutput = "oil_processed"
	RefineryPhaseOutput     = "processing_phase"
)

// Phase is the processing phase of the refinery tank.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseFilling
	PhaseProcessing
	PhaseEmptying
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseFilling:
		return "filling"
	case PhaseProcessing:
		return "processing"
	case PhaseEmptying:
		return "emptying"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// RefineryParams are the physical constants of the refinery. Thresholds are
// fractions of Capacity.
type RefineryParams struct {
	FeedRate       float64 `json:"feed_rate" validate:"gt=0"`
	ReliefRate     float64 `json:"relief_rate" validate:"gt=0"`
	ProcessRate    float64 `json:"process_rate" validate:"gt=0"`
	Capacity       float64 `json:"capacity" validate:"gt=0"`
	InitialLevel   float64 `json:"initial_level" validate:"gte=0,ltefield=Capacity"`
	FillThreshold  float64 `json:"fill_threshold" validate:"gt=0,lte=1"`
	EmptyThreshold float64 `json:"empty_threshold" validate:"gte=0,ltefield=FillThreshold"`
	UpperThreshold float64 `json:"upper_threshold" validate:"gt=0,lte=1"`
}

// DefaultRefineryParams returns the constants of the reference refinery.
func DefaultRefineryParams() RefineryParams {
	return RefineryParams{
		FeedRate:       0.2,
		ReliefRate:     0.15,
		ProcessRate:    0.1,
		Capacity:       100,
		InitialLevel:   20,
		FillThreshold:  0.8,
		EmptyThreshold: 0.2,
		UpperThreshold: 0.9,
	}
}

// RefineryState is the continuous state of the refinery.
type RefineryState struct {
	Level     float64 `json:"level"`
	Spilled   float64 `json:"spilled"`
	Processed float64 `json:"processed"`
	Phase     Phase   `json:"phase"`
}

// Refinery models a feed tank that is filled, processed through the outlet
// and separator valves, and emptied through the waste valve.
type Refinery struct {
	params RefineryParams
	state  RefineryState
}

// NewRefinery creates a refinery engine.
func NewRefinery(params RefineryParams) *Refinery {
	r := &Refinery{params: params}
	r.Reset()
	return r
}

// Plant implements Engine.
func (r *Refinery) Plant() Plant { return PlantRefinery }

// Reset implements Engine.
func (r *Refinery) Reset() {
	r.state = RefineryState{Level: r.params.InitialLevel, Phase: PhaseIdle}
}

// State returns a copy of the current state.
func (r *Refinery) State() RefineryState { return r.state }

// SetState replaces the continuous state.
func (r *Refinery) SetState(s RefineryState) { r.state = s }

// Update implements Engine. Overflow is checked after every other update,
// so a single step may both process and spill.
func (r *Refinery) Update(dt float64, inputs map[string]tags.Value) map[string]tags.Value {
	p := r.params
	s := &r.state

	feed := input(inputs, RefineryFeedPump)
	waste := input(inputs, RefineryWasteValve)

	if feed {
		s.Level += p.FeedRate * dt
	}

	switch s.Phase {
	case PhaseIdle:
		if feed {
			s.Phase = PhaseFilling
		}
	case PhaseFilling:
		if s.Level >= p.FillThreshold*p.Capacity {
			s.Phase = PhaseProcessing
		}
	case PhaseProcessing:
		if input(inputs, RefineryOutlet) && input(inputs, RefinerySeparator) {
			moved := math.Min(p.ProcessRate*dt, s.Level)
			s.Level -= moved
			s.Processed += moved
		}
		if waste {
			s.Phase = PhaseEmptying
		}
	case PhaseEmptying:
		if waste {
			s.Level = math.Max(0, s.Level-p.ReliefRate*dt)
			if s.Level <= p.EmptyThreshold*p.Capacity {
				s.Phase = PhaseIdle
			}
		}
	}

	if s.Level > p.Capacity {
		s.Spilled += s.Level - p.Capacity
		s.Level = p.Capacity
	}

	return map[string]tags.Value{
		RefineryTankLevel:       tags.Int(int64(s.Level / p.Capacity * 100)),
		RefineryOilSpill:        tags.Int(int64(s.Spilled)),
		RefineryProcessed:       tags.Int(int64(s.Processed)),
		RefineryUpper:           tags.Bool(s.Level > p.UpperThreshold*p.Capacity),
		RefineryLevelOutput:     tags.Float(s.Level),
		RefinerySpilledOutput:   tags.Float(s.Spilled),
		RefineryProcessedOutput: tags.Float(s.Processed),
		RefineryPhaseOutput:     tags.Int(int64(s.Phase)),
	}
}
