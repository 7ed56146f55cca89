package physics

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/virtuaplant/virtuaplant/pkg/tags"
)

const dt = 0.02

func on(names ...string) map[string]tags.Value {
	m := make(map[string]tags.Value, len(names))
	for _, n := range names {
		m[n] = tags.Bool(true)
	}
	return m
}

func TestBottleConveyorMoves(t *testing.T) {
	b := NewBottle(DefaultBottleParams())
	b.SetState(BottleState{Position: 130, Level: 0})

	var out map[string]tags.Value
	for i := 0; i < 10; i++ {
		out = b.Update(dt, on(BottleMotor))
	}

	assert.InDelta(t, 130+10*0.25*dt, b.State().Position, 1e-9)
	assert.Equal(t, 0.0, b.State().Level)
	assert.Equal(t, tags.Bool(true), out[BottleLimitSwitch])
	assert.Equal(t, tags.Bool(false), out[BottleLevelSensor])
	assert.InDelta(t, 130.05, tags.AsFloat(out[BottlePositionOutput]), 1e-9)
}

func TestBottleFillsInPosition(t *testing.T) {
	b := NewBottle(DefaultBottleParams())
	b.SetState(BottleState{Position: 150})
	require.True(t, b.State().InPosition)

	// 0.1 * 0.02 * 410 = 0.82
	var out map[string]tags.Value
	for i := 0; i < 410; i++ {
		out = b.Update(dt, on(BottleNozzle))
	}
	assert.Equal(t, tags.Bool(true), out[BottleLevelSensor])
	assert.InDelta(t, 0.1, tags.AsFloat(out[BottleFlowOutput]), 1e-9)

	for i := 0; i < 200; i++ {
		out = b.Update(dt, on(BottleNozzle))
		require.Equal(t, tags.Bool(true), out[BottleLevelSensor], "tick %d", i)
	}
	assert.LessOrEqual(t, b.State().Level, 1.0)

	out = b.Update(dt, nil)
	assert.Equal(t, 0.0, tags.AsFloat(out[BottleFlowOutput]))
	assert.Less(t, b.State().Level, 1.0)
}

func TestBottleDoesNotFillOutOfPosition(t *testing.T) {
	b := NewBottle(DefaultBottleParams())
	b.SetState(BottleState{Position: 50})

	for i := 0; i < 100; i++ {
		b.Update(dt, on(BottleNozzle))
	}
	assert.Equal(t, 0.0, b.State().Level)
}

func TestBottleDrainsAndClampsAtZero(t *testing.T) {
	b := NewBottle(DefaultBottleParams())
	b.SetState(BottleState{Position: 150, Level: 0.01})

	for i := 0; i < 50; i++ {
		b.Update(dt, nil)
	}
	assert.Equal(t, 0.0, b.State().Level)
}

func TestBottleRecyclesPastReset(t *testing.T) {
	b := NewBottle(DefaultBottleParams())
	b.SetState(BottleState{Position: 599.999, Level: 0.9})

	b.Update(dt, on(BottleMotor))

	s := b.State()
	assert.Equal(t, 130.0, s.Position)
	assert.Equal(t, 0.0, s.Level)
}

func TestBottleReset(t *testing.T) {
	b := NewBottle(DefaultBottleParams())
	b.SetState(BottleState{Position: 300, Level: 0.5})
	b.Reset()

	assert.Equal(t, BottleState{}, b.State())
}

func TestBottleProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("level stays within [0,1]", prop.ForAll(
		func(steps []bool, start float64) bool {
			b := NewBottle(DefaultBottleParams())
			b.SetState(BottleState{Position: start})
			for i, s := range steps {
				in := map[string]tags.Value{BottleNozzle: tags.Bool(s), BottleMotor: tags.Bool(i%3 == 0)}
				b.Update(dt, in)
				if l := b.State().Level; l < 0 || l > 1 {
					return false
				}
			}
			return true
		},
		gen.SliceOf(gen.Bool()),
		gen.Float64Range(0, 650),
	))

	properties.Property("identical state and inputs give identical outputs", prop.ForAll(
		func(pos, level float64, motor, nozzle bool) bool {
			a := NewBottle(DefaultBottleParams())
			b := NewBottle(DefaultBottleParams())
			a.SetState(BottleState{Position: pos, Level: level})
			b.SetState(BottleState{Position: pos, Level: level})
			in := map[string]tags.Value{BottleMotor: tags.Bool(motor), BottleNozzle: tags.Bool(nozzle)}

			outA := a.Update(dt, in)
			outB := b.Update(dt, in)
			if a.State() != b.State() || len(outA) != len(outB) {
				return false
			}
			for k, v := range outA {
				if outB[k] != v {
					return false
				}
			}
			return true
		},
		gen.Float64Range(0, 700),
		gen.Float64Range(0, 1),
		gen.Bool(),
		gen.Bool(),
	))

	properties.TestingRun(t)
}
