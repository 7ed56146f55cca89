package engine

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/virtuaplant/virtuaplant/pkg/physics"
	"github.com/virtuaplant/virtuaplant/pkg/plantstate"
	"github.com/virtuaplant/virtuaplant/pkg/tags"
)

const bottleMap = `name,type,table,address,role
SENSOR_LIMIT_SWITCH,BOOL,DI,0,Sensor
SENSOR_LEVEL_SENSOR,BOOL,DI,1,Sensor
ACT_MOTOR,BOOL,COIL,0,Actuator
ACT_NOZZLE,BOOL,COIL,1,Actuator
CMD_RUN,BOOL,COIL,2,Command
`

const refineryMap = `name,type,table,address,role
SENSOR_TANK_LEVEL,INT,IR,0,Sensor
SENSOR_OIL_SPILL,INT,IR,1,Sensor
SENSOR_OIL_PROCESSED,INT,IR,2,Sensor
SENSOR_OIL_UPPER,BOOL,DI,0,Sensor
ACT_FEED_PUMP,BOOL,COIL,0,Actuator
ACT_OUTLET_VALVE,BOOL,COIL,1,Actuator
ACT_SEP_VALVE,BOOL,COIL,2,Actuator
ACT_WASTE_VALVE,BOOL,COIL,3,Actuator
`

func newRegistry(t *testing.T, src string) *tags.Registry {
	t.Helper()
	list, err := tags.Parse(strings.NewReader(src))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	reg, err := tags.NewRegistry(list)
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}
	return reg
}

func newTestLoop(t *testing.T, plant physics.Plant, cfg LoopConfig, opts ...LoopOption) (*Loop, *plantstate.Store) {
	t.Helper()
	src := bottleMap
	if plant == physics.PlantRefinery {
		src = refineryMap
	}
	store := plantstate.New(newRegistry(t, src))
	eng, err := physics.New(plant)
	if err != nil {
		t.Fatalf("physics.New() error = %v", err)
	}
	loop, err := NewLoop(store, eng, cfg, opts...)
	if err != nil {
		t.Fatalf("NewLoop() error = %v", err)
	}
	return loop, store
}

func TestLoopConfigValidate(t *testing.T) {
	if err := DefaultLoopConfig().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}

	tests := []struct {
		name string
		cfg  LoopConfig
	}{
		{"zero dt", LoopConfig{Speedup: 1}},
		{"zero speedup", LoopConfig{DT: 0.02}},
		{"negative status", LoopConfig{DT: 0.02, Speedup: 1, StatusInterval: -time.Second}},
		{"sub-nanosecond tick", LoopConfig{DT: 1e-13, Speedup: 1000}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestTickInterval(t *testing.T) {
	cfg := DefaultLoopConfig()
	if got := cfg.TickInterval(); got != 20*time.Millisecond {
		t.Errorf("TickInterval() = %v, want 20ms", got)
	}
	cfg.Speedup = 4
	if got := cfg.TickInterval(); got != 5*time.Millisecond {
		t.Errorf("TickInterval() at 4x = %v, want 5ms", got)
	}
	if got := cfg.everyTicks(5 * time.Second); got != 250 {
		t.Errorf("everyTicks(5s) = %d, want 250", got)
	}
	if got := cfg.everyTicks(0); got != 0 {
		t.Errorf("everyTicks(0) = %d, want 0", got)
	}
}

func TestTickIntervalNeverZero(t *testing.T) {
	cfg := LoopConfig{DT: 1e-13, Speedup: 1000}
	if got := cfg.TickInterval(); got != time.Nanosecond {
		t.Errorf("TickInterval() = %v, want 1ns", got)
	}

	// A ticker built from the interval must not panic.
	ticker := time.NewTicker(cfg.TickInterval())
	ticker.Stop()
}

func TestStepWritesSensors(t *testing.T) {
	loop, store := newTestLoop(t, physics.PlantRefinery, DefaultLoopConfig())

	if err := store.Write(physics.RefineryFeedPump, tags.Bool(true)); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	for i := 0; i < 100; i++ {
		if err := loop.Step(context.Background()); err != nil {
			t.Fatalf("Step() error = %v", err)
		}
	}

	if got := loop.Ticks(); got != 100 {
		t.Errorf("Ticks() = %d, want 100", got)
	}
	if got := loop.SimTime(); got < 1.999 || got > 2.001 {
		t.Errorf("SimTime() = %f, want 2.0", got)
	}

	report := loop.Report()
	level := report.Process[physics.RefineryLevelOutput]
	// 20 + 0.2 * 2s
	if level < 20.39 || level > 20.41 {
		t.Errorf("tank level = %f, want 20.4", level)
	}
	if _, ok := report.Tags[physics.RefineryTankLevel]; !ok {
		t.Error("report is missing the tank level tag")
	}
	if _, ok := report.Process[physics.RefineryPhaseOutput]; !ok {
		t.Error("phase should be exported as a process value")
	}
}

func TestStepReadsCommands(t *testing.T) {
	loop, store := newTestLoop(t, physics.PlantBottle, DefaultLoopConfig())

	if err := store.Write(physics.BottleRun, tags.Bool(true)); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if err := store.Write(physics.BottleMotor, tags.Bool(true)); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if err := loop.Step(context.Background()); err != nil {
		t.Fatalf("Step() error = %v", err)
	}

	pos := loop.Report().Process[physics.BottlePositionOutput]
	if pos <= 0 {
		t.Errorf("bottle position = %f, want > 0", pos)
	}
}

// brokenEngine emits a value the store cannot hold.
type brokenEngine struct{}

func (brokenEngine) Plant() physics.Plant { return physics.PlantBottle }
func (brokenEngine) Reset()               {}
func (brokenEngine) Update(float64, map[string]tags.Value) map[string]tags.Value {
	return map[string]tags.Value{physics.BottleLimitSwitch: tags.Float(0.5)}
}

func TestStepAccessError(t *testing.T) {
	store := plantstate.New(newRegistry(t, bottleMap))
	loop, err := NewLoop(store, brokenEngine{}, DefaultLoopConfig())
	if err != nil {
		t.Fatalf("NewLoop() error = %v", err)
	}

	err = loop.Step(context.Background())
	if err == nil {
		t.Fatal("expected an access error")
	}
	if ClassOf(err) != ErrorClassAccess {
		t.Errorf("ClassOf() = %s, want access", ClassOf(err))
	}
	if got := loop.Report().StepErrors; got != 1 {
		t.Errorf("StepErrors = %d, want 1", got)
	}
}

type memSink struct {
	mu    sync.Mutex
	snaps []*Snapshot
}

func (m *memSink) SaveSnapshot(_ context.Context, snap *Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snaps = append(m.snaps, snap)
	return nil
}

func (m *memSink) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.snaps)
}

type fixedCounter int

func (c fixedCounter) ActiveCount() int { return int(c) }

func TestRunStopsOnContext(t *testing.T) {
	cfg := DefaultLoopConfig()
	cfg.Speedup = 10
	cfg.SnapshotInterval = 100 * time.Millisecond

	sink := &memSink{}
	loop, _ := newTestLoop(t, physics.PlantBottle, cfg, WithSnapshotSink(sink), WithAttackCounter(fixedCounter(2)))

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	if err := loop.Run(ctx); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	ticks := loop.Ticks()
	if ticks < 50 || ticks > 160 {
		t.Errorf("Ticks() = %d, want roughly 150 at 10x", ticks)
	}
	if sink.count() == 0 {
		t.Error("expected at least one snapshot")
	}
	if got := loop.Report().ActiveAttacks; got != 2 {
		t.Errorf("ActiveAttacks = %d, want 2", got)
	}
}
