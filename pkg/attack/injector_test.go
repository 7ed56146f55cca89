package attack

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/virtuaplant/virtuaplant/pkg/physics"
	"github.com/virtuaplant/virtuaplant/pkg/plantstate"
	"github.com/virtuaplant/virtuaplant/pkg/tags"
)

var epoch = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func newInjector(t *testing.T, target Target, plant physics.Plant, opts ...Option) *Injector {
	t.Helper()
	opts = append([]Option{WithSeed(7), WithTickInterval(10 * time.Millisecond)}, opts...)
	inj := NewInjector(target, plant, opts...)
	t.Cleanup(inj.Close)
	return inj
}

func TestStartAttackID(t *testing.T) {
	inj := newInjector(t, newStore(t, physics.PlantBottle), physics.PlantBottle, WithClock(fixedClock(epoch)))

	id, err := inj.StartAttack(context.Background(), NewConfig(KindNeverStop, physics.PlantBottle))
	require.NoError(t, err)
	assert.Equal(t, "never_stop_1714564800", id)
	assert.Contains(t, inj.ListAttacks(), id)
}

func TestStartAttackRejectsDuplicate(t *testing.T) {
	inj := newInjector(t, newStore(t, physics.PlantBottle), physics.PlantBottle, WithClock(fixedClock(epoch)))
	cfg := NewConfig(KindStopAll, physics.PlantBottle)

	id, err := inj.StartAttack(context.Background(), cfg)
	require.NoError(t, err)

	_, err = inj.StartAttack(context.Background(), cfg)
	var dup *DuplicateAttackError
	require.ErrorAs(t, err, &dup)
	assert.Equal(t, id, dup.ID)
	assert.ErrorIs(t, err, ErrDuplicateAttack)

	// Another kind in the same second is fine.
	_, err = inj.StartAttack(context.Background(), NewConfig(KindNothingRuns, physics.PlantBottle))
	assert.NoError(t, err)
	assert.Equal(t, 2, inj.ActiveCount())
}

func TestStartAttackValidation(t *testing.T) {
	inj := newInjector(t, newStore(t, physics.PlantBottle), physics.PlantBottle)

	tests := []struct {
		name   string
		cfg    Config
		target error
	}{
		{"plant mismatch", NewConfig(KindNeverStop, physics.PlantRefinery), ErrPlantMismatch},
		{"unknown target tag", Config{Kind: KindSensorSpoofing, Plant: physics.PlantBottle, TargetTags: []string{"SENSOR_NOPE"}}, plantstate.ErrUnknownTag},
		{"unknown value tag", Config{Kind: KindActuatorOverride, Plant: physics.PlantBottle, Values: map[string]tags.Value{"ACT_NOPE": tags.Bool(true)}}, plantstate.ErrUnknownTag},
		{"bad kind", Config{Kind: "meltdown", Plant: physics.PlantBottle}, nil},
		{"bad intensity", Config{Kind: KindNeverStop, Plant: physics.PlantBottle, Intensity: 1.5}, nil},
		{"negative duration", Config{Kind: KindNeverStop, Plant: physics.PlantBottle, Duration: -1}, nil},
		{"refinery kind on bottle", NewConfig(KindRunNoSpill, physics.PlantBottle), nil},
		{"targets on timing attack", Config{Kind: KindTimingAttack, Plant: physics.PlantBottle, TargetTags: []string{"ACT_MOTOR"}}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := inj.StartAttack(context.Background(), tt.cfg)
			require.Error(t, err)
			if tt.target != nil {
				assert.ErrorIs(t, err, tt.target)
			}
		})
	}
	assert.Zero(t, inj.ActiveCount())
}

func TestZeroIntensityAttackWritesNothing(t *testing.T) {
	inj := newInjector(t, newStore(t, physics.PlantBottle), physics.PlantBottle, WithTickInterval(time.Millisecond))

	cfg := NewConfig(KindActuatorOverride, physics.PlantBottle)
	cfg.Intensity = 0
	cfg.Duration = 0.2
	id, err := inj.StartAttack(context.Background(), cfg)
	require.NoError(t, err)
	inj.Wait()

	rec, err := inj.Attack(id)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, rec.Status)
	assert.Zero(t, rec.Config.Intensity)
	assert.Positive(t, rec.Ticks)
	assert.Zero(t, rec.Writes)
}

func TestStopAttackIsIdempotent(t *testing.T) {
	inj := newInjector(t, newStore(t, physics.PlantBottle), physics.PlantBottle)

	id, err := inj.StartAttack(context.Background(), NewConfig(KindConstantRunning, physics.PlantBottle))
	require.NoError(t, err)
	assert.Eventually(t, func() bool {
		rec, err := inj.Attack(id)
		return err == nil && rec.Ticks > 0
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, inj.StopAttack(id))
	assert.NotContains(t, inj.ListAttacks(), id)

	err = inj.StopAttack(id)
	var notFound *AttackNotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, id, notFound.ID)

	inj.Wait()
	rec, err := inj.Attack(id)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, rec.Status)
	assert.NotNil(t, rec.EndedAt)
	assert.Positive(t, rec.Ticks)
}

func TestStopAllAttacks(t *testing.T) {
	inj := newInjector(t, newStore(t, physics.PlantRefinery), physics.PlantRefinery, WithClock(steppingClock(epoch)))

	for n := 0; n < 3; n++ {
		_, err := inj.StartAttack(context.Background(), NewConfig(KindRunNoSpill, physics.PlantRefinery))
		require.NoError(t, err)
	}
	assert.Equal(t, 3, inj.StopAllAttacks())
	assert.Empty(t, inj.ListAttacks())
	assert.Zero(t, inj.StopAllAttacks())

	inj.Wait()
	history := inj.History()
	require.Len(t, history, 3)
	for _, rec := range history {
		assert.Equal(t, StatusCancelled, rec.Status)
	}
}

func TestListAttacksIsACopy(t *testing.T) {
	inj := newInjector(t, newStore(t, physics.PlantBottle), physics.PlantBottle)
	cfg := NewConfig(KindSensorSpoofing, physics.PlantBottle)
	cfg.TargetTags = []string{"SENSOR_LEVEL_SENSOR"}

	id, err := inj.StartAttack(context.Background(), cfg)
	require.NoError(t, err)

	list := inj.ListAttacks()
	got := list[id]
	got.TargetTags[0] = "SENSOR_LIMIT_SWITCH"
	delete(list, id)

	again := inj.ListAttacks()
	require.Contains(t, again, id)
	assert.Equal(t, []string{"SENSOR_LEVEL_SENSOR"}, again[id].TargetTags)
	assert.Equal(t, []string{"SENSOR_LEVEL_SENSOR"}, cfg.TargetTags, "caller slice untouched")
}

func TestAttackDurationBound(t *testing.T) {
	if testing.Short() {
		t.Skip("runs for two seconds")
	}
	inj := NewInjector(newStore(t, physics.PlantBottle), physics.PlantBottle)
	defer inj.Close()

	cfg := NewConfig(KindNeverStop, physics.PlantBottle)
	cfg.Duration = 2.0

	start := time.Now()
	id, err := inj.StartAttack(context.Background(), cfg)
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		return len(inj.ListAttacks()) == 0
	}, 2*time.Second+500*time.Millisecond, 10*time.Millisecond)
	elapsed := time.Since(start)
	assert.GreaterOrEqual(t, elapsed, 2*time.Second)

	inj.Wait()
	rec, err := inj.Attack(id)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, rec.Status)
	assert.InDelta(t, 20, rec.Ticks, 3, "10 Hz for two seconds")
}

func TestShortAttackCompletes(t *testing.T) {
	rec := &memRecorder{}
	inj := newInjector(t, newStore(t, physics.PlantRefinery), physics.PlantRefinery, WithRecorder(rec))

	cfg := NewConfig(KindStopAll, physics.PlantRefinery)
	cfg.Duration = 0.05
	id, err := inj.StartAttack(context.Background(), cfg)
	require.NoError(t, err)

	inj.Wait()
	got, err := inj.Attack(id)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, got.Status)
	assert.Equal(t, 1, rec.len())
	assert.Equal(t, id, rec.records[0].ID)
}

func TestPatternPanicFailsOnlyThatAttack(t *testing.T) {
	store := newStore(t, physics.PlantBottle)
	target := &funcTarget{
		reg: store.Registry(),
		update: func(values map[string]tags.Value) error {
			if _, ok := values[physics.BottleNozzle]; ok && len(values) == 3 {
				panic("register bank on fire")
			}
			return store.UpdateSensors(values)
		},
	}
	inj := newInjector(t, target, physics.PlantBottle)

	bad, err := inj.StartAttack(context.Background(), NewConfig(KindStopAll, physics.PlantBottle))
	require.NoError(t, err)
	good, err := inj.StartAttack(context.Background(), NewConfig(KindNothingRuns, physics.PlantBottle))
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		rec, err := inj.Attack(bad)
		return err == nil && rec.Status == StatusFailed
	}, time.Second, 5*time.Millisecond)

	rec, err := inj.Attack(bad)
	require.NoError(t, err)
	assert.Contains(t, rec.Error, "register bank on fire")
	assert.NotContains(t, inj.ListAttacks(), bad)

	assert.Contains(t, inj.ListAttacks(), good)
	running, err := inj.Attack(good)
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, running.Status)
}

func TestPatternErrorFailsAttack(t *testing.T) {
	store := newStore(t, physics.PlantBottle)
	target := &funcTarget{
		reg:    store.Registry(),
		update: func(map[string]tags.Value) error { return errors.New("bus fault") },
	}
	inj := newInjector(t, target, physics.PlantBottle)

	id, err := inj.StartAttack(context.Background(), NewConfig(KindNeverStop, physics.PlantBottle))
	require.NoError(t, err)
	inj.Wait()

	rec, err := inj.Attack(id)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, rec.Status)
	assert.Equal(t, "bus fault", rec.Error)
}

func TestAccessErrorSkipsTick(t *testing.T) {
	store := newStore(t, physics.PlantBottle)
	target := &funcTarget{
		reg: store.Registry(),
		update: func(map[string]tags.Value) error {
			return &plantstate.UnknownTagError{Name: "CMD_RUN"}
		},
	}
	inj := newInjector(t, target, physics.PlantBottle)

	cfg := NewConfig(KindNeverStop, physics.PlantBottle)
	cfg.Duration = 0.1
	id, err := inj.StartAttack(context.Background(), cfg)
	require.NoError(t, err)
	inj.Wait()

	rec, err := inj.Attack(id)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, rec.Status)
	assert.Zero(t, rec.Writes)
}

func TestParentContextCancelsAttack(t *testing.T) {
	inj := newInjector(t, newStore(t, physics.PlantBottle), physics.PlantBottle)

	ctx, cancel := context.WithCancel(context.Background())
	id, err := inj.StartAttack(ctx, NewConfig(KindMoveAndFill, physics.PlantBottle))
	require.NoError(t, err)
	cancel()
	inj.Wait()

	rec, err := inj.Attack(id)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, rec.Status)
	assert.Empty(t, inj.ListAttacks())
}

func TestCloseRejectsStarts(t *testing.T) {
	inj := NewInjector(newStore(t, physics.PlantBottle), physics.PlantBottle)
	_, err := inj.StartAttack(context.Background(), NewConfig(KindNeverStop, physics.PlantBottle))
	require.NoError(t, err)

	inj.Close()
	assert.Empty(t, inj.ListAttacks())

	_, err = inj.StartAttack(context.Background(), NewConfig(KindStopAll, physics.PlantBottle))
	assert.ErrorIs(t, err, ErrInjectorClosed)
}

func TestAttackWritesReachStore(t *testing.T) {
	store := newStore(t, physics.PlantBottle)
	inj := newInjector(t, store, physics.PlantBottle)

	_, err := inj.StartAttack(context.Background(), NewConfig(KindStopAndFill, physics.PlantBottle))
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		v, err := store.Read(physics.BottleNozzle)
		return err == nil && tags.AsBool(v)
	}, time.Second, 5*time.Millisecond)

	motor, err := store.Read(physics.BottleMotor)
	require.NoError(t, err)
	assert.False(t, tags.AsBool(motor))
}

func TestNeverStopAlongsidePhysics(t *testing.T) {
	store := newStore(t, physics.PlantBottle)
	inj := newInjector(t, store, physics.PlantBottle, WithTickInterval(time.Millisecond))

	_, err := inj.StartAttack(context.Background(), NewConfig(KindNeverStop, physics.PlantBottle))
	require.NoError(t, err)

	engine := physics.NewBottle(physics.DefaultBottleParams())
	reg := store.Registry()
	for tick := 0; tick < 2000; tick++ {
		inputs := store.ReadActuators()
		for name, v := range store.ReadRole(tags.RoleCommand) {
			inputs[name] = v
		}
		outputs := engine.Update(0.02, inputs)
		sensors := make(map[string]tags.Value)
		for name, v := range outputs {
			if reg.Has(name) {
				sensors[name] = v
			}
		}
		require.NoError(t, store.UpdateSensors(sensors))

		for name, v := range store.Snapshot() {
			tag, _ := reg.Get(name)
			cell, err := tags.Encode(tag.Type, v)
			require.NoError(t, err)
			assert.Contains(t, []int64{0, 1}, cell, name)
		}
	}
	assert.Equal(t, 1, inj.StopAllAttacks())
}
