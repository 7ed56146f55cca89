package plantstate

import (
	"strings"
	"sync"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/virtuaplant/virtuaplant/pkg/tags"
)

const testMap = `name,type,table,address,width,units,desc,role
SENSOR_LIMIT_SWITCH,BOOL,DI,0,1,,,Sensor
SENSOR_TANK_LEVEL,INT,IR,3,1,%,,Sensor
SENSOR_FLOW_TOTAL,INT,IR,150,2,L,,Sensor
ACT_MOTOR,BOOL,COIL,0,1,,,Actuator
ACT_SETPOINT,INT,HR,4,1,,,Actuator
CMD_RUN,BOOL,COIL,1,1,,,Command
CMD_BATCH,INT,HR,10,3,,,Command
`

func newTestStore(t *testing.T) *Store {
	t.Helper()
	list, err := tags.Parse(strings.NewReader(testMap))
	require.NoError(t, err)
	reg, err := tags.NewRegistry(list)
	require.NoError(t, err)
	return New(reg)
}

func TestNewSizesTables(t *testing.T) {
	s := newTestStore(t)

	assert.Equal(t, MinTableSize, s.Size(tags.TableDiscreteInput))
	assert.Equal(t, MinTableSize, s.Size(tags.TableCoil))
	assert.Equal(t, 152, s.Size(tags.TableInputRegister), "sized to cover the highest span")
}

func TestReadUnknownTag(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Read("ACT_NOPE")
	var unknown *UnknownTagError
	require.ErrorAs(t, err, &unknown)
	assert.Equal(t, "ACT_NOPE", unknown.Name)
	assert.ErrorIs(t, err, ErrUnknownTag)

	assert.ErrorIs(t, s.Write("ACT_NOPE", tags.Bool(true)), ErrUnknownTag)
}

func TestWriteReadRoundTrip(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.Write("ACT_MOTOR", tags.Bool(true)))
	v, err := s.Read("ACT_MOTOR")
	require.NoError(t, err)
	assert.Equal(t, tags.Bool(true), v)

	require.NoError(t, s.Write("ACT_SETPOINT", tags.Int(75)))
	v, err = s.Read("ACT_SETPOINT")
	require.NoError(t, err)
	assert.Equal(t, tags.Int(75), v)
}

func TestWriteRejectsPlantOwnedTags(t *testing.T) {
	s := newTestStore(t)

	err := s.Write("SENSOR_LIMIT_SWITCH", tags.Bool(true))
	var ro *ReadOnlyTableError
	require.ErrorAs(t, err, &ro)
	assert.Equal(t, tags.TableDiscreteInput, ro.Table)

	assert.ErrorIs(t, s.Write("SENSOR_TANK_LEVEL", tags.Int(50)), ErrReadOnly)
}

func TestUpdateSensorsBypassesWriteRestriction(t *testing.T) {
	s := newTestStore(t)

	require.Error(t, s.Write("SENSOR_LIMIT_SWITCH", tags.Bool(true)))
	require.NoError(t, s.UpdateSensors(map[string]tags.Value{
		"SENSOR_LIMIT_SWITCH": tags.Bool(true),
		"SENSOR_TANK_LEVEL":   tags.Int(42),
		"ACT_MOTOR":           tags.Bool(true),
	}))

	v, err := s.Read("SENSOR_LIMIT_SWITCH")
	require.NoError(t, err)
	assert.Equal(t, tags.Bool(true), v)

	v, err = s.Read("SENSOR_TANK_LEVEL")
	require.NoError(t, err)
	assert.Equal(t, tags.Int(42), v)
}

func TestUpdateSensorsIsAllOrNothing(t *testing.T) {
	s := newTestStore(t)

	err := s.UpdateSensors(map[string]tags.Value{
		"SENSOR_TANK_LEVEL": tags.Int(42),
		"bottle_position":   tags.Float(130),
	})
	require.ErrorIs(t, err, ErrUnknownTag)

	v, err := s.Read("SENSOR_TANK_LEVEL")
	require.NoError(t, err)
	assert.Equal(t, tags.Int(0), v)

	err = s.UpdateSensors(map[string]tags.Value{"SENSOR_LIMIT_SWITCH": tags.Float(0.5)})
	assert.ErrorIs(t, err, ErrTypeMismatch)
}

func TestReadActuators(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Write("ACT_MOTOR", tags.Bool(true)))
	require.NoError(t, s.Write("CMD_RUN", tags.Bool(true)))

	acts := s.ReadActuators()
	assert.Equal(t, map[string]tags.Value{
		"ACT_MOTOR":    tags.Bool(true),
		"ACT_SETPOINT": tags.Int(0),
	}, acts)

	cmds := s.ReadRole(tags.RoleCommand)
	assert.Equal(t, tags.Bool(true), cmds["CMD_RUN"])
	assert.Len(t, s.Snapshot(), 7)
}

func TestMultiRegisterSpan(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.Write("CMD_BATCH", tags.Int(-123456789)))
	v, err := s.Read("CMD_BATCH")
	require.NoError(t, err)
	assert.Equal(t, tags.Int(-123456789), v)

	cells, err := s.ReadCells(tags.TableHoldingRegister, 10, 3)
	require.NoError(t, err)
	for _, c := range cells {
		assert.True(t, c >= 0 && c <= 0xFFFF, "cell %d is not a 16-bit word", c)
	}
}

func TestRawCells(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.WriteCells(tags.TableCoil, 0, []int64{5, 0}))
	v, err := s.Read("ACT_MOTOR")
	require.NoError(t, err)
	assert.Equal(t, tags.Bool(true), v)

	cells, err := s.ReadCells(tags.TableCoil, 0, 2)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 0}, cells)

	assert.ErrorIs(t, s.WriteCells(tags.TableInputRegister, 0, []int64{1}), ErrReadOnly)

	_, err = s.ReadCells(tags.TableDiscreteInput, 99, 2)
	assert.ErrorIs(t, err, ErrOutOfRange)
}

func TestConcurrentWritesAreNeverTorn(t *testing.T) {
	s := newTestStore(t)
	const (
		a = int64(0x12345678)
		b = int64(-2)
	)

	var wg sync.WaitGroup
	stop := make(chan struct{})
	for _, v := range []int64{a, b} {
		wg.Add(1)
		go func(v int64) {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
					_ = s.UpdateSensors(map[string]tags.Value{"SENSOR_FLOW_TOTAL": tags.Int(v)})
				}
			}
		}(v)
	}

	for i := 0; i < 5000; i++ {
		v, err := s.Read("SENSOR_FLOW_TOTAL")
		require.NoError(t, err)
		got := tags.AsInt(v)
		require.Contains(t, []int64{0, a, b}, got)
	}
	close(stop)
	wg.Wait()
}

func TestStoreProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	s := newTestStore(t)

	properties.Property("holding register write then read returns the value", prop.ForAll(
		func(v int64) bool {
			if err := s.Write("ACT_SETPOINT", tags.Int(v)); err != nil {
				return false
			}
			got, err := s.Read("ACT_SETPOINT")
			return err == nil && tags.AsInt(got) == v
		},
		gen.Int64(),
	))

	properties.Property("three-word span round-trips 48-bit values", prop.ForAll(
		func(v int64) bool {
			if err := s.Write("CMD_BATCH", tags.Int(v)); err != nil {
				return false
			}
			got, err := s.Read("CMD_BATCH")
			return err == nil && tags.AsInt(got) == v
		},
		gen.Int64Range(-(1 << 47), (1<<47)-1),
	))

	properties.Property("coil write then read returns the value", prop.ForAll(
		func(v bool) bool {
			if err := s.Write("ACT_MOTOR", tags.Bool(v)); err != nil {
				return false
			}
			got, err := s.Read("ACT_MOTOR")
			return err == nil && tags.AsBool(got) == v
		},
		gen.Bool(),
	))

	properties.TestingRun(t)
}
