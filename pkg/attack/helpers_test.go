package attack

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

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

func newStore(t *testing.T, plant physics.Plant) *plantstate.Store {
	t.Helper()
	src := bottleMap
	if plant == physics.PlantRefinery {
		src = refineryMap
	}
	list, err := tags.Parse(strings.NewReader(src))
	require.NoError(t, err)
	reg, err := tags.NewRegistry(list)
	require.NoError(t, err)
	return plantstate.New(reg)
}

// steppingClock returns a clock that advances one second per call, so that
// repeated starts of the same kind get distinct ids.
func steppingClock(start time.Time) func() time.Time {
	var mu sync.Mutex
	now := start
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		now = now.Add(time.Second)
		return now
	}
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

// funcTarget adapts a function into a Target.
type funcTarget struct {
	reg    *tags.Registry
	update func(map[string]tags.Value) error
}

func (f *funcTarget) UpdateSensors(values map[string]tags.Value) error { return f.update(values) }
func (f *funcTarget) Registry() *tags.Registry                         { return f.reg }

type memRecorder struct {
	mu      sync.Mutex
	records []*Record
}

func (m *memRecorder) SaveAttack(_ context.Context, rec *Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, rec)
	return nil
}

func (m *memRecorder) len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}
