package engine

import (
	"context"
	"testing"

	"github.com/virtuaplant/virtuaplant/pkg/physics"
)

func TestRoundTripShippedMaps(t *testing.T) {
	tests := []struct {
		plant physics.Plant
		src   string
	}{
		{physics.PlantBottle, bottleMap},
		{physics.PlantRefinery, refineryMap},
	}
	for _, tt := range tests {
		t.Run(string(tt.plant), func(t *testing.T) {
			result := RoundTrip(context.Background(), newRegistry(t, tt.src), tt.plant)
			for _, c := range result.Checks {
				if !c.Passed {
					t.Errorf("check %s failed: %s", c.Name, c.Detail)
				}
			}
			if result.Ratio() != 1 {
				t.Errorf("Ratio() = %f, want 1", result.Ratio())
			}
			if !result.OK(DefaultRoundTripThreshold) {
				t.Error("OK() = false")
			}
		})
	}
}

func TestRoundTripIncompleteMap(t *testing.T) {
	const partial = `name,type,table,address,role
SENSOR_LIMIT_SWITCH,BOOL,DI,0,Sensor
ACT_NOZZLE,BOOL,COIL,1,Actuator
`
	result := RoundTrip(context.Background(), newRegistry(t, partial), physics.PlantBottle)

	failed := map[string]bool{}
	for _, c := range result.Checks {
		if !c.Passed {
			failed[c.Name] = true
		}
	}
	if !failed["basic_physics"] {
		t.Error("basic_physics should fail without CMD_RUN and ACT_MOTOR")
	}
	if failed["tag_access"] || failed["sensor_update"] {
		t.Errorf("store checks should pass, failed = %v", failed)
	}
	if result.OK(1) {
		t.Error("OK(1) should be false")
	}
	if result.Passed() != len(result.Checks)-len(failed) {
		t.Errorf("Passed() = %d, want %d", result.Passed(), len(result.Checks)-len(failed))
	}
}
