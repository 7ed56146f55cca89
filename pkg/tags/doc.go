// Package tags loads and validates the tag map of a simulated plant.
//
// A tag map is a CSV file with one row per point of the plant's data model:
//
//	name,type,table,address,width,units,desc,role
//	SENSOR_LIMIT_SWITCH,BOOL,DI,0,1,,Bottle under nozzle,Sensor
//	ACT_MOTOR,BOOL,COIL,0,1,,Conveyor motor,Actuator
//
// Load parses the file into a read-only Registry and runs the load-time checks:
// address uniqueness per table, the role-by-prefix policy (SENSOR_ is a
// Sensor, ACT_ an Actuator, CMD_ a Command), an optional cross-check against a
// reference model exported by an external analyzer, and optional advisory
// policies. Role violations are fatal. Reference and policy findings are
// returned as warnings on the Report.
package tags
