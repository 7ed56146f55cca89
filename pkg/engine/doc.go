// Package engine runs a plant simulation and classifies the errors it meets.
//
// # Simulation Loop
//
// A Loop couples a plantstate.Store with a physics.Engine. Every tick it:
//
//  1. Reads the Actuator and Command tags from the store
//  2. Advances the physics model by a fixed DT
//  3. Writes the outputs that name a registered tag back through
//     UpdateSensors, and exports the remaining continuous outputs as metrics
//
// Run paces ticks at DT/Speedup of wall time, so a speedup compresses wall
// time while the model still sees the same step. Attack workers mutate the
// same store concurrently and the last writer wins.
//
// # Error Classification
//
// ClassOf maps any error from the simulator's packages onto a small
// taxonomy:
//
//   - load-fatal: the tag map cannot be used, startup stops
//   - load-advisory: reported at startup, not fatal
//   - access: a rejected store access, the tick or call is skipped
//   - lifecycle: a rejected attack operation
//   - worker: one attack worker ended
//   - internal: anything else
//
// # Round Trip
//
// RoundTrip exercises a tag map against the store, the physics model and the
// attack injector and reports a pass ratio. The validate command uses it.
package engine
