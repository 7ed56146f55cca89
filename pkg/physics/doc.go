// Package physics implements the deterministic process models of the
// simulated plants.
//
// An Engine is a state-transition function. Each call to Update advances the
// engine's private continuous state by dt seconds using the actuator and
// command readings it is given and returns the resulting sensor values, plus
// a few non-tag outputs describing the continuous state. Engines never touch
// the register space themselves; the simulation loop moves values between the
// store and the engine.
package physics
