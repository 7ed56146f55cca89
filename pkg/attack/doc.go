// Package attack injects faults into a running plant.
//
// An Injector owns a set of attack workers. Each worker applies one pattern
// to the plant state at a fixed cadence, writing through the same
// unrestricted path the physics engine uses, until its duration elapses or
// it is stopped. Workers are independent: a pattern that fails or panics
// ends only its own attack.
//
// A Manager adds named scenarios, each a list of attack configs started
// together.
package attack
