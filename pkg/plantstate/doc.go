// Package plantstate holds the live register space of a simulated plant.
//
// The Store owns four tables (discrete inputs, coils, holding registers and
// input registers), each guarded by its own lock. It is the single source of
// truth shared by the simulation loop, the attack workers and any fieldbus
// server fronting the plant. Every access goes through a registered tag name,
// except the raw cell accessors meant for a protocol server.
//
// Writes are visible to the next read immediately. Concurrent writers to the
// same tag resolve as last-writer-wins.
package plantstate
