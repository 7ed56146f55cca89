package attack

import (
	"errors"
	"fmt"

	"github.com/virtuaplant/virtuaplant/pkg/physics"
)

// Sentinel errors for errors.Is checks.
var (
	ErrDuplicateAttack = errors.New("attack already running")
	ErrAttackNotFound  = errors.New("attack not found")
	ErrPlantMismatch   = errors.New("attack targets another plant")
	ErrUnknownScenario = errors.New("unknown scenario")
	ErrInjectorClosed  = errors.New("injector closed")
)

// DuplicateAttackError is returned when the computed id of a new attack is
// already held by an active one.
type DuplicateAttackError struct {
	ID string
}

func (e *DuplicateAttackError) Error() string {
	return fmt.Sprintf("attack %s already running", e.ID)
}

// Is reports whether target is ErrDuplicateAttack.
func (e *DuplicateAttackError) Is(target error) bool { return target == ErrDuplicateAttack }

// AttackNotFoundError is returned when stopping or looking up an id that is
// not known.
type AttackNotFoundError struct {
	ID string
}

func (e *AttackNotFoundError) Error() string {
	return fmt.Sprintf("attack %s not found", e.ID)
}

// Is reports whether target is ErrAttackNotFound.
func (e *AttackNotFoundError) Is(target error) bool { return target == ErrAttackNotFound }

// PlantMismatchError is returned when a config targets a plant other than
// the one the injector drives.
type PlantMismatchError struct {
	Want physics.Plant
	Got  physics.Plant
}

func (e *PlantMismatchError) Error() string {
	return fmt.Sprintf("attack targets %s but injector drives %s", e.Got, e.Want)
}

// Is reports whether target is ErrPlantMismatch.
func (e *PlantMismatchError) Is(target error) bool { return target == ErrPlantMismatch }

// UnknownScenarioError is returned by RunScenario for a name not in the
// catalog.
type UnknownScenarioError struct {
	Name string
}

func (e *UnknownScenarioError) Error() string {
	return fmt.Sprintf("unknown scenario: %s", e.Name)
}

// Is reports whether target is ErrUnknownScenario.
func (e *UnknownScenarioError) Is(target error) bool { return target == ErrUnknownScenario }

// PatternPanicError wraps a value recovered from a panicking pattern.
type PatternPanicError struct {
	Kind  Kind
	Value interface{}
}

func (e *PatternPanicError) Error() string {
	return fmt.Sprintf("%s pattern panicked: %v", e.Kind, e.Value)
}
