package attack

import (
	"encoding/json"
	"fmt"
)

// Status is the lifecycle state of one attack.
type Status string

const (
	// StatusPending indicates the attack is registered but its worker has
	// not applied a pattern yet.
	StatusPending Status = "pending"

	// StatusRunning indicates the worker is applying the pattern.
	StatusRunning Status = "running"

	// StatusCompleted indicates the attack ran for its full duration.
	StatusCompleted Status = "completed"

	// StatusCancelled indicates the attack was stopped before its duration
	// elapsed.
	StatusCancelled Status = "cancelled"

	// StatusFailed indicates the pattern raised an error or panicked.
	StatusFailed Status = "failed"
)

// IsTerminal returns true if the status is final.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusCancelled || s == StatusFailed
}

// IsActive returns true while the attack still holds its id.
func (s Status) IsActive() bool {
	return s == StatusPending || s == StatusRunning
}

// Validate checks if the status is valid.
func (s Status) Validate() error {
	switch s {
	case StatusPending, StatusRunning, StatusCompleted, StatusCancelled, StatusFailed:
		return nil
	default:
		return fmt.Errorf("invalid attack status: %s", s)
	}
}

// MarshalJSON implements custom JSON marshaling for type-safe enum serialization.
func (s Status) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(s))
}

// UnmarshalJSON implements custom JSON unmarshaling with validation.
func (s *Status) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	*s = Status(str)
	return s.Validate()
}
