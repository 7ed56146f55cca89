package stores

import (
	"context"
	"errors"

	"github.com/virtuaplant/virtuaplant/pkg/attack"
	"github.com/virtuaplant/virtuaplant/pkg/engine"
	"github.com/virtuaplant/virtuaplant/pkg/telemetry"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// AttackFilter narrows ListAttacks. Empty fields match everything.
type AttackFilter struct {
	Plant  string
	Kind   string
	Status attack.Status
	Limit  int
	Offset int
}

// EventFilter narrows ListEvents. Empty fields match everything.
type EventFilter struct {
	Type     string
	AttackID string
	Level    string
	Limit    int
	Offset   int
}

// Store defines the interface for the persistence layer
type Store interface {
	// Lifecycle
	Init(ctx context.Context) error
	Close() error
	Migrate(ctx context.Context) error

	// Attack history
	SaveAttack(ctx context.Context, rec *attack.Record) error
	GetAttack(ctx context.Context, id string) (*attack.Record, error)
	ListAttacks(ctx context.Context, filter AttackFilter) ([]*attack.Record, error)

	// Event log
	SaveEvent(ctx context.Context, event telemetry.Event) error
	ListEvents(ctx context.Context, filter EventFilter) ([]telemetry.Event, error)

	// Tag snapshots
	SaveSnapshot(ctx context.Context, snap *engine.Snapshot) error
	LatestSnapshot(ctx context.Context, plant string) (*engine.Snapshot, error)
	ListSnapshots(ctx context.Context, plant string, limit int) ([]*engine.Snapshot, error)
	PruneSnapshots(ctx context.Context, plant string, keep int) (int64, error)

	// Utility
	HealthCheck(ctx context.Context) error
}

var (
	_ Store               = (*SQLiteStore)(nil)
	_ attack.Recorder     = (*SQLiteStore)(nil)
	_ engine.SnapshotSink = (*SQLiteStore)(nil)
)
