package stores

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/virtuaplant/virtuaplant/pkg/attack"
	"github.com/virtuaplant/virtuaplant/pkg/engine"
	"github.com/virtuaplant/virtuaplant/pkg/physics"
	"github.com/virtuaplant/virtuaplant/pkg/plantstate"
	"github.com/virtuaplant/virtuaplant/pkg/tags"
	"github.com/virtuaplant/virtuaplant/pkg/telemetry"
)

// setupTestStore creates an in-memory SQLite store for testing
func setupTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	store, err := NewSQLiteStore(Config{
		Path: ":memory:",
	})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		t.Fatalf("failed to initialize store: %v", err)
	}

	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("failed to migrate store: %v", err)
	}

	t.Cleanup(func() { _ = store.Close() })
	return store
}

func newRecord(id string, kind attack.Kind, plant physics.Plant, started time.Time) *attack.Record {
	return &attack.Record{
		ID:        id,
		Config:    attack.NewConfig(kind, plant),
		Status:    attack.StatusRunning,
		StartedAt: started,
	}
}

// TestStoreLifecycle tests database initialization and closure
func TestStoreLifecycle(t *testing.T) {
	store, err := NewSQLiteStore(Config{
		Path: ":memory:",
	})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	if store.cfg.MaxOpenConns != 1 {
		t.Errorf("expected a single connection for :memory:, got %d", store.cfg.MaxOpenConns)
	}

	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		t.Fatalf("failed to initialize store: %v", err)
	}

	if err := store.HealthCheck(ctx); err != nil {
		t.Fatalf("health check failed: %v", err)
	}

	if err := store.Close(); err != nil {
		t.Fatalf("failed to close store: %v", err)
	}
}

func TestNewSQLiteStoreRequiresPath(t *testing.T) {
	if _, err := NewSQLiteStore(Config{}); err == nil {
		t.Fatal("expected error for empty path")
	}
}

func TestHealthCheckBeforeInit(t *testing.T) {
	store, err := NewSQLiteStore(Config{Path: ":memory:"})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	if err := store.HealthCheck(context.Background()); err == nil {
		t.Fatal("expected health check to fail before Init")
	}
	if err := store.Migrate(context.Background()); err == nil {
		t.Fatal("expected migrate to fail before Init")
	}
}

// TestStoreMigrations tests database migrations
func TestStoreMigrations(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	tables := []string{"attacks", "events", "tag_snapshots"}
	for _, table := range tables {
		query := "SELECT COUNT(*) FROM " + table
		var count int
		err := store.db.QueryRowContext(ctx, query).Scan(&count)
		if err != nil {
			t.Errorf("table %s does not exist or is not accessible: %v", table, err)
		}
	}

	// A second run is a no-op.
	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("second migrate failed: %v", err)
	}
}

func TestAttackUpsert(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	started := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	rec := newRecord("actuator_override_1714564800", attack.KindActuatorOverride, physics.PlantBottle, started)
	rec.Config.TargetTags = []string{"ACT_MOTOR"}
	rec.Config.Values = map[string]tags.Value{"ACT_MOTOR": tags.Bool(true)}

	if err := store.SaveAttack(ctx, rec); err != nil {
		t.Fatalf("failed to save attack: %v", err)
	}

	got, err := store.GetAttack(ctx, rec.ID)
	if err != nil {
		t.Fatalf("failed to get attack: %v", err)
	}
	if got.Status != attack.StatusRunning {
		t.Errorf("expected status running, got %s", got.Status)
	}
	if got.Config.Kind != attack.KindActuatorOverride || got.Config.Plant != physics.PlantBottle {
		t.Errorf("unexpected config: %+v", got.Config)
	}
	if !got.StartedAt.Equal(started) {
		t.Errorf("expected started_at %v, got %v", started, got.StartedAt)
	}
	if got.EndedAt != nil {
		t.Errorf("expected no ended_at, got %v", got.EndedAt)
	}
	if v, ok := got.Config.Values["ACT_MOTOR"]; !ok || !tags.AsBool(v) {
		t.Errorf("expected ACT_MOTOR override to survive, got %v", got.Config.Values)
	}

	ended := started.Add(60 * time.Second)
	rec.Status = attack.StatusCompleted
	rec.EndedAt = &ended
	rec.Ticks = 600
	rec.Writes = 1200
	if err := store.SaveAttack(ctx, rec); err != nil {
		t.Fatalf("failed to update attack: %v", err)
	}

	got, err = store.GetAttack(ctx, rec.ID)
	if err != nil {
		t.Fatalf("failed to get attack: %v", err)
	}
	if got.Status != attack.StatusCompleted {
		t.Errorf("expected status completed, got %s", got.Status)
	}
	if got.EndedAt == nil || !got.EndedAt.Equal(ended) {
		t.Errorf("expected ended_at %v, got %v", ended, got.EndedAt)
	}
	if got.Ticks != 600 || got.Writes != 1200 {
		t.Errorf("expected 600 ticks and 1200 writes, got %d and %d", got.Ticks, got.Writes)
	}
}

func TestSaveAttackRequiresID(t *testing.T) {
	store := setupTestStore(t)
	if err := store.SaveAttack(context.Background(), &attack.Record{}); err == nil {
		t.Fatal("expected error for record without id")
	}
}

func TestGetAttackNotFound(t *testing.T) {
	store := setupTestStore(t)
	_, err := store.GetAttack(context.Background(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestListAttacksFilters(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	records := []*attack.Record{
		newRecord("stop_all_1", attack.KindStopAll, physics.PlantBottle, base),
		newRecord("never_stop_2", attack.KindNeverStop, physics.PlantBottle, base.Add(time.Second)),
		newRecord("constant_running_3", attack.KindConstantRunning, physics.PlantRefinery, base.Add(2*time.Second)),
	}
	records[0].Status = attack.StatusCancelled
	for _, rec := range records {
		if err := store.SaveAttack(ctx, rec); err != nil {
			t.Fatalf("failed to save attack %s: %v", rec.ID, err)
		}
	}

	all, err := store.ListAttacks(ctx, AttackFilter{})
	if err != nil {
		t.Fatalf("failed to list attacks: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 attacks, got %d", len(all))
	}
	if all[0].ID != "constant_running_3" {
		t.Errorf("expected newest first, got %s", all[0].ID)
	}

	bottle, err := store.ListAttacks(ctx, AttackFilter{Plant: "bottle"})
	if err != nil {
		t.Fatalf("failed to list attacks: %v", err)
	}
	if len(bottle) != 2 {
		t.Errorf("expected 2 bottle attacks, got %d", len(bottle))
	}

	cancelled, err := store.ListAttacks(ctx, AttackFilter{Status: attack.StatusCancelled})
	if err != nil {
		t.Fatalf("failed to list attacks: %v", err)
	}
	if len(cancelled) != 1 || cancelled[0].ID != "stop_all_1" {
		t.Errorf("expected only stop_all_1, got %v", cancelled)
	}

	byKind, err := store.ListAttacks(ctx, AttackFilter{Kind: string(attack.KindNeverStop)})
	if err != nil {
		t.Fatalf("failed to list attacks: %v", err)
	}
	if len(byKind) != 1 || byKind[0].ID != "never_stop_2" {
		t.Errorf("expected only never_stop_2, got %v", byKind)
	}

	page, err := store.ListAttacks(ctx, AttackFilter{Limit: 1, Offset: 1})
	if err != nil {
		t.Fatalf("failed to list attacks: %v", err)
	}
	if len(page) != 1 || page[0].ID != "never_stop_2" {
		t.Errorf("expected second page to hold never_stop_2, got %v", page)
	}
}

func TestEventLog(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	events := []telemetry.Event{
		{
			Type:      telemetry.EventTypeAttackStarted,
			Source:    "attack",
			Plant:     "bottle",
			AttackID:  "stop_all_1",
			Level:     telemetry.EventLevelInfo,
			Message:   "attack started",
			Timestamp: base,
			Data:      map[string]interface{}{"kind": "stop_all"},
		},
		{
			Type:      telemetry.EventTypeRegistryWarning,
			Source:    "tags",
			Plant:     "bottle",
			Tag:       "ACT_MOTOR",
			Level:     telemetry.EventLevelWarning,
			Message:   "tag missing in reference",
			Timestamp: base.Add(time.Second),
		},
		{
			Type:      telemetry.EventTypeAttackFailed,
			Source:    "attack",
			AttackID:  "stop_all_1",
			Level:     telemetry.EventLevelError,
			Message:   "attack failed",
			Timestamp: base.Add(2 * time.Second),
		},
	}
	for _, ev := range events {
		if err := store.SaveEvent(ctx, ev); err != nil {
			t.Fatalf("failed to save event: %v", err)
		}
	}

	all, err := store.ListEvents(ctx, EventFilter{})
	if err != nil {
		t.Fatalf("failed to list events: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 events, got %d", len(all))
	}
	if all[0].ID == "" {
		t.Error("expected generated event id")
	}
	if all[0].Type != telemetry.EventTypeAttackStarted {
		t.Errorf("expected oldest first, got %s", all[0].Type)
	}
	if all[0].Data["kind"] != "stop_all" {
		t.Errorf("expected data to round-trip, got %v", all[0].Data)
	}
	if all[1].Tag != "ACT_MOTOR" {
		t.Errorf("expected tag ACT_MOTOR, got %q", all[1].Tag)
	}

	forAttack, err := store.ListEvents(ctx, EventFilter{AttackID: "stop_all_1"})
	if err != nil {
		t.Fatalf("failed to list events: %v", err)
	}
	if len(forAttack) != 2 {
		t.Errorf("expected 2 events for stop_all_1, got %d", len(forAttack))
	}

	warnings, err := store.ListEvents(ctx, EventFilter{Level: telemetry.EventLevelWarning})
	if err != nil {
		t.Fatalf("failed to list events: %v", err)
	}
	if len(warnings) != 1 {
		t.Errorf("expected 1 warning, got %d", len(warnings))
	}

	failed, err := store.ListEvents(ctx, EventFilter{Type: telemetry.EventTypeAttackFailed})
	if err != nil {
		t.Fatalf("failed to list events: %v", err)
	}
	if len(failed) != 1 || failed[0].Level != telemetry.EventLevelError {
		t.Errorf("expected one error-level failure event, got %v", failed)
	}
}

func TestEventSubscriberPersists(t *testing.T) {
	store := setupTestStore(t)

	publisher, err := telemetry.NewEventPublisher(telemetry.EventsConfig{
		Enabled:       true,
		EnableAsync:   true,
		BufferSize:    16,
		FlushInterval: time.Hour,
		MaxBatchSize:  1,
	})
	if err != nil {
		t.Fatalf("failed to create publisher: %v", err)
	}
	publisher.Subscribe(store.EventSubscriber(zerolog.Nop()), nil)

	if err := publisher.PublishAttackStarted("never_stop_1", "never_stop", "bottle"); err != nil {
		t.Fatalf("failed to publish: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := publisher.Shutdown(ctx); err != nil {
		t.Fatalf("failed to shut down publisher: %v", err)
	}

	events, err := store.ListEvents(context.Background(), EventFilter{AttackID: "never_stop_1"})
	if err != nil {
		t.Fatalf("failed to list events: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected 1 persisted event, got %d", len(events))
	}
	if events[0].Type != telemetry.EventTypeAttackStarted {
		t.Errorf("expected attack.started, got %s", events[0].Type)
	}
}

func TestSnapshots(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	for tick := int64(1); tick <= 5; tick++ {
		snap := &engine.Snapshot{
			Plant:   physics.PlantRefinery,
			Tick:    tick * 250,
			SimTime: float64(tick) * 5,
			TakenAt: base.Add(time.Duration(tick) * 5 * time.Second),
			Values: map[string]tags.Value{
				"SENSOR_TANK_LEVEL": tags.Int(20 + tick),
				"SENSOR_OIL_UPPER":  tags.Bool(tick == 5),
			},
		}
		if err := store.SaveSnapshot(ctx, snap); err != nil {
			t.Fatalf("failed to save snapshot: %v", err)
		}
		if snap.ID == "" {
			t.Fatal("expected snapshot id to be assigned")
		}
	}

	latest, err := store.LatestSnapshot(ctx, "refinery")
	if err != nil {
		t.Fatalf("failed to get latest snapshot: %v", err)
	}
	if latest.Tick != 1250 {
		t.Errorf("expected tick 1250, got %d", latest.Tick)
	}
	if latest.Plant != physics.PlantRefinery {
		t.Errorf("expected refinery, got %s", latest.Plant)
	}
	if got := tags.AsInt(latest.Values["SENSOR_TANK_LEVEL"]); got != 25 {
		t.Errorf("expected tank level 25, got %d", got)
	}
	if !tags.AsBool(latest.Values["SENSOR_OIL_UPPER"]) {
		t.Error("expected upper sensor set in latest snapshot")
	}

	removed, err := store.PruneSnapshots(ctx, "refinery", 2)
	if err != nil {
		t.Fatalf("failed to prune snapshots: %v", err)
	}
	if removed != 3 {
		t.Errorf("expected 3 pruned snapshots, got %d", removed)
	}

	remaining, err := store.ListSnapshots(ctx, "refinery", 0)
	if err != nil {
		t.Fatalf("failed to list snapshots: %v", err)
	}
	if len(remaining) != 2 || remaining[1].Tick != 1000 {
		t.Errorf("expected ticks 1250 and 1000 to remain, got %d snapshots", len(remaining))
	}

	if _, err := store.LatestSnapshot(ctx, "bottle"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for bottle, got %v", err)
	}
}

const bottleMap = `name,type,table,address,role
SENSOR_LIMIT_SWITCH,BOOL,DI,0,Sensor
SENSOR_LEVEL_SENSOR,BOOL,DI,1,Sensor
ACT_MOTOR,BOOL,COIL,0,Actuator
ACT_NOZZLE,BOOL,COIL,1,Actuator
CMD_RUN,BOOL,COIL,2,Command
`

func TestInjectorRecordsToStore(t *testing.T) {
	store := setupTestStore(t)

	list, err := tags.Parse(strings.NewReader(bottleMap))
	if err != nil {
		t.Fatalf("failed to parse map: %v", err)
	}
	reg, err := tags.NewRegistry(list)
	if err != nil {
		t.Fatalf("failed to build registry: %v", err)
	}

	inj := attack.NewInjector(plantstate.New(reg), physics.PlantBottle,
		attack.WithRecorder(store),
		attack.WithTickInterval(5*time.Millisecond),
	)
	defer inj.Close()

	cfg := attack.NewConfig(attack.KindStopAll, physics.PlantBottle)
	cfg.Duration = 0.05
	id, err := inj.StartAttack(context.Background(), cfg)
	if err != nil {
		t.Fatalf("failed to start attack: %v", err)
	}
	inj.Wait()

	rec, err := store.GetAttack(context.Background(), id)
	if err != nil {
		t.Fatalf("failed to load recorded attack: %v", err)
	}
	if rec.Status != attack.StatusCompleted {
		t.Errorf("expected completed, got %s", rec.Status)
	}
	if rec.EndedAt == nil {
		t.Error("expected ended_at to be recorded")
	}
	if rec.Ticks == 0 {
		t.Error("expected at least one tick")
	}
}
