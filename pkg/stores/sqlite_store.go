package stores

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/virtuaplant/virtuaplant/pkg/attack"
	"github.com/virtuaplant/virtuaplant/pkg/engine"
	"github.com/virtuaplant/virtuaplant/pkg/physics"
	"github.com/virtuaplant/virtuaplant/pkg/tags"
	"github.com/virtuaplant/virtuaplant/pkg/telemetry"

	// SQLite driver
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// defaultListLimit caps list queries that do not set a limit.
const defaultListLimit = 100

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db   *sql.DB
	path string
	cfg  Config
}

// Config holds SQLite store configuration
type Config struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// NewSQLiteStore creates a new SQLite store instance
func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	// Set defaults
	if cfg.MaxOpenConns == 0 {
		cfg.MaxOpenConns = 25
	}
	if cfg.MaxIdleConns == 0 {
		cfg.MaxIdleConns = 5
	}
	if cfg.ConnMaxLifetime == 0 {
		cfg.ConnMaxLifetime = 5 * time.Minute
	}

	// Every connection to :memory: opens its own database.
	if isMemory(cfg.Path) {
		cfg.MaxOpenConns = 1
		cfg.MaxIdleConns = 1
		cfg.ConnMaxLifetime = 0
	}

	return &SQLiteStore{
		path: cfg.Path,
		cfg:  cfg,
	}, nil
}

func isMemory(path string) bool {
	return path == ":memory:" || strings.Contains(path, "mode=memory")
}

// Init opens the database connection and applies connection PRAGMAs.
func (s *SQLiteStore) Init(ctx context.Context) error {
	pragmas := []string{"foreign_keys(1)", "busy_timeout(5000)", "synchronous(NORMAL)"}
	if !isMemory(s.path) {
		pragmas = append(pragmas, "journal_mode(WAL)")
	}

	sep := "?"
	if strings.Contains(s.path, "?") {
		sep = "&"
	}
	dsn := s.path + sep + "_pragma=" + strings.Join(pragmas, "&_pragma=") + "&_txlock=immediate"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(s.cfg.MaxOpenConns)
	db.SetMaxIdleConns(s.cfg.MaxIdleConns)
	db.SetConnMaxLifetime(s.cfg.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	s.db = db
	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Migrate runs database migrations.
func (s *SQLiteStore) Migrate(_ context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	driver, err := sqlite3.WithInstance(s.db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// SaveAttack inserts or updates an attack record. It satisfies
// attack.Recorder so the injector can persist finished attacks directly.
func (s *SQLiteStore) SaveAttack(ctx context.Context, rec *attack.Record) error {
	if rec == nil || rec.ID == "" {
		return fmt.Errorf("attack record id is required")
	}

	cfg, err := json.Marshal(rec.Config)
	if err != nil {
		return fmt.Errorf("failed to encode attack config: %w", err)
	}

	var endedAt sql.NullTime
	if rec.EndedAt != nil {
		endedAt = sql.NullTime{Time: rec.EndedAt.UTC(), Valid: true}
	}

	query := `
		INSERT INTO attacks (id, kind, plant, status, config, started_at, ended_at, ticks, writes, error, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			config = excluded.config,
			ended_at = excluded.ended_at,
			ticks = excluded.ticks,
			writes = excluded.writes,
			error = excluded.error,
			updated_at = excluded.updated_at
	`

	_, err = s.db.ExecContext(ctx, query,
		rec.ID,
		string(rec.Config.Kind),
		string(rec.Config.Plant),
		string(rec.Status),
		string(cfg),
		rec.StartedAt.UTC(),
		endedAt,
		rec.Ticks,
		rec.Writes,
		rec.Error,
		time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to save attack: %w", err)
	}

	return nil
}

// GetAttack retrieves an attack record by ID
func (s *SQLiteStore) GetAttack(ctx context.Context, id string) (*attack.Record, error) {
	query := `
		SELECT id, status, config, started_at, ended_at, ticks, writes, error
		FROM attacks
		WHERE id = ?
	`

	rec, err := scanAttack(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("attack %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get attack: %w", err)
	}

	return rec, nil
}

// ListAttacks retrieves attack records, newest first
func (s *SQLiteStore) ListAttacks(ctx context.Context, filter AttackFilter) ([]*attack.Record, error) {
	query := `
		SELECT id, status, config, started_at, ended_at, ticks, writes, error
		FROM attacks
		WHERE (? = '' OR plant = ?)
		  AND (? = '' OR kind = ?)
		  AND (? = '' OR status = ?)
		ORDER BY started_at DESC, id
		LIMIT ? OFFSET ?
	`

	status := string(filter.Status)
	rows, err := s.db.QueryContext(ctx, query,
		filter.Plant, filter.Plant,
		filter.Kind, filter.Kind,
		status, status,
		limitOrDefault(filter.Limit), filter.Offset,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list attacks: %w", err)
	}
	defer rows.Close()

	records := []*attack.Record{}
	for rows.Next() {
		rec, err := scanAttack(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan attack: %w", err)
		}
		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating attacks: %w", err)
	}

	return records, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAttack(row rowScanner) (*attack.Record, error) {
	var (
		rec     attack.Record
		status  string
		cfg     string
		endedAt sql.NullTime
	)
	if err := row.Scan(&rec.ID, &status, &cfg, &rec.StartedAt, &endedAt, &rec.Ticks, &rec.Writes, &rec.Error); err != nil {
		return nil, err
	}

	rec.Status = attack.Status(status)
	if err := json.Unmarshal([]byte(cfg), &rec.Config); err != nil {
		return nil, fmt.Errorf("decode config for %s: %w", rec.ID, err)
	}
	if endedAt.Valid {
		t := endedAt.Time
		rec.EndedAt = &t
	}

	return &rec, nil
}

// SaveEvent appends a telemetry event to the event log
func (s *SQLiteStore) SaveEvent(ctx context.Context, event telemetry.Event) error {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	if event.Level == "" {
		event.Level = telemetry.EventLevelInfo
	}

	var data sql.NullString
	if len(event.Data) > 0 {
		raw, err := json.Marshal(event.Data)
		if err != nil {
			return fmt.Errorf("failed to encode event data: %w", err)
		}
		data = sql.NullString{String: string(raw), Valid: true}
	}

	query := `
		INSERT INTO events (id, type, source, plant, attack_id, tag, level, message, data, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		event.ID,
		event.Type,
		event.Source,
		event.Plant,
		event.AttackID,
		event.Tag,
		event.Level,
		event.Message,
		data,
		event.Timestamp.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to save event: %w", err)
	}

	return nil
}

// EventSubscriber returns a telemetry subscriber that persists every
// delivered event. Write failures are logged and dropped.
func (s *SQLiteStore) EventSubscriber(logger zerolog.Logger) telemetry.EventSubscriber {
	return func(event telemetry.Event) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := s.SaveEvent(ctx, event); err != nil {
			logger.Warn().
				Err(err).
				Str("event_id", event.ID).
				Str("event_type", event.Type).
				Msg("failed to persist event")
		}
	}
}

// ListEvents retrieves events with optional filters, oldest first
func (s *SQLiteStore) ListEvents(ctx context.Context, filter EventFilter) ([]telemetry.Event, error) {
	query := `
		SELECT id, type, source, plant, attack_id, tag, level, message, data, timestamp
		FROM events
		WHERE (? = '' OR type = ?)
		  AND (? = '' OR attack_id = ?)
		  AND (? = '' OR level = ?)
		ORDER BY timestamp ASC, id
		LIMIT ? OFFSET ?
	`

	rows, err := s.db.QueryContext(ctx, query,
		filter.Type, filter.Type,
		filter.AttackID, filter.AttackID,
		filter.Level, filter.Level,
		limitOrDefault(filter.Limit), filter.Offset,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	defer rows.Close()

	events := []telemetry.Event{}
	for rows.Next() {
		var (
			event telemetry.Event
			data  sql.NullString
		)
		err := rows.Scan(
			&event.ID,
			&event.Type,
			&event.Source,
			&event.Plant,
			&event.AttackID,
			&event.Tag,
			&event.Level,
			&event.Message,
			&data,
			&event.Timestamp,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		if data.Valid {
			if err := json.Unmarshal([]byte(data.String), &event.Data); err != nil {
				return nil, fmt.Errorf("failed to decode event data: %w", err)
			}
		}
		events = append(events, event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating events: %w", err)
	}

	return events, nil
}

// SaveSnapshot stores a tag snapshot. It satisfies engine.SnapshotSink.
func (s *SQLiteStore) SaveSnapshot(ctx context.Context, snap *engine.Snapshot) error {
	if snap == nil {
		return fmt.Errorf("snapshot is required")
	}
	if snap.ID == "" {
		snap.ID = uuid.New().String()
	}

	values, err := json.Marshal(snap.Values)
	if err != nil {
		return fmt.Errorf("failed to encode snapshot values: %w", err)
	}

	query := `
		INSERT INTO tag_snapshots (id, plant, tick, sim_time, taken_at, tag_values)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	_, err = s.db.ExecContext(ctx, query,
		snap.ID,
		string(snap.Plant),
		snap.Tick,
		snap.SimTime,
		snap.TakenAt.UTC(),
		string(values),
	)
	if err != nil {
		return fmt.Errorf("failed to save snapshot: %w", err)
	}

	return nil
}

// LatestSnapshot returns the snapshot with the highest tick for a plant
func (s *SQLiteStore) LatestSnapshot(ctx context.Context, plant string) (*engine.Snapshot, error) {
	snaps, err := s.ListSnapshots(ctx, plant, 1)
	if err != nil {
		return nil, err
	}
	if len(snaps) == 0 {
		return nil, fmt.Errorf("snapshot for %s: %w", plant, ErrNotFound)
	}
	return snaps[0], nil
}

// ListSnapshots retrieves a plant's snapshots, newest tick first
func (s *SQLiteStore) ListSnapshots(ctx context.Context, plant string, limit int) ([]*engine.Snapshot, error) {
	query := `
		SELECT id, plant, tick, sim_time, taken_at, tag_values
		FROM tag_snapshots
		WHERE plant = ?
		ORDER BY tick DESC
		LIMIT ?
	`

	rows, err := s.db.QueryContext(ctx, query, plant, limitOrDefault(limit))
	if err != nil {
		return nil, fmt.Errorf("failed to list snapshots: %w", err)
	}
	defer rows.Close()

	snaps := []*engine.Snapshot{}
	for rows.Next() {
		var (
			snap   engine.Snapshot
			p      string
			values string
		)
		if err := rows.Scan(&snap.ID, &p, &snap.Tick, &snap.SimTime, &snap.TakenAt, &values); err != nil {
			return nil, fmt.Errorf("failed to scan snapshot: %w", err)
		}
		snap.Plant = physics.Plant(p)

		snap.Values, err = decodeValues(values)
		if err != nil {
			return nil, fmt.Errorf("snapshot %s: %w", snap.ID, err)
		}
		snaps = append(snaps, &snap)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating snapshots: %w", err)
	}

	return snaps, nil
}

// PruneSnapshots keeps the newest keep snapshots of a plant and deletes the
// rest. It returns the number of rows removed.
func (s *SQLiteStore) PruneSnapshots(ctx context.Context, plant string, keep int) (int64, error) {
	if keep < 0 {
		keep = 0
	}

	query := `
		DELETE FROM tag_snapshots
		WHERE plant = ?
		  AND id NOT IN (
			SELECT id FROM tag_snapshots WHERE plant = ? ORDER BY tick DESC LIMIT ?
		  )
	`

	result, err := s.db.ExecContext(ctx, query, plant, plant, keep)
	if err != nil {
		return 0, fmt.Errorf("failed to prune snapshots: %w", err)
	}

	return result.RowsAffected()
}

// HealthCheck verifies the database connection is healthy
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}
	return s.db.PingContext(ctx)
}

func decodeValues(raw string) (map[string]tags.Value, error) {
	var in map[string]any
	if err := json.Unmarshal([]byte(raw), &in); err != nil {
		return nil, fmt.Errorf("decode values: %w", err)
	}

	out := make(map[string]tags.Value, len(in))
	for name, x := range in {
		v, err := tags.FromAny(x)
		if err != nil {
			return nil, fmt.Errorf("value for %s: %w", name, err)
		}
		out[name] = v
	}
	return out, nil
}

func limitOrDefault(limit int) int {
	if limit <= 0 {
		return defaultListLimit
	}
	return limit
}
