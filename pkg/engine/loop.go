package engine

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"math"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/virtuaplant/virtuaplant/pkg/physics"
	"github.com/virtuaplant/virtuaplant/pkg/plantstate"
	"github.com/virtuaplant/virtuaplant/pkg/tags"
	"github.com/virtuaplant/virtuaplant/pkg/telemetry"
)

var validate = validator.New()

// LoopConfig configures the simulation loop. Intervals are in simulated
// time.
type LoopConfig struct {
	// DT is the physics step in seconds.
	DT float64 `json:"dt" validate:"gt=0,lte=1"`

	// Speedup divides the wall-clock interval between ticks. Physics always
	// advances by DT.
	Speedup float64 `json:"speedup" validate:"gt=0,lte=1000"`

	// StatusInterval is how often a status report is logged. Zero disables it.
	StatusInterval time.Duration `json:"status_interval" validate:"gte=0"`

	// SnapshotInterval is how often tag values go to the SnapshotSink. Zero
	// disables snapshots.
	SnapshotInterval time.Duration `json:"snapshot_interval" validate:"gte=0"`
}

// DefaultLoopConfig returns a 50 Hz real-time loop with a status report
// every five seconds.
func DefaultLoopConfig() LoopConfig {
	return LoopConfig{
		DT:             0.02,
		Speedup:        1,
		StatusInterval: 5 * time.Second,
	}
}

// Validate checks the configuration.
func (c LoopConfig) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid loop config: %w", err)
	}
	if c.interval() <= 0 {
		return fmt.Errorf("invalid loop config: dt %g at speedup %g is under one nanosecond per tick", c.DT, c.Speedup)
	}
	return nil
}

// TickInterval is the wall-clock time between ticks. It is never less than
// one nanosecond.
func (c LoopConfig) TickInterval() time.Duration {
	return max(c.interval(), time.Nanosecond)
}

func (c LoopConfig) interval() time.Duration {
	return time.Duration(c.DT / c.Speedup * float64(time.Second))
}

// everyTicks converts a simulated interval into a tick count, or 0 when
// the interval is disabled.
func (c LoopConfig) everyTicks(d time.Duration) int64 {
	if d <= 0 {
		return 0
	}
	return max(int64(math.Round(d.Seconds()/c.DT)), 1)
}

// Snapshot is the value of every tag at one tick.
type Snapshot struct {
	ID      string                `json:"id"`
	Plant   physics.Plant         `json:"plant"`
	Tick    int64                 `json:"tick"`
	SimTime float64               `json:"sim_time"`
	TakenAt time.Time             `json:"taken_at"`
	Values  map[string]tags.Value `json:"values"`
}

// SnapshotSink receives periodic snapshots.
type SnapshotSink interface {
	SaveSnapshot(ctx context.Context, snap *Snapshot) error
}

// AttackCounter reports how many attacks are running.
type AttackCounter interface {
	ActiveCount() int
}

// Report is the periodic status of a running plant.
type Report struct {
	Plant         physics.Plant         `json:"plant"`
	Tick          int64                 `json:"tick"`
	SimTime       float64               `json:"sim_time"`
	Tags          map[string]tags.Value `json:"tags"`
	Process       map[string]float64    `json:"process"`
	ActiveAttacks int                   `json:"active_attacks"`
	StepErrors    int64                 `json:"step_errors"`
}

// LoopOption configures a Loop.
type LoopOption func(*Loop)

// WithLoopLogger sets the logger.
func WithLoopLogger(logger zerolog.Logger) LoopOption {
	return func(l *Loop) { l.logger = logger }
}

// WithLoopMetrics exports tick and tag metrics.
func WithLoopMetrics(m *telemetry.Metrics) LoopOption {
	return func(l *Loop) { l.metrics = m }
}

// WithLoopEvents publishes simulation start and stop events.
func WithLoopEvents(ep *telemetry.EventPublisher) LoopOption {
	return func(l *Loop) { l.events = ep }
}

// WithAttackCounter includes the active attack count in reports.
func WithAttackCounter(c AttackCounter) LoopOption {
	return func(l *Loop) { l.attacks = c }
}

// WithSnapshotSink stores periodic snapshots.
func WithSnapshotSink(sink SnapshotSink) LoopOption {
	return func(l *Loop) { l.sink = sink }
}

// Loop drives a physics engine against the plant state. Each tick reads the
// actuator and command tags, advances the model by DT and writes the sensor
// outputs back.
type Loop struct {
	// store holds the plant's tag state
	store *plantstate.Store

	// engine is the plant model
	engine physics.Engine

	// config is the validated loop configuration
	config LoopConfig

	logger  zerolog.Logger
	metrics *telemetry.Metrics
	events  *telemetry.EventPublisher
	attacks AttackCounter
	sink    SnapshotSink

	// mu protects the counters and the last process values
	mu         sync.Mutex
	tick       int64
	simTime    float64
	stepErrors int64
	process    map[string]float64
}

// NewLoop creates a simulation loop.
func NewLoop(
	store *plantstate.Store,
	engine physics.Engine,
	config LoopConfig,
	opts ...LoopOption,
) (*Loop, error) {
	if err := config.Validate(); err != nil {
		return nil, NewError(ErrorClassLoadFatal, "invalid loop config", err).WithCode(ErrCodeConfig)
	}

	l := &Loop{
		store:   store,
		engine:  engine,
		config:  config,
		logger:  zerolog.Nop(),
		process: make(map[string]float64),
	}
	for _, opt := range opts {
		opt(l)
	}
	l.logger = l.logger.With().Str("plant", string(engine.Plant())).Logger()
	return l, nil
}

// Step runs one read-update-write cycle. A rejected sensor write is
// returned as an access error and the tick still counts.
func (l *Loop) Step(ctx context.Context) error {
	timer := telemetry.NewTimer()
	plant := string(l.engine.Plant())

	inputs := l.store.ReadActuators()
	maps.Copy(inputs, l.store.ReadRole(tags.RoleCommand))

	outputs := l.engine.Update(l.config.DT, inputs)

	reg := l.store.Registry()
	sensors := make(map[string]tags.Value, len(outputs))
	process := make(map[string]float64, len(outputs))
	for name, v := range outputs {
		if reg.Has(name) {
			sensors[name] = v
		} else {
			process[name] = tags.AsFloat(v)
		}
	}

	err := l.store.UpdateSensors(sensors)

	l.mu.Lock()
	l.tick++
	l.simTime += l.config.DT
	l.process = process
	if err != nil {
		l.stepErrors++
	}
	l.mu.Unlock()

	if err != nil {
		l.metrics.RecordTickError(plant, "update_sensors")
		l.metrics.RecordError(string(ErrorClassAccess))
		return NewAccessError("update_sensors", err)
	}

	for name, v := range inputs {
		l.metrics.SetTagValue(plant, name, tags.AsFloat(v))
	}
	for name, v := range sensors {
		l.metrics.SetTagValue(plant, name, tags.AsFloat(v))
	}
	for name, v := range process {
		l.metrics.SetProcessValue(plant, name, v)
	}
	l.metrics.RecordTick(plant, timer.Duration())
	return nil
}

// Run ticks until ctx ends. Step errors are logged and skipped. Run returns
// nil when ctx is cancelled or its deadline passes.
func (l *Loop) Run(ctx context.Context) error {
	interval := l.config.TickInterval()
	statusEvery := l.config.everyTicks(l.config.StatusInterval)
	snapshotEvery := l.config.everyTicks(l.config.SnapshotInterval)

	l.logger.Info().
		Float64("dt", l.config.DT).
		Float64("speedup", l.config.Speedup).
		Dur("interval", interval).
		Msg("simulation started")
	_ = l.events.PublishSimulation(string(l.engine.Plant()), true, map[string]interface{}{
		"dt":      l.config.DT,
		"speedup": l.config.Speedup,
	})

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			report := l.Report()
			l.logger.Info().Int64("ticks", report.Tick).Float64("sim_time", report.SimTime).Msg("simulation stopped")
			_ = l.events.PublishSimulation(string(l.engine.Plant()), false, map[string]interface{}{
				"ticks":    report.Tick,
				"sim_time": report.SimTime,
			})
			if errors.Is(ctx.Err(), context.Canceled) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return nil
			}
			return ctx.Err()
		case <-ticker.C:
		}

		if err := l.Step(ctx); err != nil {
			l.logger.Warn().Err(err).Str("class", string(ClassOf(err))).Msg("tick skipped")
		}

		tick := l.Ticks()
		if statusEvery > 0 && tick%statusEvery == 0 {
			l.logReport(l.Report())
		}
		if snapshotEvery > 0 && l.sink != nil && tick%snapshotEvery == 0 {
			if err := l.sink.SaveSnapshot(ctx, l.Snapshot()); err != nil {
				l.logger.Warn().Err(err).Msg("failed to save snapshot")
				l.metrics.RecordError(string(ErrorClassInternal))
			}
		}
	}
}

// Ticks returns the number of completed ticks.
func (l *Loop) Ticks() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.tick
}

// SimTime returns the simulated seconds elapsed.
func (l *Loop) SimTime() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.simTime
}

// Report returns the current status.
func (l *Loop) Report() Report {
	l.mu.Lock()
	r := Report{
		Plant:      l.engine.Plant(),
		Tick:       l.tick,
		SimTime:    l.simTime,
		Process:    maps.Clone(l.process),
		StepErrors: l.stepErrors,
	}
	l.mu.Unlock()

	r.Tags = l.store.Snapshot()
	if l.attacks != nil {
		r.ActiveAttacks = l.attacks.ActiveCount()
	}
	return r
}

// Snapshot captures every tag value at the current tick.
func (l *Loop) Snapshot() *Snapshot {
	l.mu.Lock()
	tick, simTime := l.tick, l.simTime
	l.mu.Unlock()

	return &Snapshot{
		ID:      uuid.New().String(),
		Plant:   l.engine.Plant(),
		Tick:    tick,
		SimTime: simTime,
		TakenAt: time.Now(),
		Values:  l.store.Snapshot(),
	}
}

func (l *Loop) logReport(r Report) {
	event := l.logger.Info().
		Int64("tick", r.Tick).
		Float64("sim_time", r.SimTime).
		Int("active_attacks", r.ActiveAttacks)
	for name, v := range r.Tags {
		event = event.Str(name, v.String())
	}
	for name, v := range r.Process {
		event = event.Float64(name, v)
	}
	event.Msg("status")
}
