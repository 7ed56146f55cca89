package attack

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/virtuaplant/virtuaplant/pkg/physics"
	"github.com/virtuaplant/virtuaplant/pkg/plantstate"
	"github.com/virtuaplant/virtuaplant/pkg/tags"
	"github.com/virtuaplant/virtuaplant/pkg/telemetry"
)

// DefaultTickInterval is the 10 Hz cadence of attack workers.
const DefaultTickInterval = 100 * time.Millisecond

// maxHistory bounds the number of finished attacks kept in memory.
const maxHistory = 256

var (
	errDurationElapsed = errors.New("attack duration elapsed")
	errStopped         = errors.New("attack stopped")
)

// Target is the state an injector mutates. *plantstate.Store satisfies it.
type Target interface {
	UpdateSensors(values map[string]tags.Value) error
	Registry() *tags.Registry
}

// Recorder persists finished attacks.
type Recorder interface {
	SaveAttack(ctx context.Context, rec *Record) error
}

// Record is the runtime account of one attack.
type Record struct {
	ID        string     `json:"id"`
	Config    Config     `json:"config"`
	Status    Status     `json:"status"`
	StartedAt time.Time  `json:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
	Ticks     int        `json:"ticks"`
	Writes    int        `json:"writes"`
	Error     string     `json:"error,omitempty"`
}

func (r *Record) clone() *Record {
	out := *r
	out.Config = r.Config.Clone()
	if r.EndedAt != nil {
		t := *r.EndedAt
		out.EndedAt = &t
	}
	return &out
}

// Option configures an Injector.
type Option func(*Injector)

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(i *Injector) { i.logger = logger }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(i *Injector) { i.metrics = m }
}

// WithEvents sets the event publisher.
func WithEvents(ep *telemetry.EventPublisher) Option {
	return func(i *Injector) { i.events = ep }
}

// WithTracer sets the tracer.
func WithTracer(t *telemetry.Tracer) Option {
	return func(i *Injector) { i.tracer = t }
}

// WithRecorder persists every finished attack.
func WithRecorder(r Recorder) Option {
	return func(i *Injector) { i.recorder = r }
}

// WithClock overrides the clock used for ids and timestamps.
func WithClock(now func() time.Time) Option {
	return func(i *Injector) { i.now = now }
}

// WithSeed makes attack randomness reproducible. Each attack draws its own
// stream from the seed.
func WithSeed(seed uint64) Option {
	return func(i *Injector) {
		i.seed = seed
		i.seeded = true
	}
}

// WithTickInterval overrides the worker cadence.
func WithTickInterval(d time.Duration) Option {
	return func(i *Injector) { i.tick = d }
}

// Injector runs attacks against one plant's state.
type Injector struct {
	target Target
	plant  physics.Plant

	logger   zerolog.Logger
	metrics  *telemetry.Metrics
	events   *telemetry.EventPublisher
	tracer   *telemetry.Tracer
	recorder Recorder
	now      func() time.Time
	tick     time.Duration
	seed     uint64
	seeded   bool

	root   context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	active  map[string]*worker
	history []*Record
	streams uint64
	closed  bool
}

type worker struct {
	record *Record
	cancel context.CancelCauseFunc
	rng    *rand.Rand
}

// NewInjector creates an injector that mutates target on behalf of plant.
func NewInjector(target Target, plant physics.Plant, opts ...Option) *Injector {
	root, cancel := context.WithCancel(context.Background())
	i := &Injector{
		target: target,
		plant:  plant,
		logger: zerolog.Nop(),
		now:    time.Now,
		tick:   DefaultTickInterval,
		root:   root,
		cancel: cancel,
		active: make(map[string]*worker),
	}
	for _, opt := range opts {
		opt(i)
	}
	if i.tick <= 0 {
		i.tick = DefaultTickInterval
	}
	return i
}

// Plant returns the plant the injector drives.
func (i *Injector) Plant() physics.Plant {
	return i.plant
}

// StartAttack validates cfg and starts a worker for it. The worker stops
// when the duration elapses, when StopAttack is called, when ctx ends or
// when the injector is closed.
func (i *Injector) StartAttack(ctx context.Context, cfg Config) (string, error) {
	cfg = cfg.WithDefaults().Clone()
	if err := cfg.Validate(); err != nil {
		return "", err
	}
	if cfg.Plant != i.plant {
		return "", &PlantMismatchError{Want: i.plant, Got: cfg.Plant}
	}
	if err := i.checkTags(cfg); err != nil {
		return "", err
	}

	started := i.now()
	id := fmt.Sprintf("%s_%d", cfg.Kind, started.Unix())

	i.mu.Lock()
	if i.closed {
		i.mu.Unlock()
		return "", ErrInjectorClosed
	}
	if _, ok := i.active[id]; ok {
		i.mu.Unlock()
		return "", &DuplicateAttackError{ID: id}
	}

	wctx, cancelTimeout := context.WithTimeoutCause(ctx, cfg.Timeout(), errDurationElapsed)
	wctx, cancel := context.WithCancelCause(wctx)
	stopOnClose := context.AfterFunc(i.root, func() { cancel(ErrInjectorClosed) })

	w := &worker{
		record: &Record{
			ID:        id,
			Config:    cfg,
			Status:    StatusPending,
			StartedAt: started,
		},
		cancel: cancel,
		rng:    i.newRand(),
	}
	i.active[id] = w
	active := len(i.active)
	i.mu.Unlock()

	i.metrics.SetActiveAttacks(active)
	i.metrics.RecordAttackStarted(string(cfg.Kind), string(cfg.Plant))
	_ = i.events.PublishAttackStarted(id, string(cfg.Kind), string(cfg.Plant))

	i.wg.Add(1)
	go func() {
		defer i.wg.Done()
		defer stopOnClose()
		defer cancelTimeout()
		i.run(wctx, w)
	}()

	return id, nil
}

func (i *Injector) checkTags(cfg Config) error {
	reg := i.target.Registry()
	for _, name := range cfg.TargetTags {
		if !reg.Has(name) {
			return &plantstate.UnknownTagError{Name: name}
		}
	}
	for name := range cfg.Values {
		if !reg.Has(name) {
			return &plantstate.UnknownTagError{Name: name}
		}
	}
	return nil
}

// newRand must be called with mu held.
func (i *Injector) newRand() *rand.Rand {
	i.streams++
	if i.seeded {
		return rand.New(rand.NewPCG(i.seed, i.streams))
	}
	return rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
}

// run is the worker loop. The pattern is applied at once and then on every
// tick.
func (i *Injector) run(ctx context.Context, w *worker) {
	cfg := w.record.Config
	logger := i.logger.With().
		Str("attack_id", w.record.ID).
		Str("attack_kind", string(cfg.Kind)).
		Logger()

	ctx, span := i.tracer.StartAttackSpan(ctx, w.record.ID, string(cfg.Kind), string(cfg.Plant))
	defer span.End()

	i.mu.Lock()
	w.record.Status = StatusRunning
	i.mu.Unlock()
	logger.Info().Float64("duration", cfg.Duration).Float64("intensity", cfg.Intensity).Msg("attack started")

	env := &patternEnv{
		ctx: ctx,
		cfg: cfg,
		rng: w.rng,
		reg: i.target.Registry(),
	}

	ticker := time.NewTicker(i.tick)
	defer ticker.Stop()

	for {
		if ctx.Err() != nil {
			break
		}
		if err := i.step(env, w, logger); err != nil {
			i.finish(ctx, w, StatusFailed, err, logger)
			telemetry.RecordError(span, err)
			return
		}
		select {
		case <-ctx.Done():
		case <-ticker.C:
		}
	}

	status := StatusCancelled
	if errors.Is(context.Cause(ctx), errDurationElapsed) {
		status = StatusCompleted
	}
	i.finish(ctx, w, status, nil, logger)
	telemetry.RecordSuccess(span)
}

// step applies the pattern once. Store access errors are logged and the tick
// skipped. Any other error or a panic is returned and ends the attack.
func (i *Injector) step(env *patternEnv, w *worker, logger zerolog.Logger) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PatternPanicError{Kind: env.cfg.Kind, Value: r}
		}
	}()

	writes, err := apply(env)
	if err == nil && len(writes) > 0 {
		err = i.target.UpdateSensors(writes)
	}
	if err != nil {
		if IsAccessError(err) {
			logger.Warn().Err(err).Msg("attack tick skipped")
			i.metrics.RecordAttackAccessError(string(env.cfg.Kind))
			return nil
		}
		return err
	}

	i.mu.Lock()
	w.record.Ticks++
	w.record.Writes += len(writes)
	i.mu.Unlock()
	i.metrics.RecordAttackWrites(string(env.cfg.Kind), len(writes))
	return nil
}

// finish moves the attack into its terminal status.
func (i *Injector) finish(ctx context.Context, w *worker, status Status, cause error, logger zerolog.Logger) {
	w.cancel(errStopped)
	ended := i.now()

	i.mu.Lock()
	if cur, ok := i.active[w.record.ID]; ok && cur == w {
		delete(i.active, w.record.ID)
	}
	w.record.Status = status
	w.record.EndedAt = &ended
	if cause != nil {
		w.record.Error = cause.Error()
	}
	i.history = append(i.history, w.record)
	if len(i.history) > maxHistory {
		i.history = i.history[len(i.history)-maxHistory:]
	}
	rec := w.record.clone()
	active := len(i.active)
	i.mu.Unlock()

	elapsed := ended.Sub(rec.StartedAt)
	event := logger.Info()
	if status == StatusFailed {
		event = logger.Error().Err(cause)
	}
	event.Str("status", string(status)).Int("ticks", rec.Ticks).Dur("elapsed", elapsed).Msg("attack finished")

	i.metrics.SetActiveAttacks(active)
	i.metrics.RecordAttackFinished(string(rec.Config.Kind), string(status), elapsed)
	_ = i.events.PublishAttackFinished(rec.ID, string(rec.Config.Kind), string(rec.Config.Plant), string(status), rec.Error, elapsed)

	if i.recorder != nil {
		if err := i.recorder.SaveAttack(context.WithoutCancel(ctx), rec); err != nil {
			logger.Warn().Err(err).Msg("failed to record attack")
		}
	}
}

// StopAttack removes an active attack. Its worker exits within one tick.
// Stopping an id that is not active returns AttackNotFoundError.
func (i *Injector) StopAttack(id string) error {
	i.mu.Lock()
	w, ok := i.active[id]
	if ok {
		delete(i.active, id)
	}
	active := len(i.active)
	i.mu.Unlock()

	if !ok {
		return &AttackNotFoundError{ID: id}
	}
	w.cancel(errStopped)
	i.metrics.SetActiveAttacks(active)
	i.logger.Info().Str("attack_id", id).Msg("attack stopped")
	return nil
}

// StopAllAttacks stops every active attack and returns how many there were.
func (i *Injector) StopAllAttacks() int {
	i.mu.Lock()
	workers := make([]*worker, 0, len(i.active))
	for id, w := range i.active {
		workers = append(workers, w)
		delete(i.active, id)
	}
	i.mu.Unlock()

	for _, w := range workers {
		w.cancel(errStopped)
	}
	i.metrics.SetActiveAttacks(0)
	if len(workers) > 0 {
		i.logger.Info().Int("count", len(workers)).Msg("all attacks stopped")
	}
	return len(workers)
}

// ListAttacks returns a copy of the active attacks keyed by id.
func (i *Injector) ListAttacks() map[string]Config {
	i.mu.Lock()
	defer i.mu.Unlock()

	out := make(map[string]Config, len(i.active))
	for id, w := range i.active {
		out[id] = w.record.Config.Clone()
	}
	return out
}

// ActiveCount returns the number of active attacks.
func (i *Injector) ActiveCount() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return len(i.active)
}

// Attack returns the record of an active or recently finished attack. When
// an id was reused the most recent record wins.
func (i *Injector) Attack(id string) (*Record, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	if w, ok := i.active[id]; ok {
		return w.record.clone(), nil
	}
	for j := len(i.history) - 1; j >= 0; j-- {
		if i.history[j].ID == id {
			return i.history[j].clone(), nil
		}
	}
	return nil, &AttackNotFoundError{ID: id}
}

// History returns finished attacks ordered by start time.
func (i *Injector) History() []*Record {
	i.mu.Lock()
	out := make([]*Record, len(i.history))
	for j, rec := range i.history {
		out[j] = rec.clone()
	}
	i.mu.Unlock()

	sort.SliceStable(out, func(a, b int) bool {
		return out[a].StartedAt.Before(out[b].StartedAt)
	})
	return out
}

// Wait blocks until every worker has exited.
func (i *Injector) Wait() {
	i.wg.Wait()
}

// Close stops all attacks, waits for their workers and rejects further
// starts.
func (i *Injector) Close() {
	i.mu.Lock()
	i.closed = true
	i.mu.Unlock()

	i.cancel()
	i.StopAllAttacks()
	i.wg.Wait()
}

// IsAccessError reports whether err is a store access failure that a worker
// or the simulation loop should log and skip.
func IsAccessError(err error) bool {
	return errors.Is(err, plantstate.ErrUnknownTag) ||
		errors.Is(err, plantstate.ErrReadOnly) ||
		errors.Is(err, plantstate.ErrTypeMismatch) ||
		errors.Is(err, plantstate.ErrOutOfRange)
}
