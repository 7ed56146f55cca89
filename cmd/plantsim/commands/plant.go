package commands

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/virtuaplant/virtuaplant/pkg/attack"
	"github.com/virtuaplant/virtuaplant/pkg/config"
	"github.com/virtuaplant/virtuaplant/pkg/engine"
	"github.com/virtuaplant/virtuaplant/pkg/physics"
	"github.com/virtuaplant/virtuaplant/pkg/plantstate"
	"github.com/virtuaplant/virtuaplant/pkg/policy"
	"github.com/virtuaplant/virtuaplant/pkg/stores"
	"github.com/virtuaplant/virtuaplant/pkg/tags"
	"github.com/virtuaplant/virtuaplant/pkg/telemetry"
)

// loadSettings reads the simulation config, if one is given, and applies
// the global flag overrides.
func loadSettings(cmd *cobra.Command) (config.SimConfig, error) {
	var cfg config.SimConfig

	if configPath != "" {
		parsed, err := config.NewCUEParser().ParseFile(cmd.Context(), configPath)
		if err != nil {
			return cfg, err
		}
		cfg = *parsed
		if f := cmd.Flag("plant"); f != nil && f.Changed && plantName != string(cfg.Plant) {
			return cfg, fmt.Errorf("--plant %s conflicts with plant %s in %s", plantName, cfg.Plant, configPath)
		}
	} else {
		plant, err := physics.ParsePlant(plantName)
		if err != nil {
			return cfg, err
		}
		cfg = config.DefaultSimConfig(plant)
	}

	if mapPath != "" {
		cfg.Map = mapPath
	}
	if refPath != "" {
		cfg.Reference = refPath
	}
	if storePath != "" {
		cfg.Store.Path = storePath
	}
	if verbose {
		cfg.Logging.Level = "debug"
	}
	return cfg, cfg.Validate()
}

// newTelemetry builds the telemetry bundle for cfg.
func newTelemetry(cfg config.SimConfig) (*telemetry.Telemetry, error) {
	tc := telemetry.DefaultConfig()
	tc.ServiceVersion = buildVersion
	cfg.ApplyTelemetry(tc)
	return telemetry.NewTelemetry(tc)
}

// newPolicyEngine builds the tag-map policy engine from the policy
// settings.
func newPolicyEngine(ctx context.Context, cfg config.SimConfig, logger zerolog.Logger) (*policy.Engine, error) {
	pe, err := policy.NewEngine(logger)
	if err != nil {
		return nil, err
	}
	if cfg.Policy.Rules != "" {
		if err := pe.LoadRulesFile(ctx, cfg.Policy.Rules); err != nil {
			return nil, err
		}
	}
	if len(cfg.Policy.Paths) > 0 {
		if err := pe.LoadPolicies(ctx, cfg.Policy.Paths); err != nil {
			return nil, err
		}
	}
	return pe, nil
}

// loadRegistry loads the tag map with the reference cross-check and the
// policy engine, and reports every advisory finding.
func loadRegistry(ctx context.Context, cfg config.SimConfig, tel *telemetry.Telemetry, pe *policy.Engine, strict bool) (*tags.Registry, *tags.Report, error) {
	ctx, span := tel.Tracer.StartLoadSpan(ctx, string(cfg.Plant), cfg.Map)
	defer span.End()

	logger := tel.Logger.Zerolog()
	opts := []tags.LoadOption{tags.WithLogger(logger)}
	if cfg.Reference != "" {
		opts = append(opts, tags.WithReference(cfg.Reference))
	}
	if pe != nil {
		opts = append(opts, tags.WithPolicy(pe))
	}
	if strict || cfg.Policy.Strict {
		opts = append(opts, tags.WithStrictPolicy())
	}

	reg, report, err := tags.Load(ctx, cfg.Map, opts...)
	if err != nil {
		tel.Metrics.RecordError(string(engine.ClassOf(err)))
		telemetry.RecordError(span, err)
		return nil, report, err
	}

	for _, w := range report.Warnings {
		tel.Metrics.RecordRegistryWarning(string(w.Kind))
		_ = tel.Events.PublishRegistryWarning(string(cfg.Plant), w.Tag, string(w.Kind), w.Message)
	}
	telemetry.RecordSuccess(span)
	return reg, report, nil
}

// openStore opens and migrates the SQLite store, or returns nil when
// persistence is off.
func openStore(ctx context.Context, path string) (*stores.SQLiteStore, error) {
	if path == "" {
		return nil, nil
	}
	store, err := stores.NewSQLiteStore(stores.Config{Path: path})
	if err != nil {
		return nil, err
	}
	if err := store.Init(ctx); err != nil {
		return nil, err
	}
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, err
	}
	return store, nil
}

// plant is a fully wired simulation: tag state, physics loop, attack
// engine, persistence and telemetry.
type plant struct {
	cfg      config.SimConfig
	tel      *telemetry.Telemetry
	logger   zerolog.Logger
	registry *tags.Registry
	report   *tags.Report
	state    *plantstate.Store
	store    *stores.SQLiteStore
	injector *attack.Injector
	manager  *attack.Manager
	loop     *engine.Loop
	watcher  *config.ScenarioWatcher
	metrics  *http.Server
}

// buildPlant wires every component for cfg. The caller must Close the
// result.
func buildPlant(ctx context.Context, cfg config.SimConfig) (_ *plant, err error) {
	tel, err := newTelemetry(cfg)
	if err != nil {
		return nil, err
	}
	p := &plant{
		cfg:    cfg,
		tel:    tel,
		logger: tel.Logger.WithPlant(string(cfg.Plant)).Zerolog(),
	}
	defer func() {
		if err != nil {
			p.Close(context.Background())
		}
	}()

	ctx = tel.WithContext(ctx)
	op := telemetry.StartOperation(ctx, string(cfg.Plant), "plant.build")
	defer func() { op.End(err) }()

	pe, err := newPolicyEngine(op.Ctx, cfg, p.logger)
	if err != nil {
		return nil, err
	}
	if p.registry, p.report, err = loadRegistry(op.Ctx, cfg, tel, pe, false); err != nil {
		return nil, err
	}
	p.state = plantstate.New(p.registry)

	if p.store, err = openStore(ctx, cfg.Store.Path); err != nil {
		return nil, err
	}
	if p.store != nil {
		tel.Events.Subscribe(p.store.EventSubscriber(p.logger), nil)
	}

	model, err := cfg.NewEngine()
	if err != nil {
		return nil, err
	}

	injOpts := []attack.Option{
		attack.WithLogger(p.logger),
		attack.WithMetrics(tel.Metrics),
		attack.WithEvents(tel.Events),
		attack.WithTracer(tel.Tracer),
		attack.WithTickInterval(cfg.TickInterval()),
	}
	if cfg.Attack.Seed != 0 {
		injOpts = append(injOpts, attack.WithSeed(cfg.Attack.Seed))
	}
	if p.store != nil {
		injOpts = append(injOpts, attack.WithRecorder(p.store))
	}
	p.injector = attack.NewInjector(p.state, cfg.Plant, injOpts...)
	p.manager = attack.NewManager(p.injector, p.logger)

	if cfg.Scenarios.Dir != "" {
		loader := config.NewScriptLoader(nil, 0, p.logger)
		p.watcher = config.NewScenarioWatcher(loader, cfg.Scenarios.Dir, 0, func(list []attack.Scenario) error {
			return p.manager.SetScenarios(append(attack.DefaultScenarios(), list...))
		}, p.logger)
		if cfg.Scenarios.Watch {
			err = p.watcher.Start(ctx)
		} else {
			err = p.watcher.Reload(ctx)
		}
		if err != nil {
			return nil, err
		}
	}

	loopOpts := []engine.LoopOption{
		engine.WithLoopLogger(p.logger),
		engine.WithLoopMetrics(tel.Metrics),
		engine.WithLoopEvents(tel.Events),
		engine.WithAttackCounter(p.injector),
	}
	if p.store != nil && cfg.Loop.SnapshotInterval > 0 {
		loopOpts = append(loopOpts, engine.WithSnapshotSink(p.store))
	}
	if p.loop, err = engine.NewLoop(p.state, model, cfg.LoopConfig(), loopOpts...); err != nil {
		return nil, err
	}

	return p, nil
}

// serveMetrics starts the metrics endpoint when metrics are enabled.
func (p *plant) serveMetrics() {
	p.metrics = p.tel.Metrics.StartMetricsServer()
	if p.metrics != nil {
		p.logger.Info().Str("addr", p.metrics.Addr).Msg("Serving metrics")
	}
}

// Close stops every attack, flushes telemetry into the store and releases
// resources.
func (p *plant) Close(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if p.watcher != nil {
		_ = p.watcher.Close()
	}
	if p.injector != nil {
		p.injector.Close()
	}
	if p.metrics != nil {
		_ = p.metrics.Shutdown(ctx)
	}
	if err := p.tel.Shutdown(ctx); err != nil && !errors.Is(err, context.Canceled) {
		p.logger.Warn().Err(err).Msg("Telemetry shutdown failed")
	}
	if p.store != nil {
		if keep := p.cfg.Store.SnapshotKeep; keep > 0 {
			if n, err := p.store.PruneSnapshots(ctx, string(p.cfg.Plant), keep); err != nil {
				p.logger.Warn().Err(err).Msg("Snapshot pruning failed")
			} else if n > 0 {
				p.logger.Debug().Int64("pruned", n).Msg("Old snapshots pruned")
			}
		}
		_ = p.store.Close()
	}
}
