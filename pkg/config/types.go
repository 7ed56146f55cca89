package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/virtuaplant/virtuaplant/pkg/engine"
	"github.com/virtuaplant/virtuaplant/pkg/physics"
	"github.com/virtuaplant/virtuaplant/pkg/telemetry"
)

// SimConfig is a simulation configuration decoded from a CUE file.
type SimConfig struct {
	// Plant is the process to simulate.
	Plant physics.Plant `json:"plant" validate:"required,oneof=bottle refinery"`

	// Map is the path of the tag map CSV.
	Map string `json:"map" validate:"required"`

	// Reference is the optional cross-PLC reference model.
	Reference string `json:"reference,omitempty"`

	Loop      LoopSettings            `json:"loop"`
	Bottle    *physics.BottleParams   `json:"bottle,omitempty" validate:"omitempty"`
	Refinery  *physics.RefineryParams `json:"refinery,omitempty" validate:"omitempty"`
	Attack    AttackSettings          `json:"attack"`
	Policy    PolicySettings          `json:"policy"`
	Store     StoreSettings           `json:"store"`
	Scenarios ScenarioSettings        `json:"scenarios"`
	Logging   LoggingSettings         `json:"logging"`
	Metrics   MetricsSettings         `json:"metrics"`
	Tracing   TracingSettings         `json:"tracing"`

	// Source is the file the config was read from.
	Source string `json:"-"`
}

// LoopSettings configures the simulation loop. Intervals are in seconds.
type LoopSettings struct {
	DT               float64 `json:"dt" validate:"gt=0"`
	Speedup          float64 `json:"speedup" validate:"gt=0"`
	StatusInterval   float64 `json:"status_interval" validate:"gte=0"`
	SnapshotInterval float64 `json:"snapshot_interval" validate:"gte=0"`
}

// AttackSettings configures the attack injector.
type AttackSettings struct {
	TickIntervalMS int    `json:"tick_interval_ms" validate:"gt=0"`
	Seed           uint64 `json:"seed"`
}

// PolicySettings configures tag-map policy evaluation.
type PolicySettings struct {
	Rules  string   `json:"rules,omitempty"`
	Strict bool     `json:"strict"`
	Paths  []string `json:"paths,omitempty"`
}

// StoreSettings configures persistence. An empty path disables it.
type StoreSettings struct {
	Path         string `json:"path,omitempty"`
	SnapshotKeep int    `json:"snapshot_keep" validate:"gte=0"`
}

// ScenarioSettings configures scripted scenarios.
type ScenarioSettings struct {
	Dir   string `json:"dir,omitempty"`
	Watch bool   `json:"watch"`
}

// LoggingSettings configures the logger.
type LoggingSettings struct {
	Level  string `json:"level" validate:"oneof=trace debug info warn error"`
	Format string `json:"format" validate:"oneof=console json"`
}

// MetricsSettings configures the metrics endpoint.
type MetricsSettings struct {
	Enabled bool   `json:"enabled"`
	Listen  string `json:"listen" validate:"required_if=Enabled true"`
}

// TracingSettings configures span export.
type TracingSettings struct {
	Exporter     string  `json:"exporter" validate:"oneof=none stdout otlp"`
	Endpoint     string  `json:"endpoint,omitempty" validate:"required_if=Exporter otlp"`
	SamplingRate float64 `json:"sampling_rate" validate:"gte=0,lte=1"`
}

// DefaultSimConfig returns the configuration used when no CUE file is
// given. The values mirror the defaults in the #Simulation schema.
func DefaultSimConfig(plant physics.Plant) SimConfig {
	cfg := SimConfig{
		Plant: plant,
		Map:   filepath.Join("maps", string(plant), "modbus_map.csv"),
		Loop: LoopSettings{
			DT:             0.02,
			Speedup:        1,
			StatusInterval: 5,
		},
		Attack: AttackSettings{
			TickIntervalMS: 100,
		},
		Store: StoreSettings{
			SnapshotKeep: 1000,
		},
		Logging: LoggingSettings{
			Level:  "info",
			Format: "console",
		},
		Metrics: MetricsSettings{
			Listen: ":9100",
		},
		Tracing: TracingSettings{
			Exporter:     "none",
			SamplingRate: 1,
		},
	}
	return cfg
}

// Validate checks the configuration with struct tags and the physics
// parameter rules.
func (c SimConfig) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid simulation config: %w", err)
	}
	if c.Bottle != nil && c.Plant != physics.PlantBottle {
		return fmt.Errorf("bottle parameters given for plant %s", c.Plant)
	}
	if c.Refinery != nil && c.Plant != physics.PlantRefinery {
		return fmt.Errorf("refinery parameters given for plant %s", c.Plant)
	}
	return nil
}

// LoopConfig returns the loop settings as an engine.LoopConfig.
func (c SimConfig) LoopConfig() engine.LoopConfig {
	return engine.LoopConfig{
		DT:               c.Loop.DT,
		Speedup:          c.Loop.Speedup,
		StatusInterval:   seconds(c.Loop.StatusInterval),
		SnapshotInterval: seconds(c.Loop.SnapshotInterval),
	}
}

// TickInterval returns the attack worker period.
func (c SimConfig) TickInterval() time.Duration {
	return time.Duration(c.Attack.TickIntervalMS) * time.Millisecond
}

// NewEngine builds the physics engine with any parameter overrides.
func (c SimConfig) NewEngine() (physics.Engine, error) {
	switch c.Plant {
	case physics.PlantBottle:
		if c.Bottle != nil {
			return physics.NewBottle(*c.Bottle), nil
		}
	case physics.PlantRefinery:
		if c.Refinery != nil {
			return physics.NewRefinery(*c.Refinery), nil
		}
	}
	return physics.New(c.Plant)
}

// ApplyTelemetry copies the logging, metrics and tracing settings onto a
// telemetry config.
func (c SimConfig) ApplyTelemetry(tc *telemetry.Config) {
	tc.Logging.Level = c.Logging.Level
	tc.Logging.Format = c.Logging.Format
	tc.Metrics.Enabled = c.Metrics.Enabled
	tc.Metrics.ListenAddress = c.Metrics.Listen
	tc.Tracing.Exporter = c.Tracing.Exporter
	tc.Tracing.Enabled = c.Tracing.Exporter != "none"
	tc.Tracing.Endpoint = c.Tracing.Endpoint
	tc.Tracing.SamplingRate = c.Tracing.SamplingRate
}

// ResolvePaths makes relative file paths relative to dir.
func (c *SimConfig) ResolvePaths(dir string) {
	resolve := func(p string) string {
		if p == "" || filepath.IsAbs(p) || strings.HasPrefix(p, ":memory:") || strings.HasPrefix(p, "file:") {
			return p
		}
		return filepath.Join(dir, p)
	}

	c.Map = resolve(c.Map)
	c.Reference = resolve(c.Reference)
	c.Policy.Rules = resolve(c.Policy.Rules)
	for i, p := range c.Policy.Paths {
		c.Policy.Paths[i] = resolve(p)
	}
	c.Store.Path = resolve(c.Store.Path)
	c.Scenarios.Dir = resolve(c.Scenarios.Dir)
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

// ValidationError represents a validation error with location information.
type ValidationError struct {
	// File is the source file path.
	File string `json:"file,omitempty"`

	// Line is the line number (1-indexed).
	Line int `json:"line,omitempty"`

	// Column is the column number (1-indexed).
	Column int `json:"column,omitempty"`

	// Path is the CUE path to the error (e.g., "simulation.loop.dt").
	Path string `json:"path,omitempty"`

	// Message is the error message.
	Message string `json:"message"`

	// Severity is the error severity (error, warning, info).
	Severity string `json:"severity" validate:"required,oneof=error warning info"`
}

func (v ValidationError) String() string {
	loc := v.File
	if v.Line > 0 {
		loc = fmt.Sprintf("%s:%d:%d", v.File, v.Line, v.Column)
	}
	if loc == "" {
		return v.Message
	}
	return loc + ": " + v.Message
}

// ErrInvalidConfig is matched by every ConfigError.
var ErrInvalidConfig = errors.New("invalid configuration")

// ConfigError carries the CUE errors of a rejected configuration.
type ConfigError struct {
	Source string
	Errors []ValidationError
}

func (e *ConfigError) Error() string {
	msgs := make([]string, 0, len(e.Errors))
	for _, v := range e.Errors {
		msgs = append(msgs, v.String())
	}
	return fmt.Sprintf("%s: %d configuration error(s): %s", e.Source, len(e.Errors), strings.Join(msgs, "; "))
}

// Is matches ErrInvalidConfig.
func (e *ConfigError) Is(target error) bool { return target == ErrInvalidConfig }

// StarlarkResult represents the result of Starlark execution.
type StarlarkResult struct {
	// Output is the output data from Starlark.
	Output map[string]interface{} `json:"output,omitempty"`

	// ExecutionTime is how long the script took to execute.
	ExecutionTime time.Duration `json:"execution_time"`

	// Error is any error that occurred.
	Error string `json:"error,omitempty"`
}
