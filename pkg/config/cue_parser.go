package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/errors"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"

	"github.com/virtuaplant/virtuaplant/pkg/telemetry"
)

var validate = validator.New()

// CUEParser parses simulation configs and checks them against the
// #Simulation schema.
type CUEParser struct {
	ctx            *cue.Context
	schemaRegistry *SchemaRegistry
	tracer         *telemetry.Tracer
	logger         zerolog.Logger
}

// ParserOption configures a CUEParser.
type ParserOption func(*CUEParser)

// WithParserTracer traces each parse.
func WithParserTracer(t *telemetry.Tracer) ParserOption {
	return func(cp *CUEParser) { cp.tracer = t }
}

// WithParserLogger sets the parser logger.
func WithParserLogger(logger zerolog.Logger) ParserOption {
	return func(cp *CUEParser) { cp.logger = logger }
}

// NewCUEParser creates a new CUE parser.
func NewCUEParser(opts ...ParserOption) *CUEParser {
	sr := NewSchemaRegistry()
	cp := &CUEParser{
		ctx:            sr.Context(),
		schemaRegistry: sr,
		logger:         zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(cp)
	}
	return cp
}

// ParseFile reads and validates a CUE simulation config. Relative paths in
// the config are resolved against the file's directory.
func (cp *CUEParser) ParseFile(ctx context.Context, path string) (*SimConfig, error) {
	_, span := cp.tracer.StartSpan(ctx, "config.parse", attribute.String("config.path", path))
	defer span.End()

	content, err := os.ReadFile(path)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	val := cp.ctx.CompileBytes(content, cue.Filename(path))
	cfg, err := cp.decode(val, path)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}

	cfg.ResolvePaths(filepath.Dir(path))
	cfg.Source = path

	cp.logger.Debug().
		Str("path", path).
		Str("plant", string(cfg.Plant)).
		Msg("Simulation config loaded")

	telemetry.RecordSuccess(span)
	return cfg, nil
}

// ParseInline parses inline CUE content. Paths are left as written.
func (cp *CUEParser) ParseInline(ctx context.Context, content string) (*SimConfig, error) {
	_, span := cp.tracer.StartSpan(ctx, "config.parse", attribute.String("config.path", "inline"))
	defer span.End()

	cfg, err := cp.decode(cp.ctx.CompileString(content, cue.Filename("inline")), "inline")
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	cfg.Source = "inline"
	return cfg, nil
}

// decode unifies the simulation field (or the whole file when there is
// none) with #Simulation and decodes the result.
func (cp *CUEParser) decode(val cue.Value, source string) (*SimConfig, error) {
	if err := val.Err(); err != nil {
		return nil, &ConfigError{Source: source, Errors: cp.convertCUEErrors(err)}
	}

	sim := val.LookupPath(cue.ParsePath("simulation"))
	if !sim.Exists() {
		sim = val
	}

	schema, ok := cp.schemaRegistry.GetSchema("simulation")
	if !ok {
		return nil, fmt.Errorf("simulation schema not registered")
	}

	unified := schema.Unify(sim)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return nil, &ConfigError{Source: source, Errors: cp.convertCUEErrors(err)}
	}

	var cfg SimConfig
	if err := unified.Decode(&cfg); err != nil {
		return nil, &ConfigError{Source: source, Errors: cp.convertCUEErrors(err)}
	}

	if err := cfg.Validate(); err != nil {
		return nil, &ConfigError{Source: source, Errors: []ValidationError{{
			File:     source,
			Message:  err.Error(),
			Severity: "error",
		}}}
	}

	return &cfg, nil
}

// convertCUEErrors converts CUE errors to ValidationError slice.
func (cp *CUEParser) convertCUEErrors(err error) []ValidationError {
	var validationErrors []ValidationError

	for _, e := range errors.Errors(err) {
		pos := errors.Positions(e)
		var file string
		var line, column int

		if len(pos) > 0 {
			file = pos[0].Filename()
			line = pos[0].Line()
			column = pos[0].Column()
		}

		validationErrors = append(validationErrors, ValidationError{
			File:     file,
			Line:     line,
			Column:   column,
			Path:     strings.Join(e.Path(), "."),
			Message:  errors.Details(e, nil),
			Severity: "error",
		})
	}

	return validationErrors
}

// GetSchemaRegistry returns the schema registry.
func (cp *CUEParser) GetSchemaRegistry() *SchemaRegistry {
	return cp.schemaRegistry
}
