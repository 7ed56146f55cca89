package policy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/open-policy-agent/opa/ast"
	"github.com/open-policy-agent/opa/rego"
	"github.com/open-policy-agent/opa/storage"
	"github.com/open-policy-agent/opa/storage/inmem"
	"github.com/rs/zerolog"

	"github.com/virtuaplant/virtuaplant/pkg/tags"
)

// Engine evaluates Rego tag-map policies. It implements tags.PolicyChecker.
type Engine struct {
	mu              sync.RWMutex
	policies        map[string]*compiledPolicy
	store           storage.Store
	rules           Rules
	logger          zerolog.Logger
	builtinPolicies []Policy
}

var _ tags.PolicyChecker = (*Engine)(nil)

// compiledPolicy represents a compiled Rego policy.
type compiledPolicy struct {
	policy   *Policy
	module   *ast.Module
	query    rego.PreparedEvalQuery
	compiled time.Time
}

var validate = validator.New()

// NewEngine creates a new policy engine with the built-in policies and the
// default rules.
func NewEngine(logger zerolog.Logger) (*Engine, error) {
	e := &Engine{
		policies:        make(map[string]*compiledPolicy),
		logger:          logger.With().Str("component", "policy-engine").Logger(),
		builtinPolicies: GetBuiltinPolicies(),
	}

	ctx := context.Background()
	if err := e.setRulesLocked(ctx, DefaultRules()); err != nil {
		return nil, err
	}

	// Load built-in policies
	if err := e.loadBuiltinPolicies(ctx); err != nil {
		return nil, fmt.Errorf("failed to load built-in policies: %w", err)
	}

	return e, nil
}

// ValidateRules checks rules for structural errors and a usable name
// pattern.
func ValidateRules(rules Rules) error {
	if err := validate.Struct(rules); err != nil {
		return fmt.Errorf("invalid tag policy rules: %w", err)
	}
	if _, err := regexp.Compile(rules.NamePattern); err != nil {
		return fmt.Errorf("invalid name_pattern %q: %w", rules.NamePattern, err)
	}
	return nil
}

// SetRules replaces data.tagpolicy and recompiles every loaded policy
// against the new data.
func (e *Engine) SetRules(ctx context.Context, rules Rules) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.setRulesLocked(ctx, rules); err != nil {
		return err
	}

	for name, cp := range e.policies {
		if err := e.compileAndStorePolicy(ctx, cp.policy); err != nil {
			return fmt.Errorf("failed to recompile policy %s: %w", name, err)
		}
	}

	e.logger.Info().
		Str("name_pattern", rules.NamePattern).
		Int("roles", len(rules.Roles)).
		Msg("Tag policy rules applied")

	return nil
}

func (e *Engine) setRulesLocked(_ context.Context, rules Rules) error {
	if err := ValidateRules(rules); err != nil {
		return err
	}

	raw, err := json.Marshal(rules)
	if err != nil {
		return fmt.Errorf("failed to encode rules: %w", err)
	}
	var doc map[string]interface{}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil {
		return fmt.Errorf("failed to decode rules: %w", err)
	}

	e.store = inmem.NewFromObject(map[string]interface{}{
		"tagpolicy": doc,
	})
	e.rules = rules
	return nil
}

// LoadRulesFile reads a YAML rules file and applies it.
func (e *Engine) LoadRulesFile(ctx context.Context, path string) error {
	rules, err := NewLoader(e.logger).LoadRules(path)
	if err != nil {
		return err
	}
	return e.SetRules(ctx, rules)
}

// Rules returns the rules currently exposed as data.tagpolicy.
func (e *Engine) Rules() Rules {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.rules
}

// CheckTags evaluates every enabled policy against list and returns the
// findings. A policy that fails to evaluate is an error.
func (e *Engine) CheckTags(ctx context.Context, list []tags.Tag) ([]tags.Finding, error) {
	result, err := e.Evaluate(ctx, list, "load")
	if err != nil {
		return nil, err
	}
	if len(result.Warnings) > 0 {
		return result.Findings, fmt.Errorf("policy evaluation incomplete: %s", result.Warnings[0])
	}
	return result.Findings, nil
}

// Evaluate evaluates every enabled policy against a tag map.
func (e *Engine) Evaluate(ctx context.Context, list []tags.Tag, operation string) (*PolicyResult, error) {
	startTime := time.Now()
	e.mu.RLock()
	defer e.mu.RUnlock()

	input := &PolicyInput{
		Tags: list,
		Context: &PolicyContext{
			Timestamp: startTime,
			Operation: operation,
		},
	}
	if input.Tags == nil {
		input.Tags = []tags.Tag{}
	}

	var findings []tags.Finding
	var warnings []string
	evaluatedPolicies := make([]string, 0, len(e.policies))

	for _, name := range e.sortedNames() {
		cp := e.policies[name]
		if !cp.policy.Enabled {
			continue
		}

		evaluatedPolicies = append(evaluatedPolicies, name)

		found, err := e.evaluatePolicy(ctx, cp, input)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			e.logger.Error().Err(err).
				Str("policy", name).
				Msg("Policy evaluation failed")
			warnings = append(warnings, fmt.Sprintf("policy %s evaluation failed: %v", name, err))
			continue
		}

		findings = append(findings, found...)
	}

	sort.SliceStable(findings, func(i, j int) bool {
		if findings[i].Tag != findings[j].Tag {
			return findings[i].Tag < findings[j].Tag
		}
		if findings[i].Policy != findings[j].Policy {
			return findings[i].Policy < findings[j].Policy
		}
		return findings[i].Message < findings[j].Message
	})

	allowed := true
	for i := range findings {
		if findings[i].Severity == string(SeverityError) {
			allowed = false
			break
		}
	}

	duration := time.Since(startTime)
	e.logger.Debug().
		Int("tags", len(list)).
		Int("findings", len(findings)).
		Dur("duration", duration).
		Msg("Tag policy evaluation completed")

	return &PolicyResult{
		Allowed:           allowed,
		Findings:          findings,
		Warnings:          warnings,
		EvaluatedAt:       time.Now(),
		EvaluatedPolicies: evaluatedPolicies,
		Duration:          duration,
	}, nil
}

func (e *Engine) sortedNames() []string {
	names := make([]string, 0, len(e.policies))
	for name := range e.policies {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// LoadPolicies loads policy files.
func (e *Engine) LoadPolicies(ctx context.Context, paths []string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	loader := NewLoader(e.logger)
	policies, err := loader.LoadFromPaths(ctx, paths)
	if err != nil {
		return fmt.Errorf("failed to load policies: %w", err)
	}

	for i := range policies {
		if err := e.compileAndStorePolicy(ctx, &policies[i]); err != nil {
			e.logger.Error().Err(err).
				Str("policy", policies[i].Name).
				Msg("Failed to compile policy")
			return fmt.Errorf("failed to compile policy %s: %w", policies[i].Name, err)
		}
	}

	e.logger.Info().
		Int("count", len(policies)).
		Msg("Policies loaded successfully")

	return nil
}

// evaluatePolicy evaluates a single compiled policy.
func (e *Engine) evaluatePolicy(ctx context.Context, cp *compiledPolicy, input *PolicyInput) ([]tags.Finding, error) {
	results, err := cp.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return nil, fmt.Errorf("policy evaluation error: %w", err)
	}

	var findings []tags.Finding
	for _, result := range results {
		if len(result.Expressions) == 0 {
			continue
		}
		// The deny set arrives as an array
		if denySet, ok := result.Expressions[0].Value.([]interface{}); ok {
			for _, d := range denySet {
				findings = append(findings, createFinding(cp.policy, d))
			}
		}
	}

	return findings, nil
}

// createFinding creates a Finding from one deny entry.
func createFinding(policy *Policy, result interface{}) tags.Finding {
	finding := tags.Finding{
		Policy:   policy.Name,
		Severity: string(policy.Severity),
	}

	switch v := result.(type) {
	case string:
		finding.Message = v
	case map[string]interface{}:
		if msg, ok := v["message"].(string); ok {
			finding.Message = msg
		}
		if sev, ok := v["severity"].(string); ok {
			finding.Severity = sev
		}
		if tag, ok := v["tag"].(string); ok {
			finding.Tag = tag
		}
	default:
		finding.Message = fmt.Sprintf("%v", result)
	}

	return finding
}

// compileAndStorePolicy compiles a policy and stores it.
func (e *Engine) compileAndStorePolicy(ctx context.Context, policy *Policy) error {
	module, err := ast.ParseModule(policy.Name, policy.Rego)
	if err != nil {
		return fmt.Errorf("failed to parse policy: %w", err)
	}

	query := module.Package.Path.String() + ".deny"
	r := rego.New(
		rego.Module(policy.Name, policy.Rego),
		rego.Store(e.store),
		rego.Query(query),
	)

	prepared, err := r.PrepareForEval(ctx)
	if err != nil {
		return fmt.Errorf("failed to prepare query: %w", err)
	}

	e.policies[policy.Name] = &compiledPolicy{
		policy:   policy,
		module:   module,
		query:    prepared,
		compiled: time.Now(),
	}

	e.logger.Debug().
		Str("policy", policy.Name).
		Str("query", query).
		Msg("Policy compiled successfully")

	return nil
}

// loadBuiltinPolicies loads the built-in policies.
func (e *Engine) loadBuiltinPolicies(ctx context.Context) error {
	for i := range e.builtinPolicies {
		if err := e.compileAndStorePolicy(ctx, &e.builtinPolicies[i]); err != nil {
			return fmt.Errorf("failed to compile built-in policy %s: %w", e.builtinPolicies[i].Name, err)
		}
	}

	e.logger.Debug().
		Int("count", len(e.builtinPolicies)).
		Msg("Built-in policies loaded")

	return nil
}

// GetPolicy returns a policy by name.
func (e *Engine) GetPolicy(name string) (*Policy, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	cp, exists := e.policies[name]
	if !exists {
		return nil, fmt.Errorf("policy not found: %s", name)
	}

	return cp.policy, nil
}

// ListPolicies returns all loaded policies sorted by name.
func (e *Engine) ListPolicies() []Policy {
	e.mu.RLock()
	defer e.mu.RUnlock()

	policies := make([]Policy, 0, len(e.policies))
	for _, name := range e.sortedNames() {
		policies = append(policies, *e.policies[name].policy)
	}

	return policies
}

// ReloadPolicies drops loaded policies and recompiles the built-in set.
func (e *Engine) ReloadPolicies(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.policies = make(map[string]*compiledPolicy)
	e.builtinPolicies = GetBuiltinPolicies()

	return e.loadBuiltinPolicies(ctx)
}

// EnablePolicy enables a policy by name.
func (e *Engine) EnablePolicy(name string) error {
	return e.setEnabled(name, true)
}

// DisablePolicy disables a policy by name.
func (e *Engine) DisablePolicy(name string) error {
	return e.setEnabled(name, false)
}

func (e *Engine) setEnabled(name string, enabled bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	cp, exists := e.policies[name]
	if !exists {
		return fmt.Errorf("policy not found: %s", name)
	}

	cp.policy.Enabled = enabled
	e.logger.Info().Str("policy", name).Bool("enabled", enabled).Msg("Policy state changed")

	return nil
}
