package policy

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// Loader reads tag policy rules and Rego policies from disk.
type Loader struct {
	logger zerolog.Logger
}

// NewLoader creates a new policy loader.
func NewLoader(logger zerolog.Logger) *Loader {
	return &Loader{
		logger: logger.With().Str("component", "policy-loader").Logger(),
	}
}

// LoadRules reads a YAML rules file. Keys missing from the file keep their
// DefaultRules value.
func (l *Loader) LoadRules(path string) (Rules, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Rules{}, fmt.Errorf("failed to read rules: %w", err)
	}

	rules := DefaultRules()
	if err := yaml.Unmarshal(data, &rules); err != nil {
		return Rules{}, fmt.Errorf("failed to parse rules %s: %w", path, err)
	}
	if err := ValidateRules(rules); err != nil {
		return Rules{}, fmt.Errorf("%s: %w", path, err)
	}

	l.logger.Debug().
		Str("path", path).
		Int("roles", len(rules.Roles)).
		Msg("Tag policy rules loaded")

	return rules, nil
}

// LoadFromPaths loads every policy under paths. A path is either a policy
// file or a directory searched recursively. Two policies with the same
// name are an error.
func (l *Loader) LoadFromPaths(ctx context.Context, paths []string) ([]Policy, error) {
	var all []Policy
	origin := make(map[string]string)

	for _, path := range paths {
		policies, err := l.loadFromPath(ctx, path)
		if err != nil {
			return nil, fmt.Errorf("failed to load from path %s: %w", path, err)
		}
		for _, p := range policies {
			src, _ := p.Metadata["source"].(string)
			if prev, dup := origin[p.Name]; dup {
				return nil, fmt.Errorf("policy %s defined in both %s and %s", p.Name, prev, src)
			}
			origin[p.Name] = src
		}
		all = append(all, policies...)
	}

	l.logger.Info().
		Int("policies", len(all)).
		Int("sources", len(paths)).
		Msg("Tag policies loaded")

	return all, nil
}

func (l *Loader) loadFromPath(ctx context.Context, path string) ([]Policy, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat path: %w", err)
	}
	if info.IsDir() {
		return l.loadFromDirectory(ctx, path)
	}

	policy, err := l.loadFromFile(path)
	if err != nil {
		return nil, err
	}
	return []Policy{*policy}, nil
}

// loadFromDirectory loads every policy file below dir in lexical path
// order. Files that fail to parse are logged and skipped.
func (l *Loader) loadFromDirectory(ctx context.Context, dir string) ([]Policy, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if !d.IsDir() && isPolicyFile(path) {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk directory: %w", err)
	}
	sort.Strings(files)

	policies := make([]Policy, 0, len(files))
	for _, path := range files {
		policy, err := l.loadFromFile(path)
		if err != nil {
			l.logger.Warn().Err(err).Str("path", path).Msg("Skipping unreadable policy file")
			continue
		}
		policies = append(policies, *policy)
	}
	return policies, nil
}

func isPolicyFile(path string) bool {
	switch filepath.Ext(path) {
	case ".rego", ".json", ".yaml", ".yml":
		return true
	}
	return false
}

func (l *Loader) loadFromFile(path string) (*Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	var policy *Policy
	switch filepath.Ext(path) {
	case ".rego":
		policy = parseRego(path, string(data))
	case ".json":
		policy = &Policy{}
		if err := json.Unmarshal(data, policy); err != nil {
			return nil, fmt.Errorf("failed to parse JSON policy: %w", err)
		}
	case ".yaml", ".yml":
		var doc policyDoc
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("failed to parse YAML policy: %w", err)
		}
		policy = doc.policy()
	default:
		return nil, fmt.Errorf("unsupported file type: %s", path)
	}

	if policy.Name == "" {
		return nil, fmt.Errorf("policy in %s has no name", path)
	}
	switch policy.Severity {
	case "":
		policy.Severity = SeverityWarning
	case SeverityInfo, SeverityWarning, SeverityError:
	default:
		return nil, fmt.Errorf("policy %s: unknown severity %q", policy.Name, policy.Severity)
	}
	now := time.Now()
	if policy.CreatedAt.IsZero() {
		policy.CreatedAt = now
	}
	if policy.UpdatedAt.IsZero() {
		policy.UpdatedAt = now
	}
	if policy.Metadata == nil {
		policy.Metadata = make(map[string]interface{})
	}
	policy.Metadata["source"] = path

	l.logger.Debug().
		Str("path", path).
		Str("policy", policy.Name).
		Str("severity", string(policy.Severity)).
		Msg("Policy loaded from file")

	return policy, nil
}

// policyDoc is the YAML form of a policy. Enabled defaults to true.
type policyDoc struct {
	Name        string                 `yaml:"name"`
	Description string                 `yaml:"description"`
	Rego        string                 `yaml:"rego"`
	Severity    Severity               `yaml:"severity"`
	Enabled     *bool                  `yaml:"enabled"`
	Tags        []string               `yaml:"tags"`
	Metadata    map[string]interface{} `yaml:"metadata"`
}

func (d policyDoc) policy() *Policy {
	enabled := d.Enabled == nil || *d.Enabled
	return &Policy{
		Name:        d.Name,
		Description: d.Description,
		Rego:        d.Rego,
		Severity:    d.Severity,
		Enabled:     enabled,
		Tags:        d.Tags,
		Metadata:    d.Metadata,
	}
}

// parseRego builds a policy from a .rego file named after the file. The
// leading comment block becomes the description, except for two keyed
// lines:
//
//	# severity: error
//	# tags: naming, tables
func parseRego(path, src string) *Policy {
	p := &Policy{
		Name:    strings.TrimSuffix(filepath.Base(path), ".rego"),
		Rego:    src,
		Enabled: true,
		Tags:    []string{},
	}

	var desc []string
	for _, line := range strings.Split(src, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "package ") {
			continue
		}
		comment, ok := strings.CutPrefix(line, "#")
		if !ok {
			break
		}
		comment = strings.TrimSpace(comment)
		key, value, _ := strings.Cut(comment, ":")
		switch strings.ToLower(strings.TrimSpace(key)) {
		case "severity":
			p.Severity = Severity(strings.TrimSpace(value))
		case "tags":
			for _, t := range strings.Split(value, ",") {
				if t = strings.TrimSpace(t); t != "" {
					p.Tags = append(p.Tags, t)
				}
			}
		default:
			if comment != "" {
				desc = append(desc, comment)
			}
		}
	}
	p.Description = strings.Join(desc, " ")
	return p
}
