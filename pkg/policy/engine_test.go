package policy

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/virtuaplant/virtuaplant/pkg/tags"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	logger := zerolog.New(nil).Level(zerolog.Disabled)
	eng, err := NewEngine(logger)
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}
	return eng
}

func refineryTags() []tags.Tag {
	return []tags.Tag{
		{Name: "SENSOR_TANK_LEVEL", Type: tags.TypeInt, Table: tags.TableInputRegister, Address: 0, Width: 1, Role: tags.RoleSensor},
		{Name: "SENSOR_OIL_SPILL", Type: tags.TypeInt, Table: tags.TableInputRegister, Address: 1, Width: 1, Role: tags.RoleSensor},
		{Name: "SENSOR_OIL_UPPER", Type: tags.TypeBool, Table: tags.TableDiscreteInput, Address: 0, Width: 1, Role: tags.RoleSensor},
		{Name: "ACT_FEED_PUMP", Type: tags.TypeBool, Table: tags.TableCoil, Address: 0, Width: 1, Role: tags.RoleActuator},
		{Name: "CMD_RUN", Type: tags.TypeBool, Table: tags.TableCoil, Address: 1, Width: 1, Role: tags.RoleCommand},
	}
}

func findingsFor(findings []tags.Finding, policy, tag string) []tags.Finding {
	var out []tags.Finding
	for _, f := range findings {
		if f.Policy == policy && f.Tag == tag {
			out = append(out, f)
		}
	}
	return out
}

func TestNewEngine(t *testing.T) {
	eng := newTestEngine(t)

	policies := eng.ListPolicies()
	expected := []string{"tag-naming", "tag-tables", "tag-types"}
	if len(policies) != len(expected) {
		t.Fatalf("Expected %d built-in policies, got %d", len(expected), len(policies))
	}
	for i, name := range expected {
		if policies[i].Name != name {
			t.Errorf("Expected policy %d to be %s, got %s", i, name, policies[i].Name)
		}
	}
}

func TestCheckTags_CleanMap(t *testing.T) {
	eng := newTestEngine(t)

	findings, err := eng.CheckTags(context.Background(), refineryTags())
	if err != nil {
		t.Fatalf("CheckTags failed: %v", err)
	}
	if len(findings) != 0 {
		t.Errorf("Expected no findings, got %v", findings)
	}
}

func TestCheckTags_Violations(t *testing.T) {
	tests := []struct {
		name     string
		tag      tags.Tag
		policy   string
		severity string
		contains string
	}{
		{
			name:     "lowercase name",
			tag:      tags.Tag{Name: "SENSOR_level", Type: tags.TypeBool, Table: tags.TableDiscreteInput, Width: 1, Role: tags.RoleSensor},
			policy:   "tag-naming",
			severity: "error",
			contains: "must match",
		},
		{
			name:     "missing role prefix",
			tag:      tags.Tag{Name: "LEVEL", Type: tags.TypeBool, Table: tags.TableDiscreteInput, Width: 1, Role: tags.RoleSensor},
			policy:   "tag-naming",
			severity: "error",
			contains: "must start with one of",
		},
		{
			name:     "long name",
			tag:      tags.Tag{Name: "SENSOR_" + strings.Repeat("X", 40), Type: tags.TypeBool, Table: tags.TableDiscreteInput, Width: 1, Role: tags.RoleSensor},
			policy:   "tag-naming",
			severity: "warning",
			contains: "longer than",
		},
		{
			name:     "bool in holding register",
			tag:      tags.Tag{Name: "ACT_VALVE", Type: tags.TypeBool, Table: tags.TableHoldingRegister, Width: 1, Role: tags.RoleActuator},
			policy:   "tag-types",
			severity: "error",
			contains: "BOOL tag",
		},
		{
			name:     "int in coil",
			tag:      tags.Tag{Name: "ACT_SPEED", Type: tags.TypeInt, Table: tags.TableCoil, Width: 1, Role: tags.RoleActuator},
			policy:   "tag-types",
			severity: "error",
			contains: "INT tag",
		},
		{
			name:     "wide bool",
			tag:      tags.Tag{Name: "ACT_PAIR", Type: tags.TypeBool, Table: tags.TableCoil, Width: 2, Role: tags.RoleActuator},
			policy:   "tag-types",
			severity: "warning",
			contains: "width 2",
		},
		{
			name:     "sensor in coil",
			tag:      tags.Tag{Name: "SENSOR_SWITCH", Type: tags.TypeBool, Table: tags.TableCoil, Width: 1, Role: tags.RoleSensor},
			policy:   "tag-tables",
			severity: "error",
			contains: "must live in one of",
		},
		{
			name:     "address past range",
			tag:      tags.Tag{Name: "ACT_SETPOINT", Type: tags.TypeInt, Table: tags.TableHoldingRegister, Address: 65535, Width: 2, Role: tags.RoleActuator},
			policy:   "tag-tables",
			severity: "error",
			contains: "ends at address 65536",
		},
	}

	eng := newTestEngine(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			findings, err := eng.CheckTags(context.Background(), []tags.Tag{tt.tag})
			if err != nil {
				t.Fatalf("CheckTags failed: %v", err)
			}

			got := findingsFor(findings, tt.policy, tt.tag.Name)
			if len(got) == 0 {
				t.Fatalf("Expected a %s finding for %s, got %v", tt.policy, tt.tag.Name, findings)
			}

			matched := false
			for _, f := range got {
				if f.Severity == tt.severity && strings.Contains(f.Message, tt.contains) {
					matched = true
				}
			}
			if !matched {
				t.Errorf("No %s finding with %q, got %v", tt.severity, tt.contains, got)
			}
		})
	}
}

func TestEvaluate_AllowedAndSorted(t *testing.T) {
	eng := newTestEngine(t)

	list := append(refineryTags(),
		tags.Tag{Name: "SENSOR_Z", Type: tags.TypeBool, Table: tags.TableCoil, Width: 1, Role: tags.RoleSensor},
		tags.Tag{Name: "ACT_A", Type: tags.TypeBool, Table: tags.TableCoil, Width: 3, Role: tags.RoleActuator},
	)

	result, err := eng.Evaluate(context.Background(), list, "validate")
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if result.Allowed {
		t.Error("Expected map with a misplaced sensor to be disallowed")
	}
	if len(result.EvaluatedPolicies) != 3 {
		t.Errorf("Expected 3 evaluated policies, got %v", result.EvaluatedPolicies)
	}
	if len(result.Findings) < 2 {
		t.Fatalf("Expected at least 2 findings, got %v", result.Findings)
	}
	if result.Findings[0].Tag != "ACT_A" {
		t.Errorf("Expected findings sorted by tag, first is %s", result.Findings[0].Tag)
	}
}

func TestSetRules(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()

	rules := DefaultRules()
	rules.Roles["Sensor"] = RoleRule{Prefixes: []string{"SNS_"}, Tables: []string{"DI", "IR"}}
	if err := eng.SetRules(ctx, rules); err != nil {
		t.Fatalf("SetRules failed: %v", err)
	}

	findings, err := eng.CheckTags(ctx, refineryTags())
	if err != nil {
		t.Fatalf("CheckTags failed: %v", err)
	}
	if got := findingsFor(findings, "tag-naming", "SENSOR_TANK_LEVEL"); len(got) != 1 {
		t.Errorf("Expected one naming finding for SENSOR_TANK_LEVEL, got %v", findings)
	}
	if got := eng.Rules().Roles["Sensor"].Prefixes; len(got) != 1 || got[0] != "SNS_" {
		t.Errorf("Expected rules to be replaced, got %v", got)
	}
}

func TestSetRules_Invalid(t *testing.T) {
	eng := newTestEngine(t)

	rules := DefaultRules()
	rules.NamePattern = "(["
	if err := eng.SetRules(context.Background(), rules); err == nil {
		t.Error("Expected error for invalid name pattern")
	}

	rules = DefaultRules()
	rules.BoolTables = []string{"XX"}
	if err := eng.SetRules(context.Background(), rules); err == nil {
		t.Error("Expected error for unknown table")
	}

	// The previous rules stay in force.
	if eng.Rules().NamePattern != DefaultRules().NamePattern {
		t.Error("Rules changed after a rejected update")
	}
}

func TestDisablePolicy(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()

	list := []tags.Tag{{Name: "SENSOR_SWITCH", Type: tags.TypeBool, Table: tags.TableCoil, Width: 1, Role: tags.RoleSensor}}

	if err := eng.DisablePolicy("tag-tables"); err != nil {
		t.Fatalf("DisablePolicy failed: %v", err)
	}
	findings, err := eng.CheckTags(ctx, list)
	if err != nil {
		t.Fatalf("CheckTags failed: %v", err)
	}
	if len(findings) != 0 {
		t.Errorf("Expected no findings with tag-tables disabled, got %v", findings)
	}

	if err := eng.EnablePolicy("tag-tables"); err != nil {
		t.Fatalf("EnablePolicy failed: %v", err)
	}
	findings, err = eng.CheckTags(ctx, list)
	if err != nil {
		t.Fatalf("CheckTags failed: %v", err)
	}
	if len(findings) == 0 {
		t.Error("Expected findings once tag-tables is re-enabled")
	}

	if err := eng.DisablePolicy("missing"); err == nil {
		t.Error("Expected error for unknown policy")
	}
}

func TestLoadPolicies_Custom(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()

	dir := t.TempDir()
	rego := `package site.units

import rego.v1

# Sensors must declare units
deny contains v if {
	some tag in input.tags
	tag.role == "Sensor"
	not tag.units
	v := {"tag": tag.name, "message": "sensor has no units"}
}
`
	if err := os.WriteFile(filepath.Join(dir, "units.rego"), []byte(rego), 0o644); err != nil {
		t.Fatalf("Failed to write policy: %v", err)
	}

	if err := eng.LoadPolicies(ctx, []string{dir}); err != nil {
		t.Fatalf("LoadPolicies failed: %v", err)
	}

	p, err := eng.GetPolicy("units")
	if err != nil {
		t.Fatalf("GetPolicy failed: %v", err)
	}
	if p.Description != "Sensors must declare units" {
		t.Errorf("Unexpected description %q", p.Description)
	}

	findings, err := eng.CheckTags(ctx, refineryTags())
	if err != nil {
		t.Fatalf("CheckTags failed: %v", err)
	}
	got := findingsFor(findings, "units", "SENSOR_OIL_UPPER")
	if len(got) != 1 {
		t.Fatalf("Expected one units finding for SENSOR_OIL_UPPER, got %v", findings)
	}
	if got[0].Severity != string(SeverityWarning) {
		t.Errorf("Expected default severity warning, got %s", got[0].Severity)
	}

	if err := eng.ReloadPolicies(ctx); err != nil {
		t.Fatalf("ReloadPolicies failed: %v", err)
	}
	if _, err := eng.GetPolicy("units"); err == nil {
		t.Error("Expected custom policy to be dropped on reload")
	}
}

func TestLoadPolicies_BadRego(t *testing.T) {
	eng := newTestEngine(t)

	path := filepath.Join(t.TempDir(), "broken.rego")
	if err := os.WriteFile(path, []byte("package broken\n\ndeny contains"), 0o644); err != nil {
		t.Fatalf("Failed to write policy: %v", err)
	}

	if err := eng.LoadPolicies(context.Background(), []string{path}); err == nil {
		t.Error("Expected compile error for broken policy")
	}
}

const strictMap = `name,type,table,address,role
SENSOR_LEVEL,BOOL,DI,0,Sensor
SENSOR_SWITCH,BOOL,COIL,0,Sensor
ACT_MOTOR,BOOL,COIL,1,Actuator
`

func TestEngineAsPolicyChecker(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()

	path := filepath.Join(t.TempDir(), "modbus_map.csv")
	if err := os.WriteFile(path, []byte(strictMap), 0o644); err != nil {
		t.Fatalf("Failed to write map: %v", err)
	}

	reg, report, err := tags.Load(ctx, path, tags.WithPolicy(eng))
	if err != nil {
		t.Fatalf("Advisory load failed: %v", err)
	}
	if reg.Len() != 3 {
		t.Errorf("Expected 3 tags, got %d", reg.Len())
	}
	policyWarnings := 0
	for _, w := range report.Warnings {
		if w.Kind == tags.WarningPolicy && w.Tag == "SENSOR_SWITCH" {
			policyWarnings++
		}
	}
	if policyWarnings == 0 {
		t.Errorf("Expected policy warning for SENSOR_SWITCH, got %v", report.Warnings)
	}

	_, _, err = tags.Load(ctx, path, tags.WithPolicy(eng), tags.WithStrictPolicy())
	var perr *tags.PolicyError
	if !errors.As(err, &perr) {
		t.Fatalf("Expected PolicyError in strict mode, got %v", err)
	}
	if !errors.Is(err, tags.ErrPolicy) {
		t.Error("Expected PolicyError to match ErrPolicy")
	}
}
