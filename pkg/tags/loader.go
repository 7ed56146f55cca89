package tags

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
)

// Columns every tag map header must carry. Width, units and desc are optional.
var requiredColumns = []string{"name", "type", "table", "address", "role"}

type loadOptions struct {
	reference    string
	policy       PolicyChecker
	strictPolicy bool
	logger       zerolog.Logger
}

// LoadOption configures Load.
type LoadOption func(*loadOptions)

// WithReference cross-checks the tag map against the reference model at path.
// A missing or unreadable reference is reported as a warning.
func WithReference(path string) LoadOption {
	return func(o *loadOptions) { o.reference = path }
}

// WithPolicy evaluates the loaded tags with checker and reports its findings
// as warnings.
func WithPolicy(checker PolicyChecker) LoadOption {
	return func(o *loadOptions) { o.policy = checker }
}

// WithStrictPolicy makes error-severity policy findings fail the load.
func WithStrictPolicy() LoadOption {
	return func(o *loadOptions) { o.strictPolicy = true }
}

// WithLogger logs every warning as it is found.
func WithLogger(logger zerolog.Logger) LoadOption {
	return func(o *loadOptions) { o.logger = logger }
}

// Load reads the tag map at path and builds a validated Registry.
//
// The returned Report is non-nil whenever parsing got far enough to produce
// findings, including when err is a fatal RolePolicyViolation.
func Load(ctx context.Context, path string, opts ...LoadOption) (*Registry, *Report, error) {
	o := loadOptions{logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(&o)
	}

	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil, &MissingFileError{Path: path}
		}
		return nil, nil, fmt.Errorf("failed to open tag map: %w", err)
	}
	defer f.Close()

	list, err := Parse(f)
	if err != nil {
		return nil, nil, err
	}

	report := &Report{Path: path, Tags: len(list)}

	if o.reference != "" {
		ref, refErr := LoadReference(o.reference)
		if refErr != nil {
			report.warn(WarningReferenceUnavailable, "", "skipping reference cross-check: %v", refErr)
		} else {
			report.Warnings = append(report.Warnings, CrossCheck(list, ref)...)
		}
	}

	reg, err := NewRegistry(list)
	if err != nil {
		logWarnings(o.logger, report)
		return nil, report, err
	}

	if o.policy != nil {
		findings, perr := o.policy.CheckTags(ctx, reg.Tags())
		if perr != nil {
			return nil, report, fmt.Errorf("failed to evaluate tag policies: %w", perr)
		}
		var fatal []Finding
		for _, fd := range findings {
			if o.strictPolicy && fd.Severity == SeverityError {
				fatal = append(fatal, fd)
				continue
			}
			report.warn(WarningPolicy, fd.Tag, "%s: %s", fd.Policy, fd.Message)
		}
		if len(fatal) > 0 {
			logWarnings(o.logger, report)
			return nil, report, &PolicyError{Findings: fatal}
		}
	}

	logWarnings(o.logger, report)
	return reg, report, nil
}

func logWarnings(logger zerolog.Logger, report *Report) {
	for _, w := range report.Warnings {
		logger.Warn().
			Str("kind", string(w.Kind)).
			Str("tag", w.Tag).
			Msg(w.Message)
	}
}

var validate = validator.New()

// Parse decodes tag rows from a CSV stream. It performs per-row checks only;
// use NewRegistry for the cross-row checks.
func Parse(r io.Reader) ([]Tag, error) {
	cr := csv.NewReader(r)
	cr.Comment = '#'
	cr.TrimLeadingSpace = true
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, &MalformedRowError{Line: 1, Reason: "empty tag map"}
		}
		return nil, csvError(err)
	}

	cols := make(map[string]int, len(header))
	for i, h := range header {
		cols[strings.ToLower(strings.TrimSpace(h))] = i
	}
	for _, c := range requiredColumns {
		if _, ok := cols[c]; !ok {
			return nil, &MalformedRowError{Line: 1, Field: c, Reason: "missing column"}
		}
	}

	var (
		list  []Tag
		names = make(map[string]struct{})
	)
	for {
		record, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, csvError(err)
		}
		line, _ := cr.FieldPos(0)

		t, err := parseRow(record, cols, line)
		if err != nil {
			return nil, err
		}
		if _, dup := names[t.Name]; dup {
			return nil, &DuplicateTagError{Name: t.Name, Line: line}
		}
		names[t.Name] = struct{}{}
		list = append(list, t)
	}
	return list, nil
}

func parseRow(record []string, cols map[string]int, line int) (Tag, error) {
	field := func(name string) string {
		i, ok := cols[name]
		if !ok || i >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[i])
	}
	required := func(name string) (string, error) {
		v := field(name)
		if v == "" {
			return "", &MalformedRowError{Line: line, Field: name, Reason: "value is required"}
		}
		return v, nil
	}

	var t Tag
	var err error

	if t.Name, err = required("name"); err != nil {
		return Tag{}, err
	}
	if strings.ContainsAny(t.Name, " \t") {
		return Tag{}, &MalformedRowError{Line: line, Field: "name", Reason: "whitespace in tag name"}
	}

	raw, err := required("type")
	if err != nil {
		return Tag{}, err
	}
	if t.Type, err = ParseType(raw); err != nil {
		return Tag{}, &MalformedRowError{Line: line, Field: "type", Reason: err.Error()}
	}

	if raw, err = required("table"); err != nil {
		return Tag{}, err
	}
	if t.Table, err = ParseTable(raw); err != nil {
		return Tag{}, &MalformedRowError{Line: line, Field: "table", Reason: err.Error()}
	}

	if raw, err = required("address"); err != nil {
		return Tag{}, err
	}
	if t.Address, err = strconv.Atoi(raw); err != nil {
		return Tag{}, &MalformedRowError{Line: line, Field: "address", Reason: "not an integer"}
	}

	t.Width = 1
	if raw = field("width"); raw != "" {
		if t.Width, err = strconv.Atoi(raw); err != nil {
			return Tag{}, &MalformedRowError{Line: line, Field: "width", Reason: "not an integer"}
		}
	}

	if raw, err = required("role"); err != nil {
		return Tag{}, err
	}
	if t.Role, err = ParseRole(raw); err != nil {
		return Tag{}, &MalformedRowError{Line: line, Field: "role", Reason: err.Error()}
	}

	t.Units = field("units")
	t.Description = field("desc")

	if err := validate.Struct(t); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return Tag{}, &MalformedRowError{
				Line:   line,
				Field:  strings.ToLower(fe.Field()),
				Reason: fmt.Sprintf("failed %q constraint", fe.Tag()),
			}
		}
		return Tag{}, &MalformedRowError{Line: line, Reason: err.Error()}
	}
	return t, nil
}

func csvError(err error) error {
	var perr *csv.ParseError
	if errors.As(err, &perr) {
		return &MalformedRowError{Line: perr.Line, Reason: perr.Err.Error()}
	}
	return fmt.Errorf("failed to read tag map: %w", err)
}
