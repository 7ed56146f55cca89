package tags

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
)

// Reference is the set of tag names an external analyzer expects the plant
// to expose.
type Reference map[string]struct{}

type referenceDoc struct {
	DetailedComponents map[string]referenceComponent `json:"detailed_components"`
}

type referenceComponent struct {
	Tags struct {
		ControllerTags []struct {
			Name string `json:"name"`
		} `json:"controller_tags"`
	} `json:"tags"`
}

// LoadReference reads a reference model. The document is either wrapped in
// a "detailed_components" object or is itself the component map; each
// component lists its names under tags.controller_tags.
func LoadReference(path string) (Reference, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, &MissingFileError{Path: path}
		}
		return nil, fmt.Errorf("failed to read reference model: %w", err)
	}
	return ParseReference(data)
}

// ParseReference parses a reference model document.
func ParseReference(data []byte) (Reference, error) {
	var doc referenceDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse reference model: %w", err)
	}

	components := doc.DetailedComponents
	if components == nil {
		var raw map[string]json.RawMessage
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("failed to parse reference components: %w", err)
		}
		components = make(map[string]referenceComponent, len(raw))
		for name, msg := range raw {
			var c referenceComponent
			// Entries that are not components (metadata, summaries) are skipped.
			if json.Unmarshal(msg, &c) == nil {
				components[name] = c
			}
		}
	}

	ref := make(Reference)
	for _, c := range components {
		for _, t := range c.Tags.ControllerTags {
			if t.Name != "" {
				ref[t.Name] = struct{}{}
			}
		}
	}
	return ref, nil
}

// Names returns the referenced names in lexical order.
func (r Reference) Names() []string {
	out := make([]string, 0, len(r))
	for n := range r {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// CrossCheck compares the mapped tags with the reference in both directions.
// Mismatches are informational only.
func CrossCheck(list []Tag, ref Reference) []Warning {
	mapped := make(map[string]struct{}, len(list))
	for _, t := range list {
		mapped[t.Name] = struct{}{}
	}

	var warnings []Warning
	for _, name := range ref.Names() {
		if _, ok := mapped[name]; !ok {
			warnings = append(warnings, Warning{
				Kind:    WarningMissingInMap,
				Tag:     name,
				Message: "tag in reference model but not in tag map",
			})
		}
	}

	names := make([]string, 0, len(mapped))
	for n := range mapped {
		names = append(names, n)
	}
	sort.Strings(names)
	for _, name := range names {
		if _, ok := ref[name]; !ok {
			warnings = append(warnings, Warning{
				Kind:    WarningMissingInReference,
				Tag:     name,
				Message: "tag in tag map but not in reference model",
			})
		}
	}
	return warnings
}
