// Package fields checks record payloads against the field definitions of
// their record type. Payloads are open maps keyed by field slug.
package fields

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"
)

type Type string

const (
	TypeText     Type = "text"
	TypeMarkdown Type = "markdown"
	TypeNumber   Type = "number"
	TypeBoolean  Type = "boolean"
	TypeDate     Type = "date"
	TypeURL      Type = "url"
	TypeList     Type = "list"
	TypeObject   Type = "object"
)

type Definition struct {
	Slug      string `json:"slug"`
	Label     string `json:"label"`
	Type      Type   `json:"type"`
	Required  bool   `json:"required"`
	SortOrder int    `json:"sortOrder"`
}

type Payload map[string]any

type Violation struct {
	Field   string `json:"field"`
	Problem string `json:"problem"`
}

type ValidationError struct {
	Violations []Violation
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Violations))
	for _, v := range e.Violations {
		parts = append(parts, v.Field+": "+v.Problem)
	}
	return "invalid payload: " + strings.Join(parts, "; ")
}

// Lookup finds the definition for slug.
func Lookup(defs []Definition, slug string) (Definition, bool) {
	for _, def := range defs {
		if def.Slug == slug {
			return def, true
		}
	}
	return Definition{}, false
}

// Validate checks requiredness, value types and unknown keys. Violations
// are reported in field order so messages are stable.
func Validate(defs []Definition, data Payload) error {
	violations := make([]Violation, 0)
	known := make(map[string]struct{}, len(defs))
	for _, def := range defs {
		known[def.Slug] = struct{}{}
		value, present := data[def.Slug]
		if !present || isEmpty(value) {
			if def.Required {
				violations = append(violations, Violation{Field: def.Slug, Problem: "is required"})
			}
			continue
		}
		if problem := checkType(def.Type, value); problem != "" {
			violations = append(violations, Violation{Field: def.Slug, Problem: problem})
		}
	}

	unknown := make([]string, 0)
	for key := range data {
		if _, ok := known[key]; !ok {
			unknown = append(unknown, key)
		}
	}
	sort.Strings(unknown)
	for _, key := range unknown {
		violations = append(violations, Violation{Field: key, Problem: "is not defined for this record type"})
	}

	if len(violations) == 0 {
		return nil
	}
	return &ValidationError{Violations: violations}
}

func isEmpty(value any) bool {
	switch v := value.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(v) == ""
	default:
		return false
	}
}

func checkType(fieldType Type, value any) string {
	switch fieldType {
	case TypeText, TypeMarkdown:
		if _, ok := value.(string); !ok {
			return "must be a string"
		}
	case TypeNumber:
		switch value.(type) {
		case float64, float32, int, int64, int32:
		default:
			return "must be a number"
		}
	case TypeBoolean:
		if _, ok := value.(bool); !ok {
			return "must be a boolean"
		}
	case TypeDate:
		s, ok := value.(string)
		if !ok {
			return "must be a date string"
		}
		if _, err := time.Parse("2006-01-02", s); err != nil {
			if _, err := time.Parse(time.RFC3339, s); err != nil {
				return "must be YYYY-MM-DD or RFC 3339"
			}
		}
	case TypeURL:
		s, ok := value.(string)
		if !ok {
			return "must be a URL string"
		}
		parsed, err := url.ParseRequestURI(s)
		if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
			return "must be an http(s) URL"
		}
	case TypeList:
		if _, ok := value.([]any); !ok {
			return "must be a list"
		}
	case TypeObject:
		if _, ok := value.(map[string]any); !ok {
			return "must be an object"
		}
	default:
		return fmt.Sprintf("has unsupported type %q", fieldType)
	}
	return ""
}
