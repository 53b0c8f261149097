package tools

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// FieldError describes one invalid argument.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ArgumentError reports invalid tool arguments.
type ArgumentError struct {
	Tool    string
	Details []FieldError
}

func (e *ArgumentError) Error() string {
	parts := make([]string, len(e.Details))
	for i, d := range e.Details {
		parts[i] = d.Field + ": " + d.Message
	}
	return fmt.Sprintf("invalid arguments for %s: %s", e.Tool, strings.Join(parts, "; "))
}

// InvalidArgument builds an ArgumentError for one field; handlers use it for
// checks the schema cannot express.
func InvalidArgument(field, format string, args ...any) *ArgumentError {
	return &ArgumentError{Details: []FieldError{{Field: field, Message: fmt.Sprintf(format, args...)}}}
}

// ValidateArgs checks args against params and returns a normalized copy:
// defaults applied, numeric and boolean strings converted, undeclared
// arguments dropped.
func ValidateArgs(tool string, params []Param, args Args) (Args, error) {
	out := make(Args, len(params)+1)
	var details []FieldError

	for _, p := range params {
		raw, ok := args[p.Name]
		if !ok || raw == nil || raw == "" {
			if p.Required {
				details = append(details, FieldError{Field: p.Name, Message: "is required"})
				continue
			}
			if p.Default != nil {
				out[p.Name] = p.Default
			}
			continue
		}
		v, msg := coerce(p, raw)
		if msg != "" {
			details = append(details, FieldError{Field: p.Name, Message: msg})
			continue
		}
		out[p.Name] = v
	}

	if len(details) > 0 {
		return nil, &ArgumentError{Tool: tool, Details: details}
	}
	return out, nil
}

func coerce(p Param, raw any) (any, string) {
	switch p.Type {
	case TypeString:
		s, ok := raw.(string)
		if !ok {
			return nil, "must be a string"
		}
		if len(p.Enum) > 0 && !contains(p.Enum, s) {
			return nil, "must be one of " + strings.Join(p.Enum, ", ")
		}
		return s, ""

	case TypeInteger:
		n, ok := toInt(raw)
		if !ok {
			return nil, "must be an integer"
		}
		if p.Max > 0 && (n < p.Min || n > p.Max) {
			return nil, fmt.Sprintf("must be between %d and %d", p.Min, p.Max)
		}
		return n, ""

	case TypeBoolean:
		switch v := raw.(type) {
		case bool:
			return v, ""
		case string:
			if b, err := strconv.ParseBool(v); err == nil {
				return b, ""
			}
		}
		return nil, "must be a boolean"

	case TypeArray:
		var items []any
		switch v := raw.(type) {
		case []any:
			items = v
		case []string:
			for _, s := range v {
				items = append(items, s)
			}
		case string:
			// Query strings carry arrays as comma separated values.
			for _, s := range strings.Split(v, ",") {
				if s = strings.TrimSpace(s); s != "" {
					items = append(items, s)
				}
			}
		default:
			return nil, "must be an array"
		}
		if p.Required && len(items) == 0 {
			return nil, "must not be empty"
		}
		if p.Items == "" || p.Items == TypeString {
			for _, item := range items {
				s, ok := item.(string)
				if !ok {
					return nil, "must contain only strings"
				}
				if len(p.Enum) > 0 && !contains(p.Enum, s) {
					return nil, "items must be one of " + strings.Join(p.Enum, ", ")
				}
			}
		}
		return items, ""

	case TypeObject:
		m, ok := raw.(map[string]any)
		if !ok {
			return nil, "must be an object"
		}
		return m, ""
	}
	return raw, ""
}

func toInt(raw any) (int, bool) {
	switch v := raw.(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		if v != math.Trunc(v) || math.IsInf(v, 0) {
			return 0, false
		}
		return int(v), true
	case json.Number:
		n, err := v.Int64()
		return int(n), err == nil
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(v))
		return n, err == nil
	}
	return 0, false
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
