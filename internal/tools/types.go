package tools

import (
	"context"
	"fmt"
	"strconv"
)

// ArgAccessToken is the argument the dispatcher injects with the upstream bearer.
const ArgAccessToken = "accessToken"

// Args are the arguments passed to a handler.
type Args map[string]any

// AccessToken returns the injected upstream bearer.
func (a Args) AccessToken() string { return a.String(ArgAccessToken) }

// String returns a string argument or "".
func (a Args) String(name string) string {
	s, _ := a[name].(string)
	return s
}

// Int returns an integer argument or def.
func (a Args) Int(name string, def int) int {
	switch v := a[name].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	case string:
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

// Bool returns a boolean argument or def.
func (a Args) Bool(name string, def bool) bool {
	if b, ok := a[name].(bool); ok {
		return b
	}
	return def
}

// Has reports whether name was supplied.
func (a Args) Has(name string) bool {
	_, ok := a[name]
	return ok
}

// Strings returns an array argument as strings, skipping non-string items.
func (a Args) Strings(name string) []string {
	switch v := a[name].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// Object returns an object argument or nil.
func (a Args) Object(name string) map[string]any {
	m, _ := a[name].(map[string]any)
	return m
}

// Handler implements one tool. It returns any JSON-encodable value; strings
// pass through to clients unchanged.
type Handler func(ctx context.Context, args Args) (any, error)

// ParamType is a JSON-schema primitive type.
type ParamType string

const (
	TypeString  ParamType = "string"
	TypeInteger ParamType = "integer"
	TypeBoolean ParamType = "boolean"
	TypeArray   ParamType = "array"
	TypeObject  ParamType = "object"
)

// Param declares one tool argument.
type Param struct {
	Name        string
	Type        ParamType
	Description string
	Required    bool
	Enum        []string
	Default     any
	// Min and Max bound integers when Max > 0.
	Min, Max int
	// Items is the element type of arrays; strings when empty.
	Items ParamType
}

// Method is a module method exposed as a tool.
type Method struct {
	Name        string
	Description string
	Params      []Param
	Handler     Handler

	// HTTPMethod and Path place the tool on the REST surface, relative to /v1.
	HTTPMethod string
	Path       string
	// Created answers REST calls with 201.
	Created bool
}

// Module is a named set of methods.
type Module struct {
	Name    string
	Methods []*Method
}

// Ref names a module method.
type Ref struct {
	Module string
	Method string
}

func (r Ref) String() string { return r.Module + "." + r.Method }

// Tool is a catalogue entry: a method under its public name.
type Tool struct {
	Name        string   `json:"name"`
	Module      string   `json:"module"`
	Method      string   `json:"method"`
	Description string   `json:"description"`
	HTTP        Route    `json:"http"`
	Scopes      []string `json:"scopes"`

	params  []Param
	created bool
}

// Route is the REST placement of a tool.
type Route struct {
	Method string `json:"method"`
	Path   string `json:"path"`
}

// Params returns the declared parameters.
func (t Tool) Params() []Param { return t.params }

// Created reports whether REST calls answer 201.
func (t Tool) Created() bool { return t.created }

func (t Tool) String() string { return fmt.Sprintf("%s (%s.%s)", t.Name, t.Module, t.Method) }
