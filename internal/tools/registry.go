package tools

import (
	"errors"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
)

// Resolution errors.
var (
	ErrUnknownTool    = errors.New("unknown tool")
	ErrMethodNotFound = errors.New("method not found")
)

// Registry is the static module table plus the catalogue derived from the
// alias table.
type Registry struct {
	modules map[string]map[string]*Method
	aliases map[string]Ref
	tools   []Tool
	byName  map[string]int
}

// NewRegistry builds a registry. Every alias must point at a registered method.
func NewRegistry(modules ...Module) (*Registry, error) {
	r := &Registry{
		modules: make(map[string]map[string]*Method, len(modules)),
		aliases: make(map[string]Ref, len(aliasTable)),
		byName:  make(map[string]int, len(aliasTable)),
	}
	for _, m := range modules {
		if _, dup := r.modules[m.Name]; dup {
			return nil, fmt.Errorf("module %q registered twice", m.Name)
		}
		methods := make(map[string]*Method, len(m.Methods))
		for _, method := range m.Methods {
			if method.Handler == nil {
				return nil, fmt.Errorf("method %s.%s has no handler", m.Name, method.Name)
			}
			methods[method.Name] = method
		}
		r.modules[m.Name] = methods
	}

	for _, a := range aliasTable {
		method, ok := r.modules[a.Ref.Module][a.Ref.Method]
		if !ok {
			return nil, fmt.Errorf("alias %s points at unregistered method %s", a.Name, a.Ref)
		}
		r.aliases[a.Name] = a.Ref
		r.byName[a.Name] = len(r.tools)
		r.tools = append(r.tools, Tool{
			Name:        a.Name,
			Module:      a.Ref.Module,
			Method:      a.Ref.Method,
			Description: method.Description,
			HTTP:        Route{Method: method.HTTPMethod, Path: method.Path},
			Scopes:      scopesFor(a.Name),
			params:      method.Params,
			created:     method.Created,
		})
	}
	return r, nil
}

// Resolve finds the method for name, either "<module>.<method>" or an alias.
func (r *Registry) Resolve(name string) (*Method, Ref, error) {
	if module, method, ok := strings.Cut(name, "."); ok {
		methods, found := r.modules[module]
		if !found {
			return nil, Ref{}, fmt.Errorf("%w: %s", ErrUnknownTool, name)
		}
		m, found := methods[method]
		if !found {
			return nil, Ref{}, fmt.Errorf("%w: %s", ErrMethodNotFound, name)
		}
		return m, Ref{Module: module, Method: method}, nil
	}
	ref, ok := r.aliases[name]
	if !ok {
		return nil, Ref{}, fmt.Errorf("%w: %s", ErrUnknownTool, name)
	}
	return r.modules[ref.Module][ref.Method], ref, nil
}

// Tools returns the catalogue in alias-table order.
func (r *Registry) Tools() []Tool {
	out := make([]Tool, len(r.tools))
	copy(out, r.tools)
	return out
}

// Tool returns the catalogue entry for an alias.
func (r *Registry) Tool(name string) (Tool, bool) {
	i, ok := r.byName[name]
	if !ok {
		return Tool{}, false
	}
	return r.tools[i], true
}

// ToolsFor returns the catalogue entries unlocked by scopes.
func (r *Registry) ToolsFor(scopes []string) []Tool {
	names := AvailableTools(scopes)
	out := make([]Tool, 0, len(names))
	for _, n := range names {
		if t, ok := r.Tool(n); ok {
			out = append(out, t)
		}
	}
	return out
}

// MCPTool renders a catalogue entry as an MCP tool with a JSON-schema input.
func MCPTool(t Tool) mcp.Tool {
	opts := []mcp.ToolOption{mcp.WithDescription(t.Description)}
	for _, p := range t.params {
		opts = append(opts, paramOption(p))
	}
	return mcp.NewTool(t.Name, opts...)
}

func paramOption(p Param) mcp.ToolOption {
	props := []mcp.PropertyOption{mcp.Description(p.Description)}
	if p.Required {
		props = append(props, mcp.Required())
	}

	switch p.Type {
	case TypeInteger:
		if p.Max > 0 {
			props = append(props, mcp.Min(float64(p.Min)), mcp.Max(float64(p.Max)))
		}
		if d, ok := p.Default.(int); ok {
			props = append(props, mcp.DefaultNumber(float64(d)))
		}
		// mcp-go only knows "number"; tighten it to integer.
		props = append(props, func(schema map[string]any) { schema["type"] = "integer" })
		return mcp.WithNumber(p.Name, props...)

	case TypeBoolean:
		if d, ok := p.Default.(bool); ok {
			props = append(props, mcp.DefaultBool(d))
		}
		return mcp.WithBoolean(p.Name, props...)

	case TypeArray:
		items := map[string]any{"type": string(TypeString)}
		if p.Items != "" {
			items["type"] = string(p.Items)
		}
		if len(p.Enum) > 0 {
			items["enum"] = p.Enum
		}
		props = append(props, mcp.Items(items))
		return mcp.WithArray(p.Name, props...)

	case TypeObject:
		return mcp.WithObject(p.Name, props...)

	default:
		if len(p.Enum) > 0 {
			props = append(props, mcp.Enum(p.Enum...))
		}
		if d, ok := p.Default.(string); ok {
			props = append(props, mcp.DefaultString(d))
		}
		return mcp.WithString(p.Name, props...)
	}
}
