package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/jsonschema-go/jsonschema"
)

// Call is a tool run with its arguments already bound.
type Call func(ctx context.Context) (any, error)

// Binder decodes validated arguments into a Call. A Binder error means the
// arguments never fit the tool, so it is reported before anything runs.
type Binder func(args json.RawMessage) (Call, error)

// Typed binds arguments by decoding them into the parameter struct P.
func Typed[P any](fn func(ctx context.Context, params P) (any, error)) Binder {
	return func(args json.RawMessage) (Call, error) {
		var params P
		if len(args) > 0 {
			if err := json.Unmarshal(args, &params); err != nil {
				return nil, fmt.Errorf("decode parameters: %w", err)
			}
		}
		return func(ctx context.Context) (any, error) {
			return fn(ctx, params)
		}, nil
	}
}

// Raw binds the argument bag as is.
func Raw(fn func(ctx context.Context, args json.RawMessage) (any, error)) Binder {
	return func(args json.RawMessage) (Call, error) {
		return func(ctx context.Context) (any, error) {
			return fn(ctx, args)
		}, nil
	}
}

// Spec is one registry entry. A nil Schema accepts any object.
type Spec struct {
	Name        string
	Description string
	Schema      *jsonschema.Schema
	Bind        Binder

	// Disabled tools still validate their arguments but always answer with
	// DisabledResult and never run.
	Disabled       bool
	DisabledResult any
}

// Declaration is the model-facing description of a tool.
type Declaration struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

type entry struct {
	spec     Spec
	resolved *jsonschema.Resolved
}

// Registry is built once and never mutated afterwards, so it is safe to
// share across requests without locking.
type Registry struct {
	entries map[string]entry
	order   []string
}

func NewRegistry(specs ...Spec) (*Registry, error) {
	registry := &Registry{entries: make(map[string]entry, len(specs))}
	for _, spec := range specs {
		name := strings.TrimSpace(spec.Name)
		if name == "" {
			return nil, fmt.Errorf("tool name is empty")
		}
		if _, exists := registry.entries[name]; exists {
			return nil, fmt.Errorf("tool %s already registered", name)
		}
		if spec.Bind == nil && !spec.Disabled {
			return nil, fmt.Errorf("tool %s has no binder", name)
		}
		if spec.Schema == nil {
			spec.Schema = emptyObject()
		}
		resolved, err := spec.Schema.Resolve(nil)
		if err != nil {
			return nil, fmt.Errorf("tool %s schema: %w", name, err)
		}
		spec.Name = name
		registry.entries[name] = entry{spec: spec, resolved: resolved}
		registry.order = append(registry.order, name)
	}
	return registry, nil
}

func (r *Registry) Lookup(name string) (Spec, bool) {
	entry, ok := r.entries[name]
	return entry.spec, ok
}

func (r *Registry) Names() []string {
	return append([]string{}, r.order...)
}

func (r *Registry) Declarations() []Declaration {
	out := make([]Declaration, 0, len(r.order))
	for _, name := range r.order {
		spec := r.entries[name].spec
		out = append(out, Declaration{
			Name:        spec.Name,
			Description: spec.Description,
			Parameters:  schemaMap(spec.Schema),
		})
	}
	return out
}

// schemaMap renders a schema as the generic JSON object providers expect.
func schemaMap(schema *jsonschema.Schema) map[string]any {
	data, err := json.Marshal(schema)
	if err != nil {
		return map[string]any{"type": "object"}
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return map[string]any{"type": "object"}
	}
	normalizeRequired(out)
	return out
}

// normalizeRequired turns decoded required lists back into []string.
func normalizeRequired(value any) {
	switch typed := value.(type) {
	case map[string]any:
		if list, ok := typed["required"].([]any); ok {
			names := make([]string, 0, len(list))
			for _, item := range list {
				if name, ok := item.(string); ok {
					names = append(names, name)
				}
			}
			typed["required"] = names
		}
		for _, member := range typed {
			normalizeRequired(member)
		}
	case []any:
		for _, item := range typed {
			normalizeRequired(item)
		}
	}
}
