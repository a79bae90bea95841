package tools

import (
	"fmt"
	"slices"

	"github.com/google/jsonschema-go/jsonschema"
)

// SchemaEdit adjusts an inferred schema with constraints Go types cannot carry.
type SchemaEdit func(*jsonschema.Schema)

// SchemaFor infers the argument schema of the parameter struct P. Properties
// whose json tag has omitempty are optional, every other property is required,
// and a jsonschema tag becomes the property description. Parameter types are
// fixed at compile time, so an inference failure panics.
func SchemaFor[P any](edits ...SchemaEdit) *jsonschema.Schema {
	schema, err := jsonschema.For[P](nil)
	if err != nil {
		panic(fmt.Sprintf("tools: infer schema: %v", err))
	}
	relax(schema)
	for _, edit := range edits {
		edit(schema)
	}
	return schema
}

// OneOf restricts a string property, or the items of a string array
// property, to values.
func OneOf(property string, values ...string) SchemaEdit {
	return func(schema *jsonschema.Schema) {
		target, ok := schema.Properties[property]
		if !ok {
			panic(fmt.Sprintf("tools: schema has no property %q", property))
		}
		if target.Type == "array" && target.Items != nil {
			target = target.Items
		}
		target.Enum = make([]any, 0, len(values))
		for _, value := range values {
			target.Enum = append(target.Enum, value)
		}
	}
}

// Describe replaces the description of a property.
func Describe(property, description string) SchemaEdit {
	return func(schema *jsonschema.Schema) {
		target, ok := schema.Properties[property]
		if !ok {
			panic(fmt.Sprintf("tools: schema has no property %q", property))
		}
		target.Description = description
	}
}

func emptyObject() *jsonschema.Schema {
	return &jsonschema.Schema{Type: "object"}
}

// relax rewrites inference output into what models are told: pointer, slice
// and map fields declare their plain JSON type, and struct objects tolerate
// keys they do not name.
func relax(schema *jsonschema.Schema) {
	if schema == nil {
		return
	}
	if schema.Type == "" && len(schema.Types) > 0 {
		types := slices.DeleteFunc(slices.Clone(schema.Types), func(t string) bool { return t == "null" })
		if len(types) == 1 {
			schema.Type, schema.Types = types[0], nil
		} else {
			schema.Types = types
		}
	}
	if isFalseSchema(schema.AdditionalProperties) {
		schema.AdditionalProperties = nil
	}
	for _, property := range schema.Properties {
		relax(property)
	}
	relax(schema.Items)
	relax(schema.AdditionalProperties)
}

func isFalseSchema(schema *jsonschema.Schema) bool {
	return schema != nil && schema.Not != nil && schema.Not.Type == "" && len(schema.Not.Properties) == 0
}

// dropNulls removes null members from objects at every depth. Models send
// null for omitted optional arguments, so null counts as absent.
func dropNulls(value any) any {
	switch typed := value.(type) {
	case map[string]any:
		out := make(map[string]any, len(typed))
		for key, member := range typed {
			if member == nil {
				continue
			}
			out[key] = dropNulls(member)
		}
		return out
	case []any:
		out := make([]any, len(typed))
		for idx, item := range typed {
			out[idx] = dropNulls(item)
		}
		return out
	default:
		return value
	}
}
