package reagent

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/m-mizutani/goerr/v2"
	"github.com/santhosh-tekuri/jsonschema/v6"
)

// ToJSONSchema converts a Parameter to a JSON Schema fragment. Provider
// adapters reuse it to build each backend's tool declaration format.
func ToJSONSchema(param *Parameter) map[string]any {
	schema := map[string]any{
		"type": string(param.Type),
	}

	if param.Description != "" {
		schema["description"] = param.Description
	}

	if param.Type == TypeObject && param.Properties != nil {
		props := make(map[string]any, len(param.Properties))
		for name, prop := range param.Properties {
			props[name] = ToJSONSchema(prop)
		}
		schema["properties"] = props
		if len(param.Required) > 0 {
			schema["required"] = param.Required
		}
	}

	if param.Type == TypeArray && param.Items != nil {
		schema["items"] = ToJSONSchema(param.Items)
	}

	if param.Enum != nil {
		schema["enum"] = param.Enum
	}
	if param.Minimum != nil {
		schema["minimum"] = *param.Minimum
	}
	if param.Maximum != nil {
		schema["maximum"] = *param.Maximum
	}
	if param.Pattern != "" {
		schema["pattern"] = param.Pattern
	}
	if param.Default != nil {
		schema["default"] = param.Default
	}

	return schema
}

// ToolInputSchema builds the JSON Schema object describing a tool's whole
// argument mapping.
func ToolInputSchema(spec *ToolSpec) map[string]any {
	props := make(map[string]any, len(spec.Parameters))
	for name, param := range spec.Parameters {
		props[name] = ToJSONSchema(param)
	}

	schema := map[string]any{
		"type":       "object",
		"properties": props,
	}
	if len(spec.Required) > 0 {
		schema["required"] = spec.Required
	}

	return schema
}

// Validator checks extracted tool arguments against the catalog's parameter
// schemas before the loop dispatches them. A violation is surfaced to the
// model as a failed tool result, never as a dropped call.
type Validator struct {
	schemas map[string]*jsonschema.Schema
}

// NewValidator compiles one schema per tool in the catalog.
func NewValidator(specs []*ToolSpec) (*Validator, error) {
	compiler := jsonschema.NewCompiler()

	for _, spec := range specs {
		if err := spec.Validate(); err != nil {
			return nil, err
		}

		raw, err := json.Marshal(ToolInputSchema(spec))
		if err != nil {
			return nil, goerr.Wrap(err, "failed to marshal tool schema", goerr.V("tool", spec.Name))
		}

		doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
		if err != nil {
			return nil, goerr.Wrap(err, "failed to parse tool schema", goerr.V("tool", spec.Name))
		}

		url := fmt.Sprintf("tool://%s.json", spec.Name)
		if err := compiler.AddResource(url, doc); err != nil {
			return nil, goerr.Wrap(err, "failed to register tool schema", goerr.V("tool", spec.Name))
		}
	}

	validator := &Validator{schemas: make(map[string]*jsonschema.Schema, len(specs))}
	for _, spec := range specs {
		url := fmt.Sprintf("tool://%s.json", spec.Name)
		schema, err := compiler.Compile(url)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to compile tool schema", goerr.V("tool", spec.Name))
		}
		validator.schemas[spec.Name] = schema
	}

	return validator, nil
}

// Validate checks the arguments of one action request. Unknown tool names
// pass through: the executor decides how to reject them.
func (v *Validator) Validate(name string, args map[string]any) error {
	schema, ok := v.schemas[name]
	if !ok {
		return nil
	}

	// jsonschema operates on decoded JSON values, so round-trip the map to
	// normalize Go-native types like int.
	raw, err := json.Marshal(args)
	if err != nil {
		return goerr.Wrap(err, "failed to marshal arguments", goerr.V("tool", name))
	}
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return goerr.Wrap(err, "failed to decode arguments", goerr.V("tool", name))
	}

	if err := schema.Validate(doc); err != nil {
		return goerr.Wrap(err, "invalid tool arguments", goerr.V("tool", name))
	}
	return nil
}
