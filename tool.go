package reagent

import (
	"regexp"

	"github.com/m-mizutani/goerr/v2"
)

// ToolSpec describes one tool of the catalog sent to the LLM. The executor
// that performs the call lives behind the ToolExecutor capability; the spec
// only tells the model what it may ask for.
type ToolSpec struct {
	// Name is the unique identifier of the tool within the catalog.
	Name string

	// Description tells the LLM what the tool does.
	Description string

	// Parameters defines the accepted arguments by name.
	Parameters map[string]*Parameter

	// Required lists parameter names that must be provided.
	Required []string
}

// Validate validates the tool specification.
func (s *ToolSpec) Validate() error {
	eb := goerr.NewBuilder(goerr.V("tool", s.Name))
	if s.Name == "" {
		return eb.Wrap(ErrInvalidTool, "name is required")
	}

	for name, param := range s.Parameters {
		if err := param.Validate(); err != nil {
			return eb.Wrap(err, "invalid parameter", goerr.V("parameter", name))
		}
	}

	for _, req := range s.Required {
		if _, ok := s.Parameters[req]; !ok {
			return eb.Wrap(ErrInvalidTool, "required parameter not declared", goerr.V("parameter", req))
		}
	}

	return nil
}

// ParameterType is the JSON type of a tool parameter.
type ParameterType string

const (
	TypeString  ParameterType = "string"
	TypeNumber  ParameterType = "number"
	TypeInteger ParameterType = "integer"
	TypeBoolean ParameterType = "boolean"
	TypeArray   ParameterType = "array"
	TypeObject  ParameterType = "object"
)

// Parameter is the specification of a single tool argument.
type Parameter struct {
	Type        ParameterType
	Description string

	// Enum restricts the value to the listed options.
	Enum []string

	// Properties and Required describe object type parameters.
	Properties map[string]*Parameter
	Required   []string

	// Items describes the element type of array parameters.
	Items *Parameter

	// Numeric range constraints.
	Minimum *float64
	Maximum *float64

	// Pattern is a regular expression the string value must match.
	Pattern string

	// Default is used when the parameter is omitted.
	Default any
}

// Validate validates the parameter.
func (p *Parameter) Validate() error {
	eb := goerr.NewBuilder()

	if p.Type == "" {
		return eb.Wrap(ErrInvalidParameter, "type is required")
	}

	switch p.Type {
	case TypeObject:
		if p.Properties == nil {
			return eb.Wrap(ErrInvalidParameter, "properties is required for object type")
		}
		for name, prop := range p.Properties {
			if err := prop.Validate(); err != nil {
				return eb.Wrap(err, "invalid property", goerr.V("property", name))
			}
		}
		for _, req := range p.Required {
			if _, ok := p.Properties[req]; !ok {
				return eb.Wrap(ErrInvalidParameter, "required field not found in properties", goerr.V("field", req))
			}
		}

	case TypeArray:
		if p.Items == nil {
			return eb.Wrap(ErrInvalidParameter, "items is required for array type")
		}
		if err := p.Items.Validate(); err != nil {
			return eb.Wrap(err, "invalid items")
		}

	case TypeNumber, TypeInteger:
		if p.Minimum != nil && p.Maximum != nil && *p.Minimum > *p.Maximum {
			return eb.Wrap(ErrInvalidParameter, "minimum must not exceed maximum")
		}

	case TypeString:
		if p.Pattern != "" {
			if _, err := regexp.Compile(p.Pattern); err != nil {
				return eb.Wrap(ErrInvalidParameter, "invalid pattern", goerr.V("pattern", p.Pattern))
			}
		}

	case TypeBoolean:
		// no constraints

	default:
		return eb.Wrap(ErrInvalidParameter, "unknown type", goerr.V("type", string(p.Type)))
	}

	return nil
}
