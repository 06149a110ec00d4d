package flow

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/xeipuuv/gojsonschema"
)

// InputType is the declared type of a flow input.
type InputType string

const (
	InputString InputType = "STRING"
	InputInt    InputType = "INT"
	InputFloat  InputType = "FLOAT"
	InputBool   InputType = "BOOL"
	InputJSON   InputType = "JSON"
	InputSelect InputType = "SELECT"
)

// ErrMissingRequiredInput is returned when a required input has neither a
// supplied value nor a default.
var ErrMissingRequiredInput = errors.New("missing required input")

// Input declares one typed execution input.
type Input struct {
	ID       string    `json:"id"   yaml:"id"   validate:"required"`
	Type     InputType `json:"type" yaml:"type" validate:"required,oneof=STRING INT FLOAT BOOL JSON SELECT"`
	Required bool      `json:"required"          yaml:"required"`
	Default  any       `json:"default,omitempty" yaml:"default,omitempty"`
	// Values enumerates the accepted values of a SELECT input.
	Values []string `json:"values,omitempty" yaml:"values,omitempty"`
	// Schema validates JSON inputs, expressed as a JSON schema document.
	Schema map[string]any `json:"schema,omitempty" yaml:"schema,omitempty"`
}

// ResolveInputs validates the supplied values against the flow's input
// declarations, applies defaults and coerces typed values. Unknown keys
// are rejected.
func (f *Flow) ResolveInputs(supplied map[string]any) (map[string]any, error) {
	declared := make(map[string]*Input, len(f.Inputs))
	for i := range f.Inputs {
		declared[f.Inputs[i].ID] = &f.Inputs[i]
	}

	for key := range supplied {
		if _, ok := declared[key]; !ok {
			return nil, fmt.Errorf("unknown input %q", key)
		}
	}

	resolved := make(map[string]any, len(f.Inputs))

	for i := range f.Inputs {
		input := &f.Inputs[i]

		value, ok := supplied[input.ID]
		if !ok {
			if input.Default != nil {
				resolved[input.ID] = input.Default

				continue
			}

			if input.Required {
				return nil, fmt.Errorf("%w: %s", ErrMissingRequiredInput, input.ID)
			}

			continue
		}

		coerced, err := input.coerce(value)
		if err != nil {
			return nil, fmt.Errorf("input %q: %w", input.ID, err)
		}

		resolved[input.ID] = coerced
	}

	return resolved, nil
}

func (in *Input) coerce(value any) (any, error) {
	switch in.Type {
	case InputString:
		return fmt.Sprintf("%v", value), nil
	case InputInt:
		switch v := value.(type) {
		case int:
			return v, nil
		case int64:
			return int(v), nil
		case float64:
			return int(v), nil
		case string:
			return strconv.Atoi(v)
		default:
			return nil, fmt.Errorf("cannot coerce %T to INT", value)
		}
	case InputFloat:
		switch v := value.(type) {
		case float64:
			return v, nil
		case int:
			return float64(v), nil
		case string:
			return strconv.ParseFloat(v, 64)
		default:
			return nil, fmt.Errorf("cannot coerce %T to FLOAT", value)
		}
	case InputBool:
		switch v := value.(type) {
		case bool:
			return v, nil
		case string:
			return strconv.ParseBool(v)
		default:
			return nil, fmt.Errorf("cannot coerce %T to BOOL", value)
		}
	case InputSelect:
		str := fmt.Sprintf("%v", value)
		for _, allowed := range in.Values {
			if str == allowed {
				return str, nil
			}
		}

		return nil, fmt.Errorf("value %q not in allowed values %v", str, in.Values)
	case InputJSON:
		return in.validateJSON(value)
	default:
		return value, nil
	}
}

func (in *Input) validateJSON(value any) (any, error) {
	// String payloads are decoded first so the stored input is structured.
	if str, ok := value.(string); ok {
		var decoded any
		if err := json.Unmarshal([]byte(str), &decoded); err != nil {
			return nil, fmt.Errorf("invalid JSON: %w", err)
		}

		value = decoded
	}

	if in.Schema == nil {
		return value, nil
	}

	result, err := gojsonschema.Validate(
		gojsonschema.NewGoLoader(in.Schema),
		gojsonschema.NewGoLoader(value),
	)
	if err != nil {
		return nil, fmt.Errorf("schema validation: %w", err)
	}

	if !result.Valid() {
		return nil, fmt.Errorf("schema validation failed: %v", result.Errors())
	}

	return value, nil
}
