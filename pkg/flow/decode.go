package flow

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// Parse decodes a YAML flow definition and validates it. JSON documents
// decode too since YAML is a superset.
func Parse(data []byte) (*Flow, error) {
	var f Flow

	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidFlow, err)
	}

	if f.Revision == 0 {
		f.Revision = 1
	}

	if err := f.Validate(); err != nil {
		return nil, err
	}

	return &f, nil
}
