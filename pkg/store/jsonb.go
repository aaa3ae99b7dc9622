package store

import (
	"encoding/json"
	"fmt"
)

// toJSONB marshals v for a jsonb column, mapping nil to SQL NULL.
func toJSONB(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal jsonb: %w", err)
	}
	return data, nil
}

// fromJSONB unmarshals a jsonb column into out, treating NULL as absent.
func fromJSONB(data []byte, out any) error {
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("unmarshal jsonb: %w", err)
	}
	return nil
}
