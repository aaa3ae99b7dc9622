package models

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// CanonicalJSON renders v as deterministic JSON: object keys sorted, numbers
// preserved verbatim. Used for audit-entry hashing and config checksums so
// that recomputation over stored data yields identical bytes.
func CanonicalJSON(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("canonical json: %w", err)
	}

	// Round-trip through generic maps: encoding/json sorts map keys on
	// output. UseNumber keeps numeric literals byte-stable.
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var generic any
	if err := dec.Decode(&generic); err != nil {
		return nil, fmt.Errorf("canonical json: %w", err)
	}

	out, err := json.Marshal(generic)
	if err != nil {
		return nil, fmt.Errorf("canonical json: %w", err)
	}
	return out, nil
}
