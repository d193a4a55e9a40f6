package personalize

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// ParseFields decodes a stored field bag. Some rows hold the bag as a JSON
// object, others as a JSON string containing the object; both are accepted.
// Empty input and null decode to an empty bag.
func ParseFields(raw []byte) (Fields, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return Fields{}, nil
	}

	if trimmed[0] == '"' {
		var inner string
		if err := json.Unmarshal(trimmed, &inner); err != nil {
			return nil, fmt.Errorf("decode field bag string: %w", err)
		}
		return ParseFields([]byte(inner))
	}

	var f Fields
	if err := json.Unmarshal(trimmed, &f); err != nil {
		return nil, fmt.Errorf("decode field bag: %w", err)
	}
	if f == nil {
		f = Fields{}
	}
	return f, nil
}
