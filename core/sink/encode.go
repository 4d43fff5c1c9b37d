package sink

import (
	"encoding/json"
	"fmt"
)

// Encode turns a broadcast payload into bytes written to the client.
func Encode(msg any) ([]byte, error) {
	switch v := msg.(type) {
	case nil:
		return nil, nil
	case string:
		return []byte(v), nil
	case []byte:
		return v, nil
	case fmt.Stringer:
		return []byte(v.String()), nil
	case error:
		return []byte(v.Error()), nil
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEncode, err)
	}
	return data, nil
}
