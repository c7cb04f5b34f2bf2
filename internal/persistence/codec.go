package persistence

import (
	"encoding/json"
	"fmt"

	"github.com/petrijr/jobledger/pkg/api"
)

// EncodePayload turns an opaque callback payload into JSON for storage.
//
// Values that already are JSON (json.RawMessage, []byte or a string holding
// a valid JSON document) are stored as-is; anything else is marshalled.
// A nil value encodes to nil so that backends can store NULL.
func EncodePayload(v any) (json.RawMessage, error) {
	switch p := v.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		return encodeRaw(p)
	case []byte:
		return encodeRaw(p)
	case string:
		if json.Valid([]byte(p)) {
			return json.RawMessage(p), nil
		}
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("%w: payload is not JSON-encodable: %v", api.ErrInvalidRequest, err)
	}
	return data, nil
}

func encodeRaw(p []byte) (json.RawMessage, error) {
	if len(p) == 0 {
		return nil, nil
	}
	if !json.Valid(p) {
		return nil, fmt.Errorf("%w: payload is not valid JSON", api.ErrInvalidRequest)
	}
	return json.RawMessage(p), nil
}

// nullablePayload converts a payload into a value database/sql stores as
// NULL when empty.
func nullablePayload(p json.RawMessage) any {
	if len(p) == 0 {
		return nil
	}
	return string(p)
}
