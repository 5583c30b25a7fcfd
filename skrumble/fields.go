package skrumble

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// fromMap decodes a raw field mapping into dst. Undeclared keys are dropped
// and absent keys keep whatever dst already holds.
func fromMap(fields map[string]any, dst any) error {
	if fields == nil {
		return nil
	}
	raw, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("skrumble: encode fields: %w", err)
	}
	return json.Unmarshal(raw, dst)
}

// pickFields renders v and keeps only the allowlisted keys that are present.
func pickFields(v any, allow []string) (map[string]any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("skrumble: encode fields: %w", err)
	}
	var all map[string]any
	if err := json.Unmarshal(raw, &all); err != nil {
		return nil, fmt.Errorf("skrumble: encode fields: %w", err)
	}
	out := make(map[string]any, len(allow))
	for _, key := range allow {
		if val, ok := all[key]; ok {
			out[key] = val
		}
	}
	return out, nil
}

// merge decodes a server reply over dst. Empty replies are ignored.
func merge(raw json.RawMessage, dst any) error {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil
	}
	if raw[0] != '{' {
		return fmt.Errorf("%w: expected an object, got %.40s", ErrUnexpectedResponse, raw)
	}
	return json.Unmarshal(raw, dst)
}

// parseExists interprets the reply of an existence check. Accepted shapes: a
// boolean, {"exists": bool}, a list (true when non-empty), any other object
// (true when it carries a non-empty "id") and null (false).
func parseExists(raw json.RawMessage) (bool, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return false, nil
	}
	switch raw[0] {
	case 't', 'f':
		var b bool
		if err := json.Unmarshal(raw, &b); err != nil {
			return false, err
		}
		return b, nil
	case 'n':
		return false, nil
	case '[':
		var items []json.RawMessage
		if err := json.Unmarshal(raw, &items); err != nil {
			return false, err
		}
		return len(items) > 0, nil
	case '{':
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(raw, &obj); err != nil {
			return false, err
		}
		if v, ok := obj["exists"]; ok {
			return truthy(v), nil
		}
		var id FlexString
		if v, ok := obj["id"]; ok && json.Unmarshal(v, &id) == nil {
			return id != "", nil
		}
		return false, nil
	default:
		return false, fmt.Errorf("%w: existence check returned %.40s", ErrUnexpectedResponse, raw)
	}
}

// truthy applies the platform's loose boolean reading to a JSON value.
func truthy(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	switch string(raw) {
	case "", "null", "false", "0", `""`:
		return false
	default:
		return true
	}
}

// firstObject returns raw itself, or its first element when raw is a list.
func firstObject(raw json.RawMessage) (json.RawMessage, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] != '[' {
		return raw, nil
	}
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("%w: empty list", ErrUnexpectedResponse)
	}
	return items[0], nil
}
