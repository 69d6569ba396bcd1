package ir

import (
	"fmt"

	"golang.org/x/text/unicode/norm"
)

// Normalize returns a copy of v with every string and object key in NFC.
// Invalid UTF-8 is an error, as is an object whose keys collide once
// normalized.
//
// Apply it where text enters the system (action payloads, initial states)
// so that equivalent input typed on different clients commits as the same
// bytes. Committed states are never normalized again.
func Normalize(v IRValue) (IRValue, error) {
	switch val := v.(type) {
	case nil:
		return nil, nil
	case IRString:
		s, err := normalizeString(string(val))
		if err != nil {
			return nil, err
		}
		return IRString(s), nil
	case IRArray:
		out := make(IRArray, len(val))
		for i, elem := range val {
			n, err := Normalize(elem)
			if err != nil {
				return nil, fmt.Errorf("array[%d]: %w", i, err)
			}
			out[i] = n
		}
		return out, nil
	case IRObject:
		out := make(IRObject, len(val))
		for k, elem := range val {
			key, err := normalizeString(k)
			if err != nil {
				return nil, fmt.Errorf("object key: %w", err)
			}
			if _, dup := out[key]; dup {
				return nil, fmt.Errorf("object key %q: duplicate after NFC normalization", key)
			}
			n, err := Normalize(elem)
			if err != nil {
				return nil, fmt.Errorf("object[%q]: %w", key, err)
			}
			out[key] = n
		}
		return out, nil
	default:
		return v, nil
	}
}

// NormalizeAction normalizes the action's payload.
func NormalizeAction(a Action) (Action, error) {
	payload, err := Normalize(a.Payload)
	if err != nil {
		return Action{}, fmt.Errorf("action %q: %w", a.Type, err)
	}
	a.Payload = payload
	return a, nil
}

func normalizeString(s string) (string, error) {
	if err := validString(s); err != nil {
		return "", err
	}
	return norm.NFC.String(s), nil
}
