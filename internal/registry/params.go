package registry

import (
	"encoding/json"
	"fmt"
	"math"
)

// Parameter payloads arrive as decoded JSON, so numbers are float64 and
// nested objects are map[string]any. These helpers coerce them into the
// types the backends expect and reject anything else.

func stringParam(params map[string]any, key string, required bool) (string, error) {
	raw, ok := params[key]
	if !ok || raw == nil {
		if required {
			return "", fmt.Errorf("parameter %q is required", key)
		}
		return "", nil
	}
	s, ok := raw.(string)
	if !ok {
		return "", fmt.Errorf("parameter %q must be a string", key)
	}
	if required && s == "" {
		return "", fmt.Errorf("parameter %q is required", key)
	}
	return s, nil
}

func intParam(params map[string]any, key string, fallback int) (int, error) {
	raw, ok := params[key]
	if !ok || raw == nil {
		return fallback, nil
	}
	switch v := raw.(type) {
	case float64:
		if v != math.Trunc(v) {
			return 0, fmt.Errorf("parameter %q must be an integer", key)
		}
		return int(v), nil
	case int:
		return v, nil
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			return 0, fmt.Errorf("parameter %q must be an integer", key)
		}
		return int(n), nil
	default:
		return 0, fmt.Errorf("parameter %q must be an integer", key)
	}
}

func floatParam(params map[string]any, key string, fallback float64) (float64, error) {
	raw, ok := params[key]
	if !ok || raw == nil {
		return fallback, nil
	}
	switch v := raw.(type) {
	case float64:
		return v, nil
	case int:
		return float64(v), nil
	case json.Number:
		n, err := v.Float64()
		if err != nil {
			return 0, fmt.Errorf("parameter %q must be a number", key)
		}
		return n, nil
	default:
		return 0, fmt.Errorf("parameter %q must be a number", key)
	}
}

func boolParam(params map[string]any, key string, fallback bool) (bool, error) {
	raw, ok := params[key]
	if !ok || raw == nil {
		return fallback, nil
	}
	b, ok := raw.(bool)
	if !ok {
		return false, fmt.Errorf("parameter %q must be a boolean", key)
	}
	return b, nil
}

func mapParam(params map[string]any, key string) (map[string]any, error) {
	raw, ok := params[key]
	if !ok || raw == nil {
		return nil, nil
	}
	m, ok := raw.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("parameter %q must be an object", key)
	}
	return m, nil
}
