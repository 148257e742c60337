package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// parseAssignments turns key=value pairs into a parameter map. Values that
// parse as JSON (numbers, booleans, lists, objects) keep their type; anything
// else is a string.
func parseAssignments(pairs []string) (map[string]any, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	out := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid assignment %q (want key=value)", pair)
		}
		out[key] = parseValue(value)
	}
	return out, nil
}

func parseValue(raw string) any {
	var decoded any
	if err := json.Unmarshal([]byte(raw), &decoded); err == nil {
		return decoded
	}
	return raw
}

// parseStageParams parses stage.key=value pairs into per-stage overrides.
func parseStageParams(pairs []string) (map[string]map[string]any, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	out := make(map[string]map[string]any)
	for _, pair := range pairs {
		target, value, ok := strings.Cut(pair, "=")
		stage, key, dotted := strings.Cut(strings.TrimSpace(target), ".")
		if !ok || !dotted || stage == "" || key == "" {
			return nil, fmt.Errorf("invalid stage parameter %q (want stage.key=value)", pair)
		}
		if out[stage] == nil {
			out[stage] = make(map[string]any)
		}
		out[stage][key] = parseValue(value)
	}
	return out, nil
}

// loadPayloadFile reads a JSON object from path and merges extra on top.
func loadPayloadFile(path string, extra map[string]any) (map[string]any, error) {
	payload := map[string]any{}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read payload file: %w", err)
		}
		if err := json.Unmarshal(data, &payload); err != nil {
			return nil, fmt.Errorf("payload file %s: %w", path, err)
		}
	}
	for k, v := range extra {
		payload[k] = v
	}
	if len(payload) == 0 {
		return nil, nil
	}
	return payload, nil
}
