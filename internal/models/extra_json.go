package models

import (
	"encoding/json"
	"reflect"
	"strings"
)

// marshalWithExtra encodes known alongside any pass-through keys that do not
// collide with a known field.
func marshalWithExtra(known any, extra map[string]any) ([]byte, error) {
	payload, err := json.Marshal(known)
	if err != nil {
		return nil, err
	}
	if len(extra) == 0 {
		return payload, nil
	}

	merged := make(map[string]any, len(extra)+8)
	for k, v := range extra {
		merged[k] = v
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(payload, &fields); err != nil {
		return nil, err
	}
	for k, v := range fields {
		merged[k] = v
	}
	return json.Marshal(merged)
}

// unmarshalWithExtra decodes data into target (a pointer to struct) and
// returns the keys target does not declare.
func unmarshalWithExtra(data []byte, target any) (map[string]any, error) {
	if err := json.Unmarshal(data, target); err != nil {
		return nil, err
	}

	var all map[string]any
	if err := json.Unmarshal(data, &all); err != nil {
		return nil, err
	}

	for _, key := range jsonKeys(reflect.TypeOf(target).Elem()) {
		delete(all, key)
	}
	if len(all) == 0 {
		return nil, nil
	}
	return all, nil
}

func jsonKeys(t reflect.Type) []string {
	keys := make([]string, 0, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		tag := field.Tag.Get("json")
		name, _, _ := strings.Cut(tag, ",")
		switch name {
		case "-":
			continue
		case "":
			name = field.Name
		}
		keys = append(keys, name)
	}
	return keys
}
