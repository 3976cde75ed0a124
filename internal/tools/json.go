package tools

import "encoding/json"

// toAny decodes a JSON-schema document into the generic shape the
// jsonschema compiler's in-memory resource loader expects.
func toAny(raw json.RawMessage) any {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return map[string]any{}
	}
	return v
}

// unmarshalAny decodes raw JSON into v, the shared helper used wherever a
// tool call payload needs to be validated against a compiled schema.
func unmarshalAny(raw []byte, v *any) error {
	return json.Unmarshal(raw, v)
}
