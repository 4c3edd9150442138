package tools

import (
	"encoding/json"

	"github.com/invopop/jsonschema"
)

// reflectSchema derives a plain map JSON schema from an argument struct.
// DoNotReference keeps the output self-contained, which every provider's
// tool declaration format expects.
func reflectSchema[T any]() map[string]interface{} {
	r := jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}
	var v T
	s := r.Reflect(&v)

	b, err := json.Marshal(s)
	if err != nil {
		return nil
	}
	var m map[string]interface{}
	if err := json.Unmarshal(b, &m); err != nil {
		return nil
	}
	delete(m, "$schema")
	delete(m, "$id")
	return m
}
