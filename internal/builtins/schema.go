// ABOUTME: Reflects tool parameter schemas from Go input structs.
// ABOUTME: Keeps builtin schemas in lockstep with the structs handlers decode into.

package builtins

import (
	"encoding/json"

	"github.com/invopop/jsonschema"
)

var reflector = &jsonschema.Reflector{
	AllowAdditionalProperties: true,
	DoNotReference:            true,
	ExpandedStruct:            true,
}

// schemaFor returns the JSON-Schema object for T, inlined and without a
// $schema/$id header so it can be embedded in a manifest entry.
func schemaFor[T any]() json.RawMessage {
	s := reflector.Reflect(new(T))
	s.Version = ""
	s.ID = ""

	data, err := json.Marshal(s)
	if err != nil {
		// Input structs are static; a failure here is a programming error.
		panic("builtins: reflecting schema: " + err.Error())
	}
	return data
}

// decode unmarshals tool arguments into T.
func decode[T any](args json.RawMessage) (T, error) {
	var in T
	err := json.Unmarshal(args, &in)
	return in, err
}
