package tool

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/invopop/jsonschema"
)

// GenerateSchema derives a tool "parameters" object from the JSON and
// jsonschema tags of T.
func GenerateSchema[T any]() map[string]any {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}
	var v T
	schema := reflector.Reflect(v)

	data, err := json.Marshal(schema)
	if err != nil {
		panic("tool: cannot marshal schema: " + err.Error())
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		panic("tool: cannot decode schema: " + err.Error())
	}
	delete(out, "$schema")
	delete(out, "$id")
	return out
}

// decodeArgs maps loosely typed model arguments onto a typed input struct.
func decodeArgs(args map[string]any, into any) error {
	data, err := json.Marshal(args)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, into)
}

// flexInt accepts a JSON number or a numeric string ("2024").
type flexInt int

func (f *flexInt) UnmarshalJSON(data []byte) error {
	var n int
	if err := json.Unmarshal(data, &n); err == nil {
		*f = flexInt(n)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	s = strings.TrimSpace(s)
	if s == "" {
		*f = 0
		return nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return err
	}
	*f = flexInt(n)
	return nil
}

func (flexInt) JSONSchema() *jsonschema.Schema {
	return &jsonschema.Schema{Type: "integer"}
}
