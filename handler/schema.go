package handler

import (
	"encoding/json"

	"github.com/invopop/jsonschema"
)

// SchemaFor generates an MCP tool's inputSchema from a Go argument type,
// for use as the pmcp.Tool.InputSchema of a tool registered via Tool(fn).
// Pass the zero value of the argument struct, e.g. SchemaFor(EchoArgs{}).
func SchemaFor(v any) (json.RawMessage, error) {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}
	schema := reflector.Reflect(v)
	return json.Marshal(schema)
}

// MustSchemaFor is SchemaFor, panicking on failure. Intended for use at
// program initialization alongside Tool(fn).
func MustSchemaFor(v any) json.RawMessage {
	raw, err := SchemaFor(v)
	if err != nil {
		panic("handler.MustSchemaFor: " + err.Error())
	}
	return raw
}
