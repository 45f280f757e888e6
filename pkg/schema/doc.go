// Package schema compiles JSON-Schema-like definitions into the compact
// ShortSchema notation shown to language models, renders one-line function
// specs, and validates decoded JSON against a ShortSchema.
//
// A ShortSchema maps field names to fields. Its JSON form is the compact
// notation used inside prompts:
//
//	{
//	    "message": "string!",
//	    "nextTurn": "string?",
//	    "functions": [{"name": "string!", "args": "any?"}]
//	}
//
// Definitions are plain maps decoded from JSON or YAML:
//
//	def := schema.Definition{
//	    "type": "object",
//	    "required": []any{"id"},
//	    "properties": map[string]any{
//	        "id":   map[string]any{"type": "integer", "description": "user id"},
//	        "tags": map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
//	    },
//	}
//
//	short := schema.ToShortSchema(def)
//	line := schema.ToFunctionSpec(def, "getUser") // getUser: !id<number>(user id), tags<array>
//
//	clean, err := schema.Validate(short, data, schema.StripExtra())
//
// Definitions may also use the native notation directly, with the markers
// "!" (required), "?" (optional), "^" (unique) and "->" (reference):
//
//	short, err := schema.ParseShortSchema(map[string]any{
//	    "email": "string!^",
//	    "owner": "string?->users",
//	})
//
// The package depends only on the standard library.
package schema
