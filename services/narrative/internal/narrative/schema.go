package narrative

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/invopop/jsonschema"
)

// SchemaID identifies the document contract consumed by external renderers.
const SchemaID = "https://startupai.dev/schemas/pitch-narrative/" + DocumentVersion

// Schema returns the JSON schema of Document.
func Schema() *jsonschema.Schema {
	r := jsonschema.Reflector{
		DoNotReference: true,
		ExpandedStruct: true,
	}
	s := r.Reflect(&Document{})
	s.ID = jsonschema.ID(SchemaID)
	s.Title = "Pitch narrative"
	s.Description = "Cover, ten content sections and derived metadata of a pitch narrative."
	return s
}

// SchemaJSON renders Schema as indented JSON.
func SchemaJSON() ([]byte, error) {
	return json.MarshalIndent(Schema(), "", "  ")
}

// StrictSchema reflects T into the closed-object form structured model output
// requires: every object disallows additional properties and lists all of its
// properties as required.
func StrictSchema[T any]() (map[string]any, error) {
	r := jsonschema.Reflector{
		AllowAdditionalProperties:  false,
		DoNotReference:             true,
		RequiredFromJSONSchemaTags: true,
	}
	var v T
	b, err := json.Marshal(r.Reflect(v))
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("decode schema: %w", err)
	}
	delete(m, "$schema")
	delete(m, "$id")
	closeObjects(m)
	return m, nil
}

func closeObjects(schema map[string]any) {
	props, _ := schema["properties"].(map[string]any)
	if t, _ := schema["type"].(string); t == "object" {
		schema["additionalProperties"] = false
		if len(props) > 0 {
			required := make([]string, 0, len(props))
			for name := range props {
				required = append(required, name)
			}
			sort.Strings(required)
			schema["required"] = required
		}
	}
	for _, p := range props {
		if pm, ok := p.(map[string]any); ok {
			closeObjects(pm)
		}
	}
	if items, ok := schema["items"].(map[string]any); ok {
		closeObjects(items)
	}
}
