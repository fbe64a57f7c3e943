package llm

// Schema is a small JSON-schema subset shared by tool declarations and
// structured output. Providers translate it to their own types.
type Schema struct {
	Type        string             `json:"type"`
	Description string             `json:"description,omitempty"`
	Nullable    bool               `json:"nullable,omitempty"`
	Enum        []string           `json:"enum,omitempty"`
	Items       *Schema            `json:"items,omitempty"`
	Properties  map[string]*Schema `json:"properties,omitempty"`
	Required    []string           `json:"required,omitempty"`
}

// ObjectOfNullableStrings builds an object schema whose listed fields are all
// required nullable strings. Field descriptions are optional.
func ObjectOfNullableStrings(fields []string, descriptions map[string]string) *Schema {
	props := make(map[string]*Schema, len(fields))
	for _, f := range fields {
		props[f] = &Schema{Type: "string", Nullable: true, Description: descriptions[f]}
	}
	return &Schema{
		Type:       "object",
		Properties: props,
		Required:   append([]string(nil), fields...),
	}
}

// JSONSchema renders s as a plain JSON-schema document for providers that
// accept one. Nullable fields become a ["type", "null"] union.
func (s *Schema) JSONSchema() map[string]any {
	if s == nil {
		return map[string]any{"type": "object", "properties": map[string]any{}}
	}
	out := map[string]any{}
	if s.Nullable && s.Type != "" {
		out["type"] = []string{s.Type, "null"}
	} else if s.Type != "" {
		out["type"] = s.Type
	}
	if s.Description != "" {
		out["description"] = s.Description
	}
	if len(s.Enum) > 0 {
		out["enum"] = s.Enum
	}
	if s.Items != nil {
		out["items"] = s.Items.JSONSchema()
	}
	if len(s.Properties) > 0 {
		props := make(map[string]any, len(s.Properties))
		for name, prop := range s.Properties {
			props[name] = prop.JSONSchema()
		}
		out["properties"] = props
	}
	if len(s.Required) > 0 {
		out["required"] = s.Required
	}
	return out
}
