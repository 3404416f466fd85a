package models

// FieldInfo describes one field or column of a backend object.
// Sample is a truncated textual sample used only to give the upstream
// plan generator context; the engine never interprets it.
type FieldInfo struct {
	Type    string `json:"type"`
	Sample  string `json:"sample,omitempty"`
	Default string `json:"default,omitempty"`
	Comment string `json:"comment,omitempty"`
}

// SchemaEntry maps field names to their metadata for one collection or
// table. Owned by the schema cache; read-only everywhere else.
type SchemaEntry map[string]FieldInfo
