package models

// FieldType is the declared type of a discovered field.
type FieldType string

const (
	FieldTypeString    FieldType = "string"
	FieldTypeInt       FieldType = "int"
	FieldTypeFloat     FieldType = "float"
	FieldTypeBool      FieldType = "bool"
	FieldTypeTimestamp FieldType = "timestamp"
	FieldTypeDate      FieldType = "date"
	FieldTypeBinary    FieldType = "binary"
	FieldTypeJSON      FieldType = "json"
)

// FieldDescriptor describes one field of a discoverable structure.
type FieldDescriptor struct {
	Name       string    `json:"name" yaml:"name"`
	Type       FieldType `json:"type" yaml:"type"`
	Nullable   bool      `json:"nullable" yaml:"nullable"`
	PrimaryKey bool      `json:"primary_key" yaml:"primary_key"`
	// Size is the declared maximum length where the backend reports one
	// (character columns, binary columns); zero otherwise.
	Size int `json:"size,omitempty" yaml:"size,omitempty"`
}

// StructureDescriptor describes one extractable structure (table,
// collection, file) of a source.
type StructureDescriptor struct {
	Name   string            `json:"name" yaml:"name"`
	Fields []FieldDescriptor `json:"fields" yaml:"fields"`
}

// Field returns the descriptor for the named field, if present.
func (s *StructureDescriptor) Field(name string) (FieldDescriptor, bool) {
	for _, f := range s.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return FieldDescriptor{}, false
}

// PrimaryKeys returns the names of the primary-key fields in declaration
// order.
func (s *StructureDescriptor) PrimaryKeys() []string {
	var keys []string
	for _, f := range s.Fields {
		if f.PrimaryKey {
			keys = append(keys, f.Name)
		}
	}
	return keys
}
