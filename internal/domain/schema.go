package domain

// PropertyType is the logical type of a schema property. It is mapped to a
// physical DuckDB type at provisioning time.
type PropertyType string

// Logical property types.
const (
	TypeString   PropertyType = "string"
	TypeInteger  PropertyType = "integer"
	TypeNumber   PropertyType = "number"
	TypeBoolean  PropertyType = "boolean"
	TypeObject   PropertyType = "object"
	TypeArray    PropertyType = "array"
	TypeDate     PropertyType = "date"
	TypeDatetime PropertyType = "datetime"
)

// KnownPropertyType reports whether t is one of the supported logical types.
func KnownPropertyType(t PropertyType) bool {
	switch t {
	case TypeString, TypeInteger, TypeNumber, TypeBoolean,
		TypeObject, TypeArray, TypeDate, TypeDatetime:
		return true
	}
	return false
}

// Property describes one column of a schema.
type Property struct {
	Name     string       `yaml:"name" json:"name"`
	Type     PropertyType `yaml:"type" json:"type"`
	DBType   string       `yaml:"db_type,omitempty" json:"db_type,omitempty"` // physical type override; derived from Type when empty
	Required bool         `yaml:"required,omitempty" json:"required,omitempty"`
	Indexed  bool         `yaml:"indexed,omitempty" json:"indexed,omitempty"`
	Unique   bool         `yaml:"unique,omitempty" json:"unique,omitempty"`
	Default  interface{}  `yaml:"default,omitempty" json:"default,omitempty"`
}

// Schema is the declarative description of one logical table. Schemas are
// registered once at startup and shared read-only across all requests.
type Schema struct {
	Name        string     `yaml:"name" json:"name"`
	Description string     `yaml:"description,omitempty" json:"description,omitempty"`
	TableName   string     `yaml:"table_name" json:"table_name"`
	Properties  []Property `yaml:"properties" json:"properties"`

	// UniqueKey is an optional composite uniqueness constraint across the
	// named properties.
	UniqueKey []string `yaml:"unique_key,omitempty" json:"unique_key,omitempty"`

	// PartitionColumn names a date/datetime property used by the partition
	// router. Empty for unpartitioned schemas.
	PartitionColumn string `yaml:"partition_column,omitempty" json:"partition_column,omitempty"`
}

// Property returns the property with the given name, or nil.
func (s *Schema) Property(name string) *Property {
	for i := range s.Properties {
		if s.Properties[i].Name == name {
			return &s.Properties[i]
		}
	}
	return nil
}

// PropertyNames returns the property names in declaration order.
func (s *Schema) PropertyNames() []string {
	names := make([]string, len(s.Properties))
	for i, p := range s.Properties {
		names[i] = p.Name
	}
	return names
}

// HasField reports whether name is a declared property or one of the
// system columns (id, created_at, version). Filter and sort fields are
// checked against this set at build time.
func (s *Schema) HasField(name string) bool {
	switch name {
	case ColumnID, ColumnCreatedAt, ColumnVersion:
		return true
	}
	return s.Property(name) != nil
}
