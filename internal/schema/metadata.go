package schema

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"datagate/internal/ddl"
	"datagate/internal/domain"
)

// metadataFile is the YAML shape of the schema metadata file:
//
//	schemas:
//	  - name: well_production
//	    table_name: well_production
//	    partition_column: production_period
//	    properties:
//	      - {name: field_code, type: integer, required: true, indexed: true}
//	      - {name: oil_production_kbd, type: number}
type metadataFile struct {
	Schemas []*domain.Schema `yaml:"schemas"`
}

// LoadFile reads the schema metadata file and returns a frozen registry.
// Every schema is validated before registration: identifier rules, known
// logical types, and unique-key references.
func LoadFile(path string) (*Registry, error) {
	raw, err := os.ReadFile(path) //nolint:gosec // path comes from configuration
	if err != nil {
		return nil, fmt.Errorf("read schema metadata: %w", err)
	}
	return Parse(raw)
}

// Parse builds a registry from raw YAML metadata.
func Parse(raw []byte) (*Registry, error) {
	var file metadataFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("parse schema metadata: %w", err)
	}
	if len(file.Schemas) == 0 {
		return nil, fmt.Errorf("schema metadata declares no schemas")
	}

	reg := NewRegistry()
	for _, s := range file.Schemas {
		if err := validateSchema(s); err != nil {
			return nil, fmt.Errorf("schema %q: %w", s.Name, err)
		}
		if err := reg.Register(s); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

func validateSchema(s *domain.Schema) error {
	if err := ddl.ValidateIdentifier(s.Name); err != nil {
		return fmt.Errorf("invalid schema name: %w", err)
	}
	if s.TableName == "" {
		s.TableName = s.Name
	}
	if err := ddl.ValidateIdentifier(s.TableName); err != nil {
		return fmt.Errorf("invalid table name: %w", err)
	}
	if len(s.Properties) == 0 {
		return fmt.Errorf("at least one property is required")
	}

	seen := make(map[string]bool, len(s.Properties))
	for _, p := range s.Properties {
		if err := ddl.ValidateIdentifier(p.Name); err != nil {
			return fmt.Errorf("invalid property name %q: %w", p.Name, err)
		}
		switch p.Name {
		case domain.ColumnID, domain.ColumnCreatedAt, domain.ColumnVersion:
			return fmt.Errorf("property %q collides with a system column", p.Name)
		}
		if seen[p.Name] {
			return fmt.Errorf("duplicate property %q", p.Name)
		}
		seen[p.Name] = true
		if !domain.KnownPropertyType(p.Type) {
			return fmt.Errorf("property %q: unknown type %q", p.Name, p.Type)
		}
	}

	for _, col := range s.UniqueKey {
		if !seen[col] {
			return fmt.Errorf("unique key column %q is not a declared property", col)
		}
	}

	if s.PartitionColumn != "" {
		p := s.Property(s.PartitionColumn)
		if p == nil {
			return fmt.Errorf("partition column %q is not a declared property", s.PartitionColumn)
		}
		if p.Type != domain.TypeDate && p.Type != domain.TypeDatetime {
			return fmt.Errorf("partition column %q must be date or datetime, got %q", s.PartitionColumn, p.Type)
		}
	}

	return nil
}
