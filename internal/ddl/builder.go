// Package ddl builds DuckDB DDL for schema-driven table and index provisioning.
package ddl

import (
	"fmt"
	"strings"

	"datagate/internal/domain"
)

// DBType maps a logical property type to its physical DuckDB type.
func DBType(t domain.PropertyType) (string, error) {
	switch t {
	case domain.TypeString:
		return "VARCHAR", nil
	case domain.TypeInteger:
		return "BIGINT", nil
	case domain.TypeNumber:
		return "DOUBLE", nil
	case domain.TypeBoolean:
		return "BOOLEAN", nil
	case domain.TypeObject, domain.TypeArray:
		return "JSON", nil
	case domain.TypeDate:
		return "DATE", nil
	case domain.TypeDatetime:
		return "TIMESTAMP", nil
	default:
		return "", fmt.Errorf("unsupported logical type %q", t)
	}
}

// columnType resolves the physical type for a property, honoring an explicit
// DBType override after validating it.
func columnType(p domain.Property) (string, error) {
	if p.DBType != "" {
		if err := ValidateColumnType(p.DBType); err != nil {
			return "", fmt.Errorf("property %q: %w", p.Name, err)
		}
		return p.DBType, nil
	}
	return DBType(p.Type)
}

// CreateTable returns an idempotent CREATE TABLE IF NOT EXISTS statement for
// the schema. Every table carries the system columns id (primary key),
// created_at, and version ahead of the declared properties.
func CreateTable(schema *domain.Schema) (string, error) {
	if err := ValidateIdentifier(schema.TableName); err != nil {
		return "", fmt.Errorf("invalid table name: %w", err)
	}
	if len(schema.Properties) == 0 {
		return "", fmt.Errorf("schema %q has no properties", schema.Name)
	}

	colDefs := []string{
		QuoteIdentifier(domain.ColumnID) + " UUID PRIMARY KEY",
		QuoteIdentifier(domain.ColumnCreatedAt) + " TIMESTAMP NOT NULL",
		QuoteIdentifier(domain.ColumnVersion) + " BIGINT NOT NULL",
	}
	for _, p := range schema.Properties {
		if err := ValidateIdentifier(p.Name); err != nil {
			return "", fmt.Errorf("invalid property name %q: %w", p.Name, err)
		}
		ct, err := columnType(p)
		if err != nil {
			return "", err
		}
		def := fmt.Sprintf("%s %s", QuoteIdentifier(p.Name), ct)
		if p.Required {
			def += " NOT NULL"
		}
		colDefs = append(colDefs, def)
	}

	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)",
		QuoteIdentifier(schema.TableName),
		strings.Join(colDefs, ", "),
	), nil
}

// Indexes returns the idempotent CREATE INDEX statements mandated for the
// schema: created_at always, plus every property marked Indexed, a unique
// index per Unique property, and a composite unique index for UniqueKey.
// Safe to re-run against an already-provisioned table.
func Indexes(schema *domain.Schema) ([]string, error) {
	if err := ValidateIdentifier(schema.TableName); err != nil {
		return nil, fmt.Errorf("invalid table name: %w", err)
	}

	stmts := []string{indexStmt(schema.TableName, false, domain.ColumnCreatedAt)}

	for _, p := range schema.Properties {
		if err := ValidateIdentifier(p.Name); err != nil {
			return nil, fmt.Errorf("invalid property name %q: %w", p.Name, err)
		}
		switch {
		case p.Unique:
			stmts = append(stmts, indexStmt(schema.TableName, true, p.Name))
		case p.Indexed:
			stmts = append(stmts, indexStmt(schema.TableName, false, p.Name))
		}
	}

	if len(schema.UniqueKey) > 0 {
		for _, col := range schema.UniqueKey {
			if schema.Property(col) == nil {
				return nil, fmt.Errorf("unique key column %q is not a declared property", col)
			}
		}
		stmts = append(stmts, indexStmt(schema.TableName, true, schema.UniqueKey...))
	}

	return stmts, nil
}

func indexStmt(table string, unique bool, cols ...string) string {
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = QuoteIdentifier(c)
	}
	kind := "INDEX"
	if unique {
		kind = "UNIQUE INDEX"
	}
	name := fmt.Sprintf("idx_%s_%s", table, strings.Join(cols, "_"))
	return fmt.Sprintf("CREATE %s IF NOT EXISTS %s ON %s (%s)",
		kind, QuoteIdentifier(name), QuoteIdentifier(table), strings.Join(quoted, ", "))
}

// DropTable returns a DROP TABLE IF EXISTS statement. Used by partition
// pruning and tests.
func DropTable(table string) (string, error) {
	if err := ValidateIdentifier(table); err != nil {
		return "", fmt.Errorf("invalid table name: %w", err)
	}
	return "DROP TABLE IF EXISTS " + QuoteIdentifier(table), nil
}
