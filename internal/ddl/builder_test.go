package ddl

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"datagate/internal/domain"
)

func testSchema() *domain.Schema {
	return &domain.Schema{
		Name:      "well_production",
		TableName: "well_production",
		Properties: []domain.Property{
			{Name: "field_code", Type: domain.TypeInteger, Required: true, Indexed: true},
			{Name: "well_reference", Type: domain.TypeString, Unique: true},
			{Name: "oil_production_kbd", Type: domain.TypeNumber},
			{Name: "production_period", Type: domain.TypeDatetime},
		},
	}
}

func TestCreateTable(t *testing.T) {
	got, err := CreateTable(testSchema())
	require.NoError(t, err)

	assert.Equal(t, `CREATE TABLE IF NOT EXISTS "well_production" (`+
		`"id" UUID PRIMARY KEY, "created_at" TIMESTAMP NOT NULL, "version" BIGINT NOT NULL, `+
		`"field_code" BIGINT NOT NULL, "well_reference" VARCHAR, `+
		`"oil_production_kbd" DOUBLE, "production_period" TIMESTAMP)`, got)
}

func TestCreateTable_DBTypeOverride(t *testing.T) {
	s := testSchema()
	s.Properties[2].DBType = "DECIMAL(18,4)"

	got, err := CreateTable(s)
	require.NoError(t, err)
	assert.Contains(t, got, `"oil_production_kbd" DECIMAL(18,4)`)
}

func TestCreateTable_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*domain.Schema)
		wantErr string
	}{
		{
			name:    "bad_table_name",
			mutate:  func(s *domain.Schema) { s.TableName = "well-production" },
			wantErr: "invalid table name",
		},
		{
			name:    "no_properties",
			mutate:  func(s *domain.Schema) { s.Properties = nil },
			wantErr: "no properties",
		},
		{
			name:    "bad_property_name",
			mutate:  func(s *domain.Schema) { s.Properties[0].Name = "drop table;" },
			wantErr: "invalid property name",
		},
		{
			name:    "bad_db_type",
			mutate:  func(s *domain.Schema) { s.Properties[0].DBType = "BIGINT; DROP TABLE x" },
			wantErr: "invalid characters",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := testSchema()
			tt.mutate(s)
			_, err := CreateTable(s)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestIndexes(t *testing.T) {
	stmts, err := Indexes(testSchema())
	require.NoError(t, err)

	require.Len(t, stmts, 3)
	assert.Equal(t, `CREATE INDEX IF NOT EXISTS "idx_well_production_created_at" ON "well_production" ("created_at")`, stmts[0])
	assert.Equal(t, `CREATE INDEX IF NOT EXISTS "idx_well_production_field_code" ON "well_production" ("field_code")`, stmts[1])
	assert.Equal(t, `CREATE UNIQUE INDEX IF NOT EXISTS "idx_well_production_well_reference" ON "well_production" ("well_reference")`, stmts[2])
}

func TestIndexes_CompositeUniqueKey(t *testing.T) {
	s := testSchema()
	s.UniqueKey = []string{"field_code", "production_period"}

	stmts, err := Indexes(s)
	require.NoError(t, err)
	assert.Contains(t, stmts, `CREATE UNIQUE INDEX IF NOT EXISTS `+
		`"idx_well_production_field_code_production_period" ON "well_production" ("field_code", "production_period")`)
}

func TestIndexes_UnknownUniqueKeyColumn(t *testing.T) {
	s := testSchema()
	s.UniqueKey = []string{"nope"}

	_, err := Indexes(s)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not a declared property")
}

func TestDBType_Unsupported(t *testing.T) {
	_, err := DBType(domain.PropertyType("decimalish"))
	require.Error(t, err)
}

func TestDropTable(t *testing.T) {
	got, err := DropTable("well_production")
	require.NoError(t, err)
	assert.Equal(t, `DROP TABLE IF EXISTS "well_production"`, got)

	_, err = DropTable("bad name")
	require.Error(t, err)
}

func TestValidateIdentifier(t *testing.T) {
	assert.NoError(t, ValidateIdentifier("field_code"))
	assert.NoError(t, ValidateIdentifier("_private"))
	assert.Error(t, ValidateIdentifier(""))
	assert.Error(t, ValidateIdentifier("1starts_with_digit"))
	assert.Error(t, ValidateIdentifier(`x"; DROP TABLE y`))
}

func TestQuoteIdentifier(t *testing.T) {
	assert.Equal(t, `"plain"`, QuoteIdentifier("plain"))
	assert.Equal(t, `"has""quote"`, QuoteIdentifier(`has"quote`))
}
