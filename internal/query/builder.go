// Package query compiles schema-aware query specifications into
// parameterized DuckDB SQL. All functions are pure: no side effects, values
// always bound as parameters, never interpolated.
package query

import (
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"datagate/internal/ddl"
	"datagate/internal/domain"
)

// Built is a compiled statement with its bound arguments.
type Built struct {
	SQL  string
	Args []interface{}
}

// Key is the keyset cursor for streaming: the ordering-column values of the
// last row already seen.
type Key struct {
	CreatedAt time.Time
	ID        string
}

// selectColumns projects the system columns followed by the declared
// properties, in declaration order.
func selectColumns(schema *domain.Schema) string {
	cols := []string{
		ddl.QuoteIdentifier(domain.ColumnID),
		ddl.QuoteIdentifier(domain.ColumnCreatedAt),
		ddl.QuoteIdentifier(domain.ColumnVersion),
	}
	for _, p := range schema.Properties {
		cols = append(cols, ddl.QuoteIdentifier(p.Name))
	}
	return strings.Join(cols, ", ")
}

// whereClause translates filters into an AND-combined predicate, preserving
// input order. Unknown fields fail here, never at execution time.
func whereClause(schema *domain.Schema, filters []domain.Filter) (string, []interface{}, error) {
	if len(filters) == 0 {
		return "", nil, nil
	}

	conds := make([]string, 0, len(filters))
	var args []interface{}
	for _, f := range filters {
		if !schema.HasField(f.Field) {
			return "", nil, domain.ErrValidation("unknown field %q in schema %q", f.Field, schema.Name)
		}
		cond, condArgs, err := filterCondition(f)
		if err != nil {
			return "", nil, err
		}
		conds = append(conds, cond)
		args = append(args, condArgs...)
	}
	return " WHERE " + strings.Join(conds, " AND "), args, nil
}

func filterCondition(f domain.Filter) (string, []interface{}, error) {
	col := ddl.QuoteIdentifier(f.Field)

	switch f.Op {
	case domain.OpEq:
		return col + " = ?", []interface{}{f.Value}, nil
	case domain.OpNe:
		return col + " != ?", []interface{}{f.Value}, nil
	case domain.OpGt:
		return col + " > ?", []interface{}{f.Value}, nil
	case domain.OpGte:
		return col + " >= ?", []interface{}{f.Value}, nil
	case domain.OpLt:
		return col + " < ?", []interface{}{f.Value}, nil
	case domain.OpLte:
		return col + " <= ?", []interface{}{f.Value}, nil
	case domain.OpLike:
		return col + " LIKE ?", []interface{}{f.Value}, nil
	case domain.OpILike:
		return col + " ILIKE ?", []interface{}{f.Value}, nil
	case domain.OpIsNull:
		return col + " IS NULL", nil, nil
	case domain.OpIsNotNull:
		return col + " IS NOT NULL", nil, nil
	case domain.OpIn:
		values, err := expandInValues(f.Value)
		if err != nil {
			return "", nil, domain.ErrValidation("filter on %q: %v", f.Field, err)
		}
		placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(values)), ", ")
		return col + " IN (" + placeholders + ")", values, nil
	default:
		return "", nil, domain.ErrValidation("unsupported filter operator %q", f.Op)
	}
}

// expandInValues flattens the value of an in-set filter into its elements.
func expandInValues(v interface{}) ([]interface{}, error) {
	rv := reflect.ValueOf(v)
	if v == nil || (rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array) {
		return nil, fmt.Errorf("value for %q operator must be a list", domain.OpIn)
	}
	if rv.Len() == 0 {
		return nil, fmt.Errorf("value for %q operator must not be empty", domain.OpIn)
	}
	out := make([]interface{}, rv.Len())
	for i := 0; i < rv.Len(); i++ {
		out[i] = rv.Index(i).Interface()
	}
	return out, nil
}

// orderClause applies sort directives in input order with explicit direction.
func orderClause(schema *domain.Schema, sorts []domain.Sort) (string, error) {
	if len(sorts) == 0 {
		return "", nil
	}
	parts := make([]string, 0, len(sorts))
	for _, s := range sorts {
		if !schema.HasField(s.Field) {
			return "", domain.ErrValidation("unknown sort field %q in schema %q", s.Field, schema.Name)
		}
		dir := "ASC"
		if s.Descending {
			dir = "DESC"
		}
		parts = append(parts, ddl.QuoteIdentifier(s.Field)+" "+dir)
	}
	return " ORDER BY " + strings.Join(parts, ", "), nil
}

// Select builds an offset-paginated SELECT. Page is 1-based; size must be in
// [1, maxPageSize].
func Select(schema *domain.Schema, spec domain.QuerySpec, maxPageSize int) (Built, error) {
	if spec.Page < 1 {
		return Built{}, domain.ErrUnsafeOperation("page must be at least 1, got %d", spec.Page)
	}
	if spec.PageSize < 1 || spec.PageSize > maxPageSize {
		return Built{}, domain.ErrUnsafeOperation("page size must be in [1, %d], got %d", maxPageSize, spec.PageSize)
	}

	where, args, err := whereClause(schema, spec.Filters)
	if err != nil {
		return Built{}, err
	}
	order, err := orderClause(schema, spec.Sorts)
	if err != nil {
		return Built{}, err
	}

	sql := fmt.Sprintf("SELECT %s FROM %s%s%s LIMIT %d OFFSET %d",
		selectColumns(schema), ddl.QuoteIdentifier(schema.TableName),
		where, order, spec.PageSize, (spec.Page-1)*spec.PageSize)
	return Built{SQL: sql, Args: args}, nil
}

// SelectChunk builds a bounded SELECT for streaming under a caller-supplied
// sort order, fetching one chunk at the given offset.
func SelectChunk(schema *domain.Schema, spec domain.QuerySpec, chunkSize, offset int) (Built, error) {
	where, args, err := whereClause(schema, spec.Filters)
	if err != nil {
		return Built{}, err
	}
	order, err := orderClause(schema, spec.Sorts)
	if err != nil {
		return Built{}, err
	}

	sql := fmt.Sprintf("SELECT %s FROM %s%s%s LIMIT %d OFFSET %d",
		selectColumns(schema), ddl.QuoteIdentifier(schema.TableName),
		where, order, chunkSize, offset)
	return Built{SQL: sql, Args: args}, nil
}

// SelectKeyset builds a keyset-paginated SELECT for streaming in the default
// (created_at, id) order: it seeks past the last-seen key instead of using a
// numeric offset, so chunk cost does not grow with position.
func SelectKeyset(schema *domain.Schema, filters []domain.Filter, after *Key, chunkSize int) (Built, error) {
	where, args, err := whereClause(schema, filters)
	if err != nil {
		return Built{}, err
	}

	seek := ""
	if after != nil {
		cmp := fmt.Sprintf("(%s > ? OR (%s = ? AND %s > ?))",
			ddl.QuoteIdentifier(domain.ColumnCreatedAt),
			ddl.QuoteIdentifier(domain.ColumnCreatedAt),
			ddl.QuoteIdentifier(domain.ColumnID))
		if where == "" {
			seek = " WHERE " + cmp
		} else {
			seek = " AND " + cmp
		}
		args = append(args, after.CreatedAt, after.CreatedAt, after.ID)
	}

	sql := fmt.Sprintf("SELECT %s FROM %s%s%s ORDER BY %s ASC, %s ASC LIMIT %d",
		selectColumns(schema), ddl.QuoteIdentifier(schema.TableName),
		where, seek,
		ddl.QuoteIdentifier(domain.ColumnCreatedAt), ddl.QuoteIdentifier(domain.ColumnID),
		chunkSize)
	return Built{SQL: sql, Args: args}, nil
}

// Count builds a COUNT sharing the same filter translation as Select, with
// no projection and no pagination.
func Count(schema *domain.Schema, filters []domain.Filter) (Built, error) {
	where, args, err := whereClause(schema, filters)
	if err != nil {
		return Built{}, err
	}
	sql := fmt.Sprintf("SELECT COUNT(*) FROM %s%s", ddl.QuoteIdentifier(schema.TableName), where)
	return Built{SQL: sql, Args: args}, nil
}

// insertColumns is the full column list for INSERT: system columns first,
// then declared properties.
func insertColumns(schema *domain.Schema) []string {
	cols := []string{domain.ColumnID, domain.ColumnCreatedAt, domain.ColumnVersion}
	return append(cols, schema.PropertyNames()...)
}

// recordValues binds one parameter tuple for a record, in insertColumns order.
func recordValues(schema *domain.Schema, rec *domain.Record) []interface{} {
	vals := make([]interface{}, 0, 3+len(schema.Properties))
	vals = append(vals, rec.ID, rec.CreatedAt, rec.Version)
	for i := range schema.Properties {
		p := &schema.Properties[i]
		vals = append(vals, bindValue(p, rec.Data[p.Name]))
	}
	return vals
}

// bindValue converts a record value to its bound parameter form. Structured
// object/array values are encoded to JSON text for the engine's JSON column
// type; everything else binds as-is.
func bindValue(p *domain.Property, v interface{}) interface{} {
	switch p.Type {
	case domain.TypeObject, domain.TypeArray:
		if v == nil {
			return nil
		}
		if s, ok := v.(string); ok {
			return s
		}
		if raw, err := json.Marshal(v); err == nil {
			return string(raw)
		}
	}
	return v
}

// Insert builds a single-record INSERT.
func Insert(schema *domain.Schema, rec *domain.Record) Built {
	return BatchInsert(schema, []*domain.Record{rec})
}

// BatchInsert builds a multi-row INSERT binding one parameter tuple per
// record in a single round trip.
func BatchInsert(schema *domain.Schema, recs []*domain.Record) Built {
	cols := insertColumns(schema)
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = ddl.QuoteIdentifier(c)
	}
	tuple := "(" + strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", ") + ")"

	tuples := make([]string, len(recs))
	var args []interface{}
	for i, rec := range recs {
		tuples[i] = tuple
		args = append(args, recordValues(schema, rec)...)
	}

	sql := fmt.Sprintf("INSERT INTO %s (%s) VALUES %s",
		ddl.QuoteIdentifier(schema.TableName),
		strings.Join(quoted, ", "),
		strings.Join(tuples, ", "))
	return Built{SQL: sql, Args: args}
}

// Update builds an UPDATE over the given data fields, incrementing version.
// At least one filter is required; zero filters fail with UnsafeOperation to
// prevent accidental full-table mutation.
func Update(schema *domain.Schema, filters []domain.Filter, data map[string]interface{}) (Built, error) {
	if len(filters) == 0 {
		return Built{}, domain.ErrUnsafeOperation("update on schema %q requires at least one filter", schema.Name)
	}
	if len(data) == 0 {
		return Built{}, domain.ErrValidation("update on schema %q has no fields to set", schema.Name)
	}

	// Deterministic SET order: declaration order over the schema.
	var sets []string
	var args []interface{}
	for i := range schema.Properties {
		p := &schema.Properties[i]
		if v, ok := data[p.Name]; ok {
			sets = append(sets, ddl.QuoteIdentifier(p.Name)+" = ?")
			args = append(args, bindValue(p, v))
		}
	}
	if len(sets) == 0 {
		return Built{}, domain.ErrValidation("update on schema %q names no declared properties", schema.Name)
	}
	sets = append(sets, fmt.Sprintf("%s = %s + 1",
		ddl.QuoteIdentifier(domain.ColumnVersion), ddl.QuoteIdentifier(domain.ColumnVersion)))

	where, whereArgs, err := whereClause(schema, filters)
	if err != nil {
		return Built{}, err
	}
	args = append(args, whereArgs...)

	sql := fmt.Sprintf("UPDATE %s SET %s%s",
		ddl.QuoteIdentifier(schema.TableName), strings.Join(sets, ", "), where)
	return Built{SQL: sql, Args: args}, nil
}

// Delete builds a DELETE. Zero filters fail with UnsafeOperation.
func Delete(schema *domain.Schema, filters []domain.Filter) (Built, error) {
	if len(filters) == 0 {
		return Built{}, domain.ErrUnsafeOperation("delete on schema %q requires at least one filter", schema.Name)
	}
	where, args, err := whereClause(schema, filters)
	if err != nil {
		return Built{}, err
	}
	sql := fmt.Sprintf("DELETE FROM %s%s", ddl.QuoteIdentifier(schema.TableName), where)
	return Built{SQL: sql, Args: args}, nil
}
