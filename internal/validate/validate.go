// Package validate checks arbitrary-shaped request data against a
// runtime-described schema and coerces values onto their storage types.
package validate

import (
	"strconv"
	"time"

	"github.com/goccy/go-json"

	"datagate/internal/domain"
)

// Data validates a full record payload: unknown fields are rejected,
// required fields must be present, defaults are applied, and every value is
// coerced to its property's storage representation. Returns a normalized
// copy; the input map is not mutated.
func Data(schema *domain.Schema, data map[string]interface{}) (map[string]interface{}, error) {
	for field := range data {
		if schema.Property(field) == nil {
			return nil, domain.ErrValidation("schema %q has no property %q", schema.Name, field)
		}
	}

	out := make(map[string]interface{}, len(schema.Properties))
	for i := range schema.Properties {
		p := &schema.Properties[i]
		v, present := data[p.Name]
		if !present || v == nil {
			if p.Default != nil {
				v, present = p.Default, true
			} else if p.Required {
				return nil, domain.ErrValidation("schema %q: required property %q is missing", schema.Name, p.Name)
			} else {
				continue
			}
		}
		coerced, err := coerce(p, v)
		if err != nil {
			return nil, err
		}
		out[p.Name] = coerced
	}
	return out, nil
}

// Partial validates an update payload: only the fields present are checked
// and coerced; required-ness is not enforced (absent fields keep their
// stored values).
func Partial(schema *domain.Schema, data map[string]interface{}) (map[string]interface{}, error) {
	if len(data) == 0 {
		return nil, domain.ErrValidation("schema %q: update payload is empty", schema.Name)
	}

	out := make(map[string]interface{}, len(data))
	for field, v := range data {
		p := schema.Property(field)
		if p == nil {
			return nil, domain.ErrValidation("schema %q has no property %q", schema.Name, field)
		}
		if v == nil {
			if p.Required {
				return nil, domain.ErrValidation("schema %q: required property %q cannot be null", schema.Name, field)
			}
			out[field] = nil
			continue
		}
		coerced, err := coerce(p, v)
		if err != nil {
			return nil, err
		}
		out[field] = coerced
	}
	return out, nil
}

// Coerce converts a single value onto the property's storage type. Exposed
// for callers that need one field ahead of full payload validation, such as
// partition routing.
func Coerce(p *domain.Property, v interface{}) (interface{}, error) {
	return coerce(p, v)
}

func coerce(p *domain.Property, v interface{}) (interface{}, error) {
	switch p.Type {
	case domain.TypeString:
		if s, ok := v.(string); ok {
			return s, nil
		}
	case domain.TypeInteger:
		if n, ok := toInt64(v); ok {
			return n, nil
		}
	case domain.TypeNumber:
		if f, ok := toFloat64(v); ok {
			return f, nil
		}
	case domain.TypeBoolean:
		if b, ok := v.(bool); ok {
			return b, nil
		}
	case domain.TypeDate:
		if t, ok := toTime(v, "2006-01-02"); ok {
			return t, nil
		}
	case domain.TypeDatetime:
		if t, ok := toTime(v, time.RFC3339); ok {
			return t, nil
		}
	case domain.TypeObject:
		if m, ok := v.(map[string]interface{}); ok {
			return checkEncodable(m)
		}
	case domain.TypeArray:
		if a, ok := v.([]interface{}); ok {
			return checkEncodable(a)
		}
	}
	return nil, domain.ErrValidation("property %q: value %v is not coercible to %s", p.Name, v, p.Type)
}

func toInt64(v interface{}) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case float64:
		// JSON numbers decode as float64; accept only whole values.
		if n == float64(int64(n)) {
			return int64(n), true
		}
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return i, true
		}
	case string:
		if i, err := strconv.ParseInt(n, 10, 64); err == nil {
			return i, true
		}
	}
	return 0, false
}

func toFloat64(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		if f, err := n.Float64(); err == nil {
			return f, true
		}
	case string:
		if f, err := strconv.ParseFloat(n, 64); err == nil {
			return f, true
		}
	}
	return 0, false
}

func toTime(v interface{}, layout string) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case string:
		if parsed, err := time.Parse(layout, t); err == nil {
			return parsed, true
		}
		// A datetime property also accepts a bare date.
		if layout == time.RFC3339 {
			if parsed, err := time.Parse("2006-01-02T15:04:05", t); err == nil {
				return parsed, true
			}
			if parsed, err := time.Parse("2006-01-02", t); err == nil {
				return parsed, true
			}
		}
	}
	return time.Time{}, false
}

// checkEncodable verifies a structured value can reach the engine's JSON
// column type. The value stays structured; encoding to column text happens
// when the statement binds it.
func checkEncodable(v interface{}) (interface{}, error) {
	if _, err := json.Marshal(v); err != nil {
		return nil, domain.ErrValidation("value is not JSON-encodable: %v", err)
	}
	return v, nil
}
