package repository

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"datagate/internal/domain"
)

// scanRecord maps the current row onto a Record. The projection order is
// fixed by the query builder: id, created_at, version, then the declared
// properties in declaration order.
func scanRecord(s *domain.Schema, rows *sql.Rows) (*domain.Record, error) {
	dests := make([]interface{}, 3+len(s.Properties))
	for i := range dests {
		var v interface{}
		dests[i] = &v
	}
	if err := rows.Scan(dests...); err != nil {
		return nil, domain.ErrStore(err, "scan row for schema %q", s.Name)
	}

	id, err := idString(deref(dests[0]))
	if err != nil {
		return nil, domain.ErrProcessing("schema %q: %v", s.Name, err)
	}
	createdAt, ok := deref(dests[1]).(time.Time)
	if !ok {
		return nil, domain.ErrProcessing("schema %q: created_at is not a timestamp", s.Name)
	}
	version, ok := toVersion(deref(dests[2]))
	if !ok {
		return nil, domain.ErrProcessing("schema %q: version is not an integer", s.Name)
	}

	data := make(map[string]interface{}, len(s.Properties))
	for i, p := range s.Properties {
		v := deref(dests[3+i])
		if v == nil {
			continue
		}
		mapped, err := mapValue(&s.Properties[i], v)
		if err != nil {
			return nil, domain.ErrProcessing("schema %q property %q: %v", s.Name, p.Name, err)
		}
		data[p.Name] = mapped
	}

	return &domain.Record{
		ID:         id,
		SchemaName: s.Name,
		Data:       data,
		CreatedAt:  createdAt,
		Version:    version,
	}, nil
}

func deref(v interface{}) interface{} {
	return *(v.(*interface{}))
}

// idString normalizes the engine's UUID representation to its canonical
// string form.
func idString(v interface{}) (string, error) {
	switch t := v.(type) {
	case string:
		return t, nil
	case []byte:
		if len(t) == 16 {
			u, err := uuid.FromBytes(t)
			if err != nil {
				return "", fmt.Errorf("decode id: %w", err)
			}
			return u.String(), nil
		}
		return string(t), nil
	case fmt.Stringer:
		return t.String(), nil
	default:
		return "", fmt.Errorf("unexpected id type %T", v)
	}
}

func toVersion(v interface{}) (int64, bool) {
	switch t := v.(type) {
	case int64:
		return t, true
	case int32:
		return int64(t), true
	case int:
		return int64(t), true
	default:
		return 0, false
	}
}

// mapValue converts an engine value to its record representation. JSON
// columns may come back already decoded or as text depending on the driver
// path; text is decoded into structured values. Byte slices become strings;
// everything else passes through.
func mapValue(p *domain.Property, v interface{}) (interface{}, error) {
	if b, ok := v.([]byte); ok {
		v = string(b)
	}

	switch p.Type {
	case domain.TypeObject, domain.TypeArray:
		switch t := v.(type) {
		case map[string]interface{}, []interface{}:
			return t, nil
		case string:
			var decoded interface{}
			if err := json.Unmarshal([]byte(t), &decoded); err != nil {
				return nil, fmt.Errorf("decode JSON column: %w", err)
			}
			return decoded, nil
		default:
			return nil, fmt.Errorf("unexpected JSON column type %T", v)
		}
	default:
		return v, nil
	}
}
