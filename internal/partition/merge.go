package partition

import (
	"container/heap"
	"context"
	"errors"
	"time"

	"datagate/internal/domain"
)

// lessFunc orders two records under the sort directives of a query. With no
// directives the default (created_at, id) stream order applies. Ties always
// break on id so the merge is a total order.
func lessFunc(sorts []domain.Sort) func(a, b *domain.Record) bool {
	if len(sorts) == 0 {
		return func(a, b *domain.Record) bool {
			if !a.CreatedAt.Equal(b.CreatedAt) {
				return a.CreatedAt.Before(b.CreatedAt)
			}
			return a.ID < b.ID
		}
	}
	return func(a, b *domain.Record) bool {
		for _, s := range sorts {
			c := compareValues(fieldValue(a, s.Field), fieldValue(b, s.Field))
			if c == 0 {
				continue
			}
			if s.Descending {
				return c > 0
			}
			return c < 0
		}
		return a.ID < b.ID
	}
}

func fieldValue(r *domain.Record, field string) interface{} {
	switch field {
	case domain.ColumnID:
		return r.ID
	case domain.ColumnCreatedAt:
		return r.CreatedAt
	case domain.ColumnVersion:
		return r.Version
	default:
		return r.Data[field]
	}
}

// compareValues orders two record values of the same logical type. Nil sorts
// first, matching NULLS FIRST ascending semantics in the engine.
func compareValues(a, b interface{}) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	}

	switch av := a.(type) {
	case string:
		if bv, ok := b.(string); ok {
			switch {
			case av < bv:
				return -1
			case av > bv:
				return 1
			}
			return 0
		}
	case int64:
		if bv, ok := toComparableFloat(b); ok {
			return compareFloats(float64(av), bv)
		}
	case float64:
		if bv, ok := toComparableFloat(b); ok {
			return compareFloats(av, bv)
		}
	case bool:
		if bv, ok := b.(bool); ok {
			switch {
			case !av && bv:
				return -1
			case av && !bv:
				return 1
			}
			return 0
		}
	case time.Time:
		if bv, ok := b.(time.Time); ok {
			switch {
			case av.Before(bv):
				return -1
			case av.After(bv):
				return 1
			}
			return 0
		}
	}
	return 0
}

func toComparableFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

func compareFloats(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// mergeStream is a k-way merge over per-partition streams. Each source
// already yields records in the requested order, so the heap head is always
// the globally next record.
type mergeStream struct {
	sources []domain.RecordStream
	less    func(a, b *domain.Record) bool

	heads     headHeap
	primed    bool
	remaining int // records left under the stream limit; <0 means unbounded
	closed    bool
}

type head struct {
	rec    *domain.Record
	source int
}

type headHeap struct {
	items []head
	less  func(a, b *domain.Record) bool
}

func (h *headHeap) Len() int           { return len(h.items) }
func (h *headHeap) Less(i, j int) bool { return h.less(h.items[i].rec, h.items[j].rec) }
func (h *headHeap) Swap(i, j int)      { h.items[i], h.items[j] = h.items[j], h.items[i] }
func (h *headHeap) Push(x interface{}) { h.items = append(h.items, x.(head)) }
func (h *headHeap) Pop() interface{} {
	last := h.items[len(h.items)-1]
	h.items = h.items[:len(h.items)-1]
	return last
}

func newMergeStream(sources []domain.RecordStream, sorts []domain.Sort, limit int) *mergeStream {
	if limit <= 0 {
		limit = -1
	}
	less := lessFunc(sorts)
	return &mergeStream{
		sources:   sources,
		less:      less,
		heads:     headHeap{less: less},
		remaining: limit,
	}
}

func (m *mergeStream) prime(ctx context.Context) error {
	for i, src := range m.sources {
		rec, err := src.Next(ctx)
		if err != nil {
			return err
		}
		if rec != nil {
			m.heads.items = append(m.heads.items, head{rec: rec, source: i})
		}
	}
	heap.Init(&m.heads)
	m.primed = true
	return nil
}

func (m *mergeStream) Next(ctx context.Context) (*domain.Record, error) {
	if m.closed {
		return nil, domain.ErrProcessing("merged stream is closed")
	}
	if m.remaining == 0 {
		return nil, nil
	}
	if !m.primed {
		if err := m.prime(ctx); err != nil {
			_ = m.Close()
			return nil, err
		}
	}
	if m.heads.Len() == 0 {
		return nil, nil
	}

	top := m.heads.items[0]
	next, err := m.sources[top.source].Next(ctx)
	if err != nil {
		_ = m.Close()
		return nil, err
	}
	if next != nil {
		m.heads.items[0] = head{rec: next, source: top.source}
		heap.Fix(&m.heads, 0)
	} else {
		heap.Pop(&m.heads)
	}

	if m.remaining > 0 {
		m.remaining--
	}
	return top.rec, nil
}

func (m *mergeStream) Close() error {
	if m.closed {
		return nil
	}
	m.closed = true
	var errs []error
	for _, src := range m.sources {
		if err := src.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
