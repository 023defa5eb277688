package calls

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-memory Store for tests. A single mutex stands in
// for the row locking of the SQL store.
type MemoryStore struct {
	mu   sync.Mutex
	rows map[string]*memoryRow // keyed by call_key
}

type memoryRow struct {
	id                   string
	doc                  map[string]any
	createdAt, updatedAt time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{rows: map[string]*memoryRow{}}
}

// resolve finds the row matching lk, preferring an exact call_key match.
func (s *MemoryStore) resolve(lk Lookup) (string, *memoryRow) {
	if row, ok := s.rows[lk.Identifier]; ok {
		return lk.Identifier, row
	}
	for key, row := range s.rows {
		for _, path := range lk.DocFields {
			if docPathString(row.doc, path) == lk.Identifier {
				return key, row
			}
		}
	}
	return "", nil
}

func docPathString(doc map[string]any, path string) string {
	cur := any(doc)
	for _, seg := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return ""
		}
		cur = m[seg]
	}
	s, _ := cur.(string)
	return s
}

func (s *MemoryStore) Mutate(ctx context.Context, lk Lookup, fn MutateFunc) (map[string]any, bool, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()

	_, row := s.resolve(lk)
	if row == nil {
		updated, err := fn(nil)
		if err != nil {
			return nil, false, err
		}
		if updated == nil {
			return nil, false, nil
		}
		key, _ := updated["call_key"].(string)
		if key == "" {
			key = lk.Identifier
			updated["call_key"] = key
		}
		now := time.Now().UTC()
		row = &memoryRow{id: uuid.NewString(), doc: updated, createdAt: now, updatedAt: now}
		s.rows[key] = row
		return decorate(copyDoc(updated), row.id, now, now), true, nil
	}

	updated, err := fn(copyDoc(row.doc))
	if err != nil {
		return nil, false, err
	}
	if updated == nil {
		return decorate(copyDoc(row.doc), row.id, row.createdAt, row.updatedAt), false, nil
	}
	row.doc = updated
	row.updatedAt = time.Now().UTC()
	return decorate(copyDoc(updated), row.id, row.createdAt, row.updatedAt), false, nil
}

func (s *MemoryStore) Patch(ctx context.Context, identifier string, fields map[string]any) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()

	_, row := s.resolve(SessionLookup(identifier))
	if row == nil {
		return ErrNotFound
	}
	for k, v := range fields {
		row.doc[k] = v
	}
	row.updatedAt = time.Now().UTC()
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, lk Lookup) (map[string]any, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()

	_, row := s.resolve(lk)
	if row == nil {
		return nil, ErrNotFound
	}
	return decorate(copyDoc(row.doc), row.id, row.createdAt, row.updatedAt), nil
}

func (s *MemoryStore) List(ctx context.Context, limit, skip int) ([]map[string]any, int64, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()

	all := make([]*memoryRow, 0, len(s.rows))
	for _, row := range s.rows {
		all = append(all, row)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].createdAt.After(all[j].createdAt) })

	total := int64(len(all))
	if skip >= len(all) {
		return []map[string]any{}, total, nil
	}
	all = all[skip:]
	if limit > 0 && limit < len(all) {
		all = all[:limit]
	}

	out := make([]map[string]any, 0, len(all))
	for _, row := range all {
		out = append(out, decorate(copyDoc(row.doc), row.id, row.createdAt, row.updatedAt))
	}
	return out, total, nil
}

func (s *MemoryStore) Delete(ctx context.Context, lk Lookup) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()

	key, row := s.resolve(lk)
	if row == nil {
		return ErrNotFound
	}
	delete(s.rows, key)
	return nil
}

func (s *MemoryStore) Ping(ctx context.Context) error {
	_ = ctx
	return nil
}

func copyDoc(doc map[string]any) map[string]any {
	return copyValue(doc).(map[string]any)
}
