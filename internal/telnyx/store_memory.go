package telnyx

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store useful for tests and early development.
// It mirrors the SQL store's upsert semantics exactly (insert-only fields,
// last-write-wins mutable fields, event id union).
//
// NOTE: not intended for production.
type MemoryStore struct {
	mu       sync.Mutex
	events   map[string]map[string]any
	messages map[string]map[string]any
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		events:   map[string]map[string]any{},
		messages: map[string]map[string]any{},
	}
}

func (s *MemoryStore) UpsertEvent(ctx context.Context, ev NormalizedEvent, verificationMethod string, now time.Time) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.events[ev.EventID]
	if !ok {
		rec = map[string]any{
			"event_id":      ev.EventID,
			"first_seen_at": now.UTC(),
		}
		s.events[ev.EventID] = rec
	}
	rec["event_type"] = ev.EventType
	rec["occurred_at"] = ev.OccurredAt
	rec["raw_event"] = ev.RawEvent
	rec["verification_method"] = verificationMethod
	rec["last_seen_at"] = now.UTC()
	return nil
}

func (s *MemoryStore) UpsertMessage(ctx context.Context, ev NormalizedEvent, verificationMethod string, now time.Time) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.messages[ev.MessageID]
	if !ok {
		rec = map[string]any{
			"message_id": ev.MessageID,
			"created_at": now.UTC(),
			"event_ids":  []string{},
		}
		s.messages[ev.MessageID] = rec
	}
	for k, v := range ev.messageDoc(verificationMethod) {
		rec[k] = v
	}
	rec["updated_at"] = now.UTC()

	if ev.EventID != "" {
		ids := rec["event_ids"].([]string)
		seen := false
		for _, id := range ids {
			if id == ev.EventID {
				seen = true
				break
			}
		}
		if !seen {
			rec["event_ids"] = append(ids, ev.EventID)
		}
	}
	return nil
}

func (s *MemoryStore) GetEvent(ctx context.Context, eventID string) (map[string]any, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.events[eventID]
	if !ok {
		return nil, ErrNotFound
	}
	return copyDoc(rec), nil
}

func (s *MemoryStore) ListEvents(ctx context.Context, f EventFilter) ([]map[string]any, int64, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()

	matched := []map[string]any{}
	for _, rec := range s.events {
		if f.EventType != "" && rec["event_type"] != f.EventType {
			continue
		}
		c := copyDoc(rec)
		delete(c, "raw_event")
		matched = append(matched, c)
	}
	sortByTime(matched, "first_seen_at")
	return paginate(matched, f.Limit, f.Skip)
}

func (s *MemoryStore) GetMessage(ctx context.Context, messageID string) (map[string]any, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.messages[messageID]
	if !ok {
		return nil, ErrNotFound
	}
	return copyDoc(rec), nil
}

func (s *MemoryStore) ListMessages(ctx context.Context, f MessageFilter) ([]map[string]any, int64, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()

	matched := []map[string]any{}
	for _, rec := range s.messages {
		if f.Direction != "" && rec["direction"] != f.Direction {
			continue
		}
		if f.Status != "" && rec["status"] != f.Status {
			continue
		}
		if f.From != "" && rec["from"] != f.From {
			continue
		}
		if f.Type != "" && rec["type"] != f.Type {
			continue
		}
		if f.To != "" && !containsAddr(rec["to"], f.To) {
			continue
		}
		matched = append(matched, copyDoc(rec))
	}
	sortByTime(matched, "created_at")
	return paginate(matched, f.Limit, f.Skip)
}

func (s *MemoryStore) Stats(ctx context.Context) (Stats, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Stats{EventTypes: []EventTypeStat{}}
	for _, rec := range s.messages {
		st.Messages.TotalMessages++
		switch rec["direction"] {
		case "inbound":
			st.Messages.InboundCount++
		case "outbound":
			st.Messages.OutboundCount++
		}
		switch rec["type"] {
		case "SMS":
			st.Messages.SMSCount++
		case "MMS":
			st.Messages.MMSCount++
		}
	}

	byType := map[string]*EventTypeStat{}
	for _, rec := range s.events {
		et, _ := rec["event_type"].(string)
		e, ok := byType[et]
		if !ok {
			e = &EventTypeStat{EventType: et}
			byType[et] = e
		}
		e.Count++
		if ls, ok := rec["last_seen_at"].(time.Time); ok && ls.After(e.LastSeen) {
			e.LastSeen = ls
		}
	}
	for _, e := range byType {
		st.EventTypes = append(st.EventTypes, *e)
	}
	sort.Slice(st.EventTypes, func(i, j int) bool { return st.EventTypes[i].Count > st.EventTypes[j].Count })
	return st, nil
}

func (s *MemoryStore) Ping(ctx context.Context) error {
	_ = ctx
	return nil
}

func copyDoc(rec map[string]any) map[string]any {
	c := make(map[string]any, len(rec))
	for k, v := range rec {
		c[k] = v
	}
	return c
}

func containsAddr(v any, want string) bool {
	if list, ok := v.([]string); ok {
		for _, s := range list {
			if s == want {
				return true
			}
		}
	}
	return false
}

func sortByTime(docs []map[string]any, key string) {
	sort.Slice(docs, func(i, j int) bool {
		a, _ := docs[i][key].(time.Time)
		b, _ := docs[j][key].(time.Time)
		return a.After(b)
	})
}

func paginate(docs []map[string]any, limit, skip int) ([]map[string]any, int64, error) {
	total := int64(len(docs))
	if skip >= len(docs) {
		return []map[string]any{}, total, nil
	}
	docs = docs[skip:]
	if limit > 0 && limit < len(docs) {
		docs = docs[:limit]
	}
	return docs, total, nil
}
