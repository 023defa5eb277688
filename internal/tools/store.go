package tools

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"
)

// Side-effect collections, one per tool.
const (
	CollectionAppointments       = "appointments"
	CollectionNotifications      = "notifications"
	CollectionLeadQualifications = "lead_qualifications"
	CollectionAvailabilityChecks = "availability_checks"
	CollectionServiceTickets     = "service_tickets"
	CollectionPricingRequests    = "pricing_requests"
	CollectionEmergencyRequests  = "emergency_requests"
)

var collections = []string{
	CollectionAppointments,
	CollectionNotifications,
	CollectionLeadQualifications,
	CollectionAvailabilityChecks,
	CollectionServiceTickets,
	CollectionPricingRequests,
	CollectionEmergencyRequests,
}

var errUnknownCollection = errors.New("tools: unknown collection")

// Store persists tool-call side-effect records. Records are insert-only:
// two invocations of the same tool are two records.
type Store interface {
	Insert(ctx context.Context, collection, id string, record map[string]any) error
	UpdateFields(ctx context.Context, collection, id string, fields map[string]any) error
	Ping(ctx context.Context) error
}

// SQLStore keeps one JSONB table per collection.
type SQLStore struct {
	db *sql.DB
}

func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db}
}

// EnsureSchema creates the side-effect tables at startup.
func (s *SQLStore) EnsureSchema(ctx context.Context) error {
	for _, c := range collections {
		stmts := []string{
			fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
				record_id  TEXT PRIMARY KEY,
				doc        JSONB NOT NULL,
				created_at TIMESTAMPTZ NOT NULL
			)`, c),
			fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_session
				ON %s ((doc->>'call_session_id'))`, c, c),
			fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_tenant
				ON %s ((doc->>'tenant_id'), created_at DESC)`, c, c),
		}
		for _, q := range stmts {
			if _, err := s.db.ExecContext(ctx, q); err != nil {
				return fmt.Errorf("tools schema %s: %w", c, err)
			}
		}
	}
	return nil
}

func validCollection(collection string) bool {
	for _, c := range collections {
		if c == collection {
			return true
		}
	}
	return false
}

func (s *SQLStore) Insert(ctx context.Context, collection, id string, record map[string]any) error {
	if !validCollection(collection) {
		return errUnknownCollection
	}
	raw, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal %s record: %w", collection, err)
	}
	q := fmt.Sprintf(`INSERT INTO %s (record_id, doc, created_at) VALUES ($1, $2, $3)`, collection)
	_, err = s.db.ExecContext(ctx, q, id, raw, time.Now().UTC())
	return err
}

func (s *SQLStore) UpdateFields(ctx context.Context, collection, id string, fields map[string]any) error {
	if !validCollection(collection) {
		return errUnknownCollection
	}
	raw, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("marshal %s update: %w", collection, err)
	}
	q := fmt.Sprintf(`UPDATE %s SET doc = doc || $2::jsonb WHERE record_id = $1`, collection)
	_, err = s.db.ExecContext(ctx, q, id, raw)
	return err
}

func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// MemoryStore is an in-memory Store for tests.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]map[string]map[string]any
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: map[string]map[string]map[string]any{}}
}

func (s *MemoryStore) Insert(ctx context.Context, collection, id string, record map[string]any) error {
	_ = ctx
	if !validCollection(collection) {
		return errUnknownCollection
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	col := s.records[collection]
	if col == nil {
		col = map[string]map[string]any{}
		s.records[collection] = col
	}
	cp := make(map[string]any, len(record))
	for k, v := range record {
		cp[k] = v
	}
	col[id] = cp
	return nil
}

func (s *MemoryStore) UpdateFields(ctx context.Context, collection, id string, fields map[string]any) error {
	_ = ctx
	if !validCollection(collection) {
		return errUnknownCollection
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.records[collection][id]; ok {
		for k, v := range fields {
			rec[k] = v
		}
	}
	return nil
}

func (s *MemoryStore) Ping(ctx context.Context) error {
	_ = ctx
	return nil
}

// GetRecord returns a stored record. Test helper.
func (s *MemoryStore) GetRecord(collection, id string) (map[string]any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[collection][id]
	return rec, ok
}

// Count returns how many records a collection holds. Test helper.
func (s *MemoryStore) Count(collection string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records[collection])
}
