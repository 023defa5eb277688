package telnyx

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

var ErrNotFound = errors.New("telnyx: not found")

// EventFilter narrows event listings.
type EventFilter struct {
	EventType string
	Limit     int
	Skip      int
}

// MessageFilter narrows message listings.
type MessageFilter struct {
	Direction string
	Status    string
	From      string
	To        string
	Type      string
	Limit     int
	Skip      int
}

// MessageStats summarizes the aggregate message collection.
type MessageStats struct {
	TotalMessages int64 `json:"total_messages"`
	InboundCount  int64 `json:"inbound_count"`
	OutboundCount int64 `json:"outbound_count"`
	SMSCount      int64 `json:"sms_count"`
	MMSCount      int64 `json:"mms_count"`
}

// EventTypeStat is one per-event-type row of the stats report.
type EventTypeStat struct {
	EventType string    `json:"event_type"`
	Count     int64     `json:"count"`
	LastSeen  time.Time `json:"last_seen"`
}

// Stats is the webhook processing report served by /api/telnyx/stats.
type Stats struct {
	Messages        MessageStats    `json:"message_stats"`
	EventTypes      []EventTypeStat `json:"event_types"`
	Last24hMessages int64           `json:"last_24h_messages"`
}

// Store is the persistence contract for the SMS/MMS pipeline.
//
// Both upserts are idempotent by natural key: concurrent or replayed
// deliveries of the same event/message never create a second row, and the
// mutable fields carry last-write-wins semantics ordered by arrival.
type Store interface {
	UpsertEvent(ctx context.Context, ev NormalizedEvent, verificationMethod string, now time.Time) error
	UpsertMessage(ctx context.Context, ev NormalizedEvent, verificationMethod string, now time.Time) error

	GetEvent(ctx context.Context, eventID string) (map[string]any, error)
	ListEvents(ctx context.Context, f EventFilter) ([]map[string]any, int64, error)
	GetMessage(ctx context.Context, messageID string) (map[string]any, error)
	ListMessages(ctx context.Context, f MessageFilter) ([]map[string]any, int64, error)
	Stats(ctx context.Context) (Stats, error)

	Ping(ctx context.Context) error
}

// SQLStore persists events and messages in Postgres. The schemaless carrier
// payloads live in JSONB; the natural keys are promoted to unique columns so
// ON CONFLICT provides the atomic upsert.
type SQLStore struct {
	db *sql.DB
}

func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db}
}

// EnsureSchema creates tables and indexes. Called once at startup before
// traffic is served; IF NOT EXISTS keeps it idempotent across replicas.
func (s *SQLStore) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS telnyx_webhook_events (
			event_id            TEXT PRIMARY KEY,
			event_type          TEXT,
			occurred_at         TEXT,
			raw_event           JSONB,
			verification_method TEXT,
			first_seen_at       TIMESTAMPTZ NOT NULL,
			last_seen_at        TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_telnyx_events_type_occurred
			ON telnyx_webhook_events (event_type, occurred_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_telnyx_events_first_seen
			ON telnyx_webhook_events (first_seen_at)`,
		`CREATE TABLE IF NOT EXISTS telnyx_messages (
			message_id TEXT PRIMARY KEY,
			doc        JSONB NOT NULL,
			event_ids  JSONB NOT NULL DEFAULT '[]'::jsonb,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_telnyx_messages_direction
			ON telnyx_messages ((doc->>'direction'), created_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_telnyx_messages_status
			ON telnyx_messages ((doc->>'status'), created_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_telnyx_messages_from
			ON telnyx_messages ((doc->>'from'), created_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_telnyx_messages_profile
			ON telnyx_messages ((doc->>'messaging_profile_id'))`,
	}
	for _, q := range stmts {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("telnyx schema: %w", err)
		}
	}
	return nil
}

// UpsertEvent records one raw webhook event. Replays of the same event_id
// refresh the mutable fields and last_seen_at; first_seen_at never moves.
func (s *SQLStore) UpsertEvent(ctx context.Context, ev NormalizedEvent, verificationMethod string, now time.Time) error {
	raw, err := json.Marshal(ev.RawEvent)
	if err != nil {
		return fmt.Errorf("marshal raw event: %w", err)
	}

	const q = `
INSERT INTO telnyx_webhook_events (
  event_id, event_type, occurred_at, raw_event, verification_method, first_seen_at, last_seen_at
) VALUES ($1,$2,$3,$4,$5,$6,$6)
ON CONFLICT (event_id) DO UPDATE SET
  event_type          = EXCLUDED.event_type,
  occurred_at         = EXCLUDED.occurred_at,
  raw_event           = EXCLUDED.raw_event,
  verification_method = EXCLUDED.verification_method,
  last_seen_at        = EXCLUDED.last_seen_at
`
	_, err = s.db.ExecContext(ctx, q, ev.EventID, ev.EventType, ev.OccurredAt, raw, verificationMethod, now.UTC())
	return err
}

// UpsertMessage refreshes the aggregate per-message record with the latest
// view and unions the event id into event_ids. created_at is set only on
// insert; previously recorded event ids are never lost.
func (s *SQLStore) UpsertMessage(ctx context.Context, ev NormalizedEvent, verificationMethod string, now time.Time) error {
	doc, err := json.Marshal(ev.messageDoc(verificationMethod))
	if err != nil {
		return fmt.Errorf("marshal message doc: %w", err)
	}

	const q = `
INSERT INTO telnyx_messages (message_id, doc, event_ids, created_at, updated_at)
VALUES (
  $1, $2,
  CASE WHEN $3 = '' THEN '[]'::jsonb ELSE jsonb_build_array($3::text) END,
  $4, $4
)
ON CONFLICT (message_id) DO UPDATE SET
  doc        = EXCLUDED.doc,
  event_ids  = CASE
                 WHEN $3 = '' OR telnyx_messages.event_ids @> EXCLUDED.event_ids
                 THEN telnyx_messages.event_ids
                 ELSE telnyx_messages.event_ids || EXCLUDED.event_ids
               END,
  updated_at = EXCLUDED.updated_at
`
	_, err = s.db.ExecContext(ctx, q, ev.MessageID, doc, ev.EventID, now.UTC())
	return err
}

func (s *SQLStore) GetEvent(ctx context.Context, eventID string) (map[string]any, error) {
	const q = `
SELECT event_id, event_type, occurred_at, raw_event, verification_method, first_seen_at, last_seen_at
FROM telnyx_webhook_events
WHERE event_id = $1
`
	var (
		id, eventType, occurredAt, method sql.NullString
		raw                               []byte
		firstSeen, lastSeen               time.Time
	)
	err := s.db.QueryRowContext(ctx, q, eventID).Scan(&id, &eventType, &occurredAt, &raw, &method, &firstSeen, &lastSeen)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var rawEvent map[string]any
	_ = json.Unmarshal(raw, &rawEvent)

	return map[string]any{
		"event_id":            id.String,
		"event_type":          eventType.String,
		"occurred_at":         occurredAt.String,
		"raw_event":           rawEvent,
		"verification_method": method.String,
		"first_seen_at":       firstSeen,
		"last_seen_at":        lastSeen,
	}, nil
}

// ListEvents excludes raw_event; detail lookups fetch it via GetEvent.
func (s *SQLStore) ListEvents(ctx context.Context, f EventFilter) ([]map[string]any, int64, error) {
	where := ""
	args := []any{}
	if f.EventType != "" {
		where = "WHERE event_type = $1"
		args = append(args, f.EventType)
	}

	var total int64
	if err := s.db.QueryRowContext(ctx, "SELECT count(*) FROM telnyx_webhook_events "+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	q := fmt.Sprintf(`
SELECT event_id, event_type, occurred_at, verification_method, first_seen_at, last_seen_at
FROM telnyx_webhook_events
%s
ORDER BY first_seen_at DESC
LIMIT $%d OFFSET $%d
`, where, len(args)+1, len(args)+2)
	args = append(args, f.Limit, f.Skip)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	out := []map[string]any{}
	for rows.Next() {
		var (
			id, eventType, occurredAt, method sql.NullString
			firstSeen, lastSeen               time.Time
		)
		if err := rows.Scan(&id, &eventType, &occurredAt, &method, &firstSeen, &lastSeen); err != nil {
			return nil, 0, err
		}
		out = append(out, map[string]any{
			"event_id":            id.String,
			"event_type":          eventType.String,
			"occurred_at":         occurredAt.String,
			"verification_method": method.String,
			"first_seen_at":       firstSeen,
			"last_seen_at":        lastSeen,
		})
	}
	return out, total, rows.Err()
}

func (s *SQLStore) GetMessage(ctx context.Context, messageID string) (map[string]any, error) {
	const q = `
SELECT message_id, doc, event_ids, created_at, updated_at
FROM telnyx_messages
WHERE message_id = $1
`
	row := s.db.QueryRowContext(ctx, q, messageID)
	m, err := scanMessage(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return m, err
}

func (s *SQLStore) ListMessages(ctx context.Context, f MessageFilter) ([]map[string]any, int64, error) {
	conds := []string{}
	args := []any{}
	add := func(cond string, v any) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if f.Direction != "" {
		add("doc->>'direction' = $%d", f.Direction)
	}
	if f.Status != "" {
		add("doc->>'status' = $%d", f.Status)
	}
	if f.From != "" {
		add("doc->>'from' = $%d", f.From)
	}
	if f.To != "" {
		// jsonb ? checks membership of a string in the to-array.
		add("doc->'to' ? $%d", f.To)
	}
	if f.Type != "" {
		add("doc->>'type' = $%d", f.Type)
	}

	where := ""
	if len(conds) > 0 {
		where = "WHERE " + strings.Join(conds, " AND ")
	}

	var total int64
	if err := s.db.QueryRowContext(ctx, "SELECT count(*) FROM telnyx_messages "+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	q := fmt.Sprintf(`
SELECT message_id, doc, event_ids, created_at, updated_at
FROM telnyx_messages
%s
ORDER BY created_at DESC
LIMIT $%d OFFSET $%d
`, where, len(args)+1, len(args)+2)
	args = append(args, f.Limit, f.Skip)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	out := []map[string]any{}
	for rows.Next() {
		m, err := scanMessage(rows.Scan)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, m)
	}
	return out, total, rows.Err()
}

func (s *SQLStore) Stats(ctx context.Context) (Stats, error) {
	var st Stats

	const msgQ = `
SELECT count(*),
       count(*) FILTER (WHERE doc->>'direction' = 'inbound'),
       count(*) FILTER (WHERE doc->>'direction' = 'outbound'),
       count(*) FILTER (WHERE doc->>'type' = 'SMS'),
       count(*) FILTER (WHERE doc->>'type' = 'MMS')
FROM telnyx_messages
`
	if err := s.db.QueryRowContext(ctx, msgQ).Scan(
		&st.Messages.TotalMessages,
		&st.Messages.InboundCount,
		&st.Messages.OutboundCount,
		&st.Messages.SMSCount,
		&st.Messages.MMSCount,
	); err != nil {
		return Stats{}, err
	}

	const evQ = `
SELECT coalesce(event_type, ''), count(*), max(last_seen_at)
FROM telnyx_webhook_events
GROUP BY event_type
ORDER BY count(*) DESC
`
	rows, err := s.db.QueryContext(ctx, evQ)
	if err != nil {
		return Stats{}, err
	}
	defer rows.Close()

	st.EventTypes = []EventTypeStat{}
	for rows.Next() {
		var e EventTypeStat
		if err := rows.Scan(&e.EventType, &e.Count, &e.LastSeen); err != nil {
			return Stats{}, err
		}
		st.EventTypes = append(st.EventTypes, e)
	}
	if err := rows.Err(); err != nil {
		return Stats{}, err
	}

	const recentQ = `SELECT count(*) FROM telnyx_messages WHERE created_at >= now() - interval '24 hours'`
	if err := s.db.QueryRowContext(ctx, recentQ).Scan(&st.Last24hMessages); err != nil {
		return Stats{}, err
	}
	return st, nil
}

func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func scanMessage(scan func(...any) error) (map[string]any, error) {
	var (
		id                   string
		docRaw, eventIDsRaw  []byte
		createdAt, updatedAt time.Time
	)
	if err := scan(&id, &docRaw, &eventIDsRaw, &createdAt, &updatedAt); err != nil {
		return nil, err
	}

	doc := map[string]any{}
	_ = json.Unmarshal(docRaw, &doc)
	eventIDs := []any{}
	_ = json.Unmarshal(eventIDsRaw, &eventIDs)

	doc["message_id"] = id
	doc["event_ids"] = eventIDs
	doc["created_at"] = createdAt
	doc["updated_at"] = updatedAt
	return doc, nil
}
