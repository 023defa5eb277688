package calls

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"crmvoice-platform/pkg/utils"

	"github.com/google/uuid"
)

var ErrNotFound = errors.New("calls: not found")

// MutateFunc transforms one call document inside the store's atomicity
// boundary. existing is nil when no document matches; returning nil skips
// the write entirely (the document is unchanged). fn may be invoked a
// second time when a concurrent delivery inserts the document first, so it
// must derive its result from existing and its own inputs only.
type MutateFunc func(existing map[string]any) (map[string]any, error)

// Store persists aggregate call documents.
//
// All webhook writes go through Mutate, which guarantees that concurrent
// deliveries for the same call serialize on the document: read, merge,
// write happen atomically, so a retry or parallel delivery can never fork
// the record.
type Store interface {
	// Mutate resolves the document by lk, applies fn and persists the
	// result. Returns the post-mutation document and whether a new
	// document was inserted.
	Mutate(ctx context.Context, lk Lookup, fn MutateFunc) (doc map[string]any, inserted bool, err error)

	// Patch merges fields into the document addressed by a session
	// lookup. ErrNotFound when no document matches.
	Patch(ctx context.Context, identifier string, fields map[string]any) error

	Get(ctx context.Context, lk Lookup) (map[string]any, error)
	List(ctx context.Context, limit, skip int) ([]map[string]any, int64, error)
	Delete(ctx context.Context, lk Lookup) error

	Ping(ctx context.Context) error
}

// SQLStore keeps call documents in a JSONB column keyed by call_key, with
// a synthetic UUID id. Row-level locking (FOR UPDATE) provides the
// single-document atomicity the merge pipeline relies on.
type SQLStore struct {
	db *sql.DB
}

func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db}
}

// EnsureSchema creates the calls table and its lookup indexes at startup.
func (s *SQLStore) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS calls (
			id         UUID PRIMARY KEY,
			call_key   TEXT NOT NULL UNIQUE,
			doc        JSONB NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_calls_session
			ON calls ((doc->>'call_session_id'))`,
		`CREATE INDEX IF NOT EXISTS idx_calls_sid
			ON calls ((doc->>'call_sid'))`,
		`CREATE INDEX IF NOT EXISTS idx_calls_control
			ON calls ((doc->'telnyx_metadata'->>'call_control_id'))`,
		`CREATE INDEX IF NOT EXISTS idx_calls_created
			ON calls (created_at DESC)`,
	}
	for _, q := range stmts {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("calls schema: %w", err)
		}
	}
	return nil
}

// lookupCondition renders lk as a WHERE clause over call_key and the
// document paths, ordering so an exact call_key match is preferred.
func lookupCondition(lk Lookup, argPos int) (cond, order string) {
	parts := []string{fmt.Sprintf("call_key = $%d", argPos)}
	for _, path := range lk.DocFields {
		parts = append(parts, fmt.Sprintf("%s = $%d", jsonbPath(path), argPos))
	}
	cond = "(" + strings.Join(parts, " OR ") + ")"
	order = fmt.Sprintf("ORDER BY (call_key = $%d) DESC", argPos)
	return cond, order
}

// jsonbPath converts a dotted document path into a JSONB text extraction.
func jsonbPath(path string) string {
	segs := strings.Split(path, ".")
	expr := "doc"
	for _, seg := range segs[:len(segs)-1] {
		expr += "->'" + seg + "'"
	}
	return expr + "->>'" + segs[len(segs)-1] + "'"
}

func (s *SQLStore) Mutate(ctx context.Context, lk Lookup, fn MutateFunc) (map[string]any, bool, error) {
	var (
		out      map[string]any
		inserted bool
	)
	err := utils.WithTx(ctx, s.db, nil, func(ctx context.Context, tx *sql.Tx) error {
		cond, order := lookupCondition(lk, 1)
		q := fmt.Sprintf(`
SELECT id, call_key, doc, created_at, updated_at
FROM calls
WHERE %s
%s
LIMIT 1
FOR UPDATE
`, cond, order)

		// Two attempts: when two first deliveries race for the same unseen
		// key, there is no row to lock, so the loser's insert conflicts and
		// the second pass takes the update path against the winner's row.
		for attempt := 0; attempt < 2; attempt++ {
			var (
				id, callKey          string
				docRaw               []byte
				createdAt, updatedAt time.Time
			)
			err := tx.QueryRowContext(ctx, q, lk.Identifier).Scan(&id, &callKey, &docRaw, &createdAt, &updatedAt)
			switch {
			case errors.Is(err, sql.ErrNoRows):
				updated, err := fn(nil)
				if err != nil {
					return err
				}
				if updated == nil {
					out = nil
					return nil
				}
				newKey, _ := updated["call_key"].(string)
				if newKey == "" {
					newKey = lk.Identifier
					updated["call_key"] = newKey
				}
				now := time.Now().UTC()
				raw, err := json.Marshal(updated)
				if err != nil {
					return fmt.Errorf("marshal call doc: %w", err)
				}
				newID := uuid.NewString()
				res, err := tx.ExecContext(ctx, `
INSERT INTO calls (id, call_key, doc, created_at, updated_at)
VALUES ($1, $2, $3, $4, $4)
ON CONFLICT (call_key) DO NOTHING
`, newID, newKey, raw, now)
				if err != nil {
					return err
				}
				n, err := res.RowsAffected()
				if err != nil {
					return err
				}
				if n == 0 {
					continue
				}
				inserted = true
				out = decorate(updated, newID, now, now)
				return nil

			case err != nil:
				return err
			}

			existing := map[string]any{}
			if err := json.Unmarshal(docRaw, &existing); err != nil {
				return fmt.Errorf("decode call doc: %w", err)
			}

			updated, err := fn(existing)
			if err != nil {
				return err
			}
			if updated == nil {
				out = decorate(existing, id, createdAt, updatedAt)
				return nil
			}

			now := time.Now().UTC()
			raw, err := json.Marshal(updated)
			if err != nil {
				return fmt.Errorf("marshal call doc: %w", err)
			}
			if _, err := tx.ExecContext(ctx, `UPDATE calls SET doc = $1, updated_at = $2 WHERE id = $3`, raw, now, id); err != nil {
				return err
			}
			out = decorate(updated, id, createdAt, now)
			return nil
		}
		return fmt.Errorf("calls: insert for %q conflicted twice", lk.Identifier)
	})
	if err != nil {
		return nil, false, err
	}
	return out, inserted, nil
}

func (s *SQLStore) Patch(ctx context.Context, identifier string, fields map[string]any) error {
	raw, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("marshal patch: %w", err)
	}

	cond, _ := lookupCondition(SessionLookup(identifier), 1)
	q := fmt.Sprintf(`UPDATE calls SET doc = doc || $2::jsonb, updated_at = $3 WHERE %s`, cond)
	res, err := s.db.ExecContext(ctx, q, identifier, raw, time.Now().UTC())
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLStore) Get(ctx context.Context, lk Lookup) (map[string]any, error) {
	cond, order := lookupCondition(lk, 1)
	q := fmt.Sprintf(`
SELECT id, doc, created_at, updated_at
FROM calls
WHERE %s
%s
LIMIT 1
`, cond, order)

	var (
		id                   string
		docRaw               []byte
		createdAt, updatedAt time.Time
	)
	err := s.db.QueryRowContext(ctx, q, lk.Identifier).Scan(&id, &docRaw, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	doc := map[string]any{}
	if err := json.Unmarshal(docRaw, &doc); err != nil {
		return nil, fmt.Errorf("decode call doc: %w", err)
	}
	return decorate(doc, id, createdAt, updatedAt), nil
}

func (s *SQLStore) List(ctx context.Context, limit, skip int) ([]map[string]any, int64, error) {
	var total int64
	if err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM calls`).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := s.db.QueryContext(ctx, `
SELECT id, doc, created_at, updated_at
FROM calls
ORDER BY created_at DESC
LIMIT $1 OFFSET $2
`, limit, skip)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	out := []map[string]any{}
	for rows.Next() {
		var (
			id                   string
			docRaw               []byte
			createdAt, updatedAt time.Time
		)
		if err := rows.Scan(&id, &docRaw, &createdAt, &updatedAt); err != nil {
			return nil, 0, err
		}
		doc := map[string]any{}
		if err := json.Unmarshal(docRaw, &doc); err != nil {
			return nil, 0, fmt.Errorf("decode call doc: %w", err)
		}
		out = append(out, decorate(doc, id, createdAt, updatedAt))
	}
	return out, total, rows.Err()
}

func (s *SQLStore) Delete(ctx context.Context, lk Lookup) error {
	cond, _ := lookupCondition(lk, 1)
	res, err := s.db.ExecContext(ctx, fmt.Sprintf(`DELETE FROM calls WHERE %s`, cond), lk.Identifier)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// decorate overlays the row-level metadata onto the document view.
func decorate(doc map[string]any, id string, createdAt, updatedAt time.Time) map[string]any {
	out := make(map[string]any, len(doc)+3)
	for k, v := range doc {
		out[k] = v
	}
	out["id"] = id
	out["created_at"] = createdAt
	out["updated_at"] = updatedAt
	return out
}
