package telnyx

import (
	"context"
	"testing"
	"time"
)

func TestUpsertEvent_ReplayKeepsFirstSeenAt(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	first := time.Date(2026, 1, 5, 12, 0, 0, 0, time.UTC)
	second := first.Add(45 * time.Minute)

	ev := NormalizedEvent{
		EventID:    "evt-replay-1",
		EventType:  "message.received",
		OccurredAt: "2026-01-05T11:59:58Z",
		RawEvent:   map[string]any{"data": map[string]any{"event_type": "message.received"}},
	}
	if err := store.UpsertEvent(ctx, ev, "ed25519", first); err != nil {
		t.Fatalf("first upsert: %v", err)
	}

	// Redelivery of the same event id: mutable fields follow the latest
	// arrival, first_seen_at does not.
	ev.EventType = "message.finalized"
	if err := store.UpsertEvent(ctx, ev, "hmac-sha256", second); err != nil {
		t.Fatalf("second upsert: %v", err)
	}

	got, err := store.GetEvent(ctx, "evt-replay-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if fs, ok := got["first_seen_at"].(time.Time); !ok || !fs.Equal(first) {
		t.Fatalf("first_seen_at = %v, want %v", got["first_seen_at"], first)
	}
	if ls, ok := got["last_seen_at"].(time.Time); !ok || !ls.Equal(second) {
		t.Fatalf("last_seen_at = %v, want %v", got["last_seen_at"], second)
	}
	if got["event_type"] != "message.finalized" || got["verification_method"] != "hmac-sha256" {
		t.Fatalf("mutable fields not refreshed: %v", got)
	}
}

func TestUpsertMessage_ReplayKeepsCreatedAt(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	first := time.Date(2026, 1, 5, 12, 0, 0, 0, time.UTC)
	second := first.Add(10 * time.Minute)

	ev := NormalizedEvent{
		EventID:   "evt-a",
		MessageID: "msg-1",
		Direction: "inbound",
		Status:    "received",
	}
	if err := store.UpsertMessage(ctx, ev, "ed25519", first); err != nil {
		t.Fatalf("first upsert: %v", err)
	}

	ev.EventID = "evt-b"
	ev.Status = "delivered"
	if err := store.UpsertMessage(ctx, ev, "ed25519", second); err != nil {
		t.Fatalf("second upsert: %v", err)
	}

	got, err := store.GetMessage(ctx, "msg-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if ca, ok := got["created_at"].(time.Time); !ok || !ca.Equal(first) {
		t.Fatalf("created_at = %v, want %v", got["created_at"], first)
	}
	if ua, ok := got["updated_at"].(time.Time); !ok || !ua.Equal(second) {
		t.Fatalf("updated_at = %v, want %v", got["updated_at"], second)
	}
	if got["status"] != "delivered" {
		t.Fatalf("status = %v", got["status"])
	}
	ids, _ := got["event_ids"].([]string)
	if len(ids) != 2 || ids[0] != "evt-a" || ids[1] != "evt-b" {
		t.Fatalf("event_ids = %v", got["event_ids"])
	}
}
