package telnyx

import (
	"encoding/json"
	"reflect"
	"testing"
	"time"
)

func parseEnvelope(t *testing.T, raw string) map[string]any {
	t.Helper()
	var m map[string]any
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		t.Fatalf("parse envelope: %v", err)
	}
	return m
}

func TestNormalize_FullEnvelope(t *testing.T) {
	evt := parseEnvelope(t, `{
		"data": {
			"id": "evt-1",
			"event_type": "message.received",
			"occurred_at": "2026-01-05T10:00:00Z",
			"payload": {
				"id": "msg-1",
				"direction": "inbound",
				"type": "SMS",
				"from": {"phone_number": "+15550001111", "carrier": "T"},
				"to": [{"phone_number": "+15550002222"}],
				"text": "hello",
				"encoding": "GSM-7",
				"media": [],
				"errors": [],
				"cost": {"amount": "0.004", "currency": "USD"},
				"status": "received",
				"messaging_profile_id": "prof-1",
				"received_at": "2026-01-05T10:00:00Z"
			}
		}
	}`)

	now := time.Date(2026, 1, 5, 10, 0, 1, 0, time.UTC)
	n := Normalize(evt, now)

	if n.EventID != "evt-1" || n.EventType != "message.received" {
		t.Fatalf("event fields wrong: %+v", n)
	}
	if n.MessageID != "msg-1" || n.Direction != "inbound" || n.Type != "SMS" {
		t.Fatalf("message fields wrong: %+v", n)
	}
	if n.From != "+15550001111" {
		t.Fatalf("from = %q", n.From)
	}
	if !reflect.DeepEqual(n.To, []string{"+15550002222"}) {
		t.Fatalf("to = %v", n.To)
	}
	if n.Text != "hello" || n.Status != "received" || n.Encoding != "GSM-7" {
		t.Fatalf("payload fields wrong: %+v", n)
	}
	if n.Timestamps.ReceivedAt != "2026-01-05T10:00:00Z" {
		t.Fatalf("timestamps wrong: %+v", n.Timestamps)
	}
	if !n.IngestedAt.Equal(now) {
		t.Fatalf("ingested_at = %v", n.IngestedAt)
	}
	if n.RawEvent == nil {
		t.Fatalf("raw event must be preserved")
	}
}

func TestNormalize_EmptyAndMissingKeys(t *testing.T) {
	for _, raw := range []string{`{}`, `{"data":{}}`, `{"data":{"payload":{}}}`} {
		n := Normalize(parseEnvelope(t, raw), time.Now())
		if n.EventID != "" || n.MessageID != "" {
			t.Fatalf("ids must be empty for %s, got %+v", raw, n)
		}
		if n.To == nil || n.Media == nil || n.Errors == nil || n.Cost == nil {
			t.Fatalf("collections must be non-nil for %s", raw)
		}
	}
}

func TestNormalize_StringAddresses(t *testing.T) {
	evt := parseEnvelope(t, `{
		"data": {"payload": {"from": "+15550001111", "to": "+15550002222"}}
	}`)

	n := Normalize(evt, time.Now())
	if n.From != "+15550001111" {
		t.Fatalf("from = %q", n.From)
	}
	if !reflect.DeepEqual(n.To, []string{"+15550002222"}) {
		t.Fatalf("to = %v", n.To)
	}
}

func TestNormalize_ToObjectForm(t *testing.T) {
	evt := parseEnvelope(t, `{
		"data": {"payload": {"to": {"address": "+15559998888"}}}
	}`)

	n := Normalize(evt, time.Now())
	if !reflect.DeepEqual(n.To, []string{"+15559998888"}) {
		t.Fatalf("to = %v", n.To)
	}
}
