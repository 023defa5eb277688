// Package telnyx ingests Telnyx SMS/MMS webhook events: it verifies and
// normalizes the carrier's nested v2 envelope, then records both the raw
// event and an aggregate per-message view through idempotent upserts.
package telnyx

import "time"

// Timestamps is the message lifecycle sub-object carried on the payload.
type Timestamps struct {
	ReceivedAt  string `json:"received_at,omitempty"`
	SentAt      string `json:"sent_at,omitempty"`
	CompletedAt string `json:"completed_at,omitempty"`
}

// NormalizedEvent is the flattened view of one carrier webhook event,
// convenient for querying while the untouched envelope rides along in
// RawEvent. Works for message.received, message.sent, message.finalized
// and friends; absent fields stay zero.
type NormalizedEvent struct {
	EventID    string `json:"event_id"`
	EventType  string `json:"event_type"`
	OccurredAt string `json:"occurred_at"`

	MessageID          string         `json:"message_id"`
	Direction          string         `json:"direction"`
	Type               string         `json:"type"` // SMS or MMS
	From               string         `json:"from"`
	To                 []string       `json:"to"`
	Text               string         `json:"text"`
	Encoding           string         `json:"encoding"`
	Media              []any          `json:"media"`
	Errors             []any          `json:"errors"`
	Cost               map[string]any `json:"cost"`
	Status             string         `json:"status"`
	MessagingProfileID string         `json:"messaging_profile_id"`
	Timestamps         Timestamps     `json:"timestamps"`

	RawEvent   map[string]any `json:"raw_event"`
	IngestedAt time.Time      `json:"ingested_at"`
}

// Normalize flattens a parsed webhook envelope. It tolerates missing nested
// keys at every level; nothing here can fail.
func Normalize(evt map[string]any, now time.Time) NormalizedEvent {
	data := subMap(evt, "data")
	payload := subMap(data, "payload")

	n := NormalizedEvent{
		EventID:            str(data["id"]),
		EventType:          str(data["event_type"]),
		OccurredAt:         str(data["occurred_at"]),
		MessageID:          str(payload["id"]),
		Direction:          str(payload["direction"]),
		Type:               str(payload["type"]),
		From:               address(payload["from"]),
		To:                 addressList(payload["to"]),
		Text:               str(payload["text"]),
		Encoding:           str(payload["encoding"]),
		Media:              anyList(payload["media"]),
		Errors:             anyList(payload["errors"]),
		Cost:               subMap(payload, "cost"),
		Status:             str(payload["status"]),
		MessagingProfileID: str(payload["messaging_profile_id"]),
		Timestamps: Timestamps{
			ReceivedAt:  str(payload["received_at"]),
			SentAt:      str(payload["sent_at"]),
			CompletedAt: str(payload["completed_at"]),
		},
		RawEvent:   evt,
		IngestedAt: now.UTC(),
	}
	return n
}

// messageDoc is the mutable portion of the aggregate message record: the
// latest-state fields overwritten on every event. The filter key
// (message_id) is deliberately excluded.
func (n NormalizedEvent) messageDoc(verificationMethod string) map[string]any {
	return map[string]any{
		"direction":            n.Direction,
		"type":                 n.Type,
		"from":                 n.From,
		"to":                   n.To,
		"text":                 n.Text,
		"encoding":             n.Encoding,
		"media":                n.Media,
		"errors":               n.Errors,
		"cost":                 n.Cost,
		"status":               n.Status,
		"messaging_profile_id": n.MessagingProfileID,
		"timestamps":           n.Timestamps,
		"last_event_type":      n.EventType,
		"last_event_id":        n.EventID,
		"last_occurred_at":     n.OccurredAt,
		"verification_method":  verificationMethod,
	}
}

// address extracts a phone number from the shapes the v2 API uses:
// a plain string, or an object with phone_number/address.
func address(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case map[string]any:
		if s := str(t["phone_number"]); s != "" {
			return s
		}
		return str(t["address"])
	default:
		return ""
	}
}

// addressList extracts destinations from a string, an object, or an array
// of either.
func addressList(v any) []string {
	out := []string{}
	switch t := v.(type) {
	case string:
		out = append(out, t)
	case []any:
		for _, entry := range t {
			if s := address(entry); s != "" {
				out = append(out, s)
			}
		}
	case map[string]any:
		if s := address(t); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func str(v any) string {
	s, _ := v.(string)
	return s
}

func subMap(m map[string]any, key string) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	if sub, ok := m[key].(map[string]any); ok && sub != nil {
		return sub
	}
	return map[string]any{}
}

func anyList(v any) []any {
	if l, ok := v.([]any); ok && l != nil {
		return l
	}
	return []any{}
}
