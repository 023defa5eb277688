package calls

import (
	"net/url"
	"time"
)

// StatusUpdate is one parsed carrier status callback, ready to apply.
type StatusUpdate struct {
	CallSid   string
	EventType string

	// Fields are the scalar overwrites; empty values are already
	// stripped so stale callbacks cannot blank good data.
	Fields map[string]any
	// Event is the entry appended to the events log.
	Event map[string]any
	// Transcription is non-nil for call.transcription events.
	Transcription map[string]any
}

// ParseStatusForm reads a form-encoded status callback. The carrier sends
// two header generations of field names; both are accepted. Returns
// ErrNoIdentifier when neither CallSid nor call_control_id is present.
func ParseStatusForm(form url.Values, now time.Time) (StatusUpdate, error) {
	payload := map[string]any{}
	for k := range form {
		payload[k] = form.Get(k)
	}

	eventType := stringOr(payload["event_type"], "telnyx_status")
	callSid := firstString(payload["CallSid"], payload["call_control_id"])
	if callSid == "" {
		return StatusUpdate{}, ErrNoIdentifier
	}
	callStatus := firstString(payload["CallStatus"], payload["status"])
	ts := stringOr(payload["Timestamp"], now.UTC().Format(time.RFC3339Nano))

	fields := map[string]any{
		"call_sid":        callSid,
		"last_event_type": eventType,
	}
	if eventType != "call.transcription" {
		setNonEmpty(fields, "last_status", callStatus)
		setNonEmpty(fields, "duration", form.Get("CallDuration"))
		setNonEmpty(fields, "hangup_source", form.Get("HangupSource"))
		setNonEmpty(fields, "from", form.Get("From"))
		setNonEmpty(fields, "to", form.Get("To"))
		setNonEmpty(fields, "account_sid", form.Get("AccountSid"))
	}

	u := StatusUpdate{
		CallSid:   callSid,
		EventType: eventType,
		Fields:    fields,
		Event: map[string]any{
			"ts":          ts,
			"event_type":  eventType,
			"call_status": callStatus,
			"payload":     payload,
		},
	}

	if eventType == "call.transcription" {
		u.Transcription = map[string]any{
			"ts":         ts,
			"transcript": form.Get("transcript"),
			"confidence": form.Get("confidence"),
			"is_final":   form.Get("is_final"),
		}
	}
	return u, nil
}

func setNonEmpty(fields map[string]any, key, value string) {
	if value != "" {
		fields[key] = value
	}
}
