// Package calls aggregates voice-call webhook deliveries into one growing
// document per physical call. Three webhook shapes feed it: JSON call-state
// payloads from the voice bot, event-stream payloads from the media server,
// and form-encoded carrier status callbacks. All converge on the same
// document through the canonical identity lookup.
package calls

import (
	"context"
	"log/slog"
	"time"
)

const (
	OperationCreated  = "created"
	OperationUpdated  = "updated"
	OperationNoChange = "no_change"
)

// Aggregator applies webhook payloads to the call store. It holds no state
// of its own; concurrency safety comes from Store.Mutate.
type Aggregator struct {
	Store Store
	Log   *slog.Logger

	// Now is injectable for tests; defaults to time.Now.
	Now func() time.Time
}

func (a *Aggregator) now() time.Time {
	if a.Now != nil {
		return a.Now()
	}
	return time.Now()
}

func (a *Aggregator) log() *slog.Logger {
	if a.Log != nil {
		return a.Log
	}
	return slog.Default()
}

// ApplyResult describes the outcome of one call-state payload.
type ApplyResult struct {
	Operation            string
	Identifier           string
	IsFinal              bool
	DataCollectionStatus string
	Doc                  map[string]any
}

// Apply merges one call-state payload into the call document, creating it
// when unseen. Safe to retry: replaying the same payload converges on the
// same document.
func (a *Aggregator) Apply(ctx context.Context, payload map[string]any) (ApplyResult, error) {
	identifier, err := ResolveCallIdentifier(payload)
	if err != nil {
		return ApplyResult{}, err
	}

	cleaned, _ := cleanEmpty(payload).(map[string]any)
	if _, ok := cleaned["call_key"]; !ok {
		cleaned["call_key"] = identifier
	}

	callStatus := stringOr(cleaned["call_status"], "in_progress")
	dataStatus := stringOr(cleaned["data_collection_status"], "in_progress")
	completed, _ := cleaned["call_completed"].(bool)
	isFinal := callStatus == "completed" || callStatus == "disconnected" ||
		dataStatus == "complete" || completed

	wrote := false
	doc, inserted, err := a.Store.Mutate(ctx, SessionLookup(identifier), func(existing map[string]any) (map[string]any, error) {
		if existing == nil {
			seeded := seedCallDoc(identifier, cleaned)
			if isFinal {
				a.finalize(seeded)
			}
			wrote = true
			return seeded, nil
		}

		merged := mergeDoc(existing, cleaned)
		// call_key is immutable once assigned; a payload addressing the
		// call through call_session_id must not rename it.
		if key, ok := existing["call_key"].(string); ok && key != "" {
			merged["call_key"] = key
		}
		if isFinal {
			a.finalize(merged)
		}
		if docsEqual(merged, existing) {
			return nil, nil
		}
		wrote = true
		return merged, nil
	})
	if err != nil {
		return ApplyResult{}, err
	}

	operation := OperationNoChange
	switch {
	case inserted:
		operation = OperationCreated
	case wrote:
		operation = OperationUpdated
	}

	a.log().Info("call payload applied",
		"call_identifier", identifier,
		"operation", operation,
		"call_status", callStatus,
		"is_final", isFinal,
	)

	if isFinal {
		a.handleCompletion(identifier, doc)
	}

	return ApplyResult{
		Operation:            operation,
		Identifier:           identifier,
		IsFinal:              isFinal,
		DataCollectionStatus: dataStatus,
		Doc:                  doc,
	}, nil
}

// seedCallDoc builds a fresh document with every recognized top-level field
// defaulted, then overlays the incoming payload.
func seedCallDoc(identifier string, cleaned map[string]any) map[string]any {
	doc := map[string]any{
		"call_key":               identifier,
		"tenant_id":              "unknown",
		"vertical":               "unknown",
		"lead_status":            "new",
		"qualified":              false,
		"reason_codes":           []any{},
		"contact":                map[string]any{},
		"service_address":        map[string]any{},
		"problem":                map[string]any{},
		"availability":           []any{},
		"consent_sms":            false,
		"opt_out":                false,
		"call_completed":         false,
		"data_collection_status": "in_progress",
		"conversation_log":       []any{},
		"notes":                  "",
	}
	for k, v := range cleaned {
		doc[k] = copyValue(v)
	}
	return doc
}

// finalize stamps the completion fields and marks the lead qualified when
// the merged view carries the four required sub-fields. The timestamp is
// written once, on the first transition into the final state; replays of a
// final payload leave it untouched so they compare equal to the stored
// document.
func (a *Aggregator) finalize(doc map[string]any) {
	doc["call_completed"] = true
	if _, stamped := doc["final_updated_at"]; !stamped {
		doc["final_updated_at"] = a.now().UTC().Format(time.RFC3339Nano)
	}

	contact, _ := doc["contact"].(map[string]any)
	address, _ := doc["service_address"].(map[string]any)
	problem, _ := doc["problem"].(map[string]any)

	hasMinimum := stringOr(contact["name"], "") != "" &&
		stringOr(contact["phone_e164"], "") != "" &&
		stringOr(address["street"], "") != "" &&
		stringOr(problem["summary"], "") != ""
	if hasMinimum {
		doc["qualified"] = true
		doc["lead_status"] = "pending_approval"
	}
}

// handleCompletion is post-processing for finished calls. Failures here are
// never surfaced; the document is already persisted.
func (a *Aggregator) handleCompletion(identifier string, doc map[string]any) {
	qualified, _ := doc["qualified"].(bool)
	if qualified {
		a.log().Info("qualified lead completed", "call_identifier", identifier)
	}

	contact, _ := doc["contact"].(map[string]any)
	problem, _ := doc["problem"].(map[string]any)
	log, _ := doc["conversation_log"].([]any)

	a.log().Info("call completion stats",
		"call_identifier", identifier,
		"customer_name", stringOr(contact["name"], "Unknown"),
		"problem_type", stringOr(problem["category"], "Unknown"),
		"urgency", stringOr(problem["urgency"], "Unknown"),
		"qualified", qualified,
		"data_complete", doc["data_collection_status"] == "complete",
		"conversation_length", len(log),
	)
}

// VoiceResult is the response data for one voice event.
type VoiceResult struct {
	CallID     string
	CallKey    string
	LastStatus string
}

// voice event fields never merged into the document as-is.
var voiceSkipFields = map[string]bool{
	"call_status": true,
	"event_type":  true,
	"timestamp":   true,
	"telnyx":      true,
}

// ApplyVoice records one media-server event: every event appends to the
// events log and refreshes last_status/last_event_type. The first
// "initiated" event additionally captures the call endpoints and carrier
// metadata; later events merge their remaining fields wholesale.
func (a *Aggregator) ApplyVoice(ctx context.Context, payload map[string]any) (VoiceResult, error) {
	callKey, err := ResolveVoiceKey(payload)
	if err != nil {
		return VoiceResult{}, err
	}

	eventType := stringOr(payload["event_type"], "unknown_event")
	callStatus := stringOr(payload["call_status"], "unknown_status")
	nowISO := a.now().UTC().Format(time.RFC3339Nano)

	event := map[string]any{
		"ts":          nowISO,
		"event_type":  eventType,
		"call_status": callStatus,
		"payload":     copyValue(payload),
	}

	doc, inserted, err := a.Store.Mutate(ctx, KeyLookup(callKey), func(existing map[string]any) (map[string]any, error) {
		base := existing
		if base == nil {
			base = map[string]any{"call_key": callKey, "events": []any{}}
		}

		events, _ := base["events"].([]any)
		base["events"] = append(events, event)
		base["last_status"] = callStatus
		base["last_event_type"] = eventType

		if callStatus == "initiated" {
			base["from"] = payload["from"]
			base["to"] = payload["to"]
			base["telnyx_metadata"] = copyValue(payload["telnyx"])
			base["initial_payload"] = copyValue(payload["raw_start_frame"])
		} else {
			for k, v := range payload {
				if !voiceSkipFields[k] {
					base[k] = copyValue(v)
				}
			}
		}
		return base, nil
	})
	if err != nil {
		return VoiceResult{}, err
	}

	if inserted {
		a.log().Info("initiating call record", "call_key", callKey, "event_type", eventType)
	} else {
		a.log().Info("voice event appended", "call_key", callKey, "event_type", eventType)
	}

	id, _ := doc["id"].(string)
	return VoiceResult{
		CallID:     id,
		CallKey:    stringOr(doc["call_key"], callKey),
		LastStatus: stringOr(doc["last_status"], callStatus),
	}, nil
}

// StatusResult is the response data for one carrier status callback.
type StatusResult struct {
	CallSid   string
	EventType string
	Operation string
}

// ApplyStatus records a carrier status callback, upserting by the sid
// lookup. Transcription events push into the transcriptions array instead
// of touching the status fields.
func (a *Aggregator) ApplyStatus(ctx context.Context, u StatusUpdate) (StatusResult, error) {
	_, inserted, err := a.Store.Mutate(ctx, SidLookup(u.CallSid), func(existing map[string]any) (map[string]any, error) {
		base := existing
		if base == nil {
			base = map[string]any{"call_key": u.CallSid, "events": []any{}}
		}

		for k, v := range u.Fields {
			base[k] = v
		}
		events, _ := base["events"].([]any)
		base["events"] = append(events, u.Event)
		if u.Transcription != nil {
			transcriptions, _ := base["transcriptions"].([]any)
			base["transcriptions"] = append(transcriptions, u.Transcription)
		}
		return base, nil
	})
	if err != nil {
		return StatusResult{}, err
	}

	operation := OperationUpdated
	if inserted {
		operation = OperationCreated
		a.log().Info("call record created via status webhook", "call_sid", u.CallSid, "event_type", u.EventType)
	} else {
		a.log().Info("call updated via status webhook", "call_sid", u.CallSid, "event_type", u.EventType)
	}

	return StatusResult{CallSid: u.CallSid, EventType: u.EventType, Operation: operation}, nil
}

func stringOr(v any, fallback string) string {
	if s, ok := v.(string); ok && s != "" {
		return s
	}
	return fallback
}
