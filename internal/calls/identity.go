package calls

import "errors"

// ErrNoIdentifier means a webhook payload carried nothing that could name
// the call it belongs to.
var ErrNoIdentifier = errors.New("calls: no call identifier in payload")

// Lookup is the canonical call-identity resolution: one identifier plus the
// document fields it is matched against, in addition to call_key. The
// call_key match always wins when several documents qualify.
//
// Historically the same call was addressed through several field names
// (call_sid, call_session_id, telnyx_metadata.call_control_id); building
// every lookup here keeps that knowledge in one place.
type Lookup struct {
	Identifier string
	// DocFields are dotted JSON paths inside the document to match the
	// identifier against.
	DocFields []string
}

// KeyLookup matches against call_key only. Used by the voice event path,
// whose key is already canonical.
func KeyLookup(callKey string) Lookup {
	return Lookup{Identifier: callKey}
}

// SessionLookup matches call_key or the stored call_session_id. Used by the
// call-state path and the read/delete APIs.
func SessionLookup(id string) Lookup {
	return Lookup{Identifier: id, DocFields: []string{"call_session_id"}}
}

// SidLookup matches the carrier-status identifiers: the call-control id
// recorded at initiation, the call_sid a previous status webhook stored, or
// call_key as a last resort.
func SidLookup(callSid string) Lookup {
	return Lookup{Identifier: callSid, DocFields: []string{
		"telnyx_metadata.call_control_id",
		"call_sid",
	}}
}

// ResolveVoiceKey extracts the durable call key from a voice event payload:
// call_session_id is preferred, stream_id is the fallback. Both may live
// under telnyx or under raw_start_frame.start.
func ResolveVoiceKey(payload map[string]any) (string, error) {
	telnyx, _ := payload["telnyx"].(map[string]any)
	frame, _ := payload["raw_start_frame"].(map[string]any)
	start, _ := frame["start"].(map[string]any)

	sessionID := firstString(telnyx["call_session_id"], start["call_session_id"])
	streamID := firstString(telnyx["stream_id"], start["stream_id"])

	if sessionID != "" {
		return sessionID, nil
	}
	if streamID != "" {
		return streamID, nil
	}
	return "", ErrNoIdentifier
}

// ResolveCallIdentifier extracts the identifier from a call-state payload:
// call_key wins over call_session_id.
func ResolveCallIdentifier(payload map[string]any) (string, error) {
	if id := firstString(payload["call_key"], payload["call_session_id"]); id != "" {
		return id, nil
	}
	return "", ErrNoIdentifier
}

func firstString(vals ...any) string {
	for _, v := range vals {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	return ""
}
