package calls

import (
	"reflect"
	"testing"
)

func TestMergeDoc_NestedNonEmptyGuard(t *testing.T) {
	existing := map[string]any{
		"contact": map[string]any{"name": "Bob", "phone_e164": "+15550001111"},
	}
	incoming := map[string]any{
		"contact": map[string]any{"name": "", "email": "bob@example.com"},
	}

	out := mergeDoc(existing, incoming)
	contact := out["contact"].(map[string]any)
	if contact["name"] != "Bob" {
		t.Fatalf("empty incoming value must not blank existing data: %v", contact)
	}
	if contact["email"] != "bob@example.com" || contact["phone_e164"] != "+15550001111" {
		t.Fatalf("nested merge wrong: %v", contact)
	}
}

func TestMergeDoc_ConversationLogDedupByTimestamp(t *testing.T) {
	existing := map[string]any{
		"conversation_log": []any{
			map[string]any{"timestamp": "t1", "text": "hello"},
		},
	}
	incoming := map[string]any{
		"conversation_log": []any{
			map[string]any{"timestamp": "t1", "text": "hello edited"},
			map[string]any{"timestamp": "t2", "text": "bye"},
		},
	}

	out := mergeDoc(existing, incoming)
	log := out["conversation_log"].([]any)
	if len(log) != 2 {
		t.Fatalf("log length = %d, want 2", len(log))
	}
	first := log[0].(map[string]any)
	if first["text"] != "hello" {
		t.Fatalf("existing entry must win on timestamp collision: %v", first)
	}
}

func TestMergeDoc_AvailabilityReplace(t *testing.T) {
	existing := map[string]any{"availability": []any{"mon", "tue"}}

	out := mergeDoc(existing, map[string]any{"availability": []any{"wed"}})
	if !reflect.DeepEqual(out["availability"], []any{"wed"}) {
		t.Fatalf("non-empty availability must replace: %v", out["availability"])
	}

	out = mergeDoc(existing, map[string]any{"availability": []any{}})
	if !reflect.DeepEqual(out["availability"], []any{"mon", "tue"}) {
		t.Fatalf("empty availability must not replace: %v", out["availability"])
	}
}

func TestMergeDoc_ReasonCodesUnion(t *testing.T) {
	existing := map[string]any{"reason_codes": []any{"a", "b"}}
	out := mergeDoc(existing, map[string]any{"reason_codes": []any{"b", "c"}})

	if !reflect.DeepEqual(out["reason_codes"], []any{"a", "b", "c"}) {
		t.Fatalf("union wrong: %v", out["reason_codes"])
	}
}

func TestMergeDoc_ScalarNonEmptyOnly(t *testing.T) {
	existing := map[string]any{"notes": "keep me", "lead_status": "new"}
	out := mergeDoc(existing, map[string]any{
		"notes":       "",
		"lead_status": "qualified",
		"opt_out":     false,
	})

	if out["notes"] != "keep me" {
		t.Fatalf("empty string must not overwrite: %v", out["notes"])
	}
	if out["lead_status"] != "qualified" {
		t.Fatalf("non-empty scalar must overwrite: %v", out["lead_status"])
	}
	if out["opt_out"] != false {
		t.Fatalf("false is meaningful and must be set: %v", out["opt_out"])
	}
}

func TestMergeDoc_DoesNotMutateInputs(t *testing.T) {
	existing := map[string]any{"contact": map[string]any{"name": "Bob"}}
	incoming := map[string]any{"contact": map[string]any{"email": "b@x.com"}}

	_ = mergeDoc(existing, incoming)
	if len(existing["contact"].(map[string]any)) != 1 {
		t.Fatalf("existing mutated: %v", existing)
	}
	if len(incoming["contact"].(map[string]any)) != 1 {
		t.Fatalf("incoming mutated: %v", incoming)
	}
}

func TestCleanEmpty(t *testing.T) {
	in := map[string]any{
		"name":    "Bob",
		"empty":   "",
		"null":    nil,
		"zero":    float64(0),
		"no":      false,
		"nested":  map[string]any{"a": nil, "b": ""},
		"partial": map[string]any{"keep": "x", "drop": nil},
		"list":    []any{"x", "", nil, map[string]any{}},
	}

	out := cleanEmpty(in).(map[string]any)
	want := map[string]any{
		"name":    "Bob",
		"zero":    float64(0),
		"no":      false,
		"partial": map[string]any{"keep": "x"},
		"list":    []any{"x"},
	}
	if !reflect.DeepEqual(out, want) {
		t.Fatalf("cleanEmpty = %v, want %v", out, want)
	}
}
