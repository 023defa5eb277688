package tools

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"crmvoice-platform/internal/calls"
)

func newTestRecorder() (*Recorder, *MemoryStore, *calls.MemoryStore) {
	store := NewMemoryStore()
	callStore := calls.NewMemoryStore()
	rec := &Recorder{
		Store: store,
		Calls: callStore,
		Now:   func() time.Time { return time.Date(2026, 1, 5, 14, 30, 45, 0, time.UTC) },
	}
	return rec, store, callStore
}

func seedCall(t *testing.T, store *calls.MemoryStore, key string) {
	t.Helper()
	_, _, err := store.Mutate(context.Background(), calls.KeyLookup(key), func(existing map[string]any) (map[string]any, error) {
		return map[string]any{"call_key": key}, nil
	})
	if err != nil {
		t.Fatalf("seed call: %v", err)
	}
}

func TestBookAppointment(t *testing.T) {
	rec, store, callStore := newTestRecorder()
	seedCall(t, callStore, "sess-1")

	resp, err := rec.BookAppointment(context.Background(), map[string]any{
		"tenant_id":       "tenant-abc-123",
		"call_session_id": "sess-1",
		"customer_info":   map[string]any{"name": "Bob", "phone": "+15550001111"},
		"appointment":     map[string]any{"date": "2026-01-07", "time": "10:00 AM", "problem": "flickering lights"},
	})
	if err != nil {
		t.Fatalf("book: %v", err)
	}

	id := resp["appointment_id"].(string)
	if id != "apt_20260105_143045_tenant-a" {
		t.Fatalf("appointment_id = %q", id)
	}
	if resp["status"] != "confirmed" {
		t.Fatalf("status = %v", resp["status"])
	}
	if !strings.Contains(resp["message"].(string), "Bob") {
		t.Fatalf("message = %v", resp["message"])
	}

	record, ok := store.GetRecord(CollectionAppointments, id)
	if !ok {
		t.Fatalf("record not inserted")
	}
	if record["source"] != "ai_voice_call" || record["urgency"] != "normal" {
		t.Fatalf("record wrong: %v", record)
	}

	doc, err := callStore.Get(context.Background(), calls.KeyLookup("sess-1"))
	if err != nil {
		t.Fatalf("call get: %v", err)
	}
	if doc["appointment_id"] != id || doc["appointment_scheduled"] != true {
		t.Fatalf("back-patch missing: %v", doc)
	}
}

func TestBookAppointment_MissingFields(t *testing.T) {
	rec, _, _ := newTestRecorder()
	_, err := rec.BookAppointment(context.Background(), map[string]any{
		"tenant_id": "t", "call_session_id": "s",
	})
	var reqErr *RequestError
	if !errors.As(err, &reqErr) {
		t.Fatalf("err = %v", err)
	}
}

func TestBackPatchFailureIsNonFatal(t *testing.T) {
	rec, store, _ := newTestRecorder()
	// No call document exists; the patch will miss.

	resp, err := rec.BookAppointment(context.Background(), map[string]any{
		"tenant_id":       "tenant-abc-123",
		"call_session_id": "ghost-session",
		"customer_info":   map[string]any{"name": "Ann"},
		"appointment":     map[string]any{"date": "2026-01-07", "time": "2:00 PM"},
	})
	if err != nil {
		t.Fatalf("tool must succeed despite back-patch failure: %v", err)
	}
	if resp["success"] != true {
		t.Fatalf("resp = %v", resp)
	}
	if store.Count(CollectionAppointments) != 1 {
		t.Fatalf("record must persist")
	}
}

func TestSendNotification_Templates(t *testing.T) {
	rec, store, _ := newTestRecorder()

	resp, err := rec.SendNotification(context.Background(), map[string]any{
		"tenant_id":    "tenant-abc-123",
		"phone_number": "+15550001111",
		"message_type": "confirmation",
		"appointment_details": map[string]any{
			"date": "2026-01-07", "time": "10:00 AM",
		},
	})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	id := resp["notification_id"].(string)
	if !strings.HasPrefix(id, "sms_") {
		t.Fatalf("notification_id = %q", id)
	}

	record, _ := store.GetRecord(CollectionNotifications, id)
	content := record["message_content"].(string)
	if !strings.Contains(content, "2026-01-07") || !strings.Contains(content, "Reply STOP") {
		t.Fatalf("content = %q", content)
	}
	if record["status"] != "sent" {
		t.Fatalf("status = %v", record["status"])
	}

	if _, err := rec.SendNotification(context.Background(), map[string]any{
		"tenant_id":    "tenant-abc-123",
		"phone_number": "+15550001111",
		"message_type": "custom",
	}); err == nil {
		t.Fatalf("custom without custom_message must fail")
	}
}

func TestQualifyLead_PersistsAndPatches(t *testing.T) {
	rec, store, callStore := newTestRecorder()
	seedCall(t, callStore, "sess-2")

	resp, err := rec.QualifyLead(context.Background(), map[string]any{
		"tenant_id":       "tenant-abc-123",
		"call_session_id": "sess-2",
		"customer_data":   fullCustomer(),
	})
	if err != nil {
		t.Fatalf("qualify: %v", err)
	}
	if resp["status"] != StatusQualified || resp["score"] != 100 {
		t.Fatalf("resp = %v", resp)
	}

	id := resp["qualification_id"].(string)
	if _, ok := store.GetRecord(CollectionLeadQualifications, id); !ok {
		t.Fatalf("qualification not inserted")
	}

	doc, _ := callStore.Get(context.Background(), calls.KeyLookup("sess-2"))
	if doc["qualified"] != true || doc["qualification_status"] != StatusQualified {
		t.Fatalf("back-patch wrong: %v", doc)
	}
}

func TestCheckAvailability_EmergencySlots(t *testing.T) {
	rec, _, _ := newTestRecorder()

	resp, err := rec.CheckAvailability(context.Background(), map[string]any{
		"tenant_id":       "tenant-abc-123",
		"service_address": map[string]any{"street": "1 Main St"},
		"urgency":         "emergency",
	})
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	slots := resp["available_slots"].([]map[string]any)
	if len(slots) != 2 || resp["total_slots"] != 2 {
		t.Fatalf("emergency slots = %v", slots)
	}
	if slots[0]["slot_type"] != "emergency" || slots[0]["date"] != "2026-01-05" {
		t.Fatalf("slot wrong: %v", slots[0])
	}
	if slots[0]["time"] != "03:30 PM" || slots[1]["time"] != "04:30 PM" {
		t.Fatalf("slot times wrong: %v %v", slots[0]["time"], slots[1]["time"])
	}
}

func TestCheckAvailability_RegularSlots(t *testing.T) {
	rec, _, _ := newTestRecorder()

	resp, err := rec.CheckAvailability(context.Background(), map[string]any{
		"tenant_id":       "tenant-abc-123",
		"service_address": map[string]any{"street": "1 Main St"},
	})
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	slots := resp["available_slots"].([]map[string]any)
	if len(slots) != 6 {
		t.Fatalf("regular slots = %d, want 6", len(slots))
	}
	if slots[0]["date"] != "2026-01-06" || slots[0]["time"] != "10:00 AM" {
		t.Fatalf("first slot wrong: %v", slots[0])
	}
	if slots[5]["date"] != "2026-01-08" || slots[5]["time"] != "2:00 PM" {
		t.Fatalf("last slot wrong: %v", slots[5])
	}
}

func TestCreateServiceTicket_EmergencyPriority(t *testing.T) {
	rec, _, callStore := newTestRecorder()
	seedCall(t, callStore, "sess-3")

	resp, err := rec.CreateServiceTicket(context.Background(), map[string]any{
		"tenant_id":       "tenant-abc-123",
		"call_session_id": "sess-3",
		"customer_data":   map[string]any{"contact": map[string]any{"name": "Bob"}},
		"problem_details": map[string]any{"summary": "burning smell", "urgency": "emergency"},
	})
	if err != nil {
		t.Fatalf("ticket: %v", err)
	}
	if resp["ticket_id"] != "TKT-20260105-TENA-143045" {
		t.Fatalf("ticket_id = %v", resp["ticket_id"])
	}
	if resp["priority"] != "high" {
		t.Fatalf("priority = %v", resp["priority"])
	}

	doc, _ := callStore.Get(context.Background(), calls.KeyLookup("sess-3"))
	if doc["ticket_created"] != true {
		t.Fatalf("back-patch wrong: %v", doc)
	}
}

func TestEstimatePricing_Categorizer(t *testing.T) {
	rec, _, _ := newTestRecorder()

	cases := []struct {
		description string
		category    string
		price       string
	}{
		{"the lights flicker at night", "lighting", "$150-300"},
		{"dead outlet in kitchen", "outlet", "$120-250"},
		{"breaker keeps tripping", "panel", "$800-1500"},
		{"sparks from the wall", "emergency", "$300-600"},
		{"something else entirely", "default", "$200-400"},
	}
	for _, tc := range cases {
		resp, err := rec.EstimatePricing(context.Background(), map[string]any{
			"tenant_id":           "tenant-abc-123",
			"service_type":        "repair",
			"problem_description": tc.description,
		})
		if err != nil {
			t.Fatalf("%s: %v", tc.description, err)
		}
		if resp["category"] != tc.category || resp["price_range"] != tc.price {
			t.Fatalf("%s: got %v/%v, want %s/%s",
				tc.description, resp["category"], resp["price_range"], tc.category, tc.price)
		}
	}
}

func TestEstimatePricing_CommercialRates(t *testing.T) {
	rec, _, _ := newTestRecorder()
	resp, err := rec.EstimatePricing(context.Background(), map[string]any{
		"tenant_id":           "tenant-abc-123",
		"service_type":        "repair",
		"problem_description": "panel upgrade",
		"property_type":       "commercial",
	})
	if err != nil {
		t.Fatalf("estimate: %v", err)
	}
	if resp["price_range"] != "$1200-3000" {
		t.Fatalf("price_range = %v", resp["price_range"])
	}
}

func TestEscalateEmergency(t *testing.T) {
	rec, store, callStore := newTestRecorder()
	seedCall(t, callStore, "sess-4")

	resp, err := rec.EscalateEmergency(context.Background(), map[string]any{
		"tenant_id":         "tenant-abc-123",
		"call_session_id":   "sess-4",
		"customer_data":     map[string]any{"contact": map[string]any{"name": "Bob"}},
		"emergency_details": map[string]any{"description": "live wire down"},
	})
	if err != nil {
		t.Fatalf("escalate: %v", err)
	}
	if resp["emergency_id"] != "EMG-20260105-143045-TENA" {
		t.Fatalf("emergency_id = %v", resp["emergency_id"])
	}
	if resp["priority"] != "CRITICAL" || resp["status"] != "escalated" {
		t.Fatalf("resp = %v", resp)
	}

	record, _ := store.GetRecord(CollectionEmergencyRequests, resp["emergency_id"].(string))
	if record["status"] != "dispatched" {
		t.Fatalf("record status = %v", record["status"])
	}

	doc, _ := callStore.Get(context.Background(), calls.KeyLookup("sess-4"))
	if doc["emergency_escalated"] != true || doc["priority"] != "CRITICAL" {
		t.Fatalf("back-patch wrong: %v", doc)
	}
}

func TestDistinctInvocationsAreDistinctRecords(t *testing.T) {
	rec, store, _ := newTestRecorder()
	times := []time.Time{
		time.Date(2026, 1, 5, 14, 30, 45, 0, time.UTC),
		time.Date(2026, 1, 5, 14, 30, 46, 0, time.UTC),
	}
	i := 0
	rec.Now = func() time.Time { t := times[i]; i++; return t }

	payload := map[string]any{
		"tenant_id":       "tenant-abc-123",
		"call_session_id": "sess-5",
		"customer_info":   map[string]any{"name": "Bob"},
		"appointment":     map[string]any{"date": "2026-01-07", "time": "10:00 AM"},
	}
	if _, err := rec.BookAppointment(context.Background(), payload); err != nil {
		t.Fatalf("first: %v", err)
	}
	if _, err := rec.BookAppointment(context.Background(), payload); err != nil {
		t.Fatalf("second: %v", err)
	}
	if store.Count(CollectionAppointments) != 2 {
		t.Fatalf("count = %d, want 2", store.Count(CollectionAppointments))
	}
}
