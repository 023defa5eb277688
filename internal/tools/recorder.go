package tools

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// RequestError marks a client-side validation failure; handlers map it to
// a 400 response.
type RequestError struct {
	Message string
}

func (e *RequestError) Error() string { return e.Message }

func badRequest(format string, args ...any) error {
	return &RequestError{Message: fmt.Sprintf(format, args...)}
}

// CallPatcher back-patches pointer fields onto the parent call document.
// Satisfied by the calls store.
type CallPatcher interface {
	Patch(ctx context.Context, identifier string, fields map[string]any) error
}

// Recorder handles tool-call webhooks: validate, insert the side-effect
// record, back-patch the parent call. It returns the response body for the
// agent; all derived values (messages, slots, prices) are computed here.
type Recorder struct {
	Store Store
	Calls CallPatcher
	Log   *slog.Logger

	Now func() time.Time
}

func (r *Recorder) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}

func (r *Recorder) log() *slog.Logger {
	if r.Log != nil {
		return r.Log
	}
	return slog.Default()
}

// patchCall links a side-effect record back to its call. Non-fatal: the
// inserted record is authoritative even when the call document is missing.
func (r *Recorder) patchCall(ctx context.Context, callSessionID string, fields map[string]any) {
	if r.Calls == nil || callSessionID == "" {
		return
	}
	if err := r.Calls.Patch(ctx, callSessionID, fields); err != nil {
		r.log().Warn("call back-patch failed", "call_session_id", callSessionID, "err", err)
	}
}

// BookAppointment handles set_appointment tool calls.
func (r *Recorder) BookAppointment(ctx context.Context, payload map[string]any) (map[string]any, error) {
	tenantID := asString(payload["tenant_id"])
	callSessionID := asString(payload["call_session_id"])
	customer, _ := payload["customer_info"].(map[string]any)
	appointment, _ := payload["appointment"].(map[string]any)

	if tenantID == "" || callSessionID == "" || len(customer) == 0 || len(appointment) == 0 {
		return nil, badRequest("missing required fields: tenant_id, call_session_id, customer_info, appointment")
	}

	now := r.now()
	id := recordID("apt", now, tenantID)
	record := map[string]any{
		"appointment_id":      id,
		"tenant_id":           tenantID,
		"call_session_id":     callSessionID,
		"customer_name":       customer["name"],
		"customer_phone":      customer["phone"],
		"service_address":     customer["service_address"],
		"appointment_date":    appointment["date"],
		"appointment_time":    appointment["time"],
		"problem_description": appointment["problem"],
		"urgency":             stringDefault(appointment["urgency"], "normal"),
		"status":              "confirmed",
		"source":              "ai_voice_call",
	}
	if err := r.Store.Insert(ctx, CollectionAppointments, id, record); err != nil {
		return nil, err
	}
	r.log().Info("appointment created", "appointment_id", id, "tenant_id", tenantID)

	r.patchCall(ctx, callSessionID, map[string]any{
		"appointment_id":        id,
		"appointment_scheduled": true,
	})

	return map[string]any{
		"success":        true,
		"appointment_id": id,
		"status":         "confirmed",
		"message": fmt.Sprintf("Appointment scheduled for %s on %s at %s",
			asString(customer["name"]), asString(appointment["date"]), asString(appointment["time"])),
	}, nil
}

// SendNotification handles send_notification tool calls. The message body
// is derived from the message type; delivery is recorded as sent once the
// record persists.
func (r *Recorder) SendNotification(ctx context.Context, payload map[string]any) (map[string]any, error) {
	phone := asString(payload["phone_number"])
	messageType := asString(payload["message_type"])
	tenantID := asString(payload["tenant_id"])
	callSessionID := asString(payload["call_session_id"])

	if phone == "" || messageType == "" || tenantID == "" {
		return nil, badRequest("missing required fields: phone_number, message_type, tenant_id")
	}

	details, _ := payload["appointment_details"].(map[string]any)
	content, err := notificationMessage(messageType, asString(payload["custom_message"]), details)
	if err != nil {
		return nil, err
	}

	now := r.now()
	id := recordID("sms", now, tenantID)
	record := map[string]any{
		"notification_id": id,
		"tenant_id":       tenantID,
		"call_session_id": callSessionID,
		"phone_number":    phone,
		"message_type":    messageType,
		"message_content": content,
		"status":          "queued",
		"scheduled_for":   now.UTC().Format(time.RFC3339Nano),
	}
	if err := r.Store.Insert(ctx, CollectionNotifications, id, record); err != nil {
		return nil, err
	}
	r.log().Info("notification queued", "notification_id", id, "phone_number", phone)

	// Delivery through the SMS provider happens out of band; the record
	// flips to sent once handed off.
	if err := r.Store.UpdateFields(ctx, CollectionNotifications, id, map[string]any{
		"status":  "sent",
		"sent_at": now.UTC().Format(time.RFC3339Nano),
	}); err != nil {
		r.log().Warn("notification status update failed", "notification_id", id, "err", err)
	}

	return map[string]any{
		"success":         true,
		"notification_id": id,
		"status":          "sent",
		"message":         "Notification sent to " + phone,
	}, nil
}

// QualifyLead handles qualify_lead tool calls.
func (r *Recorder) QualifyLead(ctx context.Context, payload map[string]any) (map[string]any, error) {
	customer, _ := payload["customer_data"].(map[string]any)
	tenantID := asString(payload["tenant_id"])
	callSessionID := asString(payload["call_session_id"])

	if len(customer) == 0 || tenantID == "" || callSessionID == "" {
		return nil, badRequest("missing required fields: customer_data, tenant_id, call_session_id")
	}

	result := ScoreLead(customer)

	now := r.now()
	id := recordID("qual", now, tenantID)
	record := map[string]any{
		"qualification_id":       id,
		"tenant_id":              tenantID,
		"call_session_id":        callSessionID,
		"customer_data":          customer,
		"qualification_criteria": payload["qualification_criteria"],
		"score":                  result.Score,
		"status":                 result.Status,
		"reasons":                result.Reasons,
		"qualified_at":           now.UTC().Format(time.RFC3339Nano),
	}
	if err := r.Store.Insert(ctx, CollectionLeadQualifications, id, record); err != nil {
		return nil, err
	}
	r.log().Info("lead qualification completed",
		"qualification_id", id, "status", result.Status, "score", result.Score)

	r.patchCall(ctx, callSessionID, map[string]any{
		"qualification_id":     id,
		"qualification_score":  result.Score,
		"qualification_status": result.Status,
		"qualified":            result.Status == StatusQualified,
	})

	return map[string]any{
		"success":          true,
		"qualification_id": id,
		"score":            result.Score,
		"status":           result.Status,
		"reasons":          result.Reasons,
	}, nil
}

// CheckAvailability handles check_availability tool calls.
func (r *Recorder) CheckAvailability(ctx context.Context, payload map[string]any) (map[string]any, error) {
	tenantID := asString(payload["tenant_id"])
	if isMissing(payload["service_address"]) || tenantID == "" {
		return nil, badRequest("missing required fields: service_address, tenant_id")
	}

	urgency := stringDefault(payload["urgency"], "normal")
	now := r.now()
	slots := availableSlots(urgency, now)

	id := recordID("avail", now, tenantID)
	record := map[string]any{
		"check_id":        id,
		"tenant_id":       tenantID,
		"call_session_id": payload["call_session_id"],
		"service_address": payload["service_address"],
		"preferred_dates": payload["preferred_dates"],
		"urgency":         urgency,
		"available_slots": slots,
		"checked_at":      now.UTC().Format(time.RFC3339Nano),
	}
	if err := r.Store.Insert(ctx, CollectionAvailabilityChecks, id, record); err != nil {
		return nil, err
	}
	r.log().Info("availability check completed", "check_id", id, "slots", len(slots))

	return map[string]any{
		"success":         true,
		"available_slots": slots,
		"total_slots":     len(slots),
		"urgency_level":   urgency,
	}, nil
}

// CreateServiceTicket handles create_service_ticket tool calls.
func (r *Recorder) CreateServiceTicket(ctx context.Context, payload map[string]any) (map[string]any, error) {
	customer, _ := payload["customer_data"].(map[string]any)
	problem, _ := payload["problem_details"].(map[string]any)
	tenantID := asString(payload["tenant_id"])
	callSessionID := asString(payload["call_session_id"])

	if len(customer) == 0 || len(problem) == 0 || tenantID == "" || callSessionID == "" {
		return nil, badRequest("missing required fields: customer_data, problem_details, tenant_id, call_session_id")
	}

	now := r.now()
	id := ticketID(now, tenantID)
	priority := "normal"
	if asString(problem["urgency"]) == "emergency" {
		priority = "high"
	}
	record := map[string]any{
		"ticket_id":           id,
		"tenant_id":           tenantID,
		"call_session_id":     callSessionID,
		"customer_info":       customer["contact"],
		"service_address":     customer["service_address"],
		"problem_description": stringDefault(problem["summary"], ""),
		"problem_category":    stringDefault(problem["category"], "other electrical"),
		"urgency":             stringDefault(problem["urgency"], "normal"),
		"property_type":       stringDefault(problem["property_type"], "residential"),
		"source":              "ai_voice_call",
		"status":              "open",
		"priority":            priority,
		"assigned_to":         nil,
	}
	if err := r.Store.Insert(ctx, CollectionServiceTickets, id, record); err != nil {
		return nil, err
	}
	r.log().Info("service ticket created", "ticket_id", id)

	r.patchCall(ctx, callSessionID, map[string]any{
		"service_ticket_id": id,
		"ticket_created":    true,
	})

	return map[string]any{
		"success":   true,
		"ticket_id": id,
		"status":    "created",
		"priority":  priority,
	}, nil
}

// EstimatePricing handles get_pricing_estimate tool calls.
func (r *Recorder) EstimatePricing(ctx context.Context, payload map[string]any) (map[string]any, error) {
	serviceType := asString(payload["service_type"])
	tenantID := asString(payload["tenant_id"])
	if serviceType == "" || tenantID == "" {
		return nil, badRequest("missing required fields: service_type, tenant_id")
	}

	description := asString(payload["problem_description"])
	propertyType := stringDefault(payload["property_type"], "residential")
	category, priceRange := priceEstimate(description, propertyType)

	now := r.now()
	id := recordID("price", now, tenantID)
	record := map[string]any{
		"pricing_id":          id,
		"tenant_id":           tenantID,
		"call_session_id":     payload["call_session_id"],
		"service_type":        serviceType,
		"problem_description": description,
		"property_type":       propertyType,
		"category":            category,
		"price_range":         priceRange,
		"requested_at":        now.UTC().Format(time.RFC3339Nano),
	}
	if err := r.Store.Insert(ctx, CollectionPricingRequests, id, record); err != nil {
		return nil, err
	}
	r.log().Info("pricing estimate provided", "pricing_id", id, "category", category, "price_range", priceRange)

	return map[string]any{
		"success":       true,
		"price_range":   priceRange,
		"category":      category,
		"property_type": propertyType,
		"disclaimer":    "Final pricing subject to technician inspection",
	}, nil
}

// EscalateEmergency handles handle_emergency tool calls.
func (r *Recorder) EscalateEmergency(ctx context.Context, payload map[string]any) (map[string]any, error) {
	customer, _ := payload["customer_data"].(map[string]any)
	details, _ := payload["emergency_details"].(map[string]any)
	tenantID := asString(payload["tenant_id"])
	callSessionID := asString(payload["call_session_id"])

	if len(customer) == 0 || len(details) == 0 || tenantID == "" || callSessionID == "" {
		return nil, badRequest("missing required fields: customer_data, emergency_details, tenant_id, call_session_id")
	}

	now := r.now()
	id := emergencyID(now, tenantID)
	record := map[string]any{
		"emergency_id":       id,
		"tenant_id":          tenantID,
		"call_session_id":    callSessionID,
		"customer_data":      customer,
		"emergency_details":  details,
		"priority":           "CRITICAL",
		"status":             "dispatched",
		"estimated_response": "30 minutes",
		"escalated_at":       now.UTC().Format(time.RFC3339Nano),
	}
	if err := r.Store.Insert(ctx, CollectionEmergencyRequests, id, record); err != nil {
		return nil, err
	}
	r.log().Info("emergency escalated", "emergency_id", id)

	r.patchCall(ctx, callSessionID, map[string]any{
		"emergency_id":        id,
		"emergency_escalated": true,
		"priority":            "CRITICAL",
	})

	return map[string]any{
		"success":            true,
		"emergency_id":       id,
		"status":             "escalated",
		"estimated_response": "30 minutes",
		"priority":           "CRITICAL",
	}, nil
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

func stringDefault(v any, fallback string) string {
	if s, ok := v.(string); ok && s != "" {
		return s
	}
	return fallback
}

func isMissing(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return t == ""
	case map[string]any:
		return len(t) == 0
	default:
		return false
	}
}
