package tools

import (
	"fmt"
	"strings"
	"time"
)

// notificationMessage derives the SMS body from the message type.
func notificationMessage(messageType, customMessage string, appointment map[string]any) (string, error) {
	switch messageType {
	case "confirmation":
		if len(appointment) > 0 {
			return fmt.Sprintf(
				"Appointment confirmed for %s at %s. We'll call 30min before arrival. Reply STOP to opt out.",
				asString(appointment["date"]), asString(appointment["time"])), nil
		}
		return "Thank you for calling! We've received your service request and will contact you shortly with scheduling options. Reply STOP to opt out.", nil
	case "reminder":
		return "Reminder: You have an electrical service appointment tomorrow. Our technician will call 30min before arrival. Reply STOP to opt out.", nil
	case "emergency":
		return "EMERGENCY: Your electrical service request has been escalated. Our emergency technician will contact you within 1 hour. If immediate danger, call 911.", nil
	case "custom":
		if customMessage != "" {
			return customMessage, nil
		}
	}
	return "", badRequest("invalid message_type or missing custom_message")
}

// availableSlots synthesizes scheduling slots. Emergencies get same-day
// slots one and two hours out; regular requests get morning and afternoon
// slots for three days starting tomorrow.
//
// TODO: replace with the real scheduling system once its API is exposed.
func availableSlots(urgency string, now time.Time) []map[string]any {
	if urgency == "emergency" {
		return []map[string]any{
			{
				"date":       now.Format("2006-01-02"),
				"time":       now.Add(time.Hour).Format("03:04 PM"),
				"technician": "Emergency Team",
				"slot_type":  "emergency",
			},
			{
				"date":       now.Format("2006-01-02"),
				"time":       now.Add(2 * time.Hour).Format("03:04 PM"),
				"technician": "Emergency Team",
				"slot_type":  "emergency",
			},
		}
	}

	slots := []map[string]any{}
	base := now.AddDate(0, 0, 1)
	for i := 0; i < 3; i++ {
		date := base.AddDate(0, 0, i).Format("2006-01-02")
		team := fmt.Sprintf("Tech Team %d", i+1)
		slots = append(slots,
			map[string]any{"date": date, "time": "10:00 AM", "technician": team, "slot_type": "regular"},
			map[string]any{"date": date, "time": "2:00 PM", "technician": team, "slot_type": "regular"},
		)
	}
	return slots
}

// priceTable maps a problem category and property type to a quoted range.
var priceTable = map[string]map[string]string{
	"lighting":  {"residential": "$150-300", "commercial": "$200-500"},
	"outlet":    {"residential": "$120-250", "commercial": "$180-400"},
	"panel":     {"residential": "$800-1500", "commercial": "$1200-3000"},
	"emergency": {"residential": "$300-600", "commercial": "$400-800"},
	"default":   {"residential": "$200-400", "commercial": "$250-600"},
}

var categoryKeywords = []struct {
	category string
	words    []string
}{
	{"lighting", []string{"light", "fixture", "bulb", "flicker"}},
	{"outlet", []string{"outlet", "switch", "plug"}},
	{"panel", []string{"panel", "breaker", "fuse"}},
	{"emergency", []string{"emergency", "urgent", "burning", "spark"}},
}

// priceEstimate categorizes a problem description by keyword and returns
// the matching price range.
func priceEstimate(description, propertyType string) (category, priceRange string) {
	description = strings.ToLower(description)
	category = "default"
	for _, c := range categoryKeywords {
		for _, w := range c.words {
			if strings.Contains(description, w) {
				category = c.category
				break
			}
		}
		if category != "default" {
			break
		}
	}

	priceRange = priceTable[category][propertyType]
	if priceRange == "" {
		priceRange = "$200-400"
	}
	return category, priceRange
}
