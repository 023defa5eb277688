// Package tools records AI-agent tool-call side effects. Each tool
// invocation inserts a fresh record into its own collection (never
// upserted), then back-patches a pointer onto the parent call document.
// The side-effect record is the source of truth; back-patch failures are
// logged, never surfaced.
package tools

const (
	StatusQualified    = "qualified"
	StatusNeedsReview  = "needs_review"
	StatusDisqualified = "disqualified"
)

// ScoreResult is the outcome of scoring one lead.
type ScoreResult struct {
	Score   int      `json:"score"`
	Status  string   `json:"status"`
	Reasons []string `json:"reasons"`
}

// ScoreLead computes the deterministic qualification score from structured
// call data. Pure function; the caller persists the result.
//
// Point budget: contact 30, address 25, problem 25, urgency+availability 20.
func ScoreLead(customer map[string]any) ScoreResult {
	score := 0
	reasons := []string{}

	contact, _ := customer["contact"].(map[string]any)
	if present(contact["name"]) {
		score += 10
	}
	if present(contact["phone_e164"]) {
		score += 20
	} else {
		reasons = append(reasons, "missing_phone")
	}

	address, _ := customer["service_address"].(map[string]any)
	if present(address["street"]) && present(address["zip"]) {
		score += 15
	}
	if inArea, _ := address["in_service_area"].(bool); inArea {
		score += 10
	} else {
		reasons = append(reasons, "out_of_service_area")
	}

	problem, _ := customer["problem"].(map[string]any)
	if present(problem["summary"]) {
		score += 15
	}
	if present(problem["category"]) {
		score += 10
	}

	if urgency, _ := problem["urgency"].(string); urgency == "emergency" || urgency == "urgent" {
		score += 10
	}
	if avail, _ := customer["availability"].([]any); len(avail) > 0 {
		score += 10
	}

	status := StatusDisqualified
	switch {
	case score >= 70:
		status = StatusQualified
	case score >= 50:
		status = StatusNeedsReview
		reasons = append(reasons, "low_score")
	default:
		reasons = append(reasons, "insufficient_information")
	}

	return ScoreResult{Score: score, Status: status, Reasons: reasons}
}

func present(v any) bool {
	s, ok := v.(string)
	return ok && s != ""
}
