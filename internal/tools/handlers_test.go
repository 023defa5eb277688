package tools

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newToolsRouter() (*gin.Engine, *MemoryStore) {
	rec, store, _ := newTestRecorder()
	h := Handlers{Recorder: rec}

	r := gin.New()
	grp := r.Group("/webhooks/tools")
	grp.POST("/appointments", h.Appointments)
	grp.POST("/notifications", h.Notifications)
	grp.POST("/qualification", h.Qualification)
	grp.POST("/availability", h.Availability)
	grp.POST("/tickets", h.Tickets)
	grp.POST("/pricing", h.Pricing)
	grp.POST("/emergency", h.Emergency)
	grp.GET("/health", h.Health)
	return r, store
}

func TestToolEndpoints_HappyPath(t *testing.T) {
	r, store := newToolsRouter()

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/webhooks/tools/qualification", strings.NewReader(`{
		"tenant_id": "tenant-abc-123",
		"call_session_id": "sess-1",
		"customer_data": {
			"contact": {"name": "Bob", "phone_e164": "+15550001111"},
			"service_address": {"street": "1 Main St", "zip": "78701", "in_service_area": true},
			"problem": {"summary": "sparks", "category": "panel", "urgency": "emergency"},
			"availability": ["tomorrow"]
		}
	}`))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	var resp map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp["success"] != true || resp["status"] != StatusQualified {
		t.Fatalf("resp = %v", resp)
	}
	if store.Count(CollectionLeadQualifications) != 1 {
		t.Fatalf("qualification not persisted")
	}
}

func TestToolEndpoints_ValidationError(t *testing.T) {
	r, _ := newToolsRouter()

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/webhooks/tools/appointments", strings.NewReader(`{"tenant_id": "t"}`))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", w.Code)
	}
}

func TestToolEndpoints_EmptyBody(t *testing.T) {
	r, _ := newToolsRouter()

	for _, body := range []string{"", "{}", "garbage"} {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/webhooks/tools/pricing", strings.NewReader(body))
		r.ServeHTTP(w, req)
		if w.Code != http.StatusBadRequest {
			t.Fatalf("body %q: status = %d", body, w.Code)
		}
	}
}

func TestToolsHealth(t *testing.T) {
	r, _ := newToolsRouter()

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/webhooks/tools/health", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var resp map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp["available_tools"].([]any)) != 7 {
		t.Fatalf("available_tools = %v", resp["available_tools"])
	}
}
