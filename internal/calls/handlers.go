package calls

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"crmvoice-platform/pkg/logger"

	"github.com/gin-gonic/gin"
)

// WebhookHandlers serves the three call-ingestion endpoints. These paths
// are intentionally unauthenticated: the voice bot and media server cannot
// carry tokens, and the status path predates the signed-webhook scheme.
type WebhookHandlers struct {
	Agg *Aggregator
}

func (h WebhookHandlers) HandleVoice(c *gin.Context) {
	payload, ok := bindJSONObject(c)
	if !ok {
		return
	}

	res, err := h.Agg.ApplyVoice(c.Request.Context(), payload)
	if errors.Is(err, ErrNoIdentifier) {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
			"error": "payload must contain 'telnyx.call_session_id' or 'stream_id' to identify the call",
		})
		return
	}
	if err != nil {
		logger.FromGin(c).Error("voice webhook failed", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "database operation failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"ok":          true,
		"call_id":     res.CallID,
		"call_key":    res.CallKey,
		"last_status": res.LastStatus,
	})
}

func (h WebhookHandlers) HandleCall(c *gin.Context) {
	payload, ok := bindJSONObject(c)
	if !ok {
		return
	}

	res, err := h.Agg.Apply(c.Request.Context(), payload)
	if errors.Is(err, ErrNoIdentifier) {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "call_key or call_session_id is required"})
		return
	}
	if err != nil {
		logger.FromGin(c).Error("call webhook failed", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "database operation failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":                 "success",
		"operation":              res.Operation,
		"call_identifier":        res.Identifier,
		"is_final":               res.IsFinal,
		"data_collection_status": res.DataCollectionStatus,
		"message":                "Call data " + res.Operation + " successfully",
	})
}

func (h WebhookHandlers) HandleStatus(c *gin.Context) {
	log := logger.FromGin(c)
	// This path carries no signature; accepted for carrier compatibility.
	log.Warn("unsigned status webhook accepted", "remote", c.ClientIP())

	if err := c.Request.ParseForm(); err != nil || len(c.Request.PostForm) == 0 {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "request is not form data or is empty"})
		return
	}

	update, err := ParseStatusForm(c.Request.PostForm, time.Now())
	if errors.Is(err, ErrNoIdentifier) {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "missing 'CallSid' or 'call_control_id' in status payload"})
		return
	}

	res, err := h.Agg.ApplyStatus(c.Request.Context(), update)
	if err != nil {
		log.Error("status webhook failed", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "failed to process status webhook"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":    true,
		"call_sid":   res.CallSid,
		"event_type": res.EventType,
		"operation":  res.Operation,
	})
}

func (h WebhookHandlers) Health(c *gin.Context) {
	if err := h.Agg.Store.Ping(c.Request.Context()); err != nil {
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{
			"status": "unhealthy",
			"error":  "database connection failed",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
		"database":  "connected",
	})
}

// APIHandlers is the debug/read surface over aggregated call documents.
type APIHandlers struct {
	Store Store
}

func (h APIHandlers) ListCalls(c *gin.Context) {
	limit := 10
	if v, err := strconv.Atoi(c.Query("limit")); err == nil && v > 0 {
		limit = v
	}
	skip := 0
	if v, err := strconv.Atoi(c.Query("skip")); err == nil && v > 0 {
		skip = v
	}

	docs, total, err := h.Store.List(c.Request.Context(), limit, skip)
	if err != nil {
		logger.FromGin(c).Error("call listing failed", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "listing failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"calls": docs,
		"total": total,
		"limit": limit,
		"skip":  skip,
	})
}

func (h APIHandlers) GetCall(c *gin.Context) {
	doc, err := h.Store.Get(c.Request.Context(), SessionLookup(c.Param("call_id")))
	if errors.Is(err, ErrNotFound) {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "call session not found"})
		return
	}
	if err != nil {
		logger.FromGin(c).Error("call lookup failed", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "lookup failed"})
		return
	}
	c.JSON(http.StatusOK, doc)
}

func (h APIHandlers) DeleteCall(c *gin.Context) {
	id := c.Param("call_id")
	err := h.Store.Delete(c.Request.Context(), SessionLookup(id))
	if errors.Is(err, ErrNotFound) {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "call session not found"})
		return
	}
	if err != nil {
		logger.FromGin(c).Error("call delete failed", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "delete failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"message":       "Call " + id + " deleted successfully",
		"deleted_count": 1,
	})
}

// bindJSONObject reads and parses the request body as a JSON object,
// writing the 400 response itself on failure.
func bindJSONObject(c *gin.Context) (map[string]any, bool) {
	raw, err := c.GetRawData()
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
		return nil, false
	}
	var payload map[string]any
	if err := json.Unmarshal(raw, &payload); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return nil, false
	}
	if len(payload) == 0 {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "empty json payload"})
		return nil, false
	}
	return payload, true
}
