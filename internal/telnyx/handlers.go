package telnyx

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"crmvoice-platform/internal/dedup"
	"crmvoice-platform/internal/signature"
	"crmvoice-platform/pkg/logger"

	"github.com/gin-gonic/gin"
)

// WebhookHandler receives Telnyx messaging webhooks (SMS/MMS API v2):
// verify signature, normalize, upsert the raw event and the aggregate
// message row. Unverified requests are rejected before anything persists.
type WebhookHandler struct {
	Signature signature.Config
	Store     Store

	// Dedup is optional; it only marks replayed deliveries for
	// observability, never gates processing.
	Dedup *dedup.Filter

	Now func() time.Time
}

func (h WebhookHandler) HandleSMS(c *gin.Context) {
	log := logger.FromGin(c)
	now := time.Now
	if h.Now != nil {
		now = h.Now
	}

	// Raw bytes first; the signature covers them exactly as sent.
	rawBody, err := c.GetRawData()
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
		return
	}

	var event map[string]any
	if err := json.Unmarshal(rawBody, &event); err != nil {
		log.Warn("sms webhook body is not valid json", "err", err)
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}

	outcome := signature.Verify(h.Signature, c.Request.Header, rawBody)
	if !outcome.Verified {
		log.Warn("sms webhook signature verification failed")
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid signature"})
		return
	}

	processedAt := now().UTC()
	normalized := Normalize(event, processedAt)

	if normalized.EventID == "" {
		log.Warn("sms webhook missing event id")
	}
	if normalized.MessageID == "" {
		log.Warn("sms webhook missing message id")
	}

	if h.Dedup != nil && normalized.EventID != "" {
		if isNew, err := h.Dedup.IsNew(c.Request.Context(), normalized.EventID); err != nil {
			log.Warn("dedup check failed, proceeding", "err", err)
		} else if !isNew {
			log.Info("duplicate webhook delivery", "event_id", normalized.EventID)
		}
	}

	if normalized.EventID != "" {
		if err := h.Store.UpsertEvent(c.Request.Context(), normalized, outcome.Method, processedAt); err != nil {
			log.Error("event upsert failed", "event_id", normalized.EventID, "err", err)
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "processing failed"})
			return
		}
	}

	if normalized.MessageID != "" {
		if err := h.Store.UpsertMessage(c.Request.Context(), normalized, outcome.Method, processedAt); err != nil {
			log.Error("message upsert failed", "message_id", normalized.MessageID, "err", err)
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "processing failed"})
			return
		}
	}

	// Respond quickly; Telnyx retries anything non-2xx.
	c.JSON(http.StatusOK, gin.H{
		"ok":                  true,
		"event_id":            normalized.EventID,
		"message_id":          normalized.MessageID,
		"verification_method": outcome.Method,
		"processed_at":        processedAt.Format(time.RFC3339Nano),
	})
}

func (h WebhookHandler) Health(c *gin.Context) {
	if err := h.Store.Ping(c.Request.Context()); err != nil {
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "service unhealthy"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"ok":      true,
		"ts":      time.Now().UTC().Format(time.RFC3339Nano),
		"service": "telnyx-sms-webhook",
	})
}

// APIHandlers serves the read/query surface over ingested messages and
// events. These endpoints sit behind access-token auth.
type APIHandlers struct {
	Store Store
	Dedup *dedup.Filter
}

func (h APIHandlers) ListMessages(c *gin.Context) {
	limit, skip := pagination(c)
	f := MessageFilter{
		Direction: c.Query("direction"),
		Status:    c.Query("status"),
		From:      c.Query("from"),
		To:        c.Query("to"),
		Type:      c.Query("type"),
		Limit:     limit,
		Skip:      skip,
	}

	messages, total, err := h.Store.ListMessages(c.Request.Context(), f)
	if err != nil {
		logger.FromGin(c).Error("message listing failed", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "listing failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"messages": messages,
		"pagination": gin.H{
			"total":    total,
			"limit":    limit,
			"skip":     skip,
			"has_more": int64(skip+limit) < total,
		},
		"filters": gin.H{
			"direction": f.Direction,
			"status":    f.Status,
			"from":      f.From,
			"to":        f.To,
			"type":      f.Type,
		},
	})
}

func (h APIHandlers) GetMessage(c *gin.Context) {
	msg, err := h.Store.GetMessage(c.Request.Context(), c.Param("message_id"))
	if errors.Is(err, ErrNotFound) {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "message not found"})
		return
	}
	if err != nil {
		logger.FromGin(c).Error("message lookup failed", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "lookup failed"})
		return
	}
	c.JSON(http.StatusOK, msg)
}

func (h APIHandlers) ListEvents(c *gin.Context) {
	limit, skip := pagination(c)
	f := EventFilter{EventType: c.Query("event_type"), Limit: limit, Skip: skip}

	events, total, err := h.Store.ListEvents(c.Request.Context(), f)
	if err != nil {
		logger.FromGin(c).Error("event listing failed", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "listing failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"events": events,
		"pagination": gin.H{
			"total":    total,
			"limit":    limit,
			"skip":     skip,
			"has_more": int64(skip+limit) < total,
		},
	})
}

func (h APIHandlers) GetEvent(c *gin.Context) {
	ev, err := h.Store.GetEvent(c.Request.Context(), c.Param("event_id"))
	if errors.Is(err, ErrNotFound) {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "event not found"})
		return
	}
	if err != nil {
		logger.FromGin(c).Error("event lookup failed", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "lookup failed"})
		return
	}
	c.JSON(http.StatusOK, ev)
}

func (h APIHandlers) GetStats(c *gin.Context) {
	st, err := h.Store.Stats(c.Request.Context())
	if err != nil {
		logger.FromGin(c).Error("stats query failed", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "stats failed"})
		return
	}

	var replays int64
	if h.Dedup != nil {
		if n, err := h.Dedup.ReplayCount(c.Request.Context()); err == nil {
			replays = n
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"message_stats": st.Messages,
		"event_types":   st.EventTypes,
		"recent_activity": gin.H{
			"last_24h_messages": st.Last24hMessages,
			"timestamp":         time.Now().UTC().Format(time.RFC3339Nano),
		},
		"replayed_deliveries": replays,
	})
}

func pagination(c *gin.Context) (limit, skip int) {
	limit = 50
	if v, err := strconv.Atoi(c.Query("limit")); err == nil && v > 0 {
		limit = v
	}
	if limit > 1000 {
		limit = 1000
	}
	if v, err := strconv.Atoi(c.Query("skip")); err == nil && v > 0 {
		skip = v
	}
	return limit, skip
}
