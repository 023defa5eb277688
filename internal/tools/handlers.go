package tools

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"crmvoice-platform/pkg/logger"

	"github.com/gin-gonic/gin"
)

// Handlers exposes the tool-call webhook endpoints.
type Handlers struct {
	Recorder *Recorder
}

func (h Handlers) Appointments(c *gin.Context)  { h.serve(c, h.Recorder.BookAppointment) }
func (h Handlers) Notifications(c *gin.Context) { h.serve(c, h.Recorder.SendNotification) }
func (h Handlers) Qualification(c *gin.Context) { h.serve(c, h.Recorder.QualifyLead) }
func (h Handlers) Availability(c *gin.Context)  { h.serve(c, h.Recorder.CheckAvailability) }
func (h Handlers) Tickets(c *gin.Context)       { h.serve(c, h.Recorder.CreateServiceTicket) }
func (h Handlers) Pricing(c *gin.Context)       { h.serve(c, h.Recorder.EstimatePricing) }
func (h Handlers) Emergency(c *gin.Context)     { h.serve(c, h.Recorder.EscalateEmergency) }

type toolFunc func(ctx context.Context, payload map[string]any) (map[string]any, error)

func (h Handlers) serve(c *gin.Context, fn toolFunc) {
	raw, err := c.GetRawData()
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
		return
	}
	var payload map[string]any
	if err := json.Unmarshal(raw, &payload); err != nil || len(payload) == 0 {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "empty or invalid json payload"})
		return
	}

	resp, err := fn(c.Request.Context(), payload)
	var reqErr *RequestError
	if errors.As(err, &reqErr) {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": reqErr.Message})
		return
	}
	if err != nil {
		logger.FromGin(c).Error("tool call failed", "path", c.FullPath(), "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "tool processing failed"})
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h Handlers) Health(c *gin.Context) {
	if err := h.Recorder.Store.Ping(c.Request.Context()); err != nil {
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{
			"status": "unhealthy",
			"error":  "database connection failed",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"service":   "tools_webhook",
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
		"database":  "connected",
		"available_tools": []string{
			"appointments", "notifications", "qualification",
			"availability", "tickets", "pricing", "emergency",
		},
	})
}
