package main

import (
	"net/http"

	"crmvoice-platform/internal/calls"
	"crmvoice-platform/internal/rbac"
	"crmvoice-platform/internal/telnyx"
	"crmvoice-platform/internal/tools"

	"github.com/gin-gonic/gin"
)

// appDeps collects the handler sets wired up in main. Routes stay free of
// business logic; everything below is registration only.
type appDeps struct {
	telnyxWebhook telnyx.WebhookHandler
	telnyxAPI     telnyx.APIHandlers
	callWebhooks  calls.WebhookHandlers
	callAPI       calls.APIHandlers
	toolHandlers  tools.Handlers
	authMW        gin.HandlerFunc
}

func registerRoutes(r *gin.Engine, d appDeps) {
	r.GET("/", serviceInfo)
	r.GET("/healthz", d.callWebhooks.Health)

	// Webhook surfaces are public: callers authenticate via payload
	// signatures, not bearer tokens.
	webhooks := r.Group("/webhooks")
	{
		tx := webhooks.Group("/telnyx")
		tx.POST("/sms", d.telnyxWebhook.HandleSMS)
		tx.GET("/sms/health", d.telnyxWebhook.Health)
		tx.POST("/status", d.callWebhooks.HandleStatus)

		pc := webhooks.Group("/pipecat")
		pc.POST("/voice", d.callWebhooks.HandleVoice)
		pc.POST("/call", d.callWebhooks.HandleCall)
		pc.GET("/health", d.callWebhooks.Health)

		tl := webhooks.Group("/tools")
		tl.POST("/appointments", d.toolHandlers.Appointments)
		tl.POST("/notifications", d.toolHandlers.Notifications)
		tl.POST("/qualification", d.toolHandlers.Qualification)
		tl.POST("/availability", d.toolHandlers.Availability)
		tl.POST("/tickets", d.toolHandlers.Tickets)
		tl.POST("/pricing", d.toolHandlers.Pricing)
		tl.POST("/emergency", d.toolHandlers.Emergency)
		tl.GET("/health", d.toolHandlers.Health)
	}

	api := r.Group("/api", d.authMW, rbac.RequireTenant())
	{
		api.GET("/calls", d.callAPI.ListCalls)
		api.GET("/calls/:call_id", d.callAPI.GetCall)
		api.DELETE("/calls/:call_id",
			rbac.RequireAnyRole(rbac.RoleOwner, rbac.RoleSuperAdmin),
			d.callAPI.DeleteCall)

		api.GET("/telnyx/messages", d.telnyxAPI.ListMessages)
		api.GET("/telnyx/messages/:message_id", d.telnyxAPI.GetMessage)
		api.GET("/telnyx/events", d.telnyxAPI.ListEvents)
		api.GET("/telnyx/events/:event_id", d.telnyxAPI.GetEvent)
		api.GET("/telnyx/stats", d.telnyxAPI.GetStats)
	}
}

func serviceInfo(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"service": "crmvoice-platform",
		"status":  "running",
		"endpoints": gin.H{
			"webhooks": gin.H{
				"sms":          "/webhooks/telnyx/sms",
				"sms_health":   "/webhooks/telnyx/sms/health",
				"status":       "/webhooks/telnyx/status",
				"voice":        "/webhooks/pipecat/voice",
				"call":         "/webhooks/pipecat/call",
				"voice_health": "/webhooks/pipecat/health",
				"tools":        "/webhooks/tools/{tool}",
				"tools_health": "/webhooks/tools/health",
			},
			"api": gin.H{
				"calls":    "/api/calls",
				"messages": "/api/telnyx/messages",
				"events":   "/api/telnyx/events",
				"stats":    "/api/telnyx/stats",
			},
		},
	})
}
