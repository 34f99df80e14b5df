package main

import (
	"collections-platform/internal/calls"
	"collections-platform/internal/httpapi"
	"collections-platform/internal/language"

	"github.com/gin-gonic/gin"
)

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers should delegate to internal modules.
func registerRoutes(r *gin.Engine, dispatcher *calls.Dispatcher, registry *calls.Registry, languages language.Table) {
	h := httpapi.Handlers{
		Dispatcher: dispatcher,
		Registry:   registry,
		Languages:  languages,
	}

	// public
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	// Provider webhooks (public).
	// NOTE: These should be protected by provider signature validation in production.
	webhooks := r.Group("/webhooks/telephony")
	{
		webhooks.GET("/answer", h.TelephonyAnswer)
		webhooks.POST("/answer", h.TelephonyAnswer)
		webhooks.POST("/event", h.TelephonyEvent)
		webhooks.POST("/speech", h.TelephonySpeech)
	}

	v1 := r.Group("/v1")
	{
		callsGroup := v1.Group("/calls")
		{
			callsGroup.POST("", h.SingleCall)
			callsGroup.POST("/bulk", h.BulkCalls)
			callsGroup.GET("/:call_id", h.GetCall)
			callsGroup.GET("/:call_id/transcript", h.GetTranscript)
			callsGroup.GET("/:call_id/analysis", h.GetAnalysis)
		}
		v1.GET("/loans/:loan_ref/calls", h.ListCallsByLoan)
	}
}
