package httpapi

import (
	"errors"
	"net/http"
	"time"

	"collections-platform/internal/calls"
	"collections-platform/internal/language"
	"collections-platform/internal/telephony"
	"collections-platform/pkg/logger"

	"github.com/gin-gonic/gin"
)

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call internal services, return JSON.

type Handlers struct {
	Dispatcher *calls.Dispatcher
	Registry   *calls.Registry
	Languages  language.Table
}

// --- Dispatch ---

type bulkRequest struct {
	Calls []calls.CallRequest `json:"calls"`
}

// BulkCalls runs one batch synchronously and returns one entry per request,
// in input order. The response is 200 even when individual calls failed;
// per-call outcomes live in the entries.
func (h Handlers) BulkCalls(c *gin.Context) {
	if h.Dispatcher == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "dispatcher not configured"})
		return
	}
	var req bulkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	res, err := h.Dispatcher.Dispatch(c.Request.Context(), req.Calls)
	if err != nil {
		// Batch-level rejections happen before any call is placed.
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, res)
}

// SingleCall places one call and waits for its terminal outcome.
func (h Handlers) SingleCall(c *gin.Context) {
	if h.Dispatcher == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "dispatcher not configured"})
		return
	}
	var req calls.CallRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if err := req.Validate(h.Languages); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	entry, err := h.Dispatcher.DispatchOne(c.Request.Context(), req)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, entry)
}

// --- Lookups ---

func (h Handlers) GetTranscript(c *gin.Context) {
	callID := c.Param("call_id")
	turns, err := h.Registry.Transcript(callID)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "call not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"call_id": callID, "transcript": turns})
}

// GetAnalysis returns 409 while the call is still running or the analysis is
// in flight, and 404 when no analysis exists for the call.
func (h Handlers) GetAnalysis(c *gin.Context) {
	callID := c.Param("call_id")
	a, err := h.Registry.Analysis(callID)
	switch {
	case errors.Is(err, calls.ErrNotReady):
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": "analysis not ready"})
		return
	case err != nil:
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "no analysis for this call"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"call_id": callID, "analysis": a})
}

func (h Handlers) GetCall(c *gin.Context) {
	s, ok := h.Registry.Get(c.Param("call_id"))
	if !ok {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "call not found"})
		return
	}
	c.JSON(http.StatusOK, s.Snapshot())
}

func (h Handlers) ListCallsByLoan(c *gin.Context) {
	loanRef := c.Param("loan_ref")
	views := h.Registry.ByLoan(loanRef)
	if views == nil {
		views = []calls.View{}
	}
	c.JSON(http.StatusOK, gin.H{"loan_ref": loanRef, "calls": views})
}

// --- Provider webhooks ---

// TelephonyAnswer is fetched by the provider when the borrower picks up. It
// returns the call control document that turns on speech capture; captured
// utterances come back on the speech webhook.
func (h Handlers) TelephonyAnswer(c *gin.Context) {
	c.JSON(http.StatusOK, []gin.H{
		{
			"action": "input",
			"type":   []string{"speech"},
			"speech": gin.H{
				"endOnSilence": 1.5,
				"saveAudio":    true,
			},
		},
	})
}

// TelephonyEvent ingests call status callbacks. Webhooks are acknowledged
// with 200 no matter what; an unroutable or unknown event is logged and
// dropped so the provider stops retrying it.
func (h Handlers) TelephonyEvent(c *gin.Context) {
	log := logger.FromGin(c)
	var w telephony.StatusWebhook
	if err := c.ShouldBindJSON(&w); err != nil {
		log.Warn("unparseable telephony event", "err", err)
		c.JSON(http.StatusOK, gin.H{"status": "ignored"})
		return
	}
	ev, ok := w.Event(time.Now().UTC())
	if !ok {
		log.Debug("telephony status ignored", "status", w.Status, "provider_call_id", w.UUID)
		c.JSON(http.StatusOK, gin.H{"status": "ignored"})
		return
	}
	if !h.Registry.DeliverProvider(w.UUID, ev) {
		log.Warn("telephony event for unknown call", "provider_call_id", w.UUID, "status", w.Status)
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// TelephonySpeech ingests finalized utterance segments.
func (h Handlers) TelephonySpeech(c *gin.Context) {
	log := logger.FromGin(c)
	var w telephony.SpeechWebhook
	if err := c.ShouldBindJSON(&w); err != nil {
		log.Warn("unparseable speech webhook", "err", err)
		c.JSON(http.StatusOK, gin.H{"status": "ignored"})
		return
	}
	ev, err := w.Event(time.Now().UTC())
	if err != nil {
		log.Warn("speech webhook dropped", "err", err)
		c.JSON(http.StatusOK, gin.H{"status": "ignored"})
		return
	}
	if !h.Registry.DeliverProvider(w.UUID, ev) {
		log.Warn("speech segment for unknown call", "provider_call_id", w.UUID)
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
