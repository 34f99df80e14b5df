package telephony

import (
	"encoding/base64"
	"fmt"
	"time"

	"collections-platform/internal/calls"
	"collections-platform/internal/language"
)

// StatusWebhook is the provider's call status callback payload.
type StatusWebhook struct {
	UUID      string `json:"uuid"`
	Status    string `json:"status"`
	Detail    string `json:"detail,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
}

// Event translates the webhook into a core event. ok=false means the status
// is not one the state machine cares about (e.g. per-leg progress noise) and
// the delivery should be acknowledged and dropped.
func (w StatusWebhook) Event(now time.Time) (calls.Event, bool) {
	t, ok := MapStatus(w.Status)
	if !ok {
		return calls.Event{}, false
	}
	ev := calls.Event{Type: t, OccurredAt: now}
	if ts, err := time.Parse(time.RFC3339, w.Timestamp); err == nil {
		ev.OccurredAt = ts
	}
	if t == calls.EventProviderError {
		reason := w.Detail
		if reason == "" {
			reason = "provider reported " + w.Status
		}
		ev.Reason = reason
	}
	return ev, true
}

// SpeechWebhook carries one finalized utterance segment captured on the call
// leg. Audio is base64 on the wire.
type SpeechWebhook struct {
	UUID       string        `json:"uuid"`
	Audio      string        `json:"audio"`
	DurationMs int           `json:"duration_ms"`
	Language   language.Code `json:"language,omitempty"`
}

func (w SpeechWebhook) Event(now time.Time) (calls.Event, error) {
	if w.UUID == "" {
		return calls.Event{}, fmt.Errorf("telephony: speech webhook missing call uuid")
	}
	raw, err := base64.StdEncoding.DecodeString(w.Audio)
	if err != nil {
		return calls.Event{}, fmt.Errorf("telephony: bad speech audio encoding: %w", err)
	}
	if len(raw) == 0 {
		return calls.Event{}, fmt.Errorf("telephony: empty speech segment")
	}
	return calls.Event{
		Type:       calls.EventSpeechSegment,
		Audio:      raw,
		Duration:   time.Duration(w.DurationMs) * time.Millisecond,
		OccurredAt: now,
	}, nil
}
