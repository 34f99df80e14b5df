package telephony

import (
	"context"

	"collections-platform/internal/calls"
)

// Provider is the provider-agnostic telephony boundary used by the core.
//
// Rules:
// - No provider SDK/API calls outside telephony adapters.
// - Adapters translate boundary events into calls.Event and make no
//   business decisions.
type Provider interface {
	Name() string

	// Dial places the outbound leg and returns the provider's call ID.
	// It satisfies calls.Dialer.
	Dial(ctx context.Context, req calls.CallRequest) (string, error)

	// Speak plays synthesized audio into a live call. It satisfies
	// conversation.AudioSink.
	Speak(ctx context.Context, providerCallID string, audio []byte) error

	// Hangup tears the call down from our side.
	Hangup(ctx context.Context, providerCallID string) error
}

// statusEvents maps provider status strings onto the core event types.
// Anything unknown maps to nothing and is dropped by the webhook handler.
var statusEvents = map[string]calls.EventType{
	"started":    calls.EventDialAccepted,
	"ringing":    calls.EventRinging,
	"answered":   calls.EventAnswered,
	"completed":  calls.EventHangup,
	"busy":       calls.EventProviderError,
	"cancelled":  calls.EventProviderError,
	"failed":     calls.EventProviderError,
	"rejected":   calls.EventProviderError,
	"timeout":    calls.EventProviderError,
	"unanswered": calls.EventProviderError,
}

// MapStatus converts a provider call status into a core event type.
func MapStatus(status string) (calls.EventType, bool) {
	t, ok := statusEvents[status]
	return t, ok
}
