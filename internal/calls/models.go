package calls

import (
	"errors"
	"fmt"
	"time"

	"collections-platform/internal/language"
)

// CallRequest is one borrower to dial. Immutable once submitted.
type CallRequest struct {
	BorrowerID string `json:"borrower_id"`
	// LoanRef is the borrower's loan reference; lookups by borrower key on it.
	LoanRef string `json:"loan_ref,omitempty"`
	// To is the destination number, E.164 where possible.
	To string `json:"to"`
	// Language is a code from the language table, or language.Auto.
	Language language.Code `json:"language"`
}

func (r CallRequest) Validate(table language.Table) error {
	if r.BorrowerID == "" {
		return errors.New("calls: borrower_id required")
	}
	if r.To == "" {
		return errors.New("calls: destination number required")
	}
	if r.Language != language.Auto {
		if _, ok := table[r.Language]; !ok {
			return fmt.Errorf("calls: unsupported language %q", r.Language)
		}
	}
	return nil
}

// State is the session lifecycle state. It only ever moves forward:
//
//	Created → Dialing → Ringing → Connected → InConversation → Completed → Analyzing → Analyzed
//
// Failed is reachable from any non-terminal state. Analyzed is the true
// success terminal; Completed without analysis is a degraded success.
type State string

const (
	StateCreated        State = "created"
	StateDialing        State = "dialing"
	StateRinging        State = "ringing"
	StateConnected      State = "connected"
	StateInConversation State = "in_conversation"
	StateCompleted      State = "completed"
	StateAnalyzing      State = "analyzing"
	StateAnalyzed       State = "analyzed"
	StateFailed         State = "failed"
)

// Terminal reports whether the telephony leg is over. Analyzing counts:
// the phone call itself has already ended.
func (s State) Terminal() bool {
	switch s {
	case StateCompleted, StateAnalyzing, StateAnalyzed, StateFailed:
		return true
	default:
		return false
	}
}

// EventType tags telephony events delivered by the integration layer.
type EventType string

const (
	EventDialAccepted  EventType = "dial_accepted"
	EventRinging       EventType = "ringing"
	EventAnswered      EventType = "answered"
	EventSpeechSegment EventType = "speech_segment"
	EventHangup        EventType = "hangup"
	EventProviderError EventType = "provider_error"
)

// Event is one telephony event for one session. Audio and Duration are set
// for speech_segment; Reason for provider_error.
type Event struct {
	Type       EventType
	Audio      []byte
	Duration   time.Duration
	Reason     string
	OccurredAt time.Time
}

// transition is the pure (state, event) → state function behind the session.
// ok=false means the event is not valid from the current state and must be
// ignored as a no-op (idempotent redelivery, out-of-order webhooks).
//
// Providers can skip ringback, so answered is accepted from Dialing too.
// A hangup before the call connected means the call never happened (Failed);
// a hangup from Connected/InConversation is a normal end (Completed).
func transition(s State, t EventType) (State, bool) {
	if s.Terminal() {
		return s, false
	}
	switch t {
	case EventDialAccepted:
		if s == StateCreated {
			return StateDialing, true
		}
	case EventRinging:
		if s == StateDialing {
			return StateRinging, true
		}
	case EventAnswered:
		if s == StateDialing || s == StateRinging {
			return StateConnected, true
		}
	case EventHangup:
		switch s {
		case StateConnected, StateInConversation:
			return StateCompleted, true
		default:
			return StateFailed, true
		}
	case EventProviderError:
		return StateFailed, true
	}
	return s, false
}

type Speaker string

const (
	SpeakerAI           Speaker = "AI"
	SpeakerCounterparty Speaker = "User"
)

// TranscriptTurn is one utterance in the conversation record. The sequence
// is append-only with non-decreasing timestamps.
type TranscriptTurn struct {
	Speaker   Speaker       `json:"speaker"`
	Text      string        `json:"text"`
	Timestamp time.Time     `json:"timestamp"`
	Language  language.Code `json:"language"`
}

type Sentiment string

const (
	SentimentPositive Sentiment = "Positive"
	SentimentNeutral  Sentiment = "Neutral"
	SentimentNegative Sentiment = "Negative"
)

type Intent string

const (
	IntentPaid           Intent = "Paid"
	IntentWillPay        Intent = "Will Pay"
	IntentNeedsExtension Intent = "Needs Extension"
	IntentDispute        Intent = "Dispute"
	IntentNoResponse     Intent = "No Response"
)

// Analysis is the structured post-call extraction. All fields are always
// populated (defaults substituted for anything the model did not produce);
// PaymentDate is only meaningful when Intent is Will Pay.
type Analysis struct {
	Summary     string     `json:"summary"`
	Sentiment   Sentiment  `json:"sentiment"`
	Intent      Intent     `json:"intent"`
	PaymentDate *time.Time `json:"payment_date,omitempty"`
}

// BulkEntry is the per-request outcome inside a BulkResult.
type BulkEntry struct {
	BorrowerID string    `json:"borrower_id"`
	CallID     string    `json:"call_id,omitempty"`
	Success    bool      `json:"success"`
	State      State     `json:"state,omitempty"`
	Analysis   *Analysis `json:"analysis,omitempty"`
	Error      string    `json:"error,omitempty"`
}

// BulkResult has exactly one entry per submitted CallRequest, in input
// order, failed entries included.
type BulkResult struct {
	Entries []BulkEntry `json:"entries"`
}

// TelephonyError means the call never connected or dropped at the provider.
// The core does not retry it; resubmission is the caller's decision.
type TelephonyError struct {
	Reason string
	Err    error
}

func (e *TelephonyError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("telephony: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("telephony: %s", e.Reason)
}

func (e *TelephonyError) Unwrap() error { return e.Err }

// Lookup errors for transcript/analysis retrieval.
var (
	ErrNotFound = errors.New("calls: call not found")
	ErrNotReady = errors.New("calls: call has not terminated yet")
)

// Dispatch errors.
var (
	ErrEmptyBatch    = errors.New("calls: empty batch")
	ErrBatchTooLarge = errors.New("calls: batch exceeds configured maximum")
)
