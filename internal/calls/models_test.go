package calls

import (
	"testing"

	"collections-platform/internal/language"
)

func TestCallRequest_Validate(t *testing.T) {
	table := language.DefaultTable()

	cases := []struct {
		name    string
		req     CallRequest
		wantErr bool
	}{
		{"valid fixed language", CallRequest{BorrowerID: "b1", To: "+911234567890", Language: "hi-IN"}, false},
		{"valid auto", CallRequest{BorrowerID: "b1", To: "+911234567890", Language: language.Auto}, false},
		{"missing borrower", CallRequest{To: "+911234567890", Language: "en-IN"}, true},
		{"missing number", CallRequest{BorrowerID: "b1", Language: "en-IN"}, true},
		{"unsupported language", CallRequest{BorrowerID: "b1", To: "+911234567890", Language: "fr-FR"}, true},
		{"empty language", CallRequest{BorrowerID: "b1", To: "+911234567890"}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.req.Validate(table)
			if tc.wantErr && err == nil {
				t.Fatalf("expected error")
			}
			if !tc.wantErr && err != nil {
				t.Fatalf("unexpected err: %v", err)
			}
		})
	}
}

func TestTransition_ForwardPath(t *testing.T) {
	steps := []struct {
		ev   EventType
		want State
	}{
		{EventDialAccepted, StateDialing},
		{EventRinging, StateRinging},
		{EventAnswered, StateConnected},
	}
	s := StateCreated
	for _, st := range steps {
		next, ok := transition(s, st.ev)
		if !ok {
			t.Fatalf("transition(%s, %s) rejected", s, st.ev)
		}
		if next != st.want {
			t.Fatalf("transition(%s, %s) = %s, want %s", s, st.ev, next, st.want)
		}
		s = next
	}
}

func TestTransition_AnsweredSkipsRinging(t *testing.T) {
	next, ok := transition(StateDialing, EventAnswered)
	if !ok || next != StateConnected {
		t.Fatalf("expected Dialing+answered → Connected, got %s ok=%v", next, ok)
	}
}

func TestTransition_HangupBeforeConnectFails(t *testing.T) {
	for _, s := range []State{StateCreated, StateDialing, StateRinging} {
		next, ok := transition(s, EventHangup)
		if !ok || next != StateFailed {
			t.Fatalf("expected %s+hangup → Failed, got %s ok=%v", s, next, ok)
		}
	}
}

func TestTransition_HangupInCallCompletes(t *testing.T) {
	for _, s := range []State{StateConnected, StateInConversation} {
		next, ok := transition(s, EventHangup)
		if !ok || next != StateCompleted {
			t.Fatalf("expected %s+hangup → Completed, got %s ok=%v", s, next, ok)
		}
	}
}

func TestTransition_ProviderErrorFailsFromAnyNonTerminal(t *testing.T) {
	for _, s := range []State{StateCreated, StateDialing, StateRinging, StateConnected, StateInConversation} {
		next, ok := transition(s, EventProviderError)
		if !ok || next != StateFailed {
			t.Fatalf("expected %s+provider_error → Failed, got %s ok=%v", s, next, ok)
		}
	}
}

func TestTransition_TerminalStatesAbsorbEverything(t *testing.T) {
	events := []EventType{EventDialAccepted, EventRinging, EventAnswered, EventHangup, EventProviderError}
	for _, s := range []State{StateCompleted, StateAnalyzing, StateAnalyzed, StateFailed} {
		for _, ev := range events {
			next, ok := transition(s, ev)
			if ok {
				t.Fatalf("terminal %s accepted %s", s, ev)
			}
			if next != s {
				t.Fatalf("terminal %s moved to %s on %s", s, next, ev)
			}
		}
	}
}

func TestTransition_InvalidEventsAreNoOps(t *testing.T) {
	cases := []struct {
		s  State
		ev EventType
	}{
		{StateCreated, EventRinging},
		{StateCreated, EventAnswered},
		{StateRinging, EventDialAccepted}, // duplicate redelivery
		{StateConnected, EventAnswered},   // duplicate redelivery
		{StateConnected, EventRinging},
	}
	for _, tc := range cases {
		next, ok := transition(tc.s, tc.ev)
		if ok {
			t.Fatalf("transition(%s, %s) unexpectedly accepted", tc.s, tc.ev)
		}
		if next != tc.s {
			t.Fatalf("transition(%s, %s) moved to %s on rejection", tc.s, tc.ev, next)
		}
	}
}

func TestState_Terminal(t *testing.T) {
	for s, want := range map[State]bool{
		StateCreated:        false,
		StateDialing:        false,
		StateRinging:        false,
		StateConnected:      false,
		StateInConversation: false,
		StateCompleted:      true,
		StateAnalyzing:      true,
		StateAnalyzed:       true,
		StateFailed:         true,
	} {
		if s.Terminal() != want {
			t.Fatalf("%s.Terminal() = %v, want %v", s, s.Terminal(), want)
		}
	}
}

func TestDefaultAnalysisIsFullyPopulated(t *testing.T) {
	a := DefaultAnalysis()
	if a.Summary == "" {
		t.Fatalf("expected summary")
	}
	if a.Sentiment != SentimentNeutral {
		t.Fatalf("expected neutral sentiment, got %q", a.Sentiment)
	}
	if a.Intent != IntentNoResponse {
		t.Fatalf("expected no-response intent, got %q", a.Intent)
	}
	if a.PaymentDate != nil {
		t.Fatalf("default analysis must not carry a payment date")
	}
}
