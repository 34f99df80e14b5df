package analysis

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"collections-platform/internal/calls"
	"collections-platform/internal/retry"
)

type fakeChat struct {
	mu      sync.Mutex
	calls   int
	content string
	err     error
}

func (f *fakeChat) CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.err != nil {
		return openai.ChatCompletionResponse{}, f.err
	}
	return openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{
			{Message: openai.ChatCompletionMessage{Content: f.content}},
		},
	}, nil
}

func sampleTranscript() []calls.TranscriptTurn {
	return []calls.TranscriptTurn{
		{Speaker: calls.SpeakerAI, Text: "Hello, calling about your loan."},
		{Speaker: calls.SpeakerCounterparty, Text: "I will pay on the fifth."},
	}
}

func TestAnalyze_EmptyTranscriptSkipsModel(t *testing.T) {
	chat := &fakeChat{content: `{"summary":"x"}`}
	a := New(chat, "", retry.Policy{Op: "analysis.extract"}, nil)

	got, err := a.Analyze(context.Background(), nil)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if chat.calls != 0 {
		t.Fatalf("empty transcript must not reach the model, made %d calls", chat.calls)
	}
	want := calls.DefaultAnalysis()
	if got != want {
		t.Fatalf("expected defaults, got %+v", got)
	}
}

func TestAnalyze_ParsesModelOutput(t *testing.T) {
	chat := &fakeChat{content: `{"summary":"Borrower commits to paying on 2025-07-05.","sentiment":"Positive","intent":"Will Pay","payment_date":"2025-07-05"}`}
	a := New(chat, "", retry.Policy{Op: "analysis.extract"}, nil)

	got, err := a.Analyze(context.Background(), sampleTranscript())
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if got.Sentiment != calls.SentimentPositive || got.Intent != calls.IntentWillPay {
		t.Fatalf("unexpected analysis: %+v", got)
	}
	if got.PaymentDate == nil || !got.PaymentDate.Equal(time.Date(2025, 7, 5, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("expected payment date 2025-07-05, got %v", got.PaymentDate)
	}
}

func TestAnalyze_ModelFailureDegradesToDefaults(t *testing.T) {
	chat := &fakeChat{err: &retry.TransientError{Op: "analysis.extract", Err: errors.New("vendor 500")}}
	a := New(chat, "", retry.Policy{Op: "analysis.extract", MaxAttempts: 2, BaseDelay: time.Millisecond}, nil)

	got, err := a.Analyze(context.Background(), sampleTranscript())
	if err != nil {
		t.Fatalf("analysis must never fail the call, got %v", err)
	}
	if got != calls.DefaultAnalysis() {
		t.Fatalf("expected defaults, got %+v", got)
	}
	if chat.calls != 2 {
		t.Fatalf("expected 2 attempts, made %d", chat.calls)
	}
}

func TestParse_AllFieldsAlwaysPopulated(t *testing.T) {
	cases := []struct {
		name string
		in   string
	}{
		{"not json", "the borrower sounded upset"},
		{"empty", ""},
		{"partial", `{"summary":"only a summary"}`},
		{"bad enums", `{"summary":"s","sentiment":"angry","intent":"maybe"}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Parse(tc.in)
			if got.Summary == "" {
				t.Fatalf("summary must always be populated")
			}
			switch got.Sentiment {
			case calls.SentimentPositive, calls.SentimentNeutral, calls.SentimentNegative:
			default:
				t.Fatalf("invalid sentiment %q", got.Sentiment)
			}
			switch got.Intent {
			case calls.IntentPaid, calls.IntentWillPay, calls.IntentNeedsExtension, calls.IntentDispute, calls.IntentNoResponse:
			default:
				t.Fatalf("invalid intent %q", got.Intent)
			}
		})
	}
}

func TestParse_FencedJSON(t *testing.T) {
	in := "```json\n{\"summary\":\"fenced\",\"sentiment\":\"Negative\",\"intent\":\"Dispute\"}\n```"
	got := Parse(in)
	if got.Summary != "fenced" || got.Sentiment != calls.SentimentNegative || got.Intent != calls.IntentDispute {
		t.Fatalf("fenced JSON not parsed: %+v", got)
	}
}

func TestParse_PaymentDateOnlyForWillPay(t *testing.T) {
	got := Parse(`{"summary":"s","sentiment":"Neutral","intent":"Needs Extension","payment_date":"2025-07-05"}`)
	if got.PaymentDate != nil {
		t.Fatalf("payment date must only attach to Will Pay, got %v", got.PaymentDate)
	}

	got = Parse(`{"summary":"s","sentiment":"Neutral","intent":"Will Pay","payment_date":"null"}`)
	if got.PaymentDate != nil {
		t.Fatalf("literal null date must be dropped, got %v", got.PaymentDate)
	}

	got = Parse(`{"summary":"s","sentiment":"Neutral","intent":"Will Pay","payment_date":"sometime soon"}`)
	if got.PaymentDate != nil {
		t.Fatalf("unparseable date must be dropped, got %v", got.PaymentDate)
	}
}
