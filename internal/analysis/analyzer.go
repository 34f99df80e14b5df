// Package analysis turns a finished call transcript into the structured
// post-call extraction (summary, sentiment, intent, payment date).
package analysis

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"collections-platform/internal/calls"
	"collections-platform/internal/retry"
)

// ChatClient is the slice of the chat-completions API the analyzer needs.
// *openai.Client satisfies it.
type ChatClient interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// Analyzer asks the model for the four analysis fields in a fixed JSON
// format and parses the answer defensively. It never fails the call:
// anything the model did not produce is substituted with defaults.
type Analyzer struct {
	client ChatClient
	model  string
	policy retry.Policy
	log    *slog.Logger
}

func New(client ChatClient, model string, policy retry.Policy, log *slog.Logger) *Analyzer {
	if log == nil {
		log = slog.Default()
	}
	if model == "" {
		model = openai.GPT4oMini
	}
	return &Analyzer{client: client, model: model, policy: policy, log: log}
}

const systemPrompt = `You are an analyst reviewing a phone conversation between a collection agent (AI) and a borrower (User).

Provide:
1. SUMMARY: a concise 2-3 sentence summary of the conversation.
2. SENTIMENT: the borrower's overall sentiment, one of Positive, Neutral, Negative.
3. INTENT: the borrower's intent, one of: Paid, Will Pay, Needs Extension, Dispute, No Response.
4. PAYMENT_DATE: the committed payment date if one was mentioned.

Respond in JSON only:
{"summary": "...", "sentiment": "Positive|Neutral|Negative", "intent": "Paid|Will Pay|Needs Extension|Dispute|No Response", "payment_date": "YYYY-MM-DD or null"}`

// Analyze produces a complete Analysis for any transcript. An empty
// transcript skips the model call entirely and returns the defaults —
// no billing or latency for calls that never produced content.
func (a *Analyzer) Analyze(ctx context.Context, transcript []calls.TranscriptTurn) (calls.Analysis, error) {
	if len(transcript) == 0 {
		return calls.DefaultAnalysis(), nil
	}

	resp, err := retry.Do(ctx, a.policy, func(ctx context.Context) (openai.ChatCompletionResponse, error) {
		return a.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
			Model: a.model,
			Messages: []openai.ChatCompletionMessage{
				{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
				{Role: openai.ChatMessageRoleUser, Content: renderTranscript(transcript)},
			},
			Temperature: 0.2,
		})
	})
	if err != nil {
		// Analysis failures never fail the call.
		a.log.Warn("analysis model call failed, using defaults", "err", err)
		return calls.DefaultAnalysis(), nil
	}
	if len(resp.Choices) == 0 {
		a.log.Warn("analysis response had no choices, using defaults")
		return calls.DefaultAnalysis(), nil
	}
	return Parse(resp.Choices[0].Message.Content), nil
}

func renderTranscript(transcript []calls.TranscriptTurn) string {
	var b strings.Builder
	b.WriteString("CONVERSATION:\n")
	for _, t := range transcript {
		fmt.Fprintf(&b, "%s: %s\n", t.Speaker, t.Text)
	}
	return b.String()
}
