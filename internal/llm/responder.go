package llm

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"collections-platform/internal/calls"
	"collections-platform/internal/language"
	"collections-platform/internal/retry"
)

// ChatClient is the slice of the chat-completions API the responder needs.
type ChatClient interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// historyWindow is how many trailing turns are replayed to the model as
// context for the next reply.
const historyWindow = 5

// Responder generates the agent's next line from the growing transcript
// and the active language.
type Responder struct {
	client ChatClient
	model  string
	table  language.Table
	policy retry.Policy
	log    *slog.Logger
}

func NewResponder(client ChatClient, model string, table language.Table, policy retry.Policy, log *slog.Logger) *Responder {
	if log == nil {
		log = slog.Default()
	}
	if model == "" {
		model = openai.GPT4oMini
	}
	if table == nil {
		table = language.DefaultTable()
	}
	return &Responder{client: client, model: model, table: table, policy: policy, log: log}
}

// Reply returns the agent's next utterance. On model failure it falls back
// to the per-language apology line so the call keeps flowing.
func (r *Responder) Reply(ctx context.Context, transcript []calls.TranscriptTurn, lang language.Code) (string, error) {
	voice := r.table[lang]

	resp, err := retry.Do(ctx, r.policy, func(ctx context.Context) (openai.ChatCompletionResponse, error) {
		return r.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
			Model: r.model,
			Messages: []openai.ChatCompletionMessage{
				{Role: openai.ChatMessageRoleSystem, Content: r.systemPrompt(voice)},
				{Role: openai.ChatMessageRoleUser, Content: renderHistory(transcript)},
			},
			Temperature: 0.7,
			MaxTokens:   400,
		})
	})
	if err != nil {
		r.log.Warn("reply generation failed, falling back", "err", err)
		if voice.Fallback != "" {
			return voice.Fallback, nil
		}
		return "", err
	}
	if len(resp.Choices) == 0 {
		if voice.Fallback != "" {
			return voice.Fallback, nil
		}
		return "", fmt.Errorf("llm: empty completion")
	}
	return tidyReply(resp.Choices[0].Message.Content), nil
}

func (r *Responder) systemPrompt(voice language.Voice) string {
	name := voice.Name
	if name == "" {
		name = "English"
	}
	return fmt.Sprintf(`You are Vidya, a professional and empathetic collection assistant calling from a finance agency about a loan repayment.

Style:
- Sound human: use natural phrasing like "I understand" or "Got it".
- Stay on topic: payments, EMIs, outstanding amounts.
- Keep replies to 1-2 complete sentences; never stop mid-thought.
- If the borrower commits to a date, acknowledge it and confirm the date.

Respond in %s only.`, name)
}

func renderHistory(transcript []calls.TranscriptTurn) string {
	if len(transcript) == 0 {
		return "This is the start of the conversation (greeting phase)."
	}
	start := 0
	if len(transcript) > historyWindow {
		start = len(transcript) - historyWindow
	}
	var b strings.Builder
	b.WriteString("CONVERSATION SO FAR:\n")
	for _, t := range transcript[start:] {
		fmt.Fprintf(&b, "%s: %s\n", t.Speaker, t.Text)
	}
	b.WriteString("\nGenerate the agent's next reply.")
	return b.String()
}

// tidyReply trims truncation artifacts: a trailing conjunction indicates a
// cut-off sentence, and replies must end with punctuation.
func tidyReply(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return s
	}
	for _, ending := range []string{" and", " or", " with", " to", " but", " because", " for", " then"} {
		if strings.HasSuffix(strings.ToLower(s), ending) {
			s = strings.TrimSpace(s[:len(s)-len(ending)])
			break
		}
	}
	if !strings.HasSuffix(s, ".") && !strings.HasSuffix(s, "?") && !strings.HasSuffix(s, "!") && !strings.HasSuffix(s, "।") {
		s += "."
	}
	return s
}
