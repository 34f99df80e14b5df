// Package llm wires the chat-completions model used for reply generation
// and post-call analysis. The endpoint is OpenAI-compatible; BaseURL lets
// it point at any compatible gateway.
package llm

import (
	openai "github.com/sashabaranov/go-openai"
)

type ClientConfig struct {
	APIKey  string
	BaseURL string
	Model   string
}

// NewClient builds the shared chat client.
func NewClient(cfg ClientConfig) *openai.Client {
	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = cfg.BaseURL
	}
	return openai.NewClientWithConfig(oc)
}
