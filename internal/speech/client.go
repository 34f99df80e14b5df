// Package speech is the REST client for the speech vendor's STT and TTS
// endpoints. It translates HTTP failures into the retryable /
// non-retryable taxonomy; callers wrap every call in the retry wrapper.
//
// Audio is treated as opaque bytes end to end; no codec work happens here.
package speech

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"

	"collections-platform/internal/conversation"
	"collections-platform/internal/language"
	"collections-platform/internal/retry"
)

type Config struct {
	BaseURL string
	APIKey  string

	// Vendor model identifiers.
	STTModel string
	TTSModel string

	// SampleRate for synthesized audio, Hz.
	SampleRate int

	// HTTPTimeout is the transport-level ceiling; per-attempt deadlines
	// come from the caller's context.
	HTTPTimeout time.Duration
}

func (c Config) withDefaults() Config {
	out := c
	if out.STTModel == "" {
		out.STTModel = "saarika:v2.5"
	}
	if out.TTSModel == "" {
		out.TTSModel = "bulbul:v2"
	}
	if out.SampleRate <= 0 {
		out.SampleRate = 16000
	}
	if out.HTTPTimeout <= 0 {
		out.HTTPTimeout = 30 * time.Second
	}
	return out
}

// Client implements conversation.Transcriber and conversation.Synthesizer.
type Client struct {
	http *resty.Client
	cfg  Config
}

func NewClient(cfg Config) *Client {
	cfg = cfg.withDefaults()
	rc := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.HTTPTimeout).
		SetHeader("api-subscription-key", cfg.APIKey)
	return &Client{http: rc, cfg: cfg}
}

type sttResponse struct {
	Transcript   string        `json:"transcript"`
	LanguageCode language.Code `json:"language_code"`
	Confidence   float64       `json:"confidence"`
}

// Transcribe sends one utterance for recognition. The language hint steers
// the vendor model; the response carries the detected language and its
// confidence for the auto-detect policy.
func (c *Client) Transcribe(ctx context.Context, audio []byte, hint language.Code) (conversation.Transcription, error) {
	const op = "speech.transcribe"
	var out sttResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetFileReader("file", "audio.wav", bytes.NewReader(audio)).
		SetFormData(map[string]string{
			"language_code": string(hint),
			"model":         c.cfg.STTModel,
		}).
		SetResult(&out).
		Post("/speech-to-text")
	if err != nil {
		return conversation.Transcription{}, &retry.TransientError{Op: op, Err: err}
	}
	if err := classifyStatus(op, resp); err != nil {
		return conversation.Transcription{}, err
	}
	return conversation.Transcription{
		Text:       out.Transcript,
		Language:   out.LanguageCode,
		Confidence: out.Confidence,
	}, nil
}

type ttsRequest struct {
	Inputs             []string `json:"inputs"`
	TargetLanguageCode string   `json:"target_language_code"`
	Speaker            string   `json:"speaker"`
	Pace               float64  `json:"pace"`
	Loudness           float64  `json:"loudness"`
	SpeechSampleRate   int      `json:"speech_sample_rate"`
	EnablePreprocess   bool     `json:"enable_preprocessing"`
	Model              string   `json:"model"`
}

type ttsResponse struct {
	Audios []string `json:"audios"`
}

// Synthesize renders one reply with the active language's voice. The
// vendor returns base64 audio frames.
func (c *Client) Synthesize(ctx context.Context, text string, voice language.Voice) ([]byte, error) {
	const op = "speech.synthesize"
	if text == "" {
		return nil, &retry.NonRetryableError{Op: op, Err: fmt.Errorf("no text to synthesize")}
	}
	var out ttsResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(ttsRequest{
			Inputs:             []string{text},
			TargetLanguageCode: string(voice.Code),
			Speaker:            voice.Speaker,
			Pace:               1.0,
			Loudness:           1.5,
			SpeechSampleRate:   c.cfg.SampleRate,
			EnablePreprocess:   voice.Preprocess,
			Model:              c.cfg.TTSModel,
		}).
		SetResult(&out).
		Post("/text-to-speech")
	if err != nil {
		return nil, &retry.TransientError{Op: op, Err: err}
	}
	if err := classifyStatus(op, resp); err != nil {
		return nil, err
	}
	if len(out.Audios) == 0 || out.Audios[0] == "" {
		return nil, &retry.TransientError{Op: op, Err: fmt.Errorf("no audio in response")}
	}
	raw, err := base64.StdEncoding.DecodeString(out.Audios[0])
	if err != nil {
		return nil, &retry.NonRetryableError{Op: op, Err: fmt.Errorf("bad audio encoding: %w", err)}
	}
	return raw, nil
}

// classifyStatus maps HTTP status onto the retry taxonomy: client errors
// (bad request, bad credentials) abort immediately; rate limits and server
// errors are worth retrying.
func classifyStatus(op string, resp *resty.Response) error {
	code := resp.StatusCode()
	switch {
	case code >= 200 && code < 300:
		return nil
	case code == http.StatusTooManyRequests || code == http.StatusRequestTimeout || code >= 500:
		return &retry.TransientError{Op: op, Err: fmt.Errorf("status %d: %s", code, resp.String())}
	default:
		return &retry.NonRetryableError{Op: op, Err: fmt.Errorf("status %d: %s", code, resp.String())}
	}
}
