// Package telephony holds the provider boundary for placing and controlling
// outbound calls. The Vonage adapter authenticates with a short-lived RS256
// application JWT per request.
package telephony

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"collections-platform/internal/calls"
)

type VonageConfig struct {
	BaseURL       string
	ApplicationID string
	// PrivateKey is the application's RSA private key, PEM encoded.
	PrivateKey []byte

	// FromNumber is the caller ID presented to the borrower.
	FromNumber string

	// AnswerURL and EventURL are where the provider sends call control
	// requests and status webhooks.
	AnswerURL string
	EventURL  string

	TokenTTL    time.Duration
	HTTPTimeout time.Duration
}

func (c VonageConfig) withDefaults() VonageConfig {
	out := c
	if out.BaseURL == "" {
		out.BaseURL = "https://api.nexmo.com"
	}
	if out.TokenTTL <= 0 {
		out.TokenTTL = 15 * time.Minute
	}
	if out.HTTPTimeout <= 0 {
		out.HTTPTimeout = 30 * time.Second
	}
	return out
}

// Vonage implements Provider against the Vonage Voice API.
type Vonage struct {
	cfg   VonageConfig
	http  *resty.Client
	key   *rsa.PrivateKey
	clock func() time.Time
	log   *slog.Logger
}

func NewVonage(cfg VonageConfig, log *slog.Logger) (*Vonage, error) {
	cfg = cfg.withDefaults()
	if cfg.ApplicationID == "" {
		return nil, fmt.Errorf("telephony: application id required")
	}
	key, err := jwt.ParseRSAPrivateKeyFromPEM(cfg.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("telephony: bad private key: %w", err)
	}
	if log == nil {
		log = slog.Default()
	}
	return &Vonage{
		cfg:   cfg,
		http:  resty.New().SetBaseURL(cfg.BaseURL).SetTimeout(cfg.HTTPTimeout),
		key:   key,
		clock: time.Now,
		log:   log,
	}, nil
}

func (v *Vonage) Name() string { return "vonage" }

// appToken mints the per-request application JWT the Voice API expects.
func (v *Vonage) appToken() (string, error) {
	now := v.clock()
	t := jwt.NewWithClaims(jwt.SigningMethodRS256, jwt.MapClaims{
		"application_id": v.cfg.ApplicationID,
		"iat":            now.Unix(),
		"exp":            now.Add(v.cfg.TokenTTL).Unix(),
		"jti":            uuid.NewString(),
	})
	return t.SignedString(v.key)
}

func encodeAudio(audio []byte) string {
	return base64.StdEncoding.EncodeToString(audio)
}

type createCallRequest struct {
	To        []callEndpoint `json:"to"`
	From      callEndpoint   `json:"from"`
	AnswerURL []string       `json:"answer_url"`
	EventURL  []string       `json:"event_url"`
}

type callEndpoint struct {
	Type   string `json:"type"`
	Number string `json:"number"`
}

type createCallResponse struct {
	UUID   string `json:"uuid"`
	Status string `json:"status"`
}

// Dial places the outbound call and returns the provider call UUID. Progress
// arrives later on the event webhook, not here.
func (v *Vonage) Dial(ctx context.Context, req calls.CallRequest) (string, error) {
	token, err := v.appToken()
	if err != nil {
		return "", fmt.Errorf("telephony: sign app token: %w", err)
	}
	var out createCallResponse
	resp, err := v.http.R().
		SetContext(ctx).
		SetAuthToken(token).
		SetBody(createCallRequest{
			To:        []callEndpoint{{Type: "phone", Number: req.To}},
			From:      callEndpoint{Type: "phone", Number: v.cfg.FromNumber},
			AnswerURL: []string{v.cfg.AnswerURL},
			EventURL:  []string{v.cfg.EventURL},
		}).
		SetResult(&out).
		Post("/v1/calls")
	if err != nil {
		return "", fmt.Errorf("telephony: create call: %w", err)
	}
	if resp.IsError() {
		return "", fmt.Errorf("telephony: create call: status %d: %s", resp.StatusCode(), resp.String())
	}
	if out.UUID == "" {
		return "", fmt.Errorf("telephony: create call: no call uuid in response")
	}
	v.log.Info("outbound call created", "provider_call_id", out.UUID, "status", out.Status)
	return out.UUID, nil
}

type streamRequest struct {
	// Audio is the synthesized clip, base64, played straight into the leg.
	Audio string `json:"audio"`
	Loop  int    `json:"loop"`
}

// Speak plays one synthesized clip into the live call.
func (v *Vonage) Speak(ctx context.Context, providerCallID string, audio []byte) error {
	token, err := v.appToken()
	if err != nil {
		return fmt.Errorf("telephony: sign app token: %w", err)
	}
	resp, err := v.http.R().
		SetContext(ctx).
		SetAuthToken(token).
		SetBody(streamRequest{Audio: encodeAudio(audio), Loop: 1}).
		Put("/v1/calls/" + providerCallID + "/stream")
	if err != nil {
		return fmt.Errorf("telephony: stream audio: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("telephony: stream audio: status %d: %s", resp.StatusCode(), resp.String())
	}
	return nil
}

type modifyCallRequest struct {
	Action string `json:"action"`
}

// Hangup ends the call from our side. A 404 means the call is already gone,
// which is fine.
func (v *Vonage) Hangup(ctx context.Context, providerCallID string) error {
	token, err := v.appToken()
	if err != nil {
		return fmt.Errorf("telephony: sign app token: %w", err)
	}
	resp, err := v.http.R().
		SetContext(ctx).
		SetAuthToken(token).
		SetBody(modifyCallRequest{Action: "hangup"}).
		Put("/v1/calls/" + providerCallID)
	if err != nil {
		return fmt.Errorf("telephony: hangup: %w", err)
	}
	if resp.IsError() && resp.StatusCode() != 404 {
		return fmt.Errorf("telephony: hangup: status %d: %s", resp.StatusCode(), resp.String())
	}
	return nil
}
