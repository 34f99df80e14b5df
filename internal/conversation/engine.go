// Package conversation runs the per-call dialogue loop: buffer speech,
// transcribe, decide language, generate the reply, synthesize and speak it,
// and append the pair of transcript turns.
package conversation

import (
	"context"
	"fmt"
	"log/slog"

	"collections-platform/internal/calls"
	"collections-platform/internal/language"
	"collections-platform/internal/retry"
)

// Transcription is the speech service's answer for one utterance.
type Transcription struct {
	Text       string
	Language   language.Code
	Confidence float64
}

// Transcriber converts one opaque audio segment to text.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte, hint language.Code) (Transcription, error)
}

// Synthesizer converts reply text to audio using the per-language voice.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string, voice language.Voice) ([]byte, error)
}

// Responder generates the agent's reply. It is a black box taking the
// growing transcript and the active language.
type Responder interface {
	Reply(ctx context.Context, transcript []calls.TranscriptTurn, lang language.Code) (string, error)
}

// AudioSink plays synthesized audio into the live call.
type AudioSink interface {
	Speak(ctx context.Context, providerCallID string, audio []byte) error
}

// SynthesisError ends the call: without synthesis the agent cannot speak.
type SynthesisError struct {
	Err error
}

func (e *SynthesisError) Error() string { return fmt.Sprintf("synthesis failed: %v", e.Err) }
func (e *SynthesisError) Unwrap() error { return e.Err }

// Unintelligible is the transcript placeholder recorded when transcription
// exhausted its retries. The call continues.
const Unintelligible = "[unintelligible]"

// Config carries the retry policies for the engine's external calls.
// Non-English transcription gets its own policy because it is empirically
// slower and needs a longer per-attempt deadline.
type Config struct {
	Transcribe           retry.Policy
	TranscribeNonEnglish retry.Policy
	Synthesize           retry.Policy
}

// Engine is the turn loop shared by all sessions. It holds no per-call
// state; everything per-call lives on the session it is handed.
type Engine struct {
	stt     Transcriber
	tts     Synthesizer
	respond Responder
	sink    AudioSink
	cfg     Config
	log     *slog.Logger
}

func NewEngine(stt Transcriber, tts Synthesizer, respond Responder, sink AudioSink, cfg Config, log *slog.Logger) *Engine {
	if log == nil {
		log = slog.Default()
	}
	return &Engine{stt: stt, tts: tts, respond: respond, sink: sink, cfg: cfg, log: log}
}

func (e *Engine) transcribePolicy(lang language.Code) retry.Policy {
	if lang != language.DefaultCode && e.cfg.TranscribeNonEnglish.MaxAttempts > 0 {
		return e.cfg.TranscribeNonEnglish
	}
	return e.cfg.Transcribe
}

// Run drives one call's dialogue until the session terminates. A nil
// return means the conversation ended normally; a SynthesisError (or a
// speak failure) means the session must be failed.
//
// Invariant: at most one transcription or synthesis request is in flight
// for the session at any instant — the loop is strictly sequential.
func (e *Engine) Run(ctx context.Context, s *calls.Session) error {
	log := e.log.With("call_id", s.ID())

	// Open with the per-language greeting before the counterparty's first
	// utterance.
	voice := s.Policy().Voice()
	if voice.Greeting != "" {
		if err := e.say(ctx, s, voice.Greeting, voice); err != nil {
			return err
		}
	}

	for {
		select {
		case <-s.Done():
			return nil
		default:
		}

		seg, ok := s.NextSpeech(ctx)
		if !ok {
			return nil
		}

		active := s.Policy().Active()
		tr, err := retry.Do(ctx, e.transcribePolicy(active), func(ctx context.Context) (Transcription, error) {
			return e.stt.Transcribe(ctx, seg.Audio, active)
		})
		if terminated(s) {
			// Hangup raced the transcription; discard its result.
			return nil
		}
		if err != nil {
			// Recoverable: note the turn and keep the call alive.
			log.Warn("transcription failed, continuing", "err", err)
			s.AppendTurn(calls.SpeakerCounterparty, Unintelligible, active)
			continue
		}
		if tr.Text == "" {
			// The service heard something it could not turn into text;
			// keep the utterance on the record.
			s.AppendTurn(calls.SpeakerCounterparty, Unintelligible, active)
			continue
		}

		if s.Policy().Observe(tr.Language, tr.Confidence) {
			log.Info("active language switched", "from", active, "to", s.Policy().Active(), "confidence", tr.Confidence)
		}
		active = s.Policy().Active()
		voice = s.Policy().Voice()

		s.AppendTurn(calls.SpeakerCounterparty, tr.Text, active)

		reply, err := e.respond.Reply(ctx, s.Transcript(), active)
		if err != nil || reply == "" {
			log.Warn("reply generation failed, using fallback", "err", err)
			reply = voice.Fallback
			if reply == "" {
				continue
			}
		}
		if terminated(s) {
			return nil
		}

		if err := e.say(ctx, s, reply, voice); err != nil {
			if terminated(s) {
				return nil
			}
			return err
		}
	}
}

// say synthesizes and plays one agent line, then records its turn.
func (e *Engine) say(ctx context.Context, s *calls.Session, text string, voice language.Voice) error {
	audio, err := retry.Do(ctx, e.cfg.Synthesize, func(ctx context.Context) ([]byte, error) {
		return e.tts.Synthesize(ctx, text, voice)
	})
	if err != nil {
		return &SynthesisError{Err: err}
	}
	if terminated(s) {
		return nil
	}
	if err := e.sink.Speak(ctx, s.ProviderCallID(), audio); err != nil {
		return &calls.TelephonyError{Reason: "failed to play audio into call", Err: err}
	}
	s.AppendTurn(calls.SpeakerAI, text, s.Policy().Active())
	return nil
}

func terminated(s *calls.Session) bool {
	select {
	case <-s.Done():
		return true
	default:
		return false
	}
}
