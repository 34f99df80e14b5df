package calls

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"collections-platform/internal/language"
)

// Dialer places the outbound leg at the telephony provider.
type Dialer interface {
	// Dial returns the provider's identifier for the new call.
	Dial(ctx context.Context, req CallRequest) (providerCallID string, err error)
}

// TurnRunner drives the conversation while the session is InConversation.
// It returns nil when the conversation ended normally (hangup observed) and
// an error when the session must fail (e.g. synthesis exhausted).
type TurnRunner interface {
	Run(ctx context.Context, s *Session) error
}

// Analyzer produces the post-call extraction from a finished transcript.
type Analyzer interface {
	Analyze(ctx context.Context, transcript []TranscriptTurn) (Analysis, error)
}

// CallEnder tears down the provider leg when the session fails from our
// side (no answer, turn loop failure). Optional; the provider tolerates
// hangups for calls that are already gone.
type CallEnder interface {
	Hangup(ctx context.Context, providerCallID string) error
}

// SessionDeps are the collaborators shared by every session a dispatcher
// creates.
type SessionDeps struct {
	Dialer   Dialer
	Runner   TurnRunner
	Analyzer Analyzer
	Ender    CallEnder

	Languages language.Table
	// AutoThreshold is the confidence a detection must exceed before the
	// active language switches in auto mode.
	AutoThreshold float64

	// DialTimeout bounds the wait for the counterparty to answer.
	DialTimeout time.Duration

	Clock func() time.Time
	Log   *slog.Logger
}

func (d SessionDeps) withDefaults() SessionDeps {
	out := d
	if out.Clock == nil {
		out.Clock = time.Now
	}
	if out.Log == nil {
		out.Log = slog.Default()
	}
	if out.DialTimeout <= 0 {
		out.DialTimeout = 45 * time.Second
	}
	if out.AutoThreshold <= 0 {
		out.AutoThreshold = 0.8
	}
	if out.Languages == nil {
		out.Languages = language.DefaultTable()
	}
	return out
}

// speechBuffer bounds queued speech segments per session. The turn loop
// consumes one at a time (at most one outstanding transcription per call);
// segments beyond the buffer are dropped, not blocked on.
const speechBuffer = 8

// Session is the live, stateful representation of one call.
//
// Ownership: the session's control flow (Run plus webhook-delivered Apply
// calls) is the only writer; all mutation goes through mu. Once a terminal
// state is reached the transcript and analysis are effectively read-only
// and safe to hand out.
type Session struct {
	id   string
	req  CallRequest
	deps SessionDeps

	policy *language.Policy

	mu             sync.Mutex
	state          State
	activeLang     language.Code
	transcript     []TranscriptTurn
	analysis       *Analysis
	lastErr        error
	startedAt      time.Time
	endedAt        time.Time
	providerCallID string
	analysisOnce   bool

	connected chan struct{} // closed on entering Connected
	done      chan struct{} // closed on reaching a terminal telephony state
	speech    chan Event

	log *slog.Logger
}

// NewSession builds a Created session for one request. Identifiers are
// UUIDs and never reused.
func NewSession(req CallRequest, deps SessionDeps) (*Session, error) {
	deps = deps.withDefaults()
	if err := req.Validate(deps.Languages); err != nil {
		return nil, err
	}
	pol, err := language.NewPolicy(deps.Languages, req.Language, deps.AutoThreshold)
	if err != nil {
		return nil, err
	}
	id := uuid.NewString()
	return &Session{
		id:         id,
		req:        req,
		deps:       deps,
		policy:     pol,
		state:      StateCreated,
		activeLang: pol.Active(),
		connected:  make(chan struct{}),
		done:       make(chan struct{}),
		speech:     make(chan Event, speechBuffer),
		log:        deps.Log.With("call_id", id, "borrower_id", req.BorrowerID),
	}, nil
}

func (s *Session) ID() string           { return s.id }
func (s *Session) Request() CallRequest { return s.req }

// Policy returns the session's language policy. Only the turn loop may
// drive it; the session itself is single-threaded between suspension points.
func (s *Session) Policy() *language.Policy { return s.policy }

// Done is closed once the telephony leg reaches a terminal state. The turn
// loop selects on it to stop feeding turns mid-call.
func (s *Session) Done() <-chan struct{} { return s.done }

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) ProviderCallID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.providerCallID
}

// Apply feeds one telephony event into the state machine. Events for a
// session are applied one at a time in arrival order; an event that is not
// valid from the current state is a logged no-op, never an error
// (idempotent redelivery, out-of-order webhooks).
func (s *Session) Apply(ev Event) {
	s.mu.Lock()

	if ev.Type == EventSpeechSegment {
		if s.state != StateInConversation {
			s.mu.Unlock()
			s.log.Debug("speech segment ignored outside conversation", "state", s.state)
			return
		}
		select {
		case s.speech <- ev:
			s.mu.Unlock()
		default:
			s.mu.Unlock()
			s.log.Warn("speech segment dropped, buffer full")
		}
		return
	}

	next, ok := transition(s.state, ev.Type)
	if !ok {
		prev := s.state
		s.mu.Unlock()
		s.log.Debug("event ignored as no-op", "event", ev.Type, "state", prev)
		return
	}

	prev := s.state
	s.state = next
	switch next {
	case StateConnected:
		close(s.connected)
	case StateCompleted:
		s.endedAt = s.deps.Clock().UTC()
		close(s.done)
	case StateFailed:
		reason := ev.Reason
		if reason == "" {
			reason = "call ended before connecting"
		}
		s.lastErr = &TelephonyError{Reason: reason}
		s.endedAt = s.deps.Clock().UTC()
		close(s.done)
	}
	s.mu.Unlock()
	s.log.Info("call state changed", "event", ev.Type, "from", prev, "to", next)
}

// terminate moves the session to a terminal telephony state from inside its
// own control flow (dial failure, no-answer timeout, turn-loop failure).
// It is a no-op if a webhook event already terminated the session.
func (s *Session) terminate(to State, err error) bool {
	s.mu.Lock()
	if s.state.Terminal() {
		s.mu.Unlock()
		return false
	}
	prev := s.state
	s.state = to
	if err != nil {
		s.lastErr = err
	}
	s.endedAt = s.deps.Clock().UTC()
	close(s.done)
	s.mu.Unlock()
	s.log.Info("call state changed", "from", prev, "to", to, "err", err)
	return true
}

func (s *Session) beginConversation() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateConnected {
		return false
	}
	s.state = StateInConversation
	return true
}

// AppendTurn records one finalized utterance. Timestamps are clamped to be
// non-decreasing even if the wall clock steps backwards.
func (s *Session) AppendTurn(speaker Speaker, text string, lang language.Code) {
	now := s.deps.Clock().UTC()
	s.mu.Lock()
	if n := len(s.transcript); n > 0 && now.Before(s.transcript[n-1].Timestamp) {
		now = s.transcript[n-1].Timestamp
	}
	s.transcript = append(s.transcript, TranscriptTurn{
		Speaker:   speaker,
		Text:      text,
		Timestamp: now,
		Language:  lang,
	})
	s.activeLang = lang
	s.mu.Unlock()
	s.log.Debug("turn recorded", "speaker", speaker, "language", lang)
}

// NextSpeech blocks until the next counterparty utterance, the session
// terminates, or ctx ends. ok=false means the conversation is over.
func (s *Session) NextSpeech(ctx context.Context) (Event, bool) {
	select {
	case <-s.done:
		return Event{}, false
	case <-ctx.Done():
		return Event{}, false
	case ev := <-s.speech:
		return ev, true
	}
}

// Transcript returns a copy of the conversation so far.
func (s *Session) Transcript() []TranscriptTurn {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]TranscriptTurn, len(s.transcript))
	copy(out, s.transcript)
	return out
}

// AnalysisResult returns the extraction, or nil if none was produced.
func (s *Session) AnalysisResult() *Analysis {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.analysis == nil {
		return nil
	}
	out := *s.analysis
	return &out
}

// AnalysisPending reports whether the single analysis attempt is still
// ahead or in flight for a completed call.
func (s *Session) AnalysisPending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case StateAnalyzing:
		return true
	case StateCompleted:
		return !s.analysisOnce
	default:
		return false
	}
}

// LastError returns the failure recorded on the session, if any.
func (s *Session) LastError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// Run drives the session end to end: dial, wait for answer, hand control to
// the turn runner, then analyze. onDialed (optional) is invoked with the
// provider call ID so the registry can index webhook events.
func (s *Session) Run(ctx context.Context, onDialed func(providerCallID string)) {
	s.mu.Lock()
	s.startedAt = s.deps.Clock().UTC()
	s.mu.Unlock()

	pid, err := s.deps.Dialer.Dial(ctx, s.req)
	if err != nil {
		s.terminate(StateFailed, &TelephonyError{Reason: "dial failed", Err: err})
		return
	}
	s.mu.Lock()
	s.providerCallID = pid
	s.mu.Unlock()
	if onDialed != nil {
		onDialed(pid)
	}
	// The provider accepting the dial is itself the dial_accepted signal;
	// the webhook redelivery of it becomes a no-op.
	s.Apply(Event{Type: EventDialAccepted, OccurredAt: s.deps.Clock()})

	answer := time.NewTimer(s.deps.DialTimeout)
	defer answer.Stop()
	select {
	case <-s.connected:
	case <-s.done:
		// The answer and hangup webhooks may both have landed while
		// onDialed was binding the call, leaving the session already
		// Completed here. Fall through so the analysis still runs;
		// beginConversation and analyze are no-ops for any other state.
	case <-answer.C:
		if s.terminate(StateFailed, &TelephonyError{Reason: "no answer before dial timeout"}) {
			s.hangupProvider()
		}
		return
	case <-ctx.Done():
		if s.terminate(StateFailed, &TelephonyError{Reason: "canceled while dialing", Err: ctx.Err()}) {
			s.hangupProvider()
		}
		return
	}

	if s.beginConversation() {
		if s.deps.Runner == nil {
			s.terminate(StateFailed, &TelephonyError{Reason: "no turn runner configured"})
			s.hangupProvider()
			return
		}
		if err := s.deps.Runner.Run(ctx, s); err != nil {
			if s.terminate(StateFailed, err) {
				// The borrower's leg is still open; drop it.
				s.hangupProvider()
			}
		} else {
			// No-op if a hangup event already completed the session.
			s.terminate(StateCompleted, nil)
		}
	}

	s.analyze(ctx)
}

// hangupProvider ends the provider leg after a failure on our side. It runs
// on its own deadline because the session's context may already be gone.
func (s *Session) hangupProvider() {
	if s.deps.Ender == nil {
		return
	}
	pid := s.ProviderCallID()
	if pid == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.deps.Ender.Hangup(ctx, pid); err != nil {
		s.log.Warn("provider hangup failed", "provider_call_id", pid, "err", err)
	}
}

// analyze runs the single post-call analysis attempt. Only Completed
// sessions are analyzed; Failed calls carry their error instead. With no
// analyzer configured the session stays Completed (degraded success).
func (s *Session) analyze(ctx context.Context) {
	s.mu.Lock()
	if s.state != StateCompleted || s.analysisOnce {
		s.mu.Unlock()
		return
	}
	if s.deps.Analyzer == nil {
		// Degraded success: the call stays Completed with no analysis.
		s.analysisOnce = true
		s.mu.Unlock()
		return
	}
	s.analysisOnce = true
	s.state = StateAnalyzing
	transcript := make([]TranscriptTurn, len(s.transcript))
	copy(transcript, s.transcript)
	s.mu.Unlock()

	res, err := s.deps.Analyzer.Analyze(ctx, transcript)
	if err != nil {
		// Analysis never fails the call; degrade to defaults.
		s.log.Warn("analysis degraded to defaults", "err", err)
		res = DefaultAnalysis()
	}
	s.mu.Lock()
	s.analysis = &res
	s.state = StateAnalyzed
	s.mu.Unlock()
	s.log.Info("call analyzed", "sentiment", res.Sentiment, "intent", res.Intent)
}

// View is a read-only snapshot for listings and bulk results.
type View struct {
	CallID     string        `json:"call_id"`
	BorrowerID string        `json:"borrower_id"`
	LoanRef    string        `json:"loan_ref,omitempty"`
	To         string        `json:"to"`
	State      State         `json:"state"`
	Language   language.Code `json:"language"`
	StartedAt  time.Time     `json:"started_at"`
	EndedAt    time.Time     `json:"ended_at"`
	Turns      int           `json:"turns"`
	Error      string        `json:"error,omitempty"`
}

func (s *Session) Snapshot() View {
	s.mu.Lock()
	defer s.mu.Unlock()
	v := View{
		CallID:     s.id,
		BorrowerID: s.req.BorrowerID,
		LoanRef:    s.req.LoanRef,
		To:         s.req.To,
		State:      s.state,
		Language:   s.activeLang,
		StartedAt:  s.startedAt,
		EndedAt:    s.endedAt,
		Turns:      len(s.transcript),
	}
	if s.lastErr != nil {
		v.Error = s.lastErr.Error()
	}
	return v
}

// DefaultAnalysis is the conservative extraction used when the model could
// not produce one.
func DefaultAnalysis() Analysis {
	return Analysis{
		Summary:   "No analysis available for this call",
		Sentiment: SentimentNeutral,
		Intent:    IntentNoResponse,
	}
}
