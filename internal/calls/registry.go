package calls

import (
	"sync"
)

// Registry is the process-wide index of sessions, created at startup and
// passed to whichever component needs lookup. Entries are inserted on
// dispatch and kept until explicitly reaped; identifiers are never reused.
//
// Concurrency: insert/lookup are guarded so readers never observe a
// partially constructed session. Event delivery itself is serialized per
// session inside Session.Apply.
type Registry struct {
	mu         sync.RWMutex
	byID       map[string]*Session
	byProvider map[string]string // provider call ID → call ID
}

func NewRegistry() *Registry {
	return &Registry{
		byID:       make(map[string]*Session),
		byProvider: make(map[string]string),
	}
}

// Insert registers a freshly created session.
func (r *Registry) Insert(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID[s.ID()] = s
}

// BindProvider indexes the session under the telephony provider's call
// identifier so webhook events can be routed.
func (r *Registry) BindProvider(providerCallID, callID string) {
	if providerCallID == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byProvider[providerCallID] = callID
}

// Get returns the session for an internal call ID.
func (r *Registry) Get(callID string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.byID[callID]
	return s, ok
}

// Deliver routes one telephony event to a session by internal call ID.
func (r *Registry) Deliver(callID string, ev Event) bool {
	s, ok := r.Get(callID)
	if !ok {
		return false
	}
	s.Apply(ev)
	return true
}

// DeliverProvider routes one telephony event by provider call ID.
func (r *Registry) DeliverProvider(providerCallID string, ev Event) bool {
	r.mu.RLock()
	callID, ok := r.byProvider[providerCallID]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	return r.Deliver(callID, ev)
}

// Transcript returns the conversation record for a call.
func (r *Registry) Transcript(callID string) ([]TranscriptTurn, error) {
	s, ok := r.Get(callID)
	if !ok {
		return nil, ErrNotFound
	}
	return s.Transcript(), nil
}

// Analysis returns the post-call extraction for a call.
//
//   - unknown call ID: ErrNotFound
//   - session not yet terminated, or analysis still running: ErrNotReady
//   - terminated without an analysis (failed call, or no analyzer
//     configured): ErrNotFound — no analysis exists for that call
func (r *Registry) Analysis(callID string) (Analysis, error) {
	s, ok := r.Get(callID)
	if !ok {
		return Analysis{}, ErrNotFound
	}
	if !s.State().Terminal() || s.AnalysisPending() {
		return Analysis{}, ErrNotReady
	}
	if a := s.AnalysisResult(); a != nil {
		return *a, nil
	}
	return Analysis{}, ErrNotFound
}

// ByLoan returns snapshots of every session for a loan reference.
func (r *Registry) ByLoan(loanRef string) []View {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []View
	for _, s := range r.byID {
		if s.Request().LoanRef == loanRef {
			out = append(out, s.Snapshot())
		}
	}
	return out
}

// Len reports how many sessions the registry holds.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}
