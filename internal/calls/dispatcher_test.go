package calls

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

// answeringDialer returns a per-borrower provider id and, once the registry
// binding exists, feeds the answer event so the session can progress.
type answeringDialer struct {
	registry *Registry
	failFor  string
}

func (d *answeringDialer) Dial(ctx context.Context, req CallRequest) (string, error) {
	if req.BorrowerID == d.failFor {
		return "", errors.New("provider rejected destination")
	}
	pid := "prov-" + req.BorrowerID
	go func() {
		for i := 0; i < 100; i++ {
			if d.registry.DeliverProvider(pid, Event{Type: EventAnswered}) {
				return
			}
			time.Sleep(5 * time.Millisecond)
		}
	}()
	return pid, nil
}

// completingRunner ends every conversation after one exchange.
var completingRunner = runnerFunc(func(ctx context.Context, s *Session) error {
	s.AppendTurn(SpeakerAI, "hello", "en-IN")
	s.AppendTurn(SpeakerCounterparty, "paid yesterday", "en-IN")
	s.Apply(Event{Type: EventHangup})
	return nil
})

func batchRequests(n int) []CallRequest {
	out := make([]CallRequest, n)
	for i := range out {
		out[i] = CallRequest{
			BorrowerID: fmt.Sprintf("b%d", i+1),
			LoanRef:    "loan-42",
			To:         fmt.Sprintf("+9112345678%02d", i),
			Language:   "en-IN",
		}
	}
	return out
}

func TestDispatch_EmptyBatchRejected(t *testing.T) {
	d := NewDispatcher(DispatcherConfig{}, nil, NewRegistry(), SessionDeps{}, nil)
	if _, err := d.Dispatch(context.Background(), nil); !errors.Is(err, ErrEmptyBatch) {
		t.Fatalf("expected ErrEmptyBatch, got %v", err)
	}
}

func TestDispatch_OversizedBatchRejectedBeforeAnyCall(t *testing.T) {
	reg := NewRegistry()
	d := NewDispatcher(DispatcherConfig{MaxBatchSize: 2}, nil, reg, SessionDeps{}, nil)

	_, err := d.Dispatch(context.Background(), batchRequests(3))
	if !errors.Is(err, ErrBatchTooLarge) {
		t.Fatalf("expected ErrBatchTooLarge, got %v", err)
	}
	if reg.Len() != 0 {
		t.Fatalf("oversized batch must not create sessions, registry has %d", reg.Len())
	}
}

func TestDispatch_OneFailureDoesNotAbortSiblings(t *testing.T) {
	reg := NewRegistry()
	dialer := &answeringDialer{registry: reg, failFor: "b2"}
	an := &fakeAnalyzer{res: Analysis{Summary: "ok", Sentiment: SentimentNeutral, Intent: IntentPaid}}

	d := NewDispatcher(DispatcherConfig{BatchTimeout: 5 * time.Second}, nil, reg, SessionDeps{
		Dialer:      dialer,
		Runner:      completingRunner,
		Analyzer:    an,
		DialTimeout: 2 * time.Second,
	}, nil)

	reqs := batchRequests(3)
	res, err := d.Dispatch(context.Background(), reqs)
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if len(res.Entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(res.Entries))
	}
	for i, e := range res.Entries {
		if e.BorrowerID != reqs[i].BorrowerID {
			t.Fatalf("entry %d out of order: got %q want %q", i, e.BorrowerID, reqs[i].BorrowerID)
		}
	}
	if !res.Entries[0].Success || !res.Entries[2].Success {
		t.Fatalf("expected siblings to succeed: %+v", res.Entries)
	}
	if res.Entries[1].Success {
		t.Fatalf("expected entry for b2 to fail")
	}
	if !strings.Contains(res.Entries[1].Error, "dial failed") {
		t.Fatalf("expected dial failure on b2, got %q", res.Entries[1].Error)
	}
	for _, i := range []int{0, 2} {
		if res.Entries[i].State != StateAnalyzed {
			t.Fatalf("entry %d: expected Analyzed, got %s", i, res.Entries[i].State)
		}
		if res.Entries[i].Analysis == nil {
			t.Fatalf("entry %d: expected analysis attached", i)
		}
	}
}

func TestDispatch_InvalidRequestFailsOnlyItsEntry(t *testing.T) {
	reg := NewRegistry()
	dialer := &answeringDialer{registry: reg}
	d := NewDispatcher(DispatcherConfig{BatchTimeout: 5 * time.Second}, nil, reg, SessionDeps{
		Dialer:      dialer,
		Runner:      completingRunner,
		DialTimeout: 2 * time.Second,
	}, nil)

	reqs := batchRequests(2)
	reqs[1].To = "" // invalid
	res, err := d.Dispatch(context.Background(), reqs)
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if !res.Entries[0].Success {
		t.Fatalf("valid sibling must succeed: %+v", res.Entries[0])
	}
	if res.Entries[1].Success || res.Entries[1].Error == "" {
		t.Fatalf("invalid request must produce a failed entry: %+v", res.Entries[1])
	}
	if reg.Len() != 1 {
		t.Fatalf("invalid request must not create a session, registry has %d", reg.Len())
	}
}

type blockingDialer struct{}

func (blockingDialer) Dial(ctx context.Context, req CallRequest) (string, error) {
	time.Sleep(300 * time.Millisecond)
	return "", errors.New("gave up")
}

func TestDispatch_BatchTimeoutReportsStragglers(t *testing.T) {
	reg := NewRegistry()
	d := NewDispatcher(DispatcherConfig{BatchTimeout: 50 * time.Millisecond}, nil, reg, SessionDeps{
		Dialer: blockingDialer{},
	}, nil)

	start := time.Now()
	res, err := d.Dispatch(context.Background(), batchRequests(2))
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 250*time.Millisecond {
		t.Fatalf("Dispatch did not return at the deadline, took %v", elapsed)
	}
	for i, e := range res.Entries {
		if e.Success {
			t.Fatalf("entry %d unexpectedly succeeded", i)
		}
		if !strings.Contains(e.Error, "deadline") {
			t.Fatalf("entry %d: expected deadline error, got %q", i, e.Error)
		}
	}
}

type gaugeDialer struct {
	active atomic.Int32
	max    atomic.Int32
}

func (d *gaugeDialer) Dial(ctx context.Context, req CallRequest) (string, error) {
	n := d.active.Add(1)
	for {
		m := d.max.Load()
		if n <= m || d.max.CompareAndSwap(m, n) {
			break
		}
	}
	time.Sleep(20 * time.Millisecond)
	d.active.Add(-1)
	return "", errors.New("done")
}

func TestDispatch_ConcurrencyBounded(t *testing.T) {
	dialer := &gaugeDialer{}
	d := NewDispatcher(DispatcherConfig{BatchTimeout: 5 * time.Second}, NewSemaphoreLimiter(2), NewRegistry(), SessionDeps{
		Dialer: dialer,
	}, nil)

	if _, err := d.Dispatch(context.Background(), batchRequests(8)); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if got := dialer.max.Load(); got > 2 {
		t.Fatalf("concurrency cap violated: %d sessions ran at once", got)
	}
}

func TestDispatchOne_ReturnsSingleEntry(t *testing.T) {
	reg := NewRegistry()
	dialer := &answeringDialer{registry: reg}
	d := NewDispatcher(DispatcherConfig{BatchTimeout: 5 * time.Second}, nil, reg, SessionDeps{
		Dialer:      dialer,
		Runner:      completingRunner,
		DialTimeout: 2 * time.Second,
	}, nil)

	entry, err := d.DispatchOne(context.Background(), testRequest())
	if err != nil {
		t.Fatalf("DispatchOne: %v", err)
	}
	if !entry.Success || entry.CallID == "" {
		t.Fatalf("unexpected entry: %+v", entry)
	}
	if entry.State != StateCompleted {
		t.Fatalf("no analyzer configured, expected Completed, got %s", entry.State)
	}
}
