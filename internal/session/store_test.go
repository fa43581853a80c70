package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/peerlink/rendezvous/internal/metrics"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fakeHandle struct {
	mu        sync.Mutex
	delivered []json.RawMessage
	ch        chan json.RawMessage
}

func newFakeHandle() *fakeHandle {
	return &fakeHandle{ch: make(chan json.RawMessage, 1)}
}

func (h *fakeHandle) Deliver(answer json.RawMessage) {
	h.mu.Lock()
	h.delivered = append(h.delivered, answer)
	h.mu.Unlock()
	select {
	case h.ch <- answer:
	default:
	}
}

// newTestStore returns a store whose grace timers are captured instead of
// scheduled, so tests fire them explicitly.
func newTestStore(t *testing.T, clock Clock) (*Store, *[]func()) {
	t.Helper()
	st := New(0, metrics.New(), clock)
	var pending []func()
	var mu sync.Mutex
	st.afterFunc = func(d time.Duration, fn func()) *time.Timer {
		if d != CompletionGrace {
			t.Errorf("grace delay=%v, want %v", d, CompletionGrace)
		}
		mu.Lock()
		pending = append(pending, fn)
		mu.Unlock()
		return time.NewTimer(time.Hour)
	}
	return st, &pending
}

func TestStore_UnknownCodeIsNotFound(t *testing.T) {
	st, _ := newTestStore(t, nil)

	if _, err := st.RequestOffer("ZZZ999", nil); !errors.Is(err, ErrNotFound) {
		t.Fatalf("RequestOffer err=%v, want ErrNotFound", err)
	}
	if _, err := st.GetAnswer("ZZZ999"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("GetAnswer err=%v, want ErrNotFound", err)
	}
	if err := st.SubmitAnswer("ZZZ999", json.RawMessage(`"x"`)); !errors.Is(err, ErrNotFound) {
		t.Fatalf("SubmitAnswer err=%v, want ErrNotFound", err)
	}
}

func TestStore_FullExchange(t *testing.T) {
	st, pending := newTestStore(t, nil)
	producer := newFakeHandle()

	if err := st.StoreOffer("ABC123", json.RawMessage(`"sdp-offer-1"`), producer); err != nil {
		t.Fatalf("StoreOffer: %v", err)
	}

	offer, err := st.RequestOffer("ABC123", newFakeHandle())
	if err != nil {
		t.Fatalf("RequestOffer: %v", err)
	}
	if string(offer) != `"sdp-offer-1"` {
		t.Fatalf("offer=%s, want %q", offer, "sdp-offer-1")
	}

	// Non-destructive read: a second request returns the same offer.
	again, err := st.RequestOffer("ABC123", newFakeHandle())
	if err != nil {
		t.Fatalf("second RequestOffer: %v", err)
	}
	if string(again) != string(offer) {
		t.Fatalf("second offer=%s, want %s", again, offer)
	}

	if err := st.SubmitAnswer("ABC123", json.RawMessage(`"sdp-answer-1"`)); err != nil {
		t.Fatalf("SubmitAnswer: %v", err)
	}

	select {
	case got := <-producer.ch:
		if string(got) != `"sdp-answer-1"` {
			t.Fatalf("delivered=%s, want %q", got, "sdp-answer-1")
		}
	case <-time.After(time.Second):
		t.Fatal("answer was not delivered to producer handle")
	}

	ans, err := st.GetAnswer("ABC123")
	if err != nil {
		t.Fatalf("GetAnswer: %v", err)
	}
	if string(ans) != `"sdp-answer-1"` {
		t.Fatalf("answer=%s, want %q", ans, "sdp-answer-1")
	}

	// Retrieval is one-shot.
	if _, err := st.GetAnswer("ABC123"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("second GetAnswer err=%v, want ErrNotFound", err)
	}

	if len(*pending) != 1 {
		t.Fatalf("scheduled grace timers=%d, want 1", len(*pending))
	}
}

func TestStore_GetAnswerBeforeCompletionIsNotReady(t *testing.T) {
	st, _ := newTestStore(t, nil)

	if err := st.StoreOffer("A", json.RawMessage(`"o"`), newFakeHandle()); err != nil {
		t.Fatalf("StoreOffer: %v", err)
	}
	if _, err := st.GetAnswer("A"); !errors.Is(err, ErrNotReady) {
		t.Fatalf("GetAnswer err=%v, want ErrNotReady", err)
	}
	if _, err := st.RequestOffer("A", nil); err != nil {
		t.Fatalf("RequestOffer: %v", err)
	}
	if _, err := st.GetAnswer("A"); !errors.Is(err, ErrNotReady) {
		t.Fatalf("GetAnswer after match err=%v, want ErrNotReady", err)
	}
}

func TestStore_SubmitWithoutProducerIsNotFound(t *testing.T) {
	st, _ := newTestStore(t, nil)

	if err := st.StoreOffer("A", json.RawMessage(`"o"`), nil); err != nil {
		t.Fatalf("StoreOffer: %v", err)
	}
	if err := st.SubmitAnswer("A", json.RawMessage(`"a"`)); !errors.Is(err, ErrNotFound) {
		t.Fatalf("SubmitAnswer err=%v, want ErrNotFound", err)
	}
}

func TestStore_CompletionGraceRetiresSession(t *testing.T) {
	st, pending := newTestStore(t, nil)
	producer := newFakeHandle()

	if err := st.StoreOffer("A", json.RawMessage(`"o"`), producer); err != nil {
		t.Fatalf("StoreOffer: %v", err)
	}
	if _, err := st.RequestOffer("A", nil); err != nil {
		t.Fatalf("RequestOffer: %v", err)
	}
	if err := st.SubmitAnswer("A", json.RawMessage(`"a"`)); err != nil {
		t.Fatalf("SubmitAnswer: %v", err)
	}
	if len(*pending) != 1 {
		t.Fatalf("scheduled grace timers=%d, want 1", len(*pending))
	}

	// Before the grace fires, the polling producer can still collect.
	if st.ActiveSessions() != 1 {
		t.Fatalf("ActiveSessions=%d, want 1 during grace", st.ActiveSessions())
	}

	(*pending)[0]()

	if st.ActiveSessions() != 0 {
		t.Fatalf("ActiveSessions=%d, want 0 after grace", st.ActiveSessions())
	}
	if _, err := st.GetAnswer("A"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("GetAnswer after grace err=%v, want ErrNotFound", err)
	}
}

func TestStore_GraceDoesNotRetireOverwrittenCode(t *testing.T) {
	st, pending := newTestStore(t, nil)
	producer := newFakeHandle()

	if err := st.StoreOffer("A", json.RawMessage(`"o1"`), producer); err != nil {
		t.Fatalf("StoreOffer: %v", err)
	}
	if _, err := st.RequestOffer("A", nil); err != nil {
		t.Fatalf("RequestOffer: %v", err)
	}
	if err := st.SubmitAnswer("A", json.RawMessage(`"a1"`)); err != nil {
		t.Fatalf("SubmitAnswer: %v", err)
	}

	// The code is reused before the grace fires.
	if err := st.StoreOffer("A", json.RawMessage(`"o2"`), newFakeHandle()); err != nil {
		t.Fatalf("StoreOffer overwrite: %v", err)
	}

	(*pending)[0]()

	offer, err := st.RequestOffer("A", nil)
	if err != nil {
		t.Fatalf("RequestOffer after stale grace: %v", err)
	}
	if string(offer) != `"o2"` {
		t.Fatalf("offer=%s, want %q", offer, "o2")
	}
}

func TestStore_OverwriteReplacesOfferAndProducer(t *testing.T) {
	st, _ := newTestStore(t, nil)
	first := newFakeHandle()
	second := newFakeHandle()

	if err := st.StoreOffer("A", json.RawMessage(`"o1"`), first); err != nil {
		t.Fatalf("StoreOffer: %v", err)
	}
	if err := st.StoreOffer("A", json.RawMessage(`"o2"`), second); err != nil {
		t.Fatalf("StoreOffer overwrite: %v", err)
	}

	offer, err := st.RequestOffer("A", nil)
	if err != nil {
		t.Fatalf("RequestOffer: %v", err)
	}
	if string(offer) != `"o2"` {
		t.Fatalf("offer=%s, want %q", offer, "o2")
	}

	if err := st.SubmitAnswer("A", json.RawMessage(`"a"`)); err != nil {
		t.Fatalf("SubmitAnswer: %v", err)
	}

	select {
	case <-second.ch:
	case <-time.After(time.Second):
		t.Fatal("answer not delivered to the new producer")
	}
	if len(first.delivered) != 0 {
		t.Fatalf("orphaned producer received %d deliveries, want 0", len(first.delivered))
	}
	if got := st.Metrics().Get(metrics.SessionsOverwritten); got != 1 {
		t.Fatalf("sessions_overwritten=%d, want 1", got)
	}
}

func TestStore_ReleaseHandleDropsOwnedSessions(t *testing.T) {
	st, _ := newTestStore(t, nil)
	producer := newFakeHandle()
	consumer := newFakeHandle()

	if err := st.StoreOffer("XYZ", json.RawMessage(`"o"`), producer); err != nil {
		t.Fatalf("StoreOffer: %v", err)
	}
	if err := st.StoreOffer("KEEP", json.RawMessage(`"k"`), newFakeHandle()); err != nil {
		t.Fatalf("StoreOffer: %v", err)
	}

	// Producer disconnects before any request-offer: the orphaned session is
	// deleted, later lookups fail.
	st.ReleaseHandle(producer)
	if _, err := st.RequestOffer("XYZ", nil); !errors.Is(err, ErrNotFound) {
		t.Fatalf("RequestOffer after release err=%v, want ErrNotFound", err)
	}
	if _, err := st.RequestOffer("KEEP", consumer); err != nil {
		t.Fatalf("unrelated session was dropped: %v", err)
	}

	// Consumer disconnects after matching but before answering: the session
	// is unrecoverable and deleted.
	st.ReleaseHandle(consumer)
	if _, err := st.RequestOffer("KEEP", nil); !errors.Is(err, ErrNotFound) {
		t.Fatalf("RequestOffer after consumer release err=%v, want ErrNotFound", err)
	}

	if got := st.Metrics().Get(metrics.SessionsReleased); got != 2 {
		t.Fatalf("sessions_released=%d, want 2", got)
	}
}

func TestStore_SweepExpired(t *testing.T) {
	clock := newFakeClock()
	st, _ := newTestStore(t, clock)

	if err := st.StoreOffer("OLD", json.RawMessage(`"o"`), newFakeHandle()); err != nil {
		t.Fatalf("StoreOffer: %v", err)
	}
	clock.Advance(MaxAge + time.Second)
	if err := st.StoreOffer("NEW", json.RawMessage(`"n"`), newFakeHandle()); err != nil {
		t.Fatalf("StoreOffer: %v", err)
	}

	if n := st.SweepExpired(MaxAge); n != 1 {
		t.Fatalf("SweepExpired=%d, want 1", n)
	}
	if _, err := st.RequestOffer("OLD", nil); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expired session still reachable: %v", err)
	}
	if _, err := st.RequestOffer("NEW", nil); err != nil {
		t.Fatalf("fresh session was swept: %v", err)
	}
	if got := st.Metrics().Get(metrics.SessionsExpired); got != 1 {
		t.Fatalf("sessions_expired=%d, want 1", got)
	}
}

func TestStore_MaxSessionsGuardsNewCodesOnly(t *testing.T) {
	st := New(1, metrics.New(), nil)

	if err := st.StoreOffer("A", json.RawMessage(`"o"`), nil); err != nil {
		t.Fatalf("StoreOffer: %v", err)
	}
	if err := st.StoreOffer("B", json.RawMessage(`"o"`), nil); !errors.Is(err, ErrTooManySessions) {
		t.Fatalf("StoreOffer err=%v, want ErrTooManySessions", err)
	}
	// Overwriting a live code does not count against the cap.
	if err := st.StoreOffer("A", json.RawMessage(`"o2"`), nil); err != nil {
		t.Fatalf("StoreOffer overwrite: %v", err)
	}
	if got := st.Metrics().Get(metrics.DropTooManySessions); got != 1 {
		t.Fatalf("too_many_sessions=%d, want 1", got)
	}
}

func TestStore_ConcurrentExchanges(t *testing.T) {
	st, _ := newTestStore(t, nil)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			code := fmt.Sprintf("code-%d", i)
			offer := json.RawMessage(fmt.Sprintf(`"offer-%d"`, i))
			answer := json.RawMessage(fmt.Sprintf(`"answer-%d"`, i))
			producer := newFakeHandle()

			if err := st.StoreOffer(code, offer, producer); err != nil {
				t.Errorf("StoreOffer(%s): %v", code, err)
				return
			}
			got, err := st.RequestOffer(code, newFakeHandle())
			if err != nil {
				t.Errorf("RequestOffer(%s): %v", code, err)
				return
			}
			if string(got) != string(offer) {
				t.Errorf("offer(%s)=%s, want %s", code, got, offer)
				return
			}
			if err := st.SubmitAnswer(code, answer); err != nil {
				t.Errorf("SubmitAnswer(%s): %v", code, err)
				return
			}
			gotAns, err := st.GetAnswer(code)
			if err != nil {
				t.Errorf("GetAnswer(%s): %v", code, err)
				return
			}
			if string(gotAns) != string(answer) {
				t.Errorf("answer(%s)=%s, want %s", code, gotAns, answer)
			}
		}(i)
	}
	wg.Wait()

	if st.ActiveSessions() != 0 {
		t.Fatalf("ActiveSessions=%d, want 0 after all exchanges", st.ActiveSessions())
	}
}
