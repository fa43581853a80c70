package session

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/peerlink/rendezvous/internal/metrics"
)

// Store is the shared session table. All methods are safe for concurrent use;
// a single mutex serializes every state transition so that an overwrite and a
// concurrent match can never interleave into a torn session. No method blocks
// on I/O while holding the lock: answer delivery happens after unlock.
type Store struct {
	metrics     *metrics.Metrics
	clock       Clock
	maxSessions int

	// afterFunc schedules the post-completion retirement; swapped out by
	// tests that cannot wait out the real grace period.
	afterFunc func(d time.Duration, fn func()) *time.Timer

	mu       sync.Mutex
	sessions map[string]*session
}

// New creates an empty store. maxSessions caps the number of concurrently
// live codes (0 means unlimited). A nil clock uses the real time.
func New(maxSessions int, m *metrics.Metrics, clock Clock) *Store {
	if m == nil {
		m = metrics.New()
	}
	if clock == nil {
		clock = RealClock{}
	}
	return &Store{
		metrics:     m,
		clock:       clock,
		maxSessions: maxSessions,
		afterFunc:   time.AfterFunc,
		sessions:    make(map[string]*session),
	}
}

// Metrics returns the counter registry shared with the transports.
func (s *Store) Metrics() *metrics.Metrics { return s.metrics }

// ActiveSessions reports the number of live codes.
func (s *Store) ActiveSessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// StoreOffer creates a session for code in the pending state, or overwrites a
// live one (last writer wins; codes are short-lived and caller-chosen). Any
// handles attached to an overwritten session are orphaned, not closed — the
// owning transport remains responsible for its own connections.
//
// producer is the handle that will receive the answer push. It may be nil for
// transports that have no delivery path at store time, in which case
// SubmitAnswer for this code fails with ErrNotFound.
func (s *Store) StoreOffer(code string, offer json.RawMessage, producer Handle) error {
	now := s.clock.Now()

	s.mu.Lock()
	if _, exists := s.sessions[code]; !exists {
		if s.maxSessions > 0 && len(s.sessions) >= s.maxSessions {
			s.mu.Unlock()
			s.metrics.Inc(metrics.DropTooManySessions)
			return ErrTooManySessions
		}
	} else {
		s.metrics.Inc(metrics.SessionsOverwritten)
	}
	s.sessions[code] = &session{
		code:      code,
		offer:     offer,
		producer:  producer,
		createdAt: now,
		state:     StatePending,
	}
	s.mu.Unlock()

	s.metrics.Inc(metrics.OffersStored)
	return nil
}

// RequestOffer attaches the consumer to the session for code and returns the
// stored offer. The read is non-destructive: a repeated request returns the
// same offer and replaces the consumer handle. consumer may be nil for the
// pull transport, which returns the offer synchronously and never needs a
// push back to the consumer.
func (s *Store) RequestOffer(code string, consumer Handle) (json.RawMessage, error) {
	s.mu.Lock()
	sess, ok := s.sessions[code]
	if !ok {
		s.mu.Unlock()
		return nil, ErrNotFound
	}
	sess.consumer = consumer
	if sess.state == StatePending {
		sess.state = StateMatched
	}
	offer := sess.offer
	s.mu.Unlock()

	s.metrics.Inc(metrics.OffersRequested)
	return offer, nil
}

// SubmitAnswer records the consumer's answer, pushes it to the producer
// handle, and schedules the session's retirement after the completion grace.
// It fails with ErrNotFound when no session exists for code or the session
// has no producer handle to deliver to.
//
// Delivery is a fire-and-forget handoff performed after the store's lock is
// released; the store never waits on a transport write.
func (s *Store) SubmitAnswer(code string, answer json.RawMessage) error {
	s.mu.Lock()
	sess, ok := s.sessions[code]
	if !ok || sess.producer == nil {
		s.mu.Unlock()
		return ErrNotFound
	}
	// First answer wins; a duplicate submit re-delivers but does not mutate.
	if sess.state != StateCompleted {
		sess.answer = answer
		sess.state = StateCompleted
	}
	producer := sess.producer
	delivered := sess.answer
	s.mu.Unlock()

	producer.Deliver(delivered)
	s.metrics.Inc(metrics.AnswersDelivered)

	// Retire the session after a grace window so a polling producer can
	// complete one more round-trip. Guarded by pointer identity: if the code
	// was overwritten in the meantime, the new session survives.
	s.afterFunc(CompletionGrace, func() {
		s.mu.Lock()
		if cur, ok := s.sessions[code]; ok && cur == sess {
			delete(s.sessions, code)
		}
		s.mu.Unlock()
	})
	return nil
}

// GetAnswer returns the answer for code once the exchange has completed, and
// deletes the session on the way out (answer retrieval is one-shot). While
// the session exists but has no answer yet it returns ErrNotReady; once the
// session is gone it returns ErrNotFound.
func (s *Store) GetAnswer(code string) (json.RawMessage, error) {
	s.mu.Lock()
	sess, ok := s.sessions[code]
	if !ok {
		s.mu.Unlock()
		return nil, ErrNotFound
	}
	if sess.state != StateCompleted {
		s.mu.Unlock()
		return nil, ErrNotReady
	}
	delete(s.sessions, code)
	answer := sess.answer
	s.mu.Unlock()

	s.metrics.Inc(metrics.AnswersRetrieved)
	return answer, nil
}

// ReleaseHandle drops every session that reaches the given handle as its
// producer or consumer. A pending session without a producer can never
// complete, and a matched session without its consumer can never be answered,
// so both are deleted outright.
func (s *Store) ReleaseHandle(h Handle) {
	if h == nil {
		return
	}

	released := 0
	s.mu.Lock()
	for code, sess := range s.sessions {
		if sess.producer == h || sess.consumer == h {
			delete(s.sessions, code)
			released++
		}
	}
	s.mu.Unlock()

	if released > 0 {
		s.metrics.Add(metrics.SessionsReleased, uint64(released))
	}
}

// SweepExpired deletes every session older than maxAge, regardless of state,
// and reports how many were removed.
func (s *Store) SweepExpired(maxAge time.Duration) int {
	cutoff := s.clock.Now().Add(-maxAge)

	expired := 0
	s.mu.Lock()
	for code, sess := range s.sessions {
		if sess.createdAt.Before(cutoff) {
			delete(s.sessions, code)
			expired++
		}
	}
	s.mu.Unlock()

	if expired > 0 {
		s.metrics.Add(metrics.SessionsExpired, uint64(expired))
	}
	return expired
}
