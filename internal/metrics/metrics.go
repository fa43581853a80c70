package metrics

import "sync"

// Event names tracked by the rendezvous server.
const (
	OffersStored        = "offers_stored"
	OffersRequested     = "offers_requested"
	AnswersDelivered    = "answers_delivered"
	AnswersRetrieved    = "answers_retrieved"
	SessionsOverwritten = "sessions_overwritten"
	SessionsExpired     = "sessions_expired"
	SessionsReleased    = "sessions_released"
	PollTimeouts        = "poll_timeouts"
	MalformedMessages   = "malformed_messages"
	DropTooManySessions = "too_many_sessions"
)

// Metrics is a minimal, concurrency-safe counter registry. It keeps the
// session store and transports observable without pulling a full metrics
// backend into the server; counters are scraped through the Prometheus text
// handler.
type Metrics struct {
	mu sync.Mutex
	m  map[string]uint64
}

func New() *Metrics {
	return &Metrics{
		m: make(map[string]uint64),
	}
}

func (m *Metrics) Inc(name string) {
	m.Add(name, 1)
}

func (m *Metrics) Add(name string, delta uint64) {
	m.mu.Lock()
	m.m[name] += delta
	m.mu.Unlock()
}

func (m *Metrics) Get(name string) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.m[name]
}

// Snapshot returns a copy of every counter.
func (m *Metrics) Snapshot() map[string]uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]uint64, len(m.m))
	for k, v := range m.m {
		out[k] = v
	}
	return out
}
