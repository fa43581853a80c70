// Package httpapi implements the pull transport binding: the rendezvous
// operations as discrete request/response calls for clients that cannot hold
// a WebSocket open, plus a bounded server-side wait for the answer.
package httpapi

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/peerlink/rendezvous/internal/metrics"
	"github.com/peerlink/rendezvous/internal/session"
)

// API serves /api/signal. POST bodies carry {action, code, offer?, answer?};
// GET carries ?action=poll-answer&code=... for the long wait.
type API struct {
	store   *session.Store
	log     *slog.Logger
	metrics *metrics.Metrics

	// Poll pacing; fixed protocol constants in production, shortened by tests.
	pollInterval    time.Duration
	pollMaxAttempts int
}

func New(store *session.Store, log *slog.Logger) *API {
	return &API{
		store:           store,
		log:             log,
		metrics:         store.Metrics(),
		pollInterval:    session.PollInterval,
		pollMaxAttempts: session.PollMaxAttempts,
	}
}

type signalRequest struct {
	Action string          `json:"action"`
	Code   string          `json:"code"`
	Offer  json.RawMessage `json:"offer,omitempty"`
	Answer json.RawMessage `json:"answer,omitempty"`
}

func (a *API) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// The pull binding is reachable from any browser origin; codes are the
	// only pairing secret.
	h := w.Header()
	h.Set("Access-Control-Allow-Origin", "*")
	h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	h.Set("Access-Control-Allow-Headers", "Content-Type")

	switch r.Method {
	case http.MethodOptions:
		w.WriteHeader(http.StatusOK)
	case http.MethodPost:
		a.handlePost(w, r)
	case http.MethodGet:
		a.handleGet(w, r)
	default:
		writeJSON(w, http.StatusMethodNotAllowed, map[string]any{"error": "Method not allowed"})
	}
}

func (a *API) handlePost(w http.ResponseWriter, r *http.Request) {
	var req signalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "Invalid request body"})
		return
	}

	switch req.Action {
	case "store-offer":
		// The mailbox records this producer's identity in the store; the
		// answer itself is collected by polling, so delivery is a no-op
		// beyond marking the session complete.
		if err := a.store.StoreOffer(req.Code, req.Offer, newMailbox(req.Code)); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{"error": "Server is at capacity"})
			return
		}
		a.log.Info("offer stored", "code", req.Code, "transport", "http")
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "Offer stored"})

	case "get-offer":
		offer, err := a.store.RequestOffer(req.Code, nil)
		if err != nil {
			writeJSON(w, http.StatusNotFound, map[string]any{"error": "Code not found or expired"})
			return
		}
		a.log.Info("offer requested", "code", req.Code, "transport", "http")
		writeJSON(w, http.StatusOK, map[string]any{"offer": offer})

	case "store-answer":
		if err := a.store.SubmitAnswer(req.Code, req.Answer); err != nil {
			writeJSON(w, http.StatusNotFound, map[string]any{"error": "Code not found or expired"})
			return
		}
		a.log.Info("answer stored", "code", req.Code, "transport", "http")
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "Answer stored"})

	case "get-answer":
		answer, err := a.store.GetAnswer(req.Code)
		if err != nil {
			writeJSON(w, http.StatusNotFound, map[string]any{"error": "Answer not ready"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"answer": answer})

	default:
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "Invalid action"})
	}
}

func (a *API) handleGet(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if q.Get("action") != "poll-answer" || q.Get("code") == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "Invalid request"})
		return
	}
	a.pollAnswer(w, r, q.Get("code"))
}

// pollAnswer is the single long wait in the system: a bounded retry loop over
// GetAnswer rather than a blocking call, because the underlying transport is
// request/response. It aborts as soon as the caller goes away.
func (a *API) pollAnswer(w http.ResponseWriter, r *http.Request, code string) {
	ctx := r.Context()
	timer := time.NewTimer(a.pollInterval)
	defer timer.Stop()

	for attempts := 0; ; attempts++ {
		answer, err := a.store.GetAnswer(code)
		if err == nil {
			writeJSON(w, http.StatusOK, map[string]any{"answer": answer})
			return
		}
		if attempts >= a.pollMaxAttempts {
			a.metrics.Inc(metrics.PollTimeouts)
			writeJSON(w, http.StatusRequestTimeout, map[string]any{"error": "Timeout waiting for answer"})
			return
		}

		timer.Reset(a.pollInterval)
		select {
		case <-ctx.Done():
			// Caller disconnected mid-wait. Nothing to clean up beyond what a
			// normal timeout would leave behind.
			return
		case <-timer.C:
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
