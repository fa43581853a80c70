package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
)

// PullClient talks to the relay's HTTP binding. It suits peers that cannot
// hold a WebSocket open; the cost is that the producer must poll for the
// answer instead of having it pushed.
type PullClient struct {
	// BaseURL is the relay root, e.g. http://host:3001.
	BaseURL string
	// HTTPClient defaults to http.DefaultClient. Note that PollAnswer holds a
	// request open for up to ~30s, so any custom timeout must allow that.
	HTTPClient *http.Client
}

type signalResponse struct {
	Success bool            `json:"success"`
	Offer   json.RawMessage `json:"offer"`
	Answer  json.RawMessage `json:"answer"`
	Error   string          `json:"error"`
}

func (c *PullClient) httpClient() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return http.DefaultClient
}

func (c *PullClient) post(ctx context.Context, body map[string]any) (int, signalResponse, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return 0, signalResponse{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/api/signal", bytes.NewReader(payload))
	if err != nil {
		return 0, signalResponse{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient().Do(req)
	if err != nil {
		return 0, signalResponse{}, err
	}
	defer resp.Body.Close()

	var out signalResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return resp.StatusCode, signalResponse{}, fmt.Errorf("decode relay response: %w", err)
	}
	return resp.StatusCode, out, nil
}

// StoreOffer publishes the offer under code.
func (c *PullClient) StoreOffer(ctx context.Context, code string, offer json.RawMessage) error {
	status, out, err := c.post(ctx, map[string]any{"action": "store-offer", "code": code, "offer": offer})
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return &RelayError{Reason: out.Error}
	}
	return nil
}

// GetOffer retrieves the offer stored under code.
func (c *PullClient) GetOffer(ctx context.Context, code string) (json.RawMessage, error) {
	status, out, err := c.post(ctx, map[string]any{"action": "get-offer", "code": code})
	if err != nil {
		return nil, err
	}
	switch status {
	case http.StatusOK:
		return out.Offer, nil
	case http.StatusNotFound:
		return nil, ErrNotFound
	default:
		return nil, &RelayError{Reason: out.Error}
	}
}

// StoreAnswer submits the answer for code.
func (c *PullClient) StoreAnswer(ctx context.Context, code string, answer json.RawMessage) error {
	status, out, err := c.post(ctx, map[string]any{"action": "store-answer", "code": code, "answer": answer})
	if err != nil {
		return err
	}
	switch status {
	case http.StatusOK:
		return nil
	case http.StatusNotFound:
		return ErrNotFound
	default:
		return &RelayError{Reason: out.Error}
	}
}

// GetAnswer checks once for the answer. The relay deletes the session on a
// successful retrieval.
func (c *PullClient) GetAnswer(ctx context.Context, code string) (json.RawMessage, error) {
	status, out, err := c.post(ctx, map[string]any{"action": "get-answer", "code": code})
	if err != nil {
		return nil, err
	}
	switch status {
	case http.StatusOK:
		return out.Answer, nil
	case http.StatusNotFound:
		return nil, ErrNotFound
	default:
		return nil, &RelayError{Reason: out.Error}
	}
}

// PollAnswer asks the relay to wait for the answer; the server holds the
// request open, checking once per second for up to ~30 seconds.
func (c *PullClient) PollAnswer(ctx context.Context, code string) (json.RawMessage, error) {
	q := url.Values{}
	q.Set("action", "poll-answer")
	q.Set("code", code)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/api/signal?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient().Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var out signalResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode relay response: %w", err)
	}

	switch resp.StatusCode {
	case http.StatusOK:
		return out.Answer, nil
	case http.StatusRequestTimeout:
		return nil, ErrAnswerTimeout
	default:
		return nil, &RelayError{Reason: out.Error}
	}
}
