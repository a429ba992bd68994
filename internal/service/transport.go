package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// TransportRequest carries everything the agent backend needs to start (or
// restart) a run. AgentMessageID is the placeholder the stream will fill.
type TransportRequest struct {
	SessionID      string `json:"session_id"`
	AgentMessageID string `json:"agent_message_id"`
	Content        string `json:"content"`
	RunnerID       string `json:"runner_id,omitempty"`
	RunnerType     string `json:"runner_type,omitempty"`
}

// TransportRequester dispatches runs to the agent backend. The backend
// answers asynchronously through the callback surface, so a nil error only
// means the request was accepted.
type TransportRequester interface {
	Dispatch(ctx context.Context, req TransportRequest) error
}

// TransportError is a dispatch rejection with the upstream status attached,
// so the failure pipeline can classify on the code before the text.
type TransportError struct {
	StatusCode int
	Message    string
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport dispatch failed (%d): %s", e.StatusCode, e.Message)
}

type httpTransportRequester struct {
	baseURL string
	client  *http.Client
}

// NewHTTPTransportRequester talks to the agent backend over HTTP.
func NewHTTPTransportRequester(baseURL string) TransportRequester {
	return &httpTransportRequester{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

func (t *httpTransportRequester) Dispatch(ctx context.Context, req TransportRequest) error {
	body, err := json.Marshal(req)
	if err != nil {
		return err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+"/runs", bytes.NewReader(body))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(httpReq)
	if err != nil {
		return &TransportError{StatusCode: 0, Message: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &TransportError{StatusCode: resp.StatusCode, Message: string(raw)}
	}
	return nil
}
