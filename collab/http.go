package collab

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// DefaultTimeout bounds a single collaborator round trip.
const DefaultTimeout = 5 * time.Second

// httpClient is the shared plumbing for all collaborator endpoints:
// POST a JSON body, expect a JSON response, fail on non-2xx.
type httpClient struct {
	baseURL string
	client  *http.Client
}

func newHTTPClient(baseURL string, timeout time.Duration) httpClient {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return httpClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

func (c httpClient) post(ctx context.Context, path string, reqBody, respBody any) error {
	data, err := json.Marshal(reqBody)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s: status %d: %s", path, resp.StatusCode, body)
	}

	if respBody == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(respBody); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// HTTPSimilarityScorer talks to the vector/semantic-similarity service.
type HTTPSimilarityScorer struct {
	httpClient
}

func NewHTTPSimilarityScorer(baseURL string, timeout time.Duration) *HTTPSimilarityScorer {
	return &HTTPSimilarityScorer{newHTTPClient(baseURL, timeout)}
}

func (s *HTTPSimilarityScorer) Score(ctx context.Context, query, corpus string, tags []string) (float64, error) {
	var resp struct {
		Score float64 `json:"score"`
	}
	err := s.post(ctx, "/score", map[string]any{
		"query":  query,
		"corpus": corpus,
		"tags":   tags,
	}, &resp)
	if err != nil {
		return 0, err
	}
	return resp.Score, nil
}

// HTTPGraphQuerier talks to the knowledge-graph triple store.
type HTTPGraphQuerier struct {
	httpClient
}

func NewHTTPGraphQuerier(baseURL string, timeout time.Duration) *HTTPGraphQuerier {
	return &HTTPGraphQuerier{newHTTPClient(baseURL, timeout)}
}

func (g *HTTPGraphQuerier) Query(ctx context.Context, query string) ([]map[string]any, error) {
	var resp struct {
		Rows []map[string]any `json:"rows"`
	}
	if err := g.post(ctx, "/query", map[string]any{"query": query}, &resp); err != nil {
		return nil, err
	}
	return resp.Rows, nil
}

// HTTPPromptExecutor talks to the LLM prompt-execution service.
type HTTPPromptExecutor struct {
	httpClient
}

func NewHTTPPromptExecutor(baseURL string, timeout time.Duration) *HTTPPromptExecutor {
	return &HTTPPromptExecutor{newHTTPClient(baseURL, timeout)}
}

func (p *HTTPPromptExecutor) Execute(ctx context.Context, promptID string, params map[string]any) (string, error) {
	var resp struct {
		Text string `json:"text"`
	}
	err := p.post(ctx, "/execute", map[string]any{
		"promptId":   promptID,
		"parameters": params,
	}, &resp)
	if err != nil {
		return "", err
	}
	return resp.Text, nil
}

// HTTPWorkflowSignaler talks to the workflow orchestration service.
type HTTPWorkflowSignaler struct {
	httpClient
}

func NewHTTPWorkflowSignaler(baseURL string, timeout time.Duration) *HTTPWorkflowSignaler {
	return &HTTPWorkflowSignaler{newHTTPClient(baseURL, timeout)}
}

func (w *HTTPWorkflowSignaler) Signal(ctx context.Context, workflowID, eventName string, payload map[string]any) error {
	return w.post(ctx, "/signal", map[string]any{
		"workflowId": workflowID,
		"eventName":  eventName,
		"payload":    payload,
	}, nil)
}

// HTTPIntentEmitter talks to the intent bus.
type HTTPIntentEmitter struct {
	httpClient
}

func NewHTTPIntentEmitter(baseURL string, timeout time.Duration) *HTTPIntentEmitter {
	return &HTTPIntentEmitter{newHTTPClient(baseURL, timeout)}
}

func (i *HTTPIntentEmitter) Emit(ctx context.Context, intentType, urgency string, payload map[string]any) error {
	return i.post(ctx, "/emit", map[string]any{
		"intentType": intentType,
		"urgency":    urgency,
		"payload":    payload,
	}, nil)
}
