package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"eqshard/pkg/eqshard/errors"
)

// ServerClient calls an OpenAI-compatible llama-server over HTTP.
type ServerClient struct {
	endpoint  string
	model     string
	maxTokens int
	httpc     *http.Client
}

// NewServerClient creates a client for the server at endpoint.
// timeout bounds each individual request, independent of any retry loop
// wrapped around the client.
func NewServerClient(endpoint, model string, maxTokens int, timeout time.Duration) *ServerClient {
	return &ServerClient{
		endpoint:  endpoint,
		model:     model,
		maxTokens: maxTokens,
		httpc:     &http.Client{Timeout: timeout},
	}
}

// Endpoint returns the server address this client talks to.
func (c *ServerClient) Endpoint() string {
	return c.endpoint
}

// chatRequest is the /v1/chat/completions payload. Sampling is pinned to
// deterministic settings; extraction wants reproducible JSON, not variety.
type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature float64       `json:"temperature"`
	TopP        float64       `json:"top_p"`
	N           int           `json:"n"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// errorEnvelope is the error body llama-server returns on non-200.
type errorEnvelope struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Complete implements Client.
func (c *ServerClient) Complete(ctx context.Context, prompt string) (string, error) {
	payload := chatRequest{
		Model:       c.model,
		Messages:    []chatMessage{{Role: "user", Content: prompt}},
		MaxTokens:   c.maxTokens,
		Temperature: 0.0,
		TopP:        1.0,
		N:           1,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	url := c.endpoint + "/v1/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		// Transport-level failure: the server may not be listening yet.
		return "", &errors.ConnectionError{Endpoint: url, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &errors.ConnectionError{Endpoint: url, Err: err}
	}

	if resp.StatusCode != http.StatusOK {
		msg := string(raw)
		var envelope errorEnvelope
		if json.Unmarshal(raw, &envelope) == nil && envelope.Error.Message != "" {
			msg = envelope.Error.Message
		}
		return "", &errors.HTTPError{StatusCode: resp.StatusCode, Message: msg, Endpoint: url}
	}

	var parsed chatResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", fmt.Errorf("parse response from %s: %w: %s", url, err, raw)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("unexpected chat/completions schema from %s: %s", url, raw)
	}
	return parsed.Choices[0].Message.Content, nil
}
