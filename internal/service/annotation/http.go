package annotation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// HTTPClient calls a remote compliance endpoint.
type HTTPClient struct {
	url        string
	httpClient *http.Client
}

type httpRequest struct {
	ConversationText string `json:"conversationText"`
}

type httpResponse struct {
	Response string `json:"response"`
	Error    string `json:"error"`
}

// NewHTTPClient 创建远端合规服务客户端。
func NewHTTPClient(url string, timeout time.Duration) *HTTPClient {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPClient{
		url:        url,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Annotate posts the conversation and returns the endpoint's response text.
// Any non-2xx status is a failure.
func (c *HTTPClient) Annotate(ctx context.Context, conversationText string) (string, error) {
	text, err := normalizeInput(conversationText)
	if err != nil {
		return "", err
	}

	body, err := json.Marshal(httpRequest{ConversationText: text})
	if err != nil {
		return "", fmt.Errorf("marshal compliance request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build compliance request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("call compliance api: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("read compliance response: %w", err)
	}

	var payload httpResponse
	decodeErr := json.Unmarshal(raw, &payload)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := strings.TrimSpace(payload.Error)
		if msg == "" {
			msg = strings.TrimSpace(string(raw))
		}
		return "", fmt.Errorf("compliance api status %d: %s", resp.StatusCode, msg)
	}
	if decodeErr != nil {
		return "", fmt.Errorf("decode compliance response: %w", decodeErr)
	}
	if payload.Error != "" {
		return "", fmt.Errorf("compliance api error: %s", payload.Error)
	}

	annotation := strings.TrimSpace(payload.Response)
	if annotation == "" {
		return "", ErrEmptyResponse
	}
	return annotation, nil
}
