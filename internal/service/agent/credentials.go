package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	agentmodel "github.com/SeanZCai/treehacks-agentic-surgeon/internal/model/agent"
)

var (
	// ErrAgentNotConfigured is returned when no agent id is configured.
	ErrAgentNotConfigured = errors.New("agent id not configured")
)

// CredentialIssuer 签发单次会话使用的 WebSocket 地址。
type CredentialIssuer struct {
	cfg        agentmodel.AgentConfig
	httpClient *http.Client
}

// NewCredentialIssuer creates an issuer for the configured agent.
func NewCredentialIssuer(cfg agentmodel.AgentConfig) *CredentialIssuer {
	timeout := time.Duration(cfg.Timeout) * time.Second
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &CredentialIssuer{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Issue returns a signed URL when an API key is configured, otherwise the public
// agent URL.
func (i *CredentialIssuer) Issue(ctx context.Context) (string, error) {
	if strings.TrimSpace(i.cfg.AgentID) == "" {
		return "", ErrAgentNotConfigured
	}

	if i.cfg.APIKey == "" {
		return publicURL(i.cfg.WSBaseURL, i.cfg.AgentID)
	}

	endpoint, err := url.Parse(strings.TrimRight(i.cfg.BaseURL, "/") + "/v1/convai/conversation/get_signed_url")
	if err != nil {
		return "", fmt.Errorf("invalid agent base url: %w", err)
	}
	q := endpoint.Query()
	q.Set("agent_id", i.cfg.AgentID)
	endpoint.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return "", fmt.Errorf("build signed url request: %w", err)
	}
	req.Header.Set("xi-api-key", i.cfg.APIKey)

	resp, err := i.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("request signed url: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("signed url status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var payload struct {
		SignedURL string `json:"signed_url"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", fmt.Errorf("decode signed url: %w", err)
	}
	if payload.SignedURL == "" {
		return "", fmt.Errorf("signed url missing from response")
	}
	return payload.SignedURL, nil
}

func publicURL(base, agentID string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("invalid agent websocket url: %w", err)
	}
	q := u.Query()
	q.Set("agent_id", agentID)
	u.RawQuery = q.Encode()
	return u.String(), nil
}
