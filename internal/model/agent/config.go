package agent

// AgentConfig 远端对话智能体（ElevenLabs Conversational AI）配置
type AgentConfig struct {
	APIKey    string `json:"apiKey,omitempty"` // xi-api-key，用于签发会话凭证
	AgentID   string `json:"agentId"`          // 智能体 ID
	BaseURL   string `json:"baseUrl"`          // REST 基础地址
	WSBaseURL string `json:"wsBaseUrl"`        // 公共智能体的 WebSocket 地址

	// 通用配置
	Timeout int `json:"timeout"` // seconds
}

// SessionConfig is handed to the streaming client when a session starts.
type SessionConfig struct {
	// Credential is a signed WebSocket URL issued for one session.
	Credential string `json:"credential"`
	// PromptOverride replaces the agent's role-defining prompt when set.
	PromptOverride string `json:"promptOverride,omitempty"`
	// Audio carries operator microphone frames (16kHz PCM) to the agent.
	Audio <-chan []byte `json:"-"`
}
