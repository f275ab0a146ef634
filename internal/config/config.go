package config

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino/components/model"
)

// Config 聚合整个服务的配置项。
type Config struct {
	Server     ServerConfig
	Agent      AgentConfig
	Annotation AnnotationConfig
	Store      StoreConfig
	Archive    ArchiveConfig
	Events     EventsConfig
	Recording  RecordingConfig
	Session    SessionConfig
}

// Load 从环境变量加载配置。
func Load() (*Config, error) {
	server, err := loadServerConfig()
	if err != nil {
		return nil, err
	}

	agent, err := loadAgentConfig()
	if err != nil {
		return nil, err
	}

	annotation, err := loadAnnotationConfig()
	if err != nil {
		return nil, err
	}

	archive, err := loadArchiveConfig()
	if err != nil {
		return nil, err
	}

	session, err := loadSessionConfig()
	if err != nil {
		return nil, err
	}

	return &Config{
		Server:     server,
		Agent:      agent,
		Annotation: annotation,
		Store:      loadStoreConfig(),
		Archive:    archive,
		Events:     loadEventsConfig(),
		Recording:  loadRecordingConfig(),
		Session:    session,
	}, nil
}

// ServerConfig 描述 HTTP 服务配置。
type ServerConfig struct {
	Addr string
}

// loadServerConfig 解析服务器监听地址。
func loadServerConfig() (ServerConfig, error) {
	port := strings.TrimSpace(os.Getenv("PORT"))
	if port == "" {
		port = "8080"
	}

	if strings.Contains(port, ":") {
		// 允许用户直接传入 ":8080" 或 "127.0.0.1:8080"。
		return ServerConfig{Addr: port}, nil
	}

	if strings.Contains(port, " ") {
		return ServerConfig{}, fmt.Errorf("invalid PORT value: %q", port)
	}

	return ServerConfig{Addr: ":" + port}, nil
}

// AgentConfig 描述远端对话智能体配置。
type AgentConfig struct {
	APIKey    string
	AgentID   string
	BaseURL   string
	WSBaseURL string
	Timeout   int
}

// Enabled 表示是否提供了智能体 ID。
func (c AgentConfig) Enabled() bool {
	return c.AgentID != ""
}

func loadAgentConfig() (AgentConfig, error) {
	timeout, err := parseOptionalIntEnv("ELEVENLABS_TIMEOUT")
	if err != nil {
		return AgentConfig{}, err
	}
	timeoutSeconds := 15
	if timeout != nil {
		timeoutSeconds = *timeout
	}

	return AgentConfig{
		APIKey:    strings.TrimSpace(os.Getenv("ELEVENLABS_API_KEY")),
		AgentID:   strings.TrimSpace(os.Getenv("ELEVENLABS_AGENT_ID")),
		BaseURL:   getEnvOrDefault("ELEVENLABS_BASE_URL", "https://api.elevenlabs.io"),
		WSBaseURL: getEnvOrDefault("ELEVENLABS_WS_URL", "wss://api.elevenlabs.io/v1/convai/conversation"),
		Timeout:   timeoutSeconds,
	}, nil
}

// Annotation providers.
const (
	ProviderHTTP    = "http"
	ProviderArk     = "ark"
	ProviderGemini  = "gemini"
	ProviderKeyword = "keyword"
)

// AnnotationConfig 描述合规分析服务配置。
type AnnotationConfig struct {
	Provider string
	Timeout  time.Duration
	Ordering string

	// 远端 HTTP 分类服务
	URL string

	// Ark 大模型
	APIKey      string
	AccessKey   string
	SecretKey   string
	Model       string
	BaseURL     string
	Region      string
	Temperature *float64
	MaxTokens   *int

	// Gemini
	GeminiAPIKey string
	GeminiModel  string
}

// ArkEnabled 表示是否提供了 Ark 所需的密钥。
func (c AnnotationConfig) ArkEnabled() bool {
	return c.Model != "" && (c.APIKey != "" || (c.AccessKey != "" && c.SecretKey != ""))
}

// NewChatModel 使用配置创建一个模型实例。
func (c AnnotationConfig) NewChatModel(ctx context.Context) (model.ChatModel, error) {
	if !c.ArkEnabled() {
		return nil, fmt.Errorf("Ark 凭证或模型配置缺失，至少提供 ARK_API_KEY + ARK_MODEL 或 AK/SK 组合")
	}

	var temperature *float32
	if c.Temperature != nil {
		val := float32(*c.Temperature)
		temperature = &val
	}

	cfg := &ark.ChatModelConfig{
		BaseURL:     c.BaseURL,
		Region:      c.Region,
		APIKey:      c.APIKey,
		AccessKey:   c.AccessKey,
		SecretKey:   c.SecretKey,
		Model:       c.Model,
		MaxTokens:   c.MaxTokens,
		Temperature: temperature,
	}

	return ark.NewChatModel(ctx, cfg)
}

func loadAnnotationConfig() (AnnotationConfig, error) {
	temperature, err := parseOptionalFloatEnv("ARK_TEMPERATURE")
	if err != nil {
		return AnnotationConfig{}, err
	}

	maxTokens, err := parseOptionalIntEnv("ARK_MAX_TOKENS")
	if err != nil {
		return AnnotationConfig{}, err
	}

	timeout, err := parseDurationEnv("ANNOTATION_TIMEOUT", 30*time.Second)
	if err != nil {
		return AnnotationConfig{}, err
	}

	cfg := AnnotationConfig{
		Provider:     strings.ToLower(getEnvOrDefault("ANNOTATION_PROVIDER", "")),
		Timeout:      timeout,
		Ordering:     strings.ToLower(getEnvOrDefault("ANNOTATION_ORDERING", "sequenced")),
		URL:          getEnvOrDefault("COMPLIANCE_API_URL", "http://localhost:5001/process-conversation"),
		APIKey:       strings.TrimSpace(os.Getenv("ARK_API_KEY")),
		AccessKey:    strings.TrimSpace(os.Getenv("ARK_ACCESS_KEY")),
		SecretKey:    strings.TrimSpace(os.Getenv("ARK_SECRET_KEY")),
		Model:        strings.TrimSpace(os.Getenv("ARK_MODEL")),
		BaseURL:      getEnvOrDefault("ARK_BASE_URL", "https://ark.cn-beijing.volces.com/api/v3"),
		Region:       getEnvOrDefault("ARK_REGION", "cn-beijing"),
		Temperature:  temperature,
		MaxTokens:    maxTokens,
		GeminiAPIKey: strings.TrimSpace(os.Getenv("GOOGLE_API_KEY")),
		GeminiModel:  getEnvOrDefault("GEMINI_MODEL", "gemini-1.5-pro"),
	}

	// 未显式指定时按可用凭证推断
	if cfg.Provider == "" {
		switch {
		case cfg.ArkEnabled():
			cfg.Provider = ProviderArk
		case cfg.GeminiAPIKey != "":
			cfg.Provider = ProviderGemini
		default:
			cfg.Provider = ProviderHTTP
		}
	}

	switch cfg.Provider {
	case ProviderHTTP, ProviderArk, ProviderGemini, ProviderKeyword:
	default:
		return AnnotationConfig{}, fmt.Errorf("invalid ANNOTATION_PROVIDER value: %q", cfg.Provider)
	}

	switch cfg.Ordering {
	case "sequenced", "completion":
	default:
		return AnnotationConfig{}, fmt.Errorf("invalid ANNOTATION_ORDERING value: %q", cfg.Ordering)
	}

	return cfg, nil
}

// StoreConfig 描述转写存储配置，DatabaseURL 为空时使用内存存储。
type StoreConfig struct {
	DatabaseURL string
}

func loadStoreConfig() StoreConfig {
	return StoreConfig{DatabaseURL: strings.TrimSpace(os.Getenv("DATABASE_URL"))}
}

// ArchiveConfig 描述快照归档配置。
type ArchiveConfig struct {
	Bucket    string
	Endpoint  string
	Region    string
	AccessKey string
	SecretKey string
	PathStyle bool
	Dir       string
}

// S3Enabled 表示是否配置了对象存储。
func (c ArchiveConfig) S3Enabled() bool {
	return c.Bucket != "" && c.AccessKey != "" && c.SecretKey != ""
}

func loadArchiveConfig() (ArchiveConfig, error) {
	pathStyle, err := parseBoolEnv("ARCHIVE_S3_PATH_STYLE", true)
	if err != nil {
		return ArchiveConfig{}, err
	}

	return ArchiveConfig{
		Bucket:    getEnvOrDefault("ARCHIVE_S3_BUCKET", ""),
		Endpoint:  getEnvOrDefault("ARCHIVE_S3_ENDPOINT", ""),
		Region:    getEnvOrDefault("ARCHIVE_S3_REGION", "us-east-1"),
		AccessKey: strings.TrimSpace(os.Getenv("ARCHIVE_S3_ACCESS_KEY")),
		SecretKey: strings.TrimSpace(os.Getenv("ARCHIVE_S3_SECRET_KEY")),
		PathStyle: pathStyle,
		Dir:       getEnvOrDefault("ARCHIVE_DIR", "data/media"),
	}, nil
}

// EventsConfig 描述 NATS 事件发布配置，URL 为空时不发布。
type EventsConfig struct {
	NatsURL   string
	NatsToken string
}

func loadEventsConfig() EventsConfig {
	return EventsConfig{
		NatsURL:   strings.TrimSpace(os.Getenv("NATS_URL")),
		NatsToken: strings.TrimSpace(os.Getenv("NATS_TOKEN")),
	}
}

// RecordingConfig 描述录屏文件目录。
type RecordingConfig struct {
	Dir string
}

func loadRecordingConfig() RecordingConfig {
	return RecordingConfig{Dir: getEnvOrDefault("RECORDINGS_DIR", "public/videos")}
}

// SessionConfig 描述会话编排的超时设置。
type SessionConfig struct {
	EndSessionTimeout time.Duration
	StoreTimeout      time.Duration
}

func loadSessionConfig() (SessionConfig, error) {
	endTimeout, err := parseDurationEnv("SESSION_END_TIMEOUT", 5*time.Second)
	if err != nil {
		return SessionConfig{}, err
	}

	storeTimeout, err := parseDurationEnv("SESSION_STORE_TIMEOUT", 10*time.Second)
	if err != nil {
		return SessionConfig{}, err
	}

	return SessionConfig{
		EndSessionTimeout: endTimeout,
		StoreTimeout:      storeTimeout,
	}, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func parseBoolEnv(key string, defaultValue bool) (bool, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	val, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	return val, nil
}

func parseDurationEnv(key string, defaultValue time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	val, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	if val <= 0 {
		return 0, fmt.Errorf("invalid %s value %q: must be positive", key, raw)
	}
	return val, nil
}

func parseOptionalFloatEnv(key string) (*float64, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}

func parseOptionalIntEnv(key string) (*int, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.Atoi(value)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}
