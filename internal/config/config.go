package config

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino/components/model"
)

// Config 聚合整个服务的配置项。
type Config struct {
	Server   ServerConfig
	Services ServicesConfig
	Chat     ChatConfig
	Storage  StorageConfig
	Log      LogConfig
	AI       AIConfig
}

// Load 从环境变量加载配置。
func Load() (*Config, error) {
	server, err := loadServerConfig()
	if err != nil {
		return nil, err
	}

	services, err := loadServicesConfig()
	if err != nil {
		return nil, err
	}

	chat, err := loadChatConfig()
	if err != nil {
		return nil, err
	}

	ai, err := loadAIConfig()
	if err != nil {
		return nil, err
	}

	return &Config{
		Server:   server,
		Services: services,
		Chat:     chat,
		Storage:  StorageConfig{DSN: getEnvOrDefault("STORAGE_DSN", defaultStorageDSN)},
		Log:      LogConfig{Level: getEnvOrDefault("LOG_LEVEL", "info")},
		AI:       ai,
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

// ServicesConfig 描述三个远端服务的地址与超时。
type ServicesConfig struct {
	UnderstanderURL   string
	AuthURL           string
	RecommenderURL    string
	UnderstandTimeout time.Duration
	BootstrapTimeout  time.Duration
	ProfileTimeout    time.Duration
	RecommendTimeout  time.Duration
}

func loadServicesConfig() (ServicesConfig, error) {
	cfg := ServicesConfig{
		UnderstanderURL: getEnvOrDefault("UNDERSTANDER_URL", "http://localhost:5052"),
		AuthURL:         getEnvOrDefault("AUTH_URL", "http://localhost:5053"),
		RecommenderURL:  getEnvOrDefault("RECOMMENDER_URL", "http://localhost:5050"),
	}

	for key, raw := range map[string]string{
		"UNDERSTANDER_URL": cfg.UnderstanderURL,
		"AUTH_URL":         cfg.AuthURL,
		"RECOMMENDER_URL":  cfg.RecommenderURL,
	} {
		u, err := url.Parse(raw)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return ServicesConfig{}, fmt.Errorf("invalid %s value %q", key, raw)
		}
	}

	var err error
	if cfg.UnderstandTimeout, err = parseMillisEnv("UNDERSTAND_TIMEOUT_MS", 15*time.Second); err != nil {
		return ServicesConfig{}, err
	}
	if cfg.BootstrapTimeout, err = parseMillisEnv("BOOTSTRAP_TIMEOUT_MS", 10*time.Second); err != nil {
		return ServicesConfig{}, err
	}
	if cfg.ProfileTimeout, err = parseMillisEnv("PROFILE_TIMEOUT_MS", 10*time.Second); err != nil {
		return ServicesConfig{}, err
	}
	if cfg.RecommendTimeout, err = parseMillisEnv("RECOMMEND_TIMEOUT_MS", 10*time.Second); err != nil {
		return ServicesConfig{}, err
	}
	return cfg, nil
}

// ChatConfig 描述对话引擎的行为。
type ChatConfig struct {
	WelcomeMessage         string
	ReplyDelay             time.Duration
	ConfirmRecommendations bool
	MockData               bool
}

const defaultWelcomeMessage = "Welcome to your Financial Assistant! I'm here to help you with your financial goals."

func loadChatConfig() (ChatConfig, error) {
	delay, err := parseMillisEnv("CHAT_REPLY_DELAY_MS", 800*time.Millisecond)
	if err != nil {
		return ChatConfig{}, err
	}

	confirm, err := parseBoolEnv("CHAT_CONFIRM_RECOMMENDATIONS", true)
	if err != nil {
		return ChatConfig{}, err
	}

	mock, err := parseBoolEnv("ENABLE_MOCK_DATA", false)
	if err != nil {
		return ChatConfig{}, err
	}

	return ChatConfig{
		WelcomeMessage:         getEnvOrDefault("CHAT_WELCOME_MESSAGE", defaultWelcomeMessage),
		ReplyDelay:             delay,
		ConfirmRecommendations: confirm,
		MockData:               mock,
	}, nil
}

const defaultStorageDSN = "file:onboarding.db?cache=shared&mode=rwc"

// StorageConfig 描述持久化存储。DSN 为 "memory" 时使用进程内存储。
type StorageConfig struct {
	DSN string
}

// InMemory 表示是否使用进程内存储。
func (c StorageConfig) InMemory() bool {
	return strings.EqualFold(c.DSN, "memory")
}

// LogConfig 描述日志配置。
type LogConfig struct {
	Level string
}

// AIConfig 描述大模型相关配置，仅用于可选的同意判定。
type AIConfig struct {
	APIKey            string
	AccessKey         string
	SecretKey         string
	Model             string
	BaseURL           string
	Region            string
	Temperature       *float64
	TopP              *float64
	MaxTokens         *int
	ConsentLLMEnabled bool
}

// Enabled 表示是否提供了必需的密钥。
func (c AIConfig) Enabled() bool {
	return c.Model != "" && (c.APIKey != "" || (c.AccessKey != "" && c.SecretKey != ""))
}

// NewChatModel 使用配置创建一个模型实例。
func (c AIConfig) NewChatModel(ctx context.Context) (model.ChatModel, error) {
	if !c.Enabled() {
		return nil, fmt.Errorf("Ark 凭证或模型配置缺失，至少提供 ARK_API_KEY + Model 或 AK/SK 组合")
	}

	var temperature *float32
	if c.Temperature != nil {
		val := float32(*c.Temperature)
		temperature = &val
	}

	var topP *float32
	if c.TopP != nil {
		val := float32(*c.TopP)
		topP = &val
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
		TopP:        topP,
	}

	return ark.NewChatModel(ctx, cfg)
}

func loadAIConfig() (AIConfig, error) {
	temperature, err := parseOptionalFloatEnv("ARK_TEMPERATURE")
	if err != nil {
		return AIConfig{}, err
	}

	topP, err := parseOptionalFloatEnv("ARK_TOP_P")
	if err != nil {
		return AIConfig{}, err
	}

	maxTokens, err := parseOptionalIntEnv("ARK_MAX_TOKENS")
	if err != nil {
		return AIConfig{}, err
	}

	consentEnabled, err := parseBoolEnv("CONSENT_LLM_ENABLED", false)
	if err != nil {
		return AIConfig{}, err
	}

	return AIConfig{
		APIKey:            strings.TrimSpace(os.Getenv("ARK_API_KEY")),
		AccessKey:         strings.TrimSpace(os.Getenv("ARK_ACCESS_KEY")),
		SecretKey:         strings.TrimSpace(os.Getenv("ARK_SECRET_KEY")),
		Model:             strings.TrimSpace(os.Getenv("Model")),
		BaseURL:           getEnvOrDefault("ARK_BASE_URL", "https://ark.cn-beijing.volces.com/api/v3"),
		Region:            getEnvOrDefault("ARK_REGION", "cn-beijing"),
		Temperature:       temperature,
		TopP:              topP,
		MaxTokens:         maxTokens,
		ConsentLLMEnabled: consentEnabled,
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

// parseMillisEnv 解析以毫秒为单位的时长，负数视为非法。
func parseMillisEnv(key string, defaultValue time.Duration) (time.Duration, error) {
	ms, err := parseOptionalIntEnv(key)
	if err != nil {
		return 0, err
	}
	if ms == nil {
		return defaultValue, nil
	}
	if *ms < 0 {
		return 0, fmt.Errorf("invalid %s value %d: must not be negative", key, *ms)
	}
	return time.Duration(*ms) * time.Millisecond, nil
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
