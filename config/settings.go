// Package config provides application settings loaded from environment variables.
//
// Settings are created via New() which handles:
// - Environment variable parsing with validation
// - Default value application
// - Provider-specific configuration lookup

package config

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Settings holds all application configuration.
type Settings struct {
	LLM        LLMConfig
	Sampling   SamplingConfig
	Stabilizer StabilizerConfig
	Agent      AgentConfig
	Coral      CoralConfig
	Task       TaskConfig
	Answer     AnswerConfig
	Storage    StorageConfig
	Metrics    MetricsConfig
}

// LLMConfig holds LLM provider configuration.
type LLMConfig struct {
	Provider  string
	Model     string
	MaxTokens uint32
	Azure     AzureConfig
}

// AzureConfig locates an Azure OpenAI deployment.
type AzureConfig struct {
	Endpoint   string
	APIVersion string
	Deployment string
}

// SamplingConfig is the baseline every model call starts from.
type SamplingConfig struct {
	Temperature      float64
	FrequencyPenalty float64
	TopP             float64
}

// StabilizerConfig controls the degenerate-response retry loop.
type StabilizerConfig struct {
	Attempts           int
	DuplicateThreshold int
	HistoryPolicy      string
}

// AgentConfig holds agent execution configuration.
type AgentConfig struct {
	MaxIterations  int
	WindowMessages int
	TokenLimit     int
	LoopIterations int
	LoopSleep      time.Duration
	ToolTimeout    uint64
	ToolRetries    uint32
	ToolNoSandbox  bool
}

// CoralConfig locates the Coral server.
type CoralConfig struct {
	ConnectionURL string
	SessionID     string
	Timeout       time.Duration
}

// TaskConfig describes the task the team works on.
type TaskConfig struct {
	ID          string
	Instruction string
}

// AnswerConfig locates the answer server.
type AnswerConfig struct {
	ServerURL string
}

// StorageConfig locates the conversation database. An empty path disables
// persistence.
type StorageConfig struct {
	DBPath string
}

// MetricsConfig controls the metrics endpoint. An empty address disables it.
type MetricsConfig struct {
	Addr string
}

// providerInfo holds configuration for a specific LLM provider.
type providerInfo struct {
	modelEnv     string
	defaultModel string
	apiKeyEnv    string
}

// Supported providers and their configuration.
var providers = map[string]providerInfo{
	"openai":    {"OPENAI_MODEL", "gpt-4.1-mini", "OPENAI_API_KEY"},
	"azure":     {"AZURE_OPENAI_MODEL", "gpt-4.1-mini", "AZURE_OPENAI_API_KEY"},
	"anthropic": {"ANTHROPIC_MODEL", "claude-sonnet-4-20250514", "ANTHROPIC_API_KEY"},
	"deepseek":  {"DEEPSEEK_MODEL", "deepseek-chat", "DEEPSEEK_API_KEY"},
	"gemini":    {"GEMINI_MODEL", "gemini-2.5-flash", "GEMINI_API_KEY"},
}

// Provider aliases map to canonical names.
var providerAliases = map[string]string{
	"claude":       "anthropic",
	"google":       "gemini",
	"gpt":          "openai",
	"azure-openai": "azure",
}

// Defaults applied when the environment does not override them.
const (
	DefaultAnswerServerURL = "http://localhost:12081/answers"
	DefaultCoralTimeout    = 300 * time.Second
	DefaultLoopIterations  = 20
	DefaultLoopSleep       = 5 * time.Second
)

// New creates settings for the specified provider, loading values from environment variables.
// Returns an error if the provider is unknown or environment variables contain invalid values.
// An empty provider falls back to LLM_PROVIDER, then openai.
func New(provider string) (Settings, error) {
	if provider == "" {
		provider = getEnvString("LLM_PROVIDER", "openai")
	}
	provider = normalizeProvider(provider)

	info, err := getProviderInfo(provider)
	if err != nil {
		return Settings{}, err
	}

	var p envParser

	s := Settings{
		LLM: LLMConfig{
			Provider:  provider,
			Model:     getEnvString(info.modelEnv, info.defaultModel),
			MaxTokens: p.getUint32("LLM_MAX_TOKENS", 4096),
			Azure: AzureConfig{
				Endpoint:   os.Getenv("AZURE_OPENAI_ENDPOINT"),
				APIVersion: os.Getenv("AZURE_OPENAI_API_VERSION"),
				Deployment: os.Getenv("AZURE_OPENAI_DEPLOYMENT"),
			},
		},
		Sampling: SamplingConfig{
			Temperature:      p.getFloat64("LLM_TEMPERATURE", 0),
			FrequencyPenalty: p.getFloat64("LLM_FREQUENCY_PENALTY", 0),
			TopP:             p.getFloat64("LLM_TOP_P", 0.99),
		},
		Stabilizer: StabilizerConfig{
			Attempts:           p.getInt("STABILIZER_ATTEMPTS", 7),
			DuplicateThreshold: p.getInt("STABILIZER_DUPLICATE_THRESHOLD", 2),
			HistoryPolicy:      getEnvString("STABILIZER_HISTORY_POLICY", "retain"),
		},
		Agent: AgentConfig{
			MaxIterations:  p.getInt("AGENT_MAX_ITERATIONS", 10),
			WindowMessages: p.getInt("AGENT_WINDOW_MESSAGES", 60),
			TokenLimit:     p.getInt("AGENT_TOKEN_LIMIT", 80000),
			LoopIterations: p.getInt("AGENT_LOOP_ITERATIONS", DefaultLoopIterations),
			LoopSleep:      p.getDuration("AGENT_LOOP_SLEEP", DefaultLoopSleep),
			ToolTimeout:    uint64(p.getUint32("TOOL_TIMEOUT_SECS", 30)),
			ToolRetries:    p.getUint32("TOOL_MAX_RETRIES", 3),
			ToolNoSandbox:  p.getBool("TOOL_NO_SANDBOX", false),
		},
		Coral: CoralConfig{
			ConnectionURL: os.Getenv("CORAL_CONNECTION_URL"),
			SessionID:     os.Getenv("CORAL_SESSION_ID"),
			Timeout:       p.getDuration("CORAL_TIMEOUT", DefaultCoralTimeout),
		},
		Task: TaskConfig{
			ID:          os.Getenv("TASK_ID"),
			Instruction: os.Getenv("TASK_INSTRUCTION"),
		},
		Answer: AnswerConfig{
			ServerURL: getEnvString("ANSWER_SERVER_URL", DefaultAnswerServerURL),
		},
		Storage: StorageConfig{
			DBPath: os.Getenv("ANEMOI_DB"),
		},
		Metrics: MetricsConfig{
			Addr: os.Getenv("METRICS_ADDR"),
		},
	}
	if p.err != nil {
		return Settings{}, p.err
	}
	if err := s.Validate(); err != nil {
		return Settings{}, err
	}
	return s, nil
}

// MustNew creates settings for the specified provider.
// Panics if the provider is unknown or environment variables are invalid.
// Use this only when configuration errors should be fatal.
func MustNew(provider string) Settings {
	settings, err := New(provider)
	if err != nil {
		panic(fmt.Sprintf("config: %v", err))
	}
	return settings
}

// Validate checks value ranges that parsing alone cannot.
func (s Settings) Validate() error {
	if s.Stabilizer.Attempts < 1 {
		return fmt.Errorf("STABILIZER_ATTEMPTS must be at least 1, got %d", s.Stabilizer.Attempts)
	}
	if s.Stabilizer.DuplicateThreshold < 0 {
		return fmt.Errorf("STABILIZER_DUPLICATE_THRESHOLD must not be negative, got %d", s.Stabilizer.DuplicateThreshold)
	}
	if s.Agent.MaxIterations < 1 {
		return fmt.Errorf("AGENT_MAX_ITERATIONS must be at least 1, got %d", s.Agent.MaxIterations)
	}
	if s.Agent.LoopIterations < 0 {
		return fmt.Errorf("AGENT_LOOP_ITERATIONS must not be negative, got %d", s.Agent.LoopIterations)
	}
	if s.Sampling.TopP < 0 || s.Sampling.TopP > 1 {
		return fmt.Errorf("LLM_TOP_P must be within [0, 1], got %g", s.Sampling.TopP)
	}
	if s.LLM.Provider == "azure" && s.LLM.Azure.Endpoint == "" {
		return fmt.Errorf("AZURE_OPENAI_ENDPOINT is required for the azure provider")
	}
	return nil
}

// normalizeProvider converts provider aliases to canonical names.
func normalizeProvider(provider string) string {
	provider = strings.ToLower(provider)
	if canonical, ok := providerAliases[provider]; ok {
		return canonical
	}
	return provider
}

// getProviderInfo returns configuration for a provider.
func getProviderInfo(provider string) (providerInfo, error) {
	info, ok := providers[provider]
	if !ok {
		return providerInfo{}, fmt.Errorf("unknown provider: %q", provider)
	}
	return info, nil
}

// APIKeyFor returns the API key for a provider from environment variables.
func APIKeyFor(provider string) (string, error) {
	provider = normalizeProvider(provider)

	info, err := getProviderInfo(provider)
	if err != nil {
		return "", err
	}

	key := os.Getenv(info.apiKeyEnv)
	if key == "" {
		return "", fmt.Errorf("%s environment variable not set", info.apiKeyEnv)
	}
	return key, nil
}

// ModelFor returns the model for a provider, checking environment first.
func ModelFor(provider string) (string, error) {
	provider = normalizeProvider(provider)

	info, err := getProviderInfo(provider)
	if err != nil {
		return "", err
	}

	return getEnvString(info.modelEnv, info.defaultModel), nil
}

// SupportedProviders returns the supported provider names in sorted order.
func SupportedProviders() []string {
	result := make([]string, 0, len(providers))
	for name := range providers {
		result = append(result, name)
	}
	sort.Strings(result)
	return result
}

// Environment variable helpers with proper error handling

// envParser keeps the first parse error so New can read every variable
// and report once.
type envParser struct {
	err error
}

func (p *envParser) keep(err error) {
	if p.err == nil {
		p.err = err
	}
}

func (p *envParser) getInt(key string, defaultVal int) int {
	v, err := getEnvInt(key, defaultVal)
	p.keep(err)
	return v
}

func (p *envParser) getUint32(key string, defaultVal uint32) uint32 {
	v, err := getEnvUint32(key, defaultVal)
	p.keep(err)
	return v
}

func (p *envParser) getFloat64(key string, defaultVal float64) float64 {
	v, err := getEnvFloat64(key, defaultVal)
	p.keep(err)
	return v
}

func (p *envParser) getDuration(key string, defaultVal time.Duration) time.Duration {
	v, err := getEnvDuration(key, defaultVal)
	p.keep(err)
	return v
}

func (p *envParser) getBool(key string, defaultVal bool) bool {
	v, err := getEnvBool(key, defaultVal)
	p.keep(err)
	return v
}

func getEnvString(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) (int, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	i, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("invalid value for %s: %q: %w", key, val, err)
	}
	return i, nil
}

func getEnvUint32(key string, defaultVal uint32) (uint32, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	i, err := strconv.ParseUint(val, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid value for %s: %q: %w", key, val, err)
	}
	return uint32(i), nil
}

func getEnvFloat64(key string, defaultVal float64) (float64, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	f, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid value for %s: %q: %w", key, val, err)
	}
	return f, nil
}

// getEnvDuration accepts Go durations ("5s") or a bare number of seconds.
func getEnvDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	if secs, err := strconv.ParseFloat(val, 64); err == nil {
		return time.Duration(secs * float64(time.Second)), nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("invalid value for %s: %q: %w", key, val, err)
	}
	return d, nil
}

func getEnvBool(key string, defaultVal bool) (bool, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return false, fmt.Errorf("invalid value for %s: %q: %w", key, val, err)
	}
	return b, nil
}
