package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Providers, transports and journals selectable through the configuration.
const (
	ProviderAnthropic = "anthropic"
	ProviderBedrock   = "bedrock"
	ProviderOpenAI    = "openai"

	TransportInmem = "inmem"
	TransportPulse = "pulse"

	JournalInmem = "inmem"
	JournalMongo = "mongo"
)

type (
	// Config is the CLI configuration. Defaults come from the environment and
	// an optional YAML file overrides them.
	Config struct {
		Provider  string `yaml:"provider"`
		Model     string `yaml:"model"`
		APIKey    string `yaml:"api_key"`
		BaseURL   string `yaml:"base_url"`
		AWSRegion string `yaml:"aws_region"`
		MaxTokens int    `yaml:"max_tokens"`
		System    string `yaml:"system"`

		MaxSteps        int           `yaml:"max_steps"`
		MaxDelegations  int           `yaml:"max_delegations"`
		MaxRejections   int           `yaml:"max_rejections"`
		MaxHistory      int           `yaml:"max_history"`
		MaxInFlight     int           `yaml:"max_in_flight"`
		ApprovalTimeout time.Duration `yaml:"approval_timeout"`
		RequireApproval []string      `yaml:"require_approval"`
		DelegateTool    string        `yaml:"delegate_tool"`

		Worker WorkerConfig `yaml:"worker"`
		Retry  RetryConfig  `yaml:"retry"`
		Policy PolicyConfig `yaml:"policy"`

		TokensPerMinute float64 `yaml:"tokens_per_minute"`

		Transport     string `yaml:"transport"`
		RedisURL      string `yaml:"redis_url"`
		RedisPassword string `yaml:"redis_password"`

		Journal       string `yaml:"journal"`
		MongoURI      string `yaml:"mongo_uri"`
		MongoDatabase string `yaml:"mongo_database"`
	}

	// WorkerConfig bounds delegated workers.
	WorkerConfig struct {
		MaxSteps   int           `yaml:"max_steps"`
		MaxHistory int           `yaml:"max_history"`
		StallAfter time.Duration `yaml:"stall_after"`
	}

	// PolicyConfig filters the toolset. See features/policy/basic.
	PolicyConfig struct {
		AllowTools   []string `yaml:"allow_tools"`
		BlockTools   []string `yaml:"block_tools"`
		AllowTags    []string `yaml:"allow_tags"`
		BlockTags    []string `yaml:"block_tags"`
		ApprovalTags []string `yaml:"approval_tags"`
	}

	// RetryConfig bounds model retries.
	RetryConfig struct {
		MaxAttempts    int           `yaml:"max_attempts"`
		InitialBackoff time.Duration `yaml:"initial_backoff"`
		MaxBackoff     time.Duration `yaml:"max_backoff"`
	}
)

// defaultConfig reads the environment.
func defaultConfig() Config {
	provider := envOr("AGENTKERNEL_PROVIDER", ProviderAnthropic)
	return Config{
		Provider:  provider,
		Model:     envOr("AGENTKERNEL_MODEL", defaultModel(provider)),
		APIKey:    envOr("AGENTKERNEL_API_KEY", providerKey(provider)),
		BaseURL:   os.Getenv("AGENTKERNEL_BASE_URL"),
		AWSRegion: envOr("AWS_REGION", "us-east-1"),
		MaxTokens: envIntOr("AGENTKERNEL_MAX_TOKENS", 4096),
		System:    envOr("AGENTKERNEL_SYSTEM", "You are a careful assistant. Use tools when they help and answer concisely."),

		MaxSteps:        envIntOr("AGENTKERNEL_MAX_STEPS", 40),
		MaxDelegations:  envIntOr("AGENTKERNEL_MAX_DELEGATIONS", 4),
		MaxRejections:   envIntOr("AGENTKERNEL_MAX_REJECTIONS", 3),
		MaxHistory:      envIntOr("AGENTKERNEL_MAX_HISTORY", 200),
		MaxInFlight:     envIntOr("AGENTKERNEL_MAX_IN_FLIGHT", 4),
		ApprovalTimeout: envDurationOr("AGENTKERNEL_APPROVAL_TIMEOUT", 5*time.Minute),
		RequireApproval: envListOr("AGENTKERNEL_REQUIRE_APPROVAL", nil),
		DelegateTool:    envOr("AGENTKERNEL_DELEGATE_TOOL", "delegate"),

		Worker: WorkerConfig{
			MaxSteps:   envIntOr("AGENTKERNEL_WORKER_MAX_STEPS", 12),
			MaxHistory: envIntOr("AGENTKERNEL_WORKER_MAX_HISTORY", 40),
			StallAfter: envDurationOr("AGENTKERNEL_WORKER_STALL_AFTER", 2*time.Minute),
		},
		Retry: RetryConfig{
			MaxAttempts:    envIntOr("AGENTKERNEL_RETRY_ATTEMPTS", 3),
			InitialBackoff: envDurationOr("AGENTKERNEL_RETRY_BACKOFF", 500*time.Millisecond),
			MaxBackoff:     envDurationOr("AGENTKERNEL_RETRY_MAX_BACKOFF", 20*time.Second),
		},
		Policy: PolicyConfig{
			AllowTools:   envListOr("AGENTKERNEL_ALLOW_TOOLS", nil),
			BlockTools:   envListOr("AGENTKERNEL_BLOCK_TOOLS", nil),
			AllowTags:    envListOr("AGENTKERNEL_ALLOW_TAGS", nil),
			BlockTags:    envListOr("AGENTKERNEL_BLOCK_TAGS", nil),
			ApprovalTags: envListOr("AGENTKERNEL_APPROVAL_TAGS", nil),
		},

		TokensPerMinute: envFloatOr("AGENTKERNEL_TPM", 0),

		Transport:     envOr("AGENTKERNEL_TRANSPORT", TransportInmem),
		RedisURL:      envOr("REDIS_URL", "localhost:6379"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),

		Journal:       envOr("AGENTKERNEL_JOURNAL", JournalInmem),
		MongoURI:      envOr("MONGO_URI", "mongodb://localhost:27017"),
		MongoDatabase: envOr("MONGO_DATABASE", "agentkernel"),
	}
}

// loadConfig returns the environment defaults overlaid with the YAML file at
// path, if any.
func loadConfig(path string) (Config, error) {
	cfg := defaultConfig()
	if path == "" {
		return cfg, cfg.validate()
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, cfg.validate()
}

func (c Config) validate() error {
	var errs []error
	switch c.Provider {
	case ProviderAnthropic, ProviderBedrock, ProviderOpenAI:
	default:
		errs = append(errs, fmt.Errorf("unknown provider %q", c.Provider))
	}
	if c.Model == "" {
		errs = append(errs, errors.New("model is required"))
	}
	switch c.Transport {
	case TransportInmem, TransportPulse:
	default:
		errs = append(errs, fmt.Errorf("unknown transport %q", c.Transport))
	}
	switch c.Journal {
	case JournalInmem, JournalMongo:
	default:
		errs = append(errs, fmt.Errorf("unknown journal %q", c.Journal))
	}
	if c.MaxInFlight < 0 {
		errs = append(errs, errors.New("max_in_flight must not be negative"))
	}
	return errors.Join(errs...)
}

func defaultModel(provider string) string {
	switch provider {
	case ProviderBedrock:
		return "anthropic.claude-3-5-sonnet-20240620-v1:0"
	case ProviderOpenAI:
		return "gpt-4o-mini"
	default:
		return "claude-3-5-sonnet-latest"
	}
}

func providerKey(provider string) string {
	switch provider {
	case ProviderAnthropic:
		return os.Getenv("ANTHROPIC_API_KEY")
	case ProviderOpenAI:
		return os.Getenv("OPENAI_API_KEY")
	default:
		return ""
	}
}

// envOr returns the environment variable value or a default.
func envOr(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

// envIntOr returns the environment variable as int or a default.
func envIntOr(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultVal
}

func envFloatOr(key string, defaultVal float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

// envDurationOr returns the environment variable as duration or a default.
func envDurationOr(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultVal
}

// envListOr splits a comma separated environment variable.
func envListOr(key string, defaultVal []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
