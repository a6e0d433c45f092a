package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Port string

	// Auth for service mode
	DesignDocAPIKey string

	// Model providers
	OpenAIAPIKey     string
	OpenAIBaseURL    string
	AnthropicAPIKey  string
	AnthropicBaseURL string
	Temperature      float64

	// GitHub sources
	GitHubToken  string
	GitHubAPIURL string

	// Tiers
	TiersFile    string
	MapTier      string
	CollapseTier string
	ReduceTier   string

	// Summarization budgets
	MaxConcurrentMap      int
	MaxConcurrentCollapse int
	TruncateTokenCeiling  int
	TruncateChars         int
	OutputReserve         int
	ReduceOutputReserve   int
	MaxCollapseDepth      int

	// Document selection
	SourceExtensions []string
	IncludeDocs      bool
	IgnoreDirs       []string

	// Output
	OutputDir    string
	CheckpointDB string

	// Worker pool
	WorkerCount  int
	MaxQueueSize int

	// Job state
	JobTTL time.Duration

	// Logging. An empty format picks text for CLI commands and JSON for serve.
	LogFormat string
	LogLevel  string
}

func Load() Config {
	cfg := Config{
		Port: envOr("PORT", "8090"),

		DesignDocAPIKey: os.Getenv("DESIGNDOC_API_KEY"),

		OpenAIAPIKey:     os.Getenv("OPENAI_API_KEY"),
		OpenAIBaseURL:    os.Getenv("OPENAI_BASE_URL"),
		AnthropicAPIKey:  os.Getenv("ANTHROPIC_API_KEY"),
		AnthropicBaseURL: os.Getenv("ANTHROPIC_BASE_URL"),
		Temperature:      envFloat("TEMPERATURE", 0.5),

		GitHubToken:  os.Getenv("GITHUB_TOKEN"),
		GitHubAPIURL: os.Getenv("GITHUB_API_URL"),

		TiersFile:    os.Getenv("DESIGNDOC_TIERS_FILE"),
		MapTier:      envOr("MAP_TIER", "small"),
		CollapseTier: envOr("COLLAPSE_TIER", "small"),
		ReduceTier:   envOr("REDUCE_TIER", "large"),

		MaxConcurrentMap:      envInt("MAX_CONCURRENT_MAP", 5),
		MaxConcurrentCollapse: envInt("MAX_CONCURRENT_COLLAPSE", 3),
		TruncateTokenCeiling:  envInt("TRUNCATE_TOKEN_CEILING", 3600),
		TruncateChars:         envInt("TRUNCATE_CHARS", 15000),
		OutputReserve:         envInt("OUTPUT_RESERVE", 256),
		ReduceOutputReserve:   envInt("REDUCE_OUTPUT_RESERVE", 4096),
		MaxCollapseDepth:      envInt("MAX_COLLAPSE_DEPTH", 10),

		SourceExtensions: normalizeExtensions(envList("SOURCE_EXTENSIONS", nil)),
		IncludeDocs:      envBool("INCLUDE_DOCS", false),
		IgnoreDirs:       envList("IGNORE_DIRS", []string{".git", "node_modules"}),

		OutputDir:    envOr("OUTPUT_DIR", "generated"),
		CheckpointDB: envOr("CHECKPOINT_DB", ".designdoc/checkpoints.db"),

		WorkerCount:  envInt("WORKER_COUNT", 2),
		MaxQueueSize: envInt("MAX_QUEUE_SIZE", 20),

		JobTTL: envDuration("JOB_TTL", 1*time.Hour),

		LogFormat: os.Getenv("LOG_FORMAT"),
		LogLevel:  envOr("LOG_LEVEL", "info"),
	}

	if cfg.MaxConcurrentMap <= 0 {
		cfg.MaxConcurrentMap = 5
	}
	if cfg.MaxConcurrentCollapse <= 0 {
		cfg.MaxConcurrentCollapse = 3
	}
	if cfg.TruncateTokenCeiling <= 0 {
		cfg.TruncateTokenCeiling = 3600
	}
	if cfg.TruncateChars <= 0 {
		cfg.TruncateChars = 15000
	}
	if cfg.MaxCollapseDepth <= 0 {
		cfg.MaxCollapseDepth = 10
	}
	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = 2
	}
	if cfg.MaxQueueSize <= 0 {
		cfg.MaxQueueSize = 20
	}
	if cfg.JobTTL <= 0 {
		cfg.JobTTL = 1 * time.Hour
	}

	return cfg
}

// Validate checks settings every command needs.
func (c Config) Validate() error {
	if c.OutputReserve <= 0 || c.ReduceOutputReserve <= 0 {
		return fmt.Errorf("OUTPUT_RESERVE and REDUCE_OUTPUT_RESERVE must be positive")
	}
	if c.Temperature < 0 || c.Temperature > 2 {
		return fmt.Errorf("TEMPERATURE must be between 0 and 2")
	}
	switch c.LogFormat {
	case "", "text", "json":
	default:
		return fmt.Errorf("LOG_FORMAT must be text or json, got %q", c.LogFormat)
	}
	return nil
}

// ValidateProviders checks that at least one model provider is configured.
func (c Config) ValidateProviders() error {
	if c.OpenAIAPIKey == "" && c.AnthropicAPIKey == "" {
		return fmt.Errorf("OPENAI_API_KEY or ANTHROPIC_API_KEY is required")
	}
	return nil
}

// ValidateServer checks settings needed by service mode.
func (c Config) ValidateServer() error {
	if c.DesignDocAPIKey == "" {
		return fmt.Errorf("DESIGNDOC_API_KEY is required")
	}
	return c.ValidateProviders()
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

// envList splits a comma-separated value.
func envList(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// normalizeExtensions lowercases extensions and adds the leading dot.
func normalizeExtensions(exts []string) []string {
	out := make([]string, 0, len(exts))
	for _, e := range exts {
		e = strings.ToLower(e)
		if !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		out = append(out, e)
	}
	return out
}
