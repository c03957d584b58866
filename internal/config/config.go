package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
)

const (
	ProviderOpenAI   = "openai"
	ProviderDeepSeek = "deepseek"
)

type Config struct {
	DataDir      string `json:"data_dir"`
	DataCacheDir string `json:"data_cache_dir"`
	ResultsDir   string `json:"results_dir"`

	LLMProvider    string `json:"llm_provider"`
	Model          string `json:"model"`
	OpenAIBaseURL  string `json:"openai_base_url"`
	OpenAIAPIKey   string `json:"openai_api_key"`
	DeepSeekAPIKey string `json:"deepseek_api_key"`

	// Bounded timeouts for capability calls, in seconds.
	CompletionTimeoutSec int `json:"completion_timeout_sec"`
	DataTimeoutSec       int `json:"data_timeout_sec"`
	MaxRetryAttempts     int `json:"max_retry_attempts"`

	NumOfNews    int  `json:"num_of_news"`
	CacheEnabled bool `json:"cache_enabled"`

	ListenAddr string `json:"listen_addr"`
	Debug      bool   `json:"debug"`
}

func DefaultConfig() *Config {
	currentDir, _ := os.Getwd()
	return DefaultConfigWithRoot(currentDir)
}

func DefaultConfigWithRoot(root string) *Config {
	return &Config{
		DataDir:      filepath.Join(root, "data"),
		DataCacheDir: filepath.Join(root, "data", "cache"),
		ResultsDir:   filepath.Join(root, "results"),

		LLMProvider:   ProviderOpenAI,
		Model:         "gpt-4o-mini",
		OpenAIBaseURL: "https://api.openai.com/v1",

		CompletionTimeoutSec: 120,
		DataTimeoutSec:       30,
		MaxRetryAttempts:     4,

		NumOfNews:    5,
		CacheEnabled: true,

		ListenAddr: ":8000",
	}
}

func (c *Config) Validate() error {
	switch c.LLMProvider {
	case ProviderOpenAI, ProviderDeepSeek:
	default:
		return fmt.Errorf("config: unknown llm provider %q", c.LLMProvider)
	}
	if c.CompletionTimeoutSec <= 0 || c.DataTimeoutSec <= 0 {
		return fmt.Errorf("config: capability timeouts must be positive")
	}
	if c.MaxRetryAttempts < 1 {
		return fmt.Errorf("config: max_retry_attempts must be at least 1")
	}
	if c.NumOfNews < 0 {
		return fmt.Errorf("config: num_of_news must not be negative")
	}
	return nil
}

// LoadEnv pulls API keys from the environment, reading a .env file
// first when one exists. Environment values win over file values.
func (c *Config) LoadEnv() {
	_ = godotenv.Load()
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		c.OpenAIAPIKey = v
	}
	if v := os.Getenv("OPENAI_BASE_URL"); v != "" {
		c.OpenAIBaseURL = v
	}
	if v := os.Getenv("DEEPSEEK_API_KEY"); v != "" {
		c.DeepSeekAPIKey = v
	}
	if v := os.Getenv("LLM_PROVIDER"); v != "" {
		c.LLMProvider = v
	}
	if v := os.Getenv("LLM_MODEL"); v != "" {
		c.Model = v
	}
}

func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.DataDir, c.DataCacheDir, c.ResultsDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return nil
}
