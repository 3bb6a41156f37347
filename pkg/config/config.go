package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server     ServerConfig     `yaml:"server"`
	WebSocket  WebSocketConfig  `yaml:"websocket"`
	Processor  ProcessorConfig  `yaml:"processor"`
	Retrieval  RetrievalConfig  `yaml:"retrieval"`
	Generation GenerationConfig `yaml:"generation"`
	LLM        LLMConfig        `yaml:"llm"`
	Fetcher    FetcherConfig    `yaml:"fetcher"`
	Logging    LoggingConfig    `yaml:"logging"`
}

type ServerConfig struct {
	Port          int    `yaml:"port"`
	Environment   string `yaml:"environment"`
	StaticDir     string `yaml:"static_dir"`
	UploadDir     string `yaml:"upload_dir"`
	MaxUploadSize int64  `yaml:"max_upload_size"` // bytes
}

type WebSocketConfig struct {
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	WriteWait         time.Duration `yaml:"write_wait"`
	MaxMessageSize    int64         `yaml:"max_message_size"`
	SendBuffer        int           `yaml:"send_buffer"`
}

type ProcessorConfig struct {
	ChunkSize int `yaml:"chunk_size"`
}

type RetrievalConfig struct {
	MaxRelevantChunks int           `yaml:"max_relevant_chunks"`
	Workers           int           `yaml:"workers"`
	CacheTTL          time.Duration `yaml:"cache_ttl"`
}

type GenerationConfig struct {
	BatchSize   int           `yaml:"batch_size"`
	Timeout     time.Duration `yaml:"timeout"`
	CiteSources bool          `yaml:"cite_sources"`
}

type LLMConfig struct {
	Provider    string  `yaml:"provider"` // ollama, googleai, openai
	BaseURL     string  `yaml:"base_url"`
	Model       string  `yaml:"model"`
	APIKey      string  `yaml:"api_key"`
	MaxTokens   int     `yaml:"max_tokens"`
	Temperature float64 `yaml:"temperature"`
}

type FetcherConfig struct {
	RateLimit            float64       `yaml:"rate_limit"` // requests per second
	Timeout              time.Duration `yaml:"timeout"`
	MaxDepth             int           `yaml:"max_depth"` // landing pages followed; -1 follows none
	IgnorePatterns       []string      `yaml:"ignore_patterns"`
	AllowPrivateNetworks bool          `yaml:"allow_private_networks"`
}

type LoggingConfig struct {
	Level      string `yaml:"level"`
	Dir        string `yaml:"dir"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
}

// Production reports whether the server runs with production settings.
func (c *Config) Production() bool {
	return c.Server.Environment == "production"
}

func LoadConfig(path string) (*Config, error) {
	// A missing .env file is not an error.
	_ = godotenv.Load()

	// If no path provided, try default locations
	if path == "" {
		locations := []string{
			"config.yaml",
			"config.yml",
			filepath.Join(os.Getenv("HOME"), ".config/doctalk/config.yaml"),
			"/etc/doctalk/config.yaml",
		}

		for _, loc := range locations {
			if _, err := os.Stat(loc); err == nil {
				path = loc
				break
			}
		}
	}

	if path == "" {
		return getDefaultConfig()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	config := newConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	mergeWithEnv(config)
	applyDefaults(config)

	return config, nil
}

// newConfig seeds the values for which zero is a valid setting, so they are
// only defaulted when absent from the file.
func newConfig() *Config {
	return &Config{
		LLM: LLMConfig{Temperature: 0.7},
	}
}

func getDefaultConfig() (*Config, error) {
	config := newConfig()
	mergeWithEnv(config)
	applyDefaults(config)
	return config, nil
}

func applyDefaults(config *Config) {
	if config.Server.Port == 0 {
		config.Server.Port = 3000
	}
	if config.Server.Environment == "" {
		config.Server.Environment = "development"
	}
	if config.Server.StaticDir == "" {
		config.Server.StaticDir = "public"
	}
	if config.Server.UploadDir == "" {
		config.Server.UploadDir = "uploads"
	}
	if config.Server.MaxUploadSize == 0 {
		config.Server.MaxUploadSize = 10 << 20
	}

	if config.WebSocket.HeartbeatInterval == 0 {
		config.WebSocket.HeartbeatInterval = 30 * time.Second
	}
	if config.WebSocket.WriteWait == 0 {
		config.WebSocket.WriteWait = 10 * time.Second
	}
	if config.WebSocket.MaxMessageSize == 0 {
		config.WebSocket.MaxMessageSize = 64 << 10
	}
	if config.WebSocket.SendBuffer == 0 {
		config.WebSocket.SendBuffer = 256
	}

	if config.Processor.ChunkSize == 0 {
		config.Processor.ChunkSize = 2000
	}

	if config.Retrieval.MaxRelevantChunks == 0 {
		config.Retrieval.MaxRelevantChunks = 3
	}
	if config.Retrieval.CacheTTL == 0 {
		config.Retrieval.CacheTTL = 5 * time.Minute
	}

	if config.Generation.BatchSize == 0 {
		config.Generation.BatchSize = 3
	}
	if config.Generation.Timeout == 0 {
		config.Generation.Timeout = 2 * time.Minute
	}

	if config.LLM.Provider == "" {
		config.LLM.Provider = "ollama"
	}
	if config.LLM.Model == "" {
		switch config.LLM.Provider {
		case "googleai":
			config.LLM.Model = "gemini-pro"
		case "openai":
			config.LLM.Model = "gpt-4o-mini"
		default:
			config.LLM.Model = "mistral"
		}
	}
	if config.LLM.BaseURL == "" && config.LLM.Provider == "ollama" {
		config.LLM.BaseURL = "http://localhost:11434"
	}
	if config.LLM.MaxTokens == 0 {
		config.LLM.MaxTokens = 2000
	}

	if config.Fetcher.RateLimit == 0 {
		config.Fetcher.RateLimit = 2.0
	}
	if config.Fetcher.Timeout == 0 {
		config.Fetcher.Timeout = 30 * time.Second
	}
	if config.Fetcher.MaxDepth == 0 {
		config.Fetcher.MaxDepth = 1
	}

	if config.Logging.Level == "" {
		config.Logging.Level = "info"
	}
	if config.Logging.Dir == "" {
		config.Logging.Dir = "logs"
	}
	if config.Logging.MaxSizeMB == 0 {
		config.Logging.MaxSizeMB = 5
	}
	if config.Logging.MaxBackups == 0 {
		config.Logging.MaxBackups = 5
	}
}

func mergeWithEnv(config *Config) {
	if port := envInt("PORT"); port > 0 {
		config.Server.Port = port
	}
	if env := os.Getenv("APP_ENV"); env != "" {
		config.Server.Environment = env
	}
	if size := envInt("CHUNK_SIZE"); size > 0 {
		config.Processor.ChunkSize = size
	}
	if topK := envInt("MAX_RELEVANT_CHUNKS"); topK > 0 {
		config.Retrieval.MaxRelevantChunks = topK
	}
	if batch := envInt("GENERATION_BATCH_SIZE"); batch > 0 {
		config.Generation.BatchSize = batch
	}
	if interval, err := time.ParseDuration(os.Getenv("HEARTBEAT_INTERVAL")); err == nil && interval > 0 {
		config.WebSocket.HeartbeatInterval = interval
	}
	if provider := os.Getenv("LLM_PROVIDER"); provider != "" {
		config.LLM.Provider = provider
	}
	if model := os.Getenv("LLM_MODEL"); model != "" {
		config.LLM.Model = model
	}
	if baseURL := os.Getenv("OLLAMA_BASE_URL"); baseURL != "" && (config.LLM.Provider == "" || config.LLM.Provider == "ollama") {
		config.LLM.BaseURL = baseURL
	}
	switch config.LLM.Provider {
	case "googleai":
		if key := os.Getenv("GEMINI_API_KEY"); key != "" {
			config.LLM.APIKey = key
		}
	case "openai":
		if key := os.Getenv("OPENAI_API_KEY"); key != "" {
			config.LLM.APIKey = key
		}
	}
	if level := os.Getenv("LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
}

func envInt(key string) int {
	v, err := strconv.Atoi(os.Getenv(key))
	if err != nil {
		return 0
	}
	return v
}
