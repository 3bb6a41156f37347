package config

import (
	"fmt"
	"net/url"
)

type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (c *Config) Validate() []ValidationError {
	var errors []ValidationError

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errors = append(errors, ValidationError{
			Field:   "server.port",
			Message: "port must be between 1 and 65535",
		})
	}

	if c.Server.MaxUploadSize < 1 {
		errors = append(errors, ValidationError{
			Field:   "server.max_upload_size",
			Message: "max_upload_size must be positive",
		})
	}

	if c.WebSocket.HeartbeatInterval <= 0 {
		errors = append(errors, ValidationError{
			Field:   "websocket.heartbeat_interval",
			Message: "heartbeat_interval must be positive",
		})
	}

	if c.Processor.ChunkSize < 1 {
		errors = append(errors, ValidationError{
			Field:   "processor.chunk_size",
			Message: "chunk_size must be positive",
		})
	}

	if c.Retrieval.MaxRelevantChunks < 1 {
		errors = append(errors, ValidationError{
			Field:   "retrieval.max_relevant_chunks",
			Message: "max_relevant_chunks must be positive",
		})
	}

	if c.Retrieval.Workers < 0 {
		errors = append(errors, ValidationError{
			Field:   "retrieval.workers",
			Message: "workers cannot be negative",
		})
	}

	if c.Generation.BatchSize < 1 {
		errors = append(errors, ValidationError{
			Field:   "generation.batch_size",
			Message: "batch_size must be positive",
		})
	}

	if c.Generation.Timeout <= 0 {
		errors = append(errors, ValidationError{
			Field:   "generation.timeout",
			Message: "timeout must be positive",
		})
	}

	switch c.LLM.Provider {
	case "ollama":
		if c.LLM.BaseURL == "" {
			errors = append(errors, ValidationError{
				Field:   "llm.base_url",
				Message: "Ollama base URL is required",
			})
		} else if u, err := url.Parse(c.LLM.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
			errors = append(errors, ValidationError{
				Field:   "llm.base_url",
				Message: "invalid Ollama base URL",
			})
		}
	case "googleai", "openai":
		if c.LLM.APIKey == "" {
			errors = append(errors, ValidationError{
				Field:   "llm.api_key",
				Message: fmt.Sprintf("api_key is required for provider %s", c.LLM.Provider),
			})
		}
	default:
		errors = append(errors, ValidationError{
			Field:   "llm.provider",
			Message: fmt.Sprintf("unknown provider: %s", c.LLM.Provider),
		})
	}

	if c.LLM.MaxTokens < 1 || c.LLM.MaxTokens > 8192 {
		errors = append(errors, ValidationError{
			Field:   "llm.max_tokens",
			Message: "max_tokens must be between 1 and 8192",
		})
	}

	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2 {
		errors = append(errors, ValidationError{
			Field:   "llm.temperature",
			Message: "temperature must be between 0 and 2",
		})
	}

	if c.Fetcher.RateLimit <= 0 {
		errors = append(errors, ValidationError{
			Field:   "fetcher.rate_limit",
			Message: "rate_limit must be positive",
		})
	}

	if c.Fetcher.MaxDepth < -1 {
		errors = append(errors, ValidationError{
			Field:   "fetcher.max_depth",
			Message: "max_depth must be -1 or more",
		})
	}

	return errors
}
