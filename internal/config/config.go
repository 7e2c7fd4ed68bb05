package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/viper"
)

// MCP server transport types.
const (
	ClientTypeSSE            = "sse"
	ClientTypeStreamableHTTP = "streamable_http"
	ClientTypeStdio          = "stdio"
)

// Config holds the application configuration
type Config struct {
	LLM        LLMConfig         `mapstructure:"llm"`
	Chat       ChatConfig        `mapstructure:"chat"`
	Log        LogConfig         `mapstructure:"log"`
	MCPServers []MCPServerConfig `mapstructure:"mcp_servers"`
}

// LLMConfig holds the model provider configuration
type LLMConfig struct {
	Provider     string `mapstructure:"provider"`
	BaseURL      string `mapstructure:"base_url"`
	APIKey       string `mapstructure:"api_key"`
	Model        string `mapstructure:"model"`
	SystemPrompt string `mapstructure:"system_prompt"`
	MaxTurns     int    `mapstructure:"max_turns"`
	MaxTokens    int    `mapstructure:"max_tokens"`
}

// ChatConfig holds the interactive session configuration
type ChatConfig struct {
	Prompt string `mapstructure:"prompt"`
}

// LogConfig holds the logging configuration
type LogConfig struct {
	Level string `mapstructure:"level"`
}

// MCPServerConfig describes one MCP tool server to connect at startup.
type MCPServerConfig struct {
	Name    string            `mapstructure:"name"`
	Type    string            `mapstructure:"type"`
	URL     string            `mapstructure:"url"`
	Headers map[string]string `mapstructure:"headers"`
	Command string            `mapstructure:"command"`
	Args    []string          `mapstructure:"args"`
	Env     map[string]string `mapstructure:"env"`
}

// Load reads the named config file, or config.yaml from the working
// directory when path is empty (the CONFIG_PATH environment variable acts as
// a fallback for path). A missing default config file is not an error: the
// defaults plus the API_KEY environment variable are enough to run.
func Load(path string) (*Config, error) {
	v := viper.New()

	explicit := path
	if explicit == "" {
		explicit = os.Getenv("CONFIG_PATH")
	}
	if explicit != "" {
		v.SetConfigFile(explicit)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	v.SetDefault("llm.provider", "openai")
	v.SetDefault("llm.model", "gpt-4o-mini")
	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.max_turns", 5)
	v.SetDefault("chat.prompt", "You")
	v.SetDefault("log.level", "info")

	// The credential always comes from the environment when present.
	if err := v.BindEnv("llm.api_key", "API_KEY"); err != nil {
		return nil, err
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if explicit != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	return &config, nil
}

// Validate reports configuration that cannot produce a working session.
func (c *Config) Validate() error {
	if c.LLM.APIKey == "" {
		return errors.New("missing API key: set API_KEY or llm.api_key")
	}
	if c.LLM.Model == "" {
		return errors.New("llm.model must not be empty")
	}
	return nil
}
