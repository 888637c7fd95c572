// Package config handles Sable configuration loading.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/sable-ai/sable/internal/assembler"
)

// DefaultSearchPaths returns the config file search order.
// An explicit path (from -config flag) is checked first.
// Then: ./config.yaml, ~/.config/sable/config.yaml, /etc/sable/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"config.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "sable", "config.yaml"))
	}

	paths = append(paths, "/etc/sable/config.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches DefaultSearchPaths and returns the first that exists.
// Returns the path found, or an error if nothing was found.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", DefaultSearchPaths())
}

// Config holds all Sable configuration.
type Config struct {
	Listen      ListenConfig     `yaml:"listen"`
	Anthropic   AnthropicConfig  `yaml:"anthropic"`
	MQTT        MQTTConfig       `yaml:"mqtt"`
	Loop        LoopConfig       `yaml:"loop"`
	Context     assembler.Budget `yaml:"context_budget"`
	DataDir     string           `yaml:"data_dir"`
	PersonaFile string           `yaml:"persona_file"`
	LogLevel    string           `yaml:"log_level"`
}

// ListenConfig defines the gateway server settings.
type ListenConfig struct {
	Address string `yaml:"address"` // Bind address (default: "" = all interfaces)
	Port    int    `yaml:"port"`
}

// AnthropicConfig defines Anthropic API settings.
type AnthropicConfig struct {
	APIKey    string `yaml:"api_key"`
	Model     string `yaml:"model"`
	MaxTokens int    `yaml:"max_tokens"`
}

// MQTTConfig defines the optional MQTT channel bridge.
type MQTTConfig struct {
	Enabled      bool   `yaml:"enabled"`
	BrokerURL    string `yaml:"broker_url"`
	ClientID     string `yaml:"client_id"`
	InboundTopic string `yaml:"inbound_topic"`
	ReplyTopic   string `yaml:"reply_topic"`
}

// LoopConfig bounds the reasoning loop.
type LoopConfig struct {
	MaxIterations   int `yaml:"max_iterations"`
	TotalTimeoutSec int `yaml:"total_timeout_sec"`
	ToolTimeoutSec  int `yaml:"tool_timeout_sec"`
}

// TotalTimeout returns the configured wall-clock budget, zero when
// unset (the loop applies its own default).
func (c LoopConfig) TotalTimeout() time.Duration {
	return time.Duration(c.TotalTimeoutSec) * time.Second
}

// ToolTimeout returns the configured per-tool budget, zero when unset.
func (c LoopConfig) ToolTimeout() time.Duration {
	return time.Duration(c.ToolTimeoutSec) * time.Second
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, err
	}

	if err := cfg.Context.Validate(); err != nil {
		return nil, fmt.Errorf("context_budget: %w", err)
	}
	return cfg, nil
}

// Default returns a default configuration.
func Default() *Config {
	return &Config{
		Listen:  ListenConfig{Port: 8080},
		Context: assembler.DefaultBudget(),
		MQTT: MQTTConfig{
			ClientID:     "sable",
			InboundTopic: "sable/inbound",
			ReplyTopic:   "sable/reply",
		},
		DataDir: "data",
	}
}
