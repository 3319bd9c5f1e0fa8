// Package config loads the server configuration from YAML with environment
// variable resolution for secrets.
package config

import (
	"fmt"
	"os"
	"time"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"

	apperrors "github.com/deepagents-dev/deepagents/pkg/errors"
)

// Config represents the full server configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Sandbox  SandboxConfig  `yaml:"sandbox"`
	LLM      LLMConfig      `yaml:"llm"`
	Sessions SessionsConfig `yaml:"sessions"`
}

// ServerConfig holds the HTTP server settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// DatabaseConfig selects the persistence backend.
type DatabaseConfig struct {
	Driver string `yaml:"driver"` // sqlite or postgres
	DSN    string `yaml:"dsn"`
}

// SandboxConfig holds the Kubernetes sandbox settings.
type SandboxConfig struct {
	Namespace        string        `yaml:"namespace"`
	Image            string        `yaml:"image"`
	StorageRequest   string        `yaml:"storage_request"`
	Kubeconfig       string        `yaml:"kubeconfig,omitempty"` // empty means in-cluster
	ProvisionTimeout time.Duration `yaml:"provision_timeout"`
}

// LLMConfig holds provider credentials and process defaults.
type LLMConfig struct {
	DefaultProvider string              `yaml:"default_provider"`
	DefaultModel    string              `yaml:"default_model"`
	Providers       []LLMProviderConfig `yaml:"providers"`
}

// LLMProviderConfig holds individual provider configuration. APIKeyEnv names
// an environment variable resolved at load time so keys stay out of files.
type LLMProviderConfig struct {
	Name      string `yaml:"name"` // anthropic, openrouter, ollama
	APIKey    string `yaml:"api_key,omitempty"`
	APIKeyEnv string `yaml:"api_key_env,omitempty"`
	Endpoint  string `yaml:"endpoint,omitempty"`
}

// SessionsConfig holds turn and lifecycle settings.
type SessionsConfig struct {
	MaxToolCalls   int           `yaml:"max_tool_calls"`
	Timeout        time.Duration `yaml:"timeout"`
	SweepInterval  time.Duration `yaml:"sweep_interval"`
	EnqueueTimeout time.Duration `yaml:"enqueue_timeout"`
}

// Load reads and resolves the configuration file. A missing path yields the
// defaults.
func Load(filePath string) (*Config, error) {
	var config Config

	if filePath != "" {
		data, err := os.ReadFile(filePath)
		if err != nil {
			return nil, apperrors.New(apperrors.ErrCodeInvalidInput,
				fmt.Sprintf("failed to read config file %s", filePath), err)
		}
		if err := yaml.Unmarshal(data, &config); err != nil {
			return nil, apperrors.New(apperrors.ErrCodeInvalidInput, "failed to parse config", err)
		}
	}

	for i := range config.LLM.Providers {
		if config.LLM.Providers[i].APIKeyEnv != "" {
			config.LLM.Providers[i].APIKey = os.Getenv(config.LLM.Providers[i].APIKeyEnv)
		}
	}

	if err := config.SetDefaults(); err != nil {
		return nil, err
	}
	return &config, nil
}

// SetDefaults fills unset fields with the documented defaults.
func (c *Config) SetDefaults() error {
	defaults := Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8080,
		},
		Database: DatabaseConfig{
			Driver: "sqlite",
			DSN:    "deepagents.db",
		},
		Sandbox: SandboxConfig{
			Namespace:        "deep-agents",
			Image:            "python:3.11-slim",
			StorageRequest:   "1Gi",
			ProvisionTimeout: 60 * time.Second,
		},
		LLM: LLMConfig{
			DefaultProvider: "anthropic",
			DefaultModel:    "claude-sonnet-4-20250514",
		},
		Sessions: SessionsConfig{
			MaxToolCalls:   25,
			Timeout:        30 * time.Minute,
			SweepInterval:  time.Minute,
			EnqueueTimeout: 5 * time.Second,
		},
	}

	if err := mergo.Merge(c, defaults); err != nil {
		return apperrors.New(apperrors.ErrCodeInvalidInput, "failed to apply config defaults", err)
	}
	return nil
}
