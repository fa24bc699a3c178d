package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config holds the entire application configuration
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Storage     StorageConfig     `yaml:"storage"`
	Cache       CacheConfig       `yaml:"cache"`
	Classifiers ClassifiersConfig `yaml:"classifiers"`
	Guardrails  GuardrailsConfig  `yaml:"guardrails"`
	Generation  GenerationConfig  `yaml:"generation"`
	Workers     WorkersConfig     `yaml:"workers"`
}

// ServerConfig holds server-specific configuration
type ServerConfig struct {
	Port         string `yaml:"port"`
	ReadTimeout  int    `yaml:"read_timeout"`  // seconds
	WriteTimeout int    `yaml:"write_timeout"` // seconds
	IdleTimeout  int    `yaml:"idle_timeout"`  // seconds
}

// StorageConfig holds database configuration
type StorageConfig struct {
	Type     string         `yaml:"type"` // "postgres", "memory"
	Postgres PostgresConfig `yaml:"postgres"`
}

// PostgresConfig holds PostgreSQL-specific configuration
type PostgresConfig struct {
	URL             string `yaml:"url"`
	Host            string `yaml:"host"`
	Port            int    `yaml:"port"`
	Database        string `yaml:"database"`
	Username        string `yaml:"username"`
	Password        string `yaml:"password"`
	SSLMode         string `yaml:"ssl_mode"`
	MaxConnections  int    `yaml:"max_connections"`
	MaxIdleConns    int    `yaml:"max_idle_conns"`
	ConnMaxLifetime int    `yaml:"conn_max_lifetime"` // minutes
}

// CacheConfig holds decision cache configuration
type CacheConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	TTL      string `yaml:"ttl"` // duration string like "1h"
}

// ClassifiersConfig holds the model-server endpoints the pipeline calls
type ClassifiersConfig struct {
	EmbeddingURL string `yaml:"embedding_url"`
	CLIPURL      string `yaml:"clip_url"`
	Timeout      string `yaml:"timeout"` // duration string like "15s"
}

// GuardrailsConfig holds the policy constants consumed by the pipeline
type GuardrailsConfig struct {
	MaxPromptChars  int     `yaml:"max_prompt_chars"`
	MaxImageBytes   int     `yaml:"max_image_bytes"`
	MaxPixels       int     `yaml:"max_pixels"`
	Margin          float64 `yaml:"margin"`
	DomainThreshold float64 `yaml:"domain_threshold"`
}

// GenerationConfig holds configuration for the downstream generation API
type GenerationConfig struct {
	APIKey  string `yaml:"api_key"`
	Model   string `yaml:"model"`
	BaseURL string `yaml:"base_url"`
	Timeout int    `yaml:"timeout"` // seconds
}

// WorkersConfig holds the async job runner configuration
type WorkersConfig struct {
	Count     int `yaml:"count"`
	QueueSize int `yaml:"queue_size"`
}

// LoadConfig loads configuration from a YAML file
func LoadConfig(configPath string) (*Config, error) {
	// Set defaults
	config := &Config{
		Server: ServerConfig{
			Port:         ":8080",
			ReadTimeout:  30,
			WriteTimeout: 30,
			IdleTimeout:  120,
		},
		Storage: StorageConfig{
			Type: "postgres",
			Postgres: PostgresConfig{
				URL:             os.Getenv("DATABASE_URL"),
				Host:            "localhost",
				Port:            5432,
				Database:        "foodguard",
				Username:        "foodguard",
				Password:        "foodguard_pass",
				SSLMode:         "disable",
				MaxConnections:  25,
				MaxIdleConns:    5,
				ConnMaxLifetime: 60, // minutes
			},
		},
		Cache: CacheConfig{
			Enabled: true,
			Addr:    "localhost:6379",
			DB:      1,
			TTL:     "1h",
		},
		Classifiers: ClassifiersConfig{
			EmbeddingURL: "http://localhost:8090",
			CLIPURL:      "http://localhost:8091",
			Timeout:      "15s",
		},
		Guardrails: GuardrailsConfig{
			MaxPromptChars:  800,
			MaxImageBytes:   5 * 1024 * 1024, // 5MB
			MaxPixels:       1536 * 1536,
			Margin:          0.1,
			DomainThreshold: 0.55,
		},
		Generation: GenerationConfig{
			APIKey:  os.Getenv("GEMINI_API_KEY"),
			Model:   "gemini-2.5-flash",
			BaseURL: "https://generativelanguage.googleapis.com/v1beta",
			Timeout: 60,
		},
		Workers: WorkersConfig{
			Count:     2,
			QueueSize: 100,
		},
	}

	// Read config file if it exists
	if configPath != "" {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}

		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	return config, nil
}
