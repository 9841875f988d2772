package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Config represents runtime configuration for the service.
type Config struct {
	Server    ServerConfig              `json:"server"`
	Logging   LoggingConfig             `json:"logging"`
	Storage   StorageConfig             `json:"storage"`
	Redis     RedisConfig               `json:"redis"`
	Sessions  SessionConfig             `json:"sessions"`
	Assistant AssistantConfig           `json:"assistant"`
	Providers map[string]ProviderConfig `json:"providers"`
	Todo      TodoConfig                `json:"todo"`
	Workers   WorkerConfig              `json:"workers"`
}

type ServerConfig struct {
	Address         string        `json:"address"`
	ShutdownTimeout time.Duration `json:"shutdown_timeout"`
	Mode            string        `json:"mode"`
}

type LoggingConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"`
}

// StorageConfig selects where todos live. Backend "memory" keeps them in process.
type StorageConfig struct {
	Backend   string                    `json:"backend"`
	Databases map[string]DatabaseConfig `json:"databases"`
}

type DatabaseConfig struct {
	DSN      string `json:"dsn"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	Password string `json:"password"`
	DBName   string `json:"db_name"`
	Params   string `json:"params"`
}

type RedisConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	Password string `json:"password"`
	DB       int    `json:"db"`
}

// SessionConfig controls the conversation store and its retention.
type SessionConfig struct {
	Backend       string        `json:"backend"`
	TTL           time.Duration `json:"ttl"`
	MaxHistory    int           `json:"max_history"`
	CleanInterval time.Duration `json:"clean_interval"`
}

type AssistantConfig struct {
	GenerateTimeout      time.Duration `json:"generate_timeout"`
	GenerateRetries      int           `json:"generate_retries"`
	RetryBackoff         time.Duration `json:"retry_backoff"`
	ConversationProvider string        `json:"conversation_provider"`
	SystemPrompt         string        `json:"system_prompt"`
	Tools                ToolsConfig   `json:"tools"`
}

// ToolsConfig controls the tools offered to the conversation model.
type ToolsConfig struct {
	Todos                bool   `json:"todos"`
	WebSearch            bool   `json:"web_search"`
	GoogleAPIKey         string `json:"google_api_key"`
	GoogleSearchEngineID string `json:"google_search_engine_id"`
	// RateLimit caps tool calls per session per minute; 0 disables the cap.
	RateLimit int `json:"rate_limit"`
}

// WorkerConfig sizes the generation dispatcher. MaxWorkers 0 runs generators
// inline on the request goroutine.
type WorkerConfig struct {
	MinWorkers  int           `json:"min_workers"`
	MaxWorkers  int           `json:"max_workers"`
	QueueSize   int           `json:"queue_size"`
	IdleTimeout time.Duration `json:"idle_timeout"`
}

type ProviderConfig struct {
	BaseURL string `json:"base_url"`
	Model   string `json:"model"`
	APIKey  string `json:"api_key"`
}

type TodoConfig struct {
	Seed []string `json:"seed"`
}

const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

// Default returns the configuration used when no file or environment overrides are present.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Address:         ":8090",
			ShutdownTimeout: 10 * time.Second,
			Mode:            "release",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Storage: StorageConfig{
			Backend:   BackendMemory,
			Databases: map[string]DatabaseConfig{},
		},
		Redis: RedisConfig{
			Host: "127.0.0.1",
			Port: 6379,
		},
		Sessions: SessionConfig{
			Backend:       BackendMemory,
			TTL:           24 * time.Hour,
			MaxHistory:    200,
			CleanInterval: 10 * time.Minute,
		},
		Assistant: AssistantConfig{
			GenerateTimeout: 30 * time.Second,
			GenerateRetries: 0,
			RetryBackoff:    200 * time.Millisecond,
			Tools: ToolsConfig{
				Todos:     true,
				RateLimit: 10,
			},
		},
		Providers: map[string]ProviderConfig{},
		Workers: WorkerConfig{
			MinWorkers:  1,
			MaxWorkers:  8,
			QueueSize:   256,
			IdleTimeout: 30 * time.Second,
		},
	}
}

// Validate checks values that would otherwise fail deep inside a component.
func (c *Config) Validate() error {
	switch strings.ToLower(c.Storage.Backend) {
	case BackendMemory:
	case "sqlite", "sqlite3", "mysql":
		if _, ok := c.Storage.Databases[strings.ToLower(c.Storage.Backend)]; !ok {
			return fmt.Errorf("database config for %s not found", c.Storage.Backend)
		}
	default:
		return fmt.Errorf("unsupported storage backend: %s", c.Storage.Backend)
	}
	switch strings.ToLower(c.Sessions.Backend) {
	case BackendMemory, BackendRedis:
	default:
		return fmt.Errorf("unsupported sessions backend: %s", c.Sessions.Backend)
	}
	if c.Sessions.MaxHistory < 0 {
		return fmt.Errorf("sessions.max_history cannot be negative")
	}
	if c.Sessions.TTL < 0 {
		return fmt.Errorf("sessions.ttl cannot be negative")
	}
	if c.Assistant.Tools.RateLimit < 0 {
		return fmt.Errorf("assistant.tools.rate_limit cannot be negative")
	}
	if c.Assistant.GenerateRetries < 0 {
		return fmt.Errorf("assistant.generate_retries cannot be negative")
	}
	if c.Workers.MaxWorkers < 0 || c.Workers.MinWorkers < 0 || c.Workers.QueueSize < 0 {
		return fmt.Errorf("workers sizes cannot be negative")
	}
	if c.Workers.MaxWorkers > 0 && c.Workers.MinWorkers > c.Workers.MaxWorkers {
		return fmt.Errorf("workers.min_workers %d exceeds workers.max_workers %d", c.Workers.MinWorkers, c.Workers.MaxWorkers)
	}
	if p := c.Assistant.ConversationProvider; p != "" {
		if _, ok := c.Providers[p]; !ok {
			return fmt.Errorf("provider %s not configured", p)
		}
	}
	switch c.Logging.Format {
	case "json", "console":
	default:
		return fmt.Errorf("logging.format must be 'json' or 'console', got %q", c.Logging.Format)
	}
	return nil
}

// resolvePaths makes sqlite DSNs relative to the config file location.
func (c *Config) resolvePaths(configPath string) {
	if configPath == "" {
		return
	}
	for name, db := range c.Storage.Databases {
		if !strings.HasPrefix(name, "sqlite") || db.DSN == "" || db.DSN == ":memory:" {
			continue
		}
		if strings.HasPrefix(db.DSN, "file:") || filepath.IsAbs(db.DSN) {
			continue
		}
		db.DSN = filepath.Join(filepath.Dir(configPath), db.DSN)
		c.Storage.Databases[name] = db
	}
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
