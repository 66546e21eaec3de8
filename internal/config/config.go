// Package config loads and validates application configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// Config holds all application configuration.
type Config struct {
	// Server settings.
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// Storage layout. ToolsDir/FlowsDir/LogsDir default to
	// subdirectories of DataDir when unset.
	DataDir  string
	ToolsDir string
	FlowsDir string
	LogsDir  string

	// Generator settings. The generator synthesizes tool source from a
	// natural-language description via an OpenAI-compatible chat API.
	// Empty API key disables tool generation (registration of explicit
	// source still works).
	GeneratorBaseURL string
	GeneratorAPIKey  string
	GeneratorModel   string

	// OTEL settings.
	OTELEndpoint string
	OTELInsecure bool
	ServiceName  string

	// Operational settings.
	LogLevel            string
	MaxRequestBodyBytes int64 // Maximum request body size in bytes.
}

// Layout is the directory layout rooted at a data directory.
type Layout struct {
	DataDir  string
	ToolsDir string
	FlowsDir string
	LogsDir  string
}

// DirLayout returns the default subdirectory layout under dataDir.
func DirLayout(dataDir string) Layout {
	return Layout{
		DataDir:  dataDir,
		ToolsDir: filepath.Join(dataDir, "tools"),
		FlowsDir: filepath.Join(dataDir, "flows"),
		LogsDir:  filepath.Join(dataDir, "logs"),
	}
}

// Load reads configuration from environment variables with sensible defaults.
func Load() (Config, error) {
	layout := DirLayout(envStr("TAKUMI_DATA_DIR", "data"))
	cfg := Config{
		Port:                envInt("TAKUMI_PORT", 8090),
		ReadTimeout:         envDuration("TAKUMI_READ_TIMEOUT", 30*time.Second),
		WriteTimeout:        envDuration("TAKUMI_WRITE_TIMEOUT", 120*time.Second),
		DataDir:             layout.DataDir,
		ToolsDir:            envStr("TAKUMI_TOOLS_DIR", layout.ToolsDir),
		FlowsDir:            envStr("TAKUMI_FLOWS_DIR", layout.FlowsDir),
		LogsDir:             envStr("TAKUMI_LOGS_DIR", layout.LogsDir),
		GeneratorBaseURL:    envStr("TAKUMI_GENERATOR_BASE_URL", "https://api.openai.com/v1"),
		GeneratorAPIKey:     envStr("OPENAI_API_KEY", ""),
		GeneratorModel:      envStr("TAKUMI_GENERATOR_MODEL", "gpt-4o-mini"),
		OTELEndpoint:        envStr("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		OTELInsecure:        envBool("OTEL_EXPORTER_OTLP_INSECURE", false),
		ServiceName:         envStr("OTEL_SERVICE_NAME", "takumi"),
		LogLevel:            envStr("TAKUMI_LOG_LEVEL", "info"),
		MaxRequestBodyBytes: int64(envInt("TAKUMI_MAX_REQUEST_BODY_BYTES", 1*1024*1024)), // 1 MB default
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks that required configuration is present.
func (c Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("config: TAKUMI_DATA_DIR must not be empty")
	}
	if c.ToolsDir == "" || c.FlowsDir == "" || c.LogsDir == "" {
		return fmt.Errorf("config: tools, flows, and logs directories must not be empty")
	}
	if c.MaxRequestBodyBytes <= 0 {
		return fmt.Errorf("config: TAKUMI_MAX_REQUEST_BODY_BYTES must be positive")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("config: TAKUMI_PORT must be a valid TCP port")
	}
	return nil
}

func envStr(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultVal
}

func envBool(key string, defaultVal bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return defaultVal
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultVal
}
