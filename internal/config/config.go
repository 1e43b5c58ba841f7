package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	Watch  WatchConfig
	Gate   GateConfig
	Agents AgentsConfig
	Report ReportConfig
	Server ServerConfig
}

// WatchConfig holds filesystem watcher settings.
type WatchConfig struct {
	Roots      []string
	Extensions []string
}

// GateConfig holds change filtering and batching settings.
type GateConfig struct {
	MinChangeInterval time.Duration
	BatchTimeout      time.Duration
	MinFileSize       int64
	MaxFileSize       int64
	IgnorePatterns    []string
}

// AgentsConfig holds agent backend settings.
type AgentsConfig struct {
	Backend        string // "subprocess", "mock", "remote"
	Command        string // external code-generation binary for subprocess backend
	RemoteURL      string // endpoint for the remote backend
	InvokeTimeout  time.Duration
	HistoryLimit   int
	MaxContentSize int64 // per-file content cap when building prompts
}

// ReportConfig holds error report and artifact output settings.
type ReportConfig struct {
	ErrorReportFile string
	WorkingSetDir   string
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr          string
	ReadTimeout   time.Duration
	WriteTimeout  time.Duration
	CORSOrigins   []string
	LogBufferSize int
}

// Load reads configuration from environment variables. Defaults mirror the
// standalone overseer so the binary is useful with no environment at all.
func Load() (*Config, error) {
	minInterval, err := getEnvDuration("PARAX_GATE_MIN_CHANGE_INTERVAL", 500*time.Millisecond)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	batchTimeout, err := getEnvDuration("PARAX_GATE_BATCH_TIMEOUT", 2*time.Second)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	minFileSize, err := getEnvInt64("PARAX_GATE_MIN_FILE_SIZE", 1)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	maxFileSize, err := getEnvInt64("PARAX_GATE_MAX_FILE_SIZE", 1024*1024)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	invokeTimeout, err := getEnvDuration("PARAX_AGENT_TIMEOUT", 5*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	historyLimit, err := getEnvInt("PARAX_AGENT_HISTORY_LIMIT", 50)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	maxContentSize, err := getEnvInt64("PARAX_AGENT_MAX_CONTENT_SIZE", 32*1024)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	readTimeout, err := getEnvDuration("PARAX_SERVER_READ_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	writeTimeout, err := getEnvDuration("PARAX_SERVER_WRITE_TIMEOUT", 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	logBufferSize, err := getEnvInt("PARAX_SERVER_LOG_BUFFER", 256)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	cfg := &Config{
		Watch: WatchConfig{
			Roots: getEnvList("PARAX_WATCH_ROOTS", []string{"src"}),
			Extensions: getEnvList("PARAX_WATCH_EXTENSIONS", []string{
				".py", ".js", ".ts", ".jsx", ".tsx", ".go", ".rs", ".java", ".cpp", ".c", ".h",
			}),
		},
		Gate: GateConfig{
			MinChangeInterval: minInterval,
			BatchTimeout:      batchTimeout,
			MinFileSize:       minFileSize,
			MaxFileSize:       maxFileSize,
			IgnorePatterns: getEnvList("PARAX_GATE_IGNORE_PATTERNS", []string{
				"*.pyc", "__pycache__", ".git", "*.log", "*.tmp", "*.swp", ".DS_Store",
			}),
		},
		Agents: AgentsConfig{
			Backend:        getEnv("PARAX_AGENT_BACKEND", "mock"),
			Command:        getEnv("PARAX_AGENT_COMMAND", "goose"),
			RemoteURL:      getEnv("PARAX_AGENT_REMOTE_URL", ""),
			InvokeTimeout:  invokeTimeout,
			HistoryLimit:   historyLimit,
			MaxContentSize: maxContentSize,
		},
		Report: ReportConfig{
			ErrorReportFile: getEnv("PARAX_ERROR_REPORT_FILE", "tests/working_set/error_report.jsonl"),
			WorkingSetDir:   getEnv("PARAX_WORKING_SET_DIR", "tests/working_set"),
		},
		Server: ServerConfig{
			Addr:          getEnv("PARAX_SERVER_ADDR", ":8080"),
			ReadTimeout:   readTimeout,
			WriteTimeout:  writeTimeout,
			CORSOrigins:   getEnvList("PARAX_CORS_ORIGINS", []string{"http://localhost:5173"}),
			LogBufferSize: logBufferSize,
		},
	}

	err = cfg.validate()
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	return cfg, nil
}

// validate checks required fields and value bounds.
func (c *Config) validate() error {
	if len(c.Watch.Roots) == 0 {
		return fmt.Errorf("PARAX_WATCH_ROOTS must name at least one directory")
	}
	if c.Gate.MinChangeInterval <= 0 {
		return fmt.Errorf("PARAX_GATE_MIN_CHANGE_INTERVAL must be positive, got %s", c.Gate.MinChangeInterval)
	}
	if c.Gate.BatchTimeout < c.Gate.MinChangeInterval {
		return fmt.Errorf("PARAX_GATE_BATCH_TIMEOUT (%s) must be >= min change interval (%s)",
			c.Gate.BatchTimeout, c.Gate.MinChangeInterval)
	}
	if c.Gate.MinFileSize < 0 {
		return fmt.Errorf("PARAX_GATE_MIN_FILE_SIZE must be >= 0, got %d", c.Gate.MinFileSize)
	}
	if c.Gate.MaxFileSize < c.Gate.MinFileSize {
		return fmt.Errorf("PARAX_GATE_MAX_FILE_SIZE (%d) must be >= min file size (%d)",
			c.Gate.MaxFileSize, c.Gate.MinFileSize)
	}
	if c.Agents.InvokeTimeout <= 0 {
		return fmt.Errorf("PARAX_AGENT_TIMEOUT must be positive, got %s", c.Agents.InvokeTimeout)
	}
	if c.Agents.HistoryLimit < 1 {
		return fmt.Errorf("PARAX_AGENT_HISTORY_LIMIT must be >= 1, got %d", c.Agents.HistoryLimit)
	}
	if c.Agents.Backend == "remote" && c.Agents.RemoteURL == "" {
		return fmt.Errorf("PARAX_AGENT_REMOTE_URL is required when PARAX_AGENT_BACKEND=remote")
	}
	if c.Server.ReadTimeout <= 0 {
		return fmt.Errorf("PARAX_SERVER_READ_TIMEOUT must be positive, got %s", c.Server.ReadTimeout)
	}
	if c.Server.WriteTimeout <= 0 {
		return fmt.Errorf("PARAX_SERVER_WRITE_TIMEOUT must be positive, got %s", c.Server.WriteTimeout)
	}
	if c.Server.LogBufferSize < 1 {
		return fmt.Errorf("PARAX_SERVER_LOG_BUFFER must be >= 1, got %d", c.Server.LogBufferSize)
	}

	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("parsing %s=%q as int: %w", key, v, err)
	}
	return n, nil
}

func getEnvInt64(key string, fallback int64) (int64, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parsing %s=%q as int: %w", key, v, err)
	}
	return n, nil
}

func getEnvDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("parsing %s=%q as duration: %w", key, v, err)
	}
	return d, nil
}

func getEnvList(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	parts := strings.Split(v, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	return result
}
