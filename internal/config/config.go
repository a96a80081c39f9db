package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"taskcron/internal/core"
	"taskcron/pkg/postgres"
)

// ServerConfig holds server-related settings.
type ServerConfig struct {
	Addr      string
	AuthToken string
	// Mode selects the surfaces to serve: http, mcp (stdio) or both.
	Mode string
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string
	Format string
}

// CatalogConfig selects and configures the task catalog.
type CatalogConfig struct {
	Driver       string
	HistoryLimit int
	Postgres     postgres.Config
}

// SchedulerConfig tunes the scheduler and the command executor.
type SchedulerConfig struct {
	Timeout        time.Duration
	MaxConcurrent  int
	Overlap        core.OverlapPolicy
	Shell          string
	MaxOutputBytes int
}

// BarkConfig holds Bark notification settings.
type BarkConfig struct {
	URL     string
	Enabled bool
}

// TelegramConfig holds Telegram notification settings.
type TelegramConfig struct {
	Token  string
	ChatID int64
	APIURL string
}

// NotificationConfig holds all notification settings.
type NotificationConfig struct {
	Bark     BarkConfig
	Telegram TelegramConfig
	// PerMinute caps failure notifications; 0 disables throttling.
	PerMinute int
}

// Config holds all runtime configuration options for the daemon.
type Config struct {
	Server       ServerConfig
	Log          LogConfig
	Catalog      CatalogConfig
	Scheduler    SchedulerConfig
	Notification NotificationConfig

	StateDir      string
	ShutdownGrace time.Duration
}

const (
	envPrefix = "TASKCRON_"

	defaultAddr           = "127.0.0.1:7070"
	defaultMode           = "http"
	defaultLogLevel       = "info"
	defaultLogFormat      = "text"
	defaultDriver         = "sqlite"
	defaultHistoryLimit   = 50
	defaultShutdownGrace  = 10 * time.Second
	defaultMaxOutputBytes = 256 << 10
	defaultNotifyPerMin   = 6
)

func env(key string) (string, bool) {
	return os.LookupEnv(envPrefix + key)
}

// getEnvString returns the environment variable value or default
func getEnvString(key, defaultVal string) string {
	if val, ok := env(key); ok {
		return val
	}
	return defaultVal
}

// getEnvInt returns the environment variable as int or default
func getEnvInt(key string, defaultVal int) int {
	if val, ok := env(key); ok {
		if i, err := strconv.Atoi(strings.TrimSpace(val)); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvInt64(key string, defaultVal int64) int64 {
	if val, ok := env(key); ok {
		if i, err := strconv.ParseInt(strings.TrimSpace(val), 10, 64); err == nil {
			return i
		}
	}
	return defaultVal
}

// getEnvBool returns the environment variable as bool or default
func getEnvBool(key string, defaultVal bool) bool {
	if val, ok := env(key); ok {
		lower := strings.ToLower(strings.TrimSpace(val))
		return lower == "true" || lower == "1" || lower == "yes"
	}
	return defaultVal
}

// getEnvDuration returns the environment variable as duration or default
func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val, ok := env(key); ok {
		if d, err := time.ParseDuration(strings.TrimSpace(val)); err == nil {
			return d
		}
	}
	return defaultVal
}

// Parse builds the configuration from args (without the program name).
// Priority: CLI flags > environment variables > .env file > defaults.
func Parse(args []string) (*Config, error) {
	envFiles := []string{".env"}
	if configDir, err := os.UserConfigDir(); err == nil {
		envFiles = append(envFiles, filepath.Join(configDir, "taskcron", ".env"))
	}
	for _, file := range envFiles {
		// godotenv.Load never overrides variables that are already set.
		_ = godotenv.Load(file)
	}

	cfg := &Config{
		Server: ServerConfig{
			Addr:      getEnvString("ADDR", defaultAddr),
			AuthToken: getEnvString("AUTH_TOKEN", ""),
			Mode:      getEnvString("MODE", defaultMode),
		},
		Log: LogConfig{
			Level:  getEnvString("LOG_LEVEL", defaultLogLevel),
			Format: getEnvString("LOG_FORMAT", defaultLogFormat),
		},
		Catalog: CatalogConfig{
			Driver:       getEnvString("CATALOG_DRIVER", defaultDriver),
			HistoryLimit: getEnvInt("HISTORY_LIMIT", defaultHistoryLimit),
			Postgres: postgres.Config{
				DSN:             getEnvString("POSTGRES_DSN", ""),
				Host:            getEnvString("POSTGRES_HOST", "localhost"),
				Port:            getEnvInt("POSTGRES_PORT", 5432),
				User:            getEnvString("POSTGRES_USER", "taskcron"),
				Password:        getEnvString("POSTGRES_PASSWORD", ""),
				DBName:          getEnvString("POSTGRES_DB", "taskcron"),
				SSLMode:         getEnvString("POSTGRES_SSLMODE", "disable"),
				TimeZone:        getEnvString("POSTGRES_TIMEZONE", "UTC"),
				MaxIdleConns:    getEnvInt("POSTGRES_MAX_IDLE_CONNS", 2),
				MaxOpenConns:    getEnvInt("POSTGRES_MAX_OPEN_CONNS", 10),
				ConnMaxLifetime: getEnvDuration("POSTGRES_CONN_MAX_LIFETIME", 30*time.Minute),
				LogLevel:        getEnvString("POSTGRES_LOG_LEVEL", "Warn"),
			},
		},
		Scheduler: SchedulerConfig{
			Timeout:        getEnvDuration("EXEC_TIMEOUT", core.DefaultTimeout),
			MaxConcurrent:  getEnvInt("MAX_CONCURRENT", core.DefaultMaxConcurrent),
			Overlap:        core.OverlapPolicy(getEnvString("OVERLAP", string(core.OverlapSkip))),
			Shell:          getEnvString("SHELL", ""),
			MaxOutputBytes: getEnvInt("MAX_OUTPUT_BYTES", defaultMaxOutputBytes),
		},
		Notification: NotificationConfig{
			Bark: BarkConfig{
				URL:     getEnvString("BARK_URL", ""),
				Enabled: getEnvBool("BARK_ENABLED", false),
			},
			Telegram: TelegramConfig{
				Token:  getEnvString("TELEGRAM_TOKEN", ""),
				ChatID: getEnvInt64("TELEGRAM_CHAT_ID", 0),
				APIURL: getEnvString("TELEGRAM_API_URL", ""),
			},
			PerMinute: getEnvInt("NOTIFY_PER_MINUTE", defaultNotifyPerMin),
		},
		StateDir:      getEnvString("STATE_DIR", ""),
		ShutdownGrace: getEnvDuration("SHUTDOWN_GRACE", defaultShutdownGrace),
	}

	fs := flag.NewFlagSet("taskcrond", flag.ContinueOnError)
	fs.StringVar(&cfg.Server.Addr, "addr", cfg.Server.Addr, "HTTP listen address")
	fs.StringVar(&cfg.Server.Mode, "mode", cfg.Server.Mode, "Serving mode: http, mcp or both")
	fs.StringVar(&cfg.StateDir, "state-dir", cfg.StateDir, "Directory holding the SQLite catalog")
	fs.StringVar(&cfg.Log.Level, "log-level", cfg.Log.Level, "Log level (debug, info, warn, error)")
	fs.StringVar(&cfg.Log.Format, "log-format", cfg.Log.Format, "Log format (text, json)")
	fs.StringVar(&cfg.Catalog.Driver, "catalog", cfg.Catalog.Driver, "Task catalog driver (sqlite, postgres)")
	fs.IntVar(&cfg.Catalog.HistoryLimit, "history-limit", cfg.Catalog.HistoryLimit, "Execution records kept per task")
	fs.DurationVar(&cfg.Scheduler.Timeout, "exec-timeout", cfg.Scheduler.Timeout, "Wall-clock limit for one execution")
	fs.IntVar(&cfg.Scheduler.MaxConcurrent, "max-concurrent", cfg.Scheduler.MaxConcurrent, "Maximum concurrent executions")
	overlap := string(cfg.Scheduler.Overlap)
	fs.StringVar(&overlap, "overlap", overlap, "Overlapping firing policy (skip, allow)")
	fs.DurationVar(&cfg.ShutdownGrace, "shutdown-grace", cfg.ShutdownGrace, "Grace period for running commands on shutdown")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	policy, err := core.ParseOverlapPolicy(overlap)
	if err != nil {
		return nil, err
	}
	cfg.Scheduler.Overlap = policy

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	if cfg.Catalog.HistoryLimit < 1 {
		cfg.Catalog.HistoryLimit = defaultHistoryLimit
	}
	if cfg.Notification.Bark.URL != "" {
		cfg.Notification.Bark.Enabled = true
	}

	if cfg.StateDir == "" && cfg.Catalog.Driver == "sqlite" {
		dir, err := defaultStateDir()
		if err != nil {
			return nil, fmt.Errorf("resolve default state dir: %w", err)
		}
		cfg.StateDir = dir
	}

	return cfg, nil
}

func (c *Config) validate() error {
	var errs []error
	switch c.Server.Mode {
	case "http", "mcp", "both":
	default:
		errs = append(errs, fmt.Errorf("invalid mode %q (valid: http, mcp, both)", c.Server.Mode))
	}
	switch c.Catalog.Driver {
	case "sqlite", "postgres":
	default:
		errs = append(errs, fmt.Errorf("invalid catalog driver %q (valid: sqlite, postgres)", c.Catalog.Driver))
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("invalid log format %q (valid: text, json)", c.Log.Format))
	}
	if c.Scheduler.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("exec timeout must be positive, got %s", c.Scheduler.Timeout))
	}
	if c.Scheduler.MaxConcurrent < 1 {
		errs = append(errs, fmt.Errorf("max concurrent must be at least 1, got %d", c.Scheduler.MaxConcurrent))
	}
	if c.Notification.Telegram.Token != "" && c.Notification.Telegram.ChatID == 0 {
		errs = append(errs, errors.New("telegram token set without TASKCRON_TELEGRAM_CHAT_ID"))
	}
	return errors.Join(errs...)
}

func defaultStateDir() (string, error) {
	baseDir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	path := filepath.Join(baseDir, "taskcron")
	if err := os.MkdirAll(path, 0o755); err != nil {
		return "", err
	}
	return path, nil
}
