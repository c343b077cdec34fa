package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/spf13/cobra"

	"github.io/infrasutra/mailshelf/internal/pagination"
)

const (
	DefaultDBPath            = "mailshelf.db"
	DefaultHTTPAddr          = "127.0.0.1:3025"
	DefaultAttachmentWorkers = 8
	DefaultMaxUploadMB       = 2048
	DefaultLogLevel          = "info"
	DefaultPageSize          = pagination.DefaultLimit
	DefaultSortOrder         = pagination.DefaultSort
)

type Config struct {
	DBPath            string `toml:"db_path"`
	HTTPAddr          string `toml:"http_addr"`
	AttachmentWorkers int    `toml:"attachment_workers"`
	MaxUploadMB       int    `toml:"max_upload_mb"`
	LogLevel          string `toml:"log_level"`
	LogDir            string `toml:"log_dir"`
	PageSize          int    `toml:"page_size"`
	SortOrder         string `toml:"sort_order"`
}

func Default() Config {
	return Config{
		DBPath:            DefaultDBPath,
		HTTPAddr:          DefaultHTTPAddr,
		AttachmentWorkers: DefaultAttachmentWorkers,
		MaxUploadMB:       DefaultMaxUploadMB,
		LogLevel:          DefaultLogLevel,
		PageSize:          DefaultPageSize,
		SortOrder:         DefaultSortOrder,
	}
}

// Load layers the defaults, the TOML file at path (or MAILSHELF_CONFIG when
// path is empty) and the environment, in that order.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		path = getEnvString("MAILSHELF_CONFIG", "")
	}
	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.DBPath = getEnvString("DB_PATH", c.DBPath)
	c.HTTPAddr = getEnvString("HTTP_ADDR", c.HTTPAddr)
	c.AttachmentWorkers = getEnvInt("ATTACHMENT_WORKERS", c.AttachmentWorkers)
	c.MaxUploadMB = getEnvInt("MAX_UPLOAD_MB", c.MaxUploadMB)
	c.LogLevel = getEnvString("LOG_LEVEL", c.LogLevel)
	c.LogDir = getEnvString("LOG_DIR", c.LogDir)
	c.PageSize = getEnvInt("PAGE_SIZE", c.PageSize)
	c.SortOrder = getEnvString("SORT_ORDER", c.SortOrder)
}

// RegisterFlags attaches the persistent overrides to the root command.
func RegisterFlags(cmd *cobra.Command) {
	flags := cmd.PersistentFlags()
	flags.String("config", "", "Path to a TOML config file (falls back to MAILSHELF_CONFIG)")
	flags.String("db", "", "SQLite database path (falls back to DB_PATH)")
	flags.String("log-level", "", "Logging level: debug, info, warn, error")
	flags.String("log-dir", "", "Directory for log files; stdout only when empty")
	flags.Int("workers", 0, "Concurrent attachment extractions (falls back to ATTACHMENT_WORKERS)")
}

// FromCommand loads the config and applies any flag the user set explicitly.
func FromCommand(cmd *cobra.Command) (Config, error) {
	flags := cmd.Flags()
	path, err := flags.GetString("config")
	if err != nil {
		return Config{}, err
	}
	cfg, err := Load(path)
	if err != nil {
		return Config{}, err
	}

	if flags.Changed("db") {
		if cfg.DBPath, err = flags.GetString("db"); err != nil {
			return Config{}, err
		}
	}
	if flags.Changed("log-level") {
		if cfg.LogLevel, err = flags.GetString("log-level"); err != nil {
			return Config{}, err
		}
	}
	if flags.Changed("log-dir") {
		if cfg.LogDir, err = flags.GetString("log-dir"); err != nil {
			return Config{}, err
		}
	}
	if flags.Changed("workers") {
		if cfg.AttachmentWorkers, err = flags.GetInt("workers"); err != nil {
			return Config{}, err
		}
	}
	if flags.Lookup("addr") != nil && flags.Changed("addr") {
		if cfg.HTTPAddr, err = flags.GetString("addr"); err != nil {
			return Config{}, err
		}
	}

	cfg.LogLevel = strings.ToLower(strings.TrimSpace(cfg.LogLevel))
	if cfg.LogLevel == "warning" {
		cfg.LogLevel = "warn"
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.HTTPAddr) == "" {
		errs = append(errs, errors.New("http address must not be empty"))
	}
	if c.AttachmentWorkers < 0 {
		errs = append(errs, fmt.Errorf("attachment workers must be >= 0, got %d", c.AttachmentWorkers))
	}
	if c.MaxUploadMB <= 0 {
		errs = append(errs, fmt.Errorf("max upload must be positive, got %d MB", c.MaxUploadMB))
	}
	if c.PageSize < 1 || c.PageSize > pagination.MaxLimit {
		errs = append(errs, fmt.Errorf("page size must be between 1 and %d, got %d", pagination.MaxLimit, c.PageSize))
	}
	switch c.SortOrder {
	case "newest", "oldest":
	default:
		errs = append(errs, fmt.Errorf("invalid sort order: %q", c.SortOrder))
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("invalid log level: %q", c.LogLevel))
	}
	return errors.Join(errs...)
}

// PageOptions are the listing defaults applied before a request's own
// page parameters.
func (c Config) PageOptions() []pagination.Option {
	return []pagination.Option{
		pagination.WithDefaultLimit(c.PageSize),
		pagination.WithDefaultSort(c.SortOrder),
	}
}

func (c Config) MaxUploadBytes() int64 {
	return int64(c.MaxUploadMB) << 20
}

func getEnvString(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		trimmed := strings.TrimSpace(value)
		if trimmed != "" {
			return trimmed
		}
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok {
		parsed, err := strconv.Atoi(strings.TrimSpace(value))
		if err == nil {
			return parsed
		}
	}
	return fallback
}
