package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
	"gopkg.in/yaml.v3"
)

type Config struct {
	DiscordToken string          `yaml:"discord_token"`
	LogLevel     string          `yaml:"log_level"`
	LogFile      LogFileConfig   `yaml:"log_file"`
	Storage      StorageConfig   `yaml:"storage"`
	Webhook      WebhookConfig   `yaml:"webhook"`
	Commands     CommandsConfig  `yaml:"commands"`
	Giveaways    GiveawayConfig  `yaml:"giveaways"`
	Leveling     LevelingConfig  `yaml:"leveling"`
	Automod      AutomodConfig   `yaml:"automod"`
	Dashboard    DashboardConfig `yaml:"dashboard"`
}

type LogFileConfig struct {
	Path       string `yaml:"path"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

type StorageConfig struct {
	Driver      string `yaml:"driver"`
	DataDir     string `yaml:"data_dir"`
	DatabaseURL string `yaml:"database_url"`
}

type WebhookConfig struct {
	Enabled            bool   `yaml:"enabled"`
	Addr               string `yaml:"addr"`
	Secret             string `yaml:"secret"`
	OAuthClientID      string `yaml:"oauth_client_id"`
	OAuthClientSecret  string `yaml:"oauth_client_secret"`
	OAuthRedirectURL   string `yaml:"oauth_redirect_url"`
	SessionTTLMinutes  int    `yaml:"session_ttl_minutes"`
	ActivityRetainSize int    `yaml:"activity_retain_size"`
}

type CommandsConfig struct {
	StartupDelaySeconds   int `yaml:"startup_delay_seconds"`
	InterGuildDelayMillis int `yaml:"inter_guild_delay_millis"`
	BaseBackoffSeconds    int `yaml:"base_backoff_seconds"`
	MaxBackoffSeconds     int `yaml:"max_backoff_seconds"`
	MaxAttempts           int `yaml:"max_attempts"`
	WatchDebounceMillis   int `yaml:"watch_debounce_millis"`
}

type GiveawayConfig struct {
	Emoji               string `yaml:"emoji"`
	WatchDebounceMillis int    `yaml:"watch_debounce_millis"`
}

type LevelingConfig struct {
	CooldownSeconds int `yaml:"cooldown_seconds"`
	MinXP           int `yaml:"min_xp"`
	MaxXP           int `yaml:"max_xp"`
}

type AutomodConfig struct {
	BadWords          []string `yaml:"bad_words"`
	SpamRepeats       int      `yaml:"spam_repeats"`
	SpamWindowSeconds int      `yaml:"spam_window_seconds"`
	DMIntervalSeconds int      `yaml:"dm_interval_seconds"`
}

type DashboardConfig struct {
	BaseURL string `yaml:"base_url"`
}

func DefaultConfig() Config {
	return Config{
		LogLevel: "info",
		LogFile:  LogFileConfig{MaxSizeMB: 50, MaxBackups: 3, MaxAgeDays: 14},
		Storage:  StorageConfig{Driver: "file", DataDir: "data"},
		Webhook: WebhookConfig{
			Enabled:            true,
			Addr:               ":8000",
			SessionTTLMinutes:  720,
			ActivityRetainSize: 200,
		},
		Commands: CommandsConfig{
			StartupDelaySeconds:   5,
			InterGuildDelayMillis: 2000,
			BaseBackoffSeconds:    30,
			MaxBackoffSeconds:     1800,
			MaxAttempts:           5,
			WatchDebounceMillis:   150,
		},
		Giveaways: GiveawayConfig{Emoji: "🎉", WatchDebounceMillis: 150},
		Leveling:  LevelingConfig{CooldownSeconds: 60, MinXP: 8, MaxXP: 14},
		Automod: AutomodConfig{
			BadWords:          []string{"badword", "anotherbad"},
			SpamRepeats:       3,
			SpamWindowSeconds: 20,
			DMIntervalSeconds: 5,
		},
	}
}

func Load() (Config, error) {
	cfg := DefaultConfig()

	if path := os.Getenv("ENV_FILE"); path != "" {
		if err := godotenv.Load(path); err != nil {
			return Config{}, err
		}
	} else {
		_ = godotenv.Load()
	}

	path := os.Getenv("CONFIG_PATH")
	if path == "" {
		path = "config.yaml"
	}
	if data, err := os.ReadFile(path); err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, err
		}
	}

	applyEnv(&cfg)
	if cfg.DiscordToken == "" {
		return Config{}, errors.New("DISCORD_TOKEN is required")
	}
	cfg.Storage.Driver = normalizeDriver(cfg.Storage.Driver)
	if cfg.Storage.Driver == "postgres" && cfg.Storage.DatabaseURL == "" {
		return Config{}, errors.New("DATABASE_URL is required for the postgres storage driver")
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	cfg.DiscordToken = envString("DISCORD_TOKEN", cfg.DiscordToken)
	cfg.LogLevel = envString("LOG_LEVEL", cfg.LogLevel)
	cfg.LogFile.Path = envString("LOG_FILE", cfg.LogFile.Path)
	cfg.Storage.Driver = envString("STORAGE_DRIVER", cfg.Storage.Driver)
	cfg.Storage.DataDir = envString("DATA_DIR", cfg.Storage.DataDir)
	cfg.Storage.DatabaseURL = envString("DATABASE_URL", cfg.Storage.DatabaseURL)
	cfg.Webhook.Enabled = envBool("WEBHOOK_ENABLED", cfg.Webhook.Enabled)
	cfg.Webhook.Addr = envAddr(cfg.Webhook.Addr)
	cfg.Webhook.Secret = envString("WEBHOOK_SECRET", cfg.Webhook.Secret)
	cfg.Webhook.OAuthClientID = envString("CLIENT_ID", cfg.Webhook.OAuthClientID)
	cfg.Webhook.OAuthClientSecret = envString("CLIENT_SECRET", cfg.Webhook.OAuthClientSecret)
	cfg.Webhook.OAuthRedirectURL = envString("OAUTH_REDIRECT_URL", cfg.Webhook.OAuthRedirectURL)
	cfg.Commands.StartupDelaySeconds = envInt("COMMANDS_STARTUP_DELAY_SECONDS", cfg.Commands.StartupDelaySeconds)
	cfg.Commands.InterGuildDelayMillis = envInt("COMMANDS_INTER_GUILD_DELAY_MS", cfg.Commands.InterGuildDelayMillis)
	cfg.Commands.MaxAttempts = envInt("COMMANDS_MAX_ATTEMPTS", cfg.Commands.MaxAttempts)
	cfg.Dashboard.BaseURL = envString("DASHBOARD_BASE", cfg.Dashboard.BaseURL)
}

// Duration helpers keep the yaml surface in plain integers.
func (c CommandsConfig) StartupDelay() time.Duration {
	return time.Duration(c.StartupDelaySeconds) * time.Second
}

func (c CommandsConfig) InterGuildDelay() time.Duration {
	return time.Duration(c.InterGuildDelayMillis) * time.Millisecond
}

func (c CommandsConfig) BaseBackoff() time.Duration {
	return time.Duration(c.BaseBackoffSeconds) * time.Second
}

func (c CommandsConfig) MaxBackoff() time.Duration {
	return time.Duration(c.MaxBackoffSeconds) * time.Second
}

func (c CommandsConfig) WatchDebounce() time.Duration {
	return time.Duration(c.WatchDebounceMillis) * time.Millisecond
}

func BuildLogger(level string, file LogFileConfig) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Encoding = "json"
	cfg.EncoderConfig.TimeKey = "time"
	cfg.EncoderConfig.MessageKey = "message"
	cfg.EncoderConfig.LevelKey = "level"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	lvl := strings.ToLower(level)
	switch lvl {
	case "debug", "info", "warn", "error":
		cfg.Level = zap.NewAtomicLevelAt(parseLevel(lvl))
	default:
		cfg.Level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	}

	logger, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	if file.Path == "" {
		return logger, nil
	}

	rotator := &lumberjack.Logger{
		Filename:   file.Path,
		MaxSize:    file.MaxSizeMB,
		MaxBackups: file.MaxBackups,
		MaxAge:     file.MaxAgeDays,
	}
	fileCore := zapcore.NewCore(zapcore.NewJSONEncoder(cfg.EncoderConfig), zapcore.AddSync(rotator), cfg.Level)
	return logger.WithOptions(zap.WrapCore(func(core zapcore.Core) zapcore.Core {
		return zapcore.NewTee(core, fileCore)
	})), nil
}

func parseLevel(level string) zapcore.Level {
	switch level {
	case "debug":
		return zapcore.DebugLevel
	case "warn":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

func envString(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if value := os.Getenv(key); value != "" {
		lower := strings.ToLower(value)
		return lower == "1" || lower == "true" || lower == "yes"
	}
	return fallback
}

// envAddr honours PORT first, as hosting platforms inject it.
func envAddr(fallback string) string {
	if port := os.Getenv("PORT"); port != "" {
		return ":" + port
	}
	if port := os.Getenv("BOT_WEBHOOK_PORT"); port != "" {
		return ":" + port
	}
	return envString("WEBHOOK_ADDR", fallback)
}

func normalizeDriver(value string) string {
	switch strings.ToLower(value) {
	case "postgres", "pg", "postgresql":
		return "postgres"
	default:
		return "file"
	}
}
