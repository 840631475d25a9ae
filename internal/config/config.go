// Package config manages application configuration from config.yaml,
// BOT_* environment variables, and built-in defaults.
package config

import (
	"time"

	"github.com/go-telegram/bot/models"
)

// Config holds the full application configuration.
type Config struct {
	Logger    LoggerConfig    `mapstructure:"logger"`
	Telegram  TelegramConfig  `mapstructure:"telegram"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Repeat    RepeatConfig    `mapstructure:"repeat"`
	Gemini    GeminiConfig    `mapstructure:"gemini"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Messages  MessagesConfig  `mapstructure:"messages"`
}

// LoggerConfig controls log level and output format.
type LoggerConfig struct {
	Level string `mapstructure:"level" validate:"oneof=debug info warn error"`
	JSON  bool   `mapstructure:"json"`
}

// TelegramConfig holds Telegram connection settings. BotInfo is populated at
// startup from GetMe and is not read from the configuration file.
type TelegramConfig struct {
	Token       string `mapstructure:"token"    validate:"required"`
	AdminUserID int64  `mapstructure:"admin_id" validate:"required,gt=0"`

	BotInfo *models.User `mapstructure:"-"`
}

// DatabaseConfig holds SQLite settings.
type DatabaseConfig struct {
	Path string `mapstructure:"path" validate:"required"`
}

// RepeatConfig controls the repetition engine.
type RepeatConfig struct {
	// Enabled is the global kill switch; when false the engine never runs.
	Enabled bool `mapstructure:"enabled"`

	// EchoThreshold is the sender count at which the bot joins the repetition
	// by re-sending the message itself. 0 disables self-echo.
	EchoThreshold int `mapstructure:"echo_threshold" validate:"min=0"`

	// StalenessWindow is the number of non-matching channel messages a
	// candidate or suspended episode survives before eviction. 0 disables
	// candidate and suspension memory entirely.
	StalenessWindow int `mapstructure:"staleness_window" validate:"min=0"`

	// Blacklist contains regexp patterns; matching messages bypass the
	// engine entirely.
	Blacklist []string `mapstructure:"blacklist"`

	Images  ImagesConfig  `mapstructure:"images"`
	OCR     OCRConfig     `mapstructure:"ocr"`
	Persist PersistConfig `mapstructure:"persist"`
}

// ImagesConfig controls image content resolution.
type ImagesConfig struct {
	// Enabled downloads image bytes and hashes them for exact content
	// identity. When false the platform file-unique id is used instead.
	Enabled      bool          `mapstructure:"enabled"`
	FetchTimeout time.Duration `mapstructure:"fetch_timeout" validate:"min=1s,max=5m"`
}

// OCRConfig controls best-effort image transcription on episode persistence.
type OCRConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	Timeout time.Duration `mapstructure:"timeout" validate:"min=1s,max=5m"`
}

// PersistConfig bounds retries of episode and counter writes.
type PersistConfig struct {
	MaxRetries int           `mapstructure:"max_retries" validate:"min=0,max=10"`
	RetryDelay time.Duration `mapstructure:"retry_delay" validate:"min=0,max=1m"`
}

// GeminiConfig holds settings for the Gemini OCR client.
type GeminiConfig struct {
	APIKey            string `mapstructure:"api_key"`
	ModelName         string `mapstructure:"model"`
	MaxRetries        int    `mapstructure:"max_retries"         validate:"min=0,max=10"`
	RetryDelaySeconds int    `mapstructure:"retry_delay_seconds" validate:"min=0,max=60"`
}

// SchedulerConfig holds the scheduled task map keyed by task name.
type SchedulerConfig struct {
	Tasks map[string]TaskConfig `mapstructure:"tasks"`
}

// TaskConfig enables a single named task with a cron schedule.
type TaskConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Schedule string `mapstructure:"schedule"`
}

// MessagesConfig holds user-facing reply strings.
type MessagesConfig struct {
	Welcome         string `mapstructure:"welcome"`
	Help            string `mapstructure:"help"`
	NotAuthorized   string `mapstructure:"not_authorized"`
	GeneralError    string `mapstructure:"general_error"`
	NoEpisodes      string `mapstructure:"no_episodes"`
	NoStats         string `mapstructure:"no_stats"`
	InvalidDuration string `mapstructure:"invalid_duration"`
}
