package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// LoadConfig loads and validates configuration from, in order of precedence:
// BOT_* environment variables, the YAML file at path, and built-in defaults.
// A missing config file is not an error; the token and admin id can be
// provided through the environment.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.SetEnvPrefix("BOT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		// With an explicit config file a missing file surfaces as
		// fs.ErrNotExist rather than viper's not-found error.
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks the configuration using struct tags plus cross-field rules
// the tag language cannot express.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return err
	}

	if c.Repeat.OCR.Enabled && c.Gemini.APIKey == "" {
		return fmt.Errorf("repeat.ocr.enabled requires gemini.api_key")
	}
	if c.Repeat.OCR.Enabled && c.Gemini.ModelName == "" {
		return fmt.Errorf("repeat.ocr.enabled requires gemini.model")
	}

	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.json", true)

	// Empty defaults register the keys with viper so environment-only values
	// are seen by Unmarshal.
	v.SetDefault("telegram.token", "")
	v.SetDefault("telegram.admin_id", 0)
	v.SetDefault("gemini.api_key", "")

	v.SetDefault("database.path", "parrotbot.db")

	v.SetDefault("repeat.enabled", true)
	v.SetDefault("repeat.echo_threshold", 3)
	v.SetDefault("repeat.staleness_window", 5)
	v.SetDefault("repeat.images.enabled", true)
	v.SetDefault("repeat.images.fetch_timeout", 15*time.Second)
	v.SetDefault("repeat.ocr.enabled", false)
	v.SetDefault("repeat.ocr.timeout", 30*time.Second)
	v.SetDefault("repeat.persist.max_retries", 2)
	v.SetDefault("repeat.persist.retry_delay", time.Second)

	v.SetDefault("gemini.model", "gemini-2.0-flash")
	v.SetDefault("gemini.max_retries", 2)
	v.SetDefault("gemini.retry_delay_seconds", 2)

	v.SetDefault("scheduler.tasks.sql_maintenance.enabled", true)
	v.SetDefault("scheduler.tasks.sql_maintenance.schedule", "0 0 4 * * *")
	v.SetDefault("scheduler.tasks.stats_rebuild.enabled", false)
	v.SetDefault("scheduler.tasks.stats_rebuild.schedule", "0 30 4 * * *")

	v.SetDefault("messages.welcome", "Hello! I watch this chat for repetition streaks. Use /help to see what I can report.")
	v.SetDefault("messages.help", "Commands:\n/rp_stats - your repetition counters\n/rp_top - repetition leaderboard\n/rp_episodes [window] - recent episodes in this chat (e.g. /rp_episodes 24h)")
	v.SetDefault("messages.not_authorized", "You are not authorized to use this command.")
	v.SetDefault("messages.general_error", "An error occurred. Please try again later.")
	v.SetDefault("messages.no_episodes", "No repetition episodes recorded for this chat.")
	v.SetDefault("messages.no_stats", "No repetition stats recorded yet.")
	v.SetDefault("messages.invalid_duration", "Invalid duration. Use a value like 30m, 24h or 168h.")
}
