// Package config provides configuration loading, validation, and
// defaults for the chatscribe bot. Values come from a YAML file with
// BOT_* environment variable overrides.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/go-telegram/bot/models"
	"github.com/spf13/viper"
)

// Config defines the application configuration for all components:
// logging, Telegram transport, database, transcription engine,
// retention, and scheduled tasks.
type Config struct {
	Logger      LoggerConfig      `mapstructure:"logger"`
	Telegram    TelegramConfig    `mapstructure:"telegram"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Transcriber TranscriberConfig `mapstructure:"transcriber"`
	Retention   RetentionConfig   `mapstructure:"retention"`
	Scheduler   SchedulerConfig   `mapstructure:"scheduler"`
	Messages    MessagesConfig    `mapstructure:"messages"`
}

// LoggerConfig controls log level and output format.
type LoggerConfig struct {
	Level string `mapstructure:"level" validate:"oneof=debug info warn error"`
	JSON  bool   `mapstructure:"json"`
}

// TelegramConfig holds transport credentials. BotInfo is populated at
// startup from GetMe and never read from the config file.
type TelegramConfig struct {
	Token   string `mapstructure:"token" validate:"required"`
	AdminID int64  `mapstructure:"admin_id"`

	BotInfo *models.User `mapstructure:"-"`
}

// DatabaseConfig holds the SQLite database location.
type DatabaseConfig struct {
	Path string `mapstructure:"path" validate:"required"`
}

// TranscriberConfig configures the transcription engine adapter.
type TranscriberConfig struct {
	APIKey     string        `mapstructure:"api_key"     validate:"required"`
	Model      string        `mapstructure:"model"       validate:"required"`
	Timeout    time.Duration `mapstructure:"timeout"     validate:"min=1s,max=30m"`
	MaxRetries int           `mapstructure:"max_retries" validate:"min=0,max=10"`
	RetryDelay time.Duration `mapstructure:"retry_delay" validate:"min=0"`
}

// RetentionConfig controls the external retention task. The audit core
// itself never deletes rows.
type RetentionConfig struct {
	MaxAge time.Duration `mapstructure:"max_age" validate:"min=24h"`
}

// SchedulerConfig maps task names to their schedules.
type SchedulerConfig struct {
	Tasks map[string]TaskConfig `mapstructure:"tasks"`
}

// TaskConfig enables one scheduled task with a cron expression.
type TaskConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Schedule string `mapstructure:"schedule"`
}

// MessagesConfig holds user-facing message templates.
type MessagesConfig struct {
	Welcome          string `mapstructure:"welcome"`
	Help             string `mapstructure:"help"`
	Settings         string `mapstructure:"settings"`
	Processing       string `mapstructure:"processing"`
	TranscriptPrefix string `mapstructure:"transcript_prefix"`
	GeneralError     string `mapstructure:"general_error"`
	Unsupported      string `mapstructure:"unsupported"`
}

// LoadConfig reads configuration from the given YAML file, applies
// defaults and BOT_* environment overrides, and validates the result.
// A missing config file is not an error; defaults plus environment
// variables must then satisfy validation.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.SetEnvPrefix("BOT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if !os.IsNotExist(err) {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
			}
		}
		// Config file not found is okay, we'll use defaults and env.
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.json", true)

	v.SetDefault("database.path", "storage.db")

	v.SetDefault("transcriber.model", "gemini-2.0-flash")
	v.SetDefault("transcriber.timeout", 5*time.Minute)
	v.SetDefault("transcriber.max_retries", 2)
	v.SetDefault("transcriber.retry_delay", 5*time.Second)

	v.SetDefault("retention.max_age", 90*24*time.Hour)

	v.SetDefault("scheduler.tasks", map[string]TaskConfig{
		"sql_maintenance": {Enabled: true, Schedule: "0 4 * * *"},
		"retention":       {Enabled: true, Schedule: "30 4 * * *"},
	})

	v.SetDefault("messages.welcome",
		"Hi! Send a voice, audio, or video message and I'll return the text.\n/help for help, /settings for settings")
	v.SetDefault("messages.help",
		"Send voice, audio (ogg/mp3/m4a/wav/webm/flac), video (mp4/avi/mov/mkv/webm), or a video note.\nI'll extract the audio track, detect the language, and return the transcript.")
	v.SetDefault("messages.settings",
		"Usage: /settings shows your settings, /settings <key> <value> changes one.\nKeys: provider, language (ISO code or auto), mode (reply or quote).")
	v.SetDefault("messages.processing", "Processing audio…")
	v.SetDefault("messages.transcript_prefix", "Transcript:\n")
	v.SetDefault("messages.general_error", "An error occurred. Please try again later.")
	v.SetDefault("messages.unsupported", "Expecting an audio file, a video, or a voice message")
}
