// Package config provides configuration loading and validation for the
// QuickLingo bot. Values come from defaults, an optional config.yaml, and
// BOT_* environment variables, in that order of precedence.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Log      LogConfig      `mapstructure:"log"`
	Telegram TelegramConfig `mapstructure:"telegram"`
	OpenAI   OpenAIConfig   `mapstructure:"openai"`
	Database DatabaseConfig `mapstructure:"database"`
	Queue    QueueConfig    `mapstructure:"queue"`
	Server   ServerConfig   `mapstructure:"server"`
	Bot      BotConfig      `mapstructure:"bot"`
}

// LogConfig controls log output.
type LogConfig struct {
	Level string `mapstructure:"level" validate:"oneof=debug info warn error"`
	JSON  bool   `mapstructure:"json"`
}

// TelegramConfig holds the delivery channel credentials.
type TelegramConfig struct {
	Token string `mapstructure:"token" validate:"required"`
}

// OpenAIConfig holds the generation provider settings.
type OpenAIConfig struct {
	APIKey          string        `mapstructure:"api_key" validate:"required"`
	BaseURL         string        `mapstructure:"base_url" validate:"url"`
	Model           string        `mapstructure:"model" validate:"required"`
	Persona         string        `mapstructure:"persona" validate:"required"`
	MaxOutputTokens int           `mapstructure:"max_output_tokens" validate:"min=1,max=16384"`
	Timeout         time.Duration `mapstructure:"timeout" validate:"min=1s,max=10m"`
}

// DatabaseConfig holds the conversation store settings.
type DatabaseConfig struct {
	Path string `mapstructure:"path" validate:"required"`
}

// QueueConfig holds the task queue broker and result store settings.
type QueueConfig struct {
	BrokerAddr  string        `mapstructure:"broker_addr" validate:"required"`
	ResultAddr  string        `mapstructure:"result_addr" validate:"required"`
	QueueName   string        `mapstructure:"queue_name" validate:"required"`
	Workers     int           `mapstructure:"workers" validate:"min=1,max=64"`
	MaxAttempts int           `mapstructure:"max_attempts" validate:"min=1,max=10"`
	ResultTTL   time.Duration `mapstructure:"result_ttl" validate:"min=1m"`
}

// ServerConfig holds the ingestion HTTP server settings.
type ServerConfig struct {
	Addr          string `mapstructure:"addr" validate:"required"`
	RatePerMinute int    `mapstructure:"rate_per_minute" validate:"min=1"`
	RateBurst     int    `mapstructure:"rate_burst" validate:"min=1"`
}

// BotConfig holds pipeline behavior settings and user-facing notices.
type BotConfig struct {
	TagToken      string `mapstructure:"tag_token" validate:"required"`
	NoReplyToken  string `mapstructure:"noreply_token"`
	ContextWindow int    `mapstructure:"context_window" validate:"min=1,max=50"`

	MsgWelcome      string `mapstructure:"msg_welcome" validate:"required"`
	MsgUnauthorized string `mapstructure:"msg_unauthorized" validate:"required"`
	MsgNoCredits    string `mapstructure:"msg_no_credits" validate:"required"`
}

// Load reads configuration from defaults, an optional config.yaml in the
// working directory, and BOT_* environment variables, then validates it.
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	v.SetEnvPrefix("BOT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Missing config file is fine, defaults plus env cover everything.
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.json", false)

	// Registering empty defaults makes viper aware of env-only keys, so
	// AutomaticEnv can fill them during Unmarshal.
	v.SetDefault("telegram.token", "")
	v.SetDefault("openai.api_key", "")

	v.SetDefault("openai.base_url", "https://api.openai.com/v1")
	v.SetDefault("openai.model", "gpt-4o-mini")
	v.SetDefault("openai.max_output_tokens", 1500)
	v.SetDefault("openai.timeout", 2*time.Minute)
	v.SetDefault("openai.persona", defaultPersona)

	v.SetDefault("database.path", "quicklingo.db")

	v.SetDefault("queue.broker_addr", "localhost:6379")
	v.SetDefault("queue.result_addr", "localhost:6379")
	v.SetDefault("queue.queue_name", "updates")
	v.SetDefault("queue.workers", 4)
	v.SetDefault("queue.max_attempts", 3)
	v.SetDefault("queue.result_ttl", 24*time.Hour)

	v.SetDefault("server.addr", ":9090")
	v.SetDefault("server.rate_per_minute", 20)
	v.SetDefault("server.rate_burst", 5)

	v.SetDefault("bot.tag_token", "@quicklingo")
	v.SetDefault("bot.noreply_token", "#noreply")
	v.SetDefault("bot.context_window", 3)
	v.SetDefault("bot.msg_welcome", "Welcome, %s! Mention me in a message and I'll help you practice your English.")
	v.SetDefault("bot.msg_unauthorized", "This chat is not authorized to use the bot. Contact the administrator to get access.")
	v.SetDefault("bot.msg_no_credits", "You've used up your daily allowance. Your credits reset at midnight UTC.")
}

const defaultPersona = "You are QuickLingoBot, an English language teacher and helper " +
	"for native Persian speakers who wish to learn English. You'll be talking with them " +
	"on a text chat. Focus on helping the user with their questions, in English and in " +
	"Persian. Be friendly, but assertive. In your response, include a Persian translation " +
	"of the English version so users who don't know English well can still learn something. " +
	"Use Telegram formatting and emojis in your messages."
