package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/quicklingo/quicklingo/internal/config"
)

// chdir stands in for t.Chdir, which needs Go 1.24+.
func chdir(t *testing.T, dir string) {
	t.Helper()
	old, err := os.Getwd()
	if err != nil {
		t.Fatalf("failed to get working directory: %v", err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("failed to change directory: %v", err)
	}
	t.Cleanup(func() {
		if err := os.Chdir(old); err != nil {
			t.Fatalf("failed to restore working directory: %v", err)
		}
	})
}

func setCredentials(t *testing.T) {
	t.Helper()
	t.Setenv("BOT_TELEGRAM_TOKEN", "123:test-token")
	t.Setenv("BOT_OPENAI_API_KEY", "sk-test")
}

func TestLoadDefaults(t *testing.T) {
	chdir(t, t.TempDir())
	setCredentials(t)

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.Telegram.Token != "123:test-token" {
		t.Errorf("telegram token = %q, want the env value", cfg.Telegram.Token)
	}
	if cfg.Log.Level != "info" {
		t.Errorf("log level = %q, want info", cfg.Log.Level)
	}
	if cfg.OpenAI.Model != "gpt-4o-mini" {
		t.Errorf("model = %q, want gpt-4o-mini", cfg.OpenAI.Model)
	}
	if cfg.OpenAI.MaxOutputTokens != 1500 {
		t.Errorf("max output tokens = %d, want 1500", cfg.OpenAI.MaxOutputTokens)
	}
	if cfg.OpenAI.Timeout != 2*time.Minute {
		t.Errorf("timeout = %v, want 2m", cfg.OpenAI.Timeout)
	}
	if cfg.Bot.TagToken != "@quicklingo" {
		t.Errorf("tag token = %q, want @quicklingo", cfg.Bot.TagToken)
	}
	if cfg.Bot.ContextWindow != 3 {
		t.Errorf("context window = %d, want 3", cfg.Bot.ContextWindow)
	}
	if cfg.Queue.Workers != 4 || cfg.Queue.MaxAttempts != 3 {
		t.Errorf("queue = %+v, want 4 workers and 3 attempts", cfg.Queue)
	}
}

func TestLoadMissingCredentials(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("BOT_TELEGRAM_TOKEN", "")
	t.Setenv("BOT_OPENAI_API_KEY", "")

	if _, err := config.Load(); err == nil {
		t.Fatal("Load() expected a validation error without credentials")
	}
}

func TestLoadInvalidLogLevel(t *testing.T) {
	chdir(t, t.TempDir())
	setCredentials(t)
	t.Setenv("BOT_LOG_LEVEL", "verbose")

	if _, err := config.Load(); err == nil {
		t.Fatal("Load() expected a validation error for an unknown log level")
	}
}

func TestLoadConfigFile(t *testing.T) {
	dir := t.TempDir()
	yaml := `
bot:
  tag_token: "@testbot"
  context_window: 5
server:
  addr: ":8081"
`
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o600); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}
	chdir(t, dir)
	setCredentials(t)

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.Bot.TagToken != "@testbot" {
		t.Errorf("tag token = %q, want the file value @testbot", cfg.Bot.TagToken)
	}
	if cfg.Bot.ContextWindow != 5 {
		t.Errorf("context window = %d, want 5", cfg.Bot.ContextWindow)
	}
	if cfg.Server.Addr != ":8081" {
		t.Errorf("server addr = %q, want :8081", cfg.Server.Addr)
	}
	// Values the file leaves out keep their defaults.
	if cfg.Queue.QueueName != "updates" {
		t.Errorf("queue name = %q, want updates", cfg.Queue.QueueName)
	}
}

func TestEnvOverridesConfigFile(t *testing.T) {
	dir := t.TempDir()
	yaml := "bot:\n  context_window: 5\n"
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o600); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}
	chdir(t, dir)
	setCredentials(t)
	t.Setenv("BOT_BOT_CONTEXT_WINDOW", "7")

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.Bot.ContextWindow != 7 {
		t.Errorf("context window = %d, want the env override 7", cfg.Bot.ContextWindow)
	}
}
