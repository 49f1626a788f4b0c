package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/notexe/callminder/internal/call"
	"github.com/notexe/callminder/internal/detector"
	"github.com/notexe/callminder/internal/lifecycle"
	"github.com/notexe/callminder/internal/logging"
)

// EnvPrefix prefixes every environment override. A double underscore
// separates nesting levels: CALLMINDER_DETECTOR__FOREGROUND__INTERVAL.
const EnvPrefix = "CALLMINDER_"

type Config struct {
	Store         StoreConfig         `koanf:"store"`
	Lifecycle     LifecycleConfig     `koanf:"lifecycle"`
	Detector      DetectorConfig      `koanf:"detector"`
	Call          CallConfig          `koanf:"call"`
	Notifications NotificationsConfig `koanf:"notifications"`
	Telegram      TelegramConfig      `koanf:"telegram"`
	Log           LogConfig           `koanf:"log"`
	Metrics       MetricsConfig       `koanf:"metrics"`
}

type StoreConfig struct {
	Path string `koanf:"path"`
}

type LifecycleConfig struct {
	Initial string `koanf:"initial"` // foreground or background
}

type LoopConfig struct {
	Interval  time.Duration `koanf:"interval"`
	Tolerance time.Duration `koanf:"tolerance"`
}

type DetectorConfig struct {
	Foreground LoopConfig `koanf:"foreground"`
	Background LoopConfig `koanf:"background"`
}

type CallConfig struct {
	SnoozeMinutes    int           `koanf:"snooze_minutes"`
	EndPolicy        string        `koanf:"end_policy"`
	HandledRetention time.Duration `koanf:"handled_retention"`
	RingTimeout      time.Duration `koanf:"ring_timeout"` // 0 disables
}

type NotificationsConfig struct {
	Enabled   bool          `koanf:"enabled"`
	CallDelay time.Duration `koanf:"call_delay"`
}

type TelegramConfig struct {
	BotToken    string        `koanf:"bot_token"`
	ChatID      string        `koanf:"chat_id"`
	PollTimeout time.Duration `koanf:"poll_timeout"`
	BaseURL     string        `koanf:"base_url"`
}

// Enabled reports whether both credentials are present.
func (t TelegramConfig) Enabled() bool {
	return t.BotToken != "" && t.ChatID != ""
}

type LogConfig struct {
	Level   string `koanf:"level"`
	Journal bool   `koanf:"journal"`
}

type MetricsConfig struct {
	Listen string `koanf:"listen"` // empty disables the /metrics server
}

func Load(configPath string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(NewDefaultProvider(), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if configPath != "" {
		configPath = expandPath(configPath)

		if _, err := os.Stat(configPath); err == nil {
			if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
				return nil, fmt.Errorf("failed to load config file: %w", err)
			}
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load env vars: %w", err)
	}

	// Conventional Telegram variables, shared with the reminder MCP server.
	if token := os.Getenv("TELEGRAM_BOT_TOKEN"); token != "" {
		k.Set("telegram.bot_token", token)
	}
	if chatID := os.Getenv("TELEGRAM_CHAT_ID"); chatID != "" {
		k.Set("telegram.chat_id", chatID)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.Store.Path = expandPath(cfg.Store.Path)
	return &cfg, nil
}

// envKey maps CALLMINDER_CALL__SNOOZE_MINUTES to call.snooze_minutes.
func envKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	return strings.ReplaceAll(s, "__", ".")
}

func (c *Config) Validate() error {
	if c.Store.Path == "" {
		return fmt.Errorf("store.path is required")
	}

	if _, err := lifecycle.ParseMode(c.Lifecycle.Initial); err != nil {
		return fmt.Errorf("lifecycle.initial: %w", err)
	}

	for name, loop := range map[string]LoopConfig{
		"foreground": c.Detector.Foreground,
		"background": c.Detector.Background,
	} {
		if loop.Interval <= 0 {
			return fmt.Errorf("detector.%s.interval must be positive", name)
		}
		if loop.Tolerance <= 0 {
			return fmt.Errorf("detector.%s.tolerance must be positive", name)
		}
	}

	if c.Call.SnoozeMinutes <= 0 {
		return fmt.Errorf("call.snooze_minutes must be positive")
	}
	if _, err := call.ParseEndPolicy(c.Call.EndPolicy); err != nil {
		return fmt.Errorf("call.end_policy: %w", err)
	}
	if c.Call.HandledRetention < c.maxTolerance() {
		return fmt.Errorf("call.handled_retention (%s) must cover the largest detector tolerance (%s)",
			c.Call.HandledRetention, c.maxTolerance())
	}
	if c.Call.RingTimeout < 0 {
		return fmt.Errorf("call.ring_timeout must not be negative")
	}

	if c.Notifications.CallDelay < 0 {
		return fmt.Errorf("notifications.call_delay must not be negative")
	}

	if (c.Telegram.BotToken == "") != (c.Telegram.ChatID == "") {
		return fmt.Errorf("telegram needs both bot_token and chat_id (set TELEGRAM_BOT_TOKEN and TELEGRAM_CHAT_ID)")
	}
	if c.Telegram.Enabled() && c.Telegram.PollTimeout < 0 {
		return fmt.Errorf("telegram.poll_timeout must not be negative")
	}

	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}

	return nil
}

func (c *Config) maxTolerance() time.Duration {
	return max(c.Detector.Foreground.Tolerance, c.Detector.Background.Tolerance)
}

// CallSettings converts the call section for the call service.
func (c *Config) CallSettings() call.Config {
	policy, _ := call.ParseEndPolicy(c.Call.EndPolicy)
	return call.Config{
		EndPolicy:        policy,
		SnoozeMinutes:    c.Call.SnoozeMinutes,
		HandledRetention: c.Call.HandledRetention,
		RingTimeout:      c.Call.RingTimeout,
		Tolerance:        c.maxTolerance(),
	}
}

// LifecycleSettings converts the detector section for the lifecycle bridge.
func (c *Config) LifecycleSettings() lifecycle.Config {
	return lifecycle.Config{
		Foreground: detector.Settings{
			Mode:      string(lifecycle.Foreground),
			Interval:  c.Detector.Foreground.Interval,
			Tolerance: c.Detector.Foreground.Tolerance,
		},
		Background: detector.Settings{
			Mode:      string(lifecycle.Background),
			Interval:  c.Detector.Background.Interval,
			Tolerance: c.Detector.Background.Tolerance,
		},
	}
}

// InitialMode is the lifecycle mode to start in.
func (c *Config) InitialMode() lifecycle.Mode {
	m, err := lifecycle.ParseMode(c.Lifecycle.Initial)
	if err != nil {
		return lifecycle.Foreground
	}
	return m
}

func expandPath(path string) string {
	if path == "" {
		return path
	}

	if len(path) >= 2 && path[:2] == "~/" {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}

	return path
}
