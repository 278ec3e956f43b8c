package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Game     GameConfig     `yaml:"game"`
	Login    LoginConfig    `yaml:"login"`
	Chat     ChatConfig     `yaml:"chat"`
	Kit      KitConfig      `yaml:"kit"`
	Announce AnnounceConfig `yaml:"announce"`
	Giveaway GiveawayConfig `yaml:"giveaway"`
	Relay    RelayConfig    `yaml:"relay"`
	Health   HealthConfig   `yaml:"health"`

	// Operators may toggle maintenance mode from in-game chat.
	Operators []string `yaml:"operators"`
	VIPs      []string `yaml:"vips"`
	Blacklist []string `yaml:"blacklist"`
}

type GameConfig struct {
	URL                  string        `yaml:"url"`
	Username             string        `yaml:"username"`
	ReconnectDelay       time.Duration `yaml:"reconnect_delay"`
	MaxReconnectDelay    time.Duration `yaml:"max_reconnect_delay"`
	MaxReconnectAttempts int           `yaml:"max_reconnect_attempts"`
	HealthThreshold      float64       `yaml:"health_threshold"`
}

type LoginConfig struct {
	StartDelay     time.Duration `yaml:"start_delay"`
	PrimaryCommand string        `yaml:"primary_command"`
	PrimaryDelay   time.Duration `yaml:"primary_delay"`
	SetupCommand   string        `yaml:"setup_command"`
	SetupDelay     time.Duration `yaml:"setup_delay"`
	RetryBackoff   time.Duration `yaml:"retry_backoff"`
	MaxRetries     int           `yaml:"max_retries"`
}

type ChatConfig struct {
	MinDelay  time.Duration `yaml:"min_delay"`
	SendDelay time.Duration `yaml:"send_delay"`
	MaxLength int           `yaml:"max_length"`
}

type KitConfig struct {
	Cooldown        time.Duration     `yaml:"cooldown"`
	VIPCooldown     time.Duration     `yaml:"vip_cooldown"`
	AcceptWindow    time.Duration     `yaml:"accept_window"`
	DeliveryDelay   time.Duration     `yaml:"delivery_delay"`
	WatchInterval   time.Duration     `yaml:"watch_interval"`
	MoveThreshold   float64           `yaml:"move_threshold"`
	SpawnProximity  float64           `yaml:"spawn_proximity"`
	GraceDelay      time.Duration     `yaml:"grace_delay"`
	RecoveryDelay   time.Duration     `yaml:"recovery_delay"`
	MaxQueueSize    int               `yaml:"max_queue_size"`
	CleanupInterval time.Duration     `yaml:"cleanup_interval"`
	Kinds           map[string]string `yaml:"kinds"`
	DefaultKind     string            `yaml:"default_kind"`
}

type AnnounceConfig struct {
	Interval  time.Duration `yaml:"interval"`
	Jitter    time.Duration `yaml:"jitter"`
	FilePath  string        `yaml:"file_path"`
	MaxLength int           `yaml:"max_length"`
}

type GiveawayConfig struct {
	AnnounceInterval time.Duration `yaml:"announce_interval"`
	AnnounceJitter   time.Duration `yaml:"announce_jitter"`
	InitialDelay     time.Duration `yaml:"initial_delay"`
	ResumeDelay      time.Duration `yaml:"resume_delay"`
	MaxDuration      time.Duration `yaml:"max_duration"`
}

type RelayConfig struct {
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Channel       string `yaml:"channel"`
	CoordsChannel string `yaml:"coords_channel"`
}

type HealthConfig struct {
	Addr string `yaml:"addr"`
}

// defaultConfig returns the built-in defaults. Values mirror the tuning the
// bot has been run with in production; YAML overrides any field.
func defaultConfig() *Config {
	return &Config{
		Game: GameConfig{
			URL:                  "ws://localhost:8787/ws",
			Username:             "courier",
			ReconnectDelay:       30 * time.Second,
			MaxReconnectDelay:    120 * time.Second,
			MaxReconnectAttempts: 10,
			HealthThreshold:      5,
		},
		Login: LoginConfig{
			StartDelay:     3 * time.Second,
			PrimaryCommand: "/login govinda",
			PrimaryDelay:   3 * time.Second,
			SetupCommand:   "/8b8t",
			SetupDelay:     2 * time.Second,
			RetryBackoff:   5 * time.Second,
			MaxRetries:     5,
		},
		Chat: ChatConfig{
			MinDelay:  time.Second,
			SendDelay: 500 * time.Millisecond,
			MaxLength: 256,
		},
		Kit: KitConfig{
			Cooldown:        30 * time.Second,
			VIPCooldown:     10 * time.Second,
			AcceptWindow:    25 * time.Second,
			DeliveryDelay:   3 * time.Second,
			WatchInterval:   500 * time.Millisecond,
			MoveThreshold:   5,
			SpawnProximity:  5,
			GraceDelay:      2 * time.Second,
			RecoveryDelay:   2 * time.Second,
			MaxQueueSize:    50,
			CleanupInterval: 10 * time.Minute,
			Kinds: map[string]string{
				"kit": "/home kit",
				"pvp": "/home pvp",
			},
			DefaultKind: "kit",
		},
		Announce: AnnounceConfig{
			Interval:  40 * time.Second,
			Jitter:    5 * time.Second,
			FilePath:  "announcements.txt",
			MaxLength: 100,
		},
		Giveaway: GiveawayConfig{
			AnnounceInterval: 15 * time.Second,
			AnnounceJitter:   3 * time.Second,
			InitialDelay:     5 * time.Second,
			ResumeDelay:      2 * time.Second,
			MaxDuration:      24 * time.Hour,
		},
		Health: HealthConfig{
			Addr: ":8080",
		},
	}
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := defaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Default returns the built-in configuration, validated. Used when no config
// file is present on disk.
func Default() *Config {
	return defaultConfig()
}

func (c *Config) Validate() error {
	if c.Game.URL == "" {
		return fmt.Errorf("game.url must not be empty")
	}
	if c.Game.Username == "" {
		return fmt.Errorf("game.username must not be empty")
	}
	if c.Chat.MinDelay <= 0 {
		return fmt.Errorf("chat.min_delay must be positive")
	}
	if c.Chat.MaxLength <= 0 {
		return fmt.Errorf("chat.max_length must be positive")
	}
	if c.Kit.Cooldown <= 0 || c.Kit.VIPCooldown <= 0 {
		return fmt.Errorf("kit cooldowns must be positive")
	}
	if c.Kit.MaxQueueSize < 1 {
		return fmt.Errorf("kit.max_queue_size must be at least 1")
	}
	if len(c.Kit.Kinds) == 0 {
		return fmt.Errorf("kit.kinds must define at least one kind")
	}
	if _, ok := c.Kit.Kinds[c.Kit.DefaultKind]; !ok {
		return fmt.Errorf("kit.default_kind %q is not a defined kind", c.Kit.DefaultKind)
	}
	if c.Login.MaxRetries < 1 {
		return fmt.Errorf("login.max_retries must be at least 1")
	}
	return nil
}

// KindCommand resolves a requested kind name to its preparation command.
// Kind names are matched case-insensitively; empty kind means the default.
func (c *Config) KindCommand(kind string) (string, bool) {
	if kind == "" {
		kind = c.Kit.DefaultKind
	}
	for name, cmd := range c.Kit.Kinds {
		if strings.EqualFold(name, kind) {
			return cmd, true
		}
	}
	return "", false
}

// MaxCooldown returns the longer of the two cooldown windows.
func (c *Config) MaxCooldown() time.Duration {
	if c.Kit.VIPCooldown > c.Kit.Cooldown {
		return c.Kit.VIPCooldown
	}
	return c.Kit.Cooldown
}
