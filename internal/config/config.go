package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type RedisConfig struct {
	Addr         string `mapstructure:"addr" validate:"required,hostname_port"`
	Password     string `mapstructure:"password"`
	DB           int    `mapstructure:"db" validate:"gte=0"`
	PoolSize     int    `mapstructure:"pool_size" validate:"gte=0"`
	MinIdleConns int    `mapstructure:"min_idle_conns" validate:"gte=0"`
}

// AppConfig describes one application instance sharing the player identity.
type AppConfig struct {
	Tag          string `mapstructure:"tag" validate:"required"`
	Multicharing string `mapstructure:"multicharing" validate:"omitempty,oneof=single by-turn simultaneous 0 1 2"`
}

type PresenceConfig struct {
	LoginDebounce   time.Duration `mapstructure:"login_debounce" validate:"gte=0"`
	AuthorizedGrace time.Duration `mapstructure:"authorized_grace" validate:"gt=0"`
	OnlineTimeout   time.Duration `mapstructure:"online_timeout" validate:"gt=0"`
	SweepInterval   time.Duration `mapstructure:"sweep_interval" validate:"gte=0"`
}

type LockConfig struct {
	Patience time.Duration `mapstructure:"patience" validate:"gt=0"`
	Delay    time.Duration `mapstructure:"delay" validate:"gt=0"`
	TTL      time.Duration `mapstructure:"ttl" validate:"gt=0"`
}

type GateConfig struct {
	// TCPAddr enables the raw TCP listener when set.
	TCPAddr           string        `mapstructure:"tcp_addr" validate:"omitempty,hostname_port"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
	HeartbeatTimeout  time.Duration `mapstructure:"heartbeat_timeout"`
	InitTimeout       time.Duration `mapstructure:"init_timeout"`
	LoginLimit        int           `mapstructure:"login_limit" validate:"gte=0"`
	LoginLimitWindow  time.Duration `mapstructure:"login_limit_window"`
	UseJSON           bool          `mapstructure:"use_json"`
}

type LogConfig struct {
	Level string `mapstructure:"level" validate:"omitempty,oneof=debug info warn error dpanic panic fatal"`
}

// NodeConfig is the configuration of one presence node process.
type NodeConfig struct {
	ListenAddr string         `mapstructure:"listen_addr" validate:"required"`
	App        string         `mapstructure:"app"`
	Redis      RedisConfig    `mapstructure:"redis"`
	Apps       []AppConfig    `mapstructure:"apps" validate:"dive"`
	Presence   PresenceConfig `mapstructure:"presence"`
	Lock       LockConfig     `mapstructure:"lock"`
	Gate       GateConfig     `mapstructure:"gate"`
	Log        LogConfig      `mapstructure:"log"`
}

const envPrefix = "PRESENCE"

func setDefaults(v *viper.Viper) {
	v.SetDefault("listen_addr", ":9000")
	v.SetDefault("app", "main")
	v.SetDefault("redis.addr", "127.0.0.1:6379")
	v.SetDefault("redis.pool_size", 200)
	v.SetDefault("redis.min_idle_conns", 20)
	v.SetDefault("presence.login_debounce", "10s")
	v.SetDefault("presence.authorized_grace", "120s")
	v.SetDefault("presence.online_timeout", "3600s")
	v.SetDefault("presence.sweep_interval", "10s")
	v.SetDefault("lock.patience", "20s")
	v.SetDefault("lock.delay", "100ms")
	v.SetDefault("lock.ttl", "30s")
	v.SetDefault("gate.heartbeat_interval", "10s")
	v.SetDefault("gate.heartbeat_timeout", "30s")
	v.SetDefault("gate.init_timeout", "10s")
	v.SetDefault("gate.login_limit", 5)
	v.SetDefault("gate.login_limit_window", "10s")
	v.SetDefault("log.level", "info")
}

// Load reads the config file at path (json or yaml, by extension) and applies
// PRESENCE_* environment overrides. An empty path loads defaults plus env.
func Load(path string) (*NodeConfig, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg NodeConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.normalize(); err != nil {
		return nil, err
	}
	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return &cfg, nil
}

func (c *NodeConfig) normalize() error {
	if c.App == "" {
		return errors.New("config: app must be set")
	}
	if len(c.Apps) == 0 {
		c.Apps = []AppConfig{{Tag: c.App}}
	}
	seen := make(map[string]struct{}, len(c.Apps))
	local := false
	for i := range c.Apps {
		app := &c.Apps[i]
		if app.Tag == "" {
			return fmt.Errorf("config: apps[%d].tag must be set", i)
		}
		if _, dup := seen[app.Tag]; dup {
			return fmt.Errorf("config: app %q listed twice", app.Tag)
		}
		seen[app.Tag] = struct{}{}
		if app.Multicharing == "" {
			app.Multicharing = "single"
		}
		if app.Tag == c.App {
			local = true
		}
	}
	if !local {
		return fmt.Errorf("config: app %q missing from apps", c.App)
	}
	return nil
}

// AppByTag returns the app entry for tag.
func (c *NodeConfig) AppByTag(tag string) (AppConfig, bool) {
	for _, app := range c.Apps {
		if app.Tag == tag {
			return app, true
		}
	}
	return AppConfig{}, false
}
