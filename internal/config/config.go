package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/viper"
)

type Config struct {
	Agent    AgentConfig   `mapstructure:"agent"`
	Redis    RedisConfig   `mapstructure:"redis"`
	Mailbox  MailboxConfig `mapstructure:"mailbox"`
	LogLevel string        `mapstructure:"log_level"`
}

type AgentConfig struct {
	ID string `mapstructure:"id"`
}

type RedisConfig struct {
	// URL, when set (typically via MAILBOX_REDIS_URL), seeds host/port/db/
	// password. Explicitly configured values win over URL-derived ones.
	URL      string `mapstructure:"url"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	DB       int    `mapstructure:"db"`
	Password string `mapstructure:"password"`
}

type MailboxConfig struct {
	StreamPrefix        string        `mapstructure:"stream_prefix"`
	MaxStreamLength     int64         `mapstructure:"max_stream_length"`
	PollInterval        time.Duration `mapstructure:"poll_interval"`
	EnableRecovery      bool          `mapstructure:"enable_recovery"`
	RecoveryMinIdleTime time.Duration `mapstructure:"recovery_min_idle_time"`
	RecoveryBatchSize   int64         `mapstructure:"recovery_batch_size"`
}

type LoadOptions struct {
	ConfigFile string
}

func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".mailbox", "config.yaml")
	}
	return filepath.Join(home, ".mailbox", "config.yaml")
}

func Load(opts LoadOptions) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix("MAILBOX")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// AutomaticEnv only surfaces env values for keys viper already knows.
	// The connection keys carry no defaults, so they are bound explicitly to
	// make MAILBOX_AGENT_ID, MAILBOX_REDIS_URL, and friends resolvable.
	for _, key := range []string{"agent.id", "redis.url", "redis.host", "redis.port", "redis.db", "redis.password"} {
		_ = v.BindEnv(key)
	}

	path := opts.ConfigFile
	explicit := path != ""
	if path == "" {
		path = DefaultConfigPath()
	}
	v.SetConfigFile(path)

	v.SetDefault("log_level", "info")
	v.SetDefault("mailbox.stream_prefix", "beast:mailbox")
	v.SetDefault("mailbox.max_stream_length", 1000)
	v.SetDefault("mailbox.poll_interval", "1s")
	v.SetDefault("mailbox.enable_recovery", true)
	v.SetDefault("mailbox.recovery_min_idle_time", "1m")
	v.SetDefault("mailbox.recovery_batch_size", 100)

	if err := v.ReadInConfig(); err != nil {
		// The default config path is optional; an explicitly requested file
		// must exist.
		if explicit || !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	// Connection resolution order: explicit settings > URL-derived values >
	// hardcoded defaults.
	if cfg.Redis.URL != "" {
		opt, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		host, port := splitAddr(opt.Addr)
		if cfg.Redis.Host == "" {
			cfg.Redis.Host = host
		}
		if cfg.Redis.Port == 0 {
			cfg.Redis.Port = port
		}
		if cfg.Redis.DB == 0 {
			cfg.Redis.DB = opt.DB
		}
		if cfg.Redis.Password == "" {
			cfg.Redis.Password = opt.Password
		}
	}
	if cfg.Redis.Host == "" {
		cfg.Redis.Host = "localhost"
	}
	if cfg.Redis.Port == 0 {
		cfg.Redis.Port = 6379
	}
	return &cfg, nil
}

// ApplyRedisURL overrides the connection settings from a redis URL. Unlike the
// URL picked up during Load, this one wins over file- and env-sourced values;
// callers layer individual flags on top afterwards.
func (c *Config) ApplyRedisURL(url string) error {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return fmt.Errorf("parse redis url: %w", err)
	}
	c.Redis.URL = url
	if host, port := splitAddr(opt.Addr); host != "" {
		c.Redis.Host = host
		if port != 0 {
			c.Redis.Port = port
		}
	}
	c.Redis.DB = opt.DB
	c.Redis.Password = opt.Password
	return nil
}

func splitAddr(addr string) (string, int) {
	i := strings.LastIndex(addr, ":")
	if i < 0 {
		return addr, 0
	}
	port, err := strconv.Atoi(addr[i+1:])
	if err != nil {
		return addr, 0
	}
	return addr[:i], port
}

func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	if c.Agent.ID == "" {
		return errors.New("agent.id is required")
	}
	if c.Redis.Host == "" {
		return errors.New("redis.host is required")
	}
	if c.Redis.Port <= 0 || c.Redis.Port > 65535 {
		return errors.New("redis.port must be between 1 and 65535")
	}
	if c.Mailbox.MaxStreamLength <= 0 {
		return errors.New("mailbox.max_stream_length must be > 0")
	}
	if c.Mailbox.PollInterval <= 0 {
		return errors.New("mailbox.poll_interval must be > 0")
	}
	if c.Mailbox.RecoveryMinIdleTime < 0 {
		return errors.New("mailbox.recovery_min_idle_time must be >= 0")
	}
	if c.Mailbox.RecoveryBatchSize <= 0 {
		return errors.New("mailbox.recovery_batch_size must be > 0")
	}
	return nil
}
