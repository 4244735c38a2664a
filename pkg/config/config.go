package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

type Config struct {
	Server struct {
		Address         string        `yaml:"address"`
		ReadTimeout     time.Duration `yaml:"read_timeout"`
		WriteTimeout    time.Duration `yaml:"write_timeout"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	} `yaml:"server"`

	Signal struct {
		PingInterval      time.Duration `yaml:"ping_interval"`
		PongTimeout       time.Duration `yaml:"pong_timeout"`
		WriteTimeout      time.Duration `yaml:"write_timeout"`
		MaxMessageBytes   int64         `yaml:"max_message_bytes"`
		MessagesPerSecond float64       `yaml:"messages_per_second"`
		Burst             int           `yaml:"burst"`
	} `yaml:"signal"`

	Session struct {
		WaitingRoomTimeout time.Duration `yaml:"waiting_room_timeout"`
		ReconnectGrace     time.Duration `yaml:"reconnect_grace"`
	} `yaml:"session"`

	Quality struct {
		SampleInterval   time.Duration `yaml:"sample_interval"`
		GoodLossMax      float64       `yaml:"good_loss_max"`
		PoorLossMin      float64       `yaml:"poor_loss_min"`
		UnreachableAfter int           `yaml:"unreachable_after"`
	} `yaml:"quality"`

	Recording struct {
		Enabled   bool   `yaml:"enabled"`
		Region    string `yaml:"region"`
		Bucket    string `yaml:"bucket"`
		Prefix    string `yaml:"prefix"`
		AccessKey string `yaml:"access_key"`
		SecretKey string `yaml:"secret_key"`
	} `yaml:"recording"`

	Redis struct {
		Enabled  bool   `yaml:"enabled"`
		Address  string `yaml:"address"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		PoolSize int    `yaml:"pool_size"`
	} `yaml:"redis"`

	Auth struct {
		JWTSecret string        `yaml:"jwt_secret"`
		TokenTTL  time.Duration `yaml:"token_ttl"`
	} `yaml:"auth"`

	Logging struct {
		Level string `yaml:"level"`
	} `yaml:"logging"`
}

// Validate checks that configuration values are within acceptable ranges.
func (c *Config) Validate() error {
	if c.Server.Address == "" {
		return fmt.Errorf("server.address must not be empty")
	}
	if c.Server.ReadTimeout <= 0 {
		return fmt.Errorf("server.read_timeout must be > 0")
	}
	if c.Server.WriteTimeout <= 0 {
		return fmt.Errorf("server.write_timeout must be > 0")
	}
	if c.Server.ShutdownTimeout <= 0 {
		return fmt.Errorf("server.shutdown_timeout must be > 0")
	}

	if c.Signal.PingInterval <= 0 {
		return fmt.Errorf("signal.ping_interval must be > 0")
	}
	if c.Signal.PongTimeout <= c.Signal.PingInterval {
		return fmt.Errorf("signal.pong_timeout must be > signal.ping_interval")
	}
	if c.Signal.MessagesPerSecond <= 0 {
		return fmt.Errorf("signal.messages_per_second must be > 0")
	}
	if c.Signal.Burst <= 0 {
		return fmt.Errorf("signal.burst must be > 0")
	}

	if c.Session.WaitingRoomTimeout <= 0 {
		return fmt.Errorf("session.waiting_room_timeout must be > 0")
	}
	if c.Session.ReconnectGrace < 0 {
		return fmt.Errorf("session.reconnect_grace must be >= 0")
	}

	if c.Quality.SampleInterval <= 0 {
		return fmt.Errorf("quality.sample_interval must be > 0")
	}
	if c.Quality.GoodLossMax <= 0 || c.Quality.GoodLossMax >= 1 {
		return fmt.Errorf("quality.good_loss_max must be in (0, 1)")
	}
	if c.Quality.PoorLossMin <= c.Quality.GoodLossMax || c.Quality.PoorLossMin >= 1 {
		return fmt.Errorf("quality.poor_loss_min must be in (good_loss_max, 1)")
	}
	if c.Quality.UnreachableAfter <= 0 {
		return fmt.Errorf("quality.unreachable_after must be > 0")
	}

	if c.Recording.Enabled {
		if c.Recording.Region == "" {
			return fmt.Errorf("recording.region must not be empty when recording.enabled=true")
		}
		if c.Recording.Bucket == "" {
			return fmt.Errorf("recording.bucket must not be empty when recording.enabled=true")
		}
	}

	if c.Redis.Enabled {
		if c.Redis.Address == "" {
			return fmt.Errorf("redis.address must not be empty when redis.enabled=true")
		}
		if c.Redis.PoolSize <= 0 {
			return fmt.Errorf("redis.pool_size must be > 0 when redis.enabled=true")
		}
	}

	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret must not be empty")
	}
	if c.Auth.TokenTTL <= 0 {
		return fmt.Errorf("auth.token_ttl must be > 0")
	}

	if c.Logging.Level == "" {
		return fmt.Errorf("logging.level must not be empty")
	}

	return nil
}

// Load reads configuration from a YAML file, applies defaults and env
// overrides. A missing file is not an error: defaults plus env are used.
func Load(configPath string) (*Config, error) {
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		cfg := DefaultConfig()
		cfg.applyEnvOverrides()
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config yaml: %w", err)
	}

	cfg.applyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// DefaultConfig returns configuration with sane defaults.
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Server.Address = ":8080"
	cfg.Server.ReadTimeout = 30 * time.Second
	cfg.Server.WriteTimeout = 30 * time.Second
	cfg.Server.ShutdownTimeout = 30 * time.Second

	cfg.Signal.PingInterval = 30 * time.Second
	cfg.Signal.PongTimeout = 60 * time.Second
	cfg.Signal.WriteTimeout = 10 * time.Second
	cfg.Signal.MaxMessageBytes = 64 * 1024
	cfg.Signal.MessagesPerSecond = 50
	cfg.Signal.Burst = 100

	cfg.Session.WaitingRoomTimeout = 10 * time.Minute
	cfg.Session.ReconnectGrace = 30 * time.Second

	cfg.Quality.SampleInterval = 5 * time.Second
	cfg.Quality.GoodLossMax = 0.02
	cfg.Quality.PoorLossMin = 0.05
	cfg.Quality.UnreachableAfter = 5

	cfg.Recording.Enabled = false
	cfg.Recording.Prefix = "recordings"

	cfg.Redis.Enabled = false
	cfg.Redis.Address = "localhost:6379"
	cfg.Redis.DB = 0
	cfg.Redis.PoolSize = 10

	cfg.Auth.JWTSecret = "change-me-in-production"
	cfg.Auth.TokenTTL = 15 * time.Minute

	cfg.Logging.Level = "info"

	return cfg
}

func (c *Config) applyEnvOverrides() {
	if addr := os.Getenv("TELESIG_SERVER_ADDRESS"); addr != "" {
		c.Server.Address = addr
	}
	if level := os.Getenv("TELESIG_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
	if secret := os.Getenv("TELESIG_JWT_SECRET"); secret != "" {
		c.Auth.JWTSecret = secret
	}
	if addr := os.Getenv("TELESIG_REDIS_ADDRESS"); addr != "" {
		c.Redis.Address = addr
	}
	if key := os.Getenv("AWS_ACCESS_KEY_ID"); key != "" && c.Recording.AccessKey == "" {
		c.Recording.AccessKey = key
	}
	if key := os.Getenv("AWS_SECRET_ACCESS_KEY"); key != "" && c.Recording.SecretKey == "" {
		c.Recording.SecretKey = key
	}
}
