package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the gateway
type Config struct {
	GatewayID       string        `mapstructure:"gateway_id"       yaml:"gateway_id"`
	GatewayPort     int           `mapstructure:"gateway_port"     yaml:"gateway_port"`
	HTTPPort        int           `mapstructure:"http_port"        yaml:"http_port"`
	RedisURL        string        `mapstructure:"redis_url"        yaml:"redis_url"`
	NATSURL         string        `mapstructure:"nats_url"         yaml:"nats_url"`
	DatabaseURL     string        `mapstructure:"database_url"     yaml:"database_url"`
	ProjectFile     string        `mapstructure:"project_file"     yaml:"project_file"`
	DefaultProtocol string        `mapstructure:"default_protocol" yaml:"default_protocol"`
	ScriptTimeout   time.Duration `mapstructure:"script_timeout"   yaml:"script_timeout"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"     yaml:"read_timeout"`
	SubjectPrefix   string        `mapstructure:"subject_prefix"   yaml:"subject_prefix"`
	JWTSecret       string        `mapstructure:"jwt_secret"       yaml:"jwt_secret"`
	LogLevel        string        `mapstructure:"log_level"        yaml:"log_level"`
	LogPretty       bool          `mapstructure:"log_pretty"       yaml:"log_pretty"`
}

// Load reads configuration from an optional YAML file, then the environment.
// An empty redis_url, nats_url or database_url disables that backend.
// Environment variables use the upper-cased key, e.g. GATEWAY_PORT.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	v.AllowEmptyEnv(true)

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("gateway_id", "node-01")
	v.SetDefault("gateway_port", 8080)
	v.SetDefault("http_port", 8081)
	v.SetDefault("redis_url", "localhost:6379")
	v.SetDefault("nats_url", "nats://localhost:4222")
	v.SetDefault("database_url", "")
	v.SetDefault("project_file", "configs/project.yaml")
	v.SetDefault("default_protocol", "")
	v.SetDefault("script_timeout", "2s")
	v.SetDefault("read_timeout", "5m")
	v.SetDefault("subject_prefix", "fms")
	v.SetDefault("jwt_secret", "")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_pretty", false)
}

// Validate checks ranges and required fields
func (c *Config) Validate() error {
	if strings.TrimSpace(c.GatewayID) == "" {
		return errors.New("gateway_id is required")
	}
	if err := validPort("gateway_port", c.GatewayPort); err != nil {
		return err
	}
	if err := validPort("http_port", c.HTTPPort); err != nil {
		return err
	}
	if c.GatewayPort == c.HTTPPort {
		return fmt.Errorf("gateway_port and http_port must differ, both are %d", c.GatewayPort)
	}
	if c.ScriptTimeout <= 0 {
		return fmt.Errorf("script_timeout must be positive, got %s", c.ScriptTimeout)
	}
	if c.ReadTimeout <= 0 {
		return fmt.Errorf("read_timeout must be positive, got %s", c.ReadTimeout)
	}
	if strings.TrimSpace(c.SubjectPrefix) == "" {
		return errors.New("subject_prefix is required")
	}
	return nil
}

func validPort(name string, port int) error {
	if port <= 0 || port > 65535 {
		return fmt.Errorf("%s must be between 1-65535, got %d", name, port)
	}
	return nil
}
