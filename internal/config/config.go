// Package config loads server configuration from a YAML file with
// environment variable overrides.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

type Listen struct {
	BindIP string `yaml:"bind_ip" env:"LISTEN_BIND_IP" env-default:"0.0.0.0"`
	Port   string `yaml:"port" env:"LISTEN_PORT" env-default:"8099"`
}

type Database struct {
	Path string `yaml:"path" env:"DATABASE_PATH" env-default:"/data/access-manager.db"`
}

type Auth struct {
	JWTSecret       string `yaml:"jwt_secret" env:"JWT_SECRET"`
	TokenTTLMinutes int    `yaml:"token_ttl_minutes" env:"TOKEN_TTL_MINUTES" env-default:"1440"`
	AdminUsername   string `yaml:"admin_username" env:"ADMIN_USERNAME" env-default:"admin"`
	AdminPassword   string `yaml:"admin_password" env:"ADMIN_PASSWORD"`
}

type Codes struct {
	MaxTTLSeconds int    `yaml:"max_ttl_seconds" env:"CODES_MAX_TTL_SECONDS" env-default:"2592000"`
	SweepInterval string `yaml:"sweep_interval" env:"CODES_SWEEP_INTERVAL" env-default:"@every 1m"`
}

type Requests struct {
	DefaultDurationHours int `yaml:"default_duration_hours" env-default:"24"`
	MaxDurationHours     int `yaml:"max_duration_hours" env-default:"720"`
}

type Scan struct {
	TimeoutSeconds int `yaml:"timeout_seconds" env:"SCAN_TIMEOUT_SECONDS" env-default:"60"`
}

type Device struct {
	APIKey string `yaml:"api_key" env:"DEVICE_API_KEY"`
	DoorID string `yaml:"door_id" env:"DEVICE_DOOR_ID" env-default:"front-door"`
}

type MQTT struct {
	Enabled     bool   `yaml:"enabled" env:"MQTT_ENABLED" env-default:"false"`
	Host        string `yaml:"host" env:"MQTT_HOST" env-default:"localhost"`
	Port        int    `yaml:"port" env:"MQTT_PORT" env-default:"1883"`
	ClientID    string `yaml:"client_id" env:"MQTT_CLIENT_ID" env-default:"access-manager"`
	Username    string `yaml:"username" env:"MQTT_USERNAME"`
	Password    string `yaml:"password" env:"MQTT_PASSWORD"`
	TopicPrefix string `yaml:"topic_prefix" env:"MQTT_TOPIC_PREFIX" env-default:"esp32/door"`
	QoS         int    `yaml:"qos" env:"MQTT_QOS" env-default:"1"`
}

type Influx struct {
	Enabled bool   `yaml:"enabled" env:"INFLUX_ENABLED" env-default:"false"`
	URL     string `yaml:"url" env:"INFLUX_URL" env-default:"http://localhost:8086"`
	Token   string `yaml:"token" env:"INFLUX_TOKEN"`
	Org     string `yaml:"org" env:"INFLUX_ORG" env-default:"home"`
	Bucket  string `yaml:"bucket" env:"INFLUX_BUCKET" env-default:"door"`
}

type WebSocket struct {
	SendBuffer          int `yaml:"send_buffer" env-default:"256"`
	PingIntervalSeconds int `yaml:"ping_interval_seconds" env-default:"30"`
}

type Config struct {
	Env       string    `yaml:"env" env:"ENV" env-default:"local"`
	LogPath   string    `yaml:"log_path" env:"LOG_PATH" env-default:"/data/access-manager.log"`
	Listen    Listen    `yaml:"listen"`
	Database  Database  `yaml:"database"`
	Auth      Auth      `yaml:"auth"`
	Codes     Codes     `yaml:"codes"`
	Requests  Requests  `yaml:"requests"`
	Scan      Scan      `yaml:"scan"`
	Device    Device    `yaml:"device"`
	MQTT      MQTT      `yaml:"mqtt"`
	Influx    Influx    `yaml:"influx"`
	WebSocket WebSocket `yaml:"websocket"`
}

// Addr returns the listen address in host:port form.
func (c *Config) Addr() string {
	return c.Listen.BindIP + ":" + c.Listen.Port
}

func (c *Config) TokenTTL() time.Duration {
	return time.Duration(c.Auth.TokenTTLMinutes) * time.Minute
}

func (c *Config) MaxCodeTTL() time.Duration {
	return time.Duration(c.Codes.MaxTTLSeconds) * time.Second
}

func (c *Config) ScanTimeout() time.Duration {
	return time.Duration(c.Scan.TimeoutSeconds) * time.Second
}

// Validate checks values that have no sensible default.
func (c *Config) Validate() error {
	if len(c.Auth.JWTSecret) < 16 {
		return errors.New("auth.jwt_secret must be at least 16 characters")
	}
	if c.Auth.TokenTTLMinutes <= 0 {
		return errors.New("auth.token_ttl_minutes must be positive")
	}
	if c.Codes.MaxTTLSeconds <= 0 {
		return errors.New("codes.max_ttl_seconds must be positive")
	}
	if c.Scan.TimeoutSeconds <= 0 {
		return errors.New("scan.timeout_seconds must be positive")
	}
	if c.Requests.DefaultDurationHours <= 0 || c.Requests.MaxDurationHours < c.Requests.DefaultDurationHours {
		return errors.New("requests durations must be positive and max >= default")
	}
	return nil
}

// Load reads the configuration file at path. A missing file is not an error:
// defaults and environment variables are used instead.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	var err error
	if _, statErr := os.Stat(path); errors.Is(statErr, fs.ErrNotExist) {
		err = cleanenv.ReadEnv(cfg)
	} else {
		err = cleanenv.ReadConfig(path, cfg)
	}
	if err != nil {
		desc, _ := cleanenv.GetDescription(cfg, nil)
		return nil, fmt.Errorf("config: %s; %s", err, desc)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

var instance *Config
var once sync.Once

// MustLoad loads the configuration once and panics on failure.
func MustLoad(path string) *Config {
	once.Do(func() {
		cfg, err := Load(path)
		if err != nil {
			panic(err)
		}
		instance = cfg
	})
	return instance
}
