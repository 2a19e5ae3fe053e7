// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package config loads wattstat settings from flags, environment,
// .env files and an optional YAML config file.
package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	_ "github.com/joho/godotenv/autoload"
	"github.com/spf13/viper"
	"go.uber.org/zap/zapcore"
)

// EnvPrefix is prepended to every environment variable
const EnvPrefix = "wattstat"

type Config struct {
	LogLevel zapcore.Level `mapstructure:"-"`

	Serial      SerialConfig      `mapstructure:"serial"`
	WebSocket   WebSocketConfig   `mapstructure:"websocket"`
	Simulate    bool              `mapstructure:"simulate"`
	Transaction TransactionConfig `mapstructure:"transaction"`
	Precision   PrecisionConfig   `mapstructure:"precision"`
	Monitor     MonitorConfig     `mapstructure:"monitor"`
	MQTT        MQTTConfig        `mapstructure:"mqtt"`
	HTTP        HTTPConfig        `mapstructure:"http"`
}

type SerialConfig struct {
	Port string
	Baud int
}

type WebSocketConfig struct {
	URL         string
	Username    string
	Password    string
	NoSSLVerify bool `mapstructure:"no_ssl_verify"`
}

type TransactionConfig struct {
	TimeoutMillis uint32 `mapstructure:"timeout_millis"`
	SettleMillis  uint32 `mapstructure:"settle_millis"`
	PollMillis    uint32 `mapstructure:"poll_millis"`
}

func (t TransactionConfig) Timeout() time.Duration {
	return time.Duration(t.TimeoutMillis) * time.Millisecond
}

func (t TransactionConfig) Settle() time.Duration {
	return time.Duration(t.SettleMillis) * time.Millisecond
}

func (t TransactionConfig) Poll() time.Duration {
	return time.Duration(t.PollMillis) * time.Millisecond
}

type PrecisionConfig struct {
	Volts  int
	Amps1  int
	Power1 int
	Amps2  int
	Power2 int
}

type MonitorConfig struct {
	PollIntervalMillis uint32  `mapstructure:"poll_interval_millis"`
	MinVolts           float64 `mapstructure:"min_volts"`
	MaxVolts           float64 `mapstructure:"max_volts"`
	MinFrequency       float64 `mapstructure:"min_frequency"`
	MaxFrequency       float64 `mapstructure:"max_frequency"`
}

func (m MonitorConfig) PollInterval() time.Duration {
	return time.Duration(m.PollIntervalMillis) * time.Millisecond
}

type MQTTConfig struct {
	Enable            bool
	Host              string
	Port              int
	Username          string
	Password          string
	ClientID          string `mapstructure:"client_id"`
	BaseTopic         string `mapstructure:"base_topic"`
	Format            string
	HADiscoveryEnable bool   `mapstructure:"ha_discovery_enable"`
	HADiscoveryTopic  string `mapstructure:"ha_discovery_topic"`
	DeviceID          string `mapstructure:"device_id"`
	AllowCommands     bool   `mapstructure:"allow_commands"`
}

type HTTPConfig struct {
	Enable bool
	Port   uint
	Log    bool
}

// New returns a viper instance with defaults and environment binding
func New() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	return v
}

func SetDefaults(v *viper.Viper) {
	v.SetDefault("log_level", "warn")
	v.SetDefault("serial.port", "")
	v.SetDefault("serial.baud", 115200)
	v.SetDefault("websocket.url", "")
	v.SetDefault("websocket.username", "")
	v.SetDefault("websocket.password", "")
	v.SetDefault("websocket.no_ssl_verify", false)
	v.SetDefault("simulate", false)
	v.SetDefault("transaction.timeout_millis", 100)
	v.SetDefault("transaction.settle_millis", 20)
	v.SetDefault("transaction.poll_millis", 20)
	v.SetDefault("precision.volts", 1)
	v.SetDefault("precision.amps1", 3)
	v.SetDefault("precision.power1", 3)
	v.SetDefault("precision.amps2", 3)
	v.SetDefault("precision.power2", 3)
	v.SetDefault("monitor.poll_interval_millis", 2000)
	v.SetDefault("monitor.min_volts", 80)
	v.SetDefault("monitor.max_volts", 280)
	v.SetDefault("monitor.min_frequency", 45)
	v.SetDefault("monitor.max_frequency", 65)
	v.SetDefault("mqtt.enable", false)
	v.SetDefault("mqtt.host", "localhost")
	v.SetDefault("mqtt.port", 1883)
	v.SetDefault("mqtt.username", "")
	v.SetDefault("mqtt.password", "")
	v.SetDefault("mqtt.client_id", "")
	v.SetDefault("mqtt.base_topic", "wattstat")
	v.SetDefault("mqtt.format", "json")
	v.SetDefault("mqtt.ha_discovery_enable", false)
	v.SetDefault("mqtt.ha_discovery_topic", "homeassistant")
	v.SetDefault("mqtt.device_id", "mcp39f511n")
	v.SetDefault("mqtt.allow_commands", false)
	v.SetDefault("http.enable", false)
	v.SetDefault("http.port", 8080)
	v.SetDefault("http.log", false)
}

// Load reads the optional config file and unmarshals and validates the
// configuration. cfgFile falls back to WATTSTAT_CONFIG_FILE.
func Load(v *viper.Viper, cfgFile string) (*Config, error) {
	if cfgFile == "" {
		cfgFile = os.Getenv("WATTSTAT_CONFIG_FILE")
	}
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", cfgFile, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	level, err := ParseLogLevel(v.GetString("log_level"))
	if err != nil {
		return nil, err
	}
	cfg.LogLevel = level

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ParseLogLevel maps a level name to a zap level
func ParseLogLevel(name string) (zapcore.Level, error) {
	switch strings.ToLower(name) {
	case "trace", "debug":
		return zapcore.DebugLevel, nil
	case "info", "":
		return zapcore.InfoLevel, nil
	case "warn", "warning":
		return zapcore.WarnLevel, nil
	case "error":
		return zapcore.ErrorLevel, nil
	case "fatal":
		return zapcore.FatalLevel, nil
	default:
		return zapcore.InfoLevel, fmt.Errorf("unknown log level %q", name)
	}
}

// Validate checks bounds and normalizes MQTT topics
func (c *Config) Validate() error {
	if c.Transaction.TimeoutMillis == 0 {
		return errors.New("config param transaction.timeout_millis should be > 0")
	}
	if c.Transaction.PollMillis == 0 {
		return errors.New("config param transaction.poll_millis should be > 0")
	}
	if c.Transaction.SettleMillis > c.Transaction.TimeoutMillis {
		return errors.New("config param transaction.settle_millis must be <= transaction.timeout_millis")
	}
	if c.Monitor.PollIntervalMillis < 250 {
		return errors.New("config param monitor.poll_interval_millis should be >= 250")
	}
	if c.Monitor.MinVolts >= c.Monitor.MaxVolts {
		return errors.New("config param monitor.min_volts must be < monitor.max_volts")
	}
	if c.Monitor.MinFrequency >= c.Monitor.MaxFrequency {
		return errors.New("config param monitor.min_frequency must be < monitor.max_frequency")
	}

	switch c.MQTT.Format {
	case "json", "cbor", "plain":
	default:
		return fmt.Errorf("config param mqtt.format must be json, cbor or plain (got %q)", c.MQTT.Format)
	}

	baseTopic, err := CheckMQTTTopic(c.MQTT.BaseTopic)
	if err != nil {
		return errors.New("invalid base topic. can only contain letters, numbers and underscores")
	}
	c.MQTT.BaseTopic = baseTopic

	haTopic, err := CheckMQTTTopic(c.MQTT.HADiscoveryTopic)
	if err != nil {
		return errors.New("invalid homeassistant discovery topic. can only contain letters, numbers and underscores")
	}
	c.MQTT.HADiscoveryTopic = haTopic

	deviceID, err := CheckMQTTTopic(c.MQTT.DeviceID)
	if err != nil {
		return errors.New("invalid device id. can only contain letters, numbers and underscores")
	}
	c.MQTT.DeviceID = deviceID

	return nil
}

var topicRegexp = regexp.MustCompile("^[a-z0-9_]+$")

// CheckMQTTTopic lowercases a topic segment and rejects anything but
// letters, numbers and underscores
func CheckMQTTTopic(topic string) (string, error) {
	lower := strings.ToLower(topic)
	if !topicRegexp.MatchString(lower) {
		return "", errors.New("invalid topic. can only contain letters, numbers and underscores")
	}
	return lower, nil
}

// Redacted returns a copy safe for logging
func (c Config) Redacted() Config {
	if c.MQTT.Username != "" {
		c.MQTT.Username = "*redacted*"
	}
	if c.MQTT.Password != "" {
		c.MQTT.Password = "*redacted*"
	}
	if c.WebSocket.Password != "" {
		c.WebSocket.Password = "*redacted*"
	}
	return c
}
