// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("WATTSTAT_CONFIG_FILE", "")

	cfg, err := Load(New(), "")
	require.NoError(t, err)

	assert.Equal(t, 115200, cfg.Serial.Baud)
	assert.Equal(t, 100*time.Millisecond, cfg.Transaction.Timeout())
	assert.Equal(t, 20*time.Millisecond, cfg.Transaction.Settle())
	assert.Equal(t, 20*time.Millisecond, cfg.Transaction.Poll())
	assert.Equal(t, 2*time.Second, cfg.Monitor.PollInterval())
	assert.Equal(t, 1, cfg.Precision.Volts)
	assert.Equal(t, 3, cfg.Precision.Power2)
	assert.Equal(t, "wattstat", cfg.MQTT.BaseTopic)
	assert.Equal(t, "json", cfg.MQTT.Format)
	assert.Equal(t, zapcore.WarnLevel, cfg.LogLevel)
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("WATTSTAT_CONFIG_FILE", "")
	t.Setenv("WATTSTAT_SERIAL_PORT", "/dev/ttyUSB3")
	t.Setenv("WATTSTAT_TRANSACTION_TIMEOUT_MILLIS", "250")
	t.Setenv("WATTSTAT_MQTT_BASE_TOPIC", "Garage_Meter")
	t.Setenv("WATTSTAT_LOG_LEVEL", "debug")

	cfg, err := Load(New(), "")
	require.NoError(t, err)

	assert.Equal(t, "/dev/ttyUSB3", cfg.Serial.Port)
	assert.Equal(t, 250*time.Millisecond, cfg.Transaction.Timeout())
	assert.Equal(t, "garage_meter", cfg.MQTT.BaseTopic, "topic is lowercased")
	assert.Equal(t, zapcore.DebugLevel, cfg.LogLevel)
}

func TestLoadFromFile(t *testing.T) {
	t.Setenv("WATTSTAT_CONFIG_FILE", "")
	path := filepath.Join(t.TempDir(), "wattstat.yaml")
	content := `
serial:
  port: /dev/ttyAMA0
mqtt:
  enable: true
  host: broker.local
  format: cbor
  ha_discovery_enable: true
monitor:
  poll_interval_millis: 5000
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := Load(New(), path)
	require.NoError(t, err)

	assert.Equal(t, "/dev/ttyAMA0", cfg.Serial.Port)
	assert.True(t, cfg.MQTT.Enable)
	assert.Equal(t, "broker.local", cfg.MQTT.Host)
	assert.Equal(t, "cbor", cfg.MQTT.Format)
	assert.True(t, cfg.MQTT.HADiscoveryEnable)
	assert.Equal(t, 5*time.Second, cfg.Monitor.PollInterval())
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(New(), filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  interface{}
	}{
		{"zero timeout", "transaction.timeout_millis", 0},
		{"zero poll", "transaction.poll_millis", 0},
		{"settle longer than timeout", "transaction.settle_millis", 500},
		{"poll interval too short", "monitor.poll_interval_millis", 100},
		{"inverted voltage band", "monitor.min_volts", 300},
		{"unknown format", "mqtt.format", "xml"},
		{"bad base topic", "mqtt.base_topic", "power/meter"},
		{"bad discovery topic", "mqtt.ha_discovery_topic", "home assistant"},
		{"bad log level", "log_level", "loud"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("WATTSTAT_CONFIG_FILE", "")
			v := New()
			v.Set(tt.key, tt.val)
			_, err := Load(v, "")
			assert.Error(t, err)
		})
	}
}

func TestCheckMQTTTopic(t *testing.T) {
	topic, err := CheckMQTTTopic("Power_Meter_2")
	require.NoError(t, err)
	assert.Equal(t, "power_meter_2", topic)

	_, err = CheckMQTTTopic("power/meter")
	assert.Error(t, err)
	_, err = CheckMQTTTopic("")
	assert.Error(t, err)
}

func TestRedacted(t *testing.T) {
	cfg := Config{
		MQTT:      MQTTConfig{Username: "user", Password: "secret"},
		WebSocket: WebSocketConfig{Password: "hunter2"},
	}
	r := cfg.Redacted()
	assert.Equal(t, "*redacted*", r.MQTT.Username)
	assert.Equal(t, "*redacted*", r.MQTT.Password)
	assert.Equal(t, "*redacted*", r.WebSocket.Password)
	assert.Equal(t, "secret", cfg.MQTT.Password, "original untouched")
}
