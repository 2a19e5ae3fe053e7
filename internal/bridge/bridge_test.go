// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Thermoquad/wattstat/internal/config"
	"github.com/Thermoquad/wattstat/pkg/mcp39f511n"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ============================================================================
// Fake broker
// ============================================================================

type fakeToken struct {
	err     error
	timeout bool
}

func (t *fakeToken) Wait() bool                       { return !t.timeout }
func (t *fakeToken) WaitTimeout(_ time.Duration) bool { return !t.timeout }
func (t *fakeToken) Error() error                     { return t.err }
func (t *fakeToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

type published struct {
	topic   string
	retain  bool
	payload interface{}
}

type fakeBroker struct {
	mu           sync.Mutex
	published    []published
	subscribed   []string
	connected    bool
	publishErr   error
	stallConnect bool
}

func (b *fakeBroker) Connect() mqtt.Token {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.connected = !b.stallConnect
	return &fakeToken{timeout: b.stallConnect}
}

func (b *fakeBroker) Disconnect(uint) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.connected = false
}

func (b *fakeBroker) Publish(topic string, _ byte, retained bool, payload interface{}) mqtt.Token {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.published = append(b.published, published{topic, retained, payload})
	return &fakeToken{err: b.publishErr}
}

func (b *fakeBroker) Subscribe(topic string, _ byte, _ mqtt.MessageHandler) mqtt.Token {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribed = append(b.subscribed, topic)
	return &fakeToken{}
}

func (b *fakeBroker) find(topic string) (published, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := len(b.published) - 1; i >= 0; i-- {
		if b.published[i].topic == topic {
			return b.published[i], true
		}
	}
	return published{}, false
}

type fakeMessage struct {
	topic   string
	payload []byte
}

func (m fakeMessage) Duplicate() bool   { return false }
func (m fakeMessage) Qos() byte         { return 1 }
func (m fakeMessage) Retained() bool    { return false }
func (m fakeMessage) Topic() string     { return m.topic }
func (m fakeMessage) MessageID() uint16 { return 1 }
func (m fakeMessage) Payload() []byte   { return m.payload }
func (m fakeMessage) Ack()              {}

func testConfig() config.MQTTConfig {
	return config.MQTTConfig{
		Enable:            true,
		Host:              "localhost",
		Port:              1883,
		BaseTopic:         "wattstat",
		Format:            FormatJSON,
		HADiscoveryEnable: true,
		HADiscoveryTopic:  "homeassistant",
		DeviceID:          "meter1",
		AllowCommands:     true,
	}
}

func newTestClient() (*Client, *fakeBroker) {
	b := &fakeBroker{}
	return NewClient(testConfig(), b), b
}

// ============================================================================
// Options and topics
// ============================================================================

func TestOptsFromConfig(t *testing.T) {
	cfg := testConfig()
	cfg.Username = "user"
	cfg.Password = "secret"
	cfg.ClientID = "wattstat_test"

	opts := OptsFromConfig(cfg)
	require.Len(t, opts.Servers, 1)
	assert.Equal(t, "tcp://localhost:1883", opts.Servers[0].String())
	assert.Equal(t, "wattstat_test", opts.ClientID)
	assert.Equal(t, "user", opts.Username)
	assert.True(t, opts.WillEnabled)
	assert.True(t, opts.WillRetained)
	assert.Equal(t, "wattstat/bridge/state", opts.WillTopic)
	assert.Equal(t, []byte(PayloadOffline), opts.WillPayload)
}

func TestOptsFromConfig_RandomClientID(t *testing.T) {
	opts := OptsFromConfig(testConfig())
	assert.Regexp(t, `^wattstat_\d+$`, opts.ClientID)
	assert.Empty(t, opts.Username)
}

func TestTopics(t *testing.T) {
	c, _ := newTestClient()
	assert.Equal(t, "wattstat/bridge/state", c.BridgeStateTopic())
	assert.Equal(t, "wattstat/sensor/volts/state", c.SensorStateTopic("volts"))
	assert.Equal(t, "wattstat/number/gain_volts/state", c.NumberStateTopic("gain_volts"))
	assert.Equal(t, "wattstat/number/gain_volts/set", c.NumberCommandTopic("gain_volts"))
	assert.Equal(t, "wattstat/button/save_to_flash/press", c.ButtonCommandTopic(ButtonSave))
	assert.Equal(t, "wattstat/reading", c.ReadingTopic())
}

func TestConnect(t *testing.T) {
	c, b := newTestClient()
	require.NoError(t, c.Connect())

	p, ok := b.find(c.BridgeStateTopic())
	require.True(t, ok)
	assert.Equal(t, PayloadOnline, p.payload)
	assert.True(t, p.retain)

	c.Disconnect()
	p, _ = b.find(c.BridgeStateTopic())
	assert.Equal(t, PayloadOffline, p.payload)
	assert.False(t, b.connected)
}

func TestConnect_Timeout(t *testing.T) {
	c, b := newTestClient()
	b.stallConnect = true
	err := c.Connect()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "timed out")
}

func TestSubscribeToCommands(t *testing.T) {
	c, b := newTestClient()
	require.NoError(t, c.SubscribeToCommands(func(mqtt.Client, mqtt.Message) {}))
	assert.Equal(t, []string{"wattstat/number/+/set", "wattstat/button/+/press"}, b.subscribed)
}

// ============================================================================
// Readings
// ============================================================================

func testReading() mcp39f511n.Reading {
	return mcp39f511n.Reading{
		Timestamp:     time.Unix(1700000000, 0).UTC(),
		Volts:         230.1,
		Frequency:     50.012,
		PowerFactor1:  0.953,
		Amps1:         1.234,
		Watts1:        -270.1,
		ImportEnergy1: 1000000,
	}
}

func TestSensorStates(t *testing.T) {
	states := SensorStates(testReading(), mcp39f511n.DefaultPrecision())
	values := map[string]string{}
	for _, s := range states {
		values[s.ID] = s.Value
	}
	assert.Len(t, states, len(sensorSpecs))
	assert.Equal(t, "230.1", values[SensorVolts])
	assert.Equal(t, "50.012", values[SensorFrequency])
	assert.Equal(t, "0.953", values[SensorPowerFactor1])
	assert.Equal(t, "1.234", values[SensorAmps1])
	assert.Equal(t, "-270.100", values[SensorWatts1])
	assert.Equal(t, "1000000", values[SensorImportEnergy1])
}

func TestPublishReading(t *testing.T) {
	c, b := newTestClient()
	require.NoError(t, c.PublishReading(testReading(), mcp39f511n.DefaultPrecision()))

	p, ok := b.find("wattstat/sensor/volts/state")
	require.True(t, ok)
	assert.Equal(t, "230.1", p.payload)
	assert.False(t, p.retain)

	doc, ok := b.find(c.ReadingTopic())
	require.True(t, ok)
	var got mcp39f511n.Reading
	require.NoError(t, json.Unmarshal(doc.payload.([]byte), &got))
	assert.Equal(t, testReading(), got)
}

func TestPublishReading_CBOR(t *testing.T) {
	cfg := testConfig()
	cfg.Format = FormatCBOR
	b := &fakeBroker{}
	c := NewClient(cfg, b)

	require.NoError(t, c.PublishReading(testReading(), mcp39f511n.DefaultPrecision()))
	doc, ok := b.find(c.ReadingTopic())
	require.True(t, ok)
	got, err := mcp39f511n.DecodeReading(doc.payload.([]byte))
	require.NoError(t, err)
	assert.Equal(t, testReading().Volts, got.Volts)
}

func TestPublishReading_Plain(t *testing.T) {
	cfg := testConfig()
	cfg.Format = FormatPlain
	b := &fakeBroker{}
	c := NewClient(cfg, b)

	require.NoError(t, c.PublishReading(testReading(), mcp39f511n.DefaultPrecision()))
	_, ok := b.find(c.ReadingTopic())
	assert.False(t, ok)
	assert.Len(t, b.published, len(sensorSpecs))
}

func TestPublishReading_Errors(t *testing.T) {
	c, b := newTestClient()
	b.publishErr = errors.New("not connected")
	err := c.PublishReading(testReading(), mcp39f511n.DefaultPrecision())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "volts")
}

func TestEncodeReading_UnknownFormat(t *testing.T) {
	_, err := EncodeReading(testReading(), "xml")
	assert.Error(t, err)
}

// ============================================================================
// Discovery
// ============================================================================

func TestDiscoveryMessages(t *testing.T) {
	c, _ := newTestClient()
	msgs := c.DiscoveryMessages()
	assert.Len(t, msgs, 1+len(sensorSpecs)+len(GainNames)+1)

	byTopic := map[string]HADiscoveryConfig{}
	for _, m := range msgs {
		byTopic[m.Topic] = m.Config
	}

	volts, ok := byTopic["homeassistant/sensor/meter1/volts/config"]
	require.True(t, ok)
	assert.Equal(t, "wattstat/sensor/volts/state", volts.StateTopic)
	assert.Equal(t, "voltage", volts.DeviceClass)
	assert.Equal(t, "V", volts.UnitOfMeasurement)
	assert.Equal(t, "meter1_volts", volts.UniqueID)
	assert.Equal(t, "wattstat/bridge/state", volts.AvTopic)

	gain, ok := byTopic["homeassistant/number/meter1/gain_amps1/config"]
	require.True(t, ok)
	assert.Equal(t, "wattstat/number/gain_amps1/set", gain.CommandTopic)
	assert.Equal(t, float64(65535), gain.Max)

	save, ok := byTopic["homeassistant/button/meter1/save_to_flash/config"]
	require.True(t, ok)
	assert.Equal(t, PayloadPress, save.PayloadPress)

	state := byTopic["homeassistant/binary_sensor/meter1/bridge_state/config"]
	assert.Equal(t, PayloadOnline, state.PayloadOn)
}

func TestDiscoveryMessages_ReadOnly(t *testing.T) {
	cfg := testConfig()
	cfg.AllowCommands = false
	c := NewClient(cfg, &fakeBroker{})
	assert.Len(t, c.DiscoveryMessages(), 1+len(sensorSpecs))
}

func TestPublishDiscovery(t *testing.T) {
	c, b := newTestClient()
	require.NoError(t, c.PublishDiscovery())

	p, ok := b.find("homeassistant/sensor/meter1/watts1/config")
	require.True(t, ok)
	assert.True(t, p.retain)

	var cfg map[string]interface{}
	require.NoError(t, json.Unmarshal(p.payload.([]byte), &cfg))
	assert.Equal(t, "power", cfg["device_class"])
	assert.Equal(t, "mqtt", cfg["platform"])
	assert.NotContains(t, cfg, "command_topic")
}

// ============================================================================
// Commands
// ============================================================================

func TestParseCommand(t *testing.T) {
	c, _ := newTestClient()

	tests := []struct {
		name    string
		topic   string
		payload string
		want    *Command
	}{
		{"gain integer", "wattstat/number/gain_volts/set", "33000", &Command{Kind: CommandSetGain, Name: "volts", Register: mcp39f511n.RegGainVolts, Value: 33000}},
		{"gain float", "wattstat/number/gain_amps2/set", "1024.0", &Command{Kind: CommandSetGain, Name: "amps2", Register: mcp39f511n.RegGainAmps2, Value: 1024}},
		{"save", "wattstat/button/save_to_flash/press", "PRESS", &Command{Kind: CommandSaveToFlash}},
		{"unknown gain", "wattstat/number/gain_ohms/set", "1", nil},
		{"not a gain", "wattstat/number/volts/set", "1", nil},
		{"gain too large", "wattstat/number/gain_volts/set", "65536", nil},
		{"negative gain", "wattstat/number/gain_volts/set", "-1", nil},
		{"fractional gain", "wattstat/number/gain_volts/set", "1.5", nil},
		{"garbage gain", "wattstat/number/gain_volts/set", "abc", nil},
		{"unknown button", "wattstat/button/reboot/press", "PRESS", nil},
		{"wrong press payload", "wattstat/button/save_to_flash/press", "on", nil},
		{"state topic", "wattstat/sensor/volts/state", "230.1", nil},
		{"other base", "other/number/gain_volts/set", "1", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := c.ParseCommand(tt.topic, []byte(tt.payload))
			if tt.want == nil {
				assert.ErrorIs(t, err, ErrInvalidCommand)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseMessage(t *testing.T) {
	c, _ := newTestClient()
	cmd, err := c.ParseMessage(fakeMessage{topic: "wattstat/number/gain_frequency/set", payload: []byte("100")})
	require.NoError(t, err)
	assert.Equal(t, mcp39f511n.RegGainFrequency, cmd.Register)
}

func newSimulatedMeter(t *testing.T) (*mcp39f511n.Meter, *mcp39f511n.Simulator) {
	t.Helper()
	sim := mcp39f511n.NewSimulator()
	engine := mcp39f511n.NewEngine(sim,
		mcp39f511n.WithTimeout(40*time.Millisecond),
		mcp39f511n.WithSettle(10*time.Millisecond),
		mcp39f511n.WithPollInterval(5*time.Millisecond))
	m := mcp39f511n.NewMeter(engine)
	require.NoError(t, m.ReadConfig(context.Background()))
	return m, sim
}

func TestExecute_SetGain(t *testing.T) {
	c, b := newTestClient()
	m, sim := newSimulatedMeter(t)

	cmd, err := c.ParseCommand("wattstat/number/gain_watts1/set", []byte("40000"))
	require.NoError(t, err)
	require.NoError(t, c.Execute(context.Background(), m, cmd))

	assert.Equal(t, uint16(40000), sim.Register16(mcp39f511n.RegGainWatts1))
	assert.Equal(t, uint16(40000), m.Calibration().Gains.Watts1)

	p, ok := b.find("wattstat/number/gain_watts1/state")
	require.True(t, ok)
	assert.Equal(t, "40000", p.payload)
}

func TestExecute_SetGainRejected(t *testing.T) {
	c, b := newTestClient()
	m, sim := newSimulatedMeter(t)
	sim.InjectFault(mcp39f511n.FaultNack, 1)

	cmd := &Command{Kind: CommandSetGain, Name: "volts", Register: mcp39f511n.RegGainVolts, Value: 1}
	err := c.Execute(context.Background(), m, cmd)
	assert.ErrorIs(t, err, mcp39f511n.ErrRejected)

	_, ok := b.find("wattstat/number/gain_volts/state")
	assert.False(t, ok)
}

func TestExecute_Save(t *testing.T) {
	c, _ := newTestClient()
	m, sim := newSimulatedMeter(t)

	require.NoError(t, c.Execute(context.Background(), m, &Command{Kind: CommandSaveToFlash}))
	assert.Equal(t, 1, sim.FlashSaves())
}

func TestPublishGains(t *testing.T) {
	c, b := newTestClient()
	m, _ := newSimulatedMeter(t)

	require.NoError(t, c.PublishGains(m.Calibration().Gains))
	p, ok := b.find("wattstat/number/gain_amps1/state")
	require.True(t, ok)
	assert.Equal(t, "32768", p.payload)
	assert.True(t, p.retain)
}
