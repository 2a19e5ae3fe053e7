// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package bridge publishes meter readings to an MQTT broker and accepts
// calibration commands from it.
package bridge

import (
	"fmt"
	"math/rand"
	"regexp"
	"time"

	"github.com/Thermoquad/wattstat/internal/config"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

const (
	PayloadOnline  = "online"
	PayloadOffline = "offline"
	PayloadPress   = "PRESS"

	DefaultTimeout = 5 * time.Second
)

// Broker is the subset of mqtt.Client the bridge uses
type Broker interface {
	Connect() mqtt.Token
	Disconnect(quiesce uint)
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Subscribe(topic string, qos byte, callback mqtt.MessageHandler) mqtt.Token
}

// OptsFromConfig builds client options with a retained offline will on the
// bridge state topic
func OptsFromConfig(cfg config.MQTTConfig) *mqtt.ClientOptions {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s:%d", cfg.Host, cfg.Port))
	clientID := cfg.ClientID
	if clientID == "" {
		clientID = fmt.Sprintf("wattstat_%d", rand.Intn(1000))
	}
	opts.SetClientID(clientID)
	if cfg.Username != "" && cfg.Password != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.SetAutoReconnect(true)
	opts.WillEnabled = true
	opts.WillPayload = []byte(PayloadOffline)
	opts.WillRetained = true
	opts.WillTopic = bridgeStateTopic(cfg.BaseTopic)
	opts.WillQos = 0

	return opts
}

// Client wraps a broker connection with the topic layout of one meter
type Client struct {
	broker  Broker
	cfg     config.MQTTConfig
	timeout time.Duration

	numberCommandRegexp *regexp.Regexp
	buttonCommandRegexp *regexp.Regexp
}

// NewClient wraps broker. Use mqtt.NewClient(OptsFromConfig(cfg)) for a
// real connection.
func NewClient(cfg config.MQTTConfig, broker Broker) *Client {
	return &Client{
		broker:              broker,
		cfg:                 cfg,
		timeout:             DefaultTimeout,
		numberCommandRegexp: numberCommandExtractor(cfg.BaseTopic),
		buttonCommandRegexp: buttonCommandExtractor(cfg.BaseTopic),
	}
}

// SetTimeout bounds every broker round trip
func (c *Client) SetTimeout(d time.Duration) {
	c.timeout = d
}

func (c *Client) baseTopic() string {
	return c.cfg.BaseTopic
}

func (c *Client) BridgeStateTopic() string {
	return bridgeStateTopic(c.baseTopic())
}

func (c *Client) SensorStateTopic(sensorID string) string {
	return fmt.Sprintf("%s/sensor/%s/state", c.baseTopic(), sensorID)
}

func (c *Client) NumberStateTopic(id string) string {
	return fmt.Sprintf("%s/number/%s/state", c.baseTopic(), id)
}

func (c *Client) NumberCommandTopic(id string) string {
	return fmt.Sprintf("%s/number/%s/set", c.baseTopic(), id)
}

func (c *Client) ButtonCommandTopic(id string) string {
	return fmt.Sprintf("%s/button/%s/press", c.baseTopic(), id)
}

// ReadingTopic carries the whole reading as one JSON or CBOR document
func (c *Client) ReadingTopic() string {
	return fmt.Sprintf("%s/reading", c.baseTopic())
}

func (c *Client) commandTopics() []string {
	return []string{
		c.NumberCommandTopic("+"),
		c.ButtonCommandTopic("+"),
	}
}

func (c *Client) wait(token mqtt.Token, op string) error {
	if !token.WaitTimeout(c.timeout) {
		return fmt.Errorf("MQTT %s timed out", op)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("MQTT %s failed: %w", op, err)
	}
	return nil
}

// Connect connects and announces the bridge as online
func (c *Client) Connect() error {
	if err := c.wait(c.broker.Connect(), "connect"); err != nil {
		return err
	}
	return c.Publish(c.BridgeStateTopic(), PayloadOnline, true)
}

// Disconnect marks the bridge offline and closes the connection
func (c *Client) Disconnect() {
	_ = c.Publish(c.BridgeStateTopic(), PayloadOffline, true)
	c.broker.Disconnect(uint(c.timeout.Milliseconds()))
}

// Publish sends payload and waits for the broker to accept it
func (c *Client) Publish(topic string, payload any, retain bool) error {
	return c.wait(c.broker.Publish(topic, 0, retain, payload), "publish")
}

// Subscribe registers handler for topic
func (c *Client) Subscribe(topic string, handler mqtt.MessageHandler) error {
	return c.wait(c.broker.Subscribe(topic, 1, handler), "subscribe")
}

// SubscribeToCommands registers handler for every command topic of this
// meter
func (c *Client) SubscribeToCommands(handler mqtt.MessageHandler) error {
	for _, topic := range c.commandTopics() {
		if err := c.Subscribe(topic, handler); err != nil {
			return err
		}
	}
	return nil
}

func numberCommandExtractor(baseTopic string) *regexp.Regexp {
	return regexp.MustCompile(fmt.Sprintf("^%s/number/([a-zA-Z0-9_]+)/set$", regexp.QuoteMeta(baseTopic)))
}

func buttonCommandExtractor(baseTopic string) *regexp.Regexp {
	return regexp.MustCompile(fmt.Sprintf("^%s/button/([a-zA-Z0-9_]+)/press$", regexp.QuoteMeta(baseTopic)))
}

func bridgeStateTopic(baseTopic string) string {
	return fmt.Sprintf("%s/bridge/state", baseTopic)
}
