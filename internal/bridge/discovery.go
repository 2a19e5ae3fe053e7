// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package bridge

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Sensor IDs, also the last segment of each sensor state topic
const (
	SensorBridgeState   = "bridge_state"
	SensorVolts         = "volts"
	SensorFrequency     = "frequency"
	SensorPowerFactor1  = "power_factor1"
	SensorPowerFactor2  = "power_factor2"
	SensorAmps1         = "amps1"
	SensorAmps2         = "amps2"
	SensorWatts1        = "watts1"
	SensorWatts2        = "watts2"
	SensorVars1         = "vars1"
	SensorVars2         = "vars2"
	SensorImportEnergy1 = "import_energy1"
	SensorImportEnergy2 = "import_energy2"
	SensorExportEnergy1 = "export_energy1"
	SensorExportEnergy2 = "export_energy2"

	ButtonSave = "save_to_flash"
)

// GainNames lists the gain quantities exposed as number entities
var GainNames = []string{"amps1", "amps2", "volts", "watts1", "watts2", "vars1", "vars2", "frequency"}

func gainEntityID(name string) string {
	return "gain_" + name
}

type HADiscoveryConfig struct {
	Device            HADiscoveryDevice `json:"device"`
	StateTopic        string            `json:"state_topic,omitempty"`
	CommandTopic      string            `json:"command_topic,omitempty"`
	StateClass        string            `json:"state_class,omitempty"`
	DeviceClass       string            `json:"device_class,omitempty"`
	UnitOfMeasurement string            `json:"unit_of_measurement,omitempty"`
	AvTopic           string            `json:"availability_topic,omitempty"`
	EntityCategory    string            `json:"entity_category,omitempty"`
	Name              string            `json:"name"`
	UniqueID          string            `json:"unique_id"`
	Platform          string            `json:"platform"`
	PayloadOn         string            `json:"payload_on,omitempty"`
	PayloadOff        string            `json:"payload_off,omitempty"`
	PayloadPress      string            `json:"payload_press,omitempty"`
	Icon              string            `json:"icon,omitempty"`
	Min               float64           `json:"min,omitempty"`
	Max               float64           `json:"max,omitempty"`
	Step              float64           `json:"step,omitempty"`
	Mode              string            `json:"mode,omitempty"`
}

type HADiscoveryDevice struct {
	ID           []string `json:"identifiers"`
	Manufacturer string   `json:"manufacturer,omitempty"`
	Model        string   `json:"model,omitempty"`
	Name         string   `json:"name,omitempty"`
}

// DiscoveryMessage is one retained config message
type DiscoveryMessage struct {
	Topic  string
	Config HADiscoveryConfig
}

type sensorSpec struct {
	id          string
	name        string
	deviceClass string
	stateClass  string
	unit        string
}

var sensorSpecs = []sensorSpec{
	{SensorVolts, "Voltage", "voltage", "measurement", "V"},
	{SensorFrequency, "Line frequency", "frequency", "measurement", "Hz"},
	{SensorPowerFactor1, "Power factor 1", "power_factor", "measurement", ""},
	{SensorPowerFactor2, "Power factor 2", "power_factor", "measurement", ""},
	{SensorAmps1, "Current 1", "current", "measurement", "A"},
	{SensorAmps2, "Current 2", "current", "measurement", "A"},
	{SensorWatts1, "Active power 1", "power", "measurement", "W"},
	{SensorWatts2, "Active power 2", "power", "measurement", "W"},
	{SensorVars1, "Reactive power 1", "reactive_power", "measurement", "var"},
	{SensorVars2, "Reactive power 2", "reactive_power", "measurement", "var"},
	{SensorImportEnergy1, "Import energy 1", "", "total_increasing", ""},
	{SensorImportEnergy2, "Import energy 2", "", "total_increasing", ""},
	{SensorExportEnergy1, "Export energy 1", "", "total_increasing", ""},
	{SensorExportEnergy2, "Export energy 2", "", "total_increasing", ""},
}

func (c *Client) device() HADiscoveryDevice {
	return HADiscoveryDevice{
		ID:           []string{c.cfg.DeviceID},
		Manufacturer: "Microchip",
		Model:        "MCP39F511N",
		Name:         c.cfg.DeviceID,
	}
}

func (c *Client) discoveryTopic(component, id string) string {
	return fmt.Sprintf("%s/%s/%s/%s/config", c.cfg.HADiscoveryTopic, component, c.cfg.DeviceID, id)
}

func (c *Client) uniqueID(id string) string {
	return fmt.Sprintf("%s_%s", c.cfg.DeviceID, id)
}

// DiscoveryMessages builds the Home Assistant config for every entity.
// Gain numbers and the save button are included only when commands are
// allowed.
func (c *Client) DiscoveryMessages() []DiscoveryMessage {
	dev := c.device()
	msgs := []DiscoveryMessage{{
		Topic: c.discoveryTopic("binary_sensor", SensorBridgeState),
		Config: HADiscoveryConfig{
			Device:         dev,
			StateTopic:     c.BridgeStateTopic(),
			DeviceClass:    "connectivity",
			EntityCategory: "diagnostic",
			Name:           "Bridge state",
			UniqueID:       c.uniqueID(SensorBridgeState),
			Platform:       "mqtt",
			PayloadOn:      PayloadOnline,
			PayloadOff:     PayloadOffline,
		},
	}}

	for _, s := range sensorSpecs {
		msgs = append(msgs, DiscoveryMessage{
			Topic: c.discoveryTopic("sensor", s.id),
			Config: HADiscoveryConfig{
				Device:            dev,
				StateTopic:        c.SensorStateTopic(s.id),
				StateClass:        s.stateClass,
				DeviceClass:       s.deviceClass,
				UnitOfMeasurement: s.unit,
				AvTopic:           c.BridgeStateTopic(),
				Name:              s.name,
				UniqueID:          c.uniqueID(s.id),
				Platform:          "mqtt",
			},
		})
	}

	if !c.cfg.AllowCommands {
		return msgs
	}

	for _, name := range GainNames {
		id := gainEntityID(name)
		msgs = append(msgs, DiscoveryMessage{
			Topic: c.discoveryTopic("number", id),
			Config: HADiscoveryConfig{
				Device:         dev,
				StateTopic:     c.NumberStateTopic(id),
				CommandTopic:   c.NumberCommandTopic(id),
				AvTopic:        c.BridgeStateTopic(),
				EntityCategory: "config",
				Name:           fmt.Sprintf("Gain %s", name),
				UniqueID:       c.uniqueID(id),
				Platform:       "mqtt",
				Icon:           "mdi:tune",
				Max:            65535,
				Step:           1,
				Mode:           "box",
			},
		})
	}

	msgs = append(msgs, DiscoveryMessage{
		Topic: c.discoveryTopic("button", ButtonSave),
		Config: HADiscoveryConfig{
			Device:         dev,
			CommandTopic:   c.ButtonCommandTopic(ButtonSave),
			AvTopic:        c.BridgeStateTopic(),
			EntityCategory: "config",
			Name:           "Save calibration to flash",
			UniqueID:       c.uniqueID(ButtonSave),
			Platform:       "mqtt",
			PayloadPress:   PayloadPress,
			Icon:           "mdi:content-save",
		},
	})
	return msgs
}

// PublishDiscovery publishes every discovery config as a retained message
func (c *Client) PublishDiscovery() error {
	var errs []error
	for _, m := range c.DiscoveryMessages() {
		payload, err := json.Marshal(m.Config)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if err := c.Publish(m.Topic, payload, true); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", m.Topic, err))
		}
	}
	return errors.Join(errs...)
}
