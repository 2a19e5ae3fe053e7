// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package bridge

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/Thermoquad/wattstat/pkg/mcp39f511n"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

var ErrInvalidCommand = errors.New("invalid command")

// CommandKind identifies what a parsed command does
type CommandKind int

const (
	CommandSetGain CommandKind = iota
	CommandSaveToFlash
)

func (k CommandKind) String() string {
	switch k {
	case CommandSetGain:
		return "set_gain"
	case CommandSaveToFlash:
		return "save_to_flash"
	default:
		return "unknown"
	}
}

// Command is a calibration request received over MQTT
type Command struct {
	Kind     CommandKind
	Name     string
	Register mcp39f511n.Register
	Value    uint16
}

// ParseCommand decodes a message on one of the meter's command topics
func (c *Client) ParseCommand(topic string, payload []byte) (*Command, error) {
	if m := c.numberCommandRegexp.FindStringSubmatch(topic); len(m) == 2 {
		name, ok := strings.CutPrefix(m[1], "gain_")
		if !ok {
			return nil, fmt.Errorf("%w: unknown number %q", ErrInvalidCommand, m[1])
		}
		reg, ok := mcp39f511n.GainRegisterByName(name)
		if !ok {
			return nil, fmt.Errorf("%w: unknown gain %q", ErrInvalidCommand, name)
		}
		// Home Assistant sends numbers as floats
		f, err := strconv.ParseFloat(strings.TrimSpace(string(payload)), 64)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidCommand, err)
		}
		if f < 0 || f > 65535 || f != float64(uint16(f)) {
			return nil, fmt.Errorf("%w: gain %v out of range", ErrInvalidCommand, f)
		}
		return &Command{Kind: CommandSetGain, Name: name, Register: reg, Value: uint16(f)}, nil
	}

	if m := c.buttonCommandRegexp.FindStringSubmatch(topic); len(m) == 2 {
		if m[1] != ButtonSave {
			return nil, fmt.Errorf("%w: unknown button %q", ErrInvalidCommand, m[1])
		}
		if string(payload) != PayloadPress {
			return nil, fmt.Errorf("%w: unexpected payload %q", ErrInvalidCommand, payload)
		}
		return &Command{Kind: CommandSaveToFlash}, nil
	}

	return nil, ErrInvalidCommand
}

// ParseMessage is ParseCommand for a received message
func (c *Client) ParseMessage(msg mqtt.Message) (*Command, error) {
	return c.ParseCommand(msg.Topic(), msg.Payload())
}

// Execute applies cmd to the meter and publishes the resulting gain state
func (c *Client) Execute(ctx context.Context, m *mcp39f511n.Meter, cmd *Command) error {
	switch cmd.Kind {
	case CommandSetGain:
		if err := m.SetGain(ctx, cmd.Register, cmd.Value); err != nil {
			return err
		}
		return c.Publish(c.NumberStateTopic(gainEntityID(cmd.Name)), strconv.FormatUint(uint64(cmd.Value), 10), true)
	case CommandSaveToFlash:
		return m.SaveToFlash(ctx)
	default:
		return fmt.Errorf("%w: kind %d", ErrInvalidCommand, cmd.Kind)
	}
}
