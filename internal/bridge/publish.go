// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package bridge

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/Thermoquad/wattstat/pkg/mcp39f511n"
)

// Reading payload formats
const (
	FormatJSON  = "json"
	FormatCBOR  = "cbor"
	FormatPlain = "plain"
)

// SensorState is one published quantity
type SensorState struct {
	ID    string
	Value string
}

// SensorStates formats every quantity of r with the given precision
func SensorStates(r mcp39f511n.Reading, p mcp39f511n.Precision) []SensorState {
	f := func(v float64, digits int) string {
		return strconv.FormatFloat(v, 'f', digits, 64)
	}
	u := func(v uint64) string {
		return strconv.FormatUint(v, 10)
	}
	return []SensorState{
		{SensorVolts, f(r.Volts, p.Volts)},
		{SensorFrequency, f(r.Frequency, 3)},
		{SensorPowerFactor1, f(r.PowerFactor1, 3)},
		{SensorPowerFactor2, f(r.PowerFactor2, 3)},
		{SensorAmps1, f(r.Amps1, p.Amps1)},
		{SensorAmps2, f(r.Amps2, p.Amps2)},
		{SensorWatts1, f(r.Watts1, p.Power1)},
		{SensorWatts2, f(r.Watts2, p.Power2)},
		{SensorVars1, f(r.Vars1, p.Power1)},
		{SensorVars2, f(r.Vars2, p.Power2)},
		{SensorImportEnergy1, u(r.ImportEnergy1)},
		{SensorImportEnergy2, u(r.ImportEnergy2)},
		{SensorExportEnergy1, u(r.ExportEnergy1)},
		{SensorExportEnergy2, u(r.ExportEnergy2)},
	}
}

// EncodeReading renders r in the configured document format. Plain has no
// document form and returns nil.
func EncodeReading(r mcp39f511n.Reading, format string) ([]byte, error) {
	switch format {
	case FormatJSON:
		return json.Marshal(r)
	case FormatCBOR:
		return r.MarshalCBOR()
	case FormatPlain:
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown reading format %q", format)
	}
}

// PublishReading publishes each quantity to its sensor state topic and,
// unless the format is plain, the whole reading to the reading topic
func (c *Client) PublishReading(r mcp39f511n.Reading, p mcp39f511n.Precision) error {
	var errs []error
	for _, s := range SensorStates(r, p) {
		if err := c.Publish(c.SensorStateTopic(s.ID), s.Value, false); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", s.ID, err))
		}
	}

	doc, err := EncodeReading(r, c.cfg.Format)
	if err != nil {
		return errors.Join(append(errs, err)...)
	}
	if doc != nil {
		if err := c.Publish(c.ReadingTopic(), doc, false); err != nil {
			errs = append(errs, fmt.Errorf("reading: %w", err))
		}
	}
	return errors.Join(errs...)
}

// PublishGains publishes the cached gains to their number state topics
func (c *Client) PublishGains(g mcp39f511n.Gains) error {
	var errs []error
	for _, name := range GainNames {
		reg, _ := mcp39f511n.GainRegisterByName(name)
		v, _ := g.Gain(reg)
		if err := c.Publish(c.NumberStateTopic(gainEntityID(name)), strconv.FormatUint(uint64(v), 10), true); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
