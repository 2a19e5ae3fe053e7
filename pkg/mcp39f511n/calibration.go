// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package mcp39f511n

// Gains holds the per-quantity calibration gains
type Gains struct {
	Amps1     uint16 `json:"amps1" cbor:"1,keyasint"`
	Amps2     uint16 `json:"amps2" cbor:"2,keyasint"`
	Volts     uint16 `json:"volts" cbor:"3,keyasint"`
	Watts1    uint16 `json:"watts1" cbor:"4,keyasint"`
	Watts2    uint16 `json:"watts2" cbor:"5,keyasint"`
	Vars1     uint16 `json:"vars1" cbor:"6,keyasint"`
	Vars2     uint16 `json:"vars2" cbor:"7,keyasint"`
	Frequency uint16 `json:"frequency" cbor:"8,keyasint"`
}

// Range holds the range codes of one channel. Channel 2 has no voltage
// range of its own; its Volt byte is carried through unchanged.
type Range struct {
	Volt  uint8 `json:"volt" cbor:"1,keyasint"`
	Amp   uint8 `json:"amp" cbor:"2,keyasint"`
	Power uint8 `json:"power" cbor:"3,keyasint"`
}

func (r Range) bytes() []byte {
	return []byte{r.Volt, r.Amp, r.Power, 0x00}
}

// Precision is the number of decimal digits in each raw quantity
type Precision struct {
	Volts  int `json:"volts"`
	Amps1  int `json:"amps1"`
	Power1 int `json:"power1"`
	Amps2  int `json:"amps2"`
	Power2 int `json:"power2"`
}

// DefaultPrecision returns the chip's factory output precision
func DefaultPrecision() Precision {
	return Precision{
		Volts:  DefaultVoltsPrecision,
		Amps1:  DefaultAmpsPrecision,
		Power1: DefaultPowerPrecision,
		Amps2:  DefaultAmpsPrecision,
		Power2: DefaultPowerPrecision,
	}
}

// Calibration is the configuration state read from or written to the chip
type Calibration struct {
	Gains          Gains     `json:"gains" cbor:"1,keyasint"`
	Range1         Range     `json:"range1" cbor:"2,keyasint"`
	Range2         Range     `json:"range2" cbor:"3,keyasint"`
	DivisorDigits1 uint16    `json:"divisor_digits1" cbor:"4,keyasint"`
	DivisorDigits2 uint16    `json:"divisor_digits2" cbor:"5,keyasint"`
	Precision      Precision `json:"precision" cbor:"-"`
}

// GainRegisters lists every writable gain register in register order
var GainRegisters = []Register{
	RegGainAmps1,
	RegGainAmps2,
	RegGainVolts,
	RegGainWatts1,
	RegGainWatts2,
	RegGainVars1,
	RegGainVars2,
	RegGainFrequency,
}

// gainField returns the cached gain backing reg, or nil for a register
// that is not a gain register
func (g *Gains) gainField(reg Register) *uint16 {
	switch reg {
	case RegGainAmps1:
		return &g.Amps1
	case RegGainAmps2:
		return &g.Amps2
	case RegGainVolts:
		return &g.Volts
	case RegGainWatts1:
		return &g.Watts1
	case RegGainWatts2:
		return &g.Watts2
	case RegGainVars1:
		return &g.Vars1
	case RegGainVars2:
		return &g.Vars2
	case RegGainFrequency:
		return &g.Frequency
	default:
		return nil
	}
}

// Gain returns the cached gain for reg
func (g Gains) Gain(reg Register) (uint16, bool) {
	p := g.gainField(reg)
	if p == nil {
		return 0, false
	}
	return *p, true
}

// GainRegisterByName maps a quantity name (as used on the command line
// and MQTT) to its gain register
func GainRegisterByName(name string) (Register, bool) {
	switch name {
	case "amps1":
		return RegGainAmps1, true
	case "amps2":
		return RegGainAmps2, true
	case "volts":
		return RegGainVolts, true
	case "watts1":
		return RegGainWatts1, true
	case "watts2":
		return RegGainWatts2, true
	case "vars1":
		return RegGainVars1, true
	case "vars2":
		return RegGainVars2, true
	case "frequency":
		return RegGainFrequency, true
	default:
		return 0, false
	}
}
