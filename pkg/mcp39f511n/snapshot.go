// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package mcp39f511n

import (
	"math"
	"time"
)

// Snapshot holds the raw register values of the last successful poll
type Snapshot struct {
	SystemStatus  uint16
	Volts         uint16
	Frequency     uint16
	PowerFactor1  uint16
	PowerFactor2  uint16
	Amps1         uint32
	Amps2         uint32
	Watts1        uint32
	Watts2        uint32
	Vars1         uint32
	Vars2         uint32
	ImportEnergy1 uint64
	ImportEnergy2 uint64
	ExportEnergy1 uint64
	ExportEnergy2 uint64
	MeasuredAt    time.Time

	// Valid is false until the first successful poll
	Valid bool
}

// decodeMeasurements fills the measurement fields from the 32-byte block
// starting at RegVolts
func (s *Snapshot) decodeMeasurements(r Reply) {
	s.Volts = r.Uint16(0)
	s.Frequency = r.Uint16(2)
	s.PowerFactor1 = r.Uint16(4)
	s.PowerFactor2 = r.Uint16(6)
	s.Amps1 = r.Uint32(8)
	s.Amps2 = r.Uint32(12)
	s.Watts1 = r.Uint32(16)
	s.Watts2 = r.Uint32(20)
	s.Vars1 = r.Uint32(24)
	s.Vars2 = r.Uint32(28)
}

// decodeEnergy fills the energy counters from the 32-byte block starting
// at RegImportActiveEnergy1
func (s *Snapshot) decodeEnergy(r Reply) {
	s.ImportEnergy1 = r.Uint64(0)
	s.ImportEnergy2 = r.Uint64(8)
	s.ExportEnergy1 = r.Uint64(16)
	s.ExportEnergy2 = r.Uint64(24)
}

// sign returns -1 when bit is set in the status register, +1 otherwise
func (s *Snapshot) sign(bit uint16) float64 {
	if s.SystemStatus&bit != 0 {
		return -1
	}
	return 1
}

func scale(raw float64, precision int) float64 {
	return raw / math.Pow(10, float64(precision))
}

// powerFactor converts a signed Q15 register value
func powerFactor(raw uint16) float64 {
	return float64(int16(raw)) / 32768.0
}

// Reading is a snapshot converted to physical units
type Reading struct {
	Timestamp     time.Time `json:"timestamp" cbor:"1,keyasint"`
	Volts         float64   `json:"volts" cbor:"2,keyasint"`
	Frequency     float64   `json:"frequency" cbor:"3,keyasint"`
	PowerFactor1  float64   `json:"power_factor1" cbor:"4,keyasint"`
	PowerFactor2  float64   `json:"power_factor2" cbor:"5,keyasint"`
	Amps1         float64   `json:"amps1" cbor:"6,keyasint"`
	Amps2         float64   `json:"amps2" cbor:"7,keyasint"`
	Watts1        float64   `json:"watts1" cbor:"8,keyasint"`
	Watts2        float64   `json:"watts2" cbor:"9,keyasint"`
	Vars1         float64   `json:"vars1" cbor:"10,keyasint"`
	Vars2         float64   `json:"vars2" cbor:"11,keyasint"`
	ImportEnergy1 uint64    `json:"import_energy1" cbor:"12,keyasint"`
	ImportEnergy2 uint64    `json:"import_energy2" cbor:"13,keyasint"`
	ExportEnergy1 uint64    `json:"export_energy1" cbor:"14,keyasint"`
	ExportEnergy2 uint64    `json:"export_energy2" cbor:"15,keyasint"`
	SystemStatus  uint16    `json:"system_status" cbor:"16,keyasint"`
}

// reading converts s using precision p
func (s *Snapshot) reading(p Precision) Reading {
	return Reading{
		Timestamp:     s.MeasuredAt,
		Volts:         scale(float64(s.Volts), p.Volts),
		Frequency:     float64(s.Frequency) / FrequencyDivisor,
		PowerFactor1:  powerFactor(s.PowerFactor1),
		PowerFactor2:  powerFactor(s.PowerFactor2),
		Amps1:         scale(float64(s.Amps1), p.Amps1) * s.sign(SignPACh1),
		Amps2:         scale(float64(s.Amps2), p.Amps2) * s.sign(SignPACh2),
		Watts1:        scale(float64(s.Watts1), p.Power1) * s.sign(SignPACh1),
		Watts2:        scale(float64(s.Watts2), p.Power2) * s.sign(SignPACh2),
		Vars1:         scale(float64(s.Vars1), p.Power1) * s.sign(SignPRCh1),
		Vars2:         scale(float64(s.Vars2), p.Power2) * s.sign(SignPRCh2),
		ImportEnergy1: s.ImportEnergy1,
		ImportEnergy2: s.ImportEnergy2,
		ExportEnergy1: s.ExportEnergy1,
		ExportEnergy2: s.ExportEnergy2,
		SystemStatus:  s.SystemStatus,
	}
}
