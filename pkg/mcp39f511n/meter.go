// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package mcp39f511n

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// Meter is the metering model: cached calibration, the last decoded
// registers and the physical-unit getters derived from them.
//
// All methods are safe for concurrent use. A single mutex covers the
// whole register surface because the chip's address pointer is shared
// device state.
type Meter struct {
	mu     sync.Mutex
	engine *Engine
	cal    Calibration
	snap   Snapshot
	logger *zap.Logger
}

// NewMeter creates a metering model driven by engine
func NewMeter(engine *Engine) *Meter {
	return &Meter{
		engine: engine,
		cal:    Calibration{Precision: DefaultPrecision()},
		logger: engine.Logger(),
	}
}

// Engine returns the underlying transaction engine
func (m *Meter) Engine() *Engine {
	return m.engine
}

// ReadConfig loads range, divisor and gain registers.
// It stops at the first failure; blocks read before it stay applied.
func (m *Meter) ReadConfig(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, err := m.engine.ReadRegisters(ctx, RegRange1, rangeBlockSize)
	if err != nil {
		return fmt.Errorf("failed to read range 1: %w", err)
	}
	v := r.Uint32(0)
	m.cal.Range1 = Range{
		Volt:  ExtractByte(v, 0),
		Amp:   ExtractByte(v, 1),
		Power: ExtractByte(v, 2),
	}

	r, err = m.engine.ReadRegisters(ctx, RegRange2, rangeBlockSize)
	if err != nil {
		return fmt.Errorf("failed to read range 2: %w", err)
	}
	v = r.Uint32(0)
	m.cal.Range2 = Range{
		Volt:  ExtractByte(v, 0),
		Amp:   ExtractByte(v, 1),
		Power: ExtractByte(v, 2),
	}

	r, err = m.engine.ReadRegisters(ctx, RegDivisorDigits1, divisorBlockSize)
	if err != nil {
		return fmt.Errorf("failed to read divisor digits: %w", err)
	}
	m.cal.DivisorDigits1 = r.Uint16(0)
	m.cal.DivisorDigits2 = r.Uint16(2)

	r, err = m.engine.ReadRegisters(ctx, RegGainAmps1, gainBlockSize)
	if err != nil {
		return fmt.Errorf("failed to read gains: %w", err)
	}
	m.cal.Gains = Gains{
		Amps1:     r.Uint16(0),
		Amps2:     r.Uint16(2),
		Volts:     r.Uint16(4),
		Watts1:    r.Uint16(6),
		Watts2:    r.Uint16(8),
		Vars1:     r.Uint16(10),
		Vars2:     r.Uint16(12),
		Frequency: r.Uint16(14),
	}

	m.logger.Debug("configuration loaded",
		zap.Uint16("gain_volts", m.cal.Gains.Volts),
		zap.Uint8("range1_volt", m.cal.Range1.Volt),
		zap.Uint16("divisor1", m.cal.DivisorDigits1))
	return nil
}

// ReadPower runs one poll cycle: status, measurements, energy.
// Any failure aborts the rest of the cycle and leaves the cached snapshot
// untouched; the three blocks are committed together.
func (m *Meter) ReadPower(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	status, err := m.engine.ReadRegisters(ctx, RegSystemStatus, statusBlockSize)
	if err != nil {
		return fmt.Errorf("failed to read system status: %w", err)
	}

	measurements, err := m.engine.ReadRegisters(ctx, RegVolts, measurementBlockSize)
	if err != nil {
		return fmt.Errorf("failed to read measurements: %w", err)
	}

	energy, err := m.engine.ReadRegisters(ctx, RegImportActiveEnergy1, energyBlockSize)
	if err != nil {
		return fmt.Errorf("failed to read energy counters: %w", err)
	}

	next := m.snap
	next.SystemStatus = status.Uint16(0)
	next.decodeMeasurements(measurements)
	next.decodeEnergy(energy)
	next.MeasuredAt = m.engine.now()
	next.Valid = true
	m.snap = next

	return nil
}

// SetGain writes a gain register. The cached gain changes only after the
// device acknowledged the write.
func (m *Meter) SetGain(ctx context.Context, reg Register, gain uint16) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	field := m.cal.Gains.gainField(reg)
	if field == nil {
		m.logger.Debug("rejected gain write", zap.Stringer("register", reg))
		return fmt.Errorf("register 0x%04X: %w", uint16(reg), ErrUnknownGainRegister)
	}

	data := []byte{byte(gain), byte(gain >> 8)}
	if err := m.engine.WriteRegisters(ctx, reg, data); err != nil {
		return fmt.Errorf("failed to write %s: %w", reg, err)
	}
	*field = gain
	return nil
}

// SetRange writes the range register of channel 1 or 2
func (m *Meter) SetRange(ctx context.Context, channel int, r Range) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var reg Register
	var field *Range
	switch channel {
	case 1:
		reg, field = RegRange1, &m.cal.Range1
	case 2:
		reg, field = RegRange2, &m.cal.Range2
	default:
		return fmt.Errorf("channel %d: %w", channel, ErrInvalidChannel)
	}

	if err := m.engine.WriteRegisters(ctx, reg, r.bytes()); err != nil {
		return fmt.Errorf("failed to write %s: %w", reg, err)
	}
	*field = r
	return nil
}

// SaveToFlash persists the chip's calibration registers
func (m *Meter) SaveToFlash(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.engine.SaveToFlash(ctx); err != nil {
		return fmt.Errorf("failed to save to flash: %w", err)
	}
	return nil
}

// ReadEEPROMPage returns the 16 data bytes of an EEPROM page
func (m *Meter) ReadEEPROMPage(ctx context.Context, page uint8) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, err := m.engine.ReadEEPROMPage(ctx, page)
	if err != nil {
		return nil, fmt.Errorf("failed to read EEPROM page %d: %w", page, err)
	}
	return append([]byte(nil), r.Data()...), nil
}

// ReadRaw reads n bytes of arbitrary registers under the meter lock
func (m *Meter) ReadRaw(ctx context.Context, reg Register, n int) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, err := m.engine.ReadRegisters(ctx, reg, n)
	if err != nil {
		return nil, err
	}
	return append([]byte(nil), r.Data()...), nil
}

// WriteRaw writes arbitrary registers under the meter lock
func (m *Meter) WriteRaw(ctx context.Context, reg Register, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.engine.WriteRegisters(ctx, reg, data)
}

// SetPrecisionVolts sets the decimal places applied to the voltage register
func (m *Meter) SetPrecisionVolts(digits int) { m.setPrecision(&m.cal.Precision.Volts, digits) }

// SetPrecisionAmps1 sets the decimal places applied to the channel 1 current
func (m *Meter) SetPrecisionAmps1(digits int) { m.setPrecision(&m.cal.Precision.Amps1, digits) }

// SetPrecisionPower1 sets the decimal places applied to channel 1 active and reactive power
func (m *Meter) SetPrecisionPower1(digits int) { m.setPrecision(&m.cal.Precision.Power1, digits) }

// SetPrecisionAmps2 sets the decimal places applied to the channel 2 current
func (m *Meter) SetPrecisionAmps2(digits int) { m.setPrecision(&m.cal.Precision.Amps2, digits) }

// SetPrecisionPower2 sets the decimal places applied to channel 2 active and reactive power
func (m *Meter) SetPrecisionPower2(digits int) { m.setPrecision(&m.cal.Precision.Power2, digits) }

func (m *Meter) setPrecision(field *int, digits int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	*field = digits
}

// Calibration returns a copy of the cached calibration
func (m *Meter) Calibration() Calibration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cal
}

// Snapshot returns a copy of the last decoded registers
func (m *Meter) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snap
}

// Reading returns the last snapshot in physical units
func (m *Meter) Reading() Reading {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snap.reading(m.cal.Precision)
}

// Volts returns the line voltage from the last poll
func (m *Meter) Volts() float64 { return m.Reading().Volts }

// Frequency returns the line frequency in Hz from the last poll
func (m *Meter) Frequency() float64 { return m.Reading().Frequency }

// Amps1 returns the channel 1 RMS current
func (m *Meter) Amps1() float64 { return m.Reading().Amps1 }

// Amps2 returns the channel 2 RMS current
func (m *Meter) Amps2() float64 { return m.Reading().Amps2 }

// Watts1 returns the signed channel 1 active power
func (m *Meter) Watts1() float64 { return m.Reading().Watts1 }

// Watts2 returns the signed channel 2 active power
func (m *Meter) Watts2() float64 { return m.Reading().Watts2 }

// Vars1 returns the signed channel 1 reactive power
func (m *Meter) Vars1() float64 { return m.Reading().Vars1 }

// Vars2 returns the signed channel 2 reactive power
func (m *Meter) Vars2() float64 { return m.Reading().Vars2 }

// PowerFactor1 returns the channel 1 power factor
func (m *Meter) PowerFactor1() float64 { return m.Reading().PowerFactor1 }

// PowerFactor2 returns the channel 2 power factor
func (m *Meter) PowerFactor2() float64 { return m.Reading().PowerFactor2 }

// ImportEnergy1 returns the raw channel 1 import energy counter
func (m *Meter) ImportEnergy1() uint64 { return m.Snapshot().ImportEnergy1 }

// ImportEnergy2 returns the raw channel 2 import energy counter
func (m *Meter) ImportEnergy2() uint64 { return m.Snapshot().ImportEnergy2 }

// ExportEnergy1 returns the raw channel 1 export energy counter
func (m *Meter) ExportEnergy1() uint64 { return m.Snapshot().ExportEnergy1 }

// ExportEnergy2 returns the raw channel 2 export energy counter
func (m *Meter) ExportEnergy2() uint64 { return m.Snapshot().ExportEnergy2 }
