// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package mcp39f511n implements a driver for the Microchip MCP39F511N
// dual-channel power monitor.
//
// The chip speaks a small framed request/response protocol over a UART.
// This package builds and checksums request frames, runs one bounded
// request/response transaction at a time, and decodes register contents
// into calibrated electrical quantities.
package mcp39f511n

import "time"

// Protocol framing bytes
const (
	HeaderByte = 0xA5
	AckByte    = 0x06
	NackByte   = 0x15
	CSFailByte = 0x51

	// DeviceIDByte is the identity byte the chip echoes after a NACK.
	DeviceIDByte = 0x39
)

// Buffer limits
const (
	// BufferSize is the capacity of the response buffer:
	// ACK + count + 32 data bytes + checksum.
	BufferSize = 35

	// MaxReadSize is the largest register block that fits a reply.
	MaxReadSize = BufferSize - 3

	// DataOffset is where register data starts in an ACK reply.
	DataOffset = 2
)

// Transaction timing defaults
const (
	DefaultTimeout      = 100 * time.Millisecond
	DefaultSettle       = 20 * time.Millisecond
	DefaultPollInterval = 20 * time.Millisecond

	// FrequencyDivisor scales the raw line frequency register to hertz.
	FrequencyDivisor = 1000.0
)

// Default output precision (decimal digits) per quantity
const (
	DefaultVoltsPrecision  = 1
	DefaultAmpsPrecision   = 3
	DefaultPowerPrecision  = 3
	DefaultEEPROMPageBytes = 16
)

// Command is a single instruction inside a request frame.
type Command uint8

const (
	CmdSetAddressPointer Command = 0x41
	CmdReadEEPROM        Command = 0x42
	CmdRegisterWrite     Command = 0x4D
	CmdRegisterRead      Command = 0x4E
	CmdSaveToFlash       Command = 0x53
)

// ReturnsData reports whether an ACK reply to the command carries a
// count byte, data and a checksum.
func (c Command) ReturnsData() bool {
	switch c {
	case CmdRegisterRead, CmdReadEEPROM:
		return true
	default:
		return false
	}
}

func (c Command) String() string {
	switch c {
	case CmdSetAddressPointer:
		return "SET_ADDRESS_POINTER"
	case CmdReadEEPROM:
		return "READ_EEPROM"
	case CmdRegisterWrite:
		return "REGISTER_WRITE"
	case CmdRegisterRead:
		return "REGISTER_READ"
	case CmdSaveToFlash:
		return "SAVE_TO_FLASH"
	default:
		return "UNKNOWN"
	}
}

// Register is a 16-bit offset into the chip's register space.
type Register uint16

// Output registers
const (
	RegInstructionPointer  Register = 0x0000
	RegSystemStatus        Register = 0x0002
	RegSystemVersion       Register = 0x0004
	RegVolts               Register = 0x0006
	RegLineFrequency       Register = 0x0008
	RegPowerFactor1        Register = 0x000A
	RegPowerFactor2        Register = 0x000C
	RegCurrentRMS1         Register = 0x000E
	RegCurrentRMS2         Register = 0x0012
	RegActivePower1        Register = 0x0016
	RegActivePower2        Register = 0x001A
	RegReactivePower1      Register = 0x001E
	RegReactivePower2      Register = 0x0022
	RegApparentPower1      Register = 0x0026
	RegApparentPower2      Register = 0x002A
	RegImportActiveEnergy1 Register = 0x002E
	RegImportActiveEnergy2 Register = 0x0036
	RegExportActiveEnergy1 Register = 0x003E
	RegExportActiveEnergy2 Register = 0x0046
)

// Calibration registers
const (
	RegCalibrationDelimiter Register = 0x0082
	RegGainAmps1            Register = 0x0084
	RegGainAmps2            Register = 0x0086
	RegGainVolts            Register = 0x0088
	RegGainWatts1           Register = 0x008A
	RegGainWatts2           Register = 0x008C
	RegGainVars1            Register = 0x008E
	RegGainVars2            Register = 0x0090
	RegGainFrequency        Register = 0x0092
)

// Design configuration registers
const (
	RegRange1         Register = 0x00B0
	RegRange2         Register = 0x00B4
	RegDivisorDigits1 Register = 0x00BE
	RegDivisorDigits2 Register = 0x00C0
)

// Block sizes read during a poll or configuration cycle
const (
	rangeBlockSize       = 4
	divisorBlockSize     = 4
	gainBlockSize        = 16
	statusBlockSize      = 2
	measurementBlockSize = 32
	energyBlockSize      = 32
)

func (r Register) String() string {
	switch r {
	case RegInstructionPointer:
		return "INSTRUCTION_POINTER"
	case RegSystemStatus:
		return "SYSTEM_STATUS"
	case RegSystemVersion:
		return "SYSTEM_VERSION"
	case RegVolts:
		return "VOLTS"
	case RegLineFrequency:
		return "LINE_FREQUENCY"
	case RegPowerFactor1:
		return "POWER_FACTOR_1"
	case RegPowerFactor2:
		return "POWER_FACTOR_2"
	case RegCurrentRMS1:
		return "CURRENT_RMS_1"
	case RegCurrentRMS2:
		return "CURRENT_RMS_2"
	case RegActivePower1:
		return "ACTIVE_POWER_1"
	case RegActivePower2:
		return "ACTIVE_POWER_2"
	case RegReactivePower1:
		return "REACTIVE_POWER_1"
	case RegReactivePower2:
		return "REACTIVE_POWER_2"
	case RegApparentPower1:
		return "APPARENT_POWER_1"
	case RegApparentPower2:
		return "APPARENT_POWER_2"
	case RegImportActiveEnergy1:
		return "IMPORT_ACTIVE_ENERGY_1"
	case RegImportActiveEnergy2:
		return "IMPORT_ACTIVE_ENERGY_2"
	case RegExportActiveEnergy1:
		return "EXPORT_ACTIVE_ENERGY_1"
	case RegExportActiveEnergy2:
		return "EXPORT_ACTIVE_ENERGY_2"
	case RegCalibrationDelimiter:
		return "CALIBRATION_DELIMITER"
	case RegGainAmps1:
		return "GAIN_AMPS_1"
	case RegGainAmps2:
		return "GAIN_AMPS_2"
	case RegGainVolts:
		return "GAIN_VOLTS"
	case RegGainWatts1:
		return "GAIN_WATTS_1"
	case RegGainWatts2:
		return "GAIN_WATTS_2"
	case RegGainVars1:
		return "GAIN_VARS_1"
	case RegGainVars2:
		return "GAIN_VARS_2"
	case RegGainFrequency:
		return "GAIN_FREQUENCY"
	case RegRange1:
		return "RANGE_1"
	case RegRange2:
		return "RANGE_2"
	case RegDivisorDigits1:
		return "DIVISOR_DIGITS_1"
	case RegDivisorDigits2:
		return "DIVISOR_DIGITS_2"
	default:
		return "UNKNOWN"
	}
}

// System status register sign bits. A set bit means the quantity is
// negative.
const (
	SignPACh1 uint16 = 0x0010
	SignPRCh1 uint16 = 0x0020
	SignPACh2 uint16 = 0x0040
	SignPRCh2 uint16 = 0x0080
)
