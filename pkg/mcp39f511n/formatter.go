// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package mcp39f511n

import (
	"fmt"
	"strings"
)

// FormatHex formats bytes as a hex dump, 16 bytes per line
func FormatHex(prefix string, data []byte) string {
	var b strings.Builder
	b.WriteString(prefix)
	indent := strings.Repeat(" ", len(prefix))
	for i, v := range data {
		if i > 0 && i%16 == 0 {
			b.WriteString("\n")
			b.WriteString(indent)
		}
		fmt.Fprintf(&b, "%02X ", v)
	}
	b.WriteString("\n")
	return b.String()
}

// FormatRequest formats a request frame into a human-readable string
func FormatRequest(frame []byte) string {
	req, err := ParseRequest(frame)
	if err != nil {
		return fmt.Sprintf("INVALID REQUEST: %v\n", err) + FormatHex("  Frame: ", frame)
	}

	result := fmt.Sprintf("%s addr=0x%04X (%s) len=%d\n", req.Command, uint16(req.Address), req.Address, len(frame))
	switch req.Command {
	case CmdRegisterRead:
		result += fmt.Sprintf("  Count: %d\n", req.Count)
	case CmdRegisterWrite:
		result += FormatHex("  Data:  ", req.Data)
	case CmdReadEEPROM:
		result += fmt.Sprintf("  Page: %d\n", req.Page)
	}
	return result + FormatHex("  Frame: ", frame)
}

// FormatReading formats a reading for terminal output
func FormatReading(r Reading) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %.1f V  %.3f Hz  SSR=0x%04X\n",
		r.Timestamp.Format("15:04:05.000"), r.Volts, r.Frequency, r.SystemStatus)
	fmt.Fprintf(&b, "  CH1: %8.3f A  %10.3f W  %10.3f var  PF %+.3f\n",
		r.Amps1, r.Watts1, r.Vars1, r.PowerFactor1)
	fmt.Fprintf(&b, "  CH2: %8.3f A  %10.3f W  %10.3f var  PF %+.3f\n",
		r.Amps2, r.Watts2, r.Vars2, r.PowerFactor2)
	fmt.Fprintf(&b, "  Import: CH1=%d CH2=%d  Export: CH1=%d CH2=%d\n",
		r.ImportEnergy1, r.ImportEnergy2, r.ExportEnergy1, r.ExportEnergy2)
	return b.String()
}

// FormatCalibration formats the calibration registers
func FormatCalibration(c Calibration) string {
	var b strings.Builder
	b.WriteString("Gains:\n")
	for _, reg := range GainRegisters {
		g, _ := c.Gains.Gain(reg)
		fmt.Fprintf(&b, "  %-16s 0x%04X (%d)\n", reg, g, g)
	}
	b.WriteString("Ranges:\n")
	fmt.Fprintf(&b, "  CH1: volt=%d amp=%d power=%d\n", c.Range1.Volt, c.Range1.Amp, c.Range1.Power)
	fmt.Fprintf(&b, "  CH2: amp=%d power=%d\n", c.Range2.Amp, c.Range2.Power)
	fmt.Fprintf(&b, "Divisor digits: CH1=%d CH2=%d\n", c.DivisorDigits1, c.DivisorDigits2)
	fmt.Fprintf(&b, "Precision: volts=%d amps1=%d power1=%d amps2=%d power2=%d\n",
		c.Precision.Volts, c.Precision.Amps1, c.Precision.Power1, c.Precision.Amps2, c.Precision.Power2)
	return b.String()
}
