// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"github.com/Thermoquad/wattstat/pkg/mcp39f511n"
	"github.com/spf13/cobra"
)

var registerCmd = &cobra.Command{
	Use:   "register",
	Short: "Raw register access",
}

var registerReadCmd = &cobra.Command{
	Use:   "read <address> <count>",
	Short: "Read count bytes starting at a register address",
	Long: `Read up to 32 bytes starting at a register address.

Addresses and counts accept decimal or 0x-prefixed hex, e.g.
  wattstat register read 0x0006 4`,
	Args: cobra.ExactArgs(2),
	RunE: runRegisterRead,
}

var registerWriteCmd = &cobra.Command{
	Use:   "write <address> <hex-bytes>",
	Short: "Write bytes starting at a register address",
	Long: `Write raw bytes starting at a register address. Bytes are given as hex,
optionally separated by spaces or colons, e.g.
  wattstat register write 0x0088 "00 80"`,
	Args: cobra.ExactArgs(2),
	RunE: runRegisterWrite,
}

var eepromCmd = &cobra.Command{
	Use:   "eeprom <page>",
	Short: "Read one EEPROM page",
	Args:  cobra.ExactArgs(1),
	RunE:  runEEPROM,
}

func init() {
	rootCmd.AddCommand(registerCmd)
	rootCmd.AddCommand(eepromCmd)
	registerCmd.AddCommand(registerReadCmd)
	registerCmd.AddCommand(registerWriteCmd)
}

func parseRegister(s string) (mcp39f511n.Register, error) {
	v, err := strconv.ParseUint(s, 0, 16)
	if err != nil {
		return 0, fmt.Errorf("invalid register address %q: %w", s, err)
	}
	return mcp39f511n.Register(v), nil
}

func parseHexBytes(s string) ([]byte, error) {
	s = strings.NewReplacer(" ", "", ":", "", "0x", "", "0X", "").Replace(s)
	data, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid hex data: %w", err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("no data to write")
	}
	return data, nil
}

func runRegisterRead(cmd *cobra.Command, args []string) error {
	reg, err := parseRegister(args[0])
	if err != nil {
		return err
	}
	count, err := strconv.ParseUint(args[1], 0, 8)
	if err != nil {
		return fmt.Errorf("invalid count %q: %w", args[1], err)
	}

	meter, conn, _, err := OpenMeter(cmd.Context(), false)
	if err != nil {
		return err
	}
	defer conn.Close()

	data, err := meter.ReadRaw(cmd.Context(), reg, int(count))
	if err != nil {
		return err
	}
	fmt.Printf("0x%04X (%s), %d bytes\n", uint16(reg), reg, len(data))
	fmt.Print(mcp39f511n.FormatHex("  ", data))
	return nil
}

func runRegisterWrite(cmd *cobra.Command, args []string) error {
	reg, err := parseRegister(args[0])
	if err != nil {
		return err
	}
	data, err := parseHexBytes(args[1])
	if err != nil {
		return err
	}

	meter, conn, _, err := OpenMeter(cmd.Context(), false)
	if err != nil {
		return err
	}
	defer conn.Close()

	if err := meter.WriteRaw(cmd.Context(), reg, data); err != nil {
		return err
	}
	fmt.Printf("Wrote %d bytes at 0x%04X (%s)\n", len(data), uint16(reg), reg)
	return nil
}

func runEEPROM(cmd *cobra.Command, args []string) error {
	page, err := strconv.ParseUint(args[0], 0, 8)
	if err != nil {
		return fmt.Errorf("invalid page %q: %w", args[0], err)
	}

	meter, conn, _, err := OpenMeter(cmd.Context(), false)
	if err != nil {
		return err
	}
	defer conn.Close()

	data, err := meter.ReadEEPROMPage(cmd.Context(), uint8(page))
	if err != nil {
		return err
	}
	fmt.Printf("EEPROM page %d\n", page)
	fmt.Print(mcp39f511n.FormatHex("  ", data))
	return nil
}
