// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/Thermoquad/wattstat/pkg/mcp39f511n"
	"github.com/spf13/cobra"
)

var (
	calibrationJSON bool
	setGainSave     bool
)

var calibrationCmd = &cobra.Command{
	Use:   "calibration",
	Short: "Display range, divisor and gain registers",
	RunE:  runCalibration,
}

var setGainCmd = &cobra.Command{
	Use:   "set-gain <quantity> <value>",
	Short: "Write a calibration gain register",
	Long: `Write one calibration gain register. The change is volatile until
saved with the save command or --save.

Quantities: amps1, amps2, volts, watts1, watts2, vars1, vars2, frequency
Values are 0-65535, decimal or 0x-prefixed hex.`,
	Args: cobra.ExactArgs(2),
	RunE: runSetGain,
}

var setRangeCmd = &cobra.Command{
	Use:   "set-range <channel> <volt> <amp> <power>",
	Short: "Write the range register of channel 1 or 2",
	Args:  cobra.ExactArgs(4),
	RunE:  runSetRange,
}

var saveCmd = &cobra.Command{
	Use:   "save",
	Short: "Save calibration registers to flash",
	Args:  cobra.NoArgs,
	RunE:  runSave,
}

func init() {
	rootCmd.AddCommand(calibrationCmd)
	rootCmd.AddCommand(setGainCmd)
	rootCmd.AddCommand(setRangeCmd)
	rootCmd.AddCommand(saveCmd)
	calibrationCmd.Flags().BoolVar(&calibrationJSON, "json", false, "Print as JSON")
	setGainCmd.Flags().BoolVar(&setGainSave, "save", false, "Save calibration to flash after writing")
}

func runCalibration(cmd *cobra.Command, args []string) error {
	meter, conn, _, err := OpenMeter(cmd.Context(), true)
	if err != nil {
		return err
	}
	defer conn.Close()

	if calibrationJSON {
		data, err := json.MarshalIndent(meter.Calibration(), "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(data))
		return nil
	}
	fmt.Print(mcp39f511n.FormatCalibration(meter.Calibration()))
	return nil
}

func runSetGain(cmd *cobra.Command, args []string) error {
	reg, ok := mcp39f511n.GainRegisterByName(strings.ToLower(args[0]))
	if !ok {
		return fmt.Errorf("unknown gain quantity %q", args[0])
	}
	value, err := strconv.ParseUint(args[1], 0, 16)
	if err != nil {
		return fmt.Errorf("invalid gain %q: %w", args[1], err)
	}

	meter, conn, _, err := OpenMeter(cmd.Context(), true)
	if err != nil {
		return err
	}
	defer conn.Close()

	old, _ := meter.Calibration().Gains.Gain(reg)
	if err := meter.SetGain(cmd.Context(), reg, uint16(value)); err != nil {
		return err
	}
	fmt.Printf("%s: 0x%04X -> 0x%04X\n", reg, old, value)

	if setGainSave {
		if err := meter.SaveToFlash(cmd.Context()); err != nil {
			return err
		}
		fmt.Println("Calibration saved to flash")
	}
	return nil
}

func runSetRange(cmd *cobra.Command, args []string) error {
	channel, err := strconv.Atoi(args[0])
	if err != nil {
		return fmt.Errorf("invalid channel %q", args[0])
	}

	var fields [3]uint8
	for i, s := range args[1:] {
		v, err := strconv.ParseUint(s, 0, 8)
		if err != nil {
			return fmt.Errorf("invalid range value %q: %w", s, err)
		}
		fields[i] = uint8(v)
	}
	r := mcp39f511n.Range{Volt: fields[0], Amp: fields[1], Power: fields[2]}

	meter, conn, _, err := OpenMeter(cmd.Context(), false)
	if err != nil {
		return err
	}
	defer conn.Close()

	if err := meter.SetRange(cmd.Context(), channel, r); err != nil {
		return err
	}
	fmt.Printf("Range CH%d: volt=%d amp=%d power=%d\n", channel, r.Volt, r.Amp, r.Power)
	return nil
}

func runSave(cmd *cobra.Command, args []string) error {
	meter, conn, _, err := OpenMeter(cmd.Context(), false)
	if err != nil {
		return err
	}
	defer conn.Close()

	if err := meter.SaveToFlash(cmd.Context()); err != nil {
		return err
	}
	fmt.Println("Calibration saved to flash")
	return nil
}
