// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Thermoquad/wattstat/pkg/mcp39f511n"
	"github.com/spf13/cobra"
)

var (
	readCount    int
	readInterval int
	readFormat   string
)

var readCmd = &cobra.Command{
	Use:   "read",
	Short: "Read and display power measurements",
	Long: `Run one or more poll cycles and print the decoded measurements.

Each cycle reads the system status, the measurement block and the energy
counters. Output formats:
  text - human-readable table (default)
  json - one JSON document per reading
  cbor - hex-encoded CBOR, as published over MQTT with format=cbor`,
	RunE: runRead,
}

func init() {
	rootCmd.AddCommand(readCmd)
	readCmd.Flags().IntVarP(&readCount, "count", "n", 1, "Number of readings (0 = until interrupted)")
	readCmd.Flags().IntVarP(&readInterval, "interval", "i", 1000, "Interval between readings in milliseconds")
	readCmd.Flags().StringVarP(&readFormat, "format", "f", "text", "Output format (text, json, cbor)")
}

func runRead(cmd *cobra.Command, args []string) error {
	switch readFormat {
	case "text", "json", "cbor":
	default:
		return fmt.Errorf("unknown format %q", readFormat)
	}
	if readInterval <= 0 {
		return fmt.Errorf("interval must be > 0 (got %d)", readInterval)
	}

	ctx := cmd.Context()
	meter, conn, _, err := OpenMeter(ctx, true)
	if err != nil {
		return err
	}
	defer conn.Close()

	ticker := time.NewTicker(time.Duration(readInterval) * time.Millisecond)
	defer ticker.Stop()

	for i := 0; readCount == 0 || i < readCount; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
			}
		}

		if err := meter.ReadPower(ctx); err != nil {
			return err
		}
		if err := printReading(meter.Reading()); err != nil {
			return err
		}
	}
	return nil
}

func printReading(r mcp39f511n.Reading) error {
	switch readFormat {
	case "json":
		data, err := json.Marshal(r)
		if err != nil {
			return err
		}
		fmt.Println(string(data))
	case "cbor":
		data, err := r.MarshalCBOR()
		if err != nil {
			return err
		}
		fmt.Println(hex.EncodeToString(data))
	default:
		fmt.Print(mcp39f511n.FormatReading(r))
	}
	return nil
}
