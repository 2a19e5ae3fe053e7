// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/Thermoquad/wattstat/pkg/mcp39f511n"
	"github.com/spf13/cobra"
)

var (
	probeTimeout int
)

var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Test connection by reading the system version register",
	Long: `Repeatedly read the system version register until the meter answers
with a valid reply or the timeout expires.

Exit codes:
  0 - Valid reply received before timeout
  1 - Timeout reached without a valid reply
  2 - Connection error

Useful for testing wiring, baud rate and serial-to-WebSocket bridges.`,
	RunE: runProbe,
}

func init() {
	rootCmd.AddCommand(probeCmd)
	probeCmd.Flags().IntVar(&probeTimeout, "wait", 10, "Seconds to keep trying for a reply")
}

func runProbe(cmd *cobra.Command, args []string) error {
	meter, conn, connInfo, err := OpenMeter(cmd.Context(), false)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}
	defer conn.Close()

	fmt.Printf("Wattstat - Probe\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Timeout: %d seconds\n", probeTimeout)
	fmt.Printf("Waiting for a valid reply...\n\n")

	ctx, cancel := context.WithTimeout(cmd.Context(), time.Duration(probeTimeout)*time.Second)
	defer cancel()

	attempts := 0
	var lastErr error
	for ctx.Err() == nil {
		attempts++
		start := time.Now()
		data, err := meter.ReadRaw(ctx, mcp39f511n.RegSystemVersion, 2)
		if err == nil {
			latency := time.Since(start)
			if attempts > 1 {
				fmt.Printf("(%d failed attempts before the first reply)\n", attempts-1)
			}
			fmt.Printf("SUCCESS: Received valid reply\n")
			fmt.Printf("  System version: 0x%02X%02X\n", data[1], data[0])
			fmt.Printf("  Latency: %s\n", latency.Round(time.Microsecond*100))
			os.Exit(0)
		}
		if errors.Is(err, ErrConnectionClosed) {
			fmt.Fprintf(os.Stderr, "Read error: %v\n", err)
			os.Exit(2)
		}
		lastErr = err
		logger.Sugar().Debugf("probe attempt %d failed: %v", attempts, err)
	}

	fmt.Fprintf(os.Stderr, "TIMEOUT: No valid reply within %d seconds (%d attempts, last error: %v)\n",
		probeTimeout, attempts, lastErr)
	os.Exit(1)
	return nil
}
