// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Thermoquad/wattstat/internal/monitor"
	"github.com/Thermoquad/wattstat/pkg/mcp39f511n"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
)

var (
	showAll         bool
	statsInterval   int
	useTUI          bool
	monitorInterval int
	allowWrites     bool
)

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Poll the meter continuously and track errors and anomalies",
	Long: `Poll the meter on a fixed interval with statistics and validation.

This command runs a poll cycle every interval and detects:
  - Transaction failures (timeouts, checksum errors, NACKs, short replies)
  - Implausible readings (voltage or frequency out of band, |PF| > 1,
    active power above apparent power, energy counters going backwards)
  - Statistics and trends (transaction rate, error rate, latency)

By default, only errors are displayed. Use --show-all to display every reading.

With --tui a dashboard shows the latest reading, statistics and an event log.
Adding --allow-writes enables the gain editor (tab to focus, enter to edit,
s to save to flash).`,
	RunE: runMonitor,
}

func init() {
	rootCmd.AddCommand(monitorCmd)
	monitorCmd.Flags().BoolVar(&showAll, "show-all", false, "Show all readings (not just errors)")
	monitorCmd.Flags().IntVar(&statsInterval, "stats-interval", 10, "Statistics update interval (seconds)")
	monitorCmd.Flags().BoolVar(&useTUI, "tui", false, "Use terminal UI")
	monitorCmd.Flags().IntVarP(&monitorInterval, "interval", "i", 0, "Poll interval in milliseconds (default from config)")
	monitorCmd.Flags().BoolVar(&allowWrites, "allow-writes", false, "Enable gain editing in the terminal UI")
}

func runMonitor(cmd *cobra.Command, args []string) error {
	if statsInterval <= 0 {
		return fmt.Errorf("stats-interval must be > 0 (got %d)", statsInterval)
	}

	interval := cfg.Monitor.PollInterval()
	if monitorInterval > 0 {
		interval = time.Duration(monitorInterval) * time.Millisecond
	}

	meter, conn, connInfo, err := OpenMeter(cmd.Context(), true)
	if err != nil {
		return err
	}
	defer conn.Close()

	poller := newPoller(meter, interval)

	if useTUI {
		return runTUIMode(cmd.Context(), poller, connInfo)
	}
	return runTextMode(cmd.Context(), poller, connInfo)
}

// newPoller creates a poller with the configured limits. A simulated
// meter accumulates energy between polls.
func newPoller(meter *mcp39f511n.Meter, interval time.Duration) *monitor.Poller {
	limits := mcp39f511n.Limits{
		MinVolts:       cfg.Monitor.MinVolts,
		MaxVolts:       cfg.Monitor.MaxVolts,
		MinFrequency:   cfg.Monitor.MinFrequency,
		MaxFrequency:   cfg.Monitor.MaxFrequency,
		PowerTolerance: mcp39f511n.DefaultLimits().PowerTolerance,
	}
	p := monitor.NewPoller(meter, interval, limits, logger.Named("monitor"))
	if simulator != nil {
		p.BeforePoll = simulator.Accumulate
	}
	return p
}

// printPollError prints a failed poll in highlighted format
func printPollError(ev monitor.Event) {
	timestamp := ev.Time.Format("15:04:05.000")
	fmt.Printf("[%s] \033[1;31mPOLL FAILED:\033[0m %v\n", timestamp, ev.Err)

	var txErr *mcp39f511n.TransactionError
	if errors.As(ev.Err, &txErr) {
		fmt.Printf("  %s 0x%04X: status=%s received=%d bytes\n",
			txErr.Command, uint16(txErr.Register), txErr.Outcome.Status, txErr.Received)
	}
	fmt.Printf("  >>> READING DISCARDED <<<\n\n")
}

// printValidationErrors prints the anomalies of a reading
func printValidationErrors(ev monitor.Event) {
	timestamp := ev.Time.Format("15:04:05.000")
	fmt.Printf("[%s] \033[1;33mANOMALY:\033[0m %d issue(s)\n", timestamp, len(ev.Anomalies))

	for i, a := range ev.Anomalies {
		switch a.Type {
		case mcp39f511n.AnomalyVoltageRange, mcp39f511n.AnomalyFrequencyRange:
			fmt.Printf("  Issue %d: \033[1;31m%s\033[0m\n", i+1, a.Message)
		case mcp39f511n.AnomalyEnergyRollback:
			fmt.Printf("  Issue %d: \033[1;31m%s\033[0m\n", i+1, a.Message)
			if counter, ok := a.Details["counter"].(string); ok {
				fmt.Printf("    counter=%s previous=%v current=%v\n", counter, a.Details["previous"], a.Details["current"])
			}
		default:
			fmt.Printf("  Issue %d: \033[1;33m%s\033[0m\n", i+1, a.Message)
		}
	}
	fmt.Print(indent(mcp39f511n.FormatReading(ev.Reading)))
	fmt.Println()
}

func indent(s string) string {
	return "  " + strings.ReplaceAll(strings.TrimSuffix(s, "\n"), "\n", "\n  ") + "\n"
}

// runTUIMode runs the monitor dashboard
func runTUIMode(ctx context.Context, poller *monitor.Poller, connInfo string) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	m := initialModel(poller, connInfo, showAll, allowWrites)
	p := tea.NewProgram(m)

	poller.Subscribe(func(ev monitor.Event) {
		p.Send(pollMsg(ev))
	})
	go func() {
		_ = poller.Run(ctx)
	}()

	if _, err := p.Run(); err != nil {
		return fmt.Errorf("TUI error: %v", err)
	}
	return nil
}

// runTextMode prints errors as they happen and statistics periodically
func runTextMode(ctx context.Context, poller *monitor.Poller, connInfo string) error {
	fmt.Printf("Wattstat - Monitor Mode\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Poll interval: %s\n", poller.Interval())
	fmt.Printf("Statistics interval: %d seconds\n", statsInterval)
	if showAll {
		fmt.Printf("Mode: All readings\n")
	} else {
		fmt.Printf("Mode: Errors only\n")
	}
	fmt.Printf("Press Ctrl+C to exit\n\n")

	stats := poller.Meter().Engine().Statistics()
	events := make(chan monitor.Event, 10)
	poller.Subscribe(func(ev monitor.Event) {
		select {
		case events <- ev:
		default:
		}
	})

	statsTicker := time.NewTicker(time.Duration(statsInterval) * time.Second)
	defer statsTicker.Stop()

	runErr := make(chan error, 1)
	go func() {
		runErr <- poller.Run(ctx)
	}()

	for {
		select {
		case ev := <-events:
			switch {
			case ev.Err != nil:
				printPollError(ev)
			case len(ev.Anomalies) > 0:
				printValidationErrors(ev)
			case showAll:
				fmt.Print(mcp39f511n.FormatReading(ev.Reading))
			}

		case <-statsTicker.C:
			fmt.Println()
			fmt.Print(stats.String())
			fmt.Println()

		case <-runErr:
			fmt.Println()
			fmt.Print(stats.String())
			return nil
		}
	}
}
