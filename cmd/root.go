// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/Thermoquad/wattstat/internal/config"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	cfgFile string

	v      = config.New()
	cfg    *config.Config
	logger = zap.NewNop()
)

var rootCmd = &cobra.Command{
	Use:   "wattstat",
	Short: "MCP39F511N Power Monitor Tool",
	Long: `Wattstat - A CLI tool for reading, calibrating and monitoring the Microchip
MCP39F511N dual-channel power monitor over its UART protocol.

Provides commands for one-shot readings, calibration register access, link
quality testing, continuous monitoring and publishing readings to MQTT.

Connection modes:
  Serial:    --port /dev/ttyUSB0 [--baud 115200]
  WebSocket: --url ws://host/path [--username user]
  Simulated: --simulate

Every flag can also be set in a YAML config file (--config) or through
WATTSTAT_* environment variables, e.g. WATTSTAT_SERIAL_PORT.

For WebSocket authentication, the password is read from the WATTSTAT_PASSWORD
environment variable, or prompted interactively if not set. The --password
flag is intentionally not provided to avoid leaking credentials in shell history.`,
	Version:           "1.0.0",
	SilenceUsage:      true,
	PersistentPreRunE: loadConfig,
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&cfgFile, "config", "c", "", "YAML config file")
	flags.String("log-level", "warn", "Log level (debug, info, warn, error)")

	// Serial connection flags
	flags.StringP("port", "p", "", "Serial port device")
	flags.IntP("baud", "b", 115200, "Baud rate (serial only)")

	// WebSocket connection flags
	flags.StringP("url", "u", "", "WebSocket URL (ws:// or wss://)")
	flags.String("username", "", "Username for HTTP Basic auth")
	flags.Bool("no-ssl-verify", false, "Skip TLS certificate verification (wss:// only)")

	flags.Bool("simulate", false, "Use a simulated meter instead of a device")

	// Transaction timing flags
	flags.Uint32("timeout", 100, "Reply timeout in milliseconds")
	flags.Uint32("settle", 20, "Settle window after the first reply byte in milliseconds")

	bindFlag("log_level", "log-level")
	bindFlag("serial.port", "port")
	bindFlag("serial.baud", "baud")
	bindFlag("websocket.url", "url")
	bindFlag("websocket.username", "username")
	bindFlag("websocket.no_ssl_verify", "no-ssl-verify")
	bindFlag("simulate", "simulate")
	bindFlag("transaction.timeout_millis", "timeout")
	bindFlag("transaction.settle_millis", "settle")
}

func bindFlag(key, flag string) {
	if err := v.BindPFlag(key, rootCmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

// loadConfig resolves flags, environment and config file, then builds the
// logger every command uses
func loadConfig(cmd *cobra.Command, args []string) error {
	loaded, err := config.Load(v, cfgFile)
	if err != nil {
		return err
	}
	cfg = loaded

	zapCfg := zap.NewProductionConfig()
	zapCfg.Encoding = "console"
	zapCfg.Level = zap.NewAtomicLevelAt(cfg.LogLevel)
	l, err := zapCfg.Build()
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	logger = l
	logger.Debug("config loaded", zap.Any("config", cfg.Redacted()))
	return nil
}

// Execute runs the root command. SIGINT and SIGTERM cancel the command's
// context.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	defer func() { _ = logger.Sync() }()
	return rootCmd.ExecuteContext(ctx)
}
