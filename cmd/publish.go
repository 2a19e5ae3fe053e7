// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/Thermoquad/wattstat/internal/bridge"
	"github.com/Thermoquad/wattstat/internal/monitor"
	"github.com/Thermoquad/wattstat/internal/server"
	"github.com/Thermoquad/wattstat/pkg/mcp39f511n"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var publishCmd = &cobra.Command{
	Use:   "publish",
	Short: "Poll the meter and publish readings to MQTT and HTTP",
	Long: `Run as a daemon: poll the meter every monitor.poll_interval_millis and
publish each reading.

MQTT (mqtt.enable):
  <base>/sensor/<quantity>/state   one value per quantity
  <base>/reading                   whole reading as JSON or CBOR (mqtt.format)
  <base>/bridge/state              online/offline, with a retained will
With mqtt.ha_discovery_enable, Home Assistant discovery configs are published.
With mqtt.allow_commands, gains can be set on <base>/number/gain_<q>/set and
calibration saved with PRESS on <base>/button/save_to_flash/press.

HTTP (http.enable):
  GET /healthcheck, /api/reading, /api/calibration, /api/stats
  POST /api/gain/<quantity>, /api/save (with mqtt.allow_commands)`,
	Args: cobra.NoArgs,
	RunE: runPublish,
}

func init() {
	rootCmd.AddCommand(publishCmd)
}

func runPublish(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	if !cfg.MQTT.Enable && !cfg.HTTP.Enable {
		logger.Warn("neither mqtt.enable nor http.enable is set, readings are only logged")
	}

	meter, conn, connInfo, err := OpenMeter(ctx, true)
	if err != nil {
		return err
	}
	defer conn.Close()

	poller := newPoller(meter, cfg.Monitor.PollInterval())
	poller.Subscribe(func(ev monitor.Event) {
		if ev.Err == nil {
			logger.Debug("reading", zap.Float64("volts", ev.Reading.Volts),
				zap.Float64("watts1", ev.Reading.Watts1), zap.Float64("watts2", ev.Reading.Watts2))
		}
	})

	if cfg.MQTT.Enable {
		client, err := startMQTT(ctx, meter, poller)
		if err != nil {
			return err
		}
		defer client.Disconnect()
	}

	var apiServer *http.Server
	if cfg.HTTP.Enable {
		apiServer = server.NewServer(*cfg, poller, logger.Named("http"))
		go func() {
			logger.Info("http server listening", zap.String("addr", apiServer.Addr))
			if err := apiServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("http server error", zap.Error(err))
			}
		}()
	}

	logger.Info("publishing", zap.String("connection", connInfo), zap.Duration("interval", poller.Interval()))
	err = poller.Run(ctx)

	if apiServer != nil {
		gracefulShutdown(apiServer)
	}
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// startMQTT connects the bridge and wires readings and commands through it
func startMQTT(ctx context.Context, meter *mcp39f511n.Meter, poller *monitor.Poller) (*bridge.Client, error) {
	log := logger.Named("mqtt")
	opts := bridge.OptsFromConfig(cfg.MQTT)

	var client *bridge.Client
	onCommand := func(_ mqtt.Client, msg mqtt.Message) {
		command, err := client.ParseMessage(msg)
		if err != nil {
			log.Warn("ignoring command", zap.String("topic", msg.Topic()), zap.Error(err))
			return
		}
		cctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := client.Execute(cctx, meter, command); err != nil {
			log.Error("command failed", zap.Stringer("command", command.Kind), zap.Error(err))
			return
		}
		log.Info("command executed", zap.Stringer("command", command.Kind), zap.String("gain", command.Name))
	}

	// Runs after every (re)connect since subscriptions and the online
	// state do not survive a broker restart
	opts.OnConnect = func(mqtt.Client) {
		go func() {
			if err := client.Publish(client.BridgeStateTopic(), bridge.PayloadOnline, true); err != nil {
				log.Error("failed to publish bridge state", zap.Error(err))
			}
			if cfg.MQTT.HADiscoveryEnable {
				if err := client.PublishDiscovery(); err != nil {
					log.Error("failed to publish discovery", zap.Error(err))
				}
			}
			if cfg.MQTT.AllowCommands {
				if err := client.PublishGains(meter.Calibration().Gains); err != nil {
					log.Error("failed to publish gains", zap.Error(err))
				}
				if err := client.SubscribeToCommands(onCommand); err != nil {
					log.Error("failed to subscribe to commands", zap.Error(err))
				}
			}
		}()
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		log.Warn("connection lost", zap.Error(err))
	}

	client = bridge.NewClient(cfg.MQTT, mqtt.NewClient(opts))
	if err := client.Connect(); err != nil {
		return nil, fmt.Errorf("failed to connect to MQTT broker %s:%d: %w", cfg.MQTT.Host, cfg.MQTT.Port, err)
	}
	log.Info("connected", zap.String("host", cfg.MQTT.Host), zap.Int("port", cfg.MQTT.Port))

	poller.Subscribe(func(ev monitor.Event) {
		if ev.Err != nil {
			return
		}
		if err := client.PublishReading(ev.Reading, meter.Calibration().Precision); err != nil {
			log.Warn("failed to publish reading", zap.Error(err))
		}
	})
	return client, nil
}

func gracefulShutdown(apiServer *http.Server) {
	logger.Info("shutting down gracefully")

	// The context is used to inform the server it has 5 seconds to finish
	// the request it is currently handling
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := apiServer.Shutdown(ctx); err != nil {
		logger.Error("server forced to shutdown", zap.Error(err))
	}
}
