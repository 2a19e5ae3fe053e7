// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package server exposes the monitor's state over HTTP.
package server

import (
	"fmt"
	"net/http"
	"time"

	"github.com/Thermoquad/wattstat/internal/config"
	"github.com/Thermoquad/wattstat/pkg/mcp39f511n"
	"go.uber.org/zap"
)

// Source is the polling loop the server reports on
type Source interface {
	Health() error
	Last() (mcp39f511n.Reading, time.Time, bool)
	Meter() *mcp39f511n.Meter
}

type Server struct {
	port          uint
	httpLog       bool
	allowCommands bool
	source        Source
	logger        *zap.Logger
}

func NewServer(cfg config.Config, source Source, logger *zap.Logger) *http.Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		port:          cfg.HTTP.Port,
		httpLog:       cfg.HTTP.Log,
		allowCommands: cfg.MQTT.AllowCommands,
		source:        source,
		logger:        logger,
	}

	return &http.Server{
		Addr:         fmt.Sprintf(":%d", s.port),
		Handler:      s.RegisterRoutes(),
		IdleTimeout:  time.Minute,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
}
