// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad
//
// Wattstat - MCP39F511N Power Monitor Tool
//
// A CLI tool for reading, calibrating and monitoring the Microchip
// MCP39F511N power monitor and publishing its readings.

package main

import (
	"os"

	"github.com/Thermoquad/wattstat/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
