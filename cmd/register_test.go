// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"testing"

	"github.com/Thermoquad/wattstat/pkg/mcp39f511n"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRegister(t *testing.T) {
	reg, err := parseRegister("0x0088")
	require.NoError(t, err)
	assert.Equal(t, mcp39f511n.RegGainVolts, reg)

	reg, err = parseRegister("6")
	require.NoError(t, err)
	assert.Equal(t, mcp39f511n.Register(6), reg)

	_, err = parseRegister("0x10000")
	assert.Error(t, err)
}

func TestParseHexBytes(t *testing.T) {
	tests := []struct {
		in   string
		want []byte
	}{
		{"0080", []byte{0x00, 0x80}},
		{"00 80", []byte{0x00, 0x80}},
		{"de:ad:BE:ef", []byte{0xDE, 0xAD, 0xBE, 0xEF}},
		{"0x12 0x34", []byte{0x12, 0x34}},
	}
	for _, tt := range tests {
		got, err := parseHexBytes(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}

	for _, bad := range []string{"", "123", "zz"} {
		_, err := parseHexBytes(bad)
		assert.Error(t, err, bad)
	}
}
