// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package mcp39f511n

import (
	"context"
	"fmt"
)

// ReadRegisters reads n bytes starting at reg.
// The returned reply holds the data at DataOffset.
func (e *Engine) ReadRegisters(ctx context.Context, reg Register, n int) (Reply, error) {
	if n <= 0 {
		return nil, fmt.Errorf("invalid read size %d", n)
	}
	if n > MaxReadSize {
		return nil, fmt.Errorf("read of %d bytes at %s: %w", n, reg, ErrPayloadTooLarge)
	}

	frame, err := ReadFrame(reg, uint8(n))
	if err != nil {
		return nil, err
	}
	return e.Exchange(ctx, CmdRegisterRead, reg, frame, n)
}

// WriteRegisters writes data starting at reg.
// Payloads of BufferSize-7 bytes or more are rejected without transmitting.
func (e *Engine) WriteRegisters(ctx context.Context, reg Register, data []byte) error {
	if len(data) >= BufferSize-7 {
		return fmt.Errorf("write of %d bytes at %s: %w", len(data), reg, ErrPayloadTooLarge)
	}

	frame, err := WriteFrame(reg, data)
	if err != nil {
		return err
	}
	_, err = e.Exchange(ctx, CmdRegisterWrite, reg, frame, 0)
	return err
}

// SaveToFlash persists the calibration and configuration registers
func (e *Engine) SaveToFlash(ctx context.Context) error {
	frame, err := NewFrameBuilder().SaveToFlash().Finish()
	if err != nil {
		return err
	}
	_, err = e.Exchange(ctx, CmdSaveToFlash, 0, frame, 0)
	return err
}

// ReadEEPROMPage reads one 16-byte EEPROM page
func (e *Engine) ReadEEPROMPage(ctx context.Context, page uint8) (Reply, error) {
	frame, err := NewFrameBuilder().ReadEEPROM(page).Finish()
	if err != nil {
		return nil, err
	}
	return e.Exchange(ctx, CmdReadEEPROM, Register(page), frame, DefaultEEPROMPageBytes)
}
