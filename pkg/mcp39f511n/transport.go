// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package mcp39f511n

import "time"

// Transport is the byte link to the chip (UART 115200 8N1, or a bridge).
type Transport interface {
	// Write transmits p and returns the number of bytes written
	Write(p []byte) (int, error)

	// ReadTimeout reads whatever bytes arrive within timeout.
	// It returns 0, nil when nothing arrived.
	ReadTimeout(p []byte, timeout time.Duration) (int, error)
}

// InputResetter is implemented by transports that can discard bytes
// received but not yet read, such as a late reply to an earlier request.
// Transports without it are drained with zero-timeout reads instead.
type InputResetter interface {
	ResetInputBuffer() error
}
