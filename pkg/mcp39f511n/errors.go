// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package mcp39f511n

import (
	"errors"
	"fmt"
)

// Transaction failures
var (
	ErrTooShort               = errors.New("reply too short")
	ErrChecksumMismatch       = errors.New("reply checksum mismatch")
	ErrChecksumMismatchOnSend = errors.New("device reported request checksum mismatch")
	ErrRejected               = errors.New("device rejected request")
	ErrUnexpectedDevice       = errors.New("reply from unexpected device")
	ErrBufferOverflow         = errors.New("reply exceeds buffer capacity")
	ErrTimeout                = errors.New("no reply before deadline")
	ErrIncomplete             = errors.New("reply incomplete at deadline")
	ErrLengthMismatch         = errors.New("reply length does not match request")
)

// Request and model errors
var (
	ErrPayloadTooLarge     = errors.New("payload too large for buffer")
	ErrUnknownGainRegister = errors.New("unknown gain register")
	ErrInvalidChannel      = errors.New("invalid channel")
)

// TransactionError describes a failed request/response exchange
type TransactionError struct {
	Command  Command
	Register Register
	Outcome  Outcome
	Received int
}

// Error implements the error interface
func (e *TransactionError) Error() string {
	msg := fmt.Sprintf("%s 0x%04X: %v", e.Command, uint16(e.Register), e.Unwrap())
	if e.Outcome.UnexpectedDevice {
		msg += " (unexpected device)"
	}
	if e.Received > 0 {
		msg += fmt.Sprintf(" after %d bytes", e.Received)
	}
	return msg
}

// Unwrap returns the sentinel matching the outcome status
func (e *TransactionError) Unwrap() error {
	return statusError(e.Outcome.Status)
}

// Is matches ErrUnexpectedDevice in addition to the status sentinel
func (e *TransactionError) Is(target error) bool {
	return target == ErrUnexpectedDevice && e.Outcome.UnexpectedDevice
}

func statusError(s Status) error {
	switch s {
	case StatusTooShort:
		return ErrTooShort
	case StatusChecksumMismatch:
		return ErrChecksumMismatch
	case StatusChecksumMismatchOnSend:
		return ErrChecksumMismatchOnSend
	case StatusRejected:
		return ErrRejected
	case StatusBufferOverflow:
		return ErrBufferOverflow
	case StatusTimeout:
		return ErrTimeout
	case StatusIncomplete:
		return ErrIncomplete
	case StatusLengthMismatch:
		return ErrLengthMismatch
	default:
		return nil
	}
}
