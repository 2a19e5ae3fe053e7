// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package mcp39f511n

// Status is the classification of the bytes received so far
type Status int

const (
	StatusIncomplete Status = iota
	StatusComplete
	StatusTooShort
	StatusChecksumMismatch
	StatusChecksumMismatchOnSend
	StatusRejected
	StatusBufferOverflow
	StatusTimeout
	StatusLengthMismatch
)

func (s Status) String() string {
	switch s {
	case StatusIncomplete:
		return "INCOMPLETE"
	case StatusComplete:
		return "COMPLETE"
	case StatusTooShort:
		return "TOO_SHORT"
	case StatusChecksumMismatch:
		return "CHECKSUM_MISMATCH"
	case StatusChecksumMismatchOnSend:
		return "CHECKSUM_MISMATCH_ON_SEND"
	case StatusRejected:
		return "REJECTED"
	case StatusBufferOverflow:
		return "BUFFER_OVERFLOW"
	case StatusTimeout:
		return "TIMEOUT"
	case StatusLengthMismatch:
		return "LENGTH_MISMATCH"
	default:
		return "UNKNOWN"
	}
}

// Terminal reports whether the transaction stops polling on this status
func (s Status) Terminal() bool {
	switch s {
	case StatusComplete, StatusChecksumMismatch, StatusChecksumMismatchOnSend,
		StatusRejected, StatusBufferOverflow, StatusTimeout, StatusLengthMismatch:
		return true
	default:
		return false
	}
}

// Outcome is the result of classifying a reply
type Outcome struct {
	Status Status

	// UnexpectedDevice is set on a NACK whose identity byte is not the
	// chip's.
	UnexpectedDevice bool
}

// Classify inspects the reply bytes received for cmd
func Classify(cmd Command, buf []byte) Outcome {
	if len(buf) == 0 {
		return Outcome{Status: StatusIncomplete}
	}

	switch buf[0] {
	case AckByte:
		if !cmd.ReturnsData() {
			return Outcome{Status: StatusComplete}
		}
		if len(buf) < 3 {
			return Outcome{Status: StatusTooShort}
		}
		if int(buf[1]) > len(buf) {
			return Outcome{Status: StatusIncomplete}
		}
		if Checksum(buf[:len(buf)-1]) != buf[len(buf)-1] {
			return Outcome{Status: StatusChecksumMismatch}
		}
		return Outcome{Status: StatusComplete}

	case NackByte:
		return Outcome{
			Status:           StatusRejected,
			UnexpectedDevice: len(buf) >= 2 && buf[1] != DeviceIDByte,
		}

	case CSFailByte:
		return Outcome{Status: StatusChecksumMismatchOnSend}

	default:
		return Outcome{Status: StatusIncomplete}
	}
}

// ClassifyLength classifies buf like Classify and additionally requires a
// data reply to carry exactly want data bytes. The declared length byte
// must match, and bytes past the declared frame are not accepted.
// A negative want skips the length check.
func ClassifyLength(cmd Command, buf []byte, want int) Outcome {
	if want < 0 || !cmd.ReturnsData() || len(buf) < 2 || buf[0] != AckByte {
		return Classify(cmd, buf)
	}

	total := want + DataOffset + 1
	if int(buf[1]) != total || len(buf) > total {
		return Outcome{Status: StatusLengthMismatch}
	}
	return Classify(cmd, buf)
}
