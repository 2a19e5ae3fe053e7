// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package mcp39f511n

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// StatsSnapshot is a point-in-time copy of the transaction counters
type StatsSnapshot struct {
	StartTime      time.Time
	LastUpdateTime time.Time

	// Counters
	TotalTransactions  uint64
	Completed          uint64
	TooShort           uint64
	ChecksumErrors     uint64
	SendChecksumErrors uint64
	Rejected           uint64
	UnexpectedDevice   uint64
	Overflows          uint64
	Timeouts           uint64
	Incomplete         uint64
	LengthMismatches   uint64
	TransportErrors    uint64
	AnomalousReadings  uint64

	TotalLatency time.Duration
	MaxLatency   time.Duration

	// Rates (calculated)
	TransactionRate float64 // transactions/sec
	ErrorRate       float64 // errors/sec
}

// Errors returns the number of failed transactions
func (s StatsSnapshot) Errors() uint64 {
	return s.TooShort + s.ChecksumErrors + s.SendChecksumErrors + s.Rejected +
		s.Overflows + s.Timeouts + s.Incomplete + s.LengthMismatches + s.TransportErrors
}

// AverageLatency returns the mean latency of recorded transactions
func (s StatsSnapshot) AverageLatency() time.Duration {
	n := s.TotalTransactions - s.TransportErrors
	if n == 0 {
		return 0
	}
	return s.TotalLatency / time.Duration(n)
}

// SuccessPercent returns the share of completed transactions
func (s StatsSnapshot) SuccessPercent() float64 {
	if s.TotalTransactions == 0 {
		return 0
	}
	return float64(s.Completed) * 100.0 / float64(s.TotalTransactions)
}

// Statistics tracks transaction outcomes and error rates.
// A nil *Statistics ignores all updates.
type Statistics struct {
	mu sync.Mutex
	s  StatsSnapshot
}

// NewStatistics creates a new statistics tracker
func NewStatistics() *Statistics {
	now := time.Now()
	return &Statistics{s: StatsSnapshot{StartTime: now, LastUpdateTime: now}}
}

// Record counts one finished transaction
func (st *Statistics) Record(o Outcome, latency time.Duration) {
	if st == nil {
		return
	}
	st.mu.Lock()
	defer st.mu.Unlock()

	s := &st.s
	s.TotalTransactions++
	s.TotalLatency += latency
	if latency > s.MaxLatency {
		s.MaxLatency = latency
	}

	switch o.Status {
	case StatusComplete:
		s.Completed++
	case StatusTooShort:
		s.TooShort++
	case StatusChecksumMismatch:
		s.ChecksumErrors++
	case StatusChecksumMismatchOnSend:
		s.SendChecksumErrors++
	case StatusRejected:
		s.Rejected++
	case StatusBufferOverflow:
		s.Overflows++
	case StatusTimeout:
		s.Timeouts++
	case StatusIncomplete:
		s.Incomplete++
	case StatusLengthMismatch:
		s.LengthMismatches++
	}
	if o.UnexpectedDevice {
		s.UnexpectedDevice++
	}

	s.LastUpdateTime = time.Now()
}

// RecordTransportError counts a transaction that failed in the transport
func (st *Statistics) RecordTransportError() {
	if st == nil {
		return
	}
	st.mu.Lock()
	defer st.mu.Unlock()

	st.s.TotalTransactions++
	st.s.TransportErrors++
	st.s.LastUpdateTime = time.Now()
}

// RecordAnomalies counts readings that failed validation
func (st *Statistics) RecordAnomalies(errs []ValidationError) {
	if st == nil || len(errs) == 0 {
		return
	}
	st.mu.Lock()
	defer st.mu.Unlock()

	st.s.AnomalousReadings++
}

// Snapshot returns a copy of the counters with rates calculated
func (st *Statistics) Snapshot() StatsSnapshot {
	if st == nil {
		return StatsSnapshot{}
	}
	st.mu.Lock()
	defer st.mu.Unlock()

	s := st.s
	elapsed := time.Since(s.StartTime).Seconds()
	if elapsed > 0 {
		s.TransactionRate = float64(s.TotalTransactions) / elapsed
		s.ErrorRate = float64(s.Errors()) / elapsed
	}
	return s
}

// String returns a formatted statistics summary
func (st *Statistics) String() string {
	s := st.Snapshot()

	pct := func(n uint64) float64 {
		if s.TotalTransactions == 0 {
			return 0
		}
		return float64(n) * 100.0 / float64(s.TotalTransactions)
	}

	elapsed := time.Since(s.StartTime)

	var b strings.Builder
	fmt.Fprintf(&b, "=== Statistics (%.0f seconds) ===\n", elapsed.Seconds())
	fmt.Fprintf(&b, "Transactions:    %8d\n", s.TotalTransactions)
	fmt.Fprintf(&b, "Completed:       %8d (%.1f%%)\n", s.Completed, pct(s.Completed))

	if s.Timeouts > 0 {
		fmt.Fprintf(&b, "Timeouts:        %8d (%.1f%%)\n", s.Timeouts, pct(s.Timeouts))
	}
	if s.ChecksumErrors > 0 {
		fmt.Fprintf(&b, "Checksum Errors: %8d (%.1f%%)\n", s.ChecksumErrors, pct(s.ChecksumErrors))
	}
	if s.SendChecksumErrors > 0 {
		fmt.Fprintf(&b, "CSFAIL Replies:  %8d (%.1f%%)\n", s.SendChecksumErrors, pct(s.SendChecksumErrors))
	}
	if s.Rejected > 0 {
		fmt.Fprintf(&b, "Rejected (NACK): %8d (%.1f%%)\n", s.Rejected, pct(s.Rejected))
		if s.UnexpectedDevice > 0 {
			fmt.Fprintf(&b, "  Unexpected Device: %5d\n", s.UnexpectedDevice)
		}
	}
	if s.TooShort > 0 || s.Incomplete > 0 {
		fmt.Fprintf(&b, "Partial Replies: %8d (%.1f%%)\n", s.TooShort+s.Incomplete, pct(s.TooShort+s.Incomplete))
		if s.TooShort > 0 {
			fmt.Fprintf(&b, "  Too Short:         %5d\n", s.TooShort)
		}
		if s.Incomplete > 0 {
			fmt.Fprintf(&b, "  Incomplete:        %5d\n", s.Incomplete)
		}
	}
	if s.LengthMismatches > 0 {
		fmt.Fprintf(&b, "Length Errors:   %8d (%.1f%%)\n", s.LengthMismatches, pct(s.LengthMismatches))
	}
	if s.Overflows > 0 {
		fmt.Fprintf(&b, "Overflows:       %8d (%.1f%%)\n", s.Overflows, pct(s.Overflows))
	}
	if s.TransportErrors > 0 {
		fmt.Fprintf(&b, "Transport Errors:%8d (%.1f%%)\n", s.TransportErrors, pct(s.TransportErrors))
	}
	if s.AnomalousReadings > 0 {
		fmt.Fprintf(&b, "Anomalous Reads: %8d\n", s.AnomalousReadings)
	}

	fmt.Fprintf(&b, "Avg Latency:     %8s\n", s.AverageLatency().Round(time.Microsecond))
	fmt.Fprintf(&b, "Max Latency:     %8s\n", s.MaxLatency.Round(time.Microsecond))
	fmt.Fprintf(&b, "Rate:            %8.1f txn/sec\n", s.TransactionRate)
	fmt.Fprintf(&b, "Error Rate:      %8.1f errors/sec\n", s.ErrorRate)
	b.WriteString("================================\n")

	return b.String()
}

// Reset resets all statistics counters
func (st *Statistics) Reset() {
	if st == nil {
		return
	}
	st.mu.Lock()
	defer st.mu.Unlock()

	now := time.Now()
	st.s = StatsSnapshot{StartTime: now, LastUpdateTime: now}
}
