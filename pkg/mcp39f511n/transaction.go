// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package mcp39f511n

import (
	"context"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Engine runs request/response transactions against the chip.
//
// It owns the single response buffer. Only one transaction is in flight
// at a time; concurrent callers block on the engine's mutex.
type Engine struct {
	mu        sync.Mutex
	transport Transport
	buf       []byte
	chunk     []byte

	timeout time.Duration
	settle  time.Duration
	poll    time.Duration

	logger *zap.Logger
	stats  *Statistics
	now    func() time.Time
}

// Option configures an Engine
type Option func(*Engine)

// WithTimeout sets the overall reply deadline
func WithTimeout(d time.Duration) Option {
	return func(e *Engine) { e.timeout = d }
}

// WithSettle sets the window granted after the first reply bytes arrive
func WithSettle(d time.Duration) Option {
	return func(e *Engine) { e.settle = d }
}

// WithPollInterval sets the per-read timeout used while waiting
func WithPollInterval(d time.Duration) Option {
	return func(e *Engine) { e.poll = d }
}

// WithLogger sets the logger for frame traces
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithStatistics records each transaction outcome into s
func WithStatistics(s *Statistics) Option {
	return func(e *Engine) { e.stats = s }
}

// NewEngine creates a transaction engine on top of transport
func NewEngine(transport Transport, opts ...Option) *Engine {
	e := &Engine{
		transport: transport,
		buf:       make([]byte, 0, BufferSize),
		chunk:     make([]byte, BufferSize+1),
		timeout:   DefaultTimeout,
		settle:    DefaultSettle,
		poll:      DefaultPollInterval,
		logger:    zap.NewNop(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Statistics returns the attached statistics tracker (may be nil)
func (e *Engine) Statistics() *Statistics {
	return e.stats
}

// Logger returns the engine logger
func (e *Engine) Logger() *zap.Logger {
	return e.logger
}

// maxDrainReads bounds the stale-input drain on transports that keep
// delivering bytes
const maxDrainReads = 8

// Exchange transmits frame and waits for the reply to cmd.
// On success it returns a copy of the reply bytes. A data reply must
// carry exactly want data bytes (negative skips the check). reg is only
// used to describe failures.
func (e *Engine) Exchange(ctx context.Context, cmd Command, reg Register, frame []byte, want int) (Reply, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if err := e.discardInput(); err != nil {
		e.stats.RecordTransportError()
		return nil, fmt.Errorf("failed to discard stale input: %w", err)
	}

	start := e.now()
	e.buf = e.buf[:0]

	e.logger.Debug("tx",
		zap.Stringer("command", cmd),
		zap.Stringer("register", reg),
		zap.String("frame", hex.EncodeToString(frame)))

	n, err := e.transport.Write(frame)
	if err != nil {
		e.stats.RecordTransportError()
		return nil, fmt.Errorf("failed to write %s frame: %w", cmd, err)
	}
	if n != len(frame) {
		e.stats.RecordTransportError()
		return nil, fmt.Errorf("short write: %d of %d bytes", n, len(frame))
	}

	outcome, err := e.awaitReply(ctx, cmd, want)
	if err != nil {
		return nil, err
	}

	e.stats.Record(outcome, e.now().Sub(start))

	if outcome.Status != StatusComplete {
		txErr := &TransactionError{
			Command:  cmd,
			Register: reg,
			Outcome:  outcome,
			Received: len(e.buf),
		}
		e.logger.Debug("transaction failed",
			zap.Stringer("command", cmd),
			zap.Stringer("register", reg),
			zap.Stringer("status", outcome.Status),
			zap.Bool("unexpected_device", outcome.UnexpectedDevice),
			zap.String("rx", hex.EncodeToString(e.buf)))
		return nil, txErr
	}

	e.logger.Debug("rx",
		zap.Stringer("command", cmd),
		zap.String("reply", hex.EncodeToString(e.buf)))

	reply := make(Reply, len(e.buf))
	copy(reply, e.buf)
	return reply, nil
}

// awaitReply polls the transport until a terminal outcome or the deadline
func (e *Engine) awaitReply(ctx context.Context, cmd Command, want int) (Outcome, error) {
	timer := newReplyTimer(e.now, e.timeout, e.settle)
	outcome := Outcome{Status: StatusIncomplete}

	for {
		if err := ctx.Err(); err != nil {
			return outcome, err
		}

		remaining := timer.remaining()
		if remaining <= 0 {
			break
		}
		wait := e.poll
		if remaining < wait {
			wait = remaining
		}

		// One byte more than fits so an overflow is observable
		room := BufferSize - len(e.buf) + 1
		n, err := e.transport.ReadTimeout(e.chunk[:room], wait)
		if err != nil {
			e.stats.RecordTransportError()
			return outcome, fmt.Errorf("failed to read %s reply: %w", cmd, err)
		}
		if n == 0 {
			continue
		}

		if len(e.buf)+n > BufferSize {
			e.buf = append(e.buf, e.chunk[:BufferSize-len(e.buf)]...)
			return Outcome{Status: StatusBufferOverflow}, nil
		}
		e.buf = append(e.buf, e.chunk[:n]...)
		timer.bytesArrived()

		outcome = ClassifyLength(cmd, e.buf, want)
		if outcome.Status.Terminal() {
			return outcome, nil
		}
	}

	if len(e.buf) == 0 {
		return Outcome{Status: StatusTimeout}, nil
	}
	return outcome, nil
}

// discardInput drops bytes left over from an earlier transaction so they
// cannot be taken for the reply to the next request
func (e *Engine) discardInput() error {
	if r, ok := e.transport.(InputResetter); ok {
		return r.ResetInputBuffer()
	}

	for i := 0; i < maxDrainReads; i++ {
		n, err := e.transport.ReadTimeout(e.chunk, 0)
		if err != nil {
			return err
		}
		if n == 0 {
			return nil
		}
		e.logger.Debug("discarded stale input", zap.String("rx", hex.EncodeToString(e.chunk[:n])))
	}
	return nil
}
