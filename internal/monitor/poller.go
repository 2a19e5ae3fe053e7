// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package monitor polls a meter on a fixed interval and fans readings
// out to subscribers.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Thermoquad/wattstat/pkg/mcp39f511n"
	"go.uber.org/zap"
)

// ErrNoReading is reported by Health before the first successful poll
var ErrNoReading = errors.New("no successful poll yet")

// Event is the result of one poll cycle
type Event struct {
	Time      time.Time
	Reading   mcp39f511n.Reading
	Anomalies []mcp39f511n.ValidationError
	Err       error
}

// Handler receives every poll event
type Handler func(Event)

// Poller runs the meter's poll cycle on a ticker
type Poller struct {
	meter    *mcp39f511n.Meter
	interval time.Duration
	limits   mcp39f511n.Limits
	logger   *zap.Logger

	// BeforePoll runs ahead of every cycle when set
	BeforePoll func(elapsed time.Duration)

	mu       sync.RWMutex
	handlers []Handler
	last     *mcp39f511n.Reading
	lastOK   time.Time
	lastPoll time.Time
	lastErr  error
	polls    uint64
	failures uint64
}

// NewPoller creates a poller for meter
func NewPoller(meter *mcp39f511n.Meter, interval time.Duration, limits mcp39f511n.Limits, logger *zap.Logger) *Poller {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Poller{
		meter:    meter,
		interval: interval,
		limits:   limits,
		logger:   logger,
	}
}

// Subscribe registers h for every subsequent poll event
func (p *Poller) Subscribe(h Handler) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handlers = append(p.handlers, h)
}

// Interval returns the poll period
func (p *Poller) Interval() time.Duration {
	return p.interval
}

// Meter returns the polled meter
func (p *Poller) Meter() *mcp39f511n.Meter {
	return p.meter
}

// PollOnce runs one cycle, validates the reading and notifies handlers
func (p *Poller) PollOnce(ctx context.Context) Event {
	now := time.Now()

	p.mu.RLock()
	elapsed := time.Duration(0)
	if !p.lastPoll.IsZero() {
		elapsed = now.Sub(p.lastPoll)
	}
	p.mu.RUnlock()

	if p.BeforePoll != nil {
		p.BeforePoll(elapsed)
	}

	ev := Event{Time: now}
	if err := p.meter.ReadPower(ctx); err != nil {
		ev.Err = err
		p.logger.Warn("poll failed", zap.Error(err))
	} else {
		ev.Reading = p.meter.Reading()
	}

	p.mu.Lock()
	p.polls++
	p.lastPoll = now
	if ev.Err != nil {
		p.failures++
		p.lastErr = ev.Err
	} else {
		ev.Anomalies = mcp39f511n.ValidateReading(ev.Reading, p.last, p.limits)
		r := ev.Reading
		p.last = &r
		p.lastOK = now
		p.lastErr = nil
	}
	handlers := append([]Handler(nil), p.handlers...)
	p.mu.Unlock()

	if len(ev.Anomalies) > 0 {
		p.meter.Engine().Statistics().RecordAnomalies(ev.Anomalies)
		for _, a := range ev.Anomalies {
			p.logger.Info("anomalous reading", zap.Stringer("type", a.Type), zap.String("message", a.Message))
		}
	}

	for _, h := range handlers {
		h(ev)
	}
	return ev
}

// Run polls immediately and then on every tick until ctx is done
func (p *Poller) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.PollOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			p.PollOnce(ctx)
		}
	}
}

// Last returns the last valid reading and when it was taken
func (p *Poller) Last() (mcp39f511n.Reading, time.Time, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.last == nil {
		return mcp39f511n.Reading{}, time.Time{}, false
	}
	return *p.last, p.lastOK, true
}

// Counts returns the number of polls and failed polls
func (p *Poller) Counts() (polls, failures uint64) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.polls, p.failures
}

// Health reports an error when no poll has succeeded within three
// intervals
func (p *Poller) Health() error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.lastOK.IsZero() {
		if p.lastErr != nil {
			return fmt.Errorf("%w: %v", ErrNoReading, p.lastErr)
		}
		return ErrNoReading
	}
	if age := time.Since(p.lastOK); age > 3*p.interval {
		if p.lastErr != nil {
			return fmt.Errorf("last good reading %s ago: %w", age.Round(time.Second), p.lastErr)
		}
		return fmt.Errorf("last good reading %s ago", age.Round(time.Second))
	}
	return nil
}
