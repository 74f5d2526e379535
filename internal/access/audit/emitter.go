// Copyright (c) 2026 Yomira. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package audit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/taibuivan/warden/internal/platform/metrics"
	"github.com/taibuivan/warden/pkg/uuid"
)

// ErrContentAccessNotFound is returned when a duration update targets an unknown entry.
var ErrContentAccessNotFound = errors.New("content access log entry not found")

// errBacklogFull is counted when a delivery is dropped because too many are in flight.
var errBacklogFull = errors.New("audit: delivery backlog full")

// Delivery bounds. A caller waits at most handoffWait for its entries; a sink
// call that outlives it continues in the background under deliveryTimeout.
const (
	handoffWait     = 200 * time.Millisecond
	deliveryTimeout = 5 * time.Second
	maxInFlight     = 256
)

// # Sink Contracts

// Sink persists SecurityAuditLog entries.
type Sink interface {
	Name() string
	Record(ctx context.Context, event Event) error
}

// ContentSink persists ContentAccessLog entries.
type ContentSink interface {
	Name() string
	RecordContentAccess(ctx context.Context, entry ContentAccess) error
	// SetDuration updates the entry only when it belongs to userID.
	SetDuration(ctx context.Context, userID, id string, seconds int) error
}

// # Emitter

// Emitter stamps records and fans them out to every configured sink.
type Emitter struct {
	sinks        []Sink
	contentSinks []ContentSink
	logger       *slog.Logger
	metrics      *metrics.Metrics
	now          func() time.Time

	wait     time.Duration
	timeout  time.Duration
	inFlight chan struct{}
}

// NewEmitter creates an Emitter. A nil logger falls back to [slog.Default].
func NewEmitter(logger *slog.Logger, collector *metrics.Metrics, sinks []Sink, contentSinks []ContentSink) *Emitter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Emitter{
		sinks:        sinks,
		contentSinks: contentSinks,
		logger:       logger,
		metrics:      collector,
		now:          time.Now,
		wait:         handoffWait,
		timeout:      deliveryTimeout,
		inFlight:     make(chan struct{}, maxInFlight),
	}
}

// WithDeliveryLimits replaces the hand-off wait, the per-sink timeout and the
// in-flight cap. Intended for tests.
func (e *Emitter) WithDeliveryLimits(wait, timeout time.Duration, inFlight int) *Emitter {
	e.wait, e.timeout = wait, timeout
	e.inFlight = make(chan struct{}, inFlight)
	return e
}

/*
Emit delivers events to every sink. Failures are logged and counted, never returned.

The caller's cancellation and deadline are detached: once a decision is made
its trail must not be lost because the client hung up. Emit returns once the
sinks are done or after a short hand-off wait, whichever comes first, so a
stalled sink never holds up a decision.
*/
func (e *Emitter) Emit(ctx context.Context, events ...Event) {
	if e == nil || len(events) == 0 {
		return
	}

	for i := range events {
		if events[i].ID == "" {
			events[i].ID = uuid.New()
		}
		if events[i].CreatedAt.IsZero() {
			events[i].CreatedAt = e.now().UTC()
		}
		if events[i].Severity == "" {
			events[i].Severity = SeverityInfo
		}
	}

	e.dispatch(ctx, events[0].EventType, len(events), func(base context.Context) {
		for _, event := range events {
			for _, sink := range e.sinks {
				sinkCtx, cancel := context.WithTimeout(base, e.timeout)
				err := sink.Record(sinkCtx, event)
				cancel()
				if err != nil {
					e.deliveryFailed(sink.Name(), event.EventType, err)
				}
			}
		}
	})
}

// EmitContentAccess delivers one content access entry and returns its ID so the
// caller can attach the viewing duration later.
func (e *Emitter) EmitContentAccess(ctx context.Context, entry ContentAccess) string {
	if entry.ID == "" {
		entry.ID = uuid.New()
	}
	if e == nil {
		return entry.ID
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = e.now().UTC()
	}

	e.dispatch(ctx, EventContentDecision, 1, func(base context.Context) {
		for _, sink := range e.contentSinks {
			sinkCtx, cancel := context.WithTimeout(base, e.timeout)
			err := sink.RecordContentAccess(sinkCtx, entry)
			cancel()
			if err != nil {
				e.deliveryFailed(sink.Name(), EventContentDecision, err)
			}
		}
	})

	return entry.ID
}

// dispatch runs deliver in the background and waits for it up to e.wait.
// When maxInFlight deliveries are already running the entries are dropped.
func (e *Emitter) dispatch(ctx context.Context, eventType string, count int, deliver func(context.Context)) {
	select {
	case e.inFlight <- struct{}{}:
	default:
		for range count {
			e.deliveryFailed("backlog", eventType, errBacklogFull)
		}
		return
	}

	done := make(chan struct{})
	go func() {
		defer func() {
			<-e.inFlight
			close(done)
		}()
		deliver(context.WithoutCancel(ctx))
	}()

	timer := time.NewTimer(e.wait)
	defer timer.Stop()

	select {
	case <-done:
	case <-timer.C:
		e.logger.Warn("audit_delivery_detached",
			slog.String("event_type", eventType),
			slog.Int("entries", count),
		)
	}
}

// RecordDuration fills in duration_seconds on a content entry owned by userID.
// An entry of another user is reported as [ErrContentAccessNotFound].
//
// Unlike the decision paths this is an explicit caller mutation, so the first
// sink error is returned.
func (e *Emitter) RecordDuration(ctx context.Context, userID, id string, seconds int) error {
	if seconds < 0 {
		return fmt.Errorf("audit: duration must not be negative")
	}
	if e == nil {
		return ErrContentAccessNotFound
	}

	var firstErr error
	for _, sink := range e.contentSinks {
		if err := sink.SetDuration(ctx, userID, id, seconds); err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("audit: %s: %w", sink.Name(), err)
			}
		}
	}
	return firstErr
}

// deliveryFailed is the operator side channel for lost audit entries.
func (e *Emitter) deliveryFailed(sink, eventType string, err error) {
	e.metrics.AuditFailure(sink)
	e.logger.Error("audit_delivery_failed",
		slog.String("sink", sink),
		slog.String("event_type", eventType),
		slog.Any("error", err),
	)
}
