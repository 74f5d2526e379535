// Copyright (c) 2026 Yomira. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package audit

import (
	"context"
	"log/slog"
	"slices"
	"sync"
)

// # Structured Log Sink

// LogSink writes every record as a structured log line. It never fails.
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink creates a sink on top of logger.
func NewLogSink(logger *slog.Logger) *LogSink {
	return &LogSink{logger: logger.With(slog.String("type", "audit"))}
}

// Name implements [Sink].
func (sink *LogSink) Name() string { return "log" }

// Record implements [Sink].
func (sink *LogSink) Record(ctx context.Context, event Event) error {
	level := slog.LevelInfo
	switch event.Severity {
	case SeverityWarning:
		level = slog.LevelWarn
	case SeverityCritical:
		level = slog.LevelError
	}

	sink.logger.Log(ctx, level, event.EventType,
		slog.String("audit_id", event.ID),
		slog.String("category", string(event.Category)),
		slog.String("user_id", event.UserID),
		slog.String("org_id", event.OrgID),
		slog.String("ip", event.IPAddress),
		slog.String("device_fingerprint", event.DeviceFingerprint),
		slog.Any("metadata", event.Metadata),
	)
	return nil
}

// RecordContentAccess implements [ContentSink].
func (sink *LogSink) RecordContentAccess(ctx context.Context, entry ContentAccess) error {
	sink.logger.InfoContext(ctx, EventContentDecision,
		slog.String("audit_id", entry.ID),
		slog.String("user_id", entry.UserID),
		slog.String("content_id", entry.ContentID),
		slog.String("access_type", entry.AccessType),
		slog.Bool("allowed", entry.Allowed),
		slog.Bool("watermark_applied", entry.WatermarkApplied),
	)
	return nil
}

// SetDuration implements [ContentSink].
func (sink *LogSink) SetDuration(ctx context.Context, userID, id string, seconds int) error {
	sink.logger.InfoContext(ctx, "content.duration_recorded",
		slog.String("user_id", userID),
		slog.String("audit_id", id),
		slog.Int("duration_seconds", seconds),
	)
	return nil
}

// # In-Memory Store

// MemoryStore keeps records in process. Used when no database is configured
// and by tests that assert on the audit trail.
type MemoryStore struct {
	mu      sync.RWMutex
	events  []Event
	content []ContentAccess
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Name implements [Sink].
func (store *MemoryStore) Name() string { return "memory" }

// Record implements [Sink].
func (store *MemoryStore) Record(_ context.Context, event Event) error {
	store.mu.Lock()
	defer store.mu.Unlock()
	store.events = append(store.events, event)
	return nil
}

// RecordContentAccess implements [ContentSink].
func (store *MemoryStore) RecordContentAccess(_ context.Context, entry ContentAccess) error {
	store.mu.Lock()
	defer store.mu.Unlock()
	store.content = append(store.content, entry)
	return nil
}

// SetDuration implements [ContentSink].
func (store *MemoryStore) SetDuration(_ context.Context, userID, id string, seconds int) error {
	store.mu.Lock()
	defer store.mu.Unlock()

	for i := range store.content {
		if store.content[i].ID == id && store.content[i].UserID == userID {
			value := seconds
			store.content[i].DurationSeconds = &value
			return nil
		}
	}
	return ErrContentAccessNotFound
}

// Events returns a copy of every recorded event, oldest first.
func (store *MemoryStore) Events() []Event {
	store.mu.RLock()
	defer store.mu.RUnlock()
	return slices.Clone(store.events)
}

// EventsOfType returns the recorded events with the given type.
func (store *MemoryStore) EventsOfType(eventType string) []Event {
	store.mu.RLock()
	defer store.mu.RUnlock()

	var result []Event
	for _, event := range store.events {
		if event.EventType == eventType {
			result = append(result, event)
		}
	}
	return result
}

// ContentAccesses returns a copy of every content entry, oldest first.
func (store *MemoryStore) ContentAccesses() []ContentAccess {
	store.mu.RLock()
	defer store.mu.RUnlock()
	return slices.Clone(store.content)
}
