// Copyright (c) 2026 Yomira. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package guard

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/taibuivan/warden/internal/access/audit"
	"github.com/taibuivan/warden/internal/platform/sec"
	"github.com/taibuivan/warden/pkg/slice"
)

// sessionTokenBytes is the entropy of a new session token.
const sessionTokenBytes = 32

// Session is one login. The raw token is only returned at admission; storage
// keeps its digest.
type Session struct {
	ID                string    `json:"id"`
	TokenHash         string    `json:"-"`
	UserID            string    `json:"user_id"`
	OrgID             string    `json:"org_id"`
	DeviceFingerprint string    `json:"device_fingerprint"`
	IPAddress         string    `json:"ip_address,omitempty"`
	UserAgent         string    `json:"user_agent,omitempty"`
	IsActive          bool      `json:"is_active"`
	CreatedAt         time.Time `json:"created_at"`
	LastActiveAt      time.Time `json:"last_active_at"`
	ExpiresAt         time.Time `json:"expires_at"`
}

// Live reports whether the session is active and not expired at now.
func (session Session) Live(now time.Time) bool {
	return session.IsActive && now.Before(session.ExpiresAt)
}

// liveSessions returns the live sessions, least recently active first.
func liveSessions(sessions []Session, now time.Time) []Session {
	live := slice.Filter(sessions, func(session Session) bool { return session.Live(now) })
	slices.SortFunc(live, func(a, b Session) int {
		if order := a.LastActiveAt.Compare(b.LastActiveAt); order != 0 {
			return order
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return live
}

// # Session Lifecycle

// TouchSession refreshes last_active_at of a live session.
func (guard *Guard) TouchSession(ctx context.Context, token string) (*Session, error) {
	session, err := guard.liveSession(ctx, token)
	if err != nil {
		return nil, err
	}

	unlock, err := guard.lockUser(ctx, session.UserID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	session.LastActiveAt = guard.now().UTC()
	if err := guard.repository.Apply(ctx, session.UserID, Changes{Refresh: session}); err != nil {
		return nil, err
	}
	return session, nil
}

// EndSession deactivates a session. Ending an already ended session is not an error.
func (guard *Guard) EndSession(ctx context.Context, token, actorID string) error {
	session, err := guard.repository.FindSession(ctx, sec.HashToken(token))
	if err != nil {
		return err
	}
	if !session.IsActive {
		return nil
	}

	unlock, err := guard.lockUser(ctx, session.UserID)
	if err != nil {
		return err
	}
	err = guard.repository.Apply(ctx, session.UserID, Changes{Deactivate: []string{session.ID}})
	unlock()
	if err != nil {
		return err
	}

	guard.emitter.Emit(ctx, audit.Event{
		EventType:         audit.EventSessionEnded,
		Category:          audit.CategorySession,
		UserID:            session.UserID,
		OrgID:             session.OrgID,
		IPAddress:         session.IPAddress,
		DeviceFingerprint: session.DeviceFingerprint,
		Metadata:          map[string]any{"session_id": session.ID, "actor_id": actorID},
	})
	return nil
}

// FindSession returns the live session behind token.
func (guard *Guard) FindSession(ctx context.Context, token string) (*Session, error) {
	return guard.liveSession(ctx, token)
}

// SweepExpired deactivates every expired session and reports how many.
func (guard *Guard) SweepExpired(ctx context.Context) (int, error) {
	count, err := guard.repository.DeactivateExpired(ctx, guard.now().UTC())
	if err != nil {
		return 0, fmt.Errorf("guard: sweep expired sessions: %w", err)
	}
	if count > 0 {
		guard.logger.InfoContext(ctx, "expired_sessions_swept", slog.Int("count", count))
	}
	return count, nil
}

// RunSweeper calls [Guard.SweepExpired] every interval until ctx is done.
func (guard *Guard) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := guard.SweepExpired(ctx); err != nil {
				guard.logger.ErrorContext(ctx, "session_sweep_failed", slog.Any("error", err))
			}
		}
	}
}

func (guard *Guard) liveSession(ctx context.Context, token string) (*Session, error) {
	if token == "" {
		return nil, ErrSessionNotFound
	}
	session, err := guard.repository.FindSession(ctx, sec.HashToken(token))
	if err != nil {
		return nil, err
	}
	if !session.Live(guard.now()) {
		return nil, ErrSessionNotFound
	}
	return session, nil
}
