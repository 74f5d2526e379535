// Copyright (c) 2026 Yomira. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package guard

import (
	"context"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/taibuivan/warden/pkg/slice"
)

// # Data Access Contracts

// UserState is everything admission needs about one user.
type UserState struct {
	Devices []Device

	// Sessions holds the active sessions; some may already be past expiry.
	Sessions []Session
}

// device returns a copy of the record for fingerprint, or nil when unseen.
func (state UserState) device(fingerprint string) *Device {
	for _, device := range state.Devices {
		if device.Fingerprint == fingerprint {
			copied := device
			return &copied
		}
	}
	return nil
}

// Changes is the complete set of writes one decision implies.
type Changes struct {
	// Device is inserted or replaced.
	Device *Device

	// Create inserts a new session.
	Create *Session

	// Refresh updates last_active_at and expires_at of an existing session.
	Refresh *Session

	// Deactivate ends sessions by ID.
	Deactivate []string
}

// IsEmpty reports whether there is nothing to write.
func (changes Changes) IsEmpty() bool {
	return changes.Device == nil && changes.Create == nil && changes.Refresh == nil && len(changes.Deactivate) == 0
}

// Repository persists devices and sessions.
type Repository interface {

	// LoadUserState returns all devices and active sessions of userID.
	LoadUserState(ctx context.Context, userID string) (UserState, error)

	/*
		Apply writes changes for userID atomically: either all of them become
		visible or none. A cancelled context before commit must leave storage
		untouched.
	*/
	Apply(ctx context.Context, userID string, changes Changes) error

	// FindSession returns the session with the given token digest or [ErrSessionNotFound].
	FindSession(ctx context.Context, tokenHash string) (*Session, error)

	// DeactivateExpired ends every active session whose expiry is not after now.
	DeactivateExpired(ctx context.Context, now time.Time) (int, error)
}

// # In-Memory Implementation

type userRecord struct {
	devices  map[string]Device
	sessions map[string]Session
}

// MemoryRepository keeps devices and sessions in process.
type MemoryRepository struct {
	mu       sync.RWMutex
	users    map[string]*userRecord
	byHash   map[string]string
	byID     map[string]string
	failNext error
}

// NewMemoryRepository creates an empty repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		users:  make(map[string]*userRecord),
		byHash: make(map[string]string),
		byID:   make(map[string]string),
	}
}

func (repository *MemoryRepository) record(userID string) *userRecord {
	record, ok := repository.users[userID]
	if !ok {
		record = &userRecord{devices: make(map[string]Device), sessions: make(map[string]Session)}
		repository.users[userID] = record
	}
	return record
}

// LoadUserState implements [Repository].
func (repository *MemoryRepository) LoadUserState(_ context.Context, userID string) (UserState, error) {
	repository.mu.RLock()
	defer repository.mu.RUnlock()

	state := UserState{}
	record, ok := repository.users[userID]
	if !ok {
		return state, nil
	}

	state.Devices = slices.Collect(maps.Values(record.devices))
	state.Sessions = slice.Filter(slices.Collect(maps.Values(record.sessions)), func(session Session) bool {
		return session.IsActive
	})

	slices.SortFunc(state.Devices, func(a, b Device) int { return a.FirstSeenAt.Compare(b.FirstSeenAt) })
	slices.SortFunc(state.Sessions, func(a, b Session) int { return a.CreatedAt.Compare(b.CreatedAt) })
	return state, nil
}

// Apply implements [Repository].
func (repository *MemoryRepository) Apply(ctx context.Context, userID string, changes Changes) error {
	repository.mu.Lock()
	defer repository.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	if err := repository.failNext; err != nil {
		repository.failNext = nil
		return err
	}

	record := repository.record(userID)

	if changes.Device != nil {
		record.devices[changes.Device.Fingerprint] = *changes.Device
	}
	for _, id := range changes.Deactivate {
		if session, ok := record.sessions[id]; ok {
			session.IsActive = false
			record.sessions[id] = session
		}
	}
	if changes.Refresh != nil {
		if session, ok := record.sessions[changes.Refresh.ID]; ok {
			session.LastActiveAt = changes.Refresh.LastActiveAt
			session.ExpiresAt = changes.Refresh.ExpiresAt
			record.sessions[session.ID] = session
		}
	}
	if changes.Create != nil {
		record.sessions[changes.Create.ID] = *changes.Create
		repository.byHash[changes.Create.TokenHash] = changes.Create.ID
		repository.byID[changes.Create.ID] = userID
	}
	return nil
}

// FindSession implements [Repository].
func (repository *MemoryRepository) FindSession(_ context.Context, tokenHash string) (*Session, error) {
	repository.mu.RLock()
	defer repository.mu.RUnlock()

	id, ok := repository.byHash[tokenHash]
	if !ok {
		return nil, ErrSessionNotFound
	}
	session := repository.users[repository.byID[id]].sessions[id]
	return &session, nil
}

// DeactivateExpired implements [Repository].
func (repository *MemoryRepository) DeactivateExpired(_ context.Context, now time.Time) (int, error) {
	repository.mu.Lock()
	defer repository.mu.Unlock()

	count := 0
	for _, record := range repository.users {
		for id, session := range record.sessions {
			if session.IsActive && !now.Before(session.ExpiresAt) {
				session.IsActive = false
				record.sessions[id] = session
				count++
			}
		}
	}
	return count, nil
}

// FailNextApply makes the next Apply return err without writing. Used by tests
// to simulate a failed commit.
func (repository *MemoryRepository) FailNextApply(err error) {
	repository.mu.Lock()
	defer repository.mu.Unlock()
	repository.failNext = err
}
