// Copyright (c) 2026 Yomira. All rights reserved.
// Author: tai.buivan.jp@gmail.com

/*
Package uuid issues the identifiers of sessions, IP rules and audit records.

Identifiers are version 7 UUIDs rendered as strings, so they sort by creation
time both in memory and in PostgreSQL B-tree indexes.
*/
package uuid

import "github.com/google/uuid"

// New generates a new UUIDv7 string.
func New() string {
	id, err := uuid.NewV7()

	// entropy failure is an unrecoverable system-level error
	if err != nil {
		panic("uuid: failed to generate UUIDv7: " + err.Error())
	}
	return id.String()
}

// Valid reports whether id is a well-formed UUID of any version.
func Valid(id string) bool {
	return uuid.Validate(id) == nil
}
