// Copyright (c) 2026 Yomira. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package uuid_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/taibuivan/warden/pkg/uuid"
)

/*
TestNew issues distinct, valid, time-ordered identifiers.
*/
func TestNew(t *testing.T) {
	first, second := uuid.New(), uuid.New()

	assert.True(t, uuid.Valid(first))
	assert.NotEqual(t, first, second)
	assert.Equal(t, byte('7'), first[14])
}

/*
TestValid rejects anything that is not a UUID.
*/
func TestValid(t *testing.T) {
	assert.True(t, uuid.Valid("0190f3a4-7b7c-7cc2-8a1e-3f2d7e1b9c40"))
	assert.False(t, uuid.Valid(""))
	assert.False(t, uuid.Valid("rule-1"))
}
