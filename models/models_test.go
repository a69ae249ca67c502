package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPresenceCodes(t *testing.T) {
	assert.Equal(t, "+", PresenceOnline.Code())
	assert.Equal(t, "-", PresenceBusy.Code())
	assert.Equal(t, "0", PresenceOffline.Code())
}

func TestPresenceFromCode(t *testing.T) {
	p, ok := PresenceFromCode("+")
	assert.True(t, ok)
	assert.Equal(t, PresenceOnline, p)

	p, ok = PresenceFromCode("-")
	assert.True(t, ok)
	assert.Equal(t, PresenceBusy, p)

	// Offline is never reachable through a code: only logoff and
	// disconnect paths set it.
	_, ok = PresenceFromCode("0")
	assert.False(t, ok)
	_, ok = PresenceFromCode("busy")
	assert.False(t, ok)
}
