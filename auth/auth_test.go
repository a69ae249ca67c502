package auth

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashCredentialDeterministic(t *testing.T) {
	a := HashCredential("alice", "secret")
	b := HashCredential("alice", "secret")
	assert.Equal(t, a, b)
}

func TestHashCredentialDiffers(t *testing.T) {
	base := HashCredential("alice", "secret")
	assert.NotEqual(t, base, HashCredential("alice", "other"))
	// Same password on another account must not produce the same hash.
	assert.NotEqual(t, base, HashCredential("bob", "secret"))
}

func TestHashCredentialEncoding(t *testing.T) {
	raw, err := base64.StdEncoding.DecodeString(HashCredential("alice", "secret"))
	require.NoError(t, err)
	assert.Len(t, raw, 32)
}
