// Package auth derives the opaque credential string carried on the wire.
// The server never sees a password: clients hash locally and the server
// compares the resulting strings byte for byte, so the derivation must be
// deterministic for a given username and password.
package auth

import (
	"crypto/sha256"
	"encoding/base64"

	"golang.org/x/crypto/pbkdf2"
)

const (
	iterations = 4096
	keyLen     = 32
	saltPrefix = "smsg:"
)

// HashCredential derives the credential hash sent in REGUSER and LOGIN
// lines. The salt is bound to the username so equal passwords on different
// accounts produce different hashes. The raw key bytes are base64-encoded
// directly, never round-tripped through a text type.
func HashCredential(username, password string) string {
	key := pbkdf2.Key([]byte(password), []byte(saltPrefix+username), iterations, keyLen, sha256.New)
	return base64.StdEncoding.EncodeToString(key)
}
