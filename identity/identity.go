// Package identity derives the stable identifiers a username maps to.
//
// Both identifiers are one-way digests of the username under distinct
// namespaces, so the public assertion handle cannot be correlated with
// the internal user id by inspection, while re-registration by the same
// username keeps resolving to the same identifiers.
package identity

import (
	"crypto/sha256"
	"encoding/base64"
)

const (
	userNamespace   = "passkey-user:"
	handleNamespace = "passkey-handle:"
)

// UserID returns the internal user id for a username.
func UserID(username string) string {
	return digest(userNamespace + username)
}

// AssertionHandle returns the public user handle embedded in ceremony
// payloads for a username.
func AssertionHandle(username string) string {
	return digest(handleNamespace + username)
}

func digest(s string) string {
	sum := sha256.Sum256([]byte(s))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}
