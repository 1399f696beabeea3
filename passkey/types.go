package passkey

import (
	"time"

	"github.com/go-webauthn/webauthn/protocol"
)

// User is an account keyed by the deterministic hash of its username.
// Token is an opaque caller-supplied secret returned on successful
// authentication.
type User struct {
	ID            string    `json:"id"`
	Username      string    `json:"username"`
	Token         string    `json:"token"`
	CredentialIDs []string  `json:"credentialIds"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt,omitempty"`
}

// Credential is a stored public-key registration record bound to
// exactly one user. PublicKey holds the attestation object verbatim;
// it is never cryptographically verified.
type Credential struct {
	ID              string                            `json:"id"`
	PublicKey       protocol.URLEncodedBase64         `json:"publicKey"`
	Counter         uint32                            `json:"counter"`
	Transports      []protocol.AuthenticatorTransport `json:"transports"`
	DeviceType      string                            `json:"deviceType"`
	BackedUp        bool                              `json:"backedUp"`
	UserID          string                            `json:"userId"`
	AssertionHandle string                            `json:"webAuthnUserID"`
	CreatedAt       time.Time                         `json:"createdAt"`
	LastUsedAt      time.Time                         `json:"lastUsedAt,omitempty"`
}

// Challenge is the server-side half of an in-flight ceremony. For
// registration it carries the full user context; for authentication
// only the (possibly empty) user id.
type Challenge struct {
	Challenge       string    `json:"challenge"`
	UserID          string    `json:"userId,omitempty"`
	Username        string    `json:"username,omitempty"`
	Token           string    `json:"token,omitempty"`
	AssertionHandle string    `json:"webAuthnUserID,omitempty"`
	CreatedAt       time.Time `json:"createdAt"`
}

// ManagementToken authorizes credential deletion for the bound user
// until its TTL lapses. It is not consumed on use.
type ManagementToken struct {
	UserID    string    `json:"userId"`
	CreatedAt time.Time `json:"createdAt"`
}

// CredentialSummary is the safe projection returned by listCredentials.
// Public key material and the owner id are never exposed.
type CredentialSummary struct {
	ID         string    `json:"id"`
	DeviceType string    `json:"deviceType"`
	BackedUp   bool      `json:"backedUp"`
	CreatedAt  time.Time `json:"createdAt"`
	LastUsedAt time.Time `json:"lastUsedAt,omitempty"`
}

// AuthenticatorAttestation carries the client fields consumed during
// registration verification. The attestation object is stored as-is.
type AuthenticatorAttestation struct {
	ClientDataJSON    protocol.URLEncodedBase64         `json:"clientDataJSON"`
	AttestationObject protocol.URLEncodedBase64         `json:"attestationObject"`
	Transports        []protocol.AuthenticatorTransport `json:"transports,omitempty"`
}

// RegistrationResponse mirrors the browser's PublicKeyCredential
// produced by navigator.credentials.create.
type RegistrationResponse struct {
	ID       string                   `json:"id"`
	Response AuthenticatorAttestation `json:"response"`
}

// AuthenticatorAssertion carries the client fields consumed during
// authentication verification.
type AuthenticatorAssertion struct {
	ClientDataJSON protocol.URLEncodedBase64 `json:"clientDataJSON"`
}

// AuthenticationResponse mirrors the browser's PublicKeyCredential
// produced by navigator.credentials.get.
type AuthenticationResponse struct {
	ID       string                 `json:"id"`
	Response AuthenticatorAssertion `json:"response"`
}

// RegistrationOptions is the begin-phase payload of a registration
// ceremony.
type RegistrationOptions struct {
	Options     protocol.PublicKeyCredentialCreationOptions `json:"options"`
	ChallengeID string                                      `json:"challengeId"`
}

// AuthenticationOptions is the begin-phase payload of an authentication
// ceremony.
type AuthenticationOptions struct {
	Options     protocol.PublicKeyCredentialRequestOptions `json:"options"`
	ChallengeID string                                     `json:"challengeId"`
}

// RegistrationResult reports a verified registration.
type RegistrationResult struct {
	Verified     bool   `json:"verified"`
	CredentialID string `json:"credentialId"`
}

// AuthenticationResult reports a verified authentication. Token is the
// user's opaque secret, returned in plaintext so a passkey ceremony can
// substitute for manual token entry.
type AuthenticationResult struct {
	Verified bool   `json:"verified"`
	Username string `json:"username"`
	Token    string `json:"token"`
}

// ManagementTokenResult reports a freshly minted management token.
type ManagementTokenResult struct {
	ManagementToken string `json:"managementToken"`
	Username        string `json:"username"`
}

// DeleteResult reports a completed credential deletion.
type DeleteResult struct {
	Deleted bool `json:"deleted"`
}
