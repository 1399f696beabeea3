package passkey

import (
	"context"
	"errors"
	"fmt"
	"time"

	"passkeygate/kv"
)

const (
	userKeyPrefix            = "passkey:user:"
	credentialKeyPrefix      = "passkey:credential:"
	challengeKeyPrefix       = "passkey:challenge:"
	managementTokenKeyPrefix = "passkey:mgmt_token:"

	// ChallengeTTL bounds how long an unconsumed ceremony stays open.
	ChallengeTTL = 300 * time.Second

	// ManagementTokenTTL bounds how long a minted management token
	// authorizes deletion.
	ManagementTokenTTL = 300 * time.Second
)

// Store provides typed accessors over the key-value store for the four
// persisted entity kinds. The underlying store offers no multi-key
// atomicity, so composite updates are multi-step sequences whose
// partial failures surface as errors rather than being rolled back.
type Store struct {
	kv kv.Store
}

// NewStore creates a Store over the given key-value adapter.
func NewStore(store kv.Store) *Store {
	return &Store{kv: store}
}

// User returns the user with the given id, or nil when absent.
func (s *Store) User(ctx context.Context, userID string) (*User, error) {
	var user User
	err := s.kv.Get(ctx, userKeyPrefix+userID, &user)
	if errors.Is(err, kv.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return &user, nil
}

// SaveUser persists a user record.
func (s *Store) SaveUser(ctx context.Context, user *User) error {
	if err := s.kv.Set(ctx, userKeyPrefix+user.ID, user, 0); err != nil {
		return fmt.Errorf("save user: %w", err)
	}
	return nil
}

// Credential returns the credential with the given id, or nil when
// absent.
func (s *Store) Credential(ctx context.Context, credentialID string) (*Credential, error) {
	var cred Credential
	err := s.kv.Get(ctx, credentialKeyPrefix+credentialID, &cred)
	if errors.Is(err, kv.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get credential: %w", err)
	}
	return &cred, nil
}

// SaveCredential persists a credential and appends its id to the
// owner's credential index if absent. A failure after the credential
// write leaves the index stale; the error is surfaced, not hidden.
func (s *Store) SaveCredential(ctx context.Context, cred *Credential) error {
	if err := s.kv.Set(ctx, credentialKeyPrefix+cred.ID, cred, 0); err != nil {
		return fmt.Errorf("save credential: %w", err)
	}

	user, err := s.User(ctx, cred.UserID)
	if err != nil {
		return fmt.Errorf("update credential index: %w", err)
	}
	if user == nil {
		return nil
	}
	for _, id := range user.CredentialIDs {
		if id == cred.ID {
			return nil
		}
	}
	user.CredentialIDs = append(user.CredentialIDs, cred.ID)
	if err := s.SaveUser(ctx, user); err != nil {
		return fmt.Errorf("update credential index: %w", err)
	}
	return nil
}

// UserCredentials resolves a user's credential index, skipping entries
// whose credential record no longer exists.
func (s *Store) UserCredentials(ctx context.Context, userID string) ([]Credential, error) {
	user, err := s.User(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, nil
	}

	credentials := make([]Credential, 0, len(user.CredentialIDs))
	for _, id := range user.CredentialIDs {
		cred, err := s.Credential(ctx, id)
		if err != nil {
			return nil, err
		}
		if cred != nil {
			credentials = append(credentials, *cred)
		}
	}
	return credentials, nil
}

// DeleteCredential removes a credential from its owner's index and
// deletes the record. It reports false when the credential did not
// exist.
func (s *Store) DeleteCredential(ctx context.Context, credentialID string) (bool, error) {
	cred, err := s.Credential(ctx, credentialID)
	if err != nil {
		return false, err
	}
	if cred == nil {
		return false, nil
	}

	user, err := s.User(ctx, cred.UserID)
	if err != nil {
		return false, err
	}
	if user != nil {
		kept := user.CredentialIDs[:0]
		for _, id := range user.CredentialIDs {
			if id != credentialID {
				kept = append(kept, id)
			}
		}
		user.CredentialIDs = kept
		if err := s.SaveUser(ctx, user); err != nil {
			return false, err
		}
	}

	if err := s.kv.Delete(ctx, credentialKeyPrefix+credentialID); err != nil {
		return false, fmt.Errorf("delete credential: %w", err)
	}
	return true, nil
}

// SaveChallenge persists an in-flight ceremony challenge under the
// fixed TTL.
func (s *Store) SaveChallenge(ctx context.Context, challengeID string, challenge Challenge) error {
	if err := s.kv.Set(ctx, challengeKeyPrefix+challengeID, challenge, ChallengeTTL); err != nil {
		return fmt.Errorf("save challenge: %w", err)
	}
	return nil
}

// ConsumeChallenge reads and destroys a challenge in one pass. It
// returns nil once the challenge has expired or was already consumed.
func (s *Store) ConsumeChallenge(ctx context.Context, challengeID string) (*Challenge, error) {
	var challenge Challenge
	err := s.kv.Get(ctx, challengeKeyPrefix+challengeID, &challenge)
	if errors.Is(err, kv.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get challenge: %w", err)
	}
	if err := s.kv.Delete(ctx, challengeKeyPrefix+challengeID); err != nil {
		return nil, fmt.Errorf("consume challenge: %w", err)
	}
	return &challenge, nil
}

// SaveManagementToken persists a management token bound to a user
// under the fixed TTL.
func (s *Store) SaveManagementToken(ctx context.Context, tokenID, userID string, at time.Time) error {
	token := ManagementToken{UserID: userID, CreatedAt: at}
	if err := s.kv.Set(ctx, managementTokenKeyPrefix+tokenID, token, ManagementTokenTTL); err != nil {
		return fmt.Errorf("save management token: %w", err)
	}
	return nil
}

// ValidateManagementToken reports whether the token exists and is bound
// to the expected user. The token is not consumed; it lapses by TTL.
func (s *Store) ValidateManagementToken(ctx context.Context, tokenID, expectedUserID string) (bool, error) {
	var token ManagementToken
	err := s.kv.Get(ctx, managementTokenKeyPrefix+tokenID, &token)
	if errors.Is(err, kv.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("get management token: %w", err)
	}
	return token.UserID == expectedUserID, nil
}
