package passkey

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"time"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/protocol/webauthncose"
	"github.com/google/uuid"

	"passkeygate/audit"
	"passkeygate/identity"
)

const ceremonyTimeoutMillis = 60000

var (
	ErrRegistrationParams      = errors.New("username and token are required")
	ErrMissingParameters       = errors.New("missing required parameters")
	ErrChallengeExpired        = errors.New("challenge expired or invalid")
	ErrChallengeMismatch       = errors.New("challenge mismatch")
	ErrOriginMismatch          = errors.New("origin mismatch")
	ErrInvalidCeremonyType     = errors.New("invalid operation type")
	ErrNoPasskey               = errors.New("no passkey found for this user")
	ErrCredentialNotFound      = errors.New("credential not found")
	ErrUserNotFound            = errors.New("user not found")
	ErrUsernameRequired        = errors.New("username is required")
	ErrDeleteParams            = errors.New("credential id and username are required")
	ErrManagementTokenRequired = errors.New("management token required, complete a passkey verification first")
	ErrCredentialMissing       = errors.New("credential does not exist")
	ErrNotAuthorized           = errors.New("not authorized to delete this credential")
	ErrManagementTokenInvalid  = errors.New("management token invalid or expired")
)

// RelyingParty is the service identity a ceremony is verified against,
// derived per-request from the caller's own host and origin.
type RelyingParty struct {
	ID     string
	Origin string
}

// Service is the ceremony orchestrator. It holds no state across
// requests; every invocation reconstructs context from the entities it
// reads through the store.
type Service struct {
	store  *Store
	rpName string
	audit  audit.Emitter

	// Injected capabilities. Tests swap these for fixtures.
	rand  io.Reader
	now   func() time.Time
	newID func() string
}

// NewService creates a ceremony orchestrator over the given store.
// The emitter may be nil to disable the audit trail.
func NewService(store *Store, rpName string, emitter audit.Emitter) *Service {
	return &Service{
		store:  store,
		rpName: rpName,
		audit:  emitter,
		rand:   rand.Reader,
		now:    time.Now,
		newID:  newRecordID,
	}
}

// newRecordID returns a compact random identifier for challenges and
// management tokens.
func newRecordID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// BeginRegistration starts a registration ceremony. If the user already
// exists, all of its credentials are deleted and its token refreshed
// immediately: re-running begin is the supported way to rotate a token
// even when the ceremony is never finished.
func (s *Service) BeginRegistration(ctx context.Context, rp RelyingParty, username, token string) (*RegistrationOptions, error) {
	if username == "" || token == "" {
		return nil, ErrRegistrationParams
	}

	userID := identity.UserID(username)

	user, err := s.store.User(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user != nil {
		// One active credential per user: drop everything the
		// user currently has before issuing new options.
		existing, err := s.store.UserCredentials(ctx, userID)
		if err != nil {
			return nil, err
		}
		for _, cred := range existing {
			if _, err := s.store.DeleteCredential(ctx, cred.ID); err != nil {
				return nil, err
			}
		}
		user.Token = token
		user.UpdatedAt = s.now()
		if err := s.store.SaveUser(ctx, user); err != nil {
			return nil, err
		}
	} else {
		user = &User{
			ID:            userID,
			Username:      username,
			Token:         token,
			CredentialIDs: []string{},
			CreatedAt:     s.now(),
		}
		if err := s.store.SaveUser(ctx, user); err != nil {
			return nil, err
		}
	}

	challengeBytes, challenge, err := s.newChallenge()
	if err != nil {
		return nil, err
	}
	handle := identity.AssertionHandle(username)

	options := protocol.PublicKeyCredentialCreationOptions{
		RelyingParty: protocol.RelyingPartyEntity{
			CredentialEntity: protocol.CredentialEntity{Name: s.rpName},
			ID:               rp.ID,
		},
		User: protocol.UserEntity{
			CredentialEntity: protocol.CredentialEntity{Name: username},
			DisplayName:      username,
			ID:               handle,
		},
		Challenge: challengeBytes,
		Parameters: []protocol.CredentialParameter{
			{Type: protocol.PublicKeyCredentialType, Algorithm: webauthncose.AlgES256},
			{Type: protocol.PublicKeyCredentialType, Algorithm: webauthncose.AlgRS256},
		},
		Timeout:     ceremonyTimeoutMillis,
		Attestation: protocol.PreferNoAttestation,
		// Exclude list stays empty so a username whose credential
		// was just deleted can register again.
		CredentialExcludeList: []protocol.CredentialDescriptor{},
		AuthenticatorSelection: protocol.AuthenticatorSelection{
			AuthenticatorAttachment: protocol.Platform,
			ResidentKey:             protocol.ResidentKeyRequirementPreferred,
			UserVerification:        protocol.VerificationPreferred,
		},
	}

	challengeID := s.newID()
	err = s.store.SaveChallenge(ctx, challengeID, Challenge{
		Challenge:       challenge,
		UserID:          userID,
		Username:        username,
		Token:           token,
		AssertionHandle: handle,
		CreatedAt:       s.now(),
	})
	if err != nil {
		return nil, err
	}

	return &RegistrationOptions{Options: options, ChallengeID: challengeID}, nil
}

// FinishRegistration verifies the client's answer to a registration
// ceremony and persists the resulting credential. Only the client data
// (challenge, origin, ceremony type) is checked; the attestation
// object is stored without cryptographic verification.
func (s *Service) FinishRegistration(ctx context.Context, rp RelyingParty, challengeID string, response *RegistrationResponse) (*RegistrationResult, error) {
	if challengeID == "" || response == nil || response.ID == "" {
		return nil, ErrMissingParameters
	}

	challenge, err := s.store.ConsumeChallenge(ctx, challengeID)
	if err != nil {
		return nil, err
	}
	if challenge == nil {
		return nil, ErrChallengeExpired
	}

	if err := verifyClientData(response.Response.ClientDataJSON, challenge.Challenge, rp, protocol.CreateCeremony); err != nil {
		return nil, err
	}

	transports := response.Response.Transports
	if transports == nil {
		transports = []protocol.AuthenticatorTransport{}
	}
	cred := &Credential{
		ID:              response.ID,
		PublicKey:       response.Response.AttestationObject,
		Counter:         0,
		Transports:      transports,
		DeviceType:      "multiDevice",
		BackedUp:        true,
		UserID:          challenge.UserID,
		AssertionHandle: challenge.AssertionHandle,
		CreatedAt:       s.now(),
	}
	if err := s.store.SaveCredential(ctx, cred); err != nil {
		return nil, err
	}

	// Refresh the token from the challenge context a second time: the
	// begin-phase write may have lost a race with a concurrent update.
	user, err := s.store.User(ctx, challenge.UserID)
	if err != nil {
		return nil, err
	}
	if user != nil {
		user.Token = challenge.Token
		user.UpdatedAt = s.now()
		if err := s.store.SaveUser(ctx, user); err != nil {
			return nil, err
		}
	}

	s.emit(ctx, audit.Event{
		Kind:         audit.KindCredentialRegistered,
		Username:     challenge.Username,
		UserID:       challenge.UserID,
		CredentialID: cred.ID,
		At:           s.now(),
	})

	return &RegistrationResult{Verified: true, CredentialID: response.ID}, nil
}

// BeginAuthentication starts an authentication ceremony. With a
// username the options carry an allow-list of that user's credentials;
// without one the list stays empty and the authenticator picks a
// discoverable credential.
func (s *Service) BeginAuthentication(ctx context.Context, rp RelyingParty, username string) (*AuthenticationOptions, error) {
	allowed := []protocol.CredentialDescriptor{}
	userID := ""

	if username != "" {
		userID = identity.UserID(username)
		credentials, err := s.store.UserCredentials(ctx, userID)
		if err != nil {
			return nil, err
		}
		if len(credentials) == 0 {
			return nil, ErrNoPasskey
		}
		for _, cred := range credentials {
			allowed = append(allowed, protocol.CredentialDescriptor{
				Type:         protocol.PublicKeyCredentialType,
				CredentialID: decodeCredentialID(cred.ID),
				Transport:    cred.Transports,
			})
		}
	}

	challengeBytes, challenge, err := s.newChallenge()
	if err != nil {
		return nil, err
	}

	options := protocol.PublicKeyCredentialRequestOptions{
		Challenge:          challengeBytes,
		Timeout:            ceremonyTimeoutMillis,
		RelyingPartyID:     rp.ID,
		UserVerification:   protocol.VerificationPreferred,
		AllowedCredentials: allowed,
	}

	challengeID := s.newID()
	err = s.store.SaveChallenge(ctx, challengeID, Challenge{
		Challenge: challenge,
		UserID:    userID,
		CreatedAt: s.now(),
	})
	if err != nil {
		return nil, err
	}

	return &AuthenticationOptions{Options: options, ChallengeID: challengeID}, nil
}

// FinishAuthentication verifies the client's answer to an
// authentication ceremony and returns the owning user's username and
// opaque token.
func (s *Service) FinishAuthentication(ctx context.Context, rp RelyingParty, challengeID string, response *AuthenticationResponse) (*AuthenticationResult, error) {
	cred, user, err := s.verifyAssertion(ctx, rp, challengeID, response)
	if err != nil {
		return nil, err
	}

	cred.LastUsedAt = s.now()
	if err := s.store.SaveCredential(ctx, cred); err != nil {
		return nil, err
	}

	s.emit(ctx, audit.Event{
		Kind:         audit.KindUserAuthenticated,
		Username:     user.Username,
		UserID:       user.ID,
		CredentialID: cred.ID,
		At:           s.now(),
	})

	return &AuthenticationResult{Verified: true, Username: user.Username, Token: user.Token}, nil
}

// GenerateManagementToken runs the authentication verification
// pipeline and, on success, mints a short-lived token authorizing
// credential deletion for the owning user.
func (s *Service) GenerateManagementToken(ctx context.Context, rp RelyingParty, challengeID string, response *AuthenticationResponse) (*ManagementTokenResult, error) {
	cred, user, err := s.verifyAssertion(ctx, rp, challengeID, response)
	if err != nil {
		return nil, err
	}

	tokenID := s.newID()
	if err := s.store.SaveManagementToken(ctx, tokenID, cred.UserID, s.now()); err != nil {
		return nil, err
	}

	s.emit(ctx, audit.Event{
		Kind:         audit.KindManagementTokenIssued,
		Username:     user.Username,
		UserID:       user.ID,
		CredentialID: cred.ID,
		At:           s.now(),
	})

	return &ManagementTokenResult{ManagementToken: tokenID, Username: user.Username}, nil
}

// verifyAssertion is the shared finish-phase pipeline of the
// authentication-shaped ceremonies: consume the challenge, resolve
// credential and owner, check the client data.
func (s *Service) verifyAssertion(ctx context.Context, rp RelyingParty, challengeID string, response *AuthenticationResponse) (*Credential, *User, error) {
	if challengeID == "" || response == nil || response.ID == "" {
		return nil, nil, ErrMissingParameters
	}

	challenge, err := s.store.ConsumeChallenge(ctx, challengeID)
	if err != nil {
		return nil, nil, err
	}
	if challenge == nil {
		return nil, nil, ErrChallengeExpired
	}

	// Lookup is keyed by the client-asserted credential id alone; the
	// user id recorded at begin time is not cross-checked.
	cred, err := s.store.Credential(ctx, response.ID)
	if err != nil {
		return nil, nil, err
	}
	if cred == nil {
		return nil, nil, ErrCredentialNotFound
	}

	user, err := s.store.User(ctx, cred.UserID)
	if err != nil {
		return nil, nil, err
	}
	if user == nil {
		return nil, nil, ErrUserNotFound
	}

	if err := verifyClientData(response.Response.ClientDataJSON, challenge.Challenge, rp, protocol.AssertCeremony); err != nil {
		return nil, nil, err
	}

	return cred, user, nil
}

// ListCredentials returns the safe projection of a user's credentials.
// An unknown username yields an empty list, not an error.
func (s *Service) ListCredentials(ctx context.Context, username string) ([]CredentialSummary, error) {
	if username == "" {
		return nil, ErrUsernameRequired
	}

	credentials, err := s.store.UserCredentials(ctx, identity.UserID(username))
	if err != nil {
		return nil, err
	}

	summaries := make([]CredentialSummary, 0, len(credentials))
	for _, cred := range credentials {
		summaries = append(summaries, CredentialSummary{
			ID:         cred.ID,
			DeviceType: cred.DeviceType,
			BackedUp:   cred.BackedUp,
			CreatedAt:  cred.CreatedAt,
			LastUsedAt: cred.LastUsedAt,
		})
	}
	return summaries, nil
}

// DeleteCredential removes a credential after the authorization gate:
// the username must resolve to the credential's owner and the
// management token must be bound to that same owner.
func (s *Service) DeleteCredential(ctx context.Context, credentialID, username, managementToken string) (*DeleteResult, error) {
	if credentialID == "" || username == "" {
		return nil, ErrDeleteParams
	}
	if managementToken == "" {
		return nil, ErrManagementTokenRequired
	}

	cred, err := s.store.Credential(ctx, credentialID)
	if err != nil {
		return nil, err
	}
	if cred == nil {
		return nil, ErrCredentialMissing
	}

	userID := identity.UserID(username)
	if cred.UserID != userID {
		return nil, ErrNotAuthorized
	}

	valid, err := s.store.ValidateManagementToken(ctx, managementToken, userID)
	if err != nil {
		return nil, err
	}
	if !valid {
		return nil, ErrManagementTokenInvalid
	}

	if _, err := s.store.DeleteCredential(ctx, credentialID); err != nil {
		return nil, err
	}

	s.emit(ctx, audit.Event{
		Kind:         audit.KindCredentialDeleted,
		Username:     username,
		UserID:       userID,
		CredentialID: credentialID,
		At:           s.now(),
	})

	return &DeleteResult{Deleted: true}, nil
}

func (s *Service) newChallenge() (protocol.URLEncodedBase64, string, error) {
	buf := make([]byte, 32)
	if _, err := io.ReadFull(s.rand, buf); err != nil {
		return nil, "", fmt.Errorf("generate challenge: %w", err)
	}
	return buf, base64.RawURLEncoding.EncodeToString(buf), nil
}

func (s *Service) emit(ctx context.Context, event audit.Event) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Emit(ctx, event); err != nil {
		log.Printf("audit: emit %s: %v", event.Kind, err)
	}
}

// verifyClientData checks the client data structure in the fixed
// order: challenge, origin, ceremony type.
func verifyClientData(raw protocol.URLEncodedBase64, expectedChallenge string, rp RelyingParty, ceremony protocol.CeremonyType) error {
	var clientData protocol.CollectedClientData
	if err := json.Unmarshal(raw, &clientData); err != nil {
		return fmt.Errorf("verification failed: decode client data: %w", err)
	}
	if clientData.Challenge != expectedChallenge {
		return fmt.Errorf("verification failed: %w", ErrChallengeMismatch)
	}
	if clientData.Origin != rp.Origin {
		return fmt.Errorf("verification failed: %w: expected %s, got %s", ErrOriginMismatch, rp.Origin, clientData.Origin)
	}
	if clientData.Type != ceremony {
		return fmt.Errorf("verification failed: %w", ErrInvalidCeremonyType)
	}
	return nil
}

// decodeCredentialID maps a stored credential id back to its raw
// bytes. Ids arrive from the browser base64url-encoded; anything that
// does not decode is carried through verbatim.
func decodeCredentialID(id string) protocol.URLEncodedBase64 {
	raw, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(id, "="))
	if err != nil {
		return protocol.URLEncodedBase64(id)
	}
	return raw
}
