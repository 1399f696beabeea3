package passkey

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/stretchr/testify/require"

	"passkeygate/audit"
	"passkeygate/kv"
)

var testRP = RelyingParty{ID: "example.com", Origin: "https://example.com"}

type testClock struct {
	now time.Time
}

func (c *testClock) Now() time.Time {
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.now = c.now.Add(d)
}

type fixture struct {
	clock    *testClock
	kv       *kv.MemoryStore
	store    *Store
	service  *Service
	recorder *audit.Recorder
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	clock := &testClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	mem := kv.NewMemoryStoreWithClock(clock.Now)
	store := NewStore(mem)
	recorder := &audit.Recorder{}

	service := NewService(store, "Passkey Gate", recorder)
	service.now = clock.Now
	service.rand = rand.New(rand.NewSource(1))
	ids := 0
	service.newID = func() string {
		ids++
		return fmt.Sprintf("record-%d", ids)
	}

	return &fixture{
		clock:    clock,
		kv:       mem,
		store:    store,
		service:  service,
		recorder: recorder,
	}
}

// register runs a full registration ceremony and returns the
// credential id.
func (f *fixture) register(t *testing.T, username, token, credentialID string) string {
	t.Helper()
	ctx := context.Background()

	opts, err := f.service.BeginRegistration(ctx, testRP, username, token)
	require.NoError(t, err)

	response := registrationResponse(credentialID, clientData(protocol.CreateCeremony, challengeString(opts.Options.Challenge), testRP.Origin))
	result, err := f.service.FinishRegistration(ctx, testRP, opts.ChallengeID, response)
	require.NoError(t, err)
	require.True(t, result.Verified)

	return result.CredentialID
}

func challengeString(challenge protocol.URLEncodedBase64) string {
	return base64.RawURLEncoding.EncodeToString(challenge)
}

func clientData(ceremony protocol.CeremonyType, challenge, origin string) protocol.URLEncodedBase64 {
	data, err := json.Marshal(protocol.CollectedClientData{
		Type:      ceremony,
		Challenge: challenge,
		Origin:    origin,
	})
	if err != nil {
		panic(err)
	}
	return protocol.URLEncodedBase64(data)
}

func registrationResponse(credentialID string, clientDataJSON protocol.URLEncodedBase64) *RegistrationResponse {
	return &RegistrationResponse{
		ID: credentialID,
		Response: AuthenticatorAttestation{
			ClientDataJSON:    clientDataJSON,
			AttestationObject: protocol.URLEncodedBase64("attestation-object"),
			Transports:        []protocol.AuthenticatorTransport{protocol.Internal},
		},
	}
}

func authenticationResponse(credentialID string, clientDataJSON protocol.URLEncodedBase64) *AuthenticationResponse {
	return &AuthenticationResponse{
		ID: credentialID,
		Response: AuthenticatorAssertion{
			ClientDataJSON: clientDataJSON,
		},
	}
}
