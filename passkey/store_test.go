package passkey

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_UserRoundTrip(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	got, err := f.store.User(ctx, "u1")
	require.NoError(t, err)
	assert.Nil(t, got)

	user := &User{ID: "u1", Username: "alice", Token: "tok-1", CredentialIDs: []string{}, CreatedAt: f.clock.Now()}
	require.NoError(t, f.store.SaveUser(ctx, user))

	got, err = f.store.User(ctx, "u1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "alice", got.Username)
	assert.Equal(t, "tok-1", got.Token)
}

func TestStore_SaveCredentialUpdatesIndex(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	user := &User{ID: "u1", Username: "alice", CredentialIDs: []string{}}
	require.NoError(t, f.store.SaveUser(ctx, user))

	cred := &Credential{ID: "c1", UserID: "u1"}
	require.NoError(t, f.store.SaveCredential(ctx, cred))

	got, err := f.store.User(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, []string{"c1"}, got.CredentialIDs)

	// Saving the same credential again must not duplicate the index
	// entry.
	require.NoError(t, f.store.SaveCredential(ctx, cred))
	got, err = f.store.User(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, []string{"c1"}, got.CredentialIDs)
}

func TestStore_UserCredentialsSkipsDanglingEntries(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.store.SaveUser(ctx, &User{ID: "u1", CredentialIDs: []string{}}))
	require.NoError(t, f.store.SaveCredential(ctx, &Credential{ID: "c1", UserID: "u1"}))
	require.NoError(t, f.store.SaveCredential(ctx, &Credential{ID: "c2", UserID: "u1"}))

	// Remove one credential record behind the index's back.
	require.NoError(t, f.kv.Delete(ctx, credentialKeyPrefix+"c1"))

	credentials, err := f.store.UserCredentials(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, credentials, 1)
	assert.Equal(t, "c2", credentials[0].ID)
}

func TestStore_DeleteCredential(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	deleted, err := f.store.DeleteCredential(ctx, "absent")
	require.NoError(t, err)
	assert.False(t, deleted)

	require.NoError(t, f.store.SaveUser(ctx, &User{ID: "u1", CredentialIDs: []string{}}))
	require.NoError(t, f.store.SaveCredential(ctx, &Credential{ID: "c1", UserID: "u1"}))

	deleted, err = f.store.DeleteCredential(ctx, "c1")
	require.NoError(t, err)
	assert.True(t, deleted)

	cred, err := f.store.Credential(ctx, "c1")
	require.NoError(t, err)
	assert.Nil(t, cred)

	user, err := f.store.User(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, user.CredentialIDs)
}

func TestStore_ConsumeChallengeIsOneTimeUse(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.store.SaveChallenge(ctx, "ch1", Challenge{Challenge: "abc", UserID: "u1", CreatedAt: f.clock.Now()}))

	challenge, err := f.store.ConsumeChallenge(ctx, "ch1")
	require.NoError(t, err)
	require.NotNil(t, challenge)
	assert.Equal(t, "abc", challenge.Challenge)

	challenge, err = f.store.ConsumeChallenge(ctx, "ch1")
	require.NoError(t, err)
	assert.Nil(t, challenge)
}

func TestStore_ChallengeExpiresAfterTTL(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.store.SaveChallenge(ctx, "ch1", Challenge{Challenge: "abc", CreatedAt: f.clock.Now()}))

	f.clock.Advance(ChallengeTTL + time.Second)

	challenge, err := f.store.ConsumeChallenge(ctx, "ch1")
	require.NoError(t, err)
	assert.Nil(t, challenge)
}

func TestStore_ValidateManagementToken(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.store.SaveManagementToken(ctx, "t1", "u1", f.clock.Now()))

	valid, err := f.store.ValidateManagementToken(ctx, "t1", "u1")
	require.NoError(t, err)
	assert.True(t, valid)

	// Bound to a different owner.
	valid, err = f.store.ValidateManagementToken(ctx, "t1", "u2")
	require.NoError(t, err)
	assert.False(t, valid)

	// Validation does not consume the token.
	valid, err = f.store.ValidateManagementToken(ctx, "t1", "u1")
	require.NoError(t, err)
	assert.True(t, valid)
}

func TestStore_ManagementTokenExpiresAfterTTL(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.store.SaveManagementToken(ctx, "t1", "u1", f.clock.Now()))

	f.clock.Advance(ManagementTokenTTL + time.Second)

	valid, err := f.store.ValidateManagementToken(ctx, "t1", "u1")
	require.NoError(t, err)
	assert.False(t, valid)
}
