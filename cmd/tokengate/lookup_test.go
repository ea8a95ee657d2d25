package main

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MrEthical07/tokengate"
	"github.com/MrEthical07/tokengate/password"
)

func TestMemoryLookup(t *testing.T) {
	hasher, err := password.NewBcrypt(4)
	require.NoError(t, err)

	l := newMemoryLookup()
	require.NoError(t, l.seed([]seedUser{
		{Username: "alice", Password: "p1", Phone: "+15550100", Email: "Alice@Example.com", Roles: []string{"admin"}},
		{Username: "carol", Password: "p3", Status: "unactivated"},
	}, hasher))

	ctx := context.Background()

	byName, err := l.ByUsername(ctx, "alice")
	require.NoError(t, err)
	ok, err := hasher.Verify("p1", byName.PasswordHash)
	require.NoError(t, err)
	assert.True(t, ok, "seeded password should verify")
	assert.Equal(t, tokengate.StatusActive, byName.Status)

	byPhone, err := l.ByPhone(ctx, "+15550100")
	require.NoError(t, err)
	assert.Equal(t, byName.ID, byPhone.ID)

	byEmail, err := l.ByEmail(ctx, "alice@example.com")
	require.NoError(t, err)
	assert.Equal(t, byName.ID, byEmail.ID)

	carol, err := l.ByUsername(ctx, "carol")
	require.NoError(t, err)
	assert.Equal(t, tokengate.StatusUnactivated, carol.Status)
	assert.NotEqual(t, byName.ID, carol.ID)

	_, err = l.ByUsername(ctx, "ghost")
	assert.ErrorIs(t, err, tokengate.ErrIdentityNotFound)
	_, err = l.ByPhone(ctx, "+1")
	assert.ErrorIs(t, err, tokengate.ErrIdentityNotFound)
}

func TestMemoryLookup_ReturnsCopies(t *testing.T) {
	hasher, err := password.NewBcrypt(4)
	require.NoError(t, err)

	l := newMemoryLookup()
	require.NoError(t, l.seed([]seedUser{{Username: "alice", Password: "p1", Roles: []string{"admin"}}}, hasher))

	got, err := l.ByUsername(context.Background(), "alice")
	require.NoError(t, err)
	got.Roles[0] = "root"

	again, err := l.ByUsername(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, []string{"admin"}, again.Roles)
}

func TestMemoryLookup_UpdatePasswordHash(t *testing.T) {
	hasher, err := password.NewBcrypt(4)
	require.NoError(t, err)

	l := newMemoryLookup()
	require.NoError(t, l.seed([]seedUser{{Username: "alice", Password: "p1"}}, hasher))

	require.NoError(t, l.UpdatePasswordHash(context.Background(), "alice", "new"))
	got, err := l.ByUsername(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, "new", got.PasswordHash)

	assert.ErrorIs(t, l.UpdatePasswordHash(context.Background(), "ghost", "x"), tokengate.ErrIdentityNotFound)
}

func TestMemoryLookup_SeedRejectsBadUsers(t *testing.T) {
	hasher, err := password.NewBcrypt(4)
	require.NoError(t, err)

	tests := []struct {
		name string
		user seedUser
	}{
		{name: "no username", user: seedUser{Password: "p"}},
		{name: "no password", user: seedUser{Username: "a"}},
		{name: "bad status", user: seedUser{Username: "a", Password: "p", Status: "SUSPENDED"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := newMemoryLookup().seed([]seedUser{tt.user}, hasher)
			require.Error(t, err)
			assertCode(t, err, "CONFIG_INVALID")
		})
	}
}
