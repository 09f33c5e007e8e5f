package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/copilfi/copil-sub001/internal/domain"
)

func TestSessionKeyStore_CreateAndGet(t *testing.T) {
	client, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	user := seedUser(t, client, "sk-create")
	store := NewSessionKeyStore(client.Pool())

	expiry := time.Now().UTC().Add(24 * time.Hour).Truncate(time.Second)
	created, err := store.Create(ctx, domain.SessionKey{
		UserID:    user.ID,
		PublicKey: "0x04aabbccdd",
		Permissions: domain.SessionKeyPermissions{
			Actions: []domain.SessionKeyAction{domain.ActionSwap},
			Chains:  []string{"base"},
			SpendLimits: []domain.SpendLimit{
				{Chain: "base", Token: wethAddr, MaxAmount: "5000000000000000000"},
			},
		},
		VaultKeyID: "vault-key-1",
		ExpiresAt:  &expiry,
		IsActive:   true,
	})
	require.NoError(t, err)
	assert.NotZero(t, created.ID)

	got, err := store.GetByID(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "0x04aabbccdd", got.PublicKey)
	assert.Equal(t, "vault-key-1", got.VaultKeyID)
	require.NotNil(t, got.ExpiresAt)
	assert.True(t, got.ExpiresAt.Equal(expiry))
	assert.True(t, got.Permissions.AllowsAction(domain.ActionSwap))
	assert.False(t, got.Permissions.AllowsAction(domain.ActionBridge))

	limit, ok := got.Permissions.LimitFor("base", wethAddr)
	require.True(t, ok)
	assert.Equal(t, "5000000000000000000", limit.MaxAmount)

	byKey, err := store.GetByPublicKey(ctx, "0x04aabbccdd")
	require.NoError(t, err)
	assert.Equal(t, created.ID, byKey.ID)
}

func TestSessionKeyStore_Deactivate(t *testing.T) {
	client, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	user := seedUser(t, client, "sk-deactivate")
	store := NewSessionKeyStore(client.Pool())

	k, err := store.Create(ctx, domain.SessionKey{
		UserID:    user.ID,
		PublicKey: "0x04deadbeef",
		IsActive:  true,
	})
	require.NoError(t, err)

	require.NoError(t, store.Deactivate(ctx, k.ID))

	got, err := store.GetByID(ctx, k.ID)
	require.NoError(t, err)
	assert.False(t, got.IsActive)
	assert.False(t, got.Usable(time.Now()))

	err = store.Deactivate(ctx, 999999)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestSessionKeyStore_DeactivateExpired(t *testing.T) {
	client, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	user := seedUser(t, client, "sk-expired")
	store := NewSessionKeyStore(client.Pool())

	now := time.Now().UTC()
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	expired, err := store.Create(ctx, domain.SessionKey{
		UserID: user.ID, PublicKey: "0x04expired", ExpiresAt: &past, IsActive: true,
	})
	require.NoError(t, err)
	live, err := store.Create(ctx, domain.SessionKey{
		UserID: user.ID, PublicKey: "0x04live", ExpiresAt: &future, IsActive: true,
	})
	require.NoError(t, err)
	eternal, err := store.Create(ctx, domain.SessionKey{
		UserID: user.ID, PublicKey: "0x04eternal", IsActive: true,
	})
	require.NoError(t, err)

	n, err := store.DeactivateExpired(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	got, err := store.GetByID(ctx, expired.ID)
	require.NoError(t, err)
	assert.False(t, got.IsActive)

	for _, id := range []int64{live.ID, eternal.ID} {
		got, err := store.GetByID(ctx, id)
		require.NoError(t, err)
		assert.True(t, got.IsActive)
	}
}
