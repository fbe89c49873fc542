package service_test

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/inkwell-ai/inkwell/internal/accountctx"
	apikeydomain "github.com/inkwell-ai/inkwell/internal/apikey/domain"
	apikeyrepo "github.com/inkwell-ai/inkwell/internal/apikey/repository"
	apikeyservice "github.com/inkwell-ai/inkwell/internal/apikey/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type fixture struct {
	db   *gorm.DB
	keys apikeydomain.Service
}

func setupFixture(t *testing.T) *fixture {
	t.Helper()

	dsn := fmt.Sprintf("file:memdb_apikey_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)

	require.NoError(t, db.Exec(`CREATE TABLE api_keys (
		id BIGINT PRIMARY KEY,
		account_id BIGINT NOT NULL,
		key_id TEXT NOT NULL,
		name TEXT NOT NULL,
		scopes TEXT NOT NULL,
		key_hash TEXT NOT NULL,
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL,
		last_used_at TIMESTAMPTZ,
		expires_at TIMESTAMPTZ,
		rotated_from_key_id TEXT
	)`).Error)

	node, err := snowflake.NewNode(12)
	require.NoError(t, err)

	keys := apikeyservice.New(apikeyservice.Params{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: node,
		Repo:  apikeyrepo.Provide(),
	})

	return &fixture{db: db, keys: keys}
}

func (f *fixture) loadKey(t *testing.T, keyID string) *apikeydomain.APIKey {
	t.Helper()

	var key apikeydomain.APIKey
	require.NoError(t, f.db.Where("key_id = ?", keyID).First(&key).Error)
	return &key
}

func TestCreateIssuesSecretOnce(t *testing.T) {
	f := setupFixture(t)

	ctx := accountctx.WithAccountID(context.Background(), 501)
	secret, err := f.keys.Create(ctx, apikeydomain.CreateRequest{Name: "ci-deploy"})
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(secret.KeyID, "key_"))
	assert.True(t, strings.HasPrefix(secret.APIKey, "ik_live_"))
	// Everything after the last underscore is the random secret, hex-encoded.
	secretPart := secret.APIKey[strings.LastIndex(secret.APIKey, "_")+1:]
	assert.Len(t, secretPart, 64)

	stored := f.loadKey(t, secret.KeyID)
	assert.Equal(t, snowflake.ID(501), stored.AccountID)
	assert.Equal(t, "ci-deploy", stored.Name)
	assert.True(t, stored.IsActive)
	assert.Nil(t, stored.ExpiresAt)
	// Only the hash is persisted; it must match what auth will compute.
	assert.Equal(t, apikeydomain.HashAPIKey(secret.APIKey), stored.KeyHash)
}

func TestCreateDefaultsScopes(t *testing.T) {
	f := setupFixture(t)

	ctx := accountctx.WithAccountID(context.Background(), 501)
	secret, err := f.keys.Create(ctx, apikeydomain.CreateRequest{Name: "metering"})
	require.NoError(t, err)

	stored := f.loadKey(t, secret.KeyID)
	assert.Equal(t, []string{apikeydomain.ScopeUsageWrite, apikeydomain.ScopeBillingRead}, []string(stored.Scopes))
}

func TestCreateNormalizesScopes(t *testing.T) {
	f := setupFixture(t)

	ctx := accountctx.WithAccountID(context.Background(), 501)
	secret, err := f.keys.Create(ctx, apikeydomain.CreateRequest{
		Name:   "studio",
		Scopes: []string{" Billing:Read ", "billing:read", "usage:write"},
	})
	require.NoError(t, err)

	stored := f.loadKey(t, secret.KeyID)
	assert.Equal(t, []string{apikeydomain.ScopeBillingRead, apikeydomain.ScopeUsageWrite}, []string(stored.Scopes))
}

func TestCreateRejectsUnknownScope(t *testing.T) {
	f := setupFixture(t)

	ctx := accountctx.WithAccountID(context.Background(), 501)
	_, err := f.keys.Create(ctx, apikeydomain.CreateRequest{
		Name:   "studio",
		Scopes: []string{"usage:write", "billing:steal"},
	})
	assert.ErrorIs(t, err, apikeydomain.ErrInvalidScope)
}

func TestCreateRejectsBlankName(t *testing.T) {
	f := setupFixture(t)

	ctx := accountctx.WithAccountID(context.Background(), 501)
	_, err := f.keys.Create(ctx, apikeydomain.CreateRequest{Name: "   "})
	assert.ErrorIs(t, err, apikeydomain.ErrInvalidName)
}

func TestCreateRequiresAccount(t *testing.T) {
	f := setupFixture(t)

	_, err := f.keys.Create(context.Background(), apikeydomain.CreateRequest{Name: "orphan"})
	assert.ErrorIs(t, err, apikeydomain.ErrInvalidAccount)
}

func TestRotateKeepsIdentityAndGracesOldKey(t *testing.T) {
	f := setupFixture(t)

	ctx := accountctx.WithAccountID(context.Background(), 501)
	original, err := f.keys.Create(ctx, apikeydomain.CreateRequest{
		Name:   "studio",
		Scopes: []string{apikeydomain.ScopeKeysManage, apikeydomain.ScopeUsageWrite},
	})
	require.NoError(t, err)

	rotated, err := f.keys.Rotate(ctx, original.KeyID)
	require.NoError(t, err)
	assert.NotEqual(t, original.KeyID, rotated.KeyID)
	assert.NotEqual(t, original.APIKey, rotated.APIKey)

	// The old key stays active through the grace window so in-flight
	// callers are not cut off mid-deploy.
	old := f.loadKey(t, original.KeyID)
	assert.True(t, old.IsActive)
	require.NotNil(t, old.ExpiresAt)
	assert.WithinDuration(t, time.Now().UTC().Add(24*time.Hour), *old.ExpiresAt, time.Minute)

	next := f.loadKey(t, rotated.KeyID)
	assert.Equal(t, "studio", next.Name)
	assert.Equal(t, []string{apikeydomain.ScopeKeysManage, apikeydomain.ScopeUsageWrite}, []string(next.Scopes))
	assert.True(t, next.IsActive)
	assert.Nil(t, next.ExpiresAt)
	require.NotNil(t, next.RotatedFromKeyID)
	assert.Equal(t, original.KeyID, *next.RotatedFromKeyID)
	assert.Equal(t, apikeydomain.HashAPIKey(rotated.APIKey), next.KeyHash)
}

func TestRotateUnknownKeyNotFound(t *testing.T) {
	f := setupFixture(t)

	ctx := accountctx.WithAccountID(context.Background(), 501)
	_, err := f.keys.Rotate(ctx, "key_MISSING")
	assert.ErrorIs(t, err, apikeydomain.ErrNotFound)
}

func TestRotateOtherAccountsKeyNotFound(t *testing.T) {
	f := setupFixture(t)

	ownerCtx := accountctx.WithAccountID(context.Background(), 501)
	secret, err := f.keys.Create(ownerCtx, apikeydomain.CreateRequest{Name: "studio"})
	require.NoError(t, err)

	strangerCtx := accountctx.WithAccountID(context.Background(), 502)
	_, err = f.keys.Rotate(strangerCtx, secret.KeyID)
	assert.ErrorIs(t, err, apikeydomain.ErrNotFound)
}

func TestRevokeDeactivatesImmediately(t *testing.T) {
	f := setupFixture(t)

	ctx := accountctx.WithAccountID(context.Background(), 501)
	secret, err := f.keys.Create(ctx, apikeydomain.CreateRequest{Name: "studio"})
	require.NoError(t, err)

	require.NoError(t, f.keys.Revoke(ctx, secret.KeyID))

	stored := f.loadKey(t, secret.KeyID)
	assert.False(t, stored.IsActive)
	require.NotNil(t, stored.ExpiresAt)
	assert.WithinDuration(t, time.Now().UTC(), *stored.ExpiresAt, time.Minute)

	// A revoked key cannot be rotated back to life.
	_, err = f.keys.Rotate(ctx, secret.KeyID)
	assert.ErrorIs(t, err, apikeydomain.ErrNotFound)
}

func TestRevokeUnknownKeyNotFound(t *testing.T) {
	f := setupFixture(t)

	ctx := accountctx.WithAccountID(context.Background(), 501)
	assert.ErrorIs(t, f.keys.Revoke(ctx, "key_MISSING"), apikeydomain.ErrNotFound)
	assert.ErrorIs(t, f.keys.Revoke(ctx, "  "), apikeydomain.ErrInvalidKeyID)
}

func TestListScopedToAccount(t *testing.T) {
	f := setupFixture(t)

	ownerCtx := accountctx.WithAccountID(context.Background(), 501)
	mine, err := f.keys.Create(ownerCtx, apikeydomain.CreateRequest{Name: "mine"})
	require.NoError(t, err)

	otherCtx := accountctx.WithAccountID(context.Background(), 502)
	_, err = f.keys.Create(otherCtx, apikeydomain.CreateRequest{Name: "theirs"})
	require.NoError(t, err)

	listed, err := f.keys.List(ownerCtx)
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Equal(t, mine.KeyID, listed[0].KeyID)
	assert.Equal(t, "mine", listed[0].Name)
}
