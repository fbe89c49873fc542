package seed

import (
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	accountrepo "github.com/inkwell-ai/inkwell/internal/account/repository"
	apikeyrepo "github.com/inkwell-ai/inkwell/internal/apikey/repository"
	apikeyservice "github.com/inkwell-ai/inkwell/internal/apikey/service"
	"github.com/inkwell-ai/inkwell/internal/clock"
	"github.com/inkwell-ai/inkwell/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var testSchema = []string{
	`CREATE TABLE accounts (
		id BIGINT PRIMARY KEY,
		handle TEXT NOT NULL,
		display_name TEXT NOT NULL,
		email TEXT NOT NULL,
		token_balance BIGINT NOT NULL DEFAULT 0,
		credits_used BIGINT NOT NULL DEFAULT 0,
		total_spent_minor BIGINT NOT NULL DEFAULT 0,
		is_pro BOOLEAN NOT NULL DEFAULT FALSE,
		pro_expires_at TIMESTAMPTZ,
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE UNIQUE INDEX ux_accounts_handle ON accounts(handle)`,
	`CREATE TABLE api_keys (
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
	)`,
}

func setupSeed(t *testing.T, bootstrap bool) (Params, *gorm.DB) {
	t.Helper()

	dsn := fmt.Sprintf("file:memdb_seed_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	for _, stmt := range testSchema {
		require.NoError(t, db.Exec(stmt).Error)
	}

	node, err := snowflake.NewNode(7)
	require.NoError(t, err)
	log := zap.NewNop()

	return Params{
		Cfg:      config.Config{BootstrapAdmin: bootstrap},
		Log:      log,
		GenID:    node,
		Clock:    clock.NewFakeClock(time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)),
		Accounts: accountrepo.NewRepository(db),
		APIKeys: apikeyservice.New(apikeyservice.Params{
			DB:    db,
			Log:   log,
			GenID: node,
			Repo:  apikeyrepo.Provide(),
		}),
	}, db
}

func TestEnsureOperatorAccountDisabledByDefault(t *testing.T) {
	p, db := setupSeed(t, false)

	require.NoError(t, EnsureOperatorAccount(p))

	var accounts int64
	require.NoError(t, db.Raw(`SELECT COUNT(*) FROM accounts`).Scan(&accounts).Error)
	assert.Equal(t, int64(0), accounts)
}

func TestEnsureOperatorAccountCreatesAccountAndAdminKeyOnce(t *testing.T) {
	p, db := setupSeed(t, true)

	require.NoError(t, EnsureOperatorAccount(p))

	var handle string
	require.NoError(t, db.Raw(`SELECT handle FROM accounts`).Scan(&handle).Error)
	assert.Equal(t, "inkwell-operator", handle)

	var scopes string
	require.NoError(t, db.Raw(`SELECT scopes FROM api_keys`).Scan(&scopes).Error)
	assert.Contains(t, scopes, "admin")

	// A second run must not reissue the credential.
	require.NoError(t, EnsureOperatorAccount(p))

	var keys int64
	require.NoError(t, db.Raw(`SELECT COUNT(*) FROM api_keys`).Scan(&keys).Error)
	assert.Equal(t, int64(1), keys)
}
