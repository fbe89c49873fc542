package service_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	accountdomain "github.com/inkwell-ai/inkwell/internal/account/domain"
	accountrepo "github.com/inkwell-ai/inkwell/internal/account/repository"
	"github.com/inkwell-ai/inkwell/internal/accountctx"
	"github.com/inkwell-ai/inkwell/internal/clock"
	"github.com/inkwell-ai/inkwell/internal/config"
	genclient "github.com/inkwell-ai/inkwell/internal/generation/client"
	generationdomain "github.com/inkwell-ai/inkwell/internal/generation/domain"
	genservice "github.com/inkwell-ai/inkwell/internal/generation/service"
	usagerepo "github.com/inkwell-ai/inkwell/internal/usage/repository"
	usageservice "github.com/inkwell-ai/inkwell/internal/usage/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// fakeProvider serves the provider task API for tests. Task state is mutable
// so a test can walk a job through its lifecycle between polls.
type fakeProvider struct {
	mu       sync.Mutex
	tasks    map[string]map[string]any
	lastAuth string
	created  int
}

func (f *fakeProvider) setTask(id, status string, extra map[string]any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	task := map[string]any{"id": id, "status": status}
	for k, v := range extra {
		task[k] = v
	}
	f.tasks[id] = task
}

func (f *fakeProvider) authHeader() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastAuth
}

func (f *fakeProvider) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/tasks", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.lastAuth = r.Header.Get("Authorization")
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		f.created++
		id := fmt.Sprintf("task-%d", f.created)
		task := map[string]any{"id": id, "status": "queued"}
		f.tasks[id] = task
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(task)
	})
	mux.HandleFunc("/v1/tasks/", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.lastAuth = r.Header.Get("Authorization")
		id := strings.TrimPrefix(r.URL.Path, "/v1/tasks/")
		task, ok := f.tasks[id]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(task)
	})
	return mux
}

type fixture struct {
	provider   *fakeProvider
	generation generationdomain.Service
	accounts   accountdomain.Repository
	db         *gorm.DB
	node       *snowflake.Node
	clock      *clock.FakeClock
}

func setupFixture(t *testing.T) *fixture {
	t.Helper()

	dsn := fmt.Sprintf("file:memdb_generation_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)

	schema := []string{
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
		`CREATE TABLE usage_records (
			id BIGINT PRIMARY KEY,
			account_id BIGINT NOT NULL,
			action_kind TEXT NOT NULL,
			credits_charged BIGINT NOT NULL DEFAULT 0,
			cost_minor BIGINT NOT NULL DEFAULT 0,
			success BOOLEAN NOT NULL,
			external_job_id TEXT,
			metadata TEXT,
			created_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE UNIQUE INDEX ux_usage_success_job
			ON usage_records(account_id, action_kind, external_job_id)
			WHERE success AND external_job_id IS NOT NULL`,
	}
	for _, stmt := range schema {
		require.NoError(t, db.Exec(stmt).Error)
	}

	provider := &fakeProvider{tasks: map[string]map[string]any{}}
	server := httptest.NewServer(provider.handler())
	t.Cleanup(server.Close)

	node, err := snowflake.NewNode(11)
	require.NoError(t, err)

	fakeClock := clock.NewFakeClock(time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC))
	accounts := accountrepo.NewRepository(db)

	usage := usageservice.New(usageservice.Params{
		DB:       db,
		Log:      zap.NewNop(),
		GenID:    node,
		Clock:    fakeClock,
		Billing:  config.NewStaticBillingHolder(config.DefaultBillingConfig()),
		Repo:     usagerepo.Provide(),
		Accounts: accounts,
	})

	generation := genservice.New(genservice.Params{
		Log: zap.NewNop(),
		Provider: genclient.New(config.Config{
			Provider: config.ProviderConfig{BaseURL: server.URL, APIKey: "prov-secret"},
		}),
		Usage: usage,
	})

	return &fixture{
		provider:   provider,
		generation: generation,
		accounts:   accounts,
		db:         db,
		node:       node,
		clock:      fakeClock,
	}
}

func (f *fixture) newAccount(t *testing.T, balance int64) snowflake.ID {
	t.Helper()

	id := f.node.Generate()
	now := f.clock.Now()
	require.NoError(t, f.accounts.Create(context.Background(), &accountdomain.Account{
		ID:           id,
		Handle:       "acct-" + id.String(),
		DisplayName:  "Artist",
		Email:        "artist@example.com",
		TokenBalance: balance,
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}))
	return id
}

func (f *fixture) ctxFor(id snowflake.ID) context.Context {
	return accountctx.WithAccountID(context.Background(), int64(id))
}

func (f *fixture) balance(t *testing.T, id snowflake.ID) int64 {
	t.Helper()

	account, err := f.accounts.GetByID(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, account)
	return account.TokenBalance
}

func (f *fixture) usageRows(t *testing.T, id snowflake.ID) int64 {
	t.Helper()

	var count int64
	require.NoError(t, f.db.Raw(`SELECT COUNT(*) FROM usage_records WHERE account_id = ?`, id).Scan(&count).Error)
	return count
}

func TestSubmitCreatesProviderJob(t *testing.T) {
	f := setupFixture(t)
	accountID := f.newAccount(t, 100)

	resp, err := f.generation.Submit(f.ctxFor(accountID), generationdomain.SubmitRequest{Prompt: "a lighthouse at dusk"})
	require.NoError(t, err)

	assert.Equal(t, "task-1", resp.JobID)
	assert.Equal(t, generationdomain.StatusQueued, resp.Status)
	assert.Equal(t, "Bearer prov-secret", f.provider.authHeader())

	// Submission never bills.
	assert.Equal(t, int64(100), f.balance(t, accountID))
	assert.Equal(t, int64(0), f.usageRows(t, accountID))
}

func TestSubmitValidation(t *testing.T) {
	f := setupFixture(t)
	accountID := f.newAccount(t, 100)

	_, err := f.generation.Submit(f.ctxFor(accountID), generationdomain.SubmitRequest{Prompt: "   "})
	assert.ErrorIs(t, err, generationdomain.ErrInvalidPrompt)

	_, err = f.generation.Submit(context.Background(), generationdomain.SubmitRequest{Prompt: "a fox"})
	assert.ErrorIs(t, err, generationdomain.ErrInvalidAccount)
}

func TestPollChargesOnFirstSuccessOnly(t *testing.T) {
	f := setupFixture(t)
	accountID := f.newAccount(t, 100)
	ctx := f.ctxFor(accountID)

	submitted, err := f.generation.Submit(ctx, generationdomain.SubmitRequest{Prompt: "a red bicycle"})
	require.NoError(t, err)

	// Still running: no billing effect.
	f.provider.setTask(submitted.JobID, "running", nil)
	polled, err := f.generation.Poll(ctx, submitted.JobID)
	require.NoError(t, err)
	assert.Equal(t, generationdomain.StatusRunning, polled.Status)
	assert.Equal(t, int64(100), f.balance(t, accountID))

	f.provider.setTask(submitted.JobID, "succeeded", map[string]any{"image_url": "https://cdn.example.com/img/1.png"})

	polled, err = f.generation.Poll(ctx, submitted.JobID)
	require.NoError(t, err)
	assert.Equal(t, generationdomain.StatusSucceeded, polled.Status)
	assert.Equal(t, "https://cdn.example.com/img/1.png", polled.ImageURL)
	assert.Equal(t, int64(95), f.balance(t, accountID))

	// Repeat polls keep reporting status without billing again.
	for i := 0; i < 3; i++ {
		polled, err = f.generation.Poll(ctx, submitted.JobID)
		require.NoError(t, err)
		assert.Equal(t, generationdomain.StatusSucceeded, polled.Status)
	}
	assert.Equal(t, int64(95), f.balance(t, accountID))
	assert.Equal(t, int64(1), f.usageRows(t, accountID))
}

func TestPollFailureRecordedWithoutCharge(t *testing.T) {
	f := setupFixture(t)
	accountID := f.newAccount(t, 100)
	ctx := f.ctxFor(accountID)

	submitted, err := f.generation.Submit(ctx, generationdomain.SubmitRequest{Prompt: "a glass cathedral"})
	require.NoError(t, err)

	f.provider.setTask(submitted.JobID, "failed", map[string]any{"error": "content policy"})

	polled, err := f.generation.Poll(ctx, submitted.JobID)
	require.NoError(t, err)
	assert.Equal(t, generationdomain.StatusFailed, polled.Status)
	assert.Equal(t, "content policy", polled.FailureReason)

	assert.Equal(t, int64(100), f.balance(t, accountID))
	assert.Equal(t, int64(1), f.usageRows(t, accountID))

	var success bool
	require.NoError(t, f.db.Raw(`SELECT success FROM usage_records WHERE account_id = ?`, accountID).Scan(&success).Error)
	assert.False(t, success)
}

func TestPollInsufficientBalanceSurfaces(t *testing.T) {
	f := setupFixture(t)
	accountID := f.newAccount(t, 2)
	ctx := f.ctxFor(accountID)

	submitted, err := f.generation.Submit(ctx, generationdomain.SubmitRequest{Prompt: "a paper crane"})
	require.NoError(t, err)
	f.provider.setTask(submitted.JobID, "succeeded", nil)

	_, err = f.generation.Poll(ctx, submitted.JobID)
	assert.ErrorIs(t, err, accountdomain.ErrInsufficientBalance)

	// The rejected charge leaves nothing behind; a later poll may retry.
	assert.Equal(t, int64(2), f.balance(t, accountID))
	assert.Equal(t, int64(0), f.usageRows(t, accountID))
}

func TestPollUnknownJob(t *testing.T) {
	f := setupFixture(t)
	accountID := f.newAccount(t, 100)

	_, err := f.generation.Poll(f.ctxFor(accountID), "task-nope")
	assert.ErrorIs(t, err, generationdomain.ErrJobNotFound)

	_, err = f.generation.Poll(f.ctxFor(accountID), "  ")
	assert.ErrorIs(t, err, generationdomain.ErrInvalidJobID)
}
