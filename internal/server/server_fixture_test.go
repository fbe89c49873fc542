package server

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	accountrepo "github.com/inkwell-ai/inkwell/internal/account/repository"
	accountservice "github.com/inkwell-ai/inkwell/internal/account/service"
	"github.com/inkwell-ai/inkwell/internal/accountctx"
	apikeydomain "github.com/inkwell-ai/inkwell/internal/apikey/domain"
	apikeyrepo "github.com/inkwell-ai/inkwell/internal/apikey/repository"
	apikeyservice "github.com/inkwell-ai/inkwell/internal/apikey/service"
	auditrepo "github.com/inkwell-ai/inkwell/internal/audit/repository"
	auditservice "github.com/inkwell-ai/inkwell/internal/audit/service"
	"github.com/inkwell-ai/inkwell/internal/authorization"
	"github.com/inkwell-ai/inkwell/internal/clock"
	"github.com/inkwell-ai/inkwell/internal/config"
	generationclient "github.com/inkwell-ai/inkwell/internal/generation/client"
	generationservice "github.com/inkwell-ai/inkwell/internal/generation/service"
	"github.com/inkwell-ai/inkwell/internal/observability"
	"github.com/inkwell-ai/inkwell/internal/payment/gateway"
	paymentrepo "github.com/inkwell-ai/inkwell/internal/payment/repository"
	paymentservice "github.com/inkwell-ai/inkwell/internal/payment/service"
	planservice "github.com/inkwell-ai/inkwell/internal/plan/service"
	"github.com/inkwell-ai/inkwell/internal/providers/pdf"
	"github.com/inkwell-ai/inkwell/internal/ratelimit"
	usagerepo "github.com/inkwell-ai/inkwell/internal/usage/repository"
	usageservice "github.com/inkwell-ai/inkwell/internal/usage/service"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const testWebhookSecret = "test-webhook-secret"

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
	`CREATE UNIQUE INDEX ux_api_keys_account_key_id ON api_keys(account_id, key_id)`,
	`CREATE TABLE payments (
		id BIGINT PRIMARY KEY,
		account_id BIGINT NOT NULL,
		plan_id TEXT NOT NULL,
		description TEXT NOT NULL,
		transaction_reference TEXT NOT NULL,
		amount_requested BIGINT NOT NULL,
		credits_granted BIGINT NOT NULL,
		status TEXT NOT NULL,
		qr_payload TEXT NOT NULL,
		gateway_name TEXT,
		gateway_reference TEXT,
		settled_amount BIGINT,
		created_at TIMESTAMPTZ NOT NULL,
		expires_at TIMESTAMPTZ NOT NULL,
		completed_at TIMESTAMPTZ
	)`,
	`CREATE UNIQUE INDEX ux_payments_reference ON payments(transaction_reference)`,
	`CREATE TABLE usage_records (
		id BIGINT PRIMARY KEY,
		account_id BIGINT NOT NULL,
		action_kind TEXT NOT NULL,
		credits_charged BIGINT NOT NULL,
		cost_minor BIGINT NOT NULL,
		success BOOLEAN NOT NULL,
		external_job_id TEXT,
		metadata JSONB,
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE UNIQUE INDEX ux_usage_success_job
		ON usage_records(account_id, action_kind, external_job_id)
		WHERE success AND external_job_id IS NOT NULL`,
	`CREATE TABLE audit_logs (
		id BIGINT PRIMARY KEY,
		account_id BIGINT,
		actor_type TEXT NOT NULL,
		actor_id TEXT,
		action TEXT NOT NULL,
		target_type TEXT NOT NULL,
		target_id TEXT,
		metadata JSONB,
		ip_address TEXT,
		created_at TIMESTAMPTZ NOT NULL
	)`,
}

type serverFixture struct {
	t        *testing.T
	db       *gorm.DB
	node     *snowflake.Node
	clock    *clock.FakeClock
	server   *Server
	verifier *gateway.Verifier
	provider *stubTaskClient
}

// stubTaskClient stands in for the image provider; tests script its replies.
type stubTaskClient struct {
	mu    sync.Mutex
	tasks map[string]*generationclient.Task
	next  int
}

func (s *stubTaskClient) CreateTask(_ context.Context, prompt, size string) (*generationclient.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.next++
	task := &generationclient.Task{
		ID:     fmt.Sprintf("task-%d", s.next),
		Status: "queued",
	}
	s.tasks[task.ID] = task
	return task, nil
}

func (s *stubTaskClient) GetTask(_ context.Context, taskID string) (*generationclient.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	task, ok := s.tasks[taskID]
	if !ok {
		return nil, generationclient.ErrTaskNotFound
	}
	copied := *task
	return &copied, nil
}

func (s *stubTaskClient) setStatus(taskID, status, imageURL, failure string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	task, ok := s.tasks[taskID]
	if !ok {
		task = &generationclient.Task{ID: taskID}
		s.tasks[taskID] = task
	}
	task.Status = status
	task.ImageURL = imageURL
	task.Error = failure
}

func setupServer(t *testing.T) *serverFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dsn := fmt.Sprintf("file:memdb_server_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	for _, stmt := range testSchema {
		require.NoError(t, db.Exec(stmt).Error)
	}

	node, err := snowflake.NewNode(3)
	require.NoError(t, err)

	fakeClock := clock.NewFakeClock(time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC))
	holder := config.NewStaticBillingHolder(config.DefaultBillingConfig())
	log := zap.NewNop()

	accounts := accountrepo.NewRepository(db)
	plans := planservice.New(planservice.Params{Log: log, Billing: holder})
	payments := paymentservice.New(paymentservice.Params{
		DB:       db,
		Log:      log,
		GenID:    node,
		Clock:    fakeClock,
		Billing:  holder,
		Repo:     paymentrepo.Provide(),
		Accounts: accounts,
		Plans:    plans,
		Receipts: pdf.NewReceiptRenderer(),
	})
	usage := usageservice.New(usageservice.Params{
		DB:       db,
		Log:      log,
		GenID:    node,
		Clock:    fakeClock,
		Billing:  holder,
		Repo:     usagerepo.Provide(),
		Accounts: accounts,
	})
	apiKeys := apikeyservice.New(apikeyservice.Params{
		DB:    db,
		Log:   log,
		GenID: node,
		Repo:  apikeyrepo.Provide(),
	})
	accountSvc := accountservice.New(accountservice.Params{
		DB:      db,
		Log:     log,
		GenID:   node,
		Clock:   fakeClock,
		Repo:    accounts,
		APIKeys: apiKeys,
	})
	auditSvc := auditservice.NewService(auditservice.Params{
		DB:    db,
		Log:   log,
		GenID: node,
		Clock: fakeClock,
		Repo:  auditrepo.Provide(),
	})

	enforcer, err := authorization.NewEnforcer(db)
	require.NoError(t, err)
	authzSvc := authorization.NewService(authorization.Params{Log: log, Enforcer: enforcer})

	provider := &stubTaskClient{tasks: map[string]*generationclient.Task{}}
	generationSvc := generationservice.New(generationservice.Params{
		Log:      log,
		Provider: provider,
		Usage:    usage,
	})

	cfg := config.Config{WebhookSecret: testWebhookSecret}
	verifier := gateway.NewVerifier(testWebhookSecret)
	limiter := ratelimit.NewLimiter(config.Config{}, log)

	engine := NewEngine(observability.Config{}, nil)
	srv := &Server{
		engine:        engine,
		cfg:           cfg,
		db:            db,
		log:           log,
		genID:         node,
		clock:         fakeClock,
		accountSvc:    accountSvc,
		apiKeySvc:     apiKeys,
		planSvc:       plans,
		paymentSvc:    payments,
		usageSvc:      usage,
		generationSvc: generationSvc,
		authzSvc:      authzSvc,
		auditSvc:      auditSvc,
		verifier:      verifier,
		limiter:       limiter,
	}
	srv.registerRoutes()

	return &serverFixture{
		t:        t,
		db:       db,
		node:     node,
		clock:    fakeClock,
		server:   srv,
		verifier: verifier,
		provider: provider,
	}
}

// newAccountWithKey seeds an account and issues an API key with the given
// scopes, returning the account id and the plaintext key.
func (f *serverFixture) newAccountWithKey(balance int64, scopes ...string) (snowflake.ID, string) {
	f.t.Helper()

	id := f.node.Generate()
	now := f.clock.Now()
	require.NoError(f.t, f.db.Exec(
		`INSERT INTO accounts (id, handle, display_name, email, token_balance, credits_used, total_spent_minor, is_pro, is_active, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, 0, 0, FALSE, TRUE, ?, ?)`,
		id, fmt.Sprintf("studio-%d", id), "Test Studio", fmt.Sprintf("studio-%d@example.com", id), balance, now, now,
	).Error)

	ctx := accountctx.WithAccountID(context.Background(), int64(id))
	secret, err := f.server.apiKeySvc.Create(ctx, apikeydomain.CreateRequest{
		Name:   "test",
		Scopes: scopes,
	})
	require.NoError(f.t, err)

	return id, secret.APIKey
}

func (f *serverFixture) balance(id snowflake.ID) int64 {
	f.t.Helper()

	var balance int64
	require.NoError(f.t, f.db.Raw(
		`SELECT token_balance FROM accounts WHERE id = ?`, id,
	).Scan(&balance).Error)
	return balance
}

func (f *serverFixture) request(method, path string, body []byte, header map[string]string) *httptest.ResponseRecorder {
	f.t.Helper()

	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	f.server.engine.ServeHTTP(rec, req)
	return rec
}

func (f *serverFixture) authedRequest(method, path, apiKey string, body []byte) *httptest.ResponseRecorder {
	return f.request(method, path, body, map[string]string{
		"Authorization": "Bearer " + apiKey,
	})
}

func (f *serverFixture) signedWebhook(body []byte) *httptest.ResponseRecorder {
	return f.request(http.MethodPost, "/v1/webhooks/bank", body, map[string]string{
		gateway.SignatureHeader: f.verifier.Sign(body),
	})
}
