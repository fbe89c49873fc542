package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
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
	"github.com/inkwell-ai/inkwell/internal/server"
	usagerepo "github.com/inkwell-ai/inkwell/internal/usage/repository"
	usageservice "github.com/inkwell-ai/inkwell/internal/usage/service"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const e2eWebhookSecret = "e2e-webhook-secret"

var e2eSchema = []string{
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

type testEnv struct {
	db       *gorm.DB
	node     *snowflake.Node
	clock    *clock.FakeClock
	apiKeys  apikeydomain.Service
	verifier *gateway.Verifier
	provider *stubImageProvider
	httpSrv  *httptest.Server
	baseURL  string
}

var env *testEnv

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)

	var err error
	env, err = startEnv()
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to start test environment:", err)
		os.Exit(1)
	}

	code := m.Run()
	env.shutdown()
	os.Exit(code)
}

// stubImageProvider plays the external generation provider; tests script the
// status transitions a real provider would go through.
type stubImageProvider struct {
	mu    sync.Mutex
	tasks map[string]*generationclient.Task
	next  int
}

func (s *stubImageProvider) CreateTask(_ context.Context, prompt, size string) (*generationclient.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.next++
	task := &generationclient.Task{
		ID:     fmt.Sprintf("job-%d", s.next),
		Status: "queued",
	}
	s.tasks[task.ID] = task
	return task, nil
}

func (s *stubImageProvider) GetTask(_ context.Context, taskID string) (*generationclient.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	task, ok := s.tasks[taskID]
	if !ok {
		return nil, generationclient.ErrTaskNotFound
	}
	copied := *task
	return &copied, nil
}

func (s *stubImageProvider) setStatus(taskID, status, imageURL, failure string) {
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

func startEnv() (*testEnv, error) {
	dsn := fmt.Sprintf("file:memdb_e2e_%d?mode=memory&cache=shared", time.Now().UnixNano())
	dbConn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, err
	}
	for _, stmt := range e2eSchema {
		if err := dbConn.Exec(stmt).Error; err != nil {
			return nil, err
		}
	}

	node, err := snowflake.NewNode(9)
	if err != nil {
		return nil, err
	}

	fakeClock := clock.NewFakeClock(time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC))
	holder := config.NewStaticBillingHolder(config.DefaultBillingConfig())
	log := zap.NewNop()

	accounts := accountrepo.NewRepository(dbConn)
	plans := planservice.New(planservice.Params{Log: log, Billing: holder})
	payments := paymentservice.New(paymentservice.Params{
		DB:       dbConn,
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
		DB:       dbConn,
		Log:      log,
		GenID:    node,
		Clock:    fakeClock,
		Billing:  holder,
		Repo:     usagerepo.Provide(),
		Accounts: accounts,
	})
	apiKeys := apikeyservice.New(apikeyservice.Params{
		DB:    dbConn,
		Log:   log,
		GenID: node,
		Repo:  apikeyrepo.Provide(),
	})
	accountSvc := accountservice.New(accountservice.Params{
		DB:      dbConn,
		Log:     log,
		GenID:   node,
		Clock:   fakeClock,
		Repo:    accounts,
		APIKeys: apiKeys,
	})
	auditSvc := auditservice.NewService(auditservice.Params{
		DB:    dbConn,
		Log:   log,
		GenID: node,
		Clock: fakeClock,
		Repo:  auditrepo.Provide(),
	})

	enforcer, err := authorization.NewEnforcer(dbConn)
	if err != nil {
		return nil, err
	}
	authzSvc := authorization.NewService(authorization.Params{Log: log, Enforcer: enforcer})

	provider := &stubImageProvider{tasks: map[string]*generationclient.Task{}}
	generationSvc := generationservice.New(generationservice.Params{
		Log:      log,
		Provider: provider,
		Usage:    usage,
	})

	cfg := config.Config{WebhookSecret: e2eWebhookSecret}
	verifier := gateway.NewVerifier(e2eWebhookSecret)

	srv := server.NewServer(server.ServerParams{
		Gin:           server.NewEngine(observability.Config{}, nil),
		Cfg:           cfg,
		DB:            dbConn,
		Log:           log,
		GenID:         node,
		Clock:         fakeClock,
		AccountSvc:    accountSvc,
		APIKeySvc:     apiKeys,
		PlanSvc:       plans,
		PaymentSvc:    payments,
		UsageSvc:      usage,
		GenerationSvc: generationSvc,
		AuthzSvc:      authzSvc,
		AuditSvc:      auditSvc,
		Verifier:      verifier,
		Limiter:       ratelimit.NewLimiter(config.Config{}, log),
	})

	httpSrv := httptest.NewServer(srv.Engine())

	return &testEnv{
		db:       dbConn,
		node:     node,
		clock:    fakeClock,
		apiKeys:  apiKeys,
		verifier: verifier,
		provider: provider,
		httpSrv:  httpSrv,
		baseURL:  httpSrv.URL,
	}, nil
}

func (e *testEnv) shutdown() {
	if e == nil {
		return
	}
	if e.httpSrv != nil {
		e.httpSrv.Close()
	}
}

// resetDatabase clears ledger state between tests. Authorization policies are
// seeded once at startup and survive the reset.
func resetDatabase(t *testing.T) {
	t.Helper()
	for _, table := range []string{"audit_logs", "usage_records", "payments", "api_keys", "accounts"} {
		if err := env.db.Exec("DELETE FROM " + table).Error; err != nil {
			t.Fatalf("reset %s: %v", table, err)
		}
	}
}

// seedAdminAccount plants the operator account and mints its admin key, the
// way a deployment's bootstrap would.
func seedAdminAccount(t *testing.T) (snowflake.ID, string) {
	t.Helper()

	id := env.node.Generate()
	now := env.clock.Now()
	if err := env.db.Exec(
		`INSERT INTO accounts (id, handle, display_name, email, token_balance, credits_used, total_spent_minor, is_pro, is_active, created_at, updated_at)
		 VALUES (?, ?, ?, ?, 0, 0, 0, FALSE, TRUE, ?, ?)`,
		id, fmt.Sprintf("operator-%d", id), "Operator", "operator@inkwell.local", now, now,
	).Error; err != nil {
		t.Fatalf("insert operator account: %v", err)
	}

	ctx := accountctx.WithAccountID(context.Background(), int64(id))
	secret, err := env.apiKeys.Create(ctx, apikeydomain.CreateRequest{
		Name:   "bootstrap-admin",
		Scopes: []string{apikeydomain.ScopeAdmin},
	})
	if err != nil {
		t.Fatalf("create admin key: %v", err)
	}
	return id, secret.APIKey
}

func TestE2E_HealthCheck(t *testing.T) {
	resp, err := http.Get(env.baseURL + "/health")
	if err != nil {
		t.Fatalf("health request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected status 200, got %d", resp.StatusCode)
	}
}

func countRows(t *testing.T, table string, where string, args ...any) int64 {
	t.Helper()
	var count int64
	if err := env.db.Table(table).Where(where, args...).Count(&count).Error; err != nil {
		t.Fatalf("count %s: %v", table, err)
	}
	return count
}

func doJSON(t *testing.T, client *http.Client, method, reqURL string, payload any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()

	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("encode json: %v", err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequest(method, reqURL, body)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read response: %v", err)
	}
	return resp, data
}

func bearer(apiKey string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + apiKey}
}

func newHTTPClient() *http.Client {
	return &http.Client{Timeout: 15 * time.Second}
}
