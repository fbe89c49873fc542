package service

import (
	"context"
	"net/url"
	"strconv"
	"strings"

	"github.com/bwmarrin/snowflake"
	accountdomain "github.com/inkwell-ai/inkwell/internal/account/domain"
	"github.com/inkwell-ai/inkwell/internal/accountctx"
	"github.com/inkwell-ai/inkwell/internal/clock"
	"github.com/inkwell-ai/inkwell/internal/config"
	obsmetrics "github.com/inkwell-ai/inkwell/internal/observability/metrics"
	paymentdomain "github.com/inkwell-ai/inkwell/internal/payment/domain"
	plandomain "github.com/inkwell-ai/inkwell/internal/plan/domain"
	"github.com/inkwell-ai/inkwell/internal/providers/pdf"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	GenID    *snowflake.Node
	Clock    clock.Clock
	Billing  *config.BillingConfigHolder
	Repo     paymentdomain.Repository
	Accounts accountdomain.Repository
	Plans    plandomain.Service
	Receipts *pdf.ReceiptRenderer
	Metrics  *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	genID    *snowflake.Node
	clock    clock.Clock
	billing  *config.BillingConfigHolder
	repo     paymentdomain.Repository
	accounts accountdomain.Repository
	plans    plandomain.Service
	receipts *pdf.ReceiptRenderer
	metrics  *obsmetrics.Metrics
}

func New(p Params) paymentdomain.Service {
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("payment.service"),
		genID:    p.GenID,
		clock:    p.Clock,
		billing:  p.Billing,
		repo:     p.Repo,
		accounts: p.Accounts,
		plans:    p.Plans,
		receipts: p.Receipts,
		metrics:  p.Metrics,
	}
}

// Create opens a pending payment request for the resolved plan and returns
// it with the QR payload and expiry for display.
func (s *Service) Create(ctx context.Context, req paymentdomain.CreateRequest) (*paymentdomain.Response, error) {
	accountID, err := s.accountIDFromContext(ctx)
	if err != nil {
		return nil, err
	}

	plan, err := s.plans.Resolve(ctx, req.PlanID)
	if err != nil {
		return nil, err
	}

	amount := req.AmountMinor
	if amount <= 0 {
		amount = plan.AmountMinor
	}

	description := strings.TrimSpace(req.Description)
	if description == "" {
		description = plan.Name
	}

	cfg := s.billing.Get()
	now := s.clock.Now()
	reference := paymentdomain.NewReference(cfg.Payment.ReferencePrefix, now)

	payment := &paymentdomain.Payment{
		ID:                   s.genID.Generate(),
		AccountID:            accountID,
		PlanID:               plan.ID,
		Description:          description,
		TransactionReference: reference,
		AmountRequested:      amount,
		CreditsGranted:       plan.CreditsGranted,
		Status:               paymentdomain.StatusPending,
		QRPayload:            buildQRPayload(cfg.Payee, amount, reference),
		CreatedAt:            now,
		ExpiresAt:            now.Add(cfg.Payment.TTL()),
	}

	if err := s.repo.Insert(ctx, s.db, payment); err != nil {
		return nil, err
	}

	s.metrics.RecordPaymentCreated(ctx, plan.ID)
	s.log.Info("payment request created",
		zap.String("account_id", accountID.String()),
		zap.String("plan_id", plan.ID),
		zap.String("reference", reference),
		zap.Int64("amount", amount),
	)

	resp := s.toResponse(payment)
	return &resp, nil
}

func (s *Service) History(ctx context.Context) ([]paymentdomain.Response, error) {
	accountID, err := s.accountIDFromContext(ctx)
	if err != nil {
		return nil, err
	}

	items, err := s.repo.List(ctx, s.db, accountID)
	if err != nil {
		return nil, err
	}

	resp := make([]paymentdomain.Response, 0, len(items))
	for i := range items {
		fresh := s.freshen(ctx, &items[i])
		resp = append(resp, s.toResponse(fresh))
	}
	return resp, nil
}

func (s *Service) Detail(ctx context.Context, paymentID snowflake.ID) (*paymentdomain.Response, error) {
	accountID, err := s.accountIDFromContext(ctx)
	if err != nil {
		return nil, err
	}

	payment, err := s.repo.FindByID(ctx, s.db, accountID, paymentID)
	if err != nil {
		return nil, err
	}
	if payment == nil {
		return nil, paymentdomain.ErrPaymentNotFound
	}

	resp := s.toResponse(s.freshen(ctx, payment))
	return &resp, nil
}

func (s *Service) StatusByReference(ctx context.Context, reference string) (*paymentdomain.StatusResponse, error) {
	accountID, err := s.accountIDFromContext(ctx)
	if err != nil {
		return nil, err
	}

	trimmed := strings.ToUpper(strings.TrimSpace(reference))
	if trimmed == "" {
		return nil, paymentdomain.ErrPaymentNotFound
	}

	payment, err := s.repo.FindByReference(ctx, s.db, accountID, trimmed)
	if err != nil {
		return nil, err
	}
	if payment == nil {
		return nil, paymentdomain.ErrPaymentNotFound
	}

	fresh := s.freshen(ctx, payment)
	return &paymentdomain.StatusResponse{
		TransactionReference: fresh.TransactionReference,
		Status:               fresh.Status,
		CompletedAt:          fresh.CompletedAt,
	}, nil
}

// Receipt renders a PDF for a completed payment.
func (s *Service) Receipt(ctx context.Context, paymentID snowflake.ID) ([]byte, error) {
	accountID, err := s.accountIDFromContext(ctx)
	if err != nil {
		return nil, err
	}

	payment, err := s.repo.FindByID(ctx, s.db, accountID, paymentID)
	if err != nil {
		return nil, err
	}
	if payment == nil {
		return nil, paymentdomain.ErrPaymentNotFound
	}

	fresh := s.freshen(ctx, payment)
	if fresh.Status != paymentdomain.StatusCompleted || fresh.CompletedAt == nil {
		return nil, paymentdomain.ErrReceiptUnavailable
	}

	account, err := s.accounts.GetByID(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if account == nil {
		return nil, accountdomain.ErrAccountNotFound
	}

	cfg := s.billing.Get()
	settled := fresh.AmountRequested
	if fresh.SettledAmount != nil {
		settled = *fresh.SettledAmount
	}
	gateway := "bank"
	if fresh.GatewayName != nil {
		gateway = *fresh.GatewayName
	}

	return s.receipts.Render(ctx, pdf.ReceiptData{
		Reference:      fresh.TransactionReference,
		AccountName:    account.DisplayName,
		AccountEmail:   account.Email,
		PlanName:       fresh.PlanID,
		Description:    fresh.Description,
		CreditsGranted: fresh.CreditsGranted,
		AmountMinor:    fresh.AmountRequested,
		SettledMinor:   settled,
		GatewayName:    gateway,
		PaidAt:         fresh.CompletedAt.UTC().Format("2006-01-02 15:04 MST"),
		PayeeName:      cfg.Payee.AccountName,
		PayeeBank:      cfg.Payee.BankCode + " " + cfg.Payee.AccountNumber,
	})
}

// freshen applies the lazy expiry check a read path owes every pending
// record. Losing the conditional update means another writer already moved
// the row; the settled truth is reloaded in that case.
func (s *Service) freshen(ctx context.Context, payment *paymentdomain.Payment) *paymentdomain.Payment {
	if payment.Status != paymentdomain.StatusPending || !s.clock.Now().After(payment.ExpiresAt) {
		return payment
	}

	expired, err := s.repo.MarkExpired(ctx, s.db, payment.ID)
	if err != nil {
		s.log.Warn("lazy expiry failed", zap.String("payment_id", payment.ID.String()), zap.Error(err))
		return payment
	}
	if expired {
		payment.Status = paymentdomain.StatusExpired
		s.metrics.RecordPaymentExpired(ctx)
		s.log.Info("payment expired on read",
			zap.String("payment_id", payment.ID.String()),
			zap.String("reference", payment.TransactionReference),
		)
		return payment
	}

	reloaded, err := s.repo.FindByID(ctx, s.db, payment.AccountID, payment.ID)
	if err != nil || reloaded == nil {
		return payment
	}
	return reloaded
}

func (s *Service) accountIDFromContext(ctx context.Context) (snowflake.ID, error) {
	accountID, ok := accountctx.AccountIDFromContext(ctx)
	if !ok || accountID == 0 {
		return 0, paymentdomain.ErrInvalidAccount
	}
	return accountID, nil
}

// toResponse hides the QR payload and expiry once a record leaves pending.
func (s *Service) toResponse(payment *paymentdomain.Payment) paymentdomain.Response {
	resp := paymentdomain.Response{
		ID:                   payment.ID.String(),
		PlanID:               payment.PlanID,
		Description:          payment.Description,
		TransactionReference: payment.TransactionReference,
		AmountRequested:      payment.AmountRequested,
		CreditsGranted:       payment.CreditsGranted,
		Status:               payment.Status,
		CreatedAt:            payment.CreatedAt,
		CompletedAt:          payment.CompletedAt,
	}
	if payment.Status == paymentdomain.StatusPending {
		resp.QRPayload = payment.QRPayload
		expiresAt := payment.ExpiresAt
		resp.ExpiresAt = &expiresAt
	} else {
		resp.GatewayName = payment.GatewayName
		resp.SettledAmount = payment.SettledAmount
	}
	return resp
}

// buildQRPayload renders a VietQR image URL so any banking app can scan the
// transfer with the amount and narration prefilled. The narration is the
// transaction reference itself.
func buildQRPayload(payee config.PayeeConfig, amount int64, reference string) string {
	base := strings.TrimRight(payee.QRBaseURL, "/")

	query := url.Values{}
	query.Set("amount", strconv.FormatInt(amount, 10))
	query.Set("addInfo", reference)
	query.Set("accountName", payee.AccountName)

	return base + "/" + payee.BankCode + "-" + payee.AccountNumber + "-qr_only.png?" + query.Encode()
}
