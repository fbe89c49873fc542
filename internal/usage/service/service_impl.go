package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	accountdomain "github.com/inkwell-ai/inkwell/internal/account/domain"
	"github.com/inkwell-ai/inkwell/internal/accountctx"
	"github.com/inkwell-ai/inkwell/internal/clock"
	"github.com/inkwell-ai/inkwell/internal/config"
	obsmetrics "github.com/inkwell-ai/inkwell/internal/observability/metrics"
	"github.com/inkwell-ai/inkwell/internal/revenuemetrics"
	usagedomain "github.com/inkwell-ai/inkwell/internal/usage/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	GenID    *snowflake.Node
	Clock    clock.Clock
	Billing  *config.BillingConfigHolder
	Repo     usagedomain.Repository
	Accounts accountdomain.Repository
	Metrics  *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	genID    *snowflake.Node
	clock    clock.Clock
	billing  *config.BillingConfigHolder
	repo     usagedomain.Repository
	accounts accountdomain.Repository
	metrics  *obsmetrics.Metrics
}

func New(p Params) usagedomain.Service {
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("usage.service"),
		genID:    p.GenID,
		clock:    p.Clock,
		billing:  p.Billing,
		repo:     p.Repo,
		accounts: p.Accounts,
		metrics:  p.Metrics,
	}
}

// ChargeSync bills a completed chat action. Credits are the token count
// rounded up to whole credits, scaled by the account's tier multiplier; the
// record append and the guarded balance debit commit together.
func (s *Service) ChargeSync(ctx context.Context, accountID snowflake.ID, actionKind string, tokensConsumed int64, metadata map[string]any) (*usagedomain.ChargeResult, error) {
	if accountID == 0 {
		return nil, usagedomain.ErrInvalidAccount
	}
	if actionKind != usagedomain.ActionChatCompletion && actionKind != usagedomain.ActionChatStream {
		return nil, usagedomain.ErrInvalidActionKind
	}
	if tokensConsumed <= 0 {
		return nil, usagedomain.ErrInvalidTokens
	}

	account, err := s.accounts.GetByID(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if account == nil {
		return nil, accountdomain.ErrAccountNotFound
	}

	cfg := s.billing.Get()
	now := s.clock.Now()
	tier := account.Tier(now)

	perCredit := cfg.Pricing.TokensPerCredit
	if perCredit <= 0 {
		perCredit = 1000
	}
	credits := ceilDiv(tokensConsumed, perCredit) * cfg.Pricing.Multiplier(tier)
	costMinor := credits * cfg.Pricing.PerCreditMinor

	record := &usagedomain.UsageRecord{
		ID:             s.genID.Generate(),
		AccountID:      accountID,
		ActionKind:     actionKind,
		CreditsCharged: credits,
		CostMinor:      costMinor,
		Success:        true,
		Metadata:       mergeMetadata(metadata, map[string]any{"tokens_consumed": tokensConsumed, "tier": tier}),
		CreatedAt:      now,
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.repo.Insert(ctx, tx, record); err != nil {
			return err
		}
		return s.accounts.WithTx(tx).Debit(ctx, accountID, credits, costMinor)
	})
	if err != nil {
		return nil, err
	}

	s.metrics.RecordUsageCharge(ctx, actionKind, usagedomain.OutcomeApplied)
	revenuemetrics.RecordCreditsConsumed(actionKind, credits)
	s.log.Info("sync usage charged",
		zap.String("account_id", accountID.String()),
		zap.String("action_kind", actionKind),
		zap.Int64("tokens", tokensConsumed),
		zap.Int64("credits", credits),
		zap.String("tier", tier),
	)

	balance := account.TokenBalance - credits
	if fresh, err := s.accounts.GetByID(ctx, accountID); err == nil && fresh != nil {
		balance = fresh.TokenBalance
	}

	return &usagedomain.ChargeResult{
		CreditsCharged: credits,
		CostMinor:      costMinor,
		Balance:        balance,
	}, nil
}

// ChargeAsyncFirstOutcome bills an externally polled job exactly once. The
// pre-check catches the common repeat poll cheaply; the partial unique index
// behind InsertIdempotent closes the race two concurrent pollers can still
// reach.
func (s *Service) ChargeAsyncFirstOutcome(ctx context.Context, accountID snowflake.ID, actionKind string, externalJobID string, succeeded bool, metadata map[string]any) (string, error) {
	if accountID == 0 {
		return "", usagedomain.ErrInvalidAccount
	}
	if !usagedomain.KnownAction(actionKind) {
		return "", usagedomain.ErrInvalidActionKind
	}
	jobID := strings.TrimSpace(externalJobID)
	if jobID == "" {
		return "", usagedomain.ErrInvalidJobID
	}

	existing, err := s.repo.FindSuccessByJob(ctx, s.db, accountID, actionKind, jobID)
	if err != nil {
		return "", err
	}
	if existing != nil {
		s.metrics.RecordUsageCharge(ctx, actionKind, usagedomain.OutcomeAlreadyApplied)
		return usagedomain.OutcomeAlreadyApplied, nil
	}

	now := s.clock.Now()

	if !succeeded {
		record := &usagedomain.UsageRecord{
			ID:            s.genID.Generate(),
			AccountID:     accountID,
			ActionKind:    actionKind,
			Success:       false,
			ExternalJobID: &jobID,
			Metadata:      mergeMetadata(metadata, nil),
			CreatedAt:     now,
		}
		if err := s.repo.Insert(ctx, s.db, record); err != nil {
			return "", err
		}
		s.metrics.RecordUsageCharge(ctx, actionKind, usagedomain.OutcomeFailureRecorded)
		s.log.Info("failed job recorded without charge",
			zap.String("account_id", accountID.String()),
			zap.String("action_kind", actionKind),
			zap.String("external_job_id", jobID),
		)
		return usagedomain.OutcomeFailureRecorded, nil
	}

	cfg := s.billing.Get()
	credits := cfg.Pricing.ImageCredits
	if credits <= 0 {
		credits = 1
	}
	costMinor := credits * cfg.Pricing.PerCreditMinor

	record := &usagedomain.UsageRecord{
		ID:             s.genID.Generate(),
		AccountID:      accountID,
		ActionKind:     actionKind,
		CreditsCharged: credits,
		CostMinor:      costMinor,
		Success:        true,
		ExternalJobID:  &jobID,
		Metadata:       mergeMetadata(metadata, nil),
		CreatedAt:      now,
	}

	applied := false
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		inserted, err := s.repo.InsertIdempotent(ctx, tx, record)
		if err != nil {
			return err
		}
		if !inserted {
			return nil
		}
		applied = true
		return s.accounts.WithTx(tx).Debit(ctx, accountID, credits, costMinor)
	})
	if err != nil {
		return "", err
	}
	if !applied {
		s.metrics.RecordUsageCharge(ctx, actionKind, usagedomain.OutcomeAlreadyApplied)
		return usagedomain.OutcomeAlreadyApplied, nil
	}

	s.metrics.RecordUsageCharge(ctx, actionKind, usagedomain.OutcomeApplied)
	revenuemetrics.RecordCreditsConsumed(actionKind, credits)
	s.log.Info("async usage charged",
		zap.String("account_id", accountID.String()),
		zap.String("action_kind", actionKind),
		zap.String("external_job_id", jobID),
		zap.Int64("credits", credits),
	)
	return usagedomain.OutcomeApplied, nil
}

func (s *Service) History(ctx context.Context) ([]usagedomain.Response, error) {
	accountID, ok := accountctx.AccountIDFromContext(ctx)
	if !ok || accountID == 0 {
		return nil, usagedomain.ErrInvalidAccount
	}

	records, err := s.repo.List(ctx, s.db, accountID)
	if err != nil {
		return nil, err
	}

	resp := make([]usagedomain.Response, 0, len(records))
	for i := range records {
		record := &records[i]
		resp = append(resp, usagedomain.Response{
			ID:             record.ID.String(),
			ActionKind:     record.ActionKind,
			CreditsCharged: record.CreditsCharged,
			CostMinor:      record.CostMinor,
			Success:        record.Success,
			ExternalJobID:  record.ExternalJobID,
			Metadata:       record.Metadata,
			CreatedAt:      record.CreatedAt,
		})
	}
	return resp, nil
}

func ceilDiv(n, d int64) int64 {
	return (n + d - 1) / d
}

func mergeMetadata(base map[string]any, extra map[string]any) datatypes.JSONMap {
	if len(base) == 0 && len(extra) == 0 {
		return nil
	}
	merged := make(datatypes.JSONMap, len(base)+len(extra))
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range extra {
		merged[k] = v
	}
	return merged
}
