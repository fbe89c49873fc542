package service

import (
	"context"

	paymentdomain "github.com/inkwell-ai/inkwell/internal/payment/domain"
	"github.com/inkwell-ai/inkwell/internal/revenuemetrics"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// HandleSettlement reconciles one authenticated gateway notification against
// the ledger. Every return with a nil error is acknowledged to the gateway,
// including the ones that change nothing; the gateway redelivers anything it
// does not see acknowledged, and it must never be made to retry forever for
// input this service will never resolve.
func (s *Service) HandleSettlement(ctx context.Context, notif paymentdomain.SettlementNotification) (string, error) {
	cfg := s.billing.Get()

	reference, ok := paymentdomain.ExtractReference(cfg.Payment.ReferencePrefix, notif.Narration)
	if !ok {
		s.log.Info("settlement narration carries no reference",
			zap.String("gateway", notif.GatewayName),
			zap.String("notification_id", notif.GatewayNotificationID),
		)
		s.metrics.RecordSettlementIgnored(ctx, notif.GatewayName, paymentdomain.OutcomeNoReference)
		return paymentdomain.OutcomeNoReference, nil
	}

	payment, err := s.repo.FindPendingByReference(ctx, s.db, reference)
	if err != nil {
		return paymentdomain.OutcomeInternalError, err
	}
	if payment == nil {
		// Already settled, already expired, or a reference this ledger never
		// issued. Redeliveries of an applied settlement land here.
		s.log.Info("settlement matches no pending payment",
			zap.String("gateway", notif.GatewayName),
			zap.String("reference", reference),
		)
		s.metrics.RecordSettlementIgnored(ctx, notif.GatewayName, paymentdomain.OutcomeNotFound)
		return paymentdomain.OutcomeNotFound, nil
	}

	now := s.clock.Now()
	if now.After(payment.ExpiresAt) {
		expired, err := s.repo.MarkExpired(ctx, s.db, payment.ID)
		if err != nil {
			return paymentdomain.OutcomeInternalError, err
		}
		outcome := paymentdomain.OutcomeExpired
		if !expired {
			outcome = paymentdomain.OutcomeLostRace
		}
		s.log.Info("settlement arrived past expiry",
			zap.String("reference", reference),
			zap.String("outcome", outcome),
		)
		s.metrics.RecordSettlementIgnored(ctx, notif.GatewayName, outcome)
		return outcome, nil
	}

	if notif.SettledAmount < payment.AmountRequested {
		// Underpayment leaves the request pending; the payer can still
		// complete the transfer before the TTL runs out.
		s.log.Warn("settlement amount below requested",
			zap.String("reference", reference),
			zap.Int64("settled", notif.SettledAmount),
			zap.Int64("requested", payment.AmountRequested),
		)
		s.metrics.RecordSettlementIgnored(ctx, notif.GatewayName, paymentdomain.OutcomeUnderpaid)
		return paymentdomain.OutcomeUnderpaid, nil
	}

	applied := false
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		ok, err := s.repo.Settle(ctx, tx, payment.ID, notif.GatewayName, notif.GatewayNotificationID, notif.SettledAmount, now)
		if err != nil {
			return err
		}
		if !ok {
			// Another delivery or an expiry writer won; apply nothing.
			return nil
		}
		applied = true

		accounts := s.accounts.WithTx(tx)
		if err := accounts.Credit(ctx, payment.AccountID, payment.CreditsGranted); err != nil {
			return err
		}

		return s.grantProIfNeeded(ctx, tx, payment)
	})
	if err != nil {
		return paymentdomain.OutcomeInternalError, err
	}
	if !applied {
		s.metrics.RecordSettlementIgnored(ctx, notif.GatewayName, paymentdomain.OutcomeLostRace)
		return paymentdomain.OutcomeLostRace, nil
	}

	s.metrics.RecordSettlementApplied(ctx, notif.GatewayName)
	revenuemetrics.RecordSettlement(payment.PlanID, notif.GatewayName, notif.SettledAmount, payment.CreditsGranted)
	s.log.Info("payment settled",
		zap.String("account_id", payment.AccountID.String()),
		zap.String("reference", reference),
		zap.String("plan_id", payment.PlanID),
		zap.Int64("credits", payment.CreditsGranted),
		zap.Int64("settled", notif.SettledAmount),
	)
	return paymentdomain.OutcomeApplied, nil
}

// grantProIfNeeded extends the pro window for subscription plans. An account
// still inside its window keeps the remaining days; the grant stacks on top.
func (s *Service) grantProIfNeeded(ctx context.Context, tx *gorm.DB, payment *paymentdomain.Payment) error {
	plan, err := s.plans.Resolve(ctx, payment.PlanID)
	if err != nil {
		// Catalog drift between creation and settlement; the credits are
		// already granted, pro extension is all that is lost.
		s.log.Error("plan vanished before settlement", zap.String("plan_id", payment.PlanID), zap.Error(err))
		return nil
	}
	if !plan.IsPro {
		return nil
	}

	accounts := s.accounts.WithTx(tx)
	account, err := accounts.GetByID(ctx, payment.AccountID)
	if err != nil {
		return err
	}
	if account == nil {
		return paymentdomain.ErrInvalidAccount
	}

	now := s.clock.Now()
	if plan.ProDurationDays <= 0 {
		if err := accounts.GrantPro(ctx, payment.AccountID, nil); err != nil {
			return err
		}
		revenuemetrics.RecordProGrant()
		return nil
	}

	base := now
	if account.ProActive(now) && account.ProExpiresAt != nil {
		base = *account.ProExpiresAt
	}
	until := base.AddDate(0, 0, plan.ProDurationDays)
	if err := accounts.GrantPro(ctx, payment.AccountID, &until); err != nil {
		return err
	}
	revenuemetrics.RecordProGrant()
	return nil
}
