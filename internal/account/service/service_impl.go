package service

import (
	"context"
	"strconv"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gosimple/slug"
	"github.com/inkwell-ai/inkwell/internal/account/domain"
	"github.com/inkwell-ai/inkwell/internal/accountctx"
	apikeydomain "github.com/inkwell-ai/inkwell/internal/apikey/domain"
	"github.com/inkwell-ai/inkwell/internal/clock"
	"github.com/inkwell-ai/inkwell/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	GenID   *snowflake.Node
	Clock   clock.Clock
	Repo    domain.Repository
	APIKeys apikeydomain.Service
}

type Service struct {
	db      *gorm.DB
	log     *zap.Logger
	genID   *snowflake.Node
	clock   clock.Clock
	repo    domain.Repository
	apiKeys apikeydomain.Service
}

func New(p Params) domain.Service {
	return &Service{
		db:      p.DB,
		log:     p.Log.Named("account.service"),
		genID:   p.GenID,
		clock:   p.Clock,
		repo:    p.Repo,
		apiKeys: p.APIKeys,
	}
}

// Provision creates an account with a zero balance and issues its first API
// key. The plaintext key is returned once and never stored.
func (s *Service) Provision(ctx context.Context, req domain.ProvisionRequest) (*domain.ProvisionResponse, error) {
	name := strings.TrimSpace(req.DisplayName)
	if name == "" {
		return nil, domain.ErrInvalidName
	}

	email := strings.TrimSpace(strings.ToLower(req.Email))
	if email == "" || !strings.Contains(email, "@") {
		return nil, domain.ErrInvalidEmail
	}

	now := s.clock.Now()
	id := s.genID.Generate()
	account := &domain.Account{
		ID:          id,
		Handle:      slug.Make(name),
		DisplayName: name,
		Email:       email,
		IsActive:    true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := s.repo.Create(ctx, account); err != nil {
		if !db.IsDuplicateKeyErr(err) {
			return nil, err
		}
		// Handle taken; retry once with an id-derived suffix.
		account.Handle = account.Handle + "-" + strings.ToLower(strconv.FormatInt(int64(id), 36))
		if err := s.repo.Create(ctx, account); err != nil {
			return nil, err
		}
	}

	keyCtx := accountctx.WithAccountID(ctx, int64(id))
	secret, err := s.apiKeys.Create(keyCtx, apikeydomain.CreateRequest{
		Name:   "default",
		Scopes: apikeydomain.FirstKeyScopes,
	})
	if err != nil {
		s.log.Error("initial api key issue failed", zap.String("account_id", id.String()), zap.Error(err))
		return nil, err
	}

	s.log.Info("account provisioned", zap.String("account_id", id.String()), zap.String("handle", account.Handle))

	return &domain.ProvisionResponse{
		Account: s.toProfile(account),
		KeyID:   secret.KeyID,
		APIKey:  secret.APIKey,
	}, nil
}

func (s *Service) Get(ctx context.Context) (*domain.Profile, error) {
	accountID, ok := accountctx.AccountIDFromContext(ctx)
	if !ok || accountID == 0 {
		return nil, domain.ErrAccountNotFound
	}
	return s.GetByID(ctx, accountID)
}

func (s *Service) GetByID(ctx context.Context, id snowflake.ID) (*domain.Profile, error) {
	account, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if account == nil {
		return nil, domain.ErrAccountNotFound
	}
	profile := s.toProfile(account)
	return &profile, nil
}

func (s *Service) toProfile(account *domain.Account) domain.Profile {
	return domain.Profile{
		ID:              account.ID.String(),
		Handle:          account.Handle,
		DisplayName:     account.DisplayName,
		Email:           account.Email,
		TokenBalance:    account.TokenBalance,
		CreditsUsed:     account.CreditsUsed,
		TotalSpentMinor: account.TotalSpentMinor,
		Tier:            account.Tier(s.clock.Now()),
		ProExpiresAt:    account.ProExpiresAt,
		CreatedAt:       account.CreatedAt,
	}
}
