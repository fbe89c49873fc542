// Package seed bootstraps an empty deployment. Every API route needs a
// bearer key and minting keys needs the admin scope, so a fresh database is
// unreachable until someone holds an admin credential; this closes that loop.
package seed

import (
	"context"

	"github.com/bwmarrin/snowflake"
	accountdomain "github.com/inkwell-ai/inkwell/internal/account/domain"
	"github.com/inkwell-ai/inkwell/internal/accountctx"
	apikeydomain "github.com/inkwell-ai/inkwell/internal/apikey/domain"
	"github.com/inkwell-ai/inkwell/internal/clock"
	"github.com/inkwell-ai/inkwell/internal/config"
	"github.com/inkwell-ai/inkwell/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	operatorHandle  = "inkwell-operator"
	operatorDisplay = "Inkwell Operator"
	operatorEmail   = "operator@inkwell.local"
)

var Module = fx.Module("seed",
	fx.Invoke(EnsureOperatorAccount),
)

type Params struct {
	fx.In

	Cfg      config.Config
	Log      *zap.Logger
	GenID    *snowflake.Node
	Clock    clock.Clock
	Accounts accountdomain.Repository
	APIKeys  apikeydomain.Service
}

// EnsureOperatorAccount creates the operator account with an admin key when
// BOOTSTRAP_ADMIN is set. The key plaintext is logged exactly once, on the
// run that created the account; rotate it once real keys exist.
func EnsureOperatorAccount(p Params) error {
	if !p.Cfg.BootstrapAdmin {
		return nil
	}
	log := p.Log.Named("seed")
	ctx := context.Background()

	existing, err := p.Accounts.GetByHandle(ctx, operatorHandle)
	if err != nil {
		return err
	}
	if existing != nil {
		log.Debug("operator account present", zap.String("handle", operatorHandle))
		return nil
	}

	now := p.Clock.Now()
	id := p.GenID.Generate()
	account := &accountdomain.Account{
		ID:          id,
		Handle:      operatorHandle,
		DisplayName: operatorDisplay,
		Email:       operatorEmail,
		IsActive:    true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := p.Accounts.Create(ctx, account); err != nil {
		if db.IsDuplicateKeyErr(err) {
			// Another instance won the bootstrap race.
			return nil
		}
		return err
	}

	keyCtx := accountctx.WithAccountID(ctx, int64(id))
	secret, err := p.APIKeys.Create(keyCtx, apikeydomain.CreateRequest{
		Name:   "bootstrap-admin",
		Scopes: []string{apikeydomain.ScopeAdmin},
	})
	if err != nil {
		return err
	}

	log.Warn("operator account bootstrapped; store this key and rotate it",
		zap.String("handle", operatorHandle),
		zap.String("key_id", secret.KeyID),
		zap.String("api_key", secret.APIKey),
	)
	return nil
}
