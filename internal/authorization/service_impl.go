package authorization

import (
	"context"
	_ "embed"
	"errors"
	"strings"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	gormadapter "github.com/casbin/gorm-adapter/v3"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

//go:embed model.conf
var modelText string

const (
	ObjectAccount    = "account"
	ObjectPayment    = "payment"
	ObjectUsage      = "usage"
	ObjectGeneration = "generation"
	ObjectAPIKey     = "api_key"
)

const (
	ActionAccountProvision = "account.provision"
	ActionAccountView      = "account.view"

	ActionPaymentCreate  = "payment.create"
	ActionPaymentView    = "payment.view"
	ActionPaymentReceipt = "payment.receipt"

	ActionUsageCharge = "usage.charge"
	ActionUsageView   = "usage.view"

	ActionGenerationSubmit = "generation.submit"
	ActionGenerationPoll   = "generation.poll"

	ActionAPIKeyView   = "api_key.view"
	ActionAPIKeyCreate = "api_key.create"
	ActionAPIKeyRotate = "api_key.rotate"
	ActionAPIKeyRevoke = "api_key.revoke"
)

// Roles group endpoint capabilities; API key scopes are casbin subjects
// grouped under them.
const (
	roleBillingViewer = "role:billing_viewer"
	roleBilling       = "role:billing"
	roleMetering      = "role:metering"
	roleGeneration    = "role:generation"
	roleKeyManager    = "role:key_manager"
	roleAdmin         = "role:admin"
)

var (
	ErrForbidden     = errors.New("forbidden")
	ErrInvalidObject = errors.New("invalid_object")
	ErrInvalidAction = errors.New("invalid_action")
)

// Service answers whether a key's scopes permit an endpoint capability.
type Service interface {
	Authorize(ctx context.Context, scopes []string, object, action string) error
}

type Params struct {
	fx.In

	Log      *zap.Logger
	Enforcer *casbin.SyncedEnforcer
}

type ServiceImpl struct {
	log      *zap.Logger
	enforcer *casbin.SyncedEnforcer
}

// NewEnforcer builds the synced enforcer over the gorm-backed policy store
// and seeds the scope and role policy set.
func NewEnforcer(db *gorm.DB) (*casbin.SyncedEnforcer, error) {
	adapter, err := gormadapter.NewAdapterByDB(db)
	if err != nil {
		return nil, err
	}
	m, err := model.NewModelFromString(modelText)
	if err != nil {
		return nil, err
	}
	enforcer, err := casbin.NewSyncedEnforcer(m, adapter)
	if err != nil {
		return nil, err
	}
	enforcer.EnableAutoSave(true)
	enforcer.EnableAutoBuildRoleLinks(true)
	if err := enforcer.LoadPolicy(); err != nil {
		return nil, err
	}
	if err := seedPolicies(enforcer); err != nil {
		return nil, err
	}
	if err := enforcer.BuildRoleLinks(); err != nil {
		return nil, err
	}
	return enforcer, nil
}

func NewService(p Params) Service {
	return &ServiceImpl{
		log:      p.Log.Named("authorization.service"),
		enforcer: p.Enforcer,
	}
}

// Authorize allows the request when any one of the key's scopes grants the
// object and action pair.
func (s *ServiceImpl) Authorize(ctx context.Context, scopes []string, object, action string) error {
	object = strings.TrimSpace(object)
	if object == "" {
		return ErrInvalidObject
	}
	action = strings.TrimSpace(action)
	if action == "" {
		return ErrInvalidAction
	}

	for _, scope := range scopes {
		scope = strings.ToLower(strings.TrimSpace(scope))
		if scope == "" {
			continue
		}
		allowed, err := s.enforcer.Enforce(scopeSubject(scope), object, action)
		if err != nil {
			return err
		}
		if allowed {
			return nil
		}
	}

	s.log.Warn("capability denied",
		zap.Strings("scopes", scopes),
		zap.String("object", object),
		zap.String("action", action),
	)
	return ErrForbidden
}

func scopeSubject(scope string) string {
	return "scope:" + scope
}

func seedPolicies(enforcer *casbin.SyncedEnforcer) error {
	policies := [][]string{
		{roleBillingViewer, ObjectAccount, ActionAccountView},
		{roleBillingViewer, ObjectPayment, ActionPaymentView},
		{roleBillingViewer, ObjectPayment, ActionPaymentReceipt},
		{roleBillingViewer, ObjectUsage, ActionUsageView},

		{roleBilling, ObjectPayment, ActionPaymentCreate},

		{roleMetering, ObjectUsage, ActionUsageCharge},
		{roleMetering, ObjectUsage, ActionUsageView},

		{roleGeneration, ObjectGeneration, ActionGenerationSubmit},
		{roleGeneration, ObjectGeneration, ActionGenerationPoll},
		{roleGeneration, ObjectUsage, ActionUsageView},

		{roleKeyManager, ObjectAPIKey, ActionAPIKeyView},
		{roleKeyManager, ObjectAPIKey, ActionAPIKeyCreate},
		{roleKeyManager, ObjectAPIKey, ActionAPIKeyRotate},
		{roleKeyManager, ObjectAPIKey, ActionAPIKeyRevoke},

		{roleAdmin, ObjectAccount, ActionAccountProvision},
	}

	// Role inheritance, then scope membership. A write scope carries its
	// read capabilities; admin carries everything. Key management is its own
	// role so a tenant's key can rotate itself without platform powers.
	groupings := [][]string{
		{roleBilling, roleBillingViewer},
		{roleAdmin, roleBilling},
		{roleAdmin, roleMetering},
		{roleAdmin, roleGeneration},
		{roleAdmin, roleKeyManager},

		{scopeSubject("billing:read"), roleBillingViewer},
		{scopeSubject("billing:write"), roleBilling},
		{scopeSubject("usage:write"), roleMetering},
		{scopeSubject("generation:write"), roleGeneration},
		{scopeSubject("keys:manage"), roleKeyManager},
		{scopeSubject("admin"), roleAdmin},
	}

	for _, policy := range policies {
		if _, err := enforcer.AddPolicy(policy[0], policy[1], policy[2]); err != nil {
			return err
		}
	}
	for _, grouping := range groupings {
		if _, err := enforcer.AddGroupingPolicy(grouping[0], grouping[1]); err != nil {
			return err
		}
	}
	return nil
}
