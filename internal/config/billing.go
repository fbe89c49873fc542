package config

import (
	"errors"
	"fmt"
	"log"
	"regexp"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// BillingConfig carries the plan catalog and pricing knobs. It is loaded from
// billing.yml when present and falls back to the in-code defaults, so a fresh
// checkout resolves the standard catalog without any config file.
type BillingConfig struct {
	Plans   []PlanConfig  `mapstructure:"plans"`
	Pricing PricingConfig `mapstructure:"pricing"`
	Payment PaymentConfig `mapstructure:"payment"`
	Payee   PayeeConfig   `mapstructure:"payee"`
}

// PlanConfig is one fixed catalog entry.
type PlanConfig struct {
	ID          string `mapstructure:"id"`
	Name        string `mapstructure:"name"`
	Credits     int64  `mapstructure:"credits"`
	AmountMinor int64  `mapstructure:"amountMinor"`
	Pro         bool   `mapstructure:"pro"`
	ProDays     int    `mapstructure:"proDays"`
}

// PricingConfig drives usage charging and the tokens_<N> plan family.
type PricingConfig struct {
	// Minor currency units charged per prepaid credit.
	PerCreditMinor int64 `mapstructure:"perCreditMinor"`
	// LLM tokens covered by a single credit on chat actions.
	TokensPerCredit int64 `mapstructure:"tokensPerCredit"`
	// Fixed credit price of one generated image.
	ImageCredits int64 `mapstructure:"imageCredits"`
	// Multipliers applied per agent tier on chat charges.
	TierMultipliers map[string]int64 `mapstructure:"tierMultipliers"`
	// Upper bound for N in tokens_<N> plans.
	MaxTokenPlanCredits int64 `mapstructure:"maxTokenPlanCredits"`
}

// Multiplier returns the charge multiplier for an account tier. Unknown
// tiers charge at the base rate.
func (p PricingConfig) Multiplier(tier string) int64 {
	if m, ok := p.TierMultipliers[tier]; ok && m > 0 {
		return m
	}
	return 1
}

// PaymentConfig controls payment request issuance.
type PaymentConfig struct {
	TTLMinutes      int    `mapstructure:"ttlMinutes"`
	ReferencePrefix string `mapstructure:"referencePrefix"`
}

// TTL returns the pending payment lifetime.
func (p PaymentConfig) TTL() time.Duration {
	if p.TTLMinutes <= 0 {
		return 15 * time.Minute
	}
	return time.Duration(p.TTLMinutes) * time.Minute
}

// PayeeConfig identifies the receiving bank account embedded in QR payloads.
type PayeeConfig struct {
	BankCode      string `mapstructure:"bankCode"`
	AccountNumber string `mapstructure:"accountNumber"`
	AccountName   string `mapstructure:"accountName"`
	QRBaseURL     string `mapstructure:"qrBaseURL"`
}

func DefaultBillingConfig() BillingConfig {
	return BillingConfig{
		Plans: []PlanConfig{
			{ID: "credits_100", Name: "100 credits", Credits: 100, AmountMinor: 50_000},
			{ID: "credits_500", Name: "500 credits", Credits: 500, AmountMinor: 225_000},
			{ID: "credits_1200", Name: "1200 credits", Credits: 1200, AmountMinor: 480_000},
			{ID: "pro_monthly", Name: "Pro monthly", Credits: 200, AmountMinor: 99_000, Pro: true, ProDays: 30},
			{ID: "pro_yearly", Name: "Pro yearly", Credits: 2400, AmountMinor: 990_000, Pro: true, ProDays: 365},
		},
		Pricing: PricingConfig{
			PerCreditMinor:      500,
			TokensPerCredit:     1000,
			ImageCredits:        5,
			TierMultipliers:     map[string]int64{"standard": 1, "pro": 2},
			MaxTokenPlanCredits: 1_000_000,
		},
		Payment: PaymentConfig{
			TTLMinutes:      15,
			ReferencePrefix: "INKW",
		},
		Payee: PayeeConfig{
			BankCode:      "970436",
			AccountNumber: "0071000188899",
			AccountName:   "INKWELL STUDIO",
			QRBaseURL:     "https://img.vietqr.io/image",
		},
	}
}

// BillingConfigHolder hands out the current billing config and hot-reloads it
// when billing.yml changes on disk.
type BillingConfigHolder struct {
	current atomic.Value // holds BillingConfig
}

func NewBillingConfigHolder() (*BillingConfigHolder, error) {
	v := viper.New()

	v.SetConfigName("billing")
	v.SetConfigType("yml")
	v.AddConfigPath("/var/lib/inkwell/config") // Volume-mounted config
	v.AddConfigPath("/etc/inkwell")            // System config
	v.AddConfigPath(".")                       // Current directory (dev mode)

	v.SetEnvPrefix("INKWELL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultBillingConfig()
	v.SetDefault("billing.plans", defaults.Plans)
	v.SetDefault("billing.pricing", defaults.Pricing)
	v.SetDefault("billing.payment", defaults.Payment)
	v.SetDefault("billing.payee", defaults.Payee)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var cfg BillingConfig
	if err := v.UnmarshalKey("billing", &cfg); err != nil {
		return nil, err
	}
	if err := validateBillingConfig(cfg); err != nil {
		return nil, err
	}

	holder := &BillingConfigHolder{}
	holder.current.Store(cfg)

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		var updated BillingConfig
		if err := v.UnmarshalKey("billing", &updated); err != nil {
			log.Printf("[billing-config] reload failed: %v", err)
			return
		}
		if err := validateBillingConfig(updated); err != nil {
			log.Printf("[billing-config] invalid config ignored: %v", err)
			return
		}
		holder.current.Store(updated)
		log.Printf("[billing-config] reloaded from %s", e.Name)
	})

	return holder, nil
}

func (h *BillingConfigHolder) Get() BillingConfig {
	return h.current.Load().(BillingConfig)
}

// NewStaticBillingHolder wraps a fixed config without file watching, for tests.
func NewStaticBillingHolder(cfg BillingConfig) *BillingConfigHolder {
	holder := &BillingConfigHolder{}
	holder.current.Store(cfg)
	return holder
}

var referencePrefixPattern = regexp.MustCompile(`^[A-Z0-9]{2,8}$`)

func validateBillingConfig(cfg BillingConfig) error {
	if len(cfg.Plans) == 0 {
		return errors.New("billing.plans cannot be empty")
	}
	seen := make(map[string]struct{}, len(cfg.Plans))
	for _, plan := range cfg.Plans {
		id := strings.TrimSpace(plan.ID)
		if id == "" {
			return errors.New("billing.plans entries require an id")
		}
		if _, dup := seen[id]; dup {
			return fmt.Errorf("billing.plans id %q is duplicated", id)
		}
		seen[id] = struct{}{}
		if plan.Credits <= 0 {
			return fmt.Errorf("billing.plans %q: credits must be positive", id)
		}
		if plan.AmountMinor < 0 {
			return fmt.Errorf("billing.plans %q: amountMinor cannot be negative", id)
		}
		if plan.Pro && plan.ProDays <= 0 {
			return fmt.Errorf("billing.plans %q: pro plans require proDays", id)
		}
	}
	if cfg.Pricing.PerCreditMinor <= 0 {
		return errors.New("billing.pricing.perCreditMinor must be positive")
	}
	if cfg.Pricing.TokensPerCredit <= 0 {
		return errors.New("billing.pricing.tokensPerCredit must be positive")
	}
	if cfg.Pricing.ImageCredits <= 0 {
		return errors.New("billing.pricing.imageCredits must be positive")
	}
	if cfg.Pricing.MaxTokenPlanCredits <= 0 {
		return errors.New("billing.pricing.maxTokenPlanCredits must be positive")
	}
	if cfg.Payment.TTLMinutes <= 0 {
		return errors.New("billing.payment.ttlMinutes must be positive")
	}
	if !referencePrefixPattern.MatchString(cfg.Payment.ReferencePrefix) {
		return errors.New("billing.payment.referencePrefix must be 2-8 uppercase letters or digits")
	}
	if strings.TrimSpace(cfg.Payee.AccountNumber) == "" {
		return errors.New("billing.payee.accountNumber is required")
	}
	return nil
}
