package payment

import (
	"github.com/inkwell-ai/inkwell/internal/config"
	"github.com/inkwell-ai/inkwell/internal/payment/gateway"
	"github.com/inkwell-ai/inkwell/internal/payment/repository"
	"github.com/inkwell-ai/inkwell/internal/payment/service"
	"github.com/inkwell-ai/inkwell/internal/providers/pdf"
	"go.uber.org/fx"
)

var Module = fx.Module("payment.service",
	fx.Provide(pdf.NewReceiptRenderer),
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
	fx.Provide(func(cfg config.Config) *gateway.Verifier {
		return gateway.NewVerifier(cfg.WebhookSecret)
	}),
)
