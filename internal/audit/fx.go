package audit

import (
	"github.com/inkwell-ai/inkwell/internal/audit/repository"
	"github.com/inkwell-ai/inkwell/internal/audit/service"
	"go.uber.org/fx"
)

var Module = fx.Module("audit.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
