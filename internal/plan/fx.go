package plan

import (
	"github.com/inkwell-ai/inkwell/internal/plan/service"
	"go.uber.org/fx"
)

var Module = fx.Module("plan.service",
	fx.Provide(service.New),
)
