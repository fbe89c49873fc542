package usage

import (
	"github.com/inkwell-ai/inkwell/internal/usage/repository"
	"github.com/inkwell-ai/inkwell/internal/usage/service"
	"go.uber.org/fx"
)

var Module = fx.Module("usage.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
