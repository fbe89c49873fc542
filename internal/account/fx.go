package account

import (
	"github.com/inkwell-ai/inkwell/internal/account/repository"
	"github.com/inkwell-ai/inkwell/internal/account/service"
	"go.uber.org/fx"
)

var Module = fx.Module("account.service",
	fx.Provide(repository.NewRepository),
	fx.Provide(service.New),
)
