package apikey

import (
	"github.com/inkwell-ai/inkwell/internal/apikey/repository"
	"github.com/inkwell-ai/inkwell/internal/apikey/service"
	"go.uber.org/fx"
)

var Module = fx.Module("apikey.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
