package generation

import (
	"github.com/inkwell-ai/inkwell/internal/config"
	"github.com/inkwell-ai/inkwell/internal/generation/client"
	"github.com/inkwell-ai/inkwell/internal/generation/service"
	"go.uber.org/fx"
)

var Module = fx.Module("generation.service",
	fx.Provide(func(cfg config.Config) service.TaskClient {
		return client.New(cfg)
	}),
	fx.Provide(service.New),
)
