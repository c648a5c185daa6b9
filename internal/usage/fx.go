package usage

import (
	"github.com/mihaildragos/social-proof-app-sub000/internal/usage/repository"
	"github.com/mihaildragos/social-proof-app-sub000/internal/usage/service"
	"go.uber.org/fx"
)

var Module = fx.Module("usage.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
