package plan

import (
	"github.com/mihaildragos/social-proof-app-sub000/internal/plan/repository"
	"github.com/mihaildragos/social-proof-app-sub000/internal/plan/service"
	"go.uber.org/fx"
)

var Module = fx.Module("plan.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
