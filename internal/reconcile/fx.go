package reconcile

import (
	"github.com/mihaildragos/social-proof-app-sub000/internal/reconcile/repository"
	"github.com/mihaildragos/social-proof-app-sub000/internal/reconcile/service"
	"go.uber.org/fx"
)

var Module = fx.Module("reconcile.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
