package invoice

import (
	"github.com/mihaildragos/social-proof-app-sub000/internal/invoice/repository"
	"github.com/mihaildragos/social-proof-app-sub000/internal/invoice/service"
	"go.uber.org/fx"
)

var Module = fx.Module("invoice.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
