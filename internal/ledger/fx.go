package ledger

import (
	"go.uber.org/fx"
)

var Module = fx.Module("ledger.client",
	fx.Provide(NewClient),
)
