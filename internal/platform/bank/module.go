package bank

import "go.uber.org/fx"

// Module exposes the statement client via Fx.
var Module = fx.Options(
	fx.Provide(NewStatementClient),
)
