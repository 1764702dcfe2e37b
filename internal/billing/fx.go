package billing

import (
	"github.com/smallbiznis/geodirect/internal/billing/service"
	"go.uber.org/fx"
)

// Module wires the usage meter. The CommerceGateway implementation must be
// provided by the application assembly; its transport lives outside this
// module.
var Module = fx.Module("billing",
	fx.Provide(service.New),
)
