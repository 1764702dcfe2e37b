package couchdb

import "go.uber.org/fx"

// Module provides the process-scoped store client.
var Module = fx.Module("couchdb",
	fx.Provide(New),
)
