package main

import (
	"context"

	"github.com/smallbiznis/geodirect/internal/clock"
	"github.com/smallbiznis/geodirect/internal/config"
	"github.com/smallbiznis/geodirect/internal/couchdb"
	"github.com/smallbiznis/geodirect/internal/geodirect"
	"github.com/smallbiznis/geodirect/internal/logger"
	"github.com/smallbiznis/geodirect/internal/promptlog"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		// Core infrastructure
		config.Module,
		logger.Module,
		clock.Module,
		couchdb.Module,

		// Functional domains. billing.Module is wired by the embedding
		// application together with its commerce-platform gateway
		// implementation; the gateway's transport is not part of this
		// module.
		geodirect.Module,
		promptlog.Module,

		fx.Invoke(pingStore),
	)

	app.Run()
}

// pingStore fails startup fast when the document store is unreachable.
func pingStore(lc fx.Lifecycle, client *couchdb.Client) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return client.Ping(ctx)
		},
	})
}
