package geodirect

import (
	"context"

	"github.com/smallbiznis/geodirect/internal/couchdb"
	"github.com/smallbiznis/geodirect/internal/geodirect/domain"
	"github.com/smallbiznis/geodirect/internal/geodirect/repository"
	"github.com/smallbiznis/geodirect/internal/geodirect/service"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Bootstrap provisions the shared rules database and its shop_id index.
// Index creation failure is logged and tolerated; find queries degrade to
// unindexed scans until the next start.
func Bootstrap(ctx context.Context, client *couchdb.Client, log *zap.Logger) error {
	if err := client.EnsureDatabase(ctx, domain.DatabaseName); err != nil {
		return err
	}

	if err := client.EnsureIndex(ctx, domain.DatabaseName, domain.IndexedFields); err != nil {
		log.Named("geodirect").Error("failed to create indexes on rules database",
			zap.Strings("fields", domain.IndexedFields),
			zap.Error(err))
	}

	return nil
}

func registerBootstrap(lc fx.Lifecycle, client *couchdb.Client, log *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return Bootstrap(ctx, client, log)
		},
	})
}

var Module = fx.Module("geodirect.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
	fx.Invoke(registerBootstrap),
)
