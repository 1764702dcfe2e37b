package promptlog

import (
	"github.com/smallbiznis/geodirect/internal/promptlog/service"
	"go.uber.org/fx"
)

var Module = fx.Module("promptlog",
	fx.Provide(service.New),
)
