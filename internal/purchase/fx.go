package purchase

import (
	"github.com/smallcanvas/inkwell/internal/purchase/service"
	"go.uber.org/fx"
)

var Module = fx.Module("purchase.service",
	fx.Provide(service.New),
)
