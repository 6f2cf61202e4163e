package bonus

import (
	"github.com/smallcanvas/inkwell/internal/bonus/service"
	"go.uber.org/fx"
)

var Module = fx.Module("bonus.service",
	fx.Provide(service.New),
)
