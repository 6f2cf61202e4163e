package balance

import (
	"github.com/smallcanvas/inkwell/internal/balance/repository"
	"go.uber.org/fx"
)

var Module = fx.Module("balance.repository",
	fx.Provide(repository.New),
)
