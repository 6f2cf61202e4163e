package usage

import (
	"github.com/smallcanvas/inkwell/internal/usage/repository"
	"go.uber.org/fx"
)

var Module = fx.Module("usage.repository",
	fx.Provide(repository.New),
)
