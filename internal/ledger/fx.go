package ledger

import (
	"github.com/smallcanvas/inkwell/internal/ledger/repository"
	"github.com/smallcanvas/inkwell/internal/ledger/service"
	"go.uber.org/fx"
)

var Module = fx.Module("ledger.service",
	fx.Provide(repository.New),
	fx.Provide(service.New),
)
