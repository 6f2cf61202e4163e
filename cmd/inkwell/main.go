package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallcanvas/inkwell/internal/clock"
	"github.com/smallcanvas/inkwell/internal/migration"
	"github.com/smallcanvas/inkwell/internal/observability"
	"github.com/smallcanvas/inkwell/internal/server"
	"github.com/smallcanvas/inkwell/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		server.Module,
		migration.Module,
	)
	app.Run()
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(1)
	if err != nil {
		panic(err)
	}
	return node
}
