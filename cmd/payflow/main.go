package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/shopstack/payflow/internal/config"
	"github.com/shopstack/payflow/internal/migration"
	"github.com/shopstack/payflow/internal/observability"
	"github.com/shopstack/payflow/internal/server"
	"github.com/shopstack/payflow/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		migration.Module,
		server.Module,
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
