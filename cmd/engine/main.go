package main

import (
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/curvemargin/marginbook/internal/config"
	"github.com/curvemargin/marginbook/internal/engine"
)

func main() {
	cfg, err := config.LoadConfig("")
	if err != nil {
		panic(err)
	}
	logger, err := config.InitLogger(cfg)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	app := fx.New(
		fx.Supply(cfg),
		fx.Supply(logger),
		engine.Module,
		fx.Invoke(func(*zap.Logger) {
			logger.Info("margin book engine started")
		}),
	)

	app.Run()
}
