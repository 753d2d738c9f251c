package main

import (
	"context"

	"loranode-go/hal/platform"
	"loranode-go/lorawan"
	"loranode-go/services/config"
	"loranode-go/services/node"
	"loranode-go/x/logx"
)

func main() {
	logx.InitFromEnv()
	plat := platform.Default()
	log := logx.NewConsole(plat.Console).With("node")

	cfg, err := config.Load(plat.Board.Name)
	if err != nil {
		panic(err)
	}
	id, err := lorawan.BuildIdentity()
	if err != nil {
		panic(err)
	}

	if err := node.New(plat, cfg, id, log).Run(context.Background()); err != nil {
		log.Error("fatal", logx.Err(err))
		panic(err)
	}
}
