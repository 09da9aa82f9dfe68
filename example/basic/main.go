package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	gcare "github.com/CaderIdris/GCARE-OPCN3"
)

func main() {
	flow, err := gcare.Conf("../../data/config.yaml")
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := flow.Run(ctx); err != nil && err != context.Canceled {
		log.Fatalf("agent exited: %v", err)
	}
}
