package main

import (
	"context"
	"fmt"
	"log"
	"os/signal"
	"syscall"
	"time"

	gcare "github.com/CaderIdris/GCARE-OPCN3"
)

func main() {
	flow, err := gcare.Conf("../../data/config.yaml")
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	mirror, samples, closeSamples := gcare.NewChannelSink("fanout", 32)
	defer closeSamples()

	go fanoutWorker("dashboard", samples)

	if err := flow.Run(ctx, gcare.StreamOutMirror(mirror)); err != nil && err != context.Canceled {
		log.Fatalf("runtime error: %v", err)
	}
}

func fanoutWorker(name string, samples <-chan gcare.Sample) {
	for s := range samples {
		fmt.Printf("[%s] %s PM2.5=%.2f ug/m3 at %s\n", name, s.Timestamp.Format(time.RFC3339),
			s.Scalars[1], time.Now().Format(time.RFC3339))
	}
}
