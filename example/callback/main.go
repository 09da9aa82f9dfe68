package main

import (
	"context"
	"fmt"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/CaderIdris/GCARE-OPCN3/pkg/gcare"
)

func main() {
	flow, err := gcare.Conf("../../data/config.yaml")
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	callback := func(s gcare.Sample) error {
		_, ok := s.Bins()
		fmt.Printf("%s pm1=%.2f pm2.5=%.2f pm10=%.2f bins=%v\n",
			s.Timestamp.Format(time.RFC3339),
			s.Scalars[0],
			s.Scalars[1],
			s.Scalars[2],
			ok,
		)
		return nil
	}

	err = flow.
		StreamIN(gcare.StreamInSimulator(gcare.SimulatorOptions{Seed: time.Now().UnixNano()})).
		Run(ctx, gcare.StreamOutCallback("stdout", callback))
	if err != nil && err != context.Canceled {
		log.Fatalf("runtime error: %v", err)
	}
}
