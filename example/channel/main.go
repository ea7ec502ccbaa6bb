package main

import (
	"context"
	"fmt"
	"log"
	"os/signal"
	"syscall"
	"time"

	uapubsub "github.com/industry40tv/opc-ua-pub-sub"
)

func main() {
	flow, err := uapubsub.Conf("../../data/config.yaml")
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	transports, messages, closeMessages := uapubsub.NewChannelTransports(32)
	defer closeMessages()

	go fanoutWorker("bridge", messages)

	if err := flow.Run(ctx, uapubsub.StreamOutTransports(transports)); err != nil && err != context.Canceled {
		log.Fatalf("runtime error: %v", err)
	}
}

func fanoutWorker(name string, messages <-chan uapubsub.Message) {
	for m := range messages {
		fmt.Printf("[%s] %s %s %d bytes at %s\n", name, m.Connection, m.Topic, len(m.Payload), time.Now().Format(time.RFC3339))
	}
}
