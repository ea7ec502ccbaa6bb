package main

import (
	"context"
	"fmt"
	"log"
	"os/signal"
	"syscall"

	uapubsub "github.com/industry40tv/opc-ua-pub-sub"
)

func main() {
	flow, err := uapubsub.Conf("../../data/config.yaml")
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	flow.Config().Metrics.Addr = "off"

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	callback := func(m uapubsub.Message) error {
		dec, err := uapubsub.DecodeMessage(m.Payload)
		if err != nil {
			return err
		}
		for _, dm := range dec.Messages {
			for _, f := range dm.Snapshot.Fields {
				fmt.Printf("%s %s writer=%d %s=%v\n", m.Connection, m.Topic, dm.Snapshot.WriterID, f.Name, f.Value.Value)
			}
		}
		return nil
	}

	if err := flow.Run(ctx, uapubsub.StreamOutCallback(callback)); err != nil && err != context.Canceled {
		log.Fatalf("runtime error: %v", err)
	}
}
