// Command temperature embeds the publisher in a program that owns its own
// sensor value and publishes it to an MQTT broker every second.
package main

import (
	"context"
	"errors"
	"log"
	"math"
	"os/signal"
	"syscall"
	"time"

	"github.com/gopcua/opcua/ua"

	uapubsub "github.com/industry40tv/opc-ua-pub-sub"
)

const temperatureNode = "ns=1;s=Temperature"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	space := uapubsub.NewMemoryAddressSpace(nil)
	if err := space.Define(temperatureNode, ua.TypeIDDouble, 19.0); err != nil {
		log.Fatalf("define variable: %v", err)
	}

	cfg := &uapubsub.Configuration{
		DataSets: []uapubsub.PublishedDataSet{{
			Name: "PublishedDataSet1",
			Fields: []uapubsub.FieldDefinition{{
				Name:        "SensorTemperature",
				BuiltInType: ua.TypeIDDouble,
				Source:      temperatureNode,
			}},
		}},
		Connections: []uapubsub.Connection{{
			Name:                "Connection1",
			Enabled:             true,
			TransportProfileURI: uapubsub.ProfileMQTTJSON,
			Address:             "mqtt:localhost:1883",
			PublisherID:         "urn:temperature-example",
			WriterGroups: []uapubsub.WriterGroup{{
				Name:               "WriterGroup1",
				ID:                 1,
				Enabled:            true,
				PublishingInterval: time.Second,
				NetworkMask:        uapubsub.NetworkMessageMask{PublisherID: true},
				Writers: []uapubsub.DataSetWriter{{
					ID:          1,
					Name:        "dataSetWriter1",
					DataSetName: "PublishedDataSet1",
					Enabled:     true,
					Mask:        uapubsub.DataSetMessageMask{DataSetWriterID: true, MetaDataVersion: true},
					QueueName:   "/opcuaovermqttdemo/temperature",
				}},
			}},
		}},
	}

	pub, err := uapubsub.Install(ctx, cfg, space)
	var act *uapubsub.ActivationError
	switch {
	case errors.As(err, &act):
		log.Printf("some writer groups did not start: %v", err)
	case err != nil:
		log.Fatalf("install: %v", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := pub.Stop(shutdownCtx); err != nil {
			log.Printf("stop: %v", err)
		}
	}()

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	start := time.Now()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			v := 19 + 5*math.Sin(now.Sub(start).Seconds()/10)
			if err := space.Write(temperatureNode, v); err != nil {
				log.Printf("write temperature: %v", err)
			}
		}
	}
}
