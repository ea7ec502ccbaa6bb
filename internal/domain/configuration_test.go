package domain

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/gopcua/opcua/ua"
)

func validConfiguration() Configuration {
	return Configuration{
		DataSets: []PublishedDataSet{{
			Name:   "PublishedDataSet1",
			Fields: []FieldDefinition{{Name: "SensorTemperature", BuiltInType: ua.TypeIDDouble, Source: "ns=1;s=Temperature"}},
		}},
		Connections: []Connection{{
			Name:                "Connection1",
			Enabled:             true,
			TransportProfileURI: "urn:industry40tv:pubsub:memory-json",
			Address:             "loop",
			WriterGroups: []WriterGroup{{
				Name:               "WriterGroup1",
				Enabled:            true,
				PublishingInterval: time.Second,
				Writers: []DataSetWriter{{
					ID: 1, Name: "dataSetWriter1", DataSetName: "PublishedDataSet1",
					Enabled: true, QueueName: "/opcuaovermqttdemo/temperature",
				}},
			}},
		}},
	}
}

func TestConfigurationValidateOK(t *testing.T) {
	cfg := validConfiguration()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if _, ok := cfg.DataSet("PublishedDataSet1"); !ok {
		t.Fatal("dataset lookup failed")
	}
}

func TestConfigurationValidateErrors(t *testing.T) {
	cases := map[string]func(*Configuration){
		"writer_groups[0].publishing_interval": func(c *Configuration) {
			c.Connections[0].WriterGroups[0].PublishingInterval = 0
		},
		"writers[0].dataset": func(c *Configuration) {
			c.Connections[0].WriterGroups[0].Writers[0].DataSetName = "Missing"
		},
		"fields[1].name": func(c *Configuration) {
			c.DataSets[0].Fields = append(c.DataSets[0].Fields, c.DataSets[0].Fields[0])
		},
		"writers[1].id": func(c *Configuration) {
			g := &c.Connections[0].WriterGroups[0]
			g.Writers = append(g.Writers, g.Writers[0])
		},
		"queue_depth": func(c *Configuration) {
			c.Connections[0].WriterGroups[0].BusyPolicy = BusyQueue
		},
		"field_content_mask": func(c *Configuration) {
			c.Connections[0].WriterGroups[0].Writers[0].FieldMask = FieldContentMask{RawData: true, SourceTimestamp: true}
		},
	}
	for path, mutate := range cases {
		cfg := validConfiguration()
		mutate(&cfg)
		err := cfg.Validate()
		if err == nil {
			t.Fatalf("%s: expected error", path)
		}
		if !errors.Is(err, ErrConfiguration) {
			t.Fatalf("%s: not a configuration error: %v", path, err)
		}
		var ce *ConfigError
		if !errors.As(err, &ce) || !strings.Contains(ce.Path, path) {
			t.Fatalf("%s: unexpected path in %v", path, err)
		}
	}
}
