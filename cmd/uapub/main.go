package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/tidwall/gjson"

	uapubsub "github.com/industry40tv/opc-ua-pub-sub"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	var err error

	switch cmd {
	case "run":
		err = runCommand(os.Args[2:])
	case "validate":
		err = validateCommand(os.Args[2:])
	case "stats":
		err = statsCommand(os.Args[2:])
	case "inspect":
		err = inspectCommand(os.Args[2:])
	case "help", "-h", "--help":
		printUsage()
		return
	default:
		printUsage()
		err = fmt.Errorf("unknown command %q", cmd)
	}

	if err != nil {
		log.Fatalf("uapub %s: %v", cmd, err)
	}
}

func runCommand(args []string) error {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	cfgPath := fs.String("config", "./data/config.yaml", "Path to publisher configuration file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := uapubsub.LoadConfig(*cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger, err := newLogger(cfg.Log, os.Stderr)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	flow, err := uapubsub.ConfFromConfig(cfg, uapubsub.WithFlowOptions(uapubsub.WithLogger(logger)))
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return flow.Run(ctx)
}

func newLogger(cfg uapubsub.LogConfig, w io.Writer) (*slog.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}
	opts := &slog.HandlerOptions{Level: level}
	switch strings.ToLower(cfg.Format) {
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	case "", "text":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	default:
		return nil, fmt.Errorf("unknown log format %q", cfg.Format)
	}
}

func validateCommand(args []string) error {
	fs := flag.NewFlagSet("validate", flag.ExitOnError)
	cfgPath := fs.String("config", "./data/config.yaml", "Path to configuration file to validate")
	if err := fs.Parse(args); err != nil {
		return err
	}
	return validateFile(*cfgPath, os.Stdout)
}

// validateFile loads the configuration and checks each enabled connection
// against its transport without connecting.
func validateFile(path string, w io.Writer) error {
	cfg, err := uapubsub.LoadConfig(path)
	if err != nil {
		return err
	}
	if err := uapubsub.CheckTransports(cfg); err != nil {
		return err
	}
	for _, warn := range cfg.Warnings {
		fmt.Fprintf(w, "warning: %s\n", warn)
	}
	fmt.Fprintf(w, "config %s looks good\n", path)
	return nil
}

func statsCommand(args []string) error {
	fs := flag.NewFlagSet("stats", flag.ExitOnError)
	url := fs.String("url", "http://localhost:9100/stats", "Publisher stats endpoint")
	interval := fs.Duration("interval", 2*time.Second, "Refresh interval")
	if err := fs.Parse(args); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ticker := time.NewTicker(*interval)
	defer ticker.Stop()

	fmt.Printf("Streaming stats from %s (Ctrl+C to stop)\n", *url)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := printStatsSnapshot(*url, os.Stdout); err != nil {
				fmt.Fprintf(os.Stderr, "stats error: %v\n", err)
			}
		}
	}
}

func printStatsSnapshot(url string, w io.Writer) error {
	resp, err := http.Get(url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %s", resp.Status)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	return formatStats(body, time.Now(), w)
}

func formatStats(body []byte, now time.Time, w io.Writer) error {
	if !gjson.ValidBytes(body) {
		return fmt.Errorf("stats response is not json")
	}
	doc := gjson.ParseBytes(body)
	fmt.Fprintf(w, "[%s]\n", now.Format(time.RFC3339))
	doc.Get("Connections").ForEach(func(_, c gjson.Result) bool {
		fmt.Fprintf(w, "  connection %s state=%s failures=%d\n",
			c.Get("Name").String(), c.Get("State").String(), c.Get("ConsecutiveFailures").Int())
		return true
	})
	doc.Get("Writers").ForEach(func(_, wr gjson.Result) bool {
		fmt.Fprintf(w, "  writer %s/%s/%s seq=%d sent=%d keepalive=%d unchanged=%d dropped=%d skipped=%d",
			wr.Get("Connection").String(), wr.Get("Group").String(), wr.Get("Writer").String(),
			wr.Get("NextSequenceNumber").Int(), wr.Get("Sent").Uint(), wr.Get("KeepAlives").Uint(),
			wr.Get("Unchanged").Uint(), wr.Get("Dropped").Uint(), wr.Get("TicksSkipped").Uint())
		if e := wr.Get("LastError").String(); e != "" {
			fmt.Fprintf(w, " last_error=%q", e)
		}
		fmt.Fprintln(w)
		return true
	})
	return nil
}

func inspectCommand(args []string) error {
	fs := flag.NewFlagSet("inspect", flag.ExitOnError)
	payload := fs.String("message", "", "Path to a JSON network message to decode; - reads stdin")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if *payload == "" {
		for _, p := range uapubsub.Profiles() {
			fmt.Printf("%-8s %-70s qos=%v\n", p.Kind, p.URI, p.QoS)
		}
		return nil
	}

	var raw []byte
	var err error
	if *payload == "-" {
		raw, err = io.ReadAll(os.Stdin)
	} else {
		raw, err = os.ReadFile(*payload)
	}
	if err != nil {
		return err
	}
	return describeMessage(raw, os.Stdout)
}

func describeMessage(raw []byte, w io.Writer) error {
	dec, err := uapubsub.DecodeMessage(raw)
	if err != nil {
		return err
	}
	if dec.PublisherID != "" || dec.MessageID != "" {
		fmt.Fprintf(w, "network message id=%q publisher=%q group=%q\n", dec.MessageID, dec.PublisherID, dec.WriterGroup)
	}
	for _, m := range dec.Messages {
		s := m.Snapshot
		fmt.Fprintf(w, "dataset writer=%d seq=%d type=%s version=%d.%d\n",
			s.WriterID, s.SequenceNumber, s.Type, s.MetaDataVersion.Major, s.MetaDataVersion.Minor)
		for _, f := range s.Fields {
			fmt.Fprintf(w, "  %s = %v (type %d, status %s)\n", f.Name, f.Value.Value, f.Value.Type, f.Value.Status)
		}
	}
	return nil
}

func printUsage() {
	fmt.Printf(`OPC UA PubSub publisher

Usage:
  uapub <command> [flags]

Commands:
  run        Start publishing using the provided config
  validate   Load and validate a config file without connecting anything
  stats      Poll the /stats endpoint and print writer counters
  inspect    List transport profiles, or decode a published message

Examples:
  uapub run -config ./data/config.yaml
  uapub validate -config ./data/config.yaml
  uapub stats -url http://localhost:9100/stats -interval 1s
  uapub inspect -message ./message.json
`)
}
