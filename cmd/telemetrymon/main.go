package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/marchandivan/pirobot/pkg/config"
	"github.com/marchandivan/pirobot/pkg/flatbuffers/pirobot/telemetry"
	customlog "github.com/marchandivan/pirobot/pkg/log"
	"github.com/marchandivan/pirobot/pkg/relay"
	"github.com/marchandivan/pirobot/pkg/zeromq"
)

// telemetrymon prints what the console relays on its ZeroMQ PUB socket.
func main() {
	configDir := flag.String("config", "config", "directory holding console_config.yaml")
	address := flag.String("addr", "", "PUB address, defaults to relay.zeromq.publish_address")
	topics := flag.String("topics", "", "comma separated topic prefixes, all when empty")
	logLevel := flag.String("log-level", "info", "log level")
	flag.Parse()

	logger, err := customlog.NewLogrusLogger(*logLevel, "")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	if *address == "" {
		cfg, err := config.LoadBootstrapConfig(*configDir)
		if err != nil {
			logger.Fatalf("Failed to load bootstrap config: %v", err)
		}
		*address = cfg.Relay.ZeroMQ.PublishAddress
	}
	if *address == "" {
		logger.Fatalf("No ZeroMQ address configured")
	}

	var prefixes []string
	if *topics != "" {
		prefixes = strings.Split(*topics, ",")
	}
	sub, err := zeromq.NewTelemetrySubscriber(*address, logger, prefixes...)
	if err != nil {
		logger.Fatalf("Failed to subscribe: %v", err)
	}
	logger.Infof("Listening for telemetry on %s", *address)

	sub.Start(func(msg relay.Message) {
		switch msg.ContentType {
		case telemetry.ContentTypeJpeg:
			logger.Infof("%s %s: %d bytes", msg.Timestamp.Format("15:04:05.000"), msg.Topic, len(msg.Payload))
		default:
			logger.Infof("%s %s: %s", msg.Timestamp.Format("15:04:05.000"), msg.Topic, msg.Payload)
		}
	})

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	sub.Stop()
	logger.Infof("Telemetry monitor stopped")
}
