package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/marchandivan/pirobot/pkg/config"
	customlog "github.com/marchandivan/pirobot/pkg/log"
	"github.com/marchandivan/pirobot/pkg/sim"
)

func main() {
	profilePath := flag.String("profile", "config/robots/pirobot.robot.yaml", "robot profile")
	addr := flag.String("addr", ":8000", "listen address")
	logLevel := flag.String("log-level", "info", "log level")
	logDir := flag.String("log-dir", "", "log directory, console only when empty")
	statusEvery := flag.Duration("status-interval", 0, "periodic status push, 0 to disable")
	frameTimeout := flag.Duration("frame-timeout", sim.DefaultFrameTimeout, "resend a frame without ready after this long")
	flag.Parse()

	logger, err := customlog.NewLogrusLogger(*logLevel, *logDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	profile, err := config.LoadRobotProfile(*profilePath)
	if err != nil {
		logger.Fatalf("Failed to load robot profile: %v", err)
	}
	logger.Infof("Loaded robot %s with %d settings", profile.Name, len(profile.Settings))

	robot := sim.NewRobot(profile, logger.WithField("component", "robot"))
	server := sim.NewServer(robot, logger.WithField("component", "server"),
		sim.WithStatusInterval(*statusEvery),
		sim.WithFrameTimeout(*frameTimeout),
	)

	go func() {
		if err := server.Listen(*addr); err != nil {
			logger.Fatalf("Failed to start simulator: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Infof("Shutting down simulator...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Errorf("Simulator forced to shutdown: %v", err)
		os.Exit(1)
	}
	logger.Infof("Simulator exited properly")
}
