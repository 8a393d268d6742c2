package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/marchandivan/pirobot/pkg/api"
	"github.com/marchandivan/pirobot/pkg/config"
	customlog "github.com/marchandivan/pirobot/pkg/log"
	"github.com/marchandivan/pirobot/services"
)

func main() {
	configDir := flag.String("config", "config", "directory holding console_config.yaml")
	noStdin := flag.Bool("no-stdin", false, "do not read operator commands from stdin")
	flag.Parse()

	cfg, err := config.LoadBootstrapConfig(*configDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load bootstrap config: %v\n", err)
		os.Exit(1)
	}

	log, err := customlog.NewLogrusLogger(cfg.Logging.Level, cfg.Logging.LogPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	log.Infof("Robot control at %s, video at %s", cfg.Robot.ControlURL, cfg.Robot.VideoURL)

	session, err := services.NewSession(cfg, log)
	if err != nil {
		log.Fatalf("Failed to build session: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := session.Start(ctx); err != nil {
		log.Fatalf("Failed to start session: %v", err)
	}

	var app *fiber.App
	if cfg.Console.HTTPPort > 0 {
		app = newApp(session, log)
		go func() {
			addr := fmt.Sprintf(":%d", cfg.Console.HTTPPort)
			log.Infof("Console HTTP server starting on %s", addr)
			if err := app.Listen(addr); err != nil {
				log.Fatalf("Failed to start server: %v", err)
			}
		}()
	}

	consoleDone := make(chan error, 1)
	if !*noStdin {
		go func() {
			consoleDone <- newConsole(session, log.WithField("component", "console"), os.Stdout).run(ctx, os.Stdin)
		}()
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-consoleDone:
		if err != nil && !errors.Is(err, errQuit) {
			log.Errorf("Console stopped: %v", err)
		}
		if !errors.Is(err, errQuit) {
			// stdin closed, keep serving until a signal
			<-quit
		}
	}
	log.Infof("Shutting down console...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if app != nil {
		if err := app.ShutdownWithContext(shutdownCtx); err != nil {
			log.Errorf("Server forced to shutdown: %v", err)
		}
	}
	if err := session.Close(); err != nil {
		log.Errorf("Session did not close cleanly: %v", err)
		os.Exit(1)
	}
	log.Infof("Console exited properly")
}

func newApp(session *services.Session, log customlog.Logger) *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:               "PiRobot Console",
		ErrorHandler:          customErrorHandler,
		DisableStartupMessage: true,
	})
	app.Use(logger.New())
	app.Use(recover.New())

	app.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":  "online",
			"service": "pirobot console",
		})
	})
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "healthy"})
	})
	app.Get("/status", func(c *fiber.Ctx) error {
		snap := session.Cache.Snapshot()
		if snap.Version == 0 {
			return fiber.NewError(fiber.StatusServiceUnavailable, "no status received from the robot yet")
		}
		return c.JSON(api.NewRobotStatus(snap))
	})
	app.Get("/frame", session.Video.StreamHandler)

	apiGroup := app.Group("/api")
	apiGroup.Get("/diagnostics", session.Diagnostics.GetMetricsHandler)
	apiGroup.Post("/teleop/command", session.Teleop.CommandHandler)
	apiGroup.Get("/teleop/state", func(c *fiber.Ctx) error {
		return c.JSON(session.Teleop.State())
	})
	apiGroup.Get("/video/stats", func(c *fiber.Ctx) error {
		return c.JSON(session.Video.GetStats())
	})
	api.RegisterSettingsRoutes(app, session.Settings, log.WithField("component", "settings_api"))

	operator := api.NewOperatorHandler(session.Teleop, session.Cache, 0, log.WithField("component", "operator"))
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/operator", websocket.New(operator.Handle))

	return app
}

// Custom error handler
func customErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError

	var e *fiber.Error
	if errors.As(err, &e) {
		code = e.Code
	}

	return c.Status(code).JSON(fiber.Map{
		"error": err.Error(),
	})
}
