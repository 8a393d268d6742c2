package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/marchandivan/pirobot/domain/diagnostic"
	"github.com/marchandivan/pirobot/domain/teleop"
	customlog "github.com/marchandivan/pirobot/pkg/log"
	"github.com/marchandivan/pirobot/pkg/protocol"
	"github.com/marchandivan/pirobot/pkg/restapi"
	"github.com/marchandivan/pirobot/pkg/status"
	"github.com/marchandivan/pirobot/services"
)

var errQuit = errors.New("quit")

const helpText = `commands:
  keys [up|down|left|right ...]   drive with the chord of the given arrows
  press <key> | release <key>     single key event (arrows, esc, space, 0-9, +, -)
  intent <name>                   drive intent, e.g. forward_slight_left
  stop                            stop the drive
  speed <0-9|percent>             digit sets speed like the keyboard, else percent
  slow                            toggle joystick slow mode
  joy <x> <y>                     joystick deflection in [-1, 1]
  cam <0-100|center>              camera position
  snap | patrol | light           capture picture, start patrol, toggle light
  blink <left on> <right on>      blink lights, e.g. blink true false
  say <text>                      speak through the REST API
  config get|list|save <path>     refresh, list or save robot settings
  set <key> <value> | reset <key> edit a robot setting
  status | stats | help | quit`

// console runs operator commands typed on stdin.
type console struct {
	teleop      *teleop.TeleopService
	settings    services.SettingsService
	robot       services.CommandSender
	api         *restapi.Client
	cache       *status.Cache
	diagnostics *diagnostic.DiagnosticService
	logger      customlog.Logger
	out         io.Writer
}

func newConsole(session *services.Session, logger customlog.Logger, out io.Writer) *console {
	return &console{
		teleop:      session.Teleop,
		settings:    session.Settings,
		robot:       session.Control,
		api:         session.API,
		cache:       session.Cache,
		diagnostics: session.Diagnostics,
		logger:      logger,
		out:         out,
	}
}

// run reads commands until EOF, quit or ctx is done. It returns errQuit when
// the operator asked to quit.
func (c *console) run(ctx context.Context, r io.Reader) error {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if err := c.execute(ctx, line); err != nil {
			if errors.Is(err, errQuit) {
				return err
			}
			fmt.Fprintf(c.out, "error: %v\n", err)
		}
	}
	return scanner.Err()
}

func (c *console) execute(ctx context.Context, line string) error {
	fields := strings.Fields(line)
	cmd, args := strings.ToLower(fields[0]), fields[1:]
	c.logger.Debugf("Console command %q", line)

	switch cmd {
	case "keys":
		return c.teleop.Keys(args...)
	case "press", "release":
		if len(args) != 1 {
			return fmt.Errorf("usage: %s <key>", cmd)
		}
		if cmd == "press" {
			return c.teleop.PressKey(args[0])
		}
		return c.teleop.ReleaseKey(args[0])
	case "intent":
		if len(args) != 1 {
			return fmt.Errorf("usage: intent <name>")
		}
		return c.teleop.DriveIntent(args[0])
	case "stop":
		return c.teleop.Stop()
	case "speed":
		if len(args) != 1 {
			return fmt.Errorf("usage: speed <0-9|percent>")
		}
		if len(args[0]) == 1 && args[0][0] >= '0' && args[0][0] <= '9' {
			err := c.teleop.PressKey(args[0])
			c.teleop.ReleaseKey(args[0])
			c.printState()
			return err
		}
		speed, err := strconv.ParseFloat(args[0], 64)
		if err != nil {
			return fmt.Errorf("invalid speed %q", args[0])
		}
		if err := c.teleop.SetSpeed(speed); err != nil {
			return err
		}
		c.printState()
		return nil
	case "slow":
		fmt.Fprintf(c.out, "slow mode: %v\n", c.teleop.ToggleSlowMode())
		return nil
	case "joy":
		if len(args) != 2 {
			return fmt.Errorf("usage: joy <x> <y>")
		}
		x, errX := strconv.ParseFloat(args[0], 64)
		y, errY := strconv.ParseFloat(args[1], 64)
		if errX != nil || errY != nil {
			return fmt.Errorf("invalid joystick position %q %q", args[0], args[1])
		}
		return c.teleop.Joystick(x, y)
	case "cam":
		if len(args) != 1 {
			return fmt.Errorf("usage: cam <0-100|center>")
		}
		if args[0] == "center" {
			return c.robot.SendCommand(protocol.CameraCenterPosition{})
		}
		position, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("invalid camera position %q", args[0])
		}
		return c.teleop.CameraPosition(position)
	case "snap":
		return c.robot.SendCommand(protocol.CameraCapturePicture{})
	case "patrol":
		return c.robot.SendCommand(protocol.DrivePatrol{})
	case "light":
		return c.robot.SendCommand(protocol.LightToggle{})
	case "blink":
		if len(args) != 2 {
			return fmt.Errorf("usage: blink <left on> <right on>")
		}
		left, errL := strconv.ParseBool(args[0])
		right, errR := strconv.ParseBool(args[1])
		if errL != nil || errR != nil {
			return fmt.Errorf("invalid blink flags %q %q", args[0], args[1])
		}
		return c.robot.SendCommand(protocol.LightBlink{LeftOn: left, RightOn: right})
	case "say":
		if len(args) == 0 {
			return fmt.Errorf("usage: say <text>")
		}
		if c.api == nil {
			return fmt.Errorf("robot REST API not configured")
		}
		_, err := c.api.Say(ctx, strings.Join(args, " "))
		return err
	case "config":
		return c.config(args)
	case "set":
		if len(args) < 2 {
			return fmt.Errorf("usage: set <key> <value>")
		}
		return c.settings.Update(args[0], strings.Join(args[1:], " "))
	case "reset":
		if len(args) != 1 {
			return fmt.Errorf("usage: reset <key>")
		}
		return c.settings.Reset(args[0])
	case "status":
		snap := c.cache.Snapshot()
		return c.printJSON(map[string]interface{}{
			"robot_name": snap.RobotName,
			"config":     snap.Config,
			"status":     snap.Status,
		})
	case "stats":
		if c.diagnostics == nil {
			return fmt.Errorf("diagnostics not available")
		}
		return c.printJSON(c.diagnostics.GetMetrics())
	case "help", "?":
		fmt.Fprintln(c.out, helpText)
		return nil
	case "quit", "exit":
		return errQuit
	}
	return fmt.Errorf("unknown command %q, try help", cmd)
}

func (c *console) config(args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: config get|list|save <path>")
	}
	switch args[0] {
	case "get":
		return c.settings.Refresh()
	case "list":
		if !c.settings.Loaded() {
			return fmt.Errorf("robot configuration not loaded yet")
		}
		byCategory := c.settings.ByCategory()
		categories := make([]string, 0, len(byCategory))
		for category := range byCategory {
			categories = append(categories, category)
		}
		sort.Strings(categories)
		for _, category := range categories {
			fmt.Fprintf(c.out, "[%s]\n", category)
			for _, key := range byCategory[category] {
				entry, _ := c.settings.Get(key)
				fmt.Fprintf(c.out, "  %s = %v (%s)\n", key, entry.Value, entry.Type)
			}
		}
		return nil
	case "save":
		if len(args) != 2 {
			return fmt.Errorf("usage: config save <path>")
		}
		return c.settings.PersistConfig(args[1])
	}
	return fmt.Errorf("unknown config command %q", args[0])
}

func (c *console) printState() {
	state := c.teleop.State()
	fmt.Fprintf(c.out, "speed: %v duration: %v\n", state.Speed, state.Duration)
}

func (c *console) printJSON(v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(c.out, string(data))
	return nil
}
