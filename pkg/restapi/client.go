// Package restapi is the client side of the robot's HTTP endpoints: one-shot
// commands under /api/ and the wifi and gallery resources under /api/v1/.
// Calls are never retried.
package restapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	customlog "github.com/marchandivan/pirobot/pkg/log"
	"github.com/marchandivan/pirobot/pkg/protocol"
)

// DefaultTimeout bounds every call when none is configured.
const DefaultTimeout = 5 * time.Second

// Common errors
var (
	ErrHTTPStatus    = errors.New("unexpected HTTP status")
	ErrRobotRejected = errors.New("robot rejected the request")
)

// Client calls the robot REST API.
type Client struct {
	baseURL string
	timeout time.Duration
	http    *fiber.Client
	logger  customlog.Logger
}

// NewClient creates a client for the API rooted at baseURL.
func NewClient(baseURL string, timeout time.Duration, logger customlog.Logger) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = customlog.NewNopLogger()
	}
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		timeout: timeout,
		http: &fiber.Client{
			UserAgent:   "pirobot-console",
			JSONEncoder: json.Marshal,
			JSONDecoder: json.Unmarshal,
		},
		logger: logger.WithField("api", baseURL),
	}
}

// BaseURL returns the API root.
func (c *Client) BaseURL() string { return c.baseURL }

// Status fetches GET /api/status/.
func (c *Client) Status(ctx context.Context) (*RobotReply, error) {
	return c.robotCall(ctx, fiber.MethodGet, "/api/status/", nil)
}

// Move posts a differential drive command.
func (c *Client) Move(ctx context.Context, cmd protocol.DriveCommand) (*RobotReply, error) {
	return c.robotCall(ctx, fiber.MethodPost, "/api/move/", MoveRequest{
		LeftOrientation:  string(cmd.LeftOrientation),
		LeftSpeed:        cmd.LeftSpeed,
		RightOrientation: string(cmd.RightOrientation),
		RightSpeed:       cmd.RightSpeed,
		Duration:         cmd.Duration,
		Distance:         cmd.Distance,
	})
}

// Stop halts the drive.
func (c *Client) Stop(ctx context.Context) (*RobotReply, error) {
	return c.robotCall(ctx, fiber.MethodPost, "/api/stop/", struct{}{})
}

// SetLight switches the head lights.
func (c *Client) SetLight(ctx context.Context, leftOn, rightOn bool) (*RobotReply, error) {
	return c.robotCall(ctx, fiber.MethodPost, "/api/set_light/", LightRequest{LeftOn: leftOn, RightOn: rightOn})
}

// MoveArm moves one arm joint. A "KO" reply is returned as ErrRobotRejected.
func (c *Client) MoveArm(ctx context.Context, req MoveArmRequest) (*RobotReply, error) {
	return c.robotCall(ctx, fiber.MethodPost, "/api/move_arm/", req)
}

// CaptureImage asks the robot to take a picture.
func (c *Client) CaptureImage(ctx context.Context) (*RobotReply, error) {
	return c.robotCall(ctx, fiber.MethodPost, "/api/capture_image/", struct{}{})
}

// MoveToTarget drives towards a point of the camera frame.
func (c *Client) MoveToTarget(ctx context.Context, req MoveToTargetRequest) (*RobotReply, error) {
	return c.robotCall(ctx, fiber.MethodPost, "/api/move_to_target/", req)
}

// Say plays text through the robot speaker.
func (c *Client) Say(ctx context.Context, text string) (*RobotReply, error) {
	return c.robotCall(ctx, fiber.MethodPost, "/api/say/", SayRequest{Text: text})
}

// Wifi fetches the scanned networks and the device status.
func (c *Client) Wifi(ctx context.Context) (*WifiState, error) {
	var state WifiState
	if err := c.do(ctx, fiber.MethodGet, "/api/v1/wifi", nil, &state); err != nil {
		return nil, err
	}
	return &state, nil
}

// ConnectWifi joins ssid. A nil password reuses the saved connection.
func (c *Client) ConnectWifi(ctx context.Context, ssid string, password *string) error {
	return c.do(ctx, fiber.MethodPost, "/api/v1/wifi", WifiRequest{SSID: &ssid, Password: password}, nil)
}

// StartHotspot switches the robot to hotspot mode.
func (c *Client) StartHotspot(ctx context.Context) error {
	return c.do(ctx, fiber.MethodPost, "/api/v1/wifi", WifiRequest{Hotspot: true}, nil)
}

// StartWifi restarts the wifi radio, leaving hotspot mode.
func (c *Client) StartWifi(ctx context.Context) error {
	return c.do(ctx, fiber.MethodPost, "/api/v1/wifi", WifiRequest{}, nil)
}

// ForgetWifi deletes the saved connection for ssid.
func (c *Client) ForgetWifi(ctx context.Context, ssid string) error {
	return c.do(ctx, fiber.MethodDelete, "/api/v1/wifi", WifiRequest{SSID: &ssid}, nil)
}

// Pictures lists the picture gallery.
func (c *Client) Pictures(ctx context.Context) ([]Media, error) {
	return c.media(ctx, "/api/v1/pictures")
}

// Videos lists the video gallery.
func (c *Client) Videos(ctx context.Context) ([]Media, error) {
	return c.media(ctx, "/api/v1/videos")
}

func (c *Client) media(ctx context.Context, path string) ([]Media, error) {
	var medias []Media
	if err := c.do(ctx, fiber.MethodGet, path, nil, &medias); err != nil {
		return nil, err
	}
	return medias, nil
}

func (c *Client) robotCall(ctx context.Context, method, path string, body interface{}) (*RobotReply, error) {
	var reply RobotReply
	if err := c.do(ctx, method, path, body, &reply); err != nil {
		return nil, err
	}
	if reply.Status == StatusKO {
		return &reply, fmt.Errorf("%w: %s %s: %s", ErrRobotRejected, method, path, reply.Message)
	}
	return &reply, nil
}

// do performs one request. The call timeout is shortened to the context
// deadline when that comes first.
func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	timeout := c.timeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < timeout {
			timeout = remaining
		}
	}
	if timeout <= 0 {
		return context.DeadlineExceeded
	}

	url := c.baseURL + path
	var agent *fiber.Agent
	switch method {
	case fiber.MethodGet:
		agent = c.http.Get(url)
	case fiber.MethodPost:
		agent = c.http.Post(url)
	case fiber.MethodDelete:
		agent = c.http.Delete(url)
	default:
		return fmt.Errorf("unsupported method %s", method)
	}
	agent.Timeout(timeout)
	if body != nil {
		agent.JSON(body)
	}

	c.logger.Debugf("%s %s", method, path)
	code, respBody, errs := agent.Bytes()
	if len(errs) > 0 {
		c.logger.Warnf("%s %s failed: %v", method, path, errs[0])
		return fmt.Errorf("%s %s failed: %w", method, path, errs[0])
	}
	if code < 200 || code >= 300 {
		c.logger.Warnf("%s %s returned %d", method, path, code)
		return fmt.Errorf("%w: %s %s returned %d: %s", ErrHTTPStatus, method, path, code, strings.TrimSpace(string(respBody)))
	}
	if out == nil || len(respBody) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("invalid reply from %s %s: %w", method, path, err)
	}
	return nil
}
