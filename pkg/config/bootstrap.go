package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// BootstrapFilename is the console configuration file looked up in the
// config directory.
const BootstrapFilename = "console_config.yaml"

// BootstrapConfig holds the configuration loaded from console_config.yaml
type BootstrapConfig struct {
	Logging    LoggingConfig    `yaml:"logging"`
	Robot      RobotEndpoints   `yaml:"robot"`
	Connection ConnectionConfig `yaml:"connection"`
	Drive      DriveConfig      `yaml:"drive"`
	Relay      RelayConfig      `yaml:"relay"`
	Console    ConsoleConfig    `yaml:"console"`
}

// LoggingConfig holds logging settings from bootstrap
type LoggingConfig struct {
	Level   string `yaml:"level"`
	LogPath string `yaml:"log_path,omitempty"`
}

// RobotEndpoints locates the robot.
type RobotEndpoints struct {
	ControlURL    string `yaml:"control_url"`
	VideoURL      string `yaml:"video_url"`
	APIURL        string `yaml:"api_url"`
	HTTPTimeoutMs int    `yaml:"http_timeout_ms"`
}

// HTTPTimeout returns the REST call timeout.
func (r RobotEndpoints) HTTPTimeout() time.Duration {
	return time.Duration(r.HTTPTimeoutMs) * time.Millisecond
}

// ConnectionConfig tunes the reconnecting WebSocket clients.
type ConnectionConfig struct {
	InitialBackoffMs int    `yaml:"initial_backoff_ms"`
	MaxBackoffMs     int    `yaml:"max_backoff_ms"`
	MaxRetries       int    `yaml:"max_retries"`
	SendPolicy       string `yaml:"send_policy"`
	QueueLimit       int    `yaml:"queue_limit"`
	SessionQuery     string `yaml:"session_query,omitempty"`
}

// InitialBackoff returns the first reconnect delay.
func (c ConnectionConfig) InitialBackoff() time.Duration {
	return time.Duration(c.InitialBackoffMs) * time.Millisecond
}

// MaxBackoff returns the reconnect delay cap.
func (c ConnectionConfig) MaxBackoff() time.Duration {
	return time.Duration(c.MaxBackoffMs) * time.Millisecond
}

// DriveConfig holds the operator driving defaults.
type DriveConfig struct {
	Speed          float64 `yaml:"speed"`
	Duration       float64 `yaml:"duration"`
	VectorDuration float64 `yaml:"vector_duration"`
	SlowFactor     float64 `yaml:"slow_factor"`
	SlowMode       bool    `yaml:"slow_mode"`
}

// RelayConfig controls the telemetry republishing.
type RelayConfig struct {
	Workers       int         `yaml:"workers"`
	QueueSize     int         `yaml:"queue_size"`
	PublishFrames bool        `yaml:"publish_frames"`
	ZeroMQ        ZeroMQRelay `yaml:"zeromq"`
	MQTT          MQTTRelay   `yaml:"mqtt"`
}

// Enabled reports whether any sink is configured.
func (r RelayConfig) Enabled() bool {
	return r.ZeroMQ.Enabled || r.MQTT.Enabled
}

// ZeroMQRelay holds the PUB socket settings
type ZeroMQRelay struct {
	Enabled        bool   `yaml:"enabled"`
	PublishAddress string `yaml:"publish_address"`
}

// MQTTRelay holds the MQTT broker settings
type MQTTRelay struct {
	Enabled        bool   `yaml:"enabled"`
	BrokerURL      string `yaml:"broker_url"`
	ClientID       string `yaml:"client_id"`
	Username       string `yaml:"username,omitempty"`
	Password       string `yaml:"password,omitempty"`
	TopicPrefix    string `yaml:"topic_prefix"`
	QoS            byte   `yaml:"qos"`
	ConnectTimeout int    `yaml:"connect_timeout_s"`
}

// ConsoleConfig holds the local console settings
type ConsoleConfig struct {
	HTTPPort       int `yaml:"http_port"`
	FPSLogInterval int `yaml:"fps_log_interval_s"`
}

// LoadBootstrapConfig loads console_config.yaml from configDir, applies the
// PIROBOT_* environment overrides (a .env file in configDir or the working
// directory is loaded first when present) and validates the result.
func LoadBootstrapConfig(configDir string) (*BootstrapConfig, error) {
	bootstrapConfigPath := filepath.Join(configDir, BootstrapFilename)

	data, err := os.ReadFile(bootstrapConfigPath)
	if err != nil {
		return nil, fmt.Errorf("error reading bootstrap config file '%s': %w", bootstrapConfigPath, err)
	}

	var bootstrapCfg BootstrapConfig
	if err := yaml.Unmarshal(data, &bootstrapCfg); err != nil {
		return nil, fmt.Errorf("error parsing bootstrap config file '%s': %w", bootstrapConfigPath, err)
	}

	if err := LoadEnvFiles(filepath.Join(configDir, ".env"), ".env"); err != nil {
		return nil, err
	}
	bootstrapCfg.applyEnv()
	bootstrapCfg.applyDefaults()

	if err := bootstrapCfg.Validate(); err != nil {
		return nil, err
	}
	return &bootstrapCfg, nil
}

// Validate checks required fields and enumerations.
func (c *BootstrapConfig) Validate() error {
	if c.Robot.ControlURL == "" {
		return fmt.Errorf("missing required field in bootstrap config: robot.control_url")
	}
	if c.Robot.VideoURL == "" {
		return fmt.Errorf("missing required field in bootstrap config: robot.video_url")
	}
	if c.Robot.APIURL == "" {
		return fmt.Errorf("missing required field in bootstrap config: robot.api_url")
	}
	switch c.Connection.SendPolicy {
	case "drop", "queue":
	default:
		return fmt.Errorf("invalid connection.send_policy %q: must be drop or queue", c.Connection.SendPolicy)
	}
	if c.Connection.MaxRetries < 0 {
		return fmt.Errorf("connection.max_retries must not be negative")
	}
	if c.Drive.Speed < 0 || c.Drive.Speed > 100 {
		return fmt.Errorf("drive.speed must be within [0, 100], got %v", c.Drive.Speed)
	}
	if c.Relay.ZeroMQ.Enabled && c.Relay.ZeroMQ.PublishAddress == "" {
		return fmt.Errorf("missing required field in bootstrap config: relay.zeromq.publish_address")
	}
	if c.Relay.MQTT.Enabled {
		if c.Relay.MQTT.BrokerURL == "" {
			return fmt.Errorf("missing required field in bootstrap config: relay.mqtt.broker_url")
		}
		if c.Relay.MQTT.QoS > 2 {
			return fmt.Errorf("relay.mqtt.qos must be 0, 1, or 2")
		}
	}
	return nil
}

func (c *BootstrapConfig) applyEnv() {
	c.Logging.Level = getEnvString("PIROBOT_LOG_LEVEL", c.Logging.Level)
	c.Logging.LogPath = getEnvString("PIROBOT_LOG_PATH", c.Logging.LogPath)

	c.Robot.ControlURL = getEnvString("PIROBOT_CONTROL_URL", c.Robot.ControlURL)
	c.Robot.VideoURL = getEnvString("PIROBOT_VIDEO_URL", c.Robot.VideoURL)
	c.Robot.APIURL = getEnvString("PIROBOT_API_URL", c.Robot.APIURL)
	c.Robot.HTTPTimeoutMs = getEnvInt("PIROBOT_HTTP_TIMEOUT_MS", c.Robot.HTTPTimeoutMs)

	c.Connection.MaxRetries = getEnvInt("PIROBOT_MAX_RETRIES", c.Connection.MaxRetries)
	c.Connection.SendPolicy = strings.ToLower(getEnvString("PIROBOT_SEND_POLICY", c.Connection.SendPolicy))

	c.Drive.SlowMode = getEnvBool("PIROBOT_SLOW_MODE", c.Drive.SlowMode)

	c.Relay.ZeroMQ.Enabled = getEnvBool("PIROBOT_ZMQ_ENABLED", c.Relay.ZeroMQ.Enabled)
	c.Relay.ZeroMQ.PublishAddress = getEnvString("PIROBOT_ZMQ_ADDRESS", c.Relay.ZeroMQ.PublishAddress)
	c.Relay.MQTT.Enabled = getEnvBool("PIROBOT_MQTT_ENABLED", c.Relay.MQTT.Enabled)
	c.Relay.MQTT.BrokerURL = getEnvString("PIROBOT_MQTT_BROKER_URL", c.Relay.MQTT.BrokerURL)
	c.Relay.MQTT.Username = getEnvString("PIROBOT_MQTT_USERNAME", c.Relay.MQTT.Username)
	c.Relay.MQTT.Password = getEnvString("PIROBOT_MQTT_PASSWORD", c.Relay.MQTT.Password)

	c.Console.HTTPPort = getEnvInt("PIROBOT_CONSOLE_PORT", c.Console.HTTPPort)
}

func (c *BootstrapConfig) applyDefaults() {
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Robot.HTTPTimeoutMs <= 0 {
		c.Robot.HTTPTimeoutMs = 5000
	}
	if c.Connection.InitialBackoffMs <= 0 {
		c.Connection.InitialBackoffMs = 250
	}
	if c.Connection.MaxBackoffMs <= 0 {
		c.Connection.MaxBackoffMs = 10000
	}
	if c.Connection.SendPolicy == "" {
		c.Connection.SendPolicy = "drop"
	}
	if c.Connection.QueueLimit <= 0 {
		c.Connection.QueueLimit = 64
	}
	if c.Drive.Speed == 0 {
		c.Drive.Speed = 100
	}
	if c.Drive.Duration <= 0 {
		c.Drive.Duration = 10
	}
	if c.Drive.VectorDuration <= 0 {
		c.Drive.VectorDuration = 30
	}
	if c.Drive.SlowFactor <= 0 {
		c.Drive.SlowFactor = 0.3
	}
	if c.Relay.Workers <= 0 {
		c.Relay.Workers = 1
	}
	if c.Relay.QueueSize <= 0 {
		c.Relay.QueueSize = 32
	}
	if c.Relay.MQTT.ClientID == "" {
		c.Relay.MQTT.ClientID = "pirobot_console"
	}
	if c.Relay.MQTT.TopicPrefix == "" {
		c.Relay.MQTT.TopicPrefix = "pirobot"
	}
	if c.Relay.MQTT.ConnectTimeout <= 0 {
		c.Relay.MQTT.ConnectTimeout = 10
	}
	if c.Console.FPSLogInterval <= 0 {
		c.Console.FPSLogInterval = 10
	}
}
