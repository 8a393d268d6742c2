package relay

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/marchandivan/pirobot/pkg/config"
	customlog "github.com/marchandivan/pirobot/pkg/log"
)

// Common errors
var (
	ErrSinkNotConnected = errors.New("relay sink is not connected")
	ErrPublishTimeout   = errors.New("relay publish timed out")
)

// ConnectionStatus represents the broker connection status
type ConnectionStatus int

const (
	Disconnected ConnectionStatus = iota
	Connecting
	Connected
	ConnectionLost
)

func (cs ConnectionStatus) String() string {
	switch cs {
	case Disconnected:
		return "DISCONNECTED"
	case Connecting:
		return "CONNECTING"
	case Connected:
		return "CONNECTED"
	case ConnectionLost:
		return "CONNECTION_LOST"
	default:
		return "UNKNOWN"
	}
}

// MQTTSink publishes relay messages under <prefix>/<topic>. The status topic
// is retained so late subscribers get the last snapshot.
type MQTTSink struct {
	client      mqtt.Client
	prefix      string
	qos         byte
	waitTimeout time.Duration
	logger      customlog.Logger

	status         ConnectionStatus
	statusMutex    sync.RWMutex
	reconnectCount int32
}

// NewMQTTSink creates the paho client from the relay configuration. Connect
// must be called before publishing.
func NewMQTTSink(cfg config.MQTTRelay, logger customlog.Logger) *MQTTSink {
	if logger == nil {
		logger = customlog.NewNopLogger()
	}
	s := &MQTTSink{
		prefix:      strings.TrimSuffix(cfg.TopicPrefix, "/"),
		qos:         cfg.QoS,
		waitTimeout: time.Duration(cfg.ConnectTimeout) * time.Second,
		logger:      logger.WithField("sink", "mqtt"),
		status:      Disconnected,
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.BrokerURL)
	opts.SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.SetConnectTimeout(s.waitTimeout)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetCleanSession(true)

	opts.SetOnConnectHandler(func(client mqtt.Client) {
		s.updateStatus(Connected)
		if n := atomic.LoadInt32(&s.reconnectCount); n > 0 {
			s.logger.Infof("MQTT relay reconnected to %s (reconnects: %d)", cfg.BrokerURL, n)
		} else {
			s.logger.Infof("MQTT relay connected to %s as %s", cfg.BrokerURL, cfg.ClientID)
		}
	})
	opts.SetConnectionLostHandler(func(client mqtt.Client, err error) {
		s.updateStatus(ConnectionLost)
		atomic.AddInt32(&s.reconnectCount, 1)
		s.logger.Warnf("MQTT relay connection lost: %v", err)
	})
	opts.SetReconnectingHandler(func(client mqtt.Client, opts *mqtt.ClientOptions) {
		s.updateStatus(Connecting)
	})

	s.client = mqtt.NewClient(opts)
	return s
}

func newMQTTSinkWithClient(client mqtt.Client, prefix string, qos byte, waitTimeout time.Duration) *MQTTSink {
	return &MQTTSink{
		client:      client,
		prefix:      strings.TrimSuffix(prefix, "/"),
		qos:         qos,
		waitTimeout: waitTimeout,
		logger:      customlog.NewNopLogger(),
		status:      Connected,
	}
}

// Connect connects to the broker, waiting at most the connect timeout.
func (s *MQTTSink) Connect() error {
	s.updateStatus(Connecting)
	token := s.client.Connect()
	if !token.WaitTimeout(s.waitTimeout) {
		s.updateStatus(Disconnected)
		return fmt.Errorf("%w: connect after %v", ErrPublishTimeout, s.waitTimeout)
	}
	if err := token.Error(); err != nil {
		s.updateStatus(Disconnected)
		return fmt.Errorf("failed to connect MQTT relay: %w", err)
	}
	return nil
}

// Name implements Sink.
func (s *MQTTSink) Name() string { return "mqtt" }

// Topic returns the broker topic a relay topic is published on.
func (s *MQTTSink) Topic(topic string) string {
	if s.prefix == "" {
		return topic
	}
	return s.prefix + "/" + topic
}

// Publish implements Sink.
func (s *MQTTSink) Publish(msg Message) error {
	if !s.client.IsConnected() {
		return ErrSinkNotConnected
	}
	retained := msg.Topic == TopicStatus
	token := s.client.Publish(s.Topic(msg.Topic), s.qos, retained, msg.Payload)
	if !token.WaitTimeout(s.waitTimeout) {
		return fmt.Errorf("%w: %s", ErrPublishTimeout, msg.Topic)
	}
	return token.Error()
}

// Close disconnects from the broker.
func (s *MQTTSink) Close() error {
	if s.client.IsConnected() {
		s.client.Disconnect(250)
	}
	s.updateStatus(Disconnected)
	return nil
}

// GetConnectionStatus returns current connection status
func (s *MQTTSink) GetConnectionStatus() ConnectionStatus {
	s.statusMutex.RLock()
	defer s.statusMutex.RUnlock()
	return s.status
}

func (s *MQTTSink) updateStatus(status ConnectionStatus) {
	s.statusMutex.Lock()
	defer s.statusMutex.Unlock()
	s.status = status
}
