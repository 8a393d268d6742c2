package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"syscall"
	"time"

	"github.com/gofiber/contrib/websocket"

	"github.com/marchandivan/pirobot/domain/teleop"
	customlog "github.com/marchandivan/pirobot/pkg/log"
	"github.com/marchandivan/pirobot/pkg/status"
)

// DefaultStatusPushInterval is how often the operator socket checks the
// status cache for a newer snapshot.
const DefaultStatusPushInterval = 200 * time.Millisecond

// OperatorHandler serves /ws/operator: operator input in, robot status out.
type OperatorHandler struct {
	teleop       *teleop.TeleopService
	cache        *status.Cache
	logger       customlog.Logger
	pushInterval time.Duration
}

// NewOperatorHandler creates the operator WebSocket handler. A non-positive
// pushInterval uses DefaultStatusPushInterval.
func NewOperatorHandler(teleopSvc *teleop.TeleopService, cache *status.Cache, pushInterval time.Duration, logger customlog.Logger) *OperatorHandler {
	if logger == nil {
		logger = customlog.NewNopLogger()
	}
	if cache == nil {
		cache = status.Default
	}
	if pushInterval <= 0 {
		pushInterval = DefaultStatusPushInterval
	}
	return &OperatorHandler{teleop: teleopSvc, cache: cache, logger: logger, pushInterval: pushInterval}
}

type operatorConn struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

func (o *operatorConn) send(event OperatorEvent) error {
	o.writeMu.Lock()
	defer o.writeMu.Unlock()
	return o.conn.WriteJSON(event)
}

// Handle runs one operator connection until it closes. The drive is stopped
// when the operator leaves.
func (h *OperatorHandler) Handle(conn *websocket.Conn) {
	h.logger.Infof("Operator WebSocket connected: %s", conn.RemoteAddr())
	oc := &operatorConn{conn: conn}

	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		h.pushStatus(oc, done)
	}()

	for {
		mt, msg, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Errorf("Operator WS read error: %v", err)
			} else if !errors.Is(err, syscall.EPIPE) && !errors.Is(err, syscall.ECONNRESET) {
				h.logger.Infof("Operator WS connection closed: %v", err)
			} else {
				h.logger.Infof("Operator WS connection closed normally.")
			}
			break
		}
		if mt != websocket.TextMessage {
			h.logger.Infof("Ignoring non-text operator WS message type: %d", mt)
			continue
		}

		event := h.dispatch(msg)
		if err := oc.send(event); err != nil {
			h.logger.Warnf("Failed to answer operator: %v", err)
			break
		}
	}

	close(done)
	wg.Wait()
	if err := h.teleop.Stop(); err != nil {
		h.logger.Debugf("Stop after operator left not sent: %v", err)
	}
	h.logger.Infof("Operator WebSocket disconnected: %s", conn.RemoteAddr())
}

func (h *OperatorHandler) dispatch(raw []byte) OperatorEvent {
	var msg OperatorMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		h.logger.Warnf("Failed to unmarshal operator message: %v. Message: %s", err, string(raw))
		return OperatorEvent{Type: EventError, Error: "malformed message"}
	}

	var err error
	switch msg.Type {
	case MessageCommand:
		if msg.Command == nil {
			err = fmt.Errorf("%w: missing command", teleop.ErrInvalidCommand)
		} else {
			err = h.teleop.Apply(*msg.Command)
		}
	case MessageKey:
		if msg.Pressed {
			err = h.teleop.PressKey(msg.Key)
		} else {
			err = h.teleop.ReleaseKey(msg.Key)
		}
	case MessageSpeed:
		err = h.teleop.SetSpeed(msg.Speed)
	case MessageSlow:
		h.teleop.ToggleSlowMode()
	default:
		err = fmt.Errorf("unknown message type %q", msg.Type)
	}
	if err != nil {
		return OperatorEvent{Type: EventError, Error: err.Error()}
	}
	state := h.teleop.State()
	return OperatorEvent{Type: EventAck, State: &state}
}

func (h *OperatorHandler) pushStatus(oc *operatorConn, done <-chan struct{}) {
	ticker := time.NewTicker(h.pushInterval)
	defer ticker.Stop()

	var version uint64
	for {
		snap := h.cache.Snapshot()
		if snap.Version != version {
			version = snap.Version
			if err := oc.send(OperatorEvent{Type: EventStatus, Status: NewRobotStatus(snap)}); err != nil {
				h.logger.Debugf("Status push to operator failed: %v", err)
				return
			}
		}
		select {
		case <-done:
			return
		case <-ticker.C:
		}
	}
}
