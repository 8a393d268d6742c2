// Package status keeps the last known robot status and configuration, as
// pushed by the robot on the control connection.
package status

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	customlog "github.com/marchandivan/pirobot/pkg/log"
	"github.com/marchandivan/pirobot/pkg/protocol"
)

// Snapshot is an immutable view of the cache. Readers must not modify the
// maps it holds.
type Snapshot struct {
	Config    map[string]interface{}
	Status    map[string]interface{}
	RobotName string
	Settings  map[string]protocol.SettingEntry
	UpdatedAt time.Time
	Version   uint64
}

// Capability reports a boolean flag of the robot config, false when absent.
func (s *Snapshot) Capability(name string) bool {
	v, ok := s.Config[name].(bool)
	return ok && v
}

// SettingsByCategory groups setting keys by category, keys sorted.
func (s *Snapshot) SettingsByCategory() map[string][]string {
	out := make(map[string][]string)
	for key, entry := range s.Settings {
		out[entry.Category] = append(out[entry.Category], key)
	}
	for _, keys := range out {
		sort.Strings(keys)
	}
	return out
}

// Subscriber is notified after every swap with the new snapshot.
type Subscriber func(snap *Snapshot)

// Source is what the cache listens to, i.e. a connection.Client.
type Source interface {
	On(topic string, handler func(env protocol.Envelope))
}

// Cache holds the current snapshot behind an atomic pointer.
type Cache struct {
	logger  customlog.Logger
	now     func() time.Time
	current atomic.Pointer[Snapshot]

	mu          sync.Mutex
	subscribers []Subscriber
}

// Default is the process-wide cache.
var Default = New(nil)

// New creates an empty cache.
func New(logger customlog.Logger) *Cache {
	if logger == nil {
		logger = customlog.NewNopLogger()
	}
	c := &Cache{logger: logger, now: time.Now}
	c.current.Store(&Snapshot{})
	return c
}

// Snapshot returns the current snapshot. It is never nil.
func (c *Cache) Snapshot() *Snapshot {
	return c.current.Load()
}

// Subscribe registers fn for every future update.
func (c *Cache) Subscribe(fn Subscriber) {
	c.mu.Lock()
	c.subscribers = append(c.subscribers, fn)
	c.mu.Unlock()
}

// Update applies a status or configuration envelope. A status push replaces
// config, status and robot name; a configuration push replaces the settings.
// Anything else leaves the cache untouched. It reports whether the cache
// changed.
func (c *Cache) Update(env protocol.Envelope) bool {
	inbound, err := protocol.DecodeInbound(env)
	if err != nil {
		c.logger.Warnf("Ignoring %s push: %v", env.Topic, err)
		return false
	}

	c.mu.Lock()
	prev := c.current.Load()
	next := *prev
	switch msg := inbound.(type) {
	case protocol.StatusUpdate:
		next.Config = msg.Config
		next.Status = msg.Status
		next.RobotName = msg.RobotName
	case protocol.ConfigurationReply:
		if !msg.Success {
			c.logger.Warnf("Robot rejected configuration %s", msg.Action)
		}
		if len(msg.Config) == 0 {
			c.mu.Unlock()
			return false
		}
		next.Settings = msg.Config
	default:
		c.mu.Unlock()
		c.logger.Debugf("Ignoring push on topic %q", env.Topic)
		return false
	}
	next.UpdatedAt = c.now()
	next.Version = prev.Version + 1
	c.current.Store(&next)
	subscribers := make([]Subscriber, len(c.subscribers))
	copy(subscribers, c.subscribers)
	c.mu.Unlock()

	for _, fn := range subscribers {
		fn(&next)
	}
	return true
}

// Attach registers the cache on the status and configuration topics of src.
func (c *Cache) Attach(src Source) {
	handler := func(env protocol.Envelope) { c.Update(env) }
	src.On(protocol.TopicStatus, handler)
	src.On(protocol.TopicConfiguration, handler)
}
