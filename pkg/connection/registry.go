package connection

import (
	"sync"

	customlog "github.com/marchandivan/pirobot/pkg/log"
	"github.com/marchandivan/pirobot/pkg/protocol"
)

// Handler receives every envelope published on the topic it registered for.
type Handler = func(env protocol.Envelope)

// TopicInfo holds the handlers and statistics of a topic
type TopicInfo struct {
	Topic        string
	Handlers     int
	StatCount    int64
	LastReceived int64
}

type topicEntry struct {
	handlers     []Handler
	statCount    int64
	lastReceived int64
}

// TopicRegistry maps topics to their handlers and keeps dispatch statistics.
type TopicRegistry struct {
	logger  customlog.Logger
	topics  map[string]*topicEntry
	dropped int64
	mu      sync.RWMutex
}

// NewTopicRegistry creates a new topic registry
func NewTopicRegistry(logger customlog.Logger) *TopicRegistry {
	return &TopicRegistry{
		logger: logger,
		topics: make(map[string]*topicEntry),
	}
}

// Register appends handler to the topic. Several handlers may share a topic.
func (r *TopicRegistry) Register(topic string, handler Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, exists := r.topics[topic]
	if !exists {
		entry = &topicEntry{}
		r.topics[topic] = entry
	}
	entry.handlers = append(entry.handlers, handler)
}

// Dispatch calls the handlers registered for env.Topic in registration order.
// It returns false, and counts the envelope as dropped, when nobody listens.
func (r *TopicRegistry) Dispatch(env protocol.Envelope, timestamp int64) bool {
	r.mu.Lock()
	entry, exists := r.topics[env.Topic]
	if !exists || len(entry.handlers) == 0 {
		r.dropped++
		r.mu.Unlock()
		r.logger.Warnf("No handler for topic %q, dropping message", env.Topic)
		return false
	}
	entry.statCount++
	entry.lastReceived = timestamp
	handlers := make([]Handler, len(entry.handlers))
	copy(handlers, entry.handlers)
	r.mu.Unlock()

	for _, h := range handlers {
		h(env)
	}
	return true
}

// Clear detaches every handler. Statistics are kept.
func (r *TopicRegistry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, entry := range r.topics {
		entry.handlers = nil
	}
}

// GetTopicInfo gets information for a topic
func (r *TopicRegistry) GetTopicInfo(topic string) (TopicInfo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, exists := r.topics[topic]
	if !exists {
		return TopicInfo{}, false
	}
	return TopicInfo{
		Topic:        topic,
		Handlers:     len(entry.handlers),
		StatCount:    entry.statCount,
		LastReceived: entry.lastReceived,
	}, true
}

// GetAllTopics returns a list of all registered topics
func (r *TopicRegistry) GetAllTopics() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	topics := make([]string, 0, len(r.topics))
	for topic := range r.topics {
		topics = append(topics, topic)
	}
	return topics
}

// Dropped returns how many envelopes arrived on topics without handlers.
func (r *TopicRegistry) Dropped() int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.dropped
}

// GetTopicStats returns a map of topic statistics
func (r *TopicRegistry) GetTopicStats() map[string]map[string]interface{} {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := make(map[string]map[string]interface{})
	for topic, entry := range r.topics {
		stats[topic] = map[string]interface{}{
			"count":         entry.statCount,
			"last_received": entry.lastReceived,
			"handlers":      len(entry.handlers),
		}
	}
	return stats
}
