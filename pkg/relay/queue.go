package relay

import (
	"sync"
	"time"

	customlog "github.com/marchandivan/pirobot/pkg/log"
)

// QueueMetrics tracks metrics for a relay queue
type QueueMetrics struct {
	PublishedCount    int64 `json:"published"`
	ErrorCount        int64 `json:"errors"`
	QueuedCount       int64 `json:"queued"`
	DroppedCount      int64 `json:"dropped"`
	LastPublishedTime int64 `json:"last_published_ns"`
	PublishTimeAvg    int64 `json:"publish_time_avg_us"`
	PublishTimeMax    int64 `json:"publish_time_max_us"`
	mu                sync.Mutex
}

// Queue fans messages out to its sinks from a fixed set of workers. Enqueue
// never blocks: when the buffer is full the message is dropped.
type Queue struct {
	name        string
	workerCount int
	queueSize   int
	logger      customlog.Logger
	messages    chan Message
	running     bool
	wg          sync.WaitGroup
	mu          sync.RWMutex
	sinks       []Sink
	metrics     *QueueMetrics
}

// NewQueue creates a new relay queue
func NewQueue(name string, workerCount, queueSize int, logger customlog.Logger) *Queue {
	if workerCount <= 0 {
		workerCount = 1
	}
	if queueSize <= 0 {
		queueSize = 1
	}
	if logger == nil {
		logger = customlog.NewNopLogger()
	}
	return &Queue{
		name:        name,
		workerCount: workerCount,
		queueSize:   queueSize,
		logger:      logger,
		messages:    make(chan Message, queueSize),
		metrics:     &QueueMetrics{},
	}
}

// AddSink registers a sink. Sinks must be added before Start.
func (q *Queue) AddSink(sink Sink) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.sinks = append(q.sinks, sink)
	q.logger.Infof("Added %s sink to %s relay queue", sink.Name(), q.name)
}

// Sinks returns the registered sinks.
func (q *Queue) Sinks() []Sink {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return append([]Sink(nil), q.sinks...)
}

// Enqueue adds a message to the queue. It reports false when the queue is
// not running or full.
func (q *Queue) Enqueue(msg Message) bool {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if !q.running {
		q.logger.Debugf("%s relay queue not running, discarding %s message", q.name, msg.Topic)
		return false
	}

	q.metrics.mu.Lock()
	q.metrics.QueuedCount++
	q.metrics.mu.Unlock()

	select {
	case q.messages <- msg:
		return true
	default:
		q.metrics.mu.Lock()
		q.metrics.DroppedCount++
		q.metrics.mu.Unlock()
		q.logger.Warnf("%s relay queue is full, discarding %s message", q.name, msg.Topic)
		return false
	}
}

// Start starts the queue workers
func (q *Queue) Start() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.running {
		return
	}

	q.running = true
	q.logger.Infof("Starting %s relay queue with %d workers and %d sinks", q.name, q.workerCount, len(q.sinks))

	for i := 0; i < q.workerCount; i++ {
		q.wg.Add(1)
		go q.worker(i)
	}
}

// Stop drains the queue and waits for the workers. It does not close the
// sinks.
func (q *Queue) Stop() {
	q.mu.Lock()
	if !q.running {
		q.mu.Unlock()
		return
	}
	q.running = false
	close(q.messages)
	q.mu.Unlock()

	q.logger.Infof("Stopping %s relay queue", q.name)
	q.wg.Wait()
	q.logger.Infof("%s relay queue stopped", q.name)

	q.logMetrics()
}

func (q *Queue) worker(id int) {
	defer q.wg.Done()

	q.logger.Debugf("%s relay worker %d started", q.name, id)

	for msg := range q.messages {
		q.mu.RLock()
		sinks := q.sinks
		q.mu.RUnlock()

		for _, sink := range sinks {
			startTime := time.Now()
			err := sink.Publish(msg)
			elapsed := time.Since(startTime).Microseconds()

			q.metrics.mu.Lock()
			q.metrics.PublishedCount++
			q.metrics.LastPublishedTime = time.Now().UnixNano()
			if q.metrics.PublishTimeAvg == 0 {
				q.metrics.PublishTimeAvg = elapsed
			} else {
				q.metrics.PublishTimeAvg = (q.metrics.PublishTimeAvg + elapsed) / 2
			}
			if elapsed > q.metrics.PublishTimeMax {
				q.metrics.PublishTimeMax = elapsed
			}
			if err != nil {
				q.metrics.ErrorCount++
			}
			q.metrics.mu.Unlock()

			if err != nil {
				q.logger.Errorf("Error publishing %s to %s sink: %v", msg.Topic, sink.Name(), err)
			}
		}
	}

	q.logger.Debugf("%s relay worker %d stopped", q.name, id)
}

// GetMetrics returns a copy of the current metrics
func (q *Queue) GetMetrics() QueueMetrics {
	q.metrics.mu.Lock()
	defer q.metrics.mu.Unlock()

	return QueueMetrics{
		PublishedCount:    q.metrics.PublishedCount,
		ErrorCount:        q.metrics.ErrorCount,
		QueuedCount:       q.metrics.QueuedCount,
		DroppedCount:      q.metrics.DroppedCount,
		LastPublishedTime: q.metrics.LastPublishedTime,
		PublishTimeAvg:    q.metrics.PublishTimeAvg,
		PublishTimeMax:    q.metrics.PublishTimeMax,
	}
}

func (q *Queue) logMetrics() {
	metrics := q.GetMetrics()

	q.logger.Infof("%s relay metrics: published=%d, errors=%d, dropped=%d, avg_time=%dµs, max_time=%dµs",
		q.name, metrics.PublishedCount, metrics.ErrorCount, metrics.DroppedCount,
		metrics.PublishTimeAvg, metrics.PublishTimeMax)
}

// GetName returns the queue name
func (q *Queue) GetName() string {
	return q.name
}

// GetQueueLength returns the number of messages waiting
func (q *Queue) GetQueueLength() int {
	return len(q.messages)
}

// GetQueueCapacity returns the capacity of the queue
func (q *Queue) GetQueueCapacity() int {
	return q.queueSize
}
