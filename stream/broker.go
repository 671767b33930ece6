package stream

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/toolplane/jobq/hook"
	"github.com/toolplane/jobq/job"
)

// Compile-time interface checks.
var (
	_ hook.Hook         = (*Broker)(nil)
	_ hook.JobEnqueued  = (*Broker)(nil)
	_ hook.JobClaimed   = (*Broker)(nil)
	_ hook.JobSucceeded = (*Broker)(nil)
	_ hook.JobFailed    = (*Broker)(nil)
	_ hook.JobRetrying  = (*Broker)(nil)
	_ hook.JobCancelled = (*Broker)(nil)
	_ hook.LeaseExpired = (*Broker)(nil)
	_ hook.Shutdown     = (*Broker)(nil)
)

// DefaultBufferSize is the default per-subscriber event buffer.
const DefaultBufferSize = 256

// DefaultCredits is the default initial credits for new subscribers.
const DefaultCredits int64 = 1000

// Broker receives job lifecycle events through the hook registry and
// fans them out to subscribers via topic-based pub/sub. Register it
// with the engine like any other hook.
type Broker struct {
	topics *topicRegistry
	logger *slog.Logger

	mu          sync.Mutex
	subscribers map[string]*Subscriber

	totalPublished atomic.Int64

	bufferSize     int
	defaultCredits int64
}

// BrokerOption configures a Broker.
type BrokerOption func(*Broker)

// WithBufferSize sets the per-subscriber event buffer size.
func WithBufferSize(size int) BrokerOption {
	return func(b *Broker) { b.bufferSize = size }
}

// WithDefaultCredits sets the initial credits for new subscribers.
func WithDefaultCredits(credits int64) BrokerOption {
	return func(b *Broker) { b.defaultCredits = credits }
}

// NewBroker creates a stream broker.
func NewBroker(logger *slog.Logger, opts ...BrokerOption) *Broker {
	if logger == nil {
		logger = slog.Default()
	}
	b := &Broker{
		topics:         newTopicRegistry(),
		logger:         logger,
		subscribers:    make(map[string]*Subscriber),
		bufferSize:     DefaultBufferSize,
		defaultCredits: DefaultCredits,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Name implements hook.Hook.
func (b *Broker) Name() string { return "stream-broker" }

// Subscribe creates a subscriber on the given topics.
func (b *Broker) Subscribe(subscriberID string, topics ...string) *Subscriber {
	sub := NewSubscriber(subscriberID, b.bufferSize, b.defaultCredits)
	b.mu.Lock()
	b.subscribers[subscriberID] = sub
	b.mu.Unlock()
	for _, topic := range topics {
		b.topics.subscribe(topic, sub)
	}
	return sub
}

// SubscribeTo adds an existing subscriber to additional topics.
func (b *Broker) SubscribeTo(subscriberID string, topics ...string) {
	b.mu.Lock()
	sub, ok := b.subscribers[subscriberID]
	b.mu.Unlock()
	if !ok {
		return
	}
	for _, topic := range topics {
		b.topics.subscribe(topic, sub)
	}
}

// Unsubscribe removes a subscriber from specific topics.
func (b *Broker) Unsubscribe(subscriberID string, topics ...string) {
	for _, topic := range topics {
		b.topics.unsubscribe(topic, subscriberID)
	}
}

// RemoveSubscriber drops a subscriber from all topics and closes it.
func (b *Broker) RemoveSubscriber(subscriberID string) {
	b.topics.unsubscribeAll(subscriberID)
	b.mu.Lock()
	sub, ok := b.subscribers[subscriberID]
	delete(b.subscribers, subscriberID)
	b.mu.Unlock()
	if ok {
		sub.Close()
	}
}

// Stats returns broker counters.
func (b *Broker) Stats() BrokerStats {
	b.mu.Lock()
	count := len(b.subscribers)
	b.mu.Unlock()
	return BrokerStats{
		TopicCount:      b.topics.topicCount(),
		SubscriberCount: count,
		TotalPublished:  b.totalPublished.Load(),
	}
}

// BrokerStats contains broker counters.
type BrokerStats struct {
	TopicCount      int   `json:"topic_count"`
	SubscriberCount int   `json:"subscriber_count"`
	TotalPublished  int64 `json:"total_published"`
}

func (b *Broker) publish(evtType EventType, j *job.Job, data JobEventData) {
	payload, err := json.Marshal(data)
	if err != nil {
		// Only primitive fields are marshalled; this cannot happen.
		panic("jobq/stream: marshal event data: " + err.Error())
	}

	jobTopic := JobTopic(j.ID.String())
	evt := &Event{
		Type:      evtType,
		Timestamp: time.Now().UTC(),
		Topic:     jobTopic,
		Data:      payload,
	}
	topics := []string{TopicFirehose, TopicJobs, TypeTopic(j.Type), jobTopic}
	delivered := b.topics.broadcast(topics, evt)
	b.totalPublished.Add(int64(delivered))
}

func (b *Broker) OnJobEnqueued(_ context.Context, j *job.Job) error {
	b.publish(EventJobEnqueued, j, JobEventData{
		JobID:    j.ID.String(),
		TaskType: j.Type,
	})
	return nil
}

func (b *Broker) OnJobClaimed(_ context.Context, j *job.Job) error {
	b.publish(EventJobClaimed, j, JobEventData{
		JobID:    j.ID.String(),
		TaskType: j.Type,
	})
	return nil
}

func (b *Broker) OnJobSucceeded(_ context.Context, j *job.Job, elapsed time.Duration) error {
	b.publish(EventJobSucceeded, j, JobEventData{
		JobID:     j.ID.String(),
		TaskType:  j.Type,
		ElapsedMs: elapsed.Milliseconds(),
	})
	return nil
}

func (b *Broker) OnJobFailed(_ context.Context, j *job.Job, jobErr *job.Error) error {
	data := JobEventData{
		JobID:      j.ID.String(),
		TaskType:   j.Type,
		RetryCount: j.RetryCount,
	}
	if jobErr != nil {
		data.Error = jobErr.Error()
	}
	b.publish(EventJobFailed, j, data)
	return nil
}

func (b *Broker) OnJobRetrying(_ context.Context, j *job.Job, retryCount int, delay time.Duration) error {
	b.publish(EventJobRetrying, j, JobEventData{
		JobID:      j.ID.String(),
		TaskType:   j.Type,
		RetryCount: retryCount,
		DelayMs:    delay.Milliseconds(),
	})
	return nil
}

func (b *Broker) OnJobCancelled(_ context.Context, j *job.Job) error {
	b.publish(EventJobCancelled, j, JobEventData{
		JobID:    j.ID.String(),
		TaskType: j.Type,
	})
	return nil
}

func (b *Broker) OnLeaseExpired(_ context.Context, j *job.Job, requeued bool) error {
	b.publish(EventLeaseExpired, j, JobEventData{
		JobID:      j.ID.String(),
		TaskType:   j.Type,
		RetryCount: j.RetryCount,
		Requeued:   requeued,
	})
	return nil
}

// OnShutdown closes every subscriber so ranging consumers terminate.
func (b *Broker) OnShutdown(_ context.Context) error {
	b.mu.Lock()
	subs := b.subscribers
	b.subscribers = make(map[string]*Subscriber)
	b.mu.Unlock()

	for id, sub := range subs {
		b.topics.unsubscribeAll(id)
		sub.Close()
	}
	b.logger.Info("stream broker shut down")
	return nil
}
